package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // cgo SQLite driver, registered as "sqlite3"
	_ "modernc.org/sqlite"          // pure Go SQLite driver, registered as "sqlite"

	"modelbench/gatekeeper/pkg/audit"
)

var errClosed = errors.New("storage is closed")

// SchemaVersion is the current audit schema version.
const SchemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS admission_audit (
    id TEXT PRIMARY KEY,
    request_id TEXT,
    recorded_at INTEGER NOT NULL,
    user_id TEXT NOT NULL,
    environment TEXT NOT NULL,
    endpoint TEXT NOT NULL,
    allowed INTEGER NOT NULL,
    kind TEXT NOT NULL,
    reason TEXT,
    warning TEXT,
    remaining INTEGER,
    reset_in_seconds INTEGER,
    dry_run INTEGER NOT NULL DEFAULT 0,
    principal TEXT,
    hash TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_admission_audit_recorded_at ON admission_audit(recorded_at);
CREATE INDEX IF NOT EXISTS idx_admission_audit_user ON admission_audit(user_id, recorded_at);
CREATE INDEX IF NOT EXISTS idx_admission_audit_kind ON admission_audit(kind);
`

const columns = `id, request_id, recorded_at, user_id, environment, endpoint, allowed, kind,
	reason, warning, remaining, reset_in_seconds, dry_run, principal, hash`

// SQLiteConfig contains configuration for the SQLite audit store.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string

	// Driver is "sqlite" (pure Go) or "sqlite3" (cgo).
	// Default: "sqlite"
	Driver string

	// BusyTimeout is how long a writer waits on a locked database.
	// Default: 5s
	BusyTimeout time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// SQLiteStorage is the SQLite audit store.
type SQLiteStorage struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ audit.Storage = (*SQLiteStorage)(nil)

// NewSQLiteStorage opens the database and creates the schema.
func NewSQLiteStorage(cfg SQLiteConfig) (*SQLiteStorage, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("audit db path cannot be empty")
	}
	if cfg.Driver == "" {
		cfg.Driver = "sqlite"
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	db, err := sql.Open(cfg.Driver, cfg.Path)
	if err != nil {
		return nil, audit.NewStorageError("sqlite", "open", err)
	}
	// One writer avoids SQLITE_BUSY between the recorder and queries.
	db.SetMaxOpenConns(1)

	s := &SQLiteStorage{
		db:     db,
		logger: cfg.Logger.With("component", "audit.storage.sqlite"),
	}
	if err := s.initialize(cfg.BusyTimeout); err != nil {
		db.Close()
		return nil, err
	}

	s.logger.Info("audit storage initialized", "path", cfg.Path, "driver", cfg.Driver)
	return s, nil
}

func (s *SQLiteStorage) initialize(busyTimeout time.Duration) error {
	if _, err := s.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return audit.NewStorageError("sqlite", "enable_wal", err)
	}
	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", busyTimeout.Milliseconds())); err != nil {
		return audit.NewStorageError("sqlite", "set_busy_timeout", err)
	}
	if _, err := s.db.Exec(schema); err != nil {
		return audit.NewStorageError("sqlite", "create_schema", err)
	}
	if _, err := s.db.Exec(
		"INSERT INTO audit_schema_version (version, applied_at) VALUES (?, ?) ON CONFLICT(version) DO NOTHING",
		SchemaVersion, time.Now().UTC(),
	); err != nil {
		return audit.NewStorageError("sqlite", "insert_schema_version", err)
	}

	var version int
	if err := s.db.QueryRow("SELECT version FROM audit_schema_version ORDER BY version DESC LIMIT 1").Scan(&version); err != nil {
		return audit.NewStorageError("sqlite", "get_schema_version", err)
	}
	if version != SchemaVersion {
		return audit.NewStorageError("sqlite", "schema_version_mismatch",
			fmt.Errorf("expected schema version %d, got %d", SchemaVersion, version))
	}
	return nil
}

// Store inserts a record.
func (s *SQLiteStorage) Store(ctx context.Context, r *audit.Record) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO admission_audit ("+columns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		r.ID, nullString(r.RequestID), r.Time.UTC().UnixNano(),
		r.UserID, r.Environment, r.Endpoint,
		r.Allowed, r.Kind, nullString(r.Reason), nullString(r.Warning),
		r.Remaining, r.ResetInSeconds, r.DryRun, nullString(r.Principal), r.Hash,
	)
	if err != nil {
		return audit.NewStorageError("sqlite", "store", err)
	}
	return nil
}

// Query returns matching records.
func (s *SQLiteStorage) Query(ctx context.Context, q *audit.Query) ([]*audit.Record, error) {
	sqlQuery, args, err := s.selectQuery(q)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, audit.NewStorageError("sqlite", "query", err)
	}
	defer rows.Close()

	records := []*audit.Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, audit.NewStorageError("sqlite", "scan", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, audit.NewStorageError("sqlite", "query", err)
	}
	return records, nil
}

// QueryStream streams matching records row by row.
func (s *SQLiteStorage) QueryStream(ctx context.Context, q *audit.Query) (<-chan *audit.Record, <-chan error, error) {
	sqlQuery, args, err := s.selectQuery(q)
	if err != nil {
		return nil, nil, err
	}

	recordsCh := make(chan *audit.Record, 100)
	errCh := make(chan error, 1)

	go func() {
		defer close(recordsCh)
		defer close(errCh)

		rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
		if err != nil {
			errCh <- audit.NewStorageError("sqlite", "query_stream", err)
			return
		}
		defer rows.Close()

		for rows.Next() {
			r, err := scanRecord(rows)
			if err != nil {
				errCh <- audit.NewStorageError("sqlite", "scan", err)
				return
			}
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case recordsCh <- r:
			}
		}
		if err := rows.Err(); err != nil {
			errCh <- audit.NewStorageError("sqlite", "query_stream", err)
		}
	}()

	return recordsCh, errCh, nil
}

// Count returns the number of matching records.
func (s *SQLiteStorage) Count(ctx context.Context, q *audit.Query) (int64, error) {
	if err := q.Validate(); err != nil {
		return 0, err
	}
	where, args := whereClause(q)

	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM admission_audit"+where, args...).Scan(&n); err != nil {
		return 0, audit.NewStorageError("sqlite", "count", err)
	}
	return n, nil
}

// DeleteBefore removes records older than cutoff.
func (s *SQLiteStorage) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM admission_audit WHERE recorded_at < ?", cutoff.UTC().UnixNano())
	if err != nil {
		return 0, audit.NewStorageError("sqlite", "delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, audit.NewStorageError("sqlite", "delete", err)
	}
	return n, nil
}

// Ping checks the database connection.
func (s *SQLiteStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func (s *SQLiteStorage) selectQuery(q *audit.Query) (string, []any, error) {
	if err := q.Validate(); err != nil {
		return "", nil, err
	}
	query := *q
	query.ApplyDefaults()

	where, args := whereClause(&query)
	order := "DESC"
	if query.SortOrder == "asc" {
		order = "ASC"
	}
	sqlQuery := fmt.Sprintf("SELECT %s FROM admission_audit%s ORDER BY recorded_at %s, id %s LIMIT ? OFFSET ?",
		columns, where, order, order)
	args = append(args, query.Limit, query.Offset)
	return sqlQuery, args, nil
}

func whereClause(q *audit.Query) (string, []any) {
	var conditions []string
	var args []any

	if q.Start != nil {
		conditions = append(conditions, "recorded_at >= ?")
		args = append(args, q.Start.UTC().UnixNano())
	}
	if q.End != nil {
		conditions = append(conditions, "recorded_at < ?")
		args = append(args, q.End.UTC().UnixNano())
	}
	if q.UserID != "" {
		conditions = append(conditions, "user_id = ?")
		args = append(args, q.UserID)
	}
	if q.Environment != "" {
		conditions = append(conditions, "environment = ?")
		args = append(args, q.Environment)
	}
	if q.Endpoint != "" {
		conditions = append(conditions, "endpoint = ?")
		args = append(args, q.Endpoint)
	}
	if q.Kind != "" {
		conditions = append(conditions, "kind = ?")
		args = append(args, q.Kind)
	}
	if q.Allowed != nil {
		conditions = append(conditions, "allowed = ?")
		args = append(args, *q.Allowed)
	}

	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*audit.Record, error) {
	var (
		r                                    audit.Record
		requestID, reason, warning, principal sql.NullString
		remaining, reset                     sql.NullInt64
		recordedAt                           int64
	)
	err := row.Scan(
		&r.ID, &requestID, &recordedAt,
		&r.UserID, &r.Environment, &r.Endpoint,
		&r.Allowed, &r.Kind, &reason, &warning,
		&remaining, &reset, &r.DryRun, &principal, &r.Hash,
	)
	if err != nil {
		return nil, err
	}

	r.Time = time.Unix(0, recordedAt).UTC()
	r.RequestID = requestID.String
	r.Reason = reason.String
	r.Warning = warning.String
	r.Principal = principal.String
	if remaining.Valid {
		r.Remaining = &remaining.Int64
	}
	if reset.Valid {
		r.ResetInSeconds = &reset.Int64
	}
	return &r, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
