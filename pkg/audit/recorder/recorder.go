// Package recorder turns admission decisions into sealed audit records and
// writes them to an audit.Storage off the request path.
package recorder

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"modelbench/gatekeeper/pkg/audit"
	"modelbench/gatekeeper/pkg/limits"
	"modelbench/gatekeeper/pkg/security/auth"
	"modelbench/gatekeeper/pkg/telemetry/logging"
)

// Config contains configuration for the audit recorder.
type Config struct {
	// BufferSize is the size of the async write channel buffer.
	// Default: 1000
	BufferSize int

	// WriteTimeout bounds one storage write.
	// Default: 5 seconds
	WriteTimeout time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Recorder records admission decisions asynchronously. A full buffer drops the
// record rather than delay the admission.
type Recorder struct {
	storage audit.Storage
	config  Config
	records chan *audit.Record
	done    chan struct{}
	wg      sync.WaitGroup
	logger  *slog.Logger

	closeOnce sync.Once
	dropped   atomic.Int64
	written   atomic.Int64
}

var _ limits.DecisionRecorder = (*Recorder)(nil)

// New creates a recorder and starts its writer.
func New(storage audit.Storage, config Config) *Recorder {
	if config.BufferSize <= 0 {
		config.BufferSize = 1000
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 5 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	r := &Recorder{
		storage: storage,
		config:  config,
		records: make(chan *audit.Record, config.BufferSize),
		done:    make(chan struct{}),
		logger:  config.Logger.With("component", "audit.recorder"),
	}

	r.wg.Add(1)
	go r.worker()

	r.logger.Debug("audit recorder started",
		"buffer_size", config.BufferSize,
		"write_timeout", config.WriteTimeout,
	)
	return r
}

// RecordDecision seals a record for the event and enqueues it.
func (r *Recorder) RecordDecision(ctx context.Context, event limits.DecisionEvent) {
	select {
	case <-r.done:
		r.dropped.Add(1)
		return
	default:
	}

	record := NewRecord(ctx, event)
	select {
	case r.records <- record:
	default:
		r.dropped.Add(1)
		r.logger.Warn("audit buffer full, dropping record",
			"record_id", record.ID,
			"request_id", record.RequestID,
			"capacity", r.config.BufferSize,
		)
	}
}

// NewRecord builds a sealed record for event. The request ID and principal are
// taken from ctx.
func NewRecord(ctx context.Context, event limits.DecisionEvent) *audit.Record {
	d := event.Decision
	record := &audit.Record{
		ID:             uuid.NewString(),
		RequestID:      logging.GetRequestID(ctx),
		Time:           event.Time.UTC(),
		UserID:         event.UserID,
		Environment:    string(event.Environment),
		Endpoint:       event.Endpoint,
		Allowed:        d.Allowed,
		Kind:           string(d.Kind),
		Reason:         d.Reason,
		Warning:        d.Warning,
		Remaining:      copyInt(d.Remaining),
		ResetInSeconds: copyInt(d.ResetInSeconds),
		DryRun:         event.DryRun,
	}
	if p, ok := auth.FromContext(ctx); ok {
		record.Principal = p.Name
	}
	record.Seal()
	return record
}

// Dropped returns the number of records dropped because the buffer was full or
// the recorder was closed.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

// Written returns the number of records stored.
func (r *Recorder) Written() int64 {
	return r.written.Load()
}

// Close stops accepting records and waits until the buffer is written.
func (r *Recorder) Close() error {
	r.closeOnce.Do(func() {
		close(r.done)
		r.wg.Wait()
		r.logger.Debug("audit recorder stopped",
			"written", r.written.Load(),
			"dropped", r.dropped.Load(),
		)
	})
	return nil
}

func (r *Recorder) worker() {
	defer r.wg.Done()

	for {
		select {
		case record := <-r.records:
			r.write(record)
		case <-r.done:
			for {
				select {
				case record := <-r.records:
					r.write(record)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(record *audit.Record) {
	ctx, cancel := context.WithTimeout(context.Background(), r.config.WriteTimeout)
	defer cancel()

	start := time.Now()
	if err := r.storage.Store(ctx, record); err != nil {
		r.logger.Error("failed to store audit record",
			"record_id", record.ID,
			"request_id", record.RequestID,
			"error", err,
		)
		return
	}
	r.written.Add(1)

	if elapsed := time.Since(start); elapsed > r.config.WriteTimeout/2 {
		r.logger.Warn("slow audit write",
			"record_id", record.ID,
			"duration_ms", elapsed.Milliseconds(),
		)
	}
}

func copyInt(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
