package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"modelbench/gatekeeper/pkg/audit"
)

// MemoryStorage is an in-memory audit store.
type MemoryStorage struct {
	mu      sync.RWMutex
	records []*audit.Record
	closed  bool
}

var _ audit.Storage = (*MemoryStorage)(nil)

// NewMemoryStorage creates an empty store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

// Store appends a copy of record.
func (m *MemoryStorage) Store(ctx context.Context, record *audit.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return audit.NewStorageError("memory", "store", errClosed)
	}
	cp := *record
	m.records = append(m.records, &cp)
	return nil
}

// Query returns copies of matching records.
func (m *MemoryStorage) Query(ctx context.Context, q *audit.Query) ([]*audit.Record, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	query := *q
	query.ApplyDefaults()

	m.mu.RLock()
	var matched []*audit.Record
	for _, r := range m.records {
		if query.Matches(r) {
			cp := *r
			matched = append(matched, &cp)
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		if query.SortOrder == "asc" {
			return matched[i].Time.Before(matched[j].Time)
		}
		return matched[i].Time.After(matched[j].Time)
	})

	if query.Offset >= len(matched) {
		return []*audit.Record{}, nil
	}
	matched = matched[query.Offset:]
	if len(matched) > query.Limit {
		matched = matched[:query.Limit]
	}
	return matched, nil
}

// QueryStream streams the result of Query.
func (m *MemoryStorage) QueryStream(ctx context.Context, q *audit.Query) (<-chan *audit.Record, <-chan error, error) {
	records, err := m.Query(ctx, q)
	if err != nil {
		return nil, nil, err
	}

	recordsCh := make(chan *audit.Record, 100)
	errCh := make(chan error, 1)
	go func() {
		defer close(recordsCh)
		defer close(errCh)
		for _, r := range records {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case recordsCh <- r:
			}
		}
	}()
	return recordsCh, errCh, nil
}

// Count returns the number of matching records.
func (m *MemoryStorage) Count(ctx context.Context, q *audit.Query) (int64, error) {
	if err := q.Validate(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, r := range m.records {
		if q.Matches(r) {
			n++
		}
	}
	return n, nil
}

// DeleteBefore removes records older than cutoff.
func (m *MemoryStorage) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.records[:0]
	var deleted int64
	for _, r := range m.records {
		if r.Time.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, r)
	}
	for i := len(kept); i < len(m.records); i++ {
		m.records[i] = nil
	}
	m.records = kept
	return deleted, nil
}

// Ping reports whether the store is open.
func (m *MemoryStorage) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return errClosed
	}
	return nil
}

// Close drops all records.
func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.records = nil
	return nil
}
