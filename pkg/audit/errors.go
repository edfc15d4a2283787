package audit

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidQuery is wrapped by QueryError.
	ErrInvalidQuery = errors.New("invalid audit query")

	// ErrTampered is returned when a record's hash does not match its fields.
	ErrTampered = errors.New("audit record hash mismatch")
)

// StorageError represents an error from a storage backend.
type StorageError struct {
	Backend   string
	Operation string
	Cause     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("audit storage error [backend=%s, operation=%s]: %v", e.Backend, e.Operation, e.Cause)
}

func (e *StorageError) Unwrap() error {
	return e.Cause
}

// NewStorageError creates a new StorageError.
func NewStorageError(backend, operation string, cause error) *StorageError {
	return &StorageError{Backend: backend, Operation: operation, Cause: cause}
}

// QueryError is returned for a query that fails validation.
type QueryError struct {
	Query *Query
	Cause error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("%v: %v", ErrInvalidQuery, e.Cause)
}

func (e *QueryError) Unwrap() []error {
	return []error{ErrInvalidQuery, e.Cause}
}

// ExportError represents an error while exporting records.
type ExportError struct {
	Format      string
	RecordCount int
	Cause       error
}

func (e *ExportError) Error() string {
	return fmt.Sprintf("export error [format=%s, records=%d]: %v", e.Format, e.RecordCount, e.Cause)
}

func (e *ExportError) Unwrap() error {
	return e.Cause
}

// NewExportError creates a new ExportError.
func NewExportError(format string, count int, cause error) *ExportError {
	return &ExportError{Format: format, RecordCount: count, Cause: cause}
}
