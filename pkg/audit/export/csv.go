package export

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"modelbench/gatekeeper/pkg/audit"
)

// CSVExporter exports audit records to CSV.
type CSVExporter struct {
	// IncludeHeader writes a header row with column names.
	IncludeHeader bool
}

var _ audit.Exporter = (*CSVExporter)(nil)

// NewCSVExporter creates a new CSV exporter.
func NewCSVExporter(includeHeader bool) *CSVExporter {
	return &CSVExporter{IncludeHeader: includeHeader}
}

var header = []string{
	"id", "request_id", "time",
	"user_id", "environment", "endpoint",
	"allowed", "kind", "reason", "warning",
	"remaining", "reset_in_seconds", "dry_run", "principal", "hash",
}

// Export writes records in CSV format.
func (e *CSVExporter) Export(ctx context.Context, records []*audit.Record, w io.Writer) error {
	writer := csv.NewWriter(w)

	if e.IncludeHeader {
		if err := writer.Write(header); err != nil {
			return audit.NewExportError("csv", len(records), err)
		}
	}
	for _, record := range records {
		if err := writer.Write(row(record)); err != nil {
			return audit.NewExportError("csv", len(records), err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return audit.NewExportError("csv", len(records), err)
	}
	return nil
}

// ExportStream writes records from a channel in CSV format, flushing every
// 100 rows.
func (e *CSVExporter) ExportStream(ctx context.Context, records <-chan *audit.Record, w io.Writer) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	if e.IncludeHeader {
		if err := writer.Write(header); err != nil {
			return audit.NewExportError("csv", 0, err)
		}
	}

	count := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case record, ok := <-records:
			if !ok {
				writer.Flush()
				if err := writer.Error(); err != nil {
					return audit.NewExportError("csv", count, err)
				}
				return nil
			}

			if err := writer.Write(row(record)); err != nil {
				return audit.NewExportError("csv", count, err)
			}
			count++

			if count%100 == 0 {
				writer.Flush()
				if err := writer.Error(); err != nil {
					return audit.NewExportError("csv", count, err)
				}
			}
		}
	}
}

func row(r *audit.Record) []string {
	optional := func(v *int64) string {
		if v == nil {
			return ""
		}
		return strconv.FormatInt(*v, 10)
	}

	return []string{
		r.ID,
		r.RequestID,
		r.Time.UTC().Format(time.RFC3339Nano),
		r.UserID,
		r.Environment,
		r.Endpoint,
		strconv.FormatBool(r.Allowed),
		r.Kind,
		r.Reason,
		r.Warning,
		optional(r.Remaining),
		optional(r.ResetInSeconds),
		strconv.FormatBool(r.DryRun),
		r.Principal,
		r.Hash,
	}
}
