// Package logging provides structured logging with request-scoped fields and
// PII redaction on top of log/slog.
//
// # Usage
//
//	logger, err := logging.New(logging.Config{
//	    Level:     "info",
//	    Format:    "json",
//	    RedactPII: true,
//	})
//	slog.SetDefault(logger.Slog())
//
// Records logged with a context carry the fields stored by WithRequestID, WithUser,
// WithEnvironment and WithEndpoint:
//
//	ctx = logging.WithRequestID(ctx, "req-123")
//	slog.InfoContext(ctx, "admission decided")  // includes request_id
//
// # PII Redaction
//
// When RedactPII is enabled:
//
//   - Emails: user@example.com → u***@example.com
//   - Bearer tokens: Bearer abc.def → Bearer ***
//   - Passwords: password=hunter2 → password=***
//   - Values under keys such as "password", "token" or "dsn" are masked entirely
package logging
