package logging

import (
	"log/slog"
	"regexp"
	"strings"
)

// Redactor removes PII and credentials from log attributes.
type Redactor struct {
	patterns []redactPattern
}

type redactPattern struct {
	name    string
	regex   *regexp.Regexp
	replace func(string) string
}

// Built-in pattern names.
const (
	PatternEmail       = "email"
	PatternBearerToken = "bearer_token"
	PatternPassword    = "password"
	PatternDSNPassword = "dsn_password"
)

var (
	emailRegex       = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	bearerRegex      = regexp.MustCompile(`Bearer\s+[a-zA-Z0-9\-._~+/]+=*`)
	passwordRegex    = regexp.MustCompile(`(?i)(password|passwd|pwd)\s*[:=]\s*[^\s&]+`)
	dsnPasswordRegex = regexp.MustCompile(`(://[^:/@\s]+:)[^@\s]+@`)
)

// NewRedactor creates a Redactor with the built-in patterns.
func NewRedactor() *Redactor {
	return &Redactor{
		patterns: []redactPattern{
			{name: PatternEmail, regex: emailRegex, replace: RedactEmail},
			{name: PatternBearerToken, regex: bearerRegex, replace: func(string) string { return "Bearer ***" }},
			{name: PatternPassword, regex: passwordRegex, replace: func(m string) string {
				return passwordRegex.ReplaceAllString(m, "$1=***")
			}},
			{name: PatternDSNPassword, regex: dsnPasswordRegex, replace: func(m string) string {
				return dsnPasswordRegex.ReplaceAllString(m, "${1}***@")
			}},
		},
	}
}

// RedactString redacts PII from a string value.
func (r *Redactor) RedactString(value string) string {
	if value == "" {
		return value
	}
	for _, p := range r.patterns {
		value = p.regex.ReplaceAllStringFunc(value, p.replace)
	}
	return value
}

// RedactAttr redacts one attribute, descending into groups. Values under a
// sensitive key are replaced entirely.
func (r *Redactor) RedactAttr(a slog.Attr) slog.Attr {
	v := a.Value.Resolve()

	switch v.Kind() {
	case slog.KindGroup:
		attrs := v.Group()
		redacted := make([]slog.Attr, len(attrs))
		for i, ga := range attrs {
			redacted[i] = r.RedactAttr(ga)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(redacted...)}
	case slog.KindString:
		if isSensitiveKey(a.Key) {
			return slog.String(a.Key, maskValue(v.String()))
		}
		return slog.String(a.Key, r.RedactString(v.String()))
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return slog.String(a.Key, r.RedactString(err.Error()))
		}
	}

	if isSensitiveKey(a.Key) {
		return slog.String(a.Key, "***")
	}
	return slog.Attr{Key: a.Key, Value: v}
}

// isSensitiveKey checks if a key name indicates a credential.
func isSensitiveKey(key string) bool {
	lowerKey := strings.ToLower(key)

	for _, sensitive := range []string{
		"password", "passwd", "pwd",
		"secret", "token", "api_key", "apikey",
		"authorization", "dsn",
	} {
		if strings.Contains(lowerKey, sensitive) {
			return true
		}
	}
	return false
}

// maskValue keeps a short prefix of a credential for correlation.
func maskValue(v string) string {
	if len(v) <= 8 {
		return "***"
	}
	return v[:4] + "***"
}

// RedactEmail redacts an email address partially (shows first char and domain).
func RedactEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return email
	}

	username, domain := email[:at], email[at+1:]
	if username == "" {
		return "***@" + domain
	}
	return username[:1] + "***@" + domain
}
