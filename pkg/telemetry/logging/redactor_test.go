package logging

import (
	"log/slog"
	"testing"
)

func TestRedactor_RedactString(t *testing.T) {
	r := NewRedactor()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"email", "send to jane@example.com now", "send to j***@example.com now"},
		{"bearer", "Authorization: Bearer abc.DEF-123", "Authorization: Bearer ***"},
		{"password", "login password=hunter2 ok", "login password=*** ok"},
		{"dsn", "postgres://gk:s3cret@db:5432/gk", "postgres://gk:***@db:5432/gk"},
		{"plain", "budget exhausted", "budget exhausted"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.RedactString(tt.input); got != tt.want {
				t.Errorf("RedactString(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestRedactor_RedactAttr(t *testing.T) {
	r := NewRedactor()

	if got := r.RedactAttr(slog.String("password", "hunter2")); got.Value.String() != "***" {
		t.Errorf("expected short secret fully masked, got %q", got.Value.String())
	}
	if got := r.RedactAttr(slog.Int("token_count", 3)); got.Value.String() != "***" {
		t.Errorf("expected sensitive key masked regardless of kind, got %q", got.Value.String())
	}
	if got := r.RedactAttr(slog.Int("calls", 3)); got.Value.Int64() != 3 {
		t.Errorf("expected non-sensitive int untouched, got %v", got.Value)
	}

	group := r.RedactAttr(slog.Group("smtp", slog.String("username", "a@b.io"), slog.String("secret", "x")))
	attrs := group.Value.Group()
	if attrs[0].Value.String() != "a***@b.io" {
		t.Errorf("expected nested email redacted, got %q", attrs[0].Value.String())
	}
	if attrs[1].Value.String() != "***" {
		t.Errorf("expected nested secret masked, got %q", attrs[1].Value.String())
	}
}

func TestRedactEmail(t *testing.T) {
	tests := map[string]string{
		"jane@example.com": "j***@example.com",
		"@example.com":     "***@example.com",
		"not-an-email":     "not-an-email",
	}
	for in, want := range tests {
		if got := RedactEmail(in); got != want {
			t.Errorf("RedactEmail(%q) = %q, want %q", in, got, want)
		}
	}
}
