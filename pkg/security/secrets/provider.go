package secrets

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no provider has the secret.
var ErrNotFound = errors.New("secret not found")

// Provider retrieves secrets from a backend.
type Provider interface {
	// GetSecret retrieves a secret by name.
	GetSecret(ctx context.Context, name string) (string, error)

	// Provider returns the provider name ("env", "file").
	Provider() string

	// Supports reports whether the provider may hold the secret.
	Supports(name string) bool
}

// RefreshableProvider can drop cached values so rotated secrets are re-read.
type RefreshableProvider interface {
	Provider

	Refresh(ctx context.Context) error
}
