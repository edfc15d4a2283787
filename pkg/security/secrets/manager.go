package secrets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
)

// secretRefRegex matches ${secret:name} references.
var secretRefRegex = regexp.MustCompile(`\$\{secret:([^}]+)\}`)

// Manager tries providers in order and caches what they return.
type Manager struct {
	providers []Provider
	cache     *Cache
	logger    *slog.Logger
}

// NewManager creates a manager. Providers are tried in the order given.
func NewManager(providers []Provider, cacheConfig CacheConfig) *Manager {
	return &Manager{
		providers: providers,
		cache:     NewCache(cacheConfig),
		logger:    slog.Default().With("component", "secrets"),
	}
}

// GetSecret returns the value from the first provider that supports name.
func (m *Manager) GetSecret(ctx context.Context, name string) (string, error) {
	if value, ok := m.cache.Get(name); ok {
		return value, nil
	}

	var errs []error
	for _, provider := range m.providers {
		if !provider.Supports(name) {
			continue
		}

		value, err := provider.GetSecret(ctx, name)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", provider.Provider(), err))
			continue
		}

		m.cache.Set(name, value)
		m.logger.Debug("secret resolved", "name", redactSecretName(name), "provider", provider.Provider())
		return value, nil
	}

	if len(errs) == 0 {
		return "", fmt.Errorf("%w: %q (no provider supports it)", ErrNotFound, name)
	}
	return "", fmt.Errorf("failed to get secret %q: %w", name, errors.Join(errs...))
}

// ResolveReferences replaces every ${secret:name} in input. Unresolved references
// are left in place and reported in the error.
func (m *Manager) ResolveReferences(ctx context.Context, input string) (string, error) {
	var errs []error
	output := secretRefRegex.ReplaceAllStringFunc(input, func(match string) string {
		name := secretRefRegex.FindStringSubmatch(match)[1]
		value, err := m.GetSecret(ctx, name)
		if err != nil {
			errs = append(errs, err)
			return match
		}
		return value
	})
	return output, errors.Join(errs...)
}

// ResolveFields resolves references in each field in place. A field is left
// unchanged when any of its references fails.
func (m *Manager) ResolveFields(ctx context.Context, fields ...*string) error {
	var errs []error
	for _, f := range fields {
		if f == nil || !HasReference(*f) {
			continue
		}
		resolved, err := m.ResolveReferences(ctx, *f)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		*f = resolved
	}
	return errors.Join(errs...)
}

// Refresh reloads refreshable providers and clears the cache.
func (m *Manager) Refresh(ctx context.Context) error {
	var errs []error
	for _, provider := range m.providers {
		if refreshable, ok := provider.(RefreshableProvider); ok {
			if err := refreshable.Refresh(ctx); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", provider.Provider(), err))
			}
		}
	}
	m.cache.Clear()
	return errors.Join(errs...)
}

// Close closes providers that hold resources.
func (m *Manager) Close() error {
	var errs []error
	for _, provider := range m.providers {
		if c, ok := provider.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}

// HasReference reports whether s contains a ${secret:name} reference.
func HasReference(s string) bool {
	return secretRefRegex.MatchString(s)
}

// redactSecretName keeps the first and last two characters of a secret name.
func redactSecretName(name string) string {
	if len(name) <= 4 {
		return "***"
	}
	return name[:2] + "..." + name[len(name)-2:]
}
