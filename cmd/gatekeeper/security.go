package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	"modelbench/gatekeeper/pkg/config"
	"modelbench/gatekeeper/pkg/security/auth"
	"modelbench/gatekeeper/pkg/security/secrets"
	sectls "modelbench/gatekeeper/pkg/security/tls"
	"modelbench/gatekeeper/pkg/server/api"
)

// newSecretManager builds the file and environment providers. File secrets win
// over environment variables.
func newSecretManager(cfg config.SecretsConfig, logger *slog.Logger) (*secrets.Manager, error) {
	var providers []secrets.Provider
	if cfg.Directory != "" {
		fp, err := secrets.NewFileProvider(cfg.Directory, cfg.Watch, logger)
		if err != nil {
			return nil, err
		}
		providers = append(providers, fp)
	}
	providers = append(providers, secrets.NewEnvProvider(cfg.EnvPrefix))

	return secrets.NewManager(providers, secrets.CacheConfig{
		Enabled: cfg.CacheTTL > 0,
		TTL:     cfg.CacheTTL,
		MaxSize: 100,
	}), nil
}

// resolveSecrets replaces ${secret:name} references in credential fields.
func resolveSecrets(ctx context.Context, m *secrets.Manager, cfg *config.Config) error {
	fields := []*string{
		&cfg.Limits.Storage.Postgres.DSN,
		&cfg.Limits.Storage.Redis.Password,
		&cfg.Notifications.Email.Username,
		&cfg.Notifications.Email.Password,
	}
	for i := range cfg.Security.Auth.APIKeys {
		fields = append(fields, &cfg.Security.Auth.APIKeys[i].Key)
	}
	if err := m.ResolveFields(ctx, fields...); err != nil {
		return fmt.Errorf("failed to resolve secrets: %w", err)
	}
	return nil
}

func apiKeys(cfg config.AuthConfig) []auth.Key {
	keys := make([]auth.Key, 0, len(cfg.APIKeys))
	for _, k := range cfg.APIKeys {
		keys = append(keys, auth.Key{
			Name:     k.Name,
			Key:      k.Key,
			Role:     auth.Role(k.Role),
			Disabled: k.Disabled,
		})
	}
	return keys
}

// buildAuth creates the key store and middleware when auth is enabled.
func (a *app) buildAuth(cfg config.AuthConfig) error {
	if !cfg.Enabled {
		return nil
	}
	store, err := auth.NewKeyStore(apiKeys(cfg))
	if err != nil {
		return fmt.Errorf("invalid API keys: %w", err)
	}
	a.keys = store
	a.auth = auth.NewMiddleware(store, auth.DefaultSources, a.logger.Slog())
	a.auth.WriteError = api.WriteMessage
	return nil
}

// reloadKeys re-resolves and swaps API keys after a configuration reload.
func (a *app) reloadKeys(ctx context.Context, cfg *config.Config) error {
	if a.keys == nil {
		if cfg.Security.Auth.Enabled {
			a.logger.Warn("enabling authentication requires a restart")
		}
		return nil
	}
	if err := a.secrets.Refresh(ctx); err != nil {
		a.logger.Warn("failed to refresh secret providers", "error", err)
	}
	if err := resolveSecrets(ctx, a.secrets, cfg); err != nil {
		return err
	}
	if err := a.keys.Replace(apiKeys(cfg.Security.Auth)); err != nil {
		return fmt.Errorf("invalid API keys: %w", err)
	}
	return nil
}

// buildTLS loads the serving certificate and starts polling it for rotation
// until ctx is done. It returns nil when TLS is disabled.
func (a *app) buildTLS(ctx context.Context, cfg config.TLSConfig) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	tlsCfg, reloader, err := (&sectls.Config{
		CertFile:       cfg.CertFile,
		KeyFile:        cfg.KeyFile,
		MinVersion:     cfg.MinVersion,
		CipherSuites:   cfg.CipherSuites,
		ClientCAFile:   cfg.ClientCAFile,
		ClientAuth:     cfg.ClientAuth,
		ReloadInterval: cfg.ReloadInterval,
		Logger:         a.logger.Slog(),
	}).ToTLSConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to configure TLS: %w", err)
	}

	if err := a.collector.RegisterCertificateExpiry(reloader.NotAfter); err != nil {
		a.logger.Warn("failed to register certificate metric", "error", err)
	}
	a.checker.RegisterOptional("tls_certificate", func(ctx context.Context) error {
		if reloader.ExpiresSoon() {
			return fmt.Errorf("certificate expires %s", reloader.NotAfter().Format(time.RFC3339))
		}
		return nil
	})

	go reloader.Run(ctx)
	return tlsCfg, nil
}
