/*
Package secrets resolves ${secret:name} references in configuration values.

Credentials such as the Postgres DSN, the Redis and SMTP passwords and API
keys should not live in the configuration file. Instead the file names a
secret, and the value is read from the environment or from a mounted secrets
directory when the service starts:

	limits:
	  storage:
	    postgres:
	      dsn: ${secret:postgres-dsn}

# Providers

  - EnvProvider reads GATEKEEPER_SECRET_POSTGRES_DSN for "postgres-dsn".
  - FileProvider reads <dir>/postgres-dsn, Kubernetes style. Files must be
    0600 or 0400. With watching enabled, edits clear the provider's cache.

Providers are tried in order; the first that supports a name and returns a
value wins.

# Usage

	manager := secrets.NewManager(
		[]secrets.Provider{fileProvider, secrets.NewEnvProvider("GATEKEEPER_SECRET_")},
		secrets.CacheConfig{Enabled: true, TTL: 5 * time.Minute, MaxSize: 100},
	)

	if err := manager.ResolveFields(ctx, &cfg.Limits.Storage.Postgres.DSN); err != nil {
		return err
	}

Secret values are never logged; names are logged in redacted form.
*/
package secrets
