package tls

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"os"
	"time"
)

// Config is the TLS configuration of the API listener.
type Config struct {
	// CertFile is the path to the PEM-encoded certificate chain.
	CertFile string

	// KeyFile is the path to the PEM-encoded private key.
	KeyFile string

	// MinVersion is "1.2" or "1.3". Default: "1.3"
	MinVersion string

	// CipherSuites restricts TLS 1.2 cipher suites. Empty uses Go's defaults.
	CipherSuites []string

	// ClientCAFile enables client certificate verification against this CA bundle.
	ClientCAFile string

	// ClientAuth is "require" (default) or "verify_if_given".
	ClientAuth string

	// ReloadInterval is how often certificate files are checked for changes.
	// Zero disables reloading.
	ReloadInterval time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// ToTLSConfig loads the certificate and builds a crypto/tls configuration that
// serves it through the returned reloader.
func (c *Config) ToTLSConfig() (*tls.Config, *CertificateReloader, error) {
	if c.CertFile == "" {
		return nil, nil, fmt.Errorf("cert_file is required when TLS is enabled")
	}
	if c.KeyFile == "" {
		return nil, nil, fmt.Errorf("key_file is required when TLS is enabled")
	}

	minVersion, err := ParseVersion(c.MinVersion)
	if err != nil {
		return nil, nil, err
	}
	suites, err := parseCipherSuites(c.CipherSuites)
	if err != nil {
		return nil, nil, err
	}

	reloader := NewCertificateReloader(c.CertFile, c.KeyFile, c.ReloadInterval, c.Logger)
	if err := reloader.reload(); err != nil {
		return nil, nil, fmt.Errorf("failed to load certificate: %w", err)
	}

	// #nosec G402 - MinVersion is validated, TLS 1.0 and 1.1 are rejected
	tlsConfig := &tls.Config{
		MinVersion:     minVersion,
		CipherSuites:   suites,
		GetCertificate: reloader.GetCertificateFunc(),
	}

	if c.ClientCAFile != "" {
		if err := c.configureClientAuth(tlsConfig); err != nil {
			return nil, nil, fmt.Errorf("failed to configure client certificates: %w", err)
		}
	}

	return tlsConfig, reloader, nil
}

// ParseVersion converts "1.2" or "1.3" to a tls version constant. Empty means 1.3.
func ParseVersion(v string) (uint16, error) {
	switch v {
	case "1.3", "":
		return tls.VersionTLS13, nil
	case "1.2":
		return tls.VersionTLS12, nil
	default:
		return 0, fmt.Errorf("unsupported TLS version %q: must be '1.2' or '1.3'", v)
	}
}

func parseCipherSuites(names []string) ([]uint16, error) {
	if len(names) == 0 {
		return nil, nil
	}

	suites := make([]uint16, 0, len(names))
	for _, name := range names {
		id, ok := cipherSuiteMap[name]
		if !ok {
			return nil, fmt.Errorf("unsupported cipher suite %q", name)
		}
		suites = append(suites, id)
	}
	return suites, nil
}

// cipherSuiteMap lists the accepted TLS 1.2 suites. TLS 1.3 suites are not configurable.
var cipherSuiteMap = map[string]uint16{
	"TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256":   tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	"TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384":   tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	"TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256": tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	"TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384": tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	"TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305":    tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
	"TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305":  tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
}

func (c *Config) configureClientAuth(tlsConfig *tls.Config) error {
	caCert, err := os.ReadFile(c.ClientCAFile)
	if err != nil {
		return fmt.Errorf("failed to read client CA: %w", err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		return fmt.Errorf("failed to parse client CA certificate")
	}
	tlsConfig.ClientCAs = pool

	switch c.ClientAuth {
	case "require", "":
		tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
	case "verify_if_given":
		tlsConfig.ClientAuth = tls.VerifyClientCertIfGiven
	default:
		return fmt.Errorf("unsupported client auth %q: must be 'require' or 'verify_if_given'", c.ClientAuth)
	}
	return nil
}
