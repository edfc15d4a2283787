/*
Package tls terminates TLS for the admission API.

# Server Configuration

	cfg := &tls.Config{
		CertFile:       "/etc/gatekeeper/certs/server.crt",
		KeyFile:        "/etc/gatekeeper/certs/server.key",
		MinVersion:     "1.3",
		ReloadInterval: 5 * time.Minute,
	}

	tlsConfig, reloader, err := cfg.ToTLSConfig()
	if err != nil {
		return err
	}
	go reloader.Run(ctx)

The certificate is served through tls.Config.GetCertificate, so a renewed
certificate written over the old files is picked up on the next poll without a
restart. A certificate that fails to load or is expired keeps the previous one
in service.

# Client Certificates

Setting ClientCAFile requires callers to present a certificate signed by that
CA. ClientAuth "verify_if_given" accepts callers without one.
*/
package tls
