package controlplane

import (
	"context"
	"crypto/tls"
	"log/slog"

	"github.com/EternisAI/silo-fleet/internal/cert"
	"github.com/EternisAI/silo-fleet/internal/config"
)

// Dialer opens a Daemon at host:port. A nil tlsConfig means plaintext.
type Dialer func(ctx context.Context, address string, tlsConfig *tls.Config) (Daemon, error)

// Client is an authenticated, handshaken daemon connection.
type Client struct {
	Daemon

	Address  string
	Insecure bool
	Version  VersionInfo
	// Certificates is the validation result; zero when TLS is disabled.
	Certificates cert.Result
	Warnings     []cert.Problem
}

type Factory struct {
	Dial Dialer
	// Validate checks the bundle; defaults to a cert.Validator with the configured horizon.
	Validate func(cfg config.TLSConfig) cert.Result
}

func NewFactory() *Factory {
	return &Factory{Dial: DialDocker}
}

// Build connects to the daemon described by cfg. With TLS enabled it fails closed:
// an unusable bundle returns *CertificateError before any dial happens.
func (f *Factory) Build(ctx context.Context, cfg config.EffectiveConfig) (*Client, error) {
	address := cfg.DaemonAddress()
	client := &Client{Address: address}

	var tlsConfig *tls.Config
	if !cfg.TLS.Enabled {
		client.Insecure = true
		slog.Warn("TLS disabled, connecting to daemon without authentication", "address", address)
	} else {
		res := f.validate(cfg.TLS)
		client.Certificates = res
		if !res.Usable {
			return nil, &CertificateError{Result: res}
		}
		for _, w := range res.Warnings() {
			slog.Warn("Certificate warning", "kind", w.Kind, "path", w.Path, "detail", w.Detail)
		}
		client.Warnings = res.Warnings()

		var err error
		tlsConfig, err = LoadClientTLSConfig(cfg.TLS.CertPath(), cfg.TLS.KeyPath(), cfg.TLS.CAPath(), cfg.TLS.ServerName)
		if err != nil {
			return nil, &CertificateError{Result: res, Err: err}
		}
	}

	dial := f.Dial
	if dial == nil {
		dial = DialDocker
	}
	daemon, err := dial(ctx, address, tlsConfig)
	if err != nil {
		return nil, &ConnectionError{Address: address, Op: "connect to", Err: err}
	}

	hctx, cancel := context.WithTimeout(ctx, cfg.Daemon.Timeout)
	defer cancel()
	version, err := daemon.Version(hctx)
	if err != nil {
		daemon.Close()
		return nil, &ConnectionError{Address: address, Op: "handshake with", Err: err}
	}

	client.Daemon = daemon
	client.Version = version
	slog.Info("Connected to daemon",
		"address", address,
		"version", version.Version,
		"api_version", version.APIVersion,
		"tls", !client.Insecure)
	return client, nil
}

func (f *Factory) validate(cfg config.TLSConfig) cert.Result {
	if f.Validate != nil {
		return f.Validate(cfg)
	}
	return cert.NewValidator(cfg.ExpiryWarnDays).Validate(cert.Inspect(cfg.CAPath(), cfg.CertPath(), cfg.KeyPath()))
}
