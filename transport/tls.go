package transport

import (
	"crypto/tls"
	"crypto/x509"
	"os"

	"github.com/pkg/errors"
)

// TLSConfig holds the TLS identity and trust material for a session.
type TLSConfig struct {
	// CertFile and KeyFile name the PEM encoded client certificate
	// and private key presented to the server
	CertFile string
	KeyFile  string
	// CAFile names a PEM bundle of roots trusted to sign the server
	// certificate. The system roots are used when empty.
	CAFile string
	// ServerName overrides the name verified against the server
	// certificate; defaults to the configured server host
	ServerName         string
	InsecureSkipVerify bool
	// Config, if non-nil, is cloned and used as the base configuration
	Config *tls.Config
}

// Build returns the *tls.Config described by c for connections to host.
func (c *TLSConfig) Build(host string) (*tls.Config, error) {
	var cfg *tls.Config
	if c.Config != nil {
		cfg = c.Config.Clone()
	} else {
		cfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if c.CertFile != "" || c.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
		if err != nil {
			return nil, errors.Wrap(err, "load client certificate")
		}
		cfg.Certificates = append(cfg.Certificates, cert)
	}
	if c.CAFile != "" {
		pem, err := os.ReadFile(c.CAFile)
		if err != nil {
			return nil, errors.Wrap(err, "load CA bundle")
		}
		roots := x509.NewCertPool()
		if !roots.AppendCertsFromPEM(pem) {
			return nil, errors.Errorf("no certificates found in CA bundle %s", c.CAFile)
		}
		cfg.RootCAs = roots
	}
	switch {
	case c.ServerName != "":
		cfg.ServerName = c.ServerName
	case cfg.ServerName == "":
		cfg.ServerName = host
	}
	if c.InsecureSkipVerify {
		cfg.InsecureSkipVerify = true
	}
	return cfg, nil
}
