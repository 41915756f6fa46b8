package config

import (
	"github.com/pkg/errors"
)

// Validate checks the base endpoint and every system. System names
// must be non-empty and unique; comparison is case-sensitive. A
// system named DefaultSystem is checked but never used.
func Validate(c *Config) error {
	if err := ValidateEndpoint(c.Endpoint); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(c.Systems))
	for i, s := range c.Systems {
		if s.Name == "" {
			return errors.Errorf("systems[%d]: name is required", i)
		}
		if _, dup := seen[s.Name]; dup {
			return errors.Errorf("systems[%d]: duplicate system name %q", i, s.Name)
		}
		seen[s.Name] = struct{}{}
		if err := ValidateEndpoint(s.Endpoint); err != nil {
			return errors.Wrapf(err, "system %q", s.Name)
		}
	}
	return nil
}

// ValidateEndpoint checks one endpoint with defaults applied.
func ValidateEndpoint(e Endpoint) error {
	switch {
	case e.ServerHost == "":
		return errors.New("server_host is required")
	case e.ServerPort <= 0 || e.ServerPort > 65535:
		return errors.Errorf("server_port out of range (%d)", e.ServerPort)
	case e.ClientID == "":
		return errors.New("client_id is required")
	case e.Password == "":
		return errors.New("password is required")
	case e.Mode != "sync" && e.Mode != "async":
		return errors.Errorf("mode must be sync or async (%q)", e.Mode)
	case e.ConnectTimeout < 0 || e.ReadTimeout < 0:
		return errors.New("connect_timeout and read_timeout must not be negative")
	case e.MaxMessageSize < 0:
		return errors.Errorf("max_message_size must not be negative (%d)", e.MaxMessageSize)
	}
	if t := e.TLS; t != nil && (t.CertFile == "") != (t.KeyFile == "") {
		return errors.New("tls: cert_file and key_file must be set together")
	}
	return errors.Wrap(e.PoolConfig("").Validate(), "pool")
}
