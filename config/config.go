package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/andaru/epp/pool"
	"github.com/andaru/epp/transport"
	"github.com/joeshaw/envdecode"
	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Defaults applied to unset keys. Pool keys default from
// pool.DefaultConfig.
const (
	DefaultFactory        = "session"
	DefaultPort           = transport.DefaultPort
	DefaultConnectTimeout = 30 * time.Second
)

// DefaultSystem is the reserved system name routed to the base pool.
const DefaultSystem = "default"

// Config is the client configuration: a base endpoint, and any number
// of independently configured named systems.
type Config struct {
	Endpoint `yaml:",inline"`
	Systems  []System `toml:"systems" yaml:"systems"`
}

// System is a named endpoint. Nothing is inherited from the base
// endpoint.
type System struct {
	Name     string `toml:"name" yaml:"name"`
	Endpoint `yaml:",inline"`
}

// Endpoint configures one pool of sessions to one EPP server.
type Endpoint struct {
	// Factory names the registered session factory, "session" by default
	Factory string `toml:"factory" yaml:"factory"`

	ClientID    string `toml:"client_id" yaml:"client_id"`
	Password    string `toml:"password" yaml:"password"`
	NewPassword string `toml:"new_password" yaml:"new_password"`

	ServerHost       string `toml:"server_host" yaml:"server_host"`
	ServerPort       int    `toml:"server_port" yaml:"server_port"`
	LocalBindAddress string `toml:"local_bind_address" yaml:"local_bind_address"`
	TLS              *TLS   `toml:"tls" yaml:"tls"`
	// Proxies are HTTP CONNECT ("host:port" or "http://...") or
	// SOCKS5 ("socks5://...") endpoints
	Proxies          []string `toml:"proxies" yaml:"proxies"`
	RandomizeProxies *bool    `toml:"randomize_proxies" yaml:"randomize_proxies"`
	ConnectTimeout   Duration `toml:"connect_timeout" yaml:"connect_timeout"`
	ReadTimeout      Duration `toml:"read_timeout" yaml:"read_timeout"`
	MaxMessageSize   int      `toml:"max_message_size" yaml:"max_message_size"`

	// Mode is "sync" (default) or "async"
	Mode                string   `toml:"mode" yaml:"mode"`
	LenientRead         bool     `toml:"lenient_read" yaml:"lenient_read"`
	Lang                string   `toml:"lang" yaml:"lang"`
	Version             string   `toml:"version" yaml:"version"`
	ObjectURIs          []string `toml:"object_uris" yaml:"object_uris"`
	ExtensionURIs       []string `toml:"extension_uris" yaml:"extension_uris"`
	AutoTransactionID   bool     `toml:"auto_transaction_id" yaml:"auto_transaction_id"`
	TransactionIDPrefix string   `toml:"transaction_id_prefix" yaml:"transaction_id_prefix"`

	AbsoluteTimeout  Duration  `toml:"absolute_timeout" yaml:"absolute_timeout"`
	IdleTimeout      Duration  `toml:"idle_timeout" yaml:"idle_timeout"`
	MaxIdle          *int      `toml:"max_idle" yaml:"max_idle"`
	MaxActive        int       `toml:"max_active" yaml:"max_active"`
	MinIdle          int       `toml:"min_idle" yaml:"min_idle"`
	MaxWait          *Duration `toml:"max_wait" yaml:"max_wait"`
	EvictionInterval *Duration `toml:"eviction_interval" yaml:"eviction_interval"`
	BorrowRetries    int       `toml:"borrow_retries" yaml:"borrow_retries"`
	RetryBackoff     Duration  `toml:"retry_backoff" yaml:"retry_backoff"`
	PreWarm          bool      `toml:"pre_warm" yaml:"pre_warm"`
	TestOnBorrow     bool      `toml:"test_on_borrow" yaml:"test_on_borrow"`
}

// TLS names the PEM files of the client's TLS identity and trust.
type TLS struct {
	CertFile           string `toml:"cert_file" yaml:"cert_file"`
	KeyFile            string `toml:"key_file" yaml:"key_file"`
	CAFile             string `toml:"ca_file" yaml:"ca_file"`
	ServerName         string `toml:"server_name" yaml:"server_name"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify" yaml:"insecure_skip_verify"`
}

// Duration is a time.Duration read from strings such as "90s".
type Duration time.Duration

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return errors.Wrapf(err, "invalid duration %q", b)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) { return []byte(time.Duration(d).String()), nil }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error { return d.UnmarshalText([]byte(value.Value)) }

// D returns d as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

// env holds the environment variables which override base endpoint
// settings, so credentials need not be kept in configuration files.
type env struct {
	ClientID    string `env:"EPP_CLIENT_ID"`
	Password    string `env:"EPP_PASSWORD"`
	NewPassword string `env:"EPP_NEW_PASSWORD"`
	ServerHost  string `env:"EPP_SERVER_HOST"`
	ServerPort  int    `env:"EPP_SERVER_PORT"`
}

// Load reads the configuration file at path, TOML or YAML by
// extension, applies environment overrides and defaults, and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := load(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := Validate(cfg); err != nil {
		return nil, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

func load(path string, out *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "config load failed (%s)", path)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		err = toml.Unmarshal(data, out)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, out)
	default:
		return errors.Errorf("config load failed (%s): unknown format %q", path, ext)
	}
	if err != nil {
		return errors.Wrapf(err, "config parse failed (%s)", path)
	}
	return nil
}

func (c *Config) applyEnv() error {
	var e env
	if err := envdecode.Decode(&e); err != nil {
		if err == envdecode.ErrNoTargetFieldsAreSet {
			return nil
		}
		return errors.Wrap(err, "config environment")
	}
	for _, o := range []struct {
		dst *string
		v   string
	}{
		{&c.ClientID, e.ClientID},
		{&c.Password, e.Password},
		{&c.NewPassword, e.NewPassword},
		{&c.ServerHost, e.ServerHost},
	} {
		if o.v != "" {
			*o.dst = o.v
		}
	}
	if e.ServerPort != 0 {
		c.ServerPort = e.ServerPort
	}
	return nil
}

// SetDefaults fills unset keys of the base endpoint and every system.
func (c *Config) SetDefaults() {
	c.Endpoint.SetDefaults()
	for i := range c.Systems {
		c.Systems[i].Endpoint.SetDefaults()
	}
}

// SetDefaults fills unset keys.
func (e *Endpoint) SetDefaults() {
	d := pool.DefaultConfig()
	if e.Factory == "" {
		e.Factory = DefaultFactory
	}
	if e.ServerPort == 0 {
		e.ServerPort = DefaultPort
	}
	if e.RandomizeProxies == nil {
		e.RandomizeProxies = ptr(true)
	}
	if e.ConnectTimeout == 0 {
		e.ConnectTimeout = Duration(DefaultConnectTimeout)
	}
	if e.Mode == "" {
		e.Mode = "sync"
	}
	if e.AbsoluteTimeout == 0 {
		e.AbsoluteTimeout = Duration(d.AbsoluteTimeout)
	}
	if e.IdleTimeout == 0 {
		e.IdleTimeout = Duration(d.IdleTimeout)
	}
	if e.MaxActive == 0 {
		e.MaxActive = d.MaxActive
	}
	if e.MaxIdle == nil {
		e.MaxIdle = ptr(min(d.MaxIdle, e.MaxActive))
	}
	if e.MaxWait == nil {
		e.MaxWait = ptr(Duration(d.MaxWait))
	}
	if e.EvictionInterval == nil {
		e.EvictionInterval = ptr(Duration(d.EvictionInterval))
	}
}

// System returns the endpoint of the named system, and whether it
// exists. DefaultSystem names the base endpoint.
func (c *Config) System(name string) (Endpoint, bool) {
	if name == DefaultSystem || name == "" {
		return c.Endpoint, true
	}
	for _, s := range c.Systems {
		if s.Name == name {
			return s.Endpoint, true
		}
	}
	return Endpoint{}, false
}

func ptr[T any](v T) *T { return &v }
