package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/andaru/epp/pool"
	"github.com/andaru/epp/session"
	"github.com/andaru/epp/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	for _, file := range []string{"client.toml", "client.yaml"} {
		t.Run(file, func(t *testing.T) {
			check := assert.New(t)
			cfg, err := Load(filepath.Join("testdata", file))
			require.NoError(t, err)

			check.Equal("registrar1", cfg.ClientID)
			check.Equal("s3cret", cfg.Password)
			check.Equal("session", cfg.Factory)
			check.Equal(5*time.Second, cfg.ConnectTimeout.D())
			require.NotNil(t, cfg.TLS)
			check.Equal("ca.pem", cfg.TLS.CAFile)

			pc := cfg.PoolConfig("base")
			check.Equal(4, pc.MaxActive)
			check.Equal(2, pc.MaxIdle)
			check.Equal(1, pc.MinIdle)
			check.Equal(time.Duration(0), pc.MaxWait)
			check.Equal(5*time.Minute, pc.IdleTimeout)
			check.Equal(pool.DefaultAbsoluteTimeout, pc.AbsoluteTimeout)
			check.Equal(pool.DefaultEvictionInterval, pc.EvictionInterval)
			check.Equal(2, pc.BorrowRetries)
			check.Equal(250*time.Millisecond, pc.RetryBackoff)

			tc := cfg.TransportConfig()
			check.Equal("epp.example.net:7000", tc.Address())
			check.Equal(transport.ProxyOrderSequential, tc.ProxyOrder)
			check.Equal([]string{"proxy-a:3128", "socks5://proxy-b:1080"}, tc.Proxies)
			require.NotNil(t, tc.TLS)
			check.Equal("client.pem", tc.TLS.CertFile)

			sc := cfg.SessionConfig()
			check.Equal(session.ModeAsync, sc.Mode)
			check.True(sc.AutoTransactionID)
			check.Equal("REG", sc.TransactionIDPrefix)
			check.Equal([]string{"urn:ietf:params:xml:ns:secDNS-1.1"}, sc.ExtensionURIs)

			require.Len(t, cfg.Systems, 2)
			ote, ok := cfg.System("ote")
			require.True(t, ok)
			check.Equal("registrar1-ote", ote.ClientID)
			check.Equal(DefaultPort, ote.ServerPort)
			// systems inherit nothing from the base endpoint
			check.Empty(ote.Proxies)
			check.Nil(ote.TLS)
			check.Equal(session.ModeSync, ote.SessionConfig().Mode)
			check.Equal(transport.ProxyOrderRandom, ote.TransportConfig().ProxyOrder)
			check.Equal(pool.DefaultMaxActive, ote.PoolConfig("ote").MaxActive)

			// names are case-sensitive
			upper, ok := cfg.System("OTE")
			require.True(t, ok)
			check.Equal("ote2.example.net", upper.ServerHost)
			check.Equal(time.Duration(0), upper.PoolConfig("OTE").EvictionInterval)

			base, ok := cfg.System(DefaultSystem)
			check.True(ok)
			check.Equal("epp.example.net", base.ServerHost)
			_, ok = cfg.System("prod")
			check.False(ok)
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	check := assert.New(t)
	cfg, err := Load(filepath.Join("testdata", "minimal.toml"))
	require.NoError(t, err)
	pc := cfg.PoolConfig("base")
	check.Equal(pool.DefaultMaxActive, pc.MaxActive)
	check.Equal(pool.DefaultMaxIdle, pc.MaxIdle)
	check.Equal(0, pc.MinIdle)
	check.Equal(pool.DefaultMaxWait, pc.MaxWait)
	check.Equal(pool.DefaultIdleTimeout, pc.IdleTimeout)
	check.False(pc.PreWarm)
	check.Equal(0, pc.BorrowRetries)
	tc := cfg.TransportConfig()
	check.Equal(DefaultPort, tc.Port)
	check.Equal(transport.ProxyOrderRandom, tc.ProxyOrder)
	check.Nil(tc.TLS)
	check.Equal(session.ModeSync, cfg.SessionConfig().Mode)
}

func TestMaxIdleDefaultCapped(t *testing.T) {
	e := Endpoint{MaxActive: 3}
	e.SetDefaults()
	assert.Equal(t, 3, *e.MaxIdle)
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv("EPP_CLIENT_ID", "env-client")
	t.Setenv("EPP_PASSWORD", "env-pw")
	t.Setenv("EPP_SERVER_PORT", "7700")
	check := assert.New(t)
	cfg, err := Load(filepath.Join("testdata", "minimal.toml"))
	require.NoError(t, err)
	check.Equal("env-client", cfg.ClientID)
	check.Equal("env-pw", cfg.Password)
	check.Equal(7700, cfg.ServerPort)
	check.Equal("epp.example.net", cfg.ServerHost)
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
		return path
	}
	for _, tc := range []struct {
		name string
		path string
		want string
	}{
		{"missing file", filepath.Join(dir, "nope.toml"), "config load failed"},
		{"unknown format", write("client.ini", "x=1"), "unknown format"},
		{"bad toml", write("bad.toml", "client_id = "), "config parse failed"},
		{"bad duration", write("dur.yaml", "idle_timeout: soon\n"), "invalid duration"},
		{"duplicate systems", filepath.Join("testdata", "duplicate.yaml"), `duplicate system name "ote"`},
		{"no host", write("nohost.toml", "client_id = \"a\"\npassword = \"b\"\n"), "server_host is required"},
		{"bad mode", write("mode.toml", "client_id = \"a\"\npassword = \"b\"\nserver_host = \"h\"\nmode = \"batch\"\n"), "mode must be sync or async"},
		{"idle exceeds active", write("idle.toml", "client_id = \"a\"\npassword = \"b\"\nserver_host = \"h\"\nmax_active = 2\nmax_idle = 3\n"), "max_idle (3) exceeds max_active (2)"},
		{"half tls", write("tls.yaml", "client_id: a\npassword: b\nserver_host: h\ntls:\n  cert_file: c.pem\n"), "cert_file and key_file"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(tc.path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestDuration(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte(" 1m30s ")))
	assert.Equal(t, 90*time.Second, d.D())
	b, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(b))
	assert.Error(t, d.UnmarshalText([]byte("90")))
}
