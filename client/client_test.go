package client

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/andaru/epp/codec"
	"github.com/andaru/epp/config"
	"github.com/andaru/epp/epperr"
	"github.com/andaru/epp/epptest"
	"github.com/andaru/epp/session"
	"github.com/andaru/epp/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const checkBody = `<check><domain:check xmlns:domain="urn:ietf:params:xml:ns:domain-1.0"><domain:name>example.com</domain:name></domain:check></check>`

func endpoint(srv *epptest.Server) config.Endpoint {
	return config.Endpoint{
		ClientID:       "ClientX",
		Password:       "foo-BAR2",
		ServerHost:     srv.Host(),
		ServerPort:     srv.Port(),
		ConnectTimeout: config.Duration(5 * time.Second),
	}
}

func newClient(t *testing.T, cfg *config.Config, opts ...Option) *Client {
	t.Helper()
	cfg.SetDefaults()
	c, err := New(context.Background(), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close(context.Background()) })
	return c
}

func TestClientSystems(t *testing.T) {
	check := assert.New(t)
	ctx := context.Background()
	base := epptest.NewServer(t, epptest.WithCredentials("ClientX", "foo-BAR2"))
	ote := epptest.NewServer(t, epptest.WithCredentials("ClientX", "foo-BAR2"))
	other := epptest.NewServer(t)

	cfg := &config.Config{
		Endpoint: endpoint(base),
		Systems: []config.System{
			{Name: "ote", Endpoint: endpoint(ote)},
			// "default" always names the base endpoint
			{Name: config.DefaultSystem, Endpoint: endpoint(other)},
		},
	}
	c := newClient(t, cfg)
	check.ElementsMatch([]string{"ote"}, c.Systems())

	for _, name := range []string{"", config.DefaultSystem} {
		s, err := c.Borrow(ctx, name)
		require.NoError(t, err)
		check.Equal(session.StatusAuthenticated, s.Status())
		require.NoError(t, c.Return(s, name))
	}
	check.EqualValues(1, base.Logins.Load())
	check.EqualValues(0, other.Connections.Load())

	s, err := c.Borrow(ctx, "ote")
	require.NoError(t, err)
	check.EqualValues(1, ote.Logins.Load())
	resp, err := s.Send(ctx, &codec.Raw{TrID: codec.TrID{ClTRID: "T1"}, Body: checkBody})
	require.NoError(t, err)
	check.Equal("T1", resp.ClientTransactionID())
	require.NoError(t, c.Return(s, "ote"))

	// system names are case-sensitive
	_, err = c.Borrow(ctx, "OTE")
	check.True(epperr.Is(err, epperr.KindUsage))
	check.True(epperr.Is(c.Return(s, "prod"), epperr.KindUsage))
	check.True(epperr.Is(c.Invalidate(s, "prod"), epperr.KindUsage))

	require.NoError(t, c.Close(ctx))
	check.EqualValues(1, base.Logouts.Load())
	check.EqualValues(1, ote.Logouts.Load())
	_, err = c.Borrow(ctx, "ote")
	check.True(epperr.Is(err, epperr.KindShuttingDown))
}

func TestClientDo(t *testing.T) {
	check := assert.New(t)
	ctx := context.Background()
	srv := epptest.NewServer(t, epptest.WithHandler("check", func(s *epptest.Server, cmd *epptest.Command) ([]byte, bool) {
		if cmd.ClTRID == "closing" {
			return epptest.Response(2502, "Session limit exceeded; server closing connection", s.Echo(cmd), s.NextSvTRID()), true
		}
		return epptest.Response(2303, "Object does not exist", s.Echo(cmd), s.NextSvTRID()), false
	}))
	c := newClient(t, &config.Config{Endpoint: endpoint(srv)})
	p, err := c.Pool("")
	require.NoError(t, err)

	// a command error leaves the session usable
	var first *session.Session
	err = c.Do(ctx, "", func(s *session.Session) error {
		first = s
		_, err := s.Send(ctx, &codec.Raw{TrID: codec.TrID{ClTRID: "T1"}, Body: checkBody})
		return err
	})
	check.True(epperr.Is(err, epperr.KindCommand))
	check.Equal(1, p.Stats().Idle)

	// the server closing the session invalidates it
	err = c.Do(ctx, "", func(s *session.Session) error {
		check.Same(first, s)
		_, err := s.Send(ctx, &codec.Raw{TrID: codec.TrID{ClTRID: "closing"}, Body: checkBody})
		return err
	})
	check.True(epperr.Is(err, epperr.KindCommand))
	check.True(epperr.MustInvalidate(err))
	stats := p.Stats()
	check.Equal(0, stats.Idle)
	check.Equal(0, stats.Open)
	check.EqualValues(1, stats.Destroyed)

	require.NoError(t, c.Do(ctx, "", func(s *session.Session) error {
		check.NotSame(first, s)
		return nil
	}))
	check.EqualValues(2, srv.Logins.Load())
}

func TestClientPreWarm(t *testing.T) {
	check := assert.New(t)
	srv := epptest.NewServer(t)
	e := endpoint(srv)
	e.PreWarm = true
	e.MaxActive = 3
	c := newClient(t, &config.Config{Endpoint: e})
	check.EqualValues(3, srv.Logins.Load())
	p, err := c.Pool(config.DefaultSystem)
	require.NoError(t, err)
	check.Equal(3, p.Stats().Idle)
}

func TestClientReturnUnusable(t *testing.T) {
	ctx := context.Background()
	for _, tc := range []struct {
		name  string
		mode  string
		spoil func(t *testing.T, srv *epptest.Server, s *session.Session)
	}{
		{
			name: "transaction mismatch",
			spoil: func(t *testing.T, srv *epptest.Server, s *session.Session) {
				srv.SetClTRIDRewrite(func(string) string { return "other" })
				defer srv.SetClTRIDRewrite(nil)
				_, err := s.Send(ctx, &codec.Raw{TrID: codec.TrID{ClTRID: "T1"}, Body: checkBody})
				require.True(t, epperr.Is(err, epperr.KindTransactionMismatch), "%v", err)
				require.Equal(t, session.StatusError, s.Status())
			},
		},
		{
			name: "logged out",
			spoil: func(t *testing.T, srv *epptest.Server, s *session.Session) {
				require.NoError(t, s.Logout(ctx))
			},
		},
		{
			name: "response pending",
			mode: "async",
			spoil: func(t *testing.T, srv *epptest.Server, s *session.Session) {
				require.NoError(t, s.SendAsync(ctx, &codec.Raw{TrID: codec.TrID{ClTRID: "T1"}, Body: checkBody}))
				require.True(t, s.Pending())
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			check := assert.New(t)
			srv := epptest.NewServer(t)
			e := endpoint(srv)
			e.Mode = tc.mode
			c := newClient(t, &config.Config{Endpoint: e})
			p, err := c.Pool("")
			require.NoError(t, err)

			s, err := c.Borrow(ctx, "")
			require.NoError(t, err)
			tc.spoil(t, srv, s)
			check.NoError(c.Return(s, ""))
			stats := p.Stats()
			check.Zero(stats.Idle)
			check.Zero(stats.Open)
			check.EqualValues(1, stats.Destroyed)
			check.NotEqual(session.StatusAuthenticated, s.Status())

			s2, err := c.Borrow(ctx, "")
			require.NoError(t, err)
			check.NotSame(s, s2)
			check.Equal(session.StatusAuthenticated, s2.Status())
			check.EqualValues(2, srv.Logins.Load())
			require.NoError(t, c.Return(s2, ""))
		})
	}
}

func TestClientStartFailure(t *testing.T) {
	check := assert.New(t)
	good := epptest.NewServer(t)
	refusing := epptest.NewServer(t, epptest.WithCredentials("someone", "else"))
	bad := endpoint(refusing)
	bad.PreWarm = true
	cfg := &config.Config{
		Endpoint: endpoint(good),
		Systems:  []config.System{{Name: "ote", Endpoint: bad}},
	}
	cfg.Endpoint.PreWarm = true
	cfg.Endpoint.MaxActive = 2
	cfg.SetDefaults()
	_, err := New(context.Background(), cfg)
	require.Error(t, err)
	check.Contains(err.Error(), `system "ote"`)
	check.True(epperr.Is(err, epperr.KindCommand))
	// the base pool was started and closed again
	check.EqualValues(2, good.Logins.Load())
	check.EqualValues(2, good.Logouts.Load())
}

func TestClientConfigErrors(t *testing.T) {
	srv := epptest.NewServer(t)
	for _, tc := range []struct {
		name   string
		modify func(*config.Config)
		want   string
	}{
		{"unknown factory", func(c *config.Config) { c.Factory = "nope" }, `unknown session factory "nope"`},
		{"invalid", func(c *config.Config) { c.MinIdle = 20 }, "invalid configuration"},
		{"duplicate system", func(c *config.Config) {
			c.Systems = []config.System{{Name: "a", Endpoint: c.Endpoint}, {Name: "a", Endpoint: c.Endpoint}}
		}, "duplicate system name"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := &config.Config{Endpoint: endpoint(srv)}
			cfg.SetDefaults()
			tc.modify(cfg)
			_, err := New(context.Background(), cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

type countingFactory struct {
	Factory
	makes int
}

func (f *countingFactory) Make(ctx context.Context) (*session.Session, error) {
	f.makes++
	return f.Factory.Make(ctx)
}

func TestRegisterFactory(t *testing.T) {
	check := assert.New(t)
	srv := epptest.NewServer(t)
	var made *countingFactory
	RegisterFactory("counting", func(e config.Endpoint, opts ...transport.DialerOption) (Factory, error) {
		made = &countingFactory{Factory: NewSessionFactory(e.SessionConfig(), opts...)}
		return made, nil
	})
	check.Contains(Factories(), "counting")
	check.Contains(Factories(), config.DefaultFactory)
	check.Panics(func() { RegisterFactory("counting", nil) })
	check.Panics(func() {
		RegisterFactory(config.DefaultFactory, func(config.Endpoint, ...transport.DialerOption) (Factory, error) { return nil, nil })
	})

	e := endpoint(srv)
	e.Factory = "counting"
	c := newClient(t, &config.Config{Endpoint: e})
	s, err := c.Borrow(context.Background(), "")
	require.NoError(t, err)
	require.NoError(t, c.Return(s, ""))
	require.NotNil(t, made)
	check.Equal(1, made.makes)
}

func TestWithFactory(t *testing.T) {
	srv := epptest.NewServer(t)
	f := &countingFactory{Factory: NewSessionFactory(endpoint(srv).SessionConfig())}
	cfg := &config.Config{Endpoint: endpoint(srv)}
	cfg.Factory = "not-registered"
	c := newClient(t, cfg, WithFactory(config.DefaultSystem, f))
	s, err := c.Borrow(context.Background(), "")
	require.NoError(t, err)
	require.NoError(t, c.Invalidate(s, ""))
	assert.Equal(t, 1, f.makes)
	assert.Equal(t, session.StatusClosed, s.Status())
}

func TestSessionFactoryValidate(t *testing.T) {
	check := assert.New(t)
	ctx := context.Background()
	srv := epptest.NewServer(t)
	e := endpoint(srv)
	e.TestOnBorrow = true
	c := newClient(t, &config.Config{Endpoint: e})

	s, err := c.Borrow(ctx, "")
	require.NoError(t, err)
	check.EqualValues(0, srv.Hellos.Load())
	require.NoError(t, c.Return(s, ""))
	s2, err := c.Borrow(ctx, "")
	require.NoError(t, err)
	check.Same(s, s2)
	check.EqualValues(1, srv.Hellos.Load())

	f := NewSessionFactory(e.SessionConfig())
	require.NoError(t, f.Destroy(ctx, s2))
	check.True(epperr.Is(f.Validate(ctx, s2), epperr.KindUsage))
	require.NoError(t, c.Invalidate(s2, ""))
	check.EqualValues(1, srv.Logouts.Load())
}

func TestSessionFactoryMakeFailure(t *testing.T) {
	check := assert.New(t)
	ctx := context.Background()
	srv := epptest.NewServer(t, epptest.WithCredentials("someone", "else"))
	f := NewSessionFactory(endpoint(srv).SessionConfig())
	_, err := f.Make(ctx)
	check.True(epperr.Is(err, epperr.KindCommand))
	require.Eventually(t, func() bool { return srv.Open() == 0 }, time.Second, 10*time.Millisecond)

	srv.Close()
	_, err = f.Make(ctx)
	check.True(epperr.Is(err, epperr.KindConnection))
}

func TestClientTLSAndProxies(t *testing.T) {
	check := assert.New(t)
	dir := t.TempDir()
	ca := epptest.NewAuthority(t, dir, "epp test CA")
	srv := epptest.NewServer(t, epptest.WithTLS(ca.ServerTLS(t, dir)))
	certFile, keyFile := ca.IssueClientCert(t, dir, "ClientX")

	refusing := epptest.NewProxy(t, true)
	tunnel := epptest.NewProxy(t, false)

	e := endpoint(srv)
	e.TLS = &config.TLS{CertFile: certFile, KeyFile: keyFile, CAFile: ca.CAFile()}
	e.Proxies = []string{refusing.Addr(), tunnel.Addr()}
	c := newClient(t, &config.Config{Endpoint: e}, WithDialerOptions(transport.WithRand(rand.New(rand.NewSource(1)))))

	s, err := c.Borrow(context.Background(), "")
	require.NoError(t, err)
	check.Equal(session.StatusAuthenticated, s.Status())
	require.NoError(t, c.Return(s, ""))
	check.EqualValues(1, tunnel.Connects.Load())
	check.LessOrEqual(refusing.Connects.Load(), int64(1))
	check.EqualValues(1, srv.Logins.Load())
}
