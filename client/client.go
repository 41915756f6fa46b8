package client

import (
	"context"

	"github.com/andaru/epp/config"
	"github.com/andaru/epp/epperr"
	"github.com/andaru/epp/pool"
	"github.com/andaru/epp/session"
	"github.com/andaru/epp/transport"
	"github.com/golang/glog"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Pool is a pool of sessions.
type Pool = pool.Pool[*session.Session]

// Client routes sessions to the pools of its configured systems. The
// system map is built by New and read without locking.
type Client struct {
	base    *Pool
	systems map[string]*Pool
}

type options struct {
	dialer    []transport.DialerOption
	factories map[string]Factory
}

// Option is a Client constructor option
type Option func(*options)

// WithDialerOptions applies opts to the transport dialer of every
// system using a registered factory.
func WithDialerOptions(opts ...transport.DialerOption) Option {
	return func(o *options) { o.dialer = append(o.dialer, opts...) }
}

// WithFactory uses f for the named system's pool instead of the
// configured factory.
func WithFactory(system string, f Factory) Option {
	return func(o *options) { o.factories[system] = f }
}

// New builds the pools described by cfg, which must have had defaults
// applied. Pools configured to pre-warm open their sessions before New
// returns, which fails if they cannot.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Client, error) {
	o := &options{factories: map[string]Factory{}}
	for _, opt := range opts {
		opt(o)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	c := &Client{systems: make(map[string]*Pool, len(cfg.Systems))}
	var err error
	if c.base, err = newPool(ctx, config.DefaultSystem, cfg.Endpoint, o); err != nil {
		return nil, err
	}
	for _, sys := range cfg.Systems {
		if sys.Name == config.DefaultSystem {
			glog.Warningf("client: system %q ignored; it names the base endpoint", sys.Name)
			continue
		}
		p, err := newPool(ctx, sys.Name, sys.Endpoint, o)
		if err != nil {
			if cerr := c.Close(ctx); cerr != nil {
				glog.Warningf("client: close after failed start: %v", cerr)
			}
			return nil, err
		}
		c.systems[sys.Name] = p
	}
	glog.V(1).Infof("client: started with %d systems", len(c.systems))
	return c, nil
}

func newPool(ctx context.Context, name string, e config.Endpoint, o *options) (*Pool, error) {
	f, ok := o.factories[name]
	if !ok {
		ctor, err := lookupFactory(e.Factory)
		if err != nil {
			return nil, errors.Wrapf(err, "system %q", name)
		}
		if f, err = ctor(e, o.dialer...); err != nil {
			return nil, errors.Wrapf(err, "system %q: factory %q", name, e.Factory)
		}
	}
	p, err := pool.New(ctx, f, e.PoolConfig(name))
	if err != nil {
		return nil, errors.Wrapf(err, "system %q", name)
	}
	return p, nil
}

// Pool returns the named system's pool. The empty name and
// config.DefaultSystem name the base pool.
func (c *Client) Pool(system string) (*Pool, error) {
	if system == "" || system == config.DefaultSystem {
		return c.base, nil
	}
	if p, ok := c.systems[system]; ok {
		return p, nil
	}
	return nil, epperr.Usage("unknown system " + system)
}

// Systems returns the configured system names, excluding the base.
func (c *Client) Systems() []string {
	names := make([]string, 0, len(c.systems))
	for name := range c.systems {
		names = append(names, name)
	}
	return names
}

// Borrow borrows a logged in session from the named system.
func (c *Client) Borrow(ctx context.Context, system string) (*session.Session, error) {
	p, err := c.Pool(system)
	if err != nil {
		return nil, err
	}
	return p.Borrow(ctx)
}

// Return returns a session borrowed from the named system. A session
// which is no longer logged in, or has a command pending, is destroyed
// instead of kept.
func (c *Client) Return(s *session.Session, system string) error {
	p, err := c.Pool(system)
	if err != nil {
		return err
	}
	return p.Return(s)
}

// Invalidate destroys a session borrowed from the named system.
func (c *Client) Invalidate(s *session.Session, system string) error {
	p, err := c.Pool(system)
	if err != nil {
		return err
	}
	return p.Invalidate(s)
}

// Do borrows a session from the named system and calls fn with it.
// The session is invalidated if fn's error leaves it unusable, and
// returned otherwise; Return itself destroys sessions fn left logged
// out or with a command pending.
func (c *Client) Do(ctx context.Context, system string, fn func(*session.Session) error) error {
	p, err := c.Pool(system)
	if err != nil {
		return err
	}
	s, err := p.Borrow(ctx)
	if err != nil {
		return err
	}
	err = fn(s)
	if epperr.MustInvalidate(err) {
		if ierr := p.Invalidate(s); ierr != nil {
			glog.Warningf("client: %s: invalidate session %s: %v", system, s.State.ID, ierr)
		}
		return err
	}
	if rerr := p.Return(s); rerr != nil && err == nil {
		err = rerr
	}
	return err
}

// Close closes every pool in parallel, logging out of idle sessions.
func (c *Client) Close(ctx context.Context) error {
	var g errgroup.Group
	for _, p := range c.pools() {
		g.Go(func() error { return p.Close(ctx) })
	}
	return g.Wait()
}

func (c *Client) pools() []*Pool {
	out := make([]*Pool, 0, len(c.systems)+1)
	if c.base != nil {
		out = append(out, c.base)
	}
	for _, p := range c.systems {
		out = append(out, p)
	}
	return out
}
