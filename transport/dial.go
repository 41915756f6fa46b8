package transport

import (
	"context"
	"crypto/tls"
	"math/rand"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/andaru/epp/epperr"
	"github.com/golang/glog"
	"github.com/pkg/errors"
)

// DefaultPort is the IANA assigned EPP port (RFC5734).
const DefaultPort = 700

// ProxyOrder selects the order in which proxies are attempted.
type ProxyOrder int

const (
	// ProxyOrderRandom shuffles the proxy list on every dial to spread load
	ProxyOrderRandom ProxyOrder = iota
	// ProxyOrderSequential attempts proxies in configured order
	ProxyOrderSequential
)

func (o ProxyOrder) String() string {
	switch o {
	case ProxyOrderRandom:
		return "random"
	case ProxyOrderSequential:
		return "sequential"
	default:
		return "ProxyOrder(" + strconv.Itoa(int(o)) + ")"
	}
}

// Config describes how to reach one EPP server.
type Config struct {
	Host string
	// Port defaults to DefaultPort
	Port int
	// LocalBindAddress, if set, is the local source address (IP, or
	// IP:port) used for outbound connections on multi-homed hosts
	LocalBindAddress string
	// TLS enables TLS when non-nil
	TLS *TLSConfig
	// Proxies lists proxy endpoints as "host:port" or
	// "http://[user:pass@]host:port" for HTTP CONNECT tunnels, or
	// "socks5://[user:pass@]host:port" for SOCKS5
	Proxies    []string
	ProxyOrder ProxyOrder
	// ConnectTimeout bounds each connection attempt, including
	// the proxy and TLS handshakes
	ConnectTimeout time.Duration
	// ReadTimeout, if non-zero, is applied to every read on the
	// established connection
	ReadTimeout time.Duration
	// MaxMessageSize bounds the size of a received data unit
	MaxMessageSize int
}

// Address returns the server's host:port.
func (c Config) Address() string {
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// Dialer establishes transport connections according to its Config.
// A Dialer is safe for concurrent use.
type Dialer struct {
	Config Config

	mu        sync.Mutex
	rand      *rand.Rand
	tlsConfig *tls.Config
	tlsErr    error
	tlsOnce   sync.Once
}

// DialerOption is a constructor option for a Dialer
type DialerOption func(*Dialer)

// WithRand sets the random source used to shuffle the proxy list.
func WithRand(r *rand.Rand) DialerOption { return func(d *Dialer) { d.rand = r } }

// NewDialer returns a Dialer for the given configuration.
func NewDialer(cfg Config, opts ...DialerOption) *Dialer {
	d := &Dialer{Config: cfg}
	for _, opt := range opts {
		opt(d)
	}
	if d.rand == nil {
		d.rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return d
}

// Dial connects to the configured server, through a proxy if any are
// configured, and performs the TLS handshake if TLS is configured. A
// proxy whose tunnel fails the TLS handshake is skipped like one
// refusing the tunnel.
//
// All failures are reported as epperr.KindConnection errors.
func (d *Dialer) Dial(ctx context.Context) (*Conn, error) {
	addr := d.Config.Address()
	nd, err := d.netDialer()
	if err != nil {
		return nil, epperr.Connection(err, epperr.WithOp("dial"))
	}
	var tlsConfig *tls.Config
	if d.Config.TLS != nil {
		if tlsConfig, err = d.clientTLS(); err != nil {
			return nil, epperr.Connection(err, epperr.WithOp("tls config"), epperr.WithMessage(addr))
		}
	}

	var raw net.Conn
	if len(d.Config.Proxies) == 0 {
		raw, err = d.attempt(ctx, tlsConfig, func(ctx context.Context) (net.Conn, error) {
			return nd.DialContext(ctx, "tcp", addr)
		})
	} else {
		raw, err = d.dialProxies(ctx, nd, addr, tlsConfig)
	}
	if err != nil {
		return nil, epperr.Connection(err, epperr.WithOp("dial"), epperr.WithMessage(addr))
	}
	glog.V(1).Infof("transport: connected to %s (local %s)", addr, raw.LocalAddr())
	return NewConn(raw, d.Config.ReadTimeout), nil
}

// attempt runs dial, then the TLS handshake if tlsConfig is non-nil,
// under the per-attempt connect timeout.
func (d *Dialer) attempt(ctx context.Context, tlsConfig *tls.Config, dial func(context.Context) (net.Conn, error)) (net.Conn, error) {
	if d.Config.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Config.ConnectTimeout)
		defer cancel()
	}
	raw, err := dial(ctx)
	if err != nil || tlsConfig == nil {
		return raw, err
	}
	conn := tls.Client(raw, tlsConfig)
	if err := conn.HandshakeContext(ctx); err != nil {
		raw.Close()
		return nil, errors.Wrap(err, "tls handshake")
	}
	return conn, nil
}

func (d *Dialer) netDialer() (*net.Dialer, error) {
	nd := &net.Dialer{KeepAlive: 30 * time.Second}
	if bind := d.Config.LocalBindAddress; bind != "" {
		if !strings.Contains(bind, ":") || net.ParseIP(bind) != nil {
			bind = net.JoinHostPort(bind, "0")
		}
		laddr, err := net.ResolveTCPAddr("tcp", bind)
		if err != nil {
			return nil, errors.Wrapf(err, "local bind address %q", d.Config.LocalBindAddress)
		}
		nd.LocalAddr = laddr
	}
	return nd, nil
}

// clientTLS builds the TLS client configuration once per Dialer.
func (d *Dialer) clientTLS() (*tls.Config, error) {
	d.tlsOnce.Do(func() { d.tlsConfig, d.tlsErr = d.Config.TLS.Build(d.Config.Host) })
	return d.tlsConfig, d.tlsErr
}

// proxyOrder returns the proxy endpoints in the order they should be
// attempted for the next dial.
func (d *Dialer) proxyOrder() []string {
	proxies := append([]string(nil), d.Config.Proxies...)
	if d.Config.ProxyOrder == ProxyOrderRandom {
		d.mu.Lock()
		d.rand.Shuffle(len(proxies), func(i, j int) { proxies[i], proxies[j] = proxies[j], proxies[i] })
		d.mu.Unlock()
	}
	return proxies
}
