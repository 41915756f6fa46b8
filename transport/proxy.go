package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"golang.org/x/net/proxy"
)

// ErrProxyRefused is returned when a proxy answers a CONNECT request
// with anything other than a 2xx status line.
var ErrProxyRefused = errors.New("proxy refused CONNECT")

// proxyEndpoint is a parsed Config.Proxies entry
type proxyEndpoint struct {
	scheme string
	addr   string
	user   *url.Userinfo
}

func parseProxy(s string) (proxyEndpoint, error) {
	if !strings.Contains(s, "://") {
		return proxyEndpoint{scheme: "http", addr: s}, nil
	}
	u, err := url.Parse(s)
	if err != nil {
		return proxyEndpoint{}, errors.Wrapf(err, "proxy %q", s)
	}
	switch u.Scheme {
	case "http", "socks5", "socks5h":
	default:
		return proxyEndpoint{}, errors.Errorf("proxy %q: unsupported scheme %q", s, u.Scheme)
	}
	if u.Host == "" {
		return proxyEndpoint{}, errors.Errorf("proxy %q: missing host", s)
	}
	return proxyEndpoint{scheme: u.Scheme, addr: u.Host, user: u.User}, nil
}

// dialProxies attempts each proxy in turn until a tunnel to addr is
// established and, if tlsConfig is non-nil, secured. It fails once
// the list is exhausted.
func (d *Dialer) dialProxies(ctx context.Context, nd *net.Dialer, addr string, tlsConfig *tls.Config) (net.Conn, error) {
	proxies := d.proxyOrder()
	var failures []string
	for _, p := range proxies {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ep, err := parseProxy(p)
		if err == nil {
			var conn net.Conn
			conn, err = d.attempt(ctx, tlsConfig, func(ctx context.Context) (net.Conn, error) {
				return ep.dial(ctx, nd, addr)
			})
			if err == nil {
				glog.V(1).Infof("transport: tunnel to %s via %s proxy %s", addr, ep.scheme, ep.addr)
				return conn, nil
			}
		}
		glog.Warningf("transport: proxy %s failed: %v", p, err)
		failures = append(failures, fmt.Sprintf("%s: %v", p, err))
	}
	return nil, errors.Errorf("all %d proxies failed [%s]", len(proxies), strings.Join(failures, "; "))
}

func (ep proxyEndpoint) dial(ctx context.Context, nd *net.Dialer, addr string) (net.Conn, error) {
	if ep.scheme == "http" {
		return ep.connect(ctx, nd, addr)
	}
	var auth *proxy.Auth
	if ep.user != nil {
		pass, _ := ep.user.Password()
		auth = &proxy.Auth{User: ep.user.Username(), Password: pass}
	}
	dialer, err := proxy.SOCKS5("tcp", ep.addr, auth, nd)
	if err != nil {
		return nil, err
	}
	if cd, ok := dialer.(proxy.ContextDialer); ok {
		return cd.DialContext(ctx, "tcp", addr)
	}
	return dialer.Dial("tcp", addr)
}

// connect opens an HTTP CONNECT tunnel to addr through the proxy.
func (ep proxyEndpoint) connect(ctx context.Context, nd *net.Dialer, addr string) (net.Conn, error) {
	conn, err := nd.DialContext(ctx, "tcp", ep.addr)
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	tunnel, err := ep.handshake(conn, addr)
	if err != nil {
		conn.Close()
		return nil, err
	}
	conn.SetDeadline(time.Time{})
	return tunnel, nil
}

func (ep proxyEndpoint) handshake(conn net.Conn, addr string) (net.Conn, error) {
	req := "CONNECT " + addr + " HTTP/1.1\r\nHost: " + addr + "\r\n"
	if ep.user != nil {
		pass, _ := ep.user.Password()
		cred := base64.StdEncoding.EncodeToString([]byte(ep.user.Username() + ":" + pass))
		req += "Proxy-Authorization: Basic " + cred + "\r\n"
	}
	req += "\r\n"
	if _, err := conn.Write([]byte(req)); err != nil {
		return nil, errors.Wrap(err, "write CONNECT")
	}

	br := bufio.NewReader(conn)
	status, err := br.ReadString('\n')
	if err != nil {
		return nil, errors.Wrap(err, "read CONNECT status")
	}
	if !connectOK(status) {
		return nil, errors.Wrapf(ErrProxyRefused, "status %q", strings.TrimSpace(status))
	}
	// discard any response headers up to the blank line
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return nil, errors.Wrap(err, "read CONNECT headers")
		}
		if strings.TrimRight(line, "\r\n") == "" {
			break
		}
	}
	if br.Buffered() > 0 {
		return &bufferedConn{Conn: conn, r: br}, nil
	}
	return conn, nil
}

// connectOK reports whether status is a successful HTTP status line,
// e.g. "HTTP/1.1 200 Connection established".
func connectOK(status string) bool {
	fields := strings.Fields(status)
	if len(fields) < 2 || !strings.HasPrefix(fields[0], "HTTP/1.") {
		return false
	}
	return len(fields[1]) == 3 && fields[1][0] == '2'
}

// bufferedConn returns data the proxy sent after its response headers
// before reading from the connection again.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *bufferedConn) Read(b []byte) (int, error) { return c.r.Read(b) }
