package epptest

import (
	"bufio"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

// Proxy is a fake HTTP CONNECT proxy.
type Proxy struct {
	// Refuse answers every CONNECT with 403 Forbidden
	Refuse bool
	// Connects counts CONNECT requests received
	Connects atomic.Int64
	// Targets records the requested tunnel destinations, in order
	Targets []string

	listener net.Listener
	redirect string
	mu       sync.Mutex
	conns    map[net.Conn]struct{}
	closed   bool
	wg       sync.WaitGroup
}

// NewProxy starts a Proxy on a loopback port. The proxy is closed
// when the test ends.
func NewProxy(t testing.TB, refuse bool) *Proxy {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("epptest: proxy listen: %v", err)
	}
	p := &Proxy{Refuse: refuse, listener: l, conns: map[net.Conn]struct{}{}}
	p.wg.Add(1)
	go p.accept()
	t.Cleanup(p.Close)
	return p
}

// Addr returns the proxy's host:port.
func (p *Proxy) Addr() string { return p.listener.Addr().String() }

// RedirectTo tunnels every later CONNECT to addr, whatever
// destination the client requested.
func (p *Proxy) RedirectTo(addr string) {
	p.mu.Lock()
	p.redirect = addr
	p.mu.Unlock()
}

// Close stops the proxy and closes all tunnels.
func (p *Proxy) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.listener.Close()
	for c := range p.conns {
		c.Close()
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Proxy) track(c net.Conn) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		c.Close()
		return false
	}
	p.conns[c] = struct{}{}
	return true
}

func (p *Proxy) untrack(c net.Conn) {
	c.Close()
	p.mu.Lock()
	delete(p.conns, c)
	p.mu.Unlock()
}

func (p *Proxy) accept() {
	defer p.wg.Done()
	for {
		conn, err := p.listener.Accept()
		if err != nil {
			return
		}
		if !p.track(conn) {
			return
		}
		p.wg.Add(1)
		go p.serve(conn)
	}
}

func (p *Proxy) serve(conn net.Conn) {
	defer p.wg.Done()
	defer p.untrack(conn)

	br := bufio.NewReader(conn)
	line, err := br.ReadString('\n')
	if err != nil {
		return
	}
	for {
		h, err := br.ReadString('\n')
		if err != nil {
			return
		}
		if strings.TrimRight(h, "\r\n") == "" {
			break
		}
	}
	fields := strings.Fields(line)
	if len(fields) != 3 || fields[0] != "CONNECT" {
		io.WriteString(conn, "HTTP/1.1 405 Method Not Allowed\r\n\r\n")
		return
	}
	p.Connects.Add(1)
	p.mu.Lock()
	p.Targets = append(p.Targets, fields[1])
	dest := fields[1]
	if p.redirect != "" {
		dest = p.redirect
	}
	p.mu.Unlock()
	if p.Refuse {
		io.WriteString(conn, "HTTP/1.1 403 Forbidden\r\nContent-Length: 0\r\n\r\n")
		return
	}
	target, err := net.Dial("tcp", dest)
	if err != nil {
		io.WriteString(conn, "HTTP/1.1 502 Bad Gateway\r\n\r\n")
		return
	}
	if !p.track(target) {
		return
	}
	defer p.untrack(target)
	if _, err := io.WriteString(conn, "HTTP/1.1 200 Connection established\r\nProxy-Agent: epptest\r\n\r\n"); err != nil {
		return
	}
	done := make(chan struct{})
	go func() {
		io.Copy(conn, target)
		conn.Close()
		close(done)
	}()
	io.Copy(target, br)
	target.Close()
	<-done
}
