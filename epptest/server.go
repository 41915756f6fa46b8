package epptest

import (
	"bufio"
	"bytes"
	"crypto/tls"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andaru/epp/framing"
	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"
	"github.com/pkg/errors"
)

// Command is a command received by the Server.
type Command struct {
	// Name is the command element name, e.g. "hello", "login" or "check"
	Name   string
	ClTRID string

	// login
	ClientID      string
	Password      string
	ObjectURIs    []string
	ExtensionURIs []string

	// poll
	PollOp string
	MsgID  string

	Raw []byte
}

// HandlerFunc answers a command with a document. If close is true the
// server closes the connection after writing doc. A nil doc sends
// nothing.
type HandlerFunc func(s *Server, cmd *Command) (doc []byte, close bool)

// Server is a fake EPP server.
type Server struct {
	ServerID      string
	ObjectURIs    []string
	ExtensionURIs []string
	// ClientID and Password, if set, are required at login
	ClientID string
	Password string

	// Counters
	Connections atomic.Int64
	Hellos      atomic.Int64
	Logins      atomic.Int64
	Logouts     atomic.Int64
	Commands    atomic.Int64

	listener  net.Listener
	tlsConfig *tls.Config
	silent    bool
	svTRID    atomic.Int64

	mu       sync.Mutex
	handlers map[string]HandlerFunc
	rewrite  func(string) string
	delay    time.Duration
	conns    map[net.Conn]struct{}
	closed   bool
	wg       sync.WaitGroup
}

// Option is a Server constructor option
type Option func(*Server)

// WithCredentials requires the client id and password at login.
func WithCredentials(clientID, password string) Option {
	return func(s *Server) { s.ClientID, s.Password = clientID, password }
}

// WithExtensions sets the extension URIs advertised in the greeting.
func WithExtensions(uris ...string) Option {
	return func(s *Server) { s.ExtensionURIs = uris }
}

// WithTLS serves TLS using cfg.
func WithTLS(cfg *tls.Config) Option { return func(s *Server) { s.tlsConfig = cfg } }

// WithHandler replaces the handling of the named command.
func WithHandler(name string, h HandlerFunc) Option {
	return func(s *Server) { s.handlers[name] = h }
}

// WithoutGreeting stops the server greeting new connections.
func WithoutGreeting() Option { return func(s *Server) { s.silent = true } }

// NewServer starts a Server listening on a loopback port. The server
// is closed when the test ends.
func NewServer(t testing.TB, opts ...Option) *Server {
	t.Helper()
	s := &Server{
		ServerID:   "epptest",
		ObjectURIs: []string{"urn:ietf:params:xml:ns:domain-1.0", "urn:ietf:params:xml:ns:contact-1.0", "urn:ietf:params:xml:ns:host-1.0"},
		handlers:   map[string]HandlerFunc{},
		conns:      map[net.Conn]struct{}{},
	}
	for _, opt := range opts {
		opt(s)
	}
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("epptest: listen: %v", err)
	}
	s.listener = l
	s.wg.Add(1)
	go s.accept()
	t.Cleanup(s.Close)
	return s
}

// Addr returns the server's host:port.
func (s *Server) Addr() string { return s.listener.Addr().String() }

// Host returns the server's listening IP.
func (s *Server) Host() string { return s.listener.Addr().(*net.TCPAddr).IP.String() }

// Port returns the server's listening port.
func (s *Server) Port() int { return s.listener.Addr().(*net.TCPAddr).Port }

// SetClTRIDRewrite sets a function applied to every echoed client
// transaction id. nil restores faithful echoing.
func (s *Server) SetClTRIDRewrite(f func(string) string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rewrite = f
}

// SetDelay delays every response by d.
func (s *Server) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// Open returns the number of open connections.
func (s *Server) Open() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Close stops the listener and closes all connections.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.listener.Close()
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// Echo returns the transaction id to echo for cmd.
func (s *Server) Echo(cmd *Command) string {
	s.mu.Lock()
	rewrite := s.rewrite
	s.mu.Unlock()
	if rewrite != nil {
		return rewrite(cmd.ClTRID)
	}
	return cmd.ClTRID
}

// NextSvTRID returns a fresh server transaction id.
func (s *Server) NextSvTRID() string { return "SV-" + strconv.FormatInt(s.svTRID.Add(1), 10) }

// Greeting returns the server's greeting document.
func (s *Server) Greeting() []byte { return Greeting(s.ServerID, s.ObjectURIs, s.ExtensionURIs) }

func (s *Server) accept() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.wg.Add(1)
		s.mu.Unlock()
		s.Connections.Add(1)
		go s.serve(conn)
	}
}

func (s *Server) serve(raw net.Conn) {
	defer s.wg.Done()
	defer func() {
		raw.Close()
		s.mu.Lock()
		delete(s.conns, raw)
		s.mu.Unlock()
	}()
	var conn net.Conn = raw
	if s.tlsConfig != nil {
		tc := tls.Server(raw, s.tlsConfig)
		if err := tc.Handshake(); err != nil {
			return
		}
		conn = tc
	}
	if !s.silent {
		if _, err := framing.Write(conn, s.Greeting()); err != nil {
			return
		}
	}
	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 4096), framing.DefaultMaxSize)
	sc.Split(framing.SplitLength(0, nil))
	for sc.Scan() {
		doc, closeConn := s.handle(sc.Bytes())
		s.mu.Lock()
		delay := s.delay
		s.mu.Unlock()
		if delay > 0 {
			time.Sleep(delay)
		}
		if doc != nil {
			if _, err := framing.Write(conn, doc); err != nil {
				return
			}
		}
		if closeConn {
			return
		}
	}
}

func (s *Server) handle(raw []byte) ([]byte, bool) {
	cmd, err := ParseCommand(raw)
	if err != nil {
		return Response(2001, "Command syntax error: "+err.Error(), "", s.NextSvTRID()), false
	}
	s.mu.Lock()
	h, ok := s.handlers[cmd.Name]
	s.mu.Unlock()
	switch cmd.Name {
	case "hello":
		s.Hellos.Add(1)
	case "login":
		s.Logins.Add(1)
	case "logout":
		s.Logouts.Add(1)
	default:
		s.Commands.Add(1)
	}
	if !ok {
		h = defaultHandler
	}
	return h(s, cmd)
}

func defaultHandler(s *Server, cmd *Command) ([]byte, bool) {
	switch cmd.Name {
	case "hello":
		return s.Greeting(), false
	case "login":
		if (s.ClientID != "" && cmd.ClientID != s.ClientID) || (s.Password != "" && cmd.Password != s.Password) {
			return Response(2200, "Authentication error", s.Echo(cmd), s.NextSvTRID()), false
		}
		return Response(1000, "Command completed successfully", s.Echo(cmd), s.NextSvTRID()), false
	case "logout":
		return Response(1500, "Command completed successfully; ending session", s.Echo(cmd), s.NextSvTRID()), true
	case "poll":
		if cmd.PollOp == "ack" {
			return Response(1000, "Command completed successfully", s.Echo(cmd), s.NextSvTRID(),
				`<msgQ count="0" id="`+escape(cmd.MsgID)+`"/>`), false
		}
		return Response(1300, "Command completed successfully; no messages", s.Echo(cmd), s.NextSvTRID()), false
	default:
		return Response(1000, "Command completed successfully", s.Echo(cmd), s.NextSvTRID()), false
	}
}

// ParseCommand parses a client document.
func ParseCommand(raw []byte) (*Command, error) {
	root, err := xmlquery.Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	epp := xmlquery.QuerySelector(root, xpEPP)
	if epp == nil {
		return nil, errors.New("missing <epp> element")
	}
	cmd := &Command{Raw: append([]byte(nil), raw...)}
	el := first(epp, "")
	switch {
	case el == nil:
		return nil, errors.New("empty <epp> element")
	case el.Data == "hello":
		cmd.Name = "hello"
		return cmd, nil
	case el.Data != "command":
		return nil, errors.Errorf("unexpected <%s> element", el.Data)
	}
	command := el
	cmd.ClTRID = strings.TrimSpace(text(first(command, "clTRID")))
	for c := command.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xmlquery.ElementNode && c.Data != "extension" && c.Data != "clTRID" {
			el = c
			break
		}
	}
	if el == command {
		return nil, errors.New("empty <command> element")
	}
	cmd.Name = el.Data
	switch cmd.Name {
	case "login":
		cmd.ClientID = text(first(el, "clID"))
		cmd.Password = text(first(el, "pw"))
		svcs := first(el, "svcs")
		cmd.ObjectURIs = texts(svcs, "objURI")
		cmd.ExtensionURIs = texts(first(svcs, "svcExtension"), "extURI")
	case "poll":
		cmd.PollOp = el.SelectAttr("op")
		cmd.MsgID = el.SelectAttr("msgID")
	}
	return cmd, nil
}

// first returns n's first element child named local, or its first
// element child if local is empty.
func first(n *xmlquery.Node, local string) *xmlquery.Node {
	if n == nil {
		return nil
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xmlquery.ElementNode && (local == "" || c.Data == local) {
			return c
		}
	}
	return nil
}

func text(n *xmlquery.Node) string {
	if n == nil {
		return ""
	}
	return strings.TrimSpace(n.InnerText())
}

func texts(n *xmlquery.Node, local string) (out []string) {
	if n == nil {
		return nil
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xmlquery.ElementNode && c.Data == local {
			out = append(out, text(c))
		}
	}
	return out
}

var xpEPP = xpath.MustCompile(`/*[local-name()='epp' and namespace-uri()='` + NamespaceEPP + `']`)
