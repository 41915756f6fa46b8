package session

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andaru/epp/codec"
	"github.com/andaru/epp/epperr"
	"github.com/andaru/epp/message"
	"github.com/andaru/epp/transport"
	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// New returns a new EPP Session. The session does no I/O until
// Connect is called.
func New(config Config) *Session {
	if config.Codec == nil {
		config.Codec = codec.New()
	}
	if config.Dialer == nil {
		config.Dialer = transport.NewDialer(config.Transport)
	}
	now := time.Now()
	s := &Session{
		Config:  &config,
		State:   &State{ID: uuid.NewString()},
		created: now,
	}
	s.touched.Store(now.UnixNano())
	return s
}

// Session represents an EPP client session
type Session struct {
	Config *Config
	State  *State

	created time.Time
	touched atomic.Int64

	mu      sync.Mutex
	conn    *transport.Conn
	Message *message.Splitter
	pending *pending
}

// Dialer establishes the session's transport connection.
// *transport.Dialer implements Dialer.
type Dialer interface {
	Dial(ctx context.Context) (*transport.Conn, error)
}

// Mode is the command dispatch mode.
type Mode int

const (
	// ModeSync sends each command and waits for its response
	ModeSync Mode = iota
	// ModeAsync allows one command to be sent with SendAsync and its
	// response collected later with Read
	ModeAsync
)

func (m Mode) String() string {
	switch m {
	case ModeSync:
		return "sync"
	case ModeAsync:
		return "async"
	default:
		return "Mode(" + strconv.Itoa(int(m)) + ")"
	}
}

// Config contains Session configuration
type Config struct {
	ClientID    string
	Password    string
	NewPassword string
	// Version and Lang are the login options, by default "1.0"
	// and "en"
	Version string
	Lang    string
	// ObjectURIs defaults to the URIs advertised in the greeting
	ObjectURIs []string
	// ExtensionURIs are requested at login if the server offers them
	ExtensionURIs []string

	Mode Mode
	// LenientRead makes Read block for the next document when no
	// command is pending, instead of failing
	LenientRead bool
	// AutoTransactionID assigns a clTRID of the form <prefix>-<uuid>
	// to commands sent without one
	AutoTransactionID   bool
	TransactionIDPrefix string

	// Transport configures the default Dialer
	Transport transport.Config
	// Dialer, if set, replaces the transport.Dialer built from
	// Transport
	Dialer Dialer
	// Codec defaults to codec.New()
	Codec codec.Codec
}

// State contains runtime Session state
type State struct {
	// ID identifies the session in logs
	ID string
	// Greeting is the most recent server greeting
	Greeting *codec.Greeting
	// ExtensionURIs are the extensions requested at login
	ExtensionURIs URIs
	// Status is the session status. Use Session.Status to read it
	// while the session may be in use elsewhere.
	Status Status
	// Counters contains session counters
	Counters struct {
		// TxMsgs is the number of EPP documents sent on the session
		TxMsgs int
		// RxMsgs is the number of EPP documents received on the session
		RxMsgs int
	}
}

// Status is a Session's (present) state.
type Status int

const (
	// StatusNew is the initial session state, indicating that
	// I/O has not yet been started.
	StatusNew Status = iota
	// StatusConnected is set once the transport is established and
	// the server's greeting received.
	StatusConnected
	// StatusAuthenticated is set after a successful login.
	StatusAuthenticated

	// StatusError indicates the session has encountered an error
	// after which it cannot be used.
	StatusError
	// StatusClosed indicates the session closed normally.
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusNew:
		return "new"
	case StatusConnected:
		return "connected"
	case StatusAuthenticated:
		return "authenticated"
	case StatusError:
		return "error"
	case StatusClosed:
		return "closed"
	default:
		return "Status(" + strconv.Itoa(int(s)) + ")"
	}
}

// pending is the command awaiting its response
type pending struct {
	op     string
	clTRID string
}

// CreatedAt returns the session's construction time.
func (s *Session) CreatedAt() time.Time { return s.created }

// LastTouchedAt returns the time of the most recent Touch.
func (s *Session) LastTouchedAt() time.Time { return time.Unix(0, s.touched.Load()) }

// Touch marks the session as recently used.
func (s *Session) Touch() { s.touched.Store(time.Now().UnixNano()) }

// Status returns the session status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.State.Status
}

func (s *Session) setStatus(status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State.Status != status {
		glog.V(1).Infof("session %s: %s -> %s", s.State.ID, s.State.Status, status)
	}
	s.State.Status = status
}

// Pending reports whether a command awaits its response.
func (s *Session) Pending() bool { return s.pending != nil }

// Connect establishes the transport and reads the server's greeting.
func (s *Session) Connect(ctx context.Context) error {
	if status := s.Status(); status != StatusNew {
		return epperr.Usage("session already started ("+status.String()+")", epperr.WithOp("connect"))
	}
	conn, err := s.Config.Dialer.Dial(ctx)
	if err != nil {
		s.setStatus(StatusError)
		if epperr.KindOf(err) != epperr.KindConnection {
			err = epperr.Connection(err, epperr.WithOp("connect"))
		}
		return err
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	s.Message = &message.Splitter{
		R: transport.NewReader(conn, s.onEndOfMessage, s.Config.Transport.MaxMessageSize),
		W: transport.NewWriter(conn),
	}
	s.setStatus(StatusConnected)

	if _, err := s.readGreeting(ctx, "connect"); err != nil {
		s.fail()
		return err
	}
	return nil
}

// Login authenticates the session.
//
// A refused login leaves the session in StatusError, returning an
// epperr.KindCommand error carrying the server response.
func (s *Session) Login(ctx context.Context) error {
	const op = "login"
	if status := s.Status(); status != StatusConnected {
		return epperr.Usage("cannot login in status "+status.String(), epperr.WithOp(op))
	}
	if s.pending != nil {
		return epperr.Usage("command pending", epperr.WithOp(op))
	}
	g := s.State.Greeting
	cmd := &codec.Login{
		ClientID:      s.Config.ClientID,
		Password:      s.Config.Password,
		NewPassword:   s.Config.NewPassword,
		Version:       s.Config.Version,
		Lang:          s.Config.Lang,
		ObjectURIs:    s.Config.ObjectURIs,
		ExtensionURIs: mergeExtensions(s.Config.ExtensionURIs, g.ExtensionURIs),
	}
	if len(cmd.ObjectURIs) == 0 {
		cmd.ObjectURIs = g.ObjectURIs
	}
	if _, err := s.exchange(ctx, op, cmd); err != nil {
		s.setStatus(StatusError)
		return err
	}
	s.State.ExtensionURIs = cmd.ExtensionURIs
	s.setStatus(StatusAuthenticated)
	return nil
}

// Hello sends a <hello> and returns the server's greeting. It may be
// used at any time the transport is open and no command is pending.
func (s *Session) Hello(ctx context.Context) (*codec.Greeting, error) {
	const op = "hello"
	switch status := s.Status(); status {
	case StatusConnected, StatusAuthenticated:
	default:
		return nil, epperr.Usage("cannot send hello in status "+status.String(), epperr.WithOp(op))
	}
	if s.pending != nil {
		return nil, epperr.Usage("command pending", epperr.WithOp(op))
	}
	if err := s.write(op, codec.Hello{}); err != nil {
		return nil, err
	}
	return s.readGreeting(ctx, op)
}

// Send sends cmd and waits for its response. A response with a
// non-success result is returned along with an epperr.KindCommand
// error.
func (s *Session) Send(ctx context.Context, cmd codec.Command) (*codec.Response, error) {
	if err := s.ready("send", cmd); err != nil {
		return nil, err
	}
	if err := s.dispatch(cmd); err != nil {
		return nil, err
	}
	return s.Read(ctx)
}

// SendAsync writes cmd and returns without waiting for its response,
// which must be collected by Read before another command is sent.
// It is only available in ModeAsync.
func (s *Session) SendAsync(ctx context.Context, cmd codec.Command) error {
	if s.Config.Mode != ModeAsync {
		return epperr.Usage("SendAsync requires async mode", epperr.WithOp("send"))
	}
	if err := s.ready("send", cmd); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return errors.WithStack(err)
	}
	return s.dispatch(cmd)
}

// Read returns the response to the pending command.
//
// With no command pending Read fails with an epperr.KindUsage error,
// unless the session was configured with LenientRead.
func (s *Session) Read(ctx context.Context) (*codec.Response, error) {
	p := s.pending
	if p == nil {
		if !s.Config.LenientRead {
			return nil, epperr.Usage("no pending command", epperr.WithOp("read"))
		}
		switch status := s.Status(); status {
		case StatusConnected, StatusAuthenticated:
		default:
			return nil, epperr.Usage("cannot read in status "+status.String(), epperr.WithOp("read"))
		}
		p = &pending{op: "read"}
	}
	s.pending = nil
	doc, err := s.recv(ctx, p.op)
	if err != nil {
		return nil, err
	}
	resp, ok := doc.(*codec.Response)
	if !ok {
		s.fail()
		return nil, epperr.Protocol(errors.New("unexpected greeting"), epperr.WithOp(p.op))
	}
	return resp, s.check(p, resp)
}

// Poll requests (op codec.PollRequest) or acknowledges (codec.PollAck)
// a queued service message. msgID is required to acknowledge.
func (s *Session) Poll(ctx context.Context, op codec.PollOp, msgID string) (*codec.Response, error) {
	return s.Send(ctx, &codec.Poll{Op: op, MsgID: msgID})
}

// Logout ends the session. The transport is closed whether or not
// the logout succeeds; any logout error is logged and returned.
func (s *Session) Logout(ctx context.Context) (err error) {
	const op = "logout"
	defer func() {
		if err != nil {
			glog.Warningf("session %s: logout: %v", s.State.ID, err)
		}
		if cerr := s.Close(); cerr != nil {
			glog.V(1).Infof("session %s: close after logout: %v", s.State.ID, cerr)
		}
	}()
	if status := s.Status(); status != StatusAuthenticated {
		return epperr.Usage("not logged in ("+status.String()+")", epperr.WithOp(op))
	}
	if s.pending != nil {
		return epperr.Usage("command pending", epperr.WithOp(op))
	}
	_, err = s.exchange(ctx, op, &codec.Logout{})
	return err
}

// Close closes the transport without logging out. It is safe to call
// more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	conn := s.conn
	if s.State.Status != StatusError && s.State.Status != StatusClosed {
		glog.V(1).Infof("session %s: %s -> %s", s.State.ID, s.State.Status, StatusClosed)
		s.State.Status = StatusClosed
	}
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	if err := conn.Close(); err != nil {
		return epperr.Connection(err, epperr.WithOp("close"))
	}
	return nil
}

// ready checks a command may be sent.
func (s *Session) ready(op string, cmd codec.Command) error {
	if cmd == nil {
		return epperr.Usage("nil command", epperr.WithOp(op))
	}
	switch cmd.Name() {
	case "hello", "login", "logout":
		return epperr.Usage("use the session's "+cmd.Name()+" method", epperr.WithOp(op))
	}
	if status := s.Status(); status != StatusAuthenticated {
		return epperr.Usage("not logged in ("+status.String()+")", epperr.WithOp(op))
	}
	if s.pending != nil {
		return epperr.Usage("command pending; read its response first", epperr.WithOp(op))
	}
	return nil
}

// exchange sends cmd and reads its response.
func (s *Session) exchange(ctx context.Context, op string, cmd codec.Command) (*codec.Response, error) {
	s.assignTransactionID(cmd)
	if err := s.write(op, cmd); err != nil {
		return nil, err
	}
	s.pending = &pending{op: op, clTRID: cmd.ClientTransactionID()}
	return s.Read(ctx)
}

// dispatch sends cmd and marks it pending.
func (s *Session) dispatch(cmd codec.Command) error {
	s.assignTransactionID(cmd)
	if err := s.write(cmd.Name(), cmd); err != nil {
		return err
	}
	s.pending = &pending{op: cmd.Name(), clTRID: cmd.ClientTransactionID()}
	return nil
}

func (s *Session) assignTransactionID(cmd codec.Command) {
	if !s.Config.AutoTransactionID || cmd.ClientTransactionID() != "" {
		return
	}
	if setter, ok := cmd.(codec.TransactionIDSetter); ok {
		id := uuid.NewString()
		if s.Config.TransactionIDPrefix != "" {
			id = s.Config.TransactionIDPrefix + "-" + id
		}
		setter.SetClientTransactionID(id)
	}
}

// write encodes cmd and sends it as one document.
func (s *Session) write(op string, cmd codec.Command) error {
	doc, err := s.Config.Codec.Encode(cmd)
	if err != nil {
		return epperr.Usage("invalid command", epperr.WithOp(op), epperr.WithCause(err))
	}
	if err := s.Message.Send(doc); err != nil {
		s.fail()
		return epperr.Protocol(errors.WithStack(err), epperr.WithOp(op))
	}
	s.State.Counters.TxMsgs++
	if glog.V(2) {
		glog.Infof("session %s: sent %s\n%s", s.State.ID, op, doc)
	}
	return nil
}

// recv reads and decodes the next document. If ctx is done before a
// document arrives the connection is closed.
func (s *Session) recv(ctx context.Context, op string) (codec.Document, error) {
	stop := context.AfterFunc(ctx, func() { s.conn.Close() })
	raw, err := s.Message.Reader().Decode()
	if !stop() {
		s.fail()
		return nil, epperr.Protocol(errors.WithStack(ctx.Err()), epperr.WithOp(op), epperr.WithMessage("read abandoned"))
	}
	if err != nil {
		s.fail()
		return nil, epperr.Protocol(errors.WithStack(err), epperr.WithOp(op))
	}
	if glog.V(2) {
		glog.Infof("session %s: received\n%s", s.State.ID, raw)
	}
	doc, err := s.Config.Codec.Decode(raw)
	if err != nil {
		s.fail()
		return nil, epperr.Protocol(err, epperr.WithOp(op))
	}
	return doc, nil
}

func (s *Session) readGreeting(ctx context.Context, op string) (*codec.Greeting, error) {
	doc, err := s.recv(ctx, op)
	if err != nil {
		return nil, err
	}
	g, ok := doc.(*codec.Greeting)
	if !ok {
		s.fail()
		return nil, epperr.Protocol(errors.New("expected <greeting>, got <response>"), epperr.WithOp(op))
	}
	s.State.Greeting = g
	return g, nil
}

// check validates resp as the response to p.
func (s *Session) check(p *pending, resp *codec.Response) error {
	if p.clTRID != "" && resp.ClientTransactionID() != p.clTRID {
		s.setStatus(StatusError)
		return epperr.TransactionMismatch(p.clTRID, resp.ClientTransactionID(), epperr.WithOp(p.op))
	}
	if codec.ClosesSession(resp.ResultCode()) {
		glog.Warningf("session %s: server closing: %d %s", s.State.ID, resp.ResultCode(), resp.ResultMessage())
		s.Close()
		return epperr.Command(resp, epperr.WithOp(p.op))
	}
	if !resp.Success() {
		return epperr.Command(resp, epperr.WithOp(p.op))
	}
	return nil
}

// fail moves the session to StatusError and closes its transport.
func (s *Session) fail() {
	s.setStatus(StatusError)
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// onEndOfMessage performs end-of-message handling
func (s *Session) onEndOfMessage() { s.State.Counters.RxMsgs++ }
