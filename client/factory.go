package client

import (
	"context"
	"sort"
	"sync"

	"github.com/andaru/epp/config"
	"github.com/andaru/epp/epperr"
	"github.com/andaru/epp/pool"
	"github.com/andaru/epp/session"
	"github.com/andaru/epp/transport"
	"github.com/golang/glog"
	"github.com/pkg/errors"
)

// Factory makes, destroys and validates pooled sessions.
type Factory = pool.Factory[*session.Session]

// FactoryFunc returns the Factory for an endpoint.
type FactoryFunc func(e config.Endpoint, opts ...transport.DialerOption) (Factory, error)

var (
	factoriesMu sync.RWMutex
	factories   = map[string]FactoryFunc{
		config.DefaultFactory: func(e config.Endpoint, opts ...transport.DialerOption) (Factory, error) {
			return NewSessionFactory(e.SessionConfig(), opts...), nil
		},
	}
)

// RegisterFactory makes a session factory available by name, for
// selection with the factory configuration key. It panics if f is nil
// or name is already registered.
func RegisterFactory(name string, f FactoryFunc) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	if f == nil {
		panic("client: RegisterFactory factory is nil")
	}
	if _, dup := factories[name]; dup {
		panic("client: RegisterFactory called twice for factory " + name)
	}
	factories[name] = f
}

// Factories returns the sorted names of the registered factories.
func Factories() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func lookupFactory(name string) (FactoryFunc, error) {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	f, ok := factories[name]
	if !ok {
		return nil, errors.Errorf("unknown session factory %q", name)
	}
	return f, nil
}

// SessionFactory makes logged in sessions.
type SessionFactory struct {
	config session.Config
}

// NewSessionFactory returns a SessionFactory for sessions configured
// by cfg. Sessions share one transport.Dialer unless cfg has one.
func NewSessionFactory(cfg session.Config, opts ...transport.DialerOption) *SessionFactory {
	if cfg.Dialer == nil {
		cfg.Dialer = transport.NewDialer(cfg.Transport, opts...)
	}
	return &SessionFactory{config: cfg}
}

// Make connects a new session and logs in.
func (f *SessionFactory) Make(ctx context.Context) (*session.Session, error) {
	s := session.New(f.config)
	err := s.Connect(ctx)
	if err == nil {
		err = s.Login(ctx)
	}
	if err != nil {
		if cerr := s.Close(); cerr != nil {
			glog.V(1).Infof("client: session %s: close after failed start: %v", s.State.ID, cerr)
		}
		return nil, err
	}
	return s, nil
}

// Destroy logs out of an authenticated session and closes it.
func (f *SessionFactory) Destroy(ctx context.Context, s *session.Session) error {
	if s.Status() == session.StatusAuthenticated && !s.Pending() {
		return s.Logout(ctx)
	}
	return s.Close()
}

// Validate checks an idle session with a hello, touching it if the
// server answered.
func (f *SessionFactory) Validate(ctx context.Context, s *session.Session) error {
	if st := s.Status(); st != session.StatusAuthenticated {
		return epperr.Usage("session is "+st.String(), epperr.WithOp("validate"))
	}
	if _, err := s.Hello(ctx); err != nil {
		return err
	}
	s.Touch()
	return nil
}

// Usable reports whether a returned session is logged in with no
// command awaiting its response.
func (f *SessionFactory) Usable(s *session.Session) bool {
	return s.Status() == session.StatusAuthenticated && !s.Pending()
}
