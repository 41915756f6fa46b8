package transport

import (
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Conn is an established EPP transport connection.
//
// Close is idempotent: the first call closes the stream (sending the
// TLS close_notify, if any) and the underlying socket, while later
// calls do nothing and return nil.
type Conn struct {
	net.Conn

	readTimeout time.Duration
	once        sync.Once
	closed      atomic.Bool
}

// NewConn wraps an established stream. readTimeout, if non-zero, is
// applied to every read.
func NewConn(c net.Conn, readTimeout time.Duration) *Conn {
	return &Conn{Conn: c, readTimeout: readTimeout}
}

// Read reads from the connection, applying the configured read
// timeout, if any, to each call.
func (c *Conn) Read(b []byte) (int, error) {
	if c.readTimeout > 0 {
		if err := c.Conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Read(b)
}

// Close closes the connection. It is safe to call more than once.
func (c *Conn) Close() (err error) {
	c.once.Do(func() {
		c.closed.Store(true)
		err = c.Conn.Close()
	})
	return err
}

// Closed reports whether Close has been called.
func (c *Conn) Closed() bool { return c.closed.Load() }
