package pool

import (
	"time"

	"github.com/pkg/errors"
)

// Defaults used by DefaultConfig. Configuration layers fill unset
// keys from DefaultConfig rather than repeating these values.
const (
	// DefaultMaxActive and DefaultMaxIdle bound open and idle resources
	DefaultMaxActive = 10
	DefaultMaxIdle   = 10
	// DefaultMaxWait bounds a borrow waiting on a full pool
	DefaultMaxWait = 60 * time.Second
	// DefaultAbsoluteTimeout retires resources after a day, whether
	// used or not
	DefaultAbsoluteTimeout = 24 * time.Hour
	// DefaultIdleTimeout retires resources left idle this long
	DefaultIdleTimeout = 10 * time.Minute
	// DefaultEvictionInterval is the evictor's default period
	DefaultEvictionInterval = 60 * time.Second
)

// Config contains Pool configuration. It must not be modified once
// passed to New.
type Config struct {
	// Name identifies the pool in logs
	Name string
	// MaxActive bounds the number of resources in existence, idle or
	// borrowed
	MaxActive int
	// MaxIdle bounds the number of idle resources kept for reuse
	MaxIdle int
	// MinIdle is the number of idle resources the evictor maintains
	MinIdle int
	// MaxWait bounds the time a borrow attempt waits for a resource
	// when the pool is at capacity. Zero fails at once; a negative
	// value waits until the borrow context is done.
	MaxWait time.Duration
	// AbsoluteTimeout and IdleTimeout bound an idle resource's age
	// and time since last use. Zero disables the check.
	AbsoluteTimeout time.Duration
	IdleTimeout     time.Duration
	// EvictionInterval is the evictor's period. Zero disables the
	// evictor.
	EvictionInterval time.Duration
	// BorrowRetries is the number of further attempts Borrow makes
	// after a failed attempt, pausing RetryBackoff between attempts
	BorrowRetries int
	RetryBackoff  time.Duration
	// PreWarm opens MaxActive resources in New. Idle resources above
	// MaxIdle are trimmed by the first eviction pass.
	PreWarm bool
	// TestOnBorrow validates idle resources before lending them
	TestOnBorrow bool
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		MaxActive:        DefaultMaxActive,
		MaxIdle:          DefaultMaxIdle,
		MaxWait:          DefaultMaxWait,
		AbsoluteTimeout:  DefaultAbsoluteTimeout,
		IdleTimeout:      DefaultIdleTimeout,
		EvictionInterval: DefaultEvictionInterval,
	}
}

// Validate checks the configuration's invariants.
func (c Config) Validate() error {
	switch {
	case c.MaxActive <= 0:
		return errors.Errorf("max_active must be positive (%d)", c.MaxActive)
	case c.MaxIdle < 0 || c.MinIdle < 0:
		return errors.Errorf("max_idle and min_idle must not be negative (%d, %d)", c.MaxIdle, c.MinIdle)
	case c.MinIdle > c.MaxIdle:
		return errors.Errorf("min_idle (%d) exceeds max_idle (%d)", c.MinIdle, c.MaxIdle)
	case c.MaxIdle > c.MaxActive:
		return errors.Errorf("max_idle (%d) exceeds max_active (%d)", c.MaxIdle, c.MaxActive)
	case c.AbsoluteTimeout < 0 || c.IdleTimeout < 0 || c.EvictionInterval < 0 || c.RetryBackoff < 0:
		return errors.New("timeouts and intervals must not be negative")
	case c.BorrowRetries < 0:
		return errors.Errorf("borrow_retries must not be negative (%d)", c.BorrowRetries)
	}
	return nil
}

// expired reports whether an idle resource created at created and
// last touched at touched must be evicted at now.
func (c Config) expired(now, created, touched time.Time) bool {
	return (c.AbsoluteTimeout > 0 && now.Sub(created) >= c.AbsoluteTimeout) ||
		(c.IdleTimeout > 0 && now.Sub(touched) >= c.IdleTimeout)
}
