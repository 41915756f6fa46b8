package pool

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/andaru/epp/epperr"
	"github.com/cenkalti/backoff/v4"
	"github.com/golang/glog"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Resource is the capability a pooled resource must offer.
type Resource interface {
	comparable
	CreatedAt() time.Time
	LastTouchedAt() time.Time
	Touch()
}

// Factory creates, destroys and checks the health of resources.
type Factory[T Resource] interface {
	// Make returns a new resource, ready for use
	Make(ctx context.Context) (T, error)
	// Destroy releases res, gracefully if possible
	Destroy(ctx context.Context, res T) error
	// Validate checks that res is still usable
	Validate(ctx context.Context, res T) error
	// Usable reports, without I/O, whether res may be kept for reuse
	Usable(res T) bool
}

// Stats is a snapshot of pool counters.
type Stats struct {
	// Idle, Active and Waiting are the number of idle resources,
	// borrowed resources and waiting borrowers
	Idle    int
	Active  int
	Waiting int
	// Open counts resources in existence or under construction
	Open      int
	Created   uint64
	Destroyed uint64
	Borrowed  uint64
	// Timeouts counts borrow attempts which waited MaxWait in vain
	Timeouts uint64
}

// destroyTimeout bounds graceful destruction outside of Close.
const destroyTimeout = 10 * time.Second

// grant is passed to a waiting borrower. It carries either a
// resource, already marked active, a reservation to create one, or
// an error.
type grant[T Resource] struct {
	res     T
	reserve bool
	err     error
}

// Pool is a bounded pool of resources of type T.
type Pool[T Resource] struct {
	config  Config
	factory Factory[T]

	mu      sync.Mutex
	idle    []T
	active  map[T]struct{}
	numOpen int
	waiters []chan grant[T]
	closed  bool
	stats   Stats

	stop chan struct{}
	done chan struct{}
}

// New returns a new Pool. If config.PreWarm is set, New opens
// MaxActive idle resources concurrently and fails if any cannot be made.
func New[T Resource](ctx context.Context, factory Factory[T], config Config) (*Pool[T], error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Wrapf(err, "pool %q", config.Name)
	}
	p := &Pool[T]{
		config:  config,
		factory: factory,
		active:  map[T]struct{}{},
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	if config.PreWarm {
		if err := p.prewarm(ctx); err != nil {
			close(p.done)
			p.Close(ctx)
			return nil, err
		}
	}
	if config.EvictionInterval > 0 {
		go p.evictor(config.EvictionInterval)
	} else {
		close(p.done)
	}
	glog.V(1).Infof("pool %s: started (max_active %d, max_idle %d, min_idle %d)",
		config.Name, config.MaxActive, config.MaxIdle, config.MinIdle)
	return p, nil
}

// Config returns the pool's configuration.
func (p *Pool[T]) Config() Config { return p.config }

// prewarm opens MaxActive resources and keeps them idle. Those above
// MaxIdle are trimmed by the next eviction pass.
func (p *Pool[T]) prewarm(ctx context.Context) error {
	made := make([]T, p.config.MaxActive)
	g, gctx := errgroup.WithContext(ctx)
	for i := range made {
		g.Go(func() error {
			res, err := p.factory.Make(gctx)
			if err != nil {
				return err
			}
			made[i] = res
			return nil
		})
	}
	err := g.Wait()

	var zero T
	p.mu.Lock()
	for _, res := range made {
		if res == zero {
			continue
		}
		p.stats.Created++
		p.numOpen++
		p.idle = append(p.idle, res)
	}
	p.mu.Unlock()
	if err != nil && epperr.KindOf(err) == epperr.KindUnknown {
		err = epperr.Connection(err, epperr.WithOp("prewarm"), epperr.WithMessage(p.config.Name))
	}
	return err
}

// Borrow lends a resource from the pool, creating one if the pool is
// below capacity, or else waiting up to MaxWait for one.
//
// Up to BorrowRetries further attempts follow a failed attempt. The
// final failure is an epperr.KindPoolExhausted error if the last
// attempt timed out waiting, or the factory's error if a new resource
// could not be made; untyped factory errors become
// epperr.KindConnection errors. A closed pool fails at once with
// epperr.KindShuttingDown.
func (p *Pool[T]) Borrow(ctx context.Context) (T, error) {
	var res T
	attempt := func() error {
		var err error
		if res, err = p.borrowOnce(ctx); err != nil {
			if epperr.Is(err, epperr.KindShuttingDown) || ctx.Err() != nil {
				return backoff.Permanent(err)
			}
		}
		return err
	}
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.config.RetryBackoff), uint64(p.config.BorrowRetries)),
		ctx)
	err := backoff.RetryNotify(attempt, b, func(err error, d time.Duration) {
		glog.V(1).Infof("pool %s: borrow failed, retrying in %s: %v", p.config.Name, d, err)
	})
	if err != nil {
		var zero T
		if epperr.KindOf(err) == epperr.KindUnknown {
			err = epperr.PoolExhausted(epperr.WithOp("borrow"), epperr.WithCause(err))
		}
		return zero, err
	}
	return res, nil
}

func (p *Pool[T]) borrowOnce(ctx context.Context) (T, error) {
	for {
		res, create, err := p.acquire(ctx)
		switch {
		case err != nil:
			return res, err
		case create:
			return p.create(ctx)
		case p.config.TestOnBorrow:
			if err := p.factory.Validate(ctx, res); err != nil {
				glog.Warningf("pool %s: idle resource failed validation: %v", p.config.Name, err)
				p.Invalidate(res)
				continue
			}
		}
		return res, nil
	}
}

// acquire takes an idle resource, reserves capacity to create one, or
// waits for either.
func (p *Pool[T]) acquire(ctx context.Context) (res T, create bool, err error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return res, false, epperr.ShuttingDown(epperr.WithOp("borrow"))
	}
	if n := len(p.idle); n > 0 {
		res = p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.lend(res)
		p.mu.Unlock()
		return res, false, nil
	}
	if p.numOpen < p.config.MaxActive {
		p.numOpen++
		p.mu.Unlock()
		return res, true, nil
	}
	if p.config.MaxWait == 0 {
		p.stats.Timeouts++
		p.mu.Unlock()
		return res, false, epperr.PoolExhausted(epperr.WithOp("borrow"), epperr.WithMessage("no resource available"))
	}
	w := make(chan grant[T], 1)
	p.waiters = append(p.waiters, w)
	p.mu.Unlock()

	var timeout <-chan time.Time
	if p.config.MaxWait > 0 {
		t := time.NewTimer(p.config.MaxWait)
		defer t.Stop()
		timeout = t.C
	}
	var cause error
	select {
	case g := <-w:
		return g.res, g.reserve, g.err
	case <-timeout:
	case <-ctx.Done():
		cause = ctx.Err()
	}

	p.mu.Lock()
	removed := p.removeWaiter(w)
	if removed && cause == nil {
		p.stats.Timeouts++
	}
	p.mu.Unlock()
	if !removed {
		// granted while timing out: give it back
		g := <-w
		switch {
		case g.err != nil:
			return res, false, g.err
		case g.reserve:
			p.unreserve()
		default:
			p.Return(g.res)
		}
	}
	if cause != nil {
		return res, false, epperr.PoolExhausted(epperr.WithOp("borrow"), epperr.WithCause(errors.WithStack(cause)))
	}
	return res, false, epperr.PoolExhausted(epperr.WithOp("borrow"),
		epperr.WithMessage("waited "+p.config.MaxWait.String()))
}

// create makes a resource against capacity already reserved.
func (p *Pool[T]) create(ctx context.Context) (T, error) {
	res, err := p.factory.Make(ctx)
	if err != nil {
		p.unreserve()
		glog.Warningf("pool %s: make failed: %v", p.config.Name, err)
		if epperr.KindOf(err) == epperr.KindUnknown {
			err = epperr.Connection(err, epperr.WithOp("borrow"), epperr.WithMessage(p.config.Name))
		}
		return res, err
	}
	p.mu.Lock()
	p.stats.Created++
	if p.closed {
		p.numOpen--
		p.mu.Unlock()
		p.destroy(context.Background(), res)
		var zero T
		return zero, epperr.ShuttingDown(epperr.WithOp("borrow"))
	}
	p.lend(res)
	p.mu.Unlock()
	return res, nil
}

// Return gives a borrowed resource back to the pool. The resource is
// touched, then handed to the longest waiting borrower or kept idle.
// It is destroyed instead if the factory reports it unusable, if the
// idle set is full, if it outlived AbsoluteTimeout, or if the pool is
// closed.
func (p *Pool[T]) Return(res T) error {
	p.mu.Lock()
	if _, ok := p.active[res]; !ok {
		p.mu.Unlock()
		return epperr.Usage("resource not borrowed from this pool", epperr.WithOp("return"))
	}
	delete(p.active, res)
	res.Touch()
	keep := true
	if !p.factory.Usable(res) {
		glog.V(1).Infof("pool %s: destroying unusable resource on return", p.config.Name)
		p.numOpen--
		p.grantCapacity()
		keep = false
	} else if p.config.AbsoluteTimeout > 0 && time.Since(res.CreatedAt()) >= p.config.AbsoluteTimeout {
		p.numOpen--
		p.grantCapacity()
		keep = false
	} else {
		keep = p.checkin(res)
	}
	p.mu.Unlock()
	if !keep {
		p.destroy(context.Background(), res)
	}
	return nil
}

// Invalidate removes a borrowed resource from the pool and destroys
// it, freeing its capacity.
func (p *Pool[T]) Invalidate(res T) error {
	p.mu.Lock()
	if _, ok := p.active[res]; !ok {
		p.mu.Unlock()
		return epperr.Usage("resource not borrowed from this pool", epperr.WithOp("invalidate"))
	}
	delete(p.active, res)
	p.numOpen--
	p.grantCapacity()
	p.mu.Unlock()
	p.destroy(context.Background(), res)
	return nil
}

// Stats returns a snapshot of the pool's counters.
func (p *Pool[T]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.Idle = len(p.idle)
	s.Active = len(p.active)
	s.Waiting = len(p.waiters)
	s.Open = p.numOpen
	return s
}

// Close stops the evictor, fails waiting borrowers with
// epperr.KindShuttingDown and destroys idle resources concurrently.
// Borrowed resources are destroyed as they are returned. Close is
// idempotent.
func (p *Pool[T]) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	for _, w := range p.waiters {
		w <- grant[T]{err: epperr.ShuttingDown(epperr.WithOp("borrow"))}
	}
	p.waiters = nil
	idle := p.idle
	p.idle = nil
	p.numOpen -= len(idle)
	p.mu.Unlock()

	close(p.stop)
	<-p.done

	var g errgroup.Group
	for _, res := range idle {
		g.Go(func() error { return p.destroy(ctx, res) })
	}
	err := g.Wait()
	glog.V(1).Infof("pool %s: closed", p.config.Name)
	return err
}

// Evict runs one eviction pass as of now: idle resources past their
// absolute or idle timeout are destroyed, the idle set is trimmed to
// MaxIdle least recently touched first, then replenished to MinIdle.
func (p *Pool[T]) Evict(now time.Time) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	var evict, keep []T
	for _, res := range p.idle {
		if p.config.expired(now, res.CreatedAt(), res.LastTouchedAt()) {
			evict = append(evict, res)
		} else {
			keep = append(keep, res)
		}
	}
	if surplus := len(keep) - p.config.MaxIdle; surplus > 0 {
		// keep the idle stack's order for those which stay
		byTouch := append([]T(nil), keep...)
		sort.SliceStable(byTouch, func(i, j int) bool {
			return byTouch[i].LastTouchedAt().Before(byTouch[j].LastTouchedAt())
		})
		trim := map[T]struct{}{}
		for _, res := range byTouch[:surplus] {
			trim[res] = struct{}{}
			evict = append(evict, res)
		}
		kept := keep[:0]
		for _, res := range keep {
			if _, ok := trim[res]; !ok {
				kept = append(kept, res)
			}
		}
		keep = kept
	}
	p.idle = keep
	p.numOpen -= len(evict)
	for range evict {
		p.grantCapacity()
	}
	need := min(p.config.MinIdle-len(p.idle), p.config.MaxActive-p.numOpen)
	if need > 0 {
		p.numOpen += need
	}
	p.mu.Unlock()

	if len(evict) > 0 {
		glog.V(1).Infof("pool %s: evicting %d idle resource(s)", p.config.Name, len(evict))
	}
	for _, res := range evict {
		p.destroy(context.Background(), res)
	}
	for i := 0; i < need; i++ {
		p.replenish()
	}
}

// replenish makes one idle resource against reserved capacity.
func (p *Pool[T]) replenish() {
	ctx, cancel := context.WithTimeout(context.Background(), destroyTimeout)
	defer cancel()
	res, err := p.factory.Make(ctx)
	if err != nil {
		glog.Warningf("pool %s: replenishing idle resources: %v", p.config.Name, err)
		p.unreserve()
		return
	}
	p.mu.Lock()
	p.stats.Created++
	keep := p.checkin(res)
	p.mu.Unlock()
	if !keep {
		p.destroy(context.Background(), res)
	}
}

func (p *Pool[T]) evictor(interval time.Duration) {
	defer close(p.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case now := <-ticker.C:
			p.Evict(now)
		}
	}
}

// destroy releases res through the factory, logging failures.
func (p *Pool[T]) destroy(ctx context.Context, res T) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, destroyTimeout)
		defer cancel()
	}
	err := p.factory.Destroy(ctx, res)
	if err != nil {
		glog.Warningf("pool %s: destroy: %v", p.config.Name, err)
	}
	p.mu.Lock()
	p.stats.Destroyed++
	p.mu.Unlock()
	return err
}

// lend marks res as borrowed. p.mu must be held.
func (p *Pool[T]) lend(res T) {
	p.active[res] = struct{}{}
	p.stats.Borrowed++
}

// checkin hands res, which is not borrowed, to the longest waiting
// borrower or keeps it idle. It returns false, releasing res's
// capacity, if res must be destroyed instead. p.mu must be held.
func (p *Pool[T]) checkin(res T) bool {
	if p.closed {
		p.numOpen--
		return false
	}
	if len(p.waiters) > 0 {
		w := p.waiters[0]
		p.waiters = p.waiters[1:]
		p.lend(res)
		w <- grant[T]{res: res}
		return true
	}
	if len(p.idle) >= p.config.MaxIdle {
		p.numOpen--
		return false
	}
	p.idle = append(p.idle, res)
	return true
}

// grantCapacity passes free capacity to the longest waiting borrower,
// if any. p.mu must be held.
func (p *Pool[T]) grantCapacity() {
	if len(p.waiters) == 0 || p.numOpen >= p.config.MaxActive {
		return
	}
	w := p.waiters[0]
	p.waiters = p.waiters[1:]
	p.numOpen++
	w <- grant[T]{reserve: true}
}

// unreserve releases capacity reserved for a resource which was not
// made.
func (p *Pool[T]) unreserve() {
	p.mu.Lock()
	p.numOpen--
	p.grantCapacity()
	p.mu.Unlock()
}

// removeWaiter removes w from the wait queue, reporting whether it was
// still queued. p.mu must be held.
func (p *Pool[T]) removeWaiter(w chan grant[T]) bool {
	for i, q := range p.waiters {
		if q == w {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return true
		}
	}
	return false
}
