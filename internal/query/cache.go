// Package query keeps the latest fetched value per key and refreshes it on
// demand or on a timer. A Cache is created at startup and closed at
// shutdown; every Query is bound to one explicitly.
package query

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// ErrClosed is returned by operations on a cache that has been closed.
var ErrClosed = errors.New("query cache closed")

// Key identifies a cache slot, e.g. "pipelines?verbose=true".
type Key string

// DefaultRetention is how long a slot nobody uses keeps its last result.
const DefaultRetention = 5 * time.Minute

// Cache holds one slot per Key. A slot lives while a subscription or a
// request uses it and for the retention period after that.
type Cache struct {
	ctx       context.Context
	cancel    context.CancelFunc
	log       zerolog.Logger
	timeout   time.Duration
	retention time.Duration

	mu      sync.Mutex
	closed  bool
	entries map[Key]*entry
	subs    map[*subscription]struct{}
	wg      sync.WaitGroup // fetch and poll goroutines
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithLogger sets the logger for fetch failures and discarded responses.
func WithLogger(l zerolog.Logger) CacheOption {
	return func(c *Cache) { c.log = l }
}

// WithRequestTimeout bounds each fetch. Zero means no bound.
func WithRequestTimeout(d time.Duration) CacheOption {
	return func(c *Cache) { c.timeout = d }
}

// WithRetention sets how long an unused slot is kept before it is dropped.
// Zero drops it as soon as its last user lets go.
func WithRetention(d time.Duration) CacheOption {
	return func(c *Cache) { c.retention = d }
}

// NewCache creates an empty cache.
func NewCache(opts ...CacheOption) *Cache {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Cache{
		ctx:       ctx,
		cancel:    cancel,
		log:       zerolog.Nop(),
		retention: DefaultRetention,
		entries:   make(map[Key]*entry),
		subs:      make(map[*subscription]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close cancels every subscription and waits for their goroutines to exit.
// Fetches still in flight are allowed to finish, but their results are
// discarded. Close is idempotent.
func (c *Cache) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	subs := make([]*subscription, 0, len(c.subs))
	for s := range c.subs {
		subs = append(subs, s)
	}
	c.mu.Unlock()

	for _, s := range subs {
		s.cancel()
	}
	c.wg.Wait()
	c.cancel()
}

// Keys returns the keys that currently have a slot.
func (c *Cache) Keys() []Key {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweepLocked(time.Now())
	keys := make([]Key, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	return keys
}

func (c *Cache) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// lookup returns the slot for key, or nil when there is none.
func (c *Cache) lookup(key Key) *entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[key]
}

// acquire returns the slot for key, creating it if needed, and marks it in
// use. The caller starts a request on it or subscribes to it; release is
// called when that ends.
func (c *Cache) acquire(key Key) *entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acquireLocked(key)
}

func (c *Cache) acquireLocked(key Key) *entry {
	c.sweepLocked(time.Now())
	e, ok := c.entries[key]
	if !ok {
		e = &entry{key: key}
		c.entries[key] = e
	}
	e.idleSince = time.Time{}
	return e
}

// release starts the retention period of e once it has no subscribers and
// no request in flight.
func (c *Cache) release(e *entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e.subs > 0 || e.busy() || c.entries[e.key] != e {
		return
	}
	if c.retention <= 0 {
		delete(c.entries, e.key)
		return
	}
	e.idleSince = time.Now()
}

// sweepLocked drops slots whose retention period has run out.
func (c *Cache) sweepLocked(now time.Time) {
	for k, e := range c.entries {
		if e.subs == 0 && !e.idleSince.IsZero() && now.Sub(e.idleSince) >= c.retention {
			delete(c.entries, k)
		}
	}
}

// goFetch starts fn on the cache's goroutine group. It reports false when
// the cache is already closed.
func (c *Cache) goFetch(fn func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn()
	}()
	return true
}

func (c *Cache) addSub(s *subscription, key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	s.entry = c.acquireLocked(key)
	s.entry.subs++
	c.subs[s] = struct{}{}
	c.wg.Add(1)
	return true
}

func (c *Cache) removeSub(s *subscription) {
	c.mu.Lock()
	delete(c.subs, s)
	s.entry.subs--
	c.mu.Unlock()
	c.release(s.entry)
}

// snapshot is the untyped state of a slot.
type snapshot struct {
	data      any
	hasData   bool
	err       error
	settled   bool // at least one fetch has completed
	updatedAt time.Time
}

// call is one request issued for a slot.
type call struct {
	seq  uint64
	done chan struct{}
}

// entry is a single cache slot. Only the completion of its own requests
// writes to it.
type entry struct {
	key Key

	// Guarded by Cache.mu.
	subs      int
	idleSince time.Time // zero while in use

	mu       sync.Mutex
	state    snapshot
	inflight *call
	nextSeq  uint64
	applied  uint64 // seq of the newest completed request whose result was kept
}

func (e *entry) busy() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inflight != nil
}

func (e *entry) snapshot() snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// start returns the request in flight, or issues a new one when there is
// none or force is set.
func (e *entry) start(c *Cache, fetch func(context.Context) (any, error), force bool) (*call, error) {
	e.mu.Lock()
	if e.inflight != nil && !force {
		cl := e.inflight
		e.mu.Unlock()
		return cl, nil
	}
	e.nextSeq++
	cl := &call{seq: e.nextSeq, done: make(chan struct{})}
	e.inflight = cl
	e.mu.Unlock()

	ok := c.goFetch(func() {
		ctx := c.ctx
		if c.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.timeout)
			defer cancel()
		}
		v, err := fetch(ctx)
		e.complete(c, cl, v, err)
		c.release(e)
		close(cl.done)
	})
	if !ok {
		e.mu.Lock()
		if e.inflight == cl {
			e.inflight = nil
		}
		e.mu.Unlock()
		close(cl.done)
		return nil, ErrClosed
	}
	return cl, nil
}

// complete records the outcome of cl unless a newer request has already
// completed or the cache has been closed.
func (e *entry) complete(c *Cache, cl *call, v any, err error) {
	closed := c.isClosed()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inflight == cl {
		e.inflight = nil
	}
	switch {
	case closed:
		c.log.Debug().Str("key", string(e.key)).Msg("discarding response after cache close")
		return
	case cl.seq < e.applied:
		c.log.Debug().
			Str("key", string(e.key)).
			Uint64("seq", cl.seq).
			Uint64("applied", e.applied).
			Msg("discarding out-of-order response")
		return
	}
	e.applied = cl.seq
	e.state.settled = true
	e.state.updatedAt = time.Now()
	if err != nil {
		e.state.err = err
		c.log.Warn().Err(err).Str("key", string(e.key)).Msg("fetch failed")
		return
	}
	e.state.data = v
	e.state.hasData = true
	e.state.err = nil
}
