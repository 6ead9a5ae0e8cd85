package query

import (
	"context"
	"sync"
	"time"
)

// DefaultInterval is the polling cadence used when Poll is given a
// non-positive interval.
const DefaultInterval = 5 * time.Second

// subscription is the untyped handle the cache keeps so Close can cancel it.
type subscription struct {
	entry *entry // set by Cache.addSub
	stop  context.CancelFunc
	done  chan struct{}
	once  sync.Once
}

func (s *subscription) cancel() {
	s.once.Do(s.stop)
	<-s.done
}

// Subscription keeps one consumer's query fresh on a fixed interval until
// it is cancelled.
type Subscription[T any] struct {
	sub     *subscription
	updates chan Result[T]
}

// Updates delivers the result of every poll. Only the latest undelivered
// result is kept, so a slow reader never stalls polling. The channel is
// closed once the subscription ends.
func (s *Subscription[T]) Updates() <-chan Result[T] {
	return s.updates
}

// Cancel stops the timer and waits for the poll goroutine to exit. No
// further fetches are issued for this consumer and nothing is published
// after Cancel returns. A fetch already in flight still completes and
// updates the shared slot. Once the last subscriber is gone the slot is
// kept for the cache's retention period. Cancel is idempotent.
func (s *Subscription[T]) Cancel() {
	s.sub.cancel()
}

// Done is closed when the subscription has ended, either through Cancel or
// because the cache was closed.
func (s *Subscription[T]) Done() <-chan struct{} {
	return s.sub.done
}

// Poll fetches immediately and then once per interval. Each poll joins a
// request already in flight for the key rather than issuing another.
// Polling a closed cache returns a subscription that has already ended.
func (q *Query[T]) Poll(interval time.Duration) *Subscription[T] {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ctx, stop := context.WithCancel(context.Background())
	s := &Subscription[T]{
		sub:     &subscription{stop: stop, done: make(chan struct{})},
		updates: make(chan Result[T], 1),
	}
	if !q.cache.addSub(s.sub, q.key) {
		stop()
		close(s.updates)
		close(s.sub.done)
		return s
	}

	go func() {
		defer q.cache.wg.Done()
		defer close(s.sub.done)
		defer q.cache.removeSub(s.sub)
		defer close(s.updates)

		tick := time.NewTicker(interval)
		defer tick.Stop()

		for {
			res, err := q.Refetch(ctx)
			if ctx.Err() != nil || err == ErrClosed {
				return
			}
			s.publish(res)

			select {
			case <-ctx.Done():
				return
			case <-tick.C:
			}
		}
	}()
	return s
}

// publish replaces any undelivered result with res.
func (s *Subscription[T]) publish(res Result[T]) {
	select {
	case s.updates <- res:
		return
	default:
	}
	select {
	case <-s.updates:
	default:
	}
	select {
	case s.updates <- res:
	default:
	}
}
