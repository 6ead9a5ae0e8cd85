package query

import (
	"context"
	"time"
)

// Fetcher loads the value for one key.
type Fetcher[T any] func(ctx context.Context) (T, error)

// Result is a point-in-time view of a slot.
type Result[T any] struct {
	// Data is the most recent successfully fetched value. Zero when HasData
	// is false.
	Data    T
	HasData bool
	// Err is the failure of the most recent completed fetch, nil when it
	// succeeded. Data from an earlier success stays visible alongside it.
	Err error
	// IsPending is true until the first fetch completes, whether it
	// succeeds or fails.
	IsPending bool
	UpdatedAt time.Time
}

// Query binds a key to its fetcher. All Queries for the same key on one
// Cache share a slot and must use the same T.
type Query[T any] struct {
	cache *Cache
	key   Key
	fetch Fetcher[T]
}

// New returns a Query for key on cache.
func New[T any](cache *Cache, key Key, fetch Fetcher[T]) *Query[T] {
	return &Query[T]{cache: cache, key: key, fetch: fetch}
}

// Key returns the slot key.
func (q *Query[T]) Key() Key {
	return q.key
}

// Result returns the current state of the slot without fetching. A key
// with no slot reads as pending.
func (q *Query[T]) Result() Result[T] {
	e := q.cache.lookup(q.key)
	if e == nil {
		return toResult[T](snapshot{})
	}
	return toResult[T](e.snapshot())
}

// Refetch fetches the key now, joining a request already in flight instead
// of issuing a second one. It waits for that request or for ctx. Giving up
// on ctx does not cancel the shared request.
func (q *Query[T]) Refetch(ctx context.Context) (Result[T], error) {
	return q.run(ctx, false)
}

// Invalidate always issues a new request, even while another is in flight.
// Whichever was issued last wins, regardless of completion order.
func (q *Query[T]) Invalidate(ctx context.Context) (Result[T], error) {
	return q.run(ctx, true)
}

// Ensure returns the current state, fetching first if nothing has been
// fetched yet.
func (q *Query[T]) Ensure(ctx context.Context) (Result[T], error) {
	res := q.Result()
	if !res.IsPending {
		return res, nil
	}
	return q.Refetch(ctx)
}

func (q *Query[T]) run(ctx context.Context, force bool) (Result[T], error) {
	e := q.cache.acquire(q.key)
	cl, err := e.start(q.cache, q.erased, force)
	if err != nil {
		return toResult[T](e.snapshot()), err
	}
	select {
	case <-cl.done:
	case <-ctx.Done():
		return toResult[T](e.snapshot()), ctx.Err()
	}
	if q.cache.isClosed() {
		return toResult[T](e.snapshot()), ErrClosed
	}
	return toResult[T](e.snapshot()), nil
}

func (q *Query[T]) erased(ctx context.Context) (any, error) {
	return q.fetch(ctx)
}

func toResult[T any](s snapshot) Result[T] {
	res := Result[T]{
		HasData:   s.hasData,
		Err:       s.err,
		IsPending: !s.settled,
		UpdatedAt: s.updatedAt,
	}
	if s.hasData {
		res.Data = s.data.(T)
	}
	return res
}
