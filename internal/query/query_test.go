package query

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scripted is a Fetcher whose responses are queued by the test.
type scripted struct {
	mu      sync.Mutex
	calls   int32
	steps   []step
	started chan int // receives the call number as each fetch begins
}

type step struct {
	value   string
	err     error
	release chan struct{} // nil = return immediately
}

func newScripted(steps ...step) *scripted {
	return &scripted{steps: steps, started: make(chan int, 16)}
}

func (s *scripted) fetch(ctx context.Context) (string, error) {
	n := int(atomic.AddInt32(&s.calls, 1))
	s.mu.Lock()
	var st step
	if n <= len(s.steps) {
		st = s.steps[n-1]
	} else if len(s.steps) > 0 {
		st = s.steps[len(s.steps)-1]
		st.release = nil
	}
	s.mu.Unlock()

	s.started <- n
	if st.release != nil {
		<-st.release
	}
	return st.value, st.err
}

func (s *scripted) count() int {
	return int(atomic.LoadInt32(&s.calls))
}

func newCache(t *testing.T) *Cache {
	t.Helper()
	c := NewCache()
	t.Cleanup(c.Close)
	return c
}

func TestResult_PendingBeforeFirstFetch(t *testing.T) {
	c := newCache(t)
	q := New(c, "k", newScripted(step{value: "a"}).fetch)

	res := q.Result()
	assert.True(t, res.IsPending)
	assert.False(t, res.HasData)
	assert.NoError(t, res.Err)
}

func TestRefetch_Success(t *testing.T) {
	c := newCache(t)
	q := New(c, "k", newScripted(step{value: "a"}).fetch)

	res, err := q.Refetch(context.Background())
	require.NoError(t, err)
	assert.False(t, res.IsPending)
	assert.True(t, res.HasData)
	assert.Equal(t, "a", res.Data)
	assert.NoError(t, res.Err)
	assert.False(t, res.UpdatedAt.IsZero())
}

func TestRefetch_FailureKeepsPreviousData(t *testing.T) {
	boom := errors.New("controller down")
	c := newCache(t)
	q := New(c, "k", newScripted(step{value: "a"}, step{err: boom}).fetch)

	_, err := q.Refetch(context.Background())
	require.NoError(t, err)

	res, err := q.Refetch(context.Background())
	require.NoError(t, err, "fetch failures are reported in the result, not returned")
	assert.Equal(t, "a", res.Data)
	assert.True(t, res.HasData)
	assert.ErrorIs(t, res.Err, boom)
}

func TestRefetch_SuccessClearsError(t *testing.T) {
	boom := errors.New("controller down")
	c := newCache(t)
	q := New(c, "k", newScripted(step{err: boom}, step{value: "b"}).fetch)

	res, _ := q.Refetch(context.Background())
	assert.False(t, res.IsPending)
	assert.False(t, res.HasData)
	assert.ErrorIs(t, res.Err, boom)

	res, _ = q.Refetch(context.Background())
	assert.Equal(t, "b", res.Data)
	assert.NoError(t, res.Err)
}

func TestRefetch_JoinsInFlightRequest(t *testing.T) {
	release := make(chan struct{})
	f := newScripted(step{value: "a", release: release})
	c := newCache(t)
	q := New(c, "k", f.fetch)

	var wg sync.WaitGroup
	results := make([]Result[string], 3)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = q.Refetch(context.Background())
		}(i)
		if i == 0 {
			<-f.started
		}
	}
	// Give the joiners time to attach before the request completes.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, 1, f.count(), "exactly one network call")
	for _, r := range results {
		assert.Equal(t, "a", r.Data)
	}
}

func TestInvalidate_LaterRequestWinsOverSlowerEarlierOne(t *testing.T) {
	releaseA := make(chan struct{})
	f := newScripted(step{value: "A", release: releaseA}, step{value: "B"})
	c := newCache(t)
	q := New(c, "k", f.fetch)

	doneA := make(chan struct{})
	go func() {
		defer close(doneA)
		_, _ = q.Refetch(context.Background())
	}()
	require.Equal(t, 1, <-f.started)

	res, err := q.Invalidate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "B", res.Data)

	close(releaseA)
	<-doneA

	assert.Equal(t, 2, f.count())
	assert.Equal(t, "B", q.Result().Data, "stale response A must not overwrite B")
}

func TestRefetch_CallerCancelDoesNotAbortSharedRequest(t *testing.T) {
	release := make(chan struct{})
	f := newScripted(step{value: "a", release: release})
	c := newCache(t)
	q := New(c, "k", f.fetch)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := q.Refetch(ctx)
		errc <- err
	}()
	<-f.started
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)

	close(release)
	assert.Eventually(t, func() bool { return q.Result().HasData }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "a", q.Result().Data)
	assert.Equal(t, 1, f.count())
}

func TestEnsure_FetchesOnlyWhenPending(t *testing.T) {
	f := newScripted(step{value: "a"}, step{value: "b"})
	c := newCache(t)
	q := New(c, "k", f.fetch)

	res, err := q.Ensure(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a", res.Data)

	res, err = q.Ensure(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a", res.Data)
	assert.Equal(t, 1, f.count())
}

func TestQueriesShareSlotByKey(t *testing.T) {
	f := newScripted(step{value: "a"})
	c := newCache(t)
	q1 := New(c, "k", f.fetch)
	q2 := New(c, "k", f.fetch)
	other := New(c, "other", newScripted(step{value: "z"}).fetch)

	_, err := q1.Refetch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "a", q2.Result().Data)
	assert.True(t, other.Result().IsPending)
	assert.ElementsMatch(t, []Key{"k"}, c.Keys(), "reading a key does not create its slot")
}

func TestRetention_DropsIdleSlot(t *testing.T) {
	c := NewCache(WithRetention(30 * time.Millisecond))
	defer c.Close()
	q := New(c, "k", newScripted(step{value: "a"}).fetch)

	_, err := q.Refetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Key{"k"}, c.Keys())
	assert.Equal(t, "a", q.Result().Data, "result is kept during retention")

	assert.Eventually(t, func() bool { return len(c.Keys()) == 0 }, time.Second, 5*time.Millisecond)
	assert.True(t, q.Result().IsPending)
}

func TestRetention_ZeroDropsSlotAfterRequest(t *testing.T) {
	c := NewCache(WithRetention(0))
	defer c.Close()
	q := New(c, "k", newScripted(step{value: "a"}).fetch)

	res, err := q.Refetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a", res.Data, "the caller still gets the result")
	assert.Empty(t, c.Keys())
}

func TestRetention_KeepsSlotWhileRequestInFlight(t *testing.T) {
	release := make(chan struct{})
	f := newScripted(step{value: "a", release: release})
	c := NewCache(WithRetention(0))
	defer c.Close()
	q := New(c, "k", f.fetch)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := q.Refetch(ctx)
		errc <- err
	}()
	<-f.started
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
	assert.Equal(t, []Key{"k"}, c.Keys())

	close(release)
	assert.Eventually(t, func() bool { return len(c.Keys()) == 0 }, time.Second, 5*time.Millisecond)
}

func TestClose_DiscardsInFlightResult(t *testing.T) {
	release := make(chan struct{})
	f := newScripted(step{value: "a", release: release})
	c := NewCache()
	q := New(c, "k", f.fetch)

	errc := make(chan error, 1)
	go func() {
		_, err := q.Refetch(context.Background())
		errc <- err
	}()
	<-f.started

	closed := make(chan struct{})
	go func() {
		c.Close()
		close(closed)
	}()
	require.Eventually(t, c.isClosed, time.Second, time.Millisecond)
	close(release)
	<-closed

	assert.ErrorIs(t, <-errc, ErrClosed)
	res := q.Result()
	assert.True(t, res.IsPending)
	assert.False(t, res.HasData)
}

func TestRefetch_AfterClose(t *testing.T) {
	f := newScripted(step{value: "a"})
	c := NewCache()
	q := New(c, "k", f.fetch)
	c.Close()
	c.Close()

	_, err := q.Refetch(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, 0, f.count())
}

func TestRequestTimeoutReachesFetcher(t *testing.T) {
	c := NewCache(WithRequestTimeout(20 * time.Millisecond))
	defer c.Close()
	q := New(c, "k", func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})

	res, err := q.Refetch(context.Background())
	require.NoError(t, err)
	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
}
