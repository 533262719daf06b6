package resilience

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

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

var errBoom = errors.New("boom")

type countingUpstream struct {
	calls atomic.Int32
	err   atomic.Pointer[error]
}

func (u *countingUpstream) failWith(err error) { u.err.Store(&err) }
func (u *countingUpstream) succeed()           { u.err.Store(nil) }

func (u *countingUpstream) call(ctx context.Context) (string, error) {
	u.calls.Add(1)
	if p := u.err.Load(); p != nil && *p != nil {
		return "", *p
	}
	return "ok", nil
}

func newTestBreaker(clock *fakeClock) *Breaker {
	return NewBreaker(BreakerConfig{Name: "test", FailureThreshold: 2, BreakDuration: 30 * time.Second}).WithClock(clock.Now)
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)
	up := &countingUpstream{}
	up.failWith(errBoom)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := b.Execute(ctx, up.call)
		var ue *UpstreamError
		require.ErrorAs(t, err, &ue)
		assert.ErrorIs(t, err, errBoom)
	}
	assert.Equal(t, StateOpen, b.State())
	assert.EqualValues(t, 2, up.calls.Load())

	_, err := b.Execute(ctx, up.call)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.EqualValues(t, 2, up.calls.Load(), "open circuit must not reach upstream")
}

func TestBreakerSuccessResetsCounter(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)
	up := &countingUpstream{}
	ctx := context.Background()

	up.failWith(errBoom)
	_, _ = b.Execute(ctx, up.call)
	assert.Equal(t, 1, b.Failures())

	up.succeed()
	out, err := b.Execute(ctx, up.call)
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 0, b.Failures())

	up.failWith(errBoom)
	_, _ = b.Execute(ctx, up.call)
	assert.Equal(t, StateClosed, b.State(), "failures are consecutive, not cumulative")
}

func TestBreakerHalfOpenTrialSucceeds(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)
	up := &countingUpstream{}
	up.failWith(errBoom)
	ctx := context.Background()

	_, _ = b.Execute(ctx, up.call)
	_, _ = b.Execute(ctx, up.call)
	require.Equal(t, StateOpen, b.State())

	clock.Advance(29 * time.Second)
	_, err := b.Execute(ctx, up.call)
	assert.ErrorIs(t, err, ErrCircuitOpen)

	clock.Advance(time.Second)
	assert.Equal(t, StateHalfOpen, b.State())

	up.succeed()
	out, err := b.Execute(ctx, up.call)
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 0, b.Failures())
	assert.EqualValues(t, 3, up.calls.Load())
}

func TestBreakerHalfOpenTrialFailsRestartsTimer(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)
	up := &countingUpstream{}
	up.failWith(errBoom)
	ctx := context.Background()

	_, _ = b.Execute(ctx, up.call)
	_, _ = b.Execute(ctx, up.call)
	clock.Advance(30 * time.Second)

	_, err := b.Execute(ctx, up.call)
	var ue *UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, StateOpen, b.State())
	assert.EqualValues(t, 3, up.calls.Load())

	clock.Advance(29 * time.Second)
	_, err = b.Execute(ctx, up.call)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.EqualValues(t, 3, up.calls.Load())

	clock.Advance(time.Second)
	assert.Equal(t, StateHalfOpen, b.State())
}

func TestBreakerSingleTrialInHalfOpen(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)
	ctx := context.Background()
	failing := func(context.Context) (string, error) { return "", errBoom }

	_, _ = b.Execute(ctx, failing)
	_, _ = b.Execute(ctx, failing)
	clock.Advance(30 * time.Second)

	release := make(chan struct{})
	entered := make(chan struct{})
	var upstreamCalls atomic.Int32
	blocking := func(context.Context) (string, error) {
		upstreamCalls.Add(1)
		close(entered)
		<-release
		return "trial", nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := b.Execute(ctx, blocking)
		done <- err
	}()
	<-entered

	var wg sync.WaitGroup
	var shorted atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := b.Execute(ctx, func(context.Context) (string, error) {
				upstreamCalls.Add(1)
				return "", nil
			})
			if errors.Is(err, ErrCircuitOpen) {
				shorted.Add(1)
			}
		}()
	}
	wg.Wait()
	close(release)
	require.NoError(t, <-done)

	assert.EqualValues(t, 1, upstreamCalls.Load())
	assert.EqualValues(t, 8, shorted.Load())
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerConcurrentFailuresTripOnce(t *testing.T) {
	clock := newFakeClock()
	b := NewBreaker(BreakerConfig{FailureThreshold: 50, BreakDuration: time.Minute}).WithClock(clock.Now)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 49; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = b.Execute(ctx, func(context.Context) (string, error) { return "", errBoom })
		}()
	}
	wg.Wait()
	assert.Equal(t, 49, b.Failures())
	assert.Equal(t, StateClosed, b.State())

	_, _ = b.Execute(ctx, func(context.Context) (string, error) { return "", errBoom })
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerRecoversPanics(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, BreakDuration: time.Minute})
	_, err := b.Execute(context.Background(), func(context.Context) (string, error) {
		panic("upstream exploded")
	})
	var ue *UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Contains(t, err.Error(), "upstream exploded")
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerIgnoresFailureFromEarlierClosedWindow(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)
	ctx := context.Background()

	started := make(chan struct{})
	finish := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = b.Execute(ctx, func(context.Context) (string, error) {
			close(started)
			<-finish
			return "", errBoom
		})
	}()
	<-started

	fail := func(context.Context) (string, error) { return "", errBoom }
	_, _ = b.Execute(ctx, fail)
	_, _ = b.Execute(ctx, fail)
	require.Equal(t, StateOpen, b.State())

	clock.Advance(30 * time.Second)
	_, err := b.Execute(ctx, func(context.Context) (string, error) { return "ok", nil })
	require.NoError(t, err)
	require.Equal(t, StateClosed, b.State())

	close(finish)
	<-done
	assert.Equal(t, 0, b.Failures(), "late failure from before the trip must not count")

	_, _ = b.Execute(ctx, fail)
	assert.Equal(t, 1, b.Failures())
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerDoesNotCountCallerCancellation(t *testing.T) {
	b := newTestBreaker(newFakeClock())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for i := 0; i < 5; i++ {
		_, err := b.Execute(ctx, func(ctx context.Context) (string, error) { return "", ctx.Err() })
		var ue *UpstreamError
		require.ErrorAs(t, err, &ue)
		assert.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, 0, b.Failures())
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerCancelledTrialLeavesHalfOpen(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)
	fail := func(context.Context) (string, error) { return "", errBoom }
	_, _ = b.Execute(context.Background(), fail)
	_, _ = b.Execute(context.Background(), fail)
	clock.Advance(30 * time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _ = b.Execute(ctx, func(ctx context.Context) (string, error) { return "", ctx.Err() })
	assert.Equal(t, StateHalfOpen, b.State())

	_, err := b.Execute(context.Background(), func(context.Context) (string, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, StateClosed, b.State())
}
