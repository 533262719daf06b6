package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// State is the circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when a call is short-circuited.
var ErrCircuitOpen = errors.New("circuit open")

// UpstreamError wraps a failure returned (or panicked) by the guarded call.
type UpstreamError struct {
	Err error
}

func (e *UpstreamError) Error() string { return "upstream failure: " + e.Err.Error() }
func (e *UpstreamError) Unwrap() error { return e.Err }

// BreakerConfig holds the trip parameters.
type BreakerConfig struct {
	Name             string
	FailureThreshold int
	BreakDuration    time.Duration
}

// Breaker trips open after FailureThreshold consecutive failures and lets a
// single trial through once BreakDuration has elapsed.
type Breaker struct {
	name      string
	threshold int
	breakFor  time.Duration
	now       func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
	// gen changes on every trip and reset; releases from an older gen are stale
	gen uint64
}

// NewBreaker creates a closed breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 2
	}
	if cfg.BreakDuration <= 0 {
		cfg.BreakDuration = 30 * time.Second
	}
	if cfg.Name == "" {
		cfg.Name = "upstream"
	}
	return &Breaker{
		name:      cfg.Name,
		threshold: cfg.FailureThreshold,
		breakFor:  cfg.BreakDuration,
		now:       time.Now,
	}
}

// WithClock replaces the time source. Used by tests.
func (b *Breaker) WithClock(now func() time.Time) *Breaker {
	b.mu.Lock()
	b.now = now
	b.mu.Unlock()
	return b
}

// State returns the current state, promoting Open to HalfOpen when the break
// window has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.promoteLocked()
	return b.state
}

// Failures returns the consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Execute runs fn unless the circuit is open. fn failures come back as
// *UpstreamError; short-circuits come back as ErrCircuitOpen.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) (string, error)) (string, error) {
	trial, gen, err := b.acquire()
	if err != nil {
		return "", err
	}

	out, callErr := b.call(ctx, fn)
	b.release(trial, gen, callErr, cancelledBy(ctx, callErr))
	if callErr != nil {
		return "", &UpstreamError{Err: callErr}
	}
	return out, nil
}

func (b *Breaker) call(ctx context.Context, fn func(ctx context.Context) (string, error)) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}

// cancelledBy reports whether err is the caller giving up rather than the
// upstream failing.
func cancelledBy(ctx context.Context, err error) bool {
	return err != nil && ctx.Err() != nil &&
		(errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}

func (b *Breaker) acquire() (trial bool, gen uint64, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.promoteLocked()
	switch b.state {
	case StateOpen:
		return false, b.gen, ErrCircuitOpen
	case StateHalfOpen:
		// one trial call at a time
		if b.probing {
			return false, b.gen, ErrCircuitOpen
		}
		b.probing = true
		return true, b.gen, nil
	default:
		return false, b.gen, nil
	}
}

func (b *Breaker) release(trial bool, gen uint64, callErr error, cancelled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if trial {
		b.probing = false
		if cancelled {
			// no verdict; the next caller gets the trial
			return
		}
		if callErr != nil {
			b.failures++
			b.tripLocked(callErr)
			return
		}
		b.state = StateClosed
		b.failures = 0
		b.gen++
		log.Info().Str("breaker", b.name).Msg("circuit reset")
		return
	}

	// a call admitted before the last trip or reset does not change the
	// outcome of the current closed window
	if b.state != StateClosed || gen != b.gen || cancelled {
		return
	}
	if callErr == nil {
		b.failures = 0
		return
	}
	b.failures++
	if b.failures >= b.threshold {
		b.tripLocked(callErr)
	}
}

func (b *Breaker) tripLocked(cause error) {
	b.state = StateOpen
	b.gen++
	b.openedAt = b.now()
	log.Warn().
		Str("breaker", b.name).
		Err(cause).
		Int("failures", b.failures).
		Dur("break", b.breakFor).
		Msg("circuit opened")
}

func (b *Breaker) promoteLocked() {
	if b.state == StateOpen && !b.now().Before(b.openedAt.Add(b.breakFor)) {
		b.state = StateHalfOpen
		log.Info().Str("breaker", b.name).Msg("circuit half-open, next call is a trial")
	}
}
