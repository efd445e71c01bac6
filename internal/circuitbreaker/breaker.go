// Package circuitbreaker guards a downstream dependency that is called on
// every planning cycle. When the dependency fails repeatedly the breaker
// opens and callers shed work instead of paying a timeout 20 times a second.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned by Allow while the breaker is open.
var ErrOpen = errors.New("circuit breaker open")

// State is the breaker position.
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

const (
	defaultFailureThreshold = 5
	defaultSuccessThreshold = 2

	// At the planning cadence a 10 second open window sheds around 200
	// calls, long enough for a restarted dependency to come back.
	defaultOpenTimeout = 10 * time.Second
)

// Config tunes a breaker. Zero values take the defaults above.
type Config struct {
	FailureThreshold int
	SuccessThreshold int
	OpenTimeout      time.Duration

	// OnStateChange runs inside the breaker's lock; keep it cheap.
	OnStateChange func(from, to State)
}

// Breaker is a three-state circuit breaker. Closed counts consecutive
// failures; open rejects until the timeout passes; half-open admits calls
// and closes again after enough successes. Safe for concurrent use.
type Breaker struct {
	mu            sync.Mutex
	state         State
	failures      int
	successes     int
	lastFailureAt time.Time

	failureThreshold int
	successThreshold int
	openTimeout      time.Duration
	onStateChange    func(from, to State)
	nowFn            func() time.Time
}

func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaultFailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = defaultSuccessThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = defaultOpenTimeout
	}
	return &Breaker{
		state:            StateClosed,
		failureThreshold: cfg.FailureThreshold,
		successThreshold: cfg.SuccessThreshold,
		openTimeout:      cfg.OpenTimeout,
		onStateChange:    cfg.OnStateChange,
		nowFn:            time.Now,
	}
}

// Allow reports whether a call may proceed, moving an expired open breaker
// to half-open first.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if b.nowFn().Sub(b.lastFailureAt) > b.openTimeout {
			b.transition(StateHalfOpen)
			return nil
		}
		return ErrOpen
	}
	return nil
}

// RecordSuccess notes a successful call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	if b.state == StateHalfOpen {
		b.successes++
		if b.successes >= b.successThreshold {
			b.transition(StateClosed)
		}
	}
}

// RecordFailure notes a failed call, opening the breaker at the threshold
// and immediately on any half-open failure.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.successes = 0
	b.lastFailureAt = b.nowFn()

	switch {
	case b.state == StateHalfOpen:
		b.transition(StateOpen)
	case b.state == StateClosed && b.failures >= b.failureThreshold:
		b.transition(StateOpen)
	}
}

// CurrentState returns the state, applying the open timeout the same way
// Allow does so callers never observe a stale open.
func (b *Breaker) CurrentState() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && b.nowFn().Sub(b.lastFailureAt) > b.openTimeout {
		b.transition(StateHalfOpen)
	}
	return b.state
}

func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.successes = 0
	if to == StateClosed {
		b.failures = 0
	}
	if b.onStateChange != nil {
		b.onStateChange(from, to)
	}
}
