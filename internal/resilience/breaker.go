// Package resilience provides the circuit breaker that guards outbound
// language-model provider calls. A breaker only fails fast: it never retries
// and never redirects a call to another provider.
package resilience

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the circuit breaker is open and rejecting calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the externally visible breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Breaker tracks consecutive failures of one provider and opens after a
// threshold. While open every call is rejected until the timeout elapses;
// then exactly one probe call is let through (half-open).
type Breaker struct {
	name        string
	mu          sync.Mutex
	state       State
	failures    int
	probing     bool
	maxFailures int
	timeout     time.Duration
	openedAt    time.Time
	now         func() time.Time // for testing

	// ignore reports errors that say nothing about the provider's health
	// (missing credentials, caller mistakes). They pass through uncounted.
	ignore func(error) bool
}

// NewBreaker creates a circuit breaker that opens after maxFailures consecutive
// failures and stays open for the given timeout before transitioning to half-open.
func NewBreaker(name string, maxFailures int, timeout time.Duration) *Breaker {
	if maxFailures < 1 {
		maxFailures = 1
	}
	return &Breaker{
		name:        name,
		state:       StateClosed,
		maxFailures: maxFailures,
		timeout:     timeout,
		now:         time.Now,
	}
}

// Name returns the guarded dependency name.
func (b *Breaker) Name() string { return b.name }

// Execute runs fn if the circuit allows it.
// Returns ErrCircuitOpen without calling fn if the circuit is open.
func (b *Breaker) Execute(fn func() error) error {
	if !b.allowRequest() {
		return ErrCircuitOpen
	}

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false

	if err != nil {
		// Ignored errors say nothing about upstream health.
		if b.ignore != nil && b.ignore(err) {
			return err
		}
		b.onFailure()
		return err
	}

	b.onSuccess()
	return nil
}

// State reports the current state, promoting open to half-open once the
// timeout has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.timeout {
		return StateHalfOpen
	}
	return b.state
}

func (b *Breaker) allowRequest() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.timeout {
			return false
		}
		b.state = StateHalfOpen
		b.probing = true
		return true
	case StateHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
	return false
}

// onFailure must be called with b.mu held.
func (b *Breaker) onFailure() {
	b.failures++
	if b.state == StateHalfOpen || b.failures >= b.maxFailures {
		b.state = StateOpen
		b.openedAt = b.now()
	}
}

// onSuccess must be called with b.mu held.
func (b *Breaker) onSuccess() {
	b.failures = 0
	b.state = StateClosed
}

// Set lazily creates one Breaker per name with shared settings.
type Set struct {
	mu          sync.Mutex
	breakers    map[string]*Breaker
	maxFailures int
	timeout     time.Duration
	ignore      func(error) bool
}

// NewSet returns an empty breaker set. ignore may be nil.
func NewSet(maxFailures int, timeout time.Duration, ignore func(error) bool) *Set {
	return &Set{
		breakers:    make(map[string]*Breaker),
		maxFailures: maxFailures,
		timeout:     timeout,
		ignore:      ignore,
	}
}

// Get returns the breaker for name, creating it on first use.
func (s *Set) Get(name string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breakers[name]
	if !ok {
		b = NewBreaker(name, s.maxFailures, s.timeout)
		b.ignore = s.ignore
		s.breakers[name] = b
	}
	return b
}

// States returns a snapshot of every known breaker, sorted by name.
func (s *Set) States() []NamedState {
	s.mu.Lock()
	names := make([]string, 0, len(s.breakers))
	for n := range s.breakers {
		names = append(names, n)
	}
	s.mu.Unlock()
	sort.Strings(names)

	out := make([]NamedState, 0, len(names))
	for _, n := range names {
		out = append(out, NamedState{Name: n, State: s.Get(n).State()})
	}
	return out
}

// NamedState pairs a breaker name with its state.
type NamedState struct {
	Name  string `json:"name"`
	State State  `json:"state"`
}
