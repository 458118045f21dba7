package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while a breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

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

// Breaker is a consecutive-failure circuit breaker. After MaxFailures
// failures it opens for Cooldown, then admits a single probe.
type Breaker struct {
	name        string
	maxFailures int
	cooldown    time.Duration
	now         func() time.Time

	mu          sync.Mutex
	state       State
	failures    int
	openedAt    time.Time
	probeActive bool
}

func NewBreaker(name string, maxFailures int, cooldown time.Duration) *Breaker {
	if maxFailures < 1 {
		maxFailures = 1
	}
	return &Breaker{
		name:        name,
		maxFailures: maxFailures,
		cooldown:    cooldown,
		now:         time.Now,
	}
}

// Allow reports whether a call may proceed. Every allowed call must be
// followed by Record.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return ErrCircuitOpen
		}
		slog.Info("Circuit breaker half-open", "breaker", b.name)
		b.state = StateHalfOpen
		b.probeActive = true
		return nil
	default:
		if b.probeActive {
			return ErrCircuitOpen
		}
		b.probeActive = true
		return nil
	}
}

// Record feeds the outcome of an allowed call back into the breaker.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		if b.state != StateClosed {
			slog.Info("Circuit breaker closed", "breaker", b.name)
		}
		b.state = StateClosed
		b.failures = 0
		b.probeActive = false
		return
	}

	b.failures++
	switch b.state {
	case StateHalfOpen:
		slog.Warn("Circuit breaker re-opened after failed probe", "breaker", b.name)
		b.state = StateOpen
		b.openedAt = b.now()
		b.probeActive = false
	case StateClosed:
		if b.failures >= b.maxFailures {
			slog.Warn("Circuit breaker opened", "breaker", b.name, "failures", b.failures)
			b.state = StateOpen
			b.openedAt = b.now()
		}
	}
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.probeActive = false
}
