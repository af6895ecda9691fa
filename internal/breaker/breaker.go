// Package breaker implements the per-provider circuit breaker described in
// the router's component design: a {CLOSED, OPEN, HALF_OPEN} state machine
// that gates whether a provider is currently callable.
package breaker

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// State is one of the three breaker states.
type State string

const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "half_open"
)

const (
	DefaultThreshold = 5
	DefaultCooldown  = 60 * time.Second
)

// Breaker is a single provider's circuit breaker. All state mutation
// happens under b.mu so reads may observe stale state but never an
// inconsistent state/next-attempt-time pair.
type Breaker struct {
	mu              sync.Mutex
	provider        string
	state           State
	failureCount    int
	threshold       int
	cooldown        time.Duration
	lastFailureTime time.Time
	nextAttemptTime time.Time
	logger          *logrus.Entry
}

// New creates a breaker for provider starting CLOSED.
func New(provider string, threshold int, cooldown time.Duration, logger *logrus.Logger) *Breaker {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	var entry *logrus.Entry
	if logger != nil {
		entry = logger.WithFields(logrus.Fields{"component": "breaker", "provider": provider})
	}
	return &Breaker{
		provider:  provider,
		state:     Closed,
		threshold: threshold,
		cooldown:  cooldown,
		logger:    entry,
	}
}

// IsAvailable is the only accessor the router core uses to filter
// candidates. A check against an OPEN breaker past its cool-down window
// transitions it to HALF_OPEN and returns true; while HALF_OPEN, every check
// returns true until RecordSuccess or RecordFailure settles the state.
func (b *Breaker) IsAvailable() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed, HalfOpen:
		return true
	case Open:
		if !time.Now().Before(b.nextAttemptTime) {
			b.state = HalfOpen
			if b.logger != nil {
				b.logger.Info("circuit breaker entering half-open probe")
			}
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess reports a successful call outcome.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	prevState := b.state
	b.failureCount = 0
	b.state = Closed
	if prevState != Closed && b.logger != nil {
		b.logger.Info("circuit breaker closed after success")
	}
}

// RecordFailure reports a failed call outcome.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.lastFailureTime = now

	switch b.state {
	case HalfOpen:
		b.state = Open
		b.nextAttemptTime = now.Add(b.cooldown)
		if b.logger != nil {
			b.logger.Warn("circuit breaker re-opened after half-open probe failure")
		}
	case Closed, Open:
		b.failureCount++
		if b.failureCount >= b.threshold {
			if b.state != Open && b.logger != nil {
				b.logger.WithField("failure_count", b.failureCount).Warn("circuit breaker opened")
			}
			b.state = Open
			b.nextAttemptTime = now.Add(b.cooldown)
		}
	}
}

// State returns the current state for observability endpoints.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot is a point-in-time, lock-free view for JSON responses.
type Snapshot struct {
	Provider        string    `json:"provider"`
	State           State     `json:"state"`
	FailureCount    int       `json:"failure_count"`
	LastFailureTime time.Time `json:"last_failure_time,omitempty"`
	NextAttemptTime time.Time `json:"next_attempt_time,omitempty"`
}

func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Provider:        b.provider,
		State:           b.state,
		FailureCount:    b.failureCount,
		LastFailureTime: b.lastFailureTime,
		NextAttemptTime: b.nextAttemptTime,
	}
}

// Set is a registry of breakers keyed by provider name, created once per
// Provider Instance and discarded on shutdown.
type Set struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	logger   *logrus.Logger
	threshold int
	cooldown  time.Duration
}

func NewSet(logger *logrus.Logger, threshold int, cooldown time.Duration) *Set {
	return &Set{
		breakers:  make(map[string]*Breaker),
		logger:    logger,
		threshold: threshold,
		cooldown:  cooldown,
	}
}

// Get returns the breaker for provider, creating it on first use.
func (s *Set) Get(provider string) *Breaker {
	s.mu.RLock()
	b, ok := s.breakers[provider]
	s.mu.RUnlock()
	if ok {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok = s.breakers[provider]; ok {
		return b
	}
	b = New(provider, s.threshold, s.cooldown, s.logger)
	s.breakers[provider] = b
	return b
}

// Snapshots returns every tracked breaker's state, e.g. for
// GET /v1/health/providers.
func (s *Set) Snapshots() map[string]Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Snapshot, len(s.breakers))
	for name, b := range s.breakers {
		out[name] = b.Snapshot()
	}
	return out
}
