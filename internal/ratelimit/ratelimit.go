// Package ratelimit implements the per-tenant rate limiter described in the
// component design: a fixed per-minute quota enforced per tenant, with a
// periodic sweep to bound memory.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultWindow           = 60 * time.Second
	DefaultLimitPerMinute   = 100
	defaultSweepInterval    = 5 * time.Minute
	defaultIdleEviction     = 10 * time.Minute
)

// entry pairs a token-bucket limiter (refilled continuously at
// limit/window, burst = limit) with a manual window counter used only to
// report the wire contract's X-RateLimit-Remaining/-Reset headers; the
// admission decision itself always comes from the token bucket.
type entry struct {
	mu          sync.Mutex
	limiter     *rate.Limiter
	limit       int
	windowStart time.Time
	count       int
	lastSeen    time.Time
}

// Limiter enforces a per-tenant request budget. The underlying primitive is
// golang.org/x/time/rate rather than a literal wall-clock window: a
// continuously-refilling token bucket sized to the tenant's per-minute
// quota gives the same steady-state throughput as a fixed window without
// the boundary thundering-herd a naive reset produces, while still
// reporting the wire contract's X-RateLimit-* headers.
type Limiter struct {
	mu       sync.Mutex
	entries  map[string]*entry
	window   time.Duration
	stopCh   chan struct{}
}

func New(window time.Duration) *Limiter {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{
		entries: make(map[string]*entry),
		window:  window,
	}
}

func (l *Limiter) entryFor(tenantID string, limit int) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[tenantID]
	if !ok || e.limit != limit {
		ratePerSec := rate.Limit(float64(limit) / l.window.Seconds())
		e = &entry{limiter: rate.NewLimiter(ratePerSec, limit), limit: limit, windowStart: time.Now()}
		l.entries[tenantID] = e
	}
	e.lastSeen = time.Now()
	return e
}

// Result reports the outcome of an Allow check, including the headers the
// HTTP layer surfaces on a 429.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetUnix int64
}

// Allow checks and consumes one unit of tenant's budget, sized to limit
// (falling back to DefaultLimitPerMinute when limit <= 0).
func (l *Limiter) Allow(tenantID string, limit int) Result {
	if limit <= 0 {
		limit = DefaultLimitPerMinute
	}
	e := l.entryFor(tenantID, limit)

	now := time.Now()
	allowed := e.limiter.AllowN(now, 1)

	e.mu.Lock()
	if now.Sub(e.windowStart) >= l.window {
		e.windowStart = now
		e.count = 0
	}
	if allowed {
		e.count++
	}
	remaining := limit - e.count
	if remaining < 0 {
		remaining = 0
	}
	resetUnix := e.windowStart.Add(l.window).Unix()
	e.mu.Unlock()

	return Result{
		Allowed:   allowed,
		Limit:     limit,
		Remaining: remaining,
		ResetUnix: resetUnix,
	}
}

// StartSweep launches a background goroutine evicting limiters unused past
// idleEviction, bounding the limiter map's memory. Mirrors the teacher's
// cleanup-goroutine idiom used elsewhere for the same purpose.
func (l *Limiter) StartSweep(interval, idleEviction time.Duration) {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if idleEviction <= 0 {
		idleEviction = defaultIdleEviction
	}
	l.mu.Lock()
	if l.stopCh != nil {
		l.mu.Unlock()
		return
	}
	l.stopCh = make(chan struct{})
	stopCh := l.stopCh
	l.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				l.sweep(idleEviction)
			}
		}
	}()
}

func (l *Limiter) sweep(idleEviction time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	for key, e := range l.entries {
		if now.Sub(e.lastSeen) > idleEviction {
			delete(l.entries, key)
		}
	}
}

// Stop halts the sweep goroutine, if running.
func (l *Limiter) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopCh != nil {
		close(l.stopCh)
		l.stopCh = nil
	}
}
