// Package health implements the per-provider health tracker: a bounded
// rolling history of samples plus trailing-window aggregates that feed the
// policy engine's scoring.
package health

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/llm-gateway/internal/domain"
)

const (
	// HistorySize is N, the ring buffer capacity per provider.
	HistorySize = 100
	// WindowSize is K, the trailing window aggregates are computed over.
	WindowSize = 20

	fallbackAvgLatencyMs = 200
	consecutiveFailureWarnAt = 3
)

// Sample is one health observation: an attempt outcome, a probe result, or
// an explicit record.
type Sample struct {
	Timestamp time.Time
	Healthy   bool
	LatencyMs int64
	ErrorKind domain.ErrorKind
}

// Aggregate is the derived view over a provider's trailing window.
type Aggregate struct {
	Uptime              float64
	AvgLatencyMs        float64
	ConsecutiveFailures int
}

// providerHistory is one provider's ring buffer plus running counters,
// guarded by its own mutex so one provider's writes never block another's.
type providerHistory struct {
	mu                  sync.Mutex
	samples             []Sample // ring buffer, oldest overwritten past HistorySize
	consecutiveFailures int
}

func (h *providerHistory) record(s Sample) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.samples = append(h.samples, s)
	if len(h.samples) > HistorySize {
		h.samples = h.samples[len(h.samples)-HistorySize:]
	}

	if s.Healthy {
		h.consecutiveFailures = 0
	} else {
		h.consecutiveFailures++
	}
}

func (h *providerHistory) aggregate() Aggregate {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := len(h.samples)
	start := 0
	if n > WindowSize {
		start = n - WindowSize
	}
	window := h.samples[start:]

	if len(window) == 0 {
		return Aggregate{Uptime: 1.0, AvgLatencyMs: fallbackAvgLatencyMs, ConsecutiveFailures: h.consecutiveFailures}
	}

	healthy := 0
	var latencySum float64
	healthyCount := 0
	for _, s := range window {
		if s.Healthy {
			healthy++
			latencySum += float64(s.LatencyMs)
			healthyCount++
		}
	}

	avgLatency := float64(fallbackAvgLatencyMs)
	if healthyCount > 0 {
		avgLatency = latencySum / float64(healthyCount)
	}

	return Aggregate{
		Uptime:              float64(healthy) / float64(len(window)),
		AvgLatencyMs:         avgLatency,
		ConsecutiveFailures: h.consecutiveFailures,
	}
}

// Tracker owns one providerHistory per provider.
type Tracker struct {
	mu        sync.RWMutex
	providers map[string]*providerHistory
	logger    *logrus.Logger
}

func NewTracker(logger *logrus.Logger) *Tracker {
	return &Tracker{
		providers: make(map[string]*providerHistory),
		logger:    logger,
	}
}

func (t *Tracker) historyFor(provider string) *providerHistory {
	t.mu.RLock()
	h, ok := t.providers[provider]
	t.mu.RUnlock()
	if ok {
		return h
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if h, ok = t.providers[provider]; ok {
		return h
	}
	h = &providerHistory{}
	t.providers[provider] = h
	return h
}

// UpdateHealth appends a sample for provider. Every in-line request outcome
// and every probe result must call this.
func (t *Tracker) UpdateHealth(provider string, s Sample) {
	h := t.historyFor(provider)

	wasFailing := h.consecutiveFailures
	h.record(s)

	if t.logger == nil {
		return
	}
	entry := t.logger.WithField("provider", provider)
	if !s.Healthy && h.consecutiveFailures == consecutiveFailureWarnAt {
		entry.Warn("provider reached consecutive failure warning threshold")
	}
	if wasFailing > 0 && h.consecutiveFailures == 0 {
		entry.Info("provider recovered")
	}
}

// Aggregate returns the current trailing-window aggregate for provider.
func (t *Tracker) Aggregate(provider string) Aggregate {
	return t.historyFor(provider).aggregate()
}

// Snapshot returns aggregates for the given providers only (providers not
// listed are left out, even if tracked), suitable for handing to the policy
// engine without holding any lock across the call.
func (t *Tracker) Snapshot(providers []string) map[string]Aggregate {
	out := make(map[string]Aggregate, len(providers))
	for _, p := range providers {
		out[p] = t.Aggregate(p)
	}
	return out
}

// HistoryLen reports the current ring buffer length for a provider (used by
// tests asserting the bound holds).
func (t *Tracker) HistoryLen(provider string) int {
	h := t.historyFor(provider)
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.samples)
}
