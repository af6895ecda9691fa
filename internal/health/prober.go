package health

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/llm-gateway/internal/domain"
	"github.com/tributary-ai/llm-gateway/internal/metrics"
)

// Pingable is the subset of the provider contract the prober needs.
type Pingable interface {
	Name() string
	Ping(ctx context.Context) (*domain.PingResult, error)
}

const (
	DefaultProbeInterval = 300 * time.Second
	DefaultProbeTimeout  = 5 * time.Second
)

// Prober runs each enabled provider's Ping at a configured cadence, feeding
// results into a Tracker. It owns no shared mutable buffers besides the
// tracker, so it never interferes with in-flight requests.
type Prober struct {
	tracker  *Tracker
	interval time.Duration
	timeout  time.Duration
	logger   *logrus.Logger
	metrics  *metrics.Registry

	mu        sync.Mutex
	providers []Pingable
	stopCh    chan struct{}
	doneCh    chan struct{}
	running   bool
}

// NewProber builds a prober. reg may be nil, in which case probe results are
// fed only to the tracker and never surfaced as a Prometheus gauge.
func NewProber(tracker *Tracker, interval, timeout time.Duration, logger *logrus.Logger, reg *metrics.Registry) *Prober {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &Prober{tracker: tracker, interval: interval, timeout: timeout, logger: logger, metrics: reg}
}

// Register adds a provider to be probed. Call before Start.
func (p *Prober) Register(provider Pingable) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.providers = append(p.providers, provider)
}

// Start launches the background probe loop. It is a no-op if already running.
func (p *Prober) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})

	go p.run()
}

func (p *Prober) run() {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.probeAll()
		}
	}
}

func (p *Prober) probeAll() {
	p.mu.Lock()
	providers := make([]Pingable, len(p.providers))
	copy(providers, p.providers)
	p.mu.Unlock()

	for _, provider := range providers {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		start := time.Now()
		result, err := provider.Ping(ctx)
		cancel()
		latency := time.Since(start).Milliseconds()

		sample := Sample{Timestamp: time.Now()}
		if err != nil || result == nil || result.Status != "healthy" {
			sample.Healthy = false
			sample.LatencyMs = 999999
			if result != nil {
				sample.ErrorKind = result.ErrorKind
			}
			if p.logger != nil {
				p.logger.WithField("provider", provider.Name()).WithError(err).Debug("probe failed")
			}
		} else {
			sample.Healthy = true
			sample.LatencyMs = result.LatencyMs
			if sample.LatencyMs == 0 {
				sample.LatencyMs = latency
			}
		}
		p.tracker.UpdateHealth(provider.Name(), sample)
		if p.metrics != nil {
			p.metrics.SetProviderHealth(provider.Name(), sample.Healthy)
		}
	}
}

// Stop halts the background loop and waits for the current iteration to
// finish. Safe to call multiple times.
func (p *Prober) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	doneCh := p.doneCh
	p.mu.Unlock()

	<-doneCh
}
