// Package router implements the router core: candidate resolution, policy
// ordering, and the sequential failover executor.
package router

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/llm-gateway/internal/breaker"
	"github.com/tributary-ai/llm-gateway/internal/domain"
	"github.com/tributary-ai/llm-gateway/internal/gatewayerr"
	"github.com/tributary-ai/llm-gateway/internal/health"
	"github.com/tributary-ai/llm-gateway/internal/metrics"
	"github.com/tributary-ai/llm-gateway/internal/policy"
	"github.com/tributary-ai/llm-gateway/internal/providers"
	"github.com/tributary-ai/llm-gateway/internal/tenant"
)

const DefaultAttemptTimeout = 15 * time.Second

// Router owns Provider Instances, the Circuit Breaker set, and the Health
// Tracker — the three pieces of shared mutable state the component design
// assigns to the router core exclusively.
type Router struct {
	mu             sync.RWMutex
	byName         map[string]providers.Provider
	breakers       *breaker.Set
	tracker        *health.Tracker
	attemptTimeout time.Duration
	policyParams   map[string]policy.Params
	logger         *logrus.Logger
	metrics        *metrics.Registry
}

// New wires a Router core. metrics may be nil, in which case per-attempt and
// breaker-transition instrumentation is simply skipped (e.g. in unit tests
// that don't care about Prometheus output).
func New(logger *logrus.Logger, breakers *breaker.Set, tracker *health.Tracker, attemptTimeout time.Duration, reg *metrics.Registry) *Router {
	if attemptTimeout <= 0 {
		attemptTimeout = DefaultAttemptTimeout
	}
	return &Router{
		byName:         make(map[string]providers.Provider),
		breakers:       breakers,
		tracker:        tracker,
		attemptTimeout: attemptTimeout,
		policyParams:   make(map[string]policy.Params),
		logger:         logger,
		metrics:        reg,
	}
}

// RegisterProvider adds a provider instance. Writes only happen at startup
// or hot-reload, under the write lock; reads are read-mostly.
func (r *Router) RegisterProvider(p providers.Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[p.Name()] = p
}

// SetPolicyParams overrides a named policy's parameters (from
// policies/routing.json), e.g. a custom min_uptime or cost table.
func (r *Router) SetPolicyParams(policyName string, params policy.Params) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policyParams[policyName] = params
}

func (r *Router) paramsFor(policyName string) policy.Params {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.policyParams[policyName]; ok {
		return p
	}
	return policy.DefaultParams()
}

// configuredProviders returns the names of every enabled, loaded provider.
func (r *Router) configuredProviders() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Router) providerByName(name string) providers.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byName[name]
}

// Breakers exposes the breaker set for observability handlers.
func (r *Router) Breakers() *breaker.Set { return r.breakers }

// Tracker exposes the health tracker for observability handlers.
func (r *Router) Tracker() *health.Tracker { return r.tracker }

// Providers exposes the set of registered providers, for the prober to
// register against at startup.
func (r *Router) Providers() []providers.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]providers.Provider, 0, len(r.byName))
	for _, p := range r.byName {
		out = append(out, p)
	}
	return out
}

// intersect returns the elements of a that also appear in b, preserving a's
// order.
func intersect(a, b []string) []string {
	set := make(map[string]struct{}, len(b))
	for _, v := range b {
		set[v] = struct{}{}
	}
	var out []string
	for _, v := range a {
		if _, ok := set[v]; ok {
			out = append(out, v)
		}
	}
	return out
}

// resolveOrder runs the first three steps of the routing algorithm shared by
// RouteRequest and Plan: intersect the tenant's allow-list with configured
// providers and drop any with an open breaker, snapshot their health, then
// order what's left by policy. Returns the policy name actually used alongside the ordering.
func (r *Router) resolveOrder(t *tenant.Tenant) (ordered []string, policyName string, err error) {
	allowed := t.AllowedProviders
	if len(allowed) == 0 {
		allowed = r.configuredProviders()
	}
	candidates := intersect(allowed, r.configuredProviders())

	var available []string
	for _, name := range candidates {
		if r.breakers.Get(name).IsAvailable() {
			available = append(available, name)
		}
	}
	if len(available) == 0 {
		return nil, "", gatewayerr.New(gatewayerr.NoProvidersAvailable, "no providers available for this tenant")
	}

	snapshot := r.tracker.Snapshot(available)

	policyName = t.Policy
	if policyName == "" {
		policyName = policy.Balanced
	}
	ordered = policy.Order(available, snapshot, policyName, r.paramsFor(policyName))
	return ordered, policyName, nil
}

// Plan resolves candidates and orders them per the tenant's policy without
// executing any provider call — the dry-run counterpart of RouteRequest,
// used by callers that want to know what a request would attempt.
func (r *Router) Plan(ctx context.Context, req *domain.ChatRequest, t *tenant.Tenant) (*domain.RoutingPlan, error) {
	ordered, policyName, err := r.resolveOrder(t)
	if err != nil {
		return nil, err
	}
	return &domain.RoutingPlan{
		TenantID:   t.TenantID,
		PolicyUsed: policyName,
		Ordered:    ordered,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}, nil
}

// RouteRequest performs the five-step algorithm: resolve candidates, order
// via policy, execute sequential failover with a per-attempt deadline.
func (r *Router) RouteRequest(ctx context.Context, req *domain.ChatRequest, t *tenant.Tenant) (*domain.ChatResponse, error) {
	start := time.Now()

	ordered, policyName, err := r.resolveOrder(t)
	if err != nil {
		return nil, err
	}

	var attempts []domain.Attempt
	for _, name := range ordered {
		if ctx.Err() != nil {
			return nil, gatewayerr.Wrap(gatewayerr.AllProvidersFailed, "request cancelled before all providers tried", ctx.Err()).
				WithDetails(map[string]any{"attempts": attempts})
		}

		provider := r.providerByName(name)
		if provider == nil {
			continue
		}

		attemptCtx, cancel := context.WithTimeout(ctx, r.attemptTimeout)
		attemptStart := time.Now()
		resp, err := provider.MakeRequest(attemptCtx, req)
		duration := time.Since(attemptStart)
		cancel()

		if err == nil {
			b := r.breakers.Get(name)
			b.RecordSuccess()
			r.tracker.UpdateHealth(name, health.Sample{Timestamp: time.Now(), Healthy: true, LatencyMs: duration.Milliseconds()})
			attempts = append(attempts, domain.Attempt{Provider: name, Status: "success", DurationMs: duration.Milliseconds()})
			if r.metrics != nil {
				r.metrics.RecordProviderAttempt(name, "success", duration.Seconds())
				r.metrics.SetCircuitBreakerState(name, string(b.State()))
			}

			resp.RoutingMetadata = &domain.RoutingMetadata{
				PrimaryProvider:     name,
				Attempts:            attempts,
				TotalProcessingTime: time.Since(start).Milliseconds(),
				PolicyUsed:          policyName,
				Timestamp:           time.Now().UTC().Format(time.RFC3339),
				TenantID:            t.TenantID,
			}
			if resp.ID == "" {
				resp.ID = "chatcmpl-" + uuid.NewString()
			}
			return resp, nil
		}

		b := r.breakers.Get(name)
		b.RecordFailure()
		kind := domain.ErrUpstreamOther
		if pe, ok := err.(*domain.ProviderError); ok {
			kind = pe.Kind
		}
		sampleLatency := int64(999999)
		if attemptCtx.Err() != nil {
			kind = domain.ErrUpstreamTimeout
		}
		r.tracker.UpdateHealth(name, health.Sample{Timestamp: time.Now(), Healthy: false, LatencyMs: sampleLatency, ErrorKind: kind})

		attempts = append(attempts, domain.Attempt{Provider: name, Status: "failed", DurationMs: duration.Milliseconds(), Error: errMessage(err)})
		if r.metrics != nil {
			r.metrics.RecordProviderAttempt(name, "failed", duration.Seconds())
			r.metrics.SetCircuitBreakerState(name, string(b.State()))
		}
		if r.logger != nil {
			r.logger.WithFields(logrus.Fields{"provider": name, "kind": kind}).Warn("provider attempt failed, trying next")
		}
	}

	return nil, gatewayerr.New(gatewayerr.AllProvidersFailed, "all providers failed").
		WithDetails(map[string]any{"attempts": attempts})
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("%v", err)
}
