// Package metrics wires the gateway's request, provider, and rate-limit
// counters into a Prometheus registry, replacing the teacher's hand-built
// /metrics string formatter with real collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry owns every collector the gateway exposes on /metrics.
type Registry struct {
	*prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	ProviderRequestsTotal *prometheus.CounterVec
	ProviderLatency       *prometheus.HistogramVec
	ProviderHealth        *prometheus.GaugeVec
	CircuitBreakerState   *prometheus.GaugeVec

	TokensTotal *prometheus.CounterVec

	RateLimitRejections *prometheus.CounterVec
	QuotaRejections     *prometheus.CounterVec
}

// NewRegistry creates a fresh registry with the Go runtime collector and
// every gateway-specific metric registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	r := &Registry{Registry: reg}
	r.init()
	return r
}

func (r *Registry) init() {
	r.RequestsTotal = r.counterVec(
		"llm_gateway_requests_total",
		"Total number of client requests processed",
		[]string{"tenant", "policy", "status"},
	)

	r.RequestDuration = r.histogramVec(
		"llm_gateway_request_duration_seconds",
		"End-to-end request duration in seconds, including failover attempts",
		[]string{"tenant", "policy"},
		[]float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	)

	r.ProviderRequestsTotal = r.counterVec(
		"llm_gateway_provider_requests_total",
		"Total requests attempted against each upstream provider",
		[]string{"provider", "status"},
	)

	r.ProviderLatency = r.histogramVec(
		"llm_gateway_provider_latency_seconds",
		"Per-attempt upstream provider latency in seconds",
		[]string{"provider"},
		[]float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	)

	r.ProviderHealth = r.gaugeVec(
		"llm_gateway_provider_health",
		"Provider health status (1=healthy, 0=unhealthy)",
		[]string{"provider"},
	)

	r.CircuitBreakerState = r.gaugeVec(
		"llm_gateway_circuit_breaker_state",
		"Circuit breaker state (0=closed, 1=open, 2=half-open)",
		[]string{"provider"},
	)

	r.TokensTotal = r.counterVec(
		"llm_gateway_tokens_total",
		"Total number of tokens processed",
		[]string{"tenant", "provider", "token_type"},
	)

	r.RateLimitRejections = r.counterVec(
		"llm_gateway_rate_limit_rejections_total",
		"Total requests rejected by the per-tenant rate limiter",
		[]string{"tenant"},
	)

	r.QuotaRejections = r.counterVec(
		"llm_gateway_quota_rejections_total",
		"Total requests rejected for exceeding a tenant quota",
		[]string{"tenant", "quota_kind"},
	)
}

func (r *Registry) counterVec(name, help string, labels []string) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels)
	r.Registry.MustRegister(c)
	return c
}

func (r *Registry) histogramVec(name, help string, labels []string, buckets []float64) *prometheus.HistogramVec {
	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: name, Help: help, Buckets: buckets}, labels)
	r.Registry.MustRegister(h)
	return h
}

func (r *Registry) gaugeVec(name, help string, labels []string) *prometheus.GaugeVec {
	g := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, labels)
	r.Registry.MustRegister(g)
	return g
}

// Handler returns the Prometheus exposition endpoint for this registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.Registry, promhttp.HandlerOpts{})
}

// RecordRequest records one completed client-facing request.
func (r *Registry) RecordRequest(tenant, policy, status string, duration float64) {
	r.RequestsTotal.WithLabelValues(tenant, policy, status).Inc()
	r.RequestDuration.WithLabelValues(tenant, policy).Observe(duration)
}

// RecordProviderAttempt records one outbound call to a single provider.
func (r *Registry) RecordProviderAttempt(provider, status string, duration float64) {
	r.ProviderRequestsTotal.WithLabelValues(provider, status).Inc()
	r.ProviderLatency.WithLabelValues(provider).Observe(duration)
}

// RecordTokens records prompt/completion token counts for a successful
// response.
func (r *Registry) RecordTokens(tenant, provider string, prompt, completion int) {
	r.TokensTotal.WithLabelValues(tenant, provider, "prompt").Add(float64(prompt))
	r.TokensTotal.WithLabelValues(tenant, provider, "completion").Add(float64(completion))
}

// SetProviderHealth reflects the health tracker's current verdict for a
// provider onto the gauge.
func (r *Registry) SetProviderHealth(provider string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1.0
	}
	r.ProviderHealth.WithLabelValues(provider).Set(v)
}

// breakerStateValue maps a breaker.State string to the gauge's numeric
// encoding, kept here (rather than importing internal/breaker) to avoid a
// metrics -> breaker dependency; callers pass the state's string form
// (breaker.Closed/Open/HalfOpen stringify to "closed"/"open"/"half_open").
func breakerStateValue(state string) float64 {
	switch state {
	case "open":
		return 1
	case "half_open":
		return 2
	default:
		return 0
	}
}

// SetCircuitBreakerState reflects a breaker's current state onto the gauge.
func (r *Registry) SetCircuitBreakerState(provider, state string) {
	r.CircuitBreakerState.WithLabelValues(provider).Set(breakerStateValue(state))
}

// RecordRateLimitRejection increments the per-tenant rate-limit counter.
func (r *Registry) RecordRateLimitRejection(tenant string) {
	r.RateLimitRejections.WithLabelValues(tenant).Inc()
}

// RecordQuotaRejection increments the per-tenant, per-quota-kind counter.
func (r *Registry) RecordQuotaRejection(tenant, quotaKind string) {
	r.QuotaRejections.WithLabelValues(tenant, quotaKind).Inc()
}
