package router

import (
	"context"
	"testing"
	"time"

	prommetrics "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tributary-ai/llm-gateway/internal/breaker"
	"github.com/tributary-ai/llm-gateway/internal/domain"
	"github.com/tributary-ai/llm-gateway/internal/gatewayerr"
	"github.com/tributary-ai/llm-gateway/internal/health"
	"github.com/tributary-ai/llm-gateway/internal/metrics"
	"github.com/tributary-ai/llm-gateway/internal/tenant"
	"github.com/tributary-ai/llm-gateway/internal/testutil"
)

func newTestRouter() *Router {
	breakers := breaker.NewSet(nil, 3, time.Minute)
	tracker := health.NewTracker(nil)
	return New(nil, breakers, tracker, time.Second, nil)
}

func req() *domain.ChatRequest {
	return &domain.ChatRequest{Model: "gpt-test", Messages: []domain.Message{{Role: "user", Content: "hi"}}}
}

func TestRouteRequest_SucceedsOnSoleProvider(t *testing.T) {
	r := newTestRouter()
	fake := testutil.NewFakeProvider("openai")
	r.RegisterProvider(fake)
	tn := &tenant.Tenant{TenantID: "acme"}

	resp, err := r.RouteRequest(context.Background(), req(), tn)
	require.NoError(t, err)
	assert.Equal(t, "openai", resp.RoutingMetadata.PrimaryProvider)
	assert.Equal(t, "acme", resp.RoutingMetadata.TenantID)
}

func TestRouteRequest_FailsOverToSecondProvider(t *testing.T) {
	r := newTestRouter()
	failing := testutil.NewFakeProvider("openai").AlwaysFail(domain.ErrUpstreamOther)
	working := testutil.NewFakeProvider("anthropic")
	r.RegisterProvider(failing)
	r.RegisterProvider(working)
	tn := &tenant.Tenant{TenantID: "acme", AllowedProviders: []string{"openai", "anthropic"}, Policy: "performance-first"}

	resp, err := r.RouteRequest(context.Background(), req(), tn)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", resp.RoutingMetadata.PrimaryProvider)
	assert.Len(t, resp.RoutingMetadata.Attempts, 2)
	assert.Equal(t, "failed", resp.RoutingMetadata.Attempts[0].Status)
	assert.Equal(t, "success", resp.RoutingMetadata.Attempts[1].Status)
}

func TestRouteRequest_AllProvidersFailReturnsTypedError(t *testing.T) {
	r := newTestRouter()
	r.RegisterProvider(testutil.NewFakeProvider("openai").AlwaysFail(domain.ErrUpstreamOther))
	r.RegisterProvider(testutil.NewFakeProvider("anthropic").AlwaysFail(domain.ErrUpstreamOther))
	tn := &tenant.Tenant{TenantID: "acme"}

	_, err := r.RouteRequest(context.Background(), req(), tn)
	require.Error(t, err)
	gerr, ok := err.(*gatewayerr.Error)
	require.True(t, ok)
	assert.Equal(t, gatewayerr.AllProvidersFailed, gerr.Kind)
}

func TestRouteRequest_NoAllowedProvidersIntersectConfigured(t *testing.T) {
	r := newTestRouter()
	r.RegisterProvider(testutil.NewFakeProvider("openai"))
	tn := &tenant.Tenant{TenantID: "acme", AllowedProviders: []string{"anthropic"}}

	_, err := r.RouteRequest(context.Background(), req(), tn)
	require.Error(t, err)
	gerr, ok := err.(*gatewayerr.Error)
	require.True(t, ok)
	assert.Equal(t, gatewayerr.NoProvidersAvailable, gerr.Kind)
}

func TestRouteRequest_RespectsTenantAllowList(t *testing.T) {
	r := newTestRouter()
	r.RegisterProvider(testutil.NewFakeProvider("openai"))
	r.RegisterProvider(testutil.NewFakeProvider("anthropic"))
	tn := &tenant.Tenant{TenantID: "acme", AllowedProviders: []string{"anthropic"}}

	resp, err := r.RouteRequest(context.Background(), req(), tn)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", resp.RoutingMetadata.PrimaryProvider)
}

func TestRouteRequest_OpenBreakerExcludesProvider(t *testing.T) {
	r := newTestRouter()
	r.RegisterProvider(testutil.NewFakeProvider("openai"))
	r.RegisterProvider(testutil.NewFakeProvider("anthropic"))
	tn := &tenant.Tenant{TenantID: "acme"}

	b := r.Breakers().Get("openai")
	b.RecordFailure()
	b.RecordFailure()
	b.RecordFailure()
	require.False(t, b.IsAvailable())

	resp, err := r.RouteRequest(context.Background(), req(), tn)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", resp.RoutingMetadata.PrimaryProvider)
}

func TestRouteRequest_SuccessRecordsBreakerSuccessAndHealthSample(t *testing.T) {
	r := newTestRouter()
	r.RegisterProvider(testutil.NewFakeProvider("openai"))
	tn := &tenant.Tenant{TenantID: "acme"}

	_, err := r.RouteRequest(context.Background(), req(), tn)
	require.NoError(t, err)

	assert.Equal(t, breaker.Closed, r.Breakers().Get("openai").State())
	agg := r.Tracker().Aggregate("openai")
	assert.Equal(t, 1.0, agg.Uptime)
}

func TestRouteRequest_FailureRecordsBreakerFailureAndHealthSample(t *testing.T) {
	r := newTestRouter()
	// balanced breaks ties by name, so "anthropic" is attempted first.
	r.RegisterProvider(testutil.NewFakeProvider("anthropic").AlwaysFail(domain.ErrUpstreamOther))
	r.RegisterProvider(testutil.NewFakeProvider("openai"))
	tn := &tenant.Tenant{TenantID: "acme"}

	_, err := r.RouteRequest(context.Background(), req(), tn)
	require.NoError(t, err)

	snap := r.Breakers().Get("anthropic").Snapshot()
	assert.Equal(t, 1, snap.FailureCount)
	assert.Equal(t, 0.0, r.Tracker().Aggregate("anthropic").Uptime)
}

func TestRouteRequest_AttemptTimeoutTriggersFailover(t *testing.T) {
	breakers := breaker.NewSet(nil, 3, time.Minute)
	tracker := health.NewTracker(nil)
	r := New(nil, breakers, tracker, 10*time.Millisecond, nil)

	hanging := testutil.NewFakeProvider("openai").AlwaysHang()
	working := testutil.NewFakeProvider("anthropic")
	r.RegisterProvider(hanging)
	r.RegisterProvider(working)
	tn := &tenant.Tenant{TenantID: "acme", AllowedProviders: []string{"openai", "anthropic"}, Policy: "performance-first"}

	resp, err := r.RouteRequest(context.Background(), req(), tn)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", resp.RoutingMetadata.PrimaryProvider)
}

func TestRouteRequest_RecoversThroughHalfOpenBreaker(t *testing.T) {
	breakers := breaker.NewSet(nil, 1, 10*time.Millisecond)
	tracker := health.NewTracker(nil)
	r := New(nil, breakers, tracker, time.Second, nil)

	fake := testutil.NewFakeProvider("openai").FailThenSucceed(1, domain.ErrUpstreamOther)
	r.RegisterProvider(fake)
	tn := &tenant.Tenant{TenantID: "acme"}

	_, err := r.RouteRequest(context.Background(), req(), tn)
	require.Error(t, err, "first call trips the breaker open")
	assert.Equal(t, breaker.Open, r.Breakers().Get("openai").State())

	time.Sleep(20 * time.Millisecond)

	resp, err := r.RouteRequest(context.Background(), req(), tn)
	require.NoError(t, err, "cooldown elapsed, breaker should admit the half-open probe and it should succeed")
	assert.Equal(t, "openai", resp.RoutingMetadata.PrimaryProvider)
	assert.Equal(t, breaker.Closed, r.Breakers().Get("openai").State())
	assert.EqualValues(t, 2, fake.Calls())
}

func TestRouteRequest_RecordsProviderAttemptAndBreakerStateMetrics(t *testing.T) {
	breakers := breaker.NewSet(nil, 3, time.Minute)
	tracker := health.NewTracker(nil)
	reg := metrics.NewRegistry()
	r := New(nil, breakers, tracker, time.Second, reg)

	failing := testutil.NewFakeProvider("openai").AlwaysFail(domain.ErrUpstreamOther)
	working := testutil.NewFakeProvider("anthropic")
	r.RegisterProvider(failing)
	r.RegisterProvider(working)
	tn := &tenant.Tenant{TenantID: "acme", AllowedProviders: []string{"openai", "anthropic"}, Policy: "performance-first"}

	_, err := r.RouteRequest(context.Background(), req(), tn)
	require.NoError(t, err)

	assert.Equal(t, 1.0, prommetrics.ToFloat64(reg.ProviderRequestsTotal.WithLabelValues("openai", "failed")))
	assert.Equal(t, 1.0, prommetrics.ToFloat64(reg.ProviderRequestsTotal.WithLabelValues("anthropic", "success")))
	assert.Equal(t, 0.0, prommetrics.ToFloat64(reg.CircuitBreakerState.WithLabelValues("openai")))
	assert.Equal(t, 0.0, prommetrics.ToFloat64(reg.CircuitBreakerState.WithLabelValues("anthropic")))
}

func TestPlan_OrdersCandidatesWithoutCallingAnyProvider(t *testing.T) {
	r := newTestRouter()
	a := testutil.NewFakeProvider("openai")
	b := testutil.NewFakeProvider("anthropic")
	r.RegisterProvider(a)
	r.RegisterProvider(b)
	tn := &tenant.Tenant{TenantID: "acme", Policy: "performance-first"}

	plan, err := r.Plan(context.Background(), req(), tn)
	require.NoError(t, err)
	assert.Equal(t, "acme", plan.TenantID)
	assert.Equal(t, "performance-first", plan.PolicyUsed)
	assert.ElementsMatch(t, []string{"openai", "anthropic"}, plan.Ordered)
	assert.EqualValues(t, 0, a.Calls())
	assert.EqualValues(t, 0, b.Calls())
}

func TestPlan_ExcludesOpenBreakerAndAppliesTenantAllowList(t *testing.T) {
	r := newTestRouter()
	r.RegisterProvider(testutil.NewFakeProvider("openai"))
	r.RegisterProvider(testutil.NewFakeProvider("anthropic"))
	tn := &tenant.Tenant{TenantID: "acme", AllowedProviders: []string{"openai", "anthropic"}}

	b := r.Breakers().Get("openai")
	b.RecordFailure()
	b.RecordFailure()
	b.RecordFailure()

	plan, err := r.Plan(context.Background(), req(), tn)
	require.NoError(t, err)
	assert.Equal(t, []string{"anthropic"}, plan.Ordered)
}

func TestPlan_NoAvailableProvidersReturnsTypedError(t *testing.T) {
	r := newTestRouter()
	r.RegisterProvider(testutil.NewFakeProvider("openai"))
	tn := &tenant.Tenant{TenantID: "acme", AllowedProviders: []string{"anthropic"}}

	_, err := r.Plan(context.Background(), req(), tn)
	require.Error(t, err)
	gerr, ok := err.(*gatewayerr.Error)
	require.True(t, ok)
	assert.Equal(t, gatewayerr.NoProvidersAvailable, gerr.Kind)
}

func TestRouteRequest_CancelledContextStopsFailover(t *testing.T) {
	r := newTestRouter()
	r.RegisterProvider(testutil.NewFakeProvider("openai").AlwaysFail(domain.ErrUpstreamOther))
	r.RegisterProvider(testutil.NewFakeProvider("anthropic").AlwaysFail(domain.ErrUpstreamOther))
	tn := &tenant.Tenant{TenantID: "acme"}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.RouteRequest(ctx, req(), tn)
	require.Error(t, err)
	gerr, ok := err.(*gatewayerr.Error)
	require.True(t, ok)
	assert.Equal(t, gatewayerr.AllProvidersFailed, gerr.Kind)
}
