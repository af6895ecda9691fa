// Package integration exercises the gateway end to end: a real HTTP
// listener in front of a real Router core, tenant registry, and security
// middleware, with fake providers standing in for upstreams.
package integration

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tributary-ai/llm-gateway/internal/breaker"
	"github.com/tributary-ai/llm-gateway/internal/domain"
	"github.com/tributary-ai/llm-gateway/internal/health"
	"github.com/tributary-ai/llm-gateway/internal/metrics"
	"github.com/tributary-ai/llm-gateway/internal/middleware"
	"github.com/tributary-ai/llm-gateway/internal/router"
	"github.com/tributary-ai/llm-gateway/internal/security"
	"github.com/tributary-ai/llm-gateway/internal/server"
	"github.com/tributary-ai/llm-gateway/internal/tenant"
	"github.com/tributary-ai/llm-gateway/internal/testutil"
)

type testGateway struct {
	*httptest.Server
	tenants *tenant.Registry
	router  *router.Router
}

func newTestGateway(t *testing.T) *testGateway {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	tenants := tenant.NewRegistry(logger, nil)
	tenants.Put(&tenant.Tenant{
		TenantID:         "acme",
		APIKeys:          []string{"acme-key"},
		AllowedProviders: []string{"openai", "anthropic"},
		Policy:           "performance-first",
		Quotas:           tenant.Quotas{DailyRequests: 100, MonthlyRequests: 1000},
	})

	reg := metrics.NewRegistry()

	breakers := breaker.NewSet(logger, 3, time.Minute)
	tracker := health.NewTracker(logger)
	r := router.New(logger, breakers, tracker, time.Second, reg)

	cfg := &server.ServerConfig{
		Port:      "0",
		RateLimit: time.Minute,
		Security: &middleware.SecurityMiddlewareConfig{
			Auth: &security.AuthConfig{RequireAuth: true},
		},
	}
	srv, err := server.NewServer(r, tenants, reg, cfg, logger)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testGateway{Server: ts, tenants: tenants, router: r}
}

func (g *testGateway) post(t *testing.T, path, apiKey string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, g.URL+path, bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestGateway_ChatCompletionsRoundTrip(t *testing.T) {
	gw := newTestGateway(t)
	gw.router.RegisterProvider(testutil.NewFakeProvider("openai"))
	gw.router.RegisterProvider(testutil.NewFakeProvider("anthropic"))

	resp := gw.post(t, "/v1/chat/completions", "acme-key", domain.ChatRequest{
		Model:    "gpt-test",
		Messages: []domain.Message{{Role: "user", Content: "hello"}},
	})
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var decoded domain.ChatResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	require.NotNil(t, decoded.RoutingMetadata)
	assert.Equal(t, "acme", decoded.RoutingMetadata.TenantID)
}

func TestGateway_MissingAuthIsRejected(t *testing.T) {
	gw := newTestGateway(t)
	gw.router.RegisterProvider(testutil.NewFakeProvider("openai"))

	resp := gw.post(t, "/v1/chat/completions", "", domain.ChatRequest{
		Model:    "gpt-test",
		Messages: []domain.Message{{Role: "user", Content: "hello"}},
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestGateway_UnknownAPIKeyIsRejected(t *testing.T) {
	gw := newTestGateway(t)
	gw.router.RegisterProvider(testutil.NewFakeProvider("openai"))

	resp := gw.post(t, "/v1/chat/completions", "not-a-real-key", domain.ChatRequest{
		Model:    "gpt-test",
		Messages: []domain.Message{{Role: "user", Content: "hello"}},
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestGateway_FailoverAcrossProviders(t *testing.T) {
	gw := newTestGateway(t)
	gw.router.RegisterProvider(testutil.NewFakeProvider("openai").AlwaysFail(domain.ErrUpstreamOther))
	gw.router.RegisterProvider(testutil.NewFakeProvider("anthropic"))

	resp := gw.post(t, "/v1/chat/completions", "acme-key", domain.ChatRequest{
		Model:    "gpt-test",
		Messages: []domain.Message{{Role: "user", Content: "hello"}},
	})
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var decoded domain.ChatResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	assert.Equal(t, "anthropic", decoded.RoutingMetadata.PrimaryProvider)
}

func TestGateway_AllProvidersDownReturnsBadGateway(t *testing.T) {
	gw := newTestGateway(t)
	gw.router.RegisterProvider(testutil.NewFakeProvider("openai").AlwaysFail(domain.ErrUpstreamOther))
	gw.router.RegisterProvider(testutil.NewFakeProvider("anthropic").AlwaysFail(domain.ErrUpstreamOther))

	resp := gw.post(t, "/v1/chat/completions", "acme-key", domain.ChatRequest{
		Model:    "gpt-test",
		Messages: []domain.Message{{Role: "user", Content: "hello"}},
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestGateway_InvalidBodyIsRejected(t *testing.T) {
	gw := newTestGateway(t)
	gw.router.RegisterProvider(testutil.NewFakeProvider("openai"))

	resp := gw.post(t, "/v1/chat/completions", "acme-key", map[string]string{"model": ""})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGateway_HealthEndpointNeedsNoAuth(t *testing.T) {
	gw := newTestGateway(t)

	resp, err := http.Get(gw.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGateway_CapabilitiesReportsAllowedProvidersAndBreakerState(t *testing.T) {
	gw := newTestGateway(t)
	gw.router.RegisterProvider(testutil.NewFakeProvider("openai"))
	gw.router.RegisterProvider(testutil.NewFakeProvider("anthropic"))

	req, err := http.NewRequest(http.MethodGet, gw.URL+"/v1/capabilities", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer acme-key")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var decoded struct {
		Capabilities map[string]map[string]any `json:"capabilities"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	assert.Contains(t, decoded.Capabilities, "openai")
	assert.Contains(t, decoded.Capabilities, "anthropic")
	assert.Equal(t, true, decoded.Capabilities["openai"]["available"])
}

func TestGateway_RoutingDecisionReturnsPlanWithoutCallingProviders(t *testing.T) {
	gw := newTestGateway(t)
	fake := testutil.NewFakeProvider("openai")
	gw.router.RegisterProvider(fake)
	gw.router.RegisterProvider(testutil.NewFakeProvider("anthropic"))

	resp := gw.post(t, "/v1/routing/decision", "acme-key", domain.ChatRequest{
		Model:    "gpt-test",
		Messages: []domain.Message{{Role: "user", Content: "hello"}},
	})
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var plan domain.RoutingPlan
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&plan))
	assert.Equal(t, "acme", plan.TenantID)
	assert.ElementsMatch(t, []string{"openai", "anthropic"}, plan.Ordered)
	assert.EqualValues(t, 0, fake.Calls())
}

func TestGateway_MetricsEndpointExposesPrometheusFormat(t *testing.T) {
	gw := newTestGateway(t)
	gw.router.RegisterProvider(testutil.NewFakeProvider("openai"))

	resp1 := gw.post(t, "/v1/chat/completions", "acme-key", domain.ChatRequest{
		Model:    "gpt-test",
		Messages: []domain.Message{{Role: "user", Content: "hello"}},
	})
	resp1.Body.Close()

	resp, err := http.Get(gw.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/plain")
}
