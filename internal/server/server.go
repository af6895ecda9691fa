// Package server exposes the router core over HTTP: the OpenAI-compatible
// chat-completions endpoint, health/readiness checks, and Prometheus
// metrics, wrapped by the security middleware chain.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/llm-gateway/internal/breaker"
	"github.com/tributary-ai/llm-gateway/internal/domain"
	"github.com/tributary-ai/llm-gateway/internal/gatewayerr"
	"github.com/tributary-ai/llm-gateway/internal/metrics"
	"github.com/tributary-ai/llm-gateway/internal/middleware"
	"github.com/tributary-ai/llm-gateway/internal/ratelimit"
	"github.com/tributary-ai/llm-gateway/internal/router"
	"github.com/tributary-ai/llm-gateway/internal/security"
	"github.com/tributary-ai/llm-gateway/internal/tenant"
)

// Server is the HTTP front end over one Router core.
type Server struct {
	router             *router.Router
	tenants            *tenant.Registry
	metrics            *metrics.Registry
	httpServer         *http.Server
	logger             *logrus.Logger
	config             *ServerConfig
	securityMiddleware *middleware.SecurityMiddleware
	rateLimiter        *ratelimit.Limiter
}

// ServerConfig holds HTTP listener configuration and the security chain
// config it is built from.
type ServerConfig struct {
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxHeaderBytes int
	RateLimit      time.Duration
	Security       *middleware.SecurityMiddlewareConfig
}

// NewServer wires a Router core, tenant registry, and metrics registry
// behind the security middleware chain.
func NewServer(r *router.Router, tenants *tenant.Registry, reg *metrics.Registry, config *ServerConfig, logger *logrus.Logger) (*Server, error) {
	s := &Server{
		router:  r,
		tenants: tenants,
		metrics: reg,
		logger:  logger,
		config:  config,
	}

	if config.Security != nil {
		limiter := ratelimit.New(config.RateLimit)
		limiter.StartSweep(0, 0)
		sm, err := middleware.NewSecurityMiddleware(tenants, limiter, config.Security, logger, reg)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize security middleware: %w", err)
		}
		s.securityMiddleware = sm
		s.rateLimiter = limiter
	}

	return s, nil
}

// Start starts the HTTP server. Blocks until the listener stops.
func (s *Server) Start() error {
	r := s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:           ":" + s.config.Port,
		Handler:        r,
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
	}

	s.logger.WithField("port", s.config.Port).Info("starting llm gateway server")
	return s.httpServer.ListenAndServe()
}

// Stop stops the HTTP server gracefully, and any background goroutines the
// security middleware owns.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping llm gateway server")

	if s.securityMiddleware != nil {
		s.securityMiddleware.Stop()
	}
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler builds the full route table and middleware chain without binding
// a listener, for use by tests (httptest.NewServer) and alternate front
// ends (e.g. running behind an external TLS terminator).
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

func (s *Server) setupRoutes() *mux.Router {
	r := mux.NewRouter()

	if s.securityMiddleware != nil {
		r.Use(s.securityMiddleware.Handler())
	}
	r.Use(s.loggingMiddleware)

	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.HandleFunc("/health/detailed", s.handleHealthDetailed).Methods("GET")
	r.Handle("/metrics", s.handleMetrics()).Methods("GET")

	api := r.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/chat/completions", s.handleChatCompletions).Methods("POST")
	api.HandleFunc("/health/providers", s.handleProviderHealth).Methods("GET")
	api.HandleFunc("/capabilities", s.handleCapabilities).Methods("GET")
	api.HandleFunc("/routing/decision", s.handleRoutingDecision).Methods("POST")

	// Legacy aliases kept for compatibility with existing integrations; all
	// of them funnel into the same Router core as /v1/chat/completions.
	api.HandleFunc("/completions", s.handleChatCompletions).Methods("POST")
	api.HandleFunc("/messages", s.handleChatCompletions).Methods("POST")
	api.HandleFunc("/providers", s.handleListProviders).Methods("GET")

	s.setupSwaggerRoutes(r)

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		s.logger.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      wrapped.statusCode,
			"duration_ms": time.Since(start).Milliseconds(),
		}).Info("http request")
	})
}

// handleChatCompletions is the gateway's sole routing entrypoint: resolve
// the caller's tenant, check quotas, route the request, record usage.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	authInfo, ok := security.GetAuthInfo(r.Context())
	if !ok {
		writeError(w, gatewayerr.New(gatewayerr.Authentication, "no authenticated tenant for this request"))
		return
	}
	t, ok := s.tenants.Get(authInfo.TenantID)
	if !ok {
		writeError(w, gatewayerr.New(gatewayerr.Authentication, "unknown tenant"))
		return
	}

	if status := s.tenants.CheckQuota(t.TenantID, tenant.QuotaDaily); !status.Allowed {
		if s.metrics != nil {
			s.metrics.RecordQuotaRejection(t.TenantID, "daily")
		}
		writeError(w, gatewayerr.New(gatewayerr.QuotaExceeded, "daily request quota exceeded"))
		return
	}
	if status := s.tenants.CheckQuota(t.TenantID, tenant.QuotaMonthly); !status.Allowed {
		if s.metrics != nil {
			s.metrics.RecordQuotaRejection(t.TenantID, "monthly")
		}
		writeError(w, gatewayerr.New(gatewayerr.QuotaExceeded, "monthly request quota exceeded"))
		return
	}

	var req domain.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, gatewayerr.Wrap(gatewayerr.Validation, "invalid JSON body", err))
		return
	}
	if req.Model == "" || len(req.Messages) == 0 {
		writeError(w, gatewayerr.New(gatewayerr.Validation, "model and at least one message are required"))
		return
	}

	resp, err := s.router.RouteRequest(r.Context(), &req, t)
	policyName := t.Policy
	if policyName == "" {
		policyName = "balanced"
	}
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordRequest(t.TenantID, policyName, "error", time.Since(start).Seconds())
		}
		writeError(w, toGatewayError(err))
		return
	}

	s.tenants.TrackUsage(t.TenantID, tenant.UsageRecord{
		TotalTokens: resp.Usage.TotalTokens,
		DurationMs:  time.Since(start).Milliseconds(),
		Model:       resp.Model,
	})

	if s.metrics != nil {
		s.metrics.RecordRequest(t.TenantID, policyName, "success", time.Since(start).Seconds())
		if resp.RoutingMetadata != nil {
			s.metrics.RecordTokens(t.TenantID, resp.RoutingMetadata.PrimaryProvider, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}

// handleHealth is a liveness probe: the process is up and serving.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
}

// handleHealthDetailed is a readiness probe: at least one provider must be
// available for the gateway to be considered ready.
func (s *Server) handleHealthDetailed(w http.ResponseWriter, r *http.Request) {
	snapshots := s.router.Breakers().Snapshots()
	names := make([]string, 0, len(snapshots))
	for name := range snapshots {
		names = append(names, name)
	}
	aggregates := s.router.Tracker().Snapshot(names)

	providerSummary := make(map[string]any, len(names))
	ready := false
	for name, snap := range snapshots {
		agg := aggregates[name]
		healthy := snap.State == breaker.Closed && agg.Uptime > 0
		if snap.State != breaker.Open {
			ready = true
		}
		providerSummary[name] = map[string]any{
			"breaker_state": snap.State,
			"uptime":        agg.Uptime,
			"healthy":       healthy,
		}
	}

	status := http.StatusOK
	overall := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		overall = "not_ready"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"status":    overall,
		"providers": providerSummary,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleProviderHealth returns the breaker and health-tracker detail an
// authenticated caller can use to understand routing decisions.
func (s *Server) handleProviderHealth(w http.ResponseWriter, r *http.Request) {
	snapshots := s.router.Breakers().Snapshots()
	names := make([]string, 0, len(snapshots))
	for name := range snapshots {
		names = append(names, name)
	}
	aggregates := s.router.Tracker().Snapshot(names)

	out := make(map[string]any, len(names))
	for name, snap := range snapshots {
		out[name] = map[string]any{
			"breaker": snap,
			"health":  aggregates[name],
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"providers": out})
}

// handleListProviders is a legacy alias listing configured provider names.
func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	ps := s.router.Providers()
	names := make([]string, 0, len(ps))
	for _, p := range ps {
		names = append(names, p.Name())
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"providers": names, "count": len(names)})
}

// handleCapabilities reports which configured providers a caller can route
// to and the circuit-breaker state governing each — the modern analogue of
// the teacher's static per-provider capability matrix, which this gateway's
// Provider contract does not track (no function-calling/vision metadata per
// adapter, only the uniform MakeRequest/Ping surface).
func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	providerNames := s.router.Providers()
	allowed := make([]string, 0, len(providerNames))
	for _, p := range providerNames {
		allowed = append(allowed, p.Name())
	}

	if authInfo, ok := security.GetAuthInfo(r.Context()); ok {
		if t, ok := s.tenants.Get(authInfo.TenantID); ok && len(t.AllowedProviders) > 0 {
			allowed = intersectNames(allowed, t.AllowedProviders)
		}
	}

	snapshots := s.router.Breakers().Snapshots()
	capabilities := make(map[string]any, len(allowed))
	for _, name := range allowed {
		capabilities[name] = map[string]any{
			"breaker_state": snapshots[name].State,
			"available":     snapshots[name].State != breaker.Open,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"capabilities": capabilities,
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
	})
}

// intersectNames returns the elements of a that also appear in b.
func intersectNames(a, b []string) []string {
	set := make(map[string]struct{}, len(b))
	for _, v := range b {
		set[v] = struct{}{}
	}
	out := make([]string, 0, len(a))
	for _, v := range a {
		if _, ok := set[v]; ok {
			out = append(out, v)
		}
	}
	return out
}

// handleRoutingDecision is the dry-run counterpart of handleChatCompletions:
// it resolves and orders candidates for the given request exactly as
// RouteRequest would, but never calls a provider.
func (s *Server) handleRoutingDecision(w http.ResponseWriter, r *http.Request) {
	authInfo, ok := security.GetAuthInfo(r.Context())
	if !ok {
		writeError(w, gatewayerr.New(gatewayerr.Authentication, "no authenticated tenant for this request"))
		return
	}
	t, ok := s.tenants.Get(authInfo.TenantID)
	if !ok {
		writeError(w, gatewayerr.New(gatewayerr.Authentication, "unknown tenant"))
		return
	}

	var req domain.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, gatewayerr.Wrap(gatewayerr.Validation, "invalid JSON body", err))
		return
	}
	if req.Model == "" || len(req.Messages) == 0 {
		writeError(w, gatewayerr.New(gatewayerr.Validation, "model and at least one message are required"))
		return
	}

	plan, err := s.router.Plan(r.Context(), &req, t)
	if err != nil {
		writeError(w, toGatewayError(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(plan)
}

func (s *Server) handleMetrics() http.Handler {
	if s.metrics == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return s.metrics.Handler()
}

func writeError(w http.ResponseWriter, err *gatewayerr.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.HTTPStatus())
	json.NewEncoder(w).Encode(err.ToEnvelope())
}

// toGatewayError normalizes whatever the router core returned into a
// *gatewayerr.Error; the router already returns typed errors, this guards
// against anything else reaching the handler.
func toGatewayError(err error) *gatewayerr.Error {
	if ge, ok := err.(*gatewayerr.Error); ok {
		return ge
	}
	return gatewayerr.Wrap(gatewayerr.Internal, "unexpected routing failure", err)
}

// responseWriter wraps http.ResponseWriter to capture the status code for
// logging.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
