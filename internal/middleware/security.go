package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/llm-gateway/internal/gatewayerr"
	"github.com/tributary-ai/llm-gateway/internal/metrics"
	"github.com/tributary-ai/llm-gateway/internal/ratelimit"
	"github.com/tributary-ai/llm-gateway/internal/security"
	"github.com/tributary-ai/llm-gateway/internal/tenant"
)

// SecurityMiddlewareConfig holds configuration for the security middleware
// chain.
type SecurityMiddlewareConfig struct {
	Auth       *security.AuthConfig
	Validation *security.ValidationConfig
	Audit      *security.AuditConfig
	OpenAPI    *OpenAPIValidationConfig
}

// SecurityMiddleware combines authentication, per-tenant rate limiting,
// request validation, schema validation, and audit logging into one chain.
type SecurityMiddleware struct {
	authenticator *security.Authenticator
	tenants       *tenant.Registry
	limiter       *ratelimit.Limiter
	validator     *security.RequestValidator
	schemaCheck   *OpenAPIValidationMiddleware
	auditor       *security.AuditLogger
	logger        *logrus.Logger
	metrics       *metrics.Registry
}

// NewSecurityMiddleware wires the security chain against a loaded tenant
// registry and rate limiter, both owned by the caller (server.NewServer
// creates the limiter; the registry is passed in from the entrypoint). reg
// may be nil, in which case rate-limit rejections are enforced but not
// counted.
func NewSecurityMiddleware(tenants *tenant.Registry, limiter *ratelimit.Limiter, config *SecurityMiddlewareConfig, logger *logrus.Logger, reg *metrics.Registry) (*SecurityMiddleware, error) {
	var authenticator *security.Authenticator
	if config.Auth != nil {
		authenticator = security.NewAuthenticator(config.Auth, tenants, logger)
	}

	var validator *security.RequestValidator
	var err error
	if config.Validation != nil {
		validator, err = security.NewRequestValidator(config.Validation, logger)
		if err != nil {
			return nil, err
		}
	}

	var auditor *security.AuditLogger
	if config.Audit != nil {
		auditor = security.NewAuditLogger(config.Audit, logger)
	}

	schemaCheck, err := NewOpenAPIValidationMiddleware(config.OpenAPI, logger)
	if err != nil {
		return nil, err
	}

	return &SecurityMiddleware{
		authenticator: authenticator,
		tenants:       tenants,
		limiter:       limiter,
		validator:     validator,
		schemaCheck:   schemaCheck,
		auditor:       auditor,
		logger:        logger,
		metrics:       reg,
	}, nil
}

// Handler builds the complete chain: security headers (outermost) -> audit
// -> auth -> per-tenant rate limit -> request validation -> OpenAPI schema
// validation (innermost).
func (s *SecurityMiddleware) Handler() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		handler := next

		if s.schemaCheck != nil {
			handler = s.schemaCheck.Middleware(handler)
		}
		if s.validator != nil {
			handler = s.validator.ValidationMiddleware()(handler)
		}
		handler = s.rateLimitMiddleware()(handler)
		if s.authenticator != nil {
			handler = s.authenticator.AuthMiddleware()(handler)
		}
		if s.auditor != nil {
			handler = s.auditor.AuditMiddleware()(handler)
		}
		handler = s.securityHeadersMiddleware()(handler)

		return handler
	}
}

// rateLimitMiddleware enforces the authenticated tenant's
// Quotas.RateLimitPerMinute budget. It is a no-op for unauthenticated
// requests (health checks, or when auth is disabled) since there is no
// tenant to charge.
func (s *SecurityMiddleware) rateLimitMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authInfo, ok := security.GetAuthInfo(r.Context())
			if !ok || s.limiter == nil {
				next.ServeHTTP(w, r)
				return
			}

			limit := ratelimit.DefaultLimitPerMinute
			if t, ok := s.tenants.Get(authInfo.TenantID); ok && t.Quotas.RateLimitPerMinute > 0 {
				limit = t.Quotas.RateLimitPerMinute
			}

			result := s.limiter.Allow(authInfo.TenantID, limit)
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetUnix, 10))

			if !result.Allowed {
				if s.logger != nil {
					s.logger.WithField("tenant_id", authInfo.TenantID).Warn("rate limit exceeded")
				}
				if s.metrics != nil {
					s.metrics.RecordRateLimitRejection(authInfo.TenantID)
				}
				writeGatewayError(w, gatewayerr.New(gatewayerr.RateLimited, "rate limit exceeded for this tenant"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// securityHeadersMiddleware adds baseline security headers to every response.
func (s *SecurityMiddleware) securityHeadersMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			w.Header().Set("Content-Security-Policy", "default-src 'self'")
			w.Header().Del("Server")
			w.Header().Set("Server", "llm-gateway")

			next.ServeHTTP(w, r)
		})
	}
}

// CORSMiddleware creates CORS middleware for cross-origin requests.
func (s *SecurityMiddleware) CORSMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			allowed := false
			for _, allowedOrigin := range allowedOrigins {
				if allowedOrigin == "*" || allowedOrigin == origin {
					allowed = true
					break
				}
			}

			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
				w.Header().Set("Access-Control-Max-Age", "86400")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Stop gracefully stops all middleware components with background work.
func (s *SecurityMiddleware) Stop() {
	if s.auditor != nil {
		s.auditor.Stop()
	}
}

// HealthCheck verifies the security chain was assembled correctly.
func (s *SecurityMiddleware) HealthCheck() error {
	if s.authenticator == nil {
		return fmt.Errorf("authenticator not initialized")
	}
	return nil
}

// LogSecurityEvent is a convenience method to log security events.
func (s *SecurityMiddleware) LogSecurityEvent(ctx context.Context, eventType security.AuditEventType, message string, details map[string]interface{}) {
	if s.auditor != nil {
		s.auditor.LogEvent(ctx, eventType, message, details)
	}
}

func writeGatewayError(w http.ResponseWriter, err *gatewayerr.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.HTTPStatus())
	envelope := err.ToEnvelope()
	fmt.Fprintf(w, `{"error":{"message":%q,"type":%q}}`, envelope.Error.Message, envelope.Error.Type)
}
