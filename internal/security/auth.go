package security

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/llm-gateway/internal/tenant"
)

// AuthInfo is the authenticated identity attached to a request's context:
// which tenant it resolved to, and how.
type AuthInfo struct {
	TenantID string
	AuthType string // "api_key" or "jwt"
}

// AuthConfig holds authentication middleware configuration. Credentials
// themselves live in the tenant registry, not here.
type AuthConfig struct {
	RequireAuth    bool     `yaml:"require_auth"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Authenticator resolves a bearer credential (API key or JWT) to a tenant
// via the tenant registry.
type Authenticator struct {
	config  *AuthConfig
	tenants *tenant.Registry
	logger  *logrus.Logger
}

func NewAuthenticator(config *AuthConfig, tenants *tenant.Registry, logger *logrus.Logger) *Authenticator {
	return &Authenticator{config: config, tenants: tenants, logger: logger}
}

// Authenticate resolves a bearer token to a tenant, trying it first as an
// API key and then as a JWT.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (*AuthInfo, error) {
	if t := a.tenants.FindByAPIKey(token); t != nil {
		return &AuthInfo{TenantID: t.TenantID, AuthType: "api_key"}, nil
	}
	if t, err := a.tenants.FindByJWT(token); err == nil {
		return &AuthInfo{TenantID: t.TenantID, AuthType: "jwt"}, nil
	}
	return nil, errors.New("invalid authentication token")
}

type contextKey string

const (
	ctxAuthInfo  contextKey = "auth_info"
	ctxClientIP  contextKey = "client_ip"
	ctxRequestID contextKey = "request_id"
)

// AuthMiddleware authenticates every request except /health* paths and
// attaches the resolved AuthInfo to the request context.
func (a *Authenticator) AuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/health") {
				next.ServeHTTP(w, r)
				return
			}
			if !a.config.RequireAuth {
				next.ServeHTTP(w, r)
				return
			}

			token := extractToken(r)
			if token == "" {
				writeAuthError(w, "missing authentication token")
				return
			}

			ctx := context.WithValue(r.Context(), ctxClientIP, getClientIPFromRequest(r))
			authInfo, err := a.Authenticate(ctx, token)
			if err != nil {
				a.logger.WithFields(logrus.Fields{
					"error":     err.Error(),
					"path":      r.URL.Path,
					"remote_ip": getClientIPFromRequest(r),
				}).Warn("authentication failed")
				writeAuthError(w, "invalid authentication token")
				return
			}

			ctx = context.WithValue(ctx, ctxAuthInfo, authInfo)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if apiKey := r.Header.Get("X-API-Key"); apiKey != "" {
		return apiKey
	}
	if apiKey := r.Header.Get("API-Key"); apiKey != "" {
		return apiKey
	}
	return ""
}

func maskAPIKey(apiKey string) string {
	if len(apiKey) <= 8 {
		return "****"
	}
	return apiKey[:4] + "****" + apiKey[len(apiKey)-4:]
}

func getClientIPFromRequest(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		return strings.TrimSpace(ips[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	ip := r.RemoteAddr
	if i := strings.LastIndex(ip, ":"); i != -1 {
		ip = ip[:i]
	}
	return ip
}

func writeAuthError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":{"message":"` + message + `","type":"authentication_error"}}`))
}

// GetAuthInfo extracts the authenticated identity from a request context.
func GetAuthInfo(ctx context.Context) (*AuthInfo, bool) {
	info, ok := ctx.Value(ctxAuthInfo).(*AuthInfo)
	return info, ok
}

// GetRequestID extracts the request ID a middleware assigned to this request.
func GetRequestID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxRequestID).(string)
	return id, ok
}
