package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/ioutil"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"
	"github.com/sirupsen/logrus"
)

// OpenAPIValidationMiddleware rejects requests that don't conform to the
// gateway's published OpenAPI contract (docs/openapi.yaml) before they reach
// the chat-completions handler — a schema-level guard complementary to, and
// stricter than, RequestValidator's generic body-size/blocked-pattern
// checks.
type OpenAPIValidationMiddleware struct {
	router  routers.Router
	logger  *logrus.Logger
	enabled bool
}

// OpenAPIValidationConfig configures the OpenAPI schema validation
// middleware.
type OpenAPIValidationConfig struct {
	Enabled    bool   `yaml:"enabled"`
	SpecPath   string `yaml:"spec_path"`
	StrictMode bool   `yaml:"strict_mode"`
}

// NewOpenAPIValidationMiddleware loads the OpenAPI document and builds a
// path-matching router for it. A nil or disabled config is valid and
// produces a no-op middleware; an enabled config whose spec file cannot be
// loaded is an error.
func NewOpenAPIValidationMiddleware(config *OpenAPIValidationConfig, logger *logrus.Logger) (*OpenAPIValidationMiddleware, error) {
	if config == nil {
		config = &OpenAPIValidationConfig{
			Enabled:  false,
			SpecPath: "docs/openapi.yaml",
		}
	}

	vm := &OpenAPIValidationMiddleware{
		logger:  logger,
		enabled: config.Enabled,
	}

	if !config.Enabled {
		if logger != nil {
			logger.Info("OpenAPI request validation disabled")
		}
		return vm, nil
	}

	if err := vm.loadSpec(config.SpecPath); err != nil {
		return nil, fmt.Errorf("failed to load OpenAPI spec: %w", err)
	}

	if logger != nil {
		logger.WithField("spec_path", config.SpecPath).Info("OpenAPI request validation enabled")
	}
	return vm, nil
}

// loadSpec loads, validates, and indexes the OpenAPI document for
// per-request path matching. Tried relative to the process's working
// directory first, then two directories up from it (the repository root
// when running from a package directory, as go test does).
func (vm *OpenAPIValidationMiddleware) loadSpec(specPath string) error {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = true

	doc, err := loader.LoadFromFile(specPath)
	if err != nil {
		rootPath := filepath.Join("..", "..", specPath)
		doc, err = loader.LoadFromFile(rootPath)
		if err != nil {
			return fmt.Errorf("failed to load OpenAPI spec from %s or %s: %w", specPath, rootPath, err)
		}
	}

	if err := doc.Validate(context.Background()); err != nil {
		return fmt.Errorf("invalid OpenAPI spec: %w", err)
	}

	router, err := gorillamux.NewRouter(doc)
	if err != nil {
		return fmt.Errorf("failed to build OpenAPI path router: %w", err)
	}

	vm.router = router
	return nil
}

// Middleware returns the HTTP middleware function.
func (vm *OpenAPIValidationMiddleware) Middleware(next http.Handler) http.Handler {
	if !vm.enabled {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := vm.validateRequest(r); err != nil {
			if vm.logger != nil {
				vm.logger.WithError(err).WithFields(logrus.Fields{
					"method": r.Method,
					"path":   r.URL.Path,
				}).Warn("request failed OpenAPI schema validation")
			}
			vm.writeValidationError(w, err)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// validateRequest validates an HTTP request against the chat-completions
// OpenAPI contract. Routes the spec doesn't document (health checks,
// metrics scraping, Swagger UI itself) pass through untouched.
func (vm *OpenAPIValidationMiddleware) validateRequest(r *http.Request) error {
	route, pathParams, err := vm.router.FindRoute(r)
	if err != nil {
		if errors.Is(err, routers.ErrPathNotFound) || errors.Is(err, routers.ErrMethodNotAllowed) {
			return nil
		}
		return fmt.Errorf("route lookup failed: %w", err)
	}

	var body []byte
	if r.Body != nil {
		body, err = ioutil.ReadAll(r.Body)
		if err != nil {
			return fmt.Errorf("failed to read request body: %w", err)
		}
		r.Body = ioutil.NopCloser(bytes.NewBuffer(body))
	}

	// Credentials are checked by the auth middleware earlier in the chain,
	// so the spec's security requirement is accepted as-is here.
	input := &openapi3filter.RequestValidationInput{
		Request:    r,
		PathParams: pathParams,
		Route:      route,
		Options:    &openapi3filter.Options{AuthenticationFunc: openapi3filter.NoopAuthenticationFunc},
	}
	if len(body) > 0 {
		input.Request.Body = ioutil.NopCloser(bytes.NewBuffer(body))
	}

	if err := openapi3filter.ValidateRequest(context.Background(), input); err != nil {
		return fmt.Errorf("request validation failed: %w", err)
	}
	return nil
}

func (vm *OpenAPIValidationMiddleware) writeValidationError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)

	detail := vm.describeValidationError(err)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{
			"message": detail.Message,
			"type":    "validation_error",
			"code":    "400",
			"details": detail.Details,
		},
		"timestamp": time.Now().Unix(),
	})
}

// validationErrorDetail is the parsed, user-facing form of a kin-openapi
// validation error.
type validationErrorDetail struct {
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// describeValidationError maps common kin-openapi failure shapes (missing
// required fields, wrong types, malformed body) onto a chat-completions-
// shaped hint — it never manages to give a perfect translation of a JSON
// Schema error, but it saves the caller from having to parse the raw
// kin-openapi message.
func (vm *OpenAPIValidationMiddleware) describeValidationError(err error) *validationErrorDetail {
	errorStr := err.Error()

	detail := &validationErrorDetail{
		Message: "request does not conform to the chat-completions schema",
		Details: make(map[string]interface{}),
	}

	switch {
	case strings.Contains(errorStr, "request body"):
		detail.Message = "invalid chat-completions request body"
		detail.Details["field"] = "body"
	case strings.Contains(errorStr, "required"):
		detail.Message = "missing required field (model and messages are required)"
		detail.Details["error"] = errorStr
	case strings.Contains(errorStr, "type"):
		detail.Message = "invalid field type"
		detail.Details["error"] = errorStr
	case strings.Contains(errorStr, "enum"):
		detail.Message = "invalid enum value (check message role, e.g. system/user/assistant)"
		detail.Details["error"] = errorStr
	default:
		detail.Message = errorStr
	}

	return detail
}
