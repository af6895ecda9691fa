// Package config loads the gateway's YAML configuration, overridable by
// environment variables, validated before the application starts.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	yamlv2 "gopkg.in/yaml.v2"
	"gopkg.in/yaml.v3"

	"github.com/tributary-ai/llm-gateway/internal/middleware"
	"github.com/tributary-ai/llm-gateway/internal/policy"
	"github.com/tributary-ai/llm-gateway/internal/security"
)

// Config is the complete application configuration.
type Config struct {
	Server     ServerConfig                  `yaml:"server"`
	Router     RouterConfig                  `yaml:"router"`
	Providers  map[string]ProviderDescriptor `yaml:"providers"`
	TenantsDir string                        `yaml:"tenants_dir"`
	PoliciesFile string                      `yaml:"policies_file"`
	Logging    LoggingConfig                 `yaml:"logging"`
	Security   SecurityConfig                `yaml:"security"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port           string        `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	MaxHeaderBytes int           `yaml:"max_header_bytes"`
	ShutdownGrace  time.Duration `yaml:"shutdown_grace"`
}

// RouterConfig holds routing core configuration.
type RouterConfig struct {
	DefaultPolicy       string        `yaml:"default_policy"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
	ProbeTimeout        time.Duration `yaml:"probe_timeout"`
	AttemptTimeout      time.Duration `yaml:"attempt_timeout"`
	BreakerThreshold    int           `yaml:"breaker_threshold"`
	BreakerCooldown     time.Duration `yaml:"breaker_cooldown"`
}

// ProviderDescriptor is a Provider Descriptor (§3): name is the map key,
// this struct holds the rest — type tag, endpoint, API-key reference,
// enabled flag, and per-provider cost/timeout.
type ProviderDescriptor struct {
	Type         string        `yaml:"type"` // openai | anthropic | gemini | groq | huggingface
	Enabled      bool          `yaml:"enabled"`
	Endpoint     string        `yaml:"endpoint"`
	APIKeyEnv    string        `yaml:"api_key_env"`
	Model        string        `yaml:"model"`
	CostPerToken float64       `yaml:"cost_per_token"`
	Timeout      time.Duration `yaml:"timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
	Output string `yaml:"output"` // "stdout", "stderr", or a file path
}

// SecurityConfig holds security-related configuration.
type SecurityConfig struct {
	JWTSecretEnv      string               `yaml:"jwt_secret_env"`
	RateLimitWindow   time.Duration        `yaml:"rate_limit_window"`
	CORS              CORSConfig           `yaml:"cors"`
	RequestValidation ValidationConfig     `yaml:"request_validation"`
	OpenAPIValidation OpenAPIValidationRef `yaml:"openapi_validation"`
}

// OpenAPIValidationRef configures the gateway's kin-openapi schema check
// (middleware.OpenAPIValidationConfig) from YAML.
type OpenAPIValidationRef struct {
	Enabled  bool   `yaml:"enabled"`
	SpecPath string `yaml:"spec_path"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

type ValidationConfig struct {
	MaxRequestSize   int64 `yaml:"max_request_size"`
	MaxMessageLength int   `yaml:"max_message_length"`
	MaxMessages      int   `yaml:"max_messages"`
}

// LoadConfig loads configuration from file, then environment overrides,
// then validates.
func LoadConfig(configPath string) (*Config, error) {
	c := &Config{}
	c.setDefaults()

	if configPath != "" {
		if err := c.loadFromFile(configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	c.loadFromEnv()

	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return c, nil
}

func (c *Config) setDefaults() {
	c.Server = ServerConfig{
		Port:           "8080",
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		MaxHeaderBytes: 1 << 20,
		ShutdownGrace:  30 * time.Second,
	}

	c.Router = RouterConfig{
		DefaultPolicy:       "balanced",
		HealthCheckInterval: 300 * time.Second,
		ProbeTimeout:        5 * time.Second,
		AttemptTimeout:      15 * time.Second,
		BreakerThreshold:    5,
		BreakerCooldown:     60 * time.Second,
	}

	c.TenantsDir = "tenants"
	c.PoliciesFile = "policies/routing.json"

	c.Logging = LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}

	c.Security = SecurityConfig{
		RateLimitWindow: 60 * time.Second,
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "Authorization", "X-API-Key"},
		},
		RequestValidation: ValidationConfig{
			MaxRequestSize:   10 << 20,
			MaxMessageLength: 100000,
			MaxMessages:      50,
		},
		OpenAPIValidation: OpenAPIValidationRef{
			Enabled:  true,
			SpecPath: "docs/openapi.yaml",
		},
	}

	c.Providers = map[string]ProviderDescriptor{
		"openai": {Type: "openai", Enabled: false, APIKeyEnv: "OPENAI_API_KEY", Model: "gpt-4o-mini", CostPerToken: 0.0006, Timeout: 12 * time.Second},
		"anthropic": {Type: "anthropic", Enabled: false, APIKeyEnv: "ANTHROPIC_API_KEY", Model: "claude-3-5-sonnet-20241022", CostPerToken: 0.003, Timeout: 12 * time.Second},
		"gemini": {Type: "gemini", Enabled: false, APIKeyEnv: "GEMINI_API_KEY", Model: "gemini-1.5-flash", CostPerToken: 0.0001, Timeout: 12 * time.Second},
		"groq": {Type: "groq", Enabled: false, APIKeyEnv: "GROQ_API_KEY", Model: "llama-3.1-70b-versatile", CostPerToken: 0.0002, Timeout: 12 * time.Second},
		"huggingface": {Type: "huggingface", Enabled: false, APIKeyEnv: "HUGGINGFACE_API_KEY", Model: "meta-llama/Llama-3.1-8B-Instruct", CostPerToken: 0.0002, Timeout: 12 * time.Second},
	}
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return nil
}

func (c *Config) loadFromEnv() {
	if port := os.Getenv("PORT"); port != "" {
		c.Server.Port = port
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if interval := os.Getenv("HEALTH_CHECK_INTERVAL"); interval != "" {
		if ms, err := time.ParseDuration(interval + "ms"); err == nil {
			c.Router.HealthCheckInterval = ms
		}
	}
	if window := os.Getenv("RATE_LIMIT_WINDOW_MS"); window != "" {
		if ms, err := time.ParseDuration(window + "ms"); err == nil {
			c.Security.RateLimitWindow = ms
		}
	}

	for name, desc := range c.Providers {
		if desc.APIKeyEnv == "" {
			continue
		}
		if key := os.Getenv(desc.APIKeyEnv); key != "" {
			desc.Enabled = true
			c.Providers[name] = desc
		}
	}

	// Canonicalize the performance_first synonym at config load, per the
	// design note that the canonical identifier is performance-first.
	if c.Router.DefaultPolicy == "performance_first" {
		c.Router.DefaultPolicy = "performance-first"
	}
}

func (c *Config) validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port cannot be empty")
	}

	validPolicies := map[string]bool{"cost-optimized": true, "performance-first": true, "balanced": true}
	if !validPolicies[c.Router.DefaultPolicy] {
		return fmt.Errorf("invalid default policy: %s", c.Router.DefaultPolicy)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true, "fatal": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	enabledCount := 0
	for name, desc := range c.Providers {
		if !desc.Enabled {
			continue
		}
		if desc.APIKeyEnv != "" && os.Getenv(desc.APIKeyEnv) == "" {
			return fmt.Errorf("provider %s is enabled but %s is not set", name, desc.APIKeyEnv)
		}
		enabledCount++
	}
	if enabledCount == 0 {
		return fmt.Errorf("at least one provider must be enabled")
	}

	return nil
}

// ToSecurityMiddlewareConfig converts to middleware.SecurityMiddlewareConfig.
func (c *Config) ToSecurityMiddlewareConfig() *middleware.SecurityMiddlewareConfig {
	return &middleware.SecurityMiddlewareConfig{
		Auth: &security.AuthConfig{
			RequireAuth:    true,
			AllowedOrigins: c.Security.CORS.AllowedOrigins,
		},
		Validation: &security.ValidationConfig{
			MaxRequestSize:  c.Security.RequestValidation.MaxRequestSize,
			AllowedMethods:  c.Security.CORS.AllowedMethods,
			ContentTypes:    []string{"application/json"},
			MaxJSONDepth:    20,
			MaxFieldLength:  c.Security.RequestValidation.MaxMessageLength,
			BlockedPatterns: security.DefaultChatBlockedPatterns,
		},
		Audit: &security.AuditConfig{
			Enabled:       true,
			BufferSize:    1000,
			FlushInterval: 10 * time.Second,
		},
		OpenAPI: &middleware.OpenAPIValidationConfig{
			Enabled:  c.Security.OpenAPIValidation.Enabled,
			SpecPath: c.Security.OpenAPIValidation.SpecPath,
		},
	}
}

// EnabledProviders returns the names of every provider marked enabled.
func (c *Config) EnabledProviders() []string {
	var names []string
	for name, desc := range c.Providers {
		if desc.Enabled {
			names = append(names, name)
		}
	}
	return names
}

// LoadProvidersFile merges provider descriptors from a providers.json file
// (§6's JSON schema) on top of whatever the main YAML config already
// declared. A missing file is not an error: providers.json is optional
// when descriptors are inlined into the main config.
func (c *Config) LoadProvidersFile(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading providers file %s: %w", path, err)
	}

	var fromFile map[string]ProviderDescriptor
	if err := json.Unmarshal(data, &fromFile); err != nil {
		return fmt.Errorf("parsing providers file %s: %w", path, err)
	}

	if c.Providers == nil {
		c.Providers = make(map[string]ProviderDescriptor)
	}
	for name, desc := range fromFile {
		c.Providers[name] = desc
	}
	return nil
}

// policyOverride is one entry of policies/routing.json: the JSON schema for
// overriding a built-in policy's parameters.
type policyOverride struct {
	MinUptime    float64            `json:"min_uptime"`
	CostPerToken map[string]float64 `json:"cost_per_token"`
	Weights      *policy.Weights    `json:"weights"`
}

// LoadPoliciesFile reads the optional policies/routing.json overrides file
// and returns a policy.Params set per named policy. A missing file yields
// an empty map (every policy falls back to policy.DefaultParams()).
func LoadPoliciesFile(path string) (map[string]policy.Params, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]policy.Params{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading policies file %s: %w", path, err)
	}

	var overrides map[string]policyOverride
	if err := json.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("parsing policies file %s: %w", path, err)
	}

	out := make(map[string]policy.Params, len(overrides))
	for name, o := range overrides {
		params := policy.DefaultParams()
		if o.MinUptime > 0 {
			params.MinUptime = o.MinUptime
		}
		if o.CostPerToken != nil {
			params.CostPerToken = o.CostPerToken
		}
		if o.Weights != nil {
			params.Weights = *o.Weights
		}
		out[name] = params
	}
	return out, nil
}

// SaveToFile dumps the effective configuration as YAML (v2, unlike the
// v3-based LoadConfig — this is an operator debug/inspection path, not the
// startup load path, and exercises the module's other YAML dependency).
func (c *Config) SaveToFile(path string) error {
	data, err := yamlv2.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
