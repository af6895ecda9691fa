// Package groq adapts Groq's OpenAI-wire-compatible chat-completions API,
// reusing the openai package's client construction against Groq's base URL
// rather than duplicating it — Groq's endpoint is a drop-in replacement for
// OpenAI's request/response shape.
package groq

import (
	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/llm-gateway/internal/providers/openai"
)

const DefaultBaseURL = "https://api.groq.com/openai/v1"

// Config is Groq's instance configuration.
type Config struct {
	APIKey  string `yaml:"api_key" json:"api_key"`
	BaseURL string `yaml:"base_url" json:"base_url"`
	Model   string `yaml:"model" json:"model"`
}

// New builds an OpenAI-wire-compatible adapter pointed at Groq.
func New(cfg Config, logger *logrus.Logger) *openai.Provider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return openai.New(openai.Config{
		Name:    "groq",
		APIKey:  cfg.APIKey,
		BaseURL: baseURL,
		Model:   cfg.Model,
	}, logger)
}
