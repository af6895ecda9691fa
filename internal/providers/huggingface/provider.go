// Package huggingface adapts HuggingFace's router (OpenAI-wire-compatible
// chat-completions) API, reusing the openai package's client against
// HuggingFace's base URL for the same reason the groq adapter does.
package huggingface

import (
	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/llm-gateway/internal/providers/openai"
)

const DefaultBaseURL = "https://router.huggingface.co/v1"

// Config is HuggingFace's instance configuration.
type Config struct {
	APIKey  string `yaml:"api_key" json:"api_key"`
	BaseURL string `yaml:"base_url" json:"base_url"`
	Model   string `yaml:"model" json:"model"`
}

// New builds an OpenAI-wire-compatible adapter pointed at HuggingFace's
// router API.
func New(cfg Config, logger *logrus.Logger) *openai.Provider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return openai.New(openai.Config{
		Name:    "huggingface",
		APIKey:  cfg.APIKey,
		BaseURL: baseURL,
		Model:   cfg.Model,
	}, logger)
}
