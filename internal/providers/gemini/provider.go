// Package gemini talks to Google's Gemini generateContent REST endpoint
// directly over net/http. No SDK usage for Gemini appears anywhere in the
// reference corpus, so rather than fabricate a call against an
// unverified library surface, this adapter follows the corpus's
// alternate, equally idiomatic convention of a hand-rolled HTTP client
// per provider (see the non-SDK provider adapters elsewhere in the pack).
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/llm-gateway/internal/domain"
	"github.com/tributary-ai/llm-gateway/internal/providers"
)

const (
	DefaultTimeout = 12 * time.Second
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
)

// Config is the adapter's per-instance configuration.
type Config struct {
	APIKey  string        `yaml:"api_key" json:"api_key"`
	BaseURL string        `yaml:"base_url" json:"base_url"`
	Model   string        `yaml:"model" json:"model"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// Provider is a minimal REST client for Gemini's generateContent API.
type Provider struct {
	apiKey  string
	baseURL string
	model   string
	timeout time.Duration
	http    *http.Client
	logger  *logrus.Entry
}

func New(cfg Config, logger *logrus.Logger) *Provider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	var entry *logrus.Entry
	if logger != nil {
		entry = logger.WithField("provider", "gemini")
	}

	return &Provider{
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		model:   cfg.Model,
		timeout: timeout,
		http:    &http.Client{Timeout: timeout},
		logger:  entry,
	}
}

func (p *Provider) Name() string { return "gemini" }

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type generationConfig struct {
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	Temperature     float64 `json:"temperature,omitempty"`
	TopP            float64 `json:"topP,omitempty"`
}

type generateRequest struct {
	Contents          []geminiContent   `json:"contents"`
	SystemInstruction *geminiContent    `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

func (p *Provider) MakeRequest(ctx context.Context, req *domain.ChatRequest) (*domain.ChatResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	model := req.Model
	if model == "" {
		model = p.model
	}

	body := toGeminiRequest(req)
	resp, err := p.call(ctx, model, body)
	if err != nil {
		return nil, err
	}
	return fromGeminiResponse(req, model, resp), nil
}

func (p *Provider) Ping(ctx context.Context) (*domain.PingResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	_, err := p.call(ctx, p.model, generateRequest{
		Contents:         []geminiContent{{Role: "user", Parts: []geminiPart{{Text: "ping"}}}},
		GenerationConfig: &generationConfig{MaxOutputTokens: 1},
	})
	latency := time.Since(start).Milliseconds()
	if err != nil {
		gwErr := err.(*domain.ProviderError)
		return &domain.PingResult{Status: "unhealthy", LatencyMs: 999999, ErrorKind: gwErr.Kind}, nil
	}
	return &domain.PingResult{Status: "healthy", LatencyMs: latency}, nil
}

func (p *Provider) call(ctx context.Context, model string, body generateRequest) (*generateResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, domain.NewProviderError(p.Name(), domain.ErrUpstreamMalformed, "failed to encode request", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", p.baseURL, model, p.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, domain.NewProviderError(p.Name(), domain.ErrUpstreamOther, "failed to build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, domain.NewProviderError(p.Name(), domain.ErrUpstreamTimeout, "request deadline exceeded", err)
		}
		return nil, domain.NewProviderError(p.Name(), domain.ErrUpstreamUnavailable, "request failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.NewProviderError(p.Name(), domain.ErrUpstreamMalformed, "failed to read response", err)
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, domain.NewProviderError(p.Name(), domain.ErrInvalidCredential, "invalid credential", fmt.Errorf("status %d", resp.StatusCode))
	case http.StatusTooManyRequests:
		return nil, domain.NewProviderError(p.Name(), domain.ErrUpstreamRateLimit, "rate limited by upstream", fmt.Errorf("status %d", resp.StatusCode))
	case http.StatusServiceUnavailable, http.StatusBadGateway:
		return nil, domain.NewProviderError(p.Name(), domain.ErrUpstreamUnavailable, "upstream unavailable", fmt.Errorf("status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		if p.logger != nil {
			p.logger.WithField("status", resp.StatusCode).Debug("unclassified upstream status")
		}
		return nil, domain.NewProviderError(p.Name(), domain.ErrUpstreamOther, "unexpected upstream status", fmt.Errorf("status %d", resp.StatusCode))
	}

	var out generateResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, domain.NewProviderError(p.Name(), domain.ErrUpstreamMalformed, "failed to decode response", err)
	}
	return &out, nil
}

func toGeminiRequest(req *domain.ChatRequest) generateRequest {
	var system *geminiContent
	var contents []geminiContent

	for _, m := range req.Messages {
		if m.Role == "system" {
			system = &geminiContent{Parts: []geminiPart{{Text: m.Content}}}
			continue
		}
		role := "user"
		if m.Role == "assistant" {
			role = "model"
		}
		contents = append(contents, geminiContent{Role: role, Parts: []geminiPart{{Text: m.Content}}})
	}

	genConfig := &generationConfig{}
	if req.MaxTokens != nil {
		genConfig.MaxOutputTokens = *req.MaxTokens
	}
	if req.Temperature != nil {
		genConfig.Temperature = *req.Temperature
	}
	if req.TopP != nil {
		genConfig.TopP = *req.TopP
	}

	return generateRequest{Contents: contents, SystemInstruction: system, GenerationConfig: genConfig}
}

func fromGeminiResponse(req *domain.ChatRequest, model string, resp *generateResponse) *domain.ChatResponse {
	var choices []domain.Choice
	var completion strings.Builder
	for i, c := range resp.Candidates {
		var text string
		for _, part := range c.Content.Parts {
			text += part.Text
		}
		choices = append(choices, domain.Choice{
			Index:        i,
			Message:      domain.Message{Role: "assistant", Content: text},
			FinishReason: c.FinishReason,
		})
		completion.WriteString(text)
	}

	return &domain.ChatResponse{
		ID:      fmt.Sprintf("gemini-%d", time.Now().UnixNano()),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: choices,
		Usage: providers.EstimateUsage(req.Messages, completion.String(), domain.Usage{
			PromptTokens:     resp.UsageMetadata.PromptTokenCount,
			CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      resp.UsageMetadata.TotalTokenCount,
		}),
	}
}

var _ providers.Provider = (*Provider)(nil)
