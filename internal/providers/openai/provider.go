// Package openai adapts github.com/sashabaranov/go-openai to the gateway's
// Provider capability contract. Its client construction also backs the
// groq and huggingface adapters, both of which speak the same
// OpenAI-compatible wire format against a different BaseURL.
package openai

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	openaisdk "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/llm-gateway/internal/domain"
	"github.com/tributary-ai/llm-gateway/internal/providers"
)

const (
	DefaultTimeout = 12 * time.Second
	pingPrompt     = "ping"
	pingMaxTokens  = 1
)

// Config is the adapter's per-instance configuration.
type Config struct {
	Name    string        `yaml:"name" json:"name"`
	APIKey  string        `yaml:"api_key" json:"api_key"`
	BaseURL string        `yaml:"base_url" json:"base_url"`
	OrgID   string        `yaml:"org_id" json:"org_id"`
	Model   string        `yaml:"model" json:"model"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// Provider wraps an *openai.Client behind providers.Provider. It never
// retries internally; callers (the router core) own retry/failover.
type Provider struct {
	name    string
	client  *openaisdk.Client
	model   string
	timeout time.Duration
	logger  *logrus.Entry
}

func New(cfg Config, logger *logrus.Logger) *Provider {
	clientConfig := openaisdk.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	if cfg.OrgID != "" {
		clientConfig.OrgID = cfg.OrgID
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	name := cfg.Name
	if name == "" {
		name = "openai"
	}

	var entry *logrus.Entry
	if logger != nil {
		entry = logger.WithField("provider", name)
	}

	return &Provider{
		name:    name,
		client:  openaisdk.NewClientWithConfig(clientConfig),
		model:   cfg.Model,
		timeout: timeout,
		logger:  entry,
	}
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) MakeRequest(ctx context.Context, req *domain.ChatRequest) (*domain.ChatResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	sdkReq := toSDKRequest(req, p.model)
	resp, err := p.client.CreateChatCompletion(ctx, sdkReq)
	if err != nil {
		return nil, p.classify(err)
	}
	return fromSDKResponse(req, &resp), nil
}

func (p *Provider) Ping(ctx context.Context) (*domain.PingResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	_, err := p.client.CreateChatCompletion(ctx, openaisdk.ChatCompletionRequest{
		Model:     p.model,
		Messages:  []openaisdk.ChatCompletionMessage{{Role: openaisdk.ChatMessageRoleUser, Content: pingPrompt}},
		MaxTokens: pingMaxTokens,
	})
	latency := time.Since(start).Milliseconds()
	if err != nil {
		gwErr := p.classify(err)
		return &domain.PingResult{Status: "unhealthy", LatencyMs: 999999, ErrorKind: gwErr.(*domain.ProviderError).Kind}, nil
	}
	return &domain.PingResult{Status: "healthy", LatencyMs: latency}, nil
}

// classify maps the go-openai SDK's error shapes onto the adapter error
// taxonomy every Provider must surface.
func (p *Provider) classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewProviderError(p.name, domain.ErrUpstreamTimeout, "request deadline exceeded", err)
	}

	var apiErr *openaisdk.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return domain.NewProviderError(p.name, domain.ErrInvalidCredential, "invalid credential", err)
		case http.StatusTooManyRequests:
			return domain.NewProviderError(p.name, domain.ErrUpstreamRateLimit, "rate limited by upstream", err)
		case http.StatusServiceUnavailable, http.StatusBadGateway:
			return domain.NewProviderError(p.name, domain.ErrUpstreamUnavailable, "upstream unavailable", err)
		case http.StatusBadRequest, http.StatusUnprocessableEntity:
			return domain.NewProviderError(p.name, domain.ErrUpstreamMalformed, "malformed upstream response", err)
		}
	}

	var reqErr *openaisdk.RequestError
	if errors.As(err, &reqErr) {
		return domain.NewProviderError(p.name, domain.ErrUpstreamUnavailable, "upstream request failed", err)
	}

	if p.logger != nil {
		p.logger.WithError(err).Debug("unclassified upstream error")
	}
	return domain.NewProviderError(p.name, domain.ErrUpstreamOther, "unclassified upstream error", err)
}

func toSDKRequest(req *domain.ChatRequest, defaultModel string) openaisdk.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = defaultModel
	}

	messages := make([]openaisdk.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, openaisdk.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	sdkReq := openaisdk.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
	}
	if req.MaxTokens != nil {
		sdkReq.MaxTokens = *req.MaxTokens
	}
	if req.Temperature != nil {
		sdkReq.Temperature = float32(*req.Temperature)
	}
	if req.TopP != nil {
		sdkReq.TopP = float32(*req.TopP)
	}
	return sdkReq
}

func fromSDKResponse(req *domain.ChatRequest, resp *openaisdk.ChatCompletionResponse) *domain.ChatResponse {
	choices := make([]domain.Choice, 0, len(resp.Choices))
	var completion strings.Builder
	for _, c := range resp.Choices {
		choices = append(choices, domain.Choice{
			Index:        c.Index,
			Message:      domain.Message{Role: c.Message.Role, Content: c.Message.Content},
			FinishReason: string(c.FinishReason),
		})
		completion.WriteString(c.Message.Content)
	}

	return &domain.ChatResponse{
		ID:      resp.ID,
		Object:  "chat.completion",
		Created: resp.Created,
		Model:   resp.Model,
		Choices: choices,
		Usage: providers.EstimateUsage(req.Messages, completion.String(), domain.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}),
	}
}

var _ providers.Provider = (*Provider)(nil)
