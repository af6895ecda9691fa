// Package anthropic adapts github.com/anthropics/anthropic-sdk-go to the
// gateway's Provider capability contract.
package anthropic

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/llm-gateway/internal/domain"
	"github.com/tributary-ai/llm-gateway/internal/providers"
)

const (
	DefaultTimeout    = 12 * time.Second
	defaultMaxTokens  = 1024
	pingModel         = "claude-3-haiku-20240307"
	pingMaxTokens     = 1
)

// Config is the adapter's per-instance configuration.
type Config struct {
	Name    string        `yaml:"name" json:"name"`
	APIKey  string        `yaml:"api_key" json:"api_key"`
	BaseURL string        `yaml:"base_url" json:"base_url"`
	Model   string        `yaml:"model" json:"model"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// Provider wraps an anthropic.Client behind providers.Provider.
type Provider struct {
	name    string
	client  *anthropic.Client
	model   string
	timeout time.Duration
	logger  *logrus.Entry
}

func New(cfg Config, logger *logrus.Logger) *Provider {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := anthropic.NewClient(opts...)

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	name := cfg.Name
	if name == "" {
		name = "anthropic"
	}

	var entry *logrus.Entry
	if logger != nil {
		entry = logger.WithField("provider", name)
	}

	return &Provider{name: name, client: &client, model: cfg.Model, timeout: timeout, logger: entry}
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) MakeRequest(ctx context.Context, req *domain.ChatRequest) (*domain.ChatResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	params := p.toParams(req)
	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, p.classify(err)
	}
	return fromMessage(req, resp), nil
}

func (p *Provider) Ping(ctx context.Context) (*domain.PingResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	_, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(pingModel),
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock("ping"))},
		MaxTokens: pingMaxTokens,
	})
	latency := time.Since(start).Milliseconds()
	if err != nil {
		gwErr := p.classify(err).(*domain.ProviderError)
		return &domain.PingResult{Status: "unhealthy", LatencyMs: 999999, ErrorKind: gwErr.Kind}, nil
	}
	return &domain.PingResult{Status: "healthy", LatencyMs: latency}, nil
}

func (p *Provider) toParams(req *domain.ChatRequest) anthropic.MessageNewParams {
	var system string
	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == "system" {
			system = m.Content
			continue
		}
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == "user" {
			messages = append(messages, anthropic.NewUserMessage(block))
		} else {
			messages = append(messages, anthropic.NewAssistantMessage(block))
		}
	}

	model := req.Model
	if model == "" {
		model = p.model
	}

	params := anthropic.MessageNewParams{
		Model:    anthropic.Model(model),
		Messages: messages,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system, Type: "text"}}
	}
	if req.MaxTokens != nil {
		params.MaxTokens = int64(*req.MaxTokens)
	} else {
		params.MaxTokens = defaultMaxTokens
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = anthropic.Float(*req.TopP)
	}
	return params
}

func fromMessage(req *domain.ChatRequest, resp *anthropic.Message) *domain.ChatResponse {
	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return &domain.ChatResponse{
		ID:      resp.ID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   string(resp.Model),
		Choices: []domain.Choice{{
			Index:        0,
			Message:      domain.Message{Role: "assistant", Content: text.String()},
			FinishReason: string(resp.StopReason),
		}},
		Usage: providers.EstimateUsage(req.Messages, text.String(), domain.Usage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
			TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		}),
	}
}

// classify maps anthropic-sdk-go's error shapes onto the adapter error
// taxonomy every Provider must surface.
func (p *Provider) classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewProviderError(p.name, domain.ErrUpstreamTimeout, "request deadline exceeded", err)
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 401, 403:
			return domain.NewProviderError(p.name, domain.ErrInvalidCredential, "invalid credential", err)
		case 429:
			return domain.NewProviderError(p.name, domain.ErrUpstreamRateLimit, "rate limited by upstream", err)
		case 503, 502:
			return domain.NewProviderError(p.name, domain.ErrUpstreamUnavailable, "upstream unavailable", err)
		case 400, 422:
			return domain.NewProviderError(p.name, domain.ErrUpstreamMalformed, "malformed upstream response", err)
		}
	}

	if p.logger != nil {
		p.logger.WithError(err).Debug("unclassified upstream error")
	}
	return domain.NewProviderError(p.name, domain.ErrUpstreamOther, "unclassified upstream error", err)
}

var _ providers.Provider = (*Provider)(nil)
