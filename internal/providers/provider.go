// Package providers defines the capability contract every upstream adapter
// implements: make a normalized chat request, or answer a cheap health
// probe. Concrete adapters live in subpackages, one per upstream.
package providers

import (
	"context"
	"strings"

	"github.com/tributary-ai/llm-gateway/internal/domain"
)

// Provider is the uniform capability the router core calls. Adapters MUST
// NOT implement retry — retry is the router core's responsibility — and
// MUST enforce their own internal request timeout independent of whatever
// deadline the caller's context carries.
type Provider interface {
	// Name returns the provider's configured name, used as the routing key.
	Name() string

	// MakeRequest performs the upstream call for a validated normalized
	// request, returning a normalized response or a *domain.ProviderError.
	MakeRequest(ctx context.Context, req *domain.ChatRequest) (*domain.ChatResponse, error)

	// Ping performs a small synthetic call suitable for health probing.
	Ping(ctx context.Context) (*domain.PingResult, error)
}

// EstimateTokens is the shared fallback token estimator adapters use when
// an upstream does not report usage: ceil(char_count/4).
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + 3) / 4
}

// EstimateUsage fills in whichever of reported's fields an upstream left at
// zero, estimating prompt tokens from the request's messages and completion
// tokens from the rendered completion text. Adapters call this once per
// response instead of trusting upstream-reported usage unconditionally.
func EstimateUsage(messages []domain.Message, completion string, reported domain.Usage) domain.Usage {
	usage := reported
	if usage.PromptTokens == 0 {
		var b strings.Builder
		for _, m := range messages {
			b.WriteString(m.Content)
		}
		usage.PromptTokens = EstimateTokens(b.String())
	}
	if usage.CompletionTokens == 0 {
		usage.CompletionTokens = EstimateTokens(completion)
	}
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}
	return usage
}
