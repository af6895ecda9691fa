// Package testutil provides in-memory fakes used by router and integration
// tests: a scriptable provider that can succeed, fail with a classified
// error, or hang until its context is cancelled.
package testutil

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/tributary-ai/llm-gateway/internal/domain"
)

// FakeProvider is a providers.Provider whose behavior is scripted per call.
type FakeProvider struct {
	name string

	mu       sync.Mutex
	scripted []func(ctx context.Context, req *domain.ChatRequest) (*domain.ChatResponse, error)
	calls    int32
}

// NewFakeProvider builds a fake that always succeeds with a minimal
// response until told otherwise via AlwaysFail/AlwaysHang/Script.
func NewFakeProvider(name string) *FakeProvider {
	return &FakeProvider{name: name}
}

func (f *FakeProvider) Name() string { return f.name }

// Calls reports how many times MakeRequest has been invoked.
func (f *FakeProvider) Calls() int32 { return atomic.LoadInt32(&f.calls) }

// AlwaysFail makes every future call return a classified provider error.
func (f *FakeProvider) AlwaysFail(kind domain.ErrorKind) *FakeProvider {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripted = []func(ctx context.Context, req *domain.ChatRequest) (*domain.ChatResponse, error){
		func(ctx context.Context, req *domain.ChatRequest) (*domain.ChatResponse, error) {
			return nil, domain.NewProviderError(f.name, kind, "fake provider scripted failure", nil)
		},
	}
	return f
}

// AlwaysHang makes every future call block until its context is cancelled.
func (f *FakeProvider) AlwaysHang() *FakeProvider {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripted = []func(ctx context.Context, req *domain.ChatRequest) (*domain.ChatResponse, error){
		func(ctx context.Context, req *domain.ChatRequest) (*domain.ChatResponse, error) {
			<-ctx.Done()
			return nil, domain.NewProviderError(f.name, domain.ErrUpstreamTimeout, "context cancelled", ctx.Err())
		},
	}
	return f
}

// FailThenSucceed scripts n consecutive failures followed by a success,
// for exercising failover onto the same provider across retries.
func (f *FakeProvider) FailThenSucceed(n int, kind domain.ErrorKind) *FakeProvider {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripted = nil
	for i := 0; i < n; i++ {
		f.scripted = append(f.scripted, func(ctx context.Context, req *domain.ChatRequest) (*domain.ChatResponse, error) {
			return nil, domain.NewProviderError(f.name, kind, "fake provider scripted failure", nil)
		})
	}
	return f
}

func (f *FakeProvider) MakeRequest(ctx context.Context, req *domain.ChatRequest) (*domain.ChatResponse, error) {
	n := atomic.AddInt32(&f.calls, 1)

	f.mu.Lock()
	var step func(ctx context.Context, req *domain.ChatRequest) (*domain.ChatResponse, error)
	if idx := int(n) - 1; idx < len(f.scripted) {
		step = f.scripted[idx]
	}
	f.mu.Unlock()

	if step != nil {
		return step(ctx, req)
	}

	return &domain.ChatResponse{
		Object:  "chat.completion",
		Model:   req.Model,
		Choices: []domain.Choice{{Index: 0, Message: domain.Message{Role: "assistant", Content: "ok from " + f.name}, FinishReason: "stop"}},
		Usage:   domain.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}, nil
}

func (f *FakeProvider) Ping(ctx context.Context) (*domain.PingResult, error) {
	return &domain.PingResult{Status: "healthy", LatencyMs: 1}, nil
}
