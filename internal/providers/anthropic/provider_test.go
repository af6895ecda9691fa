package anthropic

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"github.com/tributary-ai/llm-gateway/internal/domain"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l
}

func TestNewSetsDefaults(t *testing.T) {
	p := New(Config{APIKey: "sk-ant-test"}, testLogger())
	assert.Equal(t, "anthropic", p.Name())
	assert.Equal(t, DefaultTimeout, p.timeout)
}

func TestToParamsExtractsSystemMessage(t *testing.T) {
	p := New(Config{APIKey: "sk-ant-test", Model: "claude-3-5-sonnet-20241022"}, testLogger())
	req := &domain.ChatRequest{
		Messages: []domain.Message{
			{Role: "system", Content: "be terse"},
			{Role: "user", Content: "hi"},
		},
	}

	params := p.toParams(req)
	assert.Len(t, params.Messages, 1)
	assert.Equal(t, int64(defaultMaxTokens), params.MaxTokens)
}

func TestToParamsUsesRequestMaxTokens(t *testing.T) {
	p := New(Config{APIKey: "sk-ant-test"}, testLogger())
	maxTokens := 16
	req := &domain.ChatRequest{
		Messages:  []domain.Message{{Role: "user", Content: "hi"}},
		MaxTokens: &maxTokens,
	}

	params := p.toParams(req)
	assert.Equal(t, int64(16), params.MaxTokens)
}
