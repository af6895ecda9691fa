package openai

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tributary-ai/llm-gateway/internal/domain"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l
}

func TestNewSetsDefaults(t *testing.T) {
	p := New(Config{APIKey: "sk-test"}, testLogger())
	assert.Equal(t, "openai", p.Name())
	assert.Equal(t, DefaultTimeout, p.timeout)
}

func TestNewHonorsCustomName(t *testing.T) {
	p := New(Config{Name: "groq", APIKey: "gk-test", BaseURL: "https://api.groq.com/openai/v1"}, testLogger())
	assert.Equal(t, "groq", p.Name())
}

func TestToSDKRequestUsesRequestModelOverDefault(t *testing.T) {
	req := &domain.ChatRequest{
		Model:    "gpt-4o",
		Messages: []domain.Message{{Role: "user", Content: "hi"}},
	}
	sdkReq := toSDKRequest(req, "gpt-3.5-turbo")
	assert.Equal(t, "gpt-4o", sdkReq.Model)
	require.Len(t, sdkReq.Messages, 1)
	assert.Equal(t, "hi", sdkReq.Messages[0].Content)
}

func TestToSDKRequestFallsBackToDefaultModel(t *testing.T) {
	req := &domain.ChatRequest{Messages: []domain.Message{{Role: "user", Content: "hi"}}}
	sdkReq := toSDKRequest(req, "gpt-3.5-turbo")
	assert.Equal(t, "gpt-3.5-turbo", sdkReq.Model)
}

func TestToSDKRequestMapsOptionalFields(t *testing.T) {
	maxTokens := 42
	temp := 0.5
	topP := 0.9
	req := &domain.ChatRequest{
		Messages:    []domain.Message{{Role: "user", Content: "hi"}},
		MaxTokens:   &maxTokens,
		Temperature: &temp,
		TopP:        &topP,
	}
	sdkReq := toSDKRequest(req, "gpt-3.5-turbo")
	assert.Equal(t, 42, sdkReq.MaxTokens)
	assert.InDelta(t, 0.5, sdkReq.Temperature, 0.001)
	assert.InDelta(t, 0.9, sdkReq.TopP, 0.001)
}
