package security

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tributary-ai/llm-gateway/internal/tenant"
)

func newTestRegistry(t *testing.T) *tenant.Registry {
	t.Helper()
	reg := tenant.NewRegistry(logrus.New(), []byte("test-secret"))
	reg.Put(&tenant.Tenant{
		TenantID: "acme",
		APIKeys:  []string{"sk-acme-test"},
		Policy:   "balanced",
	})
	return reg
}

func TestAuthenticator_AuthenticateAPIKey(t *testing.T) {
	auth := NewAuthenticator(&AuthConfig{RequireAuth: true}, newTestRegistry(t), logrus.New())

	info, err := auth.Authenticate(context.Background(), "sk-acme-test")
	require.NoError(t, err)
	assert.Equal(t, "acme", info.TenantID)
	assert.Equal(t, "api_key", info.AuthType)
}

func TestAuthenticator_AuthenticateInvalidToken(t *testing.T) {
	auth := NewAuthenticator(&AuthConfig{RequireAuth: true}, newTestRegistry(t), logrus.New())

	info, err := auth.Authenticate(context.Background(), "not-a-real-key")
	assert.Error(t, err)
	assert.Nil(t, info)
}

func TestMaskAPIKey(t *testing.T) {
	tests := []struct {
		name   string
		apiKey string
		want   string
	}{
		{name: "normal API key", apiKey: "sk-1234567890abcdef", want: "sk-1****cdef"},
		{name: "short API key", apiKey: "short", want: "****"},
		{name: "exactly 8 chars", apiKey: "12345678", want: "****"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, maskAPIKey(tt.apiKey))
		})
	}
}

func TestGetAuthInfo(t *testing.T) {
	info := &AuthInfo{TenantID: "acme", AuthType: "api_key"}
	ctx := context.WithValue(context.Background(), ctxAuthInfo, info)

	result, ok := GetAuthInfo(ctx)
	assert.True(t, ok)
	assert.Equal(t, info, result)

	result, ok = GetAuthInfo(context.Background())
	assert.False(t, ok)
	assert.Nil(t, result)
}
