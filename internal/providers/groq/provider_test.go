package groq

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestNew_SetsName(t *testing.T) {
	p := New(Config{APIKey: "gk-test"}, logrus.New())
	assert.Equal(t, "groq", p.Name())
}

func TestNew_KeepsNameWithCustomBaseURL(t *testing.T) {
	p := New(Config{APIKey: "gk-test", BaseURL: "https://example.test/v1"}, logrus.New())
	assert.Equal(t, "groq", p.Name())
}
