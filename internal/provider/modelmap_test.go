package provider_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nevisai/aiproxy/internal/provider"
)

func TestParseModel(t *testing.T) {
	m, ok := provider.ParseModel("gemini-2.5-flash")
	require.True(t, ok)
	assert.Equal(t, provider.ModelGemini25Flash, m)
	assert.False(t, m.IsImage())

	m, ok = provider.ParseModel("gemini-2.5-flash-image-preview")
	require.True(t, ok)
	assert.True(t, m.IsImage())

	_, ok = provider.ParseModel("gpt-4o")
	assert.False(t, ok)
	_, ok = provider.ParseModel("")
	assert.False(t, ok)
}

func TestModel_GoogleEndpoint(t *testing.T) {
	assert.Equal(t,
		"https://generativelanguage.googleapis.com/v1beta/models/gemini-2.5-flash:generateContent",
		provider.ModelGemini25Flash.GoogleEndpoint())
}

func TestModel_FallbackModel(t *testing.T) {
	fallback, ok := provider.ModelGemini25Flash.FallbackModel()
	require.True(t, ok)
	assert.Equal(t, "google/gemini-2.5-flash", fallback)
}

// Every known model must have a secondary-provider mapping; a model that can
// never fail over is a configuration gap.
func TestEveryKnownModelHasFallback(t *testing.T) {
	for _, name := range provider.KnownModels() {
		m, ok := provider.ParseModel(name)
		require.True(t, ok, name)

		fallback, ok := m.FallbackModel()
		assert.True(t, ok, "model %s has no fallback mapping", name)
		assert.NotEmpty(t, fallback, name)
	}
}

func TestDefaultModel(t *testing.T) {
	assert.Equal(t, provider.ModelGemini25Flash, provider.DefaultModel(false))
	assert.Equal(t, provider.ModelGemini25FlashImage, provider.DefaultModel(true))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantKind  provider.Kind
		retryable bool
	}{
		{"rate limited", 429, provider.KindRateLimited, true},
		{"service unavailable", 503, provider.KindUnavailable, true},
		{"internal error", 500, provider.KindUnavailable, true},
		{"bad request", 400, provider.KindInvalidRequest, false},
		{"unauthorized", 401, provider.KindInvalidRequest, false},
		{"not found", 404, provider.KindInvalidRequest, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := provider.Classify("google", tt.status, "boom")
			assert.Equal(t, tt.wantKind, err.Kind)
			assert.Equal(t, tt.retryable, err.Retryable())
			assert.Equal(t, tt.status, err.StatusCode)
		})
	}
}

func TestUnavailable(t *testing.T) {
	err := provider.Unavailable("openrouter", "request timed out")
	assert.Equal(t, provider.KindUnavailable, err.Kind)
	assert.True(t, err.Retryable())
	assert.Zero(t, err.StatusCode)
	assert.Contains(t, err.Error(), "openrouter")
}
