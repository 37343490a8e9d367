package openrouter_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nevisai/aiproxy/internal/provider"
	"github.com/nevisai/aiproxy/internal/provider/openrouter"
)

func TestClient_GenerateText(t *testing.T) {
	var gotPath, gotAuth, gotModel string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")

		var payload struct {
			Model string `json:"model"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		gotModel = payload.Model

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"fallback says hi"}}]}`))
	}))
	defer server.Close()

	client := openrouter.NewClient(openrouter.ClientConfig{
		APIKey:  "or-key",
		BaseURL: server.URL,
	})

	resp, err := client.Generate(context.Background(), provider.Request{
		Prompt:      "say hi",
		Model:       "google/gemini-2.5-flash",
		Temperature: 0.7,
		MaxTokens:   100,
	})
	require.NoError(t, err)

	assert.Equal(t, "/chat/completions", gotPath)
	assert.Equal(t, "Bearer or-key", gotAuth)
	assert.Equal(t, "google/gemini-2.5-flash", gotModel)
	assert.Equal(t, "google/gemini-2.5-flash", resp.Model)

	// The response is reshaped into the Gemini candidates format.
	var envelope struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &envelope))
	require.Len(t, envelope.Candidates, 1)
	assert.Equal(t, "fallback says hi", envelope.Candidates[0].Content.Parts[0].Text)
}

func TestClient_GenerateImage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Modalities []string `json:"modalities"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, []string{"image", "text"}, payload.Modalities)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"","images":[{"image_url":{"url":"data:image/png;base64,aGVsbG8="}}]}}]}`))
	}))
	defer server.Close()

	client := openrouter.NewClient(openrouter.ClientConfig{APIKey: "k", BaseURL: server.URL})

	resp, err := client.Generate(context.Background(), provider.Request{
		Prompt: "draw a circle",
		Model:  "google/gemini-2.5-flash-image-preview",
		Image:  true,
	})
	require.NoError(t, err)

	var envelope struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					InlineData *struct {
						MimeType string `json:"mimeType"`
						Data     string `json:"data"`
					} `json:"inlineData"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &envelope))
	require.Len(t, envelope.Candidates, 1)
	part := envelope.Candidates[0].Content.Parts[0]
	require.NotNil(t, part.InlineData)
	assert.Equal(t, "image/png", part.InlineData.MimeType)
	assert.Equal(t, "aGVsbG8=", part.InlineData.Data)
}

func TestClient_ClassifiesTextFailures(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		wantKind provider.Kind
	}{
		{"rate limited", http.StatusTooManyRequests, provider.KindRateLimited},
		{"unavailable", http.StatusServiceUnavailable, provider.KindUnavailable},
		{"bad request", http.StatusBadRequest, provider.KindInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":{"message":"upstream detail","type":"server_error"}}`))
			}))
			defer server.Close()

			client := openrouter.NewClient(openrouter.ClientConfig{APIKey: "k", BaseURL: server.URL})

			_, err := client.Generate(context.Background(), provider.Request{
				Prompt: "x", Model: "google/gemini-2.5-flash",
			})
			require.Error(t, err)

			var provErr *provider.Error
			require.True(t, errors.As(err, &provErr), "got %T", err)
			assert.Equal(t, tt.wantKind, provErr.Kind)
		})
	}
}

func TestClient_EmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	client := openrouter.NewClient(openrouter.ClientConfig{APIKey: "k", BaseURL: server.URL})

	_, err := client.Generate(context.Background(), provider.Request{
		Prompt: "x", Model: "google/gemini-2.5-flash",
	})
	require.Error(t, err)

	var provErr *provider.Error
	require.True(t, errors.As(err, &provErr))
	assert.Equal(t, provider.KindUnavailable, provErr.Kind)
}
