// Package google provides the Gemini generateContent client, the primary
// generation provider.
package google

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/nevisai/aiproxy/internal/provider"
)

// DefaultTimeout is the per-call request timeout. Expiry is classified as a
// retryable provider failure.
const DefaultTimeout = 30 * time.Second

// HTTPDoer is an interface for executing HTTP requests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientConfig holds configuration for the Gemini client.
type ClientConfig struct {
	// APIKey is the Google API key (required).
	APIKey string

	// BaseURL overrides the generateContent endpoint base (tests only).
	BaseURL string

	// HTTPClient is the HTTP client to use (optional).
	HTTPClient HTTPDoer

	// Timeout is the request timeout (optional, defaults to 30s).
	Timeout time.Duration

	// Logger for client operations.
	Logger zerolog.Logger
}

// Client calls the Gemini generateContent API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient HTTPDoer
	logger     zerolog.Logger
}

// NewClient creates a new Gemini client.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    cfg.BaseURL,
		httpClient: httpClient,
		logger:     cfg.Logger,
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return provider.NameGoogle
}

// generateContentRequest is the Gemini wire payload.
type generateContentRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature        float64  `json:"temperature"`
	MaxOutputTokens    int      `json:"maxOutputTokens"`
	ResponseModalities []string `json:"responseModalities,omitempty"`
}

// Generate executes one generateContent call with the exact model requested.
func (c *Client) Generate(ctx context.Context, req provider.Request) (*provider.Response, error) {
	model, ok := provider.ParseModel(req.Model)
	if !ok {
		return nil, &provider.Error{
			Provider: c.Name(),
			Kind:     provider.KindInvalidRequest,
			Message:  fmt.Sprintf("model %q is not supported", req.Model),
		}
	}

	endpoint := model.GoogleEndpoint()
	if c.baseURL != "" {
		endpoint = c.baseURL + "/" + string(model) + ":generateContent"
	}

	payload := generateContentRequest{
		Contents: []content{{Parts: []part{{Text: req.Prompt}}}},
		GenerationConfig: generationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
		},
	}
	if req.Image {
		payload.GenerationConfig.ResponseModalities = []string{"IMAGE"}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	c.logger.Debug().
		Str("model", string(model)).
		Bool("image", req.Image).
		Msg("calling gemini generateContent")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, provider.Unavailable(c.Name(), "request timed out")
		}
		return nil, provider.Unavailable(c.Name(), "failed to reach provider")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, provider.Unavailable(c.Name(), "failed to read provider response")
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn().
			Int("status", resp.StatusCode).
			Str("model", string(model)).
			Msg("gemini call failed")
		return nil, provider.Classify(c.Name(), resp.StatusCode,
			fmt.Sprintf("generation failed with status %d", resp.StatusCode))
	}

	if !json.Valid(respBody) {
		return nil, provider.Unavailable(c.Name(), "provider returned malformed JSON")
	}

	return &provider.Response{
		Data:     json.RawMessage(respBody),
		Model:    string(model),
		Endpoint: model.GoogleEndpoint(),
	}, nil
}
