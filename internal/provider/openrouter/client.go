// Package openrouter provides the secondary generation provider. OpenRouter
// exposes an OpenAI-compatible API, so text generation goes through the
// go-openai SDK pointed at the OpenRouter base URL. Responses are reshaped
// into the Gemini candidates format so callers see one payload shape no
// matter which backend served the request.
package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"github.com/nevisai/aiproxy/internal/provider"
)

const (
	// DefaultBaseURL is the OpenRouter API base URL.
	DefaultBaseURL = "https://openrouter.ai/api/v1"

	// DefaultTimeout is the per-call request timeout.
	DefaultTimeout = 45 * time.Second
)

// ClientConfig holds configuration for the OpenRouter client.
type ClientConfig struct {
	// APIKey is the OpenRouter API key (required).
	APIKey string

	// BaseURL is the API base URL (optional, defaults to OpenRouter).
	BaseURL string

	// Timeout is the request timeout (optional, defaults to 45s).
	Timeout time.Duration

	// Logger for client operations.
	Logger zerolog.Logger
}

// Client is an OpenRouter API client.
type Client struct {
	api        *openai.Client
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a new OpenRouter client.
func NewClient(cfg ClientConfig) *Client {
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	httpClient := &http.Client{Timeout: timeout}

	apiCfg := openai.DefaultConfig(cfg.APIKey)
	apiCfg.BaseURL = baseURL
	apiCfg.HTTPClient = httpClient

	return &Client{
		api:        openai.NewClientWithConfig(apiCfg),
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     cfg.Logger,
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return provider.NameOpenRouter
}

// Endpoint returns the chat completions URL calls are sent to.
func (c *Client) Endpoint() string {
	return c.baseURL + "/chat/completions"
}

// Generate executes one chat completion. req.Model must already be the
// secondary-provider model name (e.g. "google/gemini-2.5-flash").
func (c *Client) Generate(ctx context.Context, req provider.Request) (*provider.Response, error) {
	if req.Image {
		return c.generateImage(ctx, req)
	}
	return c.generateText(ctx, req)
}

func (c *Client) generateText(ctx context.Context, req provider.Request) (*provider.Response, error) {
	c.logger.Debug().
		Str("model", req.Model).
		Msg("calling openrouter chat completion")

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: req.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return nil, c.classifyError(err)
	}

	if len(resp.Choices) == 0 {
		return nil, provider.Unavailable(c.Name(), "provider returned no choices")
	}

	data, err := candidatesFromText(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, fmt.Errorf("encoding response: %w", err)
	}

	return &provider.Response{
		Data:     data,
		Model:    req.Model,
		Endpoint: c.Endpoint(),
	}, nil
}

// imageRequest is the chat completions payload for image-capable models.
// The modalities field and the images array in the response are OpenRouter
// extensions not modeled by the SDK, so this path uses the HTTP API directly.
type imageRequest struct {
	Model      string         `json:"model"`
	Messages   []imageMessage `json:"messages"`
	Modalities []string       `json:"modalities"`
}

type imageMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type imageResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
			Images  []struct {
				ImageURL struct {
					URL string `json:"url"`
				} `json:"image_url"`
			} `json:"images"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *Client) generateImage(ctx context.Context, req provider.Request) (*provider.Response, error) {
	payload := imageRequest{
		Model:      req.Model,
		Messages:   []imageMessage{{Role: "user", Content: req.Prompt}},
		Modalities: []string{"image", "text"},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	c.logger.Debug().
		Str("model", req.Model).
		Msg("calling openrouter image generation")

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
		return nil, provider.Classify(c.Name(), resp.StatusCode,
			fmt.Sprintf("image generation failed with status %d", resp.StatusCode))
	}

	var parsed imageResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, provider.Unavailable(c.Name(), "provider returned malformed JSON")
	}
	if len(parsed.Choices) == 0 || len(parsed.Choices[0].Message.Images) == 0 {
		return nil, provider.Unavailable(c.Name(), "provider returned no image")
	}

	data, err := candidatesFromImage(parsed.Choices[0].Message.Images[0].ImageURL.URL)
	if err != nil {
		return nil, fmt.Errorf("encoding response: %w", err)
	}

	return &provider.Response{
		Data:     data,
		Model:    req.Model,
		Endpoint: c.Endpoint(),
	}, nil
}

// classifyError maps go-openai errors to the provider failure taxonomy.
func (c *Client) classifyError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return provider.Classify(c.Name(), apiErr.HTTPStatusCode,
			fmt.Sprintf("generation failed with status %d", apiErr.HTTPStatusCode))
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return provider.Classify(c.Name(), reqErr.HTTPStatusCode,
			fmt.Sprintf("generation failed with status %d", reqErr.HTTPStatusCode))
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return provider.Unavailable(c.Name(), "request timed out")
	}
	return provider.Unavailable(c.Name(), "failed to reach provider")
}

// Gemini candidates envelope, so secondary responses match the primary shape.

type candidatesEnvelope struct {
	Candidates []candidate `json:"candidates"`
}

type candidate struct {
	Content      candidateContent `json:"content"`
	FinishReason string           `json:"finishReason"`
}

type candidateContent struct {
	Parts []candidatePart `json:"parts"`
}

type candidatePart struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

func candidatesFromText(text string) (json.RawMessage, error) {
	return json.Marshal(candidatesEnvelope{
		Candidates: []candidate{{
			Content:      candidateContent{Parts: []candidatePart{{Text: text}}},
			FinishReason: "STOP",
		}},
	})
}

// candidatesFromImage converts an OpenRouter image (usually a base64 data
// URL) into the Gemini inlineData shape. Plain URLs are passed through as a
// text part.
func candidatesFromImage(imageURL string) (json.RawMessage, error) {
	p := candidatePart{Text: imageURL}
	if mime, data, ok := parseDataURL(imageURL); ok {
		p = candidatePart{InlineData: &inlineData{MimeType: mime, Data: data}}
	}

	return json.Marshal(candidatesEnvelope{
		Candidates: []candidate{{
			Content:      candidateContent{Parts: []candidatePart{p}},
			FinishReason: "STOP",
		}},
	})
}

func parseDataURL(s string) (mime, data string, ok bool) {
	if !strings.HasPrefix(s, "data:") {
		return "", "", false
	}
	rest := strings.TrimPrefix(s, "data:")
	meta, payload, found := strings.Cut(rest, ",")
	if !found || !strings.HasSuffix(meta, ";base64") {
		return "", "", false
	}
	return strings.TrimSuffix(meta, ";base64"), payload, true
}
