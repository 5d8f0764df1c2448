// Package ai is the client for the remote text/embedding completion service.
// The categorization cascade depends on the error taxonomy here: rate-limit
// and authorization failures drive different fallthrough behavior than
// generic failures.
package ai

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
)

var (
	// ErrRateLimited is returned on HTTP 429. The cascade reacts with a
	// cooldown window instead of retrying.
	ErrRateLimited = errors.New("ai: rate limited")
	// ErrUnauthorized is returned on HTTP 401/403.
	ErrUnauthorized = errors.New("ai: unauthorized")
	// ErrNotConfigured is returned when no API key is set.
	ErrNotConfigured = errors.New("ai: api key not configured")
)

// Client calls the completion service. Both methods are synchronous; the
// caller-level timeout on the HTTP client is the only timeout boundary.
type Client interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Complete(ctx context.Context, prompt string) (string, error)
}

// HTTPClient is the OpenAI-compatible implementation of Client.
type HTTPClient struct {
	baseURL         string
	apiKey          string
	completionModel string
	embeddingModel  string
	httpClient      *http.Client
}

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithBaseURL overrides the service base URL.
func WithBaseURL(url string) Option {
	return func(c *HTTPClient) { c.baseURL = strings.TrimRight(url, "/") }
}

// WithModels overrides the completion and embedding model names.
func WithModels(completion, embedding string) Option {
	return func(c *HTTPClient) {
		c.completionModel = completion
		c.embeddingModel = embedding
	}
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) { c.httpClient = hc }
}

// NewHTTPClient creates a client with bearer-token auth and a 30s timeout.
func NewHTTPClient(apiKey string, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		baseURL:         "https://api.openai.com/v1",
		apiKey:          strings.TrimSpace(apiKey),
		completionModel: "gpt-4o-mini",
		embeddingModel:  "text-embedding-3-small",
		httpClient:      &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured reports whether an API key is present.
func (c *HTTPClient) Configured() bool {
	return c.apiKey != ""
}

type embeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns the embedding vector for the given text.
func (c *HTTPClient) Embed(ctx context.Context, text string) ([]float32, error) {
	var resp embeddingResponse
	err := c.post(ctx, "/embeddings", embeddingRequest{
		Model: c.embeddingModel,
		Input: text,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("ai: empty embedding response")
	}
	return resp.Data[0].Embedding, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type completionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Complete returns the completion text for the given prompt.
func (c *HTTPClient) Complete(ctx context.Context, prompt string) (string, error) {
	var resp completionResponse
	err := c.post(ctx, "/chat/completions", completionRequest{
		Model:       c.completionModel,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: 0,
	}, &resp)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("ai: empty completion response")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func (c *HTTPClient) post(ctx context.Context, path string, payload, out any) error {
	if !c.Configured() {
		return ErrNotConfigured
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("ai: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("ai: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ai: %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode >= 400:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("ai: %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("ai: decode response: %w", err)
	}
	return nil
}
