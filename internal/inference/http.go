package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Config holds inference API connection settings.
type Config struct {
	BaseURL string // e.g. https://inference.example.com/v1
	APIKey  string // bearer token
	Model   string // model identifier sent with every request
}

// HTTPClient is a chat-completions API client.
type HTTPClient struct {
	HTTPClient *http.Client
	Config     Config
}

// NewHTTPClient returns a client with the given config. The underlying
// http.Client defaults to a 120s timeout.
func NewHTTPClient(cfg Config) *HTTPClient {
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	return &HTTPClient{
		Config:     cfg,
		HTTPClient: &http.Client{Timeout: 120 * time.Second},
	}
}

// Minimal API request/response shapes for marshalling.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// Complete sends one chat completion. HTTP 429 is mapped to *ThrottleError
// with the Retry-After header as the hint when present.
func (c *HTTPClient) Complete(ctx context.Context, system, user string, opts Options) (*Response, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.Config.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Config.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.Config.APIKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("inference request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &ThrottleError{RetryAfter: retryAfterHint(resp)}
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("inference status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, errors.New("inference response has no choices")
	}
	return &Response{
		Text:     parsed.Choices[0].Message.Content,
		CostUsed: parsed.Usage.TotalTokens,
	}, nil
}

// retryAfterHint parses the Retry-After header (seconds form only).
func retryAfterHint(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

var _ Client = (*HTTPClient)(nil)
