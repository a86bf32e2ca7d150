// Package completion talks to an OpenAI compatible /chat/completions
// endpoint, either the hosted API or the server proxy.
package completion

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

	"github.com/sashabaranov/go-openai"

	"github.com/fluxytools/chatai/internal/models"
)

// ErrUpstream is wrapped by every transport and status failure
var ErrUpstream = errors.New("upstream request failed")

// StatusError is returned for a non-success upstream status
type StatusError struct {
	StatusCode int
	Body       string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("upstream returned %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("upstream returned %d", e.StatusCode)
}

func (e *StatusError) Unwrap() error { return ErrUpstream }

// Request is the body of a chat completion call
type Request struct {
	Model    string                         `json:"model"`
	Messages []openai.ChatCompletionMessage `json:"messages"`
}

// NewRequest builds a request from a role+content history
func NewRequest(model string, history []models.ChatMessage) Request {
	msgs := make([]openai.ChatCompletionMessage, len(history))
	for i, m := range history {
		role := openai.ChatMessageRoleUser
		if m.Role == models.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		msgs[i] = openai.ChatCompletionMessage{Role: role, Content: m.Content}
	}
	return Request{Model: model, Messages: msgs}
}

// Endpoint returns the chat completions URL under baseURL
func Endpoint(baseURL string) string {
	return strings.TrimSuffix(baseURL, "/") + "/chat/completions"
}

// Client posts completion requests to one endpoint
type Client struct {
	endpoint   string
	apiKey     string
	headers    http.Header
	httpClient *http.Client
}

// Option configures a Client
type Option func(*Client)

// WithHeader adds a header to every request
func WithHeader(key, value string) Option {
	return func(c *Client) {
		if value != "" {
			c.headers.Set(key, value)
		}
	}
}

// NewClient creates a client for endpoint. apiKey may be empty for the proxy.
func NewClient(endpoint, apiKey string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		headers:  make(http.Header),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithAPIKey returns a copy of c that authenticates with apiKey
func (c *Client) WithAPIKey(apiKey string) *Client {
	cp := *c
	cp.apiKey = apiKey
	return &cp
}

// Do sends req and returns the raw success body
func (c *Client) Do(ctx context.Context, req Request) ([]byte, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", ErrUpstream, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			Body:       string(respBody),
			Message:    errorMessage(respBody),
		}
	}

	return respBody, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		req.Header[k] = v
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// errorMessage extracts a readable message from an error body. OpenAI style
// bodies carry {"error":{"message":...}}, the proxy sends {"error":"..."}.
func errorMessage(body []byte) string {
	var apiErr openai.ErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error != nil && apiErr.Error.Message != "" {
		return apiErr.Error.Message
	}

	var plain struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &plain); err == nil && plain.Error != "" {
		return plain.Error
	}

	return strings.TrimSpace(string(body))
}
