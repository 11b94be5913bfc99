package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Roles accepted by the chat endpoint.
const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// Message represents a message in a conversation
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// System is shorthand for a system message.
func System(content string) Message { return Message{Role: RoleSystem, Content: content} }

// User is shorthand for a user message.
func User(content string) Message { return Message{Role: RoleUser, Content: content} }

// Response mirrors the chat-completions payload: {choices: [{message: {content}}]}.
type Response struct {
	Choices   []Choice `json:"choices"`
	Citations []string `json:"citations,omitempty"`
}

// Choice is a single completion alternative.
type Choice struct {
	Message Message `json:"message"`
}

// Text returns the first choice's content, or "" when the response has none.
func (r Response) Text() string {
	if len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}

// Completer issues one chat completion round-trip.
type Completer interface {
	Complete(ctx context.Context, messages []Message) (Response, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, messages []Message) (Response, error)

func (f CompleterFunc) Complete(ctx context.Context, messages []Message) (Response, error) {
	return f(ctx, messages)
}

// StatusError is returned when the upstream answers with a non-2xx status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("API returned status: %d", e.Code)
	}
	return fmt.Sprintf("API returned status: %d: %s", e.Code, e.Body)
}

// Client talks to an OpenAI-compatible chat completions endpoint (Perplexity by default).
type Client struct {
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
	log         logrus.FieldLogger
}

type request struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// NewClient creates a new chat completions client
func NewClient(apiKey, baseURL, model string, temperature float64, maxTokens int, timeout time.Duration, log logrus.FieldLogger) *Client {
	if baseURL == "" {
		baseURL = "https://api.perplexity.ai"
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		apiKey:      apiKey,
		baseURL:     strings.TrimRight(baseURL, "/"),
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
		httpClient:  &http.Client{Timeout: timeout},
		log:         log,
	}
}

// Complete sends messages to /chat/completions and decodes the raw response.
// Shape validation is left to the caller.
func (c *Client) Complete(ctx context.Context, messages []Message) (Response, error) {
	body, err := json.Marshal(request{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		return Response{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	if c.log != nil {
		c.log.WithFields(logrus.Fields{"model": c.model, "messages": len(messages)}).Debug("sending chat completion")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := string(raw)
		if len(snippet) > 512 {
			snippet = snippet[:512]
		}
		return Response{}, &StatusError{Code: resp.StatusCode, Body: snippet}
	}

	var out Response
	if err := json.Unmarshal(raw, &out); err != nil {
		return Response{}, fmt.Errorf("failed to parse response: %w", err)
	}
	return out, nil
}
