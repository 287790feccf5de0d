package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Well-known OpenAI-compatible endpoints.
const (
	GroqBaseURL       = "https://api.groq.com/openai/v1"
	GeminiBaseURL     = "https://generativelanguage.googleapis.com/v1beta/openai"
	PerplexityBaseURL = "https://api.perplexity.ai"
)

const (
	defaultTimeout = 60 * time.Second
	maxRetries     = 3
	initialBackoff = 500 * time.Millisecond
	maxErrorBody   = 512
)

// ClientConfig configures an OpenAI-compatible chat completions client.
type ClientConfig struct {
	Name    string
	BaseURL string
	APIKey  string
	Model   string
	// Tools enables tool definitions on requests. Providers without function
	// calling support must leave it false.
	Tools   bool
	Timeout time.Duration
}

// Client talks to any /chat/completions endpoint that follows the OpenAI
// wire format (Groq, Gemini's compatibility layer, Perplexity).
type Client struct {
	cfg        ClientConfig
	httpClient *http.Client
	backoff    time.Duration
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{},
		backoff:    initialBackoff,
	}
}

func (c *Client) Name() string { return c.cfg.Name }

func (c *Client) SupportsTools() bool { return c.cfg.Tools }

func (c *Client) Model() string { return c.cfg.Model }

type wireFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type wireTool struct {
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wireToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function wireCallFunction `json:"function"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Name       string         `json:"name,omitempty"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []wireMessage `json:"messages"`
	Tools    []wireTool    `json:"tools,omitempty"`
	Stream   bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message wireMessage `json:"message"`
	} `json:"choices"`
}

// Complete sends one non-streaming chat completion. Rate-limited requests are
// retried with exponential backoff.
func (c *Client) Complete(ctx context.Context, messages []Message, tools []ToolDef) (Response, error) {
	req := chatRequest{Model: c.cfg.Model, Messages: toWire(messages)}
	if c.cfg.Tools {
		for _, t := range tools {
			req.Tools = append(req.Tools, wireTool{
				Type:     "function",
				Function: wireFunction{Name: t.Name, Description: t.Description, Parameters: t.Parameters},
			})
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return Response{}, c.fail(0, fmt.Errorf("marshaling request: %w", err))
	}

	var lastErr error
	for attempt := range maxRetries {
		resp, err := c.do(ctx, body)
		if err == nil {
			return resp, nil
		}
		var rl *rateLimitError
		if !errors.As(err, &rl) {
			return Response{}, err
		}

		lastErr = err
		if attempt < maxRetries-1 {
			wait := time.Duration(float64(c.backoff) * math.Pow(2, float64(attempt)))
			select {
			case <-ctx.Done():
				return Response{}, c.fail(0, ctx.Err())
			case <-time.After(wait):
			}
		}
	}
	return Response{}, c.fail(http.StatusTooManyRequests, fmt.Errorf("rate limited after %d retries: %w", maxRetries, lastErr))
}

type rateLimitError struct {
	status int
}

func (e *rateLimitError) Error() string {
	return fmt.Sprintf("rate limited (HTTP %d)", e.status)
}

func (c *Client) do(ctx context.Context, body []byte) (Response, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Response{}, c.fail(0, fmt.Errorf("creating request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Response{}, c.fail(0, fmt.Errorf("executing request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return Response{}, &rateLimitError{status: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return Response{}, c.fail(resp.StatusCode, fmt.Errorf("unexpected status: %s", strings.TrimSpace(string(msg))))
	}

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return Response{}, c.fail(resp.StatusCode, fmt.Errorf("decoding response: %w", err))
	}
	if len(cr.Choices) == 0 {
		return Response{}, c.fail(resp.StatusCode, errors.New("response has no choices"))
	}
	return fromWire(cr.Choices[0].Message), nil
}

func (c *Client) fail(status int, err error) error {
	return &Error{Provider: c.cfg.Name, Status: status, Err: err}
}

func toWire(messages []Message) []wireMessage {
	out := make([]wireMessage, 0, len(messages))
	for _, m := range messages {
		wm := wireMessage{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID, Name: m.Name}
		for _, tc := range m.ToolCalls {
			args := string(tc.Arguments)
			if args == "" {
				args = "{}"
			}
			wm.ToolCalls = append(wm.ToolCalls, wireToolCall{
				ID:       tc.ID,
				Type:     "function",
				Function: wireCallFunction{Name: tc.Name, Arguments: args},
			})
		}
		out = append(out, wm)
	}
	return out
}

func fromWire(m wireMessage) Response {
	resp := Response{Content: m.Content}
	for _, tc := range m.ToolCalls {
		id := tc.ID
		if id == "" {
			id = "call_" + uuid.NewString()
		}
		resp.ToolCalls = append(resp.ToolCalls, ToolCall{
			ID:        id,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	return resp
}
