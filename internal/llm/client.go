// Package llm talks to OpenAI-compatible chat completion APIs.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/gmsas95/chronosage/internal/config"
	"github.com/gmsas95/chronosage/internal/errors"
	"github.com/gmsas95/chronosage/internal/metrics"
)

// Client provides LLM API access
type Client struct {
	cfg     config.LLMConfig
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[*ChatResponse]
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// Option customises a Client
type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a new LLM client
func NewClient(cfg config.LLMConfig, opts ...Option) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.ErrProviderNotConfigured
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60
	}

	c := &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: time.Duration(timeout) * time.Second},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Limit(float64(cfg.RequestsPerMinute) / 60)
	}
	c.limiter = rate.NewLimiter(limit, max(1, cfg.RequestsPerMinute/10))

	c.breaker = gobreaker.NewCircuitBreaker[*ChatResponse](gobreaker.Settings{
		Name:        "llm",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			// Caller cancellations and our own bad requests say nothing
			// about the provider's health.
			return err == nil || stderrors.Is(err, context.Canceled) || isClientError(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("LLM circuit breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			c.metrics.SetBreakerOpen(to == gobreaker.StateOpen)
		},
	})

	return c, nil
}

// Message represents a chat message
type Message struct {
	Role         string        `json:"role"`
	Content      string        `json:"content,omitempty"`
	ToolCalls    []ToolCall    `json:"tool_calls,omitempty"`
	ToolCallID   string        `json:"tool_call_id,omitempty"`
	FunctionCall *FunctionCall `json:"function_call,omitempty"`
}

// FunctionCall is a function invocation, either inside a tool call or in the
// legacy top-level function_call field.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCall represents a tool call from the model
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// Tool represents a tool definition
type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ToolFunction represents a function tool. Parameters is any JSON Schema
// value, typically a jsonschema.Definition.
type ToolFunction struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  any    `json:"parameters"`
}

// ChatRequest represents an API request
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Tools       []Tool    `json:"tools,omitempty"`
	ToolChoice  any       `json:"tool_choice,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

// ChatResponse represents a non-streaming API response
type ChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int     `json:"index"`
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// statusError carries a non-200 API response
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.status, e.body)
}

func isClientError(err error) bool {
	var se *statusError
	return stderrors.As(err, &se) && se.status >= 400 && se.status < 500 && se.status != http.StatusTooManyRequests
}

// ChatCompletion sends a chat completion request
func (c *Client) ChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if req.Model == "" {
		req.Model = c.cfg.Model
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = c.cfg.MaxTokens
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errors.WrapAs(errors.ErrRateLimited, err)
	}

	started := time.Now()
	resp, err := c.breaker.Execute(func() (*ChatResponse, error) {
		return c.do(ctx, req)
	})
	elapsed := time.Since(started)

	if err != nil {
		c.metrics.RecordLLMCall("error", elapsed, 0, 0)
		c.logger.Warn("chat completion failed", zap.Duration("elapsed", elapsed), zap.Error(err))

		var se *statusError
		switch {
		case stderrors.Is(err, gobreaker.ErrOpenState), stderrors.Is(err, gobreaker.ErrTooManyRequests):
			return nil, errors.WrapAs(errors.ErrProviderUnavailable, err)
		case stderrors.As(err, &se) && se.status == http.StatusTooManyRequests:
			return nil, errors.WrapAs(errors.ErrRateLimited, err)
		case isClientError(err):
			return nil, errors.WrapAs(errors.ErrProviderRejected, err)
		}
		return nil, errors.WrapAs(errors.ErrProviderUnavailable, err)
	}

	c.metrics.RecordLLMCall("ok", elapsed, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	c.logger.Debug("chat completion",
		zap.String("model", resp.Model),
		zap.Duration("elapsed", elapsed),
		zap.Int("tokens", resp.Usage.TotalTokens))
	return resp, nil
}

func (c *Client) do(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &statusError{status: resp.StatusCode, body: string(bodyBytes)}
	}

	var result ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &result, nil
}

// CallFunction forces the model to call fn and returns the raw JSON
// arguments. Both tool_calls and the legacy function_call field are read.
func (c *Client) CallFunction(ctx context.Context, systemPrompt, userMessage string, fn ToolFunction) (json.RawMessage, error) {
	req := ChatRequest{
		Messages: []Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userMessage},
		},
		Tools: []Tool{{Type: "function", Function: fn}},
		ToolChoice: map[string]any{
			"type":     "function",
			"function": map[string]string{"name": fn.Name},
		},
		Temperature: c.cfg.Temperature,
	}

	resp, err := c.ChatCompletion(ctx, req)
	if err != nil {
		return nil, err
	}
	return FunctionArguments(resp, fn.Name)
}

// FunctionArguments extracts the arguments of the named call from the first
// choice of resp.
func FunctionArguments(resp *ChatResponse, name string) (json.RawMessage, error) {
	if resp == nil || len(resp.Choices) == 0 {
		return nil, errors.WrapAs(errors.ErrNoFunctionCall, fmt.Errorf("no choices in response"))
	}
	msg := resp.Choices[0].Message

	var args string
	found := false
	for _, tc := range msg.ToolCalls {
		if tc.Function.Name == name {
			args, found = tc.Function.Arguments, true
			break
		}
	}
	if !found && msg.FunctionCall != nil && msg.FunctionCall.Name == name {
		args, found = msg.FunctionCall.Arguments, true
	}
	if !found {
		return nil, errors.WrapAs(errors.ErrNoFunctionCall, fmt.Errorf("expected call to %s", name))
	}

	if !json.Valid([]byte(args)) {
		return nil, errors.WrapAs(errors.ErrInvalidArguments, fmt.Errorf("arguments for %s are not valid JSON", name))
	}
	return json.RawMessage(args), nil
}

// GetModel returns the configured model
func (c *Client) GetModel() string {
	return c.cfg.Model
}
