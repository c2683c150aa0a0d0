package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gmsas95/chronosage/internal/config"
	"github.com/gmsas95/chronosage/internal/errors"
	"github.com/gmsas95/chronosage/internal/metrics"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(config.LLMConfig{
		APIKey:  "sk-test",
		BaseURL: srv.URL + "/v1/",
		Model:   "gpt-4o-mini",
	}, WithMetrics(metrics.New()))
	require.NoError(t, err)
	return c
}

var createFn = ToolFunction{
	Name:        "create_calendar_event",
	Description: "Create a calendar event",
	Parameters:  map[string]any{"type": "object"},
}

func TestNewClientRequiresKey(t *testing.T) {
	_, err := NewClient(config.LLMConfig{})
	assert.Equal(t, errors.ErrProviderNotConfigured.Code, errors.GetCode(err))
}

func TestCallFunction_ToolCalls(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req map[string]any
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "gpt-4o-mini", req["model"])
		choice := req["tool_choice"].(map[string]any)
		assert.Equal(t, "create_calendar_event", choice["function"].(map[string]any)["name"])
		msgs := req["messages"].([]any)
		assert.Equal(t, "system", msgs[0].(map[string]any)["role"])

		w.Write([]byte(`{"model":"gpt-4o-mini","choices":[{"message":{"role":"assistant","tool_calls":[
			{"id":"call_1","type":"function","function":{"name":"create_calendar_event","arguments":"{\"title\":\"Lunch\"}"}}
		]}}],"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}`))
	})

	args, err := c.CallFunction(context.Background(), "sys", "lunch tomorrow", createFn)
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"Lunch"}`, string(args))
}

func TestCallFunction_LegacyFunctionCall(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","function_call":
			{"name":"create_calendar_event","arguments":"{\"title\":\"Sync\"}"}}}]}`))
	})

	args, err := c.CallFunction(context.Background(), "sys", "sync", createFn)
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"Sync"}`, string(args))
}

func TestCallFunction_NoCall(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"Sure!"}}]}`))
	})

	_, err := c.CallFunction(context.Background(), "sys", "hello", createFn)
	assert.Equal(t, errors.ErrNoFunctionCall.Code, errors.GetCode(err))
}

func TestCallFunction_BadArguments(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"tool_calls":[
			{"type":"function","function":{"name":"create_calendar_event","arguments":"{title"}}
		]}}]}`))
	})

	_, err := c.CallFunction(context.Background(), "sys", "x", createFn)
	assert.Equal(t, errors.ErrInvalidArguments.Code, errors.GetCode(err))
}

func TestChatCompletion_StatusErrors(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusTooManyRequests)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
		w.Write([]byte(`{"error":"nope"}`))
	})

	_, err := c.ChatCompletion(context.Background(), ChatRequest{})
	assert.Equal(t, errors.ErrRateLimited.Code, errors.GetCode(err))

	status.Store(http.StatusInternalServerError)
	_, err = c.ChatCompletion(context.Background(), ChatRequest{})
	assert.Equal(t, errors.ErrProviderUnavailable.Code, errors.GetCode(err))
	assert.Contains(t, err.Error(), "status 500")
}

func TestChatCompletion_BreakerOpens(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	for i := 0; i < 5; i++ {
		_, err := c.ChatCompletion(context.Background(), ChatRequest{})
		require.Error(t, err)
	}
	require.Equal(t, int32(5), hits.Load())

	_, err := c.ChatCompletion(context.Background(), ChatRequest{})
	assert.Equal(t, errors.ErrProviderUnavailable.Code, errors.GetCode(err))
	assert.Equal(t, int32(5), hits.Load(), "open breaker must not reach the server")
}

func TestChatCompletion_ClientErrorsDoNotTrip(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	})

	for i := 0; i < 7; i++ {
		_, err := c.ChatCompletion(context.Background(), ChatRequest{})
		require.Error(t, err)
		assert.Equal(t, errors.ErrProviderRejected.Code, errors.GetCode(err))
	}
	assert.Equal(t, int32(7), hits.Load())
}

func TestChatCompletion_RejectedRequests(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden} {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"error":"nope"}`, status)
		})
		_, err := c.ChatCompletion(context.Background(), ChatRequest{})
		assert.Equal(t, errors.ErrProviderRejected.Code, errors.GetCode(err), "status %d", status)
	}

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	_, err := c.ChatCompletion(context.Background(), ChatRequest{})
	assert.Equal(t, errors.ErrRateLimited.Code, errors.GetCode(err))

	c = newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	_, err = c.ChatCompletion(context.Background(), ChatRequest{})
	assert.Equal(t, errors.ErrProviderUnavailable.Code, errors.GetCode(err))
}

func TestChatCompletion_CancelledContext(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("request should not be sent")
	})
	c.limiter.SetLimit(0.0001)
	c.limiter.SetBurst(0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.ChatCompletion(ctx, ChatRequest{})
	assert.Equal(t, errors.ErrRateLimited.Code, errors.GetCode(err))
}
