package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllamaGenerate(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.Write([]byte(`{"message": {"role": "assistant", "content": "hello"}}`))
	}))
	defer srv.Close()

	p := NewOllamaProvider(Descriptor{ID: "ollama", Model: "qwen2.5:7b", BaseURL: srv.URL,
		Capabilities: Capabilities{StructuredOutput: true}})
	resp, err := p.Generate(context.Background(), Request{
		Prompt: "hi",
		Schema: &Schema{Name: "artifact", Definition: map[string]any{"type": "object"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Text)
	assert.Equal(t, "ollama", resp.Provider)
	assert.True(t, resp.Structured)
	assert.Equal(t, map[string]any{"type": "object"}, got["format"])
}

func TestOllamaServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewOllamaProvider(Descriptor{ID: "ollama", Model: "m", BaseURL: srv.URL})
	_, err := p.Generate(context.Background(), Request{Prompt: "hi"})
	var te *TransportError
	require.True(t, errors.As(err, &te), "got %v", err)
	assert.Equal(t, http.StatusServiceUnavailable, te.StatusCode)
}

func TestOllamaPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"models": [{"name": "qwen2.5:7b"}]}`))
	}))
	defer srv.Close()

	ok := NewOllamaProvider(Descriptor{ID: "ollama", Model: "qwen2.5:7b", BaseURL: srv.URL})
	assert.NoError(t, ok.Ping(context.Background()))

	missing := NewOllamaProvider(Descriptor{ID: "ollama", Model: "llama3", BaseURL: srv.URL})
	assert.True(t, IsUnavailable(missing.Ping(context.Background())))
}

func TestOpenAIGenerate(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "cmpl-1", "object": "chat.completion", "created": 1, "model": "mistral-large",
			"choices": [{"index": 0, "finish_reason": "stop",
				"message": {"role": "assistant", "content": "{\"title\": \"T\"}"}}]
		}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(Descriptor{ID: "mistral", Model: "mistral-large", BaseURL: srv.URL,
		Capabilities: Capabilities{StructuredOutput: true}, Temperature: 0.25}, "sk-test")
	resp, err := p.Generate(context.Background(), Request{
		Prompt: "write",
		Schema: &Schema{Name: "artifact", Definition: map[string]any{"type": "object"}},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"title": "T"}`, resp.Text)
	assert.True(t, resp.Structured)
	assert.Equal(t, "mistral-large", got["model"])
	format, ok := got["response_format"].(map[string]any)
	require.True(t, ok, "expected response_format in request")
	assert.Equal(t, "json_schema", format["type"])
}

func TestOpenAIRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": {"message": "rate limited", "type": "rate_limit"}}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(Descriptor{ID: "openrouter", Model: "m", BaseURL: srv.URL}, "sk-test")
	_, err := p.Generate(context.Background(), Request{Prompt: "write"})
	var te *TransportError
	require.True(t, errors.As(err, &te), "got %v", err)
	assert.True(t, te.RateLimited())
}

func TestOpenAIAuthFailureIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error": {"message": "bad key"}}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(Descriptor{ID: "mistral", Model: "m", BaseURL: srv.URL}, "sk-bad")
	_, err := p.Generate(context.Background(), Request{Prompt: "write"})
	assert.True(t, IsUnavailable(err), "got %v", err)
}

func TestAnthropicGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "sk-ant", r.Header.Get("X-Api-Key"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "msg_1", "type": "message", "role": "assistant", "model": "claude",
			"content": [{"type": "text", "text": "part one "}, {"type": "text", "text": "part two"}],
			"stop_reason": "end_turn", "usage": {"input_tokens": 1, "output_tokens": 2}
		}`))
	}))
	defer srv.Close()

	p := NewAnthropicProvider(Descriptor{ID: "anthropic", Model: "claude", BaseURL: srv.URL}, "sk-ant")
	resp, err := p.Generate(context.Background(), Request{System: "be brief", Prompt: "write"})
	require.NoError(t, err)
	assert.Equal(t, "part one part two", resp.Text)
	assert.False(t, resp.Structured)
}
