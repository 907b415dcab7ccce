package llm

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

// Kind selects the client implementation for a provider.
type Kind string

const (
	KindOpenAI    Kind = "openai"
	KindAnthropic Kind = "anthropic"
	KindOllama    Kind = "ollama"
)

// Capabilities are the optional features a backend supports.
type Capabilities struct {
	StructuredOutput bool
}

// Descriptor describes one generation backend. It is immutable after load.
type Descriptor struct {
	ID                string
	Kind              Kind
	Enabled           bool
	Priority          int
	Model             string
	BaseURL           string
	APIKeyEnv         string
	Timeout           time.Duration
	MaxTokens         int
	Temperature       float64
	Capabilities      Capabilities
	RequestsPerMinute int
}

// Schema is a JSON schema a structured-output backend should conform to.
type Schema struct {
	Name        string
	Description string
	Definition  map[string]any
}

// Request is a single completion request.
type Request struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
	Schema      *Schema
}

// Response is a provider's raw output.
type Response struct {
	Provider string
	Text     string
	// Structured is set when the backend enforced Schema on Text.
	Structured bool
}

// Provider is the interface for LLM providers.
type Provider interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// Pinger is implemented by providers that can cheaply check reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Factory builds a provider from its descriptor.
type Factory func(d Descriptor) (Provider, error)

// NewProvider is the default Factory. Missing credentials and unknown kinds
// are reported as *UnavailableError.
func NewProvider(d Descriptor) (Provider, error) {
	switch Kind(strings.ToLower(string(d.Kind))) {
	case KindOllama:
		return NewOllamaProvider(d), nil
	case KindOpenAI:
		key, err := apiKey(d)
		if err != nil {
			return nil, err
		}
		return NewOpenAIProvider(d, key), nil
	case KindAnthropic:
		key, err := apiKey(d)
		if err != nil {
			return nil, err
		}
		return NewAnthropicProvider(d, key), nil
	default:
		return nil, &UnavailableError{Provider: d.ID, Reason: fmt.Sprintf("unknown provider kind %q", d.Kind)}
	}
}

// IsConfigured reports whether the descriptor has the credentials it needs.
func IsConfigured(d Descriptor) bool {
	if Kind(strings.ToLower(string(d.Kind))) == KindOllama {
		return true
	}
	_, err := apiKey(d)
	return err == nil
}

func apiKey(d Descriptor) (string, error) {
	if d.APIKeyEnv == "" {
		return "", &UnavailableError{Provider: d.ID, Reason: "api_key_env not set"}
	}
	key := strings.TrimSpace(os.Getenv(d.APIKeyEnv))
	if key == "" {
		return "", &UnavailableError{Provider: d.ID, Reason: fmt.Sprintf("%s is empty", d.APIKeyEnv)}
	}
	return key, nil
}

func maxTokens(req Request, d Descriptor) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	if d.MaxTokens > 0 {
		return d.MaxTokens
	}
	return 4096
}

func temperature(req Request, d Descriptor) float64 {
	if req.Temperature > 0 {
		return req.Temperature
	}
	return d.Temperature
}
