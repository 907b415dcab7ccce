package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// OllamaProvider is a local Ollama LLM provider.
type OllamaProvider struct {
	desc    Descriptor
	BaseURL string
	client  *http.Client
}

// NewOllamaProvider creates a new Ollama provider. Per-call timeouts come from
// the caller's context.
func NewOllamaProvider(d Descriptor) *OllamaProvider {
	baseURL := strings.TrimRight(d.BaseURL, "/")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaProvider{
		desc:    d,
		BaseURL: baseURL,
		client:  &http.Client{},
	}
}

// Ping checks that Ollama is running and the model is available.
func (o *OllamaProvider) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", o.BaseURL+"/api/tags", nil)
	if err != nil {
		return &UnavailableError{Provider: o.desc.ID, Reason: err.Error()}
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return &TransportError{Provider: o.desc.ID, Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &TransportError{Provider: o.desc.ID, StatusCode: resp.StatusCode, Cause: fmt.Errorf("listing models")}
	}

	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return &TransportError{Provider: o.desc.ID, Cause: fmt.Errorf("decoding tags: %w", err)}
	}

	modelBase := strings.SplitN(o.desc.Model, ":", 2)[0]
	for _, m := range result.Models {
		if strings.Contains(m.Name, modelBase) {
			return nil
		}
	}
	return &UnavailableError{Provider: o.desc.ID, Reason: fmt.Sprintf("model %q not found", o.desc.Model)}
}

// Generate sends a prompt to Ollama and returns the response.
func (o *OllamaProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	messages := []map[string]string{}
	if req.System != "" {
		messages = append(messages, map[string]string{"role": "system", "content": req.System})
	}
	messages = append(messages, map[string]string{"role": "user", "content": req.Prompt})

	body := map[string]any{
		"model":    o.desc.Model,
		"messages": messages,
		"stream":   false,
		"options": map[string]any{
			"num_predict": maxTokens(req, o.desc),
			"temperature": temperature(req, o.desc),
		},
	}
	structured := req.Schema != nil && o.desc.Capabilities.StructuredOutput
	if structured {
		body["format"] = req.Schema.Definition
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", o.BaseURL+"/api/chat", bytes.NewReader(data))
	if err != nil {
		return nil, &UnavailableError{Provider: o.desc.ID, Reason: err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Provider: o.desc.ID, Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fromStatus(o.desc.ID, resp.StatusCode, fmt.Errorf("ollama: %s", strings.TrimSpace(string(respBody))))
	}

	var result struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &TransportError{Provider: o.desc.ID, Cause: fmt.Errorf("decoding response: %w", err)}
	}

	return &Response{Provider: o.desc.ID, Text: result.Message.Content, Structured: structured}, nil
}
