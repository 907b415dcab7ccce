package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicProvider calls the Anthropic Messages API.
type AnthropicProvider struct {
	desc   Descriptor
	client anthropic.Client
}

// NewAnthropicProvider creates a provider with SDK retries disabled.
func NewAnthropicProvider(d Descriptor, apiKey string) *AnthropicProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if d.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(d.BaseURL))
	}
	return &AnthropicProvider{desc: d, client: anthropic.NewClient(opts...)}
}

// Generate sends a single-turn message and concatenates the text blocks of
// the reply.
func (a *AnthropicProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.desc.Model),
		MaxTokens: int64(maxTokens(req, a.desc)),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if t := temperature(req, a.desc); t > 0 {
		params.Temperature = anthropic.Float(t)
	}

	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, Classify(a.desc.ID, err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return nil, &TransportError{Provider: a.desc.ID, Cause: fmt.Errorf("no text content in response")}
	}

	return &Response{Provider: a.desc.ID, Text: sb.String()}, nil
}
