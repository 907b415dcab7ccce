package llm

import (
	"context"
	"fmt"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIProvider talks to any OpenAI-compatible chat completions endpoint:
// OpenAI itself, Mistral, OpenRouter or Gemini's compatibility layer.
type OpenAIProvider struct {
	desc   Descriptor
	client openai.Client
}

// NewOpenAIProvider creates a provider for the descriptor's base URL. SDK-level
// retries are disabled; retrying is the cascade's job.
func NewOpenAIProvider(d Descriptor, apiKey string) *OpenAIProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if d.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(d.BaseURL))
	}
	return &OpenAIProvider{desc: d, client: openai.NewClient(opts...)}
}

// Generate sends a chat completion request. When the backend supports
// structured output and a schema is given, the response is constrained to it.
func (o *OpenAIProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	msgs := []openai.ChatCompletionMessageParamUnion{}
	if req.System != "" {
		msgs = append(msgs, openai.SystemMessage(req.System))
	}
	msgs = append(msgs, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:     openai.ChatModel(o.desc.Model),
		Messages:  msgs,
		MaxTokens: openai.Int(int64(maxTokens(req, o.desc))),
	}
	if t := temperature(req, o.desc); t > 0 {
		params.Temperature = openai.Float(t)
	}

	structured := req.Schema != nil && o.desc.Capabilities.StructuredOutput
	if structured {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:        req.Schema.Name,
					Description: openai.String(req.Schema.Description),
					Schema:      req.Schema.Definition,
					Strict:      openai.Bool(true),
				},
			},
		}
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, Classify(o.desc.ID, err)
	}
	if len(resp.Choices) == 0 {
		return nil, &TransportError{Provider: o.desc.ID, Cause: fmt.Errorf("no choices in response")}
	}

	return &Response{Provider: o.desc.ID, Text: resp.Choices[0].Message.Content, Structured: structured}, nil
}
