package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider calls an OpenAI-compatible chat completion endpoint
type OpenAIProvider struct {
	name   string
	model  string
	client *openai.Client
	logger zerolog.Logger
}

// NewOpenAIProvider creates a provider. An empty baseURL targets the public
// OpenAI API.
func NewOpenAIProvider(name, apiKey, model, baseURL string, logger zerolog.Logger) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &OpenAIProvider{
		name:   name,
		model:  model,
		client: openai.NewClientWithConfig(cfg),
		logger: logger.With().Str("provider", name).Logger(),
	}
}

// Name returns the configured provider name
func (o *OpenAIProvider) Name() string {
	return o.name
}

// Complete sends prompt as a single user turn
func (o *OpenAIProvider) Complete(ctx context.Context, prompt string, opts Options) (string, error) {
	o.logger.Debug().Str("model", o.model).Int("prompt_bytes", len(prompt)).Msg("Requesting completion")

	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	}
	if opts.ResponseFormat == ResponseFormatJSON {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", classifyOpenAIError(ctx, err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices returned", ErrInvalidResponse)
	}
	content := resp.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("%w: empty completion", ErrInvalidResponse)
	}

	o.logger.Debug().Str("finish_reason", string(resp.Choices[0].FinishReason)).Msg("Received completion")
	return content, nil
}

func classifyOpenAIError(ctx context.Context, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return classifyStatus(apiErr.HTTPStatusCode, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return classifyStatus(reqErr.HTTPStatusCode, err)
	}
	return classifyTransportError(ctx, err)
}
