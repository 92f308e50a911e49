package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

// OllamaProvider calls a local Ollama server's generate endpoint
type OllamaProvider struct {
	name       string
	model      string
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

type ollamaGenerateRequest struct {
	Model   string                 `json:"model"`
	Prompt  string                 `json:"prompt"`
	System  string                 `json:"system,omitempty"`
	Stream  bool                   `json:"stream"`
	Format  string                 `json:"format,omitempty"`
	Options map[string]interface{} `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// NewOllamaProvider creates a provider. The request deadline comes from the
// caller's context, so the HTTP client carries no timeout of its own.
func NewOllamaProvider(name, baseURL, model string, logger zerolog.Logger) *OllamaProvider {
	return &OllamaProvider{
		name:       name,
		model:      model,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{},
		logger:     logger.With().Str("provider", name).Logger(),
	}
}

// Name returns the configured provider name
func (o *OllamaProvider) Name() string {
	return o.name
}

// Complete runs a single non-streaming generation
func (o *OllamaProvider) Complete(ctx context.Context, prompt string, opts Options) (string, error) {
	options := map[string]interface{}{
		"temperature": opts.Temperature,
	}
	if opts.MaxTokens > 0 {
		options["num_predict"] = opts.MaxTokens
	}
	payload := ollamaGenerateRequest{
		Model:   o.model,
		Prompt:  prompt,
		System:  systemPrompt,
		Stream:  false,
		Options: options,
	}
	if opts.ResponseFormat == ResponseFormatJSON {
		payload.Format = "json"
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request to Ollama: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request to Ollama: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	o.logger.Debug().Str("model", o.model).Int("prompt_bytes", len(prompt)).Msg("Requesting completion")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return "", classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", classifyTransportError(ctx, fmt.Errorf("failed to read response body: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", classifyStatus(resp.StatusCode, fmt.Errorf("%s", truncate(string(respBody), 200)))
	}

	var out ollamaGenerateResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("%w: failed to decode Ollama response: %v", ErrInvalidResponse, err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("%w: %s", ErrInvalidResponse, out.Error)
	}
	if strings.TrimSpace(out.Response) == "" {
		return "", fmt.Errorf("%w: empty completion", ErrInvalidResponse)
	}
	return out.Response, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
