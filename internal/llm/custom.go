package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/rcliao/chat-summary/internal/config"
)

const backendCustom = "custom"

// Custom calls an OpenAI-compatible chat completions endpoint.
type Custom struct {
	client      openai.Client
	model       string
	maxTokens   int
	temperature float64
}

// NewCustom validates cfg and builds the client. The url, api key and model are required.
func NewCustom(cfg config.CustomEndpoint, hc *http.Client) (*Custom, error) {
	var missing []string
	if strings.TrimSpace(cfg.URL) == "" {
		missing = append(missing, "url")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		missing = append(missing, "api_key")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		missing = append(missing, "model")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: custom endpoint missing %s", ErrNotConfigured, strings.Join(missing, ", "))
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(BaseURL(cfg.URL)),
		// Retries are handled by WithRetry.
		option.WithMaxRetries(0),
	}
	if hc != nil {
		opts = append(opts, option.WithHTTPClient(hc))
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2000
	}
	return &Custom{
		client:      openai.NewClient(opts...),
		model:       cfg.Model,
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
	}, nil
}

// BaseURL normalises a configured endpoint so that chat completions resolve to
// <base>/v1/chat/completions, or <base>/chat/completions when base already names /v1.
func BaseURL(raw string) string {
	base := strings.TrimRight(strings.TrimSpace(raw), "/")
	base = strings.TrimSuffix(base, "/chat/completions")
	if !strings.Contains(base, "/v1") {
		base += "/v1"
	}
	return base + "/"
}

func (c *Custom) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		MaxTokens:   openai.Int(int64(c.maxTokens)),
		Temperature: openai.Float(c.temperature),
	})
	if err != nil {
		ge := &GenerationError{Backend: backendCustom, Reason: "chat completion failed", Err: err}
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			ge.StatusCode = apiErr.StatusCode
			if apiErr.Response != nil {
				ge.RetryAfter = parseRetryAfter(apiErr.Response.Header.Get("Retry-After"), time.Now())
			}
		}
		return "", ge
	}
	if len(resp.Choices) == 0 {
		return "", &GenerationError{Backend: backendCustom, Reason: "response has no choices"}
	}
	return resp.Choices[0].Message.Content, nil
}
