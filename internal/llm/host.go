package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	ollama "github.com/jmorganca/ollama/api"

	"github.com/rcliao/chat-summary/internal/config"
)

const backendHost = "host"

// Host generates with a model managed by a local Ollama daemon. No credential is needed.
type Host struct {
	client *ollama.Client
	model  string
}

func NewHost(cfg config.HostModel, hc *http.Client) (*Host, error) {
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("%w: host model is empty", ErrNotConfigured)
	}
	raw := cfg.URL
	if raw == "" {
		raw = "http://localhost:11434"
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid host url %q: %v", ErrNotConfigured, raw, err)
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Host{client: ollama.NewClient(u, hc), model: cfg.Model}, nil
}

func (h *Host) Generate(ctx context.Context, prompt string) (string, error) {
	stream := false
	req := &ollama.GenerateRequest{
		Model:  h.model,
		Prompt: prompt,
		Stream: &stream,
	}

	var text strings.Builder
	err := h.client.Generate(ctx, req, func(gr ollama.GenerateResponse) error {
		text.WriteString(gr.Response)
		return nil
	})
	if err != nil {
		ge := &GenerationError{Backend: backendHost, Reason: "generate failed", Err: err}
		var se ollama.StatusError
		if errors.As(err, &se) {
			ge.StatusCode = se.StatusCode
		}
		return "", ge
	}
	return text.String(), nil
}
