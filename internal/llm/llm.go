// Package llm provides the text generation backends used by the summarizer.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rcliao/chat-summary/internal/config"
)

// Generator turns a prompt into text.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// GenerationError is returned by every backend when a call fails.
type GenerationError struct {
	Backend string
	Reason  string
	// StatusCode is the HTTP status of the failed call, 0 when there was none.
	StatusCode int
	// RetryAfter is the server's requested delay before the next attempt, if it sent one.
	RetryAfter time.Duration
	Err        error
}

func (e *GenerationError) Error() string {
	msg := fmt.Sprintf("generate (%s): %s", e.Backend, e.Reason)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" [HTTP %d]", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *GenerationError) Unwrap() error { return e.Err }

// ErrNotConfigured is wrapped by construction errors for incomplete backend settings.
var ErrNotConfigured = errors.New("generation backend not configured")

// New builds the generator selected by cfg.Backend. Each attempt is bounded by
// cfg.Timeout and failed attempts are retried up to cfg.MaxAttempts.
func New(cfg config.Generation) (Generator, error) {
	hc := &http.Client{Timeout: cfg.Timeout}

	var g Generator
	switch cfg.Backend {
	case config.BackendHost, "":
		h, err := NewHost(cfg.Host, hc)
		if err != nil {
			return nil, err
		}
		g = h
	case config.BackendCustom:
		c, err := NewCustom(cfg.Custom, hc)
		if err != nil {
			return nil, err
		}
		g = c
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrNotConfigured, cfg.Backend)
	}

	if cfg.Timeout > 0 {
		g = WithTimeout(g, cfg.Timeout)
	}
	if cfg.MaxAttempts > 1 {
		g = WithRetry(g, DefaultRetryPolicy(cfg.MaxAttempts))
	}
	return g, nil
}

// RetryPolicy controls WithRetry. Wait slices are indexed by attempt; the
// last value is reused when a slice is shorter than Attempts-1.
type RetryPolicy struct {
	Attempts         int
	RateLimitWaits   []time.Duration
	ServerErrorWaits []time.Duration
}

// DefaultRetryPolicy waits long after rate limiting and briefly after server errors.
func DefaultRetryPolicy(attempts int) RetryPolicy {
	return RetryPolicy{
		Attempts:         attempts,
		RateLimitWaits:   []time.Duration{20 * time.Second, 40 * time.Second, 60 * time.Second},
		ServerErrorWaits: []time.Duration{2 * time.Second, 10 * time.Second, 30 * time.Second},
	}
}

func waitFor(waits []time.Duration, attempt int) time.Duration {
	if len(waits) == 0 {
		return 0
	}
	if attempt >= len(waits) {
		return waits[len(waits)-1]
	}
	return waits[attempt]
}

// WithRetry retries rate-limited and server-side failures, waiting as long as
// the server's Retry-After asks when it sends one. Other failures and context
// cancellation end the loop immediately.
func WithRetry(g Generator, p RetryPolicy) Generator {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	return GeneratorFunc(func(ctx context.Context, prompt string) (string, error) {
		var lastErr error
		for attempt := 0; attempt < p.Attempts; attempt++ {
			out, err := g.Generate(ctx, prompt)
			if err == nil {
				return out, nil
			}
			lastErr = err

			var wait time.Duration
			switch {
			case isRateLimitError(err):
				wait = waitFor(p.RateLimitWaits, attempt)
			case isServerError(err):
				wait = waitFor(p.ServerErrorWaits, attempt)
			default:
				return "", err
			}
			if attempt == p.Attempts-1 {
				break
			}
			if ra := retryAfterOf(err); ra > 0 {
				wait = ra
			}

			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return "", &GenerationError{Backend: backendOf(err), Reason: "cancelled while waiting to retry", Err: ctx.Err()}
			case <-timer.C:
			}
		}
		return "", lastErr
	})
}

// WithTimeout bounds every call to g by d.
func WithTimeout(g Generator, d time.Duration) Generator {
	return GeneratorFunc(func(ctx context.Context, prompt string) (string, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return g.Generate(ctx, prompt)
	})
}

func backendOf(err error) string {
	var ge *GenerationError
	if errors.As(err, &ge) {
		return ge.Backend
	}
	return "unknown"
}

func retryAfterOf(err error) time.Duration {
	var ge *GenerationError
	if errors.As(err, &ge) {
		return ge.RetryAfter
	}
	return 0
}

// parseRetryAfter reads a Retry-After header given in seconds or as an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}

func statusOf(err error) int {
	var ge *GenerationError
	if errors.As(err, &ge) {
		return ge.StatusCode
	}
	return 0
}

func isRateLimitError(err error) bool {
	return statusOf(err) == http.StatusTooManyRequests
}

func isServerError(err error) bool {
	code := statusOf(err)
	return code >= 500 && code <= 599
}
