package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/openai"
)

// Config selects and configures the backing model provider.
type Config struct {
	Provider   string
	APIKey     string
	Model      string
	MaxRetries int
}

// Client is a Generator backed by a langchaingo model. Rate-limit responses
// are retried with capped exponential backoff plus jitter; any other
// provider error fails the call.
type Client struct {
	model      llms.Model
	maxRetries int
	log        *slog.Logger

	// wait is swappable so tests don't sit out real backoff delays.
	wait func(ctx context.Context, d time.Duration) error
}

// baseBackoff matches the original engine's rate-limit pacing: 15s doubling
// per retry, plus up to a second of jitter.
const baseBackoff = 15 * time.Second

// NewClient constructs a client for the configured provider.
func NewClient(ctx context.Context, cfg Config, log *slog.Logger) (*Client, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm: api key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("llm: model name is required")
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 3
	}

	var model llms.Model
	var err error
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		model, err = openai.New(openai.WithToken(cfg.APIKey), openai.WithModel(cfg.Model))
	case "googleai", "gemini":
		model, err = googleai.New(ctx, googleai.WithAPIKey(cfg.APIKey), googleai.WithDefaultModel(cfg.Model))
	default:
		return nil, fmt.Errorf("llm: unsupported provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("llm: init %s provider: %w", cfg.Provider, err)
	}
	return &Client{model: model, maxRetries: retries, log: log, wait: waitBackoff}, nil
}

// NewClientWithModel wraps an existing model, mainly for tests.
func NewClientWithModel(model llms.Model, maxRetries int, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Client{model: model, maxRetries: maxRetries, log: log, wait: waitBackoff}
}

// Generate returns the raw text completion for prompt.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		resp, err := llms.GenerateFromSinglePrompt(ctx, c.model, prompt)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !isRateLimit(err) {
			return "", fmt.Errorf("llm: generate: %w", err)
		}
		if attempt == c.maxRetries-1 {
			break
		}
		delay := backoffDelay(attempt)
		c.log.Warn("provider rate limited, backing off",
			"attempt", attempt+1, "max", c.maxRetries, "wait", delay)
		if err := c.wait(ctx, delay); err != nil {
			return "", fmt.Errorf("llm: generate: %w", err)
		}
	}
	return "", fmt.Errorf("llm: generate failed after %d rate-limited retries: %w", c.maxRetries, lastErr)
}

// GenerateJSON returns the completion as a parsed JSON object after cleanup.
func (c *Client) GenerateJSON(ctx context.Context, prompt string) (json.RawMessage, error) {
	text, err := c.Generate(ctx, prompt)
	if err != nil {
		return nil, err
	}
	cleaned := CleanJSONResponse(text)
	if !json.Valid([]byte(cleaned)) {
		return nil, &ShapeError{Reason: "completion is not valid JSON after cleanup"}
	}
	return json.RawMessage(cleaned), nil
}

func backoffDelay(attempt int) time.Duration {
	d := baseBackoff * (1 << attempt)
	return d + time.Duration(rand.Int63n(int64(time.Second)))
}

// waitBackoff blocks for d or until ctx is done, whichever comes first.
func waitBackoff(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// isRateLimit detects quota/throughput rejection across providers, which
// only expose it through error text.
func isRateLimit(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "resource exhausted") ||
		strings.Contains(msg, "quota")
}
