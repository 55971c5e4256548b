package compress

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// OpenAIConfig configures the remote summarizer.
type OpenAIConfig struct {
	BaseURL           string
	APIKey            string
	Model             string
	MaxRetries        int
	RequestsPerSecond float64
	Burst             int
	// RetryBackoff is the first retry delay; it doubles per attempt.
	RetryBackoff time.Duration
}

// DefaultOpenAIConfig returns the default remote summarizer configuration.
func DefaultOpenAIConfig() OpenAIConfig {
	return OpenAIConfig{
		BaseURL:           "https://api.openai.com/v1",
		Model:             "gpt-4o-mini",
		MaxRetries:        3,
		RequestsPerSecond: 2,
		Burst:             4,
		RetryBackoff:      time.Second,
	}
}

// OpenAISummarizer summarizes entries with an OpenAI-compatible chat completion API.
type OpenAISummarizer struct {
	client  *openai.Client
	config  OpenAIConfig
	limiter *rate.Limiter
}

// NewOpenAISummarizer creates a remote summarizer.
func NewOpenAISummarizer(cfg OpenAIConfig) (*OpenAISummarizer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai summarizer: API key is required")
	}
	defaults := DefaultOpenAIConfig()
	if cfg.Model == "" {
		cfg.Model = defaults.Model
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = defaults.RequestsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = defaults.Burst
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaults.RetryBackoff
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &OpenAISummarizer{
		client:  openai.NewClientWithConfig(clientConfig),
		config:  cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
	}, nil
}

const summarizeSystemPrompt = `You compress conversation history for a storytelling assistant.
Rewrite the user's text as a faithful summary of at most %d characters.
Keep names, places, numbers, and unresolved plot threads. Reply with the summary only.`

// Summarize implements Summarizer.
func (s *OpenAISummarizer) Summarize(ctx context.Context, text string, maxChars int) (string, error) {
	if maxChars <= 0 {
		return "", fmt.Errorf("invalid summary length %d", maxChars)
	}

	req := openai.ChatCompletionRequest{
		Model: s.config.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: fmt.Sprintf(summarizeSystemPrompt, maxChars)},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
		Temperature: 0.2,
	}

	var result string
	err := s.doWithRetry(ctx, func() error {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
		resp, err := s.client.CreateChatCompletion(ctx, req)
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("empty chat response")
		}
		result = strings.TrimSpace(resp.Choices[0].Message.Content)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to summarize: %w", err)
	}

	return result, nil
}

// doWithRetry executes fn with exponential backoff.
func (s *OpenAISummarizer) doWithRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < s.config.MaxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt < s.config.MaxRetries-1 {
			waitTime := time.Duration(math.Pow(2, float64(attempt))) * s.config.RetryBackoff
			slog.Debug("summarizer request failed, retrying",
				"attempt", attempt+1,
				"wait_time", waitTime,
				"error", err)
			select {
			case <-time.After(waitTime):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return lastErr
}

var _ Summarizer = (*OpenAISummarizer)(nil)
