// Package profile loads the context budget configuration from a YAML file and
// CTXBUDGET_* environment variables.
package profile

import (
	"log/slog"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/hrygo/contextbudget/plugin/ai/compress"
	budget "github.com/hrygo/contextbudget/plugin/ai/context"
)

// EnvPrefix prefixes every environment variable, e.g. CTXBUDGET_BUDGET_MAX_TOKEN_BUDGET.
const EnvPrefix = "CTXBUDGET"

// Summarizer providers.
const (
	ProviderExtractive = "extractive"
	ProviderOpenAI     = "openai"
)

// Profile is the configuration to start a context budget manager.
type Profile struct {
	// Mode can be "prod" or "dev".
	Mode string
	// LogLevel is one of debug, info, warn, error.
	LogLevel string

	Budget budget.Config

	// SummarizerProvider selects the compression backend: extractive or openai.
	SummarizerProvider string
	OpenAI             compress.OpenAIConfig
}

// IsDev reports whether the profile runs in development mode.
func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// UseOpenAI reports whether compression should call the OpenAI-compatible API.
func (p *Profile) UseOpenAI() bool {
	return p.SummarizerProvider == ProviderOpenAI && p.OpenAI.APIKey != ""
}

// SlogLevel maps LogLevel onto a slog level, defaulting to info.
func (p *Profile) SlogLevel() slog.Level {
	switch strings.ToLower(p.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// NewViper returns a viper instance with defaults and environment binding applied.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// SetDefaults registers every key with its default value.
func SetDefaults(v *viper.Viper) {
	def := budget.DefaultConfig()
	openai := compress.DefaultOpenAIConfig()

	v.SetDefault("mode", "dev")
	v.SetDefault("log_level", "info")

	v.SetDefault("budget.max_context_entries", def.MaxContextEntries)
	v.SetDefault("budget.max_token_budget", def.MaxTokenBudget)
	v.SetDefault("budget.auto_cleanup", def.AutoCleanup)
	v.SetDefault("budget.cleanup_interval", def.CleanupInterval)
	v.SetDefault("budget.session_timeout", def.SessionTimeout)

	v.SetDefault("relevance.temporal_decay_factor", def.Relevance.TemporalDecayFactor)
	v.SetDefault("relevance.semantic_similarity_weight", def.Relevance.SemanticSimilarityWeight)
	v.SetDefault("relevance.user_preference_weight", def.Relevance.UserPreferenceWeight)
	v.SetDefault("relevance.content_type_weight", def.Relevance.ContentTypeWeight)
	v.SetDefault("relevance.recency_boost", def.Relevance.RecencyBoost)
	v.SetDefault("relevance.recency_window", def.Relevance.RecencyWindow)

	v.SetDefault("compression.enabled", def.Compression.Enabled)
	v.SetDefault("compression.threshold", def.Compression.CompressionThreshold)
	v.SetDefault("compression.max_ratio", def.Compression.MaxCompressionRatio)
	v.SetDefault("compression.preserve_key_information", def.Compression.PreserveKeyInformation)
	v.SetDefault("compression.summary_length", def.Compression.SummaryLength)
	v.SetDefault("compression.timeout", def.Compression.Timeout)
	v.SetDefault("compression.concurrency", def.Compression.Concurrency)
	v.SetDefault("compression.cache_size", def.Compression.CacheSize)

	v.SetDefault("summarizer.provider", ProviderExtractive)
	v.SetDefault("summarizer.openai.api_key", "")
	v.SetDefault("summarizer.openai.base_url", openai.BaseURL)
	v.SetDefault("summarizer.openai.model", openai.Model)
	v.SetDefault("summarizer.openai.max_retries", openai.MaxRetries)
	v.SetDefault("summarizer.openai.requests_per_second", openai.RequestsPerSecond)
	v.SetDefault("summarizer.openai.burst", openai.Burst)
	v.SetDefault("summarizer.openai.retry_backoff", openai.RetryBackoff)
}

// Load reads configFile (optional) and the environment into a validated Profile.
func Load(v *viper.Viper, configFile string) (*Profile, error) {
	if v == nil {
		v = NewViper()
	}

	if configFile != "" {
		if _, err := os.Stat(configFile); err != nil {
			return nil, errors.Wrapf(err, "unable to access config file %s", configFile)
		}
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "unable to read config file %s", configFile)
		}
	}

	p := FromViper(v)
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// FromViper builds a Profile from viper values without validating it.
func FromViper(v *viper.Viper) *Profile {
	cfg := budget.DefaultConfig()

	cfg.MaxContextEntries = v.GetInt("budget.max_context_entries")
	cfg.MaxTokenBudget = v.GetInt("budget.max_token_budget")
	cfg.AutoCleanup = v.GetBool("budget.auto_cleanup")
	cfg.CleanupInterval = v.GetDuration("budget.cleanup_interval")
	cfg.SessionTimeout = v.GetDuration("budget.session_timeout")

	cfg.Relevance.TemporalDecayFactor = v.GetFloat64("relevance.temporal_decay_factor")
	cfg.Relevance.SemanticSimilarityWeight = v.GetFloat64("relevance.semantic_similarity_weight")
	cfg.Relevance.UserPreferenceWeight = v.GetFloat64("relevance.user_preference_weight")
	cfg.Relevance.ContentTypeWeight = v.GetFloat64("relevance.content_type_weight")
	cfg.Relevance.RecencyBoost = v.GetFloat64("relevance.recency_boost")
	cfg.Relevance.RecencyWindow = v.GetDuration("relevance.recency_window")

	cfg.Compression.Enabled = v.GetBool("compression.enabled")
	cfg.Compression.CompressionThreshold = v.GetInt("compression.threshold")
	cfg.Compression.MaxCompressionRatio = v.GetFloat64("compression.max_ratio")
	cfg.Compression.PreserveKeyInformation = v.GetBool("compression.preserve_key_information")
	cfg.Compression.SummaryLength = v.GetInt("compression.summary_length")
	cfg.Compression.Timeout = v.GetDuration("compression.timeout")
	cfg.Compression.Concurrency = v.GetInt("compression.concurrency")
	cfg.Compression.CacheSize = v.GetInt("compression.cache_size")

	return &Profile{
		Mode:               v.GetString("mode"),
		LogLevel:           v.GetString("log_level"),
		Budget:             cfg,
		SummarizerProvider: strings.ToLower(v.GetString("summarizer.provider")),
		OpenAI: compress.OpenAIConfig{
			APIKey:            v.GetString("summarizer.openai.api_key"),
			BaseURL:           v.GetString("summarizer.openai.base_url"),
			Model:             v.GetString("summarizer.openai.model"),
			MaxRetries:        v.GetInt("summarizer.openai.max_retries"),
			RequestsPerSecond: v.GetFloat64("summarizer.openai.requests_per_second"),
			Burst:             v.GetInt("summarizer.openai.burst"),
			RetryBackoff:      v.GetDuration("summarizer.openai.retry_backoff"),
		},
	}
}

// Validate normalizes the mode and validates the manager configuration.
func (p *Profile) Validate() error {
	if p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "dev"
	}

	switch p.SummarizerProvider {
	case "":
		p.SummarizerProvider = ProviderExtractive
	case ProviderExtractive:
	case ProviderOpenAI:
		if p.OpenAI.APIKey == "" {
			slog.Warn("openai summarizer selected without an API key, falling back to extractive")
		}
	default:
		return errors.Errorf("unknown summarizer provider %q", p.SummarizerProvider)
	}

	return errors.Wrap(p.Budget.Validate(), "invalid budget configuration")
}
