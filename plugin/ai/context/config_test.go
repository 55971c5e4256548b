package context

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	ctxerrors "github.com/hrygo/contextbudget/internal/errors"
	"github.com/hrygo/contextbudget/plugin/ai/entry"
)

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero budget", func(c *Config) { c.MaxTokenBudget = 0 }},
		{"negative budget", func(c *Config) { c.MaxTokenBudget = -10 }},
		{"zero max entries", func(c *Config) { c.MaxContextEntries = 0 }},
		{"zero session timeout", func(c *Config) { c.SessionTimeout = 0 }},
		{"auto cleanup without interval", func(c *Config) { c.CleanupInterval = 0 }},
		{"negative semantic weight", func(c *Config) { c.Relevance.SemanticSimilarityWeight = -0.1 }},
		{"NaN preference weight", func(c *Config) { c.Relevance.UserPreferenceWeight = math.NaN() }},
		{"recency penalty", func(c *Config) { c.Relevance.RecencyBoost = 0.5 }},
		{"type weight above one", func(c *Config) { c.Relevance.TypeWeights = map[entry.Type]float64{entry.TypeSystem: 2} }},
		{"unknown type weight", func(c *Config) { c.Relevance.TypeWeights = map[entry.Type]float64{"narration": 0.5} }},
		{"zero compression ratio", func(c *Config) { c.Compression.MaxCompressionRatio = 0 }},
		{"compression ratio above one", func(c *Config) { c.Compression.MaxCompressionRatio = 1.5 }},
		{"negative threshold", func(c *Config) { c.Compression.CompressionThreshold = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			assert.Error(t, err)
			assert.True(t, ctxerrors.IsCode(err, ctxerrors.ErrCodeInvalidConfig))
		})
	}
}

func TestConfigValidate_Permissive(t *testing.T) {
	t.Run("Weights above one are clamped, not rejected", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Relevance.SemanticSimilarityWeight = 0.9
		cfg.Relevance.UserPreferenceWeight = 0.9
		assert.NoError(t, cfg.Validate())
	})

	t.Run("Compression settings ignored when disabled", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Compression.Enabled = false
		cfg.Compression.MaxCompressionRatio = 0
		assert.NoError(t, cfg.Validate())
	})

	t.Run("No cleanup interval needed without auto cleanup", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.AutoCleanup = false
		cfg.CleanupInterval = 0
		cfg.SessionTimeout = time.Minute
		assert.NoError(t, cfg.Validate())
	})
}
