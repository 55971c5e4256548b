// Package context selects, compresses, and assembles conversation history
// into a prompt context that fits a token budget.
package context

import (
	"fmt"
	"math"
	"time"

	ctxerrors "github.com/hrygo/contextbudget/internal/errors"
	"github.com/hrygo/contextbudget/plugin/ai/compress"
	"github.com/hrygo/contextbudget/plugin/ai/relevance"
	"github.com/hrygo/contextbudget/plugin/ai/session"
)

// Default manager values.
const (
	DefaultMaxTokenBudget = 4000
)

// Config is the manager-wide configuration. Per-session overrides are set with
// Manager.UpdateSessionConfig.
type Config struct {
	MaxContextEntries int // FIFO cap on entries retained per session
	MaxTokenBudget    int // default per-request budget
	Relevance         relevance.Config
	Compression       compress.Config
	AutoCleanup       bool
	CleanupInterval   time.Duration
	SessionTimeout    time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		MaxContextEntries: session.DefaultMaxContextEntries,
		MaxTokenBudget:    DefaultMaxTokenBudget,
		Relevance:         relevance.DefaultConfig(),
		Compression:       compress.DefaultConfig(),
		AutoCleanup:       true,
		CleanupInterval:   session.DefaultCleanupInterval,
		SessionTimeout:    session.DefaultSessionTimeout,
	}
}

// Validate reports structurally invalid configuration as INVALID_CONFIG.
func (c Config) Validate() error {
	if c.MaxTokenBudget <= 0 {
		return invalid("max token budget must be positive, got %d", c.MaxTokenBudget)
	}
	if c.MaxContextEntries <= 0 {
		return invalid("max context entries must be positive, got %d", c.MaxContextEntries)
	}
	if c.SessionTimeout <= 0 {
		return invalid("session timeout must be positive, got %s", c.SessionTimeout)
	}
	if c.AutoCleanup && c.CleanupInterval <= 0 {
		return invalid("cleanup interval must be positive when auto cleanup is enabled, got %s", c.CleanupInterval)
	}

	r := c.Relevance
	weights := []struct {
		name  string
		value float64
	}{
		{"temporal decay factor", r.TemporalDecayFactor},
		{"semantic similarity weight", r.SemanticSimilarityWeight},
		{"user preference weight", r.UserPreferenceWeight},
		{"content type weight", r.ContentTypeWeight},
	}
	for _, w := range weights {
		if w.value < 0 || math.IsNaN(w.value) || math.IsInf(w.value, 0) {
			return invalid("%s must be a non-negative number, got %v", w.name, w.value)
		}
	}
	if r.RecencyBoost != 0 && r.RecencyBoost < 1 {
		return invalid("recency boost must be at least 1, got %v", r.RecencyBoost)
	}
	for t, w := range r.TypeWeights {
		if !t.Valid() || w < 0 || w > 1 {
			return invalid("type weight for %q must be within [0,1], got %v", t, w)
		}
	}

	cc := c.Compression
	if cc.Enabled {
		if cc.MaxCompressionRatio <= 0 || cc.MaxCompressionRatio > 1 {
			return invalid("max compression ratio must be within (0,1], got %v", cc.MaxCompressionRatio)
		}
		if cc.CompressionThreshold < 0 {
			return invalid("compression threshold must not be negative, got %d", cc.CompressionThreshold)
		}
		if cc.SummaryLength < 0 {
			return invalid("summary length must not be negative, got %d", cc.SummaryLength)
		}
	}
	return nil
}

func invalid(format string, args ...any) error {
	return ctxerrors.InvalidConfig(fmt.Sprintf(format, args...))
}
