// Package compress shrinks oversized conversation entries into shorter summaries.
package compress

import (
	"time"
)

// Default compression values.
const (
	DefaultCompressionThreshold = 500 // characters
	DefaultMaxCompressionRatio  = 0.5
	DefaultSummaryLength        = 600 // characters
	DefaultTimeout              = 10 * time.Second
	DefaultConcurrency          = 4
	DefaultCacheSize            = 256
)

// Config configures a Compressor.
type Config struct {
	Enabled bool
	// CompressionThreshold is the minimum content length, in characters, worth compressing.
	CompressionThreshold int
	// MaxCompressionRatio bounds compressed length as a fraction of the original.
	MaxCompressionRatio float64
	// PreserveKeyInformation favors sentences carrying names, numbers and quotes.
	PreserveKeyInformation bool
	// SummaryLength caps a summary in characters; 0 means no cap beyond the ratio.
	SummaryLength int
	// Timeout bounds a single summarizer call.
	Timeout     time.Duration
	Concurrency int
	CacheSize   int
}

// DefaultConfig returns the default compression configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:                true,
		CompressionThreshold:   DefaultCompressionThreshold,
		MaxCompressionRatio:    DefaultMaxCompressionRatio,
		PreserveKeyInformation: true,
		SummaryLength:          DefaultSummaryLength,
		Timeout:                DefaultTimeout,
		Concurrency:            DefaultConcurrency,
		CacheSize:              DefaultCacheSize,
	}
}

func (c Config) withDefaults() Config {
	if c.MaxCompressionRatio <= 0 || c.MaxCompressionRatio > 1 {
		c.MaxCompressionRatio = DefaultMaxCompressionRatio
	}
	if c.CompressionThreshold < 0 {
		c.CompressionThreshold = 0
	}
	if c.SummaryLength < 0 {
		c.SummaryLength = 0
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.CacheSize <= 0 {
		c.CacheSize = DefaultCacheSize
	}
	return c
}

// Level is a per-session compression preset.
type Level string

const (
	LevelNone       Level = "none"
	LevelLight      Level = "light"
	LevelMedium     Level = "medium"
	LevelAggressive Level = "aggressive"
)

// Ratio returns the MaxCompressionRatio for the level.
// It reports false for LevelNone and unknown levels.
func (l Level) Ratio() (float64, bool) {
	switch l {
	case LevelLight:
		return 0.7, true
	case LevelMedium:
		return 0.5, true
	case LevelAggressive:
		return 0.3, true
	}
	return 0, false
}

// Valid reports whether l is a known level.
func (l Level) Valid() bool {
	switch l {
	case LevelNone, LevelLight, LevelMedium, LevelAggressive:
		return true
	}
	return false
}
