package compress

import (
	"context"
	"errors"
	"log/slog"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/zeebo/blake3"
	"golang.org/x/sync/errgroup"

	ctxerrors "github.com/hrygo/contextbudget/internal/errors"
	"github.com/hrygo/contextbudget/internal/observability"
	"github.com/hrygo/contextbudget/plugin/ai/entry"
	"github.com/hrygo/contextbudget/plugin/ai/token"
)

// ErrNotShorter is returned when a summary is empty or no shorter than its input.
var ErrNotShorter = errors.New("summary is not shorter than the original")

type cacheKey struct {
	digest   [32]byte
	maxChars int
}

// Compressor reduces the token footprint of oversized entries.
// It never mutates its input and is safe for concurrent use.
type Compressor struct {
	cfg        Config
	summarizer Summarizer
	cache      *lru.Cache[cacheKey, string]
}

// Option configures a Compressor.
type Option func(*Compressor)

// WithSummarizer replaces the default extractive summarizer.
func WithSummarizer(s Summarizer) Option {
	return func(c *Compressor) {
		if s != nil {
			c.summarizer = s
		}
	}
}

// NewCompressor creates a compressor.
func NewCompressor(cfg Config, opts ...Option) *Compressor {
	cfg = cfg.withDefaults()

	c := &Compressor{
		cfg:        cfg,
		summarizer: ExtractiveSummarizer{PreserveKeyInformation: cfg.PreserveKeyInformation},
	}
	for _, opt := range opts {
		opt(c)
	}

	cache, err := lru.New[cacheKey, string](cfg.CacheSize)
	if err != nil {
		slog.Warn("summary cache disabled", "size", cfg.CacheSize, "error", err)
	} else {
		c.cache = cache
	}
	return c
}

// Config returns the effective configuration.
func (c *Compressor) Config() Config {
	return c.cfg
}

// WithMaxRatio returns a compressor sharing summarizer and cache but using a different ratio.
func (c *Compressor) WithMaxRatio(ratio float64) *Compressor {
	if ratio <= 0 || ratio > 1 || ratio == c.cfg.MaxCompressionRatio {
		return c
	}
	clone := *c
	clone.cfg.MaxCompressionRatio = ratio
	return &clone
}

// TargetLength is the compressed length limit for content of originalLength characters.
func (c *Compressor) TargetLength(originalLength int) int {
	target := int(float64(originalLength) * c.cfg.MaxCompressionRatio)
	if c.cfg.SummaryLength > 0 && c.cfg.SummaryLength < target {
		target = c.cfg.SummaryLength
	}
	if target < 1 {
		target = 1
	}
	return target
}

// CompressEntry returns a compressed copy of e.
// Already-compressed and below-threshold entries are returned unchanged.
// On failure the returned copy carries a CompressionError annotation and the
// error is a COMPRESSION_FAILED ContextError.
func (c *Compressor) CompressEntry(ctx context.Context, e *entry.Entry) (*entry.Entry, error) {
	if e == nil {
		return nil, ctxerrors.InvalidArgument("nil entry")
	}
	if e.Compressed {
		return e, nil
	}

	originalLength := e.Length()
	if originalLength < c.cfg.CompressionThreshold {
		return e, nil
	}

	target := c.TargetLength(originalLength)
	summary, err := c.summarize(ctx, e.Content, target)
	if err == nil {
		if n := utf8.RuneCountInString(summary); n == 0 || n >= originalLength {
			err = ErrNotShorter
		}
	}
	if err != nil {
		failed := e.Clone()
		failed.CompressionError = err.Error()
		return failed, ctxerrors.CompressionFailed(e.ID, err)
	}

	out := e.Clone()
	out.Content = summary
	out.Compressed = true
	out.OriginalLength = originalLength
	out.TokenCount = token.EstimateTokenCount(summary)
	out.RatioExceeded = utf8.RuneCountInString(summary) > target
	out.CompressionError = ""

	if reqCtx, ok := observability.FromContext(ctx); ok {
		reqCtx.WithFields(slog.String("entry_id", e.ID)).Debug("entry compressed",
			slog.Int("original_length", originalLength),
			slog.Int("target_length", target),
			slog.Int("tokens", out.TokenCount),
		)
	}
	return out, nil
}

// CompressEntries compresses each entry independently and preserves order.
// Entries that fail to compress are returned annotated, never dropped.
func (c *Compressor) CompressEntries(ctx context.Context, entries []*entry.Entry) []*entry.Entry {
	out := make([]*entry.Entry, len(entries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Concurrency)
	for i, e := range entries {
		g.Go(func() error {
			compressed, err := c.CompressEntry(gctx, e)
			if err != nil {
				slog.Warn("entry compression failed", "entry_id", idOf(e), "error", err)
				if compressed == nil {
					compressed = e
				}
			}
			out[i] = compressed
			return nil
		})
	}
	_ = g.Wait()

	return out
}

func (c *Compressor) summarize(ctx context.Context, content string, maxChars int) (string, error) {
	key := cacheKey{
		digest:   blake3.Sum256([]byte(content)),
		maxChars: maxChars,
	}
	if c.cache != nil {
		if summary, ok := c.cache.Get(key); ok {
			return summary, nil
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	type result struct {
		summary string
		err     error
	}
	done := make(chan result, 1)
	go func() {
		summary, err := c.summarizer.Summarize(callCtx, content, maxChars)
		done <- result{summary: summary, err: err}
	}()

	// A summarizer that ignores ctx still cannot hold the caller past the timeout.
	select {
	case r := <-done:
		if r.err != nil {
			return "", r.err
		}
		if c.cache != nil {
			c.cache.Add(key, r.summary)
		}
		return r.summary, nil
	case <-callCtx.Done():
		return "", callCtx.Err()
	}
}

func idOf(e *entry.Entry) string {
	if e == nil {
		return ""
	}
	return e.ID
}
