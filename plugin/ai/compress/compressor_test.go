package compress

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ctxerrors "github.com/hrygo/contextbudget/internal/errors"
	"github.com/hrygo/contextbudget/internal/observability"
	"github.com/hrygo/contextbudget/plugin/ai/entry"
	"github.com/hrygo/contextbudget/plugin/ai/token"
)

const knightSentence = "The brave knight Arthur rode toward the mountain where the old dragon slept. "

func longEntry(id string) *entry.Entry {
	content := strings.Repeat(knightSentence, 20)
	return &entry.Entry{
		ID:         id,
		Type:       entry.TypeAIResponse,
		Content:    content,
		TokenCount: token.EstimateTokenCount(content),
		Timestamp:  time.Now(),
		Metadata:   entry.Metadata{"theme": entry.String("dragons")},
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.CompressionThreshold = 100
	return cfg
}

func TestCompressEntry(t *testing.T) {
	ctx := context.Background()
	c := NewCompressor(testConfig())

	t.Run("Compresses long entry", func(t *testing.T) {
		e := longEntry("e1")
		out, err := c.CompressEntry(ctx, e)
		require.NoError(t, err)

		assert.True(t, out.Compressed)
		assert.Equal(t, e.Length(), out.OriginalLength)
		assert.LessOrEqual(t, out.Length(), int(float64(e.Length())*c.Config().MaxCompressionRatio))
		assert.Equal(t, token.EstimateTokenCount(out.Content), out.TokenCount)
		assert.Less(t, out.TokenCount, e.TokenCount)
		assert.Contains(t, out.Content, "knight Arthur")
		assert.False(t, out.RatioExceeded)
		assert.Equal(t, "e1", out.ID)
		assert.Equal(t, "dragons", out.Metadata["theme"].Str())

		// input untouched
		assert.False(t, e.Compressed)
		assert.Equal(t, strings.Repeat(knightSentence, 20), e.Content)
	})

	t.Run("Idempotent", func(t *testing.T) {
		once, err := c.CompressEntry(ctx, longEntry("e2"))
		require.NoError(t, err)
		twice, err := c.CompressEntry(ctx, once)
		require.NoError(t, err)

		assert.Same(t, once, twice)
		assert.Equal(t, *once, *twice)
	})

	t.Run("Below threshold unchanged", func(t *testing.T) {
		e := &entry.Entry{ID: "short", Content: "Make it more exciting!"}
		out, err := c.CompressEntry(ctx, e)
		require.NoError(t, err)
		assert.Same(t, e, out)
		assert.False(t, out.Compressed)
	})

	t.Run("Nil entry", func(t *testing.T) {
		_, err := c.CompressEntry(ctx, nil)
		assert.True(t, ctxerrors.IsCode(err, ctxerrors.ErrCodeInvalidArgument))
	})
}

func TestCompressEntry_SummarizerFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("Error is annotated", func(t *testing.T) {
		c := NewCompressor(testConfig(), WithSummarizer(SummarizerFunc(
			func(ctx context.Context, text string, maxChars int) (string, error) {
				return "", errors.New("upstream unavailable")
			})))

		e := longEntry("e1")
		out, err := c.CompressEntry(ctx, e)
		require.Error(t, err)
		assert.True(t, ctxerrors.IsCode(err, ctxerrors.ErrCodeCompressionFailed))
		assert.False(t, out.Compressed)
		assert.Equal(t, e.Content, out.Content)
		assert.Contains(t, out.CompressionError, "upstream unavailable")
		assert.Empty(t, e.CompressionError)
	})

	t.Run("Summary not shorter", func(t *testing.T) {
		c := NewCompressor(testConfig(), WithSummarizer(SummarizerFunc(
			func(ctx context.Context, text string, maxChars int) (string, error) {
				return text + " and more", nil
			})))

		_, err := c.CompressEntry(ctx, longEntry("e1"))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNotShorter)
	})

	t.Run("Ratio miss is flagged", func(t *testing.T) {
		c := NewCompressor(testConfig(), WithSummarizer(SummarizerFunc(
			func(ctx context.Context, text string, maxChars int) (string, error) {
				runes := []rune(text)
				return string(runes[:len(runes)-10]), nil
			})))

		out, err := c.CompressEntry(ctx, longEntry("e1"))
		require.NoError(t, err)
		assert.True(t, out.Compressed)
		assert.True(t, out.RatioExceeded)
		assert.LessOrEqual(t, out.Length(), out.OriginalLength)
	})

	t.Run("Timeout bounds a stuck summarizer", func(t *testing.T) {
		cfg := testConfig()
		cfg.Timeout = 20 * time.Millisecond
		release := make(chan struct{})
		defer close(release)

		c := NewCompressor(cfg, WithSummarizer(SummarizerFunc(
			func(ctx context.Context, text string, maxChars int) (string, error) {
				<-release
				return "late", nil
			})))

		start := time.Now()
		_, err := c.CompressEntry(ctx, longEntry("e1"))
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Less(t, time.Since(start), time.Second)
	})
}

func TestCompressEntry_CachesSummaries(t *testing.T) {
	var calls atomic.Int32
	c := NewCompressor(testConfig(), WithSummarizer(SummarizerFunc(
		func(ctx context.Context, text string, maxChars int) (string, error) {
			calls.Add(1)
			return "A knight rode to the dragon.", nil
		})))

	ctx := context.Background()
	_, err := c.CompressEntry(ctx, longEntry("a"))
	require.NoError(t, err)
	_, err = c.CompressEntry(ctx, longEntry("b"))
	require.NoError(t, err)

	assert.Equal(t, int32(1), calls.Load())
}

func TestCompressEntry_LogsThroughRequestContext(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	reqCtx := observability.NewRequestContext(logger, "get_optimized_context", "session-1")
	ctx := observability.WithRequestContext(context.Background(), reqCtx)

	c := NewCompressor(testConfig())
	out, err := c.CompressEntry(ctx, longEntry("knight"))
	require.NoError(t, err)
	require.True(t, out.Compressed)

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "entry compressed", line["msg"])
	assert.Equal(t, reqCtx.RequestID, line[observability.LogFieldRequestID])
	assert.Equal(t, "session-1", line[observability.LogFieldSessionID])
	assert.Equal(t, "knight", line["entry_id"])
}

func TestCompressEntries(t *testing.T) {
	c := NewCompressor(testConfig(), WithSummarizer(SummarizerFunc(
		func(ctx context.Context, text string, maxChars int) (string, error) {
			if strings.Contains(text, "poison") {
				return "", errors.New("refused")
			}
			return ExtractiveSummarizer{}.Summarize(ctx, text, maxChars)
		})))

	poison := longEntry("poison")
	poison.Content = strings.Repeat("This poison sentence cannot be summarized by anyone. ", 10)

	entries := []*entry.Entry{
		longEntry("first"),
		{ID: "short", Content: "tiny"},
		poison,
		nil,
		longEntry("last"),
	}

	out := c.CompressEntries(context.Background(), entries)
	require.Len(t, out, len(entries))

	assert.Equal(t, "first", out[0].ID)
	assert.True(t, out[0].Compressed)
	assert.Same(t, entries[1], out[1])
	assert.Equal(t, "poison", out[2].ID)
	assert.False(t, out[2].Compressed)
	assert.NotEmpty(t, out[2].CompressionError)
	assert.Nil(t, out[3])
	assert.Equal(t, "last", out[4].ID)
	assert.True(t, out[4].Compressed)
}

func TestWithMaxRatio(t *testing.T) {
	cfg := testConfig()
	cfg.SummaryLength = 0
	c := NewCompressor(cfg)

	assert.Equal(t, 500, c.TargetLength(1000))
	aggressive := c.WithMaxRatio(0.25)
	assert.Equal(t, 250, aggressive.TargetLength(1000))
	assert.Equal(t, 500, c.TargetLength(1000))
	assert.Same(t, c, c.WithMaxRatio(0))
	assert.Same(t, c, c.WithMaxRatio(1.5))

	capped := NewCompressor(DefaultConfig())
	assert.Equal(t, DefaultSummaryLength, capped.TargetLength(100000))
	assert.Equal(t, 1, capped.TargetLength(1))
}

func TestLevel(t *testing.T) {
	tests := []struct {
		level Level
		ratio float64
		ok    bool
	}{
		{LevelNone, 0, false},
		{LevelLight, 0.7, true},
		{LevelMedium, 0.5, true},
		{LevelAggressive, 0.3, true},
		{Level("extreme"), 0, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			ratio, ok := tt.level.Ratio()
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.ratio, ratio)
		})
	}
	assert.True(t, LevelNone.Valid())
	assert.False(t, Level("extreme").Valid())
}
