package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestContext_Logging(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	reqCtx := NewRequestContext(logger, "get_optimized_context", "session-1")
	require.NotEmpty(t, reqCtx.RequestID)

	reqCtx.Info("context optimized", slog.Int("entries", 3))
	reqCtx.Warn("compression failed", slog.String("error", "boom"))

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &first))
	assert.Equal(t, reqCtx.RequestID, first[LogFieldRequestID])
	assert.Equal(t, "session-1", first[LogFieldSessionID])
	assert.Equal(t, "get_optimized_context", first[LogFieldOperation])
	assert.Equal(t, float64(3), first["entries"])

	var second map[string]any
	require.NoError(t, json.Unmarshal(lines[1], &second))
	assert.Equal(t, "WARN", second["level"])
	assert.Equal(t, reqCtx.RequestID, second[LogFieldRequestID])
	assert.Equal(t, "boom", second["error"])
}

func TestRequestContext_UniqueIDs(t *testing.T) {
	a := NewRequestContext(nil, "op", "s")
	b := NewRequestContext(nil, "op", "s")
	assert.NotEqual(t, a.RequestID, b.RequestID)
	assert.NotNil(t, a.Logger)
}

func TestRequestContext_FromContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	reqCtx := NewRequestContext(nil, "op", "s")
	got, ok := FromContext(WithRequestContext(context.Background(), reqCtx))
	require.True(t, ok)
	assert.Same(t, reqCtx, got)
}

func TestMetrics(t *testing.T) {
	m := NewMetrics(2)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.RecordRequest()
			m.RecordSelection(3, 1, 2, 1)
		}()
	}
	wg.Wait()
	m.RecordFailure()
	m.RecordExpired(4)
	m.RecordDuration(10 * time.Millisecond)
	m.RecordDuration(20 * time.Millisecond)
	m.RecordDuration(40 * time.Millisecond)

	snap := m.Snapshot()
	assert.Equal(t, int64(10), snap.RequestTotal)
	assert.Equal(t, int64(1), snap.RequestFailed)
	assert.Equal(t, int64(30), snap.EntriesIncluded)
	assert.Equal(t, int64(10), snap.EntriesCompressed)
	assert.Equal(t, int64(20), snap.EntriesSkipped)
	assert.Equal(t, int64(10), snap.CompressionFailure)
	assert.Equal(t, int64(4), snap.SessionsExpired)
	assert.Equal(t, 2, snap.DurationCount)
	assert.Equal(t, 30*time.Millisecond, snap.AverageDuration)
}
