package token

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/contextbudget/plugin/ai/entry"
)

func TestEstimateTokenCount(t *testing.T) {
	tests := []struct {
		input     string
		minTokens int
		maxTokens int
	}{
		{"", 0, 0},
		{"a", 1, 1},
		{"hello world", 2, 4},
		{"你好世界", 8, 8},
		{"Hello 世界", 6, 6},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			tokens := EstimateTokenCount(tt.input)
			assert.GreaterOrEqual(t, tokens, tt.minTokens)
			assert.LessOrEqual(t, tokens, tt.maxTokens)
		})
	}
}

func TestEstimateTokenCount_Monotonic(t *testing.T) {
	text := ""
	prev := 0
	for _, chunk := range []string{"Once ", "upon ", "a ", "time ", "龙", "...", " the end"} {
		text += chunk
		cur := EstimateTokenCount(text)
		assert.GreaterOrEqual(t, cur, prev, "estimate decreased after appending %q", chunk)
		prev = cur
	}

	long := strings.Repeat("dragon ", 100)
	assert.Equal(t, EstimateTokenCount(long), EstimateTokenCount(long))
	assert.Greater(t, EstimateTokenCount(long), EstimateTokenCount("dragon "))
}

func TestCalculateBudgetUsage(t *testing.T) {
	t.Run("Empty", func(t *testing.T) {
		usage := CalculateBudgetUsage(nil)
		assert.Equal(t, 0, usage.TotalTokens)
		assert.Empty(t, usage.EntryBreakdown)
	})

	t.Run("Percentages sum to 100", func(t *testing.T) {
		entries := []*entry.Entry{
			{ID: "a", Type: entry.TypeUserInput, TokenCount: 10},
			{ID: "b", Type: entry.TypeAIResponse, TokenCount: 25},
			{ID: "c", Type: entry.TypeSystem, TokenCount: 7},
		}
		usage := CalculateBudgetUsage(entries)

		assert.Equal(t, 42, usage.TotalTokens)
		require.Len(t, usage.EntryBreakdown, 3)

		sum := 0.0
		for _, b := range usage.EntryBreakdown {
			sum += b.Percentage
		}
		assert.InDelta(t, 100.0, sum, 1e-9)
		assert.Equal(t, "b", usage.EntryBreakdown[1].EntryID)
		assert.InDelta(t, 25.0/42*100, usage.EntryBreakdown[1].Percentage, 1e-9)
	})

	t.Run("All zero tokens", func(t *testing.T) {
		usage := CalculateBudgetUsage([]*entry.Entry{{ID: "a"}})
		assert.Equal(t, 0, usage.TotalTokens)
		require.Len(t, usage.EntryBreakdown, 1)
		assert.Equal(t, 0.0, usage.EntryBreakdown[0].Percentage)
	})
}
