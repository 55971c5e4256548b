// Package token estimates prompt token cost for conversation entries.
package token

import (
	"github.com/hrygo/contextbudget/plugin/ai/entry"
)

// asciiRunesPerToken is the average ASCII characters per token for English text.
const asciiRunesPerToken = 4

// EstimateTokenCount estimates the token count for a string.
// Uses heuristic: CJK and other non-ASCII runes count as ~2 tokens, ASCII as ~0.25 tokens per rune.
// Appending text never lowers the estimate.
func EstimateTokenCount(text string) int {
	if len(text) == 0 {
		return 0
	}

	wideCount := 0
	asciiCount := 0

	for _, r := range text {
		if r < 128 {
			asciiCount++
		} else {
			wideCount++
		}
	}

	return wideCount*2 + (asciiCount+asciiRunesPerToken-1)/asciiRunesPerToken
}

// EntryUsage is one entry's share of a budget.
type EntryUsage struct {
	EntryID    string     `json:"entry_id"`
	Type       entry.Type `json:"type"`
	Tokens     int        `json:"tokens"`
	Percentage float64    `json:"percentage"`
}

// BudgetUsage aggregates token usage across entries.
type BudgetUsage struct {
	TotalTokens    int          `json:"total_tokens"`
	EntryBreakdown []EntryUsage `json:"entry_breakdown"`
}

// CalculateBudgetUsage sums cached token counts and reports each entry's share.
func CalculateBudgetUsage(entries []*entry.Entry) *BudgetUsage {
	usage := &BudgetUsage{EntryBreakdown: []EntryUsage{}}

	for _, e := range entries {
		if e == nil {
			continue
		}
		usage.TotalTokens += e.TokenCount
	}

	for _, e := range entries {
		if e == nil {
			continue
		}
		pct := 0.0
		if usage.TotalTokens > 0 {
			pct = float64(e.TokenCount) / float64(usage.TotalTokens) * 100
		}
		usage.EntryBreakdown = append(usage.EntryBreakdown, EntryUsage{
			EntryID:    e.ID,
			Type:       e.Type,
			Tokens:     e.TokenCount,
			Percentage: pct,
		})
	}

	return usage
}
