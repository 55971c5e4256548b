package context

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/hrygo/contextbudget/internal/observability"
	"github.com/hrygo/contextbudget/plugin/ai/compress"
	"github.com/hrygo/contextbudget/plugin/ai/entry"
	"github.com/hrygo/contextbudget/plugin/ai/relevance"
)

// candidate is a scored entry with its position in the session.
type candidate struct {
	entry    *entry.Entry
	score    float64
	position int
}

// rankCandidates orders entries by score descending, then timestamp descending.
// Position breaks any remaining tie so the order is total.
func rankCandidates(scored []relevance.Scored) []candidate {
	ranked := make([]candidate, 0, len(scored))
	for i, s := range scored {
		if s.Entry == nil {
			continue
		}
		ranked = append(ranked, candidate{entry: s.Entry, score: s.Score, position: i})
	}

	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if !a.entry.Timestamp.Equal(b.entry.Timestamp) {
			return a.entry.Timestamp.After(b.entry.Timestamp)
		}
		return a.position > b.position
	})
	return ranked
}

// selection is the outcome of one greedy pass.
type selection struct {
	included            []candidate
	compressed          []*entry.Entry // newly compressed entries, for write-back
	budgetUsed          int
	skipped             int
	compressionFailures int
}

// selectWithinBudget walks ranked candidates and keeps those that fit, verbatim
// or compressed. A nil compressor disables compression. Failures are logged
// through the request context carried by ctx, if any.
func selectWithinBudget(ctx context.Context, ranked []candidate, budget int, compressor *compress.Compressor) selection {
	var sel selection

	for _, c := range ranked {
		remaining := budget - sel.budgetUsed
		if c.entry.TokenCount <= remaining {
			sel.included = append(sel.included, c)
			sel.budgetUsed += c.entry.TokenCount
			continue
		}

		if compressor == nil || c.entry.Compressed {
			sel.skipped++
			continue
		}

		out, err := compressor.CompressEntry(ctx, c.entry)
		if err != nil {
			sel.compressionFailures++
			sel.skipped++
			attrs := []slog.Attr{
				slog.String("entry_id", c.entry.ID),
				slog.String("error", err.Error()),
			}
			if reqCtx, ok := observability.FromContext(ctx); ok {
				reqCtx.Warn("entry excluded after failed compression", attrs...)
			} else {
				slog.Default().LogAttrs(ctx, slog.LevelWarn, "entry excluded after failed compression", attrs...)
			}
			continue
		}
		if !out.Compressed || out.TokenCount > remaining {
			sel.skipped++
			continue
		}

		sel.included = append(sel.included, candidate{entry: out, score: c.score, position: c.position})
		sel.compressed = append(sel.compressed, out)
		sel.budgetUsed += out.TokenCount
	}

	// Selection order decides membership; session order decides reading order.
	sort.Slice(sel.included, func(i, j int) bool {
		a, b := sel.included[i], sel.included[j]
		if !a.entry.Timestamp.Equal(b.entry.Timestamp) {
			return a.entry.Timestamp.Before(b.entry.Timestamp)
		}
		return a.position < b.position
	})
	return sel
}

// assemble renders entries as "[type#id] content" blocks separated by a blank line.
func assemble(entries []*entry.Entry) string {
	var sb strings.Builder
	for i, e := range entries {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteByte('[')
		sb.WriteString(string(e.Type))
		sb.WriteByte('#')
		sb.WriteString(e.ID)
		sb.WriteString("] ")
		sb.WriteString(e.Content)
	}
	return sb.String()
}
