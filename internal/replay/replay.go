// Package replay feeds a recorded conversation transcript through a context
// budget manager and collects the optimized context of every query step.
package replay

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/hrygo/contextbudget/plugin/ai/compress"
	budget "github.com/hrygo/contextbudget/plugin/ai/context"
	"github.com/hrygo/contextbudget/plugin/ai/entry"
	"github.com/hrygo/contextbudget/plugin/ai/session"
)

// Transcript is the YAML document accepted by Run.
type Transcript struct {
	Session TranscriptSession `yaml:"session"`
	Steps   []Step            `yaml:"steps"`
}

// TranscriptSession describes the replayed session.
type TranscriptSession struct {
	ID       string         `yaml:"id"`
	UserID   string         `yaml:"user_id"`
	ChildID  string         `yaml:"child_id"`
	Metadata map[string]any `yaml:"metadata"`
	Config   *SessionConfig `yaml:"config"`
}

// SessionConfig holds optional per-session overrides.
type SessionConfig struct {
	MaxTokens        *int    `yaml:"max_tokens"`
	CompressionLevel *string `yaml:"compression_level"`
}

// Step is either an entry to record or a query to answer. Exactly one must be set.
type Step struct {
	Add   *AddStep   `yaml:"add"`
	Query *QueryStep `yaml:"query"`
}

// AddStep records one context entry.
type AddStep struct {
	Type     string         `yaml:"type"`
	Content  string         `yaml:"content"`
	Metadata map[string]any `yaml:"metadata"`
}

// QueryStep requests the optimized context.
type QueryStep struct {
	Text     string         `yaml:"text"`
	Metadata map[string]any `yaml:"metadata"`
}

// QueryResult is the answer to one query step.
type QueryResult struct {
	Step    int                      `json:"step"`
	Query   string                   `json:"query"`
	Context *budget.OptimizedContext `json:"context"`
}

// Report is the outcome of a replay.
type Report struct {
	SessionID  string                    `json:"session_id"`
	Entries    int                       `json:"entries_added"`
	Results    []QueryResult             `json:"results"`
	Statistics *budget.SessionStatistics `json:"statistics"`
}

// Decode parses a transcript and checks its steps.
func Decode(r io.Reader) (*Transcript, error) {
	var t Transcript
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&t); err != nil {
		return nil, errors.Wrap(err, "failed to decode transcript")
	}
	for i, step := range t.Steps {
		if (step.Add == nil) == (step.Query == nil) {
			return nil, errors.Errorf("step %d: exactly one of add or query must be set", i+1)
		}
	}
	return &t, nil
}

// LoadFile reads and decodes a transcript file.
func LoadFile(path string) (*Transcript, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open transcript %s", path)
	}
	defer f.Close()
	return Decode(f)
}

// Run replays the transcript against m. The session is left in the manager.
func Run(ctx context.Context, m *budget.Manager, t *Transcript) (*Report, error) {
	logger := slog.Default().With("component", "replay")

	meta, err := entry.FromMap(t.Session.Metadata)
	if err != nil {
		return nil, errors.Wrap(err, "session metadata")
	}
	sess, err := m.CreateSession(session.CreateParams{
		ID:       t.Session.ID,
		UserID:   t.Session.UserID,
		ChildID:  t.Session.ChildID,
		Metadata: meta,
	})
	if err != nil {
		return nil, err
	}

	if cfg := t.Session.Config; cfg != nil {
		update := session.ConfigUpdate{MaxTokens: cfg.MaxTokens}
		if cfg.CompressionLevel != nil {
			level := compress.Level(*cfg.CompressionLevel)
			update.CompressionLevel = &level
		}
		if err := m.UpdateSessionConfig(sess.ID, update); err != nil {
			return nil, err
		}
	}

	report := &Report{SessionID: sess.ID, Results: []QueryResult{}}
	for i, step := range t.Steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if step.Add != nil {
			entryType, err := entry.ParseType(step.Add.Type)
			if err != nil {
				return nil, errors.Wrapf(err, "step %d", i+1)
			}
			entryMeta, err := entry.FromMap(step.Add.Metadata)
			if err != nil {
				return nil, errors.Wrapf(err, "step %d", i+1)
			}
			if _, err := m.AddContextEntry(sess.ID, entryType, step.Add.Content, entryMeta); err != nil {
				return nil, errors.Wrapf(err, "step %d", i+1)
			}
			report.Entries++
			continue
		}

		queryMeta, err := entry.FromMap(step.Query.Metadata)
		if err != nil {
			return nil, errors.Wrapf(err, "step %d", i+1)
		}
		optimized, err := m.GetOptimizedContext(ctx, sess.ID, step.Query.Text, queryMeta)
		if err != nil {
			return nil, errors.Wrapf(err, "step %d", i+1)
		}
		logger.Debug("query replayed",
			slog.Int("step", i+1),
			slog.Int("tokens", optimized.Optimization.OptimizedTokenCount),
		)
		report.Results = append(report.Results, QueryResult{
			Step:    i + 1,
			Query:   step.Query.Text,
			Context: optimized,
		})
	}

	stats, err := m.GetSessionStatistics(sess.ID)
	if err != nil {
		return nil, err
	}
	report.Statistics = stats
	return report, nil
}
