// Package relevance scores stored conversation entries against the current request.
package relevance

import (
	"math"
	"time"

	"github.com/hrygo/contextbudget/plugin/ai/entry"
)

// Default scoring weights.
const (
	DefaultTemporalDecayFactor      = 0.1 // per hour
	DefaultSemanticSimilarityWeight = 0.4
	DefaultUserPreferenceWeight     = 0.2
	DefaultContentTypeWeight        = 0.1
	DefaultRecencyBoost             = 1.2
	DefaultRecencyWindow            = 5 * time.Minute

	// neutralPreference is used when the request carries no metadata to align with.
	neutralPreference = 0.5
)

// Config holds the relevance weights.
// Weights are expected to sum to about 1 with the temporal term taking the remainder;
// the final score is clamped, not renormalized.
type Config struct {
	TemporalDecayFactor      float64
	SemanticSimilarityWeight float64
	UserPreferenceWeight     float64
	ContentTypeWeight        float64
	RecencyBoost             float64
	RecencyWindow            time.Duration
	TypeWeights              map[entry.Type]float64
}

// DefaultConfig returns the default relevance configuration.
func DefaultConfig() Config {
	return Config{
		TemporalDecayFactor:      DefaultTemporalDecayFactor,
		SemanticSimilarityWeight: DefaultSemanticSimilarityWeight,
		UserPreferenceWeight:     DefaultUserPreferenceWeight,
		ContentTypeWeight:        DefaultContentTypeWeight,
		RecencyBoost:             DefaultRecencyBoost,
		RecencyWindow:            DefaultRecencyWindow,
		TypeWeights:              DefaultTypeWeights(),
	}
}

// DefaultTypeWeights favors AI output for narrative continuity.
func DefaultTypeWeights() map[entry.Type]float64 {
	return map[entry.Type]float64{
		entry.TypeAIResponse: 1.0,
		entry.TypeUserInput:  0.8,
		entry.TypeSystem:     0.5,
	}
}

// TemporalWeight is the share of the score left to the temporal term.
func (c Config) TemporalWeight() float64 {
	return math.Max(0, 1-(c.SemanticSimilarityWeight+c.UserPreferenceWeight+c.ContentTypeWeight))
}

// Breakdown exposes the individual terms of a score.
// Temporal is the raw decay in [0,1]; Boost is the recency multiplier applied to
// the temporal contribution (1 outside the recency window).
type Breakdown struct {
	Temporal    float64
	Boost       float64
	Semantic    float64
	Preference  float64
	ContentType float64
	Score       float64
}

// Scorer computes relevance scores. It holds no mutable state and is safe for concurrent use.
type Scorer struct {
	cfg        Config
	similarity Similarity
	now        func() time.Time
}

// Option configures a Scorer.
type Option func(*Scorer)

// WithSimilarity replaces the lexical similarity signal.
func WithSimilarity(s Similarity) Option {
	return func(sc *Scorer) {
		if s != nil {
			sc.similarity = s
		}
	}
}

// WithClock sets the time source used to age entries.
func WithClock(now func() time.Time) Option {
	return func(sc *Scorer) {
		if now != nil {
			sc.now = now
		}
	}
}

// NewScorer creates a scorer.
func NewScorer(cfg Config, opts ...Option) *Scorer {
	if cfg.RecencyBoost < 1 {
		cfg.RecencyBoost = 1
	}
	if cfg.TemporalDecayFactor < 0 {
		cfg.TemporalDecayFactor = 0
	}
	if cfg.TypeWeights == nil {
		cfg.TypeWeights = DefaultTypeWeights()
	}

	s := &Scorer{
		cfg:        cfg,
		similarity: LexicalSimilarity{},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CalculateRelevanceScore returns a score in [0,1].
func (s *Scorer) CalculateRelevanceScore(e *entry.Entry, query string, contextMetadata entry.Metadata) float64 {
	return s.Explain(e, query, contextMetadata).Score
}

// Explain returns the score together with its terms.
func (s *Scorer) Explain(e *entry.Entry, query string, contextMetadata entry.Metadata) Breakdown {
	if e == nil {
		return Breakdown{}
	}

	decay, boost := s.temporal(e.Timestamp)
	b := Breakdown{
		Temporal:    decay,
		Boost:       boost,
		Semantic:    clamp01(s.similarity.Similarity(e.Content, query)),
		Preference:  preferenceAlignment(e.Metadata, contextMetadata),
		ContentType: clamp01(s.cfg.TypeWeights[e.Type]),
	}

	raw := s.cfg.TemporalWeight()*b.Temporal*b.Boost +
		s.cfg.SemanticSimilarityWeight*b.Semantic +
		s.cfg.UserPreferenceWeight*b.Preference +
		s.cfg.ContentTypeWeight*b.ContentType
	b.Score = clamp01(raw)

	return b
}

// temporal returns the age decay and the boost for entries inside the recency window.
// The boost scales the weighted contribution so only the final clamp can absorb it.
func (s *Scorer) temporal(ts time.Time) (decay, boost float64) {
	age := s.now().Sub(ts)
	if age < 0 {
		age = 0
	}

	decay = clamp01(math.Exp(-s.cfg.TemporalDecayFactor * age.Hours()))
	boost = 1
	if age <= s.cfg.RecencyWindow {
		boost = s.cfg.RecencyBoost
	}
	return decay, boost
}

// preferenceAlignment is the fraction of request metadata keys the entry agrees with.
func preferenceAlignment(entryMeta, contextMeta entry.Metadata) float64 {
	if len(contextMeta) == 0 {
		return neutralPreference
	}

	total := 0.0
	for key, want := range contextMeta {
		have, ok := entryMeta[key]
		if !ok {
			continue
		}
		total += termOverlap(have.Terms(), want.Terms())
	}
	return total / float64(len(contextMeta))
}

// termOverlap is the fraction of wanted terms present in have.
func termOverlap(have, want []string) float64 {
	if len(want) == 0 {
		return 0
	}
	set := make(map[string]bool, len(have))
	for _, h := range have {
		set[h] = true
	}
	matched := 0
	for _, w := range want {
		if set[w] {
			matched++
		}
	}
	return float64(matched) / float64(len(want))
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Scored pairs an entry with its score.
type Scored struct {
	Entry *entry.Entry
	Score float64
}

// ScoreAll scores every entry against the query. Input order is preserved.
func (s *Scorer) ScoreAll(entries []*entry.Entry, query string, contextMetadata entry.Metadata) []Scored {
	out := make([]Scored, 0, len(entries))
	for _, e := range entries {
		out = append(out, Scored{Entry: e, Score: s.CalculateRelevanceScore(e, query, contextMetadata)})
	}
	return out
}
