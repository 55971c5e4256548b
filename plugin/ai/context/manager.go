package context

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	ctxerrors "github.com/hrygo/contextbudget/internal/errors"
	"github.com/hrygo/contextbudget/internal/observability"
	"github.com/hrygo/contextbudget/plugin/ai/compress"
	"github.com/hrygo/contextbudget/plugin/ai/entry"
	"github.com/hrygo/contextbudget/plugin/ai/relevance"
	"github.com/hrygo/contextbudget/plugin/ai/session"
	"github.com/hrygo/contextbudget/plugin/ai/token"
)

// OptimizedContext is the result of a context request.
type OptimizedContext struct {
	Context      string         `json:"context"`
	Entries      []*entry.Entry `json:"entries"` // included entries in chronological order
	Optimization Optimization   `json:"optimization"`
}

// Optimization reports how the session history was fitted into the budget.
type Optimization struct {
	OriginalTokenCount  int     `json:"original_token_count"`
	OptimizedTokenCount int     `json:"optimized_token_count"`
	EntriesCompressed   int     `json:"entries_compressed"`
	EntriesSkipped      int     `json:"entries_skipped"`
	CompressionRatio    float64 `json:"compression_ratio"`
	TokenBudget         int     `json:"token_budget"`
}

// SessionStatistics summarizes a session.
type SessionStatistics struct {
	EntryCount        int                `json:"entry_count"`
	TotalTokens       int                `json:"total_tokens"`
	CompressedEntries int                `json:"compressed_entries"`
	AverageRelevance  float64            `json:"average_relevance"`
	CompressionRatio  float64            `json:"compression_ratio"`
	SessionDuration   time.Duration      `json:"session_duration"`
	LastActivity      time.Time          `json:"last_activity"`
	Usage             *token.BudgetUsage `json:"usage"`
}

type options struct {
	now        func() time.Time
	summarizer compress.Summarizer
	similarity relevance.Similarity
	logger     *slog.Logger
}

// Option configures a Manager.
type Option func(*options)

// WithClock sets the time source for sessions, scoring, and statistics.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithSummarizer replaces the extractive summarizer used for compression.
func WithSummarizer(s compress.Summarizer) Option {
	return func(o *options) { o.summarizer = s }
}

// WithSimilarity replaces the lexical similarity used for relevance scoring.
func WithSimilarity(s relevance.Similarity) Option {
	return func(o *options) { o.similarity = s }
}

// WithLogger sets the logger for request logs.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Manager decides which conversation entries go into each generation prompt.
// It is safe for concurrent use.
type Manager struct {
	config     Config
	store      *session.Store
	scorer     *relevance.Scorer
	compressor *compress.Compressor
	cleanup    *session.CleanupJob
	metrics    *observability.Metrics
	logger     *slog.Logger
	now        func() time.Time

	destroyed   atomic.Bool
	destroyOnce sync.Once
}

// NewManager validates cfg and creates a manager. With AutoCleanup set, a
// background sweep runs every CleanupInterval until Destroy.
func NewManager(cfg Config, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	var compressOpts []compress.Option
	if o.summarizer != nil {
		compressOpts = append(compressOpts, compress.WithSummarizer(o.summarizer))
	}
	var scorerOpts []relevance.Option
	scorerOpts = append(scorerOpts, relevance.WithClock(o.now))
	if o.similarity != nil {
		scorerOpts = append(scorerOpts, relevance.WithSimilarity(o.similarity))
	}

	m := &Manager{
		config: cfg,
		store: session.NewStore(session.StoreConfig{
			MaxContextEntries: cfg.MaxContextEntries,
			SessionTimeout:    cfg.SessionTimeout,
		}, session.WithClock(o.now)),
		scorer:     relevance.NewScorer(cfg.Relevance, scorerOpts...),
		compressor: compress.NewCompressor(cfg.Compression, compressOpts...),
		metrics:    observability.NewMetrics(0),
		logger:     o.logger,
		now:        o.now,
	}

	if cfg.AutoCleanup {
		m.cleanup = session.NewCleanupJob(session.SweepFunc(m.sweep), cfg.CleanupInterval)
		if err := m.cleanup.Start(context.Background()); err != nil {
			m.store.Close()
			return nil, err
		}
	}

	return m, nil
}

// Config returns the manager configuration.
func (m *Manager) Config() Config {
	return m.config
}

// Events returns the session lifecycle event bus.
func (m *Manager) Events() *session.EventBus {
	return m.store.Events()
}

// Metrics returns a snapshot of the manager counters.
func (m *Manager) Metrics() observability.MetricsSnapshot {
	return m.metrics.Snapshot()
}

// CreateSession registers a new session.
func (m *Manager) CreateSession(params session.CreateParams) (*session.Session, error) {
	if err := m.checkAlive(); err != nil {
		return nil, err
	}
	return m.store.CreateSession(params)
}

// GetSession returns a session snapshot. Absence is not an error.
func (m *Manager) GetSession(sessionID string) (*session.Session, bool) {
	if m.destroyed.Load() {
		return nil, false
	}
	return m.store.GetSession(sessionID)
}

// AddContextEntry appends an entry to a session.
func (m *Manager) AddContextEntry(sessionID string, entryType entry.Type, content string, metadata entry.Metadata) (*entry.Entry, error) {
	if err := m.checkAlive(); err != nil {
		return nil, err
	}
	return m.store.AddEntry(sessionID, session.NewEntry{Type: entryType, Content: content, Metadata: metadata})
}

// UpdateSessionMetadata shallow-merges partial into the session metadata.
func (m *Manager) UpdateSessionMetadata(sessionID string, partial entry.Metadata) error {
	if err := m.checkAlive(); err != nil {
		return err
	}
	return m.store.UpdateSessionMetadata(sessionID, partial)
}

// UpdateSessionConfig sets per-session overrides of the token budget and compression level.
func (m *Manager) UpdateSessionConfig(sessionID string, update session.ConfigUpdate) error {
	if err := m.checkAlive(); err != nil {
		return err
	}
	return m.store.UpdateSessionConfig(sessionID, update)
}

// GetOptimizedContext selects the entries that best serve query within the
// session's token budget and assembles them in chronological order.
// Compression failures exclude the entry; they never fail the request.
func (m *Manager) GetOptimizedContext(ctx context.Context, sessionID, query string, contextMetadata entry.Metadata) (*OptimizedContext, error) {
	if err := m.checkAlive(); err != nil {
		return nil, err
	}

	reqCtx := observability.NewRequestContext(m.logger, "get_optimized_context", sessionID)
	m.metrics.RecordRequest()
	defer func() { m.metrics.RecordDuration(reqCtx.Duration()) }()

	sess, ok := m.store.GetSession(sessionID)
	if !ok {
		m.metrics.RecordFailure()
		err := ctxerrors.SessionNotFound(sessionID)
		reqCtx.Warn("context request for unknown session", slog.String(observability.LogFieldErrorCode, string(err.Code)))
		return nil, err
	}

	budget := m.config.MaxTokenBudget
	if sess.Config.MaxTokens > 0 {
		budget = sess.Config.MaxTokens
	}
	result := &OptimizedContext{
		Entries: []*entry.Entry{},
		Optimization: Optimization{
			OriginalTokenCount: sess.TotalTokens,
			TokenBudget:        budget,
		},
	}

	if len(sess.Entries) == 0 {
		m.record(reqCtx, sessionID, 0, 0)
		return result, nil
	}

	scored := m.scorer.ScoreAll(sess.Entries, query, contextMetadata)
	ranked := rankCandidates(scored)
	sel := selectWithinBudget(observability.WithRequestContext(ctx, reqCtx), ranked, budget, m.compressorFor(sess.Config))

	for _, c := range sel.included {
		result.Entries = append(result.Entries, c.entry)
	}
	result.Context = assemble(result.Entries)
	result.Optimization.OptimizedTokenCount = sel.budgetUsed
	result.Optimization.EntriesCompressed = len(sel.compressed)
	result.Optimization.EntriesSkipped = sel.skipped
	result.Optimization.CompressionRatio = float64(sel.budgetUsed) / float64(max(sess.TotalTokens, 1))

	for _, e := range sel.compressed {
		if _, err := m.store.ReplaceEntry(sessionID, e); err != nil {
			reqCtx.Debug("compressed entry not written back", slog.String("entry_id", e.ID), slog.String("error", err.Error()))
		}
	}

	m.metrics.RecordSelection(len(sel.included), len(sel.compressed), sel.skipped, sel.compressionFailures)
	m.record(reqCtx, sessionID, averageScore(scored), result.Optimization.CompressionRatio)

	reqCtx.Info("context optimized",
		slog.Int("entries_total", len(sess.Entries)),
		slog.Int("entries_included", len(result.Entries)),
		slog.Int("entries_compressed", len(sel.compressed)),
		slog.Int("entries_skipped", sel.skipped),
		slog.Int("original_tokens", sess.TotalTokens),
		slog.Int("optimized_tokens", sel.budgetUsed),
		slog.Int("budget", budget),
		slog.Int64(observability.LogFieldDuration, reqCtx.DurationMs()),
	)
	return result, nil
}

// GetSessionStatistics summarizes a session.
func (m *Manager) GetSessionStatistics(sessionID string) (*SessionStatistics, error) {
	if err := m.checkAlive(); err != nil {
		return nil, err
	}

	sess, ok := m.store.GetSession(sessionID)
	if !ok {
		return nil, ctxerrors.SessionNotFound(sessionID)
	}

	compressed := 0
	for _, e := range sess.Entries {
		if e.Compressed {
			compressed++
		}
	}

	return &SessionStatistics{
		EntryCount:        len(sess.Entries),
		TotalTokens:       sess.TotalTokens,
		CompressedEntries: compressed,
		AverageRelevance:  sess.Stats.AverageRelevance,
		CompressionRatio:  sess.Stats.CompressionRatio,
		SessionDuration:   m.now().Sub(sess.CreatedAt),
		LastActivity:      sess.LastActivity,
		Usage:             token.CalculateBudgetUsage(sess.Entries),
	}, nil
}

// CleanupExpiredSessions removes idle sessions and returns how many were removed.
func (m *Manager) CleanupExpiredSessions() (int, error) {
	if err := m.checkAlive(); err != nil {
		return 0, err
	}
	return m.sweep(), nil
}

// GetActiveSessions returns snapshots of all live sessions.
func (m *Manager) GetActiveSessions() ([]*session.Session, error) {
	if err := m.checkAlive(); err != nil {
		return nil, err
	}
	return m.store.GetActiveSessions(), nil
}

// RemoveSession deletes a session and reports whether it existed.
func (m *Manager) RemoveSession(sessionID string) (bool, error) {
	if err := m.checkAlive(); err != nil {
		return false, err
	}
	return m.store.RemoveSession(sessionID), nil
}

// Destroy stops background cleanup and event delivery. Later calls return
// MANAGER_DESTROYED. Destroy is idempotent. It waits for queued events to be
// delivered, so an event listener must call it from a new goroutine.
func (m *Manager) Destroy() {
	m.destroyOnce.Do(func() {
		m.destroyed.Store(true)
		if m.cleanup != nil {
			m.cleanup.Stop()
		}
		m.store.Close()
		m.logger.Info("context manager destroyed")
	})
}

func (m *Manager) sweep() int {
	removed := m.store.CleanupExpiredSessions()
	m.metrics.RecordExpired(removed)
	return removed
}

// compressorFor applies the session's compression level. It returns nil when
// compression is disabled for the session.
func (m *Manager) compressorFor(overrides session.Overrides) *compress.Compressor {
	if !m.config.Compression.Enabled {
		return nil
	}
	switch overrides.CompressionLevel {
	case "":
		return m.compressor
	case compress.LevelNone:
		return nil
	}
	ratio, ok := overrides.CompressionLevel.Ratio()
	if !ok {
		return m.compressor
	}
	return m.compressor.WithMaxRatio(ratio)
}

func (m *Manager) record(reqCtx *observability.RequestContext, sessionID string, averageRelevance, ratio float64) {
	if err := m.store.RecordOptimization(sessionID, averageRelevance, ratio); err != nil {
		reqCtx.Debug("optimization stats not recorded", slog.String("error", err.Error()))
	}
}

func (m *Manager) checkAlive() error {
	if m.destroyed.Load() {
		return ctxerrors.ManagerDestroyed()
	}
	return nil
}

func averageScore(scored []relevance.Scored) float64 {
	if len(scored) == 0 {
		return 0
	}
	total := 0.0
	for _, s := range scored {
		total += s.Score
	}
	return total / float64(len(scored))
}
