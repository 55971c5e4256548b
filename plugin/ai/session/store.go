// Package session owns live conversation sessions, their entries, and idle-timeout eviction.
package session

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lithammer/shortuuid/v4"

	ctxerrors "github.com/hrygo/contextbudget/internal/errors"
	"github.com/hrygo/contextbudget/plugin/ai/compress"
	"github.com/hrygo/contextbudget/plugin/ai/entry"
	"github.com/hrygo/contextbudget/plugin/ai/token"
)

const (
	// DefaultMaxContextEntries is the default number of entries a session retains.
	DefaultMaxContextEntries = 50
	// DefaultSessionTimeout is the default idle time after which a session expires.
	DefaultSessionTimeout = 30 * time.Minute
)

// StoreConfig configures a Store.
type StoreConfig struct {
	MaxContextEntries int           // oldest entries are pruned beyond this count
	SessionTimeout    time.Duration // idle time before a sweep removes a session
}

// Overrides are per-session replacements for manager-wide settings.
// Zero values mean "use the manager default".
type Overrides struct {
	MaxTokens        int            `json:"max_tokens,omitempty"`
	CompressionLevel compress.Level `json:"compression_level,omitempty"`
}

// ConfigUpdate is a partial Overrides update; nil fields are left unchanged.
type ConfigUpdate struct {
	MaxTokens        *int
	CompressionLevel *compress.Level
}

// Stats records the outcome of the most recent context request.
type Stats struct {
	AverageRelevance float64 `json:"average_relevance"`
	CompressionRatio float64 `json:"compression_ratio"`
	Optimizations    int     `json:"optimizations"`
}

// Session is a snapshot of a conversation session.
type Session struct {
	ID           string         `json:"id"`
	UserID       string         `json:"user_id,omitempty"`
	ChildID      string         `json:"child_id,omitempty"`
	Metadata     entry.Metadata `json:"metadata,omitempty"`
	Entries      []*entry.Entry `json:"entries"`
	TotalTokens  int            `json:"total_tokens"`
	Config       Overrides      `json:"config"`
	Stats        Stats          `json:"stats"`
	CreatedAt    time.Time      `json:"created_at"`
	LastActivity time.Time      `json:"last_activity"`
}

func (s *Session) clone() *Session {
	c := *s
	c.Metadata = s.Metadata.Clone()
	c.Entries = entry.CloneAll(s.Entries)
	return &c
}

// CreateParams describes a new session. An empty ID is replaced by a generated UUID.
type CreateParams struct {
	ID       string
	UserID   string
	ChildID  string
	Metadata entry.Metadata
}

// NewEntry is the caller-supplied part of an entry.
type NewEntry struct {
	Type     entry.Type
	Content  string
	Metadata entry.Metadata
}

// record guards one session. Lock order is Store.mu before record.mu.
type record struct {
	mu      sync.RWMutex
	removed bool
	session Session
}

// Store is an in-memory, concurrency-safe session registry.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*record

	config StoreConfig
	now    func() time.Time
	events *EventBus
	logger *slog.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock sets the time source used for timestamps and expiry.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore creates an empty store.
func NewStore(cfg StoreConfig, opts ...StoreOption) *Store {
	if cfg.MaxContextEntries <= 0 {
		cfg.MaxContextEntries = DefaultMaxContextEntries
	}
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = DefaultSessionTimeout
	}

	s := &Store{
		sessions: make(map[string]*record),
		config:   cfg,
		now:      time.Now,
		events:   NewEventBus(),
		logger:   slog.Default().With(slog.String("component", "session.store")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Events returns the bus lifecycle events are published on.
func (s *Store) Events() *EventBus {
	return s.events
}

// Config returns the effective store configuration.
func (s *Store) Config() StoreConfig {
	return s.config
}

// Close stops event delivery after flushing queued events.
// It must not be called from an event listener.
func (s *Store) Close() {
	s.events.Close()
}

// CreateSession registers a new session.
func (s *Store) CreateSession(params CreateParams) (*Session, error) {
	id := params.ID
	if id == "" {
		id = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[id]; exists {
		return nil, ctxerrors.SessionAlreadyExists(id)
	}

	now := s.now()
	rec := &record{session: Session{
		ID:           id,
		UserID:       params.UserID,
		ChildID:      params.ChildID,
		Metadata:     params.Metadata.Clone(),
		Entries:      []*entry.Entry{},
		CreatedAt:    now,
		LastActivity: now,
	}}
	s.sessions[id] = rec

	snapshot := rec.session.clone()
	s.events.Publish(Event{Type: EventSessionCreated, SessionID: id, Session: snapshot, Timestamp: now})

	s.logger.Debug("session created", slog.String("session_id", id))
	return snapshot.clone(), nil
}

// GetSession returns a snapshot of the session. Absence is not an error.
func (s *Store) GetSession(id string) (*Session, bool) {
	rec := s.lookup(id)
	if rec == nil {
		return nil, false
	}

	rec.mu.RLock()
	defer rec.mu.RUnlock()
	if rec.removed {
		return nil, false
	}
	return rec.session.clone(), true
}

// AddEntry appends an entry, pruning the oldest entries beyond MaxContextEntries.
func (s *Store) AddEntry(sessionID string, in NewEntry) (*entry.Entry, error) {
	if !in.Type.Valid() {
		return nil, ctxerrors.InvalidArgument("unknown entry type: " + string(in.Type))
	}

	return withSession(s, sessionID, func(sess *Session) (*entry.Entry, error) {
		now := s.now()
		e := &entry.Entry{
			ID:         shortuuid.New(),
			Timestamp:  now,
			Type:       in.Type,
			Content:    in.Content,
			TokenCount: token.EstimateTokenCount(in.Content),
			Metadata:   in.Metadata.Clone(),
		}
		// Timestamps never go backwards within a session.
		if n := len(sess.Entries); n > 0 && e.Timestamp.Before(sess.Entries[n-1].Timestamp) {
			e.Timestamp = sess.Entries[n-1].Timestamp
		}

		for len(sess.Entries) >= s.config.MaxContextEntries {
			pruned := sess.Entries[0]
			sess.Entries[0] = nil
			sess.Entries = sess.Entries[1:]
			sess.TotalTokens -= pruned.TokenCount
			s.logger.Debug("entry pruned",
				slog.String("session_id", sessionID),
				slog.String("entry_id", pruned.ID),
				slog.Int("tokens", pruned.TokenCount),
			)
		}

		sess.Entries = append(sess.Entries, e)
		sess.TotalTokens += e.TokenCount
		sess.LastActivity = now

		s.events.Publish(Event{Type: EventEntryAdded, SessionID: sessionID, Entry: e.Clone(), Timestamp: now})
		return e.Clone(), nil
	})
}

// ReplaceEntry swaps a stored entry for its compressed form and keeps TotalTokens exact.
// It reports false when the entry is no longer in the session or is already compressed.
func (s *Store) ReplaceEntry(sessionID string, replacement *entry.Entry) (bool, error) {
	if replacement == nil {
		return false, ctxerrors.InvalidArgument("nil entry")
	}

	return withSession(s, sessionID, func(sess *Session) (bool, error) {
		for i, e := range sess.Entries {
			if e.ID != replacement.ID {
				continue
			}
			if e.Compressed {
				return false, nil
			}
			stored := replacement.Clone()
			sess.TotalTokens += stored.TokenCount - e.TokenCount
			sess.Entries[i] = stored

			s.events.Publish(Event{Type: EventEntryCompressed, SessionID: sessionID, Entry: stored.Clone(), Timestamp: s.now()})
			return true, nil
		}
		return false, nil
	})
}

// UpdateSessionMetadata shallow-merges partial into the session metadata.
func (s *Store) UpdateSessionMetadata(sessionID string, partial entry.Metadata) error {
	_, err := withSession(s, sessionID, func(sess *Session) (struct{}, error) {
		sess.Metadata = sess.Metadata.Merge(partial)
		sess.LastActivity = s.now()
		return struct{}{}, nil
	})
	return err
}

// UpdateSessionConfig applies a partial per-session override.
func (s *Store) UpdateSessionConfig(sessionID string, update ConfigUpdate) error {
	if update.MaxTokens != nil && *update.MaxTokens < 0 {
		return ctxerrors.InvalidConfig("max tokens must not be negative")
	}
	if update.CompressionLevel != nil && *update.CompressionLevel != "" && !update.CompressionLevel.Valid() {
		return ctxerrors.InvalidConfig("unknown compression level: " + string(*update.CompressionLevel))
	}

	_, err := withSession(s, sessionID, func(sess *Session) (struct{}, error) {
		if update.MaxTokens != nil {
			sess.Config.MaxTokens = *update.MaxTokens
		}
		if update.CompressionLevel != nil {
			sess.Config.CompressionLevel = *update.CompressionLevel
		}
		sess.LastActivity = s.now()
		return struct{}{}, nil
	})
	return err
}

// RecordOptimization stores the statistics of a completed context request.
func (s *Store) RecordOptimization(sessionID string, averageRelevance, compressionRatio float64) error {
	_, err := withSession(s, sessionID, func(sess *Session) (struct{}, error) {
		sess.Stats.AverageRelevance = averageRelevance
		sess.Stats.CompressionRatio = compressionRatio
		sess.Stats.Optimizations++
		return struct{}{}, nil
	})
	return err
}

// RemoveSession deletes a session and reports whether it existed.
func (s *Store) RemoveSession(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sessions[sessionID]
	if !ok {
		return false
	}
	delete(s.sessions, sessionID)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.removed = true
	s.events.Publish(Event{Type: EventSessionRemoved, SessionID: sessionID, Session: rec.session.clone(), Timestamp: s.now()})
	return true
}

// GetActiveSessions returns snapshots of all sessions ordered by creation time.
func (s *Store) GetActiveSessions() []*Session {
	s.mu.RLock()
	records := make([]*record, 0, len(s.sessions))
	for _, rec := range s.sessions {
		records = append(records, rec)
	}
	s.mu.RUnlock()

	out := make([]*Session, 0, len(records))
	for _, rec := range records {
		rec.mu.RLock()
		if !rec.removed {
			out = append(out, rec.session.clone())
		}
		rec.mu.RUnlock()
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Count returns the number of live sessions.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// CleanupExpiredSessions removes sessions idle for longer than SessionTimeout
// and returns how many were removed. The reference time is captured once; each
// candidate is re-checked under its own lock so concurrent activity keeps it alive.
func (s *Store) CleanupExpiredSessions() int {
	now := s.now()

	s.mu.RLock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	removed := 0
	for _, id := range ids {
		if s.expire(id, now) {
			removed++
		}
	}

	if removed > 0 {
		s.logger.Info("expired sessions removed", slog.Int("removed", removed))
	}
	return removed
}

func (s *Store) expire(id string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sessions[id]
	if !ok {
		return false
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.removed || now.Sub(rec.session.LastActivity) <= s.config.SessionTimeout {
		return false
	}

	delete(s.sessions, id)
	rec.removed = true
	s.events.Publish(Event{Type: EventSessionExpired, SessionID: id, Session: rec.session.clone(), Timestamp: now})
	return true
}

func (s *Store) lookup(id string) *record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[id]
}

// withSession runs fn with exclusive access to a live session.
func withSession[T any](s *Store, id string, fn func(*Session) (T, error)) (T, error) {
	var zero T

	rec := s.lookup(id)
	if rec == nil {
		return zero, ctxerrors.SessionNotFound(id)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.removed {
		return zero, ctxerrors.SessionNotFound(id)
	}
	return fn(&rec.session)
}
