// Package entry defines the conversational records tracked by the context budget core.
package entry

import (
	"fmt"
	"time"
	"unicode/utf8"

	ctxerrors "github.com/hrygo/contextbudget/internal/errors"
)

// Type classifies an entry.
type Type string

const (
	TypeUserInput  Type = "user_input"
	TypeAIResponse Type = "ai_response"
	TypeSystem     Type = "system"
)

// Valid reports whether t is one of the known entry types.
func (t Type) Valid() bool {
	switch t {
	case TypeUserInput, TypeAIResponse, TypeSystem:
		return true
	}
	return false
}

// ParseType converts a caller-supplied string into a Type.
func ParseType(s string) (Type, error) {
	t := Type(s)
	if !t.Valid() {
		return "", ctxerrors.InvalidArgument(fmt.Sprintf("unknown entry type: %q", s))
	}
	return t, nil
}

// Entry is one recorded conversational event.
// Content changes only through compression; TokenCount tracks Content.
type Entry struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Type       Type      `json:"type"`
	Content    string    `json:"content"`
	TokenCount int       `json:"token_count"`
	Metadata   Metadata  `json:"metadata,omitempty"`

	Compressed     bool `json:"compressed"`
	OriginalLength int  `json:"original_length,omitempty"` // rune count before compression
	// RatioExceeded is set when the summarizer could not reach the target ratio.
	RatioExceeded bool `json:"ratio_exceeded,omitempty"`
	// CompressionError annotates an entry whose last compression attempt failed.
	CompressionError string `json:"compression_error,omitempty"`
}

// Length returns the content length in characters.
func (e *Entry) Length() int {
	return utf8.RuneCountInString(e.Content)
}

// Clone returns a deep copy of the entry.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	c := *e
	c.Metadata = e.Metadata.Clone()
	return &c
}

// CloneAll deep-copies a slice of entries.
func CloneAll(entries []*Entry) []*Entry {
	out := make([]*Entry, len(entries))
	for i, e := range entries {
		out[i] = e.Clone()
	}
	return out
}
