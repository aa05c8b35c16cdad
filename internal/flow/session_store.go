// Package flow implements the conversation core: the per-conversation session
// store, the session manager that mediates completion calls, and the
// access-gated dispatcher that classifies inbound events.
package flow

import (
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/GateChat/internal/models"
)

// Session is the rolling message history for one conversation.
// Messages[0], when present and system-role, is the active system prompt.
type Session struct {
	Messages []models.ChatMessage
	// PromptKey pins the session to a named prompt. Empty means the global prompt.
	PromptKey  string
	LastActive time.Time
}

type sessionEntry struct {
	mu      sync.Mutex
	session *Session
	removed bool
}

// SessionStore owns the per-conversation sessions. Access to one session is
// exclusive; unrelated conversations never wait on each other.
type SessionStore struct {
	mu      sync.Mutex
	entries map[int64]*sessionEntry
	now     func() time.Time
}

// NewSessionStore creates an empty SessionStore.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		entries: make(map[int64]*sessionEntry),
		now:     time.Now,
	}
}

func (s *SessionStore) entry(id int64, create bool) *sessionEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok && create {
		e = &sessionEntry{}
		s.entries[id] = e
	}
	return e
}

// With runs fn with exclusive access to the session for id, creating it if
// absent. The session must not be retained after fn returns.
func (s *SessionStore) With(id int64, fn func(*Session)) {
	for {
		e := s.entry(id, true)
		e.mu.Lock()
		if e.removed {
			// Deleted or pruned while we waited; retry against a fresh entry.
			e.mu.Unlock()
			continue
		}
		if e.session == nil {
			e.session = &Session{}
		}
		fn(e.session)
		e.session.LastActive = s.now()
		e.mu.Unlock()
		return
	}
}

// Snapshot returns a copy of the session's messages and whether a session exists.
func (s *SessionStore) Snapshot(id int64) ([]models.ChatMessage, bool) {
	e := s.entry(id, false)
	if e == nil {
		return nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed || e.session == nil {
		return nil, false
	}
	out := make([]models.ChatMessage, len(e.session.Messages))
	copy(out, e.session.Messages)
	return out, true
}

// Delete discards the session for id. Deleting an absent session is a no-op.
func (s *SessionStore) Delete(id int64) {
	e := s.entry(id, false)
	if e == nil {
		return
	}
	e.mu.Lock()
	s.removeLocked(id, e)
	e.mu.Unlock()
}

// removeLocked drops e from the map. The caller holds e.mu.
func (s *SessionStore) removeLocked(id int64, e *sessionEntry) {
	e.removed = true
	e.session = nil
	s.mu.Lock()
	if s.entries[id] == e {
		delete(s.entries, id)
	}
	s.mu.Unlock()
}

// Prune discards sessions idle for longer than ttl and returns how many were
// removed. Sessions in use at the time of the sweep are skipped.
func (s *SessionStore) Prune(ttl time.Duration) int {
	s.mu.Lock()
	ids := make([]int64, 0, len(s.entries))
	entries := make([]*sessionEntry, 0, len(s.entries))
	for id, e := range s.entries {
		ids = append(ids, id)
		entries = append(entries, e)
	}
	s.mu.Unlock()

	cutoff := s.now().Add(-ttl)
	pruned := 0
	for i, e := range entries {
		if !e.mu.TryLock() {
			continue
		}
		if !e.removed && (e.session == nil || e.session.LastActive.Before(cutoff)) {
			s.removeLocked(ids[i], e)
			pruned++
		}
		e.mu.Unlock()
	}
	if pruned > 0 {
		slog.Info("SessionStore.Prune: idle sessions discarded", "count", pruned, "ttl", ttl)
	}
	return pruned
}

// Len returns the number of live sessions.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
