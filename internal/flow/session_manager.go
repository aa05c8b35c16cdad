package flow

import (
	"context"
	"log/slog"

	"github.com/BTreeMap/GateChat/internal/models"
)

// MaxHistory is the number of non-system messages a session keeps.
const MaxHistory = 8

// FallbackReply is returned to the user whenever a completion fails.
const FallbackReply = "I apologize, but I'm having trouble processing your request right now."

// Completer produces one reply from an ordered list of role-tagged messages.
type Completer interface {
	Complete(ctx context.Context, messages []models.ChatMessage) (string, error)
}

// PromptSource resolves system prompts.
type PromptSource interface {
	ActivePrompt() string
	PromptByKey(key string) (string, bool)
}

// SessionManager keeps one bounded rolling session per conversation and
// mediates all completion calls.
type SessionManager struct {
	sessions  *SessionStore
	completer Completer
	prompts   PromptSource
}

// NewSessionManager creates a SessionManager over the given collaborators.
func NewSessionManager(sessions *SessionStore, completer Completer, prompts PromptSource) *SessionManager {
	if sessions == nil {
		sessions = NewSessionStore()
	}
	return &SessionManager{sessions: sessions, completer: completer, prompts: prompts}
}

// Sessions exposes the underlying store (for pruning and diagnostics).
func (m *SessionManager) Sessions() *SessionStore {
	return m.sessions
}

// GetResponse appends userText to the conversation's session, asks the
// completer for a reply, and returns it. It never fails: on any completion
// error the fallback reply is returned and the session keeps the user turn.
func (m *SessionManager) GetResponse(ctx context.Context, conversationID int64, userText string) string {
	var reply string
	m.sessions.With(conversationID, func(s *Session) {
		prompt := m.resolvePrompt(conversationID, s)

		stored := ""
		if len(s.Messages) > 0 && s.Messages[0].Role == models.RoleSystem {
			stored = s.Messages[0].Content
		}
		if len(s.Messages) > 0 && stored != prompt {
			slog.Info("SessionManager.GetResponse: system prompt changed, discarding history",
				"conversation_id", conversationID, "discarded", len(s.Messages))
			s.Messages = nil
		}
		if len(s.Messages) == 0 && prompt != "" {
			s.Messages = append(s.Messages, models.SystemMessage(prompt))
		}

		s.Messages = trimWindow(append(s.Messages, models.UserMessage(userText)))

		request := make([]models.ChatMessage, len(s.Messages))
		copy(request, s.Messages)

		content, err := m.completer.Complete(ctx, request)
		if err != nil {
			slog.Error("SessionManager.GetResponse: completion failed, using fallback",
				"conversation_id", conversationID, "error", err)
			reply = FallbackReply
			return
		}
		s.Messages = trimWindow(append(s.Messages, models.AssistantMessage(content)))
		reply = content
	})
	return reply
}

// resolvePrompt returns the prompt the session should run under. A pinned key
// that no longer resolves is dropped in favour of the global prompt.
func (m *SessionManager) resolvePrompt(conversationID int64, s *Session) string {
	if s.PromptKey != "" {
		if text, ok := m.prompts.PromptByKey(s.PromptKey); ok {
			return text
		}
		slog.Warn("SessionManager: pinned prompt key no longer configured, using global prompt",
			"conversation_id", conversationID, "prompt_key", s.PromptKey)
		s.PromptKey = ""
	}
	return m.prompts.ActivePrompt()
}

// Reset discards the session for conversationID.
func (m *SessionManager) Reset(conversationID int64) {
	m.sessions.Delete(conversationID)
	slog.Debug("SessionManager.Reset: session discarded", "conversation_id", conversationID)
}

// SetPrompt replaces the session with one seeded by the prompt named promptKey.
// It returns false without side effects if the key does not resolve.
func (m *SessionManager) SetPrompt(conversationID int64, promptKey string) bool {
	text, ok := m.prompts.PromptByKey(promptKey)
	if !ok {
		slog.Warn("SessionManager.SetPrompt: unknown prompt key", "conversation_id", conversationID, "prompt_key", promptKey)
		return false
	}
	m.sessions.With(conversationID, func(s *Session) {
		s.Messages = []models.ChatMessage{models.SystemMessage(text)}
		s.PromptKey = promptKey
	})
	slog.Info("SessionManager.SetPrompt: session reseeded", "conversation_id", conversationID, "prompt_key", promptKey)
	return true
}

// History returns a copy of the session's messages, or nil if none exists.
func (m *SessionManager) History(conversationID int64) []models.ChatMessage {
	msgs, _ := m.sessions.Snapshot(conversationID)
	return msgs
}

// trimWindow keeps the leading system message plus the last MaxHistory messages.
func trimWindow(msgs []models.ChatMessage) []models.ChatMessage {
	offset := 0
	if len(msgs) > 0 && msgs[0].Role == models.RoleSystem {
		offset = 1
	}
	if len(msgs)-offset <= MaxHistory {
		return msgs
	}
	out := make([]models.ChatMessage, 0, offset+MaxHistory)
	out = append(out, msgs[:offset]...)
	return append(out, msgs[len(msgs)-MaxHistory:]...)
}
