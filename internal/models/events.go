package models

import "time"

// EventKind identifies an inbound event variant.
type EventKind string

const (
	// EventEntry is the explicit "begin" command (e.g. /start).
	EventEntry EventKind = "entry"
	// EventContactShared carries a contact the user shared.
	EventContactShared EventKind = "contact_shared"
	// EventText is a plain text message.
	EventText EventKind = "text"
)

// InboundEvent is one event received from a messaging transport.
// Only the fields relevant to Kind are populated.
type InboundEvent struct {
	ID             string    `json:"id,omitempty"` // transport message id, used for dedup
	Kind           EventKind `json:"kind"`
	ConversationID int64     `json:"conversation_id"`
	Handle         string    `json:"handle,omitempty"` // EventEntry
	Name           string    `json:"name,omitempty"`   // EventContactShared
	Phone          string    `json:"phone,omitempty"`  // EventContactShared
	Body           string    `json:"body,omitempty"`   // EventText
	ReceivedAt     time.Time `json:"received_at"`
}

// Validate checks that the event carries the fields its kind requires.
func (e InboundEvent) Validate() error {
	if e.ConversationID == 0 {
		return ErrInvalidConversationID
	}
	switch e.Kind {
	case EventEntry:
		return nil
	case EventContactShared:
		if e.Name == "" {
			return ErrEmptyContactName
		}
		if e.Phone == "" {
			return ErrEmptyContactPhone
		}
		return nil
	case EventText:
		if e.Body == "" {
			return ErrEmptyTextBody
		}
		return nil
	default:
		return ErrUnknownEventKind
	}
}
