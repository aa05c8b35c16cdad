package models

// Role tags a chat message for the completion API.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is one role-tagged entry of a conversation session.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// SystemMessage builds a system-role message.
func SystemMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleSystem, Content: content}
}

// UserMessage builds a user-role message.
func UserMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleUser, Content: content}
}

// AssistantMessage builds an assistant-role message.
func AssistantMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleAssistant, Content: content}
}

// AffordanceKind selects the input hint attached to an outbound message.
type AffordanceKind string

const (
	// AffordanceNone leaves whatever input hint the client shows untouched.
	AffordanceNone AffordanceKind = ""
	// AffordanceContactRequest shows a one-tap "share contact" button.
	AffordanceContactRequest AffordanceKind = "contact_request"
	// AffordanceClear removes any previously shown input hint.
	AffordanceClear AffordanceKind = "clear"
)

// Affordance is the UI hint sent along with an outbound message.
type Affordance struct {
	Kind  AffordanceKind `json:"kind,omitempty"`
	Label string         `json:"label,omitempty"` // button label for AffordanceContactRequest
}

// ContactRequest returns a contact-request affordance with the given button label.
func ContactRequest(label string) Affordance {
	return Affordance{Kind: AffordanceContactRequest, Label: label}
}

// ClearAffordance returns an affordance that removes any input hint.
func ClearAffordance() Affordance {
	return Affordance{Kind: AffordanceClear}
}
