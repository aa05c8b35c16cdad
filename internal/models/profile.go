package models

import "time"

// UserProfile is the durable per-user record keyed by the platform chat id.
// Name and Phone stay nil until the user shares a contact.
type UserProfile struct {
	ChatID           int64     `json:"chat_id"`
	Name             *string   `json:"name,omitempty"`
	Phone            *string   `json:"phone,omitempty"`
	Handle           *string   `json:"handle,omitempty"`
	RegistrationDate time.Time `json:"registration_date"`
}

// IsComplete reports whether both display name and contact number are set.
func (p *UserProfile) IsComplete() bool {
	return p != nil && p.Name != nil && p.Phone != nil
}

// ProfileUpdate carries a partial profile write. Nil fields are left untouched.
type ProfileUpdate struct {
	Name  *string
	Phone *string
}

// IsEmpty reports whether the update would change nothing.
func (u ProfileUpdate) IsEmpty() bool {
	return u.Name == nil && u.Phone == nil
}

// RegistrationState is the onboarding position of a user. It is always computed
// from the stored profile and never persisted on its own.
type RegistrationState string

const (
	// RegistrationStateNew means no profile row exists yet.
	RegistrationStateNew RegistrationState = "new"
	// RegistrationStateAwaitingContact means the row exists but name or phone is missing.
	RegistrationStateAwaitingContact RegistrationState = "awaiting_contact"
	// RegistrationStateRegistered means the profile is complete and chat is allowed.
	RegistrationStateRegistered RegistrationState = "registered"
)

// RegistrationStateOf derives the registration state from a profile record.
// A nil profile means the row does not exist.
func RegistrationStateOf(p *UserProfile) RegistrationState {
	switch {
	case p == nil:
		return RegistrationStateNew
	case p.IsComplete():
		return RegistrationStateRegistered
	default:
		return RegistrationStateAwaitingContact
	}
}

// CanChat reports whether the state grants access to the completion path.
func (s RegistrationState) CanChat() bool {
	return s == RegistrationStateRegistered
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
