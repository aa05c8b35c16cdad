package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/GateChat/internal/config"
	"github.com/BTreeMap/GateChat/internal/models"
	"github.com/BTreeMap/GateChat/internal/store"
)

// ErrAdminNotConfigured is returned by an AdminNotifier with no destination.
var ErrAdminNotConfigured = errors.New("admin destination not configured")

// Sender is the outbound send contract. It reports failure as false and never panics.
type Sender interface {
	Send(ctx context.Context, conversationID int64, text string, affordance models.Affordance) bool
}

// Responder produces a chat reply for an authorized text turn.
type Responder interface {
	GetResponse(ctx context.Context, conversationID int64, userText string) string
}

// TextSource serves the configured user-facing texts.
type TextSource interface {
	Text(key string) string
}

// AdminNotifier delivers registration notices to the administrator.
type AdminNotifier interface {
	NotifyAdmin(ctx context.Context, notice string) error
}

// Dispatcher gates inbound events by registration state. It reads completeness
// from the profile store on every call and never caches it.
type Dispatcher struct {
	profiles  store.ProfileRepo
	responder Responder
	sender    Sender
	texts     TextSource
	admin     AdminNotifier
}

// NewDispatcher creates a Dispatcher. admin may be nil.
func NewDispatcher(profiles store.ProfileRepo, responder Responder, sender Sender, texts TextSource, admin AdminNotifier) *Dispatcher {
	return &Dispatcher{profiles: profiles, responder: responder, sender: sender, texts: texts, admin: admin}
}

// Dispatch validates evt and routes it to the handler for its kind.
func (d *Dispatcher) Dispatch(ctx context.Context, evt models.InboundEvent) error {
	if err := evt.Validate(); err != nil {
		return fmt.Errorf("invalid inbound event: %w", err)
	}
	switch evt.Kind {
	case models.EventEntry:
		d.HandleEntry(ctx, evt.ConversationID, evt.Handle)
	case models.EventContactShared:
		d.HandleContactShared(ctx, evt.ConversationID, evt.Name, evt.Phone)
	case models.EventText:
		d.HandleText(ctx, evt.ConversationID, evt.Body)
	}
	return nil
}

// state derives the registration state from the stored profile.
func (d *Dispatcher) state(ctx context.Context, conversationID int64) models.RegistrationState {
	p, err := d.profiles.GetProfile(ctx, conversationID)
	if err != nil {
		slog.Error("Dispatcher: profile lookup failed, treating as unregistered", "conversation_id", conversationID, "error", err)
		return models.RegistrationStateNew
	}
	return models.RegistrationStateOf(p)
}

// HandleEntry ensures a profile exists and greets the user, offering the
// contact button unless the profile is already complete.
func (d *Dispatcher) HandleEntry(ctx context.Context, conversationID int64, handle string) {
	if err := d.profiles.EnsureProfile(ctx, conversationID, handle); err != nil {
		slog.Error("Dispatcher.HandleEntry: ensure profile failed", "conversation_id", conversationID, "error", err)
		return
	}
	welcome := d.texts.Text(config.KeyWelcome)
	st := d.state(ctx, conversationID)
	slog.Debug("Dispatcher.HandleEntry", "conversation_id", conversationID, "state", st)
	if st.CanChat() {
		d.send(ctx, conversationID, welcome, models.Affordance{})
		return
	}
	d.send(ctx, conversationID, welcome, models.ContactRequest(d.texts.Text(config.KeyButtonText)))
}

// HandleContactShared stores the shared contact, notifies the administrator,
// and thanks the user. Nothing is sent if the profile write does not happen.
func (d *Dispatcher) HandleContactShared(ctx context.Context, conversationID int64, name, phone string) {
	if name == "" || phone == "" {
		slog.Warn("Dispatcher.HandleContactShared: contact without name or phone ignored", "conversation_id", conversationID)
		return
	}
	updated, err := d.profiles.UpdateProfile(ctx, conversationID, models.ProfileUpdate{Name: &name, Phone: &phone})
	if err != nil {
		slog.Error("Dispatcher.HandleContactShared: profile update failed", "conversation_id", conversationID, "error", err)
		return
	}
	if !updated {
		slog.Warn("Dispatcher.HandleContactShared: no profile to update", "conversation_id", conversationID)
		return
	}

	profile, err := d.profiles.GetProfile(ctx, conversationID)
	switch {
	case err != nil:
		slog.Error("Dispatcher.HandleContactShared: fetch merged profile failed", "conversation_id", conversationID, "error", err)
	case profile == nil:
		slog.Warn("Dispatcher.HandleContactShared: profile vanished after update", "conversation_id", conversationID)
	default:
		d.notifyAdmin(ctx, profile)
	}

	d.send(ctx, conversationID, d.texts.Text(config.KeyContactReceived), models.ClearAffordance())
}

func (d *Dispatcher) notifyAdmin(ctx context.Context, profile *models.UserProfile) {
	if d.admin == nil {
		slog.Debug("Dispatcher: no admin notifier, skipping registration notice", "conversation_id", profile.ChatID)
		return
	}
	err := d.admin.NotifyAdmin(ctx, FormatRegistrationNotice(profile))
	switch {
	case err == nil:
		slog.Info("Dispatcher: registration notice sent", "conversation_id", profile.ChatID)
	case errors.Is(err, ErrAdminNotConfigured):
		slog.Debug("Dispatcher: admin destination not configured, skipping registration notice", "conversation_id", profile.ChatID)
	default:
		slog.Error("Dispatcher: registration notice failed", "conversation_id", profile.ChatID, "error", err)
	}
}

// HandleText forwards text from registered users to the responder and
// re-offers the contact button to everyone else.
func (d *Dispatcher) HandleText(ctx context.Context, conversationID int64, text string) {
	complete, err := d.profiles.IsProfileComplete(ctx, conversationID)
	if err != nil {
		slog.Error("Dispatcher.HandleText: completeness check failed, denying access", "conversation_id", conversationID, "error", err)
	}
	if !complete {
		slog.Debug("Dispatcher.HandleText: access denied", "conversation_id", conversationID)
		d.send(ctx, conversationID, d.texts.Text(config.KeyAccessDenied), models.ContactRequest(d.texts.Text(config.KeyButtonText)))
		return
	}
	reply := d.responder.GetResponse(ctx, conversationID, text)
	d.send(ctx, conversationID, reply, models.ClearAffordance())
}

func (d *Dispatcher) send(ctx context.Context, conversationID int64, text string, aff models.Affordance) {
	if !d.sender.Send(ctx, conversationID, text, aff) {
		slog.Warn("Dispatcher: outbound send failed", "conversation_id", conversationID, "affordance", aff.Kind)
	}
}

// RegistrationTimeLayout formats the registration date in admin notices.
const RegistrationTimeLayout = "2006-01-02 15:04:05"

// FormatRegistrationNotice renders the administrator notice for a new registration.
func FormatRegistrationNotice(p *models.UserProfile) string {
	name, phone := "", ""
	if p.Name != nil {
		name = *p.Name
	}
	if p.Phone != nil {
		phone = *p.Phone
	}
	username := "Not provided"
	if p.Handle != nil && *p.Handle != "" {
		username = "@" + *p.Handle
	}
	return fmt.Sprintf("🆕 New User Registration:\nName: %s\nPhone: %s\nUsername: %s\nRegistration Date: %s",
		name, phone, username, p.RegistrationDate.In(time.UTC).Format(RegistrationTimeLayout))
}
