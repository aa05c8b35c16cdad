package messaging

import (
	"context"
	"fmt"

	"github.com/BTreeMap/GateChat/internal/flow"
	"github.com/BTreeMap/GateChat/internal/models"
	"github.com/BTreeMap/GateChat/internal/twiliowhatsapp"
)

// AdminDestination resolves the administrator chat, if one is configured.
type AdminDestination interface {
	AdminChatID() (int64, bool)
}

// ChatAdminNotifier sends registration notices to the administrator through
// the same chat transport the users talk on.
type ChatAdminNotifier struct {
	sender flow.Sender
	dest   AdminDestination
}

// Compile-time check that ChatAdminNotifier implements flow.AdminNotifier.
var _ flow.AdminNotifier = (*ChatAdminNotifier)(nil)

// NewChatAdminNotifier creates a ChatAdminNotifier.
func NewChatAdminNotifier(sender flow.Sender, dest AdminDestination) *ChatAdminNotifier {
	return &ChatAdminNotifier{sender: sender, dest: dest}
}

// NotifyAdmin sends notice to the configured admin chat.
func (n *ChatAdminNotifier) NotifyAdmin(ctx context.Context, notice string) error {
	id, ok := n.dest.AdminChatID()
	if !ok {
		return flow.ErrAdminNotConfigured
	}
	// The admin chat never gets an input affordance.
	if !n.sender.Send(ctx, id, notice, models.Affordance{}) {
		return fmt.Errorf("failed to deliver admin notice to chat %d", id)
	}
	return nil
}

// TwilioAdminNotifier sends registration notices to a WhatsApp number via Twilio.
type TwilioAdminNotifier struct {
	client twiliowhatsapp.Sender
	to     string
}

// Compile-time check that TwilioAdminNotifier implements flow.AdminNotifier.
var _ flow.AdminNotifier = (*TwilioAdminNotifier)(nil)

// NewTwilioAdminNotifier creates a TwilioAdminNotifier delivering to the number to.
func NewTwilioAdminNotifier(client twiliowhatsapp.Sender, to string) *TwilioAdminNotifier {
	return &TwilioAdminNotifier{client: client, to: to}
}

// NotifyAdmin sends notice to the configured WhatsApp number.
func (n *TwilioAdminNotifier) NotifyAdmin(ctx context.Context, notice string) error {
	if n.client == nil || n.to == "" {
		return flow.ErrAdminNotConfigured
	}
	if err := n.client.SendMessage(ctx, n.to, notice); err != nil {
		return fmt.Errorf("twilio admin notice: %w", err)
	}
	return nil
}
