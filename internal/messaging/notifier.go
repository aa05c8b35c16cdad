package messaging

import (
	"context"
	"log/slog"

	"github.com/BTreeMap/GateChat/internal/flow"
	"github.com/BTreeMap/GateChat/internal/models"
)

// Notifier adapts a Service to the outbound send contract: failures are
// logged and reported as false, never returned or panicked.
type Notifier struct {
	svc Service
}

// Compile-time check that Notifier implements flow.Sender.
var _ flow.Sender = (*Notifier)(nil)

// NewNotifier wraps svc.
func NewNotifier(svc Service) *Notifier {
	return &Notifier{svc: svc}
}

// Send delivers text to conversationID and reports success.
func (n *Notifier) Send(ctx context.Context, conversationID int64, text string, affordance models.Affordance) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Notifier.Send: transport panicked", "transport", n.svc.Name(), "conversation_id", conversationID, "panic", r)
			ok = false
		}
	}()
	if err := n.svc.SendMessage(ctx, conversationID, text, affordance); err != nil {
		slog.Error("Notifier.Send: send failed", "transport", n.svc.Name(), "conversation_id", conversationID, "error", err)
		return false
	}
	slog.Debug("Notifier.Send: message sent", "transport", n.svc.Name(), "conversation_id", conversationID, "affordance", affordance.Kind)
	return true
}
