package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/BTreeMap/GateChat/internal/models"
	"github.com/BTreeMap/GateChat/internal/whatsapp"
	"go.mau.fi/whatsmeow/types/events"
)

// WhatsAppService implements Service using the Whatsmeow-based whatsapp client.
// Conversation ids are the sender's phone number digits.
type WhatsAppService struct {
	client    whatsapp.WhatsAppSender
	waClient  *whatsapp.Client // Access to underlying client for event handling
	handlerID uint32

	events   chan models.InboundEvent
	done     chan struct{}
	mu       sync.RWMutex
	closed   bool
	stopOnce sync.Once
}

// Compile-time check that WhatsAppService implements Service.
var _ Service = (*WhatsAppService)(nil)

// NewWhatsAppService creates a new WhatsAppService wrapping the given WhatsAppSender.
func NewWhatsAppService(client whatsapp.WhatsAppSender) *WhatsAppService {
	service := &WhatsAppService{
		client: client,
		events: make(chan models.InboundEvent, DefaultChannelBufferSize),
		done:   make(chan struct{}),
	}
	if waClient, ok := client.(*whatsapp.Client); ok {
		service.waClient = waClient
		slog.Debug("WhatsAppService created with full client for event handling")
	} else {
		slog.Debug("WhatsAppService created with interface client (likely mock)")
	}
	return service
}

func (s *WhatsAppService) Name() string { return "whatsapp" }

// Start registers the whatsmeow event handler.
func (s *WhatsAppService) Start(ctx context.Context) error {
	if s.waClient == nil || s.waClient.GetClient() == nil {
		slog.Debug("WhatsAppService no full client available, skipping event handling (likely mock)")
		return nil
	}
	s.handlerID = s.waClient.GetClient().AddEventHandler(func(evt interface{}) {
		if msg, ok := evt.(*events.Message); ok {
			s.handleIncomingMessage(msg)
		}
	})
	slog.Info("WhatsAppService event handler registered")
	return nil
}

// Stop removes the event handler and closes the events channel.
func (s *WhatsAppService) Stop() error {
	s.stopOnce.Do(func() {
		if s.waClient != nil && s.waClient.GetClient() != nil {
			s.waClient.GetClient().RemoveEventHandler(s.handlerID)
			s.waClient.Disconnect()
		}
		close(s.done)
		s.mu.Lock()
		s.closed = true
		close(s.events)
		s.mu.Unlock()
		slog.Info("WhatsAppService stopped and channels closed")
	})
	return nil
}

func (s *WhatsAppService) Events() <-chan models.InboundEvent {
	return s.events
}

// SendMessage sends body. WhatsApp has no contact-request button, so the
// affordance is rendered as a hint line.
func (s *WhatsAppService) SendMessage(ctx context.Context, conversationID int64, body string, affordance models.Affordance) error {
	if affordance.Kind == models.AffordanceContactRequest {
		body = fmt.Sprintf("%s\n\n👉 %s: attach your contact card (📎 → Contact).", body, affordance.Label)
	}
	to := whatsapp.Recipient(conversationID)
	if err := s.client.SendMessage(ctx, to, body); err != nil {
		slog.Error("WhatsAppService SendMessage error", "error", err, "to", to)
		return err
	}
	return nil
}

func (s *WhatsAppService) handleIncomingMessage(msg *events.Message) {
	evt, ok := EventFromWhatsApp(msg)
	if !ok {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.events <- evt:
		slog.Debug("WhatsAppService incoming event forwarded", "conversation_id", evt.ConversationID, "kind", evt.Kind)
	case <-s.done:
	}
}

// EventFromWhatsApp converts a whatsmeow message into an inbound event.
// Own messages, group messages and non-text content other than contact
// cards are ignored.
func EventFromWhatsApp(msg *events.Message) (models.InboundEvent, bool) {
	if msg == nil || msg.Message == nil || msg.Info.IsFromMe || msg.Info.IsGroup {
		return models.InboundEvent{}, false
	}
	id, err := whatsapp.ConversationID(msg.Info.Sender.User)
	if err != nil {
		slog.Debug("WhatsAppService ignoring message from non-phone sender", "sender", msg.Info.Sender.String())
		return models.InboundEvent{}, false
	}
	evt := models.InboundEvent{
		ID:             "wa:" + string(msg.Info.ID),
		ConversationID: id,
		ReceivedAt:     msg.Info.Timestamp,
	}

	if contact := msg.Message.GetContactMessage(); contact != nil {
		name, phone := whatsapp.ParseVCard(contact.GetVcard())
		if dn := contact.GetDisplayName(); dn != "" {
			name = dn
		}
		evt.Kind = models.EventContactShared
		evt.Name = name
		evt.Phone = phone
		return evt, true
	}

	text := msg.Message.GetConversation()
	if text == "" {
		text = msg.Message.GetExtendedTextMessage().GetText()
	}
	if strings.TrimSpace(text) == "" {
		slog.Debug("WhatsAppService ignoring non-text message", "from", msg.Info.Sender.String())
		return models.InboundEvent{}, false
	}

	switch strings.ToLower(strings.TrimSpace(text)) {
	case "/start", "start":
		evt.Kind = models.EventEntry
		evt.Handle = msg.Info.PushName
	default:
		evt.Kind = models.EventText
		evt.Body = text
	}
	return evt, true
}
