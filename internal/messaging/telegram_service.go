package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/GateChat/internal/models"
	"github.com/BTreeMap/GateChat/internal/telegram"
)

// telegramAPI is the slice of telegram.Client used by TelegramService.
type telegramAPI interface {
	GetMe(ctx context.Context) (*telegram.User, error)
	Poll(ctx context.Context, handle func(telegram.Update))
	SendMessage(ctx context.Context, chatID int64, text string, replyMarkup any) error
}

// TelegramService implements Service over the Telegram Bot API.
type TelegramService struct {
	client telegramAPI
	events chan models.InboundEvent

	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// Compile-time check that TelegramService implements Service.
var _ Service = (*TelegramService)(nil)

// NewTelegramService creates a TelegramService around client.
func NewTelegramService(client telegramAPI) *TelegramService {
	return &TelegramService{
		client: client,
		events: make(chan models.InboundEvent, DefaultChannelBufferSize),
		done:   make(chan struct{}),
	}
}

func (s *TelegramService) Name() string { return "telegram" }

// Start verifies the token and begins long polling.
func (s *TelegramService) Start(ctx context.Context) error {
	me, err := s.client.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("telegram: failed to verify token: %w", err)
	}
	slog.Info("TelegramService.Start: connected", "bot", me.Username, "id", me.ID)

	s.ctx, s.cancel = context.WithCancel(ctx)
	go func() {
		defer close(s.done)
		s.client.Poll(s.ctx, s.handleUpdate)
	}()
	return nil
}

// Stop ends polling and closes the events channel.
func (s *TelegramService) Stop() error {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
			<-s.done
		}
		close(s.events)
		slog.Info("TelegramService.Stop: stopped")
	})
	return nil
}

func (s *TelegramService) Events() <-chan models.InboundEvent {
	return s.events
}

func (s *TelegramService) handleUpdate(u telegram.Update) {
	evt, ok := EventFromUpdate(u)
	if !ok {
		slog.Debug("TelegramService: ignoring update", "update_id", u.UpdateID)
		return
	}
	select {
	case s.events <- evt:
	case <-s.ctx.Done():
	}
}

// SendMessage sends body, rendering the affordance as a reply keyboard.
func (s *TelegramService) SendMessage(ctx context.Context, conversationID int64, body string, affordance models.Affordance) error {
	var markup any
	switch affordance.Kind {
	case models.AffordanceContactRequest:
		markup = telegram.ContactKeyboard(affordance.Label)
	case models.AffordanceClear:
		markup = telegram.ReplyKeyboardRemove{RemoveKeyboard: true}
	}
	return s.client.SendMessage(ctx, conversationID, body, markup)
}

// EventFromUpdate converts a Telegram update into an inbound event. Updates
// that carry neither a contact, /start, nor plain text are ignored.
func EventFromUpdate(u telegram.Update) (models.InboundEvent, bool) {
	m := u.Message
	if m == nil {
		return models.InboundEvent{}, false
	}
	evt := models.InboundEvent{
		ID:             fmt.Sprintf("tg:%d:%d", m.Chat.ID, m.MessageID),
		ConversationID: m.Chat.ID,
		ReceivedAt:     time.Unix(m.Date, 0).UTC(),
	}
	if m.Contact != nil {
		evt.Kind = models.EventContactShared
		evt.Name = m.Contact.FirstName
		evt.Phone = m.Contact.PhoneNumber
		return evt, true
	}

	text := strings.TrimSpace(m.Text)
	if text == "" {
		return models.InboundEvent{}, false
	}
	if strings.HasPrefix(text, "/") {
		cmd, _, _ := strings.Cut(strings.Fields(text)[0], "@")
		if cmd != "/start" {
			return models.InboundEvent{}, false
		}
		evt.Kind = models.EventEntry
		if m.From != nil {
			evt.Handle = m.From.Username
		}
		return evt, true
	}
	evt.Kind = models.EventText
	evt.Body = m.Text
	return evt, true
}
