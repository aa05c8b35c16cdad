// Package messaging binds chat transports to the conversation core.
package messaging

import (
	"context"

	"github.com/BTreeMap/GateChat/internal/models"
)

// Constants for transport services
const (
	// DefaultChannelBufferSize defines the default buffer size for inbound event channels
	DefaultChannelBufferSize = 100
)

// Service defines a pluggable chat transport.
type Service interface {
	// Name identifies the transport in logs.
	Name() string

	// Start begins background processing (e.g., polling for events).
	Start(ctx context.Context) error

	// Stop stops background processing and closes the events channel.
	Stop() error

	// SendMessage sends body to a conversation with the given input affordance.
	SendMessage(ctx context.Context, conversationID int64, body string, affordance models.Affordance) error

	// Events returns the channel of inbound events.
	Events() <-chan models.InboundEvent
}
