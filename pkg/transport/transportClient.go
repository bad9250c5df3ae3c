package transport

import (
	"context"

	"github.com/eventra/notify-outbox/pkg/store"
)

// Message is a fully rendered notification ready to leave the system.
type Message struct {
	// ID is the outbox entry id, forwarded so downstream consumers can
	// deduplicate the occasional at-least-once double send.
	ID          string
	Type        store.MessageType
	Recipient   string
	Subject     string
	Body        string
	Attachments []store.Attachment
}

// Client delivers rendered messages. Implementations must classify every
// failure as Transient or Permanent via *Error; the delivery worker's
// retry decision is driven by that classification alone.
type Client interface {
	// Send delivers the message to its recipient.
	Send(ctx context.Context, msg Message) error
	// Close cleans up any resources (connections).
	Close() error
}
