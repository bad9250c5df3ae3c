package transport

import (
	"context"
	"fmt"

	"github.com/eventra/notify-outbox/pkg/config"
)

// NewClient builds the transport configured by cfg.Type.
func NewClient(ctx context.Context, cfg config.TransportSettings) (Client, error) {
	switch cfg.Type {
	case "smtp":
		return NewSmtpClient(cfg.SMTP)
	case "amqp":
		return NewAmqpClient(cfg.AMQP)
	case "gcp-pubsub":
		return NewPubSubClient(ctx, cfg.PubSub)
	default:
		return nil, fmt.Errorf("unsupported transport type: %s", cfg.Type)
	}
}
