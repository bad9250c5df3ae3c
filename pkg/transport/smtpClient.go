package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/wneessen/go-mail"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/eventra/notify-outbox/pkg/config"
)

type smtpClient struct {
	client *mail.Client
	from   string
}

// NewSmtpClient builds an SMTP transport from the configured settings.
func NewSmtpClient(cfg config.SmtpSettings) (Client, error) {
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPortPolicy(mail.TLSOpportunistic),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create SMTP client: %w", err)
	}

	return &smtpClient{client: client, from: cfg.From}, nil
}

func (s *smtpClient) Send(ctx context.Context, msg Message) error {
	tracer := otel.Tracer("notify-outbox")
	ctx, span := tracer.Start(ctx, "Send")
	defer span.End()
	span.SetAttributes(
		attribute.String("messaging.system", "smtp"),
		attribute.String("message.id", msg.ID),
		attribute.String("message.type", string(msg.Type)),
	)

	m := mail.NewMsg()
	if err := m.From(s.from); err != nil {
		span.RecordError(err)
		return Permanent(fmt.Errorf("invalid sender %q: %w", s.from, err))
	}
	// A malformed address can never succeed on retry.
	if err := m.To(msg.Recipient); err != nil {
		span.RecordError(err)
		return Permanent(fmt.Errorf("invalid recipient %q: %w", msg.Recipient, err))
	}
	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextPlain, msg.Body)
	for _, att := range msg.Attachments {
		m.AttachReader(att.Name, bytes.NewReader(att.Content))
	}

	if err := s.client.DialAndSendWithContext(ctx, m); err != nil {
		span.RecordError(err)
		return classifySMTPError(err)
	}
	return nil
}

func (s *smtpClient) Close() error {
	return s.client.Close()
}

// classifySMTPError maps SMTP failures onto the retry taxonomy: 4xx reply
// codes and network/timeout conditions are transient, 5xx rejections are
// permanent. Anything unrecognized stays transient.
func classifySMTPError(err error) error {
	var sendErr *mail.SendError
	if errors.As(err, &sendErr) {
		if sendErr.IsTemp() {
			return Transient(err)
		}
		return Permanent(err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return Transient(err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Transient(err)
	}
	return Transient(err)
}
