package transport

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/streadway/amqp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"

	"github.com/eventra/notify-outbox/pkg/config"
)

// amqpClient routes notifications through a RabbitMQ exchange instead of a
// direct SMTP hop. Deployments with a separate mailer service consume them
// from there; the outbox guarantees stay the same.
type amqpClient struct {
	connection *amqp.Connection
	channel    *amqp.Channel
	exchange   string
}

func NewAmqpClient(cfg config.AmqpSettings) (Client, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	err = ch.ExchangeDeclare(
		cfg.Exchange, // name
		"topic",      // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &amqpClient{connection: conn, channel: ch, exchange: cfg.Exchange}, nil
}

// wireEnvelope is the JSON shape both broker transports publish.
type wireEnvelope struct {
	ID          string           `json:"id"`
	Type        string           `json:"type"`
	Recipient   string           `json:"recipient"`
	Subject     string           `json:"subject"`
	Body        string           `json:"body"`
	Attachments []wireAttachment `json:"attachments,omitempty"`
}

type wireAttachment struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Content     []byte `json:"content"`
}

func newWireEnvelope(msg Message) wireEnvelope {
	envelope := wireEnvelope{
		ID:        msg.ID,
		Type:      string(msg.Type),
		Recipient: msg.Recipient,
		Subject:   msg.Subject,
		Body:      msg.Body,
	}
	for _, att := range msg.Attachments {
		envelope.Attachments = append(envelope.Attachments, wireAttachment(att))
	}
	return envelope
}

func (a *amqpClient) Send(ctx context.Context, msg Message) error {
	tracer := otel.Tracer("notify-outbox")
	ctx, span := tracer.Start(ctx, "Send")
	defer span.End()
	span.SetAttributes(
		attribute.String("messaging.system", "rabbitmq"),
		attribute.String("messaging.destination", a.exchange),
		attribute.String("message.id", msg.ID),
		attribute.String("message.type", string(msg.Type)),
	)

	payload, err := json.Marshal(newWireEnvelope(msg))
	if err != nil {
		span.RecordError(err)
		return Permanent(err)
	}

	// Inject the trace context into the message headers
	traceHeaders := make(map[string]string)
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(traceHeaders))
	amqpHeaders := make(amqp.Table, len(traceHeaders)+1)
	for k, v := range traceHeaders {
		amqpHeaders[k] = v
	}
	amqpHeaders["message-id"] = msg.ID

	err = a.channel.Publish(
		a.exchange, string(msg.Type), false, false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        payload,
			Headers:     amqpHeaders,
		},
	)
	if err != nil {
		span.RecordError(err)
		// broker unreachable or channel gone; recoverable on a later poll
		return Transient(err)
	}
	return nil
}

func (a *amqpClient) Close() error {
	if a.channel != nil {
		a.channel.Close()
	}
	if a.connection != nil {
		return a.connection.Close()
	}
	return nil
}
