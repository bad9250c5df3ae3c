package transport

import (
	"context"
	"encoding/json"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"

	"github.com/eventra/notify-outbox/pkg/config"
)

type pubSubClient struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

func NewPubSubClient(ctx context.Context, cfg config.PubSubSettings) (Client, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, err
	}
	return &pubSubClient{client: client, topic: client.Topic(cfg.Topic)}, nil
}

func (p *pubSubClient) Send(ctx context.Context, msg Message) error {
	tracer := otel.Tracer("notify-outbox")
	ctx, span := tracer.Start(ctx, "Send")
	defer span.End()
	span.SetAttributes(
		attribute.String("messaging.system", "gcp-pubsub"),
		attribute.String("messaging.destination", p.topic.ID()),
		attribute.String("message.id", msg.ID),
		attribute.String("message.type", string(msg.Type)),
	)

	payload, err := json.Marshal(newWireEnvelope(msg))
	if err != nil {
		span.RecordError(err)
		return Permanent(err)
	}

	attrs := map[string]string{"message-id": msg.ID, "type": string(msg.Type)}
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(attrs))

	result := p.topic.Publish(ctx, &pubsub.Message{Data: payload, Attributes: attrs})
	if _, err := result.Get(ctx); err != nil {
		span.RecordError(err)
		return Transient(err)
	}
	return nil
}

func (p *pubSubClient) Close() error {
	p.topic.Stop()
	return p.client.Close()
}
