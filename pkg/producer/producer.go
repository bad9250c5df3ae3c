package producer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eventra/notify-outbox/pkg/store"
)

var (
	// ErrInvalidMessage indicates the request cannot become an outbox entry.
	ErrInvalidMessage = errors.New("invalid notification message")
)

// Message is a request to notify someone. Body is optional: when empty the
// delivery worker renders it from the type's template and the related
// entity, so the entity id becomes mandatory.
type Message struct {
	Type            store.MessageType
	RelatedEntityID *uuid.UUID
	Recipient       string
	Subject         string
	Body            string
	// ScheduledAt delays the first delivery attempt. Zero means deliver as
	// soon as a worker picks the entry up.
	ScheduledAt *time.Time
}

func (m Message) validate() error {
	if !m.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, m.Type)
	}
	if m.Recipient == "" {
		return fmt.Errorf("%w: recipient is required", ErrInvalidMessage)
	}
	if m.Body == "" && m.RelatedEntityID == nil {
		return fmt.Errorf("%w: type %q needs a related entity to render from", ErrInvalidMessage, m.Type)
	}
	if m.Type.CarriesTicket() && m.RelatedEntityID == nil {
		return fmt.Errorf("%w: type %q needs a related entity for its ticket", ErrInvalidMessage, m.Type)
	}
	return nil
}

// TxCreator persists entries inside a caller-owned transaction. The
// Postgres store implements it; callers embedding the outbox in their own
// schema pass the transaction they mutate business rows with.
type TxCreator interface {
	CreateWithExecutor(ctx context.Context, exec store.Executor, entry *store.OutboxEntry) error
}

// Producer turns notification requests into pending outbox entries.
type Producer struct {
	store  store.OutboxStore
	logger *zap.Logger
}

func New(st store.OutboxStore, logger *zap.Logger) *Producer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Producer{store: st, logger: logger}
}

// Notify enqueues a notification and returns the new entry's id.
func (p *Producer) Notify(ctx context.Context, msg Message) (uuid.UUID, error) {
	entry, err := p.buildEntry(msg)
	if err != nil {
		return uuid.Nil, err
	}
	if err := p.store.Create(ctx, entry); err != nil {
		return uuid.Nil, fmt.Errorf("enqueue notification: %w", err)
	}
	p.logger.Debug("notification enqueued",
		zap.String("entry_id", entry.ID.String()),
		zap.String("type", string(entry.Type)))
	return entry.ID, nil
}

// NotifyTx enqueues a notification within the caller's transaction so the
// entry commits or rolls back together with the business mutation that
// triggered it. The entry only becomes visible to workers on commit.
func (p *Producer) NotifyTx(ctx context.Context, exec store.Executor, msg Message) (uuid.UUID, error) {
	creator, ok := p.store.(TxCreator)
	if !ok {
		return uuid.Nil, fmt.Errorf("store %T does not support transactional enqueue", p.store)
	}
	entry, err := p.buildEntry(msg)
	if err != nil {
		return uuid.Nil, err
	}
	if err := creator.CreateWithExecutor(ctx, exec, entry); err != nil {
		return uuid.Nil, fmt.Errorf("enqueue notification in transaction: %w", err)
	}
	return entry.ID, nil
}

// CancelFor cancels every still-pending notification that references the
// entity, e.g. when a registration is withdrawn before its reminder fires.
func (p *Producer) CancelFor(ctx context.Context, relatedEntityID uuid.UUID) (int64, error) {
	cancelled, err := p.store.CancelByRelatedEntity(ctx, relatedEntityID)
	if err != nil {
		return 0, fmt.Errorf("cancel notifications for entity: %w", err)
	}
	if cancelled > 0 {
		p.logger.Info("cancelled pending notifications",
			zap.String("related_entity_id", relatedEntityID.String()),
			zap.Int64("count", cancelled))
	}
	return cancelled, nil
}

func (p *Producer) buildEntry(msg Message) (*store.OutboxEntry, error) {
	if err := msg.validate(); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	entry := &store.OutboxEntry{
		ID:              uuid.New(),
		Type:            msg.Type,
		Status:          store.StatusPending,
		RelatedEntityID: msg.RelatedEntityID,
		Recipient:       msg.Recipient,
		Subject:         msg.Subject,
		Body:            msg.Body,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if msg.ScheduledAt != nil {
		scheduled := msg.ScheduledAt.UTC()
		entry.NextRetryAt = &scheduled
	}
	return entry, nil
}
