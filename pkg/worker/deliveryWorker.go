package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/eventra/notify-outbox/pkg/config"
	"github.com/eventra/notify-outbox/pkg/store"
	"github.com/eventra/notify-outbox/pkg/transport"
)

const tracerName = "notify-outbox"

// Renderer produces the subject and body for an entry.
type Renderer interface {
	Render(ctx context.Context, entry store.OutboxEntry) (subject string, body string, err error)
}

// AttachmentGenerator produces the attachments for an entry, if its type
// carries any.
type AttachmentGenerator interface {
	Generate(ctx context.Context, msgType store.MessageType, relatedEntityID uuid.UUID) ([]store.Attachment, error)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Config tunes a DeliveryWorker.
type Config struct {
	PollInterval  time.Duration
	BatchSize     int
	Parallelism   int
	LeaseDuration time.Duration
	MaxRetries    int
	RetryBase     time.Duration
	RetryCap      time.Duration
	SendTimeout   time.Duration
}

// ConfigFromSettings maps the loaded worker settings onto a Config.
func ConfigFromSettings(s config.WorkerSettings) Config {
	return Config{
		PollInterval:  s.PollInterval,
		BatchSize:     s.BatchSize,
		Parallelism:   s.Parallelism,
		LeaseDuration: s.LeaseDuration,
		MaxRetries:    s.MaxRetries,
		RetryBase:     s.RetryBase,
		RetryCap:      s.RetryCap,
		SendTimeout:   s.SendTimeout,
	}
}

// DeliveryWorker polls the outbox for due entries, renders and delivers
// them, and records each outcome. Multiple workers may run against the
// same store; the store's lease protocol keeps claimed entries exclusive.
type DeliveryWorker struct {
	store       store.OutboxStore
	renderer    Renderer
	attachments AttachmentGenerator
	transport   transport.Client
	cfg         Config
	ownerID     string
	clock       Clock
	logger      *zap.Logger
	tracer      trace.Tracer
}

// Option customises a DeliveryWorker.
type Option func(*DeliveryWorker)

// WithLogger sets the worker's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(w *DeliveryWorker) { w.logger = logger }
}

// WithClock overrides the wall clock.
func WithClock(clock Clock) Option {
	return func(w *DeliveryWorker) { w.clock = clock }
}

// WithOwnerID overrides the generated lease owner id.
func WithOwnerID(ownerID string) Option {
	return func(w *DeliveryWorker) { w.ownerID = ownerID }
}

func New(st store.OutboxStore, renderer Renderer, attachments AttachmentGenerator, client transport.Client, cfg Config, opts ...Option) *DeliveryWorker {
	w := &DeliveryWorker{
		store:       st,
		renderer:    renderer,
		attachments: attachments,
		transport:   client,
		cfg:         cfg,
		ownerID:     "worker-" + uuid.NewString(),
		clock:       systemClock{},
		logger:      zap.NewNop(),
		tracer:      otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// OwnerID returns the lease owner identity the worker claims entries with.
func (w *DeliveryWorker) OwnerID() string { return w.ownerID }

// Run polls the store until ctx is cancelled. It processes one batch
// immediately so a restart drains the backlog without waiting a full tick.
func (w *DeliveryWorker) Run(ctx context.Context) error {
	w.logger.Info("delivery worker started",
		zap.String("owner_id", w.ownerID),
		zap.Duration("poll_interval", w.cfg.PollInterval),
		zap.Int("batch_size", w.cfg.BatchSize))

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	w.ProcessBatch(ctx)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("delivery worker stopping", zap.String("owner_id", w.ownerID))
			return ctx.Err()
		case <-ticker.C:
			w.ProcessBatch(ctx)
		}
	}
}

// ProcessBatch claims one batch of due entries and processes them with
// bounded parallelism. It returns the number of entries claimed.
func (w *DeliveryWorker) ProcessBatch(ctx context.Context) int {
	entries, err := w.store.ClaimDue(ctx, w.ownerID, w.cfg.BatchSize, w.cfg.LeaseDuration)
	if err != nil {
		// No entry changed state; the next tick retries the claim.
		w.logger.Warn("failed to claim due entries", zap.Error(err))
		return 0
	}
	if len(entries) == 0 {
		return 0
	}

	w.logger.Debug("claimed batch", zap.Int("count", len(entries)))

	var g errgroup.Group
	g.SetLimit(w.cfg.Parallelism)
	for _, entry := range entries {
		entry := entry
		g.Go(func() error {
			w.process(ctx, entry)
			return nil
		})
	}
	// per-entry outcomes are recorded in the store, never returned
	_ = g.Wait()

	return len(entries)
}

func (w *DeliveryWorker) process(ctx context.Context, entry store.OutboxEntry) {
	ctx, span := w.tracer.Start(ctx, "DeliverOutboxEntry", trace.WithAttributes(
		attribute.String("outbox.entry_id", entry.ID.String()),
		attribute.String("outbox.type", string(entry.Type)),
		attribute.Int("outbox.retry_count", entry.RetryCount),
	))
	defer span.End()

	// A cancellation may have landed between the due scan and our lease.
	current, err := w.store.GetByID(ctx, entry.ID)
	if err != nil {
		w.logger.Warn("failed to re-check entry before delivery",
			zap.String("entry_id", entry.ID.String()), zap.Error(err))
		span.RecordError(err)
		return
	}
	if current.Status != store.StatusPending {
		span.SetAttributes(attribute.String("outbox.skipped_status", string(current.Status)))
		w.logger.Debug("skipping entry no longer pending",
			zap.String("entry_id", entry.ID.String()),
			zap.String("status", string(current.Status)))
		return
	}

	subject, body, attachments, err := w.prepare(ctx, entry)
	if err != nil {
		w.recordFailure(ctx, span, entry, err)
		return
	}

	msg := transport.Message{
		ID:          entry.ID.String(),
		Type:        entry.Type,
		Recipient:   entry.Recipient,
		Subject:     subject,
		Body:        body,
		Attachments: attachments,
	}

	sendCtx, cancel := context.WithTimeout(ctx, w.cfg.SendTimeout)
	err = w.transport.Send(sendCtx, msg)
	cancel()
	if err != nil {
		w.recordFailure(ctx, span, entry, err)
		return
	}

	if err := w.store.MarkSent(ctx, entry.ID, w.ownerID, body); err != nil {
		if errors.Is(err, store.ErrLeaseLost) {
			// The message left, but another worker may redeliver after the
			// lease expired. Downstream dedup on the entry id absorbs it.
			w.logger.Warn("lease lost after successful send",
				zap.String("entry_id", entry.ID.String()))
		} else {
			w.logger.Error("sent but failed to record outcome",
				zap.String("entry_id", entry.ID.String()), zap.Error(err))
		}
		span.RecordError(err)
		return
	}

	w.logger.Info("entry delivered",
		zap.String("entry_id", entry.ID.String()),
		zap.String("type", string(entry.Type)),
		zap.Int("attempts", entry.RetryCount+1))
}

func (w *DeliveryWorker) prepare(ctx context.Context, entry store.OutboxEntry) (string, string, []store.Attachment, error) {
	subject, body, err := w.renderer.Render(ctx, entry)
	if err != nil {
		return "", "", nil, fmt.Errorf("render entry: %w", err)
	}

	var attachments []store.Attachment
	if entry.Type.CarriesTicket() {
		if entry.RelatedEntityID == nil {
			return "", "", nil, transport.Permanent(
				fmt.Errorf("type %q requires a related entity for attachments", entry.Type))
		}
		attachments, err = w.attachments.Generate(ctx, entry.Type, *entry.RelatedEntityID)
		if err != nil {
			return "", "", nil, fmt.Errorf("generate attachments: %w", err)
		}
	}
	return subject, body, attachments, nil
}

// recordFailure applies the retry state machine: permanent failures and
// exhausted retries dead-letter the entry, anything else goes back to
// pending with exponential backoff.
func (w *DeliveryWorker) recordFailure(ctx context.Context, span trace.Span, entry store.OutboxEntry, cause error) {
	span.RecordError(cause)
	span.SetStatus(codes.Error, cause.Error())

	attempts := entry.RetryCount + 1

	var storeErr error
	switch {
	case transport.IsPermanent(cause):
		storeErr = w.store.MarkDead(ctx, entry.ID, w.ownerID, cause.Error(), attempts)
		w.logger.Warn("entry dead-lettered on permanent failure",
			zap.String("entry_id", entry.ID.String()),
			zap.Int("attempts", attempts),
			zap.Error(cause))
	case attempts >= w.cfg.MaxRetries:
		storeErr = w.store.MarkDead(ctx, entry.ID, w.ownerID, cause.Error(), attempts)
		w.logger.Warn("entry dead-lettered after exhausting retries",
			zap.String("entry_id", entry.ID.String()),
			zap.Int("attempts", attempts),
			zap.Error(cause))
	default:
		delay := nextRetryDelay(w.cfg.RetryBase, w.cfg.RetryCap, entry.RetryCount)
		nextRetryAt := w.clock.Now().Add(delay)
		storeErr = w.store.Reschedule(ctx, entry.ID, w.ownerID, cause.Error(), nextRetryAt, attempts)
		w.logger.Info("entry rescheduled",
			zap.String("entry_id", entry.ID.String()),
			zap.Int("attempts", attempts),
			zap.Duration("backoff", delay),
			zap.Error(cause))
	}

	if storeErr != nil {
		if errors.Is(storeErr, store.ErrLeaseLost) {
			w.logger.Warn("lease lost recording failure outcome",
				zap.String("entry_id", entry.ID.String()))
		} else {
			w.logger.Error("failed to record failure outcome",
				zap.String("entry_id", entry.ID.String()), zap.Error(storeErr))
		}
		span.RecordError(storeErr)
	}
}
