package store

import (
	"context"
	"time"

	"cloud.google.com/go/spanner"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"google.golang.org/api/iterator"
)

// SpannerStore persists outbox entries in Cloud Spanner. The claim runs
// inside a single read-write transaction, which gives the same per-row
// exclusivity the Postgres backend gets from FOR UPDATE SKIP LOCKED.
type SpannerStore struct {
	client *spanner.Client
}

var _ OutboxStore = (*SpannerStore)(nil)

func NewSpannerStore(client *spanner.Client) *SpannerStore {
	return &SpannerStore{client: client}
}

func (s *SpannerStore) Create(ctx context.Context, entry *OutboxEntry) error {
	if err := entry.Validate(); err != nil {
		return err
	}

	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "Create")
	defer span.End()

	var related any
	if entry.RelatedEntityID != nil {
		related = entry.RelatedEntityID.String()
	}
	var nextRetryAt any
	if entry.NextRetryAt != nil {
		nextRetryAt = *entry.NextRetryAt
	}

	_, err := s.client.ReadWriteTransaction(ctx, func(ctx context.Context, txn *spanner.ReadWriteTransaction) error {
		stmt := spanner.Statement{
			SQL: `INSERT INTO notification_outbox
                  (id, type, status, related_entity_id, recipient, subject, body, retry_count, last_error, next_retry_at, created_at, updated_at)
                  VALUES (@id, @type, @status, @related, @recipient, @subject, @body, @retryCount, @lastError, @nextRetryAt, @createdAt, @updatedAt)`,
			Params: map[string]interface{}{
				"id":          entry.ID.String(),
				"type":        string(entry.Type),
				"status":      string(entry.Status),
				"related":     related,
				"recipient":   entry.Recipient,
				"subject":     entry.Subject,
				"body":        entry.Body,
				"retryCount":  int64(entry.RetryCount),
				"lastError":   entry.LastError,
				"nextRetryAt": nextRetryAt,
				"createdAt":   entry.CreatedAt,
				"updatedAt":   entry.UpdatedAt,
			},
		}
		_, err := txn.Update(ctx, stmt)
		return err
	})
	if err != nil {
		span.RecordError(err)
	}
	return err
}

func (s *SpannerStore) ClaimDue(ctx context.Context, ownerID string, limit int, leaseDuration time.Duration) ([]OutboxEntry, error) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "ClaimDue")
	defer span.End()

	start := time.Now()

	var entries []OutboxEntry
	_, err := s.client.ReadWriteTransaction(ctx, func(ctx context.Context, txn *spanner.ReadWriteTransaction) error {
		entries = entries[:0]
		now := time.Now().UTC()
		expiry := now.Add(leaseDuration)

		stmt := spanner.Statement{
			SQL: `SELECT id, type, status, related_entity_id, recipient, subject, body, retry_count, last_error, next_retry_at, lease_owner, lease_expires_at, created_at, updated_at
                  FROM notification_outbox
                  WHERE status = @pending
                    AND (next_retry_at IS NULL OR next_retry_at <= @now)
                    AND (lease_expires_at IS NULL OR lease_expires_at <= @now)
                  ORDER BY created_at ASC LIMIT @limit`,
			Params: map[string]interface{}{
				"pending": string(StatusPending),
				"now":     now,
				"limit":   int64(limit),
			},
		}

		iter := txn.Query(ctx, stmt)
		defer iter.Stop()
		for {
			row, err := iter.Next()
			if err == iterator.Done {
				break
			}
			if err != nil {
				return err
			}
			entry, err := scanSpannerRow(row)
			if err != nil {
				return err
			}
			entries = append(entries, *entry)
		}
		if len(entries) == 0 {
			return nil
		}

		ids := make([]string, len(entries))
		for i := range entries {
			ids[i] = entries[i].ID.String()
			entries[i].LeaseOwner = ownerID
			entries[i].LeaseExpiresAt = &expiry
		}

		_, err := txn.Update(ctx, spanner.Statement{
			SQL: `UPDATE notification_outbox
                  SET lease_owner = @owner, lease_expires_at = @expiry, updated_at = @now
                  WHERE id IN UNNEST(@ids)`,
			Params: map[string]interface{}{
				"owner":  ownerID,
				"expiry": expiry,
				"now":    now,
				"ids":    ids,
			},
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	addDBStatsToSpan(span, "spanner", "ClaimDue", len(entries), time.Since(start))
	return entries, nil
}

func (s *SpannerStore) GetByID(ctx context.Context, id uuid.UUID) (*OutboxEntry, error) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "GetByID")
	defer span.End()

	stmt := spanner.Statement{
		SQL: `SELECT id, type, status, related_entity_id, recipient, subject, body, retry_count, last_error, next_retry_at, lease_owner, lease_expires_at, created_at, updated_at
              FROM notification_outbox WHERE id = @id`,
		Params: map[string]interface{}{"id": id.String()},
	}

	iter := s.client.Single().Query(ctx, stmt)
	defer iter.Stop()

	row, err := iter.Next()
	if err == iterator.Done {
		return nil, ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return scanSpannerRow(row)
}

func (s *SpannerStore) MarkSent(ctx context.Context, id uuid.UUID, ownerID string, body string) error {
	return s.leaseGuardedUpdate(ctx, "MarkSent", spanner.Statement{
		SQL: `UPDATE notification_outbox
              SET status = @sent, body = @body, next_retry_at = NULL, lease_owner = NULL, lease_expires_at = NULL, updated_at = CURRENT_TIMESTAMP()
              WHERE id = @id AND status = @pending AND lease_owner = @owner`,
		Params: map[string]interface{}{
			"sent":    string(StatusSent),
			"body":    body,
			"id":      id.String(),
			"pending": string(StatusPending),
			"owner":   ownerID,
		},
	})
}

func (s *SpannerStore) Reschedule(ctx context.Context, id uuid.UUID, ownerID string, lastError string, nextRetryAt time.Time, retryCount int) error {
	return s.leaseGuardedUpdate(ctx, "Reschedule", spanner.Statement{
		SQL: `UPDATE notification_outbox
              SET status = @pending, retry_count = @retryCount, next_retry_at = @nextRetryAt, last_error = @lastError,
                  lease_owner = NULL, lease_expires_at = NULL, updated_at = CURRENT_TIMESTAMP()
              WHERE id = @id AND status = @pending AND lease_owner = @owner`,
		Params: map[string]interface{}{
			"pending":     string(StatusPending),
			"retryCount":  int64(retryCount),
			"nextRetryAt": nextRetryAt,
			"lastError":   truncateError(lastError),
			"id":          id.String(),
			"owner":       ownerID,
		},
	})
}

func (s *SpannerStore) MarkDead(ctx context.Context, id uuid.UUID, ownerID string, lastError string, retryCount int) error {
	return s.leaseGuardedUpdate(ctx, "MarkDead", spanner.Statement{
		SQL: `UPDATE notification_outbox
              SET status = @failed, retry_count = @retryCount, next_retry_at = NULL, last_error = @lastError,
                  lease_owner = NULL, lease_expires_at = NULL, updated_at = CURRENT_TIMESTAMP()
              WHERE id = @id AND status = @pending AND lease_owner = @owner`,
		Params: map[string]interface{}{
			"failed":     string(StatusFailed),
			"retryCount": int64(retryCount),
			"lastError":  truncateError(lastError),
			"id":         id.String(),
			"pending":    string(StatusPending),
			"owner":      ownerID,
		},
	})
}

func (s *SpannerStore) Cancel(ctx context.Context, id uuid.UUID) error {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "Cancel")
	defer span.End()

	var affected int64
	_, err := s.client.ReadWriteTransaction(ctx, func(ctx context.Context, txn *spanner.ReadWriteTransaction) error {
		var err error
		affected, err = txn.Update(ctx, spanner.Statement{
			SQL: `UPDATE notification_outbox
                  SET status = @cancelled, lease_owner = NULL, lease_expires_at = NULL, updated_at = CURRENT_TIMESTAMP()
                  WHERE id = @id AND status = @pending`,
			Params: map[string]interface{}{
				"cancelled": string(StatusCancelled),
				"id":        id.String(),
				"pending":   string(StatusPending),
			},
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		return err
	}
	if affected == 0 {
		if _, err := s.GetByID(ctx, id); err != nil {
			return err
		}
		return ErrNotCancellable
	}
	return nil
}

func (s *SpannerStore) CancelByRelatedEntity(ctx context.Context, relatedEntityID uuid.UUID) (int64, error) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "CancelByRelatedEntity")
	defer span.End()

	var affected int64
	_, err := s.client.ReadWriteTransaction(ctx, func(ctx context.Context, txn *spanner.ReadWriteTransaction) error {
		var err error
		affected, err = txn.Update(ctx, spanner.Statement{
			SQL: `UPDATE notification_outbox
                  SET status = @cancelled, lease_owner = NULL, lease_expires_at = NULL, updated_at = CURRENT_TIMESTAMP()
                  WHERE related_entity_id = @related AND status = @pending`,
			Params: map[string]interface{}{
				"cancelled": string(StatusCancelled),
				"related":   relatedEntityID.String(),
				"pending":   string(StatusPending),
			},
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	return affected, nil
}

func (s *SpannerStore) Requeue(ctx context.Context, id uuid.UUID) error {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "Requeue")
	defer span.End()

	var affected int64
	_, err := s.client.ReadWriteTransaction(ctx, func(ctx context.Context, txn *spanner.ReadWriteTransaction) error {
		var err error
		affected, err = txn.Update(ctx, spanner.Statement{
			SQL: `UPDATE notification_outbox
                  SET status = @pending, retry_count = 0, next_retry_at = NULL, last_error = '',
                      lease_owner = NULL, lease_expires_at = NULL, updated_at = CURRENT_TIMESTAMP()
                  WHERE id = @id AND status = @failed`,
			Params: map[string]interface{}{
				"pending": string(StatusPending),
				"id":      id.String(),
				"failed":  string(StatusFailed),
			},
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		return err
	}
	if affected == 0 {
		return ErrNotRequeueable
	}
	return nil
}

func (s *SpannerStore) ListDeadLettered(ctx context.Context, limit int) ([]OutboxEntry, error) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "ListDeadLettered")
	defer span.End()

	stmt := spanner.Statement{
		SQL: `SELECT id, type, status, related_entity_id, recipient, subject, body, retry_count, last_error, next_retry_at, lease_owner, lease_expires_at, created_at, updated_at
              FROM notification_outbox WHERE status = @failed
              ORDER BY updated_at DESC LIMIT @limit`,
		Params: map[string]interface{}{
			"failed": string(StatusFailed),
			"limit":  int64(limit),
		},
	}

	iter := s.client.Single().Query(ctx, stmt)
	defer iter.Stop()

	var entries []OutboxEntry
	for {
		row, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		entry, err := scanSpannerRow(row)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, nil
}

func (s *SpannerStore) leaseGuardedUpdate(ctx context.Context, spanName string, stmt spanner.Statement) error {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, spanName)
	defer span.End()

	_, err := s.client.ReadWriteTransaction(ctx, func(ctx context.Context, txn *spanner.ReadWriteTransaction) error {
		affected, err := txn.Update(ctx, stmt)
		if err != nil {
			return err
		}
		if affected == 0 {
			return ErrLeaseLost
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
	}
	return err
}

func scanSpannerRow(row *spanner.Row) (*OutboxEntry, error) {
	var (
		entry       OutboxEntry
		id          string
		typ         string
		status      string
		related     spanner.NullString
		retryCount  int64
		nextRetryAt spanner.NullTime
		leaseOwner  spanner.NullString
		leaseExpiry spanner.NullTime
	)
	err := row.Columns(&id, &typ, &status, &related, &entry.Recipient,
		&entry.Subject, &entry.Body, &retryCount, &entry.LastError,
		&nextRetryAt, &leaseOwner, &leaseExpiry, &entry.CreatedAt, &entry.UpdatedAt)
	if err != nil {
		return nil, err
	}

	entry.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, err
	}
	entry.Type = MessageType(typ)
	entry.Status = Status(status)
	entry.RetryCount = int(retryCount)
	if related.Valid {
		parsed, err := uuid.Parse(related.StringVal)
		if err != nil {
			return nil, err
		}
		entry.RelatedEntityID = &parsed
	}
	if nextRetryAt.Valid {
		t := nextRetryAt.Time
		entry.NextRetryAt = &t
	}
	if leaseOwner.Valid {
		entry.LeaseOwner = leaseOwner.StringVal
	}
	if leaseExpiry.Valid {
		t := leaseExpiry.Time
		entry.LeaseExpiresAt = &t
	}
	return &entry, nil
}
