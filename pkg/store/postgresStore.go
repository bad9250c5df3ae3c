package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
)

const outboxColumns = "id, type, status, related_entity_id, recipient, subject, body, " +
	"retry_count, last_error, next_retry_at, lease_owner, lease_expires_at, created_at, updated_at"

// PostgresStore persists outbox entries in PostgreSQL using database/sql.
type PostgresStore struct {
	Db *sql.DB
}

var _ OutboxStore = (*PostgresStore)(nil)

// Create inserts a new pending entry using the store's own connection.
func (p *PostgresStore) Create(ctx context.Context, entry *OutboxEntry) error {
	return p.CreateWithExecutor(ctx, p.Db, entry)
}

// CreateWithExecutor inserts a new pending entry through the provided
// executor, typically the business transaction that triggered it.
func (p *PostgresStore) CreateWithExecutor(ctx context.Context, exec Executor, entry *OutboxEntry) error {
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

	_, err := exec.ExecContext(ctx,
		`INSERT INTO notification_outbox
         (id, type, status, related_entity_id, recipient, subject, body, retry_count, last_error, next_retry_at, created_at, updated_at)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		entry.ID.String(), entry.Type, entry.Status, related, entry.Recipient,
		entry.Subject, entry.Body, entry.RetryCount, entry.LastError,
		nextRetryAt, entry.CreatedAt, entry.UpdatedAt)
	if err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// ClaimDue selects due pending rows oldest-first with FOR UPDATE SKIP LOCKED
// and stamps them with the caller's lease in the same transaction. A row
// whose lease expired counts as due again, which is what turns an abandoned
// claim back into deliverable work.
func (p *PostgresStore) ClaimDue(ctx context.Context, ownerID string, limit int, leaseDuration time.Duration) ([]OutboxEntry, error) {
	var entries []OutboxEntry
	err := p.withTransaction(ctx, "ClaimDue", func(ctx context.Context, tx *sql.Tx) (int, error) {
		now := time.Now().UTC()
		rows, err := tx.QueryContext(ctx,
			`SELECT `+outboxColumns+` FROM notification_outbox
             WHERE status = $1
               AND (next_retry_at IS NULL OR next_retry_at <= $2)
               AND (lease_expires_at IS NULL OR lease_expires_at <= $2)
             ORDER BY created_at ASC LIMIT $3 FOR UPDATE SKIP LOCKED`,
			StatusPending, now, limit)
		if err != nil {
			return 0, err
		}
		defer rows.Close()

		for rows.Next() {
			entry, err := scanEntry(rows)
			if err != nil {
				return 0, err
			}
			entries = append(entries, *entry)
		}
		if err := rows.Err(); err != nil {
			return 0, err
		}
		if len(entries) == 0 {
			return 0, nil
		}

		ids := make([]string, len(entries))
		expiry := now.Add(leaseDuration)
		for i := range entries {
			ids[i] = entries[i].ID.String()
			entries[i].LeaseOwner = ownerID
			entries[i].LeaseExpiresAt = &expiry
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE notification_outbox SET lease_owner=$1, lease_expires_at=$2, updated_at=$3 WHERE id = ANY($4)`,
			ownerID, expiry, now, pq.Array(ids))
		if err != nil {
			return 0, err
		}
		return len(entries), nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// GetByID fetches a single entry.
func (p *PostgresStore) GetByID(ctx context.Context, id uuid.UUID) (*OutboxEntry, error) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "GetByID")
	defer span.End()

	row := p.Db.QueryRowContext(ctx,
		`SELECT `+outboxColumns+` FROM notification_outbox WHERE id=$1`, id.String())
	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return entry, nil
}

// MarkSent finalizes a delivered entry. Conditional on the lease owner.
func (p *PostgresStore) MarkSent(ctx context.Context, id uuid.UUID, ownerID string, body string) error {
	return p.leaseGuardedUpdate(ctx, "MarkSent",
		`UPDATE notification_outbox
         SET status=$1, body=$2, next_retry_at=NULL, lease_owner=NULL, lease_expires_at=NULL, updated_at=$3
         WHERE id=$4 AND status=$5 AND lease_owner=$6`,
		StatusSent, body, time.Now().UTC(), id.String(), StatusPending, ownerID)
}

// Reschedule returns a transiently failed entry to pending with backoff
// state. Conditional on the lease owner.
func (p *PostgresStore) Reschedule(ctx context.Context, id uuid.UUID, ownerID string, lastError string, nextRetryAt time.Time, retryCount int) error {
	return p.leaseGuardedUpdate(ctx, "Reschedule",
		`UPDATE notification_outbox
         SET status=$1, retry_count=$2, next_retry_at=$3, last_error=$4, lease_owner=NULL, lease_expires_at=NULL, updated_at=$5
         WHERE id=$6 AND status=$7 AND lease_owner=$8`,
		StatusPending, retryCount, nextRetryAt, truncateError(lastError),
		time.Now().UTC(), id.String(), StatusPending, ownerID)
}

// MarkDead dead-letters an entry. Conditional on the lease owner.
func (p *PostgresStore) MarkDead(ctx context.Context, id uuid.UUID, ownerID string, lastError string, retryCount int) error {
	return p.leaseGuardedUpdate(ctx, "MarkDead",
		`UPDATE notification_outbox
         SET status=$1, retry_count=$2, next_retry_at=NULL, last_error=$3, lease_owner=NULL, lease_expires_at=NULL, updated_at=$4
         WHERE id=$5 AND status=$6 AND lease_owner=$7`,
		StatusFailed, retryCount, truncateError(lastError),
		time.Now().UTC(), id.String(), StatusPending, ownerID)
}

// Cancel moves a still-pending entry to cancelled. A claim that commits
// first wins the race; the worker re-checks status after claiming, so a
// cancel that commits first wins too.
func (p *PostgresStore) Cancel(ctx context.Context, id uuid.UUID) error {
	return p.withTransaction(ctx, "Cancel", func(ctx context.Context, tx *sql.Tx) (int, error) {
		res, err := tx.ExecContext(ctx,
			`UPDATE notification_outbox
             SET status=$1, lease_owner=NULL, lease_expires_at=NULL, updated_at=$2
             WHERE id=$3 AND status=$4`,
			StatusCancelled, time.Now().UTC(), id.String(), StatusPending)
		if err != nil {
			return 0, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		if affected == 0 {
			var one int
			err := tx.QueryRowContext(ctx,
				`SELECT 1 FROM notification_outbox WHERE id=$1`, id.String()).Scan(&one)
			if err == sql.ErrNoRows {
				return 0, ErrNotFound
			}
			if err != nil {
				return 0, err
			}
			return 0, ErrNotCancellable
		}
		return int(affected), nil
	})
}

// CancelByRelatedEntity cancels every pending entry referencing the entity.
func (p *PostgresStore) CancelByRelatedEntity(ctx context.Context, relatedEntityID uuid.UUID) (int64, error) {
	var affected int64
	err := p.withTransaction(ctx, "CancelByRelatedEntity", func(ctx context.Context, tx *sql.Tx) (int, error) {
		res, err := tx.ExecContext(ctx,
			`UPDATE notification_outbox
             SET status=$1, lease_owner=NULL, lease_expires_at=NULL, updated_at=$2
             WHERE related_entity_id=$3 AND status=$4`,
			StatusCancelled, time.Now().UTC(), relatedEntityID.String(), StatusPending)
		if err != nil {
			return 0, err
		}
		affected, err = res.RowsAffected()
		if err != nil {
			return 0, err
		}
		return int(affected), nil
	})
	return affected, err
}

// Requeue returns a dead-lettered entry to pending with a fresh retry budget.
func (p *PostgresStore) Requeue(ctx context.Context, id uuid.UUID) error {
	return p.withTransaction(ctx, "Requeue", func(ctx context.Context, tx *sql.Tx) (int, error) {
		res, err := tx.ExecContext(ctx,
			`UPDATE notification_outbox
             SET status=$1, retry_count=0, next_retry_at=NULL, last_error='', lease_owner=NULL, lease_expires_at=NULL, updated_at=$2
             WHERE id=$3 AND status=$4`,
			StatusPending, time.Now().UTC(), id.String(), StatusFailed)
		if err != nil {
			return 0, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		if affected == 0 {
			return 0, ErrNotRequeueable
		}
		return int(affected), nil
	})
}

// ListDeadLettered returns dead-lettered entries, most recent failure first.
func (p *PostgresStore) ListDeadLettered(ctx context.Context, limit int) ([]OutboxEntry, error) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "ListDeadLettered")
	defer span.End()

	rows, err := p.Db.QueryContext(ctx,
		`SELECT `+outboxColumns+` FROM notification_outbox
         WHERE status=$1 ORDER BY updated_at DESC LIMIT $2`,
		StatusFailed, limit)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	defer rows.Close()

	var entries []OutboxEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

func (p *PostgresStore) leaseGuardedUpdate(ctx context.Context, spanName, query string, args ...any) error {
	return p.withTransaction(ctx, spanName, func(ctx context.Context, tx *sql.Tx) (int, error) {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return 0, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		if affected == 0 {
			return 0, ErrLeaseLost
		}
		return int(affected), nil
	})
}

func (p *PostgresStore) withTransaction(ctx context.Context, spanName string, fn func(ctx context.Context, tx *sql.Tx) (int, error)) error {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, spanName)
	defer span.End()

	start := time.Now()

	tx, err := p.Db.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		return err
	}

	count, err := fn(ctx, tx)
	if err != nil {
		span.RecordError(err)
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		return err
	}

	addDBStatsToSpan(span, "postgresql", spanName, count, time.Since(start))
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*OutboxEntry, error) {
	var (
		entry       OutboxEntry
		id          string
		related     sql.NullString
		nextRetryAt sql.NullTime
		leaseOwner  sql.NullString
		leaseExpiry sql.NullTime
	)
	err := row.Scan(&id, &entry.Type, &entry.Status, &related, &entry.Recipient,
		&entry.Subject, &entry.Body, &entry.RetryCount, &entry.LastError,
		&nextRetryAt, &leaseOwner, &leaseExpiry, &entry.CreatedAt, &entry.UpdatedAt)
	if err != nil {
		return nil, err
	}

	entry.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, err
	}
	if related.Valid {
		parsed, err := uuid.Parse(related.String)
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
		entry.LeaseOwner = leaseOwner.String
	}
	if leaseExpiry.Valid {
		t := leaseExpiry.Time
		entry.LeaseExpiresAt = &t
	}
	return &entry, nil
}
