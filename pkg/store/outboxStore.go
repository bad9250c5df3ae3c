package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound indicates the entry does not exist.
	ErrNotFound = errors.New("outbox entry not found")
	// ErrLeaseLost indicates the caller no longer holds the entry's lease;
	// the outcome was discarded and the next claimer will retry the entry.
	ErrLeaseLost = errors.New("outbox lease lost")
	// ErrNotCancellable indicates the entry already left the pending state.
	ErrNotCancellable = errors.New("outbox entry is not cancellable")
	// ErrNotRequeueable indicates the entry is not dead-lettered.
	ErrNotRequeueable = errors.New("outbox entry is not requeueable")
	// ErrInvalidEntry indicates a malformed entry passed to Create.
	ErrInvalidEntry = errors.New("outbox entry is invalid")
)

// OutboxStore defines the persistence operations for outbox entries.
//
// ClaimDue is the sole concurrency-control primitive: it must atomically
// select due pending rows (oldest first, bounded by limit) and stamp them
// with the caller's lease so that no other worker can claim them until the
// lease expires. All outcome writes (MarkSent, Reschedule, MarkDead) are
// conditional on the caller still holding the lease and return ErrLeaseLost
// otherwise.
type OutboxStore interface {
	// Create persists a new entry. The entry must be pending.
	Create(ctx context.Context, entry *OutboxEntry) error
	// ClaimDue atomically leases up to limit due entries for ownerID.
	ClaimDue(ctx context.Context, ownerID string, limit int, leaseDuration time.Duration) ([]OutboxEntry, error)
	// GetByID fetches a single entry.
	GetByID(ctx context.Context, id uuid.UUID) (*OutboxEntry, error)
	// MarkSent records a successful delivery and persists the rendered body.
	MarkSent(ctx context.Context, id uuid.UUID, ownerID string, body string) error
	// Reschedule returns a transiently failed entry to pending with an
	// updated retry count, backoff deadline and last error.
	Reschedule(ctx context.Context, id uuid.UUID, ownerID string, lastError string, nextRetryAt time.Time, retryCount int) error
	// MarkDead dead-letters an entry (permanent failure or retries exhausted).
	MarkDead(ctx context.Context, id uuid.UUID, ownerID string, lastError string, retryCount int) error
	// Cancel moves a still-pending entry to cancelled.
	Cancel(ctx context.Context, id uuid.UUID) error
	// CancelByRelatedEntity cancels all pending entries referencing the
	// entity and reports how many were cancelled.
	CancelByRelatedEntity(ctx context.Context, relatedEntityID uuid.UUID) (int64, error)
	// Requeue returns a dead-lettered entry to pending with a zeroed retry
	// count. Operator surface only; the worker never calls it.
	Requeue(ctx context.Context, id uuid.UUID) error
	// ListDeadLettered returns dead-lettered entries, most recent first.
	ListDeadLettered(ctx context.Context, limit int) ([]OutboxEntry, error)
}

// Executor allows creating entries within an existing transaction so the
// outbox write commits atomically with the triggering business mutation.
type Executor interface {
	// ExecContext executes a statement with the provided context.
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}
