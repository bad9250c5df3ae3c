package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func entryColumns() []string {
	return []string{"id", "type", "status", "related_entity_id", "recipient", "subject", "body",
		"retry_count", "last_error", "next_retry_at", "lease_owner", "lease_expires_at", "created_at", "updated_at"}
}

func addEntryRow(rows *sqlmock.Rows, id uuid.UUID, msgType MessageType, retryCount int) *sqlmock.Rows {
	now := time.Now().UTC()
	return rows.AddRow(id.String(), msgType, StatusPending, nil, "someone@example.com",
		"", "", retryCount, "", nil, nil, nil, now, now)
}

func TestCreate(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	store := &PostgresStore{Db: db}
	entry := &OutboxEntry{
		ID:        uuid.New(),
		Type:      TypeWelcome,
		Status:    StatusPending,
		Recipient: "someone@example.com",
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}

	mock.ExpectExec(`INSERT INTO notification_outbox`).
		WithArgs(entry.ID.String(), entry.Type, StatusPending, nil, entry.Recipient,
			"", "", 0, "", nil, entry.CreatedAt, entry.UpdatedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = store.Create(context.Background(), entry)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRejectsInvalidEntry(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	store := &PostgresStore{Db: db}
	entry := &OutboxEntry{ID: uuid.New(), Type: TypeWelcome, Status: StatusSent, Recipient: "x@example.com"}

	err = store.Create(context.Background(), entry)
	assert.ErrorIs(t, err, ErrInvalidEntry)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimDue(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	store := &PostgresStore{Db: db}
	first := uuid.New()
	second := uuid.New()

	rows := sqlmock.NewRows(entryColumns())
	addEntryRow(rows, first, TypeReminder, 0)
	addEntryRow(rows, second, TypeWelcome, 2)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .* FROM notification_outbox\s+WHERE status = \$1`).
		WithArgs(StatusPending, sqlmock.AnyArg(), 5).
		WillReturnRows(rows)
	mock.ExpectExec(`UPDATE notification_outbox SET lease_owner=\$1, lease_expires_at=\$2, updated_at=\$3 WHERE id = ANY\(\$4\)`).
		WithArgs("worker-1", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	entries, err := store.ClaimDue(context.Background(), "worker-1", 5, 5*time.Minute)
	assert.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.Equal(t, first, entries[0].ID)
	assert.Equal(t, second, entries[1].ID)
	for _, e := range entries {
		assert.Equal(t, "worker-1", e.LeaseOwner)
		assert.NotNil(t, e.LeaseExpiresAt)
		assert.True(t, e.LeaseExpiresAt.After(time.Now().UTC().Add(4*time.Minute)))
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimDueEmpty(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	store := &PostgresStore{Db: db}

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .* FROM notification_outbox\s+WHERE status = \$1`).
		WithArgs(StatusPending, sqlmock.AnyArg(), 10).
		WillReturnRows(sqlmock.NewRows(entryColumns()))
	mock.ExpectCommit()

	entries, err := store.ClaimDue(context.Background(), "worker-1", 10, time.Minute)
	assert.NoError(t, err)
	assert.Empty(t, entries)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkSent(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	store := &PostgresStore{Db: db}
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(`SET status=\$1, body=\$2`).
		WithArgs(StatusSent, "rendered body", sqlmock.AnyArg(), id.String(), StatusPending, "worker-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = store.MarkSent(context.Background(), id, "worker-1", "rendered body")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkSentLeaseLost(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	store := &PostgresStore{Db: db}
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(`SET status=\$1, body=\$2`).
		WithArgs(StatusSent, "body", sqlmock.AnyArg(), id.String(), StatusPending, "worker-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err = store.MarkSent(context.Background(), id, "worker-1", "body")
	assert.ErrorIs(t, err, ErrLeaseLost)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReschedule(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	store := &PostgresStore{Db: db}
	id := uuid.New()
	nextRetryAt := time.Now().UTC().Add(time.Minute)

	mock.ExpectBegin()
	mock.ExpectExec(`SET status=\$1, retry_count=\$2, next_retry_at=\$3, last_error=\$4`).
		WithArgs(StatusPending, 3, nextRetryAt, "connection refused", sqlmock.AnyArg(), id.String(), StatusPending, "worker-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = store.Reschedule(context.Background(), id, "worker-1", "connection refused", nextRetryAt, 3)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkDead(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	store := &PostgresStore{Db: db}
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(`SET status=\$1, retry_count=\$2, next_retry_at=NULL, last_error=\$3`).
		WithArgs(StatusFailed, 5, "mailbox does not exist", sqlmock.AnyArg(), id.String(), StatusPending, "worker-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = store.MarkDead(context.Background(), id, "worker-1", "mailbox does not exist", 5)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancel(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	store := &PostgresStore{Db: db}
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(`SET status=\$1, lease_owner=NULL`).
		WithArgs(StatusCancelled, sqlmock.AnyArg(), id.String(), StatusPending).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = store.Cancel(context.Background(), id)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	store := &PostgresStore{Db: db}
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(`SET status=\$1, lease_owner=NULL`).
		WithArgs(StatusCancelled, sqlmock.AnyArg(), id.String(), StatusPending).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT 1 FROM notification_outbox WHERE id=\$1`).
		WithArgs(id.String()).
		WillReturnRows(sqlmock.NewRows([]string{"one"}))
	mock.ExpectRollback()

	err = store.Cancel(context.Background(), id)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelAlreadyDelivered(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	store := &PostgresStore{Db: db}
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(`SET status=\$1, lease_owner=NULL`).
		WithArgs(StatusCancelled, sqlmock.AnyArg(), id.String(), StatusPending).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT 1 FROM notification_outbox WHERE id=\$1`).
		WithArgs(id.String()).
		WillReturnRows(sqlmock.NewRows([]string{"one"}).AddRow(1))
	mock.ExpectRollback()

	err = store.Cancel(context.Background(), id)
	assert.ErrorIs(t, err, ErrNotCancellable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelByRelatedEntity(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	store := &PostgresStore{Db: db}
	entityID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(`WHERE related_entity_id=\$3 AND status=\$4`).
		WithArgs(StatusCancelled, sqlmock.AnyArg(), entityID.String(), StatusPending).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	cancelled, err := store.CancelByRelatedEntity(context.Background(), entityID)
	assert.NoError(t, err)
	assert.Equal(t, int64(3), cancelled)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRequeue(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	store := &PostgresStore{Db: db}
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(`SET status=\$1, retry_count=0`).
		WithArgs(StatusPending, sqlmock.AnyArg(), id.String(), StatusFailed).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = store.Requeue(context.Background(), id)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRequeueNotDeadLettered(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	store := &PostgresStore{Db: db}
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(`SET status=\$1, retry_count=0`).
		WithArgs(StatusPending, sqlmock.AnyArg(), id.String(), StatusFailed).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err = store.Requeue(context.Background(), id)
	assert.ErrorIs(t, err, ErrNotRequeueable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByID(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	store := &PostgresStore{Db: db}
	id := uuid.New()

	rows := sqlmock.NewRows(entryColumns())
	addEntryRow(rows, id, TypeTicketDelivery, 1)

	mock.ExpectQuery(`SELECT .* FROM notification_outbox WHERE id=\$1`).
		WithArgs(id.String()).
		WillReturnRows(rows)

	entry, err := store.GetByID(context.Background(), id)
	assert.NoError(t, err)
	assert.Equal(t, id, entry.ID)
	assert.Equal(t, TypeTicketDelivery, entry.Type)
	assert.Equal(t, 1, entry.RetryCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByIDNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	store := &PostgresStore{Db: db}
	id := uuid.New()

	mock.ExpectQuery(`SELECT .* FROM notification_outbox WHERE id=\$1`).
		WithArgs(id.String()).
		WillReturnRows(sqlmock.NewRows(entryColumns()))

	entry, err := store.GetByID(context.Background(), id)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Nil(t, entry)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListDeadLettered(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	store := &PostgresStore{Db: db}

	rows := sqlmock.NewRows(entryColumns())
	now := time.Now().UTC()
	rows.AddRow(uuid.NewString(), TypeReminder, StatusFailed, nil, "a@example.com",
		"", "", 5, "relay timed out", nil, nil, nil, now, now)

	mock.ExpectQuery(`WHERE status=\$1 ORDER BY updated_at DESC LIMIT \$2`).
		WithArgs(StatusFailed, 20).
		WillReturnRows(rows)

	entries, err := store.ListDeadLettered(context.Background(), 20)
	assert.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, StatusFailed, entries[0].Status)
	assert.Equal(t, "relay timed out", entries[0].LastError)
	assert.NoError(t, mock.ExpectationsWereMet())
}
