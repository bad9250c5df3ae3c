package producer

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventra/notify-outbox/pkg/store"
)

// fakeStore records created entries; unimplemented methods panic via the
// embedded nil interface, which is fine because the producer never calls
// them.
type fakeStore struct {
	store.OutboxStore
	created   []*store.OutboxEntry
	txCreated []*store.OutboxEntry
	cancelled []uuid.UUID
}

func (f *fakeStore) Create(_ context.Context, entry *store.OutboxEntry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	f.created = append(f.created, entry)
	return nil
}

func (f *fakeStore) CreateWithExecutor(_ context.Context, _ store.Executor, entry *store.OutboxEntry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	f.txCreated = append(f.txCreated, entry)
	return nil
}

func (f *fakeStore) CancelByRelatedEntity(_ context.Context, relatedEntityID uuid.UUID) (int64, error) {
	f.cancelled = append(f.cancelled, relatedEntityID)
	return 2, nil
}

func TestNotify(t *testing.T) {
	st := &fakeStore{}
	p := New(st, nil)
	related := uuid.New()

	id, err := p.Notify(context.Background(), Message{
		Type:            store.TypeRegistrationConfirmation,
		RelatedEntityID: &related,
		Recipient:       "ada@example.com",
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, id)

	require.Len(t, st.created, 1)
	entry := st.created[0]
	assert.Equal(t, id, entry.ID)
	assert.Equal(t, store.StatusPending, entry.Status)
	assert.Equal(t, store.TypeRegistrationConfirmation, entry.Type)
	assert.Equal(t, &related, entry.RelatedEntityID)
	assert.Equal(t, 0, entry.RetryCount)
	assert.Nil(t, entry.NextRetryAt, "unscheduled entries are due immediately")
	assert.Empty(t, entry.LeaseOwner)
}

func TestNotifyScheduled(t *testing.T) {
	st := &fakeStore{}
	p := New(st, nil)
	related := uuid.New()
	scheduledAt := time.Now().Add(24 * time.Hour)

	_, err := p.Notify(context.Background(), Message{
		Type:            store.TypeReminder,
		RelatedEntityID: &related,
		Recipient:       "ada@example.com",
		ScheduledAt:     &scheduledAt,
	})
	require.NoError(t, err)

	require.Len(t, st.created, 1)
	require.NotNil(t, st.created[0].NextRetryAt)
	assert.Equal(t, scheduledAt.UTC(), *st.created[0].NextRetryAt)
}

func TestNotifyPresetBodyNeedsNoEntity(t *testing.T) {
	st := &fakeStore{}
	p := New(st, nil)

	_, err := p.Notify(context.Background(), Message{
		Type:      store.TypeSystemNotification,
		Recipient: "ops@example.com",
		Subject:   "Maintenance window",
		Body:      "Tonight at 22:00 UTC.",
	})
	require.NoError(t, err)
	require.Len(t, st.created, 1)
	assert.Equal(t, "Tonight at 22:00 UTC.", st.created[0].Body)
}

func TestNotifyValidation(t *testing.T) {
	st := &fakeStore{}
	p := New(st, nil)
	related := uuid.New()

	cases := []struct {
		name string
		msg  Message
	}{
		{"unknown type", Message{Type: "carrier_pigeon", Recipient: "x@example.com", RelatedEntityID: &related}},
		{"missing recipient", Message{Type: store.TypeWelcome, RelatedEntityID: &related}},
		{"no body and no entity", Message{Type: store.TypeWelcome, Recipient: "x@example.com"}},
		{"ticket without entity", Message{Type: store.TypeTicketDelivery, Recipient: "x@example.com", Body: "preset"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			id, err := p.Notify(context.Background(), tc.msg)
			assert.ErrorIs(t, err, ErrInvalidMessage)
			assert.Equal(t, uuid.Nil, id)
			assert.Empty(t, st.created)
		})
	}
}

func TestNotifyTx(t *testing.T) {
	st := &fakeStore{}
	p := New(st, nil)
	related := uuid.New()

	id, err := p.NotifyTx(context.Background(), nil, Message{
		Type:            store.TypeCancellation,
		RelatedEntityID: &related,
		Recipient:       "ada@example.com",
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, id)
	assert.Empty(t, st.created, "transactional enqueue bypasses the pool connection")
	require.Len(t, st.txCreated, 1)
	assert.Equal(t, id, st.txCreated[0].ID)
}

type plainStore struct {
	store.OutboxStore
}

func TestNotifyTxRequiresTxCreator(t *testing.T) {
	p := New(&plainStore{}, nil)
	related := uuid.New()

	_, err := p.NotifyTx(context.Background(), nil, Message{
		Type:            store.TypeWelcome,
		RelatedEntityID: &related,
		Recipient:       "ada@example.com",
	})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "does not support transactional enqueue")
}

func TestCancelFor(t *testing.T) {
	st := &fakeStore{}
	p := New(st, nil)
	related := uuid.New()

	cancelled, err := p.CancelFor(context.Background(), related)
	require.NoError(t, err)
	assert.Equal(t, int64(2), cancelled)
	require.Len(t, st.cancelled, 1)
	assert.Equal(t, related, st.cancelled[0])
}
