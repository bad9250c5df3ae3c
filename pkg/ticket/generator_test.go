package ticket

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventra/notify-outbox/pkg/store"
	"github.com/eventra/notify-outbox/pkg/transport"
)

type fixtureSource struct {
	data map[uuid.UUID]*TicketData
	err  error
}

func (s fixtureSource) Ticket(_ context.Context, relatedEntityID uuid.UUID) (*TicketData, error) {
	if s.err != nil {
		return nil, s.err
	}
	data, ok := s.data[relatedEntityID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTicketNotFound, relatedEntityID)
	}
	return data, nil
}

func testTicket() (*TicketData, uuid.UUID) {
	return &TicketData{
		TicketID:     uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8"),
		EventName:    "GopherConf",
		AttendeeName: "Ada Lovelace",
		Venue:        "Main Hall",
		Seat:         "A-12",
		EventDate:    time.Date(2025, 9, 5, 9, 0, 0, 0, time.UTC),
	}, uuid.MustParse("00000000-0000-0000-0000-000000000001")
}

func newTestGenerator(source DataSource) *Generator {
	return NewGenerator(source, "test-secret", "eventra")
}

func TestGenerateTicketAttachments(t *testing.T) {
	data, registrationID := testTicket()
	g := newTestGenerator(fixtureSource{data: map[uuid.UUID]*TicketData{registrationID: data}})

	attachments, err := g.Generate(context.Background(), store.TypeTicketDelivery, registrationID)
	require.NoError(t, err)
	require.Len(t, attachments, 2)

	pdf := attachments[0]
	assert.Equal(t, fmt.Sprintf("ticket-%s.pdf", data.TicketID), pdf.Name)
	assert.Equal(t, "application/pdf", pdf.ContentType)
	assert.True(t, len(pdf.Content) > 0)
	assert.Equal(t, "%PDF", string(pdf.Content[:4]))

	png := attachments[1]
	assert.Equal(t, fmt.Sprintf("ticket-%s-qr.png", data.TicketID), png.Name)
	assert.Equal(t, "image/png", png.ContentType)
	assert.Equal(t, "\x89PNG", string(png.Content[:4]))
}

func TestGenerateIsDeterministic(t *testing.T) {
	data, registrationID := testTicket()
	g := newTestGenerator(fixtureSource{data: map[uuid.UUID]*TicketData{registrationID: data}})

	first, err := g.Generate(context.Background(), store.TypeTicketDelivery, registrationID)
	require.NoError(t, err)
	second, err := g.Generate(context.Background(), store.TypeTicketDelivery, registrationID)
	require.NoError(t, err)

	// A retried delivery must attach the exact same ticket bytes.
	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].Name, second[i].Name)
		assert.Equal(t, first[i].Content, second[i].Content)
	}
}

func TestGenerateNonTicketTypeYieldsNothing(t *testing.T) {
	g := newTestGenerator(fixtureSource{err: errors.New("source must not be called")})

	attachments, err := g.Generate(context.Background(), store.TypeReminder, uuid.New())
	assert.NoError(t, err)
	assert.Nil(t, attachments)
}

func TestGenerateMissingTicketIsPermanent(t *testing.T) {
	g := newTestGenerator(fixtureSource{})

	_, err := g.Generate(context.Background(), store.TypeTicketDelivery, uuid.New())
	require.Error(t, err)
	assert.True(t, transport.IsPermanent(err))
	assert.ErrorIs(t, err, ErrTicketNotFound)
}

func TestGenerateVoidedTicketIsPermanent(t *testing.T) {
	g := newTestGenerator(fixtureSource{err: fmt.Errorf("%w: refunded", ErrTicketVoided)})

	_, err := g.Generate(context.Background(), store.TypeTicketDelivery, uuid.New())
	require.Error(t, err)
	assert.True(t, transport.IsPermanent(err))
	assert.ErrorIs(t, err, ErrTicketVoided)
}

func TestGenerateSourceOutageIsTransient(t *testing.T) {
	g := newTestGenerator(fixtureSource{err: errors.New("connection reset")})

	_, err := g.Generate(context.Background(), store.TypeTicketDelivery, uuid.New())
	require.Error(t, err)
	assert.False(t, transport.IsPermanent(err))
}

func TestReferenceCodeFormat(t *testing.T) {
	g := newTestGenerator(fixtureSource{})
	code := g.ReferenceCode(uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8"))

	assert.Regexp(t, regexp.MustCompile(`^[A-Z2-7]{4}-[A-Z2-7]{4}-[A-Z2-7]{4}$`), code)
}

func TestReferenceCodeDeterministic(t *testing.T) {
	g := newTestGenerator(fixtureSource{})
	id := uuid.New()

	assert.Equal(t, g.ReferenceCode(id), g.ReferenceCode(id))
	assert.NotEqual(t, g.ReferenceCode(id), g.ReferenceCode(uuid.New()))
}

func TestReferenceCodeDependsOnSecret(t *testing.T) {
	id := uuid.New()
	a := NewGenerator(fixtureSource{}, "secret-a", "eventra")
	b := NewGenerator(fixtureSource{}, "secret-b", "eventra")

	assert.NotEqual(t, a.ReferenceCode(id), b.ReferenceCode(id))
}
