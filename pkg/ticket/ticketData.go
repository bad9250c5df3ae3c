package ticket

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrTicketNotFound indicates the related entity has no ticket.
	ErrTicketNotFound = errors.New("ticket not found")
	// ErrTicketVoided indicates the ticket was revoked; generating an
	// attachment for it would put an unusable ticket in someone's inbox.
	ErrTicketVoided = errors.New("ticket has been voided")
)

// TicketData is everything the generator needs to produce a ticket.
type TicketData struct {
	TicketID     uuid.UUID
	EventName    string
	AttendeeName string
	Venue        string
	Seat         string
	EventDate    time.Time
}

// DataSource resolves ticket data from the entry's related entity id.
type DataSource interface {
	Ticket(ctx context.Context, relatedEntityID uuid.UUID) (*TicketData, error)
}
