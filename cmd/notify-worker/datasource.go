package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/eventra/notify-outbox/pkg/render"
	"github.com/eventra/notify-outbox/pkg/store"
	"github.com/eventra/notify-outbox/pkg/ticket"
)

const eventDateLayout = "Monday, 2 January 2006 15:04 MST"

// sqlDataSource resolves template payloads and ticket data from the
// application database. It serves both the renderer and the ticket
// generator so a single pool covers all lookups.
type sqlDataSource struct {
	db      *sql.DB
	baseURL string
}

func newSQLDataSource(db *sql.DB, baseURL string) *sqlDataSource {
	return &sqlDataSource{db: db, baseURL: baseURL}
}

func (s *sqlDataSource) Load(ctx context.Context, msgType store.MessageType, relatedEntityID uuid.UUID) (map[string]any, error) {
	switch msgType {
	case store.TypeRegistrationConfirmation, store.TypeReminder,
		store.TypeCancellation, store.TypeTicketDelivery:
		return s.loadRegistration(ctx, relatedEntityID)
	case store.TypePasswordReset:
		return s.loadAccountToken(ctx, relatedEntityID, "/reset-password", "ResetLink")
	case store.TypeVerification:
		return s.loadAccountToken(ctx, relatedEntityID, "/verify-email", "VerificationLink")
	case store.TypeWelcome:
		return s.loadAccount(ctx, relatedEntityID)
	case store.TypeSystemNotification:
		return s.loadSystemMessage(ctx, relatedEntityID)
	default:
		return nil, fmt.Errorf("%w: no data for type %q", render.ErrEntityNotFound, msgType)
	}
}

func (s *sqlDataSource) loadRegistration(ctx context.Context, id uuid.UUID) (map[string]any, error) {
	const query = `
		SELECT a.full_name, e.name, e.starts_at, e.venue, e.organizer_name, r.reference
		FROM registrations r
		JOIN events e ON e.id = r.event_id
		JOIN attendees a ON a.id = r.attendee_id
		WHERE r.id = $1`

	var (
		attendeeName, eventName, venue, organizerName, reference string
		startsAt                                                 time.Time
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&attendeeName, &eventName, &startsAt, &venue, &organizerName, &reference)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: registration %s", render.ErrEntityNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load registration: %w", err)
	}

	return map[string]any{
		"AttendeeName":    attendeeName,
		"EventName":       eventName,
		"EventDate":       startsAt.UTC().Format(eventDateLayout),
		"Venue":           venue,
		"OrganizerName":   organizerName,
		"RegistrationRef": reference,
	}, nil
}

func (s *sqlDataSource) loadAccountToken(ctx context.Context, id uuid.UUID, path, linkField string) (map[string]any, error) {
	const query = `SELECT token, expires_at FROM account_tokens WHERE id = $1`

	var (
		token     string
		expiresAt time.Time
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(&token, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: account token %s", render.ErrEntityNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load account token: %w", err)
	}

	link := s.baseURL + path + "?token=" + url.QueryEscape(token)
	minutes := int(time.Until(expiresAt).Minutes())
	if minutes < 1 {
		minutes = 1
	}
	return map[string]any{
		linkField:       link,
		"ExpiryMinutes": minutes,
	}, nil
}

func (s *sqlDataSource) loadAccount(ctx context.Context, id uuid.UUID) (map[string]any, error) {
	const query = `SELECT full_name FROM accounts WHERE id = $1`

	var name string
	err := s.db.QueryRowContext(ctx, query, id).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: account %s", render.ErrEntityNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	return map[string]any{"Name": name}, nil
}

func (s *sqlDataSource) loadSystemMessage(ctx context.Context, id uuid.UUID) (map[string]any, error) {
	const query = `SELECT message FROM system_messages WHERE id = $1`

	var message string
	err := s.db.QueryRowContext(ctx, query, id).Scan(&message)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: system message %s", render.ErrEntityNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load system message: %w", err)
	}
	return map[string]any{"Message": message}, nil
}

// Ticket resolves ticket data from the registration the entry references.
func (s *sqlDataSource) Ticket(ctx context.Context, relatedEntityID uuid.UUID) (*ticket.TicketData, error) {
	const query = `
		SELECT t.id, t.voided, t.seat, a.full_name, e.name, e.venue, e.starts_at
		FROM tickets t
		JOIN registrations r ON r.id = t.registration_id
		JOIN events e ON e.id = r.event_id
		JOIN attendees a ON a.id = r.attendee_id
		WHERE t.registration_id = $1`

	var (
		data   ticket.TicketData
		voided bool
		seat   sql.NullString
	)
	err := s.db.QueryRowContext(ctx, query, relatedEntityID).Scan(
		&data.TicketID, &voided, &seat, &data.AttendeeName, &data.EventName, &data.Venue, &data.EventDate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: registration %s", ticket.ErrTicketNotFound, relatedEntityID)
	}
	if err != nil {
		return nil, fmt.Errorf("load ticket: %w", err)
	}
	if voided {
		return nil, fmt.Errorf("%w: ticket %s", ticket.ErrTicketVoided, data.TicketID)
	}
	data.Seat = seat.String
	return &data, nil
}
