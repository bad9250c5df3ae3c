package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of an outbox entry.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further delivery attempt may touch the entry.
// Failed is only ever written as a dead-letter state, so it is terminal for
// the delivery pipeline; operators may still requeue it.
func (s Status) Terminal() bool {
	switch s {
	case StatusSent, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether a transition from s to next is allowed.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		// pending -> pending covers reschedule after a transient failure.
		return next == StatusPending || next == StatusSent || next == StatusFailed || next == StatusCancelled
	case StatusFailed:
		// operator requeue only
		return next == StatusPending
	default:
		return false
	}
}

// MessageType enumerates the notification kinds the pipeline delivers.
type MessageType string

const (
	TypeRegistrationConfirmation MessageType = "registration_confirmation"
	TypeReminder                 MessageType = "reminder"
	TypeCancellation             MessageType = "cancellation"
	TypePasswordReset            MessageType = "password_reset"
	TypeVerification             MessageType = "verification"
	TypeTicketDelivery           MessageType = "ticket_delivery"
	TypeWelcome                  MessageType = "welcome"
	TypeSystemNotification       MessageType = "system_notification"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	switch t {
	case TypeRegistrationConfirmation, TypeReminder, TypeCancellation,
		TypePasswordReset, TypeVerification, TypeTicketDelivery,
		TypeWelcome, TypeSystemNotification:
		return true
	default:
		return false
	}
}

// CarriesTicket reports whether messages of this type must be sent with a
// generated ticket attachment (QR code + PDF).
func (t MessageType) CarriesTicket() bool {
	return t == TypeTicketDelivery
}

// Attachment is a named payload sent alongside the message body.
type Attachment struct {
	Name        string `json:"name" bson:"name"`
	ContentType string `json:"content_type" bson:"content_type"`
	Content     []byte `json:"content" bson:"content"`
}

// OutboxEntry is a persisted intent to deliver one notification.
//
// The producer only ever creates entries; every later mutation goes through
// the store's lease-guarded operations. Attachments are not persisted: for
// ticket-bearing types they are regenerated deterministically from
// RelatedEntityID at send time.
type OutboxEntry struct {
	ID              uuid.UUID   `json:"id"`
	Type            MessageType `json:"type"`
	Status          Status      `json:"status"`
	RelatedEntityID *uuid.UUID  `json:"related_entity_id,omitempty"`
	Recipient       string      `json:"recipient"`
	Subject         string      `json:"subject"`
	Body            string      `json:"body"`
	RetryCount      int         `json:"retry_count"`
	LastError       string      `json:"last_error,omitempty"`
	NextRetryAt     *time.Time  `json:"next_retry_at,omitempty"`
	LeaseOwner      string      `json:"lease_owner,omitempty"`
	LeaseExpiresAt  *time.Time  `json:"lease_expires_at,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// Validate checks the fields a store requires before persisting.
func (e *OutboxEntry) Validate() error {
	if e.ID == uuid.Nil {
		return fmt.Errorf("%w: id is required", ErrInvalidEntry)
	}
	if !e.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidEntry, e.Type)
	}
	if e.Status != StatusPending {
		return fmt.Errorf("%w: new entries must be pending, got %q", ErrInvalidEntry, e.Status)
	}
	if e.Recipient == "" {
		return fmt.Errorf("%w: recipient is required", ErrInvalidEntry)
	}
	return nil
}

// Due reports whether the entry is claimable at the given instant.
func (e *OutboxEntry) Due(now time.Time) bool {
	if e.Status != StatusPending {
		return false
	}
	if e.NextRetryAt != nil && e.NextRetryAt.After(now) {
		return false
	}
	if e.LeaseExpiresAt != nil && e.LeaseExpiresAt.After(now) {
		return false
	}
	return true
}
