package render

import "github.com/eventra/notify-outbox/pkg/store"

// Message bodies are plain text on purpose: every downstream transport
// (SMTP, broker consumers) accepts text, and the ticket itself travels as
// an attachment.
var templateSources = map[store.MessageType]string{
	store.TypeRegistrationConfirmation: `Hi {{.AttendeeName}},

Your registration for {{.EventName}} on {{.EventDate}} has been confirmed.
Registration reference: {{.RegistrationRef}}

See you there!
{{.OrganizerName}}`,

	store.TypeReminder: `Hi {{.AttendeeName}},

This is a reminder that {{.EventName}} starts on {{.EventDate}} at {{.Venue}}.

{{.OrganizerName}}`,

	store.TypeCancellation: `Hi {{.AttendeeName}},

{{.EventName}} scheduled for {{.EventDate}} has been cancelled.
If you purchased a ticket it will be refunded automatically.

{{.OrganizerName}}`,

	store.TypePasswordReset: `Hello,

A password reset was requested for your account. Use the link below within
{{.ExpiryMinutes}} minutes to choose a new password:

{{.ResetLink}}

If you did not request this, you can ignore this message.`,

	store.TypeVerification: `Hello,

Please confirm your email address by following this link:

{{.VerificationLink}}`,

	store.TypeTicketDelivery: `Hi {{.AttendeeName}},

Your ticket for {{.EventName}} is attached to this message as a PDF with a
scannable QR code. Bring it along, printed or on your phone.

{{.OrganizerName}}`,

	store.TypeWelcome: `Hi {{.Name}},

Welcome aboard! Your account is ready; you can browse and register for
events right away.`,

	store.TypeSystemNotification: `{{.Message}}`,
}

var subjects = map[store.MessageType]string{
	store.TypeRegistrationConfirmation: "Registration confirmed",
	store.TypeReminder:                 "Event reminder",
	store.TypeCancellation:             "Event cancelled",
	store.TypePasswordReset:            "Password reset",
	store.TypeVerification:             "Verify your email address",
	store.TypeTicketDelivery:           "Your ticket",
	store.TypeWelcome:                  "Welcome",
	store.TypeSystemNotification:       "System notification",
}
