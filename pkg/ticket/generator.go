package ticket

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base32"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jung-kurt/gofpdf"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/eventra/notify-outbox/pkg/store"
	"github.com/eventra/notify-outbox/pkg/transport"
)

const (
	qrSize        = 256
	refCodeLength = 12
)

// Generator produces the QR and PDF attachments for ticket-bearing
// messages. Generation is a pure function of the related entity: the same
// ticket always yields byte-identical attachments and the same reference
// code, so a crashed-and-retried delivery attaches the exact same ticket.
type Generator struct {
	source DataSource
	secret []byte
	issuer string
}

func NewGenerator(source DataSource, verificationSecret, issuer string) *Generator {
	return &Generator{
		source: source,
		secret: []byte(verificationSecret),
		issuer: issuer,
	}
}

// ReferenceCode derives the verifiable code for a ticket. It is embedded
// in both the QR payload and the PDF text, so a printed ticket stays
// checkable against the secret even after the outbox record is purged.
func (g *Generator) ReferenceCode(ticketID uuid.UUID) string {
	mac := hmac.New(sha256.New, g.secret)
	mac.Write(ticketID[:])
	code := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(mac.Sum(nil))
	code = code[:refCodeLength]
	return fmt.Sprintf("%s-%s-%s", code[0:4], code[4:8], code[8:12])
}

// Generate builds the attachments for an entry. Non-ticket types yield no
// attachments. Missing or voided source data is a permanent failure.
func (g *Generator) Generate(ctx context.Context, msgType store.MessageType, relatedEntityID uuid.UUID) ([]store.Attachment, error) {
	if !msgType.CarriesTicket() {
		return nil, nil
	}

	data, err := g.source.Ticket(ctx, relatedEntityID)
	if err != nil {
		if errors.Is(err, ErrTicketNotFound) || errors.Is(err, ErrTicketVoided) {
			return nil, transport.Permanent(err)
		}
		return nil, transport.Transient(err)
	}

	refCode := g.ReferenceCode(data.TicketID)
	qrPayload := fmt.Sprintf("%s|%s|%s", g.issuer, data.TicketID, refCode)

	qrPNG, err := qrcode.Encode(qrPayload, qrcode.Medium, qrSize)
	if err != nil {
		return nil, transport.Permanent(fmt.Errorf("encode ticket QR: %w", err))
	}

	pdfBytes, err := g.buildPDF(data, refCode, qrPNG)
	if err != nil {
		return nil, transport.Permanent(fmt.Errorf("build ticket PDF: %w", err))
	}

	return []store.Attachment{
		{
			Name:        fmt.Sprintf("ticket-%s.pdf", data.TicketID),
			ContentType: "application/pdf",
			Content:     pdfBytes,
		},
		{
			Name:        fmt.Sprintf("ticket-%s-qr.png", data.TicketID),
			ContentType: "image/png",
			Content:     qrPNG,
		},
	}, nil
}

func (g *Generator) buildPDF(data *TicketData, refCode string, qrPNG []byte) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	// pin the embedded metadata date and catalog ordering so regeneration
	// is byte-identical
	pdf.SetCreationDate(data.EventDate.UTC())
	pdf.SetCatalogSort(true)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 22)
	pdf.Cell(0, 14, data.EventName)
	pdf.Ln(16)

	pdf.SetFont("Helvetica", "", 13)
	pdf.Cell(0, 8, fmt.Sprintf("Attendee: %s", data.AttendeeName))
	pdf.Ln(9)
	pdf.Cell(0, 8, fmt.Sprintf("Date: %s", data.EventDate.UTC().Format("Monday, 2 January 2006 15:04 MST")))
	pdf.Ln(9)
	if data.Venue != "" {
		pdf.Cell(0, 8, fmt.Sprintf("Venue: %s", data.Venue))
		pdf.Ln(9)
	}
	if data.Seat != "" {
		pdf.Cell(0, 8, fmt.Sprintf("Seat: %s", data.Seat))
		pdf.Ln(9)
	}

	opts := gofpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader("ticket-qr", opts, bytes.NewReader(qrPNG))
	pdf.ImageOptions("ticket-qr", 70, 110, 70, 70, false, opts, 0, "")

	pdf.SetY(185)
	pdf.SetFont("Courier", "B", 15)
	pdf.CellFormat(0, 10, refCode, "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "", 9)
	pdf.CellFormat(0, 6, fmt.Sprintf("Ticket %s - issued by %s", data.TicketID, g.issuer), "", 1, "C", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
