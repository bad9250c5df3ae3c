package config

// TicketSettings configures ticket attachment generation. The verification
// secret keys the reference code embedded in QR codes and PDFs; rotating it
// invalidates codes on tickets that have not been scanned yet.
type TicketSettings struct {
	VerificationSecret string `mapstructure:"verification_secret" validate:"required"`
	Issuer             string `mapstructure:"issuer" validate:"required"`
}
