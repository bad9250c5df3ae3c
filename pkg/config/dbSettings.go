package config

// DbSettings holds configuration for the outbox store backend.
type DbSettings struct {
	Type       string `mapstructure:"type" validate:"required,oneof=postgres mongo spanner"`
	DSN        string `mapstructure:"dsn"`        // postgres
	URI        string `mapstructure:"uri"`        // mongo connection string or spanner database path
	Database   string `mapstructure:"database"`   // mongo only
	Collection string `mapstructure:"collection"` // mongo only
}
