package logging

import (
	"os"

	"go.uber.org/zap"
)

// New builds the process logger. Production gets JSON output with
// timestamps suitable for log aggregation; everything else gets the
// human-readable development encoder.
func New() (*zap.Logger, error) {
	if os.Getenv("ENVIRONMENT") == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
