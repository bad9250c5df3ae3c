package store

import (
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "notify-outbox"

// truncateError bounds last_error so a pathological transport error cannot
// bloat the row.
const maxErrorLen = 1024

func truncateError(msg string) string {
	if len(msg) > maxErrorLen {
		return msg[:maxErrorLen]
	}
	return msg
}

func addDBStatsToSpan(span trace.Span, system, statement string, entryCount int, duration time.Duration) {
	span.SetAttributes(
		attribute.Int("entryCount", entryCount),
		attribute.String("db.system", system),
		attribute.String("db.statement", statement),
		attribute.Float64("db.execution_time_ms", float64(duration.Milliseconds())),
	)
}
