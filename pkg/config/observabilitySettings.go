package config

type Observability struct {
	ServiceName string `mapstructure:"service_name" validate:"required"`
	// TracingURL is the OTLP HTTP endpoint as host:port.
	TracingURL string `mapstructure:"tracing_url" validate:"required,hostname_port"`
}
