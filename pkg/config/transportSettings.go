package config

// TransportSettings holds configuration for the delivery transport.
type TransportSettings struct {
	Type   string         `mapstructure:"type" validate:"required,oneof=smtp amqp gcp-pubsub"`
	SMTP   SmtpSettings   `mapstructure:"smtp"`
	AMQP   AmqpSettings   `mapstructure:"amqp"`
	PubSub PubSubSettings `mapstructure:"pubsub"`
}

type SmtpSettings struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type AmqpSettings struct {
	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`
}

// PubSubSettings is used for GCP deployments that route notifications
// through Pub/Sub instead of a direct SMTP hop.
type PubSubSettings struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}
