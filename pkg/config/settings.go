package config

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Settings struct {
	Database      DbSettings        `mapstructure:"database"`
	Transport     TransportSettings `mapstructure:"transport"`
	Worker        WorkerSettings    `mapstructure:"worker"`
	Ticket        TicketSettings    `mapstructure:"ticket"`
	Observability Observability     `mapstructure:"observability"`
}

func (c *Settings) Validate() error {
	validate := validator.New()
	return validate.Struct(c)
}

func LoadFromFile(filePath string) (*Settings, error) {

	env := getEnvWithDefaultLookup("ENVIRONMENT", "development")

	cfg := &Settings{}
	viper.SetConfigType("yaml")
	viper.SetConfigName("notify")
	viper.AddConfigPath(filePath) // path to config
	viper.AddConfigPath(".")      // current directory

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("No config file found or read error: %v (will rely on env)", err)
	}

	err := mergeConfig(filePath, "notify."+env)
	if err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Printf("Error merging env-specific config: %s\n", err)
			os.Exit(1)
		}
	}

	if err := viper.Unmarshal(&cfg); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if err := cfg.LoadFromEnv(); err != nil {
		log.Fatalf("Failed to load from env: %v", err)
	}

	cfg.Worker.applyDefaults()

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	return cfg, nil
}

func (c *Settings) LoadFromEnv() error {
	viper.AutomaticEnv()
	viper.SetEnvPrefix("NOTIFY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // env vars like NOTIFY_DATABASE_TYPE

	// Bind environment variables explicitly to ensure they map correctly
	viper.BindEnv("database.type")
	viper.BindEnv("database.dsn")
	viper.BindEnv("database.uri")
	viper.BindEnv("database.database")
	viper.BindEnv("database.collection")
	viper.BindEnv("transport.type")
	viper.BindEnv("transport.smtp.host")
	viper.BindEnv("transport.smtp.port")
	viper.BindEnv("transport.smtp.username")
	viper.BindEnv("transport.smtp.password")
	viper.BindEnv("transport.smtp.from")
	viper.BindEnv("transport.amqp.url")
	viper.BindEnv("transport.amqp.exchange")
	viper.BindEnv("transport.pubsub.project_id")
	viper.BindEnv("transport.pubsub.topic")
	viper.BindEnv("worker.poll_interval")
	viper.BindEnv("worker.batch_size")
	viper.BindEnv("worker.parallelism")
	viper.BindEnv("worker.lease_duration")
	viper.BindEnv("worker.max_retries")
	viper.BindEnv("worker.retry_base")
	viper.BindEnv("worker.retry_cap")
	viper.BindEnv("worker.send_timeout")
	viper.BindEnv("ticket.verification_secret")
	viper.BindEnv("ticket.issuer")
	viper.BindEnv("observability.service_name")
	viper.BindEnv("observability.tracing_url")

	if err := viper.Unmarshal(&c); err != nil {
		return err
	}
	return nil
}

func mergeConfig(path string, name string) error {
	viper.SetConfigName(name)
	viper.AddConfigPath(path)
	err := viper.MergeInConfig()
	if err != nil {
		return err
	}
	return nil
}

func getEnvWithDefaultLookup(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}
