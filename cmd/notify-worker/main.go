package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/eventra/notify-outbox/pkg/config"
	"github.com/eventra/notify-outbox/pkg/logging"
	"github.com/eventra/notify-outbox/pkg/render"
	"github.com/eventra/notify-outbox/pkg/store"
	"github.com/eventra/notify-outbox/pkg/telemetry"
	"github.com/eventra/notify-outbox/pkg/ticket"
	"github.com/eventra/notify-outbox/pkg/transport"
	"github.com/eventra/notify-outbox/pkg/worker"
)

func main() {
	var (
		configPath string
		dataDSN    string
		baseURL    string
	)
	flag.StringVar(&configPath, "config", "./cmd/notify-worker", "Directory containing notify.yaml")
	flag.StringVar(&dataDSN, "data-dsn", "", "Application database DSN for template/ticket data (defaults to the outbox DSN)")
	flag.StringVar(&baseURL, "base-url", "https://events.example.com", "Base URL for links embedded in messages")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		log.Fatal("Error loading configuration: ", err)
	}

	logger, err := logging.New()
	if err != nil {
		log.Fatal("Failed to initialize logger: ", err)
	}
	defer logger.Sync()

	shutdownTelemetry, err := telemetry.Init(cfg.Observability, logger)
	if err != nil {
		logger.Fatal("failed to initialize telemetry", zap.Error(err))
	}
	defer shutdownTelemetry()

	outboxStore, err := store.NewStore(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("failed to initialize outbox store", zap.Error(err))
	}

	client, err := transport.NewClient(ctx, cfg.Transport)
	if err != nil {
		logger.Fatal("failed to initialize transport", zap.Error(err))
	}
	defer client.Close()

	if dataDSN == "" {
		if cfg.Database.Type != "postgres" {
			logger.Fatal("data-dsn is required when the outbox store is not postgres")
		}
		dataDSN = cfg.Database.DSN
	}
	dataDB, err := sql.Open("postgres", dataDSN)
	if err != nil {
		logger.Fatal("failed to open application database", zap.Error(err))
	}
	defer dataDB.Close()

	source := newSQLDataSource(dataDB, baseURL)
	renderer := render.NewRenderer(source)
	generator := ticket.NewGenerator(source, cfg.Ticket.VerificationSecret, cfg.Ticket.Issuer)

	w := worker.New(outboxStore, renderer, generator, client,
		worker.ConfigFromSettings(cfg.Worker),
		worker.WithLogger(logger))
	logger.Info("starting notification delivery",
		zap.String("owner_id", w.OwnerID()),
		zap.String("transport", cfg.Transport.Type),
		zap.String("store", cfg.Database.Type))

	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("delivery worker exited", zap.Error(err))
	}
}
