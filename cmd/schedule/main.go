package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/vectorhive/embedding-be/internal/config"
	"github.com/vectorhive/embedding-be/internal/pipeline"
	"github.com/vectorhive/embedding-be/internal/pipeline/storage"
	"github.com/vectorhive/embedding-be/shared/logger"
	"github.com/vectorhive/embedding-be/shared/postgresql"
	"github.com/vectorhive/embedding-be/shared/rabbitmq"
)

// Runs exactly one scheduling cycle of the embedding backfill pipeline and
// exits. A non-zero exit means no job was enqueued and the chain did not
// start; wire it into alerting.
func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("SCHEDULE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/schedule/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	batchSize := flag.Int("batch-size", 0, "Override the configured batch size (0 uses the default)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateSchedulerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := logger.New(&logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		TimeFormat: time.RFC3339,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	dbClient, err := postgresql.NewClient(&postgresql.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	}, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	rabbitClient, err := rabbitmq.NewClient(&rabbitmq.Config{
		Host:              cfg.RabbitMQ.Host,
		Port:              cfg.RabbitMQ.Port,
		User:              cfg.RabbitMQ.User,
		Password:          cfg.RabbitMQ.Password,
		VHost:             cfg.RabbitMQ.VHost,
		ExchangeName:      cfg.RabbitMQ.Exchange.Name,
		ExchangeType:      cfg.RabbitMQ.Exchange.Type,
		ExchangeDurable:   cfg.RabbitMQ.Exchange.Durable,
		QueueName:         cfg.RabbitMQ.Queue.Name,
		QueueDurable:      cfg.RabbitMQ.Queue.Durable,
		RoutingKey:        cfg.RabbitMQ.RoutingKey,
		RetryAttempts:     cfg.RabbitMQ.Connection.RetryAttempts,
		RetryInterval:     cfg.RabbitMQ.Connection.RetryInterval,
		Heartbeat:         cfg.RabbitMQ.Connection.Heartbeat,
		ConnectionTimeout: cfg.RabbitMQ.Connection.ConnectionTimeout,
		PublishRetries:    cfg.RabbitMQ.Publish.RetryAttempts,
		PublishRetryDelay: cfg.RabbitMQ.Publish.RetryInterval,
	}, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	store := storage.NewStorage(dbClient, appLogger.Logger)

	queue := pipeline.NewJobQueue(store, rabbitClient, appLogger.Logger, pipeline.QueueConfig{
		Name:        cfg.RabbitMQ.Queue.Name,
		MaxAttempts: cfg.Pipeline.MaxAttempts,
		BackoffBase: cfg.Pipeline.RetryBackoffBase,
	})

	scheduler := pipeline.NewBatchScheduler(store, queue, appLogger.Logger, pipeline.SchedulerConfig{
		DefaultBatchSize: cfg.Pipeline.BatchSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	scheduled, err := scheduler.Schedule(ctx, *batchSize)
	if err != nil {
		return fmt.Errorf("scheduling cycle failed: %w", err)
	}

	appLogger.Info("Scheduling cycle complete",
		slog.Int("scheduled", scheduled),
	)
	fmt.Printf("scheduled %d record(s)\n", scheduled)

	return nil
}
