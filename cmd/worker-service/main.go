package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/refminer-intake/internal/api/handler"
	"github.com/cuongbtq/refminer-intake/internal/api/router"
	apistorage "github.com/cuongbtq/refminer-intake/internal/api/storage"
	"github.com/cuongbtq/refminer-intake/internal/config"
	"github.com/cuongbtq/refminer-intake/internal/pipeline"
	"github.com/cuongbtq/refminer-intake/internal/worker"
	"github.com/cuongbtq/refminer-intake/internal/worker/domain"
	"github.com/cuongbtq/refminer-intake/internal/worker/storage"
	"github.com/cuongbtq/refminer-intake/shared/logger"
	"github.com/cuongbtq/refminer-intake/shared/postgresql"
	"github.com/cuongbtq/refminer-intake/shared/rabbitmq"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

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

	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ApplyEnv(); err != nil {
		return fmt.Errorf("invalid environment: %w", err)
	}
	cfg.ApplyDefaults()

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("queue", cfg.RabbitMQ.Queue.Name),
		slog.String("ack_mode", cfg.RabbitMQ.Consumer.AckMode),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The broker and database usually start alongside the worker
	if delay := cfg.Worker.StartupDelay; delay > 0 {
		appLogger.Info("Waiting before connecting", slog.Duration("startup_delay", delay))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}

	dbClient, err := initPostgreSQL(ctx, &cfg.Database, appLogger.Component("postgresql"))
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	rabbitClient, err := initRabbitMQ(ctx, &cfg.RabbitMQ, appLogger.Component("rabbitmq"))
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	intake := worker.NewWorker(worker.Config{
		Logger: appLogger.Component("intake"),
		Queue:  rabbitClient,
		Oracle: storage.NewStorage(dbClient.GetDB(), appLogger.Component("dedup")),
		Pipeline: pipeline.NewExecPipeline(pipeline.Config{
			Command: cfg.Pipeline.Command,
			Args:    cfg.Pipeline.Args,
			Logger:  appLogger.Component("pipeline"),
		}),
		Options: domain.Options{
			StoragePath:         pipeline.NormalizeStoragePath(cfg.Pipeline.StoragePath),
			Threshold:           cfg.Pipeline.ThresholdValue(),
			TestFilesOnly:       cfg.Pipeline.TestFilesOnly,
			StoreFullSourceCode: cfg.Pipeline.StoreFiles(),
		},
		AutoAck:           cfg.RabbitMQ.Consumer.AutoAck(),
		PollInterval:      cfg.Worker.PollInterval,
		MaxPollInterval:   cfg.Worker.MaxPollInterval,
		ReconnectInterval: cfg.Worker.ReconnectInterval,
		JobTimeout:        cfg.Worker.JobTimeout,
		DedupTimeout:      cfg.Worker.DedupTimeout,
	})

	var srv *http.Server
	if cfg.Server.Port > 0 {
		srv = newAdminServer(cfg, appLogger.Component("admin-api"), dbClient, rabbitClient, intake)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				appLogger.Error("Admin server failed", slog.Any("error", err))
			}
		}()
		appLogger.Info("Admin server listening", slog.String("address", srv.Addr))
	}

	done := make(chan error, 1)
	go func() {
		done <- intake.Start(ctx)
	}()

	appLogger.Info("Worker service started", slog.String("worker_id", intake.ID()))

	<-ctx.Done()
	appLogger.Info("Received signal, shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer cancel()

	select {
	case err := <-done:
		if err != nil {
			appLogger.Error("Worker stopped with error", slog.Any("error", err))
		} else {
			appLogger.Info("Worker stopped gracefully")
		}
	case <-shutdownCtx.Done():
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}

	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			appLogger.Error("Admin server forced to shutdown", slog.Any("error", err))
		}
	}

	appLogger.Info("Worker service shutdown complete",
		slog.Any("stats", intake.Stats()),
	)
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
		NoColor:      cfg.NoColor,
	})
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(ctx context.Context, cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		URL:             cfg.URL,
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return postgresql.NewClient(ctx, dbConfig, logger)
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(ctx context.Context, cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	return rabbitmq.NewClient(ctx, rabbitConfig(cfg), logger)
}

func rabbitConfig(cfg *config.RabbitMQConfig) *rabbitmq.Config {
	return &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}
}

// newAdminServer builds the read-only admin HTTP server
func newAdminServer(cfg *config.Config, logger *slog.Logger, dbClient *postgresql.Client, rabbitClient *rabbitmq.Client, intake *worker.Worker) *http.Server {
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	r := router.SetupRouter(&handler.Dependencies{
		Logger:   logger,
		Service:  cfg.App.Name,
		Projects: apistorage.NewStorage(dbClient.GetDB()),
		Database: dbClient,
		Queue:    rabbitClient,
		Worker:   intake,
	})

	return &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}
