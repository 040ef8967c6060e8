package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/reels-scheduler/internal/api/handler"
	"github.com/cuongbtq/reels-scheduler/internal/api/router"
	"github.com/cuongbtq/reels-scheduler/internal/blob"
	"github.com/cuongbtq/reels-scheduler/internal/config"
	"github.com/cuongbtq/reels-scheduler/internal/dispatch"
	"github.com/cuongbtq/reels-scheduler/internal/graph"
	"github.com/cuongbtq/reels-scheduler/internal/storage"
	"github.com/cuongbtq/reels-scheduler/internal/submission"
	"github.com/cuongbtq/reels-scheduler/shared/database"
	"github.com/cuongbtq/reels-scheduler/shared/logger"
	"github.com/cuongbtq/reels-scheduler/shared/rabbitmq"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/panjf2000/ants/v2"
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

	// Parse command-line flags
	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// Initialize job store
	dbClient, err := initDatabase(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	store := storage.NewStorage(dbClient.GetDB(), appLogger.Logger)
	migrateCtx, migrateCancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = store.Migrate(migrateCtx)
	migrateCancel()
	if err != nil {
		return fmt.Errorf("failed to migrate job store: %w", err)
	}

	appLogger.Info("Database connection established", slog.String("driver", cfg.Database.Driver))

	// Initialize dispatch queue
	queue, closeQueue, err := initQueue(cfg, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize dispatch queue: %w", err)
	}
	defer closeQueue()

	appLogger.Info("Dispatch queue ready", slog.String("driver", cfg.Queue.Driver))

	// Initialize blob store
	blobs, err := initBlobStore(&cfg.Blob, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize blob store: %w", err)
	}

	// Upload pool shared by bulk submissions
	uploadPool, err := ants.NewPool(cfg.Submission.UploadConcurrency, ants.WithPanicHandler(func(p any) {
		appLogger.Error("Upload task panicked", slog.Any("panic", p))
	}))
	if err != nil {
		return fmt.Errorf("failed to create upload pool: %w", err)
	}
	defer uploadPool.Release()

	location, err := cfg.Submission.Location()
	if err != nil {
		return err
	}

	submitter := submission.NewService(store, blobs, queue, uploadPool, appLogger.Logger, submission.Options{
		Location:      location,
		MaxBulkItems:  cfg.Submission.MaxBulkItems,
		UploadTimeout: cfg.Submission.UploadTimeout,
	})

	graphClient := graph.NewClient(&graph.Config{
		BaseURL:    cfg.Graph.BaseURL,
		APIVersion: cfg.Graph.APIVersion,
		Timeout:    cfg.Graph.Timeout,
	}, appLogger.Logger)

	// Initialize router
	r := initRouter(cfg.App.Environment, &handler.Dependencies{
		Logger:        appLogger.Logger,
		Submitter:     submitter,
		Jobs:          store,
		Media:         blobs,
		Accounts:      graphClient,
		Health:        dbClient,
		AccountsToken: cfg.Graph.AccessToken,
		MaxUploadSize: cfg.Submission.MaxUploadSizeMB << 20,
	})

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
	)

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	appLogger.Info("API service is running", slog.String("address", addr))

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
	case err := <-serverErr:
		appLogger.Error("Server failed", slog.Any("error", err))
		return err
	}

	appLogger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown", slog.Any("error", err))
		return err
	}

	appLogger.Info("Server shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initDatabase opens the job store database
func initDatabase(cfg *config.DatabaseConfig, logger *slog.Logger) (*database.Client, error) {
	dbConfig := &database.Config{
		Driver:          cfg.Driver,
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return database.NewClient(dbConfig, logger)
}

// initQueue connects the configured dispatch backend
func initQueue(cfg *config.Config, logger *slog.Logger) (dispatch.Publisher, func() error, error) {
	switch cfg.Queue.Driver {
	case config.QueueDriverRedis:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		queue, err := dispatch.NewRedis(ctx, &dispatch.RedisConfig{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			QueueName:    cfg.Redis.QueueName,
			BlockTimeout: cfg.Redis.BlockTimeout,
			RetryBackoff: cfg.Redis.RetryBackoff,
			AckTimeout:   cfg.Redis.AckTimeout,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return queue, queue.Close, nil
	default:
		client, err := initRabbitMQ(&cfg.RabbitMQ, logger)
		if err != nil {
			return nil, nil, err
		}
		return dispatch.NewRabbitMQ(client, cfg.RabbitMQ.Consumer.PrefetchCount, logger), client.Close, nil
	}
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
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
		DeadLetterExchange: cfg.DeadLetterExchange,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}

// initBlobStore opens the configured media store
func initBlobStore(cfg *config.BlobConfig, logger *slog.Logger) (blob.Store, error) {
	if cfg.Driver == config.BlobDriverLocal {
		store, err := blob.NewLocalStore(cfg.Local.Dir)
		if err != nil {
			return nil, err
		}
		return store, nil
	}

	store, err := blob.NewS3Store(&blob.S3Config{
		Bucket:          cfg.S3.Bucket,
		Region:          cfg.S3.Region,
		Endpoint:        cfg.S3.Endpoint,
		AccessKeyID:     cfg.S3.AccessKeyID,
		SecretAccessKey: cfg.S3.SecretAccessKey,
		ForcePathStyle:  cfg.S3.ForcePathStyle,
		PartSize:        cfg.S3.PartSizeMB << 20,
	}, logger)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(environment string, deps *handler.Dependencies) *gin.Engine {
	// Set Gin mode based on environment
	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	return router.SetupRouter(deps)
}
