package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lalith-99/relay/internal/api"
	"github.com/lalith-99/relay/internal/billing"
	"github.com/lalith-99/relay/internal/blob"
	"github.com/lalith-99/relay/internal/chat"
	"github.com/lalith-99/relay/internal/config"
	"github.com/lalith-99/relay/internal/db"
	"github.com/lalith-99/relay/internal/observ"
	"github.com/lalith-99/relay/internal/realtime"
	"github.com/lalith-99/relay/internal/repository"
	"github.com/lalith-99/relay/internal/repository/postgres"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---------------------------------------------------------------
	// 1. Load config
	// ---------------------------------------------------------------
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// ---------------------------------------------------------------
	// 2. Create logger
	// ---------------------------------------------------------------
	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	// ---------------------------------------------------------------
	// 3. Connect to Postgres and bring the schema up to date
	// ---------------------------------------------------------------
	if err := db.Migrate(cfg.DatabaseURL, logger); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	database, err := db.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer database.Close()

	// ---------------------------------------------------------------
	// 4. Create repositories
	//
	// Assigning to the interface types proves at compile time that the
	// stores implement them.
	// ---------------------------------------------------------------
	pool := database.Pool()
	var (
		chatRepo    repository.ChatRepository    = postgres.NewChatStore(pool)
		messageRepo repository.MessageRepository = postgres.NewMessageStore(pool)
		mediaRepo   repository.MediaRepository   = postgres.NewMediaStore(pool)
		userRepo    repository.UserRepository    = postgres.NewUserStore(pool)
		paymentRepo repository.PaymentRepository = postgres.NewPaymentStore(pool)
	)

	// ---------------------------------------------------------------
	// 5. Blob store and fan-out
	// ---------------------------------------------------------------
	blobs, closeBlobs, err := newBlobStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("blob store: %w", err)
	}
	defer closeBlobs()

	broker, err := newBroker(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("fan-out broker: %w", err)
	}
	if broker != nil {
		defer broker.Close()
	}
	hub := realtime.NewHub(cfg.SubscriberQueueSize, broker, logger)

	// ---------------------------------------------------------------
	// 6. Services
	// ---------------------------------------------------------------
	chatSvc := chat.NewService(chat.Deps{
		Chats:    chatRepo,
		Messages: messageRepo,
		Media:    mediaRepo,
		Users:    userRepo,
		Blobs:    blobs,
		Bus:      hub,
	}, cfg.BlobTimeout, logger)

	provider := billing.NewStripeProvider(cfg.StripeSecretKey)
	catalog := billing.NewCatalog(cfg.OneTimePriceID, cfg.OneWeekPriceID, cfg.OneMonthPriceID)
	reconciler := billing.NewReconciler(paymentRepo, userRepo, provider, cfg.StripeWebhookSecret, cfg.WebhookTimeout, logger)
	checkout := billing.NewCheckoutService(paymentRepo, provider, catalog, cfg.FrontendURL, logger)

	if cfg.StripeWebhookSecret == "" {
		logger.Warn("STRIPE_WEBHOOK_SECRET not set, every webhook will be rejected")
	}

	// ---------------------------------------------------------------
	// 7. HTTP server
	// ---------------------------------------------------------------
	router := api.NewRouter(api.RouterConfig{
		Auth:    api.NewAuthHandler(userRepo, cfg.JWTSecret, logger),
		User:    api.NewUserHandler(userRepo, logger),
		Chat:    api.NewChatHandler(chatSvc, logger),
		Message: api.NewMessageHandler(chatSvc, cfg.MaxUploadBytes, logger),
		Media:   api.NewMediaHandler(chatSvc, cfg.MaxUploadBytes, logger),
		Payment: api.NewPaymentHandler(reconciler, checkout, logger),
		Socket:  api.NewSocketHandler(chatSvc, hub, cfg.AllowedOrigins, logger),
		Health:  database,

		JWTSecret:      cfg.JWTSecret,
		AllowedOrigins: cfg.AllowedOrigins,
		Logger:         logger,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		// Sessions inherit this context, so shutdown also ends them.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	logger.Info("starting relay",
		zap.String("port", cfg.Port),
		zap.String("env", cfg.Env),
		zap.String("bus", cfg.BusBackend),
		zap.String("blob", cfg.BlobBackend),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return hub.Run(gctx)
	})
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// newBlobStore returns the configured store and a cleanup func.
func newBlobStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (blob.Store, func(), error) {
	switch cfg.BlobBackend {
	case "gcs":
		store, err := blob.NewGCSStore(ctx, cfg.GCSBucket, cfg.GCSCredentialsFile, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	default:
		store, err := blob.NewS3Store(ctx, blob.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	}
}

// newBroker returns nil for the in-process bus.
func newBroker(ctx context.Context, cfg *config.Config, logger *zap.Logger) (realtime.Broker, error) {
	switch cfg.BusBackend {
	case "redis":
		return realtime.NewRedisBroker(ctx, cfg.RedisURL, cfg.BusChannel, logger)
	case "rabbitmq":
		return realtime.NewRabbitBroker(cfg.RabbitURL, cfg.BusChannel, logger)
	default:
		return nil, nil
	}
}
