package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/example/delivery-matching/internal/config"
	"github.com/example/delivery-matching/internal/dispatch"
	"github.com/example/delivery-matching/internal/events"
	httpapi "github.com/example/delivery-matching/internal/http"
	"github.com/example/delivery-matching/internal/lifecycle"
	"github.com/example/delivery-matching/internal/lock"
	"github.com/example/delivery-matching/internal/logging"
	"github.com/example/delivery-matching/internal/matcher"
	"github.com/example/delivery-matching/internal/payments"
	"github.com/example/delivery-matching/internal/rating"
	"github.com/example/delivery-matching/internal/service"
	"github.com/example/delivery-matching/internal/storage"
	"github.com/example/delivery-matching/internal/storage/migrations"
	"github.com/example/delivery-matching/internal/sweep"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger("server", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) error {
	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	ws := dispatch.NewWSRegistry()
	channels := []dispatch.Channel{
		{Name: "inapp", Notifier: dispatch.InApp{Store: store}},
		{Name: "ws", Notifier: ws},
	}
	if cfg.Push.FCMEndpoint != "" {
		channels = append(channels, dispatch.Channel{Name: "fcm", Notifier: dispatch.NewFCMDispatcher(cfg.Push.FCMEndpoint, cfg.Push.FCMKey)})
	}
	notifier := &dispatch.Fanout{Channels: channels, Logger: logger}

	engine := &matcher.Engine{
		Store:    store,
		Notifier: notifier,
		Logger:   logger,
		TopN:     cfg.Matcher.TopN,
		MinScore: cfg.Matcher.MinScore,
	}
	manager := &lifecycle.Manager{Store: store, Notifier: notifier, Logger: logger}
	if cfg.StripeAPIKey != "" {
		manager.Escrow = payments.NewStripeEscrow(cfg.StripeAPIKey, cfg.PaymentsCurrency)
		logger.Info("escrow enabled", "currency", cfg.PaymentsCurrency)
	}
	ratings := &rating.Aggregator{Store: store, Notifier: notifier, Logger: logger}

	var publisher service.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer func() { _ = kp.Close() }()
		publisher = kp
		logger.Info("publishing events to kafka", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	} else {
		publisher = events.Direct{Handler: &events.Router{
			Store:     store,
			Matcher:   engine,
			Canceller: manager,
			Ratings:   ratings,
			Logger:    logger,
		}}
	}

	var locker lock.Locker = lock.NewLocalLocker()
	if cfg.RedisAddr != "" {
		rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer func() { _ = rc.Close() }()
		if err := rc.Ping(ctx).Err(); err != nil {
			logger.Warn("redis not reachable; sweep lock will retry per run", "addr", cfg.RedisAddr, "error", err)
		}
		locker = lock.NewRedisLocker(rc, "delivery-matching:lock:")
	}
	sweeper := &sweep.Sweeper{Store: store, Locker: locker, Logger: logger, BatchSize: cfg.SweepBatchSize}
	if cfg.SweepInterval > 0 {
		go sweeper.Loop(ctx, cfg.SweepInterval)
	}

	api := httpapi.NewServer(&httpapi.Server{
		Users:        &service.UserService{Store: store},
		Trips:        &service.TripService{Store: store, Publisher: publisher, Logger: logger},
		Requests:     &service.RequestService{Store: store, Publisher: publisher, MaxItemWeightKg: cfg.Matcher.MaxItemWeightKg, Logger: logger},
		Matches:      manager,
		Reviews:      &service.ReviewService{Matches: store, Ratings: ratings, Publisher: publisher, Logger: logger},
		ReviewLister: ratings,
		Sweeper:      sweeper,
		Sessions:     ws,
	}, httpapi.WithLogger(logger), httpapi.WithCORS(cfg.CORSOrigins))

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("delivery-matching listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down", "timeout", cfg.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// openStore returns the Postgres store when PG_DSN is set and the in-memory
// store otherwise.
func openStore(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) (storage.Store, func(), error) {
	if cfg.PGDSN == "" {
		logger.Warn("PG_DSN not set; using in-memory store")
		return storage.NewMemoryStore(), func() {}, nil
	}
	if cfg.RunMigrations {
		if err := migrate(ctx, cfg.PGDSN, logger); err != nil {
			return nil, nil, err
		}
	}
	pool, err := storage.OpenPool(ctx, cfg.PGDSN)
	if err != nil {
		return nil, nil, err
	}
	return storage.NewPostgresStore(pool), pool.Close, nil
}

func migrate(ctx context.Context, dsn string, logger *slog.Logger) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	n, err := migrations.Up(ctx, db)
	if err != nil {
		return err
	}
	logger.Info("migrations applied", "count", n)
	return nil
}
