package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/example/delivery-matching/internal/config"
	"github.com/example/delivery-matching/internal/dispatch"
	"github.com/example/delivery-matching/internal/events"
	"github.com/example/delivery-matching/internal/lifecycle"
	"github.com/example/delivery-matching/internal/logging"
	"github.com/example/delivery-matching/internal/matcher"
	"github.com/example/delivery-matching/internal/rating"
	"github.com/example/delivery-matching/internal/storage"
)

func main() {
	cfg, err := config.LoadConsumerConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger("consumer", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := storage.OpenPool(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("open store", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	store := storage.NewPostgresStore(pool)

	// WebSocket sessions live in the server process; the consumer reaches
	// users through the in-app log and push.
	channels := []dispatch.Channel{{Name: "inapp", Notifier: dispatch.InApp{Store: store}}}
	if cfg.Push.FCMEndpoint != "" {
		channels = append(channels, dispatch.Channel{Name: "fcm", Notifier: dispatch.NewFCMDispatcher(cfg.Push.FCMEndpoint, cfg.Push.FCMKey)})
	}
	notifier := &dispatch.Fanout{Channels: channels, Logger: logger}

	var handler events.Handler = &events.Router{
		Store: store,
		Matcher: &matcher.Engine{
			Store:    store,
			Notifier: notifier,
			Logger:   logger,
			TopN:     cfg.Matcher.TopN,
			MinScore: cfg.Matcher.MinScore,
		},
		Canceller: &lifecycle.Manager{Store: store, Notifier: notifier, Logger: logger},
		Ratings:   &rating.Aggregator{Store: store, Notifier: notifier, Logger: logger},
		Logger:    logger,
	}

	var rc *redis.Client
	if cfg.RedisAddr != "" {
		rc = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer func() { _ = rc.Close() }()
		handler = &dedup{
			next:   handler,
			marks:  redisMarks{client: rc, prefix: "delivery-matching:event:"},
			ttl:    cfg.DedupTTL,
			logger: logger,
		}
	}

	go serveMetrics(ctx, cfg.MetricsAddr, pool.Ping, rc, logger)

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.KafkaBrokers,
		Topic:    cfg.KafkaTopic,
		GroupID:  cfg.KafkaGroup,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  500 * time.Millisecond,
	})
	defer func() { _ = r.Close() }()

	logger.Info("consumer listening", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers, "group", cfg.KafkaGroup)
	c := &consumer{
		reader:   r,
		handler:  handler,
		attempts: cfg.RetryAttempts,
		delay:    cfg.RetryDelay,
		logger:   logger,
	}
	c.run(ctx)
}

// serveMetrics exposes /metrics, /healthz and a readiness check on the
// store and, when configured, Redis.
func serveMetrics(ctx context.Context, addr string, pingDB func(context.Context) error, rc *redis.Client, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := pingDB(r.Context()); err != nil {
			http.Error(w, "store not ready", http.StatusServiceUnavailable)
			return
		}
		if rc != nil {
			if err := rc.Ping(r.Context()).Err(); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logger.Info("metrics/health listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server stopped", "error", err)
	}
}
