package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// MatcherConfig is shared by every process that runs the matching engine.
type MatcherConfig struct {
	TopN            int
	MinScore        int
	MaxItemWeightKg float64
}

// PushConfig points at the FCM HTTP endpoint. An empty endpoint disables push.
type PushConfig struct {
	FCMEndpoint string
	FCMKey      string
}

// ServerConfig captures all tunable parameters for the HTTP API process.
// Values are loaded from environment variables with defaults that let the
// binary run locally with the in-memory store and no brokers.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	CORSOrigins     []string

	RedisAddr     string
	RedisPassword string

	KafkaBrokers []string
	KafkaTopic   string

	PGDSN         string
	RunMigrations bool

	Matcher MatcherConfig
	Push    PushConfig

	SweepInterval  time.Duration
	SweepBatchSize int

	StripeAPIKey     string
	PaymentsCurrency string

	LogLevel string
}

// ConsumerConfig configures the Kafka event consumer. It needs the shared
// Postgres store; there is no in-memory fallback across processes.
type ConsumerConfig struct {
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroup   string

	PGDSN string

	RedisAddr     string
	RedisPassword string
	DedupTTL      time.Duration

	RetryAttempts int
	RetryDelay    time.Duration

	Matcher MatcherConfig
	Push    PushConfig

	MetricsAddr string
	LogLevel    string
}

func defaultMatcherConfig() MatcherConfig {
	return MatcherConfig{TopN: 5, MinScore: 50, MaxItemWeightKg: 30}
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:         ":8080",
		ReadTimeout:      5 * time.Second,
		WriteTimeout:     10 * time.Second,
		IdleTimeout:      120 * time.Second,
		ShutdownTimeout:  15 * time.Second,
		CORSOrigins:      []string{"*"},
		KafkaTopic:       "delivery-events",
		Matcher:          defaultMatcherConfig(),
		SweepInterval:    24 * time.Hour,
		SweepBatchSize:   500,
		PaymentsCurrency: "usd",
		LogLevel:         "info",
	}
}

func defaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		KafkaBrokers:  []string{"localhost:9092"},
		KafkaTopic:    "delivery-events",
		KafkaGroup:    "delivery-matching-consumer",
		DedupTTL:      24 * time.Hour,
		RetryAttempts: 3,
		RetryDelay:    200 * time.Millisecond,
		Matcher:       defaultMatcherConfig(),
		MetricsAddr:   ":2112",
		LogLevel:      "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		cfg.CORSOrigins = splitAndTrim(origins)
	}

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")
	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	loadMatcher(&cfg.Matcher, &errs)
	loadPush(&cfg.Push)

	setDurationFromEnv(&cfg.SweepInterval, "SWEEP_INTERVAL", &errs)
	setIntFromEnv(&cfg.SweepBatchSize, "SWEEP_BATCH_SIZE", &errs)

	cfg.StripeAPIKey = strings.TrimSpace(os.Getenv("STRIPE_API_KEY"))
	if v := os.Getenv("PAYMENTS_CURRENCY"); v != "" {
		cfg.PaymentsCurrency = strings.ToLower(strings.TrimSpace(v))
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	errs = append(errs, cfg.Matcher.validate()...)
	if cfg.SweepInterval < 0 {
		errs = append(errs, fmt.Errorf("SWEEP_INTERVAL must be >= 0"))
	}
	if cfg.SweepBatchSize < 1 || cfg.SweepBatchSize > 500 {
		errs = append(errs, fmt.Errorf("SWEEP_BATCH_SIZE must be between 1 and 500"))
	}

	return cfg, errors.Join(errs...)
}

func LoadConsumerConfig() (ConsumerConfig, error) {
	cfg := defaultConsumerConfig()
	var errs []error

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")

	cfg.PGDSN = os.Getenv("PG_DSN")

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setDurationFromEnv(&cfg.DedupTTL, "EVENT_DEDUP_TTL", &errs)

	setIntFromEnv(&cfg.RetryAttempts, "EVENT_RETRY_ATTEMPTS", &errs)
	setDurationFromEnv(&cfg.RetryDelay, "EVENT_RETRY_DELAY", &errs)

	loadMatcher(&cfg.Matcher, &errs)
	loadPush(&cfg.Push)

	setStringFromEnv(&cfg.MetricsAddr, "METRICS_ADDR")
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	errs = append(errs, cfg.Matcher.validate()...)
	if cfg.PGDSN == "" {
		errs = append(errs, fmt.Errorf("PG_DSN is required"))
	}
	if len(cfg.KafkaBrokers) == 0 {
		errs = append(errs, fmt.Errorf("KAFKA_BROKERS must name at least one broker"))
	}
	if cfg.RetryAttempts <= 0 {
		errs = append(errs, fmt.Errorf("EVENT_RETRY_ATTEMPTS must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

func loadMatcher(m *MatcherConfig, errs *[]error) {
	setIntFromEnv(&m.TopN, "MATCHER_TOP_N", errs)
	setIntFromEnv(&m.MinScore, "MATCHER_MIN_SCORE", errs)
	setFloatFromEnv(&m.MaxItemWeightKg, "MAX_ITEM_WEIGHT_KG", errs)
}

func loadPush(p *PushConfig) {
	p.FCMEndpoint = strings.TrimSpace(os.Getenv("FCM_ENDPOINT"))
	p.FCMKey = os.Getenv("FCM_KEY")
}

func (m MatcherConfig) validate() []error {
	var errs []error
	if m.TopN <= 0 {
		errs = append(errs, fmt.Errorf("MATCHER_TOP_N must be > 0"))
	}
	if m.MinScore < 0 || m.MinScore > 100 {
		errs = append(errs, fmt.Errorf("MATCHER_MIN_SCORE must be between 0 and 100"))
	}
	if m.MaxItemWeightKg <= 0 {
		errs = append(errs, fmt.Errorf("MAX_ITEM_WEIGHT_KG must be > 0"))
	}
	return errs
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
