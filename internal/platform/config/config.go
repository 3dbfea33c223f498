package config

import (
	"os"
	"strconv"
	"time"
)

// Server captures process-level configuration for the dashboard service.
type Server struct {
	Addr          string
	JWTSigningKey string

	// Backend selects the query client: "memory" or "postgres".
	Backend     string
	PostgresURL string

	Redis RedisConfig

	// KafkaBrokers enables the kafka change-feed source when non-empty;
	// otherwise the in-process bus is used.
	KafkaBrokers     string
	KafkaGroup       string
	KafkaTopicPrefix string

	SnapshotTTL      time.Duration
	RefreshQuiet     time.Duration
	AggregationDelay time.Duration

	// SeedDemo loads demo school data on boot, for local development.
	SeedDemo bool
}

// RedisConfig holds connection settings for the snapshot key-value store.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Defaults mirror the values the mobile client shipped with: five minute
// snapshot retention and a two second realtime quiet window.
const (
	DefaultSnapshotTTL      = 5 * time.Minute
	DefaultRefreshQuiet     = 2 * time.Second
	DefaultAggregationDelay = 500 * time.Millisecond
)

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	cfg := Server{
		Addr:             envOr("SCHOOLHUB_ADDR", ":8080"),
		JWTSigningKey:    envOr("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		Backend:          envOr("SCHOOLHUB_BACKEND", "memory"),
		PostgresURL:      os.Getenv("DATABASE_URL"),
		KafkaBrokers:     os.Getenv("KAFKA_BROKERS"),
		KafkaGroup:       envOr("KAFKA_GROUP", "schoolhub-dashboard"),
		KafkaTopicPrefix: envOr("KAFKA_TOPIC_PREFIX", "schoolhub.changes."),
		SnapshotTTL:      envDuration("SNAPSHOT_TTL", DefaultSnapshotTTL),
		RefreshQuiet:     envDuration("REFRESH_QUIET_INTERVAL", DefaultRefreshQuiet),
		AggregationDelay: envDuration("AGGREGATION_DELAY", DefaultAggregationDelay),
		SeedDemo:         os.Getenv("SCHOOLHUB_SEED_DEMO") == "true",
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
