package config

import (
	"os"
	"strconv"
	"time"

	pstrings "vicinity/pkg/platform/strings"
)

// Config captures process-level configuration for the verification server.
type Config struct {
	Addr        string
	PostgresDSN string
	Redis       RedisConfig
	Kafka       KafkaConfig
}

// RedisConfig holds connection settings for the recent-presence index.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig holds settings for the audit event publisher.
// An empty broker list disables Kafka publishing.
type KafkaConfig struct {
	Brokers    []string
	AuditTopic string
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() Config {
	cfg := Config{
		Addr:        envOr("VICINITY_ADDR", ":8080"),
		PostgresDSN: os.Getenv("VICINITY_POSTGRES_DSN"),
		Redis: RedisConfig{
			URL:          os.Getenv("VICINITY_REDIS_URL"),
			PoolSize:     envIntOr("VICINITY_REDIS_POOL_SIZE", 10),
			MinIdleConns: envIntOr("VICINITY_REDIS_MIN_IDLE", 2),
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Kafka: KafkaConfig{
			AuditTopic: envOr("VICINITY_KAFKA_AUDIT_TOPIC", "vicinity.verification.audit"),
		},
	}
	cfg.Kafka.Brokers = pstrings.SplitAndDedupe(os.Getenv("VICINITY_KAFKA_BROKERS"), ",")
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
