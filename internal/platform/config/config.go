package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Server captures process-level configuration so main stays lean.
type Server struct {
	Addr        string
	DatabaseURL string
	Redis       RedisConfig
	Kafka       KafkaConfig

	// DiscoveryCacheTTL bounds staleness of cached discovery results.
	DiscoveryCacheTTL time.Duration
}

// RedisConfig configures the optional discovery-result cache.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig configures the optional access-log aggregate ingest. Ingest is
// disabled when Brokers is empty.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	Group   string
}

// FromEnv builds a Server config from environment variables.
func FromEnv() Server {
	addr := os.Getenv("SITESTATS_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	// Empty means the in-memory store; handy for development and tests.
	databaseURL := os.Getenv("SITESTATS_DATABASE_URL")

	var brokers []string
	if raw := os.Getenv("SITESTATS_KAFKA_BROKERS"); raw != "" {
		for _, b := range strings.Split(raw, ",") {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
	}
	topic := os.Getenv("SITESTATS_KAFKA_TOPIC")
	if topic == "" {
		topic = "access-log-aggregates"
	}
	group := os.Getenv("SITESTATS_KAFKA_GROUP")
	if group == "" {
		group = "sitestats-ingest"
	}

	return Server{
		Addr:        addr,
		DatabaseURL: databaseURL,
		Redis: RedisConfig{
			URL:          os.Getenv("SITESTATS_REDIS_URL"),
			PoolSize:     intEnv("SITESTATS_REDIS_POOL_SIZE", 10),
			MinIdleConns: intEnv("SITESTATS_REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  durationEnv("SITESTATS_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  durationEnv("SITESTATS_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: durationEnv("SITESTATS_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers: brokers,
			Topic:   topic,
			Group:   group,
		},
		DiscoveryCacheTTL: durationEnv("SITESTATS_DISCOVERY_CACHE_TTL", 5*time.Minute),
	}
}

func intEnv(key string, fallback int) int {
	if raw := os.Getenv(key); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			return v
		}
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	if raw := os.Getenv(key); raw != "" {
		if v, err := time.ParseDuration(raw); err == nil && v > 0 {
			return v
		}
	}
	return fallback
}
