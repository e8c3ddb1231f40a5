package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	platformstrings "custody/pkg/platform/strings"
)

// Server captures process level configuration. Empty connection URLs mean
// the matching backend is replaced by its in-memory counterpart.
type Server struct {
	Addr        string
	LogLevel    slog.Level
	DatabaseURL string
	// TrustedProxies lists CIDRs or addresses whose forwarding headers are
	// believed when resolving the client IP.
	TrustedProxies []string
	Redis          RedisConfig
	Kafka          KafkaConfig
	Packing        PackingConfig
	Custody        CustodyConfig
	RateLimit      RateLimitConfig
}

// RedisConfig configures the distributed packing lock.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig configures the custody alert notifier.
type KafkaConfig struct {
	Brokers    []string
	AlertTopic string
}

// PackingConfig tunes the packing orchestrator.
type PackingConfig struct {
	LockTTL time.Duration
}

// CustodyConfig tunes chain-of-custody form defaults and the sweep.
type CustodyConfig struct {
	SweepInterval             time.Duration
	FormBaseURL               string
	DefaultRequiredSignatures int
	DefaultExpirationDays     int
	ReceiptSigningKey         string
	// DevReceiptKey is set when RECEIPT_SIGNING_KEY was unset and the
	// development key is in use.
	DevReceiptKey bool
}

// RateLimitConfig throttles the public form and signature endpoints per
// client IP.
type RateLimitConfig struct {
	PublicLimit  int
	PublicWindow time.Duration
	Disabled     bool
}

const devReceiptKey = "dev-receipt-key-change-in-production"

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	receiptKey := strings.TrimSpace(os.Getenv("RECEIPT_SIGNING_KEY"))
	devKey := receiptKey == ""
	if devKey {
		receiptKey = devReceiptKey
	}

	return Server{
		Addr:           envString("CUSTODY_ADDR", ":8080"),
		LogLevel:       envLevel("LOG_LEVEL", slog.LevelInfo),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		TrustedProxies: envList("TRUSTED_PROXY_CIDRS"),
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:    envList("KAFKA_BROKERS"),
			AlertTopic: envString("CUSTODY_ALERT_TOPIC", "coc-alerts"),
		},
		Packing: PackingConfig{
			LockTTL: envDuration("PACKING_LOCK_TTL", 30*time.Second),
		},
		Custody: CustodyConfig{
			SweepInterval:             envDuration("COC_SWEEP_INTERVAL", 5*time.Minute),
			FormBaseURL:               envString("COC_FORM_BASE_URL", "http://localhost:8080/coc/form"),
			DefaultRequiredSignatures: envInt("COC_DEFAULT_REQUIRED_SIGNATURES", 2),
			DefaultExpirationDays:     envInt("COC_DEFAULT_EXPIRATION_DAYS", 30),
			ReceiptSigningKey:         receiptKey,
			DevReceiptKey:             devKey,
		},
		RateLimit: RateLimitConfig{
			PublicLimit:  envInt("COC_PUBLIC_RATE_LIMIT", 60),
			PublicWindow: envDuration("COC_PUBLIC_RATE_WINDOW", time.Minute),
			Disabled:     os.Getenv("DISABLE_RATE_LIMITING") == "true",
		},
	}
}

func envString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(strings.TrimSpace(os.Getenv(key)))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func envList(key string) []string {
	out := platformstrings.DedupeAndTrim(strings.Split(os.Getenv(key), ","))
	if len(out) == 0 {
		return nil
	}
	return out
}

func envLevel(key string, fallback slog.Level) slog.Level {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return fallback
	}
	return level
}
