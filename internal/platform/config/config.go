// Package config builds runtime configuration from environment variables so
// main stays lean. Defaults favor local development; production overrides
// everything through the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the top-level runtime configuration.
type Config struct {
	Server        ServerConfig
	Postgres      PostgresConfig
	Redis         RedisConfig
	Kafka         KafkaConfig
	Policy        PolicyConfig
	Approval      ApprovalConfig
	Impersonation ImpersonationConfig
}

// ServerConfig captures HTTP server level configuration.
type ServerConfig struct {
	Addr          string
	JWTSigningKey string
	JWTIssuer     string
}

// PostgresConfig configures the primary store. An empty DSN selects the
// in-memory stores (dev/test mode).
type PostgresConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig configures the session and idempotency stores. An empty URL
// selects the in-memory equivalents.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig configures the audit mirror. Empty brokers disable the mirror.
type KafkaConfig struct {
	Brokers    []string
	AuditTopic string
}

// PolicyConfig holds the configurable thresholds the risk rules evaluate.
// Amounts are in currency minor units (cents).
type PolicyConfig struct {
	PayoutApprovalThreshold int64
	RefundApprovalThreshold int64
	BulkSuspendThreshold    int
}

// ApprovalConfig governs the approval request lifecycle.
type ApprovalConfig struct {
	DefaultTTL    time.Duration
	SweepInterval time.Duration
}

// ImpersonationConfig governs impersonation sessions.
type ImpersonationConfig struct {
	SessionTTL time.Duration
}

// FromEnv builds a Config from environment variables.
func FromEnv() Config {
	return Config{
		Server: ServerConfig{
			Addr:          envOr("WARDEN_ADDR", ":8080"),
			JWTSigningKey: envOr("WARDEN_JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
			JWTIssuer:     envOr("WARDEN_JWT_ISSUER", "warden"),
		},
		Postgres: PostgresConfig{
			DSN:             os.Getenv("WARDEN_POSTGRES_DSN"),
			MaxOpenConns:    envInt("WARDEN_POSTGRES_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("WARDEN_POSTGRES_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("WARDEN_POSTGRES_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("WARDEN_REDIS_URL"),
			PoolSize:     envInt("WARDEN_REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("WARDEN_REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("WARDEN_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("WARDEN_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("WARDEN_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:    splitNonEmpty(os.Getenv("WARDEN_KAFKA_BROKERS")),
			AuditTopic: envOr("WARDEN_KAFKA_AUDIT_TOPIC", "warden.audit"),
		},
		Policy: PolicyConfig{
			PayoutApprovalThreshold: envInt64("WARDEN_PAYOUT_APPROVAL_THRESHOLD_CENTS", 100_000),
			RefundApprovalThreshold: envInt64("WARDEN_REFUND_APPROVAL_THRESHOLD_CENTS", 50_000),
			BulkSuspendThreshold:    envInt("WARDEN_BULK_SUSPEND_THRESHOLD", 1),
		},
		Approval: ApprovalConfig{
			DefaultTTL:    envDuration("WARDEN_APPROVAL_TTL", 24*time.Hour),
			SweepInterval: envDuration("WARDEN_APPROVAL_SWEEP_INTERVAL", 5*time.Minute),
		},
		Impersonation: ImpersonationConfig{
			SessionTTL: envDuration("WARDEN_IMPERSONATION_TTL", 4*time.Hour),
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
