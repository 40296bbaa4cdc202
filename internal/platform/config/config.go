package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	pstrings "permguard/pkg/platform/strings"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr          string
	JWTSigningKey string
	JWTIssuer     string
	LogLevel      string
	// CORSOrigins lists browser origins allowed to call the admin API.
	CORSOrigins []string
	// MutationRate and MutationBurst bound grant changes per principal.
	MutationRate  float64
	MutationBurst int
}

// RedisConfig configures the shared permission cache. An empty URL selects
// the in-process cache.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig configures cross-instance cache invalidation. No brokers
// disables broadcasting.
type KafkaConfig struct {
	Brokers           []string
	InvalidationTopic string
}

// Permissions holds engine settings.
type Permissions struct {
	AdminRoles []string
	// RoleMembers is the static role directory, "Role=user1|user2;Other=user3".
	RoleMembers string
	// RoleMembersFile is an optional YAML role directory merged with RoleMembers.
	RoleMembersFile string
	CacheTTL        time.Duration
}

// Retention configures data-access log retention. Policies use the format
// accepted by dataaccess.ParsePolicies.
type Retention struct {
	Policies string
	Schedule string
}

type Config struct {
	Server      Server
	DatabaseURL string
	Redis       RedisConfig
	Kafka       KafkaConfig
	Permissions Permissions
	Retention   Retention
}

const devSigningKey = "dev-secret-key-change-in-production"

// FromEnv builds the configuration from environment variables, after loading
// an optional .env file from the working directory.
func FromEnv() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	var errs []error
	duration := func(key string, fallback time.Duration) time.Duration {
		raw := os.Getenv(key)
		if raw == "" {
			return fallback
		}
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("%s: invalid duration %q", key, raw))
			return fallback
		}
		return d
	}
	integer := func(key string, fallback int) int {
		raw := os.Getenv(key)
		if raw == "" {
			return fallback
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			errs = append(errs, fmt.Errorf("%s: invalid number %q", key, raw))
			return fallback
		}
		return n
	}

	rate := func(key string, fallback float64) float64 {
		raw := os.Getenv(key)
		if raw == "" {
			return fallback
		}
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil || f <= 0 {
			errs = append(errs, fmt.Errorf("%s: invalid rate %q", key, raw))
			return fallback
		}
		return f
	}

	cfg := Config{
		Server: Server{
			Addr:          getEnv("PERMGUARD_ADDR", ":8080"),
			JWTSigningKey: getEnv("JWT_SIGNING_KEY", devSigningKey),
			JWTIssuer:     getEnv("JWT_ISSUER", "permguard"),
			LogLevel:      getEnv("LOG_LEVEL", "info"),
			CORSOrigins:   pstrings.SplitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
			MutationRate:  rate("PERMGUARD_MUTATION_RATE", 5),
			MutationBurst: integer("PERMGUARD_MUTATION_BURST", 20),
		},
		DatabaseURL: os.Getenv("DATABASE_URL"),
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     integer("REDIS_POOL_SIZE", 10),
			MinIdleConns: integer("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  duration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  duration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: duration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:           pstrings.SplitList(os.Getenv("KAFKA_BROKERS")),
			InvalidationTopic: getEnv("KAFKA_INVALIDATION_TOPIC", "permguard.cache-invalidations"),
		},
		Permissions: Permissions{
			AdminRoles:      pstrings.DedupeAndTrim(strings.Split(getEnv("PERMGUARD_ADMIN_ROLES", "Administrator"), ",")),
			RoleMembers:     os.Getenv("PERMGUARD_ROLE_MEMBERS"),
			RoleMembersFile: os.Getenv("PERMGUARD_ROLE_MEMBERS_FILE"),
			CacheTTL:        duration("PERMISSION_CACHE_TTL", 12*time.Hour),
		},
		Retention: Retention{
			Policies: os.Getenv("DATA_ACCESS_RETENTION"),
			Schedule: getEnv("RETENTION_SCHEDULE", "0 3 * * *"),
		},
	}
	return cfg, errors.Join(errs...)
}

// UsesDevSigningKey reports whether tokens are signed with the built-in
// development key.
func (c Config) UsesDevSigningKey() bool {
	return c.Server.JWTSigningKey == devSigningKey
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
