// Package config loads runtime configuration from the environment.
package config

import (
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	LockBackendMemory = "memory"
	LockBackendRedis  = "redis"
)

type Config struct {
	DBPath        string // WORKSHOP_DB
	Addr          string // WORKSHOP_ADDR
	AdminName     string // WORKSHOP_ADMIN: first-run admin account
	UserAdminName string // WORKSHOP_USER_ADMIN: optional first-run user-admin account

	Env       string // ENV (dev, staging, prod)
	LogLevel  string // LOG_LEVEL (debug, info, warn, error)
	LogFormat string // LOG_FORMAT (text, json)
	LogFile   string // LOG_FILE

	JWTSecret string        // JWT_SECRET; persisted in the database when empty
	TokenTTL  time.Duration // TOKEN_TTL

	LockBackend string        // LOCK_BACKEND (memory, redis)
	LockTimeout time.Duration // LOCK_TIMEOUT: how long a transition waits for an item
	LockTTL     time.Duration // LOCK_TTL: redis lock lease

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	StatsCacheTTL     time.Duration
	AllowRegistration bool
	LoginRatePerMin   int
	LoginBurst        int
	// TRUSTED_PROXIES: comma-separated IPs or CIDRs whose X-Forwarded-For is
	// believed when rate limiting logins.
	TrustedProxies []netip.Prefix

	OTLPEndpoint        string // OTEL_EXPORTER_OTLP_ENDPOINT; tracing is off when empty
	ShutdownGracePeriod time.Duration
}

// Load reads configuration from the process environment, after loading a
// .env file from the working directory if one exists. Variables already set
// in the environment win over the file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		DBPath:        getEnvOrDefault("WORKSHOP_DB", "workshop.sqlite3"),
		Addr:          getEnvOrDefault("WORKSHOP_ADDR", ":8080"),
		AdminName:     getEnvOrDefault("WORKSHOP_ADMIN", "Admin"),
		UserAdminName: os.Getenv("WORKSHOP_USER_ADMIN"),

		Env:       getEnvOrDefault("ENV", "dev"),
		LogLevel:  getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "text"),
		LogFile:   os.Getenv("LOG_FILE"),

		JWTSecret: os.Getenv("JWT_SECRET"),
		TokenTTL:  getEnvDurationOrDefault("TOKEN_TTL", 7*24*time.Hour),

		LockBackend: strings.ToLower(getEnvOrDefault("LOCK_BACKEND", LockBackendMemory)),
		LockTimeout: getEnvDurationOrDefault("LOCK_TIMEOUT", 5*time.Second),
		LockTTL:     getEnvDurationOrDefault("LOCK_TTL", 30*time.Second),

		RedisAddr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvIntOrDefault("REDIS_DB", 0),

		StatsCacheTTL:     getEnvDurationOrDefault("STATS_CACHE_TTL", 2*time.Second),
		AllowRegistration: getEnvBoolOrDefault("ALLOW_REGISTRATION", true),
		LoginRatePerMin:   getEnvIntOrDefault("LOGIN_RATE_PER_MINUTE", 10),
		LoginBurst:        getEnvIntOrDefault("LOGIN_BURST", 5),
		TrustedProxies:    getEnvPrefixes("TRUSTED_PROXIES"),

		OTLPEndpoint:        os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		ShutdownGracePeriod: getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvPrefixes parses a comma-separated list of IPs and CIDRs. Malformed
// entries are skipped.
func getEnvPrefixes(key string) []netip.Prefix {
	var prefixes []netip.Prefix
	for _, v := range strings.Split(os.Getenv(key), ",") {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if p, err := netip.ParsePrefix(v); err == nil {
			prefixes = append(prefixes, p.Masked())
			continue
		}
		if a, err := netip.ParseAddr(v); err == nil {
			prefixes = append(prefixes, netip.PrefixFrom(a, a.BitLen()))
		}
	}
	return prefixes
}
