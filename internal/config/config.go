package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Cache backends.
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// Database drivers of the reference RFV API.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port     int
	LogLevel string

	// RFV API
	RFVAPIURL   string
	RFVAPIToken string

	// HTTP client
	HTTPTimeout time.Duration

	// Resilience
	MaxRetries     int
	InitialBackoff time.Duration
	MaxConcurrency int

	// Cache
	CacheBackend   string
	CacheTTL       time.Duration
	PendingSaveTTL time.Duration
	RedisAddr      string
	RedisPassword  string
	RedisDB        int

	// Observability
	OTLPEndpoint string
	TracingOn    bool

	// Auth (disabled when JWTSecret is empty)
	JWTSecret string

	// Rate limiting of write routes
	RateLimitRPS   float64
	RateLimitBurst int

	// Reference RFV API
	RefAPIPort  int
	DBDriver    string
	SQLitePath  string
	PostgresDSN string
}

// LoadDotEnv loads .env files into the environment.
// Variables already set are never overridden; missing files are ignored.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		RFVAPIURL:   getEnv("RFV_API_URL", "http://localhost:8081"),
		RFVAPIToken: getEnv("RFV_API_TOKEN", ""),

		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", 10*time.Second),

		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
		InitialBackoff: getEnvDuration("INITIAL_BACKOFF", 100*time.Millisecond),
		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 20),

		CacheBackend:   getEnv("CACHE_BACKEND", CacheMemory),
		CacheTTL:       getEnvDuration("CACHE_TTL", 5*time.Minute),
		PendingSaveTTL: getEnvDuration("PENDING_SAVE_TTL", 10*time.Minute),
		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisDB:        getEnvInt("REDIS_DB", 0),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		TracingOn:    getEnvBool("TRACING_ENABLED", true),

		JWTSecret: getEnv("JWT_SECRET", ""),

		RateLimitRPS:   getEnvFloat("RATE_LIMIT_RPS", 5),
		RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 10),

		RefAPIPort:  getEnvInt("REFAPI_PORT", 8081),
		DBDriver:    getEnv("DB_DRIVER", DriverSQLite),
		SQLitePath:  getEnv("SQLITE_PATH", "rfv.db"),
		PostgresDSN: getEnv("POSTGRES_DSN", ""),
	}
}

// AuthEnabled reports whether bearer tokens are verified.
func (c *Config) AuthEnabled() bool {
	return c.JWTSecret != ""
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
