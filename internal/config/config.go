package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port     int
	LogLevel string

	// Document store backend: memory, supabase or mongo.
	StoreBackend string

	// Supabase
	SupabaseURL        string
	SupabaseAnonKey    string
	SupabaseServiceKey string
	SupabasePollEvery  time.Duration

	// MongoDB
	MongoURI      string
	MongoDatabase string

	// HTTP client
	HTTPTimeout time.Duration

	// Resilience
	MaxRetries     int
	InitialBackoff time.Duration
	MaxConcurrency int

	// Cache
	CacheTTL  time.Duration
	RedisAddr string // empty means in-memory

	// Observability
	OTLPEndpoint string

	// JWT / Auth
	JWTSecret       string
	FederatedSecret string
	JWTAccessTTL    time.Duration
	JWTRefreshTTL   time.Duration
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		StoreBackend: getEnv("STORE_BACKEND", "memory"),

		SupabaseURL:        getEnv("SUPABASE_URL", ""),
		SupabaseAnonKey:    getEnv("SUPABASE_ANON_KEY", ""),
		SupabaseServiceKey: getEnv("SUPABASE_SERVICE_ROLE_KEY", ""),
		SupabasePollEvery:  getEnvDuration("SUPABASE_POLL_INTERVAL", 2*time.Second),

		MongoURI:      getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase: getEnv("MONGO_DATABASE", "evvosync"),

		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", 10*time.Second),

		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
		InitialBackoff: getEnvDuration("INITIAL_BACKOFF", 100*time.Millisecond),
		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 50),

		CacheTTL:  getEnvDuration("CACHE_TTL", 5*time.Minute),
		RedisAddr: getEnv("REDIS_ADDR", ""),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),

		JWTSecret:       getEnv("JWT_SECRET", "evvo-default-dev-secret-change-me"),
		FederatedSecret: getEnv("FEDERATED_ID_SECRET", ""),
		JWTAccessTTL:    getEnvDuration("JWT_ACCESS_TTL", 15*time.Minute),
		JWTRefreshTTL:   getEnvDuration("JWT_REFRESH_TTL", 7*24*time.Hour),
	}
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

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
