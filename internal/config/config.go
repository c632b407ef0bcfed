package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
)

type Config struct {
	HTTPAddr    string
	LogLevel    string
	TraceStdout bool

	StoreBackend    string
	PostgresDSN     string
	MongoURI        string
	MongoDatabase   string
	MongoCollection string
	RedisAddr       string
	NATSURL         string
	EventsSubject   string
	JWTSecret       string
	IdempotencyTTL  time.Duration
	GeolocationKey  string
	GeolocationURL  string
	GeolocationTO   time.Duration
	StaticLocation  string
	RateReadRPS     float64
	RateReadBurst   float64
	RateWriteRPS    float64
	RateWriteBurst  float64
	OutboxPoll      time.Duration
	OutboxBatch     int
	OutboxRetry     int
	HistorySize     int
}

// Load reads the environment, after merging an optional .env file from the
// working directory. Variables already set in the environment win.
func Load() Config {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv reads configuration from the process environment only.
func FromEnv() Config {
	return Config{
		HTTPAddr:        getenv("HTTP_ADDR", ":8080"),
		LogLevel:        getenv("LOG_LEVEL", "info"),
		TraceStdout:     parseBoolEnv("TRACE_STDOUT", false),
		StoreBackend:    getenv("STORE_BACKEND", BackendMemory),
		PostgresDSN:     firstNonEmpty(os.Getenv("POSTGRES_DSN"), os.Getenv("DATABASE_URL")),
		MongoURI:        os.Getenv("MONGODB_URI"),
		MongoDatabase:   getenv("MONGODB_DATABASE", "food_waste_db"),
		MongoCollection: getenv("MONGODB_COLLECTION", "food_items"),
		RedisAddr:       os.Getenv("REDIS_ADDR"),
		NATSURL:         os.Getenv("NATS_URL"),
		EventsSubject:   getenv("EVENTS_SUBJECT", "listing.events"),
		JWTSecret:       os.Getenv("JWT_SECRET"),
		IdempotencyTTL:  parseDurationEnv("IDEMPOTENCY_TTL", 24*time.Hour),
		GeolocationKey:  os.Getenv("GEOLOCATION_API_KEY"),
		GeolocationURL:  getenv("GEOLOCATION_URL", "https://www.googleapis.com/geolocation/v1/geolocate"),
		GeolocationTO:   parseDurationEnv("GEOLOCATION_TIMEOUT", 5*time.Second),
		StaticLocation:  os.Getenv("STATIC_LOCATION"),
		RateReadRPS:     parseFloatEnv("RATE_READ_RPS", 50),
		RateReadBurst:   parseFloatEnv("RATE_READ_BURST", 100),
		RateWriteRPS:    parseFloatEnv("RATE_WRITE_RPS", 10),
		RateWriteBurst:  parseFloatEnv("RATE_WRITE_BURST", 20),
		OutboxPoll:      time.Duration(parseIntEnv("OUTBOX_POLL_MS", 200)) * time.Millisecond,
		OutboxBatch:     parseIntEnv("OUTBOX_BATCH", 100),
		OutboxRetry:     parseIntEnv("OUTBOX_RETRY_MAX", 3),
		HistorySize:     parseIntEnv("HISTORY_SIZE", 10),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func parseIntEnv(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func parseFloatEnv(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func parseBoolEnv(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func parseDurationEnv(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return fallback
}
