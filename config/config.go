package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Server configuration
	Environment string

	// Redis configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// Payment provider configuration
	ProviderBaseURL   string
	ProviderSecretKey string
	WebhookSecret     string
	ProviderTimeout   time.Duration
	WebhookTolerance  time.Duration

	// Reservation configuration
	ReservationTTL time.Duration
	SweepInterval  time.Duration
	SweepBatchSize int

	// PubNub configuration (confirmation publishing)
	PubNubPublishKey    string
	PubNubSubscribeKey  string
	PubNubSecretKey     string
	ConfirmationChannel string

	// Rate limiting
	RateLimitPerMinute int64

	// Ops / monitoring
	EnableMetrics bool
	OpsAddr       string
	OpsTokenHash  string
}

func LoadConfig() *Config {
	return &Config{
		// Server
		Environment: getEnv("ENVIRONMENT", "development"),

		// Redis
		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		// Payment provider
		ProviderBaseURL:   getEnv("PROVIDER_BASE_URL", "https://api.stripe.com"),
		ProviderSecretKey: getEnv("PROVIDER_SECRET_KEY", ""),
		WebhookSecret:     getEnv("PROVIDER_WEBHOOK_SECRET", ""),
		ProviderTimeout:   getEnvAsDuration("PROVIDER_TIMEOUT", "10s"),
		WebhookTolerance:  getEnvAsDuration("WEBHOOK_TOLERANCE", "5m"),

		// Reservations
		ReservationTTL: getEnvAsDuration("RESERVATION_TTL", "30m"),
		SweepInterval:  getEnvAsDuration("SWEEP_INTERVAL", "1m"),
		SweepBatchSize: getEnvAsInt("SWEEP_BATCH_SIZE", 100),

		// PubNub
		PubNubPublishKey:    getEnv("PUBNUB_PUBLISH_KEY", ""),
		PubNubSubscribeKey:  getEnv("PUBNUB_SUBSCRIBE_KEY", ""),
		PubNubSecretKey:     getEnv("PUBNUB_SECRET_KEY", ""),
		ConfirmationChannel: getEnv("CONFIRMATION_CHANNEL", "ticket-confirmations"),

		// Rate limiting
		RateLimitPerMinute: int64(getEnvAsInt("RATE_LIMIT_PER_MINUTE", 30)),

		// Ops
		EnableMetrics: getEnvAsBool("ENABLE_METRICS", true),
		OpsAddr:       getEnv("OPS_ADDR", ":9090"),
		OpsTokenHash:  getEnv("OPS_TOKEN_HASH", ""),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	// If parsing fails, try to parse default value
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}
