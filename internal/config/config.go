// Package config loads Mocksmith configuration from environment variables.
// The fallback chain for the generation pipeline is read here once at
// startup and passed by reference into the request handlers; nothing in
// this package mutates after Load returns.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all service configuration.
type Config struct {
	Environment string
	Port        string

	Database DatabaseConfig
	Redis    RedisConfig
	Stripe   StripeConfig
	AWS      AWSConfig

	// Provider API keys
	AnthropicAPIKey string
	OpenAIAPIKey    string

	// Generation pipeline
	Generation GenerationConfig

	JWTSecret string
}

// DatabaseConfig holds Postgres connection settings.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	TimeZone string
}

// RedisConfig holds the Redis connection URL. Empty disables caching.
type RedisConfig struct {
	URL string
}

// StripeConfig holds Stripe credentials.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
}

// AWSConfig holds S3 export-bundle storage settings.
type AWSConfig struct {
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
}

// ChainEntryConfig is one (model, provider, maxRetries) tuple of the
// fallback chain, in priority order.
type ChainEntryConfig struct {
	Model      string
	Provider   string
	MaxRetries int
}

// GenerationConfig configures the two-stage generation pipeline.
type GenerationConfig struct {
	// Chain entry 0 is the primary builder model; the rest are fallbacks.
	Chain []ChainEntryConfig

	// Fixed planning-stage model. Planning failures are non-fatal.
	PlanningModel    string
	PlanningProvider string

	// Delay between retryable failures of the same chain entry.
	RetryBackoff time.Duration

	// Overall deadline applied by the chat handler around one request.
	RequestTimeout time.Duration
}

// Defaults for the fallback chain when the environment is silent. Each
// slot has independent defaults so a partially configured chain still
// resolves to something sensible.
var chainDefaults = []ChainEntryConfig{
	{Model: "claude-sonnet-4-5", Provider: "anthropic", MaxRetries: 2},
	{Model: "gpt-4o", Provider: "openai", MaxRetries: 2},
	{Model: "claude-haiku-4-5", Provider: "anthropic", MaxRetries: 1},
	{Model: "gpt-4o-mini", Provider: "openai", MaxRetries: 1},
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Port:        getEnv("PORT", "8080"),
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "password"),
			DBName:   getEnv("DB_NAME", "mocksmith"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			TimeZone: getEnv("DB_TIMEZONE", "UTC"),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Stripe: StripeConfig{
			SecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
			WebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		},
		AWS: AWSConfig{
			Region:          getEnv("AWS_REGION", "us-east-1"),
			Bucket:          os.Getenv("EXPORT_BUCKET"),
			AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
		},
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		Generation:      loadGenerationConfig(),
		JWTSecret:       os.Getenv("JWT_SECRET"),
	}

	if cfg.JWTSecret == "" && cfg.Environment == "production" {
		return nil, fmt.Errorf("JWT_SECRET is required in production")
	}

	return cfg, nil
}

// loadGenerationConfig builds the fallback chain from MOCKSMITH_PRIMARY_*
// and MOCKSMITH_FALLBACK{1..3}_* variables. A fallback slot is included
// when either its model or provider is set, or when the slot default
// exists and the primary is using defaults too.
func loadGenerationConfig() GenerationConfig {
	gen := GenerationConfig{
		PlanningModel:    getEnv("MOCKSMITH_PLANNING_MODEL", "claude-haiku-4-5"),
		PlanningProvider: getEnv("MOCKSMITH_PLANNING_PROVIDER", "anthropic"),
		RetryBackoff:     getEnvDuration("MOCKSMITH_RETRY_BACKOFF", 2*time.Second),
		RequestTimeout:   getEnvDuration("MOCKSMITH_REQUEST_TIMEOUT", 120*time.Second),
	}

	prefixes := []string{
		"MOCKSMITH_PRIMARY",
		"MOCKSMITH_FALLBACK1",
		"MOCKSMITH_FALLBACK2",
		"MOCKSMITH_FALLBACK3",
	}

	for i, prefix := range prefixes {
		def := chainDefaults[i]
		entry := ChainEntryConfig{
			Model:      getEnv(prefix+"_MODEL", def.Model),
			Provider:   getEnv(prefix+"_PROVIDER", def.Provider),
			MaxRetries: getEnvInt(prefix+"_RETRIES", def.MaxRetries),
		}
		// An explicitly emptied slot drops the entry and everything after it.
		if entry.Model == "" || entry.Provider == "" {
			break
		}
		gen.Chain = append(gen.Chain, entry)
	}

	return gen
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
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
