package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration loaded from environment variables
type Config struct {
	Env       string
	Port      string
	AppURL    string
	LogLevel  string
	LogFormat string

	DatabaseURL   string
	RedisURL      string
	EncryptionKey string

	GitHubClientID     string
	GitHubClientSecret string
	GitHubCallbackURL  string
	SessionSecret      string

	// Webhook ingress
	WebhookEvents []string

	// Worker pool and external tool
	WorkerConcurrency int
	ToolCommand       string
	ToolArgs          []string
	ToolStub          bool
	ManifestDir       string
	StorageDir        string
	RenderMaxAttempts int
	RenderRetryDelay  time.Duration

	// Periodic tasks
	Timezone            string
	DigestSchedule      string
	ReconcileSchedule   string
	UpdateCheckSchedule string
	StaleRunAfter       time.Duration

	// Digest delivery: "stream" publishes to Redis, "http" posts to DigestWebhookURL
	DigestTransport     string
	DigestWebhookURL    string
	DigestWebhookSecret string
	DigestStub          bool
}

// Load reads configuration from environment variables
func Load() *Config {
	cfg := &Config{
		Env:       getEnvWithDefault("ENV", "development"),
		Port:      getEnvWithDefault("PORT", "8080"),
		AppURL:    getEnvWithDefault("APP_URL", "http://localhost:8080"),
		LogLevel:  getEnvWithDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvWithDefault("LOG_FORMAT", "text"),

		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisURL:      getEnvWithDefault("REDIS_URL", "redis://localhost:6379/0"),
		EncryptionKey: os.Getenv("ENCRYPTION_KEY"),

		GitHubClientID:     os.Getenv("GITHUB_CLIENT_ID"),
		GitHubClientSecret: os.Getenv("GITHUB_CLIENT_SECRET"),
		GitHubCallbackURL:  getEnvWithDefault("GITHUB_CALLBACK_URL", "http://localhost:8080/auth/github/callback"),
		SessionSecret:      os.Getenv("SESSION_SECRET"),

		WebhookEvents: getEnvList("WEBHOOK_EVENTS", []string{"pull_request", "push"}),

		WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 5),
		ToolCommand:       getEnvWithDefault("TOOL_COMMAND", "claude"),
		ToolArgs:          getEnvFields("TOOL_ARGS", []string{"-p", "--output-format", "json"}),
		ToolStub:          getEnvBool("TOOL_STUB", false),
		ManifestDir:       os.Getenv("MANIFEST_DIR"),
		StorageDir:        getEnvWithDefault("STORAGE_DIR", "./storage"),
		RenderMaxAttempts: getEnvInt("RENDER_MAX_ATTEMPTS", 3),
		RenderRetryDelay:  getEnvDuration("RENDER_RETRY_DELAY", 30*time.Second),

		Timezone:            getEnvWithDefault("SCHEDULE_TIMEZONE", "UTC"),
		DigestSchedule:      getEnvWithDefault("DIGEST_SCHEDULE", "*/15 * * * *"),
		ReconcileSchedule:   getEnvWithDefault("RECONCILE_SCHEDULE", "*/5 * * * *"),
		UpdateCheckSchedule: getEnvWithDefault("UPDATE_CHECK_SCHEDULE", "0 6 * * *"),
		StaleRunAfter:       getEnvDuration("STALE_RUN_AFTER", 45*time.Minute),

		DigestTransport:     getEnvWithDefault("DIGEST_TRANSPORT", "stream"),
		DigestWebhookURL:    os.Getenv("DIGEST_WEBHOOK_URL"),
		DigestWebhookSecret: os.Getenv("DIGEST_WEBHOOK_SECRET"),
		DigestStub:          getEnvBool("DIGEST_STUB", false),
	}

	// Warn if using default session secret (insecure for production)
	if cfg.SessionSecret == "" {
		cfg.SessionSecret = "dev-secret-change-in-production-use-openssl-rand-hex-32"
		log.Println("WARNING: Using default SESSION_SECRET. Generate a secure secret with: openssl rand -hex 32")
	}

	if cfg.EncryptionKey == "" {
		log.Println("WARNING: ENCRYPTION_KEY not set. Webhook secrets and OAuth tokens will be stored unencrypted.")
	}

	if cfg.RenderMaxAttempts < 1 {
		cfg.RenderMaxAttempts = 1
	}

	return cfg
}

// IsProduction reports whether the app runs with production settings.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("WARNING: invalid integer for %s=%q, using %d", key, value, defaultValue)
		return defaultValue
	}
	return n
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		log.Printf("WARNING: invalid boolean for %s=%q, using %t", key, value, defaultValue)
		return defaultValue
	}
	return b
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("WARNING: invalid duration for %s=%q, using %s", key, value, defaultValue)
		return defaultValue
	}
	return d
}

// getEnvList parses a comma-separated list, trimming blanks.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvFields(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return strings.Fields(value)
}
