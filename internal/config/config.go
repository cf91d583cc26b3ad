// Package config handles application configuration.
package config

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/hkdf"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port    int
	BaseURL string

	// Database
	DatabaseURL string

	// Authentication
	AuthSecret     string // Master secret for bearer token verification
	AuthSigningKey []byte // 32-byte HMAC key derived from AuthSecret

	// Stripe
	StripeSecretKey     string
	StripeWebhookSecret string

	// Generation provider (Kie.ai task API)
	KieAPIKey      string
	KieBaseURL     string
	KieMaxRetries  int           // Consecutive 5xx failures tolerated before giving up
	KieRetryDelay  time.Duration // Initial backoff delay, doubled per attempt
	KieCallbackURL string        // Optional callback URL passed on task creation

	// Object Storage (S3-compatible)
	StorageEnabled   bool
	StorageEndpoint  string // AWS_ENDPOINT_URL_S3 for S3-compatible providers
	StorageAccessKey string // AWS_ACCESS_KEY_ID
	StorageSecretKey string // AWS_SECRET_ACCESS_KEY
	StorageRegion    string // Region (auto for Tigris-style providers)
	UploadsBucket    string // User-submitted input images
	ResultsBucket    string // Generated output media
	SignedURLTTL     time.Duration

	// Credit costs per result kind
	CreditCostImage int64
	CreditCostVideo int64
	CreditCostMusic int64

	// Reconciliation ceilings per result kind. A job still non-terminal
	// past its ceiling is force-failed on the next reconciliation pass.
	TimeoutImage time.Duration
	TimeoutVideo time.Duration
	TimeoutMusic time.Duration

	// Poll cadence per result kind
	PollIntervalImage time.Duration
	PollIntervalVideo time.Duration
	PollIntervalMusic time.Duration

	// Background sweeper
	SweepEnabled  bool
	SweepInterval time.Duration

	// CORS
	CORSOrigins []string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnvInt("PORT", 8080),
		BaseURL:     getEnv("BASE_URL", "http://localhost:8080"),
		DatabaseURL: getEnv("DATABASE_URL", "file:image2ad.db?_journal=WAL&_timeout=5000"),
		AuthSecret:  getEnv("AUTH_SECRET", ""),

		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),

		KieAPIKey:      getEnv("KIE_API_KEY", ""),
		KieBaseURL:     getEnv("KIE_BASE_URL", "https://api.kie.ai"),
		KieMaxRetries:  getEnvInt("KIE_MAX_RETRIES", 3),
		KieRetryDelay:  getEnvDuration("KIE_RETRY_DELAY", 2*time.Second),
		KieCallbackURL: getEnv("KIE_CALLBACK_URL", ""),

		// S3-compatible storage - uses the standard AWS env vars
		StorageEndpoint:  getEnv("AWS_ENDPOINT_URL_S3", ""),
		StorageAccessKey: getEnv("AWS_ACCESS_KEY_ID", ""),
		StorageSecretKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
		StorageRegion:    getEnv("AWS_REGION", "auto"),
		UploadsBucket:    getEnv("UPLOADS_BUCKET", ""),
		ResultsBucket:    getEnv("RESULTS_BUCKET", ""),
		SignedURLTTL:     getEnvDuration("SIGNED_URL_TTL", 15*time.Minute),

		CORSOrigins: getEnvSlice("CORS_ORIGINS", []string{"http://localhost:3000"}),
	}

	// Enable storage if both buckets are configured
	cfg.StorageEnabled = cfg.UploadsBucket != "" && cfg.ResultsBucket != "" && cfg.StorageEndpoint != ""

	// Credit costs per result kind
	cfg.CreditCostImage = getEnvInt64("CREDIT_COST_IMAGE", 1)
	cfg.CreditCostVideo = getEnvInt64("CREDIT_COST_VIDEO", 8)
	cfg.CreditCostMusic = getEnvInt64("CREDIT_COST_MUSIC", 3)

	// Reconciliation ceilings - video generation runs much longer than image
	cfg.TimeoutImage = getEnvDuration("TIMEOUT_IMAGE", 5*time.Minute)
	cfg.TimeoutVideo = getEnvDuration("TIMEOUT_VIDEO", 30*time.Minute)
	cfg.TimeoutMusic = getEnvDuration("TIMEOUT_MUSIC", 10*time.Minute)

	// Poll cadence per result kind
	cfg.PollIntervalImage = getEnvDuration("POLL_INTERVAL_IMAGE", 5*time.Second)
	cfg.PollIntervalVideo = getEnvDuration("POLL_INTERVAL_VIDEO", 20*time.Second)
	cfg.PollIntervalMusic = getEnvDuration("POLL_INTERVAL_MUSIC", 10*time.Second)

	// Background sweeper configuration
	cfg.SweepEnabled = getEnvBool("SWEEP_ENABLED", true)
	cfg.SweepInterval = getEnvDuration("SWEEP_INTERVAL", 30*time.Second)

	if cfg.AuthSecret == "" {
		return nil, fmt.Errorf("AUTH_SECRET is required")
	}
	cfg.AuthSigningKey = deriveSigningKey(cfg.AuthSecret)

	return cfg, nil
}

// CreditCost returns the configured credit cost for a result kind.
// Unknown kinds cost the image rate.
func (c *Config) CreditCost(kind string) int64 {
	switch kind {
	case "video":
		return c.CreditCostVideo
	case "music":
		return c.CreditCostMusic
	default:
		return c.CreditCostImage
	}
}

// ReconcileTimeout returns the wall-clock ceiling for a result kind.
func (c *Config) ReconcileTimeout(kind string) time.Duration {
	switch kind {
	case "video":
		return c.TimeoutVideo
	case "music":
		return c.TimeoutMusic
	default:
		return c.TimeoutImage
	}
}

// PollInterval returns the polling cadence for a result kind.
func (c *Config) PollInterval(kind string) time.Duration {
	switch kind {
	case "video":
		return c.PollIntervalVideo
	case "music":
		return c.PollIntervalMusic
	default:
		return c.PollIntervalImage
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "true" || lower == "1" || lower == "yes"
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

// deriveSigningKey creates a 32-byte HMAC key from the auth secret using HKDF.
// HKDF (HMAC-based Key Derivation Function) is appropriate for deriving keys from
// high-entropy secrets. For low-entropy passwords, use Argon2 instead.
func deriveSigningKey(secret string) []byte {
	// Salt is fixed but unique to this application; info binds the key to its purpose
	salt := []byte("image2ad-api-signing-key-v1")
	info := []byte("bearer-token-hmac")

	hkdfReader := hkdf.New(sha256.New, []byte(secret), salt, info)

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdfReader, key); err != nil {
		// Should never happen with valid inputs
		panic("hkdf: failed to derive key: " + err.Error())
	}

	return key
}

// encodeKey is used by tests to compare derived keys.
func encodeKey(key []byte) string {
	return base64.StdEncoding.EncodeToString(key)
}
