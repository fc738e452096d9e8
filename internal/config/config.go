package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	LogLevel      string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// Routing / fusion tuning. Router threshold is deliberately lower than the
	// classifier threshold: patterns are curated, the classifier is not.
	RouterConfidenceThreshold     float64
	ClassifierConfidenceThreshold float64
	PatternMatchConfidence        float64
	FallbackIntent                string

	// Classifier backend selection and limits.
	ClassifierBackend string
	ClassifierBaseURL string
	ClassifierAPIKey  string
	ClassifierTimeout time.Duration
	GeminiAPIKey      string
	GeminiModelID     string

	// Flow behaviour.
	SmartEntryCompleteness float64

	AdminJWTSecret     string
	CORSAllowedOrigins []string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		RouterConfidenceThreshold:     getEnvAsFloat("ROUTER_CONFIDENCE_THRESHOLD", 0.6),
		ClassifierConfidenceThreshold: getEnvAsFloat("CLASSIFIER_CONFIDENCE_THRESHOLD", 0.75),
		PatternMatchConfidence:        getEnvAsFloat("PATTERN_MATCH_CONFIDENCE", 0.9),
		FallbackIntent:                getEnv("FALLBACK_INTENT", "unhandled"),

		ClassifierBackend: getEnv("CLASSIFIER_BACKEND", "http"),
		ClassifierBaseURL: getEnv("CLASSIFIER_BASE_URL", ""),
		ClassifierAPIKey:  getEnv("CLASSIFIER_API_KEY", ""),
		ClassifierTimeout: getEnvAsDuration("CLASSIFIER_TIMEOUT", time.Second),
		GeminiAPIKey:      getEnv("GEMINI_API_KEY", ""),
		GeminiModelID:     getEnv("GEMINI_MODEL_ID", "gemini-2.5-flash"),

		SmartEntryCompleteness: getEnvAsFloat("SMART_ENTRY_COMPLETENESS", 0.75),

		AdminJWTSecret:     getEnv("ADMIN_JWT_SECRET", ""),
		CORSAllowedOrigins: splitNonEmpty(getEnv("CORS_ALLOWED_ORIGINS", "")),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func splitNonEmpty(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
