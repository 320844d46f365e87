// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultJWTSecret is the placeholder secret. It is refused outside debug mode.
const DefaultJWTSecret = "change-me-in-production"

// Config holds all application configuration.
type Config struct {
	AppName     string
	Debug       bool
	Port        string
	FrontendURL string
	CORSOrigins []string
	DBPath      string
	RedisURL    string // empty = in-process code store
	LogLevel    slog.Level

	Auth      AuthConfig
	RateLimit RateLimitConfig
	LLM       LLMConfig
	Retention RetentionConfig
}

// AuthConfig controls verification codes and access tokens.
type AuthConfig struct {
	JWTSecret      string
	AccessTokenTTL time.Duration
	CodeTTL        time.Duration
	CodeLength     int
}

// RateLimitConfig holds per-minute request budgets.
type RateLimitConfig struct {
	SendCodePerMinute   int
	VerifyCodePerMinute int
	ChatPerMinute       int
}

// LLMConfig selects the language model provider.
type LLMConfig struct {
	Provider    string // "openai" (any compatible endpoint) or "anthropic"
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
}

// RetentionConfig controls the conversation cleanup job.
type RetentionConfig struct {
	MaxAge   time.Duration // 0 disables the job
	Schedule string        // cron spec
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		AppName:     getEnv("APP_NAME", "reborn"),
		Debug:       getEnvBool("DEBUG", false),
		Port:        getEnv("PORT", "8000"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		CORSOrigins: getEnvList("CORS_ORIGINS", nil),
		DBPath:      getEnv("DB_PATH", "./data/reborn.db"),
		RedisURL:    getEnv("REDIS_URL", ""),
		LogLevel:    getEnvLevel("LOG_LEVEL", slog.LevelInfo),
		Auth: AuthConfig{
			JWTSecret:      getEnv("JWT_SECRET", DefaultJWTSecret),
			AccessTokenTTL: getEnvDuration("ACCESS_TOKEN_TTL", 7*24*time.Hour),
			CodeTTL:        getEnvDuration("VERIFICATION_CODE_TTL", 5*time.Minute),
			CodeLength:     getEnvInt("VERIFICATION_CODE_LENGTH", 6),
		},
		RateLimit: RateLimitConfig{
			SendCodePerMinute:   getEnvInt("SEND_CODE_PER_MINUTE", 1),
			VerifyCodePerMinute: getEnvInt("VERIFY_CODE_PER_MINUTE", 5),
			ChatPerMinute:       getEnvInt("CHAT_PER_MINUTE", 20),
		},
		LLM: LLMConfig{
			Provider:    getEnv("LLM_PROVIDER", "openai"),
			APIKey:      getEnv("LLM_API_KEY", ""),
			BaseURL:     getEnv("LLM_BASE_URL", ""),
			Model:       getEnv("LLM_MODEL", "qwen-plus"),
			Temperature: getEnvFloat("LLM_TEMPERATURE", 0.7),
			MaxTokens:   getEnvInt("LLM_MAX_TOKENS", 1024),
		},
		Retention: RetentionConfig{
			MaxAge:   getEnvDuration("CONVERSATION_RETENTION", 180*24*time.Hour),
			Schedule: getEnv("RETENTION_SCHEDULE", "@daily"),
		},
	}

	if len(cfg.CORSOrigins) == 0 && cfg.FrontendURL != "" {
		cfg.CORSOrigins = []string{cfg.FrontendURL}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return errors.New("DB_PATH cannot be empty")
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("JWT_SECRET cannot be empty")
	}
	if !c.Debug && c.Auth.JWTSecret == DefaultJWTSecret {
		return errors.New("JWT_SECRET must be changed when DEBUG is off")
	}
	if c.Auth.AccessTokenTTL <= 0 {
		return errors.New("ACCESS_TOKEN_TTL must be > 0")
	}
	if c.Auth.CodeTTL <= 0 {
		return errors.New("VERIFICATION_CODE_TTL must be > 0")
	}
	if c.Auth.CodeLength < 4 || c.Auth.CodeLength > 12 {
		return errors.New("VERIFICATION_CODE_LENGTH must be between 4 and 12")
	}
	if c.RateLimit.SendCodePerMinute <= 0 {
		return errors.New("SEND_CODE_PER_MINUTE must be > 0")
	}
	if c.RateLimit.VerifyCodePerMinute <= 0 {
		return errors.New("VERIFY_CODE_PER_MINUTE must be > 0")
	}
	if c.RateLimit.ChatPerMinute <= 0 {
		return errors.New("CHAT_PER_MINUTE must be > 0")
	}
	switch c.LLM.Provider {
	case "openai", "dashscope", "anthropic":
	default:
		return fmt.Errorf("LLM_PROVIDER %q is not supported", c.LLM.Provider)
	}
	if c.LLM.Model == "" {
		return errors.New("LLM_MODEL cannot be empty")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return errors.New("LLM_TEMPERATURE must be between 0 and 2")
	}
	if c.LLM.MaxTokens <= 0 {
		return errors.New("LLM_MAX_TOKENS must be > 0")
	}
	if c.Retention.MaxAge < 0 {
		return errors.New("CONVERSATION_RETENTION cannot be negative")
	}
	if c.Retention.MaxAge > 0 && c.Retention.Schedule == "" {
		return errors.New("RETENTION_SCHEDULE cannot be empty when retention is enabled")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Debug ||
		c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

// getEnvDuration accepts Go durations ("90m", "720h") and a plain day count
// with a "d" suffix ("180d").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if days, found := strings.CutSuffix(value, "d"); found {
		n, err := strconv.Atoi(days)
		if err != nil {
			return fallback
		}
		return time.Duration(n) * 24 * time.Hour
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getEnvLevel(key string, fallback slog.Level) slog.Level {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(value))); err != nil {
		return fallback
	}
	return level
}
