// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	GRPCPort    string // empty disables the gRPC health listener
	FrontendURL string
	DBPath      string
	SessionTTL  time.Duration

	Pipeline        PipelineConfig
	Extractor       ExtractorConfig
	Twilio          TwilioConfig
	RateLimit       RateLimitConfig
	CORSOrigins     []string
	MaxRequestBody  int64
	ConversationLog ConversationLogConfig
}

// PipelineConfig holds the turn engine tunables.
type PipelineConfig struct {
	MaxContinuationTurns int
	DefaultOwnerID       int64
	StructuredOutput     string // "text" or "json"
}

// ExtractorConfig selects the model backends tried before the rule extractor.
type ExtractorConfig struct {
	GeminiAPIKey string
	GeminiModel  string
	GRPCAddr     string
	Timeout      time.Duration
}

// TwilioConfig controls the SMS/WhatsApp webhook.
type TwilioConfig struct {
	AuthToken string
	// Validate enables X-Twilio-Signature checks. It defaults to true when a token is set.
	Validate      bool
	PublicBaseURL string
}

// RateLimitConfig controls per-identity chat throttling.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}
	token := getEnv("TWILIO_AUTH_TOKEN", "")

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		GRPCPort:    getEnv("GRPC_PORT", ""),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/logistics.db"),
		SessionTTL:  getEnvDuration("SESSION_TTL", 24*time.Hour),
		Pipeline: PipelineConfig{
			MaxContinuationTurns: getEnvInt("MAX_CONTINUATION_TURNS", 3),
			DefaultOwnerID:       getEnvInt64("DEFAULT_OWNER_ID", 1),
			StructuredOutput:     strings.ToLower(getEnv("STRUCTURED_OUTPUT", "text")),
		},
		Extractor: ExtractorConfig{
			GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
			GeminiModel:  getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
			GRPCAddr:     getEnv("EXTRACTOR_GRPC_ADDR", ""),
			Timeout:      getEnvDuration("EXTRACTOR_TIMEOUT", 10*time.Second),
		},
		Twilio: TwilioConfig{
			AuthToken:     token,
			Validate:      getEnvBool("TWILIO_VALIDATE", token != ""),
			PublicBaseURL: strings.TrimRight(getEnv("PUBLIC_BASE_URL", ""), "/"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 30),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		CORSOrigins:    splitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),
		MaxRequestBody: getEnvInt64("MAX_REQUEST_BODY_BYTES", 64<<10),
		ConversationLog: ConversationLogConfig{
			Enabled:       getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:           getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			GlobalEnabled: getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("CONVERSATION_LOG_GLOBAL_PATH", "./data/logs/conversations/all.ndjson"),
			QueueSize:     queueSize,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}
	if c.Pipeline.MaxContinuationTurns <= 0 {
		return fmt.Errorf("MAX_CONTINUATION_TURNS must be > 0")
	}
	if c.Pipeline.DefaultOwnerID < 0 {
		return fmt.Errorf("DEFAULT_OWNER_ID cannot be negative")
	}
	switch c.Pipeline.StructuredOutput {
	case "text", "json":
	default:
		return fmt.Errorf("STRUCTURED_OUTPUT must be text or json, got %q", c.Pipeline.StructuredOutput)
	}
	if c.Twilio.Validate && c.Twilio.AuthToken == "" {
		return fmt.Errorf("TWILIO_VALIDATE requires TWILIO_AUTH_TOKEN")
	}
	if c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be > 0")
	}
	if c.MaxRequestBody <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_BYTES must be > 0")
	}
	if c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalPath == "" {
		return fmt.Errorf("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// StructuredJSON reports whether successful replies are rendered as JSON.
func (c *Config) StructuredJSON() bool {
	return c.Pipeline.StructuredOutput == "json"
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

func getEnvInt64(key string, fallback int64) int64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
