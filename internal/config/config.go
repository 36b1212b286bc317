// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backends.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

// Config holds all application configuration.
type Config struct {
	Port           string
	FrontendURL    string
	StaticDir      string
	GRPCHealthPort string

	Store           StoreConfig
	LLM             LLMConfig
	CRM             CRMConfig
	HeyGen          ServiceConfig
	Solar           ServiceConfig
	Search          ServiceConfig
	Browser         BrowserConfig
	Chat            ChatConfig
	RateLimit       RateLimitConfig
	ConversationLog ConversationLogConfig

	// APITimeout bounds every outbound REST call made by a tool.
	APITimeout time.Duration
}

// StoreConfig selects and tunes the session registry.
type StoreConfig struct {
	Backend       string
	DBPath        string
	SessionTTL    time.Duration
	MaxSessions   int
	StatusTTL     time.Duration
	SweepInterval time.Duration
}

// LLMConfig configures the model provider.
type LLMConfig struct {
	APIKey         string
	Model          string
	EmbeddingModel string
	Temperature    float64
}

// CRMConfig configures the GHL client.
type CRMConfig struct {
	APIKey     string
	BaseURL    string
	LocationID string
	CompanyID  string
	Timezone   string
}

// ServiceConfig is the shape shared by single-key REST services.
type ServiceConfig struct {
	APIKey  string
	BaseURL string
}

// Enabled reports whether the service has credentials.
func (s ServiceConfig) Enabled() bool {
	return s.APIKey != ""
}

// BrowserConfig configures screenshot capture.
type BrowserConfig struct {
	Enabled bool
	Image   string
	Timeout time.Duration
}

// ChatConfig tunes the group chat.
type ChatConfig struct {
	ThinkPause    time.Duration
	MaxRounds     int
	TemplatesPath string
	Greeting      string
}

// RateLimitConfig bounds chat messages per user.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// DefaultGreeting is sent to brand-new sessions.
const DefaultGreeting = "Hi! I'm your sales assistant team. Share your website and tell me what you'd like help with: " +
	"a pre-sales analysis, a social media plan, or booking a meeting."

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:           getEnv("PORT", "8000"),
		FrontendURL:    getEnv("FRONTEND_URL", ""),
		StaticDir:      getEnv("STATIC_DIR", "./data/static"),
		GRPCHealthPort: getEnv("GRPC_HEALTH_PORT", ""),
		Store: StoreConfig{
			Backend:       strings.ToLower(getEnv("STORE_BACKEND", StoreMemory)),
			DBPath:        getEnv("DB_PATH", "./data/sessions.db"),
			SessionTTL:    getEnvDuration("SESSION_TTL", 24*time.Hour),
			MaxSessions:   getEnvInt("SESSION_MAX", 10000),
			StatusTTL:     getEnvDuration("CHAT_STATUS_TTL", time.Hour),
			SweepInterval: getEnvDuration("SWEEP_INTERVAL", 5*time.Minute),
		},
		LLM: LLMConfig{
			APIKey:         firstEnv("GEMINI_API_KEY", "GOOGLE_API_KEY"),
			Model:          getEnv("LLM_MODEL", "gemini-2.5-flash"),
			EmbeddingModel: getEnv("EMBEDDING_MODEL", "text-embedding-004"),
			Temperature:    getEnvFloat("LLM_TEMPERATURE", 0.4),
		},
		CRM: CRMConfig{
			APIKey:     getEnv("GHL_API_KEY", ""),
			BaseURL:    getEnv("GHL_BASE_URL", "https://services.leadconnectorhq.com"),
			LocationID: getEnv("GHL_LOCATION_ID", ""),
			CompanyID:  getEnv("GHL_COMPANY_ID", ""),
			Timezone:   getEnv("GHL_TIMEZONE", "America/New_York"),
		},
		HeyGen: ServiceConfig{
			APIKey:  getEnv("HEYGEN_API_KEY", ""),
			BaseURL: getEnv("HEYGEN_BASE_URL", "https://api.heygen.com"),
		},
		Solar: ServiceConfig{
			APIKey:  getEnv("SOLAR_API_KEY", ""),
			BaseURL: getEnv("SOLAR_BASE_URL", "https://solar.googleapis.com"),
		},
		Search: ServiceConfig{
			APIKey:  getEnv("SEARCH_API_KEY", ""),
			BaseURL: getEnv("SEARCH_BASE_URL", "https://google.serper.dev"),
		},
		Browser: BrowserConfig{
			Enabled: getEnvBool("SCREENSHOT_ENABLED", true),
			Image:   getEnv("BROWSER_IMAGE", "zenika/alpine-chrome:latest"),
			Timeout: getEnvDuration("SCREENSHOT_TIMEOUT", 45*time.Second),
		},
		Chat: ChatConfig{
			ThinkPause:    getEnvDuration("THINK_PAUSE", 400*time.Millisecond),
			MaxRounds:     getEnvInt("MAX_ROUNDS", 120),
			TemplatesPath: getEnv("TEMPLATES_PATH", "./data/templates.csv"),
			Greeting:      getEnv("GREETING", DefaultGreeting),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 30),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		ConversationLog: ConversationLogConfig{
			Enabled:   getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:       getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			QueueSize: getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000),
		},
		APITimeout: getEnvDuration("API_TIMEOUT", 30*time.Second),
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
	if c.StaticDir == "" {
		return fmt.Errorf("STATIC_DIR cannot be empty")
	}
	switch c.Store.Backend {
	case StoreMemory:
	case StoreSQLite:
		if c.Store.DBPath == "" {
			return fmt.Errorf("DB_PATH cannot be empty when STORE_BACKEND=sqlite")
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", StoreMemory, StoreSQLite, c.Store.Backend)
	}
	if c.Store.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}
	if c.Store.StatusTTL <= 0 {
		return fmt.Errorf("CHAT_STATUS_TTL must be > 0")
	}
	if c.Store.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be > 0")
	}
	if c.Chat.MaxRounds <= 0 {
		return fmt.Errorf("MAX_ROUNDS must be > 0")
	}
	if c.Chat.ThinkPause < 0 {
		return fmt.Errorf("THINK_PAUSE cannot be negative")
	}
	if c.RateLimit.RequestsPerWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be > 0")
	}
	if c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be > 0")
	}
	if c.ConversationLog.Enabled && c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	if c.APITimeout <= 0 {
		return fmt.Errorf("API_TIMEOUT must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origin list derived from FrontendURL.
func (c *Config) AllowedOrigins() []string {
	if c.IsDevelopment() {
		return []string{"*"}
	}
	return []string{c.FrontendURL}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
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
