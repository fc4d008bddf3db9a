package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Storage backends accepted by STORAGE_BACKEND.
const (
	BackendMemory    = "memory"
	BackendFile      = "file"
	BackendSQLite    = "sqlite"
	BackendMongo     = "mongo"
	BackendFirestore = "firestore"
)

// Token codecs accepted by TOKEN_MODE.
const (
	TokenModeSigned = "signed"
	TokenModeLegacy = "legacy"
)

// LLM providers accepted by LLM_PROVIDER.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
	ProviderMock   = "mock"
)

type Config struct {
	HTTPPort       string
	LogLevel       string
	LogFormat      string
	LogFile        string
	AllowedOrigins []string

	Storage StorageConfig
	Auth    AuthConfig
	LLM     LLMConfig
	Session SessionConfig
}

type StorageConfig struct {
	Backend          string
	Fallback         string
	DataDir          string
	DatabaseURL      string
	MongoURI         string
	MongoDatabase    string
	FirestoreProject string
	RedisURL         string
}

type AuthConfig struct {
	TokenMode         string
	JWTSecret         string
	TokenTTL          time.Duration
	MinPasswordLength int
}

type LLMConfig struct {
	Provider string
	APIKey   string
	BaseURL  string
	Model    string
}

// SessionConfig bounds prompt assembly for a single chat turn.
type SessionConfig struct {
	ScopedTemperature  float32
	ScopedMaxTokens    int
	DefaultTemperature float32
	MaxHistoryTurns    int
	MaxHistoryTokens   int
	RepeatReminder     bool
}

func LoadConfig() (*Config, error) {
	err := godotenv.Load() // Load .env file if it exists
	if err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	provider := strings.ToLower(getEnv("LLM_PROVIDER", ProviderOpenAI))

	cfg := &Config{
		HTTPPort:       getEnv("HTTP_PORT", "8080"),
		LogLevel:       getEnv("LOG_LEVEL", "INFO"),
		LogFormat:      getEnv("LOG_FORMAT", "json"),
		LogFile:        getEnv("LOG_FILE", ""),
		AllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),
		Storage: StorageConfig{
			Backend:          strings.ToLower(getEnv("STORAGE_BACKEND", BackendSQLite)),
			Fallback:         strings.ToLower(getEnv("STORAGE_FALLBACK", "")),
			DataDir:          getEnv("DATA_DIR", "./data"),
			DatabaseURL:      getEnv("DATABASE_URL", "chatbotmaker.db"),
			MongoURI:         getEnv("MONGODB_URI", ""),
			MongoDatabase:    getEnv("MONGODB_DATABASE", "chatbotmaker"),
			FirestoreProject: getEnv("FIRESTORE_PROJECT", ""),
			RedisURL:         getEnv("REDIS_URL", ""),
		},
		Auth: AuthConfig{
			TokenMode:         strings.ToLower(getEnv("TOKEN_MODE", TokenModeSigned)),
			JWTSecret:         getEnv("JWT_SECRET", ""),
			TokenTTL:          getEnvAsDuration("TOKEN_TTL", 30*24*time.Hour),
			MinPasswordLength: getEnvAsInt("MIN_PASSWORD_LENGTH", 0),
		},
		LLM: LLMConfig{
			Provider: provider,
			APIKey:   apiKeyFor(provider),
			BaseURL:  getEnv("LLM_BASE_URL", ""),
			Model:    getEnv("LLM_MODEL", ""),
		},
		Session: SessionConfig{
			ScopedTemperature:  getEnvAsFloat("SCOPED_TEMPERATURE", 0.3),
			ScopedMaxTokens:    getEnvAsInt("SCOPED_MAX_TOKENS", 1024),
			DefaultTemperature: getEnvAsFloat("DEFAULT_TEMPERATURE", 0.7),
			MaxHistoryTurns:    getEnvAsInt("MAX_HISTORY_TURNS", 20),
			MaxHistoryTokens:   getEnvAsInt("MAX_HISTORY_TOKENS", 3000),
			RepeatReminder:     getEnvAsBool("REPEAT_CONTEXT_REMINDER", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the settings that must hold before the process starts serving.
// A missing LLM key is not an error here; chat requests report it instead.
func (c *Config) Validate() error {
	if c.HTTPPort == "" {
		return fmt.Errorf("HTTP_PORT cannot be empty")
	}

	switch c.Storage.Backend {
	case BackendMemory, BackendSQLite:
	case BackendFile:
		if c.Storage.DataDir == "" {
			return fmt.Errorf("DATA_DIR is required for the file backend")
		}
	case BackendMongo:
		if c.Storage.MongoURI == "" {
			return fmt.Errorf("MONGODB_URI is required for the mongo backend")
		}
	case BackendFirestore:
		if c.Storage.FirestoreProject == "" {
			return fmt.Errorf("FIRESTORE_PROJECT is required for the firestore backend")
		}
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.Storage.Backend)
	}
	if c.Storage.Fallback != "" && c.Storage.Fallback != BackendMemory {
		return fmt.Errorf("STORAGE_FALLBACK only supports %q", BackendMemory)
	}

	switch c.Auth.TokenMode {
	case TokenModeSigned:
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET environment variable is required")
		}
	case TokenModeLegacy:
	default:
		return fmt.Errorf("unknown TOKEN_MODE %q", c.Auth.TokenMode)
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL must be positive")
	}

	switch c.LLM.Provider {
	case ProviderOpenAI, ProviderGemini, ProviderMock:
	default:
		return fmt.Errorf("unknown LLM_PROVIDER %q", c.LLM.Provider)
	}
	return nil
}

// apiKeyFor prefers LLM_API_KEY, then the provider's own key. The
// OpenAI-compatible provider reads GROQ_API_KEY before GEMINI_API_KEY.
func apiKeyFor(provider string) string {
	if v := getEnv("LLM_API_KEY", ""); v != "" {
		return v
	}
	if provider == ProviderGemini {
		return getEnv("GEMINI_API_KEY", "")
	}
	return getEnv("GROQ_API_KEY", getEnv("GEMINI_API_KEY", ""))
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && strings.TrimSpace(value) != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(strings.TrimSpace(valueStr)); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float32) float32 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(strings.TrimSpace(valueStr), 32); err == nil {
		return float32(value)
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	switch strings.ToLower(strings.TrimSpace(getEnv(key, ""))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return defaultValue
	}
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(strings.TrimSpace(valueStr)); err == nil {
		return value
	}
	return defaultValue
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
