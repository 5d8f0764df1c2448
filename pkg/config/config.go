package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Database       DatabaseConfig
	OpenAI         OpenAIConfig
	Categorization CategorizationConfig
	Reconciliation ReconciliationConfig
	Observability  ObservabilityConfig
}

type OpenAIConfig struct {
	APIKey         string
	BaseURL        string
	ChatModel      string
	EmbeddingModel string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// CategorizationConfig tunes the cascade. Generative categorization stays
// off unless an API key is configured.
type CategorizationConfig struct {
	GenerativeEnabled   bool
	SimilarityThreshold float64
}

// ReconciliationConfig tunes the bill matcher.
type ReconciliationConfig struct {
	AmountTolerance   float64
	DateToleranceDays int
	MinConfidence     float64
}

type ObservabilityConfig struct {
	MetricsEnabled bool
	MetricsPort    int
}

// Load reads configuration from environment variables. A .env file in the
// working directory is loaded first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("POSTGRES_HOST", "localhost"),
			Port:     getEnvAsInt("POSTGRES_PORT", 5432),
			User:     getEnv("POSTGRES_USER", "postgres"),
			Password: getEnv("POSTGRES_PASSWORD", "postgres"),
			Database: getEnv("POSTGRES_DB", "homebase"),
			SSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		},
		OpenAI: OpenAIConfig{
			APIKey:         getEnv("OPENAI_API_KEY", ""),
			BaseURL:        getEnv("OPENAI_BASE_URL", ""),
			ChatModel:      getEnv("OPENAI_CHAT_MODEL", "gpt-4o-mini"),
			EmbeddingModel: getEnv("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
		},
		Categorization: CategorizationConfig{
			GenerativeEnabled:   getEnvAsBool("CATEGORIZATION_GENERATIVE_ENABLED", true),
			SimilarityThreshold: getEnvAsFloat("CATEGORIZATION_SIMILARITY_THRESHOLD", 0.7),
		},
		Reconciliation: ReconciliationConfig{
			AmountTolerance:   getEnvAsFloat("RECONCILIATION_AMOUNT_TOLERANCE", 5.0),
			DateToleranceDays: getEnvAsInt("RECONCILIATION_DATE_TOLERANCE_DAYS", 3),
			MinConfidence:     getEnvAsFloat("RECONCILIATION_MIN_CONFIDENCE", 0.7),
		},
		Observability: ObservabilityConfig{
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
			MetricsPort:    getEnvAsInt("METRICS_PORT", 9090),
		},
	}

	if cfg.Categorization.GenerativeEnabled && cfg.OpenAI.APIKey == "" {
		return nil, errors.New("OPENAI_API_KEY is required when generative categorization is enabled")
	}

	return cfg, nil
}

// DSN returns the database connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}
