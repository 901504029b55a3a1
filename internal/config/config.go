package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	Storage Storage
	Scraper Scraper
	Logging Logging
}

// Storage holds storage-related configuration.
type Storage struct {
	Type          string // "mongodb", "postgresql", "dynamodb", "memory"
	MongoURI      string
	MongoDatabase string
	PostgresURI   string
	Region        string // for DynamoDB
	TableName     string
	Endpoint      string // custom DynamoDB endpoint for local testing
}

// Scraper holds connector and orchestrator configuration.
type Scraper struct {
	ZonapropBaseURL     string
	MercadoLibreBaseURL string
	UserAgent           string
	HTTPTimeout         time.Duration
	RetryCount          int
	PageDelay           time.Duration // politeness delay between page fetches
	CombinationDelay    time.Duration // delay between zone×operation combinations
	CatalogOverlay      string        // optional YAML file extending the zone catalog
}

// Logging holds log output configuration.
type Logging struct {
	Level  string
	Format string // "text" or "json"
}

// Load reads the .env file if present, then loads configuration from
// environment variables with defaults.
func Load() (*Config, error) {
	// Best effort: system env vars win when no .env file exists.
	_ = godotenv.Load()

	cfg := &Config{
		Storage: Storage{
			Type:          getEnv("STORAGE_TYPE", "mongodb"),
			MongoURI:      getEnv("MONGODB_URI", "mongodb://localhost:27017"),
			MongoDatabase: getEnv("MONGODB_DATABASE", "RealStates"),
			PostgresURI:   getEnv("POSTGRES_URI", ""),
			Region:        getEnv("AWS_REGION", "us-west-2"),
			TableName:     getEnv("TABLE_NAME", "listings_current"),
			Endpoint:      getEnv("DYNAMODB_ENDPOINT", ""),
		},
		Scraper: Scraper{
			ZonapropBaseURL:     getEnv("ZONAPROP_BASE_URL", "https://www.zonaprop.com.ar"),
			MercadoLibreBaseURL: getEnv("MERCADOLIBRE_BASE_URL", "https://api.mercadolibre.com"),
			UserAgent:           getEnv("SCRAPER_USER_AGENT", "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:146.0) Gecko/20100101 Firefox/146.0"),
			HTTPTimeout:         getEnvDuration("HTTP_TIMEOUT", 10*time.Second),
			RetryCount:          getEnvInt("RETRY_COUNT", 3),
			PageDelay:           getEnvDuration("PAGE_DELAY", 500*time.Millisecond),
			CombinationDelay:    getEnvDuration("COMBINATION_DELAY", 2*time.Second),
			CatalogOverlay:      getEnv("CATALOG_OVERLAY", ""),
		},
		Logging: Logging{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
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
