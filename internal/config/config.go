// Package config loads runtime settings from the environment and an optional .env file
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/juju/errors"
)

// Store drivers
const (
	DriverMongo  = "mongo"
	DriverSQLite = "sqlite"
)

// Config holds every setting the services read at startup
type Config struct {
	Port string

	StoreDriver string
	MongoURL    string
	MongoDB     string
	SQLitePath  string

	DataAPIBaseURL string
	ResourceID     string
	APIKey         string
	PageLimit      int
	MaxPages       int
	FetchTimeout   time.Duration
	FetchRetries   int
	TargetState    string

	RefreshSchedule string
	RefreshOnStart  bool

	CacheTTL    time.Duration
	LocateMaxKm float64
	AdminToken  string

	LogLevel  string
	LogFormat string

	TelegramBotToken string
	OpenAIAPIKey     string
}

// Load reads the given .env files (or ".env" when none are given) and then
// builds a Config from the process environment. Missing files are ignored;
// variables already present in the environment win over file values.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, path := range envFiles {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return nil, errors.Annotatef(err, "loading %s", path)
		}
	}
	return FromEnv(), nil
}

// FromEnv builds a Config from environment variables only
func FromEnv() *Config {
	cfg := &Config{
		Port: getEnvWithDefault("PORT", "5000"),

		MongoURL:   os.Getenv("MONGO_URL"),
		MongoDB:    getEnvWithDefault("MONGO_DB", "nrega_mitra"),
		SQLitePath: getEnvWithDefault("SQLITE_PATH", "data/nrega.db"),

		DataAPIBaseURL: getEnvWithDefault("DATA_API_BASE_URL", "https://api.data.gov.in/resource/"),
		ResourceID:     os.Getenv("RESOURCE_ID"),
		APIKey:         os.Getenv("API_KEY"),
		PageLimit:      getEnvAsInt("PAGE_LIMIT", 10000),
		MaxPages:       getEnvAsInt("MAX_PAGES", 20),
		FetchTimeout:   getEnvAsDuration("FETCH_TIMEOUT", time.Minute),
		FetchRetries:   getEnvAsInt("FETCH_RETRIES", 3),
		TargetState:    strings.ToUpper(getEnvWithDefault("TARGET_STATE", "MAHARASHTRA")),

		RefreshSchedule: getEnvWithDefault("REFRESH_SCHEDULE", "0 0 * * *"),
		RefreshOnStart:  getEnvAsBool("REFRESH_ON_START", true),

		CacheTTL:    getEnvAsDuration("CACHE_TTL", time.Hour),
		LocateMaxKm: getEnvAsFloat("LOCATE_MAX_KM", 150),
		AdminToken:  os.Getenv("ADMIN_TOKEN"),

		LogLevel:  strings.ToLower(getEnvWithDefault("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(getEnvWithDefault("LOG_FORMAT", "json")),

		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
	}

	cfg.StoreDriver = strings.ToLower(os.Getenv("STORE_DRIVER"))
	if cfg.StoreDriver == "" {
		if cfg.MongoURL != "" {
			cfg.StoreDriver = DriverMongo
		} else {
			cfg.StoreDriver = DriverSQLite
		}
	}
	return cfg
}

// Validate checks settings shared by every command
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverMongo:
		if c.MongoURL == "" {
			return errors.NotValidf("STORE_DRIVER=mongo without MONGO_URL")
		}
	case DriverSQLite:
		if c.SQLitePath == "" {
			return errors.NotValidf("empty SQLITE_PATH")
		}
	default:
		return errors.NotValidf("store driver %q", c.StoreDriver)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return errors.NotValidf("log level %q", c.LogLevel)
	}
	if c.CacheTTL < 0 {
		return errors.NotValidf("negative CACHE_TTL")
	}
	if c.LocateMaxKm <= 0 {
		return errors.NotValidf("LOCATE_MAX_KM %v", c.LocateMaxKm)
	}
	return nil
}

// ValidateFetch checks the settings needed to call the upstream data API
func (c *Config) ValidateFetch() error {
	if c.ResourceID == "" {
		return errors.NotValidf("missing RESOURCE_ID")
	}
	if c.APIKey == "" {
		return errors.NotValidf("missing API_KEY")
	}
	if c.PageLimit <= 0 {
		return errors.NotValidf("PAGE_LIMIT %d", c.PageLimit)
	}
	if c.MaxPages <= 0 {
		return errors.NotValidf("MAX_PAGES %d", c.MaxPages)
	}
	if c.TargetState == "" {
		return errors.NotValidf("empty TARGET_STATE")
	}
	return nil
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
