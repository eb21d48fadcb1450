package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds runtime configuration values for the API service.
type Config struct {
	AppName            string
	AppEnv             string
	AppPort            string
	DatabaseDriver     string
	DatabaseURL        string
	RedisURL           string
	ActivitiesCacheTTL time.Duration
	NATSURL            string
	EventsSubject      string
	SeedFile           string
	StaticDir          string
	SignupRateLimit    int
	SignupRateWindow   time.Duration
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("MERGINGTON")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "Mergington High School API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8000")
	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.url", "file:activities.db?_foreign_keys=on&_busy_timeout=5000")
	v.SetDefault("cache.activities_ttl", "30s")
	v.SetDefault("events.subject", "mergington.activities.roster")
	v.SetDefault("signup.rate_limit", 20)
	v.SetDefault("signup.rate_window", "1m")

	cacheTTL, err := parseDuration(v.GetString("cache.activities_ttl"), 30*time.Second)
	if err != nil {
		return Config{}, fmt.Errorf("invalid activities cache ttl: %w", err)
	}

	rateWindow, err := parseDuration(v.GetString("signup.rate_window"), time.Minute)
	if err != nil {
		return Config{}, fmt.Errorf("invalid signup rate window: %w", err)
	}

	cfg := Config{
		AppName:            v.GetString("app.name"),
		AppEnv:             v.GetString("app.env"),
		AppPort:            v.GetString("app.port"),
		DatabaseDriver:     strings.ToLower(strings.TrimSpace(v.GetString("database.driver"))),
		DatabaseURL:        v.GetString("database.url"),
		RedisURL:           v.GetString("redis.url"),
		ActivitiesCacheTTL: cacheTTL,
		NATSURL:            v.GetString("nats.url"),
		EventsSubject:      v.GetString("events.subject"),
		SeedFile:           v.GetString("seed.file"),
		StaticDir:          v.GetString("static.dir"),
		SignupRateLimit:    v.GetInt("signup.rate_limit"),
		SignupRateWindow:   rateWindow,
	}

	switch cfg.DatabaseDriver {
	case DriverSQLite, DriverPostgres:
	default:
		return Config{}, fmt.Errorf("unsupported database driver %q", cfg.DatabaseDriver)
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("database url must be provided")
	}

	if cfg.SignupRateLimit < 0 {
		cfg.SignupRateLimit = 0
	}

	return cfg, nil
}

func parseDuration(raw string, fallback time.Duration) (time.Duration, error) {
	if strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	return time.ParseDuration(raw)
}
