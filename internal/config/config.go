package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the process settings read from the environment.
type Config struct {
	Port               string        `mapstructure:"PORT"`
	Env                string        `mapstructure:"ENV"`
	LogFormat          string        `mapstructure:"LOG_FORMAT"`
	Storage            string        `mapstructure:"STORAGE"`
	DatabaseURL        string        `mapstructure:"DATABASE_URL"`
	DBMaxConns         int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns         int32         `mapstructure:"DB_MIN_CONNS"`
	RedisURL           string        `mapstructure:"REDIS_URL"`
	SearchCacheTTL     time.Duration `mapstructure:"SEARCH_CACHE_TTL"`
	AMQPURL            string        `mapstructure:"AMQP_URL"`
	EventsExchange     string        `mapstructure:"EVENTS_EXCHANGE"`
	AuthSigningKey     string        `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer         string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience       string        `mapstructure:"AUTH_AUDIENCE"`
	CORSOrigins        []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS       float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst     int           `mapstructure:"RATE_LIMIT_BURST"`
	MappingVersion     string        `mapstructure:"MAPPING_VERSION"`
	CurationMaxRetries int           `mapstructure:"CURATION_MAX_RETRIES"`
	EncounterTimezone  string        `mapstructure:"ENCOUNTER_TIMEZONE"`
	SeedDemoCatalog    bool          `mapstructure:"SEED_DEMO_CATALOG"`
}

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

var keys = []string{
	"PORT", "ENV", "LOG_FORMAT", "STORAGE", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"REDIS_URL", "SEARCH_CACHE_TTL", "AMQP_URL", "EVENTS_EXCHANGE",
	"AUTH_SIGNING_KEY", "AUTH_ISSUER", "AUTH_AUDIENCE", "CORS_ORIGINS",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "MAPPING_VERSION", "CURATION_MAX_RETRIES",
	"ENCOUNTER_TIMEZONE", "SEED_DEMO_CATALOG",
}

// Load reads configuration from the environment and an optional .env file.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("SEARCH_CACHE_TTL", "5m")
	v.SetDefault("EVENTS_EXCHANGE", "termbridge.events")
	v.SetDefault("AUTH_ISSUER", "termbridge")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("MAPPING_VERSION", "v2.1")
	v.SetDefault("CURATION_MAX_RETRIES", 3)
	v.SetDefault("ENCOUNTER_TIMEZONE", "Asia/Kolkata")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	// Development runs in memory with the demo catalog unless told otherwise.
	dev := v.GetString("ENV") == "development"
	if dev {
		v.SetDefault("STORAGE", StorageMemory)
	} else {
		v.SetDefault("STORAGE", StoragePostgres)
	}
	v.SetDefault("SEED_DEMO_CATALOG", dev)

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}
	for i := range cfg.CORSOrigins {
		cfg.CORSOrigins[i] = strings.TrimSpace(cfg.CORSOrigins[i])
	}
	cfg.Storage = strings.ToLower(strings.TrimSpace(cfg.Storage))

	return cfg, nil
}

// IsDev reports whether the server runs in development mode.
func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Location resolves ENCOUNTER_TIMEZONE.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.EncounterTimezone)
	if err != nil {
		return nil, fmt.Errorf("ENCOUNTER_TIMEZONE %q: %w", c.EncounterTimezone, err)
	}
	return loc, nil
}

// Validate checks that the configuration is safe to run. Outside
// development a signing key of at least 32 bytes is required so that
// requests are authenticated.
func (c *Config) Validate() error {
	switch c.Storage {
	case StorageMemory:
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORAGE is %q", StoragePostgres)
		}
	default:
		return fmt.Errorf("STORAGE must be %q or %q, got %q", StorageMemory, StoragePostgres, c.Storage)
	}

	if !c.IsDev() && len(c.AuthSigningKey) < 32 {
		return fmt.Errorf("AUTH_SIGNING_KEY of at least 32 bytes is required when ENV=%q", c.Env)
	}

	switch c.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be \"text\" or \"json\", got %q", c.LogFormat)
	}

	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	if c.CurationMaxRetries < 1 {
		return fmt.Errorf("CURATION_MAX_RETRIES must be at least 1, got %d", c.CurationMaxRetries)
	}
	if strings.TrimSpace(c.MappingVersion) == "" {
		return fmt.Errorf("MAPPING_VERSION is required")
	}
	if _, err := c.Location(); err != nil {
		return err
	}

	return nil
}
