// Package config loads service configuration in layers: built-in defaults,
// then an optional YAML file, then environment variables. A .env file in the
// working directory is read into the environment first.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Maps     MapsConfig     `koanf:"maps"`
	Pricing  PricingConfig  `koanf:"pricing"`
	Database DatabaseConfig `koanf:"database"`
	Redis    RedisConfig    `koanf:"redis"`
	Snapshot SnapshotConfig `koanf:"snapshot"`
	Session  SessionConfig  `koanf:"session"`
	Dispatch DispatchConfig `koanf:"dispatch"`
	Logging  LoggingConfig  `koanf:"logging"`
}

type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs" validate:"min=0"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window" validate:"gt=0"`
}

// MapsConfig configures the geocoding and directions API.
type MapsConfig struct {
	BaseURL        string        `koanf:"base_url" validate:"required,url"`
	APIKey         string        `koanf:"api_key"`
	Timeout        time.Duration `koanf:"timeout" validate:"gt=0"`
	RatePerSecond  float64       `koanf:"rate_per_second" validate:"gte=0"`
	Burst          int           `koanf:"burst" validate:"min=1"`
	BreakerEnabled bool          `koanf:"breaker_enabled"`
}

// PricingConfig configures the optional price-comparison service. Price
// estimates are disabled when URL is empty.
type PricingConfig struct {
	URL     string        `koanf:"url" validate:"omitempty,url"`
	Timeout time.Duration `koanf:"timeout" validate:"gt=0"`
}

type DatabaseConfig struct {
	URL string `koanf:"url"`
}

// RedisConfig configures the shared collaborator cache. Caching is
// disabled when Addr is empty.
type RedisConfig struct {
	Addr       string        `koanf:"addr"`
	Password   string        `koanf:"password"`
	DB         int           `koanf:"db" validate:"min=0"`
	GeocodeTTL time.Duration `koanf:"geocode_ttl" validate:"gt=0"`
	MissTTL    time.Duration `koanf:"miss_ttl" validate:"gt=0"`
	RouteTTL   time.Duration `koanf:"route_ttl" validate:"gt=0"`
}

// SnapshotConfig selects the listing source: a JSON file at Path, or the
// database when Path is empty.
type SnapshotConfig struct {
	Path           string        `koanf:"path"`
	ReloadInterval time.Duration `koanf:"reload_interval" validate:"min=0"`
}

type SessionConfig struct {
	IdleTimeout   time.Duration `koanf:"idle_timeout" validate:"gt=0"`
	CallTimeout   time.Duration `koanf:"call_timeout" validate:"gt=0"`
	MaxSessions   int           `koanf:"max_sessions" validate:"min=1"`
	PriceCeiling  float64       `koanf:"price_ceiling" validate:"gt=0"`
	RadiusChoices []float64     `koanf:"radius_choices" validate:"min=1,dive,gt=0"`
}

type DispatchConfig struct {
	Workers  int `koanf:"workers" validate:"min=1"`
	Capacity int `koanf:"capacity" validate:"min=1"`
}

type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

// DefaultConfigPaths are searched in order when CONFIG_PATH is unset.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/rental-discovery/config.yaml",
}

const ConfigPathEnvVar = "CONFIG_PATH"

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ShutdownTimeout: 15 * time.Second,
			RateLimitReqs:   120,
			RateLimitWindow: time.Minute,
		},
		Maps: MapsConfig{
			BaseURL:        "https://maps.googleapis.com/maps/api",
			Timeout:        6 * time.Second,
			RatePerSecond:  10,
			Burst:          5,
			BreakerEnabled: true,
		},
		Pricing: PricingConfig{
			Timeout: 5 * time.Second,
		},
		Redis: RedisConfig{
			GeocodeTTL: 7 * 24 * time.Hour,
			MissTTL:    10 * time.Minute,
			RouteTTL:   24 * time.Hour,
		},
		Snapshot: SnapshotConfig{
			ReloadInterval: 10 * time.Minute,
		},
		Session: SessionConfig{
			IdleTimeout:   30 * time.Minute,
			CallTimeout:   10 * time.Second,
			MaxSessions:   5000,
			PriceCeiling:  100000,
			RadiusChoices: []float64{2, 5, 10, 15, 20},
		},
		Dispatch: DispatchConfig{
			Workers:  8,
			Capacity: 512,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads .env, defaults, the config file and the environment, in that
// order of increasing priority, and validates the result.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}
	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// sliceConfigPaths arrive from the environment as comma-separated strings.
var sliceConfigPaths = []string{"session.radius_choices"}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		str, ok := k.Get(path).(string)
		if !ok || str == "" {
			continue
		}
		parts := strings.Split(str, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings keeps the short variable names used by deployments.
var envMappings = map[string]string{
	"port":          "server.port",
	"maps_api_key":  "maps.api_key",
	"maps_base_url": "maps.base_url",
	"pricing_url":   "pricing.url",
	"database_url":  "database.url",
	"redis_addr":    "redis.addr",
	"snapshot_path": "snapshot.path",
	"log_level":     "logging.level",
	"log_format":    "logging.format",
}

var envSections = []string{"server", "maps", "pricing", "database", "redis", "snapshot", "session", "dispatch", "logging"}

// envTransformFunc maps an environment variable to a config path:
// MAPS_API_KEY -> maps.api_key, SESSION_IDLE_TIMEOUT -> session.idle_timeout.
// Variables outside the known sections are ignored.
func envTransformFunc(key string) string {
	key = strings.ToLower(key)
	if path, ok := envMappings[key]; ok {
		return path
	}
	for _, section := range envSections {
		if rest, ok := strings.CutPrefix(key, section+"_"); ok && rest != "" {
			return section + "." + rest
		}
	}
	return ""
}

// Validate checks field constraints and that a listing source is configured.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if c.Snapshot.Path == "" && c.Database.URL == "" {
		return errors.New("either SNAPSHOT_PATH or DATABASE_URL is required")
	}
	if c.Redis.MissTTL > c.Redis.GeocodeTTL {
		return fmt.Errorf("redis.miss_ttl (%s) must not exceed redis.geocode_ttl (%s)", c.Redis.MissTTL, c.Redis.GeocodeTTL)
	}
	return nil
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
