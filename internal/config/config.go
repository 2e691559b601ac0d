package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/hyperengineering/issuesync/internal/secret"
)

// Config is the root configuration structure.
// It is read-only after Load() returns and thread-safe for concurrent reads.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Vault     VaultConfig     `yaml:"vault"`
	Tracker   TrackerConfig   `yaml:"tracker"`
	Log       LogConfig       `yaml:"log"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Snapshot  SnapshotConfig  `yaml:"snapshot"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig contains database settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig contains authentication settings.
type AuthConfig struct {
	APIKey string `yaml:"-"` // env-only, never in YAML
}

// VaultConfig holds the master key tracker tokens are sealed under.
type VaultConfig struct {
	MasterKey string `yaml:"-"` // env-only, never in YAML
}

// TrackerConfig tunes the outbound tracker HTTP client.
type TrackerConfig struct {
	Timeout   Duration `yaml:"timeout"`
	UserAgent string   `yaml:"user_agent"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TelemetryConfig controls OpenTelemetry export. Disabled means no-op providers.
type TelemetryConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Stdout         bool     `yaml:"stdout"`
	OTLPEndpoint   string   `yaml:"otlp_endpoint"`
	ExportInterval Duration `yaml:"export_interval"`
}

// SnapshotConfig configures S3-compatible storage for database backups.
// An empty bucket keeps backups local.
type SnapshotConfig struct {
	Bucket    string   `yaml:"bucket"`
	Endpoint  string   `yaml:"endpoint"`
	Region    string   `yaml:"region"`
	UseSSL    *bool    `yaml:"use_ssl"`
	AccessKey string   `yaml:"-"` // env-only
	SecretKey string   `yaml:"-"` // env-only
	URLExpiry Duration `yaml:"url_expiry"`
}

// Duration is a wrapper around time.Duration that supports YAML string parsing.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Load loads configuration with precedence: defaults → YAML file → .env → env vars.
// Returns an immutable Config suitable for concurrent read access.
func Load() (*Config, error) {
	// A missing .env is fine; real environment variables win over it.
	_ = godotenv.Load()

	cfg := newDefaults()

	configPath := getEnv("ISSUESYNC_CONFIG_PATH", "config/issuesync.yaml")

	// Load YAML file if it exists (missing file is not an error)
	if err := loadYAMLFile(cfg, configPath); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a specific path, which must exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// newDefaults returns a Config with all default values.
func newDefaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(120 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Database: DatabaseConfig{
			Path: "data/issuesync.db",
		},
		Tracker: TrackerConfig{
			Timeout:   Duration(30 * time.Second),
			UserAgent: "issuesync",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			ExportInterval: Duration(60 * time.Second),
		},
		Snapshot: SnapshotConfig{
			URLExpiry: Duration(15 * time.Minute),
		},
	}
}

// loadYAMLFile loads configuration from a YAML file if it exists.
func loadYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

func envDuration(key string, dst *Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = Duration(d)
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// applyEnvOverrides applies environment variable overrides to the config.
// Only non-empty, parseable env vars override config values.
func applyEnvOverrides(cfg *Config) {
	// Server
	if v := os.Getenv("ISSUESYNC_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	envDuration("ISSUESYNC_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	envDuration("ISSUESYNC_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	envDuration("ISSUESYNC_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)

	envString("ISSUESYNC_DB_PATH", &cfg.Database.Path)

	// Secrets
	envString("ISSUESYNC_API_KEY", &cfg.Auth.APIKey)
	envString("ISSUESYNC_MASTER_KEY", &cfg.Vault.MasterKey)

	// Tracker
	envDuration("ISSUESYNC_TRACKER_TIMEOUT", &cfg.Tracker.Timeout)
	envString("ISSUESYNC_TRACKER_USER_AGENT", &cfg.Tracker.UserAgent)

	// Log
	envString("ISSUESYNC_LOG_LEVEL", &cfg.Log.Level)
	envString("ISSUESYNC_LOG_FORMAT", &cfg.Log.Format)

	// Telemetry
	envBool("ISSUESYNC_TELEMETRY_ENABLED", &cfg.Telemetry.Enabled)
	envBool("ISSUESYNC_TELEMETRY_STDOUT", &cfg.Telemetry.Stdout)
	envString("ISSUESYNC_OTLP_ENDPOINT", &cfg.Telemetry.OTLPEndpoint)
	envDuration("ISSUESYNC_TELEMETRY_INTERVAL", &cfg.Telemetry.ExportInterval)

	// Snapshot storage
	envString("ISSUESYNC_SNAPSHOT_BUCKET", &cfg.Snapshot.Bucket)
	envString("ISSUESYNC_SNAPSHOT_ENDPOINT", &cfg.Snapshot.Endpoint)
	envString("ISSUESYNC_SNAPSHOT_REGION", &cfg.Snapshot.Region)
	envString("ISSUESYNC_SNAPSHOT_ACCESS_KEY", &cfg.Snapshot.AccessKey)
	envString("ISSUESYNC_SNAPSHOT_SECRET_KEY", &cfg.Snapshot.SecretKey)
	if v := os.Getenv("ISSUESYNC_SNAPSHOT_USE_SSL"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Snapshot.UseSSL = &b
		}
	}
}

// validate checks that required configuration values are set.
// In dev mode (ISSUESYNC_DEV_MODE=true), secret validation is skipped.
func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log level %q must be one of debug, info, warn, error", c.Log.Level)
	}
	if c.Snapshot.Bucket != "" && c.Snapshot.Endpoint == "" {
		return errors.New("snapshot endpoint is required when a bucket is set")
	}

	if c.DevMode() {
		return nil
	}

	if c.Auth.APIKey == "" {
		return errors.New("ISSUESYNC_API_KEY is required")
	}
	if c.Vault.MasterKey == "" {
		return errors.New("ISSUESYNC_MASTER_KEY is required")
	}
	if _, err := secret.NewSealerFromString(c.Vault.MasterKey, secret.TrackerTokenPurpose); err != nil {
		return fmt.Errorf("ISSUESYNC_MASTER_KEY: %w", err)
	}
	return nil
}

// DevMode reports whether ISSUESYNC_DEV_MODE=true.
func (c *Config) DevMode() bool {
	return os.Getenv("ISSUESYNC_DEV_MODE") == "true"
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
