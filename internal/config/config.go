// Package config loads the service configuration from a YAML file with
// environment-variable overrides for secrets and deployment-specific values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from "15s"-style YAML strings.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full service configuration.
type Config struct {
	Environment string         `yaml:"environment"`
	Server      ServerConfig   `yaml:"server"`
	Database    DatabaseConfig `yaml:"database"`
	SecretStore VaultConfig    `yaml:"secret_store"`
	Encryption  Encryption     `yaml:"encryption"`
	Auth        AuthConfig     `yaml:"auth"`
	Engine      EngineConfig   `yaml:"engine"`
	Sweeper     SweeperConfig  `yaml:"sweeper"`
	Logging     LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Host            string   `yaml:"host"`
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

type VaultConfig struct {
	Address string `yaml:"address"`
	Token   string `yaml:"token"`
	Mount   string `yaml:"mount"`
}

type Encryption struct {
	// Key is a base64-encoded 32-byte key; takes precedence over Salt+Password.
	Key      string `yaml:"key"`
	Salt     string `yaml:"salt"`
	Password string `yaml:"password"`
	// VisibleChars is the access-key prefix length listings expose.
	VisibleChars int `yaml:"visible_chars"`
}

type AuthConfig struct {
	// JWTSecret signs and verifies bearer tokens (HS256).
	JWTSecret string `yaml:"jwt_secret"`
}

type EngineConfig struct {
	PathPrefix  string   `yaml:"path_prefix"`
	CallTimeout Duration `yaml:"call_timeout"`
}

type SweeperConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Schedule string   `yaml:"schedule"`
	MinAge   Duration `yaml:"min_age"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads path, applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads path when it exists and otherwise returns defaults
// with environment overrides applied.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		cfg := defaults()
		cfg.applyEnv()
		if err := cfg.validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return Load(path)
}

func defaults() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     Duration(15 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Database: DatabaseConfig{
			MaxOpenConns: 25,
			MaxIdleConns: 5,
		},
		SecretStore: VaultConfig{Mount: "secret"},
		Engine: EngineConfig{
			PathPrefix:  "credentials",
			CallTimeout: Duration(10 * time.Second),
		},
		Sweeper: SweeperConfig{
			Enabled:  true,
			Schedule: "@hourly",
			MinAge:   Duration(30 * time.Minute),
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// applyEnv overrides file values with environment variables so deployments
// never have to write secrets into the config file.
func (c *Config) applyEnv() {
	setString(&c.Environment, "APP_ENV")
	setString(&c.Database.DSN, "DATABASE_URL")
	setString(&c.SecretStore.Address, "VAULT_ADDR")
	setString(&c.SecretStore.Token, "VAULT_TOKEN")
	setString(&c.SecretStore.Mount, "VAULT_MOUNT")
	setString(&c.Encryption.Key, "ENCRYPTION_KEY")
	setString(&c.Encryption.Salt, "ENCRYPTION_SALT")
	setString(&c.Encryption.Password, "ENCRYPTION_PASSWORD")
	setString(&c.Auth.JWTSecret, "JWT_SECRET")
	setString(&c.Logging.Level, "LOG_LEVEL")
	setInt(&c.Server.Port, "PORT")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func (c *Config) validate() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("config: database DSN is required (database.dsn or DATABASE_URL)")
	}
	if c.SecretStore.Address == "" {
		return fmt.Errorf("config: secret store address is required (secret_store.address or VAULT_ADDR)")
	}
	if c.SecretStore.Token == "" {
		return fmt.Errorf("config: secret store token is required (secret_store.token or VAULT_TOKEN)")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("config: JWT secret is required (auth.jwt_secret or JWT_SECRET)")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server port %d is out of range", c.Server.Port)
	}
	return nil
}
