package cmd

import (
	"fmt"
	"os"

	auth "github.com/goliatone/go-authcore"
	"gopkg.in/yaml.v3"
)

const (
	driverSQLite   = "sqlite"
	driverPostgres = "postgres"
)

// Config is the authcore YAML file.
type Config struct {
	Auth     *auth.Options  `yaml:"auth"`
	Database DatabaseConfig `yaml:"database"`
	HTTP     HTTPConfig     `yaml:"http"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type HTTPConfig struct {
	Address string `yaml:"address"`
	Cookies bool   `yaml:"cookies"`
	Metrics bool   `yaml:"metrics"`
	// CSRFKey guards cookie refresh and logout, at least 32 bytes
	CSRFKey string `yaml:"csrf_key"`
}

func defaultConfig() *Config {
	return &Config{
		Auth: auth.DefaultOptions(),
		Database: DatabaseConfig{
			Driver: driverSQLite,
			DSN:    "file:authcore.db?cache=shared",
		},
		HTTP: HTTPConfig{
			Address: ":8080",
			Metrics: true,
		},
	}
}

// loadConfig reads path on top of the defaults, applies AUTHCORE_*
// overrides and validates the auth options.
func loadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
		if cfg.Auth == nil {
			cfg.Auth = auth.DefaultOptions()
		}
	}

	if err := cfg.Auth.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if v, ok := os.LookupEnv("AUTHCORE_DATABASE_DRIVER"); ok {
		cfg.Database.Driver = v
	}
	if v, ok := os.LookupEnv("AUTHCORE_DATABASE_DSN"); ok {
		cfg.Database.DSN = v
	}
	if v, ok := os.LookupEnv("AUTHCORE_HTTP_ADDRESS"); ok {
		cfg.HTTP.Address = v
	}
	if v, ok := os.LookupEnv("AUTHCORE_HTTP_CSRF_KEY"); ok {
		cfg.HTTP.CSRFKey = v
	}

	switch cfg.Database.Driver {
	case driverSQLite, driverPostgres:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}

	if cfg.HTTP.CSRFKey != "" && len(cfg.HTTP.CSRFKey) < 32 {
		return nil, fmt.Errorf("http.csrf_key must be at least 32 bytes")
	}

	return cfg, nil
}
