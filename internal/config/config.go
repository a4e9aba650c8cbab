// Package config loads client configuration from defaults, an optional YAML
// file, EMPORIA_* environment variables and command-line flags, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Store backends.
const (
	StoreBBolt  = "bbolt"
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// Config is the resolved client configuration.
type Config struct {
	APIURL            string        `mapstructure:"api_url"`
	DataDir           string        `mapstructure:"data_dir"`
	Store             string        `mapstructure:"store"`
	RedisAddr         string        `mapstructure:"redis_addr"`
	Listen            string        `mapstructure:"listen"`
	LogLevel          string        `mapstructure:"log_level"`
	LogFormat         string        `mapstructure:"log_format"`
	HTTPTimeout       time.Duration `mapstructure:"http_timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	VerifyAttempts    int           `mapstructure:"verify_attempts"`
}

var defaults = map[string]any{
	"api_url":             "http://127.0.0.1:8000",
	"data_dir":            "./data",
	"store":               StoreBBolt,
	"redis_addr":          "127.0.0.1:6379",
	"listen":              ":8080",
	"log_level":           "info",
	"log_format":          "console",
	"http_timeout":        15 * time.Second,
	"requests_per_second": 0.0,
	"verify_attempts":     3,
}

// Load resolves the configuration. flags may be nil; flag names use dashes
// ("api-url") and map onto the underscored keys. file may be empty.
func Load(flags *pflag.FlagSet, file string) (*Config, error) {
	v := viper.New()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}

	v.SetEnvPrefix("EMPORIA")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for k := range defaults {
			if f := flags.Lookup(strings.ReplaceAll(k, "_", "-")); f != nil {
				if err := v.BindPFlag(k, f); err != nil {
					return nil, fmt.Errorf("binding flag %s: %w", f.Name, err)
				}
			}
		}
	}

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for values the client cannot run with.
func (c *Config) Validate() error {
	u, err := url.Parse(c.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("api_url %q must be an absolute http(s) URL", c.APIURL)
	}
	switch c.Store {
	case StoreBBolt, StoreMemory, StoreRedis:
	default:
		return fmt.Errorf("unsupported store %q", c.Store)
	}
	if c.Store == StoreBBolt && c.DataDir == "" {
		return errors.New("data_dir is required for the bbolt store")
	}
	if c.VerifyAttempts < 1 {
		return errors.New("verify_attempts must be at least 1")
	}
	if c.RequestsPerSecond < 0 {
		return errors.New("requests_per_second must not be negative")
	}
	return nil
}

// Origin is the storage scope for this configuration: the API base URL
// without a trailing slash.
func (c *Config) Origin() string {
	return strings.TrimRight(c.APIURL, "/")
}
