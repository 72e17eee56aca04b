// Package config loads the process configuration from file and environment.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/drip-org/drip/internal/build"
	"github.com/drip-org/drip/internal/host"
)

// Config is the process configuration. Watering configuration (rooms,
// pumps, zones, events) lives in the data-dir store, not here.
type Config struct {
	LogLevel  string `mapstructure:"logLevel"`
	LogFormat string `mapstructure:"logFormat"`
	Quiet     bool   `mapstructure:"quiet"`

	// DataDir holds the configuration store and any auxiliary files.
	DataDir string `mapstructure:"dataDir"`

	Host struct {
		BaseURL string `mapstructure:"baseURL"`
		Token   string `mapstructure:"token"`
	} `mapstructure:"host"`

	// MetricsAddr enables the prometheus listener when non-empty,
	// e.g. ":9090".
	MetricsAddr string `mapstructure:"metricsAddr"`

	// Warnings collected during resolution, logged once at startup.
	Warnings []string `mapstructure:"-"`
}

// StoreFile returns the path of the watering configuration document.
func (c *Config) StoreFile() string {
	return filepath.Join(c.DataDir, "config.yaml")
}

// Loader reads and merges configuration from file and environment.
type Loader struct {
	configFile string
	envFile    string
}

// Option configures a Loader.
type Option func(*Loader)

// WithConfigFile sets an explicit configuration file path.
func WithConfigFile(path string) Option {
	return func(l *Loader) {
		l.configFile = path
	}
}

// WithEnvFile loads a dotenv file before resolving the environment.
func WithEnvFile(path string) Option {
	return func(l *Loader) {
		l.envFile = path
	}
}

// Load resolves the process configuration.
func Load(opts ...Option) (*Config, error) {
	l := &Loader{}
	for _, opt := range opts {
		opt(l)
	}

	if l.envFile != "" {
		if err := godotenv.Load(l.envFile); err != nil {
			return nil, fmt.Errorf("load env file %s: %w", l.envFile, err)
		}
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("DRIP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("logLevel", "info")
	v.SetDefault("logFormat", "text")
	v.SetDefault("dataDir", filepath.Join(xdg.DataHome, build.Slug))
	v.SetDefault("host.baseURL", host.DefaultBaseURL)
	v.SetDefault("metricsAddr", "")

	// Environment contract of the surrounding host platform.
	_ = v.BindEnv("logLevel", "LOG_LEVEL")
	_ = v.BindEnv("dataDir", "DATA_DIR")
	_ = v.BindEnv("host.baseURL", "HOST_BASE_URL")
	_ = v.BindEnv("host.token", "HOST_SUPERVISOR_TOKEN")

	if l.configFile != "" {
		v.SetConfigFile(l.configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", l.configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		cfg.Warnings = append(cfg.Warnings,
			fmt.Sprintf("unknown log level %q, using info", cfg.LogLevel))
		cfg.LogLevel = "info"
	}
	if cfg.Host.Token == "" {
		cfg.Warnings = append(cfg.Warnings,
			"HOST_SUPERVISOR_TOKEN is not set; host API calls will be unauthenticated")
	}

	return &cfg, nil
}
