package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"probeselect/codec"
	"probeselect/logging"
)

// ServerConfig holds listener settings for the API and metrics servers.
type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host" json:"host"`
	Port            int           `mapstructure:"port" yaml:"port" json:"port"`
	MetricsPort     int           `mapstructure:"metrics_port" yaml:"metrics_port" json:"metrics_port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout" json:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// ProbeConfig holds the probe policy. Timeout applies to every probe alike.
type ProbeConfig struct {
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
	Concurrent bool          `mapstructure:"concurrent" yaml:"concurrent" json:"concurrent"`
}

// AuthConfig holds the optional x-api-key gate. An empty key disables it.
type AuthConfig struct {
	APIKey string `mapstructure:"api_key" yaml:"api_key" json:"-"`
}

// HistoryConfig holds the optional sqlite selection history.
type HistoryConfig struct {
	Path          string        `mapstructure:"path" yaml:"path" json:"path"`
	Retention     time.Duration `mapstructure:"retention" yaml:"retention" json:"retention"`
	PruneInterval string        `mapstructure:"prune_interval" yaml:"prune_interval" json:"prune_interval"`
}

// JSONConfig selects the JSON library used on the wire.
type JSONConfig struct {
	Library string `mapstructure:"library" yaml:"library" json:"library"`
}

// LoggingConfig holds log settings.
type LoggingConfig struct {
	Level string `mapstructure:"level" yaml:"level" json:"level"`
	File  string `mapstructure:"file" yaml:"file" json:"file"`
}

// Config is the full service configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server" yaml:"server" json:"server"`
	Probe   ProbeConfig   `mapstructure:"probe" yaml:"probe" json:"probe"`
	Auth    AuthConfig    `mapstructure:"auth" yaml:"auth" json:"auth"`
	History HistoryConfig `mapstructure:"history" yaml:"history" json:"history"`
	JSON    JSONConfig    `mapstructure:"json" yaml:"json" json:"json"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging" json:"logging"`
}

// DefaultConfig returns the configuration used when nothing overrides it.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            5000,
			MetricsPort:     8000,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Probe: ProbeConfig{
			Timeout:    5 * time.Second,
			Concurrent: true,
		},
		History: HistoryConfig{
			Retention:     24 * time.Hour,
			PruneInterval: "@every 1h",
		},
		JSON: JSONConfig{
			Library: string(codec.LibraryStandard),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// setDefaults registers every default with v so that environment variables
// for keys absent from the config file are still picked up by Unmarshal.
func setDefaults(v *viper.Viper, c *Config) {
	v.SetDefault("server.host", c.Server.Host)
	v.SetDefault("server.port", c.Server.Port)
	v.SetDefault("server.metrics_port", c.Server.MetricsPort)
	v.SetDefault("server.read_timeout", c.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", c.Server.WriteTimeout)
	v.SetDefault("server.shutdown_timeout", c.Server.ShutdownTimeout)
	v.SetDefault("probe.timeout", c.Probe.Timeout)
	v.SetDefault("probe.concurrent", c.Probe.Concurrent)
	v.SetDefault("auth.api_key", c.Auth.APIKey)
	v.SetDefault("history.path", c.History.Path)
	v.SetDefault("history.retention", c.History.Retention)
	v.SetDefault("history.prune_interval", c.History.PruneInterval)
	v.SetDefault("json.library", c.JSON.Library)
	v.SetDefault("logging.level", c.Logging.Level)
	v.SetDefault("logging.file", c.Logging.File)
}

// LoadConfig loads configuration from defaults, an optional file and the
// environment, in increasing order of precedence.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	config := DefaultConfig()
	setDefaults(v, config)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/probeselect")
	}

	v.SetEnvPrefix("PROBESELECT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// API_KEY is read unprefixed as well
	if err := v.BindEnv("auth.api_key", "PROBESELECT_AUTH_API_KEY", "API_KEY"); err != nil {
		return nil, fmt.Errorf("error binding API_KEY: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", c.Server.MetricsPort)
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("read timeout must be greater than 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be greater than 0")
	}

	if c.Probe.Timeout <= 0 {
		return fmt.Errorf("probe timeout must be greater than 0")
	}
	if c.Server.WriteTimeout <= c.SelectionBudget() {
		return fmt.Errorf("write timeout %s must exceed selection budget %s", c.Server.WriteTimeout, c.SelectionBudget())
	}

	switch codec.Library(c.JSON.Library) {
	case codec.LibraryStandard, codec.LibrarySonic:
	default:
		return fmt.Errorf("invalid json library: %s", c.JSON.Library)
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return err
	}

	if c.HistoryEnabled() {
		if c.History.Retention <= 0 {
			return fmt.Errorf("history retention must be greater than 0")
		}
		if _, err := cron.ParseStandard(c.History.PruneInterval); err != nil {
			return fmt.Errorf("invalid prune interval %q: %w", c.History.PruneInterval, err)
		}
	}

	return nil
}

// SelectionBudget is the longest a selection can take: one probe timeout when
// probes run in parallel, three when they run one after another.
func (c *Config) SelectionBudget() time.Duration {
	if c.Probe.Concurrent {
		return c.Probe.Timeout
	}
	return 3 * c.Probe.Timeout
}

// HistoryEnabled reports whether selections are persisted.
func (c *Config) HistoryEnabled() bool {
	return c.History.Path != ""
}

// AuthEnabled reports whether the x-api-key gate is active.
func (c *Config) AuthEnabled() bool {
	return c.Auth.APIKey != ""
}

// SeparateMetricsServer reports whether /metrics gets its own listener.
func (c *Config) SeparateMetricsServer() bool {
	return c.Server.MetricsPort != 0 && c.Server.MetricsPort != c.Server.Port
}

// APIAddr is the listen address of the API server.
func (c *Config) APIAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// MetricsAddr is the listen address of the metrics server.
func (c *Config) MetricsAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.MetricsPort)
}
