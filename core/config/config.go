package config

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds the application's configuration settings.
type Config struct {
	Environment string         `mapstructure:"environment" yaml:"environment"`
	Log         LogConfig      `mapstructure:"log" yaml:"log"`
	Session     SessionConfig  `mapstructure:"session" yaml:"session"`
	ExtCall     ExtCallConfig  `mapstructure:"extcall" yaml:"extcall"`
	Timeouts    TimeoutsConfig `mapstructure:"timeouts" yaml:"timeouts"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
}

// SessionConfig sizes the session channels and sets its initial debug flag.
type SessionConfig struct {
	MailboxSize int  `mapstructure:"mailbox_size" yaml:"mailbox_size"`
	EventBuffer int  `mapstructure:"event_buffer" yaml:"event_buffer"`
	Debug       bool `mapstructure:"debug" yaml:"debug"`
}

// ExtCallConfig configures the external library handler.
type ExtCallConfig struct {
	// VersionConstraint, when set, must be satisfied by the Version a library exports.
	VersionConstraint string `mapstructure:"version_constraint" yaml:"version_constraint"`
	// Checksums, when not empty, is the allowlist of libraries that may be opened.
	Checksums []LibraryChecksum `mapstructure:"checksums" yaml:"checksums,omitempty"`
}

// LibraryChecksum pins a library path to its hex SHA256 digest.
type LibraryChecksum struct {
	Path   string `mapstructure:"path" yaml:"path"`
	SHA256 string `mapstructure:"sha256" yaml:"sha256"`
}

// ChecksumMap returns the allowlist keyed by path.
func (c ExtCallConfig) ChecksumMap() map[string]string {
	if len(c.Checksums) == 0 {
		return nil
	}
	m := make(map[string]string, len(c.Checksums))
	for _, cs := range c.Checksums {
		m[cs.Path] = cs.SHA256
	}
	return m
}

// TimeoutsConfig holds timeout settings for various operations.
type TimeoutsConfig struct {
	Stop int `mapstructure:"stop_seconds" yaml:"stop_seconds"`
}

// Defaults used when neither the config file nor the environment set a key.
const (
	DefaultMailboxSize = 256
	DefaultEventBuffer = 64
	DefaultStopSeconds = 10
)

// LoadConfig loads the configuration from path, or from conductor.yaml in the
// usual locations when path is empty, overlaid with CONDUCTOR_* variables.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("conductor")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/conductor")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("CONDUCTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("environment", "development")
	v.SetDefault("log.level", "info")
	v.SetDefault("session.mailbox_size", DefaultMailboxSize)
	v.SetDefault("session.event_buffer", DefaultEventBuffer)
	v.SetDefault("session.debug", false)
	v.SetDefault("extcall.version_constraint", "")
	v.SetDefault("timeouts.stop_seconds", DefaultStopSeconds)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok && path == "" {
			fmt.Fprintln(os.Stderr, "Config file not found, using defaults and environment variables.")
		} else {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if v.ConfigFileUsed() != "" {
		v.OnConfigChange(func(e fsnotify.Event) {
			next := &Config{}
			if err := v.Unmarshal(next); err != nil {
				fmt.Fprintln(os.Stderr, fmt.Errorf("failed to re-unmarshal config: %w", err))
				return
			}
			if err := next.Validate(); err != nil {
				fmt.Fprintln(os.Stderr, fmt.Errorf("ignoring invalid config change in %s: %w", e.Name, err))
				return
			}
			notifyConfigChange(next)
		})
		v.WatchConfig()
	}

	return cfg, nil
}

var (
	hooksMu           sync.Mutex
	configChangeHooks []func(*Config)
)

// AddConfigChangeHook registers a function to be called when the config file changes.
func (c *Config) AddConfigChangeHook(hook func(*Config)) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	configChangeHooks = append(configChangeHooks, hook)
}

func notifyConfigChange(cfg *Config) {
	hooksMu.Lock()
	hooks := append([]func(*Config){}, configChangeHooks...)
	hooksMu.Unlock()
	for _, hook := range hooks {
		hook(cfg)
	}
}

// GenerateMinimalConfig creates a config with every default spelled out.
func GenerateMinimalConfig() *Config {
	return &Config{
		Environment: "development",
		Log:         LogConfig{Level: "info"},
		Session: SessionConfig{
			MailboxSize: DefaultMailboxSize,
			EventBuffer: DefaultEventBuffer,
		},
		Timeouts: TimeoutsConfig{Stop: DefaultStopSeconds},
	}
}

// SaveGeneratedConfig saves a generated config to a file
func SaveGeneratedConfig(cfg *Config, filename string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	err = os.WriteFile(filename, data, 0644)
	if err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks the configuration for required fields and valid values.
func (c *Config) Validate() error {
	switch c.Environment {
	case "development", "staging", "production":
	default:
		return fmt.Errorf("invalid environment: %q", c.Environment)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %q", c.Log.Level)
	}
	if c.Session.MailboxSize <= 0 {
		return fmt.Errorf("session.mailbox_size must be positive, got %d", c.Session.MailboxSize)
	}
	if c.Session.EventBuffer <= 0 {
		return fmt.Errorf("session.event_buffer must be positive, got %d", c.Session.EventBuffer)
	}
	if c.Timeouts.Stop <= 0 {
		return fmt.Errorf("timeouts.stop_seconds must be positive, got %d", c.Timeouts.Stop)
	}
	if c.ExtCall.VersionConstraint != "" {
		if _, err := semver.NewConstraint(c.ExtCall.VersionConstraint); err != nil {
			return fmt.Errorf("invalid extcall.version_constraint %q: %w", c.ExtCall.VersionConstraint, err)
		}
	}
	for i, cs := range c.ExtCall.Checksums {
		if cs.Path == "" {
			return fmt.Errorf("extcall.checksums[%d]: path is required", i)
		}
		if len(cs.SHA256) != 64 || strings.Trim(strings.ToLower(cs.SHA256), "0123456789abcdef") != "" {
			return fmt.Errorf("extcall.checksums[%d]: sha256 must be 64 hex characters", i)
		}
	}
	return nil
}
