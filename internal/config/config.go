// Package config provides Viper-based configuration loading for the tracker.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// EngineConfig holds logic-engine tuning settings.
type EngineConfig struct {
	// MailboxSize bounds the engine request queue.
	MailboxSize int `mapstructure:"mailbox_size"`
	// FlushTimeout bounds snapshot flushes from local callers. Complex rule
	// sets warrant a longer timeout.
	FlushTimeout time.Duration `mapstructure:"flush_timeout"`
}

// SessionConfig holds multiworld server connection settings.
type SessionConfig struct {
	// URL is the server websocket endpoint. Empty disables the session layer.
	URL string `mapstructure:"url"`
	// Slot is the player slot to authenticate as.
	Slot string `mapstructure:"slot"`
	// Password is the optional room password.
	Password string `mapstructure:"password"`
	// DialTimeout bounds each connection attempt.
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	// ReconnectMin and ReconnectMax bound the reconnect backoff.
	ReconnectMin time.Duration `mapstructure:"reconnect_min"`
	ReconnectMax time.Duration `mapstructure:"reconnect_max"`
}

// ScriptsConfig holds per-game Lua helper script settings.
type ScriptsConfig struct {
	// Manifest is the path to the games.yaml manifest. Empty disables
	// scripted helpers.
	Manifest string `mapstructure:"manifest"`
}

// Config is the top-level application configuration.
type Config struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Engine  EngineConfig  `mapstructure:"engine"`
	Session SessionConfig `mapstructure:"session"`
	Scripts ScriptsConfig `mapstructure:"scripts"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error
// describing all violations.
func (c Config) Validate() error {
	var errs []string

	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateEngine(c.Engine); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateSession(c.Session); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

func validateEngine(e EngineConfig) error {
	var errs []string
	if e.MailboxSize < 1 {
		errs = append(errs, fmt.Sprintf("engine.mailbox_size must be >= 1, got %d", e.MailboxSize))
	}
	if e.FlushTimeout <= 0 {
		errs = append(errs, "engine.flush_timeout must be positive")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateSession(s SessionConfig) error {
	if s.URL == "" {
		// Offline tracking; remaining session settings are irrelevant.
		return nil
	}
	var errs []string
	if !strings.HasPrefix(s.URL, "ws://") && !strings.HasPrefix(s.URL, "wss://") {
		errs = append(errs, fmt.Sprintf("session.url must be a ws:// or wss:// endpoint, got %q", s.URL))
	}
	if s.Slot == "" {
		errs = append(errs, "session.slot must not be empty when session.url is set")
	}
	if s.DialTimeout < 0 {
		errs = append(errs, "session.dial_timeout must not be negative")
	}
	if s.ReconnectMin < 0 || s.ReconnectMax < 0 {
		errs = append(errs, "session reconnect bounds must not be negative")
	}
	if s.ReconnectMax > 0 && s.ReconnectMin > s.ReconnectMax {
		errs = append(errs, "session.reconnect_min must not exceed session.reconnect_max")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// Load reads configuration from the given file path, applies environment
// variable overrides, and validates the result.
//
// Precondition: path must be a valid file path to a YAML configuration file.
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// Environment variable overrides with TRACKER_ prefix
	v.SetEnvPrefix("TRACKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("engine.mailbox_size", 256)
	v.SetDefault("engine.flush_timeout", "5s")

	v.SetDefault("session.dial_timeout", "10s")
	v.SetDefault("session.reconnect_min", "1s")
	v.SetDefault("session.reconnect_max", "30s")
}
