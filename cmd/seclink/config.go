// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/bassosimone/seclink"
	"github.com/spf13/viper"
)

// Config is the command line configuration.
type Config struct {
	// Name is the diagnostic name of links, pools and connections.
	Name string `mapstructure:"name"`

	// Size is the maximum payload size in bytes.
	Size int `mapstructure:"size"`

	// Wait time-boxes every pool wait.
	Wait time.Duration `mapstructure:"wait"`

	// Capacity is the number of pooled connections opened by send.
	Capacity int `mapstructure:"capacity"`

	// SignKey enables the HMAC stage when not empty.
	SignKey string `mapstructure:"sign_key"`

	// SealKey enables the ChaCha20-Poly1305 stage when not empty.
	SealKey string `mapstructure:"seal_key"`

	// MaxLength enables the length check stage when positive.
	MaxLength int `mapstructure:"max_length"`

	// Listen is the address the serve command listens on.
	Listen string `mapstructure:"listen"`

	// MetricsAddr exposes Prometheus metrics over HTTP when not empty.
	MetricsAddr string `mapstructure:"metrics_addr"`

	// Spool is the directory where serve stores received frames when not empty.
	Spool string `mapstructure:"spool"`

	// Routes maps peer names to "ip:port" addresses.
	Routes map[string]string `mapstructure:"routes"`

	// Log holds the logging configuration.
	Log LogConfig `mapstructure:"log"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`

	// Format: text or json
	Format string `mapstructure:"format"`

	// File is a rotated log file. Empty means stderr.
	File string `mapstructure:"file"`

	MaxSizeMB  int `mapstructure:"max_size_mb"`
	MaxBackups int `mapstructure:"max_backups"`
}

// defaultConfig returns a Config populated with the library defaults.
func defaultConfig() *Config {
	return &Config{
		Name:     seclink.DefaultName,
		Size:     seclink.DefaultSize,
		Wait:     seclink.DefaultWait,
		Capacity: 2,
		Listen:   "127.0.0.1:7443",
		Routes:   map[string]string{},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  50,
			MaxBackups: 3,
		},
	}
}

// loadConfig reads the configuration from path (if non-empty), otherwise it
// searches ./seclink.yaml and $HOME/.seclink/seclink.yaml. Environment
// variables use the SECLINK prefix with `.` replaced by `_`, for example
// SECLINK_LOG_LEVEL=debug.
func loadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("SECLINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// env-only configs need every key known to viper
	v.SetDefault("name", cfg.Name)
	v.SetDefault("size", cfg.Size)
	v.SetDefault("wait", cfg.Wait)
	v.SetDefault("capacity", cfg.Capacity)
	v.SetDefault("sign_key", cfg.SignKey)
	v.SetDefault("seal_key", cfg.SealKey)
	v.SetDefault("max_length", cfg.MaxLength)
	v.SetDefault("listen", cfg.Listen)
	v.SetDefault("metrics_addr", cfg.MetricsAddr)
	v.SetDefault("spool", cfg.Spool)
	v.SetDefault("routes", cfg.Routes)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.file", cfg.Log.File)
	v.SetDefault("log.max_size_mb", cfg.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", cfg.Log.MaxBackups)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("seclink")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".seclink"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, c.Log.Level) {
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	if !slices.Contains([]string{"text", "json"}, c.Log.Format) {
		return fmt.Errorf("invalid log.format: %q", c.Log.Format)
	}
	if c.Capacity <= 0 {
		return fmt.Errorf("invalid capacity: %d", c.Capacity)
	}
	if err := c.settings().Validate(); err != nil {
		return err
	}
	return nil
}

// settings returns the library settings.
func (c *Config) settings() *seclink.Settings {
	return &seclink.Settings{Name: c.Name, Size: c.Size, Wait: c.Wait}
}

// chain returns the configured stages: check, then sign, then seal.
func (c *Config) chain() seclink.Chain {
	chain := seclink.Chain{}
	if c.MaxLength > 0 {
		chain = append(chain, seclink.NewCheckStage(seclink.NotEmpty(), seclink.MaxLength(c.MaxLength)))
	}
	if c.SignKey != "" {
		chain = append(chain, seclink.NewSignStage([]byte(c.SignKey)))
	}
	if c.SealKey != "" {
		chain = append(chain, seclink.NewSealStage([]byte(c.SealKey)))
	}
	return chain
}

// route returns a [*seclink.Route] holding every configured peer.
func (c *Config) route(cfg *seclink.Config, settings *seclink.Settings, logger seclink.SLogger) (*seclink.Route, error) {
	route := seclink.NewRoute(cfg, settings, logger)
	route.Chain = c.chain()
	for name, addr := range c.Routes {
		if err := route.Add(name, seclink.Entry{Addr: addr}); err != nil {
			return nil, fmt.Errorf("route %q: %w", name, err)
		}
	}
	return route, nil
}
