package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/legion/internal/logger"
	"github.com/loykin/legion/internal/manager"
	tlsx "github.com/loykin/legion/internal/tls"
)

// EnvPrefix prefixes environment overrides, e.g. LEGION_SERVER_LISTEN.
const EnvPrefix = "LEGION"

// Config represents the top-level TOML structure.
type Config struct {
	DaemonsDir   string        `mapstructure:"daemons_dir"`
	LogDir       string        `mapstructure:"log_dir"`
	LogVersions  int           `mapstructure:"log_versions"`
	MaxDaemons   int           `mapstructure:"max_daemons"`
	StartTimeout time.Duration `mapstructure:"start_timeout"`
	StopTimeout  time.Duration `mapstructure:"stop_timeout"`

	// Env entries (K=V) and env files override the inherited environment of
	// every daemon.
	Env      []string `mapstructure:"env"`
	EnvFiles []string `mapstructure:"env_files"`

	Server  ServerConfig   `mapstructure:"server"`
	Metrics MetricsConfig  `mapstructure:"metrics"`
	History HistoryConfig  `mapstructure:"history"`
	Log     LogConfig      `mapstructure:"log"`
	Daemons []DaemonConfig `mapstructure:"daemons"`
}

type ServerConfig struct {
	Listen   string    `mapstructure:"listen"`
	BasePath string    `mapstructure:"base_path"`
	TLS      TLSConfig `mapstructure:"tls"`
}

// TLSConfig enables HTTPS on the API listener. Either cert_file/key_file or
// dir (holding tls.crt and tls.key) locates the key pair.
type TLSConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	CertFile     string `mapstructure:"cert_file"`
	KeyFile      string `mapstructure:"key_file"`
	Dir          string `mapstructure:"dir"`
	AutoGenerate bool   `mapstructure:"auto_generate"`
	MinVersion   string `mapstructure:"min_version"`
}

type MetricsConfig struct {
	Listen        string        `mapstructure:"listen"`
	UsageInterval time.Duration `mapstructure:"usage_interval"`
}

// HistoryConfig lists the event sinks by DSN (sqlite://, postgres://,
// clickhouse://, log://).
type HistoryConfig struct {
	DSN []string `mapstructure:"dsn"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Color      bool   `mapstructure:"color"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

type DaemonConfig struct {
	Name      string   `mapstructure:"name"`
	Command   string   `mapstructure:"command"`
	Args      []string `mapstructure:"args"`
	Autostart bool     `mapstructure:"autostart"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("daemons_dir", "daemons")
	v.SetDefault("log_dir", "logs")
	v.SetDefault("log_versions", logger.DefaultVersions)
	v.SetDefault("max_daemons", manager.DefaultCapacity)
	v.SetDefault("start_timeout", manager.DefaultStartTimeout)
	v.SetDefault("stop_timeout", manager.DefaultStopTimeout)
	v.SetDefault("env", []string{})
	v.SetDefault("env_files", []string{})
	v.SetDefault("server.listen", "127.0.0.1:8080")
	v.SetDefault("server.base_path", "/api")
	v.SetDefault("server.tls.enabled", false)
	v.SetDefault("server.tls.cert_file", "")
	v.SetDefault("server.tls.key_file", "")
	v.SetDefault("server.tls.dir", "")
	v.SetDefault("server.tls.auto_generate", false)
	v.SetDefault("server.tls.min_version", "1.2")
	v.SetDefault("metrics.listen", "")
	v.SetDefault("metrics.usage_interval", "5s")
	v.SetDefault("history.dsn", []string{})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.color", false)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.compress", false)
}

// Load reads the TOML file at path (optional) and applies LEGION_*
// environment overrides on top of the defaults. Directories are made absolute.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := c.resolve(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) resolve() error {
	for _, p := range []*string{&c.DaemonsDir, &c.LogDir} {
		abs, err := filepath.Abs(*p)
		if err != nil {
			return fmt.Errorf("resolve %q: %w", *p, err)
		}
		*p = abs
	}
	return nil
}

// Validate checks value ranges and the declared daemons.
func (c *Config) Validate() error {
	switch {
	case c.LogVersions < 1:
		return fmt.Errorf("log_versions must be at least 1, got %d", c.LogVersions)
	case c.MaxDaemons < 1:
		return fmt.Errorf("max_daemons must be at least 1, got %d", c.MaxDaemons)
	case c.StartTimeout <= 0:
		return fmt.Errorf("start_timeout must be positive, got %s", c.StartTimeout)
	case c.StopTimeout <= 0:
		return fmt.Errorf("stop_timeout must be positive, got %s", c.StopTimeout)
	case len(c.Daemons) > c.MaxDaemons:
		return fmt.Errorf("%d daemons declared but max_daemons is %d", len(c.Daemons), c.MaxDaemons)
	}
	seen := make(map[string]bool, len(c.Daemons))
	for i, d := range c.Daemons {
		if d.Name == "" || d.Command == "" {
			return fmt.Errorf("daemons[%d]: name and command are required", i)
		}
		if seen[d.Name] {
			return fmt.Errorf("daemons[%d]: duplicate daemon name %q", i, d.Name)
		}
		seen[d.Name] = true
	}
	if t := c.Server.TLS; t.Enabled && t.Dir == "" && (t.CertFile == "" || t.KeyFile == "") {
		return fmt.Errorf("server.tls: cert_file and key_file, or dir, are required")
	}
	if c.Log.File != "" && c.Log.MaxSizeMB < 0 {
		return fmt.Errorf("log.max_size_mb must not be negative")
	}
	return nil
}

// Manager returns the supervisor settings.
func (c *Config) Manager() manager.Config {
	return manager.Config{
		DaemonsDir:   c.DaemonsDir,
		LogDir:       c.LogDir,
		LogVersions:  c.LogVersions,
		MaxDaemons:   c.MaxDaemons,
		StartTimeout: c.StartTimeout,
		StopTimeout:  c.StopTimeout,
	}
}

// Definitions returns the declared daemons in file order.
func (c *Config) Definitions() []manager.Definition {
	out := make([]manager.Definition, 0, len(c.Daemons))
	for _, d := range c.Daemons {
		out = append(out, manager.Definition{Name: d.Name, Command: d.Command, Args: d.Args, Autostart: d.Autostart})
	}
	return out
}

// TLS returns the API listener TLS options.
func (c *Config) TLS() tlsx.Options {
	t := c.Server.TLS
	return tlsx.Options{
		Enabled:      t.Enabled,
		CertFile:     t.CertFile,
		KeyFile:      t.KeyFile,
		Dir:          t.Dir,
		AutoGenerate: t.AutoGenerate,
		MinVersion:   t.MinVersion,
	}
}

// Logger returns the supervisor logger settings.
func (c *Config) Logger() logger.Config {
	return logger.Config{
		Level:  c.Log.Level,
		Format: c.Log.Format,
		Color:  c.Log.Color,
		File: logger.FileConfig{
			Path:       c.Log.File,
			MaxSizeMB:  c.Log.MaxSizeMB,
			MaxBackups: c.Log.MaxBackups,
			MaxAgeDays: c.Log.MaxAgeDays,
			Compress:   c.Log.Compress,
		},
	}
}

// GlobalEnv merges env_files in order and then the env list; later entries win.
func (c *Config) GlobalEnv() ([]string, error) {
	m := make(map[string]string)
	for _, p := range c.EnvFiles {
		pairs, err := loadEnvFile(p)
		if err != nil {
			return nil, err
		}
		for k, v := range pairs {
			m[k] = v
		}
	}
	for _, kv := range c.Env {
		if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
			m[k] = v
		}
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out, nil
}

// loadEnvFile parses a simple .env file with KEY=VALUE lines (no export, no quotes). Lines starting with # are ignored.
func loadEnvFile(path string) (map[string]string, error) {
	clean := filepath.Clean(path)
	b, err := os.ReadFile(clean)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if k, v, ok := strings.Cut(line, "="); ok {
			m[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
	}
	return m, nil
}
