package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	dlhttp "github.com/ligustah/dlpool/internal/http"
	"github.com/ligustah/dlpool/internal/logging"
	"github.com/ligustah/dlpool/internal/naming"
	"github.com/ligustah/dlpool/internal/progress"
)

// EnvPrefix prefixes every environment variable read by LoadFromEnv.
const EnvPrefix = "DLPOOL_"

// Config defines configuration for the dlpool CLI.
type Config struct {
	Dir         string            `yaml:"dir"`
	Workers     int               `yaml:"workers"`
	ExistOK     bool              `yaml:"exist_ok"`
	Progress    bool              `yaml:"progress"`
	LogLevel    string            `yaml:"log_level"`
	LogFormat   string            `yaml:"log_format"`
	NamePolicy  string            `yaml:"name_policy"`
	Timeout     time.Duration     `yaml:"timeout"`
	RateLimit   int64             `yaml:"rate_limit"`
	Headers     map[string]string `yaml:"headers"`
	CookiesFile string            `yaml:"cookies_file"`
	Mirror      string            `yaml:"mirror"`
	Retry       RetryConfig       `yaml:"retry"`
}

// RetryConfig defines retry behavior.
type RetryConfig struct {
	Attempts   int           `yaml:"attempts"`
	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Dir:        ".",
		Workers:    4,
		LogLevel:   "info",
		LogFormat:  "text",
		NamePolicy: naming.PolicyReplace.String(),
		Timeout:    30 * time.Second,
		Retry: RetryConfig{
			Attempts:   5,
			Backoff:    time.Second,
			MaxBackoff: 30 * time.Second,
		},
	}
}

// yamlConfig is used for YAML unmarshaling with string sizes and durations.
type yamlConfig struct {
	Dir         string            `yaml:"dir"`
	Workers     int               `yaml:"workers"`
	ExistOK     bool              `yaml:"exist_ok"`
	Progress    bool              `yaml:"progress"`
	LogLevel    string            `yaml:"log_level"`
	LogFormat   string            `yaml:"log_format"`
	NamePolicy  string            `yaml:"name_policy"`
	Timeout     string            `yaml:"timeout"`
	RateLimit   string            `yaml:"rate_limit"`
	Headers     map[string]string `yaml:"headers"`
	CookiesFile string            `yaml:"cookies_file"`
	Mirror      string            `yaml:"mirror"`
	Retry       yamlRetryConfig   `yaml:"retry"`
}

type yamlRetryConfig struct {
	Attempts   int    `yaml:"attempts"`
	Backoff    string `yaml:"backoff"`
	MaxBackoff string `yaml:"max_backoff"`
}

// LoadFromFile loads configuration from a YAML file. Unset keys keep their
// defaults.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Default().Merge(Config{
		Dir:         yc.Dir,
		Workers:     yc.Workers,
		LogLevel:    yc.LogLevel,
		LogFormat:   yc.LogFormat,
		NamePolicy:  yc.NamePolicy,
		Headers:     yc.Headers,
		CookiesFile: yc.CookiesFile,
		Mirror:      yc.Mirror,
		Retry:       RetryConfig{Attempts: yc.Retry.Attempts},
	})
	cfg.ExistOK = yc.ExistOK
	cfg.Progress = yc.Progress

	if yc.Timeout != "" {
		if cfg.Timeout, err = time.ParseDuration(yc.Timeout); err != nil {
			return Config{}, fmt.Errorf("parse timeout: %w", err)
		}
	}
	if yc.RateLimit != "" {
		if cfg.RateLimit, err = progress.ParseBytes(yc.RateLimit); err != nil {
			return Config{}, fmt.Errorf("parse rate_limit: %w", err)
		}
	}
	if yc.Retry.Backoff != "" {
		if cfg.Retry.Backoff, err = time.ParseDuration(yc.Retry.Backoff); err != nil {
			return Config{}, fmt.Errorf("parse retry.backoff: %w", err)
		}
	}
	if yc.Retry.MaxBackoff != "" {
		if cfg.Retry.MaxBackoff, err = time.ParseDuration(yc.Retry.MaxBackoff); err != nil {
			return Config{}, fmt.Errorf("parse retry.max_backoff: %w", err)
		}
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the DLPOOL_ prefix.
func (c *Config) LoadFromEnv() error {
	str := map[string]*string{
		"DIR":          &c.Dir,
		"LOG_LEVEL":    &c.LogLevel,
		"LOG_FORMAT":   &c.LogFormat,
		"NAME_POLICY":  &c.NamePolicy,
		"COOKIES_FILE": &c.CookiesFile,
		"MIRROR":       &c.Mirror,
	}
	for name, dst := range str {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"WORKERS":        &c.Workers,
		"RETRY_ATTEMPTS": &c.Retry.Attempts,
	}
	for name, dst := range ints {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("parse %s%s: %w", EnvPrefix, name, err)
			}
			*dst = n
		}
	}

	durations := map[string]*time.Duration{
		"TIMEOUT":           &c.Timeout,
		"RETRY_BACKOFF":     &c.Retry.Backoff,
		"RETRY_MAX_BACKOFF": &c.Retry.MaxBackoff,
	}
	for name, dst := range durations {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("parse %s%s: %w", EnvPrefix, name, err)
			}
			*dst = d
		}
	}

	bools := map[string]*bool{
		"EXIST_OK": &c.ExistOK,
		"PROGRESS": &c.Progress,
	}
	for name, dst := range bools {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			*dst = v == "true" || v == "1"
		}
	}

	if v := os.Getenv(EnvPrefix + "RATE_LIMIT"); v != "" {
		n, err := progress.ParseBytes(v)
		if err != nil {
			return fmt.Errorf("parse %sRATE_LIMIT: %w", EnvPrefix, err)
		}
		c.RateLimit = n
	}

	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Dir == "" {
		return errors.New("config: dir is required")
	}
	if c.Workers <= 0 {
		return errors.New("config: workers must be positive")
	}
	if c.Timeout <= 0 {
		return errors.New("config: timeout must be positive")
	}
	if c.RateLimit < 0 {
		return errors.New("config: rate_limit must not be negative")
	}
	if c.Retry.Attempts <= 0 {
		return errors.New("config: retry.attempts must be positive")
	}
	if c.Retry.Backoff < 0 || c.Retry.MaxBackoff < c.Retry.Backoff {
		return errors.New("config: retry.max_backoff must be at least retry.backoff")
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if f := strings.ToLower(c.LogFormat); f != "text" && f != "json" {
		return fmt.Errorf("config: log_format must be text or json, got %q", c.LogFormat)
	}
	if _, err := naming.ParsePolicy(c.NamePolicy); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Merge merges override values into c, returning a new Config.
// Zero values in override are ignored; headers are merged key by key.
func (c Config) Merge(override Config) Config {
	if override.Dir != "" {
		c.Dir = override.Dir
	}
	if override.Workers != 0 {
		c.Workers = override.Workers
	}
	if override.ExistOK {
		c.ExistOK = override.ExistOK
	}
	if override.Progress {
		c.Progress = override.Progress
	}
	if override.LogLevel != "" {
		c.LogLevel = override.LogLevel
	}
	if override.LogFormat != "" {
		c.LogFormat = override.LogFormat
	}
	if override.NamePolicy != "" {
		c.NamePolicy = override.NamePolicy
	}
	if override.Timeout != 0 {
		c.Timeout = override.Timeout
	}
	if override.RateLimit != 0 {
		c.RateLimit = override.RateLimit
	}
	if len(override.Headers) > 0 {
		merged := make(map[string]string, len(c.Headers)+len(override.Headers))
		for k, v := range c.Headers {
			merged[k] = v
		}
		for k, v := range override.Headers {
			merged[k] = v
		}
		c.Headers = merged
	}
	if override.CookiesFile != "" {
		c.CookiesFile = override.CookiesFile
	}
	if override.Mirror != "" {
		c.Mirror = override.Mirror
	}
	if override.Retry.Attempts != 0 {
		c.Retry.Attempts = override.Retry.Attempts
	}
	if override.Retry.Backoff != 0 {
		c.Retry.Backoff = override.Retry.Backoff
	}
	if override.Retry.MaxBackoff != 0 {
		c.Retry.MaxBackoff = override.Retry.MaxBackoff
	}
	return c
}

// ClientOptions translates c into options for the HTTP client. Configured
// headers are layered over the default browser header set.
func (c Config) ClientOptions() dlhttp.Options {
	opts := dlhttp.DefaultOptions()
	opts.Timeout = c.Timeout
	opts.RetryAttempts = c.Retry.Attempts
	opts.RetryBackoff = c.Retry.Backoff
	opts.RetryMaxBackoff = c.Retry.MaxBackoff
	opts.RateLimit = c.RateLimit

	header := dlhttp.DefaultHeader()
	for k, v := range c.Headers {
		header.Set(k, v)
	}
	opts.Header = header
	return opts
}
