package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	if cfg.Workers != 4 {
		t.Errorf("expected default workers 4, got %d", cfg.Workers)
	}
	if cfg.Dir != "." {
		t.Errorf("expected default dir ., got %q", cfg.Dir)
	}
	if cfg.Timeout != 30*time.Second {
		t.Errorf("expected default timeout 30s, got %v", cfg.Timeout)
	}
	if cfg.Retry.Attempts != 5 {
		t.Errorf("expected default retry attempts 5, got %d", cfg.Retry.Attempts)
	}
	if cfg.Retry.Backoff != time.Second {
		t.Errorf("expected default retry backoff 1s, got %v", cfg.Retry.Backoff)
	}
	if cfg.Retry.MaxBackoff != 30*time.Second {
		t.Errorf("expected default retry max backoff 30s, got %v", cfg.Retry.MaxBackoff)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoadFromYAML(t *testing.T) {
	yamlContent := `
dir: /data/downloads
workers: 8
exist_ok: true
progress: true
log_format: json
timeout: 1m
rate_limit: 2MiB
headers:
  Referer: https://example.com/
mirror: mem://
retry:
  attempts: 10
  backoff: 2s
  max_backoff: 60s
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}

	if cfg.Dir != "/data/downloads" {
		t.Errorf("expected dir /data/downloads, got %s", cfg.Dir)
	}
	if cfg.Workers != 8 {
		t.Errorf("expected workers 8, got %d", cfg.Workers)
	}
	if !cfg.ExistOK || !cfg.Progress {
		t.Error("expected exist_ok and progress true")
	}
	if cfg.LogFormat != "json" {
		t.Errorf("expected log format json, got %s", cfg.LogFormat)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected default log level kept, got %s", cfg.LogLevel)
	}
	if cfg.Timeout != time.Minute {
		t.Errorf("expected timeout 1m, got %v", cfg.Timeout)
	}
	if cfg.RateLimit != 2*1024*1024 {
		t.Errorf("expected rate limit 2MiB, got %d", cfg.RateLimit)
	}
	if cfg.Headers["Referer"] != "https://example.com/" {
		t.Errorf("expected Referer header, got %v", cfg.Headers)
	}
	if cfg.Mirror != "mem://" {
		t.Errorf("expected mirror mem://, got %s", cfg.Mirror)
	}
	if cfg.Retry.Attempts != 10 {
		t.Errorf("expected retry attempts 10, got %d", cfg.Retry.Attempts)
	}
	if cfg.Retry.Backoff != 2*time.Second {
		t.Errorf("expected retry backoff 2s, got %v", cfg.Retry.Backoff)
	}
	if cfg.Retry.MaxBackoff != 60*time.Second {
		t.Errorf("expected retry max backoff 60s, got %v", cfg.Retry.MaxBackoff)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("DLPOOL_WORKERS", "16")
	t.Setenv("DLPOOL_DIR", "/tmp/dl")
	t.Setenv("DLPOOL_EXIST_OK", "1")
	t.Setenv("DLPOOL_RATE_LIMIT", "1MB")
	t.Setenv("DLPOOL_TIMEOUT", "5s")
	t.Setenv("DLPOOL_LOG_LEVEL", "debug")
	t.Setenv("DLPOOL_RETRY_ATTEMPTS", "3")
	t.Setenv("DLPOOL_RETRY_BACKOFF", "500ms")
	t.Setenv("DLPOOL_RETRY_MAX_BACKOFF", "10s")

	cfg := Default()
	if err := cfg.LoadFromEnv(); err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}

	if cfg.Workers != 16 {
		t.Errorf("expected workers 16, got %d", cfg.Workers)
	}
	if cfg.Dir != "/tmp/dl" {
		t.Errorf("expected dir /tmp/dl, got %s", cfg.Dir)
	}
	if !cfg.ExistOK {
		t.Error("expected exist_ok true")
	}
	if cfg.RateLimit != 1000*1000 {
		t.Errorf("expected rate limit 1MB, got %d", cfg.RateLimit)
	}
	if cfg.Timeout != 5*time.Second {
		t.Errorf("expected timeout 5s, got %v", cfg.Timeout)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.LogLevel)
	}
	if cfg.Retry.Attempts != 3 {
		t.Errorf("expected retry attempts 3, got %d", cfg.Retry.Attempts)
	}
	if cfg.Retry.Backoff != 500*time.Millisecond {
		t.Errorf("expected retry backoff 500ms, got %v", cfg.Retry.Backoff)
	}
	if cfg.Retry.MaxBackoff != 10*time.Second {
		t.Errorf("expected retry max backoff 10s, got %v", cfg.Retry.MaxBackoff)
	}
}

func TestLoadFromEnvInvalid(t *testing.T) {
	t.Setenv("DLPOOL_WORKERS", "many")

	cfg := Default()
	if err := cfg.LoadFromEnv(); err == nil {
		t.Error("expected error for non-numeric DLPOOL_WORKERS")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"valid config", func(*Config) {}, false},
		{"missing dir", func(c *Config) { c.Dir = "" }, true},
		{"invalid workers", func(c *Config) { c.Workers = 0 }, true},
		{"invalid timeout", func(c *Config) { c.Timeout = 0 }, true},
		{"negative rate limit", func(c *Config) { c.RateLimit = -1 }, true},
		{"no attempts", func(c *Config) { c.Retry.Attempts = 0 }, true},
		{"backoff above max", func(c *Config) { c.Retry.Backoff = time.Minute }, true},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, true},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, true},
		{"uppercase log format", func(c *Config) { c.LogFormat = "JSON" }, false},
		{"bad name policy", func(c *Config) { c.NamePolicy = "escape" }, true},
		{"remove policy", func(c *Config) { c.NamePolicy = "remove" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMerge(t *testing.T) {
	base := Default()
	base.Dir = "/downloads"
	base.Headers = map[string]string{"Referer": "https://a.example/", "X-Token": "1"}

	override := Config{
		Workers: 32,
		Headers: map[string]string{"X-Token": "2"},
	}

	merged := base.Merge(override)

	if merged.Dir != "/downloads" {
		t.Errorf("expected Dir preserved, got %s", merged.Dir)
	}
	if merged.Timeout != 30*time.Second {
		t.Errorf("expected Timeout preserved, got %v", merged.Timeout)
	}
	if merged.Workers != 32 {
		t.Errorf("expected Workers overridden to 32, got %d", merged.Workers)
	}
	if merged.Headers["Referer"] != "https://a.example/" || merged.Headers["X-Token"] != "2" {
		t.Errorf("unexpected merged headers %v", merged.Headers)
	}
	if base.Headers["X-Token"] != "1" {
		t.Error("Merge modified the receiver's headers")
	}
}

func TestClientOptions(t *testing.T) {
	cfg := Default()
	cfg.Timeout = 7 * time.Second
	cfg.RateLimit = 4096
	cfg.Retry.Attempts = 2
	cfg.Headers = map[string]string{"user-agent": "dlpool-test"}

	opts := cfg.ClientOptions()
	if opts.Timeout != 7*time.Second || opts.RateLimit != 4096 || opts.RetryAttempts != 2 {
		t.Errorf("options not carried over: %+v", opts)
	}
	if got := opts.Header.Get("User-Agent"); got != "dlpool-test" {
		t.Errorf("expected configured User-Agent, got %q", got)
	}
	if opts.Header.Get("Accept") == "" {
		t.Error("expected default headers to be kept")
	}
}

func TestLoadYAMLFileNotFound(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoadYAMLInvalid(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("invalid: [yaml: content"), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	_, err := LoadFromFile(configPath)
	if err == nil {
		t.Error("expected error for invalid YAML")
	}
}
