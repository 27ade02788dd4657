package main

import (
	"flag"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/ligustah/dlpool/internal/config"
	dlhttp "github.com/ligustah/dlpool/internal/http"
	"github.com/ligustah/dlpool/internal/progress"
)

// headerFlag collects repeated -header "Name: value" flags.
type headerFlag map[string]string

func (h headerFlag) String() string {
	var parts []string
	for k, v := range h {
		parts = append(parts, k+": "+v)
	}
	sort.Strings(parts)
	return strings.Join(parts, ", ")
}

func (h headerFlag) Set(s string) error {
	name, value, ok := strings.Cut(s, ":")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return fmt.Errorf("header must look like 'Name: value', got %q", s)
	}
	h[http.CanonicalHeaderKey(name)] = strings.TrimSpace(value)
	return nil
}

// configFlags are the flags shared by every command that makes requests.
// Zero values leave the file and environment settings alone.
type configFlags struct {
	file            *string
	dir             *string
	workers         *int
	existOK         *bool
	progress        *bool
	logLevel        *string
	logFormat       *string
	namePolicy      *string
	timeout         *time.Duration
	rateLimit       *string
	cookies         *string
	mirror          *string
	retryAttempts   *int
	retryBackoff    *time.Duration
	retryMaxBackoff *time.Duration
	headers         headerFlag
}

func addConfigFlags(fs *flag.FlagSet) *configFlags {
	cf := &configFlags{
		file:            fs.String("config", "", "YAML configuration file"),
		dir:             fs.String("dir", "", "Directory to download into (default .)"),
		workers:         fs.Int("workers", 0, "Maximum concurrent downloads (default 4)"),
		existOK:         fs.Bool("exist-ok", false, "Skip downloads whose destination already exists"),
		progress:        fs.Bool("progress", false, "Show progress output"),
		logLevel:        fs.String("log-level", "", "Log level: debug, info, warn, error"),
		logFormat:       fs.String("log-format", "", "Log format: text or json"),
		namePolicy:      fs.String("name-policy", "", "Unsafe filename characters: replace or remove"),
		timeout:         fs.Duration("timeout", 0, "Per-attempt connect and idle timeout (default 30s)"),
		rateLimit:       fs.String("rate-limit", "", "Total bandwidth limit per second, e.g. 10MiB"),
		cookies:         fs.String("cookies", "", "JSON cookies file"),
		mirror:          fs.String("mirror", "", "Bucket URL to copy finished downloads to"),
		retryAttempts:   fs.Int("retry-attempts", 0, "Attempts per download (default 5)"),
		retryBackoff:    fs.Duration("retry-backoff", 0, "Initial retry backoff (default 1s)"),
		retryMaxBackoff: fs.Duration("retry-max-backoff", 0, "Max retry backoff (default 30s)"),
		headers:         headerFlag{},
	}
	fs.Var(cf.headers, "header", "Extra request header 'Name: value' (repeatable)")
	return cf
}

// load layers defaults, the config file, the environment and flags.
func (cf *configFlags) load() (config.Config, error) {
	cfg := config.Default()
	if *cf.file != "" {
		var err error
		if cfg, err = config.LoadFromFile(*cf.file); err != nil {
			return config.Config{}, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return config.Config{}, err
	}

	override := config.Config{
		Dir:         *cf.dir,
		Workers:     *cf.workers,
		ExistOK:     *cf.existOK,
		Progress:    *cf.progress,
		LogLevel:    *cf.logLevel,
		LogFormat:   *cf.logFormat,
		NamePolicy:  *cf.namePolicy,
		Timeout:     *cf.timeout,
		Headers:     cf.headers,
		CookiesFile: *cf.cookies,
		Mirror:      *cf.mirror,
		Retry: config.RetryConfig{
			Attempts:   *cf.retryAttempts,
			Backoff:    *cf.retryBackoff,
			MaxBackoff: *cf.retryMaxBackoff,
		},
	}
	if *cf.rateLimit != "" {
		n, err := progress.ParseBytes(*cf.rateLimit)
		if err != nil {
			return config.Config{}, fmt.Errorf("parse -rate-limit: %w", err)
		}
		override.RateLimit = n
	}

	cfg = cfg.Merge(override)
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// loadCookies reads the configured cookies file, if any.
func loadCookies(cfg config.Config) ([]*http.Cookie, error) {
	if cfg.CookiesFile == "" {
		return nil, nil
	}
	return dlhttp.LoadCookies(cfg.CookiesFile)
}
