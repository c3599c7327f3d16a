package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/wavepredictor/boatrace"
	"github.com/wavepredictor/boatrace/pkg/refresh"
	"gopkg.in/yaml.v3"
)

// EnvBaseURL overrides api.base_url when set.
const EnvBaseURL = "WAVEPREDICTOR_API_URL"

// Config holds all wavepredictor configuration.
type Config struct {
	API          APIConfig          `yaml:"api"`
	Refresh      RefreshConfig      `yaml:"refresh"`
	Connectivity ConnectivityConfig `yaml:"connectivity"`
	Log          LogConfig          `yaml:"log"`
	Metrics      MetricsConfig      `yaml:"metrics"`
}

// APIConfig controls the prediction API client.
type APIConfig struct {
	BaseURL        string            `yaml:"base_url"`
	Pacing         time.Duration     `yaml:"pacing"`
	CacheWindow    time.Duration     `yaml:"cache_window"`
	RequestTimeout time.Duration     `yaml:"request_timeout"`
	Headers        map[string]string `yaml:"headers"`
}

// RefreshConfig controls when data is reloaded.
// Mode is "automatic" (default) or "manual".
type RefreshConfig struct {
	Mode         string        `yaml:"mode"`
	Interval     time.Duration `yaml:"interval"`
	Cron         string        `yaml:"cron"`
	InitAttempts int           `yaml:"init_attempts"`
	RetryDelay   time.Duration `yaml:"retry_delay"`
}

// ConnectivityConfig controls the reachability probe. Zero disables it.
type ConnectivityConfig struct {
	ProbeInterval time.Duration `yaml:"probe_interval"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console or json
}

// MetricsConfig sets where /metrics is served. Empty disables it.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:        "http://localhost:5000/api",
			Pacing:         boatrace.DefaultPacing,
			CacheWindow:    boatrace.DefaultCacheWindow,
			RequestTimeout: boatrace.DefaultRequestTimeout,
		},
		Refresh: RefreshConfig{
			Mode:         "automatic",
			Interval:     refresh.DefaultInterval,
			InitAttempts: refresh.DefaultInitAttempts,
			RetryDelay:   refresh.DefaultRetryDelay,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads a .env file if present, then the YAML config at path with
// environment variables expanded. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}

		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if v := os.Getenv(EnvBaseURL); v != "" {
		cfg.API.BaseURL = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.API.BaseURL) == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if c.API.Pacing < 0 {
		return fmt.Errorf("api.pacing must not be negative")
	}
	if c.API.CacheWindow < 0 {
		return fmt.Errorf("api.cache_window must not be negative")
	}
	if c.API.RequestTimeout < 0 {
		return fmt.Errorf("api.request_timeout must not be negative")
	}
	if c.Refresh.InitAttempts < 1 {
		return fmt.Errorf("refresh.init_attempts must be at least 1")
	}
	if c.Connectivity.ProbeInterval < 0 {
		return fmt.Errorf("connectivity.probe_interval must not be negative")
	}
	switch c.Log.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("log.format must be console or json, got %q", c.Log.Format)
	}

	rc, err := c.RefreshConfig()
	if err != nil {
		return err
	}
	if err := rc.Validate(); err != nil {
		return fmt.Errorf("refresh: %w", err)
	}
	return nil
}

// ClientOptions maps the api section onto client options. Logger, metrics and
// connectivity are wired by the caller.
func (c *Config) ClientOptions() []boatrace.Option {
	opts := []boatrace.Option{
		boatrace.WithPacing(c.API.Pacing),
		boatrace.WithCacheWindow(c.API.CacheWindow),
	}
	if c.API.RequestTimeout > 0 {
		opts = append(opts, boatrace.WithTimeout(c.API.RequestTimeout))
	}
	for k, v := range c.API.Headers {
		opts = append(opts, boatrace.WithHeader(k, v))
	}
	return opts
}

// RefreshConfig maps the refresh section onto the coordinator config.
func (c *Config) RefreshConfig() (refresh.Config, error) {
	mode := refresh.Automatic
	if c.Refresh.Mode != "" {
		m, err := refresh.ParseMode(c.Refresh.Mode)
		if err != nil {
			return refresh.Config{}, fmt.Errorf("refresh.mode: %w", err)
		}
		mode = m
	}
	return refresh.Config{
		Mode:         mode,
		Interval:     c.Refresh.Interval,
		CronSpec:     c.Refresh.Cron,
		InitAttempts: c.Refresh.InitAttempts,
		RetryDelay:   c.Refresh.RetryDelay,
	}, nil
}
