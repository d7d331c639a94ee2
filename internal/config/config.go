// Package config loads daemon settings from defaults, an optional YAML file
// and the environment, in that order of precedence (environment wins).
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"attendsync/internal/httputil"
	"attendsync/internal/notifier"
)

// PathEnv names the environment variable holding the YAML file path.
const PathEnv = "ATTENDSYNC_CONFIG"

type Config struct {
	ListenAddr    string `yaml:"listen_addr" env:"LISTEN_ADDR"`
	BackendURL    string `yaml:"backend_url" env:"BACKEND_URL"`
	DBPath        string `yaml:"db_path" env:"DB_PATH"`
	MigrationsDir string `yaml:"migrations_dir" env:"MIGRATIONS_DIR"`
	CORSOrigin    string `yaml:"cors_origin" env:"CORS_ORIGIN"`
	EncryptionKey string `yaml:"encryption_key" env:"TOKEN_ENCRYPTION_KEY"`

	Backend   BackendConfig   `yaml:"backend"`
	Camera    CameraConfig    `yaml:"camera"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Retention RetentionConfig `yaml:"retention"`
	Notify    NotifyConfig    `yaml:"notify"`
}

type BackendConfig struct {
	RateLimit float64       `yaml:"rate_limit" env:"BACKEND_RATE_LIMIT"`
	Burst     int           `yaml:"burst" env:"BACKEND_BURST"`
	// Timeout bounds each JSON call. Face enrollment is the slowest one.
	Timeout   time.Duration `yaml:"timeout" env:"BACKEND_TIMEOUT"`
}

type CameraConfig struct {
	SettleDelay    time.Duration `yaml:"settle_delay" env:"CAMERA_SETTLE_DELAY"`
	ReleaseTimeout time.Duration `yaml:"release_timeout" env:"CAMERA_RELEASE_TIMEOUT"`
}

type MonitorConfig struct {
	PollInterval time.Duration `yaml:"poll_interval" env:"MONITOR_POLL_INTERVAL"`
}

type DashboardConfig struct {
	TokenRefresh        time.Duration `yaml:"token_refresh" env:"DASHBOARD_TOKEN_REFRESH"`
	DetailsPollInterval time.Duration `yaml:"details_poll_interval" env:"DASHBOARD_DETAILS_POLL_INTERVAL"`
}

type RetentionConfig struct {
	Window  time.Duration `yaml:"window" env:"RETENTION_WINDOW"`
	RunHour int           `yaml:"run_hour" env:"RETENTION_RUN_HOUR"`
}

// NotifyConfig is file-only; channels carry nested settings that do not map
// onto flat environment variables.
type NotifyConfig struct {
	Channels []notifier.Channel `yaml:"channels"`
}

func Default() *Config {
	return &Config{
		ListenAddr:    "127.0.0.1:7940",
		BackendURL:    "http://127.0.0.1:8000",
		DBPath:        "./data/attendsync.db",
		MigrationsDir: "./migrations",
		Backend:       BackendConfig{RateLimit: 10, Burst: 5, Timeout: httputil.DefaultTimeout},
		Camera:        CameraConfig{SettleDelay: 800 * time.Millisecond, ReleaseTimeout: 5 * time.Second},
		Monitor:       MonitorConfig{PollInterval: 5 * time.Second},
		Dashboard:     DashboardConfig{TokenRefresh: 30 * time.Second, DetailsPollInterval: 5 * time.Second},
		Retention:     RetentionConfig{Window: 30 * 24 * time.Hour, RunHour: 3},
	}
}

// Load reads the file named by $ATTENDSYNC_CONFIG, if set, then applies
// environment overrides.
func Load() (*Config, error) {
	return LoadFile(os.Getenv(PathEnv))
}

// LoadFile is Load with an explicit file path. An empty path skips the file.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening config file: %w", err)
		}
		defer f.Close()
		if err := cfg.decodeYAML(f); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	}
	// env reads slices of structs from indexed variables; channels stay file-only.
	channels := cfg.Notify.Channels
	cfg.Notify.Channels = nil
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.Notify.Channels = channels
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decodeYAML(r io.Reader) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	return dec.Decode(c)
}

func (c *Config) Validate() error {
	var errs []error
	if c.ListenAddr == "" {
		errs = append(errs, errors.New("listen_addr is required"))
	}
	if u, err := httputil.NormalizeBaseURL(c.BackendURL); err != nil {
		errs = append(errs, fmt.Errorf("backend_url: %w", err))
	} else {
		c.BackendURL = u
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("db_path is required"))
	}
	positive := map[string]time.Duration{
		"backend.timeout":                 c.Backend.Timeout,
		"camera.release_timeout":          c.Camera.ReleaseTimeout,
		"monitor.poll_interval":           c.Monitor.PollInterval,
		"dashboard.token_refresh":         c.Dashboard.TokenRefresh,
		"dashboard.details_poll_interval": c.Dashboard.DetailsPollInterval,
		"retention.window":                c.Retention.Window,
	}
	for name, d := range positive {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.Camera.SettleDelay < 0 {
		errs = append(errs, errors.New("camera.settle_delay must not be negative"))
	}
	if c.Retention.RunHour < 0 || c.Retention.RunHour > 23 {
		errs = append(errs, errors.New("retention.run_hour must be between 0 and 23"))
	}
	for _, ch := range c.Notify.Channels {
		if err := ch.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
