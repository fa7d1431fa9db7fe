// Package config provides configuration structures and loading logic for the
// atomws service file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/polisai/atomws/pkg/domain"
	"github.com/polisai/atomws/pkg/logging"
	"github.com/polisai/atomws/pkg/service"
)

// Config holds the whole service file.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Backend   BackendConfig   `yaml:"backend"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServiceConfig configures the main service.
type ServiceConfig struct {
	Title     string   `yaml:"title"`
	Bind      []string `yaml:"bind"`
	Hide      bool     `yaml:"hide"`
	Debug     bool     `yaml:"debug"`
	Favicon   string   `yaml:"favicon"`
	TimeoutMS int      `yaml:"timeout_ms"`

	// JobLimit bounds the idle jobs kept for reuse; 0 is unbounded.
	JobLimit       int               `yaml:"job_limit"`
	CaptureHeaders []string          `yaml:"capture_headers"`
	Redactions     map[string]string `yaml:"redactions"`
	Route          Route             `yaml:"route"`
}

// BackendConfig configures the metrics backend.
type BackendConfig struct {
	Enabled bool     `yaml:"enabled"`
	Bind    []string `yaml:"bind"`
}

// MetricsConfig configures rate measures and cross-instance publishing.
type MetricsConfig struct {
	Period time.Duration `yaml:"period"`
	Redis  RedisConfig   `yaml:"redis"`
}

// RedisConfig configures the metrics publisher. An empty Addr disables it.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	Interval time.Duration `yaml:"interval"`
	TTL      time.Duration `yaml:"ttl"`
}

// TelemetryConfig holds configuration for OpenTelemetry.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
	Environment  string `yaml:"environment"`
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration every file is decoded over.
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			Title:     service.DefaultTitle,
			Bind:      []string{"*:8080"},
			TimeoutMS: 30000,
		},
		Backend: BackendConfig{
			Enabled: true,
			Bind:    []string{service.DefaultBackendBind},
		},
		Metrics: MetricsConfig{
			Period: 5 * time.Second,
			Redis: RedisConfig{
				Prefix:   service.DefaultMetricsPrefix,
				Interval: service.DefaultPublishInterval,
				TTL:      service.DefaultPublishTTL,
			},
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads configuration from a file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	//nolint:gosec // Config file path is controlled by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes data over the defaults, applies the environment and validates.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if errors.Is(err, domain.ErrConfigInvalid) {
			return nil, err
		}
		return nil, domain.ConfigError(domain.ErrConfigInvalid, "parse: %v", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	if val := os.Getenv("ATOMWS_BIND"); val != "" {
		cfg.Service.Bind = splitList(val)
	}
	if val := os.Getenv("ATOMWS_BACKEND_BIND"); val != "" {
		cfg.Backend.Bind = splitList(val)
	}
	for name, dst := range map[string]*bool{
		"ATOMWS_DEBUG": &cfg.Service.Debug,
		"ATOMWS_HIDE":  &cfg.Service.Hide,
	} {
		val := os.Getenv(name)
		if val == "" {
			continue
		}
		b, err := strconv.ParseBool(val)
		if err != nil {
			return domain.ConfigError(domain.ErrConfigInvalid, "%s: %q is not a boolean", name, val)
		}
		*dst = b
	}
	if val := os.Getenv("ATOMWS_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("ATOMWS_OTLP_ENDPOINT"); val != "" {
		cfg.Telemetry.OTLPEndpoint = val
	}
	if val := os.Getenv("ATOMWS_REDIS_ADDR"); val != "" {
		cfg.Metrics.Redis.Addr = val
	}
	return nil
}

func splitList(val string) []string {
	var out []string
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Validate normalizes and checks every section.
func (c *Config) Validate() error {
	if err := c.Service.Validate(); err != nil {
		return fmt.Errorf("service configuration: %w", err)
	}
	if err := c.Backend.Validate(); err != nil {
		return fmt.Errorf("backend configuration: %w", err)
	}
	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics configuration: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging configuration: %w", err)
	}
	return nil
}

// Validate checks the service section.
func (c *ServiceConfig) Validate() error {
	if strings.TrimSpace(c.Title) == "" {
		c.Title = service.DefaultTitle
	}
	if _, err := service.ParseBinds(c.Bind); err != nil {
		return err
	}
	if c.TimeoutMS <= 0 {
		return domain.ConfigError(domain.ErrConfigInvalid, "timeout_ms must be positive, got %d", c.TimeoutMS)
	}
	if c.JobLimit < 0 {
		return domain.ConfigError(domain.ErrConfigInvalid, "job_limit must not be negative")
	}
	for key, rule := range c.Redactions {
		switch rule {
		case "drop", "mask", "hash", "replace":
		default:
			return domain.ConfigError(domain.ErrConfigInvalid, "redaction %q: unknown rule %q", key, rule)
		}
	}
	return nil
}

// Validate checks the backend binds when the backend is enabled.
func (c *BackendConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if len(c.Bind) == 0 {
		c.Bind = []string{service.DefaultBackendBind}
	}
	_, err := service.ParseBinds(c.Bind)
	return err
}

// Validate checks periods and fills publisher defaults.
func (c *MetricsConfig) Validate() error {
	if c.Period <= 0 {
		return domain.ConfigError(domain.ErrConfigInvalid, "period must be positive")
	}
	r := &c.Redis
	if r.Prefix == "" {
		r.Prefix = service.DefaultMetricsPrefix
	}
	if r.Interval <= 0 {
		r.Interval = service.DefaultPublishInterval
	}
	if r.TTL <= 0 {
		r.TTL = service.DefaultPublishTTL
	}
	if r.Addr != "" && r.TTL < r.Interval {
		return domain.ConfigError(domain.ErrConfigInvalid, "redis ttl %s is shorter than the publish interval %s", r.TTL, r.Interval)
	}
	return nil
}

// Validate performs validation of logging configuration.
func (c *LoggingConfig) Validate() error {
	if strings.TrimSpace(c.Level) == "" {
		c.Level = "info"
	}
	c.Level = strings.ToLower(strings.TrimSpace(c.Level))
	if _, err := logging.ParseLevel(c.Level); err != nil {
		return domain.ConfigError(domain.ErrConfigInvalid, "%v, supported levels: debug, info, warn, error", err)
	}
	if c.Format == "" {
		c.Format = "text"
	}
	if !logging.ValidFormat(c.Format) {
		return domain.ConfigError(domain.ErrConfigInvalid, "invalid log format %q, supported formats: text, json", c.Format)
	}
	c.Format = strings.ToLower(c.Format)
	return nil
}
