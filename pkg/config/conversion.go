package config

import (
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/polisai/atomws/pkg/logging"
	"github.com/polisai/atomws/pkg/service"
	"github.com/polisai/atomws/pkg/telemetry"
)

// ServiceOptions converts the service section. Shared measures, pools and the
// publisher are attached by the caller.
func (c *Config) ServiceOptions() service.Options {
	s := c.Service
	return service.Options{
		Title:          s.Title,
		Bind:           append([]string(nil), s.Bind...),
		Hide:           s.Hide,
		Debug:          s.Debug,
		Favicon:        s.Favicon,
		Timeout:        time.Duration(s.TimeoutMS) * time.Millisecond,
		Route:          []any(s.Route),
		MeasurePeriod:  c.Metrics.Period,
		JobLimit:       s.JobLimit,
		CaptureHeaders: s.CaptureHeaders,
		Redactions:     s.Redactions,
	}
}

// BackendOptions converts the backend section; the route is supplied by the
// caller because it serves the main service's document.
func (c *Config) BackendOptions(route []any) service.Options {
	return service.Options{
		Title:         c.Service.Title,
		Bind:          append([]string(nil), c.Backend.Bind...),
		Hide:          c.Service.Hide,
		Favicon:       c.Service.Favicon,
		Timeout:       time.Duration(c.Service.TimeoutMS) * time.Millisecond,
		Route:         route,
		MeasurePeriod: c.Metrics.Period,
	}
}

// TelemetryConfig converts the telemetry section.
func (c *Config) TelemetryConfig() telemetry.Config {
	return telemetry.Config{
		ServiceName:    c.Service.Title,
		Endpoint:       c.Telemetry.OTLPEndpoint,
		Environment:    c.Telemetry.Environment,
		Insecure:       c.Telemetry.Insecure,
		CaptureHeaders: c.Service.CaptureHeaders,
		Redactions:     c.Service.Redactions,
	}
}

// LoggingConfig converts the logging section.
func (c *Config) LoggingConfig() logging.Config {
	return logging.Config{Level: c.Logging.Level, Format: c.Logging.Format}
}

// RedisEnabled reports whether metrics are shared through redis.
func (c *Config) RedisEnabled() bool { return c.Metrics.Redis.Addr != "" }

// RedisClient opens a client for the metrics publisher.
func (c *Config) RedisClient() redis.UniversalClient {
	r := c.Metrics.Redis
	return redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{r.Addr},
		Password: r.Password,
		DB:       r.DB,
	})
}

// PublisherOptions converts the redis section.
func (c *Config) PublisherOptions() service.PublisherOptions {
	r := c.Metrics.Redis
	return service.PublisherOptions{Prefix: r.Prefix, Interval: r.Interval, TTL: r.TTL}
}
