package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/polisai/atomws/pkg/domain"
)

const sampleConfig = `
service:
  title: edge
  bind: ["*:9090", "edge.sock"]
  debug: true
  timeout_ms: 1500
  route:
    - atom: match
      using:
        - path: ^/metrics$
      route:
        atom: json
        using:
          ok: true
    - atom: reply
      status: 201
      content:
        compute: '"hello " + job.method'
backend:
  enabled: false
metrics:
  period: 2s
  redis:
    addr: localhost:6379
    interval: 1s
logging:
  level: DEBUG
  format: json
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "atomws.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Service.Title != "edge" || !cfg.Service.Debug || cfg.Service.TimeoutMS != 1500 {
		t.Errorf("unexpected service section %+v", cfg.Service)
	}
	if len(cfg.Service.Bind) != 2 || cfg.Service.Bind[1] != "edge.sock" {
		t.Errorf("unexpected binds %v", cfg.Service.Bind)
	}
	if cfg.Backend.Enabled {
		t.Errorf("backend should be disabled")
	}
	if cfg.Metrics.Period != 2*time.Second || cfg.Metrics.Redis.Interval != time.Second {
		t.Errorf("unexpected metrics section %+v", cfg.Metrics)
	}
	if cfg.Metrics.Redis.Prefix != "atomws:metrics" || cfg.Metrics.Redis.TTL != 30*time.Second {
		t.Errorf("redis defaults not applied: %+v", cfg.Metrics.Redis)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("logging not normalized: %+v", cfg.Logging)
	}

	if len(cfg.Service.Route) != 2 {
		t.Fatalf("route length = %d, want 2", len(cfg.Service.Route))
	}
	match, ok := cfg.Service.Route[0].(domain.Schema)
	if !ok || match.Declaration() != "match" {
		t.Fatalf("first declaration = %#v", cfg.Service.Route[0])
	}
	child, ok := match[domain.KeyRoute].(domain.Schema)
	if !ok || child.Declaration() != "json" {
		t.Fatalf("nested route = %#v", match[domain.KeyRoute])
	}
	reply := cfg.Service.Route[1].(domain.Schema)
	if reply["status"] != 201 {
		t.Errorf("status = %#v, want int 201", reply["status"])
	}
	if _, ok := reply["content"].(domain.Computed); !ok {
		t.Errorf("content = %T, want domain.Computed", reply["content"])
	}
}

func TestDefaults(t *testing.T) {
	cfg, err := Parse([]byte("service:\n  route: []\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.Service.Title != "atomws" || cfg.Service.TimeoutMS != 30000 {
		t.Errorf("unexpected defaults %+v", cfg.Service)
	}
	if !cfg.Backend.Enabled || cfg.Backend.Bind[0] != "127.0.0.1:81" {
		t.Errorf("unexpected backend defaults %+v", cfg.Backend)
	}
	if cfg.RedisEnabled() {
		t.Errorf("redis should be disabled by default")
	}
	opts := cfg.ServiceOptions()
	if opts.Timeout != 30*time.Second || opts.MeasurePeriod != 5*time.Second {
		t.Errorf("unexpected service options %+v", opts)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ATOMWS_BIND", "127.0.0.1:1, 127.0.0.1:2")
	t.Setenv("ATOMWS_BACKEND_BIND", "127.0.0.1:3")
	t.Setenv("ATOMWS_DEBUG", "true")
	t.Setenv("ATOMWS_HIDE", "1")
	t.Setenv("ATOMWS_LOG_LEVEL", "warn")
	t.Setenv("ATOMWS_OTLP_ENDPOINT", "collector:4317")
	t.Setenv("ATOMWS_REDIS_ADDR", "redis:6379")

	cfg, err := Parse([]byte("{}"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if got := cfg.Service.Bind; len(got) != 2 || got[1] != "127.0.0.1:2" {
		t.Errorf("bind = %v", got)
	}
	if cfg.Backend.Bind[0] != "127.0.0.1:3" || !cfg.Service.Debug || !cfg.Service.Hide {
		t.Errorf("overrides not applied: %+v %+v", cfg.Backend, cfg.Service)
	}
	if cfg.Logging.Level != "warn" || cfg.Telemetry.OTLPEndpoint != "collector:4317" || !cfg.RedisEnabled() {
		t.Errorf("overrides not applied: %+v %+v %+v", cfg.Logging, cfg.Telemetry, cfg.Metrics.Redis)
	}
	if cfg.TelemetryConfig().Endpoint != "collector:4317" {
		t.Errorf("telemetry conversion lost the endpoint")
	}

	t.Setenv("ATOMWS_DEBUG", "maybe")
	if _, err := Parse([]byte("{}")); !errors.Is(err, domain.ErrConfigInvalid) {
		t.Errorf("bad boolean error = %v", err)
	}
}

func TestValidateErrors(t *testing.T) {
	tests := map[string]string{
		"timeout":    "service:\n  timeout_ms: 0\n",
		"bind":       "service:\n  bind: []\n",
		"port":       "service:\n  bind: ['*:99999']\n",
		"level":      "logging:\n  level: loud\n",
		"format":     "logging:\n  format: xml\n",
		"period":     "metrics:\n  period: 0s\n",
		"ttl":        "metrics:\n  redis:\n    addr: x:1\n    interval: 10s\n    ttl: 5s\n",
		"redaction":  "service:\n  redactions:\n    authorization: scramble\n",
		"compute":    "service:\n  route:\n    - atom: reply\n      content:\n        compute: 'job.'\n",
		"job limit":  "service:\n  job_limit: -1\n",
		"yaml":       "service: [\n",
		"key scalar": "service:\n  route:\n    - {[a]: b}\n",
	}
	for name, content := range tests {
		_, err := Parse([]byte(content))
		if err == nil {
			t.Errorf("%s: expected an error", name)
			continue
		}
		if domain.ErrorCode(err) != domain.CodeConfiguration {
			t.Errorf("%s: error code = %q (%v)", name, domain.ErrorCode(err), err)
		}
	}
}
