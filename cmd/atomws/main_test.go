package main

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/atomws/pkg/config"
	"github.com/polisai/atomws/pkg/service"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "atomws.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func execute(args ...string) (string, error) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute("version")
	require.NoError(t, err)
	assert.Contains(t, out, "atomws "+service.Version)
}

func TestCheckCommand(t *testing.T) {
	path := writeFile(t, `
service:
  bind: ["127.0.0.1:0"]
  route:
    - atom: match
      using: [{path: ^/hello$}]
      route: {atom: reply, content: hi}
backend:
  enabled: false
`)
	out, err := execute("check", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "1 top-level atoms")
	assert.Contains(t, out, "configuration ok")
	assert.NotContains(t, out, "backend:")
}

func TestCheckExampleConfig(t *testing.T) {
	out, err := execute("check", "-c", filepath.Join("..", "..", "atomws.example.yaml"))
	require.NoError(t, err)
	assert.Contains(t, out, "4 top-level atoms")
	assert.Contains(t, out, "configuration ok")
}

func TestCheckCommandRejectsUnknownAtom(t *testing.T) {
	path := writeFile(t, "service:\n  route:\n    - atom: teleport\n")
	_, err := execute("check", "-c", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "teleport")
}

func TestCheckCommandMissingFile(t *testing.T) {
	_, err := execute("check", "-c", filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestApplyReload(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	parseBind := func(bind, route string) *config.Config {
		cfg, err := config.Parse([]byte("service:\n  bind: ['" + bind + "']\n  route: " + route + "\n"))
		require.NoError(t, err)
		return cfg
	}
	parse := func(route string) *config.Config { return parseBind("127.0.0.1:0", route) }
	body := func(svc *service.Service) string {
		rec := httptest.NewRecorder()
		svc.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		return rec.Body.String()
	}

	running := parse("[{atom: reply, content: a}]")
	svc, err := service.New(running.ServiceOptions(), logger)
	require.NoError(t, err)
	defer func() { _ = svc.Stop(t.Context()) }()

	assert.False(t, applyReload(svc, running, parse("[{atom: nonsense}]"), logger))
	assert.Equal(t, "a", body(svc))

	assert.False(t, applyReload(svc, running, parse("[{atom: reply, content: b}]"), logger))
	assert.Equal(t, "b", body(svc))

	// a bind change stays pending on every reload until the process restarts
	moved := "[{atom: reply, content: c}]"
	assert.True(t, applyReload(svc, running, parseBind("127.0.0.1:9999", moved), logger))
	assert.True(t, applyReload(svc, running, parseBind("127.0.0.1:9999", moved), logger))
	assert.Equal(t, "c", body(svc))
}
