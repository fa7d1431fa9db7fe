package config

import (
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFileConfigProviderReload(t *testing.T) {
	path := writeConfig(t, "service:\n  title: first\n")
	p, err := NewFileConfigProvider(path, testLogger())
	require.NoError(t, err)
	defer p.Close()

	require.Equal(t, "first", p.Current().Service.Title)
	updates := p.Subscribe()

	require.NoError(t, os.WriteFile(path, []byte("service:\n  title: second\n"), 0o600))
	select {
	case cfg := <-updates:
		require.Equal(t, "second", cfg.Service.Title)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after the file changed")
	}
	require.Equal(t, "second", p.Current().Service.Title)

	// an invalid file keeps the previous configuration
	require.NoError(t, os.WriteFile(path, []byte("service:\n  timeout_ms: -1\n"), 0o600))
	time.Sleep(4 * reloadDebounce)
	require.Equal(t, "second", p.Current().Service.Title)
}

func TestFileConfigProviderInitialLoadFails(t *testing.T) {
	_, err := NewFileConfigProvider(writeConfig(t, "logging:\n  level: loud\n"), testLogger())
	require.Error(t, err)
}

func TestFileConfigProviderCloseEndsSubscriptions(t *testing.T) {
	p, err := NewFileConfigProvider(writeConfig(t, "{}"), testLogger())
	require.NoError(t, err)
	updates := p.Subscribe()
	require.NoError(t, p.Close())

	_, ok := <-updates
	require.False(t, ok)
}
