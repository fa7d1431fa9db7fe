package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 100 * time.Millisecond

// FileConfigProvider loads the service file and re-parses it whenever it
// changes on disk. A file that fails to parse leaves the current config in
// place.
type FileConfigProvider struct {
	path        string
	logger      *slog.Logger
	mu          sync.RWMutex
	current     *Config
	subscribers []chan *Config
	watcher     *fsnotify.Watcher
	cancel      context.CancelFunc
	done        chan struct{}
}

// NewFileConfigProvider loads path and starts watching its directory. The
// initial load must succeed.
func NewFileConfigProvider(path string, logger *slog.Logger) (*FileConfigProvider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	cfg, err := Load(absPath)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	// Editors replace files by rename, so the directory is watched instead of
	// the file.
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &FileConfigProvider{
		path:    absPath,
		logger:  logger.With("config", absPath),
		current: cfg,
		watcher: watcher,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go p.watchLoop(ctx)
	return p, nil
}

// Current returns the last successfully loaded configuration.
func (p *FileConfigProvider) Current() *Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// Subscribe returns a channel receiving every configuration loaded after the
// call. A slow subscriber only ever sees the newest one.
func (p *FileConfigProvider) Subscribe() <-chan *Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan *Config, 1)
	p.subscribers = append(p.subscribers, ch)
	return ch
}

// Close stops the watcher and closes subscriber channels.
func (p *FileConfigProvider) Close() error {
	p.cancel()
	err := p.watcher.Close()
	<-p.done

	p.mu.Lock()
	for _, ch := range p.subscribers {
		close(ch)
	}
	p.subscribers = nil
	p.mu.Unlock()
	return err
}

func (p *FileConfigProvider) watchLoop(ctx context.Context) {
	defer close(p.done)
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != p.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, func() {
				if ctx.Err() != nil {
					return
				}
				p.reload()
			})
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.logger.Warn("config watcher error", "error", err)
		}
	}
}

func (p *FileConfigProvider) reload() {
	cfg, err := Load(p.path)
	if err != nil {
		p.logger.Error("config reload failed, keeping the previous configuration", "error", err)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = cfg
	for _, ch := range p.subscribers {
		select {
		case ch <- cfg:
		default:
			// replace the stale pending config
			select {
			case <-ch:
			default:
			}
			ch <- cfg
		}
	}
	p.logger.Info("configuration reloaded")
}
