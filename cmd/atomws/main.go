// Package main is the entry point for the atomws binary.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"slices"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/polisai/atomws/pkg/config"
	"github.com/polisai/atomws/pkg/logging"
	"github.com/polisai/atomws/pkg/service"
	"github.com/polisai/atomws/pkg/telemetry"
)

const (
	defaultConfigPath = "atomws.yaml"
	shutdownTimeout   = 10 * time.Second
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command for atomws.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "atomws",
		Short:         "Declarative HTTP dispatch server",
		SilenceUsage:  true,
		SilenceErrors: true,
		Long: `atomws routes every request through a graph of atoms declared in a YAML
service file: matchers, rewriters, static files, replies, policies and limits.

Example:
  atomws serve --config /etc/atomws/atomws.yaml`,
	}
	rootCmd.PersistentFlags().StringP("config", "c", defaultConfigPath, "Path to the service file (YAML)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the routing graph and the metrics backend",
		RunE:  runServe,
	}
	serveCmd.Flags().StringP("log-level", "l", "", "Log level override (debug, info, warn, error)")

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the service file and build its routing graph",
		RunE:  runCheck,
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "atomws %s (%s, %s/%s)\n", service.Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}

	rootCmd.AddCommand(serveCmd, checkCmd, versionCmd)
	return rootCmd
}

func configPath(cmd *cobra.Command) (string, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return "", fmt.Errorf("failed to get config flag: %w", err)
	}
	return path, nil
}

// runCheck loads the file and builds both graphs without binding anything.
func runCheck(cmd *cobra.Command, _ []string) error {
	path, err := configPath(cmd)
	if err != nil {
		return err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	svc, err := service.New(cfg.ServiceOptions(), logger)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Stop(context.Background()) }()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "service %q: %d top-level atoms, binds %v\n", cfg.Service.Title, len(cfg.Service.Route), cfg.Service.Bind)
	if cfg.Backend.Enabled {
		fmt.Fprintf(out, "backend: binds %v\n", cfg.Backend.Bind)
	}
	if cfg.RedisEnabled() {
		fmt.Fprintf(out, "metrics: shared through redis at %s\n", cfg.Metrics.Redis.Addr)
	}
	fmt.Fprintln(out, "configuration ok")
	return nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	path, err := configPath(cmd)
	if err != nil {
		return err
	}
	provider, err := config.NewFileConfigProvider(path, slog.Default())
	if err != nil {
		return err
	}
	defer func() { _ = provider.Close() }()
	cfg := provider.Current()

	logCfg := cfg.LoggingConfig()
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		logCfg.Level = level
	}
	logger := logging.NewLogger(logCfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.SetupProvider(ctx, cfg.TelemetryConfig())
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Error("telemetry shutdown failed", "error", err)
		}
	}()

	opts := cfg.ServiceOptions()
	if cfg.RedisEnabled() {
		client := cfg.RedisClient()
		defer func() { _ = client.Close() }()
		opts.Publisher = service.NewRedisPublisher(client, cfg.PublisherOptions(), logger)
	}

	svc, err := service.New(opts, logger)
	if err != nil {
		return err
	}
	services := []*service.Service{svc}

	if cfg.Backend.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			service.NewCollector(svc.Document),
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		backend, err := service.New(cfg.BackendOptions(service.BackendRoute(svc.Document, reg)), logger.With("backend", true))
		if err != nil {
			return err
		}
		services = append(services, backend)
	}

	for i, s := range services {
		if err := s.Start(ctx); err != nil {
			stopAll(services[:i], logger)
			return err
		}
	}
	logger.Info("atomws started", "version", service.Version, "config", path)

	updates := provider.Subscribe()
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			stopAll(services, logger)
			return nil
		case next, ok := <-updates:
			if !ok {
				stopAll(services, logger)
				return errors.New("configuration watcher stopped")
			}
			applyReload(svc, cfg, next, logger)
		}
	}
}

// applyReload swaps the routing graph. Listeners and identity stay as they
// were at startup, so next is compared with started, not with the previous
// reload; it reports whether a restart is still needed.
func applyReload(svc *service.Service, started, next *config.Config, logger *slog.Logger) bool {
	if err := svc.Reload(next.Service.Route); err != nil {
		logger.Error("route reload failed, keeping the active graph", "error", err)
		return false
	}
	logger.Info("routing graph reloaded", "atoms", len(next.Service.Route))
	if !slices.Equal(started.Service.Bind, next.Service.Bind) || started.Service.Title != next.Service.Title {
		logger.Warn("bind and title changes apply after a restart")
		return true
	}
	return false
}

func stopAll(services []*service.Service, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for i := len(services) - 1; i >= 0; i-- {
		if err := services[i].Stop(ctx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
	}
}
