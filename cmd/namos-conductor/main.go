// Command namos-conductor serves the namos conductor over NATS: it accepts
// worker registrations and heartbeats, sweeps dead workers and answers
// topology queries.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openstack-archive/namos/bootstrap"
	"github.com/openstack-archive/namos/conductor"
	"github.com/openstack-archive/namos/config"
	"github.com/openstack-archive/namos/discovery"
	"github.com/openstack-archive/namos/drivers"
	"github.com/openstack-archive/namos/metric"
)

// Build information
const (
	Version = "0.1.0"
	appName = "namos-conductor"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		slog.Error("Conductor failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string) error {
	cli, err := parseFlags(args)
	if err != nil {
		return err
	}
	if cli.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}

	loader := config.NewLoader()
	if cli.ConfigPath != "" {
		loader.AddLayer(cli.ConfigPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyFlags(cfg, cli)

	logger := bootstrap.NewLogger(os.Stdout, appName, Version, cfg.Log)
	slog.SetDefault(logger)
	if cli.Validate {
		slog.Info("Configuration is valid", "config", cfg.String())
		return nil
	}
	slog.Info("Starting namos conductor",
		"version", Version,
		"host", cfg.Conductor.Host,
		"topic", cfg.Conductor.Topic,
		"store", cfg.Store.Driver)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := metric.NewMetricsRegistry()
	nc, err := bootstrap.ConnectNATS(ctx, cfg.NATS, appName+"@"+cfg.Conductor.Host, logger, registry.CoreMetrics())
	if err != nil {
		return err
	}
	defer func() { _ = nc.Close(context.Background()) }()

	store, err := bootstrap.OpenStore(ctx, cfg.Store, nc)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = store.Close() }()

	reg, err := drivers.Default()
	if err != nil {
		return fmt.Errorf("load driver schema: %w", err)
	}
	slog.Info("Driver schema loaded", "families", len(reg.Families()))

	resolver := discovery.New(store, reg,
		discovery.WithLogger(logger.With("component", "discovery")),
		discovery.WithMetrics(registry.CoreMetrics()))
	srv := conductor.New(store, resolver, nc,
		conductor.WithTopic(cfg.Conductor.Topic),
		conductor.WithDefaultRegion(cfg.Conductor.DefaultRegion),
		conductor.WithProjectFilter(cfg.Conductor.ServiceEnabled),
		conductor.WithCallbackTimeout(cfg.Conductor.CallbackTimeout),
		conductor.WithCallbackWorkers(cfg.Conductor.Workers),
		conductor.WithSchemaCacheTTL(cfg.Conductor.SchemaCacheTTL),
		conductor.WithLiveness(cfg.Liveness.ReportInterval, cfg.Liveness.DeadSince, cfg.Liveness.SweepInterval),
		conductor.WithLogger(logger.With("component", "conductor")),
		conductor.WithMetrics(registry))
	srv.Monitor().Register("nats", nc.Check)

	var metrics *metric.Server
	if cfg.Metrics.Enabled {
		metrics = metric.NewServer(cfg.Metrics.Addr, cfg.Metrics.Path, registry)
	}

	var g errgroup.Group
	g.Go(func() error { return srv.Start(ctx) })
	if metrics != nil {
		g.Go(metrics.Start)
	}
	if err := g.Wait(); err != nil {
		shutdown(srv, metrics, cli.ShutdownTimeout)
		return fmt.Errorf("start: %w", err)
	}
	slog.Info("Conductor ready", "metrics", metricsAddr(metrics))

	<-ctx.Done()
	slog.Info("Received shutdown signal")
	if err := shutdown(srv, metrics, cli.ShutdownTimeout); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	slog.Info("Conductor shutdown complete")
	return nil
}

func applyFlags(cfg *config.Config, cli *CLIConfig) {
	if cli.LogLevel != "" {
		cfg.Log.Level = cli.LogLevel
	}
	if cli.LogFormat != "" {
		cfg.Log.Format = cli.LogFormat
	}
	if cli.Workers > 0 {
		cfg.Conductor.Workers = cli.Workers
	}
}

func metricsAddr(s *metric.Server) string {
	if s == nil {
		return "disabled"
	}
	return s.Address()
}

// shutdown stops the conductor and the metrics endpoint in parallel.
func shutdown(srv *conductor.Server, metrics *metric.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var g errgroup.Group
	g.Go(func() error { return srv.Stop(timeout) })
	if metrics != nil {
		g.Go(func() error { return metrics.Stop(ctx) })
	}
	return g.Wait()
}
