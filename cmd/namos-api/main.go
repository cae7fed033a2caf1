// Command namos-api serves the REST facade over the namos conductor.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/openstack-archive/namos/bootstrap"
	"github.com/openstack-archive/namos/config"
	"github.com/openstack-archive/namos/gateway"
	"github.com/openstack-archive/namos/metric"
	"github.com/openstack-archive/namos/pkg/retry"
	"github.com/openstack-archive/namos/pkg/tlsutil"
	"github.com/openstack-archive/namos/rpcapi"
)

// Build information
const (
	Version = "0.1.0"
	appName = "namos-api"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		slog.Error("API failed", "error", err, "exit_code", 1)
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
	if cli.LogLevel != "" {
		cfg.Log.Level = cli.LogLevel
	}
	if cli.LogFormat != "" {
		cfg.Log.Format = cli.LogFormat
	}
	if cli.Addr != "" {
		cfg.HTTP.Addr = cli.Addr
	}

	logger := bootstrap.NewLogger(os.Stdout, appName, Version, cfg.Log)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := metric.NewMetricsRegistry()
	nc, err := bootstrap.ConnectNATS(ctx, cfg.NATS, appName, logger, registry.CoreMetrics())
	if err != nil {
		return err
	}
	defer func() { _ = nc.Close(context.Background()) }()

	client := rpcapi.NewClient(nc,
		rpcapi.WithTopic(cfg.Conductor.Topic),
		rpcapi.WithTimeout(cfg.Conductor.RequestTimeout),
		rpcapi.WithRetry(retry.Default()),
		rpcapi.WithClientLogger(logger.With("component", "rpcapi")),
		rpcapi.WithClientMetrics(registry.CoreMetrics()))

	gwOpts := []gateway.Option{
		gateway.WithAddr(cfg.HTTP.Addr),
		gateway.WithRegistry(registry),
		gateway.WithRequestTimeout(cfg.Conductor.RequestTimeout),
		gateway.WithLogger(logger.With("component", "gateway")),
	}
	if t := cfg.HTTP.TLS; t.Enabled {
		tlsConfig, err := tlsutil.LoadServerConfig(tlsutil.ServerConfig{
			CertFile:          t.CertFile,
			KeyFile:           t.KeyFile,
			MinVersion:        t.MinVersion,
			ClientCAFile:      t.ClientCAFile,
			RequireClientCert: t.RequireClientCert,
		})
		if err != nil {
			return err
		}
		gwOpts = append(gwOpts, gateway.WithTLS(tlsConfig))
	}
	api := gateway.New(client, gwOpts...)
	api.Monitor().Register("nats", nc.Check)
	if err := api.Start(ctx); err != nil {
		return err
	}
	slog.Info("namos API ready", "addr", api.Address(), "topic", cfg.Conductor.Topic)

	<-ctx.Done()
	slog.Info("Received shutdown signal")
	if err := api.Stop(cli.ShutdownTimeout); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}
