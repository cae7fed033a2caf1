// Command namos-manage administers a namos deployment: it prepares and
// seeds the store and queries a running conductor.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/openstack-archive/namos/bootstrap"
	"github.com/openstack-archive/namos/config"
	"github.com/openstack-archive/namos/model"
	"github.com/openstack-archive/namos/natsclient"
	"github.com/openstack-archive/namos/rpcapi"
	"github.com/openstack-archive/namos/storage"
	"github.com/openstack-archive/namos/topology"
)

// Build information
const (
	Version = "0.1.0"
	appName = "namos-manage"
)

// Conductor is the part of rpcapi.Client the query commands call.
type Conductor interface {
	RegionGetAll(ctx context.Context) ([]*model.Region, error)
	AddRegion(ctx context.Context, region *model.Region) (*model.Region, error)
	GetStatus(ctx context.Context, filter rpcapi.StatusArgs) (map[string]topology.WorkerStatus, error)
	ServicePerspective(ctx context.Context, id string, details bool) (*topology.ServicePerspective, error)
	DevicePerspective(ctx context.Context, id string, details bool) (*topology.DevicePerspective, error)
	RegionPerspective(ctx context.Context, id string) (*topology.RegionPerspective, error)
	InfraPerspective(ctx context.Context) (*topology.InfraPerspective, error)
	View360(ctx context.Context, opts rpcapi.ViewArgs) (*topology.View360, error)
	ConfigSchemaLoad(ctx context.Context, project string, entries []*model.ConfigSchema) (int, error)
	PingWorker(ctx context.Context, identification string) (bool, error)
}

var _ Conductor = (*rpcapi.Client)(nil)

// app carries what every subcommand shares. The open functions are
// replaced in tests.
type app struct {
	configPath string
	logLevel   string
	timeout    time.Duration

	cfg    *config.Config
	logger *slog.Logger

	openStore func(ctx context.Context, cfg *config.Config) (*storage.Store, func(), error)
	dial      func(ctx context.Context, cfg *config.Config) (Conductor, func(), error)
}

func newApp() *app {
	return &app{
		openStore: openStore,
		dial:      dial,
	}
}

func openStore(ctx context.Context, cfg *config.Config) (*storage.Store, func(), error) {
	var nc *natsclient.Client
	if cfg.Store.Driver == config.StoreNATSKV {
		var err error
		nc, err = bootstrap.ConnectNATS(ctx, cfg.NATS, appName, slog.Default(), nil)
		if err != nil {
			return nil, nil, err
		}
	}
	store, err := bootstrap.OpenStore(ctx, cfg.Store, nc)
	if err != nil {
		if nc != nil {
			_ = nc.Close(context.Background())
		}
		return nil, nil, err
	}
	return store, func() {
		_ = store.Close()
		if nc != nil {
			_ = nc.Close(context.Background())
		}
	}, nil
}

func dial(ctx context.Context, cfg *config.Config) (Conductor, func(), error) {
	nc, err := bootstrap.ConnectNATS(ctx, cfg.NATS, appName, slog.Default(), nil)
	if err != nil {
		return nil, nil, err
	}
	client := rpcapi.NewClient(nc,
		rpcapi.WithTopic(cfg.Conductor.Topic),
		rpcapi.WithTimeout(cfg.Conductor.RequestTimeout))
	return client, func() { _ = nc.Close(context.Background()) }, nil
}

func (a *app) load(cmd *cobra.Command, _ []string) error {
	loader := config.NewLoader()
	if a.configPath != "" {
		loader.AddLayer(a.configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	a.cfg = cfg

	level := bootstrap.ParseLevel(cfg.Log.Level, slog.LevelWarn)
	a.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})).
		With("service", appName)
	slog.SetDefault(a.logger)
	return nil
}

func (a *app) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if a.timeout > 0 {
		return context.WithTimeout(ctx, a.timeout)
	}
	return context.WithCancel(ctx)
}

// withConductor runs fn against a connected conductor client.
func (a *app) withConductor(cmd *cobra.Command, fn func(ctx context.Context, c Conductor) (any, error)) error {
	ctx, cancel := a.context(cmd)
	defer cancel()
	c, closeFn, err := a.dial(ctx, a.cfg)
	if err != nil {
		return err
	}
	defer closeFn()
	out, err := fn(ctx, c)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), out)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:               appName,
		Short:             "Administer a namos deployment",
		Version:           Version,
		SilenceUsage:      true,
		PersistentPreRunE: a.load,
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", os.Getenv("NAMOS_CONFIG"),
		"Path to configuration file (env: NAMOS_CONFIG)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "",
		"Log level: debug, info, warn, error")
	root.PersistentFlags().DurationVar(&a.timeout, "timeout", time.Minute,
		"Overall time allowed for the command")

	root.AddCommand(
		a.dbSyncCmd(),
		a.demoDataCmd(),
		a.schemaLoadCmd(),
		a.regionsCmd(),
		a.statusCmd(),
		a.perspectiveCmd(),
		a.view360Cmd(),
		a.pingCmd(),
	)
	return root
}

func main() {
	if err := newApp().rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
