// Package bootstrap builds the process-level dependencies shared by the
// namos binaries from a loaded config.Config.
package bootstrap

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/openstack-archive/namos/config"
	"github.com/openstack-archive/namos/errors"
	"github.com/openstack-archive/namos/metric"
	"github.com/openstack-archive/namos/natsclient"
	"github.com/openstack-archive/namos/pkg/retry"
	"github.com/openstack-archive/namos/storage"
	"github.com/openstack-archive/namos/storage/badger"
	"github.com/openstack-archive/namos/storage/memory"
	"github.com/openstack-archive/namos/storage/natskv"
	"github.com/openstack-archive/namos/storage/postgres"
)

// NATSOptions translates cfg into client options.
func NATSOptions(cfg config.NATSConfig, name string, logger *slog.Logger, m *metric.Metrics) []natsclient.ClientOption {
	opts := []natsclient.ClientOption{
		natsclient.WithName(name),
		natsclient.WithMaxReconnects(cfg.MaxReconnects),
		natsclient.WithLogger(logger),
		natsclient.WithMetrics(m),
	}
	if cfg.ReconnectWait > 0 {
		opts = append(opts, natsclient.WithReconnectWait(cfg.ReconnectWait))
	}
	switch {
	case cfg.Token != "":
		opts = append(opts, natsclient.WithToken(cfg.Token))
	case cfg.Username != "":
		opts = append(opts, natsclient.WithCredentials(cfg.Username, cfg.Password))
	}
	if cfg.TLS.Enabled {
		opts = append(opts, natsclient.WithTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.CAFile))
	}
	return opts
}

// ConnectNATS dials the configured servers, retrying until the broker
// answers or the connect policy runs out. Attempts refused by an open
// circuit breaker count against the policy.
func ConnectNATS(ctx context.Context, cfg config.NATSConfig, name string, logger *slog.Logger, m *metric.Metrics) (*natsclient.Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	url := strings.Join(cfg.URLs, ",")
	client, err := natsclient.NewClient(url, NATSOptions(cfg, name, logger, m)...)
	if err != nil {
		return nil, err
	}

	policy := retry.Connect()
	policy.RetryIf = errors.IsTransient
	if err := retry.Do(ctx, policy, func() error { return client.Connect(ctx) }); err != nil {
		return nil, errors.Wrap(err, "bootstrap", "ConnectNATS", "connect to "+url)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.WaitForConnection(waitCtx); err != nil {
		_ = client.Close(context.Background())
		return nil, errors.Wrap(err, "bootstrap", "ConnectNATS", "wait for connection")
	}
	return client, nil
}

// OpenStore opens the backend named by cfg.Driver and prepares its schema.
// The natskv driver needs nc; the others ignore it.
func OpenStore(ctx context.Context, cfg config.StoreConfig, nc *natsclient.Client) (*storage.Store, error) {
	var (
		backend storage.Backend
		err     error
	)
	switch cfg.Driver {
	case config.StoreMemory, "":
		backend = memory.New()
	case config.StoreBadger:
		backend, err = badger.Open(cfg.Path)
	case config.StoreNATSKV:
		if nc == nil {
			return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "bootstrap", "OpenStore", "natskv driver without a NATS connection")
		}
		backend, err = natskv.Open(ctx, nc, cfg.Bucket)
	case config.StorePostgres:
		backend, err = retry.Value(ctx, retry.Connect(), func() (storage.Backend, error) {
			return postgres.Open(ctx, cfg.DSN)
		})
	default:
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "bootstrap", "OpenStore", "unknown driver "+cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	store := storage.New(backend)
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, errors.Wrap(err, "bootstrap", "OpenStore", "migrate")
	}
	return store, nil
}
