package rpcapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/openstack-archive/namos/errors"
	"github.com/openstack-archive/namos/metric"
	"github.com/openstack-archive/namos/model"
	"github.com/openstack-archive/namos/pkg/retry"
	"github.com/openstack-archive/namos/topology"
)

// Client calls the conductor.
type Client struct {
	transport Transport
	topic     string
	timeout   time.Duration
	policy    *retry.Policy
	logger    *slog.Logger
	metrics   *metric.Metrics
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTopic sets the conductor topic.
func WithTopic(topic string) ClientOption {
	return func(c *Client) {
		if topic != "" {
			c.topic = topic
		}
	}
}

// WithTimeout bounds each request that has no deadline of its own.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRetry retries transient failures under p. Every operation is safe to
// repeat.
func WithRetry(p retry.Policy) ClientOption {
	return func(c *Client) { c.policy = &p }
}

// WithClientLogger sets the logger.
func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClientMetrics records request outcomes.
func WithClientMetrics(m *metric.Metrics) ClientOption {
	return func(c *Client) { c.metrics = m }
}

// NewClient creates a conductor client over t.
func NewClient(t Transport, opts ...ClientOption) *Client {
	c := &Client{
		transport: t,
		topic:     DefaultTopic,
		timeout:   30 * time.Second,
		logger:    slog.Default().With("component", "rpcapi"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) call(ctx context.Context, op string, args, out any) error {
	data, err := json.Marshal(args)
	if err != nil {
		return errors.WrapInvalid(err, "rpcapi", op, "encode arguments")
	}

	start := time.Now()
	attempt := func() error {
		reqCtx, cancel := ctx, context.CancelFunc(func() {})
		if _, ok := ctx.Deadline(); !ok {
			reqCtx, cancel = context.WithTimeout(ctx, c.timeout)
		}
		defer cancel()

		reply, err := c.transport.Request(reqCtx, Subject(c.topic, op), data)
		if err != nil {
			return err
		}
		// A decoded fault is the conductor's answer, not a transport failure.
		if err := Decode(reply, out); err != nil {
			return retry.Stop(err)
		}
		return nil
	}

	if c.policy == nil {
		err = attempt()
	} else {
		p := *c.policy
		p.RetryIf = errors.IsTransient
		err = retry.Do(ctx, p, attempt)
	}
	var perm *retry.Permanent
	if errors.As(err, &perm) {
		err = perm.Err
	}

	outcome := "ok"
	if err != nil {
		outcome = "error"
		c.logger.Debug("Conductor call failed", "operation", op, "error", err)
	}
	c.metrics.RecordRPC(op, outcome, time.Since(start))
	return err
}

// RegisterMyself runs the registration pipeline for info.
func (c *Client) RegisterMyself(ctx context.Context, info *model.RegistrationInfo) (*RegisterResult, error) {
	var out RegisterResult
	if err := c.call(ctx, OpRegisterMyself, RegisterArgs{RegistrationInfo: info}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// HeartBeat refreshes a worker, or deregisters it when dying.
func (c *Client) HeartBeat(ctx context.Context, identification string, dying bool) error {
	return c.call(ctx, OpHeartBeat, HeartBeatArgs{Identification: identification, Dying: dying}, nil)
}

// AddRegion creates a region.
func (c *Client) AddRegion(ctx context.Context, region *model.Region) (*model.Region, error) {
	var out model.Region
	if err := c.call(ctx, OpAddRegion, RegionArgs{Region: region}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RegionGetAll lists the regions.
func (c *Client) RegionGetAll(ctx context.Context) ([]*model.Region, error) {
	var out []*model.Region
	if err := c.call(ctx, OpRegionGetAll, struct{}{}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ServicePerspective fetches the perspective of a service.
func (c *Client) ServicePerspective(ctx context.Context, id string, details bool) (*topology.ServicePerspective, error) {
	var out topology.ServicePerspective
	if err := c.call(ctx, OpServicePerspective, PerspectiveArgs{ID: id, IncludeDetails: details}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DevicePerspective fetches the perspective of a device.
func (c *Client) DevicePerspective(ctx context.Context, id string, details bool) (*topology.DevicePerspective, error) {
	var out topology.DevicePerspective
	if err := c.call(ctx, OpDevicePerspective, PerspectiveArgs{ID: id, IncludeDetails: details}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RegionPerspective fetches the perspective of a region.
func (c *Client) RegionPerspective(ctx context.Context, id string) (*topology.RegionPerspective, error) {
	var out topology.RegionPerspective
	if err := c.call(ctx, OpRegionPerspective, PerspectiveArgs{ID: id}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// InfraPerspective fetches every region's perspectives.
func (c *Client) InfraPerspective(ctx context.Context) (*topology.InfraPerspective, error) {
	var out topology.InfraPerspective
	if err := c.call(ctx, OpInfraPerspective, struct{}{}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// View360 fetches the full graph.
func (c *Client) View360(ctx context.Context, opts ViewArgs) (*topology.View360, error) {
	var out topology.View360
	if err := c.call(ctx, OpView360, opts, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetStatus fetches worker status.
func (c *Client) GetStatus(ctx context.Context, filter StatusArgs) (map[string]topology.WorkerStatus, error) {
	var out map[string]topology.WorkerStatus
	if err := c.call(ctx, OpGetStatus, filter, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ConfigGetByName fetches a worker's Config rows.
func (c *Client) ConfigGetByName(ctx context.Context, workerID, name string, onlyConfigured bool) ([]*model.Config, error) {
	var out []*model.Config
	args := ConfigGetArgs{ServiceWorkerID: workerID, Name: name, OnlyConfigured: &onlyConfigured}
	if err := c.call(ctx, OpConfigGetByName, args, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ConfigFileGet fetches a file and its entries.
func (c *Client) ConfigFileGet(ctx context.Context, fileID string) (*topology.ConfigFileView, error) {
	var out topology.ConfigFileView
	if err := c.call(ctx, OpConfigFileGet, ConfigFileArgs{FileID: fileID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ConfigFileUpdate rewrites a file and pushes it to a live launcher.
func (c *Client) ConfigFileUpdate(ctx context.Context, fileID, content string) (*ConfigFileUpdateResult, error) {
	var out ConfigFileUpdateResult
	if err := c.call(ctx, OpConfigFileUpdate, ConfigFileArgs{FileID: fileID, Content: content}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ConfigSchema fetches a project's option schemas.
func (c *Client) ConfigSchema(ctx context.Context, project string, withFileLink bool) (topology.SchemaMap, error) {
	var out topology.SchemaMap
	if err := c.call(ctx, OpConfigSchema, ConfigSchemaArgs{Project: project, WithFileLink: withFileLink}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ConfigSchemaLoad seeds option schemas and returns how many were created.
func (c *Client) ConfigSchemaLoad(ctx context.Context, project string, entries []*model.ConfigSchema) (int, error) {
	var out int
	if err := c.call(ctx, OpConfigSchemaLoad, ConfigSchemaLoadArgs{Project: project, Entries: entries}, &out); err != nil {
		return 0, err
	}
	return out, nil
}

// PingWorker asks the conductor to ping a worker over its reverse channel.
func (c *Client) PingWorker(ctx context.Context, identification string) (bool, error) {
	var out PingResult
	if err := c.call(ctx, OpPingWorker, PingArgs{Identification: identification}, &out); err != nil {
		return false, err
	}
	return out.Alive, nil
}
