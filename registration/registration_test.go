package registration

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openstack-archive/namos/discovery"
	"github.com/openstack-archive/namos/drivers"
	"github.com/openstack-archive/namos/errors"
	"github.com/openstack-archive/namos/liveness"
	"github.com/openstack-archive/namos/model"
	"github.com/openstack-archive/namos/storage"
	"github.com/openstack-archive/namos/storage/memory"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recordingAck struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (a *recordingAck) RegistrationAck(_ context.Context, identification string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, identification)
	return a.err
}

type fixture struct {
	store    *storage.Store
	clock    *clock
	pipeline *Pipeline
	ack      *recordingAck
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	reg, err := drivers.Default()
	require.NoError(t, err)

	c := &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	store := storage.New(memory.New(), storage.WithClock(c.now))
	t.Cleanup(func() { _ = store.Close() })

	ack := &recordingAck{}
	opts = append([]Option{WithAcknowledger(ack)}, opts...)
	p := New(store, discovery.New(store, reg), liveness.NewTracker(store), opts...)
	return &fixture{store: store, clock: c, pipeline: p, ack: ack}
}

func opt(group, name string, value any) model.ConfigOption {
	return model.ConfigOption{Group: group, Name: name, Value: value}
}

func novaPayload(identification string) *model.RegistrationInfo {
	return &model.RegistrationInfo{
		ProjectName:    "nova",
		ProgName:       "nova-compute",
		Identification: identification,
		FQDN:           "compute1.example.org",
		IPs:            []string{"192.168.1.10"},
		Host:           "compute1",
		PID:            json.Number("4242"),
		IAmLauncher:    true,
		ConfigList: []model.ConfigOption{
			opt("DEFAULT", "rpc_backend", "rabbit"),
			opt("DEFAULT", "rabbit_hosts", "10.0.0.1:5672"),
			opt("DEFAULT", "rabbit_port", "5672"),
			opt("DEFAULT", "rabbit_userid", "guest"),
			opt("DEFAULT", "rabbit_password", "secret"),
			opt("DEFAULT", "control_exchange", "nova"),
			{Group: "DEFAULT", Name: "debug", Value: nil, DefaultValue: false},
		},
		ConfigFileDict: map[string]string{
			"/etc/nova/nova.conf": "[DEFAULT]\ndebug = true\n\n[database]\nconnection = mysql://nova@db/nova\n",
		},
	}
}

func TestRegister_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.pipeline.Register(ctx, novaPayload("host:4242"))
	require.NoError(t, err)
	second, err := f.pipeline.Register(ctx, novaPayload("host:4242"))
	require.NoError(t, err)

	assert.Equal(t, first.RegionID, second.RegionID)
	assert.Equal(t, first.NodeID, second.NodeID)
	assert.Equal(t, first.ServiceID, second.ServiceID)
	assert.Equal(t, first.ComponentID, second.ComponentID)
	assert.Equal(t, first.WorkerID, second.WorkerID)

	require.Len(t, first.Drivers.Resolved, 1)
	require.Len(t, second.Drivers.Resolved, 1)
	a, b := first.Drivers.Resolved[0], second.Drivers.Resolved[0]
	assert.Equal(t, a.DeviceID, b.DeviceID)
	assert.Equal(t, a.EndpointID, b.EndpointID)
	assert.Equal(t, a.DriverID, b.DriverID)

	counts := []struct {
		name string
		list func() (int, error)
	}{
		{"workers", func() (int, error) { r, err := f.store.ServiceWorkers.List(ctx, nil); return len(r), err }},
		{"configs", func() (int, error) { r, err := f.store.Configs.List(ctx, nil); return len(r), err }},
		{"files", func() (int, error) { r, err := f.store.ConfigFiles.List(ctx, nil); return len(r), err }},
		{"devices", func() (int, error) { r, err := f.store.Devices.List(ctx, nil); return len(r), err }},
		{"drivers", func() (int, error) { r, err := f.store.DeviceDrivers.List(ctx, nil); return len(r), err }},
	}
	want := map[string]int{"workers": 1, "configs": 7, "files": 1, "devices": 1, "drivers": 1}
	for _, c := range counts {
		t.Run(c.name, func(t *testing.T) {
			n, err := c.list()
			require.NoError(t, err)
			assert.Equal(t, want[c.name], n)
		})
	}
}

func TestRegister_ConcurrentDuplicatesConverge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const n = 8
	results := make([]*Result, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.pipeline.Register(ctx, novaPayload("host:4242"))
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	for _, res := range results[1:] {
		require.NotNil(t, res)
		assert.Equal(t, results[0].WorkerID, res.WorkerID)
	}
	workers, err := f.store.ServiceWorkers.List(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, workers, 1)
}

func TestRegister_ServiceGraph(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.pipeline.Register(ctx, novaPayload("host:4242"))
	require.NoError(t, err)

	region, err := f.store.Regions.Get(ctx, res.RegionID)
	require.NoError(t, err)
	assert.Equal(t, "RegionOne", region.Name)

	node, err := f.store.ServiceNodes.Get(ctx, res.NodeID)
	require.NoError(t, err)
	assert.Equal(t, "compute1.example.org", node.Name)
	assert.Equal(t, region.ID, node.RegionID)
	assert.Equal(t, []string{"192.168.1.10"}, node.IPs)

	service, err := f.store.Services.Get(ctx, res.ServiceID)
	require.NoError(t, err)
	assert.Equal(t, KeystoneServiceID("nova"), service.KeystoneServiceID)

	component, err := f.store.ServiceComponents.Get(ctx, res.ComponentID)
	require.NoError(t, err)
	assert.Equal(t, model.CategoryCompute, component.Type)

	worker, err := f.store.ServiceWorkers.Get(ctx, res.WorkerID)
	require.NoError(t, err)
	assert.Equal(t, "nova-compute@4242", worker.Name)
	assert.Equal(t, "host:4242", worker.PID)
	assert.True(t, worker.IsLauncher)

	assert.Equal(t, []string{"host:4242"}, f.ack.calls)
}

func TestRegister_RegionSelection(t *testing.T) {
	tests := []struct {
		name    string
		opts    []Option
		payload string
		want    string
	}{
		{"payload region", nil, "RegionTwo", "RegionTwo"},
		{"built-in fallback", nil, "", "RegionOne"},
		{"configured fallback", []Option{WithDefaultRegion("Lab")}, "", "Lab"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.opts...)
			info := novaPayload("host:1")
			info.RegionName = tt.payload

			res, err := f.pipeline.Register(context.Background(), info)
			require.NoError(t, err)
			region, err := f.store.Regions.Get(context.Background(), res.RegionID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, region.Name)
		})
	}
}

func TestRegister_SchemaMatching(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.pipeline.LoadSchemas(ctx, "nova", []*model.ConfigSchema{
		{Base: model.Base{Name: "debug"}, GroupName: "DEFAULT", Type: "boolean"},
		{Base: model.Base{Name: "connection"}, GroupName: "database", Namespace: "nova"},
		{Base: model.Base{Name: "connection"}, GroupName: "database", Namespace: "oslo.db"},
	})
	require.NoError(t, err)

	res, err := f.pipeline.Register(ctx, novaPayload("host:4242"))
	require.NoError(t, err)

	entries, err := f.store.ConfigFileEntries.List(ctx, func(e *model.ConfigFileEntry) bool {
		return e.ServiceComponentID == res.ComponentID
	})
	require.NoError(t, err)
	byName := make(map[string]*model.ConfigFileEntry)
	for _, e := range entries {
		byName[e.Name] = e
	}

	require.Contains(t, byName, "DEFAULT.debug")
	require.Contains(t, byName, "database.connection")
	assert.NotEmpty(t, byName["DEFAULT.debug"].ConfigSchemaID, "one candidate links")
	assert.Empty(t, byName["database.connection"].ConfigSchemaID, "two candidates leave the link empty")

	cfg, err := f.store.Configs.First(ctx, func(c *model.Config) bool {
		return c.ServiceWorkerID == res.WorkerID && c.Name == "DEFAULT.rpc_backend"
	})
	require.NoError(t, err)
	assert.Empty(t, cfg.ConfigSchemaID, "no candidate leaves the link empty")
}

func TestSchemaCache(t *testing.T) {
	f := newFixture(t, WithSchemaCache(time.Minute, nil))
	ctx := context.Background()
	schema := func(name string) *model.ConfigSchema {
		return &model.ConfigSchema{Base: model.Base{Name: name}, GroupName: "DEFAULT", Project: "nova", Namespace: "nova"}
	}

	idx, err := f.pipeline.loadSchemaIndex(ctx, "nova")
	require.NoError(t, err)
	assert.Empty(t, idx)

	_, err = f.store.ConfigSchemas.Create(ctx, schema("debug"))
	require.NoError(t, err)
	idx, err = f.pipeline.loadSchemaIndex(ctx, "nova")
	require.NoError(t, err)
	assert.Empty(t, idx, "cached index is reused within the ttl")

	f.clock.advance(2 * time.Minute)
	idx, err = f.pipeline.loadSchemaIndex(ctx, "nova")
	require.NoError(t, err)
	assert.Len(t, idx, 1)

	_, err = f.pipeline.LoadSchemas(ctx, "nova", []*model.ConfigSchema{schema("verbose")})
	require.NoError(t, err)
	idx, err = f.pipeline.loadSchemaIndex(ctx, "nova")
	require.NoError(t, err)
	assert.Len(t, idx, 2, "loading schemas drops the cached index")

	stats := f.pipeline.schemas.Stats()
	assert.Equal(t, int64(1), stats.Hits)
}

func TestRegister_FileValueWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.pipeline.Register(ctx, novaPayload("host:4242"))
	require.NoError(t, err)

	debug, err := f.store.Configs.GetByKey(ctx, model.Key(res.WorkerID, "DEFAULT.debug"))
	require.NoError(t, err)
	assert.Equal(t, "true", debug.Value)
	assert.NotEmpty(t, debug.ConfigFileEntryID)

	backend, err := f.store.Configs.GetByKey(ctx, model.Key(res.WorkerID, "DEFAULT.rpc_backend"))
	require.NoError(t, err)
	assert.Equal(t, "rabbit", backend.Value)
	assert.Empty(t, backend.ConfigFileEntryID)
}

func TestRegister_ChangedFileRewritesEntries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.pipeline.Register(ctx, novaPayload("host:4242"))
	require.NoError(t, err)

	info := novaPayload("host:4242")
	info.ConfigFileDict["/etc/nova/nova.conf"] = "[DEFAULT]\ndebug = false\n"
	_, err = f.pipeline.Register(ctx, info)
	require.NoError(t, err)

	file, err := f.store.ConfigFiles.GetByKey(ctx, model.Key("/etc/nova/nova.conf", res.NodeID))
	require.NoError(t, err)
	assert.Equal(t, "[DEFAULT]\ndebug = false\n", file.File)
	assert.NotNil(t, file.UpdatedAt)

	debug, err := f.store.Configs.GetByKey(ctx, model.Key(res.WorkerID, "DEFAULT.debug"))
	require.NoError(t, err)
	assert.Equal(t, "false", debug.Value)
}

func TestRegister_PartialDriverFailure(t *testing.T) {
	f := newFixture(t)
	info := novaPayload("host:4242")
	info.ConfigList = info.ConfigList[:5] // drops control_exchange

	res, err := f.pipeline.Register(context.Background(), info)
	require.NoError(t, err)
	assert.NotEmpty(t, res.WorkerID)
	assert.Empty(t, res.Drivers.Resolved)
	require.Len(t, res.Drivers.Skipped, 1)
	assert.Equal(t, "rpc_backend", res.Drivers.Skipped[0].Family)
}

func TestRegister_ConfigDictSupplementsSnapshot(t *testing.T) {
	f := newFixture(t)
	info := novaPayload("host:4242")
	info.ConfigList = info.ConfigList[:5]
	info.ConfigDict = map[string]model.ConfigOption{
		"control_exchange": opt("DEFAULT", "control_exchange", "compute"),
	}

	res, err := f.pipeline.Register(context.Background(), info)
	require.NoError(t, err)
	require.Len(t, res.Drivers.Resolved, 1)

	device, err := f.store.Devices.Get(context.Background(), res.Drivers.Resolved[0].DeviceID)
	require.NoError(t, err)
	assert.Equal(t, "RPC_compute", device.Name)
}

func TestRegister_AckFailureDoesNotFail(t *testing.T) {
	f := newFixture(t)
	f.ack.err = fmt.Errorf("worker unreachable")

	res, err := f.pipeline.Register(context.Background(), novaPayload("host:4242"))
	require.NoError(t, err)
	assert.NotEmpty(t, res.WorkerID)
	assert.Len(t, f.ack.calls, 1)
}

func TestRegister_CleansUpDeadWorkers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	old, err := f.pipeline.Register(ctx, novaPayload("host:1"))
	require.NoError(t, err)

	f.clock.advance(400 * time.Second)
	info := novaPayload("host:2")
	info.PID = "2"
	fresh, err := f.pipeline.Register(ctx, info)
	require.NoError(t, err)
	assert.Equal(t, old.ComponentID, fresh.ComponentID)
	assert.Equal(t, 1, fresh.Swept)

	_, err = f.store.ServiceWorkers.Get(ctx, old.WorkerID)
	assert.True(t, errors.IsNotFound(err))

	remaining, err := f.store.Configs.List(ctx, nil)
	require.NoError(t, err)
	for _, c := range remaining {
		assert.Equal(t, fresh.WorkerID, c.ServiceWorkerID)
	}
	assert.NotEmpty(t, remaining)
}

func TestRegister_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		opts   []Option
		mutate func(*model.RegistrationInfo)
	}{
		{"missing fqdn", nil, func(i *model.RegistrationInfo) { i.FQDN = "" }},
		{"missing identification", nil, func(i *model.RegistrationInfo) { i.Identification = " " }},
		{"option without group", nil, func(i *model.RegistrationInfo) { i.ConfigList[0].Group = "" }},
		{"disabled project", []Option{WithProjectFilter(func(p string) bool { return p == "cinder" })}, func(*model.RegistrationInfo) {}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.opts...)
			info := novaPayload("host:1")
			tt.mutate(info)

			_, err := f.pipeline.Register(context.Background(), info)
			require.Error(t, err)
			assert.True(t, errors.IsValidation(err))

			workers, err := f.store.ServiceWorkers.List(context.Background(), nil)
			require.NoError(t, err)
			assert.Empty(t, workers)
		})
	}
}

func TestUpdateConfigFile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.pipeline.Register(ctx, novaPayload("host:4242"))
	require.NoError(t, err)
	file, err := f.store.ConfigFiles.GetByKey(ctx, model.Key("/etc/nova/nova.conf", res.NodeID))
	require.NoError(t, err)

	updated, launcher, err := f.pipeline.UpdateConfigFile(ctx, file.ID, "[DEFAULT]\ndebug = false\nverbose = true\n")
	require.NoError(t, err)
	assert.Contains(t, updated.File, "verbose")
	require.NotNil(t, launcher)
	assert.Equal(t, res.WorkerID, launcher.ID)

	_, err = f.store.ConfigFileEntries.GetByKey(ctx, model.Key(res.ComponentID, file.ID, "DEFAULT.verbose"))
	assert.NoError(t, err)

	f.clock.advance(2 * time.Minute)
	_, launcher, err = f.pipeline.UpdateConfigFile(ctx, file.ID, "[DEFAULT]\n")
	require.NoError(t, err)
	assert.Nil(t, launcher, "stale launcher is not targeted")

	_, _, err = f.pipeline.UpdateConfigFile(ctx, "missing", "")
	assert.True(t, errors.IsNotFoundKind(err, errors.KindConfigFile))
}

func TestUpdateConfigFile_SharedFile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	compute, err := f.pipeline.Register(ctx, novaPayload("host:4242"))
	require.NoError(t, err)

	f.clock.advance(2 * time.Minute)
	apiInfo := novaPayload("host:4343")
	apiInfo.ProgName = "nova-api"
	apiInfo.PID = "4343"
	api, err := f.pipeline.Register(ctx, apiInfo)
	require.NoError(t, err)
	require.NotEqual(t, compute.ComponentID, api.ComponentID)
	require.Equal(t, compute.NodeID, api.NodeID)

	file, err := f.store.ConfigFiles.GetByKey(ctx, model.Key("/etc/nova/nova.conf", compute.NodeID))
	require.NoError(t, err)
	require.Equal(t, compute.ComponentID, file.ServiceComponentID, "first registration owns the file")

	_, launcher, err := f.pipeline.UpdateConfigFile(ctx, file.ID, "[DEFAULT]\nverbose = true\n")
	require.NoError(t, err)
	require.NotNil(t, launcher, "a live launcher of the other component receives the push")
	assert.Equal(t, api.WorkerID, launcher.ID)

	for _, componentID := range []string{compute.ComponentID, api.ComponentID} {
		_, err := f.store.ConfigFileEntries.GetByKey(ctx, model.Key(componentID, file.ID, "DEFAULT.verbose"))
		assert.NoError(t, err, componentID)
	}
}

func TestAddRegion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r, err := f.pipeline.AddRegion(ctx, &model.Region{Base: model.Base{Name: "RegionTwo"}})
	require.NoError(t, err)
	assert.NotEmpty(t, r.ID)

	_, err = f.pipeline.AddRegion(ctx, &model.Region{Base: model.Base{Name: "RegionTwo"}})
	assert.True(t, errors.IsAlreadyExist(err))

	_, err = f.pipeline.AddRegion(ctx, &model.Region{})
	assert.True(t, errors.IsValidation(err))
}

func TestCategory(t *testing.T) {
	tests := map[string]string{
		"nova-api":             model.CategoryController,
		"nova-compute":         model.CategoryCompute,
		"cinder-volume":        model.CategoryStorage,
		"neutron-l3-agent":     model.CategoryNetwork,
		"neutron-lbaas-agent":  model.CategoryNetwork,
		"ironic-compute-x":     model.CategoryCompute,
		"swift-object-expirer": model.CategoryStorage,
		"something-else":       model.CategoryController,
	}
	for prog, want := range tests {
		t.Run(prog, func(t *testing.T) {
			assert.Equal(t, want, Category(prog))
		})
	}
}
