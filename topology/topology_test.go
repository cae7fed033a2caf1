package topology

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openstack-archive/namos/discovery"
	"github.com/openstack-archive/namos/drivers"
	"github.com/openstack-archive/namos/errors"
	"github.com/openstack-archive/namos/liveness"
	"github.com/openstack-archive/namos/model"
	"github.com/openstack-archive/namos/registration"
	"github.com/openstack-archive/namos/storage"
	"github.com/openstack-archive/namos/storage/memory"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

type fixture struct {
	store  *storage.Store
	clock  *clock
	reader *Reader
	reg    *registration.Result
}

func payload() *model.RegistrationInfo {
	opt := func(name, value string) model.ConfigOption {
		return model.ConfigOption{Group: "DEFAULT", Name: name, Value: value}
	}
	return &model.RegistrationInfo{
		ProjectName:    "nova",
		ProgName:       "nova-compute",
		Identification: "compute1:100",
		FQDN:           "compute1.example.org",
		Host:           "compute1",
		PID:            json.Number("100"),
		IAmLauncher:    true,
		ConfigList: []model.ConfigOption{
			opt("rpc_backend", "rabbit"),
			opt("rabbit_hosts", "10.0.0.1:5672"),
			opt("rabbit_port", "5672"),
			opt("rabbit_userid", "guest"),
			opt("rabbit_password", "secret"),
			opt("control_exchange", "nova"),
			opt("debug", "false"),
		},
		ConfigFileDict: map[string]string{
			"/etc/nova/nova.conf": "[DEFAULT]\ndebug = true\n",
		},
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	reg, err := drivers.Default()
	require.NoError(t, err)

	c := &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	store := storage.New(memory.New(), storage.WithClock(c.now))
	t.Cleanup(func() { _ = store.Close() })

	tracker := liveness.NewTracker(store)
	p := registration.New(store, discovery.New(store, reg), tracker)
	_, err = p.LoadSchemas(ctx, "nova", []*model.ConfigSchema{
		{Base: model.Base{Name: "debug"}, GroupName: "DEFAULT", Type: "boolean"},
		{Base: model.Base{Name: "rpc_backend"}, GroupName: "DEFAULT", Type: "string"},
	})
	require.NoError(t, err)

	res, err := p.Register(ctx, payload())
	require.NoError(t, err)
	require.Len(t, res.Drivers.Resolved, 1)

	return &fixture{store: store, clock: c, reader: New(store, WithTracker(tracker)), reg: res}
}

func TestServicePerspective(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.reader.ServicePerspective(ctx, f.reg.ServiceID, false)
	require.NoError(t, err)
	assert.Equal(t, "nova", p.Service.Name)
	require.Contains(t, p.Components, f.reg.ComponentID)

	cv := p.Components[f.reg.ComponentID]
	assert.Equal(t, "compute1.example.org", cv.Node.Name)
	assert.Empty(t, cv.Files)
	require.Contains(t, cv.Workers, f.reg.WorkerID)

	wv := cv.Workers[f.reg.WorkerID]
	assert.Empty(t, wv.Configs)
	require.Len(t, wv.Drivers, 1)
	for _, dv := range wv.Drivers {
		assert.Equal(t, "RPC_nova", dv.Device.Name)
		assert.Equal(t, "10.0.0.1:5672", dv.Endpoint.Name)
		assert.Equal(t, "rabbit", dv.Class.Name)
	}

	detailed, err := f.reader.ServicePerspective(ctx, f.reg.ServiceID, true)
	require.NoError(t, err)
	dcv := detailed.Components[f.reg.ComponentID]
	assert.Len(t, dcv.Files, 1)
	assert.Len(t, dcv.Workers[f.reg.WorkerID].Configs, 7)
}

func TestDevicePerspective(t *testing.T) {
	f := newFixture(t)
	resolved := f.reg.Drivers.Resolved[0]

	p, err := f.reader.DevicePerspective(context.Background(), resolved.DeviceID, true)
	require.NoError(t, err)
	assert.Equal(t, "RPC_nova", p.Device.Name)
	assert.Empty(t, p.Children)
	require.Contains(t, p.Endpoints, resolved.EndpointID)

	ev := p.Endpoints[resolved.EndpointID]
	require.Contains(t, ev.Drivers, resolved.DriverID)
	dv := ev.Drivers[resolved.DriverID]
	assert.Equal(t, f.reg.WorkerID, dv.Worker.ID)
	assert.Equal(t, "nova-compute", dv.Component.Name)
	assert.Equal(t, "nova", dv.Service.Name)
	assert.Equal(t, "rabbit", dv.Class.Name)
}

func TestRegionAndInfraPerspective(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rp, err := f.reader.RegionPerspective(ctx, f.reg.RegionID)
	require.NoError(t, err)
	assert.Equal(t, "RegionOne", rp.Region.Name)
	assert.Contains(t, rp.Services, f.reg.ServiceID)
	assert.Contains(t, rp.Devices, f.reg.Drivers.Resolved[0].DeviceID)

	infra, err := f.reader.InfraPerspective(ctx)
	require.NoError(t, err)
	require.Contains(t, infra.Regions, f.reg.RegionID)
	ri := infra.Regions[f.reg.RegionID]
	assert.Contains(t, ri.Services, f.reg.ServiceID)
	assert.Contains(t, ri.Devices, f.reg.Drivers.Resolved[0].DeviceID)
}

func TestPerspective_NotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		kind errors.Kind
		call func() error
	}{
		{"service", errors.KindService, func() error { _, err := f.reader.ServicePerspective(ctx, "nope", false); return err }},
		{"device", errors.KindDevice, func() error { _, err := f.reader.DevicePerspective(ctx, "nope", false); return err }},
		{"region", errors.KindRegion, func() error { _, err := f.reader.RegionPerspective(ctx, "nope"); return err }},
		{"config file", errors.KindConfigFile, func() error { _, err := f.reader.ConfigFile(ctx, "nope"); return err }},
		{"worker configs", errors.KindServiceWorker, func() error { _, err := f.reader.ConfigsForWorker(ctx, "nope", "", true); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, errors.IsNotFoundKind(tt.call(), tt.kind))
		})
	}
}

func TestView360(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	v, err := f.reader.View360(ctx, ViewOptions{})
	require.NoError(t, err)
	require.Contains(t, v.Region, f.reg.RegionID)
	assert.Contains(t, v.ServiceNode, f.reg.NodeID)
	assert.Contains(t, v.Service, f.reg.ServiceID)
	assert.Contains(t, v.ServiceWorker, f.reg.WorkerID)
	assert.Len(t, v.DeviceDriver, 1)
	assert.Len(t, v.Device, 1)
	assert.Empty(t, v.Status)

	ct := v.Region[f.reg.RegionID].ServiceNode[f.reg.NodeID].ServiceComponent[f.reg.ComponentID]
	require.NotNil(t, ct)
	assert.Equal(t, f.reg.ServiceID, ct.Service)
	require.Len(t, ct.ConfigFile, 1)
	for id := range ct.ConfigFile {
		assert.Nil(t, v.ConfigFile[id].File)
		assert.Nil(t, v.ConfigFile[id].Entries)
	}
	resolved := f.reg.Drivers.Resolved[0]
	ref := ct.ServiceWorker[f.reg.WorkerID].DeviceDriver[resolved.DriverID]
	assert.Equal(t, resolved.DeviceID, ref.Device)
	assert.Equal(t, resolved.EndpointID, ref.DeviceEndpoint)

	full, err := f.reader.View360(ctx, ViewOptions{IncludeConfFile: true, IncludeStatus: true, IncludeFileEntry: true})
	require.NoError(t, err)
	for _, fv := range full.ConfigFile {
		require.NotNil(t, fv.File)
		assert.Equal(t, "/etc/nova/nova.conf", fv.File.Name)
		assert.Len(t, fv.Entries, 1)
	}
	assert.Contains(t, full.Status, "compute1:100")
}

func TestGetStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		filter StatusFilter
		want   int
	}{
		{"no filter", StatusFilter{}, 1},
		{"node match", StatusFilter{Node: "compute1.example.org"}, 1},
		{"node miss", StatusFilter{Node: "other"}, 0},
		{"service miss", StatusFilter{Service: "cinder"}, 0},
		{"type match", StatusFilter{Type: model.CategoryCompute}, 1},
		{"component miss", StatusFilter{Component: "nova-api"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.reader.GetStatus(ctx, tt.filter)
			require.NoError(t, err)
			assert.Len(t, got, tt.want)
		})
	}

	got, err := f.reader.GetStatus(ctx, StatusFilter{})
	require.NoError(t, err)
	st := got["compute1:100"]
	assert.Equal(t, "nova-compute@100", st.Worker)
	assert.True(t, st.Status)
	assert.True(t, st.IsLauncher)

	f.clock.t = f.clock.t.Add(2 * time.Minute)
	got, err = f.reader.GetStatus(ctx, StatusFilter{})
	require.NoError(t, err)
	assert.False(t, got["compute1:100"].Status)
}

func TestConfigsForWorker(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name           string
		option         string
		onlyConfigured bool
		want           []string
	}{
		{"by name", "DEFAULT.rpc_backend", true, []string{"DEFAULT.rpc_backend"}},
		{"only configured", "", true, []string{"DEFAULT.debug"}},
		{"all", "", false, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.reader.ConfigsForWorker(ctx, f.reg.WorkerID, tt.option, tt.onlyConfigured)
			require.NoError(t, err)
			if tt.want == nil {
				assert.Len(t, got, 7)
				return
			}
			names := make([]string, len(got))
			for i, c := range got {
				names[i] = c.Name
			}
			assert.Equal(t, tt.want, names)
		})
	}
}

func TestConfigFile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	file, err := f.store.ConfigFiles.GetByKey(ctx, model.Key("/etc/nova/nova.conf", f.reg.NodeID))
	require.NoError(t, err)

	v, err := f.reader.ConfigFile(ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, file.ID, v.File.ID)
	require.Len(t, v.Entries, 1)
	assert.Equal(t, "DEFAULT.debug", v.Entries[0].Name)
	assert.Equal(t, "true", v.Entries[0].Value)
}

func TestConfigSchema(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	byNamespace, err := f.reader.ConfigSchema(ctx, "nova", false)
	require.NoError(t, err)
	require.Contains(t, byNamespace, "nova")
	assert.Contains(t, byNamespace["nova"]["DEFAULT"], "debug")
	assert.Contains(t, byNamespace["nova"]["DEFAULT"], "rpc_backend")

	byFile, err := f.reader.ConfigSchema(ctx, "nova", true)
	require.NoError(t, err)
	require.Contains(t, byFile, "/etc/nova/nova.conf")
	assert.Contains(t, byFile["/etc/nova/nova.conf"]["DEFAULT"], "debug")
	assert.Contains(t, byFile["nova"]["DEFAULT"], "rpc_backend")
	assert.NotContains(t, byFile["nova"]["DEFAULT"], "debug")

	empty, err := f.reader.ConfigSchema(ctx, "heat", false)
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = f.reader.ConfigSchema(ctx, "", false)
	assert.True(t, errors.IsValidation(err))
}

func TestRegions(t *testing.T) {
	f := newFixture(t)
	regions, err := f.reader.Regions(context.Background())
	require.NoError(t, err)
	require.Len(t, regions, 1)
	assert.Equal(t, "RegionOne", regions[0].Name)
}
