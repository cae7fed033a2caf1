package rpcapi_test

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openstack-archive/namos/errors"
	"github.com/openstack-archive/namos/model"
	"github.com/openstack-archive/namos/pkg/retry"
	"github.com/openstack-archive/namos/rpcapi"
	"github.com/openstack-archive/namos/testutil"
)

func TestSubjects(t *testing.T) {
	assert.Equal(t, "namos.conductor.register_myself", rpcapi.Subject(rpcapi.DefaultTopic, rpcapi.OpRegisterMyself))

	tests := []struct {
		identification string
		want           string
	}{
		{"compute1:100", "namos.worker.compute1:100"},
		{"node.example.org:42", "namos.worker.node_2eexample_2eorg:42"},
		{"host 1", "namos.worker.host_201"},
		{"host_1", "namos.worker.host__1"},
		{"a*b>", "namos.worker.a_2ab_3e"},
		{"a\tb", "namos.worker.a_09b"},
		{"nova-api@compute1", "namos.worker.nova-api@compute1"},
	}
	for _, tt := range tests {
		t.Run(tt.identification, func(t *testing.T) {
			assert.Equal(t, tt.want, rpcapi.WorkerSubject(tt.identification))
		})
	}
	assert.NotEqual(t, rpcapi.WorkerSubject("host.1"), rpcapi.WorkerSubject("host_1"))
	assert.NotEqual(t, rpcapi.WorkerSubject("a_2e"), rpcapi.WorkerSubject("a.2e"))
}

func TestResponseCarriesErrorKinds(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"not found", errors.NotFound(errors.KindDevice, "d1"), func(err error) bool {
			return errors.IsNotFoundKind(err, errors.KindDevice)
		}},
		{"already exist", errors.AlreadyExist("Region", "RegionOne"), errors.IsAlreadyExist},
		{"validation", errors.Validation("fqdn", "must not be empty"), errors.IsValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := rpcapi.Decode(rpcapi.NewResponse(nil, tt.err), nil)
			require.Error(t, err)
			assert.True(t, tt.check(err), "got %v", err)
		})
	}
}

func TestDecode(t *testing.T) {
	var region model.Region
	data := rpcapi.NewResponse(&model.Region{Base: model.Base{ID: "r1", Name: "RegionOne"}}, nil)
	require.NoError(t, rpcapi.Decode(data, &region))
	assert.Equal(t, "RegionOne", region.Name)

	require.NoError(t, rpcapi.Decode(rpcapi.NewResponse(nil, nil), &region))

	err := rpcapi.Decode([]byte("not json"), &region)
	assert.True(t, errors.IsInvalid(err))
}

func TestServeWorker(t *testing.T) {
	fw := testutil.NewFakeWorker()
	serve := rpcapi.ServeWorker(fw)
	ctx := context.Background()

	msg := func(method string, args rpcapi.WorkerArgs) []byte {
		raw, err := json.Marshal(args)
		require.NoError(t, err)
		data, err := json.Marshal(rpcapi.WorkerMessage{Method: method, Args: raw})
		require.NoError(t, err)
		return data
	}

	var ping rpcapi.PingResult
	require.NoError(t, rpcapi.Decode(serve(ctx, msg(rpcapi.MethodPingMe, rpcapi.WorkerArgs{})), &ping))
	assert.True(t, ping.Alive)

	reply := serve(ctx, msg(rpcapi.MethodUpdateConfigFile, rpcapi.WorkerArgs{Name: "/etc/nova/nova.conf", Content: "x"}))
	require.NoError(t, rpcapi.Decode(reply, nil))
	got, ok := fw.Update("/etc/nova/nova.conf")
	require.True(t, ok)
	assert.Equal(t, "x", got)

	assert.Nil(t, serve(ctx, msg(rpcapi.MethodRegistrationAck, rpcapi.WorkerArgs{})))
	assert.Equal(t, 1, fw.AckCount())

	err := rpcapi.Decode(serve(ctx, msg("reboot", rpcapi.WorkerArgs{})), nil)
	assert.True(t, errors.IsValidation(err))

	err = rpcapi.Decode(serve(ctx, []byte("{")), nil)
	assert.True(t, errors.IsValidation(err))
}

func TestWorkerClient(t *testing.T) {
	ctx := context.Background()
	bus := testutil.NewMockNATSClient()
	fw := testutil.NewFakeWorker()
	require.NoError(t, bus.Handle(ctx, rpcapi.WorkerSubject("w:1"), "", rpcapi.ServeWorker(fw)))
	require.NoError(t, bus.Handle(ctx, rpcapi.WorkerSubject("stuck:1"), "", func(ctx context.Context, _ []byte) []byte {
		<-ctx.Done()
		return nil
	}))

	wc := rpcapi.NewWorkerClient(bus, 50*time.Millisecond, nil, nil)

	alive, err := wc.PingMe(ctx, "w:1")
	require.NoError(t, err)
	assert.True(t, alive)

	require.NoError(t, wc.RegistrationAck(ctx, "w:1"))
	assert.Equal(t, 1, fw.AckCount())
	assert.Equal(t, 2, bus.GetMessageCount(rpcapi.WorkerSubject("w:1")))

	require.NoError(t, wc.UpdateConfigFile(ctx, "w:1", "/etc/nova/nova.conf", "[DEFAULT]\n"))

	_, err = wc.PingMe(ctx, "stuck:1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCallbackTimeout))
	assert.True(t, errors.IsTransient(err))

	_, err = wc.PingMe(ctx, "gone:1")
	assert.True(t, errors.IsTransient(err))
}

func TestClientRetriesTransientFailures(t *testing.T) {
	ctx := context.Background()
	bus := testutil.NewMockNATSClient()

	var calls atomic.Int32
	subject := rpcapi.Subject(rpcapi.DefaultTopic, rpcapi.OpRegionGetAll)
	require.NoError(t, bus.Handle(ctx, subject, "", func(context.Context, []byte) []byte {
		if calls.Add(1) < 3 {
			return nil
		}
		return rpcapi.NewResponse([]*model.Region{{Base: model.Base{ID: "r1", Name: "RegionOne"}}}, nil)
	}))

	c := rpcapi.NewClient(bus, rpcapi.WithRetry(retry.Policy{Attempts: 4, Base: time.Millisecond, Factor: 1}))
	regions, err := c.RegionGetAll(ctx)
	require.NoError(t, err)
	require.Len(t, regions, 1)
	assert.Equal(t, int32(3), calls.Load())

	single := rpcapi.NewClient(bus)
	calls.Store(0)
	_, err = single.RegionGetAll(ctx)
	require.Error(t, err, "without a policy the first timeout is returned")
}

func TestClientDoesNotRetryFaults(t *testing.T) {
	ctx := context.Background()
	bus := testutil.NewMockNATSClient()

	var calls atomic.Int32
	subject := rpcapi.Subject("custom.topic", rpcapi.OpServicePerspective)
	require.NoError(t, bus.Handle(ctx, subject, "", func(context.Context, []byte) []byte {
		calls.Add(1)
		return rpcapi.NewResponse(nil, errors.NotFound(errors.KindService, "s1"))
	}))

	c := rpcapi.NewClient(bus,
		rpcapi.WithTopic("custom.topic"),
		rpcapi.WithRetry(retry.Policy{Attempts: 5, Base: time.Millisecond, Factor: 1}))
	_, err := c.ServicePerspective(ctx, "s1", false)
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundKind(err, errors.KindService))
	assert.False(t, retry.IsPermanent(err))
	assert.Equal(t, int32(1), calls.Load())
}
