package metric

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openstack-archive/namos/errors"
)

func TestNewMetricsRegistry(t *testing.T) {
	registry := NewMetricsRegistry()
	require.NotNil(t, registry.PrometheusRegistry())
	require.NotNil(t, registry.CoreMetrics())

	registry.CoreMetrics().RecordRPC("register_myself", "ok", 10*time.Millisecond)
	registry.CoreMetrics().RecordRPC("register_myself", "ok", 10*time.Millisecond)
	assert.Equal(t, 2.0, testutil.ToFloat64(
		registry.CoreMetrics().RPCRequests.WithLabelValues("register_myself", "ok")))
}

func TestRegisterDuplicate(t *testing.T) {
	registry := NewMetricsRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_counter", Help: "test"})

	require.NoError(t, registry.Register("svc", "test_counter", counter))
	err := registry.Register("svc", "test_counter", counter)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	// Same collector under a new owner still collides inside Prometheus.
	err = registry.Register("other", "test_counter", counter)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	assert.True(t, registry.Unregister("svc", "test_counter"))
	assert.False(t, registry.Unregister("svc", "test_counter"))
	require.NoError(t, registry.Register("svc", "test_counter", counter))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordRPC("op", "ok", time.Second)
		m.RecordDriver("cinder", "skipped")
		m.RecordSwept(3)
		m.RecordFindOrCreate("region", true)
		m.RecordNATSStatus(true)
	})
}

func TestRecordHelpers(t *testing.T) {
	m := NewMetrics()
	m.RecordDriver("cinder", "resolved")
	m.RecordSwept(2)
	m.RecordSwept(0)
	m.RecordFindOrCreate("region", false)
	m.RecordCircuitBreakerState(true)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.DriversResolved.WithLabelValues("cinder", "resolved")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.WorkersSwept))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StoreOps.WithLabelValues("region", "found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NATSCircuitBreaker))
}

func TestHandlerExposesNamespace(t *testing.T) {
	registry := NewMetricsRegistry()
	registry.CoreMetrics().RecordRegistration("ok")

	rec := httptest.NewRecorder()
	registry.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "namos_registration_total")
}

func TestServerLifecycle(t *testing.T) {
	srv := NewServer("127.0.0.1:0", "", NewMetricsRegistry())
	require.NoError(t, srv.Start())
	assert.Error(t, srv.Start())

	resp, err := http.Get("http://" + srv.Address() + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.True(t, strings.HasPrefix(string(body), "OK"))

	require.NoError(t, srv.Stop(context.Background()))
	require.NoError(t, srv.Stop(context.Background()))
}
