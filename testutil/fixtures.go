package testutil

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/openstack-archive/namos/model"
	"github.com/openstack-archive/namos/storage"
	"github.com/openstack-archive/namos/storage/memory"
)

// Clock is a settable time source for storage.WithClock.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

// NewClock starts a clock at a fixed instant.
func NewClock() *Clock {
	return &Clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

// Now returns the current instant.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// NewMemoryStore returns a memory-backed store on clock, closed with t.
func NewMemoryStore(t testing.TB, clock *Clock) *storage.Store {
	t.Helper()
	s := storage.New(memory.New(), storage.WithClock(clock.Now))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// Option builds a config option.
func Option(group, name string, value any) model.ConfigOption {
	return model.ConfigOption{Group: group, Name: name, Value: value}
}

// RabbitOptions configure the rabbit RPC backend with exchange as the
// control exchange.
func RabbitOptions(exchange string) []model.ConfigOption {
	return []model.ConfigOption{
		Option("DEFAULT", "rpc_backend", "rabbit"),
		Option("DEFAULT", "rabbit_hosts", "10.0.0.1:5672"),
		Option("DEFAULT", "rabbit_port", "5672"),
		Option("DEFAULT", "rabbit_userid", "guest"),
		Option("DEFAULT", "rabbit_password", "secret"),
		Option("DEFAULT", "control_exchange", exchange),
	}
}

// Payload builds a registration for prog of project on host with pid. The
// identification is "<host>:<pid>" and the worker uses the rabbit backend.
func Payload(project, prog, host string, pid int) *model.RegistrationInfo {
	p := json.Number(strconv.Itoa(pid))
	return &model.RegistrationInfo{
		ProjectName:    project,
		ProgName:       prog,
		Identification: host + ":" + p.String(),
		FQDN:           host + ".example.org",
		IPs:            []string{"192.168.1.10"},
		Host:           host,
		PID:            p,
		IAmLauncher:    true,
		ConfigList:     RabbitOptions(project),
		ConfigFileDict: map[string]string{
			ConfFile(project): "[DEFAULT]\ndebug = true\n",
		},
	}
}

// FakeWorker answers reverse-channel calls and records them.
type FakeWorker struct {
	mu      sync.Mutex
	Alive   bool
	Fail    error
	Acks    int
	Updates map[string]string
}

// NewFakeWorker returns a worker that answers pings.
func NewFakeWorker() *FakeWorker {
	return &FakeWorker{Alive: true, Updates: make(map[string]string)}
}

// PingMe reports the configured liveness.
func (w *FakeWorker) PingMe(context.Context) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.Alive
}

// UpdateConfigFile records the pushed content, or returns Fail.
func (w *FakeWorker) UpdateConfigFile(_ context.Context, name, content string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.Fail != nil {
		return w.Fail
	}
	w.Updates[name] = content
	return nil
}

// RegistrationAck counts acknowledgements.
func (w *FakeWorker) RegistrationAck(context.Context) {
	w.mu.Lock()
	w.Acks++
	w.mu.Unlock()
}

// AckCount returns the acknowledgements seen so far.
func (w *FakeWorker) AckCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.Acks
}

// Update returns the content pushed for name.
func (w *FakeWorker) Update(name string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	v, ok := w.Updates[name]
	return v, ok
}

// ConfFile is the file name Payload reports for project.
func ConfFile(project string) string {
	return "/etc/" + strings.ToLower(project) + "/" + strings.ToLower(project) + ".conf"
}
