// Package natsclient owns the NATS connection of a namos process. The
// conductor serves its RPC topic through it, the REST facade and the admin
// CLI send requests with it, and the natskv store backend opens its
// JetStream bucket on it. Connection attempts go through a circuit breaker.
package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/openstack-archive/namos/errors"
	"github.com/openstack-archive/namos/metric"
)

// State is the connection state of a Client.
type State int32

// Connection states.
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateCircuitOpen
)

var stateNames = map[State]string{
	StateDisconnected: "disconnected",
	StateConnecting:   "connecting",
	StateConnected:    "connected",
	StateReconnecting: "reconnecting",
	StateCircuitOpen:  "circuit_open",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

var (
	ErrNotConnected = stderrors.New("not connected to NATS")
	ErrCircuitOpen  = errors.ErrCircuitOpen
)

// Handler serves one request. The returned bytes are sent as the reply when
// the message carries a reply subject.
type Handler func(ctx context.Context, data []byte) []byte

// Client is a NATS connection with reconnect handling and a circuit breaker
// around Connect.
type Client struct {
	url     string
	state   atomic.Int32
	breaker *breaker
	logger  *slog.Logger
	metrics *metric.Metrics

	name           string
	maxReconnects  int
	reconnectWait  time.Duration
	timeout        time.Duration
	drainTimeout   time.Duration
	handlerTimeout time.Duration
	auth           []nats.Option

	mu     sync.RWMutex
	conn   *nats.Conn
	js     jetstream.JetStream
	subs   []*nats.Subscription
	closed bool
}

// NewClient creates a client for url, which may list several servers
// separated by commas. It does not connect.
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		url:            url,
		breaker:        newBreaker(5, time.Minute),
		logger:         slog.Default().With("component", "natsclient"),
		maxReconnects:  -1,
		reconnectWait:  2 * time.Second,
		timeout:        5 * time.Second,
		drainTimeout:   30 * time.Second,
		handlerTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "natsclient", "NewClient", "apply option")
		}
	}
	return c, nil
}

// URL returns the server URL.
func (c *Client) URL() string { return c.url }

// State returns the connection state.
func (c *Client) State() State {
	if c.breaker.open() {
		return StateCircuitOpen
	}
	return State(c.state.Load())
}

// Connected reports whether the connection is up.
func (c *Client) Connected() bool { return c.State() == StateConnected }

func (c *Client) setState(s State) {
	c.state.Store(int32(s))
	c.metrics.RecordNATSStatus(s == StateConnected)
}

func (c *Client) natsOptions() []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(c.maxReconnects),
		nats.ReconnectWait(c.reconnectWait),
		nats.Timeout(c.timeout),
		nats.DrainTimeout(c.drainTimeout),
		nats.DisconnectErrHandler(c.onDisconnect),
		nats.ReconnectHandler(c.onReconnect),
		nats.ClosedHandler(func(*nats.Conn) { c.setState(StateDisconnected) }),
		nats.ErrorHandler(c.onError),
	}
	if c.name != "" {
		opts = append(opts, nats.Name(c.name))
	}
	return append(opts, c.auth...)
}

// Connect dials the server and opens JetStream. While the breaker is open
// it fails with ErrCircuitOpen without dialing.
func (c *Client) Connect(ctx context.Context) error {
	if !c.breaker.allow() {
		return ErrCircuitOpen
	}
	c.setState(StateConnecting)
	c.logger.Info("Connecting to NATS", "url", c.url)

	type dialed struct {
		conn *nats.Conn
		err  error
	}
	done := make(chan dialed, 1)
	go func() {
		conn, err := nats.Connect(c.url, c.natsOptions()...)
		done <- dialed{conn, err}
	}()

	var d dialed
	select {
	case d = <-done:
	case <-ctx.Done():
		go func() {
			if late := <-done; late.conn != nil {
				late.conn.Close()
			}
		}()
		d.err = ctx.Err()
	}
	if d.err != nil {
		c.setState(StateDisconnected)
		if wait := c.breaker.failure(); wait > 0 {
			c.metrics.RecordCircuitBreakerState(true)
			c.logger.Warn("NATS circuit breaker opened", "wait", wait)
		}
		return errors.WrapTransient(d.err, "natsclient", "Connect", "connect to "+c.url)
	}

	js, err := jetstream.New(d.conn)
	if err != nil {
		d.conn.Close()
		c.setState(StateDisconnected)
		return errors.WrapFatal(err, "natsclient", "Connect", "open JetStream")
	}
	c.mu.Lock()
	c.conn, c.js, c.closed = d.conn, js, false
	c.mu.Unlock()

	c.breaker.success()
	c.metrics.RecordCircuitBreakerState(false)
	c.setState(StateConnected)
	c.logger.Info("Connected to NATS", "url", d.conn.ConnectedUrl())
	return nil
}

// WaitForConnection blocks until the client is connected or ctx ends.
func (c *Client) WaitForConnection(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for !c.Connected() {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", errors.ErrConnectionTimeout, ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}

// Check round-trips a ping to the server. It fits a health.Monitor check.
func (c *Client) Check(ctx context.Context) error {
	conn, err := c.ready()
	if err != nil {
		return err
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	if err := conn.FlushWithContext(ctx); err != nil {
		return errors.WrapTransient(err, "natsclient", "Check", "ping server")
	}
	return nil
}

// Close removes subscriptions, drains and closes the connection. Calling it
// again is a no-op.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.conn == nil {
		c.closed = true
		return nil
	}
	c.closed = true

	var errs []error
	for _, sub := range c.subs {
		if err := sub.Unsubscribe(); err != nil && !stderrors.Is(err, nats.ErrConnectionClosed) {
			errs = append(errs, errors.Wrap(err, "natsclient", "Close", "unsubscribe "+sub.Subject))
		}
	}
	c.subs = nil

	wait := c.drainTimeout
	if deadline, ok := ctx.Deadline(); ok {
		wait = min(wait, time.Until(deadline))
	}
	conn := c.conn
	drained := make(chan error, 1)
	go func() { drained <- conn.Drain() }()
	select {
	case err := <-drained:
		if err != nil && !stderrors.Is(err, nats.ErrConnectionClosed) {
			errs = append(errs, errors.Wrap(err, "natsclient", "Close", "drain"))
		}
	case <-time.After(wait):
		errs = append(errs, errors.WrapTransient(fmt.Errorf("drain did not finish in %v", wait),
			"natsclient", "Close", "drain"))
	}
	conn.Close()
	c.conn, c.js = nil, nil
	c.auth = nil
	c.setState(StateDisconnected)
	return stderrors.Join(errs...)
}

func (c *Client) ready() (*nats.Conn, error) {
	if c.breaker.open() {
		return nil, ErrCircuitOpen
	}
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil || !conn.IsConnected() {
		return nil, ErrNotConnected
	}
	return conn, nil
}

func (c *Client) onDisconnect(_ *nats.Conn, err error) {
	c.setState(StateReconnecting)
	if err != nil {
		c.logger.Warn("Disconnected from NATS", "error", err)
	}
}

func (c *Client) onReconnect(conn *nats.Conn) {
	c.setState(StateConnected)
	c.metrics.RecordNATSReconnect()
	c.logger.Info("Reconnected to NATS", "url", conn.ConnectedUrl())
}

func (c *Client) onError(_ *nats.Conn, sub *nats.Subscription, err error) {
	subject := ""
	if sub != nil {
		subject = sub.Subject
	}
	c.logger.Error("NATS error", "subject", subject, "error", err)
}
