package rpcapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/openstack-archive/namos/errors"
	"github.com/openstack-archive/namos/metric"
)

// Reverse-channel methods.
const (
	MethodPingMe           = "ping_me"
	MethodUpdateConfigFile = "update_config_file"
	MethodRegistrationAck  = "registration_ackw"
)

// WorkerMessage is a call on a worker's reverse channel.
type WorkerMessage struct {
	Method string          `json:"method"`
	Args   json.RawMessage `json:"args,omitempty"`
}

// WorkerArgs are the arguments of every reverse-channel method.
type WorkerArgs struct {
	Identification string `json:"identification"`
	Name           string `json:"name,omitempty"`
	Content        string `json:"content,omitempty"`
}

// WorkerClient calls back into registered workers. Requests are bounded by
// the callback timeout so a silent worker cannot hold the caller.
type WorkerClient struct {
	transport Transport
	timeout   time.Duration
	logger    *slog.Logger
	metrics   *metric.Metrics
}

// NewWorkerClient creates a reverse-channel client. A non-positive timeout
// uses five seconds.
func NewWorkerClient(t Transport, timeout time.Duration, logger *slog.Logger, m *metric.Metrics) *WorkerClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default().With("component", "rpcapi")
	}
	return &WorkerClient{transport: t, timeout: timeout, logger: logger, metrics: m}
}

func encodeWorker(method string, args WorkerArgs) ([]byte, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	return json.Marshal(WorkerMessage{Method: method, Args: raw})
}

func (w *WorkerClient) request(ctx context.Context, method string, args WorkerArgs, out any) error {
	data, err := encodeWorker(method, args)
	if err != nil {
		return errors.WrapInvalid(err, "rpcapi", method, "encode message")
	}

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	reply, err := w.transport.Request(ctx, WorkerSubject(args.Identification), data)
	if err == nil {
		err = Decode(reply, out)
	}
	if err != nil {
		switch {
		case ctx.Err() != nil:
			err = errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrCallbackTimeout, err), "rpcapi", method, "call worker")
		case errors.Is(err, nats.ErrNoResponders):
			err = errors.WrapTransient(err, "rpcapi", method, "call worker")
		}
		w.metrics.RecordCallback(method, "error")
		return err
	}
	w.metrics.RecordCallback(method, "ok")
	return nil
}

// RegistrationAck tells a worker its registration completed. It does not
// wait for an answer.
func (w *WorkerClient) RegistrationAck(ctx context.Context, identification string) error {
	data, err := encodeWorker(MethodRegistrationAck, WorkerArgs{Identification: identification})
	if err != nil {
		return errors.WrapInvalid(err, "rpcapi", MethodRegistrationAck, "encode message")
	}
	if err := w.transport.Publish(ctx, WorkerSubject(identification), data); err != nil {
		w.metrics.RecordCallback(MethodRegistrationAck, "error")
		return errors.Wrap(err, "rpcapi", MethodRegistrationAck, "publish")
	}
	w.metrics.RecordCallback(MethodRegistrationAck, "ok")
	return nil
}

// PingMe checks that a worker answers on its reverse channel.
func (w *WorkerClient) PingMe(ctx context.Context, identification string) (bool, error) {
	var out PingResult
	if err := w.request(ctx, MethodPingMe, WorkerArgs{Identification: identification}, &out); err != nil {
		return false, err
	}
	return out.Alive, nil
}

// UpdateConfigFile pushes new file content to a worker.
func (w *WorkerClient) UpdateConfigFile(ctx context.Context, identification, name, content string) error {
	return w.request(ctx, MethodUpdateConfigFile, WorkerArgs{
		Identification: identification,
		Name:           name,
		Content:        content,
	}, nil)
}

// WorkerHandler is the worker side of the reverse channel.
type WorkerHandler interface {
	PingMe(ctx context.Context) bool
	UpdateConfigFile(ctx context.Context, name, content string) error
	RegistrationAck(ctx context.Context)
}

// ServeWorker dispatches reverse-channel messages to h. The bytes returned
// are the reply; registration acknowledgements get none.
func ServeWorker(h WorkerHandler) func(ctx context.Context, data []byte) []byte {
	return func(ctx context.Context, data []byte) []byte {
		var msg WorkerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return NewResponse(nil, errors.Validation("message", "malformed reverse-channel message"))
		}
		var args WorkerArgs
		if len(msg.Args) > 0 {
			if err := json.Unmarshal(msg.Args, &args); err != nil {
				return NewResponse(nil, errors.Validation("args", err.Error()))
			}
		}

		switch msg.Method {
		case MethodPingMe:
			return NewResponse(PingResult{Alive: h.PingMe(ctx)}, nil)
		case MethodUpdateConfigFile:
			return NewResponse(nil, h.UpdateConfigFile(ctx, args.Name, args.Content))
		case MethodRegistrationAck:
			h.RegistrationAck(ctx)
			return nil
		default:
			return NewResponse(nil, errors.Validation("method", "unknown method "+msg.Method))
		}
	}
}
