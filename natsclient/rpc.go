package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/openstack-archive/namos/errors"
)

// Handle serves requests on subject. Subscribers sharing a non-empty queue
// split the load. A nil reply from handler sends nothing, which is how
// fire-and-forget publishes to a handled subject are served.
func (c *Client) Handle(ctx context.Context, subject, queue string, handler Handler) error {
	cb := func(msg *nats.Msg) {
		msgCtx, cancel := context.WithTimeout(ctx, c.handlerTimeout)
		defer cancel()
		reply := handler(msgCtx, msg.Data)
		if msg.Reply == "" || reply == nil {
			return
		}
		if err := msg.Respond(reply); err != nil {
			c.logger.Error("Reply failed", "subject", subject, "error", err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || !c.conn.IsConnected() {
		return ErrNotConnected
	}
	var (
		sub *nats.Subscription
		err error
	)
	if queue == "" {
		sub, err = c.conn.Subscribe(subject, cb)
	} else {
		sub, err = c.conn.QueueSubscribe(subject, queue, cb)
	}
	if err != nil {
		return errors.WrapTransient(err, "natsclient", "Handle", "subscribe "+subject)
	}
	c.subs = append(c.subs, sub)
	c.logger.Debug("Serving subject", "subject", subject, "queue", queue)
	return nil
}

// Publish sends data to subject without waiting for a reply.
func (c *Client) Publish(_ context.Context, subject string, data []byte) error {
	conn, err := c.ready()
	if err != nil {
		return err
	}
	if err := conn.Publish(subject, data); err != nil {
		return errors.WrapTransient(err, "natsclient", "Publish", "publish "+subject)
	}
	return nil
}

// Request sends data to subject and waits for one reply. Without a deadline
// on ctx the client timeout applies. Timeouts and missing responders are
// transient.
func (c *Client) Request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	conn, err := c.ready()
	if err != nil {
		return nil, err
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	msg, err := conn.RequestWithContext(ctx, subject, data)
	switch {
	case err == nil:
		return msg.Data, nil
	case stderrors.Is(err, context.DeadlineExceeded), stderrors.Is(err, nats.ErrTimeout):
		return nil, errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrConnectionTimeout, err),
			"natsclient", "Request", "request "+subject)
	case stderrors.Is(err, nats.ErrNoResponders):
		return nil, errors.WrapTransient(err, "natsclient", "Request", "request "+subject)
	default:
		return nil, errors.Wrap(err, "natsclient", "Request", "request "+subject)
	}
}
