// Package testutil holds in-memory stand-ins and fixtures for tests that
// cross the conductor's NATS boundary without a server.
package testutil

import (
	"context"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/openstack-archive/namos/natsclient"
)

// MockNATSClient is an in-memory NATS bus. It implements the Publish,
// Handle and Request methods of natsclient.Client with exact subject
// matching. Publish runs the handler on the caller's goroutine.
type MockNATSClient struct {
	mu       sync.RWMutex
	messages map[string]int
	handlers map[string]natsclient.Handler
}

// NewMockNATSClient creates an empty bus.
func NewMockNATSClient() *MockNATSClient {
	return &MockNATSClient{
		messages: make(map[string]int),
		handlers: make(map[string]natsclient.Handler),
	}
}

// Publish counts data and delivers it to the handler of subject, whose
// reply is dropped.
func (c *MockNATSClient) Publish(ctx context.Context, subject string, data []byte) error {
	c.mu.Lock()
	c.messages[subject]++
	h := c.handlers[subject]
	c.mu.Unlock()

	if h != nil {
		_ = h(ctx, data)
	}
	return nil
}

// Handle serves requests on subject. The queue group is ignored; a second
// handler for a subject replaces the first.
func (c *MockNATSClient) Handle(ctx context.Context, subject, _ string, handler natsclient.Handler) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[subject] = handler
	return nil
}

// Request calls the handler of subject. Without one it fails the way a
// server does when nobody listens; a nil reply looks like a timeout.
func (c *MockNATSClient) Request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	c.mu.Lock()
	c.messages[subject]++
	h := c.handlers[subject]
	c.mu.Unlock()

	if h == nil {
		return nil, nats.ErrNoResponders
	}
	done := make(chan []byte, 1)
	go func() { done <- h(ctx, data) }()
	select {
	case reply := <-done:
		if reply == nil {
			return nil, nats.ErrTimeout
		}
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// GetMessageCount returns how many messages were sent on subject.
func (c *MockNATSClient) GetMessageCount(subject string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.messages[subject]
}
