package natsclient

import (
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/openstack-archive/namos/metric"
)

// ClientOption configures a Client.
type ClientOption func(*Client) error

// WithName sets the connection name shown by the server.
func WithName(name string) ClientOption {
	return func(c *Client) error {
		c.name = name
		return nil
	}
}

// WithMaxReconnects bounds reconnection attempts; -1 retries forever.
func WithMaxReconnects(n int) ClientOption {
	return func(c *Client) error {
		c.maxReconnects = n
		return nil
	}
}

// WithReconnectWait sets the pause between reconnection attempts.
func WithReconnectWait(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.reconnectWait = d
		return nil
	}
}

// WithTimeout sets the dial timeout, also used by requests without a deadline.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d <= 0 {
			return stderrors.New("timeout must be positive")
		}
		c.timeout = d
		return nil
	}
}

// WithHandlerTimeout bounds the context passed to handlers.
func WithHandlerTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d > 0 {
			c.handlerTimeout = d
		}
		return nil
	}
}

// WithCircuitBreaker opens the breaker after threshold consecutive connect
// failures, doubling its window up to maxWait.
func WithCircuitBreaker(threshold int, maxWait time.Duration) ClientOption {
	return func(c *Client) error {
		c.breaker.configure(threshold, maxWait)
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) error {
		if logger != nil {
			c.logger = logger.With("component", "natsclient")
		}
		return nil
	}
}

// WithMetrics records connection state into m.
func WithMetrics(m *metric.Metrics) ClientOption {
	return func(c *Client) error {
		c.metrics = m
		return nil
	}
}

// WithCredentials authenticates with a user and password.
func WithCredentials(username, password string) ClientOption {
	return func(c *Client) error {
		if username == "" || password == "" {
			return stderrors.New("username and password are both required")
		}
		c.auth = append(c.auth, nats.UserInfo(username, password))
		return nil
	}
}

// WithToken authenticates with a token.
func WithToken(token string) ClientOption {
	return func(c *Client) error {
		c.auth = append(c.auth, nats.Token(token))
		return nil
	}
}

// WithTLS enables TLS. The client certificate is optional; certFile and
// keyFile must be set together.
func WithTLS(certFile, keyFile, caFile string) ClientOption {
	return func(c *Client) error {
		if (certFile == "") != (keyFile == "") {
			return stderrors.New("tls cert_file and key_file must be set together")
		}
		c.auth = append(c.auth, nats.Secure())
		if certFile != "" {
			c.auth = append(c.auth, nats.ClientCert(certFile, keyFile))
		}
		if caFile != "" {
			c.auth = append(c.auth, nats.RootCAs(caFile))
		}
		return nil
	}
}
