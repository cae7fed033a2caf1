// Package health reports the state of the namos processes and the
// dependencies they hold: the NATS connection, the store and the callback
// pool.
package health

import (
	"regexp"
	"strings"
	"time"
)

// States of a Status.
const (
	StateHealthy   = "healthy"
	StateDegraded  = "degraded"
	StateUnhealthy = "unhealthy"
)

var (
	urlRegex        = regexp.MustCompile(`(?:https?|nats|postgres(?:ql)?|wss?)://[^\s]+`)
	unixPathRegex   = regexp.MustCompile(`/[a-zA-Z0-9/_.-]+`)
	ipAddrRegex     = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	portRegex       = regexp.MustCompile(`:\d{2,5}\b`)
	credentialRegex = regexp.MustCompile(`(?i)(password|token|key|secret|credential)[^a-zA-Z]*[:=][^,\s}]+`)
)

// Status is the health of one process or dependency.
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      string    `json:"status"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
}

func newStatus(component, state, message string) Status {
	return Status{
		Component: component,
		Healthy:   state == StateHealthy,
		Status:    state,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewHealthy creates a healthy status.
func NewHealthy(component, message string) Status {
	return newStatus(component, StateHealthy, message)
}

// NewUnhealthy creates an unhealthy status.
func NewUnhealthy(component, message string) Status {
	return newStatus(component, StateUnhealthy, message)
}

// NewDegraded creates a degraded status.
func NewDegraded(component, message string) Status {
	return newStatus(component, StateDegraded, message)
}

// FromError is healthy when err is nil and unhealthy otherwise. Addresses,
// paths and credentials are scrubbed from the message.
func FromError(component string, err error) Status {
	if err == nil {
		return NewHealthy(component, "ok")
	}
	return NewUnhealthy(component, sanitize(err.Error()))
}

// IsHealthy reports a healthy status.
func (s Status) IsHealthy() bool { return s.Status == StateHealthy }

// IsDegraded reports a degraded status.
func (s Status) IsDegraded() bool { return s.Status == StateDegraded }

// IsUnhealthy reports an unhealthy status.
func (s Status) IsUnhealthy() bool { return s.Status == StateUnhealthy }

// Aggregate folds subs into one status: unhealthy if any is unhealthy,
// degraded if any is degraded, healthy otherwise.
func Aggregate(component string, subs []Status) Status {
	if len(subs) == 0 {
		return NewHealthy(component, "no checks")
	}

	state := StateHealthy
	for _, sub := range subs {
		switch {
		case sub.IsUnhealthy():
			state = StateUnhealthy
		case sub.IsDegraded() && state == StateHealthy:
			state = StateDegraded
		}
	}

	var msg string
	switch state {
	case StateUnhealthy:
		msg = "one or more checks are unhealthy"
	case StateDegraded:
		msg = "one or more checks are degraded"
	default:
		msg = "all checks are healthy"
	}
	st := newStatus(component, state, msg)
	st.SubStatuses = append([]Status(nil), subs...)
	return st
}

func sanitize(msg string) string {
	msg = urlRegex.ReplaceAllString(msg, "[URL]")
	msg = unixPathRegex.ReplaceAllString(msg, "[PATH]")
	msg = ipAddrRegex.ReplaceAllString(msg, "[IP]")
	msg = portRegex.ReplaceAllString(msg, "[PORT]")
	lower := strings.ToLower(msg)
	for _, word := range []string{"password", "token", "key", "secret", "credential"} {
		if strings.Contains(lower, word) {
			return credentialRegex.ReplaceAllString(msg, "[REDACTED]")
		}
	}
	return msg
}
