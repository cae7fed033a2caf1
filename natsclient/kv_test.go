package natsclient

import (
	"errors"
	"fmt"
	"testing"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
)

func TestKVErrorMatching(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		notFound bool
		conflict bool
	}{
		{"nil", nil, false, false},
		{"sentinel not found", ErrKVKeyNotFound, true, false},
		{"deleted", fmt.Errorf("get: %w", jetstream.ErrKeyDeleted), true, false},
		{"server code 10037", errors.New("nats: API error 10037"), true, false},
		{"key exists", jetstream.ErrKeyExists, false, true},
		{"wrong last sequence", errors.New("nats: wrong last sequence: 4"), false, true},
		{"revision mismatch", fmt.Errorf("update: %w", ErrKVRevisionMismatch), false, true},
		{"other", errors.New("boom"), false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.notFound, IsKVNotFoundError(tt.err))
			assert.Equal(t, tt.conflict, IsKVConflictError(tt.err))
		})
	}
}
