//go:build integration

package natskv_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openstack-archive/namos/natsclient"
	"github.com/openstack-archive/namos/storage"
	"github.com/openstack-archive/namos/storage/natskv"
	"github.com/openstack-archive/namos/storage/storagetest"
)

func TestBackend(t *testing.T) {
	tc := natsclient.NewTestClient(t, natsclient.WithJetStream())
	n := 0
	storagetest.Run(t, func(t *testing.T) storage.Backend {
		n++
		b, err := natskv.Open(context.Background(), tc.Client, fmt.Sprintf("store-%d", n))
		require.NoError(t, err)
		return b
	})
}
