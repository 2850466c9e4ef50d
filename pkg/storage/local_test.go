package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLocalStoreRoundTrip(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	path, err := store.Upload(ctx, []byte("%PDF-1.4 test"), "user1/proj1/purchase_orders/PO-1.pdf")
	require.NoError(t, err)
	assert.Equal(t, "user1/proj1/purchase_orders/PO-1.pdf", path)

	data, err := store.Download(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.4 test"), data)

	require.NoError(t, store.Delete(ctx, path))
	_, err = store.Download(ctx, path)
	assert.Error(t, err)

	// Deleting a missing object is not an error.
	assert.NoError(t, store.Delete(ctx, path))
}

func TestLocalStoreRejectsEscapingPaths(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	for _, path := range []string{"../outside.txt", "a/../../outside.txt", "/etc/passwd"} {
		_, err := store.Upload(ctx, []byte("x"), path)
		assert.Error(t, err, "path %q must be rejected", path)
		_, err = store.Download(ctx, path)
		assert.Error(t, err)
	}
}

func TestNewLocalStoreRequiresDir(t *testing.T) {
	_, err := NewLocalStore("", zap.NewNop())
	assert.Error(t, err)
}
