package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eL1fe/assistants-gateway/internal/store"
	"github.com/eL1fe/assistants-gateway/internal/store/inmem"
	"github.com/eL1fe/assistants-gateway/internal/types"
)

// countingStore wraps inmem.Store and counts GetAssistant calls, so tests
// can assert the cache actually short-circuits the backend on a hit.
type countingStore struct {
	*inmem.Store
	gets int
}

func (c *countingStore) GetAssistant(ctx context.Context, id string) (types.Assistant, error) {
	c.gets++
	return c.Store.GetAssistant(ctx, id)
}

func TestCacheFillsOnWriteAndServesOnHit(t *testing.T) {
	t.Parallel()
	inner := &countingStore{Store: inmem.New()}
	c := New(inner)
	ctx := context.Background()

	created, err := c.CreateAssistant(ctx, types.Assistant{Model: "m"})
	require.NoError(t, err)

	// CreateAssistant already filled the cache, so a Get should not reach
	// the backend's counted path. Fetch once to be sure, then again.
	_, err = c.GetAssistant(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, 0, inner.gets, "cache should serve from the write-through fill, not the backend")

	_, err = c.GetAssistant(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, 0, inner.gets)
}

func TestCacheInvalidatesOnDelete(t *testing.T) {
	t.Parallel()
	inner := &countingStore{Store: inmem.New()}
	c := New(inner)
	ctx := context.Background()

	created, err := c.CreateAssistant(ctx, types.Assistant{Model: "m"})
	require.NoError(t, err)

	require.NoError(t, c.DeleteAssistant(ctx, created.ID))

	_, err = c.GetAssistant(ctx, created.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
	require.Equal(t, 1, inner.gets, "a cache miss after delete must fall through to the backend")
}

func TestCacheNotFilledFromFailedRead(t *testing.T) {
	t.Parallel()
	inner := &countingStore{Store: inmem.New()}
	c := New(inner)
	ctx := context.Background()

	_, err := c.GetAssistant(ctx, "asst_missing")
	require.ErrorIs(t, err, store.ErrNotFound)
	require.Equal(t, 1, inner.gets)

	_, err = c.GetAssistant(ctx, "asst_missing")
	require.ErrorIs(t, err, store.ErrNotFound)
	require.Equal(t, 2, inner.gets, "a failed read must not populate the cache")
}
