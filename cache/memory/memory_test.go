package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zlnvch/pageboard/cache"
	"github.com/zlnvch/pageboard/cache/memory"
)

func TestActionsOrderedByScoreThenId(t *testing.T) {
	ctx := context.Background()
	c := memory.NewMemoryPageCache()

	require.NoError(t, c.AddAction(ctx, 1, "b", 20, []byte("b")))
	require.NoError(t, c.AddAction(ctx, 1, "a", 10, []byte("a")))
	require.NoError(t, c.AddActionsBatch(ctx, 1, []cache.ActionCacheItem{
		{ActionId: "d", Score: 20, Data: []byte("d")},
		{ActionId: "c", Score: 20, Data: []byte("c")},
	}))
	// Re-adding an id replaces it.
	require.NoError(t, c.AddAction(ctx, 1, "a", 10, []byte("a2")))

	got, err := c.GetActions(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("a2"), []byte("b"), []byte("c"), []byte("d")}, got)

	got, err = c.GetActions(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("c"), []byte("d")}, got)

	count, err := c.GetPageActionCount(ctx, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 4, count)

	got, err = c.GetActions(ctx, 2, 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestClearAndComplete(t *testing.T) {
	ctx := context.Background()
	c := memory.NewMemoryPageCache()

	complete, err := c.IsPageComplete(ctx, 0)
	require.NoError(t, err)
	assert.False(t, complete)

	require.NoError(t, c.AddAction(ctx, 0, "a", 1, []byte("a")))
	require.NoError(t, c.SetPageComplete(ctx, 0))
	complete, _ = c.IsPageComplete(ctx, 0)
	assert.True(t, complete)

	require.NoError(t, c.ClearPage(ctx, 0))
	complete, _ = c.IsPageComplete(ctx, 0)
	assert.False(t, complete)
	count, _ := c.GetPageActionCount(ctx, 0)
	assert.Zero(t, count)
}

func TestPublishSubscribe(t *testing.T) {
	c := memory.NewMemoryPageCache()
	ctx, cancel := context.WithCancel(context.Background())

	var got []string
	require.NoError(t, c.Subscribe(ctx, "page:1", func(m []byte) { got = append(got, string(m)) }))

	require.NoError(t, c.Publish(context.Background(), "page:1", []byte("one")))
	require.NoError(t, c.Publish(context.Background(), "page:2", []byte("other")))
	require.NoError(t, c.Publish(context.Background(), "page:1", []byte("two")))
	assert.Equal(t, []string{"one", "two"}, got)

	cancel()
	assert.Eventually(t, func() bool {
		before := len(got)
		_ = c.Publish(context.Background(), "page:1", []byte("late"))
		return len(got) == before
	}, time.Second, 10*time.Millisecond)

	assert.Error(t, c.Subscribe(ctx, "page:1", func([]byte) {}))
}
