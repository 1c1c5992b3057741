package queue

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gasto/internal/storage"
)

func newTestQueue(t *testing.T, opts ...Option) (*Queue, *storage.Store) {
	t.Helper()
	ctx := context.Background()
	store, err := storage.Open(ctx, filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	m, err := storage.NewMigrator(store)
	require.NoError(t, err)
	_, err = m.Up(ctx)
	require.NoError(t, err)

	return New(store, opts...), store
}

func TestAppendPeekRemoveOrder(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	ids := make([]int64, 0, 3)
	for _, rec := range []string{"exp_a", "exp_b", "exp_c"} {
		id, err := q.Append(ctx, TableExpenses, rec, OpInsert, map[string]any{"id": rec})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	assert.True(t, ids[0] < ids[1] && ids[1] < ids[2])

	n, err := q.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	batch, err := q.PeekBatch(ctx, 2)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, "exp_a", batch[0].RecordID)
	assert.Equal(t, "exp_b", batch[1].RecordID)
	assert.Equal(t, OpInsert, batch[0].Operation)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(batch[0].Data, &payload))
	assert.Equal(t, "exp_a", payload["id"])

	// Peeking does not consume.
	again, err := q.PeekBatch(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, again, 3)

	require.NoError(t, q.Remove(ctx, ids[0]))
	require.NoError(t, q.RemoveBatch(ctx, []int64{ids[1]}))

	rest, err := q.PeekBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "exp_c", rest[0].RecordID)
}

func TestAppendValidates(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	_, err := q.Append(ctx, "users", "x", OpInsert, nil)
	assert.Error(t, err)
	_, err = q.Append(ctx, TableExpenses, "x", Operation("UPSERT"), nil)
	assert.Error(t, err)
	_, err = q.Append(ctx, TableExpenses, " ", OpDelete, nil)
	assert.Error(t, err)

	n, err := q.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestAppendNotifies(t *testing.T) {
	ctx := context.Background()
	fixed := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

	var got []Item
	q, _ := newTestQueue(t,
		WithClock(func() time.Time { return fixed }),
		WithNotifier(NotifierFunc(func(ctx context.Context, item Item) error {
			got = append(got, item)
			return errors.New("broker down")
		})),
	)

	id, err := q.Append(ctx, TableCategories, "cat_1", OpDelete, map[string]string{"id": "cat_1"})
	require.NoError(t, err, "notifier failure must not fail the append")
	require.Len(t, got, 1)
	assert.Equal(t, id, got[0].ID)
	assert.Equal(t, TableCategories, got[0].TableName)

	batch, err := q.PeekBatch(ctx, 1)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.True(t, batch[0].CreatedAt.Equal(fixed))
}
