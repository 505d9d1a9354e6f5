package runner

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) *RedisStore {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client, "test")
}

func stores(t *testing.T) map[string]CheckpointStore {
	fs, err := NewFileStore(filepath.Join(t.TempDir(), "checkpoints"), "ckpt")
	require.NoError(t, err)
	return map[string]CheckpointStore{
		"file":  fs,
		"redis": newRedisStore(t),
	}
}

func testCheckpoint(iteration int) *Checkpoint {
	return &Checkpoint{
		Iteration:  iteration,
		TotalSteps: iteration * 100,
		RunID:      "run",
		CreatedAt:  time.Date(2024, 1, 1, 0, 0, iteration, 0, time.UTC),
		Agent:      json.RawMessage(`{"agent":"random"}`),
	}
}

func TestCheckpointStores(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Latest(ctx)
			assert.ErrorIs(t, err, ErrNoCheckpoint)
			_, err = store.Load(ctx, 0)
			assert.ErrorIs(t, err, ErrNoCheckpoint)

			for _, i := range []int{0, 2, 10, 1} {
				require.NoError(t, store.Save(ctx, testCheckpoint(i)))
			}

			latest, err := store.Latest(ctx)
			require.NoError(t, err)
			assert.Equal(t, 10, latest)

			iterations, err := store.Iterations(ctx)
			require.NoError(t, err)
			assert.Equal(t, []int{0, 1, 2, 10}, iterations)

			ckpt, err := store.Load(ctx, 2)
			require.NoError(t, err)
			assert.Equal(t, 2, ckpt.Iteration)
			assert.Equal(t, 200, ckpt.TotalSteps)
			assert.Equal(t, "run", ckpt.RunID)
			assert.JSONEq(t, `{"agent":"random"}`, string(ckpt.Agent))
			assert.True(t, ckpt.CreatedAt.Equal(testCheckpoint(2).CreatedAt))

			require.NoError(t, store.Prune(ctx, 2))
			iterations, err = store.Iterations(ctx)
			require.NoError(t, err)
			assert.Equal(t, []int{2, 10}, iterations)
			_, err = store.Load(ctx, 1)
			assert.ErrorIs(t, err, ErrNoCheckpoint)

			// keep <= 0 keeps everything
			require.NoError(t, store.Prune(ctx, 0))
			iterations, err = store.Iterations(ctx)
			require.NoError(t, err)
			assert.Len(t, iterations, 2)
		})
	}
}

func TestFileStoreIgnoresForeignFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, "ckpt")
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), testCheckpoint(3)))

	for _, name := range []string{"ckpt.abc.json", "other.5.json", "ckpt.7.txt", ".ckpt.9.json.tmp123"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("{}"), 0644))
	}

	iterations, err := store.Iterations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{3}, iterations)
	assert.FileExists(t, filepath.Join(dir, "ckpt.3.json"))
}

func TestFileStoreCorruptCheckpoint(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, "ckpt")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ckpt.1.json"), []byte("not json"), 0644))

	_, err = store.Load(context.Background(), 1)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoCheckpoint)
}
