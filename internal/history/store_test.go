package history

import (
	"context"
	"database/sql"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "db", "history.db"), quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStoreCreateAndList(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	clock := time.Date(2024, 3, 9, 14, 5, 0, 0, time.Local)
	store.now = func() time.Time { return clock }

	first, err := store.Create(ctx, Entry{
		Model:     "YOLO-FDE",
		Source:    "YouTube - Mumbai Cam",
		Total:     523,
		Breakdown: map[string]int{"car": 410, "van": 33, "truck": 60, "bus": 20, "person": 4},
		AvgFPS:    23.5,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.ID)
	assert.Equal(t, "Session – 2024-03-09 14:05:00", first.Name)
	assert.Equal(t, "2024-03-09 14:05:00", first.Timestamp)

	clock = clock.Add(time.Minute)
	second, err := store.Create(ctx, Entry{Model: "YOLOv8", Source: "clip.mp4", Total: 2, Breakdown: map[string]int{"bus": 2}, Slot: 3, Frames: 90})
	require.NoError(t, err)

	records, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, second.ID, records[0].ID)
	assert.Equal(t, 3, records[0].Slot)
	assert.Equal(t, 90, records[0].Frames)
	assert.Equal(t, 2, records[0].Bus)

	got := records[1]
	assert.Equal(t, "YOLO-FDE", got.ModelUsed)
	assert.Equal(t, 523, got.TotalVehicles)
	assert.Equal(t, 410, got.Car)
	assert.Equal(t, 33, got.Van)
	assert.Equal(t, 60, got.Truck)
	assert.Equal(t, 20, got.Bus)
	assert.Equal(t, 23.5, got.AvgFPS)
}

func TestStoreListEmpty(t *testing.T) {
	records, err := openTestStore(t).List(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, records)
	assert.Empty(t, records)
}

func TestStoreDelete(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	rec, err := store.Create(ctx, Entry{Model: "YOLOv8", Source: "a.mp4"})
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, rec.ID))
	assert.ErrorIs(t, store.Delete(ctx, rec.ID), ErrNotFound)
	assert.ErrorIs(t, store.Delete(ctx, 999), ErrNotFound)
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")

	store, err := Open(path, quietLogger())
	require.NoError(t, err)
	_, err = store.Create(context.Background(), Entry{Model: "m", Source: "s", Total: 1})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = Open(path, quietLogger())
	require.NoError(t, err)
	defer store.Close()

	records, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.NoError(t, store.Ping(context.Background()))
}

func TestMigrationsApplied(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	store, err := Open(path, quietLogger())
	require.NoError(t, err)
	require.NoError(t, store.Close())

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	var version int
	var dirty bool
	require.NoError(t, db.QueryRow("SELECT version, dirty FROM schema_migrations").Scan(&version, &dirty))
	assert.Equal(t, 2, version)
	assert.False(t, dirty)

	var journal string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&journal))
	assert.Equal(t, "wal", journal)
}
