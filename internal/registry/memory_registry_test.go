package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/vehiclecount/internal/counter"
)

func TestMemoryRegistry(t *testing.T) {
	reg := NewMemoryRegistry(time.Minute)
	clock := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	reg.now = func() time.Time { return clock }
	ctx := context.Background()

	rec := &Record{ID: "local:2", Instance: "local", Stats: runningStats(2)}
	require.NoError(t, reg.Publish(ctx, rec))

	// callers cannot mutate stored stats
	rec.Stats.Counts[counter.Car] = 99

	got, err := reg.Get(ctx, "local:2")
	require.NoError(t, err)
	assert.Equal(t, 3, got.Stats.Counts[counter.Car])

	clock = clock.Add(50 * time.Second)
	require.NoError(t, reg.Heartbeat(ctx, "local:2"))

	clock = clock.Add(50 * time.Second)
	records, err := reg.List(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 1)

	clock = clock.Add(time.Minute)
	records, err = reg.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)

	_, err = reg.Get(ctx, "local:2")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, reg.Heartbeat(ctx, "local:2"), ErrNotFound)
	assert.ErrorIs(t, reg.Remove(ctx, "local:2"), ErrNotFound)
	assert.NoError(t, reg.Close())
}
