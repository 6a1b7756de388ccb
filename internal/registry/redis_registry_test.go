package registry

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/vehiclecount/internal/config"
	"github.com/zsiec/vehiclecount/internal/counter"
	"github.com/zsiec/vehiclecount/internal/session"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client, *RedisRegistry) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return mr, client, NewRedisRegistry(client, quietLogger(), "vehiclecount:sessions:", time.Minute)
}

func runningStats(slot int) session.Stats {
	counts := counter.Zero()
	counts[counter.Car] = 3
	return session.Stats{
		Slot:            slot,
		Status:          session.StatusRunning,
		ModelFile:       "yolov8.pt",
		Source:          "https://example.com/cam.m3u8",
		ResolvedVia:     "direct",
		Counts:          counts,
		CurrentVisible:  counter.Zero(),
		FramesProcessed: 120,
	}
}

func TestRedisRegistryPublishAndGet(t *testing.T) {
	mr, client, reg := setupTestRedis(t)
	ctx := context.Background()

	rec := &Record{ID: RecordID("node-a", 1), Instance: "node-a", Stats: runningStats(1)}
	require.NoError(t, reg.Publish(ctx, rec))
	assert.False(t, rec.UpdatedAt.IsZero())

	key := "vehiclecount:sessions:node-a:1"
	assert.True(t, mr.Exists(key))
	assert.Equal(t, time.Minute, mr.TTL(key))

	members, err := client.SMembers(ctx, "vehiclecount:sessions:active").Result()
	require.NoError(t, err)
	assert.Equal(t, []string{"node-a:1"}, members)

	got, err := reg.Get(ctx, "node-a:1")
	require.NoError(t, err)
	assert.Equal(t, "node-a", got.Instance)
	assert.Equal(t, session.StatusRunning, got.Stats.Status)
	assert.Equal(t, 3, got.Stats.Counts[counter.Car])
	assert.Equal(t, 120, got.Stats.FramesProcessed)

	_, err = reg.Get(ctx, "node-a:9")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Error(t, reg.Publish(ctx, &Record{}))
}

func TestRedisRegistryListPrunesExpired(t *testing.T) {
	mr, client, reg := setupTestRedis(t)
	ctx := context.Background()

	for slot := 1; slot <= 3; slot++ {
		require.NoError(t, reg.Publish(ctx, &Record{ID: RecordID("node-a", slot), Instance: "node-a", Stats: runningStats(slot)}))
	}

	mr.Del("vehiclecount:sessions:node-a:2")

	records, err := reg.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "node-a:1", records[0].ID)
	assert.Equal(t, "node-a:3", records[1].ID)

	members, err := client.SMembers(ctx, "vehiclecount:sessions:active").Result()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"node-a:1", "node-a:3"}, members)

	mr.FastForward(2 * time.Minute)
	records, err = reg.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestRedisRegistryHeartbeat(t *testing.T) {
	mr, _, reg := setupTestRedis(t)
	ctx := context.Background()

	rec := &Record{ID: "node-a:1", Instance: "node-a", Stats: runningStats(1)}
	require.NoError(t, reg.Publish(ctx, rec))
	before := rec.UpdatedAt

	mr.FastForward(40 * time.Second)
	require.NoError(t, reg.Heartbeat(ctx, "node-a:1"))
	assert.Equal(t, time.Minute, mr.TTL("vehiclecount:sessions:node-a:1"))

	got, err := reg.Get(ctx, "node-a:1")
	require.NoError(t, err)
	assert.False(t, got.UpdatedAt.Before(before))
	assert.Equal(t, session.StatusRunning, got.Stats.Status)
	assert.Equal(t, 3, got.Stats.Counts[counter.Car])

	assert.ErrorIs(t, reg.Heartbeat(ctx, "node-b:1"), ErrNotFound)
}

func TestRedisRegistryRemove(t *testing.T) {
	mr, _, reg := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, reg.Publish(ctx, &Record{ID: "node-a:1", Stats: runningStats(1)}))
	require.NoError(t, reg.Remove(ctx, "node-a:1"))
	assert.False(t, mr.Exists("vehiclecount:sessions:node-a:1"))
	assert.ErrorIs(t, reg.Remove(ctx, "node-a:1"), ErrNotFound)
}

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()

	client, err := NewRedisClient(context.Background(), config.RedisConfig{
		Addresses: []string{addr},
		PoolSize:  2,
	})
	require.NoError(t, err)
	require.NoError(t, client.Close())

	mr.Close()
	_, err = NewRedisClient(context.Background(), config.RedisConfig{
		Addresses:   []string{addr},
		PoolSize:    2,
		DialTimeout: 100 * time.Millisecond,
	})
	assert.Error(t, err)
}
