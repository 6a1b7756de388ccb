package health

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisChecker(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	checker := NewRedisChecker(client)
	assert.Equal(t, "redis", checker.Name())
	assert.NoError(t, checker.Check(context.Background()))

	mr.Close()
	err := checker.Check(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis ping failed")

	assert.Error(t, NewRedisChecker(nil).Check(context.Background()))
}

func TestMemoryChecker(t *testing.T) {
	tests := []struct {
		name         string
		used         float64
		err          error
		wantDegraded bool
	}{
		{name: "below threshold", used: 42},
		{name: "above threshold", used: 95, wantDegraded: true},
		{name: "stats unavailable", err: errors.New("no /proc"), wantDegraded: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := NewMemoryChecker(0.9)
			checker.usage = func(context.Context) (*mem.VirtualMemoryStat, error) {
				if tt.err != nil {
					return nil, tt.err
				}
				return &mem.VirtualMemoryStat{UsedPercent: tt.used, Available: 1 << 30}, nil
			}

			err := checker.Check(context.Background())
			if tt.wantDegraded {
				assert.True(t, IsDegraded(err))
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tt.used, checker.Details(context.Background())["used_percent"])
			}
		})
	}
}

func TestDiskChecker(t *testing.T) {
	tests := []struct {
		name         string
		stat         disk.UsageStat
		wantErr      bool
		wantDegraded bool
	}{
		{name: "plenty free", stat: disk.UsageStat{UsedPercent: 40, Free: 10 << 30}},
		{name: "nearly full", stat: disk.UsageStat{UsedPercent: 93, Free: 2 << 30}, wantErr: true, wantDegraded: true},
		{name: "no room for uploads", stat: disk.UsageStat{UsedPercent: 99, Free: 1 << 20}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := NewDiskChecker("/data", 0.9)
			checker.usage = func(context.Context, string) (*disk.UsageStat, error) {
				stat := tt.stat
				return &stat, nil
			}

			err := checker.Check(context.Background())
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantDegraded, IsDegraded(err))
		})
	}
}

func TestDiskCheckerRealPath(t *testing.T) {
	checker := NewDiskChecker(t.TempDir(), 1.01)
	checker.minFree = 0
	assert.NoError(t, checker.Check(context.Background()))
	assert.Contains(t, checker.Details(context.Background()), "free_bytes")
}

func TestToolChecker(t *testing.T) {
	t.Run("missing required tool is down", func(t *testing.T) {
		checker := NewToolChecker("ffmpeg", "/nonexistent/ffmpeg", false)
		err := checker.Check(context.Background())
		require.Error(t, err)
		assert.False(t, IsDegraded(err))
	})

	t.Run("missing optional tool is degraded", func(t *testing.T) {
		checker := NewToolChecker("yt-dlp", "/nonexistent/yt-dlp", true, "--version")
		assert.True(t, IsDegraded(checker.Check(context.Background())))
	})

	t.Run("unconfigured", func(t *testing.T) {
		assert.Error(t, NewToolChecker("ffprobe", "", false).Check(context.Background()))
	})

	t.Run("runs the binary", func(t *testing.T) {
		checker := NewToolChecker("sh", "sh", false, "-c", "echo sh version 1")
		assert.NoError(t, checker.Check(context.Background()))

		checker.run = func(context.Context, string, ...string) ([]byte, error) {
			return nil, errors.New("exit status 1")
		}
		assert.Error(t, checker.Check(context.Background()))
	})
}

func TestPingChecker(t *testing.T) {
	checker := NewPingChecker("history", func(context.Context) error { return errors.New("database is locked") })
	assert.Equal(t, "history", checker.Name())
	assert.EqualError(t, checker.Check(context.Background()), "database is locked")
}
