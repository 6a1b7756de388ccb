package health

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockChecker is a configurable Checker for tests
type mockChecker struct {
	name  string
	err   error
	delay time.Duration
}

func (m *mockChecker) Name() string {
	return m.name
}

func (m *mockChecker) Check(ctx context.Context) error {
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return m.err
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestManager(t *testing.T) {
	logger := testLogger()

	t.Run("Register and RunChecks", func(t *testing.T) {
		manager := NewManager(logger)
		manager.Register(&mockChecker{name: "ffmpeg"})
		manager.Register(&mockChecker{name: "redis", err: errors.New("connection refused")})
		manager.Register(&mockChecker{name: "yt-dlp", err: Degraded(errors.New("not found"))})

		results := manager.RunChecks(context.Background())
		require.Len(t, results, 3)

		assert.Equal(t, StatusOK, results["ffmpeg"].Status)
		assert.Empty(t, results["ffmpeg"].Message)

		assert.Equal(t, StatusDown, results["redis"].Status)
		assert.Contains(t, results["redis"].Message, "connection refused")

		assert.Equal(t, StatusDegraded, results["yt-dlp"].Status)
		assert.Equal(t, "not found", results["yt-dlp"].Message)
	})

	t.Run("GetResults returns copies", func(t *testing.T) {
		manager := NewManager(logger)
		manager.Register(&mockChecker{name: "history"})
		manager.RunChecks(context.Background())

		results := manager.GetResults()
		require.Contains(t, results, "history")
		results["history"].Status = StatusDown

		assert.Equal(t, StatusOK, manager.GetResults()["history"].Status)
	})

	t.Run("GetOverallStatus", func(t *testing.T) {
		tests := []struct {
			name     string
			checkers []Checker
			want     Status
		}{
			{
				name:     "all healthy",
				checkers: []Checker{&mockChecker{name: "c1"}, &mockChecker{name: "c2"}},
				want:     StatusOK,
			},
			{
				name: "one degraded",
				checkers: []Checker{
					&mockChecker{name: "c1"},
					&mockChecker{name: "c2", err: Degraded(errors.New("slow"))},
				},
				want: StatusDegraded,
			},
			{
				name: "down wins over degraded",
				checkers: []Checker{
					&mockChecker{name: "c1", err: errors.New("error")},
					&mockChecker{name: "c2", err: Degraded(errors.New("slow"))},
				},
				want: StatusDown,
			},
			{
				name: "no checkers",
				want: StatusDown,
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				manager := NewManager(logger)
				for _, checker := range tt.checkers {
					manager.Register(checker)
				}
				if len(tt.checkers) > 0 {
					manager.RunChecks(context.Background())
				}
				assert.Equal(t, tt.want, manager.GetOverallStatus())
			})
		}
	})

	t.Run("Timeout handling", func(t *testing.T) {
		manager := NewManager(logger)
		manager.Register(&mockChecker{name: "detector", delay: 10 * time.Second})

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		start := time.Now()
		results := manager.RunChecks(ctx)
		assert.Less(t, time.Since(start), 2*time.Second)

		check := results["detector"]
		require.NotNil(t, check)
		assert.Equal(t, StatusDown, check.Status)
		assert.Contains(t, check.Message, "timed out")
	})
}

func TestDegraded(t *testing.T) {
	base := errors.New("disk nearly full")
	err := Degraded(base)

	assert.True(t, IsDegraded(err))
	assert.ErrorIs(t, err, base)
	assert.False(t, IsDegraded(base))
	assert.NoError(t, Degraded(nil))
}

func TestStartPeriodicChecks(t *testing.T) {
	manager := NewManager(testLogger())

	runs := make(chan struct{}, 16)
	manager.Register(NewPingChecker("counter", func(ctx context.Context) error {
		select {
		case runs <- struct{}{}:
		default:
		}
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		manager.StartPeriodicChecks(ctx, 20*time.Millisecond)
		close(done)
	}()

	for i := 0; i < 3; i++ {
		select {
		case <-runs:
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d periodic checks ran", i)
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("periodic checks did not stop")
	}
}

func TestCheckDurationTracking(t *testing.T) {
	manager := NewManager(testLogger())
	manager.Register(&mockChecker{name: "delayed", delay: 50 * time.Millisecond})

	check := manager.RunChecks(context.Background())["delayed"]
	require.NotNil(t, check)
	assert.GreaterOrEqual(t, check.Duration, 50*time.Millisecond)
	assert.GreaterOrEqual(t, check.DurationMS, float64(50))
}
