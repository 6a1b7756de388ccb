package watch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/vehiclecount/internal/api"
	"github.com/zsiec/vehiclecount/internal/session"
)

func TestFetchStreams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/streams", r.URL.Path)
		_ = json.NewEncoder(w).Encode(api.StreamListResponse{
			Streams: []session.Stats{runningStats(1), {Slot: 2, Status: session.StatusIdle}},
			Count:   2,
			Time:    time.Now(),
		})
	}))
	defer srv.Close()

	list, err := FetchStreams(context.Background(), srv.Client(), srv.URL+"/")
	require.NoError(t, err)
	assert.Equal(t, 2, list.Count)
	require.Len(t, list.Streams, 2)
	assert.Equal(t, 12, list.Streams[0].Counts["car"])
}

func TestFetchStreamsBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := FetchStreams(context.Background(), srv.Client(), srv.URL)
	assert.ErrorContains(t, err, "503")
}

func TestSummary(t *testing.T) {
	out := Summary(&api.StreamListResponse{
		Streams: []session.Stats{runningStats(1)},
	})
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "sid"))
	assert.Contains(t, lines[1], "running")
	assert.Contains(t, lines[1], "rtsp://camera/main")
	assert.Contains(t, lines[1], "12")
}
