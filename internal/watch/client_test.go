package watch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/vehiclecount/internal/api"
	"github.com/zsiec/vehiclecount/internal/backoff"
	"github.com/zsiec/vehiclecount/internal/session"
)

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestClientReceivesSnapshot(t *testing.T) {
	feed := api.NewFeed(func() []session.Stats {
		return []session.Stats{{Slot: 1, Status: session.StatusRunning}}
	}, time.Hour, nil, nil)
	srv := httptest.NewServer(feed)
	defer srv.Close()

	c := NewClient(wsURL(srv.URL))
	defer c.Close()

	msg := c.Connect(context.Background())()
	require.IsType(t, ConnectedMsg{}, msg)

	msg = c.Read()()
	feedMsg, ok := msg.(FeedMsg)
	require.True(t, ok, "got %T", msg)
	assert.Equal(t, "snapshot", feedMsg.Type)
	require.Len(t, feedMsg.Sessions, 1)
	assert.Equal(t, session.StatusRunning, feedMsg.Sessions[0].Status)
}

func TestClientReportsDisconnect(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = conn.WriteJSON(api.FeedMessage{Type: "snapshot"})
		conn.Close()
	}))
	defer srv.Close()

	c := NewClient(wsURL(srv.URL))
	require.IsType(t, ConnectedMsg{}, c.Connect(context.Background())())
	require.IsType(t, FeedMsg{}, c.Read()())

	msg := c.Read()()
	require.IsType(t, DisconnectedMsg{}, msg)
	assert.Error(t, msg.(DisconnectedMsg).Err)

	msg = c.Read()()
	assert.IsType(t, DisconnectedMsg{}, msg)
}

func TestClientDialFailureBacksOff(t *testing.T) {
	srv := httptest.NewServer(nil)
	url := wsURL(srv.URL)
	srv.Close()

	c := NewClient(url)
	c.retry = backoff.NewExponentialBackoff(time.Millisecond, 4*time.Millisecond, 2, 0)

	msg := c.Connect(context.Background())()
	failed, ok := msg.(DialFailedMsg)
	require.True(t, ok, "got %T", msg)
	assert.Error(t, failed.Err)
	assert.Greater(t, failed.Retry, time.Duration(0))
}

func TestClientDialStopsOnCancel(t *testing.T) {
	srv := httptest.NewServer(nil)
	url := wsURL(srv.URL)
	srv.Close()

	c := NewClient(url)
	c.retry = backoff.NewExponentialBackoff(time.Hour, time.Hour, 2, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Nil(t, c.Connect(ctx)())
}
