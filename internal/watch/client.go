// Package watch is a terminal dashboard for the live stats feed.
package watch

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"

	"github.com/zsiec/vehiclecount/internal/api"
	"github.com/zsiec/vehiclecount/internal/backoff"
)

var errNotConnected = errors.New("not connected")

const (
	pongTimeout = 60 * time.Second
	dialTimeout = 5 * time.Second
)

// ConnectedMsg is sent when the websocket connects.
type ConnectedMsg struct{}

// DisconnectedMsg is sent when the connection drops.
type DisconnectedMsg struct{ Err error }

// DialFailedMsg reports a failed connection attempt before the next retry.
type DialFailedMsg struct {
	Err   error
	Retry time.Duration
}

// FeedMsg delivers one stats push.
type FeedMsg api.FeedMessage

// Client follows the server's stats feed and reconnects with backoff.
type Client struct {
	url    string
	dialer *websocket.Dialer
	retry  backoff.Strategy

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewClient(url string) *Client {
	return &Client{
		url:    url,
		dialer: &websocket.Dialer{HandshakeTimeout: dialTimeout},
		retry:  backoff.NewExponentialBackoff(time.Second, 30*time.Second, 2, 0),
	}
}

// SetTLSConfig sets the TLS configuration used for wss:// URLs.
func (c *Client) SetTLSConfig(cfg *tls.Config) {
	c.dialer.TLSClientConfig = cfg
}

// Connect dials once. On failure it waits out the backoff delay and reports
// DialFailedMsg so the caller can show the error and try again.
func (c *Client) Connect(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		conn, resp, err := c.dialer.DialContext(ctx, c.url, nil)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err != nil {
			delay, _ := c.retry.NextDelay()
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
			return DialFailedMsg{Err: err, Retry: delay}
		}

		c.retry.Reset()
		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		return ConnectedMsg{}
	}
}

// Read waits for the next feed message.
func (c *Client) Read() tea.Cmd {
	return func() tea.Msg {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return DisconnectedMsg{Err: errNotConnected}
		}

		conn.SetPingHandler(func(data string) error {
			_ = conn.SetReadDeadline(time.Now().Add(pongTimeout))
			err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
			if errors.Is(err, websocket.ErrCloseSent) {
				return nil
			}
			return err
		})

		for {
			_ = conn.SetReadDeadline(time.Now().Add(pongTimeout))
			_, data, err := conn.ReadMessage()
			if err != nil {
				c.drop(conn)
				return DisconnectedMsg{Err: err}
			}

			var msg api.FeedMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			return FeedMsg(msg)
		}
	}
}

func (c *Client) drop(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	conn.Close()
}

// Close ends the current connection.
func (c *Client) Close() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	}
}
