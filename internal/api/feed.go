package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zsiec/vehiclecount/internal/logger"
	"github.com/zsiec/vehiclecount/internal/metrics"
	"github.com/zsiec/vehiclecount/internal/session"
)

const (
	feedWriteWait  = 10 * time.Second
	feedPongWait   = 60 * time.Second
	feedPingPeriod = (feedPongWait * 9) / 10
	feedSendBuffer = 8
)

// FeedMessage is one push to websocket clients.
type FeedMessage struct {
	Type     string          `json:"type"`
	Sessions []session.Stats `json:"sessions"`
	Time     time.Time       `json:"time"`
}

// feedClient's send channel is never closed; done tells the write pump to
// hang up.
type feedClient struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newFeedClient(conn *websocket.Conn) *feedClient {
	return &feedClient{
		conn: conn,
		send: make(chan []byte, feedSendBuffer),
		done: make(chan struct{}),
	}
}

func (c *feedClient) stop() {
	c.once.Do(func() { close(c.done) })
}

func (c *feedClient) writePump() {
	ticker := time.NewTicker(feedPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Feed pushes every slot's stats to websocket clients on a fixed period.
// Clients that fall behind are disconnected.
type Feed struct {
	snapshot func() []session.Stats
	interval time.Duration
	upgrader websocket.Upgrader
	logger   logger.Logger

	mu      sync.RWMutex
	clients map[*feedClient]struct{}
}

func NewFeed(snapshot func() []session.Stats, interval time.Duration, allowedOrigins []string, log logger.Logger) *Feed {
	f := &Feed{
		snapshot: snapshot,
		interval: interval,
		logger:   logger.OrNull(log).WithField("component", "feed"),
		clients:  make(map[*feedClient]struct{}),
	}
	f.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return f
}

// originChecker allows same-origin requests, requests without an Origin
// header and the listed origins. "*" allows any origin.
func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || set[origin] {
			return true
		}
		u, err := url.Parse(origin)
		return err == nil && u.Host == r.Host
	}
}

// ServeHTTP upgrades the request and registers the client.
func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.WithError(err).Warn("Websocket upgrade failed")
		return
	}

	c := f.add(conn)
	f.logger.WithField("remote_ip", logger.RemoteIP(r)).Info("Feed client connected")

	// Read until the peer goes away; clients send nothing we act on.
	go func() {
		defer func() {
			f.remove(c)
			f.logger.WithField("remote_ip", logger.RemoteIP(r)).Info("Feed client disconnected")
		}()
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(feedPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(feedPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (f *Feed) add(conn *websocket.Conn) *feedClient {
	c := newFeedClient(conn)
	go c.writePump()
	f.register(c)

	if data, err := f.message("snapshot"); err == nil {
		select {
		case c.send <- data:
		default:
		}
	}
	return c
}

func (f *Feed) register(c *feedClient) {
	f.mu.Lock()
	f.clients[c] = struct{}{}
	f.mu.Unlock()
	metrics.IncFeedClients()
}

// remove forgets c and stops its write pump. It is safe to call more than once.
func (f *Feed) remove(c *feedClient) {
	f.mu.Lock()
	_, ok := f.clients[c]
	delete(f.clients, c)
	f.mu.Unlock()

	if ok {
		metrics.DecFeedClients()
	}
	c.stop()
}

func (f *Feed) message(kind string) ([]byte, error) {
	return json.Marshal(FeedMessage{
		Type:     kind,
		Sessions: f.snapshot(),
		Time:     time.Now(),
	})
}

// Run broadcasts until ctx is cancelled, then disconnects every client.
func (f *Feed) Run(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			f.closeAll()
			return
		case <-ticker.C:
			if f.ClientCount() == 0 {
				continue
			}
			f.broadcast()
		}
	}
}

func (f *Feed) broadcast() {
	data, err := f.message("stats")
	if err != nil {
		f.logger.WithError(err).Error("Failed to marshal feed message")
		return
	}

	var slow []*feedClient
	f.mu.RLock()
	for c := range f.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	f.mu.RUnlock()

	for _, c := range slow {
		f.logger.Warn("Feed client too slow, disconnecting")
		f.remove(c)
	}
}

func (f *Feed) closeAll() {
	f.mu.Lock()
	clients := f.clients
	f.clients = make(map[*feedClient]struct{})
	f.mu.Unlock()

	for c := range clients {
		metrics.DecFeedClients()
		c.stop()
	}
}

func (f *Feed) ClientCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.clients)
}
