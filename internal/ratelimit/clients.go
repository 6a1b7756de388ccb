package ratelimit

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	apperrors "github.com/zsiec/vehiclecount/internal/errors"
	"github.com/zsiec/vehiclecount/internal/metrics"
)

// ClientLimiter gives every client address its own token bucket. Buckets
// idle for longer than the idle window are forgotten. The client address is
// the connection peer; forwarding headers are read only when the peer is a
// trusted proxy.
type ClientLimiter struct {
	limit   rate.Limit
	burst   int
	idle    time.Duration
	now     func() time.Time
	trusted []*net.IPNet

	mu        sync.Mutex
	clients   map[string]*client
	lastSweep time.Time
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewClientLimiter(perSecond float64, burst int, trustedProxies []*net.IPNet) *ClientLimiter {
	if burst < 1 {
		burst = 1
	}
	return &ClientLimiter{
		limit:     rate.Limit(perSecond),
		burst:     burst,
		idle:      5 * time.Minute,
		now:       time.Now,
		trusted:   trustedProxies,
		clients:   make(map[string]*client),
		lastSweep: time.Now(),
	}
}

// Allow spends one token from key's bucket.
func (c *ClientLimiter) Allow(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if now.Sub(c.lastSweep) > c.idle {
		for k, cl := range c.clients {
			if now.Sub(cl.lastSeen) > c.idle {
				delete(c.clients, k)
			}
		}
		c.lastSweep = now
	}

	cl, ok := c.clients[key]
	if !ok {
		cl = &client{limiter: rate.NewLimiter(c.limit, c.burst)}
		c.clients[key] = cl
	}
	cl.lastSeen = now
	return cl.limiter.AllowN(now, 1)
}

// Len returns the number of tracked clients.
func (c *ClientLimiter) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.clients)
}

// Middleware rejects requests over the client's rate with 429.
func (c *ClientLimiter) Middleware(errs *apperrors.ErrorHandler) func(http.Handler) http.Handler {
	retryAfter := "1"
	if c.limit > 0 && c.limit < 1 {
		retryAfter = strconv.Itoa(int(1/float64(c.limit)) + 1)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if c.Allow(c.clientKey(r)) {
				next.ServeHTTP(w, r)
				return
			}
			metrics.RecordRateLimited("client")
			w.Header().Set("Retry-After", retryAfter)
			errs.HandleError(w, r, apperrors.NewRateLimitError("Too many requests"))
		})
	}
}

// ParseTrustedProxies accepts IP addresses and CIDR ranges.
func ParseTrustedProxies(entries []string) ([]*net.IPNet, error) {
	nets := make([]*net.IPNet, 0, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if !strings.Contains(e, "/") {
			ip := net.ParseIP(e)
			if ip == nil {
				return nil, fmt.Errorf("invalid trusted proxy %q", e)
			}
			bits := 8 * net.IPv4len
			if ip.To4() == nil {
				bits = 8 * net.IPv6len
			}
			nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, n, err := net.ParseCIDR(e)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", e, err)
		}
		nets = append(nets, n)
	}
	return nets, nil
}

func (c *ClientLimiter) isTrusted(ip net.IP) bool {
	for _, n := range c.trusted {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// clientKey is the peer address. Behind a trusted proxy it is the nearest
// untrusted hop of X-Forwarded-For, then X-Real-IP.
func (c *ClientLimiter) clientKey(r *http.Request) string {
	peer := r.RemoteAddr
	if host, _, err := net.SplitHostPort(peer); err == nil {
		peer = host
	}

	peerIP := net.ParseIP(peer)
	if peerIP == nil || !c.isTrusted(peerIP) {
		return peer
	}

	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		ip := net.ParseIP(strings.TrimSpace(hops[i]))
		if ip == nil {
			continue
		}
		if !c.isTrusted(ip) {
			return ip.String()
		}
	}
	if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
		return ip.String()
	}
	return peer
}
