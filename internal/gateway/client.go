package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/FlyingWhaleisME/where-to-next-sub000/internal/auth"
	"github.com/FlyingWhaleisME/where-to-next-sub000/internal/metrics"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Client is one live WebSocket connection.
type Client struct {
	id      string
	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	closeMu sync.Mutex
	closed  bool
	gw      *Gateway
	limiter *rateLimiter
}

// ID returns the connection id.
func (c *Client) ID() string {
	return c.id
}

// Send queues a payload for delivery. Returns false when the connection is
// closed or its outbound queue is full; the caller treats both as a
// best-effort drop.
func (c *Client) Send(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// Close tears down the connection. The read pump observes the closed
// socket and runs the disconnect path.
func (c *Client) Close() {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.conn.Close()
}

// ServeWS upgrades the HTTP request, authenticates the token from the
// query string, and starts the connection's pumps. Authentication happens
// before any message channel exists: a rejected socket is closed with a
// policy-violation code and never reaches the dispatcher.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     g.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	ident, err := g.verifier.Verify(ctx, r.URL.Query().Get("token"))
	if err != nil {
		metrics.AuthFailures.Inc()
		reason := "authentication failed"
		if errors.Is(err, auth.ErrUnauthenticated) {
			reason = err.Error()
		} else {
			g.log.Error().Err(err).Msg("credential verification error")
		}

		deadline := time.Now().Add(writeWait)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), deadline)
		conn.Close()
		return
	}

	client := &Client{
		id:      uuid.Must(uuid.NewV7()).String(),
		conn:    conn,
		send:    make(chan []byte, g.cfg.SendBuffer),
		done:    make(chan struct{}),
		gw:      g,
		limiter: newRateLimiter(g.cfg.RateLimitBurst, g.cfg.RateLimitRefill),
	}
	conn.SetReadLimit(g.cfg.MaxMessageSize)

	g.Connect(client, ident)

	go client.writePump()
	go client.readPump()
}

// checkOrigin enforces the configured origin allowlist. An empty list
// allows all origins (dev default).
func (g *Gateway) checkOrigin(r *http.Request) bool {
	if len(g.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true // non-browser client
	}
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}
	normalized := strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host)
	for _, allowed := range g.cfg.AllowedOrigins {
		if allowed == "*" || strings.ToLower(allowed) == normalized {
			return true
		}
	}
	return false
}

// readPump processes inbound frames in receipt order. Each frame is
// handled to completion before the next one is read; the disconnect path
// runs before the connection's resources are released.
func (c *Client) readPump() {
	defer func() {
		c.gw.Disconnect(c)
		close(c.done)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure) {
				c.gw.log.Warn().Err(err).Str("conn_id", c.id).Msg("websocket read error")
			}
			return
		}

		if !c.limiter.allow() {
			c.gw.log.Warn().Str("conn_id", c.id).Msg("rate limit exceeded; discarding frame")
			continue
		}

		c.gw.HandleFrame(context.Background(), c, raw)
	}
}

// writePump drains the outbound queue and keeps the connection alive with
// periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case payload := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
