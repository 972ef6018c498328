package signaling

import (
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/carelink-health/signaling-relay/internal/metrics"
	"github.com/carelink-health/signaling-relay/internal/ratelimit"
)

const writeWait = 1 * time.Second

// Client wraps one WebSocket connection. Its id is the connection identity
// used everywhere else: room membership, participant records, user-joining
// notifications.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	id   string
	log  *slog.Logger

	// send is drained by writePump; the hub closes it on disconnect.
	send chan Message

	limiter *ratelimit.Bucket

	idleTimeout  time.Duration
	pingInterval time.Duration
	maxBytes     int64
}

// readPump reads frames from the connection and feeds them to the hub. It is
// the sole reader of the connection and unregisters the client on exit, which
// makes abrupt transport failures and deliberate leaves take the same
// cleanup path.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregisterClient(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(c.maxBytes)
	if c.idleTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.idleTimeout))
		c.conn.SetPongHandler(func(string) error {
			return c.conn.SetReadDeadline(time.Now().Add(c.idleTimeout))
		})
	}

	for {
		frameType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if c.limiter != nil && !c.limiter.Allow(1) {
			c.hub.metrics.Inc(metrics.RateLimited)
			c.closeWith(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}
		if frameType != websocket.TextMessage {
			c.hub.metrics.Inc(metrics.BadMessage)
			continue
		}

		msg, err := parseMessage(data)
		if err != nil {
			// Malformed input degrades to a no-op; one bad client message is
			// never fatal to the connection.
			c.hub.metrics.Inc(metrics.BadMessage)
			c.log.Debug("dropping malformed message", "conn_id", c.id, "err", err)
			continue
		}

		if !c.hub.dispatchMessage(c, msg) {
			return
		}
	}
}

// writePump is the sole writer of the connection: it drains the send channel
// and keeps the connection alive with periodic pings.
func (c *Client) writePump() {
	var ping <-chan time.Time
	if c.pingInterval > 0 {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}
	defer c.conn.Close()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ping:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) closeWith(code int, reason string) {
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
}
