package signaling

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/carelink-health/signaling-relay/internal/config"
	"github.com/carelink-health/signaling-relay/internal/origin"
	"github.com/carelink-health/signaling-relay/internal/ratelimit"
)

// Server implements GET /ws: it upgrades the connection, assigns it an
// identity and hands it to the hub.
type Server struct {
	cfg config.Config
	hub *Hub
	log *slog.Logger

	upgrader websocket.Upgrader
}

func NewServer(cfg config.Config, hub *Hub, logger *slog.Logger) *Server {
	s := &Server{
		cfg: cfg,
		hub: hub,
		log: logger,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	originHeader := strings.TrimSpace(r.Header.Get("Origin"))
	if originHeader == "" {
		// Non-browser clients (native apps, the loopback harness) send no
		// Origin header.
		return true
	}
	normalized, originHost, ok := origin.NormalizeHeader(originHeader)
	if !ok {
		return false
	}
	return origin.IsAllowed(normalized, originHost, r.Host, s.cfg.AllowedOrigins)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		return
	}

	var limiter *ratelimit.Bucket
	if s.cfg.MaxMessagesPerSecond > 0 {
		limiter = ratelimit.NewBucket(ratelimit.RealClock{},
			int64(s.cfg.MaxMessagesPerSecond), int64(s.cfg.MaxMessagesPerSecond))
	}

	c := &Client{
		hub:  s.hub,
		conn: conn,
		id:   uuid.NewString(),
		log:  s.log,

		send:    make(chan Message, s.cfg.SendBufferMessages),
		limiter: limiter,

		idleTimeout:  s.cfg.WSIdleTimeout,
		pingInterval: s.cfg.WSPingInterval,
		maxBytes:     s.cfg.MaxMessageBytes,
	}

	if !s.hub.registerClient(c) {
		_ = conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}
