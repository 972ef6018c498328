package signaling

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/carelink-health/signaling-relay/internal/config"
	"github.com/carelink-health/signaling-relay/internal/metrics"
	"github.com/carelink-health/signaling-relay/internal/rooms"
)

// ErrHubClosed is returned by Snapshot once the hub's control loop has exited.
var ErrHubClosed = errors.New("signaling: hub closed")

type event struct {
	client *Client
	msg    Message
}

// Hub is the relay's control plane. One goroutine (Run) owns the room and
// participant directories and processes every register, unregister, inbound
// message and snapshot request in arrival order, which serializes all state
// mutations without locks.
type Hub struct {
	log     *slog.Logger
	metrics *metrics.Metrics
	cfg     config.Config

	// Owned exclusively by the Run goroutine.
	rooms        *rooms.Directory
	participants *rooms.Participants
	clients      map[string]*Client

	register   chan *Client
	unregister chan *Client
	inbound    chan event
	snapshots  chan chan rooms.Snapshot

	done chan struct{}

	// now is swappable so waiting-room expiry is testable.
	now func() time.Time
}

func NewHub(cfg config.Config, logger *slog.Logger, m *metrics.Metrics) *Hub {
	if m == nil {
		m = metrics.New()
	}
	return &Hub{
		log:     logger,
		metrics: m,
		cfg:     cfg,

		rooms:        rooms.NewDirectory(),
		participants: rooms.NewParticipants(),
		clients:      make(map[string]*Client),

		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan event),
		snapshots:  make(chan chan rooms.Snapshot),

		done: make(chan struct{}),
		now:  time.Now,
	}
}

// Run processes events until ctx is cancelled. It must be called exactly once.
func (h *Hub) Run(ctx context.Context) {
	var sweep <-chan time.Time
	if h.cfg.WaitingRoomTTL > 0 {
		interval := h.cfg.WaitingRoomTTL / 2
		if interval > 10*time.Second {
			interval = 10 * time.Second
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		sweep = ticker.C
	}

	defer h.shutdown()

	for {
		select {
		case c := <-h.register:
			h.clients[c.id] = c
			h.metrics.Inc(metrics.Connections)
			h.log.Debug("client connected", "conn_id", c.id)

		case c := <-h.unregister:
			h.handleDisconnect(c)

		case ev := <-h.inbound:
			h.dispatch(ev.client, ev.msg)

		case reply := <-h.snapshots:
			reply <- h.rooms.Snapshot()

		case <-sweep:
			h.expireWaiters()

		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) shutdown() {
	close(h.done)
	for id, c := range h.clients {
		delete(h.clients, id)
		close(c.send)
	}
	h.log.Info("signaling hub stopped")
}

// Snapshot returns a point-in-time copy of the room directory. It is safe to
// call from any goroutine; the request is serviced by the control loop.
func (h *Hub) Snapshot(ctx context.Context) (rooms.Snapshot, error) {
	reply := make(chan rooms.Snapshot, 1)
	select {
	case h.snapshots <- reply:
	case <-h.done:
		return nil, ErrHubClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case snap := <-reply:
		return snap, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// registerClient hands a freshly upgraded connection to the control loop.
// It reports false when the hub has already stopped.
func (h *Hub) registerClient(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) unregisterClient(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// dispatchMessage feeds an inbound client message into the control loop.
// It reports false when the hub has already stopped.
func (h *Hub) dispatchMessage(c *Client, msg Message) bool {
	select {
	case h.inbound <- event{client: c, msg: msg}:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) dispatch(c *Client, msg Message) {
	if _, live := h.clients[c.id]; !live {
		// Message raced with the client's own disconnect cleanup.
		return
	}

	switch {
	case msg.Type == messageTypeJoinRoom:
		h.handleJoin(c, msg)
	case msg.isRelayType():
		h.handleRelay(c, msg)
	case msg.Type == messageTypeLeaveRoom:
		h.handleLeave(c, msg.RoomID)
	default:
		h.metrics.Inc(metrics.BadMessage)
		h.log.Debug("unknown message type", "conn_id", c.id, "type", msg.Type)
	}
}

// handleJoin runs the two-slot rendezvous. The existing occupant is told
// about the newcomer (user-joining) before the newcomer is admitted; once the
// room reaches two members every member gets a ready signal to start
// offer/answer negotiation.
func (h *Hub) handleJoin(c *Client, msg Message) {
	roomID := msg.RoomID
	if roomID == "" {
		h.rejectStrict(c, "bad_message", "join-room missing roomId")
		return
	}

	// A connection sits in at most one room; joining a different room
	// implicitly leaves the current one first.
	if rec, ok := h.participants.Lookup(c.id); ok && rec.RoomID != roomID {
		h.leaveRoom(c.id, rec.RoomID, rec)
		h.participants.Remove(c.id)
	}

	occupants := h.rooms.Members(roomID)
	if len(occupants) >= rooms.MaxMembers && !h.rooms.Contains(roomID, c.id) {
		h.metrics.Inc(metrics.RoomFullRejected)
		h.log.Info("join refused, room full", "room_id", roomID, "conn_id", c.id)
		h.send(c, Message{Type: messageTypeRoomFull})
		return
	}

	// Notify the waiting occupant before formally admitting the newcomer.
	for _, id := range occupants {
		if id == c.id {
			continue
		}
		if peer, ok := h.clients[id]; ok {
			h.send(peer, Message{
				Type:       messageTypeUserJoining,
				RoomID:     roomID,
				CallerName: msg.UserName,
				CallerRole: msg.UserRole,
				SocketID:   c.id,
			})
		}
	}

	created := h.rooms.MemberCount(roomID) == 0
	joined, count := h.rooms.TryJoin(roomID, c.id)
	if !joined {
		h.metrics.Inc(metrics.RoomFullRejected)
		h.send(c, Message{Type: messageTypeRoomFull})
		return
	}
	if created {
		h.metrics.Inc(metrics.RoomsCreated)
	}

	h.participants.Register(c.id, rooms.Participant{
		Name:     msg.UserName,
		Role:     msg.UserRole,
		RoomID:   roomID,
		JoinedAt: h.now(),
	})
	h.metrics.Inc(metrics.Joins)
	h.log.Info("participant joined",
		"room_id", roomID,
		"conn_id", c.id,
		"user_name", msg.UserName,
		"user_role", msg.UserRole,
		"occupants", count,
	)

	if count == rooms.MaxMembers {
		for _, id := range h.rooms.Members(roomID) {
			if peer, ok := h.clients[id]; ok {
				h.send(peer, Message{Type: messageTypeReady})
			}
		}
	}
}

// handleRelay forwards an opaque negotiation payload to every other member of
// the named room. Fire-and-forget: with no peer present the message is
// silently dropped, and negotiation is expected to restart if a peer dropped
// mid-handshake.
func (h *Hub) handleRelay(c *Client, msg Message) {
	if h.cfg.RelayValidation == config.ValidationStrict {
		if msg.RoomID == "" || !h.rooms.Contains(msg.RoomID, c.id) {
			h.metrics.Inc(metrics.StrictRejected)
			h.rejectStrict(c, "not_in_room", "sender is not a member of the room")
			return
		}
		if err := validateRelayPayload(msg); err != nil {
			h.metrics.Inc(metrics.StrictRejected)
			h.rejectStrict(c, "bad_payload", err.Error())
			return
		}
	}

	delivered := 0
	for _, id := range h.rooms.Members(msg.RoomID) {
		if id == c.id {
			continue
		}
		if peer, ok := h.clients[id]; ok {
			h.send(peer, msg.forward())
			delivered++
		}
	}
	if delivered == 0 {
		h.metrics.Inc(metrics.RelayDropped)
		h.log.Debug("relay had no recipient", "room_id", msg.RoomID, "type", msg.Type)
		return
	}
	h.metrics.Inc(metrics.RelayForwarded)
}

// handleLeave processes an explicit leave-room. Leaving a room the connection
// is not in is a benign no-op.
func (h *Hub) handleLeave(c *Client, roomID string) {
	rec, hasRec := h.participants.Lookup(c.id)
	if !h.leaveRoom(c.id, roomID, rec) {
		return
	}
	h.metrics.Inc(metrics.Leaves)
	if hasRec && rec.RoomID == roomID {
		h.participants.Remove(c.id)
	}
	h.log.Info("participant left", "room_id", roomID, "conn_id", c.id)
}

// handleDisconnect cleans up after a connection goes away, gracefully or
// abruptly. The participant record gives O(1) access to the room to clean,
// instead of sweeping the whole directory.
func (h *Hub) handleDisconnect(c *Client) {
	if _, live := h.clients[c.id]; !live {
		return
	}
	delete(h.clients, c.id)

	if rec, ok := h.participants.Lookup(c.id); ok {
		h.leaveRoom(c.id, rec.RoomID, rec)
		h.participants.Remove(c.id)
	}

	close(c.send)
	h.metrics.Inc(metrics.Disconnects)
	h.log.Debug("client disconnected", "conn_id", c.id)
}

// leaveRoom removes connID from roomID and notifies the remaining member.
// The user-left notification is best-effort: when the participant record was
// already gone it goes out with the name and role fields absent rather than
// being suppressed.
func (h *Hub) leaveRoom(connID, roomID string, rec rooms.Participant) bool {
	removed, deleted := h.rooms.Leave(roomID, connID)
	if !removed {
		return false
	}
	if deleted {
		h.metrics.Inc(metrics.RoomsDeleted)
		h.log.Info("room deleted", "room_id", roomID)
		return true
	}
	for _, id := range h.rooms.Members(roomID) {
		if peer, ok := h.clients[id]; ok {
			h.send(peer, Message{
				Type:     messageTypeUserLeft,
				UserName: rec.Name,
				UserRole: rec.Role,
			})
		}
	}
	return true
}

// expireWaiters evicts lone participants whose peer never showed up within
// WaitingRoomTTL.
func (h *Hub) expireWaiters() {
	ttl := h.cfg.WaitingRoomTTL
	now := h.now()

	type eviction struct {
		connID string
		rec    rooms.Participant
	}
	var evict []eviction
	h.participants.Each(func(connID string, rec rooms.Participant) {
		if rec.RoomID == "" || now.Sub(rec.JoinedAt) < ttl {
			return
		}
		if h.rooms.MemberCount(rec.RoomID) == 1 && h.rooms.Contains(rec.RoomID, connID) {
			evict = append(evict, eviction{connID: connID, rec: rec})
		}
	})

	for _, e := range evict {
		h.leaveRoom(e.connID, e.rec.RoomID, e.rec)
		h.participants.Remove(e.connID)
		h.metrics.Inc(metrics.WaitingExpired)
		h.log.Info("waiting participant expired", "room_id", e.rec.RoomID, "conn_id", e.connID)
		if c, ok := h.clients[e.connID]; ok {
			h.send(c, Message{Type: messageTypeError, Code: "waiting_expired", Reason: "no peer joined before the waiting-room timeout"})
		}
	}
}

// rejectStrict reports a validation failure to the offending client in strict
// mode. Permissive mode degrades to a silent no-op.
func (h *Hub) rejectStrict(c *Client, code, reason string) {
	if h.cfg.RelayValidation != config.ValidationStrict {
		return
	}
	h.send(c, Message{Type: messageTypeError, Code: code, Reason: reason})
}

// send enqueues a message without blocking the control loop. A client whose
// send buffer is full loses the message; delivery here is fire-and-forget.
func (h *Hub) send(c *Client, msg Message) {
	select {
	case c.send <- msg:
	default:
		h.metrics.Inc(metrics.SendOverflow)
		h.log.Warn("send buffer full, dropping message", "conn_id", c.id, "type", msg.Type)
	}
}
