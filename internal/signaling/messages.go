package signaling

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
)

type messageType string

// Client -> server.
const (
	messageTypeJoinRoom  messageType = "join-room"
	messageTypeOffer     messageType = "offer"
	messageTypeAnswer    messageType = "answer"
	messageTypeCandidate messageType = "ice-candidate"
	messageTypeLeaveRoom messageType = "leave-room"
)

// Server -> client.
const (
	messageTypeRoomFull    messageType = "room-full"
	messageTypeUserJoining messageType = "user-joining"
	messageTypeReady       messageType = "ready"
	messageTypeUserLeft    messageType = "user-left"
	messageTypeError       messageType = "error"
)

// Message is the single JSON envelope for every signaling event in both
// directions. Unused fields are omitted on the wire, so a forwarded offer
// looks exactly like {"type":"offer","offer":{...}}.
type Message struct {
	Type   messageType `json:"type"`
	RoomID string      `json:"roomId,omitempty"`

	// join-room request fields.
	UserName string `json:"userName,omitempty"`
	UserRole string `json:"userRole,omitempty"`

	// Relay payloads, forwarded byte-for-byte without interpretation.
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`

	// user-joining notification fields.
	CallerName string `json:"callerName,omitempty"`
	CallerRole string `json:"callerRole,omitempty"`
	SocketID   string `json:"socketId,omitempty"`

	// error fields (strict validation mode only).
	Code   string `json:"code,omitempty"`
	Reason string `json:"message,omitempty"`
}

// parseMessage decodes an inbound frame. Unknown fields are tolerated: the
// relay is deliberately lenient with clients, and anything it cannot use
// simply degrades to a no-op downstream.
func parseMessage(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, err
	}
	if msg.Type == "" {
		return Message{}, fmt.Errorf("message missing type")
	}
	return msg, nil
}

// isRelayType reports whether the message carries a negotiation payload to
// forward to the other room member.
func (m Message) isRelayType() bool {
	switch m.Type {
	case messageTypeOffer, messageTypeAnswer, messageTypeCandidate:
		return true
	}
	return false
}

// forward strips the room envelope and returns the message as delivered to
// the peer: type plus the untouched payload.
func (m Message) forward() Message {
	out := Message{Type: m.Type}
	switch m.Type {
	case messageTypeOffer:
		out.Offer = m.Offer
	case messageTypeAnswer:
		out.Answer = m.Answer
	case messageTypeCandidate:
		out.Candidate = m.Candidate
	}
	return out
}

// validateRelayPayload enforces strict-mode payload shape: offers and answers
// must decode as SDP session descriptions of the matching type, candidates as
// non-empty ICE candidate inits. The payload itself is still forwarded
// verbatim; validation never rewrites it.
func validateRelayPayload(m Message) error {
	switch m.Type {
	case messageTypeOffer, messageTypeAnswer:
		raw := m.Offer
		want := webrtc.SDPTypeOffer
		if m.Type == messageTypeAnswer {
			raw = m.Answer
			want = webrtc.SDPTypeAnswer
		}
		if len(raw) == 0 {
			return fmt.Errorf("%s message missing payload", m.Type)
		}
		var desc webrtc.SessionDescription
		if err := json.Unmarshal(raw, &desc); err != nil {
			return fmt.Errorf("%s payload is not a session description: %w", m.Type, err)
		}
		if desc.SDP == "" {
			return fmt.Errorf("%s payload has empty sdp", m.Type)
		}
		// Clients may send a bare {"sdp": "..."} without the type field; only
		// an explicitly mismatched type is rejected.
		if desc.Type != webrtc.SDPType(0) && desc.Type != want {
			return fmt.Errorf("%s payload has sdp type %q", m.Type, desc.Type)
		}
	case messageTypeCandidate:
		if len(m.Candidate) == 0 {
			return fmt.Errorf("%s message missing payload", m.Type)
		}
		var init webrtc.ICECandidateInit
		if err := json.Unmarshal(m.Candidate, &init); err != nil {
			return fmt.Errorf("%s payload is not an ICE candidate: %w", m.Type, err)
		}
		if init.Candidate == "" {
			return fmt.Errorf("%s payload has empty candidate", m.Type)
		}
	}
	return nil
}
