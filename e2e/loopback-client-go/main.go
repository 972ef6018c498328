// Command loopback-client-go is a manual end-to-end check for a running
// relay. It connects two WebSocket clients to the same room, negotiates a
// real WebRTC data channel between them with every offer, answer and ICE
// candidate travelling through the relay, then verifies a message roundtrip
// over the resulting peer-to-peer channel.
//
// Usage, against a relay started with defaults:
//
//	RELAY_WS_URL=ws://127.0.0.1:5000/ws go run ./e2e/loopback-client-go
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
)

type wireMessage struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId,omitempty"`

	UserName string `json:"userName,omitempty"`
	UserRole string `json:"userRole,omitempty"`

	Offer     *webrtc.SessionDescription `json:"offer,omitempty"`
	Answer    *webrtc.SessionDescription `json:"answer,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`

	CallerName string `json:"callerName,omitempty"`
	SocketID   string `json:"socketId,omitempty"`
	Code       string `json:"code,omitempty"`
	Reason     string `json:"message,omitempty"`
}

type party struct {
	name string
	conn *websocket.Conn
	pc   *webrtc.PeerConnection

	inbound chan wireMessage
}

func main() {
	wsURL := envOrDefault("RELAY_WS_URL", "ws://127.0.0.1:5000/ws")
	roomID := envOrDefault("RELAY_ROOM_ID", fmt.Sprintf("loopback-%d", time.Now().UnixNano()))

	fmt.Printf("relay: %s\nroom:  %s\n", wsURL, roomID)

	caller := dialParty("caller", wsURL)
	defer caller.close()
	callee := dialParty("callee", wsURL)
	defer callee.close()

	// Caller waits alone, then the callee's join triggers the rendezvous.
	caller.sendJSON(wireMessage{Type: "join-room", RoomID: roomID, UserName: "caller", UserRole: "doctor"})
	caller.expectNothingFor(200 * time.Millisecond)
	callee.sendJSON(wireMessage{Type: "join-room", RoomID: roomID, UserName: "callee", UserRole: "patient"})

	joining := caller.expect("user-joining")
	if joining.CallerName != "callee" {
		fatalf("user-joining callerName = %q, want callee", joining.CallerName)
	}
	caller.expect("ready")
	callee.expect("ready")
	fmt.Println("rendezvous: ok")

	opened := make(chan *webrtc.DataChannel, 1)
	echoed := make(chan string, 1)

	caller.pc = newPeerConnection()
	callee.pc = newPeerConnection()
	defer caller.pc.Close()
	defer callee.pc.Close()

	caller.trickleTo(roomID)
	callee.trickleTo(roomID)

	dc, err := caller.pc.CreateDataChannel("loopback", nil)
	if err != nil {
		fatalf("create data channel: %v", err)
	}
	dc.OnOpen(func() {
		_ = dc.SendText("ping")
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		echoed <- string(msg.Data)
	})
	callee.pc.OnDataChannel(func(ch *webrtc.DataChannel) {
		ch.OnMessage(func(msg webrtc.DataChannelMessage) {
			_ = ch.SendText(string(msg.Data))
		})
		opened <- ch
	})

	offer, err := caller.pc.CreateOffer(nil)
	if err != nil {
		fatalf("create offer: %v", err)
	}
	if err := caller.pc.SetLocalDescription(offer); err != nil {
		fatalf("set local offer: %v", err)
	}
	caller.sendJSON(wireMessage{Type: "offer", RoomID: roomID, Offer: &offer})

	relayedOffer := callee.expect("offer")
	if relayedOffer.Offer == nil {
		fatalf("relayed offer missing payload")
	}
	if err := callee.pc.SetRemoteDescription(*relayedOffer.Offer); err != nil {
		fatalf("set remote offer: %v", err)
	}
	answer, err := callee.pc.CreateAnswer(nil)
	if err != nil {
		fatalf("create answer: %v", err)
	}
	if err := callee.pc.SetLocalDescription(answer); err != nil {
		fatalf("set local answer: %v", err)
	}
	callee.sendJSON(wireMessage{Type: "answer", RoomID: roomID, Answer: &answer})

	relayedAnswer := caller.expect("answer")
	if relayedAnswer.Answer == nil {
		fatalf("relayed answer missing payload")
	}
	if err := caller.pc.SetRemoteDescription(*relayedAnswer.Answer); err != nil {
		fatalf("set remote answer: %v", err)
	}
	fmt.Println("offer/answer: ok")

	// Candidates keep arriving over the relay while the channel connects.
	deadline := time.After(30 * time.Second)
	for {
		select {
		case <-opened:
			fmt.Println("data channel: open")
		case text := <-echoed:
			if text != "ping" {
				fatalf("echo = %q, want ping", text)
			}
			fmt.Println("echo roundtrip: ok")
			return
		case msg := <-caller.inbound:
			caller.applyCandidate(msg)
		case msg := <-callee.inbound:
			callee.applyCandidate(msg)
		case <-deadline:
			fatalf("timed out waiting for data channel roundtrip")
		}
	}
}

func dialParty(name, wsURL string) *party {
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		fatalf("%s: dial %s: %v", name, wsURL, err)
	}
	p := &party{name: name, conn: conn, inbound: make(chan wireMessage, 64)}
	go p.readLoop()
	return p
}

func (p *party) readLoop() {
	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			close(p.inbound)
			return
		}
		var msg wireMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			fatalf("%s: bad frame %s: %v", p.name, data, err)
		}
		p.inbound <- msg
	}
}

func (p *party) sendJSON(msg wireMessage) {
	if err := p.conn.WriteJSON(msg); err != nil {
		fatalf("%s: write: %v", p.name, err)
	}
}

// expect waits for the next message of the given type, applying any ICE
// candidates that arrive in between.
func (p *party) expect(msgType string) wireMessage {
	deadline := time.After(10 * time.Second)
	for {
		select {
		case msg, ok := <-p.inbound:
			if !ok {
				fatalf("%s: connection closed while waiting for %s", p.name, msgType)
			}
			if msg.Type == msgType {
				return msg
			}
			if msg.Type == "error" {
				fatalf("%s: relay error %s: %s", p.name, msg.Code, msg.Reason)
			}
			p.applyCandidate(msg)
		case <-deadline:
			fatalf("%s: timed out waiting for %s", p.name, msgType)
		}
	}
}

func (p *party) expectNothingFor(d time.Duration) {
	select {
	case msg := <-p.inbound:
		fatalf("%s: unexpected message %+v", p.name, msg)
	case <-time.After(d):
	}
}

// trickleTo forwards locally gathered ICE candidates into the room.
func (p *party) trickleTo(roomID string) {
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		p.sendJSON(wireMessage{Type: "ice-candidate", RoomID: roomID, Candidate: &init})
	})
}

func (p *party) applyCandidate(msg wireMessage) {
	if msg.Type != "ice-candidate" || msg.Candidate == nil || p.pc == nil {
		return
	}
	if err := p.pc.AddICECandidate(*msg.Candidate); err != nil {
		fatalf("%s: add candidate: %v", p.name, err)
	}
}

func (p *party) close() {
	_ = p.conn.Close()
}

func newPeerConnection() *webrtc.PeerConnection {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		fatalf("new peer connection: %v", err)
	}
	return pc
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
