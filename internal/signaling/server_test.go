package signaling

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/carelink-health/signaling-relay/internal/config"
)

func testConfig() config.Config {
	return config.Config{
		AllowedOrigins:       []string{"http://localhost:5173"},
		WSIdleTimeout:        10 * time.Second,
		WSPingInterval:       0,
		MaxMessageBytes:      64 * 1024,
		MaxMessagesPerSecond: 0,
		SendBufferMessages:   16,
	}
}

func startWSServer(t *testing.T, cfg config.Config) (*Hub, string) {
	t.Helper()
	hub := NewHub(cfg, testLogger(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Run(ctx)
	}()

	srv := httptest.NewServer(NewServer(cfg, hub, testLogger()))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string, header http.Header) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readWire(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
	return msg
}

func writeWire(t *testing.T, conn *websocket.Conn, raw string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// TestCallSetupOverWebSocket walks the full happy path on the wire: two
// parties rendezvous in a room and exchange offer, answer and a candidate.
func TestCallSetupOverWebSocket(t *testing.T) {
	hub, url := startWSServer(t, testConfig())

	alice := dial(t, url, nil)
	bob := dial(t, url, nil)

	writeWire(t, alice, `{"type":"join-room","roomId":"call-42","userName":"Alice","userRole":"doctor"}`)
	// The joins race unless Alice's membership lands before Bob dials in.
	waitForMembers(t, hub, "call-42", 1)
	writeWire(t, bob, `{"type":"join-room","roomId":"call-42","userName":"Bob","userRole":"patient"}`)

	msg := readWire(t, alice)
	if msg["type"] != "user-joining" || msg["callerName"] != "Bob" || msg["callerRole"] != "patient" {
		t.Fatalf("alice got %v, want user-joining from Bob", msg)
	}
	if msg["socketId"] == "" || msg["socketId"] == nil {
		t.Fatalf("user-joining missing socketId: %v", msg)
	}
	if msg = readWire(t, alice); msg["type"] != "ready" {
		t.Fatalf("alice got %v, want ready", msg)
	}
	if msg = readWire(t, bob); msg["type"] != "ready" {
		t.Fatalf("bob got %v, want ready", msg)
	}

	writeWire(t, alice, `{"type":"offer","roomId":"call-42","offer":{"type":"offer","sdp":"v=0\r\n"}}`)
	msg = readWire(t, bob)
	if msg["type"] != "offer" {
		t.Fatalf("bob got %v, want offer", msg)
	}
	offer, ok := msg["offer"].(map[string]any)
	if !ok || offer["sdp"] != "v=0\r\n" {
		t.Fatalf("offer payload mangled: %v", msg)
	}

	writeWire(t, bob, `{"type":"answer","roomId":"call-42","answer":{"type":"answer","sdp":"v=0\r\n"}}`)
	if msg = readWire(t, alice); msg["type"] != "answer" {
		t.Fatalf("alice got %v, want answer", msg)
	}

	writeWire(t, bob, `{"type":"ice-candidate","roomId":"call-42","candidate":{"candidate":"candidate:1 1 udp 1 10.0.0.1 9 typ host"}}`)
	if msg = readWire(t, alice); msg["type"] != "ice-candidate" {
		t.Fatalf("alice got %v, want ice-candidate", msg)
	}
}

func TestDisconnectEmitsUserLeft(t *testing.T) {
	hub, url := startWSServer(t, testConfig())

	alice := dial(t, url, nil)
	bob := dial(t, url, nil)

	writeWire(t, alice, `{"type":"join-room","roomId":"call-9","userName":"Alice","userRole":"doctor"}`)
	waitForMembers(t, hub, "call-9", 1)
	writeWire(t, bob, `{"type":"join-room","roomId":"call-9","userName":"Bob","userRole":"patient"}`)

	readWire(t, alice) // user-joining
	readWire(t, alice) // ready
	readWire(t, bob)   // ready

	bob.Close()

	msg := readWire(t, alice)
	if msg["type"] != "user-left" || msg["userName"] != "Bob" || msg["userRole"] != "patient" {
		t.Fatalf("alice got %v, want user-left for Bob", msg)
	}
	waitForMembers(t, hub, "call-9", 1)

	alice.Close()
	waitForMembers(t, hub, "call-9", 0)
}

func TestThirdDialerGetsRoomFull(t *testing.T) {
	hub, url := startWSServer(t, testConfig())

	alice := dial(t, url, nil)
	writeWire(t, alice, `{"type":"join-room","roomId":"call-7","userName":"Alice","userRole":"doctor"}`)
	waitForMembers(t, hub, "call-7", 1)

	bob := dial(t, url, nil)
	writeWire(t, bob, `{"type":"join-room","roomId":"call-7","userName":"Bob","userRole":"patient"}`)
	waitForMembers(t, hub, "call-7", 2)

	carol := dial(t, url, nil)
	writeWire(t, carol, `{"type":"join-room","roomId":"call-7","userName":"Carol","userRole":"patient"}`)

	if msg := readWire(t, carol); msg["type"] != "room-full" {
		t.Fatalf("carol got %v, want room-full", msg)
	}
	// The rejected connection stays usable.
	writeWire(t, carol, `{"type":"join-room","roomId":"call-8","userName":"Carol","userRole":"patient"}`)
	waitForMembers(t, hub, "call-8", 1)
}

func TestMalformedFramesAreIgnored(t *testing.T) {
	hub, url := startWSServer(t, testConfig())

	conn := dial(t, url, nil)
	writeWire(t, conn, `{not json`)
	writeWire(t, conn, `{"roomId":"no-type"}`)
	writeWire(t, conn, `{"type":"join-room","roomId":"call-5","userName":"Alice","userRole":"doctor"}`)
	waitForMembers(t, hub, "call-5", 1)
}

func TestOversizedFrameClosesConnection(t *testing.T) {
	cfg := testConfig()
	cfg.MaxMessageBytes = 128
	_, url := startWSServer(t, cfg)

	conn := dial(t, url, nil)
	writeWire(t, conn, `{"type":"offer","roomId":"r","offer":{"sdp":"`+strings.Repeat("a", 1024)+`"}}`)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("want read error after oversized frame")
	}
}

func TestRateLimitClosesConnection(t *testing.T) {
	cfg := testConfig()
	cfg.MaxMessagesPerSecond = 2
	_, url := startWSServer(t, cfg)

	conn := dial(t, url, nil)
	for i := 0; i < 20; i++ {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"leave-room","roomId":"none"}`)); err != nil {
			break
		}
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if err == nil {
		t.Fatal("want close after rate limit violation")
	}
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Logf("close error = %v (tolerated: transport may drop before close frame)", err)
	}
}

func TestOriginEnforcedOnUpgrade(t *testing.T) {
	_, url := startWSServer(t, testConfig())

	t.Run("allowed origin upgrades", func(t *testing.T) {
		h := http.Header{}
		h.Set("Origin", "http://localhost:5173")
		conn, _, err := websocket.DefaultDialer.Dial(url, h)
		if err != nil {
			t.Fatalf("dial with allowed origin: %v", err)
		}
		conn.Close()
	})

	t.Run("disallowed origin refused", func(t *testing.T) {
		h := http.Header{}
		h.Set("Origin", "https://evil.example")
		_, resp, err := websocket.DefaultDialer.Dial(url, h)
		if err == nil {
			t.Fatal("want handshake failure for disallowed origin")
		}
		if resp != nil && resp.StatusCode != http.StatusForbidden {
			t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusForbidden)
		}
	})
}

// waitForMembers polls the hub snapshot until roomID has want members, or
// until the room is gone when want is zero.
func waitForMembers(t *testing.T, hub *Hub, roomID string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := hub.Snapshot(context.Background())
		if err != nil {
			t.Fatalf("snapshot: %v", err)
		}
		info, ok := snap[roomID]
		if !ok && want == 0 {
			return
		}
		if ok && info.Count == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("room %s never reached %d members", roomID, want)
}
