package ws_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/aniketmishra-0/SendIt/internal/config"
	"github.com/aniketmishra-0/SendIt/internal/rooms"
	"github.com/aniketmishra-0/SendIt/internal/ws"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T) (*httptest.Server, *rooms.Registry) {
	t.Helper()
	cfg := config.FromEnv()
	reg := rooms.NewRegistry(zap.NewNop())
	mux := http.NewServeMux()
	mux.Handle("/ws/{code}", ws.NewHandler(cfg, zap.NewNop(), reg))
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts, reg
}

func dial(t *testing.T, ts *httptest.Server, roomCode string, isHost bool, peerID string) *websocket.Conn {
	t.Helper()
	u, _ := url.Parse(ts.URL)
	u.Scheme = "ws"
	u.Path = "/ws/" + roomCode
	q := u.Query()
	q.Set("isHost", fmt.Sprintf("%v", isHost))
	if peerID != "" {
		q.Set("peerId", peerID)
	}
	u.RawQuery = q.Encode()

	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		t.Fatalf("dial %s: %v", u, err)
	}
	t.Cleanup(func() { _ = c.Close() })
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	return c
}

func readFrame(t *testing.T, c *websocket.Conn) map[string]any {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unmarshal %q: %v", raw, err)
	}
	return m
}

// S1: host creates the room by connecting; a lowercase guest code joins
// the same room.
func TestHostRendezvousGuestArrives(t *testing.T) {
	ts, _ := newTestServer(t)

	host := dial(t, ts, "AB23CD", true, "")
	joined := readFrame(t, host)
	if joined["type"] != "room-joined" || joined["roomCode"] != "AB23CD" ||
		joined["isHost"] != true || joined["peerCount"] != float64(1) {
		t.Fatalf("host room-joined mismatch: %v", joined)
	}
	hostID, _ := joined["peerId"].(string)
	if hostID == "" {
		t.Fatal("host must be assigned a peerId")
	}
	if peers, ok := joined["peers"].([]any); !ok || len(peers) != 0 {
		t.Fatalf("host prior peers should be []: %v", joined["peers"])
	}

	guest := dial(t, ts, "ab23cd", false, "")

	notif := readFrame(t, host)
	if notif["type"] != "peer-joined" || notif["isHost"] != false ||
		notif["peerCount"] != float64(2) {
		t.Fatalf("peer-joined mismatch: %v", notif)
	}

	ack := readFrame(t, guest)
	if ack["type"] != "room-joined" || ack["roomCode"] != "AB23CD" ||
		ack["peerCount"] != float64(2) {
		t.Fatalf("guest room-joined mismatch: %v", ack)
	}
	peers, _ := ack["peers"].([]any)
	if len(peers) != 1 || peers[0] != hostID {
		t.Fatalf("guest should see the host id, got %v", ack["peers"])
	}
}

// S2: targetId delivers only to the named peer, senderId is stamped.
func TestTargetedRelay(t *testing.T) {
	ts, _ := newTestServer(t)

	host := dial(t, ts, "CDEF23", true, "hostid")
	_ = readFrame(t, host)
	guest := dial(t, ts, "CDEF23", false, "guestid")
	_ = readFrame(t, host)  // peer-joined
	_ = readFrame(t, guest) // room-joined

	offer := `{"type":"offer","targetId":"hostid","sdp":"v=0","senderId":"spoof"}`
	if err := guest.WriteMessage(websocket.TextMessage, []byte(offer)); err != nil {
		t.Fatalf("write offer: %v", err)
	}

	got := readFrame(t, host)
	if got["type"] != "offer" || got["sdp"] != "v=0" {
		t.Fatalf("offer mismatch: %v", got)
	}
	if got["senderId"] != "guestid" {
		t.Fatalf("senderId = %v, want guestid", got["senderId"])
	}
}

// S3: a third connection gets the error frame and close code 4003.
func TestRoomFullRejection(t *testing.T) {
	ts, _ := newTestServer(t)

	host := dial(t, ts, "FULL23", true, "")
	_ = readFrame(t, host)
	guest := dial(t, ts, "FULL23", false, "")
	_ = readFrame(t, guest)

	third := dial(t, ts, "FULL23", false, "")
	frame := readFrame(t, third)
	if frame["type"] != "error" || frame["message"] != "Room is full" {
		t.Fatalf("expected room-full error frame, got %v", frame)
	}
	_, _, err := third.ReadMessage()
	if !websocket.IsCloseError(err, ws.CloseRoomFull) {
		t.Fatalf("expected close %d, got %v", ws.CloseRoomFull, err)
	}
}

func TestGuestRoomNotFound(t *testing.T) {
	ts, _ := newTestServer(t)

	c := dial(t, ts, "NOSUCH", false, "")
	frame := readFrame(t, c)
	if frame["type"] != "error" || frame["message"] != "Room not found" {
		t.Fatalf("expected not-found error frame, got %v", frame)
	}
	_, _, err := c.ReadMessage()
	if !websocket.IsCloseError(err, ws.CloseRoomNotFound) {
		t.Fatalf("expected close %d, got %v", ws.CloseRoomNotFound, err)
	}
}

// S4: a burst over the per-peer rate gets in-band error frames and the
// connection stays open.
func TestRateLimited(t *testing.T) {
	ts, _ := newTestServer(t)

	host := dial(t, ts, "RATE23", true, "h")
	_ = readFrame(t, host)
	guest := dial(t, ts, "RATE23", false, "g")
	_ = readFrame(t, host)
	_ = readFrame(t, guest)

	// Back-to-back writes land well inside the 10ms window.
	for i := 0; i < 5; i++ {
		if err := guest.WriteMessage(websocket.TextMessage, []byte(`{"type":"chatter"}`)); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	limited := 0
	for {
		_ = guest.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
		_, raw, err := guest.ReadMessage()
		if err != nil {
			break // drained
		}
		var frame map[string]any
		if err := json.Unmarshal(raw, &frame); err != nil {
			t.Fatalf("unmarshal %q: %v", raw, err)
		}
		if frame["type"] == "error" && frame["message"] == "Rate limited" {
			limited++
		}
	}
	if limited == 0 {
		t.Fatal("expected at least one rate-limited error frame")
	}

	// Channel must survive; a spaced-out message still relays.
	time.Sleep(20 * time.Millisecond)
	if err := guest.WriteMessage(websocket.TextMessage, []byte(`{"type":"after"}`)); err != nil {
		t.Fatalf("write after cooldown: %v", err)
	}
	for {
		frame := readFrame(t, host)
		if frame["type"] == "after" {
			break
		}
	}
}

// Per-address admission: the 11th connection from one source closes
// with 4029 before any room state is touched.
func TestConnectionLimitPerIP(t *testing.T) {
	ts, reg := newTestServer(t)

	for i := 0; i < rooms.MaxConnectionsPerIP; i++ {
		c := dial(t, ts, fmt.Sprintf("HST%03d", i)[:6], true, "")
		_ = readFrame(t, c)
	}

	over := dial(t, ts, "HSTOVR", true, "")
	_, _, err := over.ReadMessage()
	if !websocket.IsCloseError(err, ws.CloseTooManyConnections) {
		t.Fatalf("expected close %d, got %v", ws.CloseTooManyConnections, err)
	}
	if _, ok := reg.Lookup("HSTOVR"); ok {
		t.Fatal("rejected connection must not create a room")
	}
}

// Disconnect cleanup: when the guest drops, the host hears peer-left
// and the room stays open with only the host in it.
func TestDisconnectCleanup(t *testing.T) {
	ts, reg := newTestServer(t)

	host := dial(t, ts, "BYE234", true, "h")
	_ = readFrame(t, host)
	guest := dial(t, ts, "BYE234", false, "g")
	_ = readFrame(t, host)
	_ = readFrame(t, guest)

	_ = guest.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	_ = guest.Close()

	left := readFrame(t, host)
	if left["type"] != "peer-left" || left["peerId"] != "g" {
		t.Fatalf("peer-left mismatch: %v", left)
	}

	info, ok := reg.RoomInfo("BYE234")
	if !ok || info.PeerCount != 1 || !info.HasHost {
		t.Fatalf("room after guest left: ok=%v info=%+v", ok, info)
	}
}

// Undecodable frames are skipped without dropping the connection.
func TestBadFrameSkipped(t *testing.T) {
	ts, _ := newTestServer(t)

	host := dial(t, ts, "JNK234", true, "h")
	_ = readFrame(t, host)
	guest := dial(t, ts, "JNK234", false, "g")
	_ = readFrame(t, host)
	_ = readFrame(t, guest)

	if err := guest.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write junk: %v", err)
	}
	if err := guest.WriteMessage(websocket.TextMessage, []byte(`{"type":"ok"}`)); err != nil {
		t.Fatalf("write valid: %v", err)
	}
	got := readFrame(t, host)
	if got["type"] != "ok" {
		t.Fatalf("valid frame after junk should relay, got %v", got)
	}
}
