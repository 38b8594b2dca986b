package rooms

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// sendQueueDepth bounds the outbound queue per peer. A peer that cannot
// drain this many frames is cut loose rather than stalling fan-out.
const sendQueueDepth = 64

const writeWait = 10 * time.Second

// Peer is one end of a signaling channel. The rate-limit fields are
// touched only from the peer's own receive loop; everything else that
// needs serialization goes through the registry lock or the writer pump.
type Peer struct {
	ID          string
	IsHost      bool
	RoomCode    string
	Addr        string
	ConnectedAt time.Time

	messagesSent  int64
	lastMessageAt time.Time

	conn      *websocket.Conn
	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func NewPeer(conn *websocket.Conn, id, roomCode, addr string, isHost bool) *Peer {
	return &Peer{
		ID:          id,
		IsHost:      isHost,
		RoomCode:    roomCode,
		Addr:        addr,
		ConnectedAt: time.Now(),
		conn:        conn,
		out:         make(chan []byte, sendQueueDepth),
		done:        make(chan struct{}),
	}
}

// Run starts the writer pump. Frames enqueued before Run are held in
// the queue and delivered in order once it starts.
func (p *Peer) Run() {
	go p.writePump()
}

// writePump is the single writer of data frames on the connection,
// preserving per-peer delivery order.
func (p *Peer) writePump() {
	for {
		select {
		case msg := <-p.out:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				p.Close(websocket.CloseAbnormalClosure, "write failed")
				return
			}
		case <-p.done:
			return
		}
	}
}

// Send enqueues a frame without blocking. A full queue means the peer
// is not keeping up; it is disconnected instead of stalling the room.
func (p *Peer) Send(msg []byte) {
	select {
	case p.out <- msg:
	case <-p.done:
	default:
		p.Close(websocket.ClosePolicyViolation, "slow consumer")
	}
}

func (p *Peer) SendJSON(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	p.Send(b)
}

// Close sends a close frame with the given code and tears the
// connection down. Safe to call from any goroutine, any number of times.
func (p *Peer) Close(code int, reason string) {
	p.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(code, reason)
		_ = p.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		close(p.done)
		_ = p.conn.Close()
	})
}

// AllowMessage enforces the per-peer inbound rate. Called only from the
// peer's receive loop.
func (p *Peer) AllowMessage(now time.Time) bool {
	if !p.lastMessageAt.IsZero() && now.Sub(p.lastMessageAt) < minMessageGap {
		return false
	}
	p.lastMessageAt = now
	p.messagesSent++
	return true
}

func (p *Peer) MessagesSent() int64 { return p.messagesSent }

// NewPeerID mints an 8-byte URL-safe token for peers that did not
// bring their own.
func NewPeerID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "peer"
	}
	return base64.RawURLEncoding.EncodeToString(b[:])
}
