// Package rooms holds the room registry: the single shared mutable
// structure on the signaling path. One coarse mutex serializes every
// read-modify-write; all per-operation work under it is O(1) bounded
// by MaxRooms, so contention stays negligible.
package rooms

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/aniketmishra-0/SendIt/internal/code"
	"github.com/aniketmishra-0/SendIt/internal/logs"
	"github.com/aniketmishra-0/SendIt/internal/metrics"
	"github.com/gorilla/websocket"
)

const (
	MaxPeersPerRoom      = 2
	MaxRooms             = 10000
	MaxConnectionsPerIP  = 10
	MaxMessagesPerSecond = 100

	RoomTimeout     = time.Hour
	JanitorInterval = 60 * time.Second
)

const minMessageGap = time.Second / MaxMessagesPerSecond

var (
	ErrCapacity     = errors.New("too many rooms")
	ErrRoomNotFound = errors.New("room not found")
	ErrRoomFull     = errors.New("room full")
)

// Latency samples are kept in a bounded window, trimmed to the most
// recent half on overflow.
const (
	latencyWindow = 1000
	latencyKeep   = 500
)

type Registry struct {
	mu      sync.Mutex
	rooms   map[string]*Room
	ipConns map[string]int

	totalConnections int64
	totalMessages    int64
	peersNow         int
	latency          []float64 // milliseconds

	log logs.Logger
}

func NewRegistry(log logs.Logger) *Registry {
	return &Registry{
		rooms:   make(map[string]*Room),
		ipConns: make(map[string]int),
		latency: make([]float64, 0, latencyWindow),
		log:     log.Named("rooms"),
	}
}

// Create mints a room under a fresh unique code.
func (g *Registry) Create() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.rooms) >= MaxRooms {
		return "", ErrCapacity
	}
	for {
		c, err := code.New()
		if err != nil {
			return "", err
		}
		if _, taken := g.rooms[c]; taken {
			continue
		}
		g.rooms[c] = newRoom(c, time.Now())
		metrics.SetRooms(len(g.rooms))
		return c, nil
	}
}

// CreateWithCode allocates a room under a caller-chosen code (the
// host-connects-first flow). If another host raced us to the code, the
// existing room is returned and the join path re-checks capacity.
func (g *Registry) CreateWithCode(c string) (*Room, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if r, ok := g.rooms[c]; ok {
		return r, nil
	}
	if len(g.rooms) >= MaxRooms {
		return nil, ErrCapacity
	}
	r := newRoom(c, time.Now())
	g.rooms[c] = r
	metrics.SetRooms(len(g.rooms))
	return r, nil
}

// Lookup returns the live room for a code. An expired room found here
// is reaped in-line before reporting not-found.
func (g *Registry) Lookup(c string) (*Room, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.rooms[c]
	if !ok {
		return nil, false
	}
	if r.expired(time.Now()) {
		g.closeLocked(r, websocket.CloseNormalClosure, "Room closed")
		return nil, false
	}
	return r, true
}

// RoomInfo snapshots a room for the REST surface.
func (g *Registry) RoomInfo(c string) (RoomInfo, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.rooms[c]
	if !ok || r.expired(time.Now()) {
		return RoomInfo{}, false
	}
	return r.info(), true
}

// Close removes the room and closes every member channel with a normal
// close. Individual close errors are swallowed.
func (g *Registry) Close(c string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if r, ok := g.rooms[c]; ok {
		g.closeLocked(r, websocket.CloseNormalClosure, "Room closed")
	}
}

// closeLocked requires g.mu held.
func (g *Registry) closeLocked(r *Room, closeCode int, reason string) {
	delete(g.rooms, r.Code)
	for id, p := range r.peers {
		delete(r.peers, id)
		g.peersNow--
		g.decIPLocked(p.Addr)
		p.Close(closeCode, reason)
	}
	metrics.SetRooms(len(g.rooms))
	metrics.SetPeers(g.peersNow)
}

// CheckIPLimit reports whether the source address may open another
// signaling connection.
func (g *Registry) CheckIPLimit(addr string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ipConns[addr] < MaxConnectionsPerIP
}

// AddPeer admits p into the room, notifies prior members with
// peer-joined and acknowledges p with room-joined carrying the prior
// member ids. The membership mutation and the notification pass happen
// under one lock acquisition, so observers never see one without the
// other.
func (g *Registry) AddPeer(c string, p *Peer) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.rooms[c]
	if !ok {
		return ErrRoomNotFound
	}
	// A reconnect under the same id replaces the stale connection
	// rather than counting against capacity.
	if old, ok := r.peers[p.ID]; ok {
		delete(r.peers, p.ID)
		g.peersNow--
		g.decIPLocked(old.Addr)
		old.Close(websocket.ClosePolicyViolation, "superseded")
	}
	if r.full() {
		return ErrRoomFull
	}
	// One host per room: a second host-flagged join is seated as guest.
	if p.IsHost && r.hasHost() {
		p.IsHost = false
	}

	prior := make([]string, 0, len(r.peers))
	for id := range r.peers {
		prior = append(prior, id)
	}

	r.peers[p.ID] = p
	r.lastActivity = time.Now()
	g.totalConnections++
	g.peersNow++
	g.ipConns[p.Addr]++
	metrics.WSConnections.Inc()
	metrics.SetPeers(g.peersNow)

	n := len(r.peers)
	joined := map[string]any{
		"type": "peer-joined", "peerId": p.ID, "isHost": p.IsHost, "peerCount": n,
	}
	for _, id := range prior {
		r.peers[id].SendJSON(joined)
	}
	p.SendJSON(map[string]any{
		"type": "room-joined", "roomCode": c, "peerId": p.ID,
		"isHost": p.IsHost, "peerCount": n, "peers": prior,
	})
	return nil
}

// RemovePeer drops peerID from the room, tells the survivors, and
// closes the room if it is now empty. Unknown rooms and peers are a
// no-op; cleanup paths race with the janitor by design.
func (g *Registry) RemovePeer(c, peerID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.rooms[c]
	if !ok {
		return
	}
	p, ok := r.peers[peerID]
	if !ok {
		return
	}
	delete(r.peers, peerID)
	g.peersNow--
	g.decIPLocked(p.Addr)
	metrics.SetPeers(g.peersNow)

	if len(r.peers) == 0 {
		g.closeLocked(r, websocket.CloseNormalClosure, "Room closed")
		return
	}
	left := map[string]any{"type": "peer-left", "peerId": peerID, "peerCount": len(r.peers)}
	for _, other := range r.peers {
		other.SendJSON(left)
	}
}

func (g *Registry) decIPLocked(addr string) {
	if n := g.ipConns[addr]; n > 1 {
		g.ipConns[addr] = n - 1
	} else {
		delete(g.ipConns, addr)
	}
}

// Relay fans a signaling message out to the other members of the
// sender's room. The server interprets only targetId; senderId is
// stamped over whatever the client supplied. Delivery is enqueue-only,
// so a slow peer never blocks the pass.
func (g *Registry) Relay(c string, sender *Peer, msg map[string]any) {
	start := time.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.rooms[c]
	if !ok {
		return
	}
	r.lastActivity = time.Now()
	r.messageCount++
	g.totalMessages++
	metrics.WSMessages.Inc()

	msg["senderId"] = sender.ID
	targetID, _ := msg["targetId"].(string)

	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	for id, p := range r.peers {
		if id == sender.ID {
			continue
		}
		if targetID != "" && id != targetID {
			continue
		}
		p.Send(payload)
	}

	g.latency = append(g.latency, float64(time.Since(start).Microseconds())/1000.0)
	if len(g.latency) > latencyWindow {
		g.latency = append(g.latency[:0], g.latency[len(g.latency)-latencyKeep:]...)
	}
}

// Stats is the quiescent-point snapshot for /api/stats.
type Stats struct {
	ActiveRooms      int
	TotalConnections int64
	TotalMessages    int64
	AvgLatencyMs     float64
}

func (g *Registry) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()

	var avg float64
	if len(g.latency) > 0 {
		var sum float64
		for _, v := range g.latency {
			sum += v
		}
		avg = sum / float64(len(g.latency))
	}
	return Stats{
		ActiveRooms:      len(g.rooms),
		TotalConnections: g.totalConnections,
		TotalMessages:    g.totalMessages,
		AvgLatencyMs:     avg,
	}
}

func (g *Registry) sweep(now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, r := range g.rooms {
		if r.expired(now) {
			g.log.Info("reaping idle room", logs.F("code", r.Code))
			g.closeLocked(r, websocket.CloseNormalClosure, "Room closed")
		}
	}
}

// StartJanitor sweeps expired rooms every JanitorInterval until ctx is
// cancelled. Cancellation wins over a pending tick.
func (g *Registry) StartJanitor(ctx context.Context) {
	t := time.NewTicker(JanitorInterval)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C:
				if ctx.Err() != nil {
					return
				}
				g.sweep(now)
			}
		}
	}()
}

// CloseAll tears down every room; used on shutdown.
func (g *Registry) CloseAll() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, r := range g.rooms {
		g.closeLocked(r, websocket.CloseGoingAway, "server shutting down")
	}
}
