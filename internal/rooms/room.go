package rooms

import "time"

// Room is a rendezvous container for up to MaxPeersPerRoom peers.
// All fields are guarded by the registry mutex.
type Room struct {
	Code      string
	CreatedAt time.Time

	peers        map[string]*Peer
	lastActivity time.Time
	messageCount int64
}

func newRoom(code string, now time.Time) *Room {
	return &Room{
		Code:         code,
		CreatedAt:    now,
		peers:        make(map[string]*Peer, MaxPeersPerRoom),
		lastActivity: now,
	}
}

func (r *Room) full() bool { return len(r.peers) >= MaxPeersPerRoom }

func (r *Room) expired(now time.Time) bool {
	return now.Sub(r.lastActivity) > RoomTimeout
}

func (r *Room) hasHost() bool {
	for _, p := range r.peers {
		if p.IsHost {
			return true
		}
	}
	return false
}

// RoomInfo is the lock-free snapshot handed to the REST surface.
type RoomInfo struct {
	Code      string    `json:"code"`
	CreatedAt time.Time `json:"createdAt"`
	PeerCount int       `json:"peerCount"`
	HasHost   bool      `json:"hasHost"`
}

func (r *Room) info() RoomInfo {
	return RoomInfo{
		Code:      r.Code,
		CreatedAt: r.CreatedAt,
		PeerCount: len(r.peers),
		HasHost:   r.hasHost(),
	}
}
