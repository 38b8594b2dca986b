// Package ws is the signaling endpoint: admission, per-connection
// receive loop, and disconnect cleanup.
package ws

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aniketmishra-0/SendIt/internal/code"
	"github.com/aniketmishra-0/SendIt/internal/config"
	"github.com/aniketmishra-0/SendIt/internal/logs"
	"github.com/aniketmishra-0/SendIt/internal/metrics"
	"github.com/aniketmishra-0/SendIt/internal/middleware"
	"github.com/aniketmishra-0/SendIt/internal/rooms"
	"github.com/gorilla/websocket"
)

// Close codes of the signaling protocol.
const (
	CloseRoomFull           = 4003
	CloseRoomNotFound       = 4004
	CloseTooManyConnections = 4029
)

type errorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewHandler(cfg config.Config, log logs.Logger, reg *rooms.Registry) http.Handler {
	l := log.Named("ws")

	up := websocket.Upgrader{
		ReadBufferSize:  cfg.WSReadBuf,
		WriteBufferSize: cfg.WSWriteBuf,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !websocket.IsWebSocketUpgrade(r) {
			w.Header().Set("Connection", "Upgrade")
			w.Header().Set("Upgrade", "websocket")
			http.Error(w, "upgrade required", http.StatusUpgradeRequired)
			return
		}

		addr := middleware.ClientIP(r)
		roomCode := code.Normalize(r.PathValue("code"))
		peerID := strings.TrimSpace(r.URL.Query().Get("peerId"))
		isHost := strings.EqualFold(r.URL.Query().Get("isHost"), "true")

		admit := reg.CheckIPLimit(addr)

		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			l.Warn("upgrade failed", logs.F("err", err))
			return
		}

		// Admission happens before any peer state exists; a rejected
		// connection only ever sees an error frame and a close code.
		if !admit {
			closeWith(c, CloseTooManyConnections, "Too many connections")
			l.Info("rejected: ip limit", logs.F("ip", addr))
			return
		}

		if _, ok := reg.Lookup(roomCode); !ok {
			if !isHost {
				rejectJSON(c, "Room not found", CloseRoomNotFound)
				return
			}
			if _, err := reg.CreateWithCode(roomCode); err != nil {
				rejectJSON(c, "Too many rooms", websocket.CloseTryAgainLater)
				return
			}
		}

		if peerID == "" {
			peerID = rooms.NewPeerID()
		}

		p := rooms.NewPeer(c, peerID, roomCode, addr, isHost)
		if err := reg.AddPeer(roomCode, p); err != nil {
			// The pump never ran; write the rejection frames directly.
			if errors.Is(err, rooms.ErrRoomFull) {
				rejectJSON(c, "Room is full", CloseRoomFull)
			} else {
				rejectJSON(c, "Room not found", CloseRoomNotFound)
			}
			return
		}
		p.Run()

		l.Info("peer joined",
			logs.F("room", roomCode), logs.F("peer", peerID),
			logs.F("host", isHost), logs.F("ip", addr))

		defer func() {
			// The room may already be reaped; RemovePeer tolerates that.
			reg.RemovePeer(roomCode, peerID)
			p.Close(websocket.CloseNormalClosure, "")
			l.Info("peer left", logs.F("room", roomCode), logs.F("peer", peerID))
		}()

		// deadlines / heartbeat
		c.SetReadLimit(cfg.WSMaxMsg)
		_ = c.SetReadDeadline(time.Now().Add(cfg.Heartbeat * 2))
		c.SetPongHandler(func(string) error {
			_ = c.SetReadDeadline(time.Now().Add(cfg.Heartbeat * 2))
			return nil
		})
		ticker := time.NewTicker(cfg.Heartbeat)
		defer ticker.Stop()
		pingDone := make(chan struct{})
		defer close(pingDone)
		go func() {
			for {
				select {
				case <-ticker.C:
					_ = c.WriteControl(websocket.PingMessage, nil, time.Now().Add(2*time.Second))
				case <-pingDone:
					return
				}
			}
		}()

		for {
			_, raw, err := c.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) &&
					!errors.Is(err, io.EOF) {
					metrics.WSErrors.Inc()
				}
				return
			}

			var msg map[string]any
			if err := json.Unmarshal(raw, &msg); err != nil {
				// Undecodable frame: skip it, keep the connection.
				metrics.WSErrors.Inc()
				l.Debug("bad frame", logs.F("room", roomCode), logs.F("peer", peerID))
				continue
			}

			if !p.AllowMessage(time.Now()) {
				p.SendJSON(errorFrame{Type: "error", Message: "Rate limited"})
				continue
			}

			reg.Relay(roomCode, p, msg)
		}
	})
}

func rejectJSON(c *websocket.Conn, message string, closeCode int) {
	b, _ := json.Marshal(errorFrame{Type: "error", Message: message})
	_ = c.SetWriteDeadline(time.Now().Add(time.Second))
	_ = c.WriteMessage(websocket.TextMessage, b)
	closeWith(c, closeCode, message)
}

func closeWith(c *websocket.Conn, closeCode int, reason string) {
	msg := websocket.FormatCloseMessage(closeCode, reason)
	_ = c.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = c.Close()
}
