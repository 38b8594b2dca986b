// Package httpapi is the JSON REST surface over the room registry and
// relay store: stats plus room creation/inspection.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/aniketmishra-0/SendIt/internal/code"
	"github.com/aniketmishra-0/SendIt/internal/logs"
	"github.com/aniketmishra-0/SendIt/internal/relay"
	"github.com/aniketmishra-0/SendIt/internal/rooms"
)

type API struct {
	reg   *rooms.Registry
	store *relay.Store
	start time.Time
	log   logs.Logger
}

func New(reg *rooms.Registry, store *relay.Store, log logs.Logger) *API {
	return &API{reg: reg, store: store, start: time.Now(), log: log.Named("api")}
}

func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/stats", a.stats)
	mux.HandleFunc("POST /api/rooms", a.createRoom)
	mux.HandleFunc("GET /api/rooms/{code}", a.getRoom)
}

type statsResponse struct {
	ActiveRooms       int     `json:"activeRooms"`
	ActiveFiles       int     `json:"activeFiles"`
	TotalConnections  int64   `json:"totalConnections"`
	TotalMessages     int64   `json:"totalMessages"`
	TotalBytesRelayed int64   `json:"totalBytesRelayed"`
	UptimeSeconds     float64 `json:"uptimeSeconds"`
	AvgLatencyMs      float64 `json:"avgLatencyMs"`
}

func (a *API) stats(w http.ResponseWriter, _ *http.Request) {
	rs := a.reg.Stats()
	fs := a.store.Stats()
	writeJSON(w, http.StatusOK, statsResponse{
		ActiveRooms:       rs.ActiveRooms,
		ActiveFiles:       fs.ActiveFiles,
		TotalConnections:  rs.TotalConnections,
		TotalMessages:     rs.TotalMessages,
		TotalBytesRelayed: fs.TotalBytesRelayed,
		UptimeSeconds:     time.Since(a.start).Seconds(),
		AvgLatencyMs:      rs.AvgLatencyMs,
	})
}

func (a *API) createRoom(w http.ResponseWriter, _ *http.Request) {
	c, err := a.reg.Create()
	if err != nil {
		if errors.Is(err, rooms.ErrCapacity) {
			http.Error(w, "too many rooms", http.StatusServiceUnavailable)
			return
		}
		a.log.Error("create room failed", logs.F("err", err))
		http.Error(w, "internal", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"roomCode": c, "created": true})
}

func (a *API) getRoom(w http.ResponseWriter, r *http.Request) {
	info, ok := a.reg.RoomInfo(code.Normalize(r.PathValue("code")))
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
