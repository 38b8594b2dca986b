package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	reg = prometheus.NewRegistry()

	WSConnections = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sendit_ws_connections_total", Help: "Total WS connections accepted",
	})
	WSMessages = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sendit_ws_messages_total", Help: "Signaling messages relayed",
	})
	WSErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sendit_ws_errors_total", Help: "WS protocol/transport errors",
	})
	RoomsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sendit_rooms_active", Help: "Active rooms",
	})
	PeersActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sendit_peers_active", Help: "Active peers",
	})
	RelayUploads = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sendit_relay_uploads_total", Help: "Relay files ingested",
	})
	RelayBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sendit_relay_bytes_total", Help: "Plaintext bytes relayed",
	})
	FilesActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sendit_relay_files_active", Help: "Relay files currently stored",
	})
)

func Init() {
	reg.MustRegister(WSConnections, WSMessages, WSErrors,
		RoomsActive, PeersActive, RelayUploads, RelayBytes, FilesActive)
}

func Handler() http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// Helpers for the registry and relay store to update gauges:

func SetRooms(n int) { RoomsActive.Set(float64(n)) }
func SetPeers(n int) { PeersActive.Set(float64(n)) }
func SetFiles(n int) { FilesActive.Set(float64(n)) }
