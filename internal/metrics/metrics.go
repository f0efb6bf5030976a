// Package metrics exposes server counters to Prometheus.
//
// Components receive a Metrics value at construction. When metrics are
// disabled they get the no-op implementation, so call sites never check
// for nil.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics interface {
	PacketReceived(command string)
	PacketSent(command string, bytes int)
	PacketDropped(reason string)
	ProtocolViolation()

	BlocksSent(n int)
	BlocksAcknowledged(n int)
	BlocksInvalidated(n int)

	MapEdit(kind string)
	ObjectsAddedRemoved(added, removed int)

	SetClients(state string, n int)
	SetPlayingSounds(n int)
	SetParticleSpawners(n int)

	ObserveStep(d time.Duration)
}

type promMetrics struct {
	packetsReceived   *prometheus.CounterVec
	packetsSent       *prometheus.CounterVec
	bytesSent         *prometheus.CounterVec
	packetsDropped    *prometheus.CounterVec
	violations        prometheus.Counter
	blocksSent        prometheus.Counter
	blocksAcked       prometheus.Counter
	blocksInvalidated prometheus.Counter
	mapEdits          *prometheus.CounterVec
	objectsAdded      prometheus.Counter
	objectsRemoved    prometheus.Counter
	clients           *prometheus.GaugeVec
	sounds            prometheus.Gauge
	spawners          prometheus.Gauge
	stepDuration      prometheus.Histogram
}

// New registers the server metrics on reg. A nil registry yields the no-op
// implementation.
func New(reg *prometheus.Registry) Metrics {
	if reg == nil {
		return NewNoop()
	}
	f := promauto.With(reg)
	return &promMetrics{
		packetsReceived: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voxelsync_packets_received_total",
			Help: "Packets received from clients by command",
		}, []string{"command"}),
		packetsSent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voxelsync_packets_sent_total",
			Help: "Packets sent to clients by command",
		}, []string{"command"}),
		bytesSent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voxelsync_bytes_sent_total",
			Help: "Payload bytes sent to clients by command",
		}, []string{"command"}),
		packetsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voxelsync_packets_dropped_total",
			Help: "Incoming packets dropped by reason",
		}, []string{"reason"}),
		violations: f.NewCounter(prometheus.CounterOpts{
			Name: "voxelsync_protocol_violations_total",
			Help: "Malformed or out-of-state packets",
		}),
		blocksSent: f.NewCounter(prometheus.CounterOpts{
			Name: "voxelsync_blocks_sent_total",
			Help: "Map blocks sent to clients",
		}),
		blocksAcked: f.NewCounter(prometheus.CounterOpts{
			Name: "voxelsync_blocks_acknowledged_total",
			Help: "Map blocks acknowledged by clients",
		}),
		blocksInvalidated: f.NewCounter(prometheus.CounterOpts{
			Name: "voxelsync_blocks_invalidated_total",
			Help: "Known blocks invalidated by map edits",
		}),
		mapEdits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voxelsync_map_edits_total",
			Help: "Map edit events dispatched by kind",
		}, []string{"kind"}),
		objectsAdded: f.NewCounter(prometheus.CounterOpts{
			Name: "voxelsync_objects_added_total",
			Help: "Active objects added to client views",
		}),
		objectsRemoved: f.NewCounter(prometheus.CounterOpts{
			Name: "voxelsync_objects_removed_total",
			Help: "Active objects removed from client views",
		}),
		clients: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "voxelsync_clients",
			Help: "Connected clients by session state",
		}, []string{"state"}),
		sounds: f.NewGauge(prometheus.GaugeOpts{
			Name: "voxelsync_playing_sounds",
			Help: "Tracked playing sounds",
		}),
		spawners: f.NewGauge(prometheus.GaugeOpts{
			Name: "voxelsync_particle_spawners",
			Help: "Live particle spawners",
		}),
		stepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "voxelsync_step_duration_milliseconds",
			Help:    "Duration of one server step",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 1000},
		}),
	}
}

func (m *promMetrics) PacketReceived(command string) {
	m.packetsReceived.WithLabelValues(command).Inc()
}

func (m *promMetrics) PacketSent(command string, bytes int) {
	m.packetsSent.WithLabelValues(command).Inc()
	m.bytesSent.WithLabelValues(command).Add(float64(bytes))
}

func (m *promMetrics) PacketDropped(reason string) { m.packetsDropped.WithLabelValues(reason).Inc() }
func (m *promMetrics) ProtocolViolation()          { m.violations.Inc() }
func (m *promMetrics) BlocksSent(n int)            { m.blocksSent.Add(float64(n)) }
func (m *promMetrics) BlocksAcknowledged(n int)    { m.blocksAcked.Add(float64(n)) }
func (m *promMetrics) BlocksInvalidated(n int)     { m.blocksInvalidated.Add(float64(n)) }
func (m *promMetrics) MapEdit(kind string)         { m.mapEdits.WithLabelValues(kind).Inc() }

func (m *promMetrics) ObjectsAddedRemoved(added, removed int) {
	m.objectsAdded.Add(float64(added))
	m.objectsRemoved.Add(float64(removed))
}

func (m *promMetrics) SetClients(state string, n int) {
	m.clients.WithLabelValues(state).Set(float64(n))
}
func (m *promMetrics) SetPlayingSounds(n int)    { m.sounds.Set(float64(n)) }
func (m *promMetrics) SetParticleSpawners(n int) { m.spawners.Set(float64(n)) }

func (m *promMetrics) ObserveStep(d time.Duration) {
	m.stepDuration.Observe(float64(d.Microseconds()) / 1000)
}

type noop struct{}

func NewNoop() Metrics { return noop{} }

func (noop) PacketReceived(string)        {}
func (noop) PacketSent(string, int)       {}
func (noop) PacketDropped(string)         {}
func (noop) ProtocolViolation()           {}
func (noop) BlocksSent(int)               {}
func (noop) BlocksAcknowledged(int)       {}
func (noop) BlocksInvalidated(int)        {}
func (noop) MapEdit(string)               {}
func (noop) ObjectsAddedRemoved(int, int) {}
func (noop) SetClients(string, int)       {}
func (noop) SetPlayingSounds(int)         {}
func (noop) SetParticleSpawners(int)      {}
func (noop) ObserveStep(time.Duration)    {}

// Handler serves reg in the Prometheus text format, or 503 when metrics
// are disabled.
func Handler(reg *prometheus.Registry) http.Handler {
	if reg == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "metrics collection is disabled", http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
