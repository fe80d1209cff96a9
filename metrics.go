package flexlink

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for one session. All engine
// components take it optionally; a nil *Metrics disables instrumentation.
type Metrics struct {
	datagramsReceived  prometheus.Counter
	datagramsDiscarded *prometheus.CounterVec
	streamUnitsLost    *prometheus.CounterVec
	streamUnitsStale   *prometheus.CounterVec
	framesCompleted    *prometheus.CounterVec
	commandsSent       prometheus.Counter
	repliesCorrelated  prometheus.Counter
	repliesOrphaned    prometheus.Counter
	statusLines        prometheus.Counter
	entitiesLive       *prometheus.GaugeVec
}

// NewMetrics registers the engine's collectors with reg. Pass
// prometheus.DefaultRegisterer for the usual global registry, or a private
// registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		datagramsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "flexlink_datagrams_received_total",
			Help: "VITA-49 datagrams read from the data socket",
		}),
		datagramsDiscarded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "flexlink_datagrams_discarded_total",
			Help: "Datagrams dropped before reaching a stream consumer",
		}, []string{"reason"}),
		streamUnitsLost: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "flexlink_stream_units_lost_total",
			Help: "Stream units missing from the sequence space",
		}, []string{"stream"}),
		streamUnitsStale: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "flexlink_stream_units_stale_total",
			Help: "Stream units that arrived behind the sequence expectation",
		}, []string{"stream"}),
		framesCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "flexlink_frames_completed_total",
			Help: "Fully reassembled display frames delivered to consumers",
		}, []string{"stream"}),
		commandsSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "flexlink_commands_sent_total",
			Help: "Commands written to the control connection",
		}),
		repliesCorrelated: factory.NewCounter(prometheus.CounterOpts{
			Name: "flexlink_replies_correlated_total",
			Help: "Replies matched to a pending command",
		}),
		repliesOrphaned: factory.NewCounter(prometheus.CounterOpts{
			Name: "flexlink_replies_orphaned_total",
			Help: "Replies with no pending command entry",
		}),
		statusLines: factory.NewCounter(prometheus.CounterOpts{
			Name: "flexlink_status_lines_total",
			Help: "Status broadcasts received on the control connection",
		}),
		entitiesLive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "flexlink_entities_live",
			Help: "Live mirrored entities by kind",
		}, []string{"kind"}),
	}
}
