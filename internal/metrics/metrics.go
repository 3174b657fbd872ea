// Package metrics exposes Prometheus gauges and counters for the signaling
// and forwarding planes: how many rooms/publishers/consumers are live, and
// how many RTP packets each consumer binding has forwarded. None of these
// numbers feed back into any control decision (spec: "no control decision
// depends on it") — they exist for observability only.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Rooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sfu_rooms",
		Help: "Current number of rooms in the directory",
	})

	Publishers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sfu_publishers",
		Help: "Current number of registered publishers",
	})

	Consumers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sfu_consumers",
		Help: "Current number of registered consumers",
	})

	Sessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sfu_sessions",
		Help: "Current number of live control sessions",
	})

	ForwardedPackets = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sfu_forwarded_rtp_packets_total",
		Help: "Total RTP packets forwarded per consumer binding",
	}, []string{"consumer_id"})

	ForwardingErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sfu_forwarding_errors_total",
		Help: "Total forwarding task terminations by cause",
	}, []string{"cause"})
)

func SetRooms(n int)      { Rooms.Set(float64(n)) }
func SetPublishers(n int) { Publishers.Set(float64(n)) }
func SetConsumers(n int)  { Consumers.Set(float64(n)) }
func SetSessions(n int)   { Sessions.Set(float64(n)) }

func IncForwarded(consumerID string) {
	ForwardedPackets.WithLabelValues(consumerID).Inc()
}

func IncForwardingError(cause string) {
	ForwardingErrors.WithLabelValues(cause).Inc()
}
