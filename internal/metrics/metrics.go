// Package metrics registers the bridge's Prometheus collectors and gives the
// pipeline small helpers so callers never touch collector types directly.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricPrefix = "artnet2ha_"

// Delivery result label values.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// Drop reason label values used by the Art-Net receiver.
const (
	DropShort     = "short"
	DropSignature = "signature"
	DropOpcode    = "opcode"
	DropVersion   = "version"
	DropLength    = "length"
	DropTruncated = "truncated"
	DropUniverse  = "universe"
)

var (
	packetsReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: metricPrefix + "packets_received_total",
		Help: "UDP datagrams received on the Art-Net socket",
	})
	packetsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: metricPrefix + "packets_dropped_total",
		Help: "Datagrams discarded before frame emission, by reason",
	}, []string{"reason"})
	framesEmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: metricPrefix + "frames_total",
		Help: "Validated DMX frames handed to the pipeline",
	})
	commandsSuppressed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: metricPrefix + "commands_suppressed_total",
		Help: "Decoded commands withheld by the throttle, by gate",
	}, []string{"gate"})
	deliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: metricPrefix + "deliveries_total",
		Help: "Sink deliveries by result",
	}, []string{"result"})
	deliverySeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    metricPrefix + "delivery_seconds",
		Help:    "Sink delivery latency",
		Buckets: prometheus.DefBuckets,
	})
	inFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: metricPrefix + "deliveries_in_flight",
		Help: "Sink deliveries currently in flight",
	})
	entitiesMapped = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: metricPrefix + "entities_mapped",
		Help: "Entities in the active mapping table",
	})
)

func init() {
	prometheus.MustRegister(
		packetsReceived,
		packetsDropped,
		framesEmitted,
		commandsSuppressed,
		deliveries,
		deliverySeconds,
		inFlight,
		entitiesMapped,
	)
}

// Throttle gate label values.
const (
	GateDuplicate = "duplicate"
	GateCoalesced = "coalesced"
)

func AddPacketReceived() { packetsReceived.Inc() }

func AddPacketDropped(reason string) { packetsDropped.WithLabelValues(reason).Inc() }

func AddFrame() { framesEmitted.Inc() }

func AddSuppressed(gate string) { commandsSuppressed.WithLabelValues(gate).Inc() }

// ObserveDelivery records one finished sink call.
func ObserveDelivery(result string, d time.Duration) {
	deliveries.WithLabelValues(result).Inc()
	deliverySeconds.Observe(d.Seconds())
}

func IncInFlight() { inFlight.Inc() }
func DecInFlight() { inFlight.Dec() }

func SetEntitiesMapped(n int) { entitiesMapped.Set(float64(n)) }

// Handler exposes the default registry for the web server's /metrics route.
func Handler() http.Handler { return promhttp.Handler() }
