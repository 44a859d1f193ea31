// Package metrics provides Prometheus metrics for the SRT ingest, stream
// routing and the pipeline control loop.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/smazurov/srtrelay/internal/srtstats"
)

const namespace = "srtrelay"

var (
	srtCallers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "srt",
		Name:      "callers",
		Help:      "Connected SRT callers",
	})

	srtBytesReceivedTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "srt",
		Name:      "bytes_received_total",
		Help:      "Bytes received by the listener since start, including disconnected callers",
	})

	srtPacketsReceived = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "srt",
		Name:      "packets_received",
		Help:      "Packets received from a caller",
	}, []string{"caller"})

	srtPacketsLost = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "srt",
		Name:      "packets_received_lost",
		Help:      "Packets reported lost by the receiver",
	}, []string{"caller"})

	srtPacketsDropped = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "srt",
		Name:      "packets_received_dropped",
		Help:      "Packets dropped as too late to play",
	}, []string{"caller"})

	srtPacketsRetransmitted = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "srt",
		Name:      "packets_received_retransmitted",
		Help:      "Retransmitted packets received",
	}, []string{"caller"})

	srtReceiveRate = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "srt",
		Name:      "receive_rate_mbps",
		Help:      "Instantaneous receive rate",
	}, []string{"caller"})

	srtBandwidth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "srt",
		Name:      "bandwidth_mbps",
		Help:      "Estimated link bandwidth",
	}, []string{"caller"})

	srtRTT = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "srt",
		Name:      "rtt_seconds",
		Help:      "Round-trip time",
	}, []string{"caller"})

	srtLatency = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "srt",
		Name:      "negotiated_latency_seconds",
		Help:      "Negotiated receiver latency",
	}, []string{"caller"})

	srtCallerAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "srt",
		Name:      "caller_attempts_total",
		Help:      "SRT connection attempts by result",
	}, []string{"result"})

	// Label sets exported by the previous report, for cleanup.
	knownCallers = map[string]struct{}{}
)

// callerLabel names a caller in metric labels.
func callerLabel(c srtstats.ConnectionStats) string {
	if peer := c.Peer(); peer != "" {
		return peer
	}
	return "unknown"
}

// SetSRTReport exports a decoded statistics report. Series of callers that
// are no longer connected are removed.
func SetSRTReport(report *srtstats.Report) {
	srtCallers.Set(float64(len(report.Callers)))
	srtBytesReceivedTotal.Set(float64(report.BytesReceivedTotal))

	mu.Lock()
	defer mu.Unlock()
	seen := make(map[string]struct{}, len(report.Callers))
	for _, c := range report.Callers {
		label := callerLabel(c)
		seen[label] = struct{}{}
		srtPacketsReceived.WithLabelValues(label).Set(float64(c.PacketsReceived))
		srtPacketsLost.WithLabelValues(label).Set(float64(c.PacketsReceivedLost))
		srtPacketsDropped.WithLabelValues(label).Set(float64(c.PacketsReceivedDropped))
		srtPacketsRetransmitted.WithLabelValues(label).Set(float64(c.PacketsReceivedRetransmitted))
		srtReceiveRate.WithLabelValues(label).Set(c.ReceiveRateMbps)
		srtBandwidth.WithLabelValues(label).Set(c.BandwidthMbps)
		srtRTT.WithLabelValues(label).Set(c.RTT().Seconds())
		srtLatency.WithLabelValues(label).Set(c.NegotiatedLatency().Seconds())
	}
	for label := range knownCallers {
		if _, ok := seen[label]; !ok {
			deleteCaller(label)
		}
	}
	knownCallers = seen
}

func deleteCaller(label string) {
	srtPacketsReceived.DeleteLabelValues(label)
	srtPacketsLost.DeleteLabelValues(label)
	srtPacketsDropped.DeleteLabelValues(label)
	srtPacketsRetransmitted.DeleteLabelValues(label)
	srtReceiveRate.DeleteLabelValues(label)
	srtBandwidth.DeleteLabelValues(label)
	srtRTT.DeleteLabelValues(label)
	srtLatency.DeleteLabelValues(label)
}

// IncCallerAttempt counts an accepted or rejected connection attempt.
func IncCallerAttempt(accepted bool) {
	result := "rejected"
	if accepted {
		result = "accepted"
	}
	srtCallerAttempts.WithLabelValues(result).Inc()
}
