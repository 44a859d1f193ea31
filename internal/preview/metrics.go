package preview

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rtcpPackets = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "srtrelay",
		Subsystem: "preview",
		Name:      "rtcp_packets_total",
		Help:      "RTCP packets received from preview peers",
	})

	nacksReceived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "srtrelay",
		Subsystem: "preview",
		Name:      "nacks_received_total",
		Help:      "Packets requested again by preview peers",
	})

	plisReceived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "srtrelay",
		Subsystem: "preview",
		Name:      "plis_received_total",
		Help:      "Picture loss indications received from preview peers",
	})

	firsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "srtrelay",
		Subsystem: "preview",
		Name:      "firs_received_total",
		Help:      "Full intra requests received from preview peers",
	})

	activePeers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "srtrelay",
		Subsystem: "preview",
		Name:      "active_peers",
		Help:      "Connected preview peers",
	})
)
