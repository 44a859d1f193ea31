// Package srtstats decodes the SRT statistics record exposed by the ingest
// element into a typed report.
package srtstats

import "time"

// Record keys of the statistics structure.
const (
	KeyCallers            = "callers"
	KeyBytesReceivedTotal = "bytes-received-total"

	KeyPacketsSent                  = "packets-sent"
	KeyPacketsSentLost              = "packets-sent-lost"
	KeyPacketsRetransmitted         = "packets-retransmitted"
	KeyPacketAckReceived            = "packet-ack-received"
	KeyPacketNackReceived           = "packet-nack-received"
	KeySendDurationUs               = "send-duration-us"
	KeyBytesSent                    = "bytes-sent"
	KeyBytesRetransmitted           = "bytes-retransmitted"
	KeyBytesSentDropped             = "bytes-sent-dropped"
	KeyPacketsSentDropped           = "packets-sent-dropped"
	KeySendRateMbps                 = "send-rate-mbps"
	KeyNegotiatedLatencyMs          = "negotiated-latency-ms"
	KeyPacketsReceived              = "packets-received"
	KeyPacketsReceivedLost          = "packets-received-lost"
	KeyPacketsReceivedRetransmitted = "packets-received-retransmitted"
	KeyPacketsReceivedDropped       = "packets-received-dropped"
	KeyPacketAckSent                = "packet-ack-sent"
	KeyPacketNackSent               = "packet-nack-sent"
	KeyBytesReceived                = "bytes-received"
	KeyBytesReceivedLost            = "bytes-received-lost"
	KeyReceiveRateMbps              = "receive-rate-mbps"
	KeyBandwidthMbps                = "bandwidth-mbps"
	KeyRTTMs                        = "rtt-ms"
	KeyCallerAddress                = "caller-address"
)

// ConnectionStats holds the counters of one SRT connection.
// Counters never decrease during a connection's lifetime; rates and RTT are
// instantaneous samples.
type ConnectionStats struct {
	PacketsSent          int64   `json:"packets_sent"`
	PacketsSentLost      int32   `json:"packets_sent_lost"`
	PacketsRetransmitted int32   `json:"packets_retransmitted"`
	PacketAckReceived    int32   `json:"packet_ack_received"`
	PacketNackReceived   int32   `json:"packet_nack_received"`
	SendDurationUs       uint64  `json:"send_duration_us"`
	BytesSent            uint64  `json:"bytes_sent"`
	BytesRetransmitted   uint64  `json:"bytes_retransmitted"`
	BytesSentDropped     uint64  `json:"bytes_sent_dropped"`
	PacketsSentDropped   int32   `json:"packets_sent_dropped"`
	SendRateMbps         float64 `json:"send_rate_mbps"`
	NegotiatedLatencyMs  int32   `json:"negotiated_latency_ms"`

	PacketsReceived              int64   `json:"packets_received"`
	PacketsReceivedLost          int32   `json:"packets_received_lost"`
	PacketsReceivedRetransmitted int32   `json:"packets_received_retransmitted"`
	PacketsReceivedDropped       int32   `json:"packets_received_dropped"`
	PacketAckSent                int32   `json:"packet_ack_sent"`
	PacketNackSent               int32   `json:"packet_nack_sent"`
	BytesReceived                uint64  `json:"bytes_received"`
	BytesReceivedLost            uint64  `json:"bytes_received_lost"`
	ReceiveRateMbps              float64 `json:"receive_rate_mbps"`
	BandwidthMbps                float64 `json:"bandwidth_mbps"`
	RTTMs                        float64 `json:"rtt_ms"`

	// CallerAddress is nil when the transport does not report a peer.
	CallerAddress *string `json:"caller_address,omitempty"`
}

// RTT returns the round-trip time sample as a duration.
func (c ConnectionStats) RTT() time.Duration {
	return time.Duration(c.RTTMs * float64(time.Millisecond))
}

// NegotiatedLatency returns the negotiated receive latency.
func (c ConnectionStats) NegotiatedLatency() time.Duration {
	return time.Duration(c.NegotiatedLatencyMs) * time.Millisecond
}

// SendDuration returns the accumulated time the sender had data to transmit.
func (c ConnectionStats) SendDuration() time.Duration {
	return time.Duration(c.SendDurationUs) * time.Microsecond
}

// Peer returns the caller address or an empty string.
func (c ConnectionStats) Peer() string {
	if c.CallerAddress == nil {
		return ""
	}
	return *c.CallerAddress
}

// Report is an immutable snapshot of the ingest statistics.
type Report struct {
	// Callers holds one entry per currently accepted connection.
	Callers []ConnectionStats `json:"callers"`
	// BytesReceivedTotal persists across disconnects and is reported
	// independently of Callers.
	BytesReceivedTotal uint64 `json:"bytes_received_total"`
}

// Totals sums per-connection counters for display.
type Totals struct {
	Connections     int     `json:"connections"`
	PacketsReceived int64   `json:"packets_received"`
	PacketsLost     int64   `json:"packets_lost"`
	PacketsDropped  int64   `json:"packets_dropped"`
	ReceiveRateMbps float64 `json:"receive_rate_mbps"`
	MaxRTTMs        float64 `json:"max_rtt_ms"`
}

// Totals aggregates the current callers. It never feeds BytesReceivedTotal.
func (r *Report) Totals() Totals {
	t := Totals{Connections: len(r.Callers)}
	for _, c := range r.Callers {
		t.PacketsReceived += c.PacketsReceived
		t.PacketsLost += int64(c.PacketsReceivedLost)
		t.PacketsDropped += int64(c.PacketsReceivedDropped)
		t.ReceiveRateMbps += c.ReceiveRateMbps
		if c.RTTMs > t.MaxRTTMs {
			t.MaxRTTMs = c.RTTMs
		}
	}
	return t
}
