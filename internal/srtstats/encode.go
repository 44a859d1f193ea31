package srtstats

import "github.com/smazurov/srtrelay/internal/props"

// StructureName is the name of the statistics record.
const StructureName = "application/x-srt-statistics"

// EncodeConnection builds the record of one connection.
func EncodeConnection(c ConnectionStats) props.Structure {
	fields := []props.Field{
		props.F(KeyPacketsSent, props.Int(c.PacketsSent)),
		props.F(KeyPacketsSentLost, props.Int(int64(c.PacketsSentLost))),
		props.F(KeyPacketsRetransmitted, props.Int(int64(c.PacketsRetransmitted))),
		props.F(KeyPacketAckReceived, props.Int(int64(c.PacketAckReceived))),
		props.F(KeyPacketNackReceived, props.Int(int64(c.PacketNackReceived))),
		props.F(KeySendDurationUs, props.Uint(c.SendDurationUs)),
		props.F(KeyBytesSent, props.Uint(c.BytesSent)),
		props.F(KeyBytesRetransmitted, props.Uint(c.BytesRetransmitted)),
		props.F(KeyBytesSentDropped, props.Uint(c.BytesSentDropped)),
		props.F(KeyPacketsSentDropped, props.Int(int64(c.PacketsSentDropped))),
		props.F(KeySendRateMbps, props.Float(c.SendRateMbps)),
		props.F(KeyNegotiatedLatencyMs, props.Int(int64(c.NegotiatedLatencyMs))),
		props.F(KeyPacketsReceived, props.Int(c.PacketsReceived)),
		props.F(KeyPacketsReceivedLost, props.Int(int64(c.PacketsReceivedLost))),
		props.F(KeyPacketsReceivedRetransmitted, props.Int(int64(c.PacketsReceivedRetransmitted))),
		props.F(KeyPacketsReceivedDropped, props.Int(int64(c.PacketsReceivedDropped))),
		props.F(KeyPacketAckSent, props.Int(int64(c.PacketAckSent))),
		props.F(KeyPacketNackSent, props.Int(int64(c.PacketNackSent))),
		props.F(KeyBytesReceived, props.Uint(c.BytesReceived)),
		props.F(KeyBytesReceivedLost, props.Uint(c.BytesReceivedLost)),
		props.F(KeyReceiveRateMbps, props.Float(c.ReceiveRateMbps)),
		props.F(KeyBandwidthMbps, props.Float(c.BandwidthMbps)),
		props.F(KeyRTTMs, props.Float(c.RTTMs)),
	}
	if c.CallerAddress != nil {
		fields = append(fields, props.F(KeyCallerAddress, props.String(*c.CallerAddress)))
	}
	return props.NewStructure(StructureName, fields...)
}

// Encode builds the statistics record for a set of connections. The
// "callers" list is omitted when there are no connections.
func Encode(callers []ConnectionStats, bytesReceivedTotal uint64) props.Structure {
	fields := []props.Field{
		props.F(KeyBytesReceivedTotal, props.Uint(bytesReceivedTotal)),
	}
	if len(callers) > 0 {
		records := make([]props.Structure, len(callers))
		for i, c := range callers {
			records[i] = EncodeConnection(c)
		}
		fields = append(fields, props.F(KeyCallers, props.List(records...)))
	}
	return props.NewStructure(StructureName, fields...)
}
