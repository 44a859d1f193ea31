package srtstats

import (
	"fmt"
	"math"
	"strings"

	"github.com/smazurov/srtrelay/internal/props"
)

// DecodeError identifies the field that failed to decode.
type DecodeError struct {
	// Connection is the index into the callers list, nil for top-level fields.
	Connection *int
	// Field is the report field name, Key the record key it is read from.
	Field string
	Key   string
	Cause error
}

func (e *DecodeError) Error() string {
	var sb strings.Builder
	sb.WriteString("decode statistics: ")
	if e.Connection != nil {
		fmt.Fprintf(&sb, "caller %d: ", *e.Connection)
	}
	fmt.Fprintf(&sb, "field %s (%s)", e.Field, e.Key)
	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	return sb.String()
}

func (e *DecodeError) Unwrap() error {
	return e.Cause
}

// Decode converts the raw statistics record into a Report.
//
// A missing or non-list "callers" entry means zero connections. Any caller
// entry that fails to decode fails the whole report; partial reports are
// never returned. Decode has no state and is safe for concurrent use.
func Decode(raw props.Structure) (*Report, error) {
	var callers []ConnectionStats

	if v, ok := raw.Get(KeyCallers); ok && v.Kind() == props.KindList {
		entries, _ := v.AsList()
		callers = make([]ConnectionStats, 0, len(entries))
		for i, entry := range entries {
			c, err := decodeConnection(entry, i)
			if err != nil {
				return nil, err
			}
			callers = append(callers, c)
		}
	} else {
		callers = []ConnectionStats{}
	}

	r := fieldReader{rec: raw}
	total := r.uint64(KeyBytesReceivedTotal)
	if r.err != nil {
		return nil, r.err
	}

	return &Report{
		Callers:            callers,
		BytesReceivedTotal: total,
	}, nil
}

func decodeConnection(rec props.Structure, index int) (ConnectionStats, error) {
	r := fieldReader{rec: rec, index: &index}

	c := ConnectionStats{
		PacketsSent:          r.int64(KeyPacketsSent),
		PacketsSentLost:      r.int32(KeyPacketsSentLost),
		PacketsRetransmitted: r.int32(KeyPacketsRetransmitted),
		PacketAckReceived:    r.int32(KeyPacketAckReceived),
		PacketNackReceived:   r.int32(KeyPacketNackReceived),
		SendDurationUs:       r.uint64(KeySendDurationUs),
		BytesSent:            r.uint64(KeyBytesSent),
		BytesRetransmitted:   r.uint64(KeyBytesRetransmitted),
		BytesSentDropped:     r.uint64(KeyBytesSentDropped),
		PacketsSentDropped:   r.int32(KeyPacketsSentDropped),
		SendRateMbps:         r.float64(KeySendRateMbps),
		NegotiatedLatencyMs:  r.int32(KeyNegotiatedLatencyMs),

		PacketsReceived:              r.int64(KeyPacketsReceived),
		PacketsReceivedLost:          r.int32(KeyPacketsReceivedLost),
		PacketsReceivedRetransmitted: r.int32(KeyPacketsReceivedRetransmitted),
		PacketsReceivedDropped:       r.int32(KeyPacketsReceivedDropped),
		PacketAckSent:                r.int32(KeyPacketAckSent),
		PacketNackSent:               r.int32(KeyPacketNackSent),
		BytesReceived:                r.uint64(KeyBytesReceived),
		BytesReceivedLost:            r.uint64(KeyBytesReceivedLost),
		ReceiveRateMbps:              r.float64(KeyReceiveRateMbps),
		BandwidthMbps:                r.float64(KeyBandwidthMbps),
		RTTMs:                        r.float64(KeyRTTMs),

		CallerAddress: r.optionalString(KeyCallerAddress),
	}
	if r.err != nil {
		return ConnectionStats{}, r.err
	}
	return c, nil
}

// fieldReader reads typed fields and keeps the first failure.
type fieldReader struct {
	rec   props.Structure
	index *int
	err   error
}

func (r *fieldReader) fail(key string, cause error) {
	if r.err != nil {
		return
	}
	r.err = &DecodeError{
		Connection: r.index,
		Field:      fieldName(key),
		Key:        key,
		Cause:      cause,
	}
}

func (r *fieldReader) int64(key string) int64 {
	if r.err != nil {
		return 0
	}
	v, err := r.rec.GetInt(key)
	if err != nil {
		r.fail(key, err)
	}
	return v
}

func (r *fieldReader) int32(key string) int32 {
	v := r.int64(key)
	if r.err != nil {
		return 0
	}
	if v < math.MinInt32 || v > math.MaxInt32 {
		r.fail(key, fmt.Errorf("value %d out of int32 range", v))
		return 0
	}
	return int32(v)
}

func (r *fieldReader) uint64(key string) uint64 {
	if r.err != nil {
		return 0
	}
	v, err := r.rec.GetUint(key)
	if err != nil {
		r.fail(key, err)
	}
	return v
}

func (r *fieldReader) float64(key string) float64 {
	if r.err != nil {
		return 0
	}
	v, err := r.rec.GetFloat(key)
	if err != nil {
		r.fail(key, err)
	}
	return v
}

func (r *fieldReader) optionalString(key string) *string {
	if r.err != nil {
		return nil
	}
	v, ok := r.rec.Get(key)
	if !ok {
		return nil
	}
	s, err := v.AsString()
	if err != nil {
		r.fail(key, err)
		return nil
	}
	return &s
}

// fieldName maps a record key to the report field name: "rtt-ms" -> "rtt_ms".
func fieldName(key string) string {
	return strings.ReplaceAll(key, "-", "_")
}
