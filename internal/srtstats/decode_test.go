package srtstats

import (
	"errors"
	"reflect"
	"testing"

	"github.com/smazurov/srtrelay/internal/props"
)

func sampleConnection(addr string) ConnectionStats {
	c := ConnectionStats{
		PacketsSent:                  10,
		PacketsSentLost:              1,
		PacketsRetransmitted:         2,
		PacketAckReceived:            3,
		PacketNackReceived:           4,
		SendDurationUs:               5000,
		BytesSent:                    13160,
		BytesRetransmitted:           2632,
		BytesSentDropped:             0,
		PacketsSentDropped:           0,
		SendRateMbps:                 0.25,
		NegotiatedLatencyMs:          120,
		PacketsReceived:              9000,
		PacketsReceivedLost:          12,
		PacketsReceivedRetransmitted: 11,
		PacketsReceivedDropped:       1,
		PacketAckSent:                800,
		PacketNackSent:               9,
		BytesReceived:                11844000,
		BytesReceivedLost:            15792,
		ReceiveRateMbps:              4.8,
		BandwidthMbps:                98.5,
		RTTMs:                        23.5,
	}
	if addr != "" {
		c.CallerAddress = &addr
	}
	return c
}

func TestDecodeWithoutCallers(t *testing.T) {
	raw := props.NewStructure(StructureName,
		props.F(KeyBytesReceivedTotal, props.Uint(4096)),
	)

	report, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	want := &Report{Callers: []ConnectionStats{}, BytesReceivedTotal: 4096}
	if !reflect.DeepEqual(report, want) {
		t.Errorf("Decode = %+v, want %+v", report, want)
	}
}

func TestDecodeCallersNotAList(t *testing.T) {
	raw := props.NewStructure(StructureName,
		props.F(KeyCallers, props.String("none")),
		props.F(KeyBytesReceivedTotal, props.Uint(1)),
	)

	report, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(report.Callers) != 0 {
		t.Errorf("expected zero callers, got %d", len(report.Callers))
	}
}

func TestDecodeMissingTotal(t *testing.T) {
	raw := Encode([]ConnectionStats{sampleConnection("")}, 0).Without(KeyBytesReceivedTotal)

	report, err := Decode(raw)
	if report != nil {
		t.Errorf("expected no report, got %+v", report)
	}

	var decErr *DecodeError
	if !errors.As(err, &decErr) {
		t.Fatalf("expected *DecodeError, got %v", err)
	}
	if decErr.Connection != nil {
		t.Errorf("expected top-level error, got caller %d", *decErr.Connection)
	}
	if decErr.Field != "bytes_received_total" {
		t.Errorf("Field = %q", decErr.Field)
	}
	if !errors.Is(err, props.ErrFieldMissing) {
		t.Errorf("expected ErrFieldMissing cause, got %v", decErr.Cause)
	}
}

func TestDecodeAllCallers(t *testing.T) {
	callers := []ConnectionStats{
		sampleConnection("10.0.0.1:40000"),
		sampleConnection(""),
		sampleConnection("10.0.0.3:40002"),
	}

	report, err := Decode(Encode(callers, 123456))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !reflect.DeepEqual(report.Callers, callers) {
		t.Errorf("callers mismatch:\n got %+v\nwant %+v", report.Callers, callers)
	}
	if report.BytesReceivedTotal != 123456 {
		t.Errorf("BytesReceivedTotal = %d", report.BytesReceivedTotal)
	}
	if report.Callers[1].CallerAddress != nil {
		t.Error("absent caller-address should decode to nil")
	}
}

func TestDecodeTotalIsNotDerivedFromCallers(t *testing.T) {
	c := sampleConnection("")
	report, err := Decode(Encode([]ConnectionStats{c, c}, 7))
	if err != nil {
		t.Fatal(err)
	}
	if report.BytesReceivedTotal != 7 {
		t.Errorf("BytesReceivedTotal = %d, want 7", report.BytesReceivedTotal)
	}
}

func TestDecodeFailsOnThirdCaller(t *testing.T) {
	good := EncodeConnection(sampleConnection(""))
	bad := good.Without(KeyPacketsReceivedLost)

	raw := props.NewStructure(StructureName,
		props.F(KeyCallers, props.List(good, good, bad, good)),
		props.F(KeyBytesReceivedTotal, props.Uint(99)),
	)

	report, err := Decode(raw)
	if report != nil {
		t.Fatalf("expected no partial report, got %+v", report)
	}

	var decErr *DecodeError
	if !errors.As(err, &decErr) {
		t.Fatalf("expected *DecodeError, got %v", err)
	}
	if decErr.Connection == nil || *decErr.Connection != 2 {
		t.Fatalf("expected caller index 2, got %v", decErr.Connection)
	}
	if decErr.Field != "packets_received_lost" || decErr.Key != KeyPacketsReceivedLost {
		t.Errorf("unexpected field %q / key %q", decErr.Field, decErr.Key)
	}
}

func TestDecodeRejectsCoercion(t *testing.T) {
	base := EncodeConnection(sampleConnection(""))

	tests := []struct {
		name  string
		key   string
		value props.Value
	}{
		{"float for int64 counter", KeyPacketsSent, props.Float(10)},
		{"signed for unsigned bytes", KeyBytesReceived, props.Int(10)},
		{"unsigned for signed counter", KeyPacketAckSent, props.Uint(10)},
		{"int for float rate", KeyRTTMs, props.Int(20)},
		{"int32 overflow", KeyNegotiatedLatencyMs, props.Int(1 << 40)},
		{"string for counter", KeyPacketsReceived, props.String("9000")},
		{"wrong type caller address", KeyCallerAddress, props.Uint(1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := props.NewStructure(StructureName,
				props.F(KeyCallers, props.List(base.With(tt.key, tt.value))),
				props.F(KeyBytesReceivedTotal, props.Uint(1)),
			)
			_, err := Decode(raw)

			var decErr *DecodeError
			if !errors.As(err, &decErr) {
				t.Fatalf("expected *DecodeError, got %v", err)
			}
			if decErr.Key != tt.key {
				t.Errorf("Key = %q, want %q", decErr.Key, tt.key)
			}
			if decErr.Connection == nil || *decErr.Connection != 0 {
				t.Errorf("expected caller index 0")
			}
		})
	}
}

func TestDecodeIsIdempotent(t *testing.T) {
	raw := Encode([]ConnectionStats{sampleConnection("192.0.2.10:5000"), sampleConnection("")}, 5555)

	first, err := Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	second, err := Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("decode not idempotent:\n%+v\n%+v", first, second)
	}
	if first == second {
		t.Error("reports must be distinct snapshots")
	}
}

func TestDurationHelpers(t *testing.T) {
	c := sampleConnection("")
	if got := c.NegotiatedLatency().Milliseconds(); got != 120 {
		t.Errorf("NegotiatedLatency = %dms", got)
	}
	if got := c.SendDuration().Microseconds(); got != 5000 {
		t.Errorf("SendDuration = %dus", got)
	}
	if got := c.RTT().Microseconds(); got != 23500 {
		t.Errorf("RTT = %dus", got)
	}
}

func TestTotals(t *testing.T) {
	a := sampleConnection("")
	b := sampleConnection("")
	b.RTTMs = 80
	r := &Report{Callers: []ConnectionStats{a, b}, BytesReceivedTotal: 1}

	totals := r.Totals()
	if totals.Connections != 2 || totals.PacketsReceived != 18000 || totals.MaxRTTMs != 80 {
		t.Errorf("unexpected totals %+v", totals)
	}
}
