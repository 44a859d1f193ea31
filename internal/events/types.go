package events

import "github.com/smazurov/srtrelay/internal/srtstats"

// Event type constants for kelindar/event.
const (
	TypeStatsSampled uint32 = iota + 1
	TypeStatsDecodeFailed
	TypeRouteBound
	TypeRouteDegraded
	TypePipelineState
	TypeCallerConnected
	TypeLogEntry
)

// Event is implemented by everything published on the Bus.
type Event interface {
	Type() uint32
}

// StatsSampledEvent carries a freshly decoded SRT statistics report.
type StatsSampledEvent struct {
	Report    srtstats.Report `json:"report" doc:"Decoded SRT statistics"`
	Timestamp string          `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Sample time"`
}

// Type returns the event type identifier for StatsSampledEvent.
func (e StatsSampledEvent) Type() uint32 { return TypeStatsSampled }

// StatsDecodeFailedEvent reports a statistics sample that could not be decoded.
type StatsDecodeFailedEvent struct {
	Connection *int   `json:"connection,omitempty" example:"2" doc:"Index of the failing caller, absent for top-level fields"`
	Field      string `json:"field,omitempty" example:"packets_received_lost" doc:"Report field"`
	Key        string `json:"key,omitempty" example:"packets-received-lost" doc:"Record key"`
	Error      string `json:"error" doc:"Decode error"`
	Timestamp  string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Sample time"`
}

// Type returns the event type identifier for StatsDecodeFailedEvent.
func (e StatsDecodeFailedEvent) Type() uint32 { return TypeStatsDecodeFailed }

// RouteBoundEvent is published when a discovered stream is bound to its slot.
type RouteBoundEvent struct {
	Slot      string `json:"slot" example:"video" doc:"Destination slot"`
	Tag       string `json:"tag" example:"video/x-h264" doc:"Media type of the stream"`
	Pad       string `json:"pad" example:"tsdemux:video_0100" doc:"Demuxer pad"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event time"`
}

// Type returns the event type identifier for RouteBoundEvent.
func (e RouteBoundEvent) Type() uint32 { return TypeRouteBound }

// RouteDegradedEvent is published for streams that were not bound.
type RouteDegradedEvent struct {
	Outcome   string `json:"outcome" example:"already-bound" enum:"unhandled,already-bound,link-failed" doc:"Routing outcome"`
	Slot      string `json:"slot,omitempty" example:"video" doc:"Target slot, empty when unhandled"`
	Tag       string `json:"tag" example:"video/x-h264" doc:"Media type of the stream"`
	Pad       string `json:"pad" example:"tsdemux:video_0101" doc:"Demuxer pad"`
	Error     string `json:"error,omitempty" doc:"Routing error"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event time"`
}

// Type returns the event type identifier for RouteDegradedEvent.
func (e RouteDegradedEvent) Type() uint32 { return TypeRouteDegraded }

// PipelineStateEvent is published on every control loop transition.
type PipelineStateEvent struct {
	From      string `json:"from" example:"assembling" doc:"Previous state"`
	To        string `json:"to" example:"playing" doc:"New state"`
	Element   string `json:"element,omitempty" example:"rtmpsink" doc:"Element that caused the transition"`
	Error     string `json:"error,omitempty" doc:"Error that caused the transition"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event time"`
}

// Type returns the event type identifier for PipelineStateEvent.
func (e PipelineStateEvent) Type() uint32 { return TypePipelineState }

// CallerConnectedEvent is published for every SRT connection attempt.
type CallerConnectedEvent struct {
	CallerAddress string `json:"caller_address" example:"192.0.2.10:50000" doc:"Remote address"`
	StreamID      string `json:"stream_id,omitempty" example:"cam1" doc:"SRT stream id"`
	Accepted      bool   `json:"accepted" doc:"Whether the caller was accepted"`
	Reason        string `json:"reason,omitempty" example:"bad passphrase" doc:"Rejection reason"`
	Timestamp     string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event time"`
}

// Type returns the event type identifier for CallerConnectedEvent.
func (e CallerConnectedEvent) Type() uint32 { return TypeCallerConnected }

// LogEntryEvent carries one log line to SSE clients.
type LogEntryEvent struct {
	Seq        uint64         `json:"seq" example:"42" doc:"Monotonic sequence number"`
	Timestamp  string         `json:"timestamp" example:"2025-01-09T10:30:00.123Z" doc:"Log timestamp"`
	Level      string         `json:"level" example:"info" doc:"Log level"`
	Module     string         `json:"module" example:"router" doc:"Source module"`
	Message    string         `json:"message" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured log attributes"`
}

// Type returns the event type identifier for LogEntryEvent.
func (e LogEntryEvent) Type() uint32 { return TypeLogEntry }
