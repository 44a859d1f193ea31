package media

import (
	"strings"

	"github.com/AlexxIT/go2rtc/pkg/core"
	"github.com/smazurov/srtrelay/internal/graph"
	"github.com/smazurov/srtrelay/internal/props"
)

// Media types produced and accepted by the native elements.
const (
	CapsH264     = "video/x-h264"
	CapsH265     = "video/x-h265"
	CapsAAC      = "audio/mpeg"
	CapsOpus     = "audio/x-opus"
	CapsMPEGTS   = "video/mpegts"
	CapsFLV      = "video/x-flv"
	capsPrefixed = "application/x-"
)

// CapsForCodec derives caps from a demuxed codec. Codecs the relay has no
// route for still get caps so the router can classify them as unhandled.
func CapsForCodec(codec *core.Codec) graph.Caps {
	var fields []props.Field
	if codec.ClockRate > 0 {
		fields = append(fields, props.F("clock-rate", props.Uint(uint64(codec.ClockRate))))
	}
	if codec.Channels > 0 {
		fields = append(fields, props.F("channels", props.Uint(uint64(codec.Channels))))
	}

	switch codec.Name {
	case core.CodecH264:
		return graph.NewCaps(CapsH264, append(fields, props.F("stream-format", props.String("avc")))...)
	case core.CodecH265:
		return graph.NewCaps(CapsH265, fields...)
	case core.CodecAAC:
		return graph.NewCaps(CapsAAC, append(fields, props.F("mpegversion", props.Int(4)))...)
	case core.CodecOpus:
		return graph.NewCaps(CapsOpus, fields...)
	default:
		return graph.NewCaps(capsPrefixed+strings.ToLower(codec.Name), fields...)
	}
}

// kindOf maps caps to the go2rtc media kind.
func kindOf(caps graph.Caps) string {
	if strings.HasPrefix(caps.MediaType(), "video/") {
		return core.KindVideo
	}
	if strings.HasPrefix(caps.MediaType(), "audio/") {
		return core.KindAudio
	}
	return ""
}

// recvMedia describes a track produced inside the graph.
func recvMedia(codec *core.Codec) *core.Media {
	return &core.Media{
		Kind:      core.GetKind(codec.Name),
		Direction: core.DirectionRecvonly,
		Codecs:    []*core.Codec{codec},
	}
}
