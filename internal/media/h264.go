package media

import (
	"encoding/base64"
	"encoding/binary"
	"strings"
	"sync/atomic"

	"github.com/AlexxIT/go2rtc/pkg/core"
	"github.com/pion/rtp"
)

// H.264 NAL unit types the parser inspects.
const (
	nalIDR = 5
	nalSPS = 7
	nalPPS = 8
)

// h264Handler works on AVCC access units (4 byte length prefixed NAL
// units) as produced by the transport stream demuxer. Late joiners of the
// RTMP stream need parameter sets in front of every IDR frame, so the last
// SPS/PPS seen in-band (or announced in the codec fmtp line) are repeated
// when an IDR arrives without them.
type h264Handler struct {
	out    func(*rtp.Packet)
	frames *atomic.Uint64

	sps, pps []byte
}

func newH264Handler(codec *core.Codec, out func(*rtp.Packet), frames *atomic.Uint64) func(*rtp.Packet) {
	sps, pps := parseSpsPps(codec.FmtpLine)
	h := &h264Handler{out: out, frames: frames, sps: sps, pps: pps}
	return h.handlePacket
}

func (h *h264Handler) handlePacket(packet *rtp.Packet) {
	if len(packet.Payload) == 0 {
		return
	}
	h.frames.Add(1)

	nals, ok := splitAVCC(packet.Payload)
	if !ok {
		h.out(packet)
		return
	}

	var idr, inBandPS bool
	for _, nal := range nals {
		switch nal[0] & 0x1F {
		case nalSPS:
			h.sps = append(h.sps[:0], nal...)
			inBandPS = true
		case nalPPS:
			h.pps = append(h.pps[:0], nal...)
			inBandPS = true
		case nalIDR:
			idr = true
		}
	}

	if !idr {
		h.out(packet)
		return
	}
	if inBandPS || len(h.sps) == 0 || len(h.pps) == 0 {
		h.out(packet)
		return
	}

	// Packets are shared with other consumers of the track; never modify.
	payload := make([]byte, 0, 8+len(h.sps)+len(h.pps)+len(packet.Payload))
	payload = appendAVCC(payload, h.sps)
	payload = appendAVCC(payload, h.pps)
	payload = append(payload, packet.Payload...)
	h.out(&rtp.Packet{Header: packet.Header, Payload: payload})
}

// splitAVCC returns the NAL units of an AVCC access unit. ok is false when
// the payload is not length prefixed.
func splitAVCC(b []byte) (nals [][]byte, ok bool) {
	for len(b) > 0 {
		if len(b) < 4 {
			return nil, false
		}
		size := int(binary.BigEndian.Uint32(b))
		b = b[4:]
		if size == 0 || size > len(b) {
			return nil, false
		}
		nals = append(nals, b[:size])
		b = b[size:]
	}
	return nals, len(nals) > 0
}

func appendAVCC(dst, nal []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(nal)))
	return append(dst, nal...)
}

// parseSpsPps extracts SPS and PPS from the codec's fmtp line.
func parseSpsPps(fmtpLine string) (sps, pps []byte) {
	const prefix = "sprop-parameter-sets="

	idx := strings.Index(fmtpLine, prefix)
	if idx < 0 {
		return nil, nil
	}

	value := fmtpLine[idx+len(prefix):]
	if semi := strings.Index(value, ";"); semi >= 0 {
		value = value[:semi]
	}

	parts := strings.SplitN(value, ",", 2)
	if len(parts) != 2 {
		return nil, nil
	}

	sps, _ = base64.StdEncoding.DecodeString(parts[0])
	pps, _ = base64.StdEncoding.DecodeString(parts[1])
	return sps, pps
}
