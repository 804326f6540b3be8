package streaming

import (
	"github.com/AlexxIT/go2rtc/pkg/h264"
	"github.com/pion/rtp"
)

// RTP payload types that carry or announce an H.264 keyframe.
const (
	nalSTAPA = 24
	nalFUA   = 28
)

// parameterSetInjector forwards H.264 RTP packets unchanged and sends the
// SPS and PPS in front of every IDR that does not already follow them.
type parameterSetInjector struct {
	sps, pps    []byte
	payloadType uint8
	emit        func(*rtp.Packet)

	// set when parameter sets went out since the last IDR
	primed bool
}

func newParameterSetInjector(sps, pps []byte, payloadType uint8, emit func(*rtp.Packet)) *parameterSetInjector {
	return &parameterSetInjector{sps: sps, pps: pps, payloadType: payloadType, emit: emit}
}

func (p *parameterSetInjector) handle(pkt *rtp.Packet) {
	if len(pkt.Payload) == 0 {
		return
	}

	switch nal := pkt.Payload[0] & 0x1F; {
	case nal == h264.NALUTypeSPS || nal == h264.NALUTypePPS:
		p.primed = true
	case nal == nalSTAPA && stapAHasParameterSets(pkt.Payload):
		p.primed = true
	case nal == h264.NALUTypeIFrame:
		p.beforeKeyframe(pkt)
	case nal == nalFUA && len(pkt.Payload) > 1:
		fu := pkt.Payload[1]
		if fu&0x80 != 0 && fu&0x1F == h264.NALUTypeIFrame {
			p.beforeKeyframe(pkt)
		}
	}

	p.emit(pkt)
}

func (p *parameterSetInjector) beforeKeyframe(pkt *rtp.Packet) {
	if !p.primed {
		for _, nal := range [][]byte{p.sps, p.pps} {
			if len(nal) == 0 {
				continue
			}
			p.emit(&rtp.Packet{
				Header: rtp.Header{
					Version:     2,
					PayloadType: p.payloadType,
					Timestamp:   pkt.Timestamp,
					SSRC:        pkt.SSRC,
				},
				Payload: nal,
			})
		}
	}
	p.primed = false
}

// stapAHasParameterSets reports whether an aggregation packet holds an SPS
// or PPS.
func stapAHasParameterSets(payload []byte) bool {
	for off := 1; off+2 <= len(payload); {
		size := int(payload[off])<<8 | int(payload[off+1])
		off += 2
		if size == 0 || off+size > len(payload) {
			return false
		}
		if nal := payload[off] & 0x1F; nal == h264.NALUTypeSPS || nal == h264.NALUTypePPS {
			return true
		}
		off += size
	}
	return false
}
