package streaming

import (
	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/nack"
	"github.com/pion/interceptor/pkg/report"
	"github.com/pion/interceptor/pkg/stats"
	"github.com/pion/interceptor/pkg/twcc"
	"github.com/pion/rtcp"
	pion "github.com/pion/webrtc/v4"
	"github.com/smazurov/camrelay/internal/metrics"
)

// nackBufferSize is the number of sent packets kept for retransmission,
// about two seconds of 1080p30 at 8 Mbit/s.
const nackBufferSize = 2048

// srtpReplayWindow must cover nackBufferSize.
const srtpReplayWindow = 4096

// h264Profiles are the profile-level-ids offered to browsers. libx264 at
// the ultrafast preset produces constrained baseline; the others let
// browsers that only list High negotiate.
var h264Profiles = []struct {
	payloadType uint8
	profile     string
}{
	{96, "42e01f"},
	{97, "42001f"},
	{98, "4d001f"},
	{99, "64001f"},
	{100, "640028"},
}

// NewWebRTCAPI builds a pion API for one stream: H.264 only, NACK with a
// retransmission buffer, RTCP reports, TWCC and RTCP feedback metrics.
func NewWebRTCAPI(stream string) (*pion.API, error) {
	m := &pion.MediaEngine{}
	if err := registerCodecs(m); err != nil {
		return nil, err
	}

	i := &interceptor.Registry{}
	if err := configureInterceptors(m, i); err != nil {
		return nil, err
	}
	i.Add(&feedbackCounterFactory{stream: stream})

	s := pion.SettingEngine{}
	s.SetDTLSInsecureSkipHelloVerify(true)
	s.SetSRTPReplayProtectionWindow(srtpReplayWindow)

	return pion.NewAPI(
		pion.WithMediaEngine(m),
		pion.WithInterceptorRegistry(i),
		pion.WithSettingEngine(s),
	), nil
}

func registerCodecs(m *pion.MediaEngine) error {
	feedback := []pion.RTCPFeedback{
		{Type: "goog-remb"},
		{Type: "ccm", Parameter: "fir"},
		{Type: "nack"},
		{Type: "nack", Parameter: "pli"},
	}

	for _, p := range h264Profiles {
		codec := pion.RTPCodecParameters{
			RTPCodecCapability: pion.RTPCodecCapability{
				MimeType:     pion.MimeTypeH264,
				ClockRate:    90000,
				SDPFmtpLine:  "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=" + p.profile,
				RTCPFeedback: feedback,
			},
			PayloadType: pion.PayloadType(p.payloadType),
		}
		if err := m.RegisterCodec(codec, pion.RTPCodecTypeVideo); err != nil {
			return err
		}
	}
	return nil
}

func configureInterceptors(m *pion.MediaEngine, i *interceptor.Registry) error {
	responder, err := nack.NewResponderInterceptor(nack.ResponderSize(nackBufferSize))
	if err != nil {
		return err
	}
	generator, err := nack.NewGeneratorInterceptor()
	if err != nil {
		return err
	}
	m.RegisterFeedback(pion.RTCPFeedback{Type: "nack"}, pion.RTPCodecTypeVideo)
	m.RegisterFeedback(pion.RTCPFeedback{Type: "nack", Parameter: "pli"}, pion.RTPCodecTypeVideo)
	i.Add(responder)
	i.Add(generator)

	receiver, err := report.NewReceiverInterceptor()
	if err != nil {
		return err
	}
	sender, err := report.NewSenderInterceptor()
	if err != nil {
		return err
	}
	i.Add(receiver)
	i.Add(sender)

	statsInterceptor, err := stats.NewInterceptor()
	if err != nil {
		return err
	}
	i.Add(statsInterceptor)

	m.RegisterFeedback(pion.RTCPFeedback{Type: pion.TypeRTCPFBTransportCC}, pion.RTPCodecTypeVideo)
	twccSender, err := twcc.NewSenderInterceptor()
	if err != nil {
		return err
	}
	i.Add(twccSender)

	return nil
}

type feedbackCounterFactory struct {
	stream string
}

func (f *feedbackCounterFactory) NewInterceptor(_ string) (interceptor.Interceptor, error) {
	return &feedbackCounter{stream: f.stream}, nil
}

// feedbackCounter counts RTCP feedback from the browser.
type feedbackCounter struct {
	interceptor.NoOp
	stream string
}

func (c *feedbackCounter) BindRTCPReader(reader interceptor.RTCPReader) interceptor.RTCPReader {
	return interceptor.RTCPReaderFunc(func(b []byte, a interceptor.Attributes) (int, interceptor.Attributes, error) {
		n, attr, err := reader.Read(b, a)
		if err != nil {
			return n, attr, err
		}
		if packets, perr := rtcp.Unmarshal(b[:n]); perr == nil {
			countFeedback(c.stream, packets)
		}
		return n, attr, nil
	})
}

func countFeedback(stream string, packets []rtcp.Packet) {
	for _, pkt := range packets {
		metrics.AddWebRTCFeedback(stream, metrics.FeedbackRTCP, 1)
		switch p := pkt.(type) {
		case *rtcp.TransportLayerNack:
			lost := 0
			for _, pair := range p.Nacks {
				lost += len(pair.PacketList())
			}
			metrics.AddWebRTCFeedback(stream, metrics.FeedbackNACK, lost)
		case *rtcp.PictureLossIndication:
			metrics.AddWebRTCFeedback(stream, metrics.FeedbackPLI, 1)
		case *rtcp.FullIntraRequest:
			metrics.AddWebRTCFeedback(stream, metrics.FeedbackFIR, 1)
		}
	}
}
