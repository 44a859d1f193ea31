package preview

import (
	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/nack"
	"github.com/pion/interceptor/pkg/report"
	"github.com/pion/interceptor/pkg/stats"
	"github.com/pion/interceptor/pkg/twcc"
	"github.com/pion/rtcp"
	pion "github.com/pion/webrtc/v4"
)

// NACKBufferSize is the number of packets kept for retransmission.
// Contribution feeds run at up to ~20Mbit/s, so 4096 packets hold about two
// seconds of video.
const NACKBufferSize = 4096

// SRTPReplayProtectionWindow must be at least as large as NACKBufferSize.
const SRTPReplayProtectionWindow = 8192

// NewAPI creates the pion API used for preview peers: the codecs the relay
// can forward, NACK with a large responder buffer, RTCP reports, TWCC and an
// RTCP monitor feeding the preview metrics.
func NewAPI() (*pion.API, error) {
	m := &pion.MediaEngine{}
	if err := registerCodecs(m); err != nil {
		return nil, err
	}

	i := &interceptor.Registry{}
	if err := configureInterceptors(m, i); err != nil {
		return nil, err
	}
	i.Add(&rtcpMonitorFactory{})

	s := pion.SettingEngine{}
	s.SetDTLSInsecureSkipHelloVerify(true)
	s.SetSRTPReplayProtectionWindow(SRTPReplayProtectionWindow)

	return pion.NewAPI(
		pion.WithMediaEngine(m),
		pion.WithInterceptorRegistry(i),
		pion.WithSettingEngine(s),
	), nil
}

// registerCodecs registers H.264 in the profiles encoders commonly send over
// SRT, plus Opus so browsers negotiate an audio section. AAC has no WebRTC
// payload format and is not previewed.
func registerCodecs(m *pion.MediaEngine) error {
	if err := m.RegisterCodec(pion.RTPCodecParameters{
		RTPCodecCapability: pion.RTPCodecCapability{
			MimeType: pion.MimeTypeOpus, ClockRate: 48000, Channels: 2,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		PayloadType: 111,
	}, pion.RTPCodecTypeAudio); err != nil {
		return err
	}

	feedback := []pion.RTCPFeedback{
		{Type: "goog-remb"},
		{Type: "ccm", Parameter: "fir"},
		{Type: "nack"},
		{Type: "nack", Parameter: "pli"},
	}
	profiles := []struct {
		pt      pion.PayloadType
		profile string
	}{
		{96, "42001f"}, // constrained baseline 3.1
		{97, "42e01f"},
		{98, "4d001f"}, // main 3.1
		{99, "64001f"}, // high 3.1
		{100, "640028"},
		{101, "640032"},
	}
	for _, p := range profiles {
		if err := m.RegisterCodec(pion.RTPCodecParameters{
			RTPCodecCapability: pion.RTPCodecCapability{
				MimeType:     pion.MimeTypeH264,
				ClockRate:    90000,
				SDPFmtpLine:  "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=" + p.profile,
				RTCPFeedback: feedback,
			},
			PayloadType: p.pt,
		}, pion.RTPCodecTypeVideo); err != nil {
			return err
		}
	}
	return nil
}

func configureInterceptors(m *pion.MediaEngine, i *interceptor.Registry) error {
	generator, err := nack.NewGeneratorInterceptor()
	if err != nil {
		return err
	}
	responder, err := nack.NewResponderInterceptor(nack.ResponderSize(NACKBufferSize))
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
	m.RegisterFeedback(pion.RTCPFeedback{Type: pion.TypeRTCPFBTransportCC}, pion.RTPCodecTypeAudio)
	twccSender, err := twcc.NewSenderInterceptor()
	if err != nil {
		return err
	}
	i.Add(twccSender)
	return nil
}

type rtcpMonitorFactory struct{}

func (rtcpMonitorFactory) NewInterceptor(_ string) (interceptor.Interceptor, error) {
	return &rtcpMonitor{}, nil
}

// rtcpMonitor counts the feedback preview peers send back.
type rtcpMonitor struct {
	interceptor.NoOp
}

func (*rtcpMonitor) BindRTCPReader(reader interceptor.RTCPReader) interceptor.RTCPReader {
	return &rtcpMonitorReader{reader: reader}
}

type rtcpMonitorReader struct {
	reader interceptor.RTCPReader
}

func (r *rtcpMonitorReader) Read(b []byte, a interceptor.Attributes) (int, interceptor.Attributes, error) {
	n, attr, err := r.reader.Read(b, a)
	if err != nil {
		return n, attr, err
	}
	packets, parseErr := rtcp.Unmarshal(b[:n])
	if parseErr != nil {
		return n, attr, nil
	}
	countRTCP(packets)
	return n, attr, nil
}

func countRTCP(packets []rtcp.Packet) {
	for _, pkt := range packets {
		rtcpPackets.Inc()
		switch p := pkt.(type) {
		case *rtcp.TransportLayerNack:
			count := 0
			for _, nack := range p.Nacks {
				count += len(nack.PacketList())
			}
			nacksReceived.Add(float64(count))
		case *rtcp.PictureLossIndication:
			plisReceived.Inc()
		case *rtcp.FullIntraRequest:
			firsReceived.Inc()
		}
	}
}
