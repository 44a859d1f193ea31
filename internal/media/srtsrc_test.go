package media

import (
	"context"
	"errors"
	"io"
	"math"
	"sync"
	"testing"
	"time"

	srt "github.com/datarhei/gosrt"
	"github.com/smazurov/srtrelay/internal/graph"
	"github.com/smazurov/srtrelay/internal/srtstats"
)

type fakeConn struct {
	mu     sync.Mutex
	stats  srt.Statistics
	chunks chan []byte
	closed bool
}

func newFakeConn(byteRecv, pktRecv uint64) *fakeConn {
	c := &fakeConn{chunks: make(chan []byte, 4)}
	c.stats.Accumulated.ByteRecv = byteRecv
	c.stats.Accumulated.PktRecv = pktRecv
	c.stats.Instantaneous.MsRTT = 12.5
	return c
}

func (c *fakeConn) Read(p []byte) (int, error) {
	b, ok := <-c.chunks
	if !ok {
		return 0, io.EOF
	}
	return copy(p, b), nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.chunks)
	}
	return nil
}

func (c *fakeConn) Stats(s *srt.Statistics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	*s = c.stats
}

func newTestSource() *SRTSource {
	return NewSRTSource("srtsrc", SRTSourceConfig{Address: "127.0.0.1:0", Passphrase: "0123456789"}, nil, quiet)
}

func TestSourceStatsProperty(t *testing.T) {
	s := newTestSource()

	raw, err := s.StructureProperty("stats")
	if err != nil {
		t.Fatal(err)
	}
	report, err := srtstats.Decode(raw)
	if err != nil {
		t.Fatalf("empty stats should decode: %v", err)
	}
	if len(report.Callers) != 0 || report.BytesReceivedTotal != 0 {
		t.Errorf("report = %+v", report)
	}

	s.register(newFakeConn(1000, 10), "10.0.0.1:4000", "cam")
	s.register(newFakeConn(500, 5), "10.0.0.2:4000", "")

	raw, _ = s.StructureProperty("stats")
	report, err = srtstats.Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Callers) != 2 {
		t.Fatalf("callers = %d", len(report.Callers))
	}
	if report.BytesReceivedTotal != 1500 {
		t.Errorf("total = %d, want 1500", report.BytesReceivedTotal)
	}
	if report.Callers[0].Peer() != "10.0.0.1:4000" || report.Callers[0].PacketsReceived != 10 {
		t.Errorf("first caller = %+v", report.Callers[0])
	}
	if report.Callers[0].RTTMs != 12.5 {
		t.Errorf("rtt = %v", report.Callers[0].RTTMs)
	}
}

func TestSourceUnknownProperty(t *testing.T) {
	s := newTestSource()
	if _, err := s.StructureProperty("latency"); !errors.Is(err, graph.ErrNoSuchProperty) {
		t.Errorf("err = %v, want ErrNoSuchProperty", err)
	}
}

func TestSourceFeederHandover(t *testing.T) {
	s := newTestSource()

	first := s.register(newFakeConn(800, 8), "10.0.0.1:4000", "a")
	second := s.register(newFakeConn(200, 2), "10.0.0.2:4000", "b")
	third := s.register(newFakeConn(0, 0), "10.0.0.3:4000", "c")

	if !s.isFeeder(first) || s.isFeeder(second) {
		t.Fatal("the first caller should feed the demuxer")
	}

	s.unregister(first)
	if !s.isFeeder(second) {
		t.Error("the oldest remaining caller should take over")
	}
	if s.Callers() != 2 {
		t.Errorf("callers = %d", s.Callers())
	}

	s.unregister(third)
	if !s.isFeeder(second) {
		t.Error("removing a standby caller must not change the feeder")
	}

	raw, _ := s.StructureProperty("stats")
	report, err := srtstats.Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	if report.BytesReceivedTotal != 1000 {
		t.Errorf("total = %d, want bytes of departed and live callers", report.BytesReceivedTotal)
	}

	s.unregister(second)
	raw, _ = s.StructureProperty("stats")
	report, _ = srtstats.Decode(raw)
	if len(report.Callers) != 0 || report.BytesReceivedTotal != 1000 {
		t.Errorf("total must survive disconnects, got %+v", report)
	}
}

func TestSourceClosesCallersAcceptedDuringTeardown(t *testing.T) {
	s := newTestSource()
	if err := s.SetState(context.Background(), graph.StateNull); err != nil {
		t.Fatal(err)
	}

	conn := newFakeConn(0, 0)
	if c := s.register(conn, "10.0.0.9:4000", "late"); c != nil {
		t.Fatal("a caller accepted after teardown must not be registered")
	}
	conn.mu.Lock()
	closed := conn.closed
	conn.mu.Unlock()
	if !closed {
		t.Error("late caller should be closed")
	}
	if s.Callers() != 0 {
		t.Errorf("callers = %d", s.Callers())
	}
}

func TestSourceTeardownHonoursContext(t *testing.T) {
	s := newTestSource()
	// A caller goroutine that never returns.
	s.wg.Add(1)
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := s.SetState(ctx, graph.StateNull)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("SetState = %v, want deadline exceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("teardown took %s", elapsed)
	}
	if s.State() != graph.StateNull {
		t.Errorf("state = %s", s.State())
	}
}

func TestSourceServesOnlyFeeder(t *testing.T) {
	s := newTestSource()
	feeder := newFakeConn(0, 0)
	standby := newFakeConn(0, 0)
	fc := s.register(feeder, "10.0.0.1:4000", "")
	sc := s.register(standby, "10.0.0.2:4000", "")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); s.serve(context.Background(), fc) }()
	go func() { defer wg.Done(); s.serve(context.Background(), sc) }()

	standby.chunks <- []byte("ignored")
	feeder.chunks <- []byte{0x47, 0x00, 0x11}

	buf := make([]byte, 16)
	n, err := s.pr.Read(buf)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 || buf[0] != 0x47 {
		t.Errorf("read %x", buf[:n])
	}

	_ = feeder.Close()
	_ = standby.Close()
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not return after the caller closed")
	}
	if s.Callers() != 0 {
		t.Errorf("callers = %d", s.Callers())
	}
}

func TestSourceExposesTransportStream(t *testing.T) {
	s := newTestSource()
	caps, ok := s.src.Caps()
	if !ok || caps.MediaType() != CapsMPEGTS {
		t.Fatalf("src caps = %v, %v", caps, ok)
	}
	if v, err := caps.GetInt("systemstream"); err != nil || v != 1 {
		t.Errorf("systemstream = %d, %v", v, err)
	}
}

func TestConnectionStatsMapping(t *testing.T) {
	var st srt.Statistics
	st.Accumulated.PktSent = 42
	st.Accumulated.PktRecvLoss = 3
	st.Accumulated.PktRecvDrop = math.MaxUint64
	st.Accumulated.ByteRecv = 4096
	st.Accumulated.UsSndDuration = 1500
	st.Instantaneous.MsRecvTsbPdDelay = 120
	st.Instantaneous.MbpsRecvRate = 4.5

	c := connectionStats("192.0.2.1:9000", &st)

	if c.PacketsSent != 42 || c.PacketsReceivedLost != 3 || c.BytesReceived != 4096 {
		t.Errorf("counters = %+v", c)
	}
	if c.PacketsReceivedDropped != math.MaxInt32 {
		t.Errorf("dropped should clamp to int32, got %d", c.PacketsReceivedDropped)
	}
	if c.NegotiatedLatency() != 120*time.Millisecond || c.SendDuration() != 1500*time.Microsecond {
		t.Errorf("durations = %v, %v", c.NegotiatedLatency(), c.SendDuration())
	}
	if c.Peer() != "192.0.2.1:9000" {
		t.Errorf("peer = %s", c.Peer())
	}

	if anon := connectionStats("", &st); anon.CallerAddress != nil {
		t.Error("empty address should be omitted")
	}
}

func TestClamp(t *testing.T) {
	tests := []struct {
		in     uint64
		want32 int32
		want64 int64
	}{
		{0, 0, 0},
		{math.MaxInt32, math.MaxInt32, math.MaxInt32},
		{math.MaxInt32 + 1, math.MaxInt32, math.MaxInt32 + 1},
		{math.MaxUint64, math.MaxInt32, math.MaxInt64},
	}
	for _, tt := range tests {
		if got := clamp32(tt.in); got != tt.want32 {
			t.Errorf("clamp32(%d) = %d", tt.in, got)
		}
		if got := clamp64(tt.in); got != tt.want64 {
			t.Errorf("clamp64(%d) = %d", tt.in, got)
		}
	}
}
