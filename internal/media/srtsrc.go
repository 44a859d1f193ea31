package media

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	srt "github.com/datarhei/gosrt"
	"github.com/smazurov/srtrelay/internal/events"
	"github.com/smazurov/srtrelay/internal/graph"
	"github.com/smazurov/srtrelay/internal/props"
	"github.com/smazurov/srtrelay/internal/srtstats"
)

// readBufferSize holds four SRT payloads of seven transport stream packets.
const readBufferSize = 1316 * 4

// SRTSourceConfig configures the SRT listener.
type SRTSourceConfig struct {
	Address    string
	Passphrase string
	Latency    time.Duration
	PBKeyLen   int
}

// srtConn is the part of srt.Conn the source uses.
type srtConn interface {
	Read(p []byte) (int, error)
	Close() error
	Stats(s *srt.Statistics)
}

type caller struct {
	id       uint64
	conn     srtConn
	address  string
	streamID string
}

// SRTSource listens for encrypted SRT callers. The first connected caller
// feeds the transport stream to the src pad; later callers are accepted,
// drained and reported in the statistics until the feeding caller leaves,
// at which point the oldest remaining caller takes over.
type SRTSource struct {
	*element
	cfg    SRTSourceConfig
	events events.Publisher

	src *Pad
	pr  *io.PipeReader
	pw  *io.PipeWriter

	listener srt.Listener
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	callersMu   sync.Mutex
	callers     []*caller
	closing     bool
	feeder      *caller
	nextID      uint64
	closedBytes uint64
}

// NewSRTSource creates the "srtsrc" element.
func NewSRTSource(name string, cfg SRTSourceConfig, publisher events.Publisher, opts ...Option) *SRTSource {
	if publisher == nil {
		publisher = events.Discard
	}
	pr, pw := io.Pipe()
	s := &SRTSource{
		element: newElement("srtsrc", name, opts),
		cfg:     cfg,
		events:  publisher,
		pr:      pr,
		pw:      pw,
	}
	s.src = newSrcPad(name, "src")
	s.addPad(s.src)
	// The byte stream exists before any caller connects; the demuxer blocks
	// on it until the first publisher sends data.
	_ = s.src.push(Flow{Caps: graph.NewCaps(CapsMPEGTS, props.F("systemstream", props.Int(1))), Stream: pr})
	return s
}

func (s *SRTSource) srtConfig() srt.Config {
	cfg := srt.DefaultConfig()
	cfg.Passphrase = s.cfg.Passphrase
	cfg.PBKeylen = s.cfg.PBKeyLen
	cfg.EnforcedEncryption = true
	if s.cfg.Latency > 0 {
		cfg.ReceiverLatency = s.cfg.Latency
		cfg.PeerLatency = s.cfg.Latency
	}
	return cfg
}

// SetState implements graph.Element. Playing binds the listener; failing to
// bind is returned to the caller. Null closes the listener and every caller
// and waits for their goroutines until ctx expires.
func (s *SRTSource) SetState(ctx context.Context, state graph.State) error {
	var err error
	switch state {
	case graph.StatePlaying:
		if s.State() == graph.StatePlaying {
			return nil
		}
		ln, err := srt.Listen("srt", s.cfg.Address, s.srtConfig())
		if err != nil {
			return fmt.Errorf("listen on %s: %w", s.cfg.Address, err)
		}
		runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		s.callersMu.Lock()
		s.closing = false
		s.callersMu.Unlock()
		s.mu.Lock()
		s.listener = ln
		s.cancel = cancel
		s.mu.Unlock()

		s.logger.Info("SRT listener started", "address", s.cfg.Address, "latency", s.cfg.Latency, "pbkeylen", s.cfg.PBKeyLen)
		s.wg.Add(1)
		go s.acceptLoop(runCtx, ln)

	case graph.StateNull:
		s.mu.Lock()
		ln, cancel := s.listener, s.cancel
		s.listener, s.cancel = nil, nil
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		if ln != nil {
			ln.Close()
		}
		s.callersMu.Lock()
		s.closing = true
		for _, c := range s.callers {
			_ = c.conn.Close()
		}
		s.callersMu.Unlock()
		_ = s.pw.CloseWithError(io.ErrClosedPipe)

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			s.logger.Warn("SRT callers still closing", "error", ctx.Err())
			err = fmt.Errorf("%s: close callers: %w", s.name, ctx.Err())
		}
	}
	s.transition(state)
	return err
}

func (s *SRTSource) acceptLoop(ctx context.Context, ln srt.Listener) {
	defer s.wg.Done()
	for {
		req, err := ln.Accept2()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.postError(fmt.Errorf("accept: %w", err))
			return
		}
		s.wg.Add(1)
		go s.handleRequest(ctx, req)
	}
}

// handleRequest runs the caller-connecting check: encrypted callers with the
// configured passphrase are accepted, everyone else is rejected.
func (s *SRTSource) handleRequest(ctx context.Context, req srt.ConnRequest) {
	defer s.wg.Done()

	address := req.RemoteAddr().String()
	streamID := req.StreamId()
	s.logger.Info("Caller connecting", "caller_address", address, "stream_id", streamID)

	if !req.IsEncrypted() {
		req.Reject(srt.REJ_BADSECRET)
		s.rejected(address, streamID, "encryption required")
		return
	}
	if err := req.SetPassphrase(s.cfg.Passphrase); err != nil {
		req.Reject(srt.REJ_BADSECRET)
		s.rejected(address, streamID, "bad passphrase")
		return
	}
	conn, err := req.Accept()
	if err != nil {
		s.rejected(address, streamID, err.Error())
		return
	}

	c := s.register(conn, address, streamID)
	if c == nil {
		s.rejected(address, streamID, "listener closing")
		return
	}
	s.events.Publish(events.CallerConnectedEvent{
		CallerAddress: address,
		StreamID:      streamID,
		Accepted:      true,
		Timestamp:     time.Now().Format(time.RFC3339),
	})
	s.serve(ctx, c)
}

func (s *SRTSource) rejected(address, streamID, reason string) {
	s.logger.Warn("Caller rejected", "caller_address", address, "stream_id", streamID, "reason", reason)
	s.events.Publish(events.CallerConnectedEvent{
		CallerAddress: address,
		StreamID:      streamID,
		Reason:        reason,
		Timestamp:     time.Now().Format(time.RFC3339),
	})
}

// register adds an accepted connection. Once the source is closing the
// connection is closed instead and register returns nil.
func (s *SRTSource) register(conn srtConn, address, streamID string) *caller {
	s.callersMu.Lock()
	defer s.callersMu.Unlock()
	if s.closing {
		_ = conn.Close()
		return nil
	}
	s.nextID++
	c := &caller{id: s.nextID, conn: conn, address: address, streamID: streamID}
	s.callers = append(s.callers, c)
	if s.feeder == nil {
		s.feeder = c
		s.logger.Info("Caller feeds the demuxer", "caller_address", address, "stream_id", streamID)
	} else {
		s.logger.Info("Caller accepted as standby", "caller_address", address, "stream_id", streamID, "callers", len(s.callers))
	}
	return c
}

// unregister removes c, keeps its byte count in the running total and hands
// the feed to the oldest remaining caller.
func (s *SRTSource) unregister(c *caller) {
	var st srt.Statistics
	c.conn.Stats(&st)

	s.callersMu.Lock()
	defer s.callersMu.Unlock()
	for i, other := range s.callers {
		if other == c {
			s.callers = append(s.callers[:i], s.callers[i+1:]...)
			break
		}
	}
	s.closedBytes += st.Accumulated.ByteRecv
	if s.feeder == c {
		s.feeder = nil
		if len(s.callers) > 0 {
			s.feeder = s.callers[0]
			s.logger.Info("Caller feeds the demuxer", "caller_address", s.feeder.address, "stream_id", s.feeder.streamID)
		}
	}
}

func (s *SRTSource) isFeeder(c *caller) bool {
	s.callersMu.Lock()
	defer s.callersMu.Unlock()
	return s.feeder == c
}

func (s *SRTSource) serve(ctx context.Context, c *caller) {
	defer s.unregister(c)
	defer c.conn.Close()

	buf := make([]byte, readBufferSize)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 && s.isFeeder(c) {
			if _, werr := s.pw.Write(buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Info("Caller disconnected", "caller_address", c.address, "stream_id", c.streamID, "reason", err)
			}
			return
		}
	}
}

// Callers returns the number of connected callers.
func (s *SRTSource) Callers() int {
	s.callersMu.Lock()
	defer s.callersMu.Unlock()
	return len(s.callers)
}

// StructureProperty implements graph.PropertyReader. The "stats" property is
// a snapshot of every connected caller plus the bytes received over the
// lifetime of the listener.
func (s *SRTSource) StructureProperty(name string) (props.Structure, error) {
	if name != "stats" {
		return props.Structure{}, fmt.Errorf("%s: %w: %s", s.name, graph.ErrNoSuchProperty, name)
	}

	s.callersMu.Lock()
	callers := make([]*caller, len(s.callers))
	copy(callers, s.callers)
	total := s.closedBytes
	s.callersMu.Unlock()

	stats := make([]srtstats.ConnectionStats, 0, len(callers))
	for _, c := range callers {
		var st srt.Statistics
		c.conn.Stats(&st)
		total += st.Accumulated.ByteRecv
		stats = append(stats, connectionStats(c.address, &st))
	}
	return srtstats.Encode(stats, total), nil
}

// connectionStats maps gosrt counters onto the statistics record fields.
func connectionStats(address string, st *srt.Statistics) srtstats.ConnectionStats {
	acc, inst := st.Accumulated, st.Instantaneous
	c := srtstats.ConnectionStats{
		PacketsSent:          clamp64(acc.PktSent),
		PacketsSentLost:      clamp32(acc.PktSendLoss),
		PacketsRetransmitted: clamp32(acc.PktRetrans),
		PacketAckReceived:    clamp32(acc.PktRecvACK),
		PacketNackReceived:   clamp32(acc.PktRecvNAK),
		SendDurationUs:       acc.UsSndDuration,
		BytesSent:            acc.ByteSent,
		BytesRetransmitted:   acc.ByteRetrans,
		BytesSentDropped:     acc.ByteSendDrop,
		PacketsSentDropped:   clamp32(acc.PktSendDrop),
		SendRateMbps:         inst.MbpsSentRate,
		NegotiatedLatencyMs:  clamp32(inst.MsRecvTsbPdDelay),

		PacketsReceived:              clamp64(acc.PktRecv),
		PacketsReceivedLost:          clamp32(acc.PktRecvLoss),
		PacketsReceivedRetransmitted: clamp32(acc.PktRecvRetrans),
		PacketsReceivedDropped:       clamp32(acc.PktRecvDrop),
		PacketAckSent:                clamp32(acc.PktSentACK),
		PacketNackSent:               clamp32(acc.PktSentNAK),
		BytesReceived:                acc.ByteRecv,
		BytesReceivedLost:            acc.ByteRecvLoss,
		ReceiveRateMbps:              inst.MbpsRecvRate,
		BandwidthMbps:                inst.MbpsLinkCapacity,
		RTTMs:                        inst.MsRTT,
	}
	if address != "" {
		c.CallerAddress = &address
	}
	return c
}

func clamp32(v uint64) int32 {
	if v > 1<<31-1 {
		return 1<<31 - 1
	}
	return int32(v)
}

func clamp64(v uint64) int64 {
	if v > 1<<63-1 {
		return 1<<63 - 1
	}
	return int64(v)
}
