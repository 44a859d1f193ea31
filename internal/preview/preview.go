// Package preview serves the parsed relay tracks to browsers over WebRTC.
package preview

import (
	"errors"
	"sync"

	"github.com/AlexxIT/go2rtc/pkg/core"
	"github.com/AlexxIT/go2rtc/pkg/webrtc"
	pion "github.com/pion/webrtc/v4"

	"github.com/smazurov/srtrelay/internal/logging"
)

// ErrNoTracks is returned when the offer shares no codec with the relay.
var ErrNoTracks = errors.New("no track matches the offer")

// Source provides the tracks to preview. It returns an error while nothing
// is being relayed.
type Source interface {
	Tracks() ([]*core.Receiver, error)
}

// Config holds configuration for preview peers.
type Config struct {
	// ICEServers for STUN/TURN, empty on a LAN.
	ICEServers []pion.ICEServer
}

// Manager manages preview peer connections.
type Manager struct {
	source Source
	config Config
	peers  map[string]*webrtc.Conn
	mu     sync.RWMutex
	logger logging.Logger
}

// NewManager creates a preview manager over source.
func NewManager(source Source, config Config, logger logging.Logger) *Manager {
	return &Manager{
		source: source,
		config: config,
		peers:  make(map[string]*webrtc.Conn),
		logger: logger,
	}
}

// CreateConsumer answers an SDP offer from a browser.
func (m *Manager) CreateConsumer(offer string) (string, error) {
	tracks, err := m.source.Tracks()
	if err != nil {
		return "", err
	}

	api, err := NewAPI()
	if err != nil {
		return "", err
	}
	pc, err := api.NewPeerConnection(pion.Configuration{ICEServers: m.config.ICEServers})
	if err != nil {
		return "", err
	}

	conn := webrtc.NewConn(pc)
	conn.Mode = core.ModePassiveConsumer

	if err := conn.SetOffer(offer); err != nil {
		_ = pc.Close()
		return "", err
	}
	if wired := wire(conn, tracks, m.logger); wired == 0 {
		_ = pc.Close()
		return "", ErrNoTracks
	}
	answer, err := conn.GetCompleteAnswer(nil, nil)
	if err != nil {
		_ = pc.Close()
		return "", err
	}

	peerID := core.RandString(8, 10)
	m.mu.Lock()
	m.peers[peerID] = conn
	peerCount := len(m.peers)
	m.mu.Unlock()
	activePeers.Set(float64(peerCount))
	m.logger.Debug("Preview peer created", "peer_id", peerID, "total_peers", peerCount)

	conn.Listen(func(msg any) {
		state, ok := msg.(pion.PeerConnectionState)
		if !ok {
			return
		}
		switch state {
		case pion.PeerConnectionStateConnected:
			// RTCP interceptors only see feedback while someone reads it.
			for _, sender := range pc.GetSenders() {
				go func(s *pion.RTPSender) {
					for {
						if _, _, err := s.ReadRTCP(); err != nil {
							return
						}
					}
				}(sender)
			}
		case pion.PeerConnectionStateDisconnected,
			pion.PeerConnectionStateFailed,
			pion.PeerConnectionStateClosed:
			m.remove(peerID, state.String())
		}
	})

	return answer, nil
}

func (m *Manager) remove(peerID, reason string) {
	m.mu.Lock()
	conn, ok := m.peers[peerID]
	delete(m.peers, peerID)
	remaining := len(m.peers)
	m.mu.Unlock()
	if !ok {
		return
	}
	// Stop closes the senders, detaching them from the parsed tracks.
	_ = conn.Stop()
	activePeers.Set(float64(remaining))
	m.logger.Debug("Preview peer disconnected", "peer_id", peerID, "state", reason, "remaining_peers", remaining)
}

// Stop closes all peer connections.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, conn := range m.peers {
		_ = conn.Stop()
		delete(m.peers, id)
	}
	activePeers.Set(0)
}

// PeerCount returns the number of connected preview peers.
func (m *Manager) PeerCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.peers)
}

type consumer interface {
	GetMedias() []*core.Media
	AddTrack(media *core.Media, codec *core.Codec, track *core.Receiver) error
}

// wire attaches every track whose codec the consumer accepts and returns
// how many were attached.
func wire(cons consumer, tracks []*core.Receiver, logger logging.Logger) int {
	wired := 0
	for _, track := range tracks {
		kind := core.GetKind(track.Codec.Name)
		media, codec := match(cons.GetMedias(), kind, track.Codec.Name)
		if codec == nil {
			logger.Debug("Track not offered by peer", "codec", track.Codec.Name)
			continue
		}
		if err := cons.AddTrack(media, codec, track); err != nil {
			logger.Warn("Failed to add preview track", "codec", track.Codec.Name, "error", err)
			continue
		}
		wired++
	}
	return wired
}

func match(medias []*core.Media, kind, codecName string) (*core.Media, *core.Codec) {
	for _, media := range medias {
		if media.Kind != kind || media.Direction != core.DirectionSendonly {
			continue
		}
		for _, codec := range media.Codecs {
			if codec.Name == codecName {
				return media, codec
			}
		}
	}
	return nil, nil
}
