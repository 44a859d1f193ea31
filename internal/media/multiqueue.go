package media

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/AlexxIT/go2rtc/pkg/core"
	"github.com/pion/rtp"
	"github.com/smazurov/srtrelay/internal/graph"
)

// DefaultQueueCapacity is the number of packets a slot buffers.
const DefaultQueueCapacity = 256

// queueSlot decouples one upstream track from its downstream consumer with a
// bounded buffer. When the buffer is full new packets are dropped.
type queueSlot struct {
	index   int
	sender  *core.Sender
	out     *core.Receiver
	packets chan *rtp.Packet
	stop    chan struct{}
	done    chan struct{}
	closed  sync.Once
	dropped atomic.Uint64
	queued  atomic.Uint64
}

func (q *queueSlot) run() {
	defer close(q.done)
	for {
		select {
		case <-q.stop:
			return
		case pkt := <-q.packets:
			q.out.WriteRTP(pkt)
		}
	}
}

// enqueue reports false for the first packet the slot drops.
func (q *queueSlot) enqueue(pkt *rtp.Packet) bool {
	select {
	case <-q.stop:
		return true
	default:
	}
	select {
	case q.packets <- pkt:
		q.queued.Add(1)
		return true
	default:
		return q.dropped.Add(1) != 1
	}
}

func (q *queueSlot) close() {
	q.closed.Do(func() {
		q.sender.Close()
		close(q.stop)
		<-q.done
		q.out.Close()
	})
}

// MultiQueue provides paired request pads sink_%u / src_%u, one bounded
// queue per pair.
type MultiQueue struct {
	*element
	capacity int

	slotsMu sync.Mutex
	next    int
	slots   map[int]*queueSlot
}

// NewMultiQueue creates the "multiqueue" element.
func NewMultiQueue(name string, capacity int, opts ...Option) *MultiQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &MultiQueue{
		element:  newElement("multiqueue", name, opts),
		capacity: capacity,
		slots:    make(map[int]*queueSlot),
	}
}

// RequestPad implements graph.RequestPadder for the "sink_%u" template. The
// matching src pad is created alongside and looked up with StaticPad.
func (m *MultiQueue) RequestPad(template string) (graph.Pad, error) {
	if template != "sink_%u" {
		return nil, fmt.Errorf("%s: %w: %s", m.name, graph.ErrNoSuchPad, template)
	}
	m.slotsMu.Lock()
	index := m.next
	m.next++
	m.slotsMu.Unlock()

	src := newSrcPad(m.name, fmt.Sprintf("src_%d", index))
	sink := newSinkPad(m.name, fmt.Sprintf("sink_%d", index), func(flow Flow) error {
		return m.chain(index, src, flow)
	})
	m.addPad(src)
	m.addPad(sink)
	return sink, nil
}

// SrcFor returns the src pad paired with a requested sink pad.
func (m *MultiQueue) SrcFor(sink graph.Pad) (graph.Pad, error) {
	name, ok := strings.CutPrefix(sink.Name(), "sink_")
	if !ok || sink.Parent() != m.name {
		return nil, fmt.Errorf("%s: %w: %s", m.name, graph.ErrNoSuchPad, graph.PadPath(sink))
	}
	return m.StaticPad("src_" + name)
}

func (m *MultiQueue) chain(index int, src *Pad, flow Flow) error {
	if flow.Track == nil {
		return fmt.Errorf("%s sink_%d: expected an elementary stream, got %s: %w", m.name, index, flow.Caps.MediaType(), graph.ErrIncompatibleCaps)
	}
	codec := flow.Track.Codec
	slot := &queueSlot{
		index:   index,
		sender:  core.NewSender(recvMedia(codec), codec),
		out:     core.NewReceiver(recvMedia(codec), codec),
		packets: make(chan *rtp.Packet, m.capacity),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	slot.sender.Handler = func(pkt *rtp.Packet) {
		if !slot.enqueue(pkt) {
			m.postWarning(fmt.Errorf("queue %d full, dropping packets", index))
		}
	}

	// Attach upstream before downstream can see the track. Packets queue
	// until the slot runs and are delivered once downstream accepted it.
	slot.sender.HandleRTP(flow.Track)
	if err := src.push(Flow{Caps: flow.Caps, Track: slot.out}); err != nil {
		slot.sender.Close()
		return err
	}

	m.slotsMu.Lock()
	m.slots[index] = slot
	m.slotsMu.Unlock()
	go slot.run()
	m.logger.Debug("Queue slot bound", "element", m.name, "slot", index, "caps", flow.Caps.MediaType(), "capacity", m.capacity)
	return nil
}

// QueueStats reports the packets queued and dropped by one slot.
type QueueStats struct {
	Slot    int    `json:"slot"`
	Queued  uint64 `json:"queued"`
	Dropped uint64 `json:"dropped"`
}

// Stats returns per-slot counters for bound slots.
func (m *MultiQueue) Stats() []QueueStats {
	m.slotsMu.Lock()
	defer m.slotsMu.Unlock()
	out := make([]QueueStats, 0, len(m.slots))
	for i := range m.next {
		if s, ok := m.slots[i]; ok {
			out = append(out, QueueStats{Slot: i, Queued: s.queued.Load(), Dropped: s.dropped.Load()})
		}
	}
	return out
}

// SetState implements graph.Element. Null stops and closes every slot.
func (m *MultiQueue) SetState(_ context.Context, state graph.State) error {
	if state == graph.StateNull {
		m.slotsMu.Lock()
		slots := make([]*queueSlot, 0, len(m.slots))
		for _, s := range m.slots {
			slots = append(slots, s)
		}
		m.slotsMu.Unlock()
		for _, s := range slots {
			s.close()
		}
	}
	m.transition(state)
	return nil
}
