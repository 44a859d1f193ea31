package graph

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/smazurov/srtrelay/internal/props"
)

// MessageType classifies bus messages.
type MessageType int

// Bus message types.
const (
	MessageError MessageType = iota + 1
	MessageWarning
	MessageEOS
	MessageStateChanged
	MessageInfo
)

func (t MessageType) String() string {
	switch t {
	case MessageError:
		return "error"
	case MessageWarning:
		return "warning"
	case MessageEOS:
		return "eos"
	case MessageStateChanged:
		return "state-changed"
	case MessageInfo:
		return "info"
	default:
		return fmt.Sprintf("message(%d)", int(t))
	}
}

// Message is a lifecycle notification posted by an element.
type Message struct {
	Type MessageType
	// Source is the name of the posting element.
	Source string
	Err    error
	// OldState and NewState are set for MessageStateChanged.
	OldState State
	NewState State
	// Details carries element specific data.
	Details   props.Structure
	Timestamp time.Time
}

// ErrorMessage builds an error message.
func ErrorMessage(source string, err error) Message {
	return Message{Type: MessageError, Source: source, Err: err, Timestamp: time.Now()}
}

// WarningMessage builds a warning message.
func WarningMessage(source string, err error) Message {
	return Message{Type: MessageWarning, Source: source, Err: err, Timestamp: time.Now()}
}

// EOSMessage builds an end-of-stream message.
func EOSMessage(source string) Message {
	return Message{Type: MessageEOS, Source: source, Timestamp: time.Now()}
}

// StateChangedMessage builds a state change message.
func StateChangedMessage(source string, old, current State) Message {
	return Message{Type: MessageStateChanged, Source: source, OldState: old, NewState: current, Timestamp: time.Now()}
}

// Bus is an unbounded, sequential message queue. Posting never blocks, so
// element goroutines cannot stall on a busy consumer. A single consumer
// drains it with Pop, waiting on Ready between batches.
type Bus struct {
	mu      sync.Mutex
	queue   []Message
	ready   chan struct{}
	flushed bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{ready: make(chan struct{}, 1)}
}

// Post enqueues a message. Messages posted after SetFlushing(true) are dropped.
func (b *Bus) Post(msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	b.mu.Lock()
	if b.flushed {
		b.mu.Unlock()
		return
	}
	b.queue = append(b.queue, msg)
	b.mu.Unlock()

	select {
	case b.ready <- struct{}{}:
	default:
	}
}

// Ready is signalled when messages may be available.
func (b *Bus) Ready() <-chan struct{} {
	return b.ready
}

// Pop removes the oldest message without blocking.
func (b *Bus) Pop() (Message, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.queue) == 0 {
		return Message{}, false
	}
	msg := b.queue[0]
	b.queue[0] = Message{}
	b.queue = b.queue[1:]
	return msg, true
}

// Wait blocks until a message is available or ctx is done.
func (b *Bus) Wait(ctx context.Context) (Message, error) {
	for {
		if msg, ok := b.Pop(); ok {
			return msg, nil
		}
		select {
		case <-ctx.Done():
			return Message{}, ctx.Err()
		case <-b.ready:
		}
	}
}

// Len returns the number of queued messages.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// SetFlushing drops queued messages and, while true, rejects new ones.
func (b *Bus) SetFlushing(flushing bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushed = flushing
	if flushing {
		b.queue = nil
	}
}
