package host

import (
	"sync"

	"github.com/vigil-edge/vigil/internal/protocol/session"
)

// mailbox is a single-slot, drop-oldest handoff between the connection read
// loop and the analysis goroutine. A live monitoring feed prefers losing a
// stale frame to building a backlog: the newest frame always wins.
type mailbox struct {
	mu      sync.Mutex
	frame   *session.VideoFrame
	dropped uint64
	notify  chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{notify: make(chan struct{}, 1)}
}

// put overwrites any unconsumed frame and reports whether one was dropped.
// Non-blocking; safe for one concurrent producer and one consumer.
func (m *mailbox) put(vf session.VideoFrame) bool {
	m.mu.Lock()
	droppedOne := m.frame != nil
	if droppedOne {
		m.dropped++
	}
	m.frame = &vf
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
	return droppedOne
}

// take removes and returns the pending frame, or nil when the slot is empty.
func (m *mailbox) take() *session.VideoFrame {
	m.mu.Lock()
	defer m.mu.Unlock()
	vf := m.frame
	m.frame = nil
	return vf
}

func (m *mailbox) drops() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}
