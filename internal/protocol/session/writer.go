package session

import (
	"net"
	"sync"
	"time"

	"github.com/vigil-edge/vigil/internal/protocol/frame"
)

// Writer serializes framed writes on one connection. Both sides multiplex a
// steady stream (frames or alarm notices) with occasional replies, so every
// write goes through the mutex and carries a fresh deadline.
type Writer struct {
	mu      sync.Mutex
	conn    net.Conn
	limits  frame.Limits
	timeout time.Duration
}

func NewWriter(conn net.Conn, limits frame.Limits, timeout time.Duration) *Writer {
	return &Writer{conn: conn, limits: limits, timeout: timeout}
}

func (w *Writer) Write(msg frame.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(w.timeout))
	return frame.WriteMessage(w.conn, msg, w.limits)
}
