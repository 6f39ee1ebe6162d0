package host

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vigil-edge/vigil/internal/detect"
	"github.com/vigil-edge/vigil/internal/protocol/session"
)

// remoteSink pushes alarm transitions back over the transport's control path
// so the edge can drive its physically local indicator. Best-effort: with no
// connection attached (or a connection that died mid-dispatch) the transition
// is simply not delivered remotely; detection correctness is unaffected, and
// the next notice carries the full raised set anyway.
type remoteSink struct {
	mu     sync.Mutex
	writer *session.Writer
	log    zerolog.Logger
}

func (r *remoteSink) attach(w *session.Writer) {
	r.mu.Lock()
	r.writer = w
	r.mu.Unlock()
}

func (r *remoteSink) detach() {
	r.mu.Lock()
	r.writer = nil
	r.mu.Unlock()
}

func (r *remoteSink) Raise(kind detect.Kind, raised []detect.Kind) error {
	return r.send(kind, detect.TransitionRaised, raised)
}

func (r *remoteSink) Clear(kind detect.Kind, raised []detect.Kind) error {
	return r.send(kind, detect.TransitionCleared, raised)
}

func (r *remoteSink) send(kind detect.Kind, tr detect.Transition, raised []detect.Kind) error {
	r.mu.Lock()
	writer := r.writer
	r.mu.Unlock()
	if writer == nil {
		return nil
	}

	names := make([]string, len(raised))
	for i, k := range raised {
		names[i] = string(k)
	}
	msg, err := session.EncodeControl(session.Envelope{
		Type: session.ControlTypeAlarm,
		Alarm: &session.AlarmNotice{
			Kind:        string(kind),
			Transition:  string(tr),
			Raised:      names,
			TimestampMS: uint64(time.Now().UnixMilli()),
		},
	})
	if err != nil {
		return err
	}
	return writer.Write(msg)
}
