package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/vigil-edge/vigil/internal/protocol/frame"
)

// Control message types carried under the 0x02 tag. Hello/HelloAck run once at
// connection start; Alarm and Ping/Pong flow for the life of the connection.
const (
	ControlTypeHello    = "hello"
	ControlTypeHelloAck = "hello.ack"
	ControlTypeAlarm    = "alarm"
	ControlTypePing     = "ping"
	ControlTypePong     = "pong"

	AckStatusAccepted = "accepted"
	AckStatusRejected = "rejected"
)

var (
	ErrInvalidHello    = errors.New("session: invalid hello")
	ErrInvalidHelloAck = errors.New("session: invalid hello ack")
	ErrInvalidControl  = errors.New("session: invalid control message")
)

// Hello is the producer's first message on a new connection. Sequence numbers
// restart at zero after it is acknowledged.
type Hello struct {
	DeviceID        string `json:"device_id"`
	Source          string `json:"source"`
	ProtocolVersion int    `json:"protocol_version"`
}

func (h Hello) Validate() error {
	if strings.TrimSpace(h.DeviceID) == "" {
		return fmt.Errorf("%w: missing device_id", ErrInvalidHello)
	}
	if h.ProtocolVersion <= 0 {
		return fmt.Errorf("%w: missing protocol_version", ErrInvalidHello)
	}
	return nil
}

// HelloAck is the consumer's reply; a rejected status closes the connection.
type HelloAck struct {
	Status      string `json:"status"`
	Message     string `json:"message,omitempty"`
	SessionID   string `json:"session_id"`
	TimestampMS uint64 `json:"timestamp_ms"`
}

func (a HelloAck) Validate() error {
	status := strings.TrimSpace(a.Status)
	if status != AckStatusAccepted && status != AckStatusRejected {
		return fmt.Errorf("%w: invalid status", ErrInvalidHelloAck)
	}
	if status == AckStatusAccepted && strings.TrimSpace(a.SessionID) == "" {
		return fmt.Errorf("%w: missing session_id", ErrInvalidHelloAck)
	}
	return nil
}

// AlarmNotice is the consumer->producer alarm-state push. Raised carries the
// complete currently-raised kind set, so the edge can reconcile its local
// indicator from any single notice.
type AlarmNotice struct {
	Kind        string   `json:"kind"`
	Transition  string   `json:"transition"`
	Raised      []string `json:"raised"`
	TimestampMS uint64   `json:"timestamp_ms"`
}

func (n AlarmNotice) Validate() error {
	if strings.TrimSpace(n.Kind) == "" {
		return fmt.Errorf("%w: alarm missing kind", ErrInvalidControl)
	}
	if strings.TrimSpace(n.Transition) == "" {
		return fmt.Errorf("%w: alarm missing transition", ErrInvalidControl)
	}
	return nil
}

// Envelope is the JSON shape of every control body.
type Envelope struct {
	Type        string       `json:"type"`
	Hello       *Hello       `json:"hello,omitempty"`
	HelloAck    *HelloAck    `json:"hello_ack,omitempty"`
	Alarm       *AlarmNotice `json:"alarm,omitempty"`
	TimestampMS uint64       `json:"timestamp_ms,omitempty"`
}

func EncodeControl(env Envelope) (frame.Message, error) {
	switch env.Type {
	case ControlTypeHello:
		if env.Hello == nil {
			return frame.Message{}, fmt.Errorf("%w: hello body required", ErrInvalidControl)
		}
		if err := env.Hello.Validate(); err != nil {
			return frame.Message{}, err
		}
	case ControlTypeHelloAck:
		if env.HelloAck == nil {
			return frame.Message{}, fmt.Errorf("%w: hello_ack body required", ErrInvalidControl)
		}
		if err := env.HelloAck.Validate(); err != nil {
			return frame.Message{}, err
		}
	case ControlTypeAlarm:
		if env.Alarm == nil {
			return frame.Message{}, fmt.Errorf("%w: alarm body required", ErrInvalidControl)
		}
		if err := env.Alarm.Validate(); err != nil {
			return frame.Message{}, err
		}
	case ControlTypePing, ControlTypePong:
	default:
		return frame.Message{}, fmt.Errorf("%w: unknown type %q", ErrInvalidControl, env.Type)
	}

	body, err := json.Marshal(env)
	if err != nil {
		return frame.Message{}, err
	}
	return frame.Message{Type: frame.TypeControl, Body: body}, nil
}

func DecodeControl(msg frame.Message) (Envelope, error) {
	if msg.Type != frame.TypeControl {
		return Envelope{}, fmt.Errorf("%w: unexpected tag 0x%02x", ErrInvalidControl, msg.Type)
	}
	var env Envelope
	if err := json.Unmarshal(msg.Body, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidControl, err)
	}
	if strings.TrimSpace(env.Type) == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrInvalidControl)
	}
	return env, nil
}
