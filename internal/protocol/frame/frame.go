package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Wire layout: [4-byte big-endian length][1-byte type tag][length-1 bytes of body].
// The length counts the tag byte plus the body.

const (
	LengthPrefixLen = 4

	TypeFrame   byte = 0x01
	TypeControl byte = 0x02
)

var (
	ErrShortMessage    = errors.New("frame: short message")
	ErrEmptyMessage    = errors.New("frame: zero-length message")
	ErrMessageTooLarge = errors.New("frame: declared length exceeds limit")
	ErrUnknownType     = errors.New("frame: unknown type tag")
)

// Message is one complete wire message.
type Message struct {
	Type byte
	Body []byte
}

// Limits constrains per-message memory use on decode.
type Limits struct {
	MaxMessageBytes uint32
}

func DefaultLimits() Limits {
	return Limits{
		MaxMessageBytes: 4 * 1024 * 1024,
	}
}

// ReadMessage reads exactly one length-delimited message from r. A partial
// length prefix or body is never surfaced as a message; the read blocks (or
// errors) until 4+length bytes arrive. A declared length beyond
// limits.MaxMessageBytes is fatal for the connection and returns
// ErrMessageTooLarge without allocating the body.
func ReadMessage(r io.Reader, limits Limits) (Message, error) {
	var prefix [LengthPrefixLen]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Message{}, ErrShortMessage
		}
		return Message{}, err
	}

	length := binary.BigEndian.Uint32(prefix[:])
	if length == 0 {
		return Message{}, ErrEmptyMessage
	}
	if length > limits.MaxMessageBytes {
		return Message{}, fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, length, limits.MaxMessageBytes)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Message{}, ErrShortMessage
		}
		return Message{}, err
	}

	msg := Message{Type: payload[0], Body: payload[1:]}
	if msg.Type != TypeFrame && msg.Type != TypeControl {
		return Message{}, fmt.Errorf("%w: 0x%02x", ErrUnknownType, msg.Type)
	}
	return msg, nil
}

// WriteMessage writes one length-delimited message to w as a single buffer so
// a concurrent writer on the same connection cannot interleave a partial
// message.
func WriteMessage(w io.Writer, msg Message, limits Limits) error {
	total := uint64(1 + len(msg.Body))
	if total > uint64(limits.MaxMessageBytes) {
		return fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, total, limits.MaxMessageBytes)
	}

	buf := make([]byte, LengthPrefixLen+int(total))
	binary.BigEndian.PutUint32(buf[0:LengthPrefixLen], uint32(total))
	buf[LengthPrefixLen] = msg.Type
	copy(buf[LengthPrefixLen+1:], msg.Body)

	if _, err := w.Write(buf); err != nil {
		return err
	}
	return nil
}

// Append encodes msg onto dst and returns the extended slice. Senders that
// batch messages into one syscall use this instead of WriteMessage.
func Append(dst []byte, msg Message) []byte {
	total := uint32(1 + len(msg.Body))
	var prefix [LengthPrefixLen]byte
	binary.BigEndian.PutUint32(prefix[:], total)
	dst = append(dst, prefix[:]...)
	dst = append(dst, msg.Type)
	dst = append(dst, msg.Body...)
	return dst
}
