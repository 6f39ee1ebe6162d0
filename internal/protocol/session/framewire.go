package session

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/vigil-edge/vigil/internal/protocol/frame"
)

// Frame body layout after the 0x01 tag:
// [8-byte BE sequence][8-byte BE capture time, unix milliseconds][image bytes].
const frameHeaderLen = 16

var ErrShortFrameBody = errors.New("session: frame body shorter than header")

// VideoFrame is one captured image unit with its transport metadata.
// Sequence numbers are per-connection and restart at zero after each hello.
type VideoFrame struct {
	Seq        uint64
	CapturedMS uint64
	Image      []byte
}

func EncodeVideoFrame(vf VideoFrame) frame.Message {
	body := make([]byte, frameHeaderLen+len(vf.Image))
	binary.BigEndian.PutUint64(body[0:8], vf.Seq)
	binary.BigEndian.PutUint64(body[8:16], vf.CapturedMS)
	copy(body[frameHeaderLen:], vf.Image)
	return frame.Message{Type: frame.TypeFrame, Body: body}
}

func DecodeVideoFrame(msg frame.Message) (VideoFrame, error) {
	if msg.Type != frame.TypeFrame {
		return VideoFrame{}, fmt.Errorf("session: unexpected tag 0x%02x for frame", msg.Type)
	}
	if len(msg.Body) < frameHeaderLen {
		return VideoFrame{}, fmt.Errorf("%w: %d bytes", ErrShortFrameBody, len(msg.Body))
	}
	return VideoFrame{
		Seq:        binary.BigEndian.Uint64(msg.Body[0:8]),
		CapturedMS: binary.BigEndian.Uint64(msg.Body[8:16]),
		Image:      msg.Body[frameHeaderLen:],
	}, nil
}
