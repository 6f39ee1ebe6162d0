package host

import (
	"context"
	"image"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vigil-edge/vigil/internal/alarm"
	"github.com/vigil-edge/vigil/internal/codec"
	"github.com/vigil-edge/vigil/internal/detect"
	"github.com/vigil-edge/vigil/internal/extract"
	"github.com/vigil-edge/vigil/internal/protocol/frame"
	"github.com/vigil-edge/vigil/internal/protocol/session"
	"github.com/vigil-edge/vigil/internal/testutil/testlog"
)

// scriptedLandmarker returns closed-eye landmarks for every frame so a short
// below-threshold run raises the alarm.
type scriptedLandmarker struct{}

func (scriptedLandmarker) DetectLandmarks(context.Context, image.Image) (extract.Landmarks, bool, error) {
	// Vertical lid gap 1 over corner span 10: EAR = 0.1, well below 0.25.
	closedEye := [6]extract.Point{
		{X: 0, Y: 0},
		{X: 3, Y: -0.5},
		{X: 7, Y: -0.5},
		{X: 10, Y: 0},
		{X: 7, Y: 0.5},
		{X: 3, Y: 0.5},
	}
	return extract.Landmarks{
		LeftEye:  closedEye,
		RightEye: closedEye,
		Mouth:    [4]extract.Point{{X: 5, Y: -1}, {X: 5, Y: 1}, {X: 0, Y: 0}, {X: 10, Y: 0}},
	}, true, nil
}

type captureSink struct {
	raised chan detect.Kind
}

func (s *captureSink) Raise(kind detect.Kind, _ []detect.Kind) error {
	s.raised <- kind
	return nil
}

func (s *captureSink) Clear(detect.Kind, []detect.Kind) error { return nil }

func testService(t *testing.T, sinks ...alarm.Sink) (*Service, context.CancelFunc) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.MonitorAddr = ""
	cfg.Detection = detect.Config{
		EARThreshold:    0.25,
		EARConsecFrames: 3,
		MARThreshold:    0.6,
		MARConsecFrames: 3,
		StaleTimeout:    time.Minute,
	}

	svc, err := NewService(cfg, scriptedLandmarker{}, sinks, zerolog.Nop())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		_ = svc.Run(ctx)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for svc.Addr() == "" {
		if time.Now().After(deadline) {
			t.Fatalf("service did not start listening")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return svc, cancel
}

func dialAndHello(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	hello, err := session.EncodeControl(session.Envelope{
		Type: session.ControlTypeHello,
		Hello: &session.Hello{
			DeviceID:        "test-edge",
			Source:          "synthetic",
			ProtocolVersion: 1,
		},
	})
	if err != nil {
		t.Fatalf("encode hello: %v", err)
	}
	if err := frame.WriteMessage(conn, hello, frame.DefaultLimits()); err != nil {
		t.Fatalf("write hello: %v", err)
	}

	reply, err := frame.ReadMessage(conn, frame.DefaultLimits())
	if err != nil {
		t.Fatalf("read hello ack: %v", err)
	}
	env, err := session.DecodeControl(reply)
	if err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if env.Type != session.ControlTypeHelloAck || env.HelloAck.Status != session.AckStatusAccepted {
		t.Fatalf("unexpected ack: %+v", env)
	}
	if env.HelloAck.SessionID == "" {
		t.Fatalf("missing session id")
	}
	return conn
}

func encodeTestFrame(t *testing.T, seq uint64) frame.Message {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 24))
	payload, err := codec.New(codec.DefaultConfig()).Encode(img)
	if err != nil {
		t.Fatalf("encode image: %v", err)
	}
	return session.EncodeVideoFrame(session.VideoFrame{
		Seq:        seq,
		CapturedMS: uint64(time.Now().UnixMilli()),
		Image:      payload,
	})
}

func TestStreamRaisesAlarmAndNotifiesEdge(t *testing.T) {
	testlog.Start(t)
	sink := &captureSink{raised: make(chan detect.Kind, 4)}
	svc, cancel := testService(t, sink)
	defer cancel()

	conn := dialAndHello(t, svc.Addr())
	defer conn.Close()

	// Frames are sent slowly enough for the single-slot mailbox to keep up.
	for seq := uint64(0); seq < 5; seq++ {
		if err := frame.WriteMessage(conn, encodeTestFrame(t, seq), frame.DefaultLimits()); err != nil {
			t.Fatalf("write frame: %v", err)
		}
		time.Sleep(30 * time.Millisecond)
	}

	select {
	case kind := <-sink.raised:
		if kind != detect.KindEyesClosed {
			t.Fatalf("unexpected kind %q", kind)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("alarm never raised")
	}

	// The control path must deliver the alarm notice to the edge. Pings may
	// arrive first; scan until the alarm shows up.
	deadline := time.Now().Add(3 * time.Second)
	for {
		_ = conn.SetReadDeadline(deadline)
		msg, err := frame.ReadMessage(conn, frame.DefaultLimits())
		if err != nil {
			t.Fatalf("read control: %v", err)
		}
		env, err := session.DecodeControl(msg)
		if err != nil {
			t.Fatalf("decode control: %v", err)
		}
		if env.Type == session.ControlTypeAlarm {
			if env.Alarm.Kind != string(detect.KindEyesClosed) || env.Alarm.Transition != string(detect.TransitionRaised) {
				t.Fatalf("unexpected alarm notice: %+v", env.Alarm)
			}
			break
		}
	}
}

func TestHandshakeRejectsWrongProtocolVersion(t *testing.T) {
	testlog.Start(t)
	svc, cancel := testService(t)
	defer cancel()

	conn, err := net.Dial("tcp", svc.Addr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello, err := session.EncodeControl(session.Envelope{
		Type: session.ControlTypeHello,
		Hello: &session.Hello{
			DeviceID:        "test-edge",
			ProtocolVersion: 99,
		},
	})
	if err != nil {
		t.Fatalf("encode hello: %v", err)
	}
	if err := frame.WriteMessage(conn, hello, frame.DefaultLimits()); err != nil {
		t.Fatalf("write hello: %v", err)
	}

	reply, err := frame.ReadMessage(conn, frame.DefaultLimits())
	if err != nil {
		t.Fatalf("read ack: %v", err)
	}
	env, err := session.DecodeControl(reply)
	if err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if env.HelloAck == nil || env.HelloAck.Status != session.AckStatusRejected {
		t.Fatalf("expected rejection, got %+v", env)
	}
}

func TestCorruptFrameIsDroppedNotFatal(t *testing.T) {
	testlog.Start(t)
	sink := &captureSink{raised: make(chan detect.Kind, 4)}
	svc, cancel := testService(t, sink)
	defer cancel()

	conn := dialAndHello(t, svc.Addr())
	defer conn.Close()

	// One garbage payload, then enough good frames to raise: the corrupt
	// frame must not tear the connection down or poison the pipeline.
	bad := session.EncodeVideoFrame(session.VideoFrame{
		Seq:        0,
		CapturedMS: uint64(time.Now().UnixMilli()),
		Image:      []byte("not a jpeg"),
	})
	if err := frame.WriteMessage(conn, bad, frame.DefaultLimits()); err != nil {
		t.Fatalf("write bad frame: %v", err)
	}
	for seq := uint64(1); seq < 6; seq++ {
		if err := frame.WriteMessage(conn, encodeTestFrame(t, seq), frame.DefaultLimits()); err != nil {
			t.Fatalf("write frame: %v", err)
		}
		time.Sleep(30 * time.Millisecond)
	}

	select {
	case <-sink.raised:
	case <-time.After(3 * time.Second):
		t.Fatalf("pipeline stalled after corrupt frame")
	}
}

func TestReconnectKeepsDetectionState(t *testing.T) {
	testlog.Start(t)
	sink := &captureSink{raised: make(chan detect.Kind, 4)}
	svc, cancel := testService(t, sink)
	defer cancel()

	// Two below-threshold frames on the first connection (one short of the
	// threshold of 3), then a reconnect with sequence numbers restarting.
	conn := dialAndHello(t, svc.Addr())
	for seq := uint64(0); seq < 2; seq++ {
		if err := frame.WriteMessage(conn, encodeTestFrame(t, seq), frame.DefaultLimits()); err != nil {
			t.Fatalf("write frame: %v", err)
		}
		time.Sleep(30 * time.Millisecond)
	}
	_ = conn.Close()
	time.Sleep(50 * time.Millisecond)

	conn2 := dialAndHello(t, svc.Addr())
	defer conn2.Close()
	if err := frame.WriteMessage(conn2, encodeTestFrame(t, 0), frame.DefaultLimits()); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	select {
	case kind := <-sink.raised:
		if kind != detect.KindEyesClosed {
			t.Fatalf("unexpected kind %q", kind)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("counters were reset across reconnect")
	}
}
