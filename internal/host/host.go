package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vigil-edge/vigil/internal/alarm"
	"github.com/vigil-edge/vigil/internal/codec"
	"github.com/vigil-edge/vigil/internal/detect"
	"github.com/vigil-edge/vigil/internal/extract"
	"github.com/vigil-edge/vigil/internal/observability"
	"github.com/vigil-edge/vigil/internal/protocol/frame"
	"github.com/vigil-edge/vigil/internal/protocol/session"
)

const protocolVersion = 1

var (
	ErrListenAddrRequired = errors.New("host: listen address required")
	ErrLandmarkerRequired = errors.New("host: landmarker required")
)

type Config struct {
	ListenAddr  string
	MonitorAddr string
	Detection   detect.Config
	Codec       codec.Config
	Limits      frame.Limits
	Session     session.Config

	// Systematic-corruption escalation: CorruptThreshold decode failures
	// inside CorruptWindow force the connection down.
	CorruptWindow    time.Duration
	CorruptThreshold int
}

func DefaultConfig() Config {
	return Config{
		ListenAddr:       ":5555",
		MonitorAddr:      ":8080",
		Detection:        detect.DefaultConfig(),
		Codec:            codec.DefaultConfig(),
		Limits:           frame.DefaultLimits(),
		Session:          session.DefaultConfig(),
		CorruptWindow:    10 * time.Second,
		CorruptThreshold: 5,
	}
}

// Service is the stream consumer: accept, receive, decode, extract, detect,
// dispatch. The detector outlives connections on purpose — a brief network
// drop must not erase drowsiness evidence; only the stale timeout resets it.
type Service struct {
	cfg       Config
	codec     *codec.Codec
	extractor *extract.Extractor
	detector  *detect.Detector
	dispatch  *alarm.Dispatcher
	remote    *remoteSink
	monitor   *Monitor
	mbox      *mailbox
	corrupt   *corruptTracker
	log       zerolog.Logger

	connMu     sync.Mutex
	activeConn net.Conn
	device     string
	listener   net.Listener
}

func NewService(cfg Config, landmarker extract.Landmarker, sinks []alarm.Sink, log zerolog.Logger) (*Service, error) {
	if cfg.ListenAddr == "" {
		return nil, ErrListenAddrRequired
	}
	if landmarker == nil {
		return nil, ErrLandmarkerRequired
	}
	if cfg.Limits.MaxMessageBytes == 0 {
		cfg.Limits = frame.DefaultLimits()
	}
	if cfg.CorruptWindow <= 0 {
		cfg.CorruptWindow = DefaultConfig().CorruptWindow
	}
	if cfg.CorruptThreshold <= 0 {
		cfg.CorruptThreshold = DefaultConfig().CorruptThreshold
	}
	cfg.Session = cfg.Session.WithDefaults()

	s := &Service{
		cfg:       cfg,
		codec:     codec.New(cfg.Codec),
		extractor: extract.New(landmarker),
		detector:  detect.New(cfg.Detection),
		remote:    &remoteSink{log: log},
		monitor:   NewMonitor(log),
		mbox:      newMailbox(),
		corrupt:   newCorruptTracker(cfg.CorruptWindow, cfg.CorruptThreshold),
		log:       log,
	}
	s.dispatch = alarm.NewDispatcher(log, append(sinks, s.remote, monitorSink{s.monitor})...)
	return s, nil
}

// Monitor exposes the dashboard/status surface for the cmd layer.
func (s *Service) Monitor() *Monitor {
	return s.monitor
}

// Addr returns the bound stream listener address once Run has started, or ""
// before that. Tests use it with a ":0" listen address.
func (s *Service) Addr() string {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run serves until ctx is cancelled. Connections are handled one at a time:
// there is exactly one edge device per host, and a replacement connection is
// accepted as soon as the previous one tears down.
func (s *Service) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("host: listen %s: %w", s.cfg.ListenAddr, err)
	}
	s.connMu.Lock()
	s.listener = listener
	s.connMu.Unlock()
	s.log.Info().Str("addr", listener.Addr().String()).Msg("listening for edge stream")

	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()
	go s.analysisLoop(ctx)
	if s.cfg.MonitorAddr != "" {
		go func() {
			if err := s.monitor.Run(ctx, s.cfg.MonitorAddr); err != nil {
				s.log.Error().Err(err).Msg("monitor server failed")
			}
		}()
	}

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Warn().Err(err).Msg("accept failed")
			continue
		}
		s.handleConn(ctx, conn)
		if ctx.Err() != nil {
			return nil
		}
	}
}

// handleConn owns the connection's receive buffer for its whole lifetime.
// Any read error, deadline, oversized declared length, or peer close tears
// the connection down; the producer is the one that reconnects.
func (s *Service) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	hello, err := s.handshake(conn)
	if err != nil {
		s.log.Warn().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("handshake failed")
		return
	}

	sessionID := uuid.NewString()
	writer := session.NewWriter(conn, s.cfg.Limits, s.cfg.Session.WriteTimeout)
	ack, err := session.EncodeControl(session.Envelope{
		Type: session.ControlTypeHelloAck,
		HelloAck: &session.HelloAck{
			Status:      session.AckStatusAccepted,
			SessionID:   sessionID,
			TimestampMS: uint64(time.Now().UnixMilli()),
		},
	})
	if err != nil {
		return
	}
	if err := writer.Write(ack); err != nil {
		s.log.Warn().Err(err).Msg("hello ack write failed")
		return
	}

	s.setActive(conn, hello.DeviceID)
	s.remote.attach(writer)
	s.monitor.SetConnection(hello.DeviceID, sessionID, true)
	defer func() {
		s.remote.detach()
		s.setActive(nil, "")
		s.monitor.SetConnection(hello.DeviceID, sessionID, false)
	}()

	s.log.Info().
		Str("device", hello.DeviceID).
		Str("session_id", sessionID).
		Str("source", hello.Source).
		Msg("edge connected")

	pingStop := make(chan struct{})
	defer close(pingStop)
	go s.pingLoop(writer, pingStop)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.Session.ReadTimeout))
		msg, err := frame.ReadMessage(conn, s.cfg.Limits)
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.log.Info().Str("device", hello.DeviceID).Msg("edge disconnected")
			} else {
				s.log.Warn().Err(err).Str("device", hello.DeviceID).Msg("connection failed")
			}
			return
		}

		switch msg.Type {
		case frame.TypeFrame:
			vf, err := session.DecodeVideoFrame(msg)
			if err != nil {
				s.log.Warn().Err(err).Msg("malformed frame message")
				continue
			}
			observability.RecordFrameReceived(hello.DeviceID, len(vf.Image))
			s.monitor.FrameReceived()
			if s.mbox.put(vf) {
				observability.RecordFrameDropped(hello.DeviceID)
			}
		case frame.TypeControl:
			env, err := session.DecodeControl(msg)
			if err != nil {
				s.log.Warn().Err(err).Msg("malformed control message")
				continue
			}
			if env.Type != session.ControlTypePong {
				s.log.Debug().Str("type", env.Type).Msg("ignoring control message")
			}
		}
	}
}

func (s *Service) handshake(conn net.Conn) (session.Hello, error) {
	_ = conn.SetDeadline(time.Now().Add(s.cfg.Session.HandshakeTimeout))
	defer conn.SetDeadline(time.Time{})

	msg, err := frame.ReadMessage(conn, s.cfg.Limits)
	if err != nil {
		return session.Hello{}, err
	}
	env, err := session.DecodeControl(msg)
	if err != nil {
		return session.Hello{}, err
	}
	if env.Type != session.ControlTypeHello || env.Hello == nil {
		return session.Hello{}, fmt.Errorf("%w: first message must be hello", session.ErrInvalidHello)
	}
	if err := env.Hello.Validate(); err != nil {
		return session.Hello{}, err
	}
	if env.Hello.ProtocolVersion != protocolVersion {
		reject, encErr := session.EncodeControl(session.Envelope{
			Type: session.ControlTypeHelloAck,
			HelloAck: &session.HelloAck{
				Status:  session.AckStatusRejected,
				Message: fmt.Sprintf("unsupported protocol version %d", env.Hello.ProtocolVersion),
			},
		})
		if encErr == nil {
			_ = frame.WriteMessage(conn, reject, s.cfg.Limits)
		}
		return session.Hello{}, fmt.Errorf("%w: protocol version %d", session.ErrInvalidHello, env.Hello.ProtocolVersion)
	}
	return *env.Hello, nil
}

func (s *Service) pingLoop(writer *session.Writer, stop <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.Session.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ping, err := session.EncodeControl(session.Envelope{
				Type:        session.ControlTypePing,
				TimestampMS: uint64(time.Now().UnixMilli()),
			})
			if err != nil {
				return
			}
			if err := writer.Write(ping); err != nil {
				// Read loop will observe the same failure and tear down.
				return
			}
		}
	}
}

// analysisLoop is the single writer of the detector for the whole service
// lifetime. It drains the mailbox, runs extraction, updates detection state,
// and drives the stale-timeout policy from a ticker so alarms expire even
// when no frames arrive at all.
func (s *Service) analysisLoop(ctx context.Context) {
	tick := s.cfg.Detection.StaleTimeout / 4
	if tick < 250*time.Millisecond {
		tick = 250 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.mbox.notify:
			for {
				vf := s.mbox.take()
				if vf == nil {
					break
				}
				s.process(ctx, *vf)
			}
		case now := <-ticker.C:
			s.handleEvents(s.detector.Tick(now))
			s.monitor.SetNoSignal(s.detector.NoSignal(now))
		}
	}
}

func (s *Service) process(ctx context.Context, vf session.VideoFrame) {
	img, err := s.codec.Decode(vf.Image)
	if err != nil {
		s.log.Warn().Err(err).Uint64("seq", vf.Seq).Msg("corrupt frame dropped")
		observability.RecordDecodeFailure(s.deviceLabel())
		if s.corrupt.record(time.Now()) {
			s.log.Error().Msg("systematic corruption, forcing reconnect")
			s.closeActive()
		}
		return
	}

	capturedAt := time.UnixMilli(int64(vf.CapturedMS))
	start := time.Now()
	sample, err := s.extractor.Extract(ctx, vf.Seq, capturedAt, img)
	observability.RecordExtractDuration(time.Since(start))
	if err != nil {
		// Model fault: log it and fall through with the invalid sample so
		// the frames-without-measurement accounting still advances.
		s.log.Warn().Err(err).Uint64("seq", vf.Seq).Msg("extraction failed")
	}

	now := time.Now()
	s.handleEvents(s.detector.Observe(sample, now))
	s.monitor.UpdateSample(sample, s.detector.Raised(), s.detector.NoSignal(now))
}

func (s *Service) handleEvents(events []detect.Event) {
	for _, ev := range events {
		observability.RecordAlarmTransition(string(ev.Kind), string(ev.Transition))
		s.dispatch.OnEvent(ev)
	}
}

func (s *Service) setActive(conn net.Conn, device string) {
	s.connMu.Lock()
	s.activeConn = conn
	s.device = device
	s.connMu.Unlock()
}

func (s *Service) deviceLabel() string {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.device == "" {
		return "unknown"
	}
	return s.device
}

func (s *Service) closeActive() {
	s.connMu.Lock()
	conn := s.activeConn
	s.connMu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}
