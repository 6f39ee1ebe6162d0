package edge

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"math/rand"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/vigil-edge/vigil/internal/codec"
	"github.com/vigil-edge/vigil/internal/observability"
	"github.com/vigil-edge/vigil/internal/protocol/frame"
	"github.com/vigil-edge/vigil/internal/protocol/session"
)

const protocolVersion = 1

var (
	ErrServerAddrRequired = errors.New("edge: server address required")
	ErrDeviceIDRequired   = errors.New("edge: device_id required")
	ErrSourceRequired     = errors.New("edge: frame source required")
	ErrHelloRejected      = errors.New("edge: hello rejected")
)

// FrameSource is the external capture collaborator. NextFrame blocks until a
// frame is available or the context is done.
type FrameSource interface {
	NextFrame(ctx context.Context) (image.Image, error)
}

// AlarmIndicator is the local alarm capability driven by host notices: the
// edge buzzer/LED driver. Apply receives the complete raised set.
type AlarmIndicator interface {
	Apply(raised []string)
}

// NopIndicator is the default when no hardware driver is injected.
type NopIndicator struct{}

func (NopIndicator) Apply([]string) {}

type Config struct {
	DeviceID   string
	ServerAddr string
	Source     string
	TargetFPS  int
	Codec      codec.Config
	Limits     frame.Limits
	Session    session.Config
}

func DefaultConfig() Config {
	return Config{
		TargetFPS: 20,
		Codec:     codec.DefaultConfig(),
		Limits:    frame.DefaultLimits(),
		Session:   session.DefaultConfig(),
	}
}

// Service is the stream producer: capture, encode, push, reconnect forever.
// Frames queued at disconnect time are discarded, never requeued.
type Service struct {
	cfg       Config
	codec     *codec.Codec
	source    FrameSource
	indicator AlarmIndicator
	log       zerolog.Logger
	rng       *rand.Rand
}

func NewService(cfg Config, source FrameSource, indicator AlarmIndicator, log zerolog.Logger) (*Service, error) {
	if strings.TrimSpace(cfg.ServerAddr) == "" {
		return nil, ErrServerAddrRequired
	}
	if strings.TrimSpace(cfg.DeviceID) == "" {
		return nil, ErrDeviceIDRequired
	}
	if source == nil {
		return nil, ErrSourceRequired
	}
	if indicator == nil {
		indicator = NopIndicator{}
	}
	if cfg.TargetFPS <= 0 {
		cfg.TargetFPS = DefaultConfig().TargetFPS
	}
	if cfg.Limits.MaxMessageBytes == 0 {
		cfg.Limits = frame.DefaultLimits()
	}
	cfg.Session = cfg.Session.WithDefaults()
	return &Service{
		cfg:       cfg,
		codec:     codec.New(cfg.Codec),
		source:    source,
		indicator: indicator,
		log:       log,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Run streams until ctx is cancelled. This is a long-running monitoring link:
// every transport failure waits one backoff interval and reconnects, with no
// attempt ceiling. Only context cancellation or an explicit hello rejection
// ends the loop.
func (s *Service) Run(ctx context.Context) error {
	var attempt int
	for {
		attempt++
		conn, ack, err := s.connect(ctx)
		if err != nil {
			if errors.Is(err, ErrHelloRejected) || ctx.Err() != nil {
				return err
			}
			s.log.Warn().Err(err).Int("attempt", attempt).Str("addr", s.cfg.ServerAddr).Msg("connect failed")
			observability.RecordReconnect(s.cfg.DeviceID)
			if err := s.sleepBackoff(ctx, attempt); err != nil {
				return err
			}
			continue
		}

		attempt = 0
		s.log.Info().Str("session_id", ack.SessionID).Str("addr", s.cfg.ServerAddr).Msg("connected")
		err = s.stream(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.log.Warn().Err(err).Msg("connection lost, reconnecting")
		observability.RecordReconnect(s.cfg.DeviceID)
		attempt = 1
		if err := s.sleepBackoff(ctx, attempt); err != nil {
			return err
		}
	}
}

func (s *Service) connect(ctx context.Context) (net.Conn, session.HelloAck, error) {
	dialer := net.Dialer{Timeout: s.cfg.Session.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", s.cfg.ServerAddr)
	if err != nil {
		return nil, session.HelloAck{}, err
	}

	ack, err := s.hello(conn)
	if err != nil {
		_ = conn.Close()
		return nil, session.HelloAck{}, err
	}
	return conn, ack, nil
}

func (s *Service) hello(conn net.Conn) (session.HelloAck, error) {
	_ = conn.SetDeadline(time.Now().Add(s.cfg.Session.HandshakeTimeout))
	defer conn.SetDeadline(time.Time{})

	msg, err := session.EncodeControl(session.Envelope{
		Type: session.ControlTypeHello,
		Hello: &session.Hello{
			DeviceID:        s.cfg.DeviceID,
			Source:          s.cfg.Source,
			ProtocolVersion: protocolVersion,
		},
	})
	if err != nil {
		return session.HelloAck{}, err
	}
	if err := frame.WriteMessage(conn, msg, s.cfg.Limits); err != nil {
		return session.HelloAck{}, err
	}

	reply, err := frame.ReadMessage(conn, s.cfg.Limits)
	if err != nil {
		return session.HelloAck{}, err
	}
	env, err := session.DecodeControl(reply)
	if err != nil {
		return session.HelloAck{}, err
	}
	if env.Type != session.ControlTypeHelloAck || env.HelloAck == nil {
		return session.HelloAck{}, fmt.Errorf("%w: unexpected control type %q", session.ErrInvalidHelloAck, env.Type)
	}
	if env.HelloAck.Status != session.AckStatusAccepted {
		return session.HelloAck{}, fmt.Errorf("%w: %s", ErrHelloRejected, env.HelloAck.Message)
	}
	return *env.HelloAck, nil
}

// stream runs the send loop plus a control-read goroutine until either side
// fails. Closing the connection unblocks both promptly.
func (s *Service) stream(ctx context.Context, conn net.Conn) error {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	writer := session.NewWriter(conn, s.cfg.Limits, s.cfg.Session.WriteTimeout)

	readErr := make(chan error, 1)
	go func() {
		readErr <- s.readControl(conn, writer)
	}()
	go func() {
		// Unblock conn reads/writes on shutdown.
		<-streamCtx.Done()
		_ = conn.Close()
	}()

	interval := time.Second / time.Duration(s.cfg.TargetFPS)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	statsEvery := time.NewTicker(30 * time.Second)
	defer statsEvery.Stop()

	var seq uint64
	var sent uint64
	started := time.Now()

	for {
		select {
		case <-streamCtx.Done():
			return streamCtx.Err()
		case err := <-readErr:
			return fmt.Errorf("edge: control read: %w", err)
		case <-statsEvery.C:
			elapsed := time.Since(started).Seconds()
			s.log.Info().
				Uint64("frames_sent", sent).
				Float64("fps", float64(sent)/elapsed).
				Msg("stream stats")
		case <-ticker.C:
			img, err := s.source.NextFrame(streamCtx)
			if err != nil {
				if streamCtx.Err() != nil {
					return streamCtx.Err()
				}
				s.log.Warn().Err(err).Msg("capture failed, skipping frame")
				continue
			}
			payload, err := s.codec.Encode(img)
			if err != nil {
				s.log.Warn().Err(err).Msg("encode failed, skipping frame")
				continue
			}

			msg := session.EncodeVideoFrame(session.VideoFrame{
				Seq:        seq,
				CapturedMS: uint64(time.Now().UnixMilli()),
				Image:      payload,
			})
			if err := writer.Write(msg); err != nil {
				return fmt.Errorf("edge: send frame: %w", err)
			}
			seq++
			sent++
			observability.RecordFrameSent(s.cfg.DeviceID)
		}
	}
}

// readControl is the single owner of the connection's receive buffer. It
// applies host alarm notices to the local indicator and answers pings.
func (s *Service) readControl(conn net.Conn, writer *session.Writer) error {
	for {
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.Session.ReadTimeout))
		msg, err := frame.ReadMessage(conn, s.cfg.Limits)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return io.EOF
			}
			return err
		}
		env, err := session.DecodeControl(msg)
		if err != nil {
			s.log.Warn().Err(err).Msg("bad control message")
			continue
		}

		switch env.Type {
		case session.ControlTypeAlarm:
			if env.Alarm == nil {
				s.log.Warn().Msg("alarm notice without body")
				continue
			}
			s.log.Info().
				Str("kind", env.Alarm.Kind).
				Str("transition", env.Alarm.Transition).
				Strs("raised", env.Alarm.Raised).
				Msg("alarm notice")
			s.indicator.Apply(env.Alarm.Raised)
		case session.ControlTypePing:
			pong, err := session.EncodeControl(session.Envelope{
				Type:        session.ControlTypePong,
				TimestampMS: uint64(time.Now().UnixMilli()),
			})
			if err == nil {
				if err := writer.Write(pong); err != nil {
					return err
				}
			}
		default:
			s.log.Debug().Str("type", env.Type).Msg("ignoring control message")
		}
	}
}

func (s *Service) sleepBackoff(ctx context.Context, attempt int) error {
	delay := session.NextBackoffDelay(s.cfg.Session.Backoff, attempt, s.rng)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
