package host

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/vigil-edge/vigil/internal/detect"
	"github.com/vigil-edge/vigil/internal/extract"
	"github.com/vigil-edge/vigil/internal/observability"
)

// Status is the operator-facing snapshot pushed to dashboard clients.
// NoSignal is surfaced distinctly from "all clear": silence means the
// subject's state is unknown, not that everything is fine.
type Status struct {
	DeviceID       string   `json:"device_id"`
	SessionID      string   `json:"session_id"`
	Connected      bool     `json:"connected"`
	NoSignal       bool     `json:"no_signal"`
	LastSeq        uint64   `json:"last_seq"`
	EAR            float64  `json:"ear"`
	MAR            float64  `json:"mar"`
	FaceDetected   bool     `json:"face_detected"`
	Raised         []string `json:"raised"`
	FramesReceived uint64   `json:"frames_received"`
	UpdatedMS      uint64   `json:"updated_ms"`
}

// sampleBroadcastEvery throttles per-frame status pushes; alarm and
// connection edges always broadcast immediately.
const sampleBroadcastEvery = 500 * time.Millisecond

// Monitor serves the host's observation surface: a JSON status endpoint,
// Prometheus metrics, and a websocket feed for live dashboards.
type Monitor struct {
	mu        sync.Mutex
	status    Status
	clients   map[*websocket.Conn]struct{}
	lastPush  time.Time
	upgrader  websocket.Upgrader
	log       zerolog.Logger
}

func NewMonitor(log zerolog.Logger) *Monitor {
	return &Monitor{
		status:  Status{Raised: []string{}, NoSignal: true},
		clients: make(map[*websocket.Conn]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log: log,
	}
}

// Run serves the monitor endpoints until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context, addr string) error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), observability.RequestLogger(m.log))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, m.Snapshot())
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws", m.serveWS)

	server := &http.Server{Addr: addr, Handler: router}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	m.log.Info().Str("addr", addr).Msg("monitor listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (m *Monitor) serveWS(c *gin.Context) {
	conn, err := m.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		m.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	m.mu.Lock()
	snapshot := m.status
	m.mu.Unlock()

	// Seed the new client so it renders without waiting for the next change.
	// Registration happens after the seed write so broadcasts never race it.
	if err := conn.WriteJSON(snapshot); err != nil {
		_ = conn.Close()
		return
	}
	m.mu.Lock()
	m.clients[conn] = struct{}{}
	m.mu.Unlock()

	// Reads only detect client departure; the feed is one-way.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				m.drop(conn)
				return
			}
		}
	}()
}

func (m *Monitor) Snapshot() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *Monitor) SetConnection(deviceID, sessionID string, connected bool) {
	m.mu.Lock()
	m.status.DeviceID = deviceID
	m.status.SessionID = sessionID
	m.status.Connected = connected
	m.touchLocked()
	m.broadcastLocked(true)
	m.mu.Unlock()
}

func (m *Monitor) FrameReceived() {
	m.mu.Lock()
	m.status.FramesReceived++
	m.mu.Unlock()
}

func (m *Monitor) UpdateSample(sample extract.Sample, raised []detect.Kind, noSignal bool) {
	m.mu.Lock()
	m.status.LastSeq = sample.Seq
	m.status.FaceDetected = sample.Valid
	if sample.Valid {
		m.status.EAR = sample.EAR
		m.status.MAR = sample.MAR
	}
	m.status.Raised = kindNames(raised)
	m.status.NoSignal = noSignal
	m.touchLocked()
	m.broadcastLocked(false)
	m.mu.Unlock()
}

func (m *Monitor) SetNoSignal(noSignal bool) {
	m.mu.Lock()
	changed := m.status.NoSignal != noSignal
	m.status.NoSignal = noSignal
	if changed {
		m.touchLocked()
		m.broadcastLocked(true)
	}
	m.mu.Unlock()
}

// AlarmChanged broadcasts immediately on an alarm edge.
func (m *Monitor) AlarmChanged(raised []detect.Kind) {
	m.mu.Lock()
	m.status.Raised = kindNames(raised)
	m.touchLocked()
	m.broadcastLocked(true)
	m.mu.Unlock()
}

func (m *Monitor) touchLocked() {
	m.status.UpdatedMS = uint64(time.Now().UnixMilli())
}

func (m *Monitor) broadcastLocked(force bool) {
	now := time.Now()
	if !force && now.Sub(m.lastPush) < sampleBroadcastEvery {
		return
	}
	m.lastPush = now

	for conn := range m.clients {
		if err := conn.WriteJSON(m.status); err != nil {
			delete(m.clients, conn)
			_ = conn.Close()
		}
	}
}

func (m *Monitor) drop(conn *websocket.Conn) {
	m.mu.Lock()
	delete(m.clients, conn)
	m.mu.Unlock()
	_ = conn.Close()
}

func kindNames(raised []detect.Kind) []string {
	out := make([]string, len(raised))
	for i, k := range raised {
		out[i] = string(k)
	}
	return out
}

// monitorSink mirrors alarm edges into the dashboard feed.
type monitorSink struct {
	m *Monitor
}

func (s monitorSink) Raise(_ detect.Kind, raised []detect.Kind) error {
	s.m.AlarmChanged(raised)
	return nil
}

func (s monitorSink) Clear(_ detect.Kind, raised []detect.Kind) error {
	s.m.AlarmChanged(raised)
	return nil
}
