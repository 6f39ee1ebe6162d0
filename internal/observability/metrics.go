package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	framesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vigil",
			Subsystem: "edge",
			Name:      "frames_sent_total",
			Help:      "Frames pushed onto the transport by the producer.",
		},
		[]string{"device"},
	)
	framesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vigil",
			Subsystem: "host",
			Name:      "frames_received_total",
			Help:      "Frames received from the transport.",
		},
		[]string{"device"},
	)
	framesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vigil",
			Subsystem: "host",
			Name:      "frames_dropped_total",
			Help:      "Frames dropped at the analysis mailbox (extractor slower than the link).",
		},
		[]string{"device"},
	)
	decodeFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vigil",
			Subsystem: "host",
			Name:      "decode_failures_total",
			Help:      "Frames discarded due to corrupt payload.",
		},
		[]string{"device"},
	)
	framePayloadBytes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "vigil",
			Subsystem: "host",
			Name:      "frame_payload_bytes",
			Help:      "Received frame payload size in bytes.",
			Buckets:   prometheus.ExponentialBuckets(1024, 2, 12),
		},
	)
	extractDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "vigil",
			Subsystem: "host",
			Name:      "extract_duration_seconds",
			Help:      "Landmark extraction duration per frame.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	alarmTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vigil",
			Subsystem: "host",
			Name:      "alarm_transitions_total",
			Help:      "Alarm edges by kind and transition.",
		},
		[]string{"kind", "transition"},
	)
	reconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vigil",
			Subsystem: "edge",
			Name:      "reconnects_total",
			Help:      "Producer reconnect attempts.",
		},
		[]string{"device"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			framesSent, framesReceived, framesDropped, decodeFailures,
			framePayloadBytes, extractDuration, alarmTransitions, reconnects,
		)
	})
}

func RecordFrameSent(device string) {
	RegisterMetrics()
	framesSent.WithLabelValues(device).Inc()
}

func RecordFrameReceived(device string, payloadBytes int) {
	RegisterMetrics()
	framesReceived.WithLabelValues(device).Inc()
	framePayloadBytes.Observe(float64(payloadBytes))
}

func RecordFrameDropped(device string) {
	RegisterMetrics()
	framesDropped.WithLabelValues(device).Inc()
}

func RecordDecodeFailure(device string) {
	RegisterMetrics()
	decodeFailures.WithLabelValues(device).Inc()
}

func RecordExtractDuration(d time.Duration) {
	RegisterMetrics()
	extractDuration.Observe(d.Seconds())
}

func RecordAlarmTransition(kind, transition string) {
	RegisterMetrics()
	alarmTransitions.WithLabelValues(kind, transition).Inc()
}

func RecordReconnect(device string) {
	RegisterMetrics()
	reconnects.WithLabelValues(device).Inc()
}
