package detect

import (
	"time"

	"github.com/vigil-edge/vigil/internal/extract"
)

// Kind identifies one alarm condition. The two kinds are independent and may
// be raised at the same time; callers treat the raised set as a set, never as
// a single enum.
type Kind string

const (
	KindEyesClosed Kind = "eyes_closed"
	KindYawning    Kind = "yawning"
)

// Transition marks the direction of an alarm edge.
type Transition string

const (
	TransitionRaised  Transition = "raised"
	TransitionCleared Transition = "cleared"
)

// Event is one alarm edge. Raised carries the complete raised set after the
// transition so a consumer can reconcile from any single event.
type Event struct {
	Kind       Kind
	Transition Transition
	At         time.Time
	Raised     []Kind
}

// Config holds the detection thresholds. Defaults follow the values the
// system was tuned with: raising needs sustained evidence, clearing needs one
// confirmed good sample.
type Config struct {
	EARThreshold    float64
	EARConsecFrames int
	MARThreshold    float64
	MARConsecFrames int
	StaleTimeout    time.Duration
}

func DefaultConfig() Config {
	return Config{
		EARThreshold:    0.25,
		EARConsecFrames: 20,
		MARThreshold:    0.6,
		MARConsecFrames: 15,
		StaleTimeout:    3 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.EARThreshold <= 0 {
		c.EARThreshold = def.EARThreshold
	}
	if c.EARConsecFrames <= 0 {
		c.EARConsecFrames = def.EARConsecFrames
	}
	if c.MARThreshold <= 0 {
		c.MARThreshold = def.MARThreshold
	}
	if c.MARConsecFrames <= 0 {
		c.MARConsecFrames = def.MARConsecFrames
	}
	if c.StaleTimeout <= 0 {
		c.StaleTimeout = def.StaleTimeout
	}
	return c
}

// Detector turns the noisy per-frame EAR/MAR series into debounced alarm
// edges. It is deliberately unaware of connections: a transport reconnect
// does not touch its counters, only the wall-clock stale timeout resets them.
// Single-writer: exactly one goroutine may call Observe/Tick.
type Detector struct {
	cfg Config

	eyeBelowCount   int
	mouthAboveCount int
	eyesRaised      bool
	yawnRaised      bool

	hasSignal    bool
	lastSampleAt time.Time
}

func New(cfg Config) *Detector {
	return &Detector{cfg: cfg.withDefaults()}
}

// Observe processes one sample. Samples arrive in non-decreasing sequence
// order; at most one event per kind is emitted per call. An invalid sample
// (no face) neither increments nor resets the counters and never clears an
// already-raised alarm, so a transient detection miss cannot mask a real
// closure trend or end a genuine alarm.
func (d *Detector) Observe(sample extract.Sample, now time.Time) []Event {
	events := d.expireStale(now)
	d.hasSignal = true
	d.lastSampleAt = now

	if !sample.Valid {
		return events
	}

	d.clampCounters()

	// Eye-closure sub-machine: EAR below threshold accumulates evidence.
	if sample.EAR < d.cfg.EARThreshold {
		d.eyeBelowCount++
		if d.eyeBelowCount >= d.cfg.EARConsecFrames && !d.eyesRaised {
			d.eyesRaised = true
			events = append(events, d.event(KindEyesClosed, TransitionRaised, now))
		}
	} else {
		d.eyeBelowCount = 0
		if d.eyesRaised {
			d.eyesRaised = false
			events = append(events, d.event(KindEyesClosed, TransitionCleared, now))
		}
	}

	// Yawn sub-machine: symmetric, inequality flipped.
	if sample.MAR > d.cfg.MARThreshold {
		d.mouthAboveCount++
		if d.mouthAboveCount >= d.cfg.MARConsecFrames && !d.yawnRaised {
			d.yawnRaised = true
			events = append(events, d.event(KindYawning, TransitionRaised, now))
		}
	} else {
		d.mouthAboveCount = 0
		if d.yawnRaised {
			d.yawnRaised = false
			events = append(events, d.event(KindYawning, TransitionCleared, now))
		}
	}

	return events
}

// Tick applies the wall-clock stale policy without a sample. Callers drive it
// from a ticker so prolonged silence clears alarms even when no frames arrive.
func (d *Detector) Tick(now time.Time) []Event {
	return d.expireStale(now)
}

// Raised returns the currently raised kind set in stable order.
func (d *Detector) Raised() []Kind {
	return d.raisedSet()
}

// NoSignal reports whether the subject state is unknown: either nothing has
// ever been delivered or the last sample is older than the stale timeout.
// Operators surface this distinctly from "all clear".
func (d *Detector) NoSignal(now time.Time) bool {
	if !d.hasSignal {
		return true
	}
	return now.Sub(d.lastSampleAt) > d.cfg.StaleTimeout
}

// expireStale clears any raised alarm and zeroes both counters once the gap
// since the last sample exceeds the stale timeout. Silence means "unknown",
// not "alert": an alarm must not keep sounding on stale evidence, and old
// partial evidence must not count toward a future raise.
func (d *Detector) expireStale(now time.Time) []Event {
	if !d.hasSignal || now.Sub(d.lastSampleAt) <= d.cfg.StaleTimeout {
		return nil
	}
	d.hasSignal = false
	d.eyeBelowCount = 0
	d.mouthAboveCount = 0

	var events []Event
	if d.eyesRaised {
		d.eyesRaised = false
		events = append(events, d.event(KindEyesClosed, TransitionCleared, now))
	}
	if d.yawnRaised {
		d.yawnRaised = false
		events = append(events, d.event(KindYawning, TransitionCleared, now))
	}
	return events
}

func (d *Detector) event(kind Kind, tr Transition, at time.Time) Event {
	return Event{Kind: kind, Transition: tr, At: at, Raised: d.raisedSet()}
}

func (d *Detector) raisedSet() []Kind {
	out := make([]Kind, 0, 2)
	if d.eyesRaised {
		out = append(out, KindEyesClosed)
	}
	if d.yawnRaised {
		out = append(out, KindYawning)
	}
	return out
}

// clampCounters restores the non-negative counter invariant if a programming
// fault ever breaks it.
func (d *Detector) clampCounters() {
	if d.eyeBelowCount < 0 {
		d.eyeBelowCount = 0
	}
	if d.mouthAboveCount < 0 {
		d.mouthAboveCount = 0
	}
}
