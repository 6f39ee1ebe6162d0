package alarm

import (
	"github.com/rs/zerolog"

	"github.com/vigil-edge/vigil/internal/detect"
)

// Sink is a capability handle for one alarm output: a buzzer driver, a
// display indicator, or the control path back to the edge. Implementations
// own their hardware handle exclusively.
type Sink interface {
	Raise(kind detect.Kind, raised []detect.Kind) error
	Clear(kind detect.Kind, raised []detect.Kind) error
}

// Dispatcher fans alarm edges out to sinks. Delivery is best-effort: a sink
// failure is logged and never affects detection state or other sinks. The
// state machine already guarantees edge-only events, but the dispatcher
// re-checks and drops duplicates regardless.
type Dispatcher struct {
	sinks  []Sink
	active map[detect.Kind]bool
	log    zerolog.Logger
}

func NewDispatcher(log zerolog.Logger, sinks ...Sink) *Dispatcher {
	return &Dispatcher{
		sinks:  sinks,
		active: make(map[detect.Kind]bool),
		log:    log,
	}
}

// OnEvent delivers one transition to every sink exactly once. Duplicate
// transitions into the current state are suppressed.
func (d *Dispatcher) OnEvent(ev detect.Event) {
	raising := ev.Transition == detect.TransitionRaised
	if d.active[ev.Kind] == raising {
		d.log.Warn().
			Str("kind", string(ev.Kind)).
			Str("transition", string(ev.Transition)).
			Msg("duplicate alarm transition dropped")
		return
	}
	d.active[ev.Kind] = raising

	for _, sink := range d.sinks {
		var err error
		if raising {
			err = sink.Raise(ev.Kind, ev.Raised)
		} else {
			err = sink.Clear(ev.Kind, ev.Raised)
		}
		if err != nil {
			d.log.Error().
				Err(err).
				Str("kind", string(ev.Kind)).
				Str("transition", string(ev.Transition)).
				Msg("alarm sink dispatch failed")
		}
	}

	d.log.Info().
		Str("kind", string(ev.Kind)).
		Str("transition", string(ev.Transition)).
		Msg("alarm transition")
}

// NoopSink satisfies tests and hardware-less deployments.
type NoopSink struct{}

func (NoopSink) Raise(detect.Kind, []detect.Kind) error { return nil }
func (NoopSink) Clear(detect.Kind, []detect.Kind) error { return nil }

// LogSink writes transitions to the logger; the default visible indicator
// when no hardware driver is injected.
type LogSink struct {
	Log zerolog.Logger
}

func (s LogSink) Raise(kind detect.Kind, raised []detect.Kind) error {
	s.Log.Warn().Str("kind", string(kind)).Interface("raised", raised).Msg("ALARM raised")
	return nil
}

func (s LogSink) Clear(kind detect.Kind, raised []detect.Kind) error {
	s.Log.Info().Str("kind", string(kind)).Interface("raised", raised).Msg("alarm cleared")
	return nil
}
