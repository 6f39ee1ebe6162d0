package alarm

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/vigil-edge/vigil/internal/detect"
	"github.com/vigil-edge/vigil/internal/testutil/testlog"
)

type recordingSink struct {
	raises []detect.Kind
	clears []detect.Kind
	err    error
}

func (s *recordingSink) Raise(kind detect.Kind, _ []detect.Kind) error {
	s.raises = append(s.raises, kind)
	return s.err
}

func (s *recordingSink) Clear(kind detect.Kind, _ []detect.Kind) error {
	s.clears = append(s.clears, kind)
	return s.err
}

func event(kind detect.Kind, tr detect.Transition) detect.Event {
	return detect.Event{Kind: kind, Transition: tr, At: time.Unix(1700000000, 0)}
}

func TestDispatcherDeliversEdges(t *testing.T) {
	testlog.Start(t)
	sink := &recordingSink{}
	d := NewDispatcher(zerolog.Nop(), sink)

	d.OnEvent(event(detect.KindEyesClosed, detect.TransitionRaised))
	d.OnEvent(event(detect.KindEyesClosed, detect.TransitionCleared))

	require.Equal(t, []detect.Kind{detect.KindEyesClosed}, sink.raises)
	require.Equal(t, []detect.Kind{detect.KindEyesClosed}, sink.clears)
}

func TestDispatcherSuppressesDuplicates(t *testing.T) {
	testlog.Start(t)
	sink := &recordingSink{}
	d := NewDispatcher(zerolog.Nop(), sink)

	d.OnEvent(event(detect.KindYawning, detect.TransitionRaised))
	d.OnEvent(event(detect.KindYawning, detect.TransitionRaised))
	require.Len(t, sink.raises, 1)

	d.OnEvent(event(detect.KindYawning, detect.TransitionCleared))
	d.OnEvent(event(detect.KindYawning, detect.TransitionCleared))
	require.Len(t, sink.clears, 1)
}

func TestDispatcherClearWithoutRaiseIsDropped(t *testing.T) {
	testlog.Start(t)
	sink := &recordingSink{}
	d := NewDispatcher(zerolog.Nop(), sink)

	d.OnEvent(event(detect.KindEyesClosed, detect.TransitionCleared))
	require.Empty(t, sink.clears)
}

func TestSinkFailureDoesNotStopOtherSinks(t *testing.T) {
	testlog.Start(t)
	failing := &recordingSink{err: errors.New("buzzer unavailable")}
	healthy := &recordingSink{}
	d := NewDispatcher(zerolog.Nop(), failing, healthy)

	d.OnEvent(event(detect.KindEyesClosed, detect.TransitionRaised))
	require.Len(t, failing.raises, 1)
	require.Len(t, healthy.raises, 1)

	// The failure must not corrupt transition tracking either.
	d.OnEvent(event(detect.KindEyesClosed, detect.TransitionCleared))
	require.Len(t, healthy.clears, 1)
}

func TestKindsTrackedIndependently(t *testing.T) {
	testlog.Start(t)
	sink := &recordingSink{}
	d := NewDispatcher(zerolog.Nop(), sink)

	d.OnEvent(event(detect.KindEyesClosed, detect.TransitionRaised))
	d.OnEvent(event(detect.KindYawning, detect.TransitionRaised))
	d.OnEvent(event(detect.KindEyesClosed, detect.TransitionCleared))

	require.Equal(t, []detect.Kind{detect.KindEyesClosed, detect.KindYawning}, sink.raises)
	require.Equal(t, []detect.Kind{detect.KindEyesClosed}, sink.clears)
}
