package extract

import (
	"context"
	"errors"
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vigil-edge/vigil/internal/testutil/testlog"
)

type stubLandmarker struct {
	lm  Landmarks
	ok  bool
	err error
}

func (s *stubLandmarker) DetectLandmarks(context.Context, image.Image) (Landmarks, bool, error) {
	return s.lm, s.ok, s.err
}

// openEye is a 6-point contour with vertical gaps of 2 over a corner span of
// 8: EAR = (2+2)/(2*8) = 0.25.
func openEye() [6]Point {
	return [6]Point{
		{X: 0, Y: 0},
		{X: 2, Y: -1},
		{X: 6, Y: -1},
		{X: 8, Y: 0},
		{X: 6, Y: 1},
		{X: 2, Y: 1},
	}
}

func TestExtractComputesAspectRatios(t *testing.T) {
	testlog.Start(t)
	lm := Landmarks{
		LeftEye:  openEye(),
		RightEye: openEye(),
		// 6 vertical over 10 horizontal: MAR = 0.6.
		Mouth: [4]Point{{X: 5, Y: -3}, {X: 5, Y: 3}, {X: 0, Y: 0}, {X: 10, Y: 0}},
	}
	e := New(&stubLandmarker{lm: lm, ok: true})

	at := time.Unix(1700000000, 0)
	sample, err := e.Extract(context.Background(), 7, at, image.NewRGBA(image.Rect(0, 0, 4, 4)))
	require.NoError(t, err)
	require.True(t, sample.Valid)
	require.Equal(t, uint64(7), sample.Seq)
	require.Equal(t, at, sample.CapturedAt)
	require.InDelta(t, 0.25, sample.EAR, 1e-9)
	require.InDelta(t, 0.6, sample.MAR, 1e-9)
}

func TestExtractNoFaceIsNotAnError(t *testing.T) {
	testlog.Start(t)
	e := New(&stubLandmarker{ok: false})

	sample, err := e.Extract(context.Background(), 3, time.Now(), image.NewRGBA(image.Rect(0, 0, 4, 4)))
	require.NoError(t, err)
	require.False(t, sample.Valid)
	require.Equal(t, uint64(3), sample.Seq)
}

func TestExtractCollaboratorFault(t *testing.T) {
	testlog.Start(t)
	fault := errors.New("model not loaded")
	e := New(&stubLandmarker{err: fault})

	sample, err := e.Extract(context.Background(), 1, time.Now(), image.NewRGBA(image.Rect(0, 0, 4, 4)))
	require.ErrorIs(t, err, fault)
	require.False(t, sample.Valid)
}

func TestDegenerateContoursClampToZero(t *testing.T) {
	testlog.Start(t)
	// All points coincident: horizontal spans are zero, ratios must not NaN.
	e := New(&stubLandmarker{ok: true})

	sample, err := e.Extract(context.Background(), 1, time.Now(), image.NewRGBA(image.Rect(0, 0, 4, 4)))
	require.NoError(t, err)
	require.True(t, sample.Valid)
	require.Equal(t, 0.0, sample.EAR)
	require.Equal(t, 0.0, sample.MAR)
}
