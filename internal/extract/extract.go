package extract

import (
	"context"
	"image"
	"math"
	"time"
)

// Point is one landmark coordinate in image space.
type Point struct {
	X float64
	Y float64
}

// Landmarks is the fixed contour shape the collaborator's model output is
// normalized into at this boundary. Eye points follow the standard six-point
// EAR ordering: outer corner, two upper-lid points, inner corner, two
// lower-lid points. Mouth points are top, bottom, left corner, right corner.
type Landmarks struct {
	LeftEye  [6]Point
	RightEye [6]Point
	Mouth    [4]Point
}

// Landmarker is the external facial-landmark collaborator. A frame without a
// detectable face returns ok=false with a nil error; errors are reserved for
// model faults.
type Landmarker interface {
	DetectLandmarks(ctx context.Context, img image.Image) (lm Landmarks, ok bool, err error)
}

// Sample is the per-frame measurement pair consumed by the detector.
// EAR/MAR are undefined when Valid is false and must not be compared against
// thresholds.
type Sample struct {
	Seq        uint64
	CapturedAt time.Time
	EAR        float64
	MAR        float64
	Valid      bool
}

// Extractor reduces collaborator output to one Sample per frame. Everything
// downstream depends only on the Sample shape.
type Extractor struct {
	landmarker Landmarker
}

func New(landmarker Landmarker) *Extractor {
	return &Extractor{landmarker: landmarker}
}

// Extract runs the collaborator on one decoded frame. No face is an expected,
// frequent condition and yields Valid=false; only a model fault is an error.
func (e *Extractor) Extract(ctx context.Context, seq uint64, capturedAt time.Time, img image.Image) (Sample, error) {
	sample := Sample{Seq: seq, CapturedAt: capturedAt}

	lm, ok, err := e.landmarker.DetectLandmarks(ctx, img)
	if err != nil {
		return sample, err
	}
	if !ok {
		return sample, nil
	}

	sample.EAR = (eyeAspectRatio(lm.LeftEye) + eyeAspectRatio(lm.RightEye)) / 2.0
	sample.MAR = mouthAspectRatio(lm.Mouth)
	sample.Valid = true
	return sample, nil
}

// eyeAspectRatio computes (|p1-p5| + |p2-p4|) / (2 * |p0-p3|): vertical lid
// distances over the horizontal corner distance. Low values mean closing eyes.
func eyeAspectRatio(eye [6]Point) float64 {
	a := dist(eye[1], eye[5])
	b := dist(eye[2], eye[4])
	c := dist(eye[0], eye[3])
	if c == 0 {
		return 0
	}
	return (a + b) / (2.0 * c)
}

// mouthAspectRatio computes |top-bottom| / |left-right|. High values mean an
// open mouth.
func mouthAspectRatio(mouth [4]Point) float64 {
	a := dist(mouth[0], mouth[1])
	c := dist(mouth[2], mouth[3])
	if c == 0 {
		return 0
	}
	return a / c
}

func dist(p, q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}
