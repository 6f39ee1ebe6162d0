package codec

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"

	xdraw "golang.org/x/image/draw"
)

var (
	ErrCorruptPayload = errors.New("codec: corrupt payload")
	ErrEmptyImage     = errors.New("codec: empty image")
)

// Config holds the bandwidth/fidelity levers. Quality is the JPEG quality
// (1-100); MaxDim, when non-zero, downscales so the longer side does not
// exceed it. Both come from configuration, never hardcoded call sites.
type Config struct {
	Quality int
	MaxDim  int
}

func DefaultConfig() Config {
	return Config{
		Quality: 70,
		MaxDim:  0,
	}
}

// Codec is a stateless, deterministic encode/decode pair. Decode(Encode(x))
// yields a perceptually equivalent image, not byte equality.
type Codec struct {
	cfg Config
}

func New(cfg Config) *Codec {
	if cfg.Quality < 1 || cfg.Quality > 100 {
		cfg.Quality = DefaultConfig().Quality
	}
	return &Codec{cfg: cfg}
}

func (c *Codec) Encode(img image.Image) ([]byte, error) {
	if img == nil {
		return nil, ErrEmptyImage
	}
	bounds := img.Bounds()
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		return nil, ErrEmptyImage
	}

	if c.cfg.MaxDim > 0 {
		img = downscale(img, c.cfg.MaxDim)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: c.cfg.Quality}); err != nil {
		return nil, fmt.Errorf("codec: encode: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *Codec) Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrCorruptPayload)
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptPayload, err)
	}
	return img, nil
}

func downscale(img image.Image, maxDim int) image.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	longest := w
	if h > longest {
		longest = h
	}
	if longest <= maxDim {
		return img
	}

	scale := float64(maxDim) / float64(longest)
	dw := int(float64(w) * scale)
	dh := int(float64(h) * scale)
	if dw < 1 {
		dw = 1
	}
	if dh < 1 {
		dh = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, bounds, xdraw.Over, nil)
	return dst
}
