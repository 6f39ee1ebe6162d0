package main

import (
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// jpegDirSource replays JPEG files from a directory in name order, looping
// forever. The live camera pipeline drops frames into the directory (or a
// hardware build replaces this with a capture driver behind FrameSource).
type jpegDirSource struct {
	paths []string
	next  int
}

func newJPEGDirSource(dir string) (*jpegDirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("frame source: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".jpg" || ext == ".jpeg" {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("frame source: no jpeg files in %s", dir)
	}
	sort.Strings(paths)
	return &jpegDirSource{paths: paths}, nil
}

func (s *jpegDirSource) NextFrame(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := s.paths[s.next]
	s.next = (s.next + 1) % len(s.paths)

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("frame source: %w", err)
	}
	defer f.Close()

	img, err := jpeg.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("frame source: decode %s: %w", filepath.Base(path), err)
	}
	return img, nil
}
