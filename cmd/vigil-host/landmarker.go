package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"os/exec"
	"sync"

	"github.com/rs/zerolog"

	"github.com/vigil-edge/vigil/internal/extract"
)

type landmarkerConfig struct {
	Command string
	Args    []string
}

// execLandmarker bridges to the facial-landmark model running as a sidecar
// process. Per frame it writes [4-byte BE length][JPEG] to the sidecar's
// stdin and reads one JSON line back:
//
//	{"found":true,"left_eye":[[x,y]*6],"right_eye":[[x,y]*6],"mouth":[[x,y]*4]}
//
// found=false means no face in the frame; a transport or parse failure is a
// model fault.
type execLandmarker struct {
	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  *bufio.Writer
	stdout *bufio.Reader
	log    zerolog.Logger
}

type landmarkReply struct {
	Found    bool         `json:"found"`
	LeftEye  [][2]float64 `json:"left_eye"`
	RightEye [][2]float64 `json:"right_eye"`
	Mouth    [][2]float64 `json:"mouth"`
}

func newExecLandmarker(cfg landmarkerConfig, log zerolog.Logger) (*execLandmarker, error) {
	cmd := exec.Command(cfg.Command, cfg.Args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("landmarker: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("landmarker: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("landmarker: start %s: %w", cfg.Command, err)
	}
	log.Info().Str("command", cfg.Command).Int("pid", cmd.Process.Pid).Msg("landmarker sidecar started")
	return &execLandmarker{
		cmd:    cmd,
		stdin:  bufio.NewWriter(stdin),
		stdout: bufio.NewReader(stdout),
		log:    log,
	}, nil
}

func (l *execLandmarker) DetectLandmarks(ctx context.Context, img image.Image) (extract.Landmarks, bool, error) {
	if err := ctx.Err(); err != nil {
		return extract.Landmarks{}, false, err
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		return extract.Landmarks{}, false, fmt.Errorf("landmarker: encode: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(buf.Len()))
	if _, err := l.stdin.Write(prefix[:]); err != nil {
		return extract.Landmarks{}, false, fmt.Errorf("landmarker: write: %w", err)
	}
	if _, err := l.stdin.Write(buf.Bytes()); err != nil {
		return extract.Landmarks{}, false, fmt.Errorf("landmarker: write: %w", err)
	}
	if err := l.stdin.Flush(); err != nil {
		return extract.Landmarks{}, false, fmt.Errorf("landmarker: flush: %w", err)
	}

	line, err := l.stdout.ReadBytes('\n')
	if err != nil {
		return extract.Landmarks{}, false, fmt.Errorf("landmarker: read: %w", err)
	}
	var reply landmarkReply
	if err := json.Unmarshal(line, &reply); err != nil {
		return extract.Landmarks{}, false, fmt.Errorf("landmarker: parse: %w", err)
	}
	if !reply.Found {
		return extract.Landmarks{}, false, nil
	}
	if len(reply.LeftEye) != 6 || len(reply.RightEye) != 6 || len(reply.Mouth) != 4 {
		return extract.Landmarks{}, false, fmt.Errorf(
			"landmarker: bad contour sizes %d/%d/%d", len(reply.LeftEye), len(reply.RightEye), len(reply.Mouth))
	}

	var lm extract.Landmarks
	for i, p := range reply.LeftEye {
		lm.LeftEye[i] = extract.Point{X: p[0], Y: p[1]}
	}
	for i, p := range reply.RightEye {
		lm.RightEye[i] = extract.Point{X: p[0], Y: p[1]}
	}
	for i, p := range reply.Mouth {
		lm.Mouth[i] = extract.Point{X: p[0], Y: p[1]}
	}
	return lm, true, nil
}

func (l *execLandmarker) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cmd.Process != nil {
		_ = l.cmd.Process.Kill()
	}
	_ = l.cmd.Wait()
}
