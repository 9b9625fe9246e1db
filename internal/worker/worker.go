package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/andresmejia3/facegate/internal/landmark"
	"github.com/andresmejia3/facegate/internal/utils" // Using the SafeCommand wrapper
)

const (
	statusOK    byte = 0
	statusError byte = 1

	// maxPoints guards against a garbled length field. Face Mesh with refined
	// landmarks returns 478.
	maxPoints = 4096

	// maxResponse bounds one reply: a full landmark payload or an error message.
	maxResponse = 1 + 4 + maxPoints*12 + 64*1024
)

var (
	ErrWorkerTimeout = errors.New("landmark worker timed out")
	// ErrWorkerBroken wraps the failure that left a worker out of sync with its
	// replies. Every later request returns it.
	ErrWorkerBroken = errors.New("landmark worker unusable")
)

// Config controls how the Python landmark engine is launched.
type Config struct {
	Python             string
	Script             string
	DetectionThreshold float64
	ReadTimeout        time.Duration
	Debug              bool
}

// DefaultConfig matches the detector settings registration and login must share.
func DefaultConfig() Config {
	return Config{
		Python:             "python3",
		Script:             "python/landmark_worker.py",
		DetectionThreshold: 0.5,
		ReadTimeout:        10 * time.Second,
	}
}

type deadliner interface {
	SetReadDeadline(t time.Time) error
}

// PythonWorker owns one MediaPipe Face Mesh subprocess.
type PythonWorker struct {
	ID          int
	Cmd         *utils.SafeCommand
	Stdin       io.WriteCloser
	DataPipe    io.ReadCloser
	ReadTimeout time.Duration

	broken error
}

// NewPythonWorker spawns the landmark engine. The process is killed when ctx ends.
func NewPythonWorker(ctx context.Context, id int, cfg Config) (*PythonWorker, error) {
	args := []string{"-u", cfg.Script, "--min-detection-confidence", fmt.Sprintf("%.3f", cfg.DetectionThreshold)}
	if cfg.Debug {
		args = append(args, "--debug")
	}
	py := utils.NewSafeCommand(ctx, cfg.Python, args...)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close() // Prevent FD leak
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	return &PythonWorker{
		ID:          id,
		Cmd:         py,
		Stdin:       stdin,
		DataPipe:    r,
		ReadTimeout: cfg.ReadTimeout,
	}, nil
}

// Communicate sends one length-prefixed request and reads one length-prefixed response.
// Any transport failure poisons the worker: a late reply would otherwise be
// read as the answer to the next request.
func (w *PythonWorker) Communicate(data []byte) ([]byte, error) {
	if w.broken != nil {
		return nil, w.broken
	}
	resp, err := w.roundTrip(data)
	if err != nil {
		w.fail(err)
		return nil, err
	}
	return resp, nil
}

func (w *PythonWorker) roundTrip(data []byte) ([]byte, error) {
	// Protocol: [Length][Data]
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, err
	}

	if d, ok := w.DataPipe.(deadliner); ok && w.ReadTimeout > 0 {
		_ = d.SetReadDeadline(time.Now().Add(w.ReadTimeout))
		defer d.SetReadDeadline(time.Time{})
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return nil, ErrWorkerTimeout
		}
		return nil, err // This is where we catch the "ModuleNotFoundError" crash
	}

	respLen := binary.BigEndian.Uint32(header)
	if respLen > maxResponse {
		return nil, fmt.Errorf("response length %d exceeds limit %d", respLen, maxResponse)
	}
	respBody := make([]byte, respLen)
	if _, err := io.ReadFull(w.DataPipe, respBody); err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return nil, ErrWorkerTimeout
		}
		return nil, err
	}
	return respBody, nil
}

// fail records cause and tears the subprocess down so no stale reply can be read.
func (w *PythonWorker) fail(cause error) {
	w.broken = fmt.Errorf("%w (worker %d): %w", ErrWorkerBroken, w.ID, cause)
	if w.Stdin != nil {
		w.Stdin.Close()
	}
	if w.DataPipe != nil {
		w.DataPipe.Close()
	}
	if w.Cmd != nil && w.Cmd.Process != nil {
		_ = w.Cmd.Process.Kill()
	}
}

// Err is the failure that made the worker unusable, or nil.
func (w *PythonWorker) Err() error { return w.broken }

// ProcessFrame sends a JPEG and decodes the landmarks of the first face.
// An empty set means the detector saw no face.
func (w *PythonWorker) ProcessFrame(jpeg []byte) (landmark.LandmarkSet, error) {
	resp, err := w.Communicate(jpeg)
	if err != nil {
		return nil, err
	}
	return decodeLandmarks(resp)
}

// Detect satisfies sequencer.Detector. The subprocess is synchronous, so ctx
// only short-circuits calls made after cancellation.
func (w *PythonWorker) Detect(ctx context.Context, jpeg []byte) (landmark.LandmarkSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return w.ProcessFrame(jpeg)
}

// decodeLandmarks parses the response payload.
// OK:    [Status:0] [NumPoints uint32] [NumPoints x (x,y,z float32)]
// Error: [Status:1] [MsgLen uint32] [Msg]
func decodeLandmarks(resp []byte) (landmark.LandmarkSet, error) {
	if len(resp) == 0 {
		return nil, fmt.Errorf("empty response from python worker")
	}
	buf := bytes.NewReader(resp[1:])

	switch resp[0] {
	case statusError:
		var msgLen uint32
		if err := binary.Read(buf, binary.BigEndian, &msgLen); err != nil {
			return nil, fmt.Errorf("malformed error response: %w", err)
		}
		msg := make([]byte, msgLen)
		if _, err := io.ReadFull(buf, msg); err != nil {
			return nil, fmt.Errorf("malformed error response: %w", err)
		}
		return nil, fmt.Errorf("python worker error: %s", msg)

	case statusOK:
		var n uint32
		if err := binary.Read(buf, binary.BigEndian, &n); err != nil {
			return nil, fmt.Errorf("malformed landmark response: %w", err)
		}
		if n == 0 {
			return nil, nil
		}
		if n > maxPoints {
			return nil, fmt.Errorf("landmark count %d exceeds limit %d", n, maxPoints)
		}
		raw := make([][3]float32, n)
		if err := binary.Read(buf, binary.BigEndian, raw); err != nil {
			return nil, fmt.Errorf("truncated landmark payload: %w", err)
		}
		pts := make([]landmark.Point, n)
		for i, p := range raw {
			if isBad(p[0]) || isBad(p[1]) || isBad(p[2]) {
				return nil, fmt.Errorf("landmark %d is not finite", i)
			}
			pts[i] = landmark.Point{X: float64(p[0]), Y: float64(p[1]), Z: float64(p[2])}
		}
		return landmark.New(pts), nil

	default:
		return nil, fmt.Errorf("unknown worker status byte 0x%02x", resp[0])
	}
}

func isBad(f float32) bool {
	v := float64(f)
	return math.IsNaN(v) || math.IsInf(v, 0)
}

// Close shuts down stdin so the worker exits its read loop, then reaps it.
func (w *PythonWorker) Close() {
	if w.Stdin != nil {
		w.Stdin.Close()
	}
	if w.DataPipe != nil {
		w.DataPipe.Close()
	}
	if w.Cmd != nil {
		w.Cmd.Wait()
	}
}
