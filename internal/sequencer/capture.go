package sequencer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/andresmejia3/facegate/internal/landmark"
	"github.com/andresmejia3/facegate/internal/types"
)

var ErrNoFaceCaptured = errors.New("no face captured")

// FrameSource yields camera frames. Read returns an error when no frame is
// available; callers treat that as a missed frame, not a fatal condition.
type FrameSource interface {
	Read(ctx context.Context) (types.Frame, error)
}

// Detector turns a JPEG frame into landmarks. An empty set means no face.
type Detector interface {
	Detect(ctx context.Context, jpeg []byte) (landmark.LandmarkSet, error)
}

// Capture reads up to attempts consecutive frames and returns the first one
// with a face. Missing frames use up an attempt. A detector error aborts the
// capture: it means the worker itself is broken, not that the face was lost.
func Capture(ctx context.Context, src FrameSource, det Detector, attempts int) (landmark.LandmarkSet, error) {
	if attempts < 1 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		frame, err := src.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			slog.Debug("capture: frame unavailable", "attempt", i+1, "error", err)
			continue
		}

		set, err := det.Detect(ctx, frame.Data)
		if err != nil {
			return nil, fmt.Errorf("detect landmarks: %w", err)
		}
		if !set.Empty() {
			slog.Debug("capture: face found", "attempt", i+1, "points", len(set))
			return set, nil
		}
	}
	return nil, fmt.Errorf("%w after %d attempts", ErrNoFaceCaptured, attempts)
}
