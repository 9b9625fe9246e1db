// Package camera streams frames from a local webcam through ffmpeg.
package camera

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andresmejia3/facegate/internal/types"
	"github.com/andresmejia3/facegate/internal/utils"
)

const megabyte = 1024 * 1024

var (
	ErrNoFrame = errors.New("no camera frame available")
	ErrClosed  = errors.New("camera stream closed")
)

// Config selects the capture device.
type Config struct {
	Device       string        // "0" is the default system camera
	FPS          int           // requested capture rate
	FrameTimeout time.Duration // how long Read waits for a fresh frame
}

// Camera owns the capture device for its whole lifetime. Only the newest
// frame is kept: a slow consumer sees fresh frames, never a backlog.
type Camera struct {
	cmd     *utils.SafeCommand
	cancel  context.CancelFunc
	timeout time.Duration

	latest chan types.Frame
	done   chan struct{}

	errMu     sync.Mutex
	streamErr error

	dropped   atomic.Int64
	closeOnce sync.Once
}

// Open starts ffmpeg on the configured device.
func Open(ctx context.Context, cfg Config) (*Camera, error) {
	if cfg.FPS <= 0 {
		cfg.FPS = 30
	}
	device, err := utils.ResolveCameraDevice(ctx, runtime.GOOS, cfg.Device)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve camera %q: %w", cfg.Device, err)
	}
	ctx, cancel := context.WithCancel(ctx)
	ff := utils.NewCameraCmd(ctx, device, cfg.FPS)

	out, err := ff.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}
	if err := ff.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start ffmpeg on device %q: %w", cfg.Device, err)
	}

	c := newCamera(out, cfg.FrameTimeout)
	c.cmd = ff
	c.cancel = cancel
	slog.Info("camera opened", "device", device, "fps", cfg.FPS)
	return c, nil
}

// newCamera starts the frame splitter on r.
func newCamera(r io.Reader, timeout time.Duration) *Camera {
	if timeout <= 0 {
		timeout = time.Second
	}
	c := &Camera{
		timeout: timeout,
		latest:  make(chan types.Frame, 1),
		done:    make(chan struct{}),
	}
	go c.run(r)
	return c
}

func (c *Camera) run(r io.Reader) {
	defer close(c.done)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, megabyte), 16*megabyte)
	scanner.Split(utils.SplitJpeg)

	seq := 0
	for scanner.Scan() {
		seq++
		// scanner.Bytes() is reused on the next Scan, so the frame needs its own copy
		data := make([]byte, len(scanner.Bytes()))
		copy(data, scanner.Bytes())
		c.publish(types.Frame{Seq: seq, Data: data, CapturedAt: time.Now()})
	}

	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	c.errMu.Lock()
	c.streamErr = err
	c.errMu.Unlock()
	slog.Debug("camera stream ended", "frames", seq, "dropped", c.dropped.Load(), "error", err)
}

// publish replaces any unread frame with f. run is the only producer, so the
// second send cannot block.
func (c *Camera) publish(f types.Frame) {
	select {
	case c.latest <- f:
		return
	default:
	}
	select {
	case <-c.latest:
		c.dropped.Add(1)
	default:
	}
	c.latest <- f
}

// Read returns the next frame the consumer has not seen yet. It waits at most
// the frame timeout and reports ErrNoFrame when the camera is silent.
func (c *Camera) Read(ctx context.Context) (types.Frame, error) {
	select {
	case f := <-c.latest:
		return f, nil
	default:
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case f := <-c.latest:
		return f, nil
	case <-ctx.Done():
		return types.Frame{}, ctx.Err()
	case <-c.done:
		return types.Frame{}, fmt.Errorf("%w: %v", ErrClosed, c.Err())
	case <-timer.C:
		return types.Frame{}, ErrNoFrame
	}
}

// Err reports why the stream ended, or nil while it is running.
func (c *Camera) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.streamErr
}

// Dropped counts frames replaced before anyone read them.
func (c *Camera) Dropped() int64 { return c.dropped.Load() }

// Close stops ffmpeg and releases the device.
func (c *Camera) Close() {
	c.closeOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		if c.cmd != nil {
			// ffmpeg exits non-zero when killed, so this is informational only
			if werr := c.cmd.Wait(); werr != nil && !errors.Is(werr, context.Canceled) {
				slog.Debug("ffmpeg exited", "error", werr, "stderr", c.cmd.Stderr.String())
			}
		}
		<-c.done
	})
}
