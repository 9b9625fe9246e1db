package utils

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
)

// --- 1. Process Safety & Command Wrapping ---

// SafeCommand wraps a standard exec.Cmd with a buffer to catch Stderr (Python / FFmpeg logs)
// This ensures we don't lose critical crash information if a subprocess dies.
type SafeCommand struct {
	*exec.Cmd
	Stderr *bytes.Buffer
}

// NewSafeCommand initializes a command bound to ctx and attaches a buffer to its Stderr pipe.
// It prepares the command for execution but does not start it.
func NewSafeCommand(ctx context.Context, name string, args ...string) *SafeCommand {
	cmd := exec.CommandContext(ctx, name, args...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	return &SafeCommand{Cmd: cmd, Stderr: stderr}
}

// ShowError prints a formatted error box and dumps subprocess logs if a SafeCommand is provided.
func ShowError(context string, err error, s *SafeCommand) {
	fmt.Fprintf(os.Stderr, "\n---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "🚨 FACEGATE ERROR: %s\n", context)
	if err != nil {
		fmt.Fprintf(os.Stderr, "DETAILS: %v\n", err)
	}

	// If we have a SafeCommand and it captured logs, print them.
	if s != nil && s.Stderr != nil && s.Stderr.Len() > 0 {
		fmt.Fprintf(os.Stderr, "\nSUBPROCESS LOGS:\n%s\n", s.Stderr.String())
	}
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
}

// Die is ShowError followed by exit. Only use it from main-goroutine startup code.
func Die(context string, err error, s *SafeCommand) {
	ShowError(context, err, s)
	os.Exit(1)
}

// --- 2. Camera Engine ---

var (
	JpegSOI = []byte{0xFF, 0xD8} // Start of Image
	JpegEOI = []byte{0xFF, 0xD9} // End of Image
)

// SplitJpeg is the custom splitter for bufio.Scanner
// It locates the Start Of Image (FFD8) and End Of Image (FFD9) markers to extract full JPEG frames.
func SplitJpeg(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	start := bytes.Index(data, JpegSOI)
	if start == -1 {
		return 0, nil, nil
	}
	end := bytes.Index(data[start:], JpegEOI)
	if end == -1 {
		return 0, nil, nil
	}
	return start + end + 2, data[start : start+end+2], nil
}

// CameraInputArgs returns the ffmpeg input arguments for a camera on goos.
// device is either an index ("0") or a platform-specific name ("/dev/video2",
// "video=Integrated Camera"). dshow only accepts names, so windows indexes go
// through ResolveCameraDevice first.
func CameraInputArgs(goos, device string, fps int) []string {
	rate := strconv.Itoa(fps)
	switch goos {
	case "darwin":
		return []string{"-f", "avfoundation", "-framerate", rate, "-i", device}
	case "windows":
		if !strings.HasPrefix(device, "video=") {
			device = "video=" + device
		}
		return []string{"-f", "dshow", "-framerate", rate, "-i", device}
	default:
		if _, err := strconv.Atoi(device); err == nil {
			device = "/dev/video" + device
		}
		return []string{"-f", "v4l2", "-framerate", rate, "-i", device}
	}
}

// ResolveCameraDevice turns a numeric device on windows into the name of the
// n-th DirectShow video device. Anything else is returned unchanged.
func ResolveCameraDevice(ctx context.Context, goos, device string) (string, error) {
	idx, err := strconv.Atoi(device)
	if goos != "windows" || err != nil {
		return device, nil
	}

	cmd := NewSafeCommand(ctx, "ffmpeg", "-hide_banner", "-list_devices", "true", "-f", "dshow", "-i", "dummy")
	// Exits non-zero even on success since "dummy" is not a device.
	if err := cmd.Run(); err != nil && errors.Is(err, exec.ErrNotFound) {
		return "", err
	}
	names := parseDshowDevices(cmd.Stderr.String())
	if idx < 0 || idx >= len(names) {
		return "", fmt.Errorf("camera index %d out of range: %d DirectShow video device(s) found", idx, len(names))
	}
	return names[idx], nil
}

// parseDshowDevices extracts video device names from ffmpeg -list_devices
// output. Newer builds tag each device with "(video)"; older ones group them
// under a "DirectShow video devices" header.
func parseDshowDevices(out string) []string {
	var names []string
	section := ""
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "[") {
			if i := strings.Index(line, "]"); i >= 0 {
				line = line[i+1:]
			}
		}
		line = strings.TrimSpace(line)

		switch {
		case strings.HasPrefix(line, "DirectShow video devices"):
			section = "video"
			continue
		case strings.HasPrefix(line, "DirectShow audio devices"):
			section = "audio"
			continue
		case !strings.HasPrefix(line, `"`):
			continue
		}

		end := strings.Index(line[1:], `"`)
		if end < 0 {
			continue
		}
		name, tag := line[1:end+1], strings.TrimSpace(line[end+2:])
		if strings.Contains(tag, "video") || (tag == "" && section == "video") {
			names = append(names, name)
		}
	}
	return names
}

// NewCameraCmd creates the camera decoder pipe.
// It configures FFmpeg to output raw MJPEG frames to Stdout for ingestion.
func NewCameraCmd(ctx context.Context, device string, fps int) *SafeCommand {
	args := []string{"-hide_banner", "-loglevel", "error"}
	args = append(args, CameraInputArgs(runtime.GOOS, device, fps)...)
	args = append(args, "-f", "image2pipe", "-vcodec", "mjpeg", "-q:v", "5", "-")
	return NewSafeCommand(ctx, "ffmpeg", args...)
}
