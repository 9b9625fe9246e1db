package utils

import (
	"bufio"
	"bytes"
	"context"
	"slices"
	"testing"
)

func TestSplitJpeg(t *testing.T) {
	// Construct a stream containing: [Garbage] [JPEG] [Garbage]
	// SOI (Start of Image): FF D8
	// EOI (End of Image):   FF D9

	jpegData := []byte{0xFF, 0xD8, 0x01, 0x02, 0x03, 0xFF, 0xD9}

	streamData := []byte{0x00, 0x00} // Garbage at start
	streamData = append(streamData, jpegData...)
	streamData = append(streamData, []byte{0x00, 0x00}...) // Garbage at end

	// Use bufio.Scanner with our custom Split function
	scanner := bufio.NewScanner(bytes.NewReader(streamData))
	scanner.Split(SplitJpeg)

	// Scan() should skip the first garbage bytes and find the JPEG
	if !scanner.Scan() {
		t.Fatal("Expected to find a token, got EOF")
	}

	// Verify the extracted token is exactly the JPEG
	if !bytes.Equal(scanner.Bytes(), jpegData) {
		t.Errorf("Expected %X, got %X", jpegData, scanner.Bytes())
	}

	// Scan() again should return false (EOF) because the trailing garbage is not a JPEG
	if scanner.Scan() {
		t.Error("Expected only one token, found more")
	}
}

func TestSplitJpegBackToBack(t *testing.T) {
	a := []byte{0xFF, 0xD8, 0xAA, 0xFF, 0xD9}
	b := []byte{0xFF, 0xD8, 0xBB, 0xBB, 0xFF, 0xD9}

	scanner := bufio.NewScanner(bytes.NewReader(append(append([]byte{}, a...), b...)))
	scanner.Split(SplitJpeg)

	var got [][]byte
	for scanner.Scan() {
		got = append(got, append([]byte(nil), scanner.Bytes()...))
	}
	if len(got) != 2 || !bytes.Equal(got[0], a) || !bytes.Equal(got[1], b) {
		t.Errorf("Expected two frames %X %X, got %X", a, b, got)
	}
}

func TestCameraInputArgs(t *testing.T) {
	tests := []struct {
		goos   string
		device string
		want   []string
	}{
		{"linux", "0", []string{"-f", "v4l2", "-framerate", "30", "-i", "/dev/video0"}},
		{"linux", "/dev/video2", []string{"-f", "v4l2", "-framerate", "30", "-i", "/dev/video2"}},
		{"darwin", "0", []string{"-f", "avfoundation", "-framerate", "30", "-i", "0"}},
		{"windows", "Integrated Camera", []string{"-f", "dshow", "-framerate", "30", "-i", "video=Integrated Camera"}},
		{"windows", "video=Cam", []string{"-f", "dshow", "-framerate", "30", "-i", "video=Cam"}},
	}

	for _, tt := range tests {
		t.Run(tt.goos+"/"+tt.device, func(t *testing.T) {
			if got := CameraInputArgs(tt.goos, tt.device, 30); !slices.Equal(got, tt.want) {
				t.Errorf("CameraInputArgs() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewCameraCmdOutputsMJPEG(t *testing.T) {
	cmd := NewCameraCmd(context.Background(), "0", 30)
	args := cmd.Args
	if args[len(args)-1] != "-" || !slices.Contains(args, "mjpeg") {
		t.Errorf("Camera command should pipe MJPEG to stdout, got %v", args)
	}
	if cmd.Stderr == nil {
		t.Error("Expected stderr buffer to be attached")
	}
}

func TestParseDshowDevices(t *testing.T) {
	tests := []struct {
		name string
		out  string
		want []string
	}{
		{
			name: "tagged devices",
			out: `[dshow @ 000001f2] "Integrated Camera" (video)
[dshow @ 000001f2]   Alternative name "@device_pnp_\\?\usb#vid_0bda"
[dshow @ 000001f2] "Microphone Array (Realtek)" (audio)
[dshow @ 000001f2] "OBS Virtual Camera" (video)
dummy: Immediate exit requested`,
			want: []string{"Integrated Camera", "OBS Virtual Camera"},
		},
		{
			name: "sectioned devices",
			out: "[dshow @ 0000] DirectShow video devices (some may be both video and audio devices)\r\n" +
				"[dshow @ 0000]  \"USB2.0 HD UVC WebCam\"\r\n" +
				"[dshow @ 0000]     Alternative name \"@device_pnp_usb\"\r\n" +
				"[dshow @ 0000] DirectShow audio devices\r\n" +
				"[dshow @ 0000]  \"Microphone\"\r\n",
			want: []string{"USB2.0 HD UVC WebCam"},
		},
		{
			name: "no devices",
			out:  "[dshow @ 0000] DirectShow video devices\n[dshow @ 0000]  Could not enumerate video devices (or none found).\n",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseDshowDevices(tt.out); !slices.Equal(got, tt.want) {
				t.Errorf("parseDshowDevices() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolveCameraDeviceLeavesNamesAlone(t *testing.T) {
	tests := []struct{ goos, device string }{
		{"linux", "0"},
		{"darwin", "1"},
		{"windows", "Integrated Camera"},
		{"windows", "video=Cam"},
	}
	for _, tt := range tests {
		got, err := ResolveCameraDevice(context.Background(), tt.goos, tt.device)
		if err != nil || got != tt.device {
			t.Errorf("ResolveCameraDevice(%s, %q) = %q, %v; want it unchanged", tt.goos, tt.device, got, err)
		}
	}
}
