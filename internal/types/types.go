package types

import "time"

// Frame represents a single JPEG frame pulled off the camera stream
type Frame struct {
	Seq        int
	Data       []byte
	CapturedAt time.Time
}
