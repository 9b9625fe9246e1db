package camera

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

func jpeg(b byte) []byte {
	return []byte{0xFF, 0xD8, b, 0xFF, 0xD9}
}

func TestReadReturnsNewestFrame(t *testing.T) {
	pr, pw := io.Pipe()
	c := newCamera(pr, 200*time.Millisecond)
	defer pw.Close()

	// Three frames land before anyone reads; only the last one survives.
	for _, b := range []byte{1, 2, 3} {
		if _, err := pw.Write(jpeg(b)); err != nil {
			t.Fatal(err)
		}
	}

	// io.Pipe writes return once consumed by the scanner, but publishing
	// happens just after; give the splitter a moment.
	deadline := time.Now().Add(time.Second)
	for c.Dropped() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	f, err := c.Read(context.Background())
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !bytes.Equal(f.Data, jpeg(3)) || f.Seq != 3 {
		t.Errorf("Expected newest frame 3, got seq %d data %X", f.Seq, f.Data)
	}
	if c.Dropped() != 2 {
		t.Errorf("Expected 2 dropped frames, got %d", c.Dropped())
	}
}

func TestReadTimesOut(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	c := newCamera(pr, 20*time.Millisecond)

	if _, err := c.Read(context.Background()); !errors.Is(err, ErrNoFrame) {
		t.Errorf("Expected ErrNoFrame, got %v", err)
	}
}

func TestReadAfterStreamEnds(t *testing.T) {
	c := newCamera(bytes.NewReader(nil), time.Second)
	<-c.done

	_, err := c.Read(context.Background())
	if !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
	if !errors.Is(c.Err(), io.EOF) {
		t.Errorf("Expected EOF stream error, got %v", c.Err())
	}
}

func TestReadHonoursContext(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	c := newCamera(pr, time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := c.Read(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
}
