// Package cue plays the two audible prompts used during registration.
package cue

import (
	"io"
	"log/slog"
	"math"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// Kind selects a cue.
type Kind int

const (
	// Confirm asks the user to turn their head.
	Confirm Kind = iota
	// Success marks a completed registration.
	Success
)

func (k Kind) String() string {
	if k == Success {
		return "success"
	}
	return "confirm"
}

// Player plays cues without blocking the caller.
type Player interface {
	Play(k Kind)
	Close()
}

const (
	sampleRate      = 44100
	framesPerBuffer = 1024
	amplitude       = 0.3
	fadeSamples     = 220 // ~5ms ramps to avoid clicks
)

type note struct {
	freq float64
	secs float64
}

var cues = map[Kind][]note{
	Confirm: {{880, 0.15}},
	Success: {{660, 0.12}, {880, 0.12}, {990, 0.22}},
}

// Tone renders k as mono float32 samples at rate.
func Tone(k Kind, rate int) []float32 {
	var out []float32
	for _, n := range cues[k] {
		count := int(n.secs * float64(rate))
		for i := 0; i < count; i++ {
			env := 1.0
			if i < fadeSamples {
				env = float64(i) / fadeSamples
			} else if count-i < fadeSamples {
				env = float64(count-i) / fadeSamples
			}
			v := amplitude * env * math.Sin(2*math.Pi*n.freq*float64(i)/float64(rate))
			out = append(out, float32(v))
		}
	}
	return out
}

// PortAudioPlayer renders cues on the default output device from a single
// goroutine. A cue requested while another is playing is dropped.
type PortAudioPlayer struct {
	queue   chan Kind
	play    func([]float32) error
	release func()
	wg      sync.WaitGroup
	once    sync.Once
}

// NewPortAudio initializes PortAudio and starts the playback goroutine.
func NewPortAudio() (*PortAudioPlayer, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, err
	}
	return newPlayer(playSamples, func() { _ = portaudio.Terminate() }), nil
}

func newPlayer(play func([]float32) error, release func()) *PortAudioPlayer {
	// Unbuffered: a send only succeeds while loop is idle.
	p := &PortAudioPlayer{queue: make(chan Kind), play: play, release: release}
	p.wg.Add(1)
	go p.loop()
	return p
}

func (p *PortAudioPlayer) Play(k Kind) {
	select {
	case p.queue <- k:
	default:
		slog.Debug("cue dropped, player busy", "cue", k)
	}
}

func (p *PortAudioPlayer) loop() {
	defer p.wg.Done()
	for k := range p.queue {
		if err := p.play(Tone(k, sampleRate)); err != nil {
			slog.Warn("cue playback failed", "cue", k, "error", err)
		}
	}
}

func playSamples(samples []float32) error {
	buf := make([]float32, framesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(0, 1, sampleRate, len(buf), buf)
	if err != nil {
		return err
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return err
	}
	for off := 0; off < len(samples); off += len(buf) {
		n := copy(buf, samples[off:])
		clear(buf[n:])
		if err := stream.Write(); err != nil {
			_ = stream.Stop()
			return err
		}
	}
	return stream.Stop()
}

// Close waits for the current cue and releases PortAudio.
func (p *PortAudioPlayer) Close() {
	p.once.Do(func() {
		close(p.queue)
		p.wg.Wait()
		p.release()
	})
}

// Bell falls back to the terminal bell when no audio device is usable.
type Bell struct {
	W io.Writer
}

func (b Bell) Play(k Kind) {
	seq := "\a"
	if k == Success {
		seq = "\a\a"
	}
	_, _ = io.WriteString(b.W, seq)
}

func (Bell) Close() {}

// Nop discards cues (--mute and tests).
type Nop struct{}

func (Nop) Play(Kind) {}
func (Nop) Close()    {}

// New picks the best available player.
func New(enabled bool, fallback io.Writer) Player {
	if !enabled {
		return Nop{}
	}
	p, err := NewPortAudio()
	if err != nil {
		slog.Warn("audio output unavailable, using terminal bell", "error", err)
		return Bell{W: fallback}
	}
	return p
}
