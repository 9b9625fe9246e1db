// Package ui is the terminal stand-in for the window: a status label, a
// border color for the login outcome, and a countdown while a pose is held.
package ui

import (
	"fmt"
	"image/color"
	"io"
	"sync"
	"time"

	"github.com/mitchellh/colorstring"
	"github.com/schollz/progressbar/v3"
)

// Border is the frame color around the camera view.
type Border int

const (
	BorderNeutral Border = iota
	BorderGreen
	BorderRed
)

func (b Border) tag() string {
	switch b {
	case BorderGreen:
		return "[green]"
	case BorderRed:
		return "[red]"
	}
	return "[white]"
}

// RGBA is the border color for image rendering.
func (b Border) RGBA() color.RGBA {
	switch b {
	case BorderGreen:
		return color.RGBA{0, 255, 0, 255}
	case BorderRed:
		return color.RGBA{255, 0, 0, 255}
	}
	return color.RGBA{255, 255, 255, 255}
}

func (b Border) String() string {
	switch b {
	case BorderGreen:
		return "green"
	case BorderRed:
		return "red"
	}
	return "neutral"
}

// Console writes status lines to out and countdown bars to progress.
type Console struct {
	mu       sync.Mutex
	out      io.Writer
	progress io.Writer
	color    colorstring.Colorize
	border   Border
	status   string
	bar      *progressbar.ProgressBar
}

// NewConsole builds a console. Pass plain=true when out is not a terminal.
func NewConsole(out, progress io.Writer, plain bool) *Console {
	return &Console{
		out:      out,
		progress: progress,
		color: colorstring.Colorize{
			Colors:  colorstring.DefaultColors,
			Disable: plain,
			Reset:   true,
		},
	}
}

// Status replaces the label text.
func (c *Console) Status(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = msg
	c.clearBar()
	fmt.Fprintln(c.out, c.color.Color(c.border.tag()+"▌ [reset]"+msg))
}

// SetBorder changes the border color and redraws the label in it.
func (c *Console) SetBorder(b Border) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.border = b
	if c.status != "" && b != BorderNeutral {
		fmt.Fprintln(c.out, c.color.Color(b.tag()+"▌ "+c.status))
	}
}

// Border is the current border color.
func (c *Console) Border() Border {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.border
}

// LastStatus is the current label text.
func (c *Console) LastStatus() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// StageStarted shows a countdown bar for the hold period.
func (c *Console) StageStarted(prompt string, delay time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearBar()
	if delay <= 0 {
		return
	}
	c.bar = progressbar.NewOptions64(delay.Milliseconds(),
		progressbar.OptionSetWriter(c.progress),
		progressbar.OptionSetDescription("⏳ "+prompt),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}

// StageProgress advances the countdown bar.
func (c *Console) StageProgress(elapsed time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bar != nil {
		_ = c.bar.Set64(elapsed.Milliseconds())
	}
}

// StageDone removes the countdown bar.
func (c *Console) StageDone() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearBar()
}

func (c *Console) clearBar() {
	if c.bar != nil {
		_ = c.bar.Finish()
		c.bar = nil
	}
}

// Help prints the available commands.
func (c *Console) Help() {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, c.color.Color("[bold]Commands:[reset] [cyan]r[reset]egister  [cyan]l[reset]ogin  [cyan]c[reset]ancel  [cyan]q[reset]uit"))
}
