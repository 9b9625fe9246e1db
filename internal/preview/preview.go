// Package preview renders the camera view with its status border to a JPEG
// file that any image viewer can watch.
package preview

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"

	"golang.org/x/image/draw"

	"github.com/andresmejia3/facegate/internal/ui"
)

// Writer writes one preview file, replacing it atomically on every frame.
type Writer struct {
	path   string
	width  int
	border int
}

func New(path string, width, border int) *Writer {
	return &Writer{path: path, width: width, border: border}
}

// Path is where the preview lands.
func (w *Writer) Path() string { return w.path }

// Render decodes frame, frames it in the border color and writes it out.
func (w *Writer) Render(frame []byte, b ui.Border) error {
	src, err := jpeg.Decode(bytes.NewReader(frame))
	if err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}

	img := Compose(src, w.width, w.border, b.RGBA())

	tmp, err := os.CreateTemp(filepath.Dir(w.path), ".preview-*.jpg")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if err := jpeg.Encode(tmp, img, &jpeg.Options{Quality: 80}); err != nil {
		tmp.Close()
		return fmt.Errorf("encode preview: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), w.path)
}

// Compose scales src to width (keeping aspect) inside a border of the given
// thickness and color.
func Compose(src image.Image, width, border int, c color.Color) *image.RGBA {
	sb := src.Bounds()
	if width <= 0 {
		width = sb.Dx()
	}
	height := width * sb.Dy() / max(sb.Dx(), 1)

	dst := image.NewRGBA(image.Rect(0, 0, width+2*border, height+2*border))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)

	inner := image.Rect(border, border, border+width, border+height)
	draw.ApproxBiLinear.Scale(dst, inner, src, sb, draw.Src, nil)
	return dst
}
