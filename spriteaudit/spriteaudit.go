// Package spriteaudit checks that the game's sprite frames recolor cleanly
// into its two-tone palette, leaving no near-white pixels behind.
package spriteaudit

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/hazyhaar/visreg/imgdiff"
)

// ErrMissingSource is returned when the sprite sheet does not exist.
var ErrMissingSource = errors.New("spriteaudit: missing sprite sheet")

// Palette used by the game.
var (
	Dark  = color.NRGBA{23, 108, 64, 255}
	Light = color.NRGBA{31, 158, 90, 255}
)

// Frame is a named region of the sprite sheet.
type Frame struct {
	Name string
	Rect image.Rectangle
}

// DefaultFrames returns the dino frames of offline-sprite-1x.png.
func DefaultFrames() []Frame {
	return []Frame{
		{"stand", image.Rect(677, 2, 677+44, 2+47)},
		{"run1", image.Rect(677, 2, 677+44, 2+47)},
		{"run2", image.Rect(721, 2, 721+44, 2+47)},
		{"duck", image.Rect(1011, 20, 1011+59, 20+29)},
	}
}

// Recolor maps img onto the palette. Transparent pixels stay transparent,
// bright pixels (mean channel above 200) are dropped, dark ones (below 95)
// become Dark and the rest Light. The result has its origin at 0,0.
func Recolor(img image.Image) *image.NRGBA {
	src := imgdiff.ToNRGBA(img)
	b := src.Rect
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			c := src.NRGBAAt(b.Min.X+x, b.Min.Y+y)
			if c.A == 0 {
				continue
			}
			sum := int(c.R) + int(c.G) + int(c.B)
			switch {
			case sum > 600:
			case sum < 285:
				out.SetNRGBA(x, y, Dark)
			default:
				out.SetNRGBA(x, y, Light)
			}
		}
	}
	return out
}

// FrameResult is the audit of one frame.
type FrameResult struct {
	Name   string
	Opaque int
	White  int
	Path   string
}

// Ratio is the near-white share of opaque pixels.
func (r FrameResult) Ratio() float64 {
	if r.Opaque == 0 {
		return 0
	}
	return float64(r.White) / float64(r.Opaque)
}

// Report is the outcome of Audit.
type Report struct {
	Frames []FrameResult
	OutDir string
}

// Passed reports whether no frame kept near-white pixels.
func (r *Report) Passed() bool {
	for _, f := range r.Frames {
		if f.White > 0 {
			return false
		}
	}
	return true
}

// Write prints the per-frame lines and the verdict.
func (r *Report) Write(w io.Writer) error {
	if _, err := fmt.Fprintln(w, "[INFO] frame audit"); err != nil {
		return err
	}
	for _, f := range r.Frames {
		if _, err := fmt.Fprintf(w, " - %s: opaque=%d, white=%d, ratio=%.4f%%\n",
			f.Name, f.Opaque, f.White, f.Ratio()*100); err != nil {
			return err
		}
	}
	var err error
	if r.Passed() {
		_, err = fmt.Fprintf(w, "[PASS] sprite recolor audit ok. outputs: %s\n", r.OutDir)
	} else {
		_, err = fmt.Fprintf(w, "[FAIL] white pixels remain after recolor. inspect: %s\n", r.OutDir)
	}
	return err
}

// Audit crops each frame from the sheet at src, recolors it, writes it to
// outDir as <name>.png and counts what survived. Regions reaching past the
// sheet are padded with transparency.
func Audit(src string, frames []Frame, outDir string) (*Report, error) {
	sheet, err := imgdiff.ReadPNG(src)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrMissingSource, src)
	}
	if err != nil {
		return nil, fmt.Errorf("spriteaudit: %w", err)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("spriteaudit: %w", err)
	}

	rep := &Report{OutDir: outDir}
	for _, fr := range frames {
		rc := Recolor(crop(sheet, fr.Rect))
		path := filepath.Join(outDir, fr.Name+".png")
		if err := writePNG(path, rc); err != nil {
			return nil, err
		}
		res := FrameResult{Name: fr.Name, Path: path}
		for i := 0; i < len(rc.Pix); i += 4 {
			p := rc.Pix[i : i+4 : i+4]
			if p[3] == 0 {
				continue
			}
			res.Opaque++
			if p[0] > 220 && p[1] > 220 && p[2] > 220 {
				res.White++
			}
		}
		rep.Frames = append(rep.Frames, res)
	}
	return rep, nil
}

func crop(sheet *image.NRGBA, r image.Rectangle) *image.NRGBA {
	out := image.NewNRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	in := r.Intersect(sheet.Rect)
	for y := in.Min.Y; y < in.Max.Y; y++ {
		for x := in.Min.X; x < in.Max.X; x++ {
			out.SetNRGBA(x-r.Min.X, y-r.Min.Y, sheet.NRGBAAt(x, y))
		}
	}
	return out
}

func writePNG(path string, img image.Image) error {
	data, err := imgdiff.EncodePNG(img)
	if err != nil {
		return fmt.Errorf("spriteaudit: encode %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("spriteaudit: %w", err)
	}
	return nil
}
