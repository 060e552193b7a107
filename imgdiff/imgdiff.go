// Package imgdiff compares two equal-size images pixel by pixel and renders
// an overlay of the pixels that changed.
//
// Compare is pure: it reads its inputs, returns a Result and never touches
// the filesystem. Persisting the overlay is the caller's job.
package imgdiff

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
)

// DefaultCutoff is the per-pixel intensity (0-255) a reduced difference must
// exceed for the pixel to count as changed.
const DefaultCutoff = 18

// Highlight is the opaque colour of changed pixels in an overlay.
var Highlight = color.NRGBA{R: 255, G: 60, B: 60, A: 255}

// Reduction collapses four per-channel absolute differences into one
// magnitude on the 0-255 scale.
type Reduction int

const (
	// ReduceLuma takes the ITU-R 601 luma of the colour deltas, and the alpha
	// delta when that is larger.
	ReduceLuma Reduction = iota
	// ReduceMax takes the largest of the four channel deltas.
	ReduceMax
)

func (r Reduction) String() string {
	switch r {
	case ReduceLuma:
		return "luma"
	case ReduceMax:
		return "max"
	}
	return fmt.Sprintf("Reduction(%d)", int(r))
}

// ParseReduction maps a config value to a Reduction. Empty means luma.
func ParseReduction(s string) (Reduction, error) {
	switch s {
	case "", "luma":
		return ReduceLuma, nil
	case "max":
		return ReduceMax, nil
	}
	return 0, fmt.Errorf("imgdiff: unknown reduction %q", s)
}

// Options configures Compare.
type Options struct {
	// Cutoff: a pixel is changed when its reduced difference is > Cutoff.
	Cutoff int
	Reduce Reduction
}

// DefaultOptions returns cutoff 18 with the luma reduction.
func DefaultOptions() Options {
	return Options{Cutoff: DefaultCutoff, Reduce: ReduceLuma}
}

// Result is the outcome of comparing two images.
type Result struct {
	Changed int
	Total   int
	// Ratio is Changed/Total, 0 for zero-area images.
	Ratio float64
	Mask  *Mask
	// Overlay is non-nil iff Changed > 0.
	Overlay *image.NRGBA
}

// Exceeds reports whether the diff ratio is above threshold.
func (r *Result) Exceeds(threshold float64) bool {
	return r.Ratio > threshold
}

// SizeMismatchError is returned when the two images differ in size. Compare
// never crops, pads or resizes.
type SizeMismatchError struct {
	A, B image.Point
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("imgdiff: size mismatch: %dx%d != %dx%d", e.A.X, e.A.Y, e.B.X, e.B.Y)
}

// Compare counts the pixels of a and b whose reduced difference exceeds
// opts.Cutoff. Images are compared by offset from their bounds' origin.
func Compare(a, b image.Image, opts Options) (*Result, error) {
	na, nb := ToNRGBA(a), ToNRGBA(b)
	sa, sb := na.Rect.Size(), nb.Rect.Size()
	if sa != sb {
		return nil, &SizeMismatchError{A: sa, B: sb}
	}

	mask := NewMask(sa.X, sa.Y)
	res := &Result{Total: sa.X * sa.Y, Mask: mask}

	for y := 0; y < sa.Y; y++ {
		ra := na.Pix[y*na.Stride : y*na.Stride+sa.X*4]
		rb := nb.Pix[y*nb.Stride : y*nb.Stride+sa.X*4]
		for x := 0; x < sa.X; x++ {
			i := x * 4
			d := reduce(opts.Reduce,
				absDiff(ra[i], rb[i]),
				absDiff(ra[i+1], rb[i+1]),
				absDiff(ra[i+2], rb[i+2]),
				absDiff(ra[i+3], rb[i+3]),
			)
			if d > opts.Cutoff {
				mask.Set(x, y)
				res.Changed++
			}
		}
	}

	if res.Total > 0 {
		res.Ratio = float64(res.Changed) / float64(res.Total)
	}
	if res.Changed > 0 {
		res.Overlay = Overlay(mask)
	}
	return res, nil
}

func reduce(r Reduction, dr, dg, db, da int) int {
	switch r {
	case ReduceMax:
		return max(dr, dg, db, da)
	default:
		// 16.16 fixed point luma with rounding, as 8-bit L conversion does it.
		l := (dr*19595 + dg*38470 + db*7471 + 1<<15) >> 16
		return max(l, da)
	}
}

func absDiff(a, b uint8) int {
	if a > b {
		return int(a - b)
	}
	return int(b - a)
}

// ToNRGBA returns img as non-premultiplied 8-bit RGBA with a (0,0) origin.
// An *image.NRGBA already at the origin is returned as is.
func ToNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok && n.Rect.Min == (image.Point{}) {
		return n
	}
	b := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Rect, img, b.Min, draw.Src)
	return out
}
