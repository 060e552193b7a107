package imgdiff

import (
	"image"
)

// Mask records which pixels of a w×h canvas changed.
type Mask struct {
	W, H int
	bits []bool
}

// NewMask returns an all-clear mask.
func NewMask(w, h int) *Mask {
	return &Mask{W: w, H: h, bits: make([]bool, w*h)}
}

// Set marks (x, y) as changed.
func (m *Mask) Set(x, y int) { m.bits[y*m.W+x] = true }

// At reports whether (x, y) changed.
func (m *Mask) At(x, y int) bool { return m.bits[y*m.W+x] }

// Count returns the number of changed pixels.
func (m *Mask) Count() int {
	n := 0
	for _, b := range m.bits {
		if b {
			n++
		}
	}
	return n
}

// Overlay renders mask as a transparent image where only changed pixels are
// painted in Highlight.
func Overlay(m *Mask) *image.NRGBA {
	out := image.NewNRGBA(image.Rect(0, 0, m.W, m.H))
	for i, changed := range m.bits {
		if !changed {
			continue
		}
		p := out.Pix[i*4 : i*4+4]
		p[0], p[1], p[2], p[3] = Highlight.R, Highlight.G, Highlight.B, Highlight.A
	}
	return out
}
