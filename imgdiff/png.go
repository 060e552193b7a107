package imgdiff

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
)

// DecodePNG decodes r and converts the result to NRGBA.
func DecodePNG(r io.Reader) (*image.NRGBA, error) {
	img, err := png.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("imgdiff: decode png: %w", err)
	}
	return ToNRGBA(img), nil
}

// DecodePNGBytes is DecodePNG over a byte slice (e.g. a screenshot).
func DecodePNGBytes(data []byte) (*image.NRGBA, error) {
	return DecodePNG(bytes.NewReader(data))
}

// ReadPNG opens and decodes the PNG at path. A missing file surfaces as an
// error satisfying errors.Is(err, fs.ErrNotExist).
func ReadPNG(path string) (*image.NRGBA, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return DecodePNG(f)
}

// EncodePNG encodes img losslessly.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("imgdiff: encode png: %w", err)
	}
	return buf.Bytes(), nil
}
