package mapstore

import (
	"image"
	"image/png"
	"io"
	"math"
)

// Image renders the map as 8-bit grayscale, rounding and clamping each cell
// to 0..255.
func (m *LikelihoodMap) Image() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, m.width, m.height))
	for i, v := range m.cells {
		img.Pix[(i/m.width)*img.Stride+i%m.width] = uint8(math.Min(255, math.Max(0, math.Round(v))))
	}
	return img
}

// WritePNG encodes the map as an 8-bit grayscale PNG.
func (m *LikelihoodMap) WritePNG(w io.Writer) error {
	return png.Encode(w, m.Image())
}
