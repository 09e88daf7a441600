package escpos

import (
	"errors"
	"image"

	"github.com/nfnt/resize"
)

var ErrEmptyImage = errors.New("image has no pixels")

// maximum raster height in one GS v 0 command
const maxRasterHeight = 2303

// RasterImage converts img to a GS v 0 raster bit image no wider than
// maxWidth dots. Wider images are downscaled keeping the aspect ratio; the
// width is padded with white to a multiple of 8. Transparent pixels print
// as white.
func RasterImage(img image.Image, maxWidth int) ([]byte, error) {
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, ErrEmptyImage
	}

	if maxWidth > 0 && b.Dx() > maxWidth {
		img = resize.Resize(uint(maxWidth), 0, img, resize.Lanczos3)
		b = img.Bounds()
	}
	if b.Dy() > maxRasterHeight {
		img = resize.Resize(0, maxRasterHeight, img, resize.Lanczos3)
		b = img.Bounds()
	}

	width, height := b.Dx(), b.Dy()
	if width == 0 || height == 0 {
		return nil, ErrEmptyImage
	}
	rowBytes := (width + 7) / 8

	cmd := make([]byte, 0, 8+rowBytes*height)
	cmd = append(cmd,
		GS, 'v', '0', 0x00,
		byte(rowBytes), byte(rowBytes>>8),
		byte(height), byte(height>>8),
	)

	raster := make([]byte, rowBytes*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if isDark(img, b.Min.X+x, b.Min.Y+y) {
				raster[y*rowBytes+x/8] |= 0x80 >> uint(x%8)
			}
		}
	}

	return append(cmd, raster...), nil
}

// isDark composites the pixel over white and thresholds its luminance.
func isDark(img image.Image, x, y int) bool {
	r, g, b, a := img.At(x, y).RGBA()
	white := 0xffff - a
	r += white
	g += white
	b += white
	lum := (299*r + 587*g + 114*b) / 1000
	return lum < 0x8000
}
