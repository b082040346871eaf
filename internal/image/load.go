package image

import (
	"fmt"
	stdimage "image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/tiff"
)

// Load decodes an image file into a float64 plane. Color images are
// converted to luminance; 16-bit grayscale keeps its full range scaled
// to [0, 65535].
func Load(path string) (*Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer file.Close()

	img, _, err := stdimage.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	return fromStdImage(img), nil
}

// fromStdImage converts a decoded image to a float64 plane.
func fromStdImage(img stdimage.Image) *Image {
	bounds := img.Bounds()
	out := NewImage(bounds.Dx(), bounds.Dy())

	switch src := img.(type) {
	case *stdimage.Gray16:
		for y := 0; y < out.height; y++ {
			for x := 0; x < out.width; x++ {
				out.Set(x, y, float64(src.Gray16At(bounds.Min.X+x, bounds.Min.Y+y).Y))
			}
		}
	case *stdimage.Gray:
		for y := 0; y < out.height; y++ {
			for x := 0; x < out.width; x++ {
				out.Set(x, y, float64(src.GrayAt(bounds.Min.X+x, bounds.Min.Y+y).Y))
			}
		}
	default:
		// BT.601 luminance from 16-bit channels
		for y := 0; y < out.height; y++ {
			for x := 0; x < out.width; x++ {
				r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
				lum := 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)
				out.Set(x, y, lum)
			}
		}
	}
	return out
}

// LoadMasked loads a science image and builds a masked image around it.
// Variance is estimated from the pixel values assuming Poisson statistics
// with the given gain; pixels at or below zero get the median variance.
func LoadMasked(path string, gain float64) (*MaskedImage, error) {
	img, err := Load(path)
	if err != nil {
		return nil, err
	}
	if gain <= 0 {
		gain = 1.0
	}

	variance := NewImage(img.width, img.height)
	var sum float64
	var n int
	for i, v := range img.pix {
		if v > 0 {
			variance.pix[i] = v / gain
			sum += v / gain
			n++
		}
	}
	fallback := 1.0
	if n > 0 {
		fallback = sum / float64(n)
	}
	for i := range variance.pix {
		if variance.pix[i] == 0 {
			variance.pix[i] = fallback
		}
	}

	return NewMaskedImageFrom(img, nil, variance)
}

// SupportedFormats returns the list of supported image file extensions.
func SupportedFormats() []string {
	return []string{".tiff", ".tif", ".png", ".jpg", ".jpeg"}
}

// IsSupportedFormat checks if the given path has a supported image format.
func IsSupportedFormat(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, format := range SupportedFormats() {
		if ext == format {
			return true
		}
	}
	return false
}
