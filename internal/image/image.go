// Package image provides float-valued science images with optional mask
// and variance planes, plus loading from common file formats.
package image

import (
	"fmt"

	"diffim/pkg/geometry"
)

// Image is a single-plane float64 raster. Pixels are stored row-major;
// (0,0) is the first pixel of the first row.
type Image struct {
	width  int
	height int
	pix    []float64
}

// NewImage creates a zero-filled image of the given dimensions.
func NewImage(width, height int) *Image {
	return &Image{
		width:  width,
		height: height,
		pix:    make([]float64, width*height),
	}
}

// NewImageFromSlice wraps an existing row-major pixel slice. The slice is
// not copied; it must have length width*height.
func NewImageFromSlice(width, height int, pix []float64) (*Image, error) {
	if len(pix) != width*height {
		return nil, fmt.Errorf("pixel slice has %d elements, want %d", len(pix), width*height)
	}
	return &Image{width: width, height: height, pix: pix}, nil
}

// Width returns the image width in pixels.
func (im *Image) Width() int { return im.width }

// Height returns the image height in pixels.
func (im *Image) Height() int { return im.height }

// Bounds returns the image extent as a rectangle anchored at the origin.
func (im *Image) Bounds() geometry.RectInt {
	return geometry.RectInt{Width: im.width, Height: im.height}
}

// At returns the pixel value at (x, y). No bounds checking.
func (im *Image) At(x, y int) float64 {
	return im.pix[y*im.width+x]
}

// Set assigns the pixel value at (x, y). No bounds checking.
func (im *Image) Set(x, y int, v float64) {
	im.pix[y*im.width+x] = v
}

// Pix returns the underlying row-major pixel slice.
func (im *Image) Pix() []float64 { return im.pix }

// Row returns the pixels of row y as a slice aliasing the image storage.
func (im *Image) Row(y int) []float64 {
	return im.pix[y*im.width : (y+1)*im.width]
}

// Fill sets every pixel to v.
func (im *Image) Fill(v float64) {
	for i := range im.pix {
		im.pix[i] = v
	}
}

// Clone returns a deep copy of the image.
func (im *Image) Clone() *Image {
	out := NewImage(im.width, im.height)
	copy(out.pix, im.pix)
	return out
}

// SubImage returns a copy of the pixels inside r. The rectangle is clipped
// to the image bounds.
func (im *Image) SubImage(r geometry.RectInt) *Image {
	r = r.Intersect(im.Bounds())
	out := NewImage(r.Width, r.Height)
	for y := 0; y < r.Height; y++ {
		src := im.pix[(r.Y+y)*im.width+r.X : (r.Y+y)*im.width+r.X+r.Width]
		copy(out.Row(y), src)
	}
	return out
}

// Sum returns the sum of all pixel values.
func (im *Image) Sum() float64 {
	var s float64
	for _, v := range im.pix {
		s += v
	}
	return s
}

// ScaleBy multiplies every pixel by f in place.
func (im *Image) ScaleBy(f float64) {
	for i := range im.pix {
		im.pix[i] *= f
	}
}

// AddScaled adds f*other to the image in place. Dimensions must match.
func (im *Image) AddScaled(other *Image, f float64) error {
	if other.width != im.width || other.height != im.height {
		return fmt.Errorf("dimension mismatch: %dx%d vs %dx%d",
			im.width, im.height, other.width, other.height)
	}
	for i := range im.pix {
		im.pix[i] += f * other.pix[i]
	}
	return nil
}

// MaskedImage bundles a science image with per-pixel mask and variance
// planes of identical dimensions. A nonzero mask value marks the pixel as
// bad; variance values are used as inverse weights during fitting.
type MaskedImage struct {
	Image    *Image
	Mask     *Image
	Variance *Image
}

// NewMaskedImage creates a masked image with zero mask and unit variance.
func NewMaskedImage(width, height int) *MaskedImage {
	v := NewImage(width, height)
	v.Fill(1.0)
	return &MaskedImage{
		Image:    NewImage(width, height),
		Mask:     NewImage(width, height),
		Variance: v,
	}
}

// NewMaskedImageFrom wraps existing planes. Mask and variance may be nil,
// in which case a zero mask and unit variance are created.
func NewMaskedImageFrom(img, mask, variance *Image) (*MaskedImage, error) {
	if img == nil {
		return nil, fmt.Errorf("science plane is nil")
	}
	if mask == nil {
		mask = NewImage(img.width, img.height)
	}
	if variance == nil {
		variance = NewImage(img.width, img.height)
		variance.Fill(1.0)
	}
	if mask.width != img.width || mask.height != img.height {
		return nil, fmt.Errorf("mask dimensions %dx%d do not match image %dx%d",
			mask.width, mask.height, img.width, img.height)
	}
	if variance.width != img.width || variance.height != img.height {
		return nil, fmt.Errorf("variance dimensions %dx%d do not match image %dx%d",
			variance.width, variance.height, img.width, img.height)
	}
	return &MaskedImage{Image: img, Mask: mask, Variance: variance}, nil
}

// Width returns the width of the planes.
func (mi *MaskedImage) Width() int { return mi.Image.width }

// Height returns the height of the planes.
func (mi *MaskedImage) Height() int { return mi.Image.height }

// Bounds returns the extent of the planes.
func (mi *MaskedImage) Bounds() geometry.RectInt { return mi.Image.Bounds() }

// SubImage returns a copy of all three planes inside r.
func (mi *MaskedImage) SubImage(r geometry.RectInt) *MaskedImage {
	return &MaskedImage{
		Image:    mi.Image.SubImage(r),
		Mask:     mi.Mask.SubImage(r),
		Variance: mi.Variance.SubImage(r),
	}
}

// Clone returns a deep copy of all three planes.
func (mi *MaskedImage) Clone() *MaskedImage {
	return &MaskedImage{
		Image:    mi.Image.Clone(),
		Mask:     mi.Mask.Clone(),
		Variance: mi.Variance.Clone(),
	}
}
