// Package convolve applies 2D convolution kernels to image planes. The
// default backend is pure Go; building with the gocv tag routes through
// OpenCV's Filter2D instead.
package convolve

import (
	"diffim/internal/image"
	"diffim/internal/kernel"
	"diffim/pkg/geometry"
)

// Apply convolves in with k, placing each kernel-weighted sum of input
// pixels at the kernel's center position. Output pixels whose kernel
// footprint extends past the input edge are left zero; ValidBounds gives
// the reliable sub-region.
func Apply(in *image.Image, k *kernel.Kernel) *image.Image {
	return applyBackend(in, k)
}

// ValidBounds returns the sub-region of bounds unaffected by convolution
// edge truncation with kernel k: inset by the kernel footprint around its
// center pixel.
func ValidBounds(bounds geometry.RectInt, k *kernel.Kernel) geometry.RectInt {
	return geometry.RectInt{
		X:      bounds.X + k.CtrX(),
		Y:      bounds.Y + k.CtrY(),
		Width:  bounds.Width - k.Width() + 1,
		Height: bounds.Height - k.Height() + 1,
	}
}
