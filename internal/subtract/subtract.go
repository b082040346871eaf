// Package subtract implements the fundamental difference imaging step
// D = S - (T ⊛ K + bg) and residual statistics for quality assessment.
package subtract

import (
	"fmt"
	"math"

	"diffim/internal/convolve"
	"diffim/internal/image"
	"diffim/internal/kernel"
	"diffim/pkg/geometry"
)

// SpatialModel evaluates a spatially varying kernel and background. The
// spatial fitter's model satisfies this.
type SpatialModel interface {
	KernelAt(x, y float64) (*kernel.Kernel, error)
	BackgroundAt(x, y float64) float64
}

// ConvolveAndSubtract computes D = S - (T ⊛ K + background). Pixels whose
// kernel footprint runs off the template edge are flagged in the output
// mask; input mask bits are carried through. The output variance is
// var(S) + K² ⊛ var(T).
func ConvolveAndSubtract(t, s *image.MaskedImage, k *kernel.Kernel, background float64) (*image.MaskedImage, error) {
	if err := checkDims(t, s); err != nil {
		return nil, err
	}
	w, h := t.Width(), t.Height()

	conv := convolve.Apply(t.Image, k)
	k2 := squaredKernel(k)
	convVar := convolve.Apply(t.Variance, k2)
	valid := convolve.ValidBounds(t.Bounds(), k)

	out := image.NewMaskedImage(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			out.Image.Set(x, y, s.Image.At(x, y)-conv.At(x, y)-background)
			out.Variance.Set(x, y, s.Variance.At(x, y)+convVar.At(x, y))
			m := s.Mask.At(x, y) + t.Mask.At(x, y)
			if !valid.Contains(x, y) {
				m = 1
			}
			out.Mask.Set(x, y, m)
		}
	}
	return out, nil
}

// ConvolveAndSubtractSpatial is ConvolveAndSubtract with the kernel and
// background evaluated per pixel from a spatial model.
func ConvolveAndSubtractSpatial(t, s *image.MaskedImage, model SpatialModel) (*image.MaskedImage, error) {
	if err := checkDims(t, s); err != nil {
		return nil, err
	}
	w, h := t.Width(), t.Height()

	// Probe one kernel for the footprint; the spatial model keeps the
	// kernel dimensions fixed across the image.
	k0, err := model.KernelAt(float64(w)/2, float64(h)/2)
	if err != nil {
		return nil, err
	}
	kw, kh := k0.Width(), k0.Height()
	ctrX, ctrY := k0.CtrX(), k0.CtrY()
	valid := convolve.ValidBounds(t.Bounds(), k0)

	out := image.NewMaskedImage(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			m := s.Mask.At(x, y) + t.Mask.At(x, y)
			if !valid.Contains(x, y) {
				out.Mask.Set(x, y, 1)
				out.Variance.Set(x, y, s.Variance.At(x, y))
				continue
			}
			k, err := model.KernelAt(float64(x), float64(y))
			if err != nil {
				return nil, err
			}
			var cs, cv float64
			for ky := 0; ky < kh; ky++ {
				for kx := 0; kx < kw; kx++ {
					kv := k.At(kx, ky)
					cs += kv * t.Image.At(x+kx-ctrX, y+ky-ctrY)
					cv += kv * kv * t.Variance.At(x+kx-ctrX, y+ky-ctrY)
				}
			}
			out.Image.Set(x, y, s.Image.At(x, y)-cs-model.BackgroundAt(float64(x), float64(y)))
			out.Variance.Set(x, y, s.Variance.At(x, y)+cv)
			out.Mask.Set(x, y, m)
		}
	}
	return out, nil
}

func checkDims(t, s *image.MaskedImage) error {
	if t.Width() != s.Width() || t.Height() != s.Height() {
		return fmt.Errorf("%w: image dimensions %dx%d vs %dx%d",
			kernel.ErrConfig, t.Width(), t.Height(), s.Width(), s.Height())
	}
	return nil
}

func squaredKernel(k *kernel.Kernel) *kernel.Kernel {
	k2 := k.Clone()
	for i, v := range k2.Data() {
		k2.Data()[i] = v * v
	}
	return k2
}

// Stats holds variance-normalized residual statistics of a difference
// image. For a well-matched kernel Mean is near 0 and RMS near 1.
type Stats struct {
	Mean     float64
	RMS      float64
	Variance float64
	N        int
}

// ImageStatistics computes the mean and RMS of diffim pixels divided by
// their standard deviation, over unmasked pixels inside region. Pixels
// with non-positive variance are skipped.
func ImageStatistics(diffim *image.MaskedImage, region geometry.RectInt) (Stats, error) {
	region = region.Intersect(diffim.Bounds())
	var sum, sum2 float64
	var n int
	for y := region.Y; y < region.Y+region.Height; y++ {
		for x := region.X; x < region.X+region.Width; x++ {
			if diffim.Mask.At(x, y) != 0 {
				continue
			}
			v := diffim.Variance.At(x, y)
			if v <= 0 {
				continue
			}
			d := diffim.Image.At(x, y) / math.Sqrt(v)
			sum += d
			sum2 += d * d
			n++
		}
	}
	if n < 2 {
		return Stats{}, fmt.Errorf("%w: %d unmasked pixels for residual statistics",
			kernel.ErrInsufficientData, n)
	}
	mean := sum / float64(n)
	variance := sum2/float64(n-1) - mean*mean*float64(n)/float64(n-1)
	if variance < 0 {
		variance = 0
	}
	return Stats{
		Mean:     mean,
		RMS:      math.Sqrt(variance),
		Variance: variance,
		N:        n,
	}, nil
}

// CoreRegion returns the central region of bounds inset to exclude
// convolution edge effects from a kernel of the given dimensions.
func CoreRegion(bounds geometry.RectInt, kWidth, kHeight int) geometry.RectInt {
	return geometry.RectInt{
		X:      bounds.X + kWidth/2,
		Y:      bounds.Y + kHeight/2,
		Width:  bounds.Width - kWidth + 1,
		Height: bounds.Height - kHeight + 1,
	}
}
