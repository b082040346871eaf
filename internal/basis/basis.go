// Package basis generates convolution kernel basis sets and smoothness
// penalty matrices for the kernel solver.
package basis

import (
	"fmt"
	"math"

	"diffim/internal/kernel"
)

// MakeDeltaFunction returns width*height basis kernels, each a single unit
// impulse at a distinct pixel, ordered row-major.
func MakeDeltaFunction(width, height int) (kernel.BasisList, error) {
	if width < 1 || height < 1 {
		return nil, fmt.Errorf("%w: delta basis dimensions %dx%d must be positive",
			kernel.ErrConfig, width, height)
	}
	out := make(kernel.BasisList, 0, width*height)
	for row := 0; row < height; row++ {
		for col := 0; col < width; col++ {
			k, _ := kernel.New(width, height)
			k.Set(col, row, 1.0)
			out = append(out, k)
		}
	}
	return out, nil
}

// MakeAlardLupton builds a Gaussian-modulated polynomial basis. For each
// Gaussian component i, all monomials up to degrees[i] in the scaled
// coordinates (x/halfWidth, y/halfWidth) are modulated by a Gaussian of
// width sigmas[i], sampled on a (2*halfWidth+1) square grid. The result is
// renormalized: the first kernel sums to one, the rest sum to zero with
// unit sum of squares.
func MakeAlardLupton(halfWidth, nGaussians int, sigmas []float64, degrees []int) (kernel.BasisList, error) {
	if halfWidth < 1 {
		return nil, fmt.Errorf("%w: halfWidth %d must be positive", kernel.ErrConfig, halfWidth)
	}
	if len(sigmas) != nGaussians {
		return nil, fmt.Errorf("%w: %d sigmas for %d gaussians", kernel.ErrConfig, len(sigmas), nGaussians)
	}
	if len(degrees) != nGaussians {
		return nil, fmt.Errorf("%w: %d degrees for %d gaussians", kernel.ErrConfig, len(degrees), nGaussians)
	}
	for i, s := range sigmas {
		if s <= 0 {
			return nil, fmt.Errorf("%w: sigma[%d] = %g must be positive", kernel.ErrConfig, i, s)
		}
	}
	for i, d := range degrees {
		if d < 0 {
			return nil, fmt.Errorf("%w: degree[%d] = %d must be >= 0", kernel.ErrConfig, i, d)
		}
	}

	fullWidth := 2*halfWidth + 1
	var out kernel.BasisList

	for i := 0; i < nGaussians; i++ {
		sig2 := sigmas[i] * sigmas[i]
		gauss := gaussianStamp(fullWidth, halfWidth, sig2)

		deg := degrees[i]
		for p := 0; p <= deg; p++ {
			for q := 0; q <= deg-p; q++ {
				k, _ := kernel.New(fullWidth, fullWidth)
				for y := 0; y < fullWidth; y++ {
					v := float64(y-halfWidth) / float64(halfWidth)
					for x := 0; x < fullWidth; x++ {
						u := float64(x-halfWidth) / float64(halfWidth)
						k.Set(x, y, gauss.At(x, y)*powInt(u, p)*powInt(v, q))
					}
				}
				out = append(out, k)
			}
		}
	}
	return Renormalize(out)
}

// gaussianStamp samples a circular Gaussian normalized to unit sum.
func gaussianStamp(fullWidth, halfWidth int, sig2 float64) *kernel.Kernel {
	k, _ := kernel.New(fullWidth, fullWidth)
	for y := 0; y < fullWidth; y++ {
		dy := float64(y - halfWidth)
		for x := 0; x < fullWidth; x++ {
			dx := float64(x - halfWidth)
			k.Set(x, y, math.Exp(-0.5*(dx*dx+dy*dy)/sig2))
		}
	}
	k.ScaleBy(1.0 / k.Sum())
	return k
}

func powInt(v float64, n int) float64 {
	r := 1.0
	for i := 0; i < n; i++ {
		r *= v
	}
	return r
}

// Renormalize rescales a basis list so that kernel flux conservation is
// carried entirely by the first element. The first kernel is normalized to
// unit sum; every later kernel is normalized to unit sum, has the first
// subtracted so it sums to zero, and is then scaled to unit sum of squares.
func Renormalize(in kernel.BasisList) (kernel.BasisList, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	first := in[0].Clone()
	sum := first.Sum()
	if sum == 0 {
		return nil, fmt.Errorf("%w: first basis kernel has zero sum", kernel.ErrConfig)
	}
	first.ScaleBy(1.0 / sum)

	out := make(kernel.BasisList, 0, len(in))
	out = append(out, first)

	for i, k := range in[1:] {
		kc := k.Clone()
		sum := kc.Sum()
		if sum == 0 {
			return nil, fmt.Errorf("%w: basis kernel %d has zero sum", kernel.ErrConfig, i+1)
		}
		kc.ScaleBy(1.0 / sum)
		if err := kc.AddScaled(first, -1.0); err != nil {
			return nil, err
		}
		ss := kc.SumSquares()
		if ss == 0 {
			return nil, fmt.Errorf("%w: basis kernel %d is degenerate with the first", kernel.ErrConfig, i+1)
		}
		kc.ScaleBy(1.0 / math.Sqrt(ss))
		out = append(out, kc)
	}
	return out, nil
}
