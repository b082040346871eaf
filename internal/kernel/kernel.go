// Package kernel defines convolution kernel stamps, linear combinations
// over a basis, and the shared error taxonomy for kernel fitting.
package kernel

import (
	"fmt"
	"math"
)

// Kernel is a fixed 2D convolution stamp. Values are stored row-major.
// The center pixel is at (Width/2, Height/2) for odd dimensions.
type Kernel struct {
	width  int
	height int
	data   []float64
}

// New creates a zero-filled kernel of the given dimensions.
func New(width, height int) (*Kernel, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: kernel dimensions %dx%d must be positive",
			ErrConfig, width, height)
	}
	return &Kernel{width: width, height: height, data: make([]float64, width*height)}, nil
}

// NewFromSlice wraps an existing row-major coefficient slice.
func NewFromSlice(width, height int, data []float64) (*Kernel, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: kernel dimensions %dx%d must be positive",
			ErrConfig, width, height)
	}
	if len(data) != width*height {
		return nil, fmt.Errorf("%w: kernel data has %d elements, want %d",
			ErrConfig, len(data), width*height)
	}
	return &Kernel{width: width, height: height, data: data}, nil
}

// Width returns the kernel width in pixels.
func (k *Kernel) Width() int { return k.width }

// Height returns the kernel height in pixels.
func (k *Kernel) Height() int { return k.height }

// CtrX returns the x index of the center pixel.
func (k *Kernel) CtrX() int { return k.width / 2 }

// CtrY returns the y index of the center pixel.
func (k *Kernel) CtrY() int { return k.height / 2 }

// At returns the coefficient at (x, y).
func (k *Kernel) At(x, y int) float64 { return k.data[y*k.width+x] }

// Set assigns the coefficient at (x, y).
func (k *Kernel) Set(x, y int, v float64) { k.data[y*k.width+x] = v }

// Data returns the underlying row-major coefficient slice.
func (k *Kernel) Data() []float64 { return k.data }

// Sum returns the sum of all coefficients (the kernel's flux scaling).
func (k *Kernel) Sum() float64 {
	var s float64
	for _, v := range k.data {
		s += v
	}
	return s
}

// SumSquares returns the sum of squared coefficients.
func (k *Kernel) SumSquares() float64 {
	var s float64
	for _, v := range k.data {
		s += v * v
	}
	return s
}

// Extreme returns the coefficient with the largest absolute value,
// preserving its sign.
func (k *Kernel) Extreme() float64 {
	var ext float64
	for _, v := range k.data {
		if math.Abs(v) > math.Abs(ext) {
			ext = v
		}
	}
	return ext
}

// Clone returns a deep copy.
func (k *Kernel) Clone() *Kernel {
	out := &Kernel{width: k.width, height: k.height, data: make([]float64, len(k.data))}
	copy(out.data, k.data)
	return out
}

// ScaleBy multiplies every coefficient by f in place.
func (k *Kernel) ScaleBy(f float64) {
	for i := range k.data {
		k.data[i] *= f
	}
}

// AddScaled adds f*other in place. Dimensions must match.
func (k *Kernel) AddScaled(other *Kernel, f float64) error {
	if other.width != k.width || other.height != k.height {
		return fmt.Errorf("%w: kernel dimension mismatch %dx%d vs %dx%d",
			ErrConfig, k.width, k.height, other.width, other.height)
	}
	for i := range k.data {
		k.data[i] += f * other.data[i]
	}
	return nil
}

// BasisList is an ordered list of basis kernels of identical dimensions.
type BasisList []*Kernel

// Validate checks that the list is non-empty and dimensionally consistent.
func (bl BasisList) Validate() error {
	if len(bl) == 0 {
		return fmt.Errorf("%w: empty basis list", ErrConfig)
	}
	w, h := bl[0].width, bl[0].height
	for i, k := range bl[1:] {
		if k.width != w || k.height != h {
			return fmt.Errorf("%w: basis kernel %d is %dx%d, want %dx%d",
				ErrConfig, i+1, k.width, k.height, w, h)
		}
	}
	return nil
}

// Width returns the common width of the basis kernels.
func (bl BasisList) Width() int { return bl[0].width }

// Height returns the common height of the basis kernels.
func (bl BasisList) Height() int { return bl[0].height }

// LinearCombination materializes Σ coeffs[i]·basis[i] as a single kernel.
func (bl BasisList) LinearCombination(coeffs []float64) (*Kernel, error) {
	if err := bl.Validate(); err != nil {
		return nil, err
	}
	if len(coeffs) != len(bl) {
		return nil, fmt.Errorf("%w: %d coefficients for %d basis kernels",
			ErrConfig, len(coeffs), len(bl))
	}
	out, _ := New(bl.Width(), bl.Height())
	for i, k := range bl {
		c := coeffs[i]
		for j, v := range k.data {
			out.data[j] += c * v
		}
	}
	return out, nil
}

// LinearCombinationKernel is a kernel expressed as coefficients over a
// shared basis. The realized stamp is cached on construction.
type LinearCombinationKernel struct {
	Basis  BasisList
	Coeffs []float64
	stamp  *Kernel
}

// NewLinearCombination builds a kernel from a basis and coefficient vector.
func NewLinearCombination(basis BasisList, coeffs []float64) (*LinearCombinationKernel, error) {
	stamp, err := basis.LinearCombination(coeffs)
	if err != nil {
		return nil, err
	}
	cp := make([]float64, len(coeffs))
	copy(cp, coeffs)
	return &LinearCombinationKernel{Basis: basis, Coeffs: cp, stamp: stamp}, nil
}

// Stamp returns the materialized pixel kernel.
func (lk *LinearCombinationKernel) Stamp() *Kernel { return lk.stamp }

// Sum returns the realized kernel sum.
func (lk *LinearCombinationKernel) Sum() float64 { return lk.stamp.Sum() }
