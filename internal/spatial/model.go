package spatial

import (
	"fmt"

	"diffim/internal/kernel"
	"diffim/internal/poly2"
)

// SpatialKernelModel is the deliverable of the spatial fit: a basis list
// with one spatial polynomial per basis coefficient, plus a polynomial
// background. Evaluating it at a pixel position yields a concrete kernel
// stamp and background value.
type SpatialKernelModel struct {
	Basis          kernel.BasisList
	KernelPolys    []*poly2.Poly
	BackgroundPoly *poly2.Poly
}

// KernelAt materializes the pixel kernel at position (x, y).
func (m *SpatialKernelModel) KernelAt(x, y float64) (*kernel.Kernel, error) {
	coeffs := m.CoeffsAt(x, y)
	return m.Basis.LinearCombination(coeffs)
}

// CoeffsAt evaluates each basis coefficient's spatial polynomial at (x, y).
func (m *SpatialKernelModel) CoeffsAt(x, y float64) []float64 {
	coeffs := make([]float64, len(m.Basis))
	for i, p := range m.KernelPolys {
		coeffs[i] = p.Eval(x, y)
	}
	return coeffs
}

// BackgroundAt evaluates the background polynomial at (x, y).
func (m *SpatialKernelModel) BackgroundAt(x, y float64) float64 {
	return m.BackgroundPoly.Eval(x, y)
}

// KernelSumAt returns the realized kernel sum at (x, y).
func (m *SpatialKernelModel) KernelSumAt(x, y float64) (float64, error) {
	k, err := m.KernelAt(x, y)
	if err != nil {
		return 0, err
	}
	return k.Sum(), nil
}

func (m *SpatialKernelModel) validate() error {
	if len(m.KernelPolys) != len(m.Basis) {
		return fmt.Errorf("%w: %d spatial polynomials for %d basis kernels",
			kernel.ErrConfig, len(m.KernelPolys), len(m.Basis))
	}
	return nil
}
