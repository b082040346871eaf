package basis

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"diffim/internal/kernel"
)

// RegularizationType selects the finite-difference penalty flavor.
type RegularizationType int

const (
	// CentralDifference penalizes the discrete Laplacian of the kernel.
	CentralDifference RegularizationType = iota
	// ForwardDifference penalizes forward-difference derivatives of one
	// or more orders along both axes.
	ForwardDifference
)

func (t RegularizationType) String() string {
	switch t {
	case CentralDifference:
		return "centralDifference"
	case ForwardDifference:
		return "forwardDifference"
	default:
		return "unknown"
	}
}

// MakeCentralDifference builds a smoothness penalty H = BᵀB over a
// width×height delta-function basis, where each row of B applies a
// Laplacian stencil at one interior pixel. stencil must be 5 or 9;
// the 1-point stencil has no support for a second-derivative estimate.
// Border pixels receive a diagonal penalty of borderPenalty.
func MakeCentralDifference(width, height, stencil int, borderPenalty float64) (*mat.Dense, error) {
	if width < 1 || height < 1 {
		return nil, fmt.Errorf("%w: penalty dimensions %dx%d must be positive",
			kernel.ErrConfig, width, height)
	}
	if borderPenalty < 0 {
		return nil, fmt.Errorf("%w: borderPenalty %g must be >= 0", kernel.ErrConfig, borderPenalty)
	}

	type tap struct {
		dx, dy int
		c      float64
	}
	var taps []tap
	switch stencil {
	case 5:
		taps = []tap{
			{0, -1, 1}, {-1, 0, 1}, {0, 0, -4}, {1, 0, 1}, {0, 1, 1},
		}
	case 9:
		taps = []tap{
			{-1, -1, 1. / 6}, {0, -1, 4. / 6}, {1, -1, 1. / 6},
			{-1, 0, 4. / 6}, {0, 0, -20. / 6}, {1, 0, 4. / 6},
			{-1, 1, 1. / 6}, {0, 1, 4. / 6}, {1, 1, 1. / 6},
		}
	default:
		return nil, fmt.Errorf("%w: central difference stencil %d not in {5, 9}",
			kernel.ErrConfig, stencil)
	}

	n := width * height
	b := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		x := i % width
		y := i / width
		if x == 0 || x == width-1 || y == 0 || y == height-1 {
			b.Set(i, i, borderPenalty)
			continue
		}
		for _, t := range taps {
			j := (y+t.dy)*width + (x + t.dx)
			b.Set(i, j, t.c)
		}
	}

	h := mat.NewDense(n, n, nil)
	h.Mul(b.T(), b)
	return h, nil
}

// forwardCoeffs gives the finite-difference expansion of the n-th forward
// derivative, per Numerical Recipes §18.5.
var forwardCoeffs = map[int][]float64{
	1: {1, -1},
	2: {1, -2, 1},
	3: {1, -3, 3, -1},
}

// MakeForwardDifference builds a smoothness penalty H = Σ BᵀB over a
// width×height delta-function basis, accumulating one forward-difference
// operator per requested order, applied along both axes. Valid orders are
// 1, 2, and 3; pixels too close to the high edge for the stencil receive a
// diagonal penalty of borderPenalty.
func MakeForwardDifference(width, height int, orders []int, borderPenalty float64) (*mat.Dense, error) {
	if width < 1 || height < 1 {
		return nil, fmt.Errorf("%w: penalty dimensions %dx%d must be positive",
			kernel.ErrConfig, width, height)
	}
	if borderPenalty < 0 {
		return nil, fmt.Errorf("%w: borderPenalty %g must be >= 0", kernel.ErrConfig, borderPenalty)
	}
	if len(orders) == 0 {
		return nil, fmt.Errorf("%w: no forward difference orders given", kernel.ErrConfig)
	}

	n := width * height
	h := mat.NewDense(n, n, nil)
	tmp := mat.NewDense(n, n, nil)

	for _, order := range orders {
		coeffs, ok := forwardCoeffs[order]
		if !ok {
			return nil, fmt.Errorf("%w: forward difference order %d not in {1, 2, 3}",
				kernel.ErrConfig, order)
		}
		span := len(coeffs) - 1

		bx := mat.NewDense(n, n, nil)
		by := mat.NewDense(n, n, nil)
		for i := 0; i < n; i++ {
			x := i % width
			y := i / width

			if x+span < width {
				for d, c := range coeffs {
					bx.Set(i, y*width+x+d, c)
				}
			} else {
				bx.Set(i, i, borderPenalty)
			}

			if y+span < height {
				for d, c := range coeffs {
					by.Set(i, (y+d)*width+x, c)
				}
			} else {
				by.Set(i, i, borderPenalty)
			}
		}

		tmp.Mul(bx.T(), bx)
		h.Add(h, tmp)
		tmp.Mul(by.T(), by)
		h.Add(h, tmp)
	}
	return h, nil
}

// MakeRegularization dispatches on the penalty type. For CentralDifference,
// stencilOrOrders must hold a single stencil width in {5, 9}. For
// ForwardDifference it holds one or more derivative orders in {1, 2, 3}.
func MakeRegularization(width, height int, typ RegularizationType, stencilOrOrders []int, borderPenalty float64) (*mat.Dense, error) {
	switch typ {
	case CentralDifference:
		if len(stencilOrOrders) != 1 {
			return nil, fmt.Errorf("%w: central difference takes exactly one stencil, got %d",
				kernel.ErrConfig, len(stencilOrOrders))
		}
		return MakeCentralDifference(width, height, stencilOrOrders[0], borderPenalty)
	case ForwardDifference:
		return MakeForwardDifference(width, height, stencilOrOrders, borderPenalty)
	default:
		return nil, fmt.Errorf("%w: unknown regularization type %d", kernel.ErrConfig, int(typ))
	}
}
