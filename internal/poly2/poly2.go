// Package poly2 implements 2D polynomials ordered by total degree, used
// for spatially varying kernel coefficients and backgrounds.
package poly2

import (
	"fmt"

	"diffim/internal/kernel"
)

// NumTerms returns the number of monomials of a 2D polynomial of the given
// order: (order+1)(order+2)/2.
func NumTerms(order int) int {
	return (order + 1) * (order + 2) / 2
}

// Terms evaluates every monomial x^p·y^q with p+q <= order at (x, y),
// ordered by total degree and descending power of x within each degree:
// 1, x, y, x², xy, y², ...
func Terms(order int, x, y float64) []float64 {
	out := make([]float64, 0, NumTerms(order))
	for deg := 0; deg <= order; deg++ {
		for q := 0; q <= deg; q++ {
			p := deg - q
			out = append(out, powInt(x, p)*powInt(y, q))
		}
	}
	return out
}

func powInt(v float64, n int) float64 {
	r := 1.0
	for i := 0; i < n; i++ {
		r *= v
	}
	return r
}

// Poly is a 2D polynomial with one coefficient per monomial.
type Poly struct {
	Order  int
	Coeffs []float64
}

// New creates a polynomial from a coefficient vector. The length must
// match NumTerms(order).
func New(order int, coeffs []float64) (*Poly, error) {
	if order < 0 {
		return nil, fmt.Errorf("%w: polynomial order %d must be >= 0", kernel.ErrConfig, order)
	}
	if len(coeffs) != NumTerms(order) {
		return nil, fmt.Errorf("%w: %d coefficients for order-%d polynomial, want %d",
			kernel.ErrConfig, len(coeffs), order, NumTerms(order))
	}
	cp := make([]float64, len(coeffs))
	copy(cp, coeffs)
	return &Poly{Order: order, Coeffs: cp}, nil
}

// Eval evaluates the polynomial at (x, y).
func (p *Poly) Eval(x, y float64) float64 {
	terms := Terms(p.Order, x, y)
	var s float64
	for i, t := range terms {
		s += p.Coeffs[i] * t
	}
	return s
}
