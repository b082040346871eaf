package poly2

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"diffim/internal/kernel"
)

func TestNumTerms(t *testing.T) {
	assert.Equal(t, 1, NumTerms(0))
	assert.Equal(t, 3, NumTerms(1))
	assert.Equal(t, 6, NumTerms(2))
	assert.Equal(t, 10, NumTerms(3))
}

func TestTermsOrdering(t *testing.T) {
	// Order 2 at (2, 3): 1, x, y, x^2, xy, y^2.
	got := Terms(2, 2, 3)
	assert.Equal(t, []float64{1, 2, 3, 4, 6, 9}, got)
}

func TestPolyEval(t *testing.T) {
	// f(x, y) = 1 + 2x + 3y
	p, err := New(1, []float64{1, 2, 3})
	require.NoError(t, err)

	assert.InDelta(t, 1.0, p.Eval(0, 0), 1e-12)
	assert.InDelta(t, 1+2*5+3*(-2), p.Eval(5, -2), 1e-12)
}

func TestNewValidation(t *testing.T) {
	_, err := New(-1, nil)
	assert.ErrorIs(t, err, kernel.ErrConfig)

	_, err = New(2, []float64{1, 2, 3})
	assert.ErrorIs(t, err, kernel.ErrConfig)
}

func TestNewCopiesCoeffs(t *testing.T) {
	coeffs := []float64{1, 2, 3}
	p, err := New(1, coeffs)
	require.NoError(t, err)

	coeffs[0] = 99
	assert.InDelta(t, 1.0, p.Eval(0, 0), 1e-12)
}
