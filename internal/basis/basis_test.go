package basis

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"diffim/internal/kernel"
)

func TestMakeDeltaFunction(t *testing.T) {
	bl, err := MakeDeltaFunction(3, 3)
	require.NoError(t, err)
	require.Len(t, bl, 9)

	// Row-major unit impulses: kernel i lights pixel (i%3, i/3) only.
	for i, k := range bl {
		assert.InDelta(t, 1.0, k.Sum(), 1e-12)
		assert.InDelta(t, 1.0, k.SumSquares(), 1e-12)
		assert.InDelta(t, 1.0, k.At(i%3, i/3), 1e-12, "kernel %d", i)
	}

	_, err = MakeDeltaFunction(0, 3)
	assert.ErrorIs(t, err, kernel.ErrConfig)
}

func TestMakeAlardLuptonCount(t *testing.T) {
	// Each Gaussian contributes (d+1)(d+2)/2 kernels.
	bl, err := MakeAlardLupton(7, 3, []float64{0.7, 1.5, 3.0}, []int{4, 3, 2})
	require.NoError(t, err)
	assert.Len(t, bl, 15+10+6)
	assert.Equal(t, 15, bl.Width())
	assert.Equal(t, 15, bl.Height())
}

func TestMakeAlardLuptonValidation(t *testing.T) {
	cases := []struct {
		name      string
		halfWidth int
		nGauss    int
		sigmas    []float64
		degrees   []int
	}{
		{"ZeroHalfWidth", 0, 1, []float64{1}, []int{0}},
		{"SigmaCountMismatch", 5, 2, []float64{1}, []int{0, 0}},
		{"DegreeCountMismatch", 5, 2, []float64{1, 2}, []int{0}},
		{"NonPositiveSigma", 5, 1, []float64{0}, []int{0}},
		{"NegativeDegree", 5, 1, []float64{1}, []int{-1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := MakeAlardLupton(tc.halfWidth, tc.nGauss, tc.sigmas, tc.degrees)
			assert.ErrorIs(t, err, kernel.ErrConfig)
		})
	}
}

func TestRenormalize(t *testing.T) {
	bl, err := MakeAlardLupton(7, 2, []float64{1.0, 2.5}, []int{2, 1})
	require.NoError(t, err)

	assert.InDelta(t, 1.0, bl[0].Sum(), 1e-7, "first kernel carries unit flux")
	for i, k := range bl[1:] {
		assert.InDelta(t, 0.0, k.Sum(), 1e-6, "kernel %d sums to zero", i+1)
		assert.InDelta(t, 1.0, k.SumSquares(), 1e-7, "kernel %d has unit power", i+1)
	}
}

func TestRenormalizeZeroSum(t *testing.T) {
	z, _ := kernel.New(3, 3)
	_, err := Renormalize(kernel.BasisList{z})
	assert.ErrorIs(t, err, kernel.ErrConfig)

	// A later kernel proportional to the first is degenerate after the
	// subtraction step.
	a, _ := kernel.New(3, 3)
	a.Set(1, 1, 1)
	b := a.Clone()
	b.ScaleBy(2)
	_, err = Renormalize(kernel.BasisList{a, b})
	assert.ErrorIs(t, err, kernel.ErrConfig)
}

func TestGaussianStampIsNormalized(t *testing.T) {
	g := gaussianStamp(11, 5, 2.25)
	assert.InDelta(t, 1.0, g.Sum(), 1e-12)

	// Circular symmetry about the center.
	assert.InDelta(t, g.At(3, 5), g.At(7, 5), 1e-12)
	assert.InDelta(t, g.At(5, 3), g.At(3, 5), 1e-12)
	assert.Greater(t, g.At(5, 5), g.At(4, 5))
}

func TestPowInt(t *testing.T) {
	assert.InDelta(t, 1.0, powInt(2.5, 0), 1e-12)
	assert.InDelta(t, math.Pow(-1.5, 3), powInt(-1.5, 3), 1e-12)
}
