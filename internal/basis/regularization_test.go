package basis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"diffim/internal/kernel"
)

func TestMakeCentralDifferenceStencils(t *testing.T) {
	for _, stencil := range []int{5, 9} {
		h, err := MakeCentralDifference(5, 5, stencil, 3.0)
		require.NoError(t, err, "stencil %d", stencil)
		r, c := h.Dims()
		assert.Equal(t, 25, r)
		assert.Equal(t, 25, c)
		assertSymmetricPSD(t, h)
	}

	_, err := MakeCentralDifference(5, 5, 1, 3.0)
	assert.ErrorIs(t, err, kernel.ErrConfig, "the 1-point stencil carries no curvature")
	_, err = MakeCentralDifference(5, 5, 7, 3.0)
	assert.ErrorIs(t, err, kernel.ErrConfig)
	_, err = MakeCentralDifference(5, 5, 9, -1.0)
	assert.ErrorIs(t, err, kernel.ErrConfig)

	// Zero border penalty is allowed; border rows simply drop out.
	_, err = MakeCentralDifference(5, 5, 9, 0.0)
	assert.NoError(t, err)
}

func TestMakeCentralDifferenceAnnihilatesSmooth(t *testing.T) {
	// The Laplacian of a plane is zero, so a linear ramp restricted to
	// the interior pixels should carry no penalty when the border
	// penalty is off.
	h, err := MakeCentralDifference(5, 5, 5, 0.0)
	require.NoError(t, err)

	ramp := mat.NewVecDense(25, nil)
	for i := 0; i < 25; i++ {
		x, y := i%5, i/5
		ramp.SetVec(i, 2.0*float64(x)-0.5*float64(y)+1.0)
	}
	var hv mat.VecDense
	hv.MulVec(h, ramp)
	assert.InDelta(t, 0.0, mat.Dot(ramp, &hv), 1e-9)
}

func TestMakeForwardDifferenceOrders(t *testing.T) {
	for _, orders := range [][]int{{1}, {2}, {3}, {1, 2}, {1, 2, 3}} {
		h, err := MakeForwardDifference(5, 5, orders, 3.0)
		require.NoError(t, err, "orders %v", orders)
		assertSymmetricPSD(t, h)
	}

	_, err := MakeForwardDifference(5, 5, []int{0}, 3.0)
	assert.ErrorIs(t, err, kernel.ErrConfig)
	_, err = MakeForwardDifference(5, 5, []int{4}, 3.0)
	assert.ErrorIs(t, err, kernel.ErrConfig)
	_, err = MakeForwardDifference(5, 5, nil, 3.0)
	assert.ErrorIs(t, err, kernel.ErrConfig)
	_, err = MakeForwardDifference(5, 5, []int{1}, -0.5)
	assert.ErrorIs(t, err, kernel.ErrConfig)
}

func TestMakeForwardDifferenceConstant(t *testing.T) {
	// First differences of a constant vanish everywhere the stencil
	// fits, so with zero border penalty a flat kernel is free.
	h, err := MakeForwardDifference(4, 4, []int{1}, 0.0)
	require.NoError(t, err)

	flat := mat.NewVecDense(16, nil)
	for i := 0; i < 16; i++ {
		flat.SetVec(i, 1.0)
	}
	var hv mat.VecDense
	hv.MulVec(h, flat)
	assert.InDelta(t, 0.0, mat.Dot(flat, &hv), 1e-9)
}

func TestMakeRegularizationDispatch(t *testing.T) {
	h, err := MakeRegularization(3, 3, CentralDifference, []int{5}, 1.0)
	require.NoError(t, err)
	assert.NotNil(t, h)

	_, err = MakeRegularization(3, 3, CentralDifference, []int{5, 9}, 1.0)
	assert.ErrorIs(t, err, kernel.ErrConfig)

	h, err = MakeRegularization(3, 3, ForwardDifference, []int{1, 2}, 1.0)
	require.NoError(t, err)
	assert.NotNil(t, h)

	_, err = MakeRegularization(3, 3, RegularizationType(99), []int{1}, 1.0)
	assert.ErrorIs(t, err, kernel.ErrConfig)
}

// assertSymmetricPSD checks H = Hᵀ and xᵀHx >= 0 for a few probe vectors.
func assertSymmetricPSD(t *testing.T, h *mat.Dense) {
	t.Helper()
	n, c := h.Dims()
	require.Equal(t, n, c)

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			assert.InDelta(t, h.At(i, j), h.At(j, i), 1e-9)
		}
	}

	probes := []func(i int) float64{
		func(i int) float64 { return 1.0 },
		func(i int) float64 { return float64(i % 3) },
		func(i int) float64 { return float64(i*i%7) - 3.0 },
	}
	for pi, f := range probes {
		x := mat.NewVecDense(n, nil)
		for i := 0; i < n; i++ {
			x.SetVec(i, f(i))
		}
		var hx mat.VecDense
		hx.MulVec(h, x)
		assert.GreaterOrEqual(t, mat.Dot(x, &hx), -1e-9, "probe %d", pi)
	}
}
