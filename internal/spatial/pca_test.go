package spatial

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"diffim/internal/basis"
	"diffim/internal/kernel"
	"diffim/internal/solver"
)

// fitWithStamp fabricates a candidate result realizing the given 3x3
// coefficient grid over the delta basis.
func fitWithStamp(t *testing.T, coeffs []float64) *solver.Result {
	t.Helper()
	bl, err := basis.MakeDeltaFunction(3, 3)
	require.NoError(t, err)
	lk, err := kernel.NewLinearCombination(bl, coeffs)
	require.NoError(t, err)
	return &solver.Result{Coeffs: coeffs, Kernel: lk, KernelSum: lk.Sum()}
}

func TestBuildPcaBasis(t *testing.T) {
	cells := newCells(t)
	insertHotPixel(t, cells, 30, 30, 1, 0)
	insertHotPixel(t, cells, 150, 30, 1, 0)
	insertHotPixel(t, cells, 90, 150, 1, 0)

	// Kernels share a central impulse; the corner tap varies.
	for i, corner := range []float64{0.0, 0.3, 0.6} {
		coeffs := make([]float64, 9)
		coeffs[4] = 2.0
		coeffs[8] = corner
		cells.ByID(i).Fit = fitWithStamp(t, coeffs)
	}

	pcaBasis, eigenValues, err := BuildPcaBasis(cells, 2, nil)
	require.NoError(t, err)
	require.Len(t, pcaBasis, 3, "mean plus two components")
	require.Len(t, eigenValues, 2)

	// Inputs are ksum-normalized, so the mean kernel has unit sum.
	assert.InDelta(t, 1.0, pcaBasis[0].Sum(), 1e-9)

	// Significant eigenimages are mean-free and normalized by their
	// extreme value; components with a vanishing eigenvalue are just
	// orthonormal filler.
	for i, eig := range pcaBasis[1:] {
		if eigenValues[i] > 1e-12 {
			assert.InDelta(t, 0.0, eig.Sum(), 1e-9, "component %d", i)
			assert.InDelta(t, 1.0, eig.Extreme(), 1e-9, "component %d", i)
		}
	}

	// The variation is one-dimensional: the second eigenvalue vanishes.
	assert.Greater(t, eigenValues[0], 1e-6)
	assert.InDelta(t, 0.0, eigenValues[1], 1e-9)
	assert.GreaterOrEqual(t, eigenValues[0], eigenValues[1], "components ordered by variance")
}

func TestBuildPcaBasisCapsComponents(t *testing.T) {
	cells := newCells(t)
	insertHotPixel(t, cells, 30, 30, 1, 0)
	insertHotPixel(t, cells, 150, 30, 1, 0)
	coeffs := make([]float64, 9)
	coeffs[4] = 1.0
	cells.ByID(0).Fit = fitWithStamp(t, coeffs)
	coeffs2 := make([]float64, 9)
	coeffs2[4] = 1.0
	coeffs2[0] = 0.5
	cells.ByID(1).Fit = fitWithStamp(t, coeffs2)

	// Two kernels give at most two singular values.
	pcaBasis, eigenValues, err := BuildPcaBasis(cells, 10, nil)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(pcaBasis), 3)
	assert.LessOrEqual(t, len(eigenValues), 2)
}

func TestBuildPcaBasisNeedsKernels(t *testing.T) {
	cells := newCells(t)
	insertHotPixel(t, cells, 30, 30, 1, 0)
	coeffs := make([]float64, 9)
	coeffs[4] = 1.0
	cells.ByID(0).Fit = fitWithStamp(t, coeffs)

	_, _, err := BuildPcaBasis(cells, 2, nil)
	assert.ErrorIs(t, err, kernel.ErrNoGoodCandidates)
}

func TestBuildPcaBasisPrefersOrigFit(t *testing.T) {
	cells := newCells(t)
	insertHotPixel(t, cells, 30, 30, 1, 0)
	insertHotPixel(t, cells, 150, 30, 1, 0)

	raw := make([]float64, 9)
	raw[4] = 2.0
	rebased := make([]float64, 9)
	rebased[0] = 1.0
	for i := 0; i < 2; i++ {
		cells.ByID(i).OrigFit = fitWithStamp(t, raw)
		cells.ByID(i).Fit = fitWithStamp(t, rebased)
	}

	pcaBasis, _, err := BuildPcaBasis(cells, 1, nil)
	require.NoError(t, err)

	// The mean comes from the raw kernels: unit impulse at the center
	// after ksum normalization.
	assert.InDelta(t, 1.0, pcaBasis[0].At(1, 1), 1e-9)
	assert.InDelta(t, 0.0, pcaBasis[0].At(0, 0), 1e-9)
}
