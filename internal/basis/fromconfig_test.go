package basis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"diffim/internal/config"
	"diffim/internal/kernel"
)

func TestFromConfigAlardLupton(t *testing.T) {
	cfg := config.Default()
	cfg.KernelSize = 15

	bl, h, err := FromConfig(&cfg)
	require.NoError(t, err)
	assert.Nil(t, h, "smooth basis needs no penalty")
	// Sum of (d+1)(d+2)/2 over degrees 4, 3, 2.
	assert.Len(t, bl, 15+10+6)
	assert.Equal(t, 15, bl.Width())
}

func TestFromConfigDeltaRegularized(t *testing.T) {
	cfg := config.Default()
	cfg.KernelBasisSet = config.BasisDeltaFunction
	cfg.KernelSize = 5

	bl, h, err := FromConfig(&cfg)
	require.NoError(t, err)
	assert.Len(t, bl, 25)
	require.NotNil(t, h)
	r, c := h.Dims()
	assert.Equal(t, 25, r)
	assert.Equal(t, 25, c)
}

func TestFromConfigDeltaUnregularized(t *testing.T) {
	cfg := config.Default()
	cfg.KernelBasisSet = config.BasisDeltaFunction
	cfg.KernelSize = 5
	cfg.UseRegularization = false

	bl, h, err := FromConfig(&cfg)
	require.NoError(t, err)
	assert.Len(t, bl, 25)
	assert.Nil(t, h)
}

func TestFromConfigForwardDifference(t *testing.T) {
	cfg := config.Default()
	cfg.KernelBasisSet = config.BasisDeltaFunction
	cfg.KernelSize = 5
	cfg.RegularizationType = config.RegularizationForward

	_, h, err := FromConfig(&cfg)
	require.NoError(t, err)
	require.NotNil(t, h)
}

func TestFromConfigUnknownBasis(t *testing.T) {
	cfg := config.Default()
	cfg.KernelBasisSet = "legendre"

	_, _, err := FromConfig(&cfg)
	assert.ErrorIs(t, err, kernel.ErrConfig)
}
