package quality

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"diffim/internal/basis"
	"diffim/internal/cellset"
	"diffim/internal/config"
	"diffim/internal/image"
	"diffim/internal/solver"
	"diffim/internal/spatial"
	"diffim/pkg/geometry"
)

// fittedScene builds a two-candidate cell set with a known constant
// matching kernel and runs the spatial fit on it.
func fittedScene(t *testing.T) (*cellset.SpatialCellSet, *spatial.SpatialKernelModel) {
	t.Helper()

	cells, err := cellset.New(geometry.NewRectInt(0, 0, 200, 100), 100, 100)
	require.NoError(t, err)

	const size = 15
	for _, pos := range [][2]float64{{50, 50}, {150, 50}} {
		tmpl := image.NewMaskedImage(size, size)
		tmpl.Image.Set(size/2, size/2, 10.0)
		sci := image.NewMaskedImage(size, size)
		for y := 0; y < size; y++ {
			for x := 0; x < size; x++ {
				if x+1 < size {
					sci.Image.Set(x, y, 2.0*tmpl.Image.At(x+1, y)+0.5)
				} else {
					sci.Image.Set(x, y, 0.5)
				}
			}
		}
		_, err := cells.Insert(pos[0], pos[1], tmpl, sci)
		require.NoError(t, err)
	}

	cfg := config.Default()
	cfg.KernelBasisSet = config.BasisDeltaFunction
	cfg.KernelSize = 3
	cfg.ScaleByFwhm = false
	cfg.UseRegularization = false
	cfg.SpatialKernelOrder = 0
	cfg.SpatialBgOrder = 0

	bl, err := basis.MakeDeltaFunction(3, 3)
	require.NoError(t, err)
	functor, err := solver.New(bl, nil)
	require.NoError(t, err)

	model, err := spatial.FitFromCandidates(cells, functor, &cfg, nil)
	require.NoError(t, err)
	return cells, model
}

func TestMakeRatingVector(t *testing.T) {
	cells, model := fittedScene(t)

	ratings, err := MakeRatingVector(cells, model)
	require.NoError(t, err)
	require.NotEmpty(t, ratings)

	// Kernel sum comes first; a spatially constant kernel conserves it
	// exactly across the corners.
	assert.Equal(t, "diffim.kernel_sum", ratings[0].Label)
	assert.InDelta(t, 2.0, ratings[0].Value, 1e-6)
	assert.InDelta(t, 0.0, ratings[0].Uncertainty, 1e-6)

	// One residual rating per good candidate, near-zero for exact fits.
	require.Len(t, ratings, 3)
	assert.Equal(t, "diffim.residuals_50_50", ratings[1].Label)
	assert.Equal(t, "diffim.residuals_150_50", ratings[2].Label)
	for _, r := range ratings[1:] {
		assert.InDelta(t, 0.0, r.Value, 1e-6)
	}
}

func TestMakeRatingVectorSkipsBad(t *testing.T) {
	cells, model := fittedScene(t)
	cells.ByID(0).Status = cellset.StatusBad

	ratings, err := MakeRatingVector(cells, model)
	require.NoError(t, err)
	require.Len(t, ratings, 2)
	assert.Equal(t, "diffim.residuals_150_50", ratings[1].Label)
}

func TestZapSinkRecord(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	sink := ZapSink{Log: zap.New(core)}

	sink.Record([]Rating{
		{Label: "diffim.kernel_sum", Value: 2.0, Uncertainty: 0.1},
		{Label: "diffim.residuals_10_10", Value: 0.01, Uncertainty: 1.0},
	})

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "quality rating", entries[0].Message)
	fields := entries[0].ContextMap()
	assert.Equal(t, "diffim.kernel_sum", fields["label"])
	assert.InDelta(t, 2.0, fields["value"].(float64), 1e-12)
}
