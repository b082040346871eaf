// Package quality emits named (label, value, uncertainty) rating triples
// describing the fitted kernel and its candidates, for consumption by an
// external quality-recording sink.
package quality

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"diffim/internal/cellset"
	"diffim/internal/spatial"
	"diffim/internal/subtract"
)

// Rating is one named quality measurement with its uncertainty.
type Rating struct {
	Label       string
	Value       float64
	Uncertainty float64
}

// Sink receives ratings. Implementations must not mutate the slice.
type Sink interface {
	Record(ratings []Rating)
}

// ZapSink logs each rating through a structured logger.
type ZapSink struct {
	Log *zap.Logger
}

// Record writes one log entry per rating.
func (s ZapSink) Record(ratings []Rating) {
	for _, r := range ratings {
		s.Log.Info("quality rating",
			zap.String("label", r.Label),
			zap.Float64("value", r.Value),
			zap.Float64("uncertainty", r.Uncertainty))
	}
}

// MakeRatingVector assesses a fitted spatial model: the kernel sum sampled
// at the corners of the fit region (mean and spread measure how well flux
// is conserved across the image), and the residual statistics of every
// good candidate under the final model.
func MakeRatingVector(cells *cellset.SpatialCellSet, model *spatial.SpatialKernelModel) ([]Rating, error) {
	var ratings []Rating

	bounds := cells.Bounds()
	corners := [4][2]float64{
		{float64(bounds.X), float64(bounds.Y)},
		{float64(bounds.X + bounds.Width), float64(bounds.Y)},
		{float64(bounds.X), float64(bounds.Y + bounds.Height)},
		{float64(bounds.X + bounds.Width), float64(bounds.Y + bounds.Height)},
	}
	var sum, sum2 float64
	for _, c := range corners {
		ks, err := model.KernelSumAt(c[0], c[1])
		if err != nil {
			return nil, err
		}
		sum += ks
		sum2 += ks * ks
	}
	mean := sum / 4
	variance := sum2/3 - mean*mean*4/3
	if variance < 0 {
		variance = 0
	}
	ratings = append(ratings, Rating{
		Label:       "diffim.kernel_sum",
		Value:       mean,
		Uncertainty: math.Sqrt(variance),
	})

	for _, cand := range cells.Candidates(true) {
		if cand.Status != cellset.StatusGood {
			continue
		}
		k, err := model.KernelAt(cand.X, cand.Y)
		if err != nil {
			return nil, err
		}
		diffim, err := subtract.ConvolveAndSubtract(
			cand.TemplateStamp, cand.ScienceStamp, k, model.BackgroundAt(cand.X, cand.Y))
		if err != nil {
			return nil, err
		}
		stats, err := subtract.ImageStatistics(diffim, diffim.Bounds())
		if err != nil {
			continue
		}
		ratings = append(ratings, Rating{
			Label:       fmt.Sprintf("diffim.residuals_%d_%d", int(cand.X), int(cand.Y)),
			Value:       stats.Mean,
			Uncertainty: stats.RMS,
		})
	}
	return ratings, nil
}
