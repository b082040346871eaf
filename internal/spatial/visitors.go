// Package spatial fits the spatially varying PSF-matching kernel from the
// per-candidate solutions held in a cell set, with iterative outlier
// clipping and an optional PCA rebasis of the candidate kernels.
package spatial

import (
	"errors"
	"math"

	"go.uber.org/zap"

	"diffim/internal/cellset"
	"diffim/internal/config"
	"diffim/internal/image"
	"diffim/internal/kernel"
	"diffim/internal/solver"
	"diffim/internal/subtract"
)

// BuildSingleKernelVisitor runs the per-candidate functor on each candidate
// and applies single-kernel residual clipping.
type BuildSingleKernelVisitor struct {
	functor *solver.Functor
	cfg     *config.Config
	log     *zap.Logger

	// When false, the first fit is preserved in OrigFit and only the new
	// normal equations land in Fit. Used for the second pass over a PCA
	// basis, where the raw kernels must survive for later rebasis.
	setCandidateKernel bool
	// When true, candidates that already carry a fit are not reprocessed.
	skipBuilt bool

	nRejected int
}

// NewBuildSingleKernelVisitor creates the visitor with kernel overwriting
// and skip-built behavior enabled.
func NewBuildSingleKernelVisitor(functor *solver.Functor, cfg *config.Config, log *zap.Logger) *BuildSingleKernelVisitor {
	if log == nil {
		log = zap.NewNop()
	}
	return &BuildSingleKernelVisitor{
		functor:            functor,
		cfg:                cfg,
		log:                log,
		setCandidateKernel: true,
		skipBuilt:          true,
	}
}

// SetCandidateKernel controls whether the visitor overwrites the
// candidate's current fit or only refreshes the normal equations.
func (v *BuildSingleKernelVisitor) SetCandidateKernel(set bool) { v.setCandidateKernel = set }

// SetSkipBuilt controls whether already-built candidates are reprocessed.
func (v *BuildSingleKernelVisitor) SetSkipBuilt(skip bool) { v.skipBuilt = skip }

// Reset clears the rejection counter before a new pass.
func (v *BuildSingleKernelVisitor) Reset() { v.nRejected = 0 }

// NRejected returns the number of candidates marked bad during the pass.
func (v *BuildSingleKernelVisitor) NRejected() int { return v.nRejected }

// Visit fits one candidate. Fit failures are contained: the candidate is
// marked bad and the pass continues.
func (v *BuildSingleKernelVisitor) Visit(cand *cellset.Candidate) error {
	if v.skipBuilt && cand.Fit != nil {
		return nil
	}
	v.log.Debug("building single kernel", zap.Int("candidate", cand.ID))

	variance := varianceEstimate(cand, v.cfg)

	res, err := v.functor.Apply(cand.TemplateStamp.Image, cand.ScienceStamp.Image, variance)
	if err != nil {
		return v.reject(cand, err)
	}

	diffim, err := subtract.ConvolveAndSubtract(
		cand.TemplateStamp, cand.ScienceStamp, res.Kernel.Stamp(), res.Background)
	if err != nil {
		return v.reject(cand, err)
	}

	// Refit with the first difference image's variance as a better
	// estimate of the true diffim variance. Pointless under constant
	// variance weighting.
	if v.cfg.IterateSingleKernel && !v.cfg.ConstantVarianceWeighting {
		res2, err := v.functor.Apply(cand.TemplateStamp.Image, cand.ScienceStamp.Image, diffim.Variance)
		if err != nil {
			return v.reject(cand, err)
		}
		res = res2
		diffim, err = subtract.ConvolveAndSubtract(
			cand.TemplateStamp, cand.ScienceStamp, res.Kernel.Stamp(), res.Background)
		if err != nil {
			return v.reject(cand, err)
		}
	}

	if v.setCandidateKernel {
		cand.Fit = res
		cand.OrigFit = res
	} else {
		if cand.OrigFit == nil {
			cand.OrigFit = cand.Fit
		}
		cand.Fit = res
	}

	stamp := res.Kernel.Stamp()
	core := subtract.CoreRegion(diffim.Bounds(), stamp.Width(), stamp.Height())
	stats, err := subtract.ImageStatistics(diffim, core)
	if err != nil {
		return v.reject(cand, err)
	}
	cand.DiffimMean = stats.Mean
	cand.DiffimRMS = stats.RMS

	v.log.Debug("single kernel fit",
		zap.Int("candidate", cand.ID),
		zap.Float64("ksum", res.KernelSum),
		zap.Float64("background", res.Background),
		zap.Float64("residMean", stats.Mean),
		zap.Float64("residRMS", stats.RMS))

	if !v.cfg.SingleKernelClipping {
		cand.Status = cellset.StatusGood
		return nil
	}
	switch {
	case math.Abs(stats.Mean) > v.cfg.CandidateResidualMeanMax:
		v.log.Info("rejecting candidate on mean residual",
			zap.Int("candidate", cand.ID), zap.Float64("mean", stats.Mean))
		cand.Status = cellset.StatusBad
		v.nRejected++
	case stats.RMS > v.cfg.CandidateResidualStdMax:
		v.log.Info("rejecting candidate on residual rms",
			zap.Int("candidate", cand.ID), zap.Float64("rms", stats.RMS))
		cand.Status = cellset.StatusBad
		v.nRejected++
	default:
		cand.Status = cellset.StatusGood
	}
	return nil
}

// reject contains per-candidate failures; anything outside the taxonomy's
// contained kinds propagates and aborts the pass.
func (v *BuildSingleKernelVisitor) reject(cand *cellset.Candidate, err error) error {
	if errors.Is(err, kernel.ErrInsufficientData) || errors.Is(err, kernel.ErrSolver) {
		v.log.Info("unable to fit candidate",
			zap.Int("candidate", cand.ID), zap.Error(err))
		cand.Status = cellset.StatusBad
		v.nRejected++
		return nil
	}
	return err
}

// varianceEstimate builds the weighting plane for a candidate fit: unit
// variance under constant weighting, otherwise the variance of the
// straight image difference, var(S) + var(T).
func varianceEstimate(cand *cellset.Candidate, cfg *config.Config) *image.Image {
	w, h := cand.ScienceStamp.Width(), cand.ScienceStamp.Height()
	variance := image.NewImage(w, h)
	if cfg.ConstantVarianceWeighting {
		variance.Fill(1.0)
		return variance
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			variance.Set(x, y, cand.ScienceStamp.Variance.At(x, y)+cand.TemplateStamp.Variance.At(x, y))
		}
	}
	return variance
}

// KernelSumMode selects the pass of the KernelSumVisitor.
type KernelSumMode int

const (
	// KernelSumAggregate collects each candidate's kernel sum.
	KernelSumAggregate KernelSumMode = iota
	// KernelSumReject marks candidates whose kernel sum strays too far
	// from the clipped mean.
	KernelSumReject
)

// KernelSumVisitor finds outliers in the distribution of kernel sums
// across candidates in two passes: aggregate, then reject anything more
// than maxKsumSigma clipped standard deviations from the clipped mean.
type KernelSumVisitor struct {
	cfg  *config.Config
	log  *zap.Logger
	mode KernelSumMode

	kSums     []float64
	kSumMean  float64
	kSumStd   float64
	dkSumMax  float64
	kSumNpts  int
	nRejected int
}

// NewKernelSumVisitor creates the visitor in aggregate mode.
func NewKernelSumVisitor(cfg *config.Config, log *zap.Logger) *KernelSumVisitor {
	if log == nil {
		log = zap.NewNop()
	}
	return &KernelSumVisitor{cfg: cfg, log: log, mode: KernelSumAggregate}
}

// SetMode switches between the aggregate and reject passes.
func (v *KernelSumVisitor) SetMode(mode KernelSumMode) { v.mode = mode }

// Reset clears accumulated state for a fresh aggregate pass.
func (v *KernelSumVisitor) Reset() {
	v.kSums = v.kSums[:0]
	v.kSumMean = 0
	v.kSumStd = 0
	v.dkSumMax = 0
	v.kSumNpts = 0
	v.nRejected = 0
}

// NRejected returns the rejection count of the last reject pass.
func (v *KernelSumVisitor) NRejected() int { return v.nRejected }

// Mean returns the sigma-clipped mean kernel sum.
func (v *KernelSumVisitor) Mean() float64 { return v.kSumMean }

// Std returns the sigma-clipped standard deviation of the kernel sums.
func (v *KernelSumVisitor) Std() float64 { return v.kSumStd }

// Npts returns the number of kernel sums entering the statistics.
func (v *KernelSumVisitor) Npts() int { return v.kSumNpts }

// Visit accumulates or rejects one candidate depending on the mode.
func (v *KernelSumVisitor) Visit(cand *cellset.Candidate) error {
	if cand.Fit == nil {
		return nil
	}
	switch v.mode {
	case KernelSumAggregate:
		v.kSums = append(v.kSums, cand.Fit.KernelSum)
	case KernelSumReject:
		if !v.cfg.KernelSumClipping {
			return nil
		}
		if math.Abs(cand.Fit.KernelSum-v.kSumMean) > v.dkSumMax {
			v.log.Info("rejecting candidate on kernel sum",
				zap.Int("candidate", cand.ID),
				zap.Float64("ksum", cand.Fit.KernelSum),
				zap.Float64("mean", v.kSumMean))
			cand.Status = cellset.StatusBad
			v.nRejected++
		}
	}
	return nil
}

// ProcessKsumDistribution computes the clipped statistics of the
// aggregated kernel sums and the rejection threshold.
func (v *KernelSumVisitor) ProcessKsumDistribution() {
	mean, std, n := sigmaClippedMeanStd(v.kSums, 3.0, 3)
	v.kSumMean = mean
	v.kSumStd = std
	v.kSumNpts = n
	v.dkSumMax = v.cfg.MaxKsumSigma * std
	v.log.Info("kernel sum distribution",
		zap.Float64("mean", mean), zap.Float64("std", std), zap.Int("npts", n))
}

// sigmaClippedMeanStd iteratively recomputes mean and standard deviation
// over the values within nSigma of the running mean.
func sigmaClippedMeanStd(vals []float64, nSigma float64, iterations int) (float64, float64, int) {
	use := make([]float64, len(vals))
	copy(use, vals)

	var mean, std float64
	for iter := 0; iter <= iterations; iter++ {
		if len(use) == 0 {
			return mean, std, 0
		}
		var sum float64
		for _, v := range use {
			sum += v
		}
		mean = sum / float64(len(use))
		var sum2 float64
		for _, v := range use {
			d := v - mean
			sum2 += d * d
		}
		if len(use) > 1 {
			std = math.Sqrt(sum2 / float64(len(use)-1))
		} else {
			std = 0
		}
		if iter == iterations || std == 0 {
			break
		}
		kept := use[:0]
		for _, v := range use {
			if math.Abs(v-mean) <= nSigma*std {
				kept = append(kept, v)
			}
		}
		if len(kept) == len(use) {
			break
		}
		use = kept
	}
	return mean, std, len(use)
}

// AssessSpatialKernelVisitor evaluates the fitted spatial model at each
// candidate and clips those whose residuals disagree with it.
type AssessSpatialKernelVisitor struct {
	model *SpatialKernelModel
	cfg   *config.Config
	log   *zap.Logger

	nGood     int
	nRejected int
}

// NewAssessSpatialKernelVisitor creates the assessor for one model.
func NewAssessSpatialKernelVisitor(model *SpatialKernelModel, cfg *config.Config, log *zap.Logger) *AssessSpatialKernelVisitor {
	if log == nil {
		log = zap.NewNop()
	}
	return &AssessSpatialKernelVisitor{model: model, cfg: cfg, log: log}
}

// Reset clears the counters before a new pass.
func (v *AssessSpatialKernelVisitor) Reset() {
	v.nGood = 0
	v.nRejected = 0
}

// NGood returns the number of candidates passing assessment.
func (v *AssessSpatialKernelVisitor) NGood() int { return v.nGood }

// NRejected returns the number of candidates clipped.
func (v *AssessSpatialKernelVisitor) NRejected() int { return v.nRejected }

// Visit assesses one candidate against the spatial model.
func (v *AssessSpatialKernelVisitor) Visit(cand *cellset.Candidate) error {
	if cand.Fit == nil {
		return nil
	}
	k, err := v.model.KernelAt(cand.X, cand.Y)
	if err != nil {
		return err
	}
	background := v.model.BackgroundAt(cand.X, cand.Y)

	diffim, err := subtract.ConvolveAndSubtract(cand.TemplateStamp, cand.ScienceStamp, k, background)
	if err != nil {
		return err
	}
	core := subtract.CoreRegion(diffim.Bounds(), k.Width(), k.Height())
	stats, err := subtract.ImageStatistics(diffim, core)
	if err != nil {
		if errors.Is(err, kernel.ErrInsufficientData) {
			cand.Status = cellset.StatusBad
			v.nRejected++
			return nil
		}
		return err
	}
	cand.DiffimMean = stats.Mean
	cand.DiffimRMS = stats.RMS

	v.log.Debug("spatial model residuals",
		zap.Int("candidate", cand.ID),
		zap.Float64("residMean", stats.Mean),
		zap.Float64("residRMS", stats.RMS))

	if !v.cfg.SpatialKernelClipping {
		cand.Status = cellset.StatusGood
		v.nGood++
		return nil
	}
	switch {
	case math.Abs(stats.Mean) > v.cfg.CandidateResidualMeanMax:
		v.log.Info("rejecting candidate on spatial model mean residual",
			zap.Int("candidate", cand.ID), zap.Float64("mean", stats.Mean))
		cand.Status = cellset.StatusBad
		v.nRejected++
	case stats.RMS > v.cfg.CandidateResidualStdMax:
		v.log.Info("rejecting candidate on spatial model residual rms",
			zap.Int("candidate", cand.ID), zap.Float64("rms", stats.RMS))
		cand.Status = cellset.StatusBad
		v.nRejected++
	default:
		cand.Status = cellset.StatusGood
		v.nGood++
	}
	return nil
}
