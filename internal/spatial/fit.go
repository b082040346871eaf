package spatial

import (
	"fmt"

	"go.uber.org/zap"

	"diffim/internal/cellset"
	"diffim/internal/config"
	"diffim/internal/kernel"
	"diffim/internal/solver"
)

// FitFromCandidates runs the full spatial kernel fit: per-candidate kernel
// builds, kernel-sum clipping, optional PCA rebasis, the spatial polynomial
// fit, and model assessment with outlier clipping, iterated until no
// candidate is rejected or maxSpatialIterations is reached.
//
// PCA rebasis, when enabled, always precedes the spatial polynomial fit.
// Per-candidate failures are contained; an empty good set is fatal.
func FitFromCandidates(cells *cellset.SpatialCellSet, functor *solver.Functor, cfg *config.Config, log *zap.Logger) (*SpatialKernelModel, error) {
	if log == nil {
		log = zap.NewNop()
	}

	singleFitter := NewBuildSingleKernelVisitor(functor, cfg, log)
	constantFirstTerm := cfg.KernelBasisSet == config.BasisAlardLupton || cfg.UsePcaForSpatialKernel

	var model *SpatialKernelModel
	for iter := 0; iter < cfg.MaxSpatialIterations; iter++ {
		// Build any candidate that does not yet carry a kernel. Earlier
		// rejections leave gaps that this pass fills from the remaining
		// unknowns.
		singleFitter.Reset()
		singleFitter.SetSkipBuilt(true)
		if err := cells.Visit(singleFitter, false); err != nil {
			return nil, err
		}

		// Clip on the kernel sum distribution; each rejection may expose
		// an unbuilt candidate, so loop until the distribution is stable.
		for {
			ksumVisitor := NewKernelSumVisitor(cfg, log)
			if err := cells.Visit(ksumVisitor, false); err != nil {
				return nil, err
			}
			if len(ksumVisitor.kSums) == 0 {
				break
			}
			ksumVisitor.ProcessKsumDistribution()
			ksumVisitor.SetMode(KernelSumReject)
			if err := cells.Visit(ksumVisitor, false); err != nil {
				return nil, err
			}
			if ksumVisitor.NRejected() == 0 {
				break
			}
			log.Info("kernel sum clipping rejected candidates",
				zap.Int("iteration", iter), zap.Int("rejected", ksumVisitor.NRejected()))

			singleFitter.Reset()
			if err := cells.Visit(singleFitter, false); err != nil {
				return nil, err
			}
		}

		if cells.CountGood() == 0 {
			return nil, fmt.Errorf("%w: all candidates rejected before spatial fit",
				kernel.ErrNoGoodCandidates)
		}

		// Optionally rebase the candidate kernels onto a compact PCA
		// basis; the raw kernels survive in OrigFit so later iterations
		// can rebuild the decomposition.
		spatialBasis := functor.Basis()
		if cfg.UsePcaForSpatialKernel {
			pcaBasis, _, err := BuildPcaBasis(cells, cfg.NEigenComponents, log)
			if err != nil {
				return nil, err
			}
			pcaFunctor, err := solver.New(pcaBasis, log)
			if err != nil {
				return nil, err
			}
			pcaFitter := NewBuildSingleKernelVisitor(pcaFunctor, cfg, log)
			pcaFitter.SetCandidateKernel(false)
			pcaFitter.SetSkipBuilt(false)
			if err := cells.Visit(pcaFitter, false); err != nil {
				return nil, err
			}
			if cells.CountGood() == 0 {
				return nil, fmt.Errorf("%w: all candidates rejected during PCA refit",
					kernel.ErrNoGoodCandidates)
			}
			spatialBasis = pcaBasis
		}

		spatialFitter, err := NewBuildSpatialKernelVisitor(
			spatialBasis, cfg.SpatialKernelOrder, cfg.SpatialBgOrder, constantFirstTerm, log)
		if err != nil {
			return nil, err
		}
		if err := cells.Visit(spatialFitter, false); err != nil {
			return nil, err
		}
		if err := spatialFitter.Solve(); err != nil {
			return nil, err
		}
		model, err = spatialFitter.SpatialModel()
		if err != nil {
			return nil, err
		}

		assessor := NewAssessSpatialKernelVisitor(model, cfg, log)
		if err := cells.Visit(assessor, false); err != nil {
			return nil, err
		}
		log.Info("spatial kernel iteration",
			zap.Int("iteration", iter),
			zap.Int("good", assessor.NGood()),
			zap.Int("rejected", assessor.NRejected()))

		if assessor.NRejected() == 0 {
			break
		}
		if cells.CountGood() == 0 {
			return nil, fmt.Errorf("%w: spatial clipping emptied the good set",
				kernel.ErrNoGoodCandidates)
		}
	}
	return model, nil
}
