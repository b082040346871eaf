package spatial

import (
	"fmt"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"diffim/internal/cellset"
	"diffim/internal/kernel"
)

// BuildPcaBasis derives a compact basis from the raw kernels of the
// non-bad candidates: each kernel is normalized to unit sum so bright
// candidates carry no extra weight, the mean kernel is subtracted, and the
// leading principal components are extracted. The mean image is prepended
// to the returned basis and each eigenimage is normalized so its extreme
// value is 1. Also returns the eigenvalues of the kept components.
func BuildPcaBasis(cells *cellset.SpatialCellSet, nEigenComponents int, log *zap.Logger) (kernel.BasisList, []float64, error) {
	if log == nil {
		log = zap.NewNop()
	}

	var stamps []*kernel.Kernel
	for _, cand := range cells.Candidates(false) {
		fit := cand.OrigFit
		if fit == nil {
			fit = cand.Fit
		}
		if fit == nil {
			continue
		}
		ksum := fit.KernelSum
		if ksum == 0 {
			continue
		}
		st := fit.Kernel.Stamp().Clone()
		st.ScaleBy(1.0 / ksum)
		stamps = append(stamps, st)
	}
	if len(stamps) < 2 {
		return nil, nil, fmt.Errorf("%w: %d kernels for PCA", kernel.ErrNoGoodCandidates, len(stamps))
	}

	kw, kh := stamps[0].Width(), stamps[0].Height()
	nPix := kw * kh
	nCand := len(stamps)

	mean, _ := kernel.New(kw, kh)
	for _, st := range stamps {
		mean.AddScaled(st, 1.0/float64(nCand))
	}

	// Columns are mean-subtracted kernels.
	x := mat.NewDense(nPix, nCand, nil)
	for j, st := range stamps {
		for i, v := range st.Data() {
			x.Set(i, j, v-mean.Data()[i])
		}
	}

	var svd mat.SVD
	if !svd.Factorize(x, mat.SVDThin) {
		return nil, nil, fmt.Errorf("%w: SVD of kernel stack failed", kernel.ErrSolver)
	}
	var u mat.Dense
	svd.UTo(&u)
	values := svd.Values(nil)

	ncomp := nEigenComponents
	if ncomp > len(values) {
		ncomp = len(values)
	}

	basis := make(kernel.BasisList, 0, ncomp+1)
	basis = append(basis, mean)

	eigenValues := make([]float64, ncomp)
	for j := 0; j < ncomp; j++ {
		eigenValues[j] = values[j] * values[j] / float64(nCand)

		eig, _ := kernel.New(kw, kh)
		for i := 0; i < nPix; i++ {
			eig.Data()[i] = u.At(i, j)
		}
		// Eigenimages have mean zero, so normalize by the extreme value
		// instead of the sum.
		if ext := eig.Extreme(); ext != 0 {
			eig.ScaleBy(1.0 / ext)
		}
		basis = append(basis, eig)

		log.Debug("kept eigen component",
			zap.Int("component", j),
			zap.Float64("eigenvalue", eigenValues[j]),
			zap.Float64("fraction", eigenValues[j]/sumSquares(values, nCand)))
	}

	return basis, eigenValues, nil
}

func sumSquares(values []float64, nCand int) float64 {
	var s float64
	for _, v := range values {
		s += v * v / float64(nCand)
	}
	if s == 0 {
		return math.Inf(1)
	}
	return s
}
