package spatial

import (
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"diffim/internal/cellset"
	"diffim/internal/kernel"
	"diffim/internal/poly2"
	"diffim/internal/solver"
)

// BuildSpatialKernelVisitor accumulates each candidate's normal equations
// into the full spatial system: kernel coefficients expanded over a 2D
// polynomial of spatialKernelOrder, background over spatialBgOrder.
//
// With a renormalized basis (Alard-Lupton or PCA) the first basis term is
// held spatially constant to conserve the kernel sum across the image,
// shrinking the system by nkt-1 terms.
type BuildSpatialKernelVisitor struct {
	basis kernel.BasisList
	log   *zap.Logger

	spatialKernelOrder int
	spatialBgOrder     int
	constantFirstTerm  bool

	nbases int // basis kernels being fit
	nkt    int // spatial terms per kernel coefficient
	nbt    int // spatial terms for the background
	nt     int // total unknowns

	m    *mat.Dense
	b    *mat.VecDense
	soln *mat.VecDense
}

// NewBuildSpatialKernelVisitor sets up the accumulator for one spatial fit
// pass over the given basis.
func NewBuildSpatialKernelVisitor(basis kernel.BasisList, spatialKernelOrder, spatialBgOrder int, constantFirstTerm bool, log *zap.Logger) (*BuildSpatialKernelVisitor, error) {
	if err := basis.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	nbases := len(basis)
	nkt := poly2.NumTerms(spatialKernelOrder)
	nbt := poly2.NumTerms(spatialBgOrder)
	nt := nbases*nkt + nbt
	if constantFirstTerm {
		nt = (nbases-1)*nkt + 1 + nbt
	}
	log.Debug("initializing spatial fit",
		zap.Int("kernelTerms", nkt),
		zap.Int("backgroundTerms", nbt),
		zap.Int("totalTerms", nt),
		zap.Bool("constantFirstTerm", constantFirstTerm))
	return &BuildSpatialKernelVisitor{
		basis:              basis,
		log:                log,
		spatialKernelOrder: spatialKernelOrder,
		spatialBgOrder:     spatialBgOrder,
		constantFirstTerm:  constantFirstTerm,
		nbases:             nbases,
		nkt:                nkt,
		nbt:                nbt,
		nt:                 nt,
		m:                  mat.NewDense(nt, nt, nil),
		b:                  mat.NewVecDense(nt, nil),
	}, nil
}

// kernelTerms returns the spatial terms for basis index i: the constant
// first term contributes a single 1.
func (v *BuildSpatialKernelVisitor) kernelTerms(i int, pk []float64) []float64 {
	if v.constantFirstTerm && i == 0 {
		return pk[:1]
	}
	return pk
}

// termIndex maps (basis index, spatial term index) to a solution index.
func (v *BuildSpatialKernelVisitor) termIndex(i, j int) int {
	if v.constantFirstTerm {
		if i == 0 {
			return 0
		}
		return 1 + (i-1)*v.nkt + j
	}
	return i*v.nkt + j
}

// Visit folds one candidate's per-candidate normal equations (Q, W) into
// the spatial system via outer products of the polynomial term vectors.
func (v *BuildSpatialKernelVisitor) Visit(cand *cellset.Candidate) error {
	if cand.Fit == nil {
		return nil
	}
	q := cand.Fit.M
	w := cand.Fit.B

	pk := poly2.Terms(v.spatialKernelOrder, cand.X, cand.Y)
	pb := poly2.Terms(v.spatialBgOrder, cand.X, cand.Y)
	mb := v.nt - v.nbt

	for i1 := 0; i1 < v.nbases; i1++ {
		t1 := v.kernelTerms(i1, pk)
		for j1, p1 := range t1 {
			g1 := v.termIndex(i1, j1)

			// kernel-kernel blocks
			for i2 := 0; i2 < v.nbases; i2++ {
				qv := q.At(i1, i2)
				for j2, p2 := range v.kernelTerms(i2, pk) {
					g2 := v.termIndex(i2, j2)
					v.m.Set(g1, g2, v.m.At(g1, g2)+qv*p1*p2)
				}
			}

			// kernel-background cross terms
			qb := q.At(i1, v.nbases)
			for jb, pbv := range pb {
				v.m.Set(g1, mb+jb, v.m.At(g1, mb+jb)+qb*p1*pbv)
				v.m.Set(mb+jb, g1, v.m.At(mb+jb, g1)+qb*p1*pbv)
			}

			v.b.SetVec(g1, v.b.AtVec(g1)+w.AtVec(i1)*p1)
		}
	}

	// background-background block
	qbb := q.At(v.nbases, v.nbases)
	for j1, p1 := range pb {
		for j2, p2 := range pb {
			v.m.Set(mb+j1, mb+j2, v.m.At(mb+j1, mb+j2)+qbb*p1*p2)
		}
		v.b.SetVec(mb+j1, v.b.AtVec(mb+j1)+w.AtVec(v.nbases)*p1)
	}
	return nil
}

// Solve solves the accumulated spatial system.
func (v *BuildSpatialKernelVisitor) Solve() error {
	soln, err := solver.Solve(v.m, v.b, v.log)
	if err != nil {
		return err
	}
	v.soln = soln
	return nil
}

// SpatialModel assembles the fitted model from the solution vector.
func (v *BuildSpatialKernelVisitor) SpatialModel() (*SpatialKernelModel, error) {
	if v.soln == nil {
		return nil, kernel.ErrSolver
	}

	polys := make([]*poly2.Poly, v.nbases)
	idx := 0
	for i := 0; i < v.nbases; i++ {
		coeffs := make([]float64, v.nkt)
		if v.constantFirstTerm && i == 0 {
			coeffs[0] = v.soln.AtVec(idx)
			idx++
		} else {
			for j := 0; j < v.nkt; j++ {
				coeffs[j] = v.soln.AtVec(idx)
				idx++
			}
		}
		p, err := poly2.New(v.spatialKernelOrder, coeffs)
		if err != nil {
			return nil, err
		}
		polys[i] = p
	}

	bgCoeffs := make([]float64, v.nbt)
	for j := 0; j < v.nbt; j++ {
		bgCoeffs[j] = v.soln.AtVec(v.nt - v.nbt + j)
	}
	bg, err := poly2.New(v.spatialBgOrder, bgCoeffs)
	if err != nil {
		return nil, err
	}

	model := &SpatialKernelModel{
		Basis:          v.basis,
		KernelPolys:    polys,
		BackgroundPoly: bg,
	}
	if err := model.validate(); err != nil {
		return nil, err
	}
	return model, nil
}
