// Package solver fits a PSF-matching kernel to one candidate stamp pair by
// weighted linear least squares over a convolution basis.
package solver

import (
	"fmt"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"diffim/internal/convolve"
	"diffim/internal/image"
	"diffim/internal/kernel"
)

// Result holds the outcome of one candidate fit.
type Result struct {
	// Coeffs are the fitted basis coefficients, one per basis kernel.
	Coeffs []float64
	// Background is the fitted constant background offset.
	Background float64
	// Kernel is the realized linear-combination kernel.
	Kernel *kernel.LinearCombinationKernel
	// KernelSum is the realized flux scaling of the fitted kernel.
	KernelSum float64

	// M and B are the (possibly regularized) normal equations, retained
	// for the spatial fit accumulation and uncertainty estimates.
	M *mat.Dense
	B *mat.VecDense

	// CoeffErrs and BackgroundErr are 1-sigma parameter uncertainties
	// from the covariance inverse, when it could be computed.
	CoeffErrs     []float64
	BackgroundErr float64
}

// Functor fits kernel coefficients and a constant background for candidate
// stamp pairs. It is safe to reuse across candidates; each Apply is a pure
// function of its inputs.
type Functor struct {
	basis   kernel.BasisList
	h       *mat.Dense // regularization penalty over the coefficient block, may be nil
	scaling float64    // regularization strength relative to tr(MᵀM)/tr(H)
	log     *zap.Logger
}

// New creates a functor over the given basis with no regularization.
func New(basis kernel.BasisList, log *zap.Logger) (*Functor, error) {
	if err := basis.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Functor{basis: basis, log: log}, nil
}

// NewRegularized creates a functor that augments the normal equations with
// a smoothness penalty h (dimension len(basis) square) scaled by
// regularizationScaling relative to tr(MᵀM)/tr(H).
func NewRegularized(basis kernel.BasisList, h *mat.Dense, regularizationScaling float64, log *zap.Logger) (*Functor, error) {
	f, err := New(basis, log)
	if err != nil {
		return nil, err
	}
	r, c := h.Dims()
	if r != len(basis) || c != len(basis) {
		return nil, fmt.Errorf("%w: penalty matrix is %dx%d for %d basis kernels",
			kernel.ErrConfig, r, c, len(basis))
	}
	if regularizationScaling < 0 {
		return nil, fmt.Errorf("%w: regularizationScaling %g must be >= 0",
			kernel.ErrConfig, regularizationScaling)
	}
	f.h = h
	f.scaling = regularizationScaling
	return f, nil
}

// Basis returns the basis list the functor fits over.
func (f *Functor) Basis() kernel.BasisList { return f.basis }

// Apply solves for the kernel that convolves toConvolve into toNotConvolve,
// using per-pixel inverse-variance weights. Pixels with variance <= 0 are
// excluded. Stamps and variance must share dimensions.
func (f *Functor) Apply(toConvolve, toNotConvolve, variance *image.Image) (*Result, error) {
	if toConvolve.Width() != toNotConvolve.Width() || toConvolve.Height() != toNotConvolve.Height() {
		return nil, fmt.Errorf("%w: stamp dimensions %dx%d vs %dx%d",
			kernel.ErrConfig, toConvolve.Width(), toConvolve.Height(),
			toNotConvolve.Width(), toNotConvolve.Height())
	}
	if toConvolve.Width() != variance.Width() || toConvolve.Height() != variance.Height() {
		return nil, fmt.Errorf("%w: variance dimensions %dx%d vs stamp %dx%d",
			kernel.ErrConfig, variance.Width(), variance.Height(),
			toConvolve.Width(), toConvolve.Height())
	}

	nKernel := len(f.basis)
	nParams := nKernel + 1 // constant background is the last column

	// Only pixels whose kernel footprint lies fully inside the stamp
	// constrain the fit.
	valid := convolve.ValidBounds(toConvolve.Bounds(), f.basis[0])
	if valid.Area() <= 0 {
		return nil, fmt.Errorf("%w: stamp %dx%d smaller than kernel footprint",
			kernel.ErrInsufficientData, toConvolve.Width(), toConvolve.Height())
	}

	// Row indices into the flattened valid region with positive variance.
	type sample struct{ x, y int }
	samples := make([]sample, 0, valid.Area())
	for y := valid.Y; y < valid.Y+valid.Height; y++ {
		for x := valid.X; x < valid.X+valid.Width; x++ {
			if variance.At(x, y) > 0 {
				samples = append(samples, sample{x, y})
			}
		}
	}
	if len(samples) < nParams {
		return nil, fmt.Errorf("%w: %d unmasked pixels for %d unknowns",
			kernel.ErrInsufficientData, len(samples), nParams)
	}

	// C holds one column per convolved basis image plus a ones column for
	// the background; VC is C weighted by inverse variance.
	c := mat.NewDense(len(samples), nParams, nil)
	for j, bk := range f.basis {
		conv := convolve.Apply(toConvolve, bk)
		for i, s := range samples {
			c.Set(i, j, conv.At(s.x, s.y))
		}
	}
	sVec := mat.NewVecDense(len(samples), nil)
	vc := mat.NewDense(len(samples), nParams, nil)
	for i, s := range samples {
		c.Set(i, nParams-1, 1.0)
		w := 1.0 / variance.At(s.x, s.y)
		for j := 0; j < nParams; j++ {
			vc.Set(i, j, w*c.At(i, j))
		}
		sVec.SetVec(i, toNotConvolve.At(s.x, s.y))
	}

	m := mat.NewDense(nParams, nParams, nil)
	m.Mul(c.T(), vc)
	b := mat.NewVecDense(nParams, nil)
	b.MulVec(vc.T(), sVec)

	if f.h != nil {
		f.regularize(m, b)
	}

	soln, err := Solve(m, b, f.log)
	if err != nil {
		return nil, err
	}

	coeffs := make([]float64, nKernel)
	for i := range coeffs {
		v := soln.AtVec(i)
		if math.IsNaN(v) {
			return nil, fmt.Errorf("%w: coefficient %d is NaN", kernel.ErrSolver, i)
		}
		coeffs[i] = v
	}
	background := soln.AtVec(nParams - 1)
	if math.IsNaN(background) {
		return nil, fmt.Errorf("%w: background is NaN", kernel.ErrSolver)
	}

	lk, err := kernel.NewLinearCombination(f.basis, coeffs)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Coeffs:     coeffs,
		Background: background,
		Kernel:     lk,
		KernelSum:  lk.Sum(),
		M:          m,
		B:          b,
	}
	res.CoeffErrs, res.BackgroundErr = uncertainty(m, nKernel)
	return res, nil
}

// regularize augments the normal equations in place: M -> MᵀM + λĤ and
// B -> MᵀB, with λ = scaling * tr(MᵀM)/tr(H) (N.R. 18.5.8, 18.5.16). The
// penalty covers only the coefficient block; the background row stays free.
func (f *Functor) regularize(m *mat.Dense, b *mat.VecDense) {
	nParams, _ := m.Dims()
	nKernel := nParams - 1

	mt := mat.DenseCopyOf(m.T())
	mtm := mat.NewDense(nParams, nParams, nil)
	mtm.Mul(mt, m)

	lambda := f.scaling * mat.Trace(mtm) / mat.Trace(f.h)

	for i := 0; i < nKernel; i++ {
		for j := 0; j < nKernel; j++ {
			mtm.Set(i, j, mtm.At(i, j)+lambda*f.h.At(i, j))
		}
	}
	m.Copy(mtm)

	nb := mat.NewVecDense(nParams, nil)
	nb.MulVec(mt, b)
	b.CopyVec(nb)

	f.log.Debug("applied kernel regularization", zap.Float64("lambda", lambda))
}

// Solve solves the normal equations M·x = B, trying Cholesky first since M
// is symmetric by construction, then LU, then QR for rank-deficient
// systems. The spatial fitter shares this cascade.
func Solve(m *mat.Dense, b *mat.VecDense, log *zap.Logger) (*mat.VecDense, error) {
	if log == nil {
		log = zap.NewNop()
	}
	n, _ := m.Dims()
	x := mat.NewVecDense(n, nil)

	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			sym.SetSym(i, j, 0.5*(m.At(i, j)+m.At(j, i)))
		}
	}
	var chol mat.Cholesky
	if chol.Factorize(sym) {
		if err := chol.SolveVecTo(x, b); err == nil {
			return x, nil
		}
	}
	log.Debug("cholesky solve failed, falling back to LU")

	var lu mat.LU
	lu.Factorize(m)
	if err := lu.SolveVecTo(x, false, b); err == nil {
		return x, nil
	}
	log.Debug("LU solve failed, falling back to QR")

	var qr mat.QR
	qr.Factorize(m)
	if err := qr.SolveVecTo(x, false, b); err == nil {
		return x, nil
	}

	return nil, fmt.Errorf("%w: normal equations are singular", kernel.ErrSolver)
}

// uncertainty estimates 1-sigma parameter errors from the inverse of
// Cov = MᵀM (N.R. 15.4.8-15.4.15). Returns nils when the covariance
// cannot be inverted; uncertainty is advisory, not load-bearing.
func uncertainty(m *mat.Dense, nKernel int) ([]float64, float64) {
	nParams, _ := m.Dims()
	cov := mat.NewDense(nParams, nParams, nil)
	cov.Mul(m.T(), m)

	sym := mat.NewSymDense(nParams, nil)
	for i := 0; i < nParams; i++ {
		for j := i; j < nParams; j++ {
			sym.SetSym(i, j, 0.5*(cov.At(i, j)+cov.At(j, i)))
		}
	}
	var chol mat.Cholesky
	if !chol.Factorize(sym) {
		return nil, 0
	}
	var inv mat.SymDense
	if err := chol.InverseTo(&inv); err != nil {
		return nil, 0
	}

	errs := make([]float64, nKernel)
	for i := range errs {
		v := inv.At(i, i)
		if v < 0 || math.IsNaN(v) {
			return nil, 0
		}
		errs[i] = math.Sqrt(v)
	}
	bgVar := inv.At(nParams-1, nParams-1)
	if bgVar < 0 || math.IsNaN(bgVar) {
		return nil, 0
	}
	return errs, math.Sqrt(bgVar)
}
