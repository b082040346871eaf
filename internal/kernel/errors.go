package kernel

import "errors"

// Shared error taxonomy for kernel fitting. Callers discriminate with
// errors.Is; wrapped context is added with fmt.Errorf("%w").
var (
	// ErrConfig marks invalid configuration values. Fatal for the
	// requested operation, never retried.
	ErrConfig = errors.New("diffim: invalid configuration")

	// ErrInsufficientData marks a candidate fit with too few unmasked
	// pixels for the number of unknowns. The candidate is marked bad and
	// the batch continues.
	ErrInsufficientData = errors.New("diffim: insufficient data for fit")

	// ErrSolver marks a singular or ill-conditioned linear system.
	// Handled like ErrInsufficientData, contained at the candidate level.
	ErrSolver = errors.New("diffim: linear solve failed")

	// ErrNoGoodCandidates marks a spatial fit attempted with zero good
	// candidates. Fatal for the whole spatial kernel build.
	ErrNoGoodCandidates = errors.New("diffim: no good candidates remain")
)
