// Package cellset partitions the image overlap region into a grid of cells
// holding kernel-fit candidates, and dispatches visitors over them in a
// deterministic order.
package cellset

import (
	"fmt"

	"diffim/internal/image"
	"diffim/internal/kernel"
	"diffim/internal/solver"
	"diffim/pkg/geometry"
)

// Status is the fit state of a candidate.
type Status int

const (
	// StatusUnknown marks a candidate not yet fit.
	StatusUnknown Status = iota
	// StatusGood marks a candidate whose fit succeeded and passed
	// acceptance tests.
	StatusGood
	// StatusBad marks a failed or rejected candidate. The transition is
	// reversible; candidates are never removed.
	StatusBad
)

func (s Status) String() string {
	switch s {
	case StatusGood:
		return "GOOD"
	case StatusBad:
		return "BAD"
	default:
		return "UNKNOWN"
	}
}

// Candidate is one spatial sample point for kernel fitting: a pair of
// aligned stamps cut from the template and science images around a source.
type Candidate struct {
	ID int
	// X, Y is the candidate center in parent image coordinates.
	X, Y float64

	// TemplateStamp is the cutout to be convolved; ScienceStamp is the
	// cutout whose PSF is being matched. Identical dimensions.
	TemplateStamp *image.MaskedImage
	ScienceStamp  *image.MaskedImage

	Status Status

	// Fit is the current per-candidate solution; after a PCA rebasis it
	// holds the fit in the reduced basis while OrigFit keeps the fit in
	// the original basis.
	Fit     *solver.Result
	OrigFit *solver.Result

	// Cached difference-image residual statistics from the last build.
	DiffimMean float64
	DiffimRMS  float64
}

// Visitor processes one candidate at a time. Returning an error aborts the
// pass; per-candidate failures must be contained by the visitor itself
// (mark the candidate bad and return nil).
type Visitor interface {
	Visit(cand *Candidate) error
}

// SpatialCellSet owns a grid of non-overlapping cells covering a bounding
// box. Candidates live in a flat arena; cells hold indexes in insertion
// order and lookup by id goes through an id->index map.
type SpatialCellSet struct {
	bounds     geometry.RectInt
	cellWidth  int
	cellHeight int
	nx, ny     int

	arena []Candidate
	cells [][]int
	byID  map[int]int

	nextID int
}

// New creates an empty cell set gridding bounds into cells of the given
// size. Cells on the high edges may be smaller.
func New(bounds geometry.RectInt, cellWidth, cellHeight int) (*SpatialCellSet, error) {
	if bounds.Width <= 0 || bounds.Height <= 0 {
		return nil, fmt.Errorf("%w: cell set bounds %dx%d must be positive",
			kernel.ErrConfig, bounds.Width, bounds.Height)
	}
	if cellWidth <= 0 || cellHeight <= 0 {
		return nil, fmt.Errorf("%w: cell size %dx%d must be positive",
			kernel.ErrConfig, cellWidth, cellHeight)
	}
	nx := (bounds.Width + cellWidth - 1) / cellWidth
	ny := (bounds.Height + cellHeight - 1) / cellHeight
	return &SpatialCellSet{
		bounds:     bounds,
		cellWidth:  cellWidth,
		cellHeight: cellHeight,
		nx:         nx,
		ny:         ny,
		cells:      make([][]int, nx*ny),
		byID:       make(map[int]int),
	}, nil
}

// Bounds returns the region the grid covers.
func (s *SpatialCellSet) Bounds() geometry.RectInt { return s.bounds }

// NumCells returns the number of grid cells.
func (s *SpatialCellSet) NumCells() int { return s.nx * s.ny }

// Insert registers a candidate at center (x, y) with its stamp pair and
// returns it. Ids are unique and monotonically increasing. The center must
// lie inside the grid bounds and the stamps must share dimensions. The
// returned pointer is valid only until the next Insert; use ByID or Visit
// for stable access.
func (s *SpatialCellSet) Insert(x, y float64, templateStamp, scienceStamp *image.MaskedImage) (*Candidate, error) {
	ix := int(x) - s.bounds.X
	iy := int(y) - s.bounds.Y
	if ix < 0 || ix >= s.bounds.Width || iy < 0 || iy >= s.bounds.Height {
		return nil, fmt.Errorf("%w: candidate center (%g, %g) outside cell set bounds",
			kernel.ErrConfig, x, y)
	}
	if templateStamp.Width() != scienceStamp.Width() || templateStamp.Height() != scienceStamp.Height() {
		return nil, fmt.Errorf("%w: stamp dimensions %dx%d vs %dx%d",
			kernel.ErrConfig, templateStamp.Width(), templateStamp.Height(),
			scienceStamp.Width(), scienceStamp.Height())
	}

	id := s.nextID
	s.nextID++
	idx := len(s.arena)
	s.arena = append(s.arena, Candidate{
		ID:            id,
		X:             x,
		Y:             y,
		TemplateStamp: templateStamp,
		ScienceStamp:  scienceStamp,
		Status:        StatusUnknown,
	})
	s.byID[id] = idx

	cell := (iy/s.cellHeight)*s.nx + ix/s.cellWidth
	s.cells[cell] = append(s.cells[cell], idx)
	return &s.arena[idx], nil
}

// ByID returns the candidate with the given id, or nil. The pointer aliases
// the arena and is valid only until the next Insert.
func (s *SpatialCellSet) ByID(id int) *Candidate {
	idx, ok := s.byID[id]
	if !ok {
		return nil
	}
	return &s.arena[idx]
}

// Visit applies v to every candidate, cells in grid order and candidates in
// insertion order within each cell. Bad candidates are skipped unless
// includeBad is set. A visitor error aborts the pass and propagates.
func (s *SpatialCellSet) Visit(v Visitor, includeBad bool) error {
	for _, cell := range s.cells {
		for _, idx := range cell {
			cand := &s.arena[idx]
			if cand.Status == StatusBad && !includeBad {
				continue
			}
			if err := v.Visit(cand); err != nil {
				return err
			}
		}
	}
	return nil
}

// Candidates returns the candidates in visitation order, skipping bad ones
// unless includeBad is set. The pointers alias the arena and are valid only
// until the next Insert.
func (s *SpatialCellSet) Candidates(includeBad bool) []*Candidate {
	var out []*Candidate
	for _, cell := range s.cells {
		for _, idx := range cell {
			cand := &s.arena[idx]
			if cand.Status == StatusBad && !includeBad {
				continue
			}
			out = append(out, cand)
		}
	}
	return out
}

// CountGood returns the number of candidates with StatusGood.
func (s *SpatialCellSet) CountGood() int {
	var n int
	for i := range s.arena {
		if s.arena[i].Status == StatusGood {
			n++
		}
	}
	return n
}

// Len returns the total number of candidates, regardless of status.
func (s *SpatialCellSet) Len() int { return len(s.arena) }
