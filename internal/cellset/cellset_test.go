package cellset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"diffim/internal/image"
	"diffim/internal/kernel"
	"diffim/pkg/geometry"
)

func stamp() *image.MaskedImage { return image.NewMaskedImage(10, 10) }

func newTestSet(t *testing.T) *SpatialCellSet {
	t.Helper()
	s, err := New(geometry.NewRectInt(0, 0, 100, 100), 50, 50)
	require.NoError(t, err)
	return s
}

func TestNewValidation(t *testing.T) {
	_, err := New(geometry.NewRectInt(0, 0, 0, 100), 50, 50)
	assert.ErrorIs(t, err, kernel.ErrConfig)

	_, err = New(geometry.NewRectInt(0, 0, 100, 100), 0, 50)
	assert.ErrorIs(t, err, kernel.ErrConfig)
}

func TestGridDimensions(t *testing.T) {
	// 100/30 rounds up to 4 cells per axis.
	s, err := New(geometry.NewRectInt(0, 0, 100, 100), 30, 30)
	require.NoError(t, err)
	assert.Equal(t, 16, s.NumCells())
}

func TestInsert(t *testing.T) {
	s := newTestSet(t)

	c1, err := s.Insert(10, 10, stamp(), stamp())
	require.NoError(t, err)
	c2, err := s.Insert(80, 80, stamp(), stamp())
	require.NoError(t, err)

	assert.Equal(t, 0, c1.ID)
	assert.Equal(t, 1, c2.ID)
	assert.Equal(t, StatusUnknown, c1.Status)
	assert.Equal(t, 2, s.Len())

	got := s.ByID(1)
	require.NotNil(t, got)
	assert.InDelta(t, 80.0, got.X, 1e-12)
	assert.Nil(t, s.ByID(99))
}

func TestInsertValidation(t *testing.T) {
	s := newTestSet(t)

	_, err := s.Insert(200, 10, stamp(), stamp())
	assert.ErrorIs(t, err, kernel.ErrConfig)

	_, err = s.Insert(10, 10, stamp(), image.NewMaskedImage(9, 10))
	assert.ErrorIs(t, err, kernel.ErrConfig)
}

type recordingVisitor struct {
	ids []int
}

func (v *recordingVisitor) Visit(cand *Candidate) error {
	v.ids = append(v.ids, cand.ID)
	return nil
}

func TestVisitOrder(t *testing.T) {
	s := newTestSet(t)

	// Two candidates in the last cell, one in the first; grid order puts
	// the first cell's candidate before both of the last cell's, which
	// stay in insertion order.
	_, err := s.Insert(80, 80, stamp(), stamp())
	require.NoError(t, err)
	_, err = s.Insert(90, 90, stamp(), stamp())
	require.NoError(t, err)
	_, err = s.Insert(10, 10, stamp(), stamp())
	require.NoError(t, err)

	v := &recordingVisitor{}
	require.NoError(t, s.Visit(v, false))
	assert.Equal(t, []int{2, 0, 1}, v.ids)
}

func TestVisitSkipsBad(t *testing.T) {
	s := newTestSet(t)

	good, err := s.Insert(10, 10, stamp(), stamp())
	require.NoError(t, err)
	good.Status = StatusGood
	bad, err := s.Insert(20, 20, stamp(), stamp())
	require.NoError(t, err)
	bad.Status = StatusBad

	v := &recordingVisitor{}
	require.NoError(t, s.Visit(v, false))
	assert.Equal(t, []int{0}, v.ids)

	v = &recordingVisitor{}
	require.NoError(t, s.Visit(v, true))
	assert.Equal(t, []int{0, 1}, v.ids)

	assert.Len(t, s.Candidates(false), 1)
	assert.Len(t, s.Candidates(true), 2)
	assert.Equal(t, 1, s.CountGood())
}

func TestBadToGoodRoundTrip(t *testing.T) {
	// Rejection is reversible; flipping the status back restores the
	// candidate to visitation with nothing lost.
	s := newTestSet(t)
	c, err := s.Insert(10, 10, stamp(), stamp())
	require.NoError(t, err)

	c.Status = StatusBad
	assert.Empty(t, s.Candidates(false))

	c.Status = StatusGood
	got := s.Candidates(false)
	require.Len(t, got, 1)
	assert.Equal(t, c.ID, got[0].ID)
	assert.Same(t, c.TemplateStamp, got[0].TemplateStamp)
}

type failingVisitor struct{ after int }

func (v *failingVisitor) Visit(cand *Candidate) error {
	if cand.ID >= v.after {
		return assert.AnError
	}
	return nil
}

func TestVisitAbortsOnError(t *testing.T) {
	s := newTestSet(t)
	_, err := s.Insert(10, 10, stamp(), stamp())
	require.NoError(t, err)
	_, err = s.Insert(20, 20, stamp(), stamp())
	require.NoError(t, err)

	assert.ErrorIs(t, s.Visit(&failingVisitor{after: 0}, false), assert.AnError)
}
