package geometry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRectIntContains(t *testing.T) {
	r := NewRectInt(2, 3, 10, 5)

	assert.True(t, r.Contains(2, 3))
	assert.True(t, r.Contains(11, 7))
	assert.False(t, r.Contains(12, 7), "right edge is exclusive")
	assert.False(t, r.Contains(11, 8), "bottom edge is exclusive")
	assert.False(t, r.Contains(1, 3))
}

func TestRectIntIntersect(t *testing.T) {
	a := NewRectInt(0, 0, 10, 10)
	b := NewRectInt(5, 5, 10, 10)

	got := a.Intersect(b)
	assert.Equal(t, NewRectInt(5, 5, 5, 5), got)
	assert.True(t, a.Intersects(b))

	c := NewRectInt(20, 20, 3, 3)
	assert.False(t, a.Intersects(c))
	assert.Equal(t, 0, a.Intersect(c).Area())
}

func TestRectIntGrowInset(t *testing.T) {
	r := NewRectInt(5, 5, 10, 10)

	assert.Equal(t, NewRectInt(3, 3, 14, 14), r.Grow(2))
	assert.Equal(t, NewRectInt(7, 7, 6, 6), r.Inset(2))
	assert.Equal(t, r, r.Grow(2).Inset(2))
}

func TestRectIntCenter(t *testing.T) {
	r := NewRectInt(0, 0, 11, 11)
	c := r.Center()
	assert.InDelta(t, 5.5, c.X, 1e-12)
	assert.InDelta(t, 5.5, c.Y, 1e-12)
}

func TestPoint2DDistance(t *testing.T) {
	a := Point2D{X: 0, Y: 0}
	b := Point2D{X: 3, Y: 4}
	assert.InDelta(t, 5.0, a.Distance(b), 1e-12)
}
