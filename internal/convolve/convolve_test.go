package convolve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"diffim/internal/image"
	"diffim/internal/kernel"
	"diffim/pkg/geometry"
)

func TestApplyIdentity(t *testing.T) {
	in := image.NewImage(7, 7)
	for y := 0; y < 7; y++ {
		for x := 0; x < 7; x++ {
			in.Set(x, y, float64(y*7+x))
		}
	}
	id, _ := kernel.New(3, 3)
	id.Set(1, 1, 1.0)

	out := Apply(in, id)
	valid := ValidBounds(in.Bounds(), id)
	for y := valid.Y; y < valid.Y+valid.Height; y++ {
		for x := valid.X; x < valid.X+valid.Width; x++ {
			assert.InDelta(t, in.At(x, y), out.At(x, y), 1e-12, "(%d,%d)", x, y)
		}
	}
}

func TestApplyOffsetImpulse(t *testing.T) {
	// A unit impulse one pixel right of center shifts the image one
	// pixel left: out(x) = in(x+1).
	in := image.NewImage(9, 9)
	in.Set(5, 4, 2.0)

	k, _ := kernel.New(3, 3)
	k.Set(2, 1, 1.0)

	out := Apply(in, k)
	assert.InDelta(t, 2.0, out.At(4, 4), 1e-12)
	assert.InDelta(t, 0.0, out.At(5, 4), 1e-12)
}

func TestApplyBoxSum(t *testing.T) {
	in := image.NewImage(5, 5)
	in.Fill(2.0)

	box, _ := kernel.New(3, 3)
	for i := range box.Data() {
		box.Data()[i] = 1.0
	}

	out := Apply(in, box)
	// Interior pixels see the full 9-pixel footprint.
	assert.InDelta(t, 18.0, out.At(2, 2), 1e-12)
	// Pixels whose footprint leaves the image stay zero.
	assert.InDelta(t, 0.0, out.At(0, 0), 1e-12)
	assert.InDelta(t, 0.0, out.At(4, 4), 1e-12)
}

func TestApplyKernelLargerThanImage(t *testing.T) {
	in := image.NewImage(3, 3)
	in.Fill(1.0)
	k, _ := kernel.New(5, 5)
	k.Set(2, 2, 1.0)

	out := Apply(in, k)
	require.Equal(t, 3, out.Width())
	assert.InDelta(t, 0.0, out.Sum(), 1e-12)
}

func TestValidBounds(t *testing.T) {
	k, _ := kernel.New(5, 3)
	got := ValidBounds(geometry.NewRectInt(0, 0, 20, 10), k)
	assert.Equal(t, geometry.NewRectInt(2, 1, 16, 8), got)

	// Offset parent bounds shift the valid region with them.
	got = ValidBounds(geometry.NewRectInt(100, 50, 20, 10), k)
	assert.Equal(t, geometry.NewRectInt(102, 51, 16, 8), got)
}
