//go:build !gocv

package convolve

import (
	"diffim/internal/image"
	"diffim/internal/kernel"
)

func applyBackend(in *image.Image, k *kernel.Kernel) *image.Image {
	w, h := in.Width(), in.Height()
	kw, kh := k.Width(), k.Height()
	ctrX, ctrY := k.CtrX(), k.CtrY()
	out := image.NewImage(w, h)

	y0 := ctrY
	y1 := h - (kh - 1 - ctrY)
	x0 := ctrX
	x1 := w - (kw - 1 - ctrX)
	if y1 <= y0 || x1 <= x0 {
		return out
	}

	kdata := k.Data()
	for y := y0; y < y1; y++ {
		outRow := out.Row(y)
		for ky := 0; ky < kh; ky++ {
			inRow := in.Row(y + ky - ctrY)
			krow := kdata[ky*kw : (ky+1)*kw]
			for x := x0; x < x1; x++ {
				var s float64
				base := x - ctrX
				for kx, kv := range krow {
					s += kv * inRow[base+kx]
				}
				outRow[x] += s
			}
		}
	}
	return out
}
