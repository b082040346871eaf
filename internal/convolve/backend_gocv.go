//go:build gocv

package convolve

import (
	stdimage "image"

	"gocv.io/x/gocv"

	"diffim/internal/image"
	"diffim/internal/kernel"
)

func applyBackend(in *image.Image, k *kernel.Kernel) *image.Image {
	w, h := in.Width(), in.Height()
	kw, kh := k.Width(), k.Height()

	src := gocv.NewMatWithSize(h, w, gocv.MatTypeCV64F)
	defer src.Close()
	for y := 0; y < h; y++ {
		row := in.Row(y)
		for x := 0; x < w; x++ {
			src.SetDoubleAt(y, x, row[x])
		}
	}

	kmat := gocv.NewMatWithSize(kh, kw, gocv.MatTypeCV64F)
	defer kmat.Close()
	for ky := 0; ky < kh; ky++ {
		for kx := 0; kx < kw; kx++ {
			kmat.SetDoubleAt(ky, kx, k.At(kx, ky))
		}
	}

	dst := gocv.NewMat()
	defer dst.Close()
	anchor := stdimage.Pt(k.CtrX(), k.CtrY())
	gocv.Filter2D(src, &dst, gocv.MatTypeCV64F, kmat, anchor, 0, gocv.BorderConstant)

	out := image.NewImage(w, h)
	for y := 0; y < h; y++ {
		row := out.Row(y)
		for x := 0; x < w; x++ {
			row[x] = dst.GetDoubleAt(y, x)
		}
	}

	// Filter2D fills the border by extension rules; zero the pixels whose
	// footprint ran off the input so both backends agree.
	valid := ValidBounds(in.Bounds(), k)
	for y := 0; y < h; y++ {
		row := out.Row(y)
		for x := 0; x < w; x++ {
			if !valid.Contains(x, y) {
				row[x] = 0
			}
		}
	}
	return out
}
