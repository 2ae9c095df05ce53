package melspec

// resizeBilinear resizes a (rows × cols) matrix to (outH × outW) with
// bilinear interpolation.
func resizeBilinear(src [][]float64, outH, outW int) [][]float64 {
	inH := len(src)
	inW := len(src[0])

	out := make([][]float64, outH)
	scaleY := float64(inH-1) / float64(max(outH-1, 1))
	scaleX := float64(inW-1) / float64(max(outW-1, 1))

	for y := range outH {
		row := make([]float64, outW)
		sy := float64(y) * scaleY
		y0 := int(sy)
		y1 := min(y0+1, inH-1)
		fy := sy - float64(y0)

		for x := range outW {
			sx := float64(x) * scaleX
			x0 := int(sx)
			x1 := min(x0+1, inW-1)
			fx := sx - float64(x0)

			top := src[y0][x0]*(1-fx) + src[y0][x1]*fx
			bot := src[y1][x0]*(1-fx) + src[y1][x1]*fx
			row[x] = top*(1-fy) + bot*fy
		}
		out[y] = row
	}
	return out
}

// epsilon keeps the min-max denominator non-zero on flat input.
const epsilon = 1e-10

// normalizeMinMax rescales the matrix to [0, 1] in place.
func normalizeMinMax(m [][]float64) {
	lo, hi := m[0][0], m[0][0]
	for _, row := range m {
		for _, v := range row {
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
	}
	span := hi - lo + epsilon
	for _, row := range m {
		for i, v := range row {
			row[i] = (v - lo) / span
		}
	}
}

// replicate packs the single-channel matrix into a Tensor, duplicating
// the plane across the requested channel count.
func replicate(plane [][]float64, channels int) *Tensor {
	h := len(plane)
	w := len(plane[0])
	t := &Tensor{
		Data:     make([]float32, h*w*channels),
		Height:   h,
		Width:    w,
		Channels: channels,
	}
	for y, row := range plane {
		for x, v := range row {
			base := (y*w + x) * channels
			f := float32(v)
			for c := range channels {
				t.Data[base+c] = f
			}
		}
	}
	return t
}
