package imaging

import "math"

// lowFreqBand is the half-width of the central low-frequency block that is
// zeroed out before averaging the spectrum.
const lowFreqBand = 30

// HighFreqEnergy computes the mean magnitude of the 2-D DFT spectrum after
// zeroing the central 60x60 low-frequency block. Print and screen
// reproductions attenuate spatial-frequency bands in ways live capture
// does not. The plane is zero-padded to power-of-two dimensions for the
// transform; the mean is taken over the padded grid.
func HighFreqEnergy(g *Gray) float64 {
	if g.Width == 0 || g.Height == 0 {
		return 0
	}

	w := nextPow2(g.Width)
	h := nextPow2(g.Height)

	// Row-major complex plane, zero padded.
	re := make([]float64, w*h)
	im := make([]float64, w*h)
	for y := 0; y < g.Height; y++ {
		copy(re[y*w:y*w+g.Width], g.Pix[y*g.Width:(y+1)*g.Width])
	}

	// Transform rows, then columns.
	for y := 0; y < h; y++ {
		fft(re[y*w:(y+1)*w], im[y*w:(y+1)*w])
	}
	colRe := make([]float64, h)
	colIm := make([]float64, h)
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			colRe[y] = re[y*w+x]
			colIm[y] = im[y*w+x]
		}
		fft(colRe, colIm)
		for y := 0; y < h; y++ {
			re[y*w+x] = colRe[y]
			im[y*w+x] = colIm[y]
		}
	}

	// Mean magnitude with the low-frequency block excluded. In unshifted
	// coordinates the central block corresponds to small wrapped distance
	// from DC in both dimensions.
	var sum float64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if wrapDist(y, h) < lowFreqBand && wrapDist(x, w) < lowFreqBand {
				continue
			}
			r := re[y*w+x]
			i := im[y*w+x]
			sum += math.Sqrt(r*r + i*i)
		}
	}
	return sum / float64(w*h)
}

// wrapDist returns the circular distance of frequency index i from DC.
func wrapDist(i, n int) int {
	if i > n/2 {
		return n - i
	}
	return i
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// fft performs an in-place radix-2 Cooley-Tukey transform. len(re) must be
// a power of two.
func fft(re, im []float64) {
	n := len(re)
	if n < 2 {
		return
	}

	// Bit-reversal permutation.
	for i, j := 1, 0; i < n; i++ {
		bit := n >> 1
		for ; j&bit != 0; bit >>= 1 {
			j ^= bit
		}
		j ^= bit
		if i < j {
			re[i], re[j] = re[j], re[i]
			im[i], im[j] = im[j], im[i]
		}
	}

	for size := 2; size <= n; size <<= 1 {
		half := size / 2
		angle := -2 * math.Pi / float64(size)
		wRe := math.Cos(angle)
		wIm := math.Sin(angle)

		for start := 0; start < n; start += size {
			curRe, curIm := 1.0, 0.0
			for k := 0; k < half; k++ {
				i := start + k
				j := i + half

				tRe := re[j]*curRe - im[j]*curIm
				tIm := re[j]*curIm + im[j]*curRe

				re[j] = re[i] - tRe
				im[j] = im[i] - tIm
				re[i] += tRe
				im[i] += tIm

				curRe, curIm = curRe*wRe-curIm*wIm, curRe*wIm+curIm*wRe
			}
		}
	}
}
