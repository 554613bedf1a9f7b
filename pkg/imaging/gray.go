// Package imaging provides the pixel-level signal extractors used by the
// liveness and emotion analyzers. All functions are pure and operate on
// plain image.Image regions; conversions follow the 8-bit OpenCV
// conventions so the numeric thresholds used elsewhere carry over.
package imaging

import (
	"image"
	"math"
)

// Gray holds a grayscale plane as float64 intensities in [0, 255].
type Gray struct {
	Pix    []float64
	Width  int
	Height int
}

// ToGray converts an image region to a grayscale plane using the
// BT.601 luma weights (0.299 R + 0.587 G + 0.114 B).
func ToGray(img image.Image) *Gray {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	g := &Gray{
		Pix:    make([]float64, w*h),
		Width:  w,
		Height: h,
	}

	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, gr, b, _ := img.At(x, y).RGBA()
			g.Pix[i] = (0.299*float64(r) + 0.587*float64(gr) + 0.114*float64(b)) / 257.0
			i++
		}
	}
	return g
}

func (g *Gray) at(x, y int) float64 {
	return g.Pix[y*g.Width+x]
}

// Mean returns the mean intensity.
func (g *Gray) Mean() float64 {
	if len(g.Pix) == 0 {
		return 0
	}
	var sum float64
	for _, v := range g.Pix {
		sum += v
	}
	return sum / float64(len(g.Pix))
}

// StdDev returns the standard deviation of intensities.
func (g *Gray) StdDev() float64 {
	if len(g.Pix) == 0 {
		return 0
	}
	mean := g.Mean()
	var sumSq float64
	for _, v := range g.Pix {
		d := v - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(g.Pix)))
}

// FractionAbove returns the fraction of pixels strictly brighter than level.
func (g *Gray) FractionAbove(level float64) float64 {
	if len(g.Pix) == 0 {
		return 0
	}
	count := 0
	for _, v := range g.Pix {
		if v > level {
			count++
		}
	}
	return float64(count) / float64(len(g.Pix))
}

// LaplacianVariance returns the variance of the 4-neighbor Laplacian
// response. Live skin keeps high-frequency micro-texture that printed or
// replayed reproductions lose, so low variance indicates a flat surface.
func (g *Gray) LaplacianVariance() float64 {
	if g.Width < 3 || g.Height < 3 {
		return 0
	}

	n := (g.Width - 2) * (g.Height - 2)
	responses := make([]float64, 0, n)

	var sum float64
	for y := 1; y < g.Height-1; y++ {
		for x := 1; x < g.Width-1; x++ {
			lap := g.at(x-1, y) + g.at(x+1, y) + g.at(x, y-1) + g.at(x, y+1) - 4*g.at(x, y)
			responses = append(responses, lap)
			sum += lap
		}
	}

	mean := sum / float64(n)
	var sumSq float64
	for _, v := range responses {
		d := v - mean
		sumSq += d * d
	}
	return sumSq / float64(n)
}

// sobel returns the gradient magnitude at (x, y) using 3x3 Sobel kernels.
func (g *Gray) sobel(x, y int) float64 {
	gx := -g.at(x-1, y-1) + g.at(x+1, y-1) +
		-2*g.at(x-1, y) + 2*g.at(x+1, y) +
		-g.at(x-1, y+1) + g.at(x+1, y+1)
	gy := -g.at(x-1, y-1) - 2*g.at(x, y-1) - g.at(x+1, y-1) +
		g.at(x-1, y+1) + 2*g.at(x, y+1) + g.at(x+1, y+1)
	return math.Sqrt(gx*gx + gy*gy)
}

// EdgeDensity returns the fraction of interior pixels whose Sobel gradient
// magnitude exceeds threshold. Backlit panels and pixel grids produce many
// sharp edges, pushing the density up.
func (g *Gray) EdgeDensity(threshold float64) float64 {
	if g.Width < 3 || g.Height < 3 {
		return 0
	}

	count := 0
	total := 0
	for y := 1; y < g.Height-1; y++ {
		for x := 1; x < g.Width-1; x++ {
			if g.sobel(x, y) > threshold {
				count++
			}
			total++
		}
	}
	return float64(count) / float64(total)
}

// MeanGradient returns the mean Sobel gradient magnitude over the interior.
func (g *Gray) MeanGradient() float64 {
	if g.Width < 3 || g.Height < 3 {
		return 0
	}

	var sum float64
	total := 0
	for y := 1; y < g.Height-1; y++ {
		for x := 1; x < g.Width-1; x++ {
			sum += g.sobel(x, y)
			total++
		}
	}
	return sum / float64(total)
}
