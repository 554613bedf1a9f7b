package imaging

import (
	"image"
	"math"
)

// HSVDiversity returns the average of the hue and saturation standard
// deviations over the region, with hue on the 0-179 scale and saturation
// on 0-255. Print and screen reproductions compress the color gamut, so
// low diversity is a spoof indicator.
func HSVDiversity(img image.Image) float64 {
	bounds := img.Bounds()
	n := bounds.Dx() * bounds.Dy()
	if n == 0 {
		return 0
	}

	hues := make([]float64, 0, n)
	sats := make([]float64, 0, n)

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r16, g16, b16, _ := img.At(x, y).RGBA()
			h, s := rgbToHueSat(float64(r16)/257.0, float64(g16)/257.0, float64(b16)/257.0)
			hues = append(hues, h)
			sats = append(sats, s)
		}
	}

	return (stdDev(hues) + stdDev(sats)) / 2.0
}

// rgbToHueSat converts 8-bit RGB to hue (0-179) and saturation (0-255).
func rgbToHueSat(r, g, b float64) (float64, float64) {
	max := math.Max(r, math.Max(g, b))
	min := math.Min(r, math.Min(g, b))
	delta := max - min

	var sat float64
	if max > 0 {
		sat = 255 * delta / max
	}

	if delta == 0 {
		return 0, sat
	}

	var hue float64
	switch max {
	case r:
		hue = 60 * (g - b) / delta
	case g:
		hue = 120 + 60*(b-r)/delta
	default:
		hue = 240 + 60*(r-g)/delta
	}
	if hue < 0 {
		hue += 360
	}
	return hue / 2.0, sat
}

// MeanLABB returns the mean of the 8-bit CIELAB b channel (b* + 128).
// Backlit panels shift the mean toward blue, which shows up here.
func MeanLABB(img image.Image) float64 {
	bounds := img.Bounds()
	n := bounds.Dx() * bounds.Dy()
	if n == 0 {
		return 0
	}

	var sum float64
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r16, g16, b16, _ := img.At(x, y).RGBA()
			sum += labB(float64(r16)/65535.0, float64(g16)/65535.0, float64(b16)/65535.0)
		}
	}
	return sum / float64(n)
}

// labB converts linear-scale sRGB components in [0, 1] to the 8-bit
// CIELAB b channel under D65.
func labB(r, g, b float64) float64 {
	rl := srgbLinear(r)
	gl := srgbLinear(g)
	bl := srgbLinear(b)

	// sRGB to XYZ (D65)
	y := 0.2126729*rl + 0.7151522*gl + 0.0721750*bl
	z := 0.0193339*rl + 0.1191920*gl + 0.9503041*bl

	// Normalize by the D65 white point.
	fy := labF(y / 1.0)
	fz := labF(z / 1.08883)

	bStar := 200 * (fy - fz)
	return bStar + 128
}

func srgbLinear(c float64) float64 {
	if c <= 0.04045 {
		return c / 12.92
	}
	return math.Pow((c+0.055)/1.055, 2.4)
}

func labF(t float64) float64 {
	const delta = 6.0 / 29.0
	if t > delta*delta*delta {
		return math.Cbrt(t)
	}
	return t/(3*delta*delta) + 4.0/29.0
}

func stdDev(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	mean := sum / float64(len(vals))

	var sumSq float64
	for _, v := range vals {
		d := v - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(vals)))
}
