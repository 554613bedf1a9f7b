package liveness

import "math"

// Point is a 2-D landmark coordinate.
type Point struct {
	X, Y float64
}

// EyeAspectRatio computes the EAR for a 6-point eye contour, after
// Soukupova & Cech, "Real-Time Eye Blink Detection using Facial
// Landmarks" (2016). Open eyes sit around 0.3; a closed eye drops well
// below the blink threshold.
func EyeAspectRatio(eye []Point) float64 {
	if len(eye) < 6 {
		return 0
	}

	a := dist(eye[1], eye[5])
	b := dist(eye[2], eye[4])
	c := dist(eye[0], eye[3])

	return (a + b) / (2.0*c + 1e-6)
}

func dist(p, q Point) float64 {
	dx := p.X - q.X
	dy := p.Y - q.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// BlinkCounter accumulates blinks across a frame sequence. A blink is one
// run of at least two consecutive frames below the EAR threshold followed
// by a frame above it.
type BlinkCounter struct {
	threshold float64
	minBlinks int

	lowFrames int
	total     int
}

// NewBlinkCounter creates a counter with the given EAR threshold and the
// number of blinks required to satisfy the check.
func NewBlinkCounter(threshold float64, minBlinks int) *BlinkCounter {
	return &BlinkCounter{
		threshold: threshold,
		minBlinks: minBlinks,
	}
}

// Observe records one frame's EAR and reports whether enough blinks have
// been seen.
func (b *BlinkCounter) Observe(ear float64) bool {
	if ear < b.threshold {
		b.lowFrames++
	} else {
		if b.lowFrames >= 2 {
			b.total++
		}
		b.lowFrames = 0
	}
	return b.total >= b.minBlinks
}

// Count returns the number of completed blinks.
func (b *BlinkCounter) Count() int {
	return b.total
}

// Satisfied reports whether the minimum blink count has been reached.
func (b *BlinkCounter) Satisfied() bool {
	return b.total >= b.minBlinks
}

// Reset clears all counters.
func (b *BlinkCounter) Reset() {
	b.lowFrames = 0
	b.total = 0
}
