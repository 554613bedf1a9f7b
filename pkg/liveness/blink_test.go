package liveness

import (
	"math"
	"testing"
)

// openEye and closedEye are idealized 6-point eye contours.
func openEye() []Point {
	return []Point{
		{0, 0}, {3, -2}, {7, -2}, {10, 0}, {7, 2}, {3, 2},
	}
}

func closedEye() []Point {
	return []Point{
		{0, 0}, {3, -0.4}, {7, -0.4}, {10, 0}, {7, 0.4}, {3, 0.4},
	}
}

func TestEyeAspectRatio(t *testing.T) {
	open := EyeAspectRatio(openEye())
	closed := EyeAspectRatio(closedEye())

	if open < 0.25 {
		t.Errorf("open eye EAR: got %f, want >= 0.25", open)
	}
	if closed > 0.1 {
		t.Errorf("closed eye EAR: got %f, want <= 0.1", closed)
	}
	if closed >= open {
		t.Errorf("closed EAR (%f) should be below open EAR (%f)", closed, open)
	}
}

func TestEyeAspectRatio_TooFewPoints(t *testing.T) {
	if ear := EyeAspectRatio([]Point{{0, 0}, {1, 1}}); ear != 0 {
		t.Errorf("short contour EAR: got %f, want 0", ear)
	}
}

func TestEyeAspectRatio_ZeroWidth(t *testing.T) {
	// All points coincident: the epsilon keeps the division finite.
	eye := make([]Point, 6)
	if ear := EyeAspectRatio(eye); math.IsNaN(ear) || math.IsInf(ear, 0) {
		t.Errorf("degenerate eye EAR not finite: %f", ear)
	}
}

func TestBlinkCounter(t *testing.T) {
	tests := []struct {
		name      string
		ears      []float64
		wantCount int
		satisfied bool
	}{
		{
			name:      "two clean blinks satisfy the check",
			ears:      []float64{0.3, 0.1, 0.1, 0.3, 0.1, 0.1, 0.3},
			wantCount: 2,
			satisfied: true,
		},
		{
			name:      "single-frame dip is noise, not a blink",
			ears:      []float64{0.3, 0.1, 0.3, 0.1, 0.3},
			wantCount: 0,
			satisfied: false,
		},
		{
			name:      "one blink is not enough",
			ears:      []float64{0.3, 0.1, 0.1, 0.3},
			wantCount: 1,
			satisfied: false,
		},
		{
			name:      "eyes held closed is one blink once reopened",
			ears:      []float64{0.3, 0.1, 0.1, 0.1, 0.1, 0.1, 0.3},
			wantCount: 1,
			satisfied: false,
		},
		{
			name:      "never closed",
			ears:      []float64{0.3, 0.31, 0.29, 0.3},
			wantCount: 0,
			satisfied: false,
		},
		{
			name:      "closed at end does not complete a blink",
			ears:      []float64{0.3, 0.1, 0.1},
			wantCount: 0,
			satisfied: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewBlinkCounter(0.21, 2)
			for _, ear := range tt.ears {
				c.Observe(ear)
			}

			if c.Count() != tt.wantCount {
				t.Errorf("count: got %d, want %d", c.Count(), tt.wantCount)
			}
			if c.Satisfied() != tt.satisfied {
				t.Errorf("satisfied: got %v, want %v", c.Satisfied(), tt.satisfied)
			}
		})
	}
}

func TestBlinkCounter_Reset(t *testing.T) {
	c := NewBlinkCounter(0.21, 1)
	for _, ear := range []float64{0.3, 0.1, 0.1, 0.3} {
		c.Observe(ear)
	}
	if !c.Satisfied() {
		t.Fatal("expected counter satisfied before reset")
	}

	c.Reset()
	if c.Count() != 0 || c.Satisfied() {
		t.Error("reset should clear blink state")
	}
}
