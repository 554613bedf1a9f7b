// Package liveness provides presentation-attack detection for face regions.
// It fuses several hand-engineered frame signals into a single per-frame
// verdict: live human or spoofing artifact (printed photo, screen replay,
// mask).
package liveness

import (
	"image"
	"image/draw"
	"math"

	"github.com/secureattend/secureattend/pkg/config"
	"github.com/secureattend/secureattend/pkg/imaging"
	"github.com/secureattend/secureattend/pkg/logging"
)

// MinRegionSize is the minimum width and height in pixels a face region
// must have for analysis. Smaller regions are treated as spoofs outright:
// a face that small in frame is most consistent with a held-up photo.
const MinRegionSize = 80

// Fusion weights for the five signals.
const (
	weightTexture    = 0.35
	weightColor      = 0.25
	weightFrequency  = 0.20
	weightScreen     = 0.15
	weightReflection = 0.05
)

// Saturation divisors mapping raw signals to confidences in [0, 1].
const (
	textureSaturation   = 50.0
	colorSaturation     = 30.0
	frequencySaturation = 1500.0
)

// Screen-artifact heuristic thresholds.
const (
	screenBlueMean    = 130.0
	screenLumaStd     = 20.0
	screenEdgeDensity = 0.25
	screenEdgeGrad    = 200.0
	glareLevel        = 240.0
)

// Signals holds the raw per-region spoof signals. The five fields are
// always computed together; a missing or undersized region yields the
// zero value and a forced spoof verdict.
type Signals struct {
	TextureScore     float64
	ColorDiversity   float64
	FrequencyScore   float64
	IsScreenArtifact bool
	ReflectionScore  float64
}

// Verdict is the per-frame liveness decision for one face region.
type Verdict struct {
	Score  float64
	IsLive bool
}

// Scorer fuses frame signals into liveness verdicts. It is stateless per
// call and safe for concurrent use.
type Scorer struct {
	threshold      float64
	textureFloor   float64
	colorFloor     float64
	frequencyFloor float64
}

// NewScorer creates a Scorer from the liveness configuration.
func NewScorer(cfg config.LivenessConfig) *Scorer {
	return &Scorer{
		threshold:      cfg.Threshold,
		textureFloor:   cfg.TextureThreshold,
		colorFloor:     cfg.ColorDiversityThreshold,
		frequencyFloor: cfg.FrequencyThreshold,
	}
}

// screenRule is one trigger of the disjunctive screen heuristic. Any
// single rule firing flags the region as a screen reproduction.
type screenRule struct {
	name string
	hit  func(img image.Image, g *imaging.Gray) bool
}

var screenRules = []screenRule{
	{"blue_cast", func(img image.Image, g *imaging.Gray) bool {
		return imaging.MeanLABB(img) > screenBlueMean
	}},
	{"uniform_backlight", func(img image.Image, g *imaging.Gray) bool {
		return g.StdDev() < screenLumaStd
	}},
	{"pixel_grid", func(img image.Image, g *imaging.Gray) bool {
		return g.EdgeDensity(screenEdgeGrad) > screenEdgeDensity
	}},
}

// detectScreen evaluates the screen rules in order and reports the first
// that fires.
func detectScreen(img image.Image, g *imaging.Gray) bool {
	for _, rule := range screenRules {
		if rule.hit(img, g) {
			logging.Component("liveness").Debugf("screen artifact: %s", rule.name)
			return true
		}
	}
	return false
}

// ExtractSignals computes all five spoof signals for a face region.
func ExtractSignals(region image.Image) Signals {
	g := imaging.ToGray(region)
	return Signals{
		TextureScore:     g.LaplacianVariance(),
		ColorDiversity:   imaging.HSVDiversity(region),
		FrequencyScore:   imaging.HighFreqEnergy(g),
		IsScreenArtifact: detectScreen(region, g),
		ReflectionScore:  1.0 - 10.0*g.FractionAbove(glareLevel),
	}
}

// Score evaluates liveness for the face bounding box within frame.
// The box is clamped to the frame bounds first; empty, inverted, or
// undersized regions are hard spoof rejects and skip signal extraction.
func (s *Scorer) Score(frame image.Image, box image.Rectangle) (Verdict, Signals) {
	region := box.Intersect(frame.Bounds())
	if region.Empty() || region.Dx() < MinRegionSize || region.Dy() < MinRegionSize {
		return Verdict{Score: 0.0, IsLive: false}, Signals{}
	}

	sig := ExtractSignals(crop(frame, region))
	verdict := s.Fuse(sig)

	logging.Component("liveness").WithFields(logging.Fields{
		"score":   verdict.Score,
		"texture": sig.TextureScore,
		"color":   sig.ColorDiversity,
		"freq":    sig.FrequencyScore,
		"screen":  sig.IsScreenArtifact,
		"live":    verdict.IsLive,
	}).Debug("frame scored")

	return verdict, sig
}

// Fuse maps raw signals to confidences, combines them with the fixed
// weights, and applies the suspicious-pattern penalty before thresholding.
func (s *Scorer) Fuse(sig Signals) Verdict {
	textureConf := math.Min(sig.TextureScore/textureSaturation, 1.0)
	colorConf := math.Min(sig.ColorDiversity/colorSaturation, 1.0)
	freqConf := math.Min(sig.FrequencyScore/frequencySaturation, 1.0)
	screenConf := 1.0
	if sig.IsScreenArtifact {
		screenConf = 0.0
	}

	score := textureConf*weightTexture +
		colorConf*weightColor +
		freqConf*weightFrequency +
		screenConf*weightScreen +
		sig.ReflectionScore*weightReflection

	// A flagged screen, or simultaneously flat texture and narrow color
	// range, halves the fused score. The penalty applies once even when
	// both conditions hold.
	if sig.IsScreenArtifact || (sig.TextureScore < 20 && sig.ColorDiversity < 12) {
		score *= 0.5
	}

	score = math.Round(score*1000) / 1000
	return Verdict{
		Score:  score,
		IsLive: score >= s.threshold,
	}
}

// crop extracts the region as its own image. Standard image types expose
// SubImage; anything else is copied.
func crop(img image.Image, r image.Rectangle) image.Image {
	type subImager interface {
		SubImage(r image.Rectangle) image.Image
	}
	if si, ok := img.(subImager); ok {
		return si.SubImage(r)
	}

	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), img, r.Min, draw.Src)
	return dst
}
