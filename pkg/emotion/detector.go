// Package emotion provides heuristic emotion classification and
// engagement scoring for attendance analytics. The classifier is a fixed
// rule table over cheap image features, not a trained model; it feeds the
// engagement figure attached to attendance records.
package emotion

import (
	"image"
	"math"

	"github.com/secureattend/secureattend/pkg/imaging"
)

// Label is an emotion class.
type Label string

const (
	Neutral  Label = "Neutral"
	Happy    Label = "Happy"
	Sad      Label = "Sad"
	Surprise Label = "Surprise"
	Anger    Label = "Anger"
	Fear     Label = "Fear"
)

// Labels lists all classes in canonical order.
var Labels = []Label{Neutral, Happy, Sad, Surprise, Anger, Fear}

var engagedLabels = map[Label]bool{Happy: true, Surprise: true}
var disengagedLabels = map[Label]bool{Sad: true, Anger: true, Fear: true}

// edgeGradientThreshold is the Sobel magnitude above which a pixel counts
// as an edge for expression analysis.
const edgeGradientThreshold = 150.0

// Features are the scalar signals the classifier works from.
type Features struct {
	Brightness  float64
	Contrast    float64
	EdgeDensity float64
	Gradient    float64
}

// ExtractFeatures computes classifier features for a face region.
func ExtractFeatures(region image.Image) Features {
	g := imaging.ToGray(region)
	return Features{
		Brightness:  g.Mean(),
		Contrast:    g.StdDev(),
		EdgeDensity: g.EdgeDensity(edgeGradientThreshold),
		Gradient:    g.MeanGradient(),
	}
}

// rule is one entry of the ordered classification table. Rules are
// evaluated top to bottom; the first match wins, which fixes the
// tie-break priority Happy > Sad > Surprise > Anger > Fear.
type rule struct {
	label      Label
	confidence float64
	match      func(Features) bool
}

var rules = []rule{
	{Happy, 0.75, func(f Features) bool {
		return f.Brightness > 130 && f.Contrast > 40 && f.EdgeDensity > 0.08 && f.EdgeDensity < 0.15
	}},
	{Sad, 0.65, func(f Features) bool {
		return f.Brightness < 90 && f.EdgeDensity < 0.08
	}},
	{Surprise, 0.70, func(f Features) bool {
		return f.Contrast > 60 && f.EdgeDensity > 0.15
	}},
	{Anger, 0.65, func(f Features) bool {
		return f.EdgeDensity > 0.20 && f.Brightness > 90 && f.Brightness < 130
	}},
	{Fear, 0.60, func(f Features) bool {
		return f.Gradient > 30 && f.EdgeDensity > 0.18
	}},
}

// Classify maps features to an emotion label and a confidence.
func Classify(f Features) (Label, float64) {
	for _, r := range rules {
		if r.match(f) {
			return r.label, r.confidence
		}
	}
	return Neutral, 0.80
}

// Detector keeps a single shared rolling window of emitted labels. The
// window is intentionally not per-identity: engagement is tracked for the
// room, mixing whoever is in frame.
type Detector struct {
	history []Label
	size    int
}

// NewDetector creates a detector with the given rolling window size.
func NewDetector(historySize int) *Detector {
	if historySize <= 0 {
		historySize = 30
	}
	return &Detector{
		history: make([]Label, 0, historySize),
		size:    historySize,
	}
}

// Observe classifies a face region and appends the label to the window.
func (d *Detector) Observe(region image.Image) (Label, float64) {
	label, conf := Classify(ExtractFeatures(region))
	d.push(label)
	return label, conf
}

func (d *Detector) push(label Label) {
	if len(d.history) == d.size {
		copy(d.history, d.history[1:])
		d.history = d.history[:d.size-1]
	}
	d.history = append(d.history, label)
}

// EngagementScore maps the label window to a 0-100 engagement figure.
// Happy and Surprise count as engaged; Sad, Anger and Fear count against
// at half weight. An empty window scores the neutral 50.
func (d *Detector) EngagementScore() float64 {
	if len(d.history) == 0 {
		return 50.0
	}

	engaged, disengaged := 0, 0
	for _, label := range d.history {
		if engagedLabels[label] {
			engaged++
		} else if disengagedLabels[label] {
			disengaged++
		}
	}

	ratio := (float64(engaged) - 0.5*float64(disengaged)) / float64(len(d.history))
	score := 50 + ratio*50
	score = math.Max(0, math.Min(100, score))

	return math.Round(score*100) / 100
}

// DominantEmotion returns the most frequent label in the window, Neutral
// when empty. Ties resolve in canonical label order.
func (d *Detector) DominantEmotion() Label {
	if len(d.history) == 0 {
		return Neutral
	}

	counts := make(map[Label]int, len(Labels))
	for _, label := range d.history {
		counts[label]++
	}

	best := Neutral
	bestCount := -1
	for _, label := range Labels {
		if counts[label] > bestCount {
			best = label
			bestCount = counts[label]
		}
	}
	return best
}

// Distribution returns the percentage share of each label in the window.
func (d *Detector) Distribution() map[Label]float64 {
	dist := make(map[Label]float64, len(Labels))
	if len(d.history) == 0 {
		return dist
	}

	counts := make(map[Label]int, len(Labels))
	for _, label := range d.history {
		counts[label]++
	}
	total := float64(len(d.history))
	for _, label := range Labels {
		dist[label] = math.Round(float64(counts[label])/total*1000) / 10
	}
	return dist
}

// Trend compares engaged counts in the two halves of the window.
func (d *Detector) Trend() string {
	if len(d.history) < 10 {
		return "insufficient_data"
	}

	mid := len(d.history) / 2
	first, second := 0, 0
	for i, label := range d.history {
		if !engagedLabels[label] {
			continue
		}
		if i < mid {
			first++
		} else {
			second++
		}
	}

	switch diff := second - first; {
	case diff > 2:
		return "improving"
	case diff < -2:
		return "declining"
	default:
		return "stable"
	}
}

// History returns a copy of the current label window.
func (d *Detector) History() []Label {
	out := make([]Label, len(d.history))
	copy(out, d.history)
	return out
}

// Reset clears the window.
func (d *Detector) Reset() {
	d.history = d.history[:0]
}
