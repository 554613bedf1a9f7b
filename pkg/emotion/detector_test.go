package emotion

import (
	"image"
	"image/color"
	"testing"
)

func regionOf(v uint8) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, color.RGBA{v, v, v, 255})
		}
	}
	return img
}

func seeded(labels ...Label) *Detector {
	d := NewDetector(30)
	for _, l := range labels {
		d.push(l)
	}
	return d
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		features Features
		want     Label
		wantConf float64
	}{
		{
			name:     "bright contrasty moderate edges is happy",
			features: Features{Brightness: 150, Contrast: 50, EdgeDensity: 0.10},
			want:     Happy,
			wantConf: 0.75,
		},
		{
			name:     "dark and flat is sad",
			features: Features{Brightness: 70, Contrast: 20, EdgeDensity: 0.03},
			want:     Sad,
			wantConf: 0.65,
		},
		{
			name:     "high contrast many edges is surprise",
			features: Features{Brightness: 110, Contrast: 70, EdgeDensity: 0.17},
			want:     Surprise,
			wantConf: 0.70,
		},
		{
			name:     "mid brightness dense edges is anger",
			features: Features{Brightness: 110, Contrast: 50, EdgeDensity: 0.22},
			want:     Anger,
			wantConf: 0.65,
		},
		{
			name:     "strong gradient dense edges is fear",
			features: Features{Brightness: 140, Contrast: 30, EdgeDensity: 0.19, Gradient: 35},
			want:     Fear,
			wantConf: 0.60,
		},
		{
			name:     "nothing distinctive is neutral",
			features: Features{Brightness: 110, Contrast: 20, EdgeDensity: 0.05},
			want:     Neutral,
			wantConf: 0.80,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			label, conf := Classify(tt.features)
			if label != tt.want {
				t.Errorf("label: got %s, want %s", label, tt.want)
			}
			if conf != tt.wantConf {
				t.Errorf("confidence: got %f, want %f", conf, tt.wantConf)
			}
		})
	}
}

func TestClassify_PriorityOrder(t *testing.T) {
	// Features satisfying both the surprise and anger conditions resolve
	// to surprise, the earlier rule.
	f := Features{Brightness: 110, Contrast: 70, EdgeDensity: 0.22}
	if label, _ := Classify(f); label != Surprise {
		t.Errorf("overlapping rules: got %s, want %s", label, Surprise)
	}
}

func TestExtractFeatures(t *testing.T) {
	f := ExtractFeatures(regionOf(110))
	if f.Brightness < 105 || f.Brightness > 115 {
		t.Errorf("brightness: got %f, want ~110", f.Brightness)
	}
	if f.Contrast > 1 {
		t.Errorf("flat region contrast: got %f, want ~0", f.Contrast)
	}
	if f.EdgeDensity != 0 {
		t.Errorf("flat region edge density: got %f, want 0", f.EdgeDensity)
	}
}

func TestDetector_Observe(t *testing.T) {
	d := NewDetector(30)

	// A dark flat region classifies as sad; a mid-gray one as neutral.
	if label, _ := d.Observe(regionOf(60)); label != Sad {
		t.Errorf("dark region: got %s, want %s", label, Sad)
	}
	if label, _ := d.Observe(regionOf(110)); label != Neutral {
		t.Errorf("mid region: got %s, want %s", label, Neutral)
	}
	if len(d.History()) != 2 {
		t.Errorf("history length: got %d, want 2", len(d.History()))
	}
}

func TestDetector_EngagementScore(t *testing.T) {
	tests := []struct {
		name   string
		labels []Label
		want   float64
	}{
		{"empty window is neutral", nil, 50.0},
		{"two engaged one disengaged", []Label{Happy, Happy, Sad}, 75.0},
		{"all engaged", []Label{Happy, Surprise, Happy, Surprise}, 100.0},
		{"all disengaged", []Label{Sad, Anger, Fear, Sad}, 25.0},
		{"all neutral", []Label{Neutral, Neutral, Neutral}, 50.0},
		{"mixed", []Label{Happy, Neutral, Sad, Neutral}, 56.25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := seeded(tt.labels...)
			if got := d.EngagementScore(); got != tt.want {
				t.Errorf("engagement: got %f, want %f", got, tt.want)
			}
		})
	}
}

func TestDetector_EngagementScore_Bounds(t *testing.T) {
	d := NewDetector(30)
	for i := 0; i < 30; i++ {
		d.push(Sad)
	}
	if got := d.EngagementScore(); got < 0 {
		t.Errorf("engagement below 0: %f", got)
	}
	d.Reset()
	for i := 0; i < 30; i++ {
		d.push(Happy)
	}
	if got := d.EngagementScore(); got > 100 {
		t.Errorf("engagement above 100: %f", got)
	}
}

func TestDetector_WindowEviction(t *testing.T) {
	d := NewDetector(5)
	for i := 0; i < 5; i++ {
		d.push(Sad)
	}
	for i := 0; i < 5; i++ {
		d.push(Happy)
	}

	history := d.History()
	if len(history) != 5 {
		t.Fatalf("window length: got %d, want 5", len(history))
	}
	for i, l := range history {
		if l != Happy {
			t.Errorf("history[%d]: got %s, want %s", i, l, Happy)
		}
	}
	if got := d.EngagementScore(); got != 100.0 {
		t.Errorf("engagement after eviction: got %f, want 100", got)
	}
}

func TestDetector_DominantEmotion(t *testing.T) {
	tests := []struct {
		name   string
		labels []Label
		want   Label
	}{
		{"empty window", nil, Neutral},
		{"clear majority", []Label{Happy, Happy, Sad}, Happy},
		{"tie resolves in canonical order", []Label{Sad, Happy, Happy, Sad}, Happy},
		{"neutral wins its ties", []Label{Neutral, Fear}, Neutral},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := seeded(tt.labels...).DominantEmotion(); got != tt.want {
				t.Errorf("dominant: got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDetector_Distribution(t *testing.T) {
	d := seeded(Happy, Happy, Sad, Neutral)
	dist := d.Distribution()

	if dist[Happy] != 50.0 {
		t.Errorf("happy share: got %f, want 50", dist[Happy])
	}
	if dist[Sad] != 25.0 {
		t.Errorf("sad share: got %f, want 25", dist[Sad])
	}
	if dist[Fear] != 0 {
		t.Errorf("fear share: got %f, want 0", dist[Fear])
	}

	if empty := NewDetector(30).Distribution(); len(empty) != 0 {
		t.Errorf("empty window distribution: got %v, want empty", empty)
	}
}

func TestDetector_Trend(t *testing.T) {
	tests := []struct {
		name   string
		labels []Label
		want   string
	}{
		{
			name:   "short window",
			labels: []Label{Happy, Happy, Sad},
			want:   "insufficient_data",
		},
		{
			name: "engagement picking up",
			labels: []Label{
				Sad, Sad, Sad, Sad, Sad,
				Happy, Happy, Happy, Happy, Happy,
			},
			want: "improving",
		},
		{
			name: "engagement dropping",
			labels: []Label{
				Happy, Happy, Happy, Happy, Happy,
				Sad, Sad, Sad, Sad, Sad,
			},
			want: "declining",
		},
		{
			name: "steady",
			labels: []Label{
				Happy, Neutral, Happy, Neutral, Happy,
				Neutral, Happy, Neutral, Happy, Happy,
			},
			want: "stable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := seeded(tt.labels...).Trend(); got != tt.want {
				t.Errorf("trend: got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDetector_Reset(t *testing.T) {
	d := seeded(Happy, Sad, Fear)
	d.Reset()

	if len(d.History()) != 0 {
		t.Error("reset should clear the window")
	}
	if d.EngagementScore() != 50.0 {
		t.Error("reset detector should report neutral engagement")
	}
}

func BenchmarkDetector_Observe(b *testing.B) {
	d := NewDetector(30)
	region := regionOf(110)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		d.Observe(region)
	}
}
