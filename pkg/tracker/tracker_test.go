package tracker

import (
	"math"
	"testing"

	"github.com/secureattend/secureattend/pkg/config"
)

func testTracker() *Tracker {
	return New(config.TrackingConfig{
		ProcessEveryNFrames: 2,
		DetectionThreshold:  5,
		DetectionCooldown:   30,
		DisplayDuration:     45,
		LivenessWindow:      10,
		SmoothedThreshold:   0.7,
		JustMarkedFrames:    90,
	})
}

// detect advances one processed frame and records a detection result.
func detect(t *Tracker, userID string, seen bool) bool {
	t.AdvanceFrame()
	return t.ObserveDetection(userID, seen)
}

func TestTracker_StabilityRequiresConsecutiveDetections(t *testing.T) {
	tr := testTracker()

	for i := 0; i < 4; i++ {
		if detect(tr, "u1", true) {
			t.Fatalf("stable after %d detections, threshold is 5", i+1)
		}
	}
	if !detect(tr, "u1", true) {
		t.Error("expected stable at the fifth consecutive detection")
	}
	if !tr.IsStable("u1") {
		t.Error("IsStable should agree")
	}
}

func TestTracker_StabilitySurvivesShortAbsence(t *testing.T) {
	tr := testTracker()
	for i := 0; i < 5; i++ {
		detect(tr, "u1", true)
	}

	// 30 unseen frames: at the cooldown boundary but not past it.
	for i := 0; i < 30; i++ {
		if !detect(tr, "u1", false) {
			t.Fatalf("lost stability after %d absent frames, cooldown is 30", i+1)
		}
	}

	// The 31st absent frame exceeds the cooldown.
	if detect(tr, "u1", false) {
		t.Error("expected stability lost past the cooldown")
	}
	if tr.IsStable("u1") {
		t.Error("IsStable should agree")
	}
}

func TestTracker_StreakRestartsAfterCooldownReset(t *testing.T) {
	tr := testTracker()
	for i := 0; i < 5; i++ {
		detect(tr, "u1", true)
	}
	for i := 0; i < 31; i++ {
		detect(tr, "u1", false)
	}

	// The streak starts over; four detections are not enough.
	for i := 0; i < 4; i++ {
		if detect(tr, "u1", true) {
			t.Fatalf("stable after only %d detections post-reset", i+1)
		}
	}
	if !detect(tr, "u1", true) {
		t.Error("expected stable after a fresh full streak")
	}
}

func TestTracker_ObserveLiveness_RollingMean(t *testing.T) {
	tr := testTracker()

	smoothed, live := tr.ObserveLiveness("u1", 0.9)
	if smoothed != 0.9 || !live {
		t.Errorf("single score: got (%f, %v), want (0.9, true)", smoothed, live)
	}

	smoothed, live = tr.ObserveLiveness("u1", 0.3)
	if math.Abs(smoothed-0.6) > 1e-9 || live {
		t.Errorf("mean of 0.9 and 0.3: got (%f, %v), want (0.6, false)", smoothed, live)
	}
}

func TestTracker_ObserveLiveness_WindowEviction(t *testing.T) {
	tr := testTracker()

	// Fill the window with zeros, then push ten ones; the zeros must all
	// be evicted.
	for i := 0; i < 10; i++ {
		tr.ObserveLiveness("u1", 0.0)
	}
	var smoothed float64
	for i := 0; i < 10; i++ {
		smoothed, _ = tr.ObserveLiveness("u1", 1.0)
	}
	if smoothed != 1.0 {
		t.Errorf("smoothed after full turnover: got %f, want 1.0", smoothed)
	}
}

func TestTracker_SmoothedThresholdIsExact(t *testing.T) {
	tr := testTracker()
	if _, live := tr.ObserveLiveness("u1", 0.7); !live {
		t.Error("a smoothed score equal to the threshold should pass")
	}
	if _, live := tr.ObserveLiveness("u2", 0.699); live {
		t.Error("a smoothed score just under the threshold should fail")
	}
}

func TestTracker_SmoothedLiveness_NoObservations(t *testing.T) {
	tr := testTracker()
	score, live := tr.SmoothedLiveness("ghost")
	if !math.IsNaN(score) {
		t.Errorf("score without observations: got %f, want NaN", score)
	}
	if !live {
		t.Error("an unobserved identity should default to live")
	}
}

func TestTracker_ShouldMark(t *testing.T) {
	tr := testTracker()

	if tr.ShouldMark("u1") {
		t.Error("unknown identity should not mark")
	}

	for i := 0; i < 5; i++ {
		detect(tr, "u1", true)
		tr.ObserveLiveness("u1", 0.9)
	}
	if !tr.ShouldMark("u1") {
		t.Error("stable live identity should mark")
	}

	tr.RecordMark("u1")
	if tr.ShouldMark("u1") {
		t.Error("marked identity must not mark again")
	}
	if !tr.AlreadyMarked("u1") {
		t.Error("AlreadyMarked should report the mark")
	}
	if tr.RecognizedCount() != 1 {
		t.Errorf("recognized count: got %d, want 1", tr.RecognizedCount())
	}
}

func TestTracker_ShouldMark_BlockedBySpoofing(t *testing.T) {
	tr := testTracker()
	for i := 0; i < 5; i++ {
		detect(tr, "u1", true)
		tr.ObserveLiveness("u1", 0.2)
	}
	if tr.ShouldMark("u1") {
		t.Error("stable identity with low smoothed liveness must not mark")
	}
}

func TestTracker_AtMostOncePerSession(t *testing.T) {
	tr := testTracker()
	for i := 0; i < 5; i++ {
		detect(tr, "u1", true)
		tr.ObserveLiveness("u1", 0.9)
	}
	tr.RecordMark("u1")

	// The identity stays in frame; ShouldMark must stay false forever.
	for i := 0; i < 200; i++ {
		detect(tr, "u1", true)
		tr.ObserveLiveness("u1", 0.9)
		if tr.ShouldMark("u1") {
			t.Fatalf("duplicate mark allowed at frame %d", tr.FrameCount())
		}
	}
}

func TestTracker_ShouldDisplay(t *testing.T) {
	tr := testTracker()
	for i := 0; i < 5; i++ {
		detect(tr, "u1", true)
	}
	if !tr.ShouldDisplay("u1") {
		t.Error("stable identity just seen should display")
	}

	// Stay within both the display window and the stability cooldown.
	for i := 0; i < 30; i++ {
		detect(tr, "u1", false)
	}
	if !tr.ShouldDisplay("u1") {
		t.Error("identity within display duration should still display")
	}

	for i := 0; i < 20; i++ {
		detect(tr, "u1", false)
	}
	if tr.ShouldDisplay("u1") {
		t.Error("identity absent past display duration should not display")
	}
}

func TestTracker_Status(t *testing.T) {
	tr := testTracker()

	if got := tr.Status("u1"); got != StatusDetecting {
		t.Errorf("unknown identity: got %s, want %s", got, StatusDetecting)
	}

	detect(tr, "u1", true)
	if got := tr.Status("u1"); got != StatusDetecting {
		t.Errorf("partial streak: got %s, want %s", got, StatusDetecting)
	}

	for i := 0; i < 4; i++ {
		detect(tr, "u1", true)
	}
	tr.ObserveLiveness("u1", 0.9)
	if got := tr.Status("u1"); got != StatusVerifying {
		t.Errorf("stable live: got %s, want %s", got, StatusVerifying)
	}

	tr.ObserveLiveness("u1", 0.0)
	tr.ObserveLiveness("u1", 0.0)
	if got := tr.Status("u1"); got != StatusSpoofing {
		t.Errorf("stable spoofed: got %s, want %s", got, StatusSpoofing)
	}
}

func TestTracker_Status_MarkedLifecycle(t *testing.T) {
	tr := testTracker()
	for i := 0; i < 5; i++ {
		detect(tr, "u1", true)
		tr.ObserveLiveness("u1", 0.9)
	}
	tr.RecordMark("u1")

	if got := tr.Status("u1"); got != StatusJustMarked {
		t.Errorf("right after marking: got %s, want %s", got, StatusJustMarked)
	}

	// Still just-marked at the boundary.
	for i := 0; i < 90; i++ {
		tr.AdvanceFrame()
	}
	if got := tr.Status("u1"); got != StatusJustMarked {
		t.Errorf("at just-marked boundary: got %s, want %s", got, StatusJustMarked)
	}

	tr.AdvanceFrame()
	if got := tr.Status("u1"); got != StatusAlreadyMarked {
		t.Errorf("past just-marked window: got %s, want %s", got, StatusAlreadyMarked)
	}
}

func TestTracker_Status_MarkRecognizedIsNotJustMarked(t *testing.T) {
	// A mark found in storage from a previous run shows as already
	// marked, never as freshly marked.
	tr := testTracker()
	for i := 0; i < 5; i++ {
		detect(tr, "u1", true)
		tr.ObserveLiveness("u1", 0.9)
	}
	tr.MarkRecognized("u1")

	if got := tr.Status("u1"); got != StatusAlreadyMarked {
		t.Errorf("restored mark: got %s, want %s", got, StatusAlreadyMarked)
	}
	if tr.ShouldMark("u1") {
		t.Error("restored mark must block a fresh mark")
	}
}

func TestTracker_IdentitiesAreIndependent(t *testing.T) {
	tr := testTracker()

	for i := 0; i < 5; i++ {
		tr.AdvanceFrame()
		tr.ObserveDetection("u1", true)
		tr.ObserveDetection("u2", i%2 == 0)
	}

	if !tr.IsStable("u1") {
		t.Error("u1 should be stable")
	}
	if tr.IsStable("u2") {
		t.Error("u2 with a broken streak should not be stable")
	}
}

func TestTracker_Reset(t *testing.T) {
	tr := testTracker()
	for i := 0; i < 5; i++ {
		detect(tr, "u1", true)
		tr.ObserveLiveness("u1", 0.9)
	}
	tr.RecordMark("u1")

	tr.Reset()
	if tr.FrameCount() != 0 {
		t.Error("reset should zero the frame counter")
	}
	if tr.IsStable("u1") || tr.AlreadyMarked("u1") || tr.RecognizedCount() != 0 {
		t.Error("reset should drop all identity state")
	}
}
