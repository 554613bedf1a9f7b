// Package tracker maintains per-identity detection and liveness state
// across frames. It converts noisy per-frame verdicts into stable
// decisions: an identity must be detected for several consecutive frames
// before it counts as present, and its liveness is judged on a rolling
// mean rather than any single frame. The tracker also owns the
// at-most-once-per-day attendance decision.
package tracker

import (
	"math"

	"github.com/secureattend/secureattend/pkg/config"
)

// Status classifies an identity's current standing for display purposes.
type Status string

const (
	// StatusDetecting means the identity has been matched but not yet for
	// enough consecutive frames to be considered stably present.
	StatusDetecting Status = "detecting"
	// StatusVerifying means the identity is stably present and its
	// smoothed liveness is being evaluated.
	StatusVerifying Status = "verifying"
	// StatusSpoofing means the smoothed liveness score is below the
	// smoothed threshold.
	StatusSpoofing Status = "spoofing"
	// StatusJustMarked means attendance was recorded within the last few
	// seconds of frames.
	StatusJustMarked Status = "just_marked"
	// StatusAlreadyMarked means attendance for today exists, either from
	// earlier in this session or found in persistent storage.
	StatusAlreadyMarked Status = "already_marked"
)

// identityState is the per-identity track record. It lives only for the
// duration of a session and is owned exclusively by the Tracker.
type identityState struct {
	consecutiveDetections int
	lastSeenFrame         int
	stable                bool

	livenessWindow []float64
	smoothedScore  float64
	smoothedLive   bool

	markedAtFrame int // frame at which attendance was recorded, -1 if never
}

// Tracker owns all identity track state for one attendance session.
// It is not safe for concurrent use; the session pipeline drives it from
// a single goroutine.
type Tracker struct {
	cfg        config.TrackingConfig
	frameCount int
	states     map[string]*identityState
	recognized map[string]bool // user ids marked today
}

// New creates a tracker for one session.
func New(cfg config.TrackingConfig) *Tracker {
	return &Tracker{
		cfg:        cfg,
		states:     make(map[string]*identityState),
		recognized: make(map[string]bool),
	}
}

// AdvanceFrame increments the processed-frame counter. Windows and
// cooldowns are measured in processed frames, not wall-clock frames.
func (t *Tracker) AdvanceFrame() {
	t.frameCount++
}

// FrameCount returns the number of processed frames this session.
func (t *Tracker) FrameCount() int {
	return t.frameCount
}

func (t *Tracker) state(userID string) *identityState {
	s, ok := t.states[userID]
	if !ok {
		s = &identityState{markedAtFrame: -1, smoothedLive: true}
		t.states[userID] = s
	}
	return s
}

// ObserveDetection records whether the identity was matched this frame
// and returns whether it is stably present. Stability requires
// DetectionThreshold consecutive detections and persists until the
// identity goes unseen for more than DetectionCooldown frames.
func (t *Tracker) ObserveDetection(userID string, seen bool) bool {
	s := t.state(userID)

	if seen {
		s.consecutiveDetections++
		s.lastSeenFrame = t.frameCount

		if s.consecutiveDetections >= t.cfg.DetectionThreshold {
			s.stable = true
		}
	} else {
		framesSinceSeen := t.frameCount - s.lastSeenFrame
		if framesSinceSeen > t.cfg.DetectionCooldown {
			s.consecutiveDetections = 0
			s.stable = false
		}
	}

	return s.stable
}

// ObserveLiveness appends a raw per-frame liveness score to the
// identity's rolling window and returns the smoothed score and verdict.
// The smoothed verdict uses its own, looser threshold than the per-frame
// scorer; both gates apply on the way to an attendance mark.
func (t *Tracker) ObserveLiveness(userID string, raw float64) (float64, bool) {
	s := t.state(userID)

	if len(s.livenessWindow) == t.cfg.LivenessWindow {
		copy(s.livenessWindow, s.livenessWindow[1:])
		s.livenessWindow = s.livenessWindow[:t.cfg.LivenessWindow-1]
	}
	s.livenessWindow = append(s.livenessWindow, raw)

	var sum float64
	for _, v := range s.livenessWindow {
		sum += v
	}
	s.smoothedScore = sum / float64(len(s.livenessWindow))
	s.smoothedLive = s.smoothedScore >= t.cfg.SmoothedThreshold

	return s.smoothedScore, s.smoothedLive
}

// SmoothedLiveness returns the identity's current smoothed score and
// verdict. An identity with no observations yet reports live with a NaN
// score.
func (t *Tracker) SmoothedLiveness(userID string) (float64, bool) {
	s, ok := t.states[userID]
	if !ok || len(s.livenessWindow) == 0 {
		return math.NaN(), true
	}
	return s.smoothedScore, s.smoothedLive
}

// IsStable reports whether the identity is currently stably detected.
func (t *Tracker) IsStable(userID string) bool {
	s, ok := t.states[userID]
	return ok && s.stable
}

// ShouldDisplay reports whether UI for the identity should still be
// drawn: stable, and seen within DisplayDuration frames. The display
// window is independent of the stability cooldown so a face briefly
// dropping out of detection does not flicker.
func (t *Tracker) ShouldDisplay(userID string) bool {
	s, ok := t.states[userID]
	if !ok {
		return false
	}
	framesSinceSeen := t.frameCount - s.lastSeenFrame
	return s.stable && framesSinceSeen < t.cfg.DisplayDuration
}

// ShouldMark reports whether the attendance mark path should fire for
// this identity: stably present, smoothed-live, and not yet marked today.
func (t *Tracker) ShouldMark(userID string) bool {
	s, ok := t.states[userID]
	if !ok {
		return false
	}
	return s.stable && s.smoothedLive && !t.recognized[userID]
}

// AlreadyMarked reports whether the identity has been marked today, as
// far as this session knows.
func (t *Tracker) AlreadyMarked(userID string) bool {
	return t.recognized[userID]
}

// MarkRecognized records that the identity's attendance for today is
// satisfied without treating it as freshly marked. Used when persistent
// storage already has a record for today, e.g. after a process restart.
func (t *Tracker) MarkRecognized(userID string) {
	t.recognized[userID] = true
}

// RecordMark records a fresh attendance mark for the identity. The
// just-marked status persists for JustMarkedFrames processed frames.
func (t *Tracker) RecordMark(userID string) {
	t.recognized[userID] = true
	t.state(userID).markedAtFrame = t.frameCount
}

// RecognizedCount returns how many identities have been marked today.
func (t *Tracker) RecognizedCount() int {
	return len(t.recognized)
}

// Status returns the display classification for an identity. The marked
// states are sticky for the day; spoofing and verifying can alternate
// frame to frame with the smoothed score.
func (t *Tracker) Status(userID string) Status {
	s, ok := t.states[userID]
	if !ok {
		return StatusDetecting
	}

	switch {
	case !s.smoothedLive:
		return StatusSpoofing
	case t.recognized[userID]:
		if s.markedAtFrame >= 0 && t.frameCount-s.markedAtFrame <= t.cfg.JustMarkedFrames {
			return StatusJustMarked
		}
		return StatusAlreadyMarked
	case s.stable:
		return StatusVerifying
	default:
		return StatusDetecting
	}
}

// Reset drops all track state, including the in-session recognized set.
// Persistent records are unaffected.
func (t *Tracker) Reset() {
	t.states = make(map[string]*identityState)
	t.recognized = make(map[string]bool)
	t.frameCount = 0
}
