// Package session runs the live attendance pipeline: it pulls frames
// from a camera source, recognizes registered faces, scores liveness,
// tracks per-identity stability, and marks attendance exactly once per
// user per day in the database and the ledger.
package session

import (
	"context"
	"errors"
	"image"
	"image/draw"
	"io"
	"math"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/secureattend/secureattend/pkg/camera"
	"github.com/secureattend/secureattend/pkg/config"
	"github.com/secureattend/secureattend/pkg/emotion"
	"github.com/secureattend/secureattend/pkg/gallery"
	"github.com/secureattend/secureattend/pkg/ledger"
	"github.com/secureattend/secureattend/pkg/liveness"
	"github.com/secureattend/secureattend/pkg/logging"
	"github.com/secureattend/secureattend/pkg/privacy"
	"github.com/secureattend/secureattend/pkg/recognition"
	"github.com/secureattend/secureattend/pkg/store"
	"github.com/secureattend/secureattend/pkg/tracker"
)

// ErrSessionActive is returned when a tracking session is already
// running. Only one session may run at a time.
var ErrSessionActive = errors.New("a tracking session is already active")

// ErrNoRegisteredUsers is returned when the gallery is empty.
var ErrNoRegisteredUsers = errors.New("no registered users")

// active guards against concurrent sessions in one process.
var active int32

// Event is one per-identity pipeline observation, reported to the
// caller for display.
type Event struct {
	Frame         int
	UserID        string
	Name          string
	Status        tracker.Status
	LivenessScore float64
	Smoothed      float64
	Emotion       emotion.Label
	Marked        bool
}

// Result summarizes one finished session.
type Result struct {
	FramesRead      int
	FramesProcessed int
	Marked          []string
	Engagement      float64
	DominantEmotion emotion.Label
	Started         time.Time
	Finished        time.Time
}

// identity is one gallery entry prepared for matching.
type identity struct {
	userID     string
	name       string
	regNo      string
	descriptor recognition.Descriptor
}

// Session wires the pipeline components together.
type Session struct {
	cfg        *config.Config
	recognizer *recognition.Recognizer
	scorer     *liveness.Scorer
	tracker    *tracker.Tracker
	emotions   *emotion.Detector
	chain      *ledger.Chain
	db         *store.Store

	identities []identity
	dayChecked map[string]bool

	// OnEvent, when set, receives per-identity observations as the
	// session runs.
	OnEvent func(Event)

	log *logrus.Entry
}

// New builds a session from its collaborators. chain may be nil when the
// ledger feature is disabled.
func New(cfg *config.Config, rec *recognition.Recognizer, db *store.Store, chain *ledger.Chain, faces []gallery.RegisteredFace) (*Session, error) {
	if len(faces) == 0 {
		return nil, ErrNoRegisteredUsers
	}

	identities := make([]identity, 0, len(faces))
	for _, f := range faces {
		if len(f.Descriptors) == 0 {
			continue
		}
		identities = append(identities, identity{
			userID:     f.UserID,
			name:       f.Name,
			regNo:      f.RegistrationNumber,
			descriptor: recognition.AverageDescriptor(f.Descriptors),
		})
	}
	if len(identities) == 0 {
		return nil, ErrNoRegisteredUsers
	}

	return &Session{
		cfg:        cfg,
		recognizer: rec,
		scorer:     liveness.NewScorer(cfg.Liveness),
		tracker:    tracker.New(cfg.Tracking),
		emotions:   emotion.NewDetector(cfg.Emotion.HistorySize),
		chain:      chain,
		db:         db,
		identities: identities,
		dayChecked: make(map[string]bool),
		log:        logging.Component("session"),
	}, nil
}

// Run processes frames from src until it is exhausted or ctx is
// cancelled. It is an error to call Run while another session runs.
func (s *Session) Run(ctx context.Context, src camera.Source) (*Result, error) {
	if !atomic.CompareAndSwapInt32(&active, 0, 1) {
		return nil, ErrSessionActive
	}
	defer atomic.StoreInt32(&active, 0)

	result := &Result{Started: time.Now()}
	stride := s.cfg.Tracking.ProcessEveryNFrames
	if stride < 1 {
		stride = 1
	}

	s.log.Infof("Session started: %d registered identities, stride %d", len(s.identities), stride)

	for frameIndex := 0; ; frameIndex++ {
		frame, err := src.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				s.log.Info("Session cancelled")
				break
			}
			s.log.WithError(err).Warn("Frame capture failed, skipping")
			continue
		}
		result.FramesRead++

		if frameIndex%stride != 0 {
			continue
		}

		s.processFrame(frame, result)
		result.FramesProcessed++
	}

	result.Marked = s.markedUsers()
	result.Engagement = s.emotions.EngagementScore()
	result.DominantEmotion = s.emotions.DominantEmotion()
	result.Finished = time.Now()

	s.log.Infof("Session finished: %d frames processed, %d marked, engagement %.1f",
		result.FramesProcessed, len(result.Marked), result.Engagement)
	return result, nil
}

// processFrame runs the full per-frame pipeline. A panic in any stage is
// contained to the frame: the frame yields no verdict and processing
// continues.
func (s *Session) processFrame(frame camera.Frame, result *Result) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorf("Frame %d dropped after pipeline panic: %v", frame.Index, r)
		}
	}()

	s.tracker.AdvanceFrame()

	data, err := camera.EncodeJPEG(frame.Image)
	if err != nil {
		s.log.WithError(err).Warn("Frame encode failed")
		return
	}

	faces, err := s.recognizer.DetectFaces(data)
	if err != nil {
		s.log.WithError(err).Warn("Face detection failed")
		return
	}

	seen := make(map[string]bool, len(faces))
	for _, f := range faces {
		id, confidence, ok := s.match(f.Descriptor)
		if !ok {
			continue
		}
		seen[id.userID] = true
		s.observe(frame, f, id, confidence)
	}

	// Identities absent this frame lose their streak once the cooldown
	// elapses.
	for _, id := range s.identities {
		if !seen[id.userID] {
			s.tracker.ObserveDetection(id.userID, false)
		}
	}
}

// match finds the registered identity closest to the probe descriptor.
func (s *Session) match(probe recognition.Descriptor) (identity, float64, bool) {
	known := make([]recognition.Descriptor, len(s.identities))
	for i, id := range s.identities {
		known[i] = id.descriptor
	}

	idx, distance, ok := s.recognizer.FindBestMatch(probe, known)
	if !ok {
		return identity{}, 0, false
	}

	confidence := 1.0 - distance
	if confidence < 0 {
		confidence = 0
	}
	return s.identities[idx], confidence, true
}

// observe updates tracking state for one matched face and marks
// attendance when the identity qualifies.
func (s *Session) observe(frame camera.Frame, f recognition.Face, id identity, confidence float64) {
	becameStable := s.tracker.ObserveDetection(id.userID, true)
	if becameStable {
		s.checkPriorAttendance(id)
	}

	rawScore := 1.0
	if s.cfg.Features.AntiSpoofing {
		verdict, _ := s.scorer.Score(frame.Image, f.BoundingBox)
		rawScore = verdict.Score
	}
	smoothed, _ := s.tracker.ObserveLiveness(id.userID, rawScore)

	var label emotion.Label
	if s.cfg.Features.Emotion {
		label, _ = s.emotions.Observe(faceRegion(frame.Image, f.BoundingBox))
	}

	marked := false
	if s.tracker.ShouldMark(id.userID) {
		marked = s.mark(id, rawScore, confidence)
	}

	s.emit(Event{
		Frame:         s.tracker.FrameCount(),
		UserID:        id.userID,
		Name:          id.name,
		Status:        s.tracker.Status(id.userID),
		LivenessScore: rawScore,
		Smoothed:      smoothed,
		Emotion:       label,
		Marked:        marked,
	})
}

// checkPriorAttendance consults the database once per identity per
// session, so a restart cannot double-mark a user.
func (s *Session) checkPriorAttendance(id identity) {
	if s.dayChecked[id.userID] {
		return
	}
	s.dayChecked[id.userID] = true

	today := time.Now().Format(store.DateLayout)
	has, err := s.db.HasAttendance(id.userID, today)
	if err != nil {
		s.log.WithError(err).Warnf("Attendance lookup failed for %s", id.userID)
		return
	}
	if has {
		s.tracker.MarkRecognized(id.userID)
		s.log.Infof("%s already marked today", id.name)
	}
}

// mark records attendance in the ledger and the database. The database
// UNIQUE constraint is the final guard against duplicates.
func (s *Session) mark(id identity, livenessScore, confidence float64) bool {
	now := time.Now()
	label := s.emotions.DominantEmotion()
	engagement := s.emotions.EngagementScore()
	rec := store.Attendance{
		UserID:             id.userID,
		Name:               id.name,
		RegistrationNumber: id.regNo,
		Timestamp:          now,
		Date:               now.Format(store.DateLayout),
		Time:               now.Format("15:04:05"),
		LivenessScore:      round3(livenessScore),
		Emotion:            string(label),
		EngagementScore:    engagement,
		Confidence:         round3(confidence),
		FaceEncodingHash:   privacy.ShortHash(id.descriptor[:]),
		Location:           s.cfg.Tracking.Location,
	}

	rec.LedgerHash = "N/A"
	if s.chain != nil {
		hash, err := s.chain.AddBlock(ledger.Payload{
			"type":                "attendance",
			"user_id":             id.userID,
			"name":                id.name,
			"registration_number": id.regNo,
			"date":                rec.Date,
			"time":                rec.Time,
			"liveness_score":      rec.LivenessScore,
			"emotion":             rec.Emotion,
			"engagement_score":    rec.EngagementScore,
			"confidence":          rec.Confidence,
			"location":            rec.Location,
		})
		if err != nil {
			s.log.WithError(err).Error("Ledger append failed, attendance not marked")
			return false
		}
		rec.LedgerHash = hash
	}

	ok, msg, err := s.db.MarkAttendance(rec)
	if err != nil {
		s.log.WithError(err).Error("Attendance insert failed")
		return false
	}

	s.tracker.MarkRecognized(id.userID)
	if !ok {
		// Concurrent mark from another path; treat as satisfied.
		s.log.Infof("%s: %s", id.name, msg)
		return false
	}

	s.tracker.RecordMark(id.userID)
	s.log.Infof("Attendance marked for %s (%s) liveness=%.3f engagement=%.1f",
		id.name, id.userID, rec.LivenessScore, rec.EngagementScore)
	return true
}

func (s *Session) markedUsers() []string {
	var ids []string
	for _, id := range s.identities {
		if s.tracker.AlreadyMarked(id.userID) {
			ids = append(ids, id.userID)
		}
	}
	return ids
}

func (s *Session) emit(ev Event) {
	if s.OnEvent != nil {
		s.OnEvent(ev)
	}
}

// faceRegion extracts the face bounding box from the frame, clamped to
// the frame bounds.
func faceRegion(img image.Image, box image.Rectangle) image.Image {
	r := box.Intersect(img.Bounds())
	if r.Empty() {
		return image.NewRGBA(image.Rect(0, 0, 1, 1))
	}
	if sub, ok := img.(interface {
		SubImage(image.Rectangle) image.Image
	}); ok {
		return sub.SubImage(r)
	}
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), img, r.Min, draw.Src)
	return dst
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
