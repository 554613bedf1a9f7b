// Package recognition provides face detection and identity matching.
// It uses dlib via go-face for detection and 128-dimensional descriptor
// extraction; identities are compared by Euclidean distance against the
// registered gallery with a configurable tolerance.
package recognition

import (
	"errors"
	"fmt"
	"image"
	"math"
	"sync"

	"github.com/Kagami/go-face"

	"github.com/secureattend/secureattend/pkg/logging"
)

// Descriptor is a 128-dimensional face descriptor from dlib.
type Descriptor = face.Descriptor

// Face represents a detected face in an image.
type Face struct {
	BoundingBox image.Rectangle
	Landmarks   []image.Point
	Descriptor  Descriptor
}

// ErrNoFaceDetected is returned when no face is found in the image.
var ErrNoFaceDetected = errors.New("no face detected")

// ErrMultipleFaces is returned when a single face was required but
// several were detected.
var ErrMultipleFaces = errors.New("multiple faces detected")

// ErrModelNotLoaded is returned when models are not loaded.
var ErrModelNotLoaded = errors.New("recognition models not loaded")

// Recognizer wraps the dlib recognizer with tolerance-based matching.
type Recognizer struct {
	rec       *face.Recognizer
	modelPath string
	loaded    bool
	mu        sync.RWMutex
	tolerance float64
}

// NewRecognizer creates a Recognizer with the default match tolerance.
func NewRecognizer() *Recognizer {
	return &Recognizer{
		tolerance: 0.6,
	}
}

// SetTolerance sets the maximum descriptor distance for a match.
// Lower values are more strict.
func (r *Recognizer) SetTolerance(tolerance float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tolerance = tolerance
}

// LoadModels loads the dlib models from the specified directory. The
// directory must contain shape_predictor_5_face_landmarks.dat,
// dlib_face_recognition_resnet_model_v1.dat and, for the thorough mode,
// mmod_human_face_detector.dat.
func (r *Recognizer) LoadModels(modelPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.loaded {
		return nil
	}

	logging.Component("recognition").Infof("Loading face models from: %s", modelPath)

	rec, err := face.NewRecognizer(modelPath)
	if err != nil {
		return fmt.Errorf("failed to load models: %w", err)
	}

	r.rec = rec
	r.modelPath = modelPath
	r.loaded = true
	return nil
}

// IsLoaded returns true if models are loaded.
func (r *Recognizer) IsLoaded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loaded
}

// Close releases the recognizer resources.
func (r *Recognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.rec != nil {
		r.rec.Close()
		r.rec = nil
	}
	r.loaded = false
	return nil
}

// DetectFaces runs the fast single-pass detector over a JPEG image and
// returns all detected faces. An image with no faces yields an empty
// slice, not an error; faceless frames are the common case during
// tracking.
func (r *Recognizer) DetectFaces(imageData []byte) ([]Face, error) {
	return r.detect(imageData, false)
}

// DetectFacesThorough runs the CNN detector, which is slower but finds
// more faces under difficult angles. Used for one-time registration
// capture, not live tracking.
func (r *Recognizer) DetectFacesThorough(imageData []byte) ([]Face, error) {
	return r.detect(imageData, true)
}

func (r *Recognizer) detect(imageData []byte, thorough bool) ([]Face, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.loaded {
		return nil, ErrModelNotLoaded
	}

	var faces []face.Face
	var err error
	if thorough {
		faces, err = r.rec.RecognizeCNN(imageData)
	} else {
		faces, err = r.rec.Recognize(imageData)
	}
	if err != nil {
		return nil, fmt.Errorf("face detection failed: %w", err)
	}

	result := make([]Face, len(faces))
	for i, f := range faces {
		result[i] = Face{
			BoundingBox: f.Rectangle,
			Landmarks:   f.Shapes,
			Descriptor:  f.Descriptor,
		}
	}
	return result, nil
}

// DetectSingleFace requires exactly one face in the image, as during
// registration capture.
func (r *Recognizer) DetectSingleFace(imageData []byte, thorough bool) (*Face, error) {
	faces, err := r.detect(imageData, thorough)
	if err != nil {
		return nil, err
	}
	if len(faces) == 0 {
		return nil, ErrNoFaceDetected
	}
	if len(faces) > 1 {
		return nil, ErrMultipleFaces
	}
	return &faces[0], nil
}

// FindBestMatch returns the gallery index with the minimum descriptor
// distance to probe, the distance, and whether it is within tolerance.
// When several known identities fall within tolerance, the closest wins.
func (r *Recognizer) FindBestMatch(probe Descriptor, gallery []Descriptor) (int, float64, bool) {
	r.mu.RLock()
	tolerance := r.tolerance
	r.mu.RUnlock()

	if len(gallery) == 0 {
		return -1, math.MaxFloat64, false
	}

	bestIdx := 0
	bestDist := math.MaxFloat64
	for i, d := range gallery {
		dist := EuclideanDistance(probe, d)
		if dist < bestDist {
			bestDist = dist
			bestIdx = i
		}
	}
	return bestIdx, bestDist, bestDist < tolerance
}

// EuclideanDistance calculates the Euclidean distance between two
// descriptors.
func EuclideanDistance(d1, d2 Descriptor) float64 {
	var sum float64
	for i := range d1 {
		diff := float64(d1[i] - d2[i])
		sum += diff * diff
	}
	return math.Sqrt(sum)
}

// AverageDescriptor computes the component-wise mean of several
// descriptors, used to combine multiple registration samples.
func AverageDescriptor(descriptors []Descriptor) Descriptor {
	var avg Descriptor
	if len(descriptors) == 0 {
		return avg
	}

	for _, d := range descriptors {
		for i, v := range d {
			avg[i] += v
		}
	}
	count := float32(len(descriptors))
	for i := range avg {
		avg[i] /= count
	}
	return avg
}
