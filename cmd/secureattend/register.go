package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/secureattend/secureattend/pkg/camera"
	"github.com/secureattend/secureattend/pkg/gallery"
	"github.com/secureattend/secureattend/pkg/logging"
	"github.com/secureattend/secureattend/pkg/recognition"
)

const (
	// registrationSamples is how many face descriptors registration
	// collects before averaging.
	registrationSamples = 5
	// registrationTimeout bounds a camera registration attempt.
	registrationTimeout = 60 * time.Second
)

func loadRecognizer() (*recognition.Recognizer, error) {
	rec := recognition.NewRecognizer()
	rec.SetTolerance(cfg.Recognition.FaceTolerance)
	if err := rec.LoadModels(cfg.Recognition.ModelPath); err != nil {
		return nil, fmt.Errorf("failed to load recognition models (run 'secureattend fetch-models' first): %w", err)
	}
	return rec, nil
}

// captureDescriptors collects face samples for one user, from a camera
// or from an image directory.
func captureDescriptors(userID, name, regNo, imageDir string) (*gallery.RegisteredFace, error) {
	rec, err := loadRecognizer()
	if err != nil {
		return nil, err
	}
	defer rec.Close()

	src, err := openSource(imageDir)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), registrationTimeout)
	defer cancel()

	var descriptors []recognition.Descriptor
	for len(descriptors) < registrationSamples {
		frame, err := src.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if errors.Is(err, context.DeadlineExceeded) {
				break
			}
			return nil, err
		}

		data, err := camera.EncodeJPEG(frame.Image)
		if err != nil {
			return nil, err
		}

		face, err := rec.DetectSingleFace(data, true)
		if err != nil {
			if errors.Is(err, recognition.ErrNoFaceDetected) || errors.Is(err, recognition.ErrMultipleFaces) {
				logging.Debugf("Sample skipped: %v", err)
				continue
			}
			return nil, err
		}

		descriptors = append(descriptors, face.Descriptor)
		fmt.Printf("  Captured sample %d/%d\n", len(descriptors), registrationSamples)
	}

	if len(descriptors) == 0 {
		return nil, errors.New("no usable face samples captured")
	}

	return &gallery.RegisteredFace{
		UserID:             userID,
		Name:               name,
		RegistrationNumber: regNo,
		Descriptors:        descriptors,
		EnrolledAt:         time.Now(),
	}, nil
}
