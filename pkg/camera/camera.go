// Package camera provides frame sources for the attendance pipeline.
// Frames come either from a video device streamed through ffmpeg as
// MJPEG, or from a directory of still images for offline processing
// and tests.
package camera

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Frame is a single captured frame.
type Frame struct {
	Image     image.Image
	Index     int
	Timestamp time.Time
}

// Source produces frames until the stream ends or the context is
// cancelled. Next returns io.EOF when no more frames are available.
type Source interface {
	Next(ctx context.Context) (Frame, error)
	Close() error
}

// ErrCameraNotFound is returned when the camera device is not found.
var ErrCameraNotFound = errors.New("camera device not found")

// ErrNoFrame is returned when a frame could not be decoded.
var ErrNoFrame = errors.New("failed to capture frame")

// execCommand allows tests to stub out external processes.
var execCommand = exec.Command

// DeviceSource streams MJPEG frames from a V4L2 device via ffmpeg.
type DeviceSource struct {
	device string
	width  int
	height int
	fps    int

	cmd    *exec.Cmd
	stdout io.ReadCloser
	reader *bufio.Reader
	index  int
}

// OpenDevice starts an ffmpeg capture from the given camera index.
func OpenDevice(index, width, height, fps int) (*DeviceSource, error) {
	device := fmt.Sprintf("/dev/video%d", index)
	if _, err := os.Stat(device); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCameraNotFound, device)
	}

	s := &DeviceSource{device: device, width: width, height: height, fps: fps}
	if err := s.start(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *DeviceSource) start() error {
	args := []string{
		"-f", "v4l2",
		"-framerate", fmt.Sprintf("%d", s.fps),
		"-video_size", fmt.Sprintf("%dx%d", s.width, s.height),
		"-i", s.device,
		"-f", "mjpeg",
		"-q:v", "2",
		"pipe:1",
	}

	cmd := execCommand("ffmpeg", args...)
	cmd.Stderr = io.Discard

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open ffmpeg pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	s.cmd = cmd
	s.stdout = stdout
	s.reader = bufio.NewReaderSize(stdout, 1<<20)
	return nil
}

// Next reads and decodes the next JPEG frame from the MJPEG stream.
func (s *DeviceSource) Next(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}

	data, err := readJPEG(s.reader)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Frame{}, io.EOF
		}
		return Frame{}, fmt.Errorf("%w: %v", ErrNoFrame, err)
	}

	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrNoFrame, err)
	}

	frame := Frame{Image: img, Index: s.index, Timestamp: time.Now()}
	s.index++
	return frame, nil
}

// Close stops the ffmpeg process.
func (s *DeviceSource) Close() error {
	if s.stdout != nil {
		_ = s.stdout.Close()
	}
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
		_ = s.cmd.Wait()
	}
	return nil
}

// readJPEG scans the stream for one complete JPEG image, delimited by
// the SOI (FFD8) and EOI (FFD9) markers.
func readJPEG(r *bufio.Reader) ([]byte, error) {
	// Seek the start-of-image marker.
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b != 0xFF {
			continue
		}
		next, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if next == 0xD8 {
			break
		}
	}

	buf := []byte{0xFF, 0xD8}
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		buf = append(buf, b)
		if b == 0xFF {
			next, err := r.ReadByte()
			if err != nil {
				return nil, err
			}
			buf = append(buf, next)
			if next == 0xD9 {
				return buf, nil
			}
		}
	}
}

// DirSource replays still images from a directory in lexical order,
// used for offline runs and tests.
type DirSource struct {
	paths []string
	index int
}

// OpenDir builds a source over every JPEG and PNG file in dir.
func OpenDir(dir string) (*DirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read frame directory: %w", err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".jpg", ".jpeg", ".png":
			paths = append(paths, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(paths)

	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: no frames in %s", ErrNoFrame, dir)
	}
	return &DirSource{paths: paths}, nil
}

// Next decodes the next image file, returning io.EOF after the last one.
func (s *DirSource) Next(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	if s.index >= len(s.paths) {
		return Frame{}, io.EOF
	}

	path := s.paths[s.index]
	f, err := os.Open(path)
	if err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrNoFrame, err)
	}
	defer f.Close()

	var img image.Image
	if strings.EqualFold(filepath.Ext(path), ".png") {
		img, err = png.Decode(f)
	} else {
		img, err = jpeg.Decode(f)
	}
	if err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrNoFrame, err)
	}

	frame := Frame{Image: img, Index: s.index, Timestamp: time.Now()}
	s.index++
	return frame, nil
}

// Close releases the source. DirSource holds no resources.
func (s *DirSource) Close() error { return nil }

// EncodeJPEG renders an image to JPEG bytes for the face recognizer,
// which operates on encoded images.
func EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	return buf.Bytes(), nil
}
