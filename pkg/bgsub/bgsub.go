package bgsub

import (
	"errors"
	"fmt"
	"image"

	"github.com/Robogera/handflow/pkg/gring"
	"gocv.io/x/gocv"
)

var (
	ERR_BAD_HISTORY    = errors.New("History length must be positive")
	ERR_FRAME_GEOMETRY = errors.New("Frame geometry changed")
)

// Removes static background by thresholding the difference
// between a frame and the one nframes calls before it
type Subtractor struct {
	history   *gring.Ring[gocv.Mat]
	threshold float32
	ksize     image.Point
	rows      int
	cols      int
	mat_type  gocv.MatType
}

func NewSubtractor(nframes int, threshold float32, ksize image.Point) (*Subtractor, error) {
	if nframes < 1 {
		return nil, fmt.Errorf("Invalid history length %d: %w", nframes, ERR_BAD_HISTORY)
	}
	// GaussianBlur wants odd kernel sides
	if ksize.X%2 == 0 {
		ksize.X++
	}
	if ksize.Y%2 == 0 {
		ksize.Y++
	}
	return &Subtractor{
		history:   gring.NewRing[gocv.Mat](nframes),
		threshold: threshold,
		ksize:     ksize,
	}, nil
}

func (s *Subtractor) Len() int      { return s.history.Size() }
func (s *Subtractor) Capacity() int { return s.history.Cap() }

// Returns the part of frame that changed compared to the frame
// seen nframes calls ago. Until the history is full the frame
// is returned unchanged. Caller owns the returned Mat.
func (s *Subtractor) Remove(frame gocv.Mat) (gocv.Mat, error) {
	if err := s.checkGeometry(frame); err != nil {
		return gocv.NewMat(), err
	}

	if !s.history.Full() {
		s.history.Push(frame.Clone())
		return frame.Clone(), nil
	}

	original, _ := s.history.Oldest()

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(frame, original, &diff)
	gocv.Threshold(diff, &diff, s.threshold, 255, gocv.ThresholdBinary)
	gocv.GaussianBlur(diff, &diff, s.ksize, 1, 1, gocv.BorderDefault)

	changed := gocv.NewMat()
	defer changed.Close()
	switch diff.Channels() {
	case 3:
		gocv.CvtColor(diff, &changed, gocv.ColorBGRToGray)
	case 4:
		gocv.CvtColor(diff, &changed, gocv.ColorBGRAToGray)
	default:
		diff.CopyTo(&changed)
	}
	// anything the blur left nonzero counts as changed
	gocv.Threshold(changed, &changed, 0, 255, gocv.ThresholdBinary)

	result := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), frame.Rows(), frame.Cols(), frame.Type())
	frame.CopyToWithMask(&result, changed)

	if evicted, ok := s.history.Push(frame.Clone()); ok {
		evicted.Close()
	}
	return result, nil
}

func (s *Subtractor) checkGeometry(frame gocv.Mat) error {
	if s.history.Size() == 0 {
		s.rows, s.cols, s.mat_type = frame.Rows(), frame.Cols(), frame.Type()
		return nil
	}
	if frame.Rows() != s.rows || frame.Cols() != s.cols || frame.Type() != s.mat_type {
		return fmt.Errorf(
			"Expected %dx%d (type %d), got %dx%d (type %d): %w",
			s.cols, s.rows, s.mat_type,
			frame.Cols(), frame.Rows(), frame.Type(),
			ERR_FRAME_GEOMETRY)
	}
	return nil
}

// Drops the history, next calls start a new warm-up
func (s *Subtractor) Reset() {
	s.history.Drain(func(m gocv.Mat) { m.Close() })
}

func (s *Subtractor) Close() error {
	s.Reset()
	return nil
}
