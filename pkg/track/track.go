package track

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/Robogera/handflow/pkg/bgsub"
	"github.com/Robogera/handflow/pkg/cascade"
	"github.com/Robogera/handflow/pkg/geom"
	"github.com/Robogera/handflow/pkg/kalman"
	"gocv.io/x/gocv"
)

var (
	ERR_MISSING_STAGE = errors.New("Stage enabled without its collaborator")
	ERR_EMPTY_FRAME   = errors.New("Empty frame")
	ERR_PAIR_GEOMETRY = errors.New("Frames of a pair differ in size")
)

// Finds candidate boxes of the tracked object
type Detector interface {
	Find(img gocv.Mat, p cascade.Params) []geom.Rect
}

// Measures the motion between two frames under the nonzero
// part of mask. Returns the direction and an annotated copy of
// prev owned by the caller.
type FlowEstimator interface {
	Direction(prev, curr, mask gocv.Mat) (geom.Vector2, gocv.Mat)
}

// Optional preprocessing stages, detection and flow always run
type Stages struct {
	FaceSuppression       bool
	BackgroundSubtraction bool
	KalmanWindowing       bool
	// Keep the intermediate frames in the Result
	Snapshots bool
}

type Options struct {
	Stages Stages

	Target       Detector
	TargetParams cascade.Params
	Faces        Detector
	FaceParams   cascade.Params

	Flow       FlowEstimator
	Subtractor *bgsub.Subtractor
	Window     *kalman.Window
}

// Intermediate frame with the largest candidate found on it
type Snapshot struct {
	Name    string
	Frame   gocv.Mat
	Largest geom.Rect
}

type Result struct {
	Faces      []geom.Rect
	Candidates []geom.Rect
	// Zero when nothing was detected
	Largest geom.Rect
	// Search window before and after the correction, zero
	// without KalmanWindowing
	Window    geom.Rect
	Corrected geom.Rect
	Direction geom.Vector2
	// Annotated copy of prev
	Frame     gocv.Mat
	Snapshots []Snapshot
}

func (r *Result) Close() {
	r.Frame.Close()
	for _, s := range r.Snapshots {
		s.Frame.Close()
	}
	r.Snapshots = nil
}

// Single object predict-detect-correct loop. Not safe for
// concurrent use, every stream owns its own pipeline.
type Pipeline struct {
	logger *slog.Logger
	opts   Options
	cycles uint64
	// released by Close
	owned []io.Closer
}

func NewPipeline(logger *slog.Logger, opts Options) (*Pipeline, error) {
	missing := make([]error, 0)
	if opts.Target == nil {
		missing = append(missing, fmt.Errorf("target detector: %w", ERR_MISSING_STAGE))
	}
	if opts.Flow == nil {
		missing = append(missing, fmt.Errorf("flow estimator: %w", ERR_MISSING_STAGE))
	}
	if opts.Stages.FaceSuppression && opts.Faces == nil {
		missing = append(missing, fmt.Errorf("face suppression: %w", ERR_MISSING_STAGE))
	}
	if opts.Stages.BackgroundSubtraction && opts.Subtractor == nil {
		missing = append(missing, fmt.Errorf("background subtraction: %w", ERR_MISSING_STAGE))
	}
	if opts.Stages.KalmanWindowing && opts.Window == nil {
		missing = append(missing, fmt.Errorf("kalman windowing: %w", ERR_MISSING_STAGE))
	}
	if err := errors.Join(missing...); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{logger: logger, opts: opts}, nil
}

func (p *Pipeline) Stages() Stages { return p.opts.Stages }
func (p *Pipeline) Cycles() uint64 { return p.cycles }

// One cycle over the pair (prev, curr). Caller owns the Result.
func (p *Pipeline) Detect(prev, curr gocv.Mat) (*Result, error) {
	if prev.Empty() || curr.Empty() {
		return nil, ERR_EMPTY_FRAME
	}
	if prev.Rows() != curr.Rows() || prev.Cols() != curr.Cols() {
		return nil, fmt.Errorf(
			"%dx%d vs %dx%d: %w",
			prev.Cols(), prev.Rows(), curr.Cols(), curr.Rows(), ERR_PAIR_GEOMETRY)
	}
	rows, cols := prev.Rows(), prev.Cols()
	stages := p.opts.Stages
	result := &Result{}

	work := prev.Clone()
	defer func() { work.Close() }()
	replace := func(next gocv.Mat) {
		work.Close()
		work = next
	}

	if stages.Snapshots {
		result.Snapshots = append(result.Snapshots, p.snapshot("original", work))
	}

	if stages.FaceSuppression {
		result.Faces = p.opts.Faces.Find(prev, p.opts.FaceParams)
		replace(geom.Erase(work, result.Faces))
		if stages.Snapshots {
			result.Snapshots = append(result.Snapshots, p.snapshot("faces removed", work))
		}
	}

	if stages.BackgroundSubtraction {
		foreground, err := p.opts.Subtractor.Remove(work)
		if err != nil {
			result.Close()
			return nil, fmt.Errorf("Can't remove background: %w", err)
		}
		replace(foreground)
		if stages.Snapshots {
			result.Snapshots = append(result.Snapshots, p.snapshot("background removed", work))
		}
	}

	if stages.KalmanWindowing {
		result.Window = p.opts.Window.Predict()
		replace(result.Window.Filter(work))
		if stages.Snapshots {
			result.Snapshots = append(result.Snapshots, p.snapshot("search window", work))
		}
	}

	result.Candidates = p.opts.Target.Find(work, p.opts.TargetParams)
	result.Largest = geom.Largest(result.Candidates)

	// nothing detected: let the flow search the whole frame
	var mask gocv.Mat
	if result.Largest.Empty() {
		mask = gocv.NewMatWithSizeFromScalar(gocv.NewScalar(255, 0, 0, 0), rows, cols, gocv.MatTypeCV8U)
	} else {
		mask = result.Largest.Mask(rows, cols)
	}
	defer mask.Close()

	result.Direction, result.Frame = p.opts.Flow.Direction(prev, curr, mask)

	if stages.KalmanWindowing {
		corrected, err := p.opts.Window.Correct(result.Largest, result.Direction)
		if err != nil {
			result.Close()
			return nil, fmt.Errorf("Can't correct search window: %w", err)
		}
		result.Corrected = corrected
	}

	for _, c := range result.Candidates {
		c.Draw(&result.Frame, geom.Yellow)
	}
	if !result.Largest.Empty() {
		result.Largest.Draw(&result.Frame, geom.Green)
	}
	if stages.KalmanWindowing {
		result.Corrected.Draw(&result.Frame, geom.Blue)
	}

	p.cycles++
	p.logger.Debug(
		"Cycle",
		"cycle", p.cycles,
		"candidates", len(result.Candidates),
		"largest", result.Largest,
		"direction", result.Direction,
		"window", result.Corrected)
	return result, nil
}

func (p *Pipeline) snapshot(name string, frame gocv.Mat) Snapshot {
	s := Snapshot{Name: name, Frame: frame.Clone()}
	s.Largest = geom.Largest(p.opts.Target.Find(frame, p.opts.TargetParams))
	if !s.Largest.Empty() {
		s.Largest.Draw(&s.Frame, geom.Green)
	}
	return s
}

// Releases the subtractor history and whatever Build loaded
func (p *Pipeline) Close() error {
	errs := make([]error, 0)
	if p.opts.Subtractor != nil {
		errs = append(errs, p.opts.Subtractor.Close())
	}
	for _, c := range p.owned {
		errs = append(errs, c.Close())
	}
	p.owned = nil
	return errors.Join(errs...)
}
