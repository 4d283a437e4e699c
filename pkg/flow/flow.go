package flow

import (
	"errors"
	"fmt"

	"github.com/Robogera/handflow/pkg/geom"
	"gocv.io/x/gocv"
)

var (
	ERR_BAD_AGGREGATE = errors.New("Unknown aggregate")
	ERR_BAD_THRESHOLD = errors.New("Bad distance thresholds")
)

type Aggregate string

const (
	AggregateMean Aggregate = "mean"
	AggregateSum  Aggregate = "sum"
)

type Options struct {
	// Tracks shorter than MinDist or longer than MaxDist are ignored
	MinDist     float64
	MaxDist     float64
	MaxCorners  int
	Quality     float64
	MinDistance float64
	Aggregate   Aggregate
}

func DefaultOptions() Options {
	return Options{
		MinDist:     5,
		MaxDist:     50,
		MaxCorners:  100,
		Quality:     0.01,
		MinDistance: 0.01,
		Aggregate:   AggregateMean,
	}
}

// Pyramidal Lucas-Kanade direction estimator
type LK struct {
	opts Options
}

func NewLK(opts Options) (*LK, error) {
	switch opts.Aggregate {
	case AggregateMean, AggregateSum:
	case "":
		opts.Aggregate = AggregateMean
	default:
		return nil, fmt.Errorf("%q: %w", opts.Aggregate, ERR_BAD_AGGREGATE)
	}
	if opts.MinDist < 0 || opts.MaxDist <= opts.MinDist {
		return nil, fmt.Errorf("min %f, max %f: %w", opts.MinDist, opts.MaxDist, ERR_BAD_THRESHOLD)
	}
	if opts.MaxCorners <= 0 {
		opts.MaxCorners = 100
	}
	if opts.Quality <= 0 {
		opts.Quality = 0.01
	}
	return &LK{opts: opts}, nil
}

func (lk *LK) Options() Options { return lk.opts }

// Overall motion from prev to curr of the features under the
// nonzero part of mask. An empty mask means the whole frame.
// Returns an annotated copy of prev that the caller owns.
func (lk *LK) Direction(prev, curr, mask gocv.Mat) (geom.Vector2, gocv.Mat) {
	annotated := prev.Clone()
	if prev.Empty() || curr.Empty() {
		return geom.Vector2{}, annotated
	}

	prev_gray := equalized(prev)
	defer prev_gray.Close()
	curr_gray := equalized(curr)
	defer curr_gray.Close()

	features := lk.features(prev_gray, mask)
	if len(features) == 0 {
		return geom.Vector2{}, annotated
	}
	for _, f := range features {
		gocv.Circle(&annotated, f.Point(), 2, geom.Red, 1)
	}

	prev_pts := gocv.NewMatWithSize(len(features), 2, gocv.MatTypeCV32F)
	defer prev_pts.Close()
	for i, f := range features {
		prev_pts.SetFloatAt(i, 0, float32(f.X))
		prev_pts.SetFloatAt(i, 1, float32(f.Y))
	}

	next_pts := gocv.NewMat()
	defer next_pts.Close()
	status := gocv.NewMat()
	defer status.Close()
	errs := gocv.NewMat()
	defer errs.Close()
	gocv.CalcOpticalFlowPyrLK(prev_gray, curr_gray, prev_pts, next_pts, &status, &errs)

	var total geom.Vector2
	accepted := 0
	for i, old_pt := range features {
		if i >= status.Rows() || status.GetUCharAt(i, 0) != 1 {
			continue
		}
		new_pt := point(next_pts, i)
		if d := old_pt.Dist(new_pt); d <= lk.opts.MinDist || d >= lk.opts.MaxDist {
			continue
		}
		gocv.Circle(&annotated, new_pt.Point(), 2, geom.Green, 1)
		gocv.Line(&annotated, old_pt.Point(), new_pt.Point(), geom.Green, 1)
		total = total.Add(new_pt.Sub(old_pt))
		accepted++
	}

	direction := total
	if lk.opts.Aggregate == AggregateMean && accepted > 0 {
		direction = total.Scale(1 / float64(accepted))
	}

	center := geom.Vec(float64(prev.Cols()/2), float64(prev.Rows()/2))
	gocv.Line(&annotated, center.Point(), center.Add(direction).Point(), geom.White, 3)
	return direction, annotated
}

func (lk *LK) features(gray, mask gocv.Mat) []geom.Vector2 {
	corners := gocv.NewMat()
	defer corners.Close()
	gocv.GoodFeaturesToTrack(gray, &corners, lk.opts.MaxCorners, lk.opts.Quality, lk.opts.MinDistance)

	use_mask := !mask.Empty() && mask.Rows() == gray.Rows() && mask.Cols() == gray.Cols()
	features := make([]geom.Vector2, 0, corners.Rows())
	for i := range corners.Rows() {
		p := point(corners, i)
		if use_mask && !inside(mask, p) {
			continue
		}
		features = append(features, p)
	}
	return features
}

func inside(mask gocv.Mat, p geom.Vector2) bool {
	x, y := int(p.X), int(p.Y)
	if x < 0 || y < 0 || x >= mask.Cols() || y >= mask.Rows() {
		return false
	}
	return mask.GetUCharAt(y, x) != 0
}

// Points come back either as Nx1 two channel or Nx2 single channel
func point(m gocv.Mat, i int) geom.Vector2 {
	if m.Channels() == 2 {
		v := m.GetVecfAt(i, 0)
		return geom.Vec(float64(v[0]), float64(v[1]))
	}
	return geom.Vec(float64(m.GetFloatAt(i, 0)), float64(m.GetFloatAt(i, 1)))
}

func equalized(src gocv.Mat) gocv.Mat {
	gray := gocv.NewMat()
	switch src.Channels() {
	case 3:
		gocv.CvtColor(src, &gray, gocv.ColorBGRToGray)
	case 4:
		gocv.CvtColor(src, &gray, gocv.ColorBGRAToGray)
	default:
		src.CopyTo(&gray)
	}
	gocv.EqualizeHist(gray, &gray)
	return gray
}
