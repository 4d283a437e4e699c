package cascade

import (
	"errors"
	"fmt"
	"image"

	"github.com/Robogera/handflow/pkg/geom"
	"gocv.io/x/gocv"
)

var (
	ERR_BAD_CASCADE = errors.New("Can't load cascade")
)

// OpenCV's DO_CANNY_PRUNING | SCALE_IMAGE
const DefaultFlags = 3

type Params struct {
	ScaleFactor  float64
	MinNeighbors int
	Flags        int
	MinSize      image.Point
	// Zero means unbounded
	MaxSize image.Point
}

func HandParams() Params {
	return Params{
		ScaleFactor:  1.1,
		MinNeighbors: 60,
		Flags:        DefaultFlags,
		MinSize:      image.Pt(25, 35),
	}
}

func FaceParams() Params {
	return Params{
		ScaleFactor:  1.1,
		MinNeighbors: 2,
		Flags:        DefaultFlags,
		MinSize:      image.Pt(30, 30),
	}
}

// Haar cascade object detector
type Detector struct {
	path       string
	classifier gocv.CascadeClassifier
}

func NewDetector(path string) (*Detector, error) {
	classifier := gocv.NewCascadeClassifier()
	if !classifier.Load(path) {
		classifier.Close()
		return nil, fmt.Errorf("%s: %w", path, ERR_BAD_CASCADE)
	}
	return &Detector{path: path, classifier: classifier}, nil
}

func (d *Detector) Path() string { return d.path }

// Returns every candidate found in img, possibly none
func (d *Detector) Find(img gocv.Mat, p Params) []geom.Rect {
	if img.Empty() {
		return []geom.Rect{}
	}

	gray := gocv.NewMat()
	defer gray.Close()
	toGray(img, &gray)

	gocv.EqualizeHist(gray, &gray)

	scale := p.ScaleFactor
	if scale <= 1 {
		scale = 1.1
	}
	found := d.classifier.DetectMultiScaleWithParams(
		gray, scale, p.MinNeighbors, p.Flags, p.MinSize, p.MaxSize)

	rects := make([]geom.Rect, 0, len(found))
	for _, r := range found {
		rects = append(rects, geom.FromImage(r))
	}
	return rects
}

func (d *Detector) Close() error {
	return d.classifier.Close()
}

func toGray(src gocv.Mat, dst *gocv.Mat) {
	switch src.Channels() {
	case 3:
		gocv.CvtColor(src, dst, gocv.ColorBGRToGray)
	case 4:
		gocv.CvtColor(src, dst, gocv.ColorBGRAToGray)
	default:
		src.CopyTo(dst)
	}
}
