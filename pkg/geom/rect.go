package geom

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

// Axis aligned box in pixel coordinates. The zero value
// is the "nothing detected" sentinel.
type Rect struct {
	X, Y          int
	Width, Height int
}

// Negative dimensions are clamped to zero
func NewRect(x, y, width, height int) Rect {
	return Rect{X: x, Y: y, Width: max(width, 0), Height: max(height, 0)}
}

func FromImage(r image.Rectangle) Rect {
	r = r.Canon()
	return NewRect(r.Min.X, r.Min.Y, r.Dx(), r.Dy())
}

func (r Rect) Image() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

func (r Rect) Area() int    { return r.Width * r.Height }
func (r Rect) Empty() bool  { return r.Width == 0 || r.Height == 0 }
func (r Rect) IsZero() bool { return r == Rect{} }

func (r Rect) Center() image.Point {
	return image.Pt(r.X+r.Width/2, r.Y+r.Height/2)
}

func (r Rect) CenterVec() Vector2 {
	return FromPoint(r.Center())
}

// Rect of the given size centered on c
func Around(c Vector2, width, height int) Rect {
	return NewRect(int(c.X)-width/2, int(c.Y)-height/2, width, height)
}

// Intersection with [0, cols) x [0, rows)
func (r Rect) Clip(cols, rows int) image.Rectangle {
	return r.Image().Intersect(image.Rect(0, 0, cols, rows))
}

// Returns a single channel CV8U mask of rows x cols that is 255
// inside the (clipped) rect and 0 everywhere else.
// Caller owns the returned Mat.
func (r Rect) Mask(rows, cols int) gocv.Mat {
	mask := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), rows, cols, gocv.MatTypeCV8U)
	clipped := r.Clip(cols, rows)
	if clipped.Empty() {
		return mask
	}
	region := mask.Region(clipped)
	defer region.Close()
	region.SetTo(gocv.NewScalar(255, 0, 0, 0))
	return mask
}

// Returns a copy of frame that is zero outside the (clipped) rect.
// Caller owns the returned Mat.
func (r Rect) Filter(frame gocv.Mat) gocv.Mat {
	result := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), frame.Rows(), frame.Cols(), frame.Type())
	clipped := r.Clip(frame.Cols(), frame.Rows())
	if clipped.Empty() {
		return result
	}
	src := frame.Region(clipped)
	defer src.Close()
	dst := result.Region(clipped)
	defer dst.Close()
	src.CopyTo(&dst)
	return result
}

func (r Rect) Draw(frame *gocv.Mat, c color.RGBA) {
	gocv.Rectangle(frame, r.Image(), c, 1)
}

func (r Rect) String() string {
	return fmt.Sprintf("(x=%d, y=%d, w=%d, h=%d)", r.X, r.Y, r.Width, r.Height)
}

// Largest rect by area. Ties go to the first one seen,
// no rects gives the zero sentinel.
func Largest(rects []Rect) Rect {
	var best Rect
	for _, rect := range rects {
		if rect.Area() > best.Area() {
			best = rect
		}
	}
	return best
}

// Returns a copy of frame with every rect zeroed out.
// Caller owns the returned Mat.
func Erase(frame gocv.Mat, rects []Rect) gocv.Mat {
	result := frame.Clone()
	for _, rect := range rects {
		clipped := rect.Clip(frame.Cols(), frame.Rows())
		if clipped.Empty() {
			continue
		}
		func() {
			region := result.Region(clipped)
			defer region.Close()
			region.SetTo(gocv.NewScalar(0, 0, 0, 0))
		}()
	}
	return result
}
