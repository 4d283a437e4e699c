package kalman

import (
	"fmt"
	"image"

	"github.com/Robogera/handflow/pkg/geom"
	"gonum.org/v1/gonum/mat"
)

// Search window tracker. State is (cx, cy, vx, vy) with a
// constant velocity model, every component is measured directly.
type Window struct {
	filter *Filter
	size   image.Point
	scale  float64
}

// Window of the given size starting at the frame center at rest.
// scale converts a flow direction into velocity units.
func NewWindow(frame image.Point, size image.Point, scale float64, opts ...Option) (*Window, error) {
	filter, err := NewFilter(4, 4, 0, opts...)
	if err != nil {
		return nil, fmt.Errorf("Can't create window filter: %w", err)
	}
	a := mat.NewDense(4, 4, []float64{
		1, 0, 1, 0,
		0, 1, 0, 1,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})
	x := mat.NewVecDense(4, []float64{float64(frame.X) / 2, float64(frame.Y) / 2, 0, 0})
	filter.Init(a, x, Optional{H: eye(4, 1)})
	return &Window{filter: filter, size: size, scale: scale}, nil
}

func (w *Window) Predict() geom.Rect {
	return w.rect(w.filter.Predict(nil))
}

// Corrects with the detection center and the scaled direction.
// A sentinel detection keeps the expected position so only the
// velocity gets corrected.
func (w *Window) Correct(detected geom.Rect, direction geom.Vector2) (geom.Rect, error) {
	var pos geom.Vector2
	if detected.Empty() {
		expected := w.filter.Expected()
		pos = geom.Vec(expected.AtVec(0), expected.AtVec(1))
	} else {
		pos = detected.CenterVec()
	}
	vel := direction.Scale(w.scale)
	estimate, err := w.filter.Correct(mat.NewVecDense(4, []float64{pos.X, pos.Y, vel.X, vel.Y}))
	if err != nil {
		return geom.Rect{}, err
	}
	return w.rect(estimate), nil
}

// Position and velocity of the filter state
func (w *Window) State() (pos geom.Vector2, vel geom.Vector2) {
	x := w.filter.State()
	return geom.Vec(x.AtVec(0), x.AtVec(1)), geom.Vec(x.AtVec(2), x.AtVec(3))
}

func (w *Window) Size() image.Point { return w.size }

func (w *Window) rect(estimate mat.Vector) geom.Rect {
	return geom.Around(geom.Vec(estimate.AtVec(0), estimate.AtVec(1)), w.size.X, w.size.Y)
}
