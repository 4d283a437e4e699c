package kalman

import (
	"errors"
	"image"
	"math"
	"testing"

	"github.com/Robogera/handflow/pkg/geom"
	"gonum.org/v1/gonum/mat"
)

func identity(n int) *mat.Dense { return eye(n, 1) }

func TestConvergence(t *testing.T) {
	kf, err := NewFilter(2, 2, 0, WithSigmas(0.1, 0, 1e-9), WithoutNoise())
	if err != nil {
		t.Fatalf("Can't create filter: %s", err)
	}
	kf.Init(identity(2), nil, Optional{H: identity(2), Q: mat.NewDense(2, 2, nil)})

	z := mat.NewVecDense(2, []float64{4, -2})
	for range 10 {
		kf.Predict(nil)
		if _, err := kf.Correct(z); err != nil {
			t.Fatalf("Can't correct: %s", err)
		}
	}
	x := kf.State()
	t.Logf("State after 10 corrections: %v", mat.Formatted(x.T()))
	if math.Abs(x.AtVec(0)-4) > 1e-6 || math.Abs(x.AtVec(1)+2) > 1e-6 {
		t.Fatalf("State did not converge to the measurement")
	}
}

func TestSelfConsistency(t *testing.T) {
	kf, _ := NewFilter(4, 2, 0, WithoutNoise())
	a := mat.NewDense(4, 4, []float64{
		1, 0, 1, 0,
		0, 1, 0, 1,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})
	h := mat.NewDense(2, 4, []float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
	})
	kf.Init(a, mat.NewVecDense(4, []float64{10, 20, 1, -1}), Optional{H: h})

	z := kf.Predict(nil)
	before := kf.State()
	if _, err := kf.Correct(z); err != nil {
		t.Fatalf("Can't correct: %s", err)
	}
	after := kf.State()
	if !mat.EqualApprox(before, after, 1e-12) {
		t.Fatalf("Correcting with the prediction moved the state: %v -> %v",
			mat.Formatted(before.T()), mat.Formatted(after.T()))
	}
}

func TestMonotonicTracking(t *testing.T) {
	kf, _ := NewFilter(2, 2, 0, WithoutNoise())
	kf.Init(identity(2), nil, Optional{H: identity(2)})

	prev := kf.State()
	for i := 1; i <= 3; i++ {
		z := mat.NewVecDense(2, []float64{float64(i), float64(i)})
		kf.Predict(nil)
		if _, err := kf.Correct(z); err != nil {
			t.Fatalf("Can't correct: %s", err)
		}
		x := kf.State()
		t.Logf("Step %d: %v", i, mat.Formatted(x.T()))
		for c := range 2 {
			if x.AtVec(c) <= prev.AtVec(c) || x.AtVec(c) > z.AtVec(c) {
				t.Fatalf("Step %d: component %d moved from %f to %f, measurement %f",
					i, c, prev.AtVec(c), x.AtVec(c), z.AtVec(c))
			}
		}
		prev = x
	}
}

func TestDefaulting(t *testing.T) {
	kf, _ := NewFilter(2, 2, 1, WithoutNoise())
	kf.Init(
		mat.NewDense(3, 3, nil),
		mat.NewVecDense(5, nil),
		Optional{
			B: mat.NewDense(3, 3, nil),
			H: mat.NewDense(1, 2, nil),
			P: mat.NewDense(1, 1, []float64{7}),
		})

	p := kf.Covariance()
	if !mat.EqualApprox(p, eye(2, DefaultPSigma), 1e-12) {
		t.Fatalf("Mis-shaped P was not defaulted: %v", mat.Formatted(p))
	}
	// A = I, B = 0, so nothing moves
	kf.Predict(mat.NewVecDense(1, []float64{100}))
	if x := kf.State(); x.AtVec(0) != 0 || x.AtVec(1) != 0 {
		t.Fatalf("Defaulted model moved the state: %v", mat.Formatted(x.T()))
	}
	if n, m, l := kf.Dims(); n != 2 || m != 2 || l != 1 {
		t.Fatalf("Bad dims %d %d %d", n, m, l)
	}
}

func TestErrors(t *testing.T) {
	if _, err := NewFilter(0, 1, 0); !errors.Is(err, ERR_DIMS) {
		t.Fatalf("Expected dims error, got %v", err)
	}

	kf, _ := NewFilter(2, 2, 0)
	if _, err := kf.Correct(mat.NewVecDense(3, nil)); !errors.Is(err, ERR_MEASUREMENT_SHAPE) {
		t.Fatalf("Expected shape error, got %v", err)
	}

	// H = 0 and R = 0 leave nothing to invert
	kf.Init(nil, mat.NewVecDense(2, []float64{1, 2}), Optional{R: mat.NewDense(2, 2, nil)})
	if _, err := kf.Correct(mat.NewVecDense(2, []float64{5, 5})); !errors.Is(err, ERR_SINGULAR) {
		t.Fatalf("Expected singular error, got %v", err)
	}
	if x := kf.State(); x.AtVec(0) != 1 || x.AtVec(1) != 2 {
		t.Fatalf("Failed correction changed the state")
	}
}

func TestNoiseIsSeeded(t *testing.T) {
	run := func() []float64 {
		kf, _ := NewFilter(2, 2, 0, WithNoise(42))
		kf.Init(identity(2), mat.NewVecDense(2, []float64{3, 3}), Optional{H: identity(2)})
		out := make([]float64, 0, 6)
		for range 3 {
			est := kf.Predict(nil)
			out = append(out, est.AtVec(0), est.AtVec(1))
		}
		return out
	}
	a, b := run(), run()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("Same seed gave different estimates: %v vs %v", a, b)
		}
		// sigma is ‖0.1·I‖ ≈ 0.14, 10 sigma is plenty
		if math.Abs(a[i]-3) > 1.5 {
			t.Fatalf("Noise too large: %v", a)
		}
	}
}

func TestWindow(t *testing.T) {
	w, err := NewWindow(image.Pt(320, 240), image.Pt(100, 180), 1, WithoutNoise())
	if err != nil {
		t.Fatalf("Can't create window: %s", err)
	}
	start := w.Predict()
	if c := start.Center(); c != image.Pt(160, 120) {
		t.Fatalf("Window should start at the frame center, got %v", start)
	}
	if start.Width != 100 || start.Height != 180 {
		t.Fatalf("Bad window size %v", start)
	}

	x := 160
	for range 10 {
		x += 10
		detected := geom.Around(geom.Vec(float64(x), 120), 30, 30)
		w.Predict()
		if _, err := w.Correct(detected, geom.Vec(10, 0)); err != nil {
			t.Fatalf("Can't correct window: %s", err)
		}
	}
	pos, vel := w.State()
	t.Logf("Window state: %v %v", pos, vel)
	if pos.X <= 200 || vel.X <= 1 {
		t.Fatalf("Window did not follow the target: %v %v", pos, vel)
	}

	// nothing detected: position is held against the prediction,
	// only the velocity correction leaks into it
	predicted := w.Predict()
	corrected, err := w.Correct(geom.Rect{}, geom.Vec(0, 0))
	if err != nil {
		t.Fatalf("Can't correct window: %s", err)
	}
	t.Logf("Predicted %v, corrected %v", predicted, corrected)
	if d := corrected.CenterVec().Dist(predicted.CenterVec()); d > 4 {
		t.Fatalf("Sentinel correction moved the window by %f", d)
	}
}
