package track

import (
	"errors"
	"image"
	"math"
	"testing"

	"github.com/Robogera/handflow/pkg/bgsub"
	"github.com/Robogera/handflow/pkg/cascade"
	"github.com/Robogera/handflow/pkg/enums"
	"github.com/Robogera/handflow/pkg/flow"
	"github.com/Robogera/handflow/pkg/geom"
	"github.com/Robogera/handflow/pkg/kalman"
	"gocv.io/x/gocv"
)

const (
	W = 100
	H = 100
)

func squareFrame(x int) gocv.Mat {
	frame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(40, 40, 40, 0), H, W, gocv.MatTypeCV8UC3)
	square := frame.Region(image.Rect(x, 40, x+20, 60))
	square.SetTo(gocv.NewScalar(250, 250, 250, 0))
	square.Close()
	return frame
}

// Never finds anything
type blindDetector struct{ calls int }

func (d *blindDetector) Find(gocv.Mat, cascade.Params) []geom.Rect {
	d.calls++
	return nil
}

// Bounding box of the bright pixels, padded
type brightDetector struct{ pad int }

func (d brightDetector) Find(img gocv.Mat, _ cascade.Params) []geom.Rect {
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)

	box := image.Rectangle{}
	found := false
	for y := range gray.Rows() {
		for x := range gray.Cols() {
			if gray.GetUCharAt(y, x) <= 200 {
				continue
			}
			px := image.Rect(x, y, x+1, y+1)
			if !found {
				box, found = px, true
			} else {
				box = box.Union(px)
			}
		}
	}
	if !found {
		return nil
	}
	return []geom.Rect{geom.FromImage(box.Inset(-d.pad))}
}

// brightDetector that records how many nonzero and bright
// pixels every call was shown
type countingDetector struct {
	brightDetector
	nonzero []int
	bright  []int
}

func (d *countingDetector) Find(img gocv.Mat, p cascade.Params) []geom.Rect {
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)
	d.nonzero = append(d.nonzero, gocv.CountNonZero(gray))

	bright := gocv.NewMat()
	defer bright.Close()
	gocv.Threshold(gray, &bright, 200, 255, gocv.ThresholdBinary)
	d.bright = append(d.bright, gocv.CountNonZero(bright))

	return d.brightDetector.Find(img, p)
}

// Always reports the same rects
type fixedDetector struct{ rects []geom.Rect }

func (d fixedDetector) Find(gocv.Mat, cascade.Params) []geom.Rect {
	return d.rects
}

// Records how much of the frame every mask opens
type recordingFlow struct{ open []int }

func (f *recordingFlow) Direction(prev, curr, mask gocv.Mat) (geom.Vector2, gocv.Mat) {
	f.open = append(f.open, gocv.CountNonZero(mask))
	return geom.Vector2{}, prev.Clone()
}

func TestSentinelOpensWholeFrame(t *testing.T) {
	window, _ := kalman.NewWindow(image.Pt(W, H), image.Pt(30, 30), 1, kalman.WithoutNoise())
	detector := &blindDetector{}
	rec := &recordingFlow{}
	p, err := NewPipeline(nil, Options{
		Stages: Stages{KalmanWindowing: true},
		Target: detector,
		Flow:   rec,
		Window: window,
	})
	if err != nil {
		t.Fatalf("Can't create pipeline: %s", err)
	}
	defer p.Close()

	frames := []gocv.Mat{squareFrame(30), squareFrame(35), squareFrame(40)}
	defer func() {
		for _, f := range frames {
			f.Close()
		}
	}()

	for i := range 2 {
		res, err := p.Detect(frames[i], frames[i+1])
		if err != nil {
			t.Fatalf("Cycle %d failed: %s", i, err)
		}
		if !res.Largest.IsZero() {
			t.Fatalf("Expected the sentinel, got %v", res.Largest)
		}
		res.Close()
	}
	for i, open := range rec.open {
		if open != W*H {
			t.Fatalf("Cycle %d: mask opens %d pixels, want %d", i, open, W*H)
		}
	}
	if detector.calls != 2 || p.Cycles() != 2 {
		t.Fatalf("Detector called %d times over %d cycles", detector.calls, p.Cycles())
	}
}

func TestMovingSquare(t *testing.T) {
	subtractor, err := bgsub.NewSubtractor(2, 20, image.Pt(15, 15))
	if err != nil {
		t.Fatalf("Can't create subtractor: %s", err)
	}
	opts := flow.DefaultOptions()
	opts.MinDist = 1
	lk, err := flow.NewLK(opts)
	if err != nil {
		t.Fatalf("Can't create estimator: %s", err)
	}
	detector := &countingDetector{brightDetector: brightDetector{pad: 3}}
	p, err := NewPipeline(nil, Options{
		Stages:     Stages{BackgroundSubtraction: true},
		Target:     detector,
		Flow:       lk,
		Subtractor: subtractor,
	})
	if err != nil {
		t.Fatalf("Can't create pipeline: %s", err)
	}
	defer p.Close()

	// the third cycle runs on a subtracted frame
	frames := []gocv.Mat{squareFrame(30), squareFrame(35), squareFrame(40), squareFrame(45)}
	defer func() {
		for _, f := range frames {
			f.Close()
		}
	}()

	for i := range 3 {
		res, err := p.Detect(frames[i], frames[i+1])
		if err != nil {
			t.Fatalf("Cycle %d failed: %s", i, err)
		}
		t.Logf("Cycle %d: largest %v, direction %v", i, res.Largest, res.Direction)
		if res.Largest.Empty() {
			t.Fatalf("Cycle %d: square not detected", i)
		}
		if math.Abs(res.Direction.X-5) > 1 || math.Abs(res.Direction.Y) > 1 {
			t.Fatalf("Cycle %d: expected about (5, 0), got %v", i, res.Direction)
		}
		res.Close()
	}

	t.Logf("Nonzero pixels shown to the detector: %v", detector.nonzero)
	for i := range 2 {
		if detector.nonzero[i] != W*H {
			t.Fatalf("Warm-up cycle %d altered the frame: %d nonzero pixels", i, detector.nonzero[i])
		}
	}
	// only the strips the square left and entered survive
	if detector.nonzero[2] >= W*H/4 || detector.bright[2] == 0 {
		t.Fatalf("Static background not removed: %d nonzero, %d bright", detector.nonzero[2], detector.bright[2])
	}
}

func TestFaceSuppression(t *testing.T) {
	face := geom.NewRect(25, 35, 30, 30)
	detector := &countingDetector{brightDetector: brightDetector{pad: 3}}
	rec := &recordingFlow{}
	p, err := NewPipeline(nil, Options{
		Stages: Stages{FaceSuppression: true},
		Target: detector,
		Faces:  fixedDetector{[]geom.Rect{face}},
		Flow:   rec,
	})
	if err != nil {
		t.Fatalf("Can't create pipeline: %s", err)
	}
	defer p.Close()

	prev, curr := squareFrame(30), squareFrame(35)
	defer prev.Close()
	defer curr.Close()

	res, err := p.Detect(prev, curr)
	if err != nil {
		t.Fatalf("Can't detect: %s", err)
	}
	defer res.Close()

	if len(res.Faces) != 1 || res.Faces[0] != face {
		t.Fatalf("Bad faces %v", res.Faces)
	}
	if detector.bright[0] != 0 {
		t.Fatalf("Detector saw %d bright pixels inside the face", detector.bright[0])
	}
	if detector.nonzero[0] != W*H-face.Area() {
		t.Fatalf("Expected %d nonzero pixels, got %d", W*H-face.Area(), detector.nonzero[0])
	}
	if !res.Largest.IsZero() {
		t.Fatalf("Expected the sentinel, got %v", res.Largest)
	}
	if rec.open[0] != W*H {
		t.Fatalf("Flow mask opens %d pixels, want %d", rec.open[0], W*H)
	}
}

func TestSearchWindow(t *testing.T) {
	run := func(x int) (*Result, *countingDetector) {
		window, _ := kalman.NewWindow(image.Pt(W, H), image.Pt(20, 20), 1, kalman.WithoutNoise())
		detector := &countingDetector{brightDetector: brightDetector{pad: 3}}
		p, err := NewPipeline(nil, Options{
			Stages: Stages{KalmanWindowing: true},
			Target: detector,
			Flow:   &recordingFlow{},
			Window: window,
		})
		if err != nil {
			t.Fatalf("Can't create pipeline: %s", err)
		}
		defer p.Close()

		prev, curr := squareFrame(x), squareFrame(x+5)
		defer prev.Close()
		defer curr.Close()
		res, err := p.Detect(prev, curr)
		if err != nil {
			t.Fatalf("Can't detect: %s", err)
		}
		return res, detector
	}

	// window starts at the frame center, (40, 40) to (60, 60)
	want := geom.NewRect(40, 40, 20, 20)

	outside, detector := run(0)
	defer outside.Close()
	if outside.Window != want {
		t.Fatalf("Expected window %v, got %v", want, outside.Window)
	}
	if detector.bright[0] != 0 || !outside.Largest.IsZero() {
		t.Fatalf("Square outside the window detected: %v (%d bright pixels)", outside.Largest, detector.bright[0])
	}
	if detector.nonzero[0] != want.Area() {
		t.Fatalf("Detector saw %d pixels outside the window", detector.nonzero[0]-want.Area())
	}

	inside, detector := run(40)
	defer inside.Close()
	if detector.bright[0] != want.Area() || inside.Largest.Empty() {
		t.Fatalf("Square inside the window missed: %v (%d bright pixels)", inside.Largest, detector.bright[0])
	}
}

func TestMissingStage(t *testing.T) {
	cases := []Options{
		{Flow: &recordingFlow{}},
		{Target: &blindDetector{}},
		{Target: &blindDetector{}, Flow: &recordingFlow{}, Stages: Stages{FaceSuppression: true}},
		{Target: &blindDetector{}, Flow: &recordingFlow{}, Stages: Stages{BackgroundSubtraction: true}},
		{Target: &blindDetector{}, Flow: &recordingFlow{}, Stages: Stages{KalmanWindowing: true}},
	}
	for i, opts := range cases {
		if _, err := NewPipeline(nil, opts); !errors.Is(err, ERR_MISSING_STAGE) {
			t.Fatalf("Case %d: expected missing stage, got %v", i, err)
		}
	}
}

func TestBadPair(t *testing.T) {
	p, _ := NewPipeline(nil, Options{Target: &blindDetector{}, Flow: &recordingFlow{}})
	a := gocv.NewMatWithSize(H, W, gocv.MatTypeCV8UC3)
	defer a.Close()
	b := gocv.NewMatWithSize(H/2, W, gocv.MatTypeCV8UC3)
	defer b.Close()
	empty := gocv.NewMat()
	defer empty.Close()

	if _, err := p.Detect(a, b); !errors.Is(err, ERR_PAIR_GEOMETRY) {
		t.Fatalf("Expected geometry error, got %v", err)
	}
	if _, err := p.Detect(empty, a); !errors.Is(err, ERR_EMPTY_FRAME) {
		t.Fatalf("Expected empty frame error, got %v", err)
	}
}

func TestSnapshots(t *testing.T) {
	subtractor, _ := bgsub.NewSubtractor(2, 20, image.Pt(5, 5))
	window, _ := kalman.NewWindow(image.Pt(W, H), image.Pt(60, 60), 1, kalman.WithoutNoise())
	stages, _, _ := StagesFor(enums.VariantScreenshot)
	p, err := NewPipeline(nil, Options{
		Stages:     stages,
		Target:     brightDetector{pad: 3},
		Faces:      &blindDetector{},
		Flow:       &recordingFlow{},
		Subtractor: subtractor,
		Window:     window,
	})
	if err != nil {
		t.Fatalf("Can't create pipeline: %s", err)
	}
	defer p.Close()

	prev, curr := squareFrame(30), squareFrame(35)
	defer prev.Close()
	defer curr.Close()

	res, err := p.Detect(prev, curr)
	if err != nil {
		t.Fatalf("Can't detect: %s", err)
	}
	defer res.Close()
	names := make([]string, 0, len(res.Snapshots))
	for _, s := range res.Snapshots {
		names = append(names, s.Name)
	}
	t.Logf("Snapshots: %v", names)
	if len(names) != 4 {
		t.Fatalf("Expected 4 snapshots, got %v", names)
	}
	if res.Window.Empty() || res.Corrected.Empty() {
		t.Fatalf("Search window missing: %v %v", res.Window, res.Corrected)
	}
}

func TestVariants(t *testing.T) {
	want := map[enums.Variant]struct {
		stages Stages
		target Target
	}{
		enums.VariantFull:         {Stages{FaceSuppression: true, BackgroundSubtraction: true, KalmanWindowing: true}, TargetHand},
		enums.VariantNoFaceKalman: {Stages{FaceSuppression: true, KalmanWindowing: true}, TargetHand},
		enums.VariantNoFace:       {Stages{FaceSuppression: true}, TargetHand},
		enums.VariantSimple:       {Stages{}, TargetHand},
		enums.VariantFace:         {Stages{}, TargetFace},
		enums.VariantScreenshot:   {Stages{FaceSuppression: true, BackgroundSubtraction: true, KalmanWindowing: true, Snapshots: true}, TargetHand},
	}
	for _, v := range enums.Variants.Members() {
		stages, target, err := StagesFor(v)
		if err != nil {
			t.Fatalf("Variant %s: %s", v.Value, err)
		}
		if stages != want[v].stages || target != want[v].target {
			t.Fatalf("Variant %s: got %+v %s", v.Value, stages, target)
		}
	}
	if _, _, err := StagesFor(enums.Variant{Value: "fancy"}); !errors.Is(err, ERR_UNKNOWN_VARIANT) {
		t.Fatalf("Expected unknown variant, got %v", err)
	}
}
