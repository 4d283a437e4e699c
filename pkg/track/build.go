package track

import (
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"

	"github.com/Robogera/handflow/pkg/bgsub"
	"github.com/Robogera/handflow/pkg/cascade"
	"github.com/Robogera/handflow/pkg/config"
	"github.com/Robogera/handflow/pkg/enums"
	"github.com/Robogera/handflow/pkg/flow"
	"github.com/Robogera/handflow/pkg/kalman"
)

var (
	ERR_UNKNOWN_VARIANT = errors.New("Unknown variant")
)

type Target int

const (
	TargetHand Target = iota
	TargetFace
)

func (t Target) String() string {
	if t == TargetFace {
		return "face"
	}
	return "hand"
}

// Stages and tracked object of a named variant
func StagesFor(variant enums.Variant) (Stages, Target, error) {
	switch variant {
	case enums.VariantFull:
		return Stages{FaceSuppression: true, BackgroundSubtraction: true, KalmanWindowing: true}, TargetHand, nil
	case enums.VariantNoFaceKalman:
		return Stages{FaceSuppression: true, KalmanWindowing: true}, TargetHand, nil
	case enums.VariantNoFace:
		return Stages{FaceSuppression: true}, TargetHand, nil
	case enums.VariantSimple:
		return Stages{}, TargetHand, nil
	case enums.VariantFace:
		return Stages{}, TargetFace, nil
	case enums.VariantScreenshot:
		return Stages{FaceSuppression: true, BackgroundSubtraction: true, KalmanWindowing: true, Snapshots: true}, TargetHand, nil
	}
	return Stages{}, TargetHand, fmt.Errorf("%q: %w", variant.Value, ERR_UNKNOWN_VARIANT)
}

func DetectorParams(d config.DetectorConfig) cascade.Params {
	return cascade.Params{
		ScaleFactor:  d.ScaleFactor,
		MinNeighbors: int(d.MinNeighbors),
		Flags:        cascade.DefaultFlags,
		MinSize:      image.Pt(int(d.MinSize[0]), int(d.MinSize[1])),
		MaxSize:      image.Pt(int(d.MaxSize[0]), int(d.MaxSize[1])),
	}
}

func FlowOptions(f config.FlowConfig) flow.Options {
	return flow.Options{
		MinDist:     f.MinDist,
		MaxDist:     f.MaxDist,
		MaxCorners:  int(f.MaxCorners),
		Quality:     f.Quality,
		MinDistance: f.MinDistance,
		Aggregate:   flow.Aggregate(f.Aggregate),
	}
}

func KalmanOptions(k config.KalmanConfig) []kalman.Option {
	opts := []kalman.Option{kalman.WithSigmas(k.PSigma, k.QSigma, k.RSigma)}
	if k.Noise {
		return append(opts, kalman.WithNoise(k.Seed))
	}
	return append(opts, kalman.WithoutNoise())
}

// Assembles the pipeline of the configured variant for frames of
// the given size. Cascades are loaded here and owned by the pipeline.
func Build(logger *slog.Logger, cfg *config.ConfigFile, frame image.Point) (*Pipeline, error) {
	variant := enums.Variants.Parse(cfg.Pipeline.Variant)
	if variant == nil {
		return nil, fmt.Errorf("%q: %w", cfg.Pipeline.Variant, ERR_UNKNOWN_VARIANT)
	}
	stages, target, err := StagesFor(*variant)
	if err != nil {
		return nil, err
	}

	owned := make([]io.Closer, 0, 2)
	cleanup := func() {
		for _, c := range owned {
			c.Close()
		}
	}

	opts := Options{Stages: stages}

	var faces *cascade.Detector
	if stages.FaceSuppression || target == TargetFace {
		faces, err = cascade.NewDetector(cfg.Cascade.FacePath)
		if err != nil {
			return nil, err
		}
		owned = append(owned, faces)
		opts.FaceParams = DetectorParams(cfg.Detector.Face)
	}
	if stages.FaceSuppression {
		opts.Faces = faces
	}

	switch target {
	case TargetFace:
		opts.Target = faces
		opts.TargetParams = DetectorParams(cfg.Detector.Face)
	default:
		hands, err := cascade.NewDetector(cfg.Cascade.HandPath)
		if err != nil {
			cleanup()
			return nil, err
		}
		owned = append(owned, hands)
		opts.Target = hands
		opts.TargetParams = DetectorParams(cfg.Detector.Hand)
	}

	lk, err := flow.NewLK(FlowOptions(cfg.Flow))
	if err != nil {
		cleanup()
		return nil, err
	}
	opts.Flow = lk

	if stages.BackgroundSubtraction {
		blur := int(cfg.Background.Blur)
		opts.Subtractor, err = bgsub.NewSubtractor(int(cfg.Background.Frames), cfg.Background.Threshold, image.Pt(blur, blur))
		if err != nil {
			cleanup()
			return nil, err
		}
	}

	if stages.KalmanWindowing {
		opts.Window, err = kalman.NewWindow(
			frame,
			image.Pt(int(cfg.Window.Width), int(cfg.Window.Height)),
			cfg.Window.DirectionScale,
			KalmanOptions(cfg.Kalman)...)
		if err != nil {
			cleanup()
			return nil, err
		}
	}

	pipeline, err := NewPipeline(logger, opts)
	if err != nil {
		cleanup()
		return nil, err
	}
	pipeline.owned = owned
	pipeline.logger.Info(
		"Pipeline built",
		"variant", variant.Value,
		"target", target,
		"stages", fmt.Sprintf("%+v", stages))
	return pipeline, nil
}
