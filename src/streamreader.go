package main

import (
	// stdlib
	"context"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	// internal
	"github.com/Robogera/handflow/pkg/config"
	"github.com/Robogera/handflow/pkg/enums"
	"github.com/Robogera/handflow/pkg/indexed"

	// external
	"gocv.io/x/gocv"
)

func streamreader(
	ctx context.Context,
	parent_logger *slog.Logger,
	input config.InputConfig,
	frame_size image.Point,
	mat_chan chan<- indexed.Indexed[gocv.Mat],
) error {

	logger := parent_logger.With("coroutine", "streamreader")

	input_type := enums.InputTypes.Parse(input.Type)
	if input_type == nil {
		logger.Error(
			"No valid input type provided. Shutting down...",
			"provided value", input.Type)
		return ERR_INVALID_CONFIG
	}
	if *input_type == enums.InputSequence {
		return sequencereader(ctx, logger, input, frame_size, mat_chan)
	}

	var input_stream *gocv.VideoCapture
	var err error

	switch *input_type {
	case enums.InputFile:
		input_stream, err = gocv.VideoCaptureFile(input.Path)
	case enums.InputWebcam:
		input_stream, err = gocv.VideoCaptureDevice(input.Device)
		if err == nil {
			input_stream.Set(gocv.VideoCaptureFrameWidth, float64(frame_size.X))
			input_stream.Set(gocv.VideoCaptureFrameHeight, float64(frame_size.Y))
		}
	case enums.InputIPC:
		input_stream, err = gocv.OpenVideoCapture(input.Path)
	}

	if err != nil {
		logger.Error(
			"Can't open input",
			"type", input.Type,
			"address", input.Path,
			"err", err)
		return ERR_BAD_INPUT
	}
	defer input_stream.Close()

	logger.Info("Started", "type", input.Type, "address", input.Path)

	var frame_id uint64 = 0

	for {
		select {
		case <-ctx.Done():
			logger.Info("Cancelled by context")
			return context.Canceled
		default:
			// Reciever of this is responsible for closing
			img := gocv.NewMat()
			if !input_stream.Read(&img) {
				img.Close()
				logger.Error("Can't read next frame. Shutting down...", "stream", input.Path)
				return ERR_STREAM_ENDED
			}
			if img.Empty() {
				logger.Error("Empty frame received, skipping", "stream", input.Path)
				img.Close()
				continue
			}
			fit(&img, frame_size)

			select {
			case <-ctx.Done():
				img.Close()
				logger.Info("Cancelled by context")
				return context.Canceled
			case mat_chan <- indexed.NewIndexed(frame_id, time.Now(), img):
				frame_id++
			}
		}
	}
}

// Plays a directory of jpg frames in name order, the layout
// the recorder writes
func sequencereader(
	ctx context.Context,
	logger *slog.Logger,
	input config.InputConfig,
	frame_size image.Point,
	mat_chan chan<- indexed.Indexed[gocv.Mat],
) error {

	entries, err := os.ReadDir(input.Path)
	if err != nil {
		logger.Error("Can't open sequence folder", "path", input.Path, "error", err)
		return ERR_BAD_INPUT
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(strings.ToLower(e.Name()), ".jpg") {
			names = append(names, filepath.Join(input.Path, e.Name()))
		}
	}
	slices.Sort(names)
	if len(names) == 0 {
		logger.Error("Sequence folder has no frames", "path", input.Path)
		return ERR_BAD_INPUT
	}

	logger.Info("Started", "type", input.Type, "frames", len(names))

	var frame_id uint64 = 0

	for _, name := range names {
		select {
		case <-ctx.Done():
			logger.Info("Cancelled by context")
			return context.Canceled
		default:
		}

		img := gocv.IMRead(name, gocv.IMReadColor)
		if img.Empty() {
			logger.Error("Empty frame received, skipping", "file", name)
			img.Close()
			continue
		}
		fit(&img, frame_size)

		select {
		case <-ctx.Done():
			img.Close()
			logger.Info("Cancelled by context")
			return context.Canceled
		case mat_chan <- indexed.NewIndexed(frame_id, time.Now(), img):
			frame_id++
		}
	}
	logger.Info("Sequence finished", "frames", frame_id)
	return ERR_STREAM_ENDED
}

// Resizes img in place unless it already has the pipeline's geometry
func fit(img *gocv.Mat, frame_size image.Point) {
	if img.Cols() == frame_size.X && img.Rows() == frame_size.Y {
		return
	}
	gocv.Resize(*img, img, frame_size, 0, 0, gocv.InterpolationLinear)
}
