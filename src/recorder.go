package main

import (
	// stdlib
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	// internal
	"github.com/Robogera/handflow/pkg/config"
	"github.com/Robogera/handflow/pkg/indexed"

	// external
	"gocv.io/x/gocv"
)

// Writes annotated frames as <path>/<session name>/img0000.jpg,
// the layout the sequence input reads back
func recorder(
	ctx context.Context,
	parent_logger *slog.Logger,
	cfg *config.ConfigFile,
	in_chan <-chan indexed.Indexed[ProcessedFrame],
) error {

	logger := parent_logger.With("coroutine", "recorder")

	if err := os.MkdirAll(cfg.Recorder.Path, 0o755); err != nil {
		logger.Error("Can't create recordings folder", "path", cfg.Recorder.Path, "error", err)
		return err
	}

	written := make(map[uint64]uint)

	logger.Info("Started", "path", cfg.Recorder.Path, "max frames", cfg.Recorder.MaxFrames)

	for {
		select {
		case <-ctx.Done():
			logger.Info("Cancelled by context", "sessions", len(written))
			return context.Canceled
		case frame := <-in_chan:
			value := frame.Value()
			if err := record(logger, cfg.Recorder, written, value); err != nil {
				value.Mat.Close()
				return err
			}
			value.Mat.Close()
		}
	}
}

func record(logger *slog.Logger, cfg config.RecorderConfig, written map[uint64]uint, frame ProcessedFrame) error {
	n := written[frame.Session]
	if cfg.MaxFrames != 0 && n >= cfg.MaxFrames {
		return nil
	}
	dir := filepath.Join(cfg.Path, frame.Name)
	if n == 0 {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Error("Can't create session folder", "path", dir, "error", err)
			return err
		}
	}
	name := filepath.Join(dir, fmt.Sprintf("img%04d.jpg", n))
	if !gocv.IMWrite(name, *frame.Mat) {
		logger.Error("Can't write frame", "file", name)
		return ERR_BAD_OUTPUT
	}
	n++
	written[frame.Session] = n
	if n == cfg.MaxFrames {
		logger.Info("Recording finished", "session", frame.Session, "frames", n, "path", dir)
	}
	return nil
}
