package main

import (
	// stdlib
	"context"
	"log/slog"
	"time"

	// internal
	"github.com/Robogera/handflow/pkg/config"
	"github.com/Robogera/handflow/pkg/enums"
	"github.com/Robogera/handflow/pkg/indexed"
	"github.com/Robogera/handflow/pkg/session"
	"github.com/Robogera/handflow/pkg/synapse"

	// external
	"gocv.io/x/gocv"
)

// Annotated frame of one session. view is empty for the main
// output and names the snapshot otherwise
type ProcessedFrame struct {
	Session uint64
	Name    string
	View    string
	Mat     *gocv.Mat
}

// Outputs of the processors, a nil channel disables the sink
type Sinks struct {
	web      chan<- indexed.Indexed[ProcessedFrame]
	recorder chan<- indexed.Indexed[ProcessedFrame]
	messages chan<- indexed.Indexed[*synapse.Message]
	stats    chan<- Statistics
}

func processor(
	ctx context.Context,
	s *session.Session,
	cfg *config.ConfigFile,
	in_chan <-chan indexed.Indexed[gocv.Mat],
	sinks Sinks,
) error {

	logger := s.Logger().With("coroutine", "processor")

	pairing := enums.Pairings.Parse(cfg.Pipeline.Pairing)
	if pairing == nil {
		logger.Error("No valid pairing provided. Shutting down...", "provided value", cfg.Pipeline.Pairing)
		return ERR_INVALID_CONFIG
	}

	var prev *indexed.Indexed[gocv.Mat]
	defer func() {
		if prev != nil {
			m := prev.Value()
			m.Close()
		}
	}()

	logger.Info("Started", "variant", cfg.Pipeline.Variant, "pairing", pairing.Value)

	for {
		select {
		case <-ctx.Done():
			logger.Info("Cancelled by context")
			return context.Canceled
		case frame, ok := <-in_chan:
			if !ok {
				logger.Info("Input closed")
				return ERR_STREAM_ENDED
			}
			curr := frame.Value()
			if cfg.Pipeline.Mirror {
				gocv.Flip(curr, &curr, 1)
			}
			if prev == nil {
				prev = &frame
				continue
			}
			prev_mat := prev.Value()

			started := time.Now()
			result, err := s.Detect(prev_mat, curr)
			if err != nil {
				curr.Close()
				logger.Error("Detection failed", "frame", frame.Id(), "error", err)
				return err
			}
			elapsed := time.Since(started)

			message := synapse.NewMessage(
				s.Id(), prev.Id(), prev.Timestamp(), result.Direction,
				curr.Cols(), curr.Rows(), result.Largest, result.Corrected)
			logger.Debug("Processed", "frame", prev.Id(), "direction", message.Text, "elapsed (ms)", elapsed.Milliseconds())

			if sinks.web != nil {
				dispatch(logger, sinks.web, prev, s, "", result.Frame)
				for _, snapshot := range result.Snapshots {
					dispatch(logger, sinks.web, prev, s, snapshot.Name, snapshot.Frame)
				}
			}
			if sinks.recorder != nil {
				dispatch(logger, sinks.recorder, prev, s, "", result.Frame)
			}
			if sinks.messages != nil {
				select {
				case sinks.messages <- indexed.Retag(*prev, message):
				default:
					logger.Warn("Message channel full. Droping the message...", "capacity", cap(sinks.messages))
				}
			}
			if sinks.stats != nil {
				select {
				case sinks.stats <- Statistics{
					session:    s.Id(),
					name:       s.Name(),
					processing: elapsed,
					direction:  result.Direction,
					hand:       result.Largest,
				}:
				default:
				}
			}
			result.Close()

			prev_mat.Close()
			switch *pairing {
			case enums.PairingSliding:
				prev = &frame
			case enums.PairingDisjoint:
				curr.Close()
				prev = nil
			}
		}
	}
}

// Sends a copy of mat, the reciever closes it
func dispatch(
	logger *slog.Logger,
	out_chan chan<- indexed.Indexed[ProcessedFrame],
	source *indexed.Indexed[gocv.Mat],
	s *session.Session,
	view string,
	mat gocv.Mat,
) {
	clone := mat.Clone()
	select {
	case out_chan <- indexed.Retag(*source, ProcessedFrame{
		Session: s.Id(),
		Name:    s.Name(),
		View:    view,
		Mat:     &clone,
	}):
	default:
		clone.Close()
		logger.Warn("Frame channel full. Droping the frame...", "capacity", cap(out_chan), "view", view)
	}
}
