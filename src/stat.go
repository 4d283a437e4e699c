package main

import (
	// stdlib
	"context"
	"log/slog"
	"time"

	// internal
	"github.com/Robogera/handflow/pkg/geom"
	"github.com/Robogera/handflow/pkg/gsma"
)

type Statistics struct {
	session    uint64
	name       string
	processing time.Duration
	direction  geom.Vector2
	hand       geom.Rect
}

// Per session moving averages
type sessionStats struct {
	name                   string
	frames                 uint
	frames_since_last_tick uint
	detected               uint
	processing             *gsma.SMA[int64]
	direction              *gsma.SMA2d
	hand_area              *gsma.SMA[int]
}

func newSessionStats(name string, window uint) (*sessionStats, error) {
	processing, err := gsma.NewSMA[int64](window)
	if err != nil {
		return nil, err
	}
	direction, err := gsma.NewSMA2d(window)
	if err != nil {
		return nil, err
	}
	hand_area, err := gsma.NewSMA[int](window)
	if err != nil {
		return nil, err
	}
	return &sessionStats{
		name:       name,
		processing: processing,
		direction:  direction,
		hand_area:  hand_area,
	}, nil
}

func (s *sessionStats) add(st Statistics) {
	s.frames++
	s.frames_since_last_tick++
	s.processing.Recalc(st.processing.Microseconds())
	s.direction.Recalc(st.direction)
	// only frames with a detection count towards the hand size
	if !st.hand.Empty() {
		s.detected++
		s.hand_area.Recalc(st.hand.Area())
	}
}

func stat(
	ctx context.Context,
	parent_logger *slog.Logger,
	stats <-chan Statistics,
	stat_period_sec uint,
	window uint,
) error {

	logger := parent_logger.With("coroutine", "stat")

	stat_period_sec = max(stat_period_sec, 1)
	by_session := make(map[uint64]*sessionStats)
	ticker := time.NewTicker(time.Second * time.Duration(stat_period_sec))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Stat cancelled by context")
			return context.Canceled
		case st := <-stats:
			s, ok := by_session[st.session]
			if !ok {
				var err error
				s, err = newSessionStats(st.name, window)
				if err != nil {
					logger.Error("Can't create averages", "window", window, "error", err)
					return err
				}
				by_session[st.session] = s
			}
			s.add(st)
		case <-ticker.C:
			for id, s := range by_session {
				logger.Info(
					"Stats",
					"session", id,
					"name", s.name,
					"frames processed", s.frames,
					"frames per second", float64(s.frames_since_last_tick)/float64(stat_period_sec),
					"detected", s.detected,
					"processing (us)", s.processing.Show(),
					"average direction", s.direction.Show(),
					"average hand area", s.hand_area.Show())
				s.frames_since_last_tick = 0
			}
		}
	}
}
