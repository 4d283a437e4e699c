package gsma

import (
	"errors"
	"fmt"

	"github.com/Robogera/handflow/pkg/geom"
	"github.com/Robogera/handflow/pkg/gring"
	"golang.org/x/exp/constraints"
)

var (
	ERR_VALUE = errors.New("Bad value")
)

type Number interface {
	constraints.Float | constraints.Integer
}

// Simple moving average over the last capacity values
type SMA[T Number] struct {
	data    *gring.Ring[T]
	average float64
}

func NewSMA[T Number](capacity uint) (*SMA[T], error) {
	if capacity < 1 {
		return nil, fmt.Errorf("Invalid capacity: %d. Error: %w", capacity, ERR_VALUE)
	}
	return &SMA[T]{
		data:    gring.NewRing[T](int(capacity)),
		average: 0,
	}, nil
}

func (s *SMA[T]) Recalc(new_value T) float64 {
	oldest_value, evicted := s.data.Push(new_value)
	if evicted {
		s.average += (float64(new_value) - float64(oldest_value)) / float64(s.data.Cap())
	} else {
		s.average += (float64(new_value) - s.average) / float64(s.data.Size())
	}
	return s.average
}

func (s *SMA[T]) Show() float64 { return s.average }
func (s *SMA[T]) Len() int      { return s.data.Size() }

// Moving average of 2d vectors
type SMA2d struct {
	x, y *SMA[float64]
}

func NewSMA2d(capacity uint) (*SMA2d, error) {
	x, err := NewSMA[float64](capacity)
	if err != nil {
		return nil, err
	}
	y, err := NewSMA[float64](capacity)
	if err != nil {
		return nil, err
	}
	return &SMA2d{x: x, y: y}, nil
}

func (s *SMA2d) Recalc(v geom.Vector2) geom.Vector2 {
	return geom.Vec(s.x.Recalc(v.X), s.y.Recalc(v.Y))
}

func (s *SMA2d) Show() geom.Vector2 { return geom.Vec(s.x.Show(), s.y.Show()) }
