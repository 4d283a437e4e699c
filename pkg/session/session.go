package session

import (
	"errors"
	"fmt"
	"image/color"
	"iter"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/Robogera/handflow/pkg/geom"
	"github.com/Robogera/handflow/pkg/gring"
	"github.com/Robogera/handflow/pkg/gsma"
	"github.com/Robogera/handflow/pkg/track"
	"github.com/muesli/gamut"
	"gocv.io/x/gocv"
)

var (
	ERR_NO_SESSION = errors.New("No such session")
)

var base_color = color.RGBA{255, 0, 0, 255}

// Builds the pipeline of a new session
type Factory func(logger *slog.Logger) (*track.Pipeline, error)

// One tracked stream with its own pipeline
type Session struct {
	id         uint64
	name       string
	color      color.RGBA
	opened     time.Time
	logger     *slog.Logger
	pipeline   *track.Pipeline
	trajectory *gring.Ring[geom.Vector2]
	sma        *gsma.SMA2d
}

func (s *Session) Id() uint64          { return s.id }
func (s *Session) Name() string        { return s.name }
func (s *Session) Color() color.RGBA   { return s.color }
func (s *Session) Opened() time.Time   { return s.opened }
func (s *Session) Logger() *slog.Logger { return s.logger }
func (s *Session) Average() geom.Vector2 {
	return s.sma.Show()
}

// Newest to oldest tracked positions
func (s *Session) Trajectory() iter.Seq[geom.Vector2] {
	return s.trajectory.All()
}

// Runs one pipeline cycle and draws the session's trail on
// the annotated frame
func (s *Session) Detect(prev, curr gocv.Mat) (*track.Result, error) {
	result, err := s.pipeline.Detect(prev, curr)
	if err != nil {
		return nil, err
	}
	s.sma.Recalc(result.Direction)

	tracked := result.Corrected
	if tracked.Empty() {
		tracked = result.Largest
	}
	if !tracked.Empty() {
		s.trajectory.Push(tracked.CenterVec())
	}

	var newer *geom.Vector2
	for p := range s.trajectory.All() {
		if newer != nil {
			gocv.Line(&result.Frame, newer.Point(), p.Point(), s.color, 1)
		}
		newer = &p
	}
	return result, nil
}

func (s *Session) close() error {
	return s.pipeline.Close()
}

type Registry struct {
	mu             sync.Mutex
	logger         *slog.Logger
	factory        Factory
	next_id        uint64
	next_color     color.Color
	sessions       map[uint64]*Session
	trajectory_len int
	sma_window     uint
}

func NewRegistry(logger *slog.Logger, factory Factory, trajectory_len int, sma_window uint) *Registry {
	return &Registry{
		logger:         logger,
		factory:        factory,
		next_id:        1,
		next_color:     base_color,
		sessions:       make(map[uint64]*Session),
		trajectory_len: max(trajectory_len, 1),
		sma_window:     max(sma_window, 1),
	}
}

// Opens a session with a fresh id and its own pipeline
func (r *Registry) Open(name string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.next_id
	logger := r.logger.With("session", id, "name", name)
	pipeline, err := r.factory(logger)
	if err != nil {
		return nil, fmt.Errorf("Can't build pipeline for %s: %w", name, err)
	}
	sma, err := gsma.NewSMA2d(r.sma_window)
	if err != nil {
		pipeline.Close()
		return nil, err
	}
	r.next_id++

	r.next_color = gamut.HueOffset(r.next_color, 153)
	red, green, blue, _ := r.next_color.RGBA()
	s := &Session{
		id:         id,
		name:       name,
		color:      color.RGBA{uint8(red >> 8), uint8(green >> 8), uint8(blue >> 8), 255},
		opened:     time.Now(),
		logger:     logger,
		pipeline:   pipeline,
		trajectory: gring.NewRing[geom.Vector2](r.trajectory_len),
		sma:        sma,
	}
	r.sessions[id] = s
	logger.Info("Session opened", "color", s.color)
	return s, nil
}

func (r *Registry) Get(id uint64) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Releases the session's pipeline, the id is never reused
func (r *Registry) Close(id uint64) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%d: %w", id, ERR_NO_SESSION)
	}
	s.logger.Info("Session closed", "lifetime (sec)", time.Since(s.opened).Seconds())
	return s.close()
}

func (r *Registry) CloseAll() error {
	errs := make([]error, 0)
	for _, id := range r.ids() {
		errs = append(errs, r.Close(id))
	}
	return errors.Join(errs...)
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Open sessions ordered by id
func (r *Registry) All() iter.Seq[*Session] {
	return func(yield func(*Session) bool) {
		for _, id := range r.ids() {
			s, ok := r.Get(id)
			if !ok {
				continue
			}
			if !yield(s) {
				return
			}
		}
	}
}

func (r *Registry) ids() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Sorted(maps.Keys(r.sessions))
}
