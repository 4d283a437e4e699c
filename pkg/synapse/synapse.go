package synapse

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Robogera/handflow/pkg/geom"
)

type Command struct {
	Id      uint64   `json:"id"`
	Sender  string   `json:"sender"`
	Type    string   `json:"type"`
	Subject string   `json:"subject"`
	Message *Message `json:"message"`
}

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Box struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Result of one processed frame pair
type Message struct {
	Session   uint64 `json:"session"`
	Frame     uint64 `json:"frame"`
	Timestamp int64  `json:"timestamp_ms"`
	Direction Point  `json:"direction"`
	// Direction normalized by the frame size, same as
	// the text rendering
	Normalized Point  `json:"normalized"`
	Text       string `json:"text"`
	Detected   bool   `json:"detected"`
	Hand       *Box   `json:"hand,omitempty"`
	Window     *Box   `json:"window,omitempty"`
}

func NewPoint(v geom.Vector2) Point { return Point{v.X, v.Y} }

// nil for the nothing detected sentinel
func NewBox(r geom.Rect) *Box {
	if r.Empty() {
		return nil
	}
	return &Box{r.X, r.Y, r.Width, r.Height}
}

func NewMessage(session, frame uint64, timestamp time.Time, direction geom.Vector2, frame_w, frame_h int, hand, window geom.Rect) *Message {
	normalized := geom.Vec(direction.X/float64(max(frame_w, 1)), direction.Y/float64(max(frame_h, 1)))
	return &Message{
		Session:    session,
		Frame:      frame,
		Timestamp:  timestamp.UnixMilli(),
		Direction:  NewPoint(direction),
		Normalized: NewPoint(normalized),
		Text:       DirectionString(normalized),
		Detected:   !hand.Empty(),
		Hand:       NewBox(hand),
		Window:     NewBox(window),
	}
}

// Signed two decimal rendering, "+0.12-0.13"
func DirectionString(normalized geom.Vector2) string {
	return fmt.Sprintf("%+0.2f%+0.2f", normalized.X, normalized.Y)
}

func (c *Command) ToPayload() ([]byte, error) {
	return json.Marshal(c)
}
