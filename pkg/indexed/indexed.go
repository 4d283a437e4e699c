package indexed

import "time"

// Value tagged with its frame id and capture time
type Indexed[T any] struct {
	id        uint64
	timestamp time.Time
	value     T
}

func NewIndexed[T any](id uint64, timestamp time.Time, value T) Indexed[T] {
	return Indexed[T]{id, timestamp, value}
}

func (i Indexed[T]) Less(other Indexed[T]) bool { return i.id < other.id }
func (i Indexed[T]) Id() uint64                 { return i.id }
func (i Indexed[T]) Timestamp() time.Time       { return i.timestamp }
func (i Indexed[T]) Value() T                   { return i.value }

// Same id and timestamp, new value
func Retag[T, U any](from Indexed[T], value U) Indexed[U] {
	return Indexed[U]{from.id, from.timestamp, value}
}
