package geom

import (
	"fmt"
	"image"
	"math"
)

// 2d vector, all operations return new values
type Vector2 struct {
	X, Y float64
}

func Vec(x, y float64) Vector2 { return Vector2{x, y} }

func (v Vector2) Add(u Vector2) Vector2 { return Vector2{v.X + u.X, v.Y + u.Y} }
func (v Vector2) Negate() Vector2       { return Vector2{-v.X, -v.Y} }
func (v Vector2) Sub(u Vector2) Vector2 { return v.Add(u.Negate()) }
func (v Vector2) Scale(k float64) Vector2 {
	return Vector2{k * v.X, k * v.Y}
}

// Euclidean length
func (v Vector2) Norm() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y)
}

func (v Vector2) Dist(u Vector2) float64 {
	return v.Sub(u).Norm()
}

// Truncates both components, same as the drawing code expects
func (v Vector2) Point() image.Point {
	return image.Pt(int(v.X), int(v.Y))
}

func FromPoint(p image.Point) Vector2 {
	return Vector2{float64(p.X), float64(p.Y)}
}

func (v Vector2) String() string {
	return fmt.Sprintf("(%.2f, %.2f)", v.X, v.Y)
}
