// Package geometry provides basic geometric types used throughout the application.
package geometry

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"
)

// Point2D represents a 2D point with floating-point coordinates.
type Point2D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// NewPoint2D creates a new Point2D.
func NewPoint2D(x, y float64) Point2D {
	return Point2D{X: x, Y: y}
}

func (p Point2D) vec() r2.Vec {
	return r2.Vec{X: p.X, Y: p.Y}
}

func fromVec(v r2.Vec) Point2D {
	return Point2D{X: v.X, Y: v.Y}
}

// Distance returns the Euclidean distance to another point.
func (p Point2D) Distance(other Point2D) float64 {
	return r2.Norm(r2.Sub(p.vec(), other.vec()))
}

// Add returns the sum of two points.
func (p Point2D) Add(other Point2D) Point2D {
	return fromVec(r2.Add(p.vec(), other.vec()))
}

// Sub returns the difference of two points.
func (p Point2D) Sub(other Point2D) Point2D {
	return fromVec(r2.Sub(p.vec(), other.vec()))
}

// Scale returns the point scaled by a factor.
func (p Point2D) Scale(factor float64) Point2D {
	return fromVec(r2.Scale(factor, p.vec()))
}

// Unit returns the unit vector in the direction of p, or the zero point for a zero vector.
func (p Point2D) Unit() Point2D {
	if p.X == 0 && p.Y == 0 {
		return Point2D{}
	}
	return fromVec(r2.Unit(p.vec()))
}

// Lerp returns the point a fraction t of the way from p to other.
func (p Point2D) Lerp(other Point2D, t float64) Point2D {
	return p.Add(other.Sub(p).Scale(t))
}

// Round returns the nearest integer point.
func (p Point2D) Round() PointInt {
	return PointInt{X: int(math.Round(p.X)), Y: int(math.Round(p.Y))}
}

// PointInt represents a 2D point with integer coordinates.
type PointInt struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// ToFloat converts to Point2D.
func (p PointInt) ToFloat() Point2D {
	return Point2D{X: float64(p.X), Y: float64(p.Y)}
}

// Size represents a 2D size in pixels.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Empty reports whether the size has no area.
func (s Size) Empty() bool {
	return s.Width <= 0 || s.Height <= 0
}

// Fit returns the uniform scale factor that makes s fit within max on both sides.
// Sizes already inside max return 1.
func (s Size) Fit(max int) float64 {
	if s.Empty() || (s.Width <= max && s.Height <= max) {
		return 1
	}
	return math.Min(float64(max)/float64(s.Width), float64(max)/float64(s.Height))
}

// RectInt represents a rectangle with integer coordinates.
type RectInt struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Empty reports whether the rectangle has no area.
func (r RectInt) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Contains returns true if the point lies inside the rectangle.
func (r RectInt) Contains(p PointInt) bool {
	return p.X >= r.X && p.X < r.X+r.Width &&
		p.Y >= r.Y && p.Y < r.Y+r.Height
}

// Union returns the smallest rectangle containing both rectangles.
func (r RectInt) Union(other RectInt) RectInt {
	if r.Empty() {
		return other
	}
	if other.Empty() {
		return r
	}
	x := min(r.X, other.X)
	y := min(r.Y, other.Y)
	x2 := max(r.X+r.Width, other.X+other.Width)
	y2 := max(r.Y+r.Height, other.Y+other.Height)
	return RectInt{X: x, Y: y, Width: x2 - x, Height: y2 - y}
}

// Size returns the rectangle's dimensions.
func (r RectInt) Size() Size {
	return Size{Width: r.Width, Height: r.Height}
}

// BoundingBox accumulates the inclusive bounding box of a set of integer points.
type BoundingBox struct {
	minX, minY int
	maxX, maxY int
	n          int
}

// Add extends the box to include (x, y).
func (b *BoundingBox) Add(x, y int) {
	if b.n == 0 {
		b.minX, b.maxX = x, x
		b.minY, b.maxY = y, y
	} else {
		b.minX = min(b.minX, x)
		b.maxX = max(b.maxX, x)
		b.minY = min(b.minY, y)
		b.maxY = max(b.maxY, y)
	}
	b.n++
}

// Count returns the number of points added.
func (b *BoundingBox) Count() int {
	return b.n
}

// Rect returns the box as a rectangle; both ends are inclusive, so a single point has size 1x1.
func (b *BoundingBox) Rect() RectInt {
	if b.n == 0 {
		return RectInt{}
	}
	return RectInt{X: b.minX, Y: b.minY, Width: b.maxX - b.minX + 1, Height: b.maxY - b.minY + 1}
}
