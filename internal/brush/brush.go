// Package brush turns pointer input into circle stamps on a session-space raster.
package brush

import (
	"image/color"
	"math"

	"image-refiner/internal/image"
	"image-refiner/pkg/colorutil"
	"image-refiner/pkg/geometry"
)

// Brush size limits in view units.
const (
	MinSize     = 1
	MaxSize     = 100
	SizeStep    = 2
	DefaultSize = 10

	// Spacing is the distance between interpolated stamps, in view units.
	Spacing = 5.0
)

// Mode selects whether a stamp adds or removes coverage.
type Mode int

const (
	ModePaint Mode = iota
	ModeErase
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModePaint:
		return "Paint"
	case ModeErase:
		return "Erase"
	default:
		return "Unknown"
	}
}

func (m Mode) blend() image.BlendMode {
	if m == ModeErase {
		return image.BlendDestinationOut
	}
	return image.BlendSourceOver
}

// Op is one queued raster mutation in session space.
type Op struct {
	From    geometry.Point2D
	To      geometry.Point2D
	Radius  float64
	Mode    Mode
	Color   color.NRGBA
	Spacing float64
	Single  bool // stamp only To
}

// Apply performs the operation on target.
func (op Op) Apply(target *image.Buffer) {
	if op.Single {
		Stamp(target, op.To, op.Radius, op.Mode, op.Color)
		return
	}
	Stroke(target, op.From, op.To, op.Radius, op.Mode, op.Color, op.Spacing)
}

// Stamp applies a single circle at p.
func Stamp(target *image.Buffer, p geometry.Point2D, radius float64, mode Mode, c color.NRGBA) {
	if mode == ModeErase {
		c = colorutil.Black
	}
	target.FillCircle(p.X, p.Y, radius, colorutil.Opaque(c), mode.blend())
}

// Stroke stamps circles every spacing units from `from` towards `to`, endpoint included.
// A zero-length segment stamps once.
func Stroke(target *image.Buffer, from, to geometry.Point2D, radius float64, mode Mode, c color.NRGBA, spacing float64) {
	if spacing <= 0 {
		spacing = Spacing
	}
	distance := from.Distance(to)
	dir := to.Sub(from).Unit()
	for i := 0.0; i < distance; i += spacing {
		Stamp(target, from.Add(dir.Scale(i)), radius, mode, c)
	}
	Stamp(target, to, radius, mode, c)
}

// ClampSize limits a brush size to [MinSize, MaxSize].
func ClampSize(size float64) float64 {
	return math.Max(MinSize, math.Min(MaxSize, size))
}
