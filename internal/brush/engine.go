package brush

import (
	"image/color"
	"sync"
	"time"

	"image-refiner/internal/image"
	"image-refiner/pkg/colorutil"
	"image-refiner/pkg/geometry"
)

// RestartGap is the idle time after which an unpressed move starts a fresh stroke.
const RestartGap = 20 * time.Millisecond

// PointerType identifies the input device of a sample.
type PointerType int

const (
	PointerMouse PointerType = iota
	PointerPen
	PointerTouch
)

// Mouse buttons reported on press, and button masks reported while moving.
const (
	ButtonPrimary   = 0
	ButtonSecondary = 2
	ButtonExtra     = 5

	ButtonsPrimary = 1
	ButtonsErase2  = 2
	ButtonsErase5  = 5
	ButtonsErase32 = 32
)

// Sample is one pointer event in view space.
type Sample struct {
	Pos      geometry.Point2D
	Pointer  PointerType
	Pressure float64
	Button   int // pressed button, for Down
	Buttons  int // held button mask, for Move
	Time     time.Time
}

// Transform converts view-space input into session space.
type Transform interface {
	ToSession(v geometry.Point2D) geometry.Point2D
	Zoom() float64
}

// Engine tracks brush state and queues stamping operations until the next frame.
type Engine struct {
	mu sync.Mutex

	size         float64
	color        color.NRGBA
	lastPressure float64
	last         geometry.Point2D
	lastTime     time.Time
	pressed      bool

	pending []Op
}

// NewEngine creates an engine with the default size and color.
func NewEngine() *Engine {
	return &Engine{
		size:         DefaultSize,
		color:        colorutil.DefaultBrush,
		lastPressure: 1,
	}
}

// Size returns the brush radius in view units.
func (e *Engine) Size() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.size
}

// SetSize sets the brush radius, clamped to [MinSize, MaxSize].
func (e *Engine) SetSize(size float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.size = ClampSize(size)
}

// Grow increases the brush size by one step.
func (e *Engine) Grow() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.size = ClampSize(e.size + SizeStep)
	return e.size
}

// Shrink decreases the brush size by one step.
func (e *Engine) Shrink() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.size = ClampSize(e.size - SizeStep)
	return e.size
}

// Color returns the paint color.
func (e *Engine) Color() color.NRGBA {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.color
}

// SetColor sets the paint color.
func (e *Engine) SetColor(c color.NRGBA) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.color = colorutil.Opaque(c)
}

// Pressed reports whether a stroke is in progress.
func (e *Engine) Pressed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pressed
}

// Down starts a stroke. Only the primary button paints; secondary and extra buttons erase.
// It returns false for inputs it does not handle.
func (e *Engine) Down(s Sample, xf Transform) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	var mode Mode
	switch s.Button {
	case ButtonPrimary:
		mode = ModePaint
	case ButtonSecondary, ButtonExtra:
		mode = ModeErase
	default:
		return false
	}

	radius := e.size
	if s.Pointer == PointerPen {
		radius *= s.Pressure
		e.lastPressure = s.Pressure
	}

	p := xf.ToSession(s.Pos)
	e.pressed = true
	e.enqueue(Op{To: p, Radius: radius / xf.Zoom(), Mode: mode, Color: e.color, Single: true})
	e.last = p
	e.lastTime = sampleTime(s)
	return true
}

// Move continues a stroke. Held primary (or any touch) paints; masks 2, 5 and 32 erase.
func (e *Engine) Move(s Sample, xf Transform) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	var mode Mode
	switch {
	case s.Pointer == PointerTouch || s.Buttons == ButtonsPrimary:
		mode = ModePaint
	case s.Buttons == ButtonsErase2 || s.Buttons == ButtonsErase5 || s.Buttons == ButtonsErase32:
		mode = ModeErase
	default:
		return false
	}

	now := sampleTime(s)
	gap := now.Sub(e.lastTime)

	radius := e.size
	switch {
	case s.Pointer == PointerPen:
		radius *= s.Pressure
		e.lastPressure = s.Pressure
	case s.Pointer == PointerTouch && gap < RestartGap:
		radius *= e.lastPressure
	}

	zoom := xf.Zoom()
	p := xf.ToSession(s.Pos)
	op := Op{From: e.last, To: p, Radius: radius / zoom, Mode: mode, Color: e.color, Spacing: Spacing / zoom}
	if gap > RestartGap && !e.pressed {
		op.Single = true
	}
	e.enqueue(op)
	e.last = p
	e.lastTime = now
	return true
}

// Up ends the current stroke.
func (e *Engine) Up() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pressed = false
}

// Pending returns the number of queued operations.
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// Frame applies every queued operation to target in the order it was received
// and reports how many were applied.
func (e *Engine) Frame(target *image.Buffer) int {
	e.mu.Lock()
	ops := e.pending
	e.pending = nil
	e.mu.Unlock()

	for _, op := range ops {
		op.Apply(target)
	}
	return len(ops)
}

// Discard drops queued operations without applying them.
func (e *Engine) Discard() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = nil
}

func (e *Engine) enqueue(op Op) {
	e.pending = append(e.pending, op)
}

func sampleTime(s Sample) time.Time {
	if s.Time.IsZero() {
		return time.Now()
	}
	return s.Time
}
