package app

import (
	"context"
	"image/color"

	"image-refiner/internal/brush"
	"image-refiner/internal/mask"
	"image-refiner/pkg/geometry"
)

// Keys handled by Key.
const (
	KeyGrow     = "]"
	KeyShrink   = "["
	KeyGenerate = "Enter"
)

// PointerDown starts a stroke. Secondary presses report handled even when nothing is
// painted so no context menu opens over the canvas.
func (s *Session) PointerDown(sample brush.Sample) bool {
	if !s.IsOpen() {
		return false
	}
	handled := s.brush.Down(sample, s.View())
	return handled || sample.Button == brush.ButtonSecondary
}

// PointerMove continues a stroke.
func (s *Session) PointerMove(sample brush.Sample) bool {
	if !s.IsOpen() {
		return false
	}
	return s.brush.Move(sample, s.View())
}

// PointerUp ends the current stroke.
func (s *Session) PointerUp() {
	s.brush.Up()
}

// Frame applies every queued brush operation to the active raster: the mask, or the
// drawing in pen mode. It returns the number of operations applied.
func (s *Session) Frame() int {
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		s.brush.Discard()
		return 0
	}
	target := s.mask
	if s.penMode {
		target = s.drawing
	}
	n := s.brush.Frame(target)
	s.mu.Unlock()

	if n > 0 {
		s.Emit(EventMaskChanged, n)
	}
	return n
}

// Key handles a key press and reports whether it was consumed. Enter generates.
func (s *Session) Key(ctx context.Context, key string) (bool, error) {
	switch key {
	case KeyGrow:
		s.Emit(EventBrushChanged, s.brush.Grow())
	case KeyShrink:
		s.Emit(EventBrushChanged, s.brush.Shrink())
	case KeyGenerate:
		_, err := s.Regenerate(ctx)
		return true, err
	default:
		return false, nil
	}
	return true, nil
}

// Wheel resizes the brush: scrolling up grows it.
func (s *Session) Wheel(deltaY float64) float64 {
	var size float64
	if deltaY < 0 {
		size = s.brush.Grow()
	} else {
		size = s.brush.Shrink()
	}
	s.Emit(EventBrushChanged, size)
	return size
}

// Zoom applies discrete zoom steps around a view-space anchor.
func (s *Session) Zoom(steps int, anchor geometry.Point2D) {
	if v := s.View(); v != nil {
		v.ZoomBy(steps, anchor)
	}
}

// Pan moves the view by a view-space delta.
func (s *Session) Pan(dx, dy float64) {
	if v := s.View(); v != nil {
		v.PanBy(dx, dy)
	}
}

// Fit resets the view so the base image fits viewport.
func (s *Session) Fit(viewport geometry.Size) {
	if v := s.View(); v != nil {
		v.Fit(viewport)
	}
}

// SetBrushSize sets the brush radius in view units.
func (s *Session) SetBrushSize(size float64) {
	s.brush.SetSize(size)
	s.Emit(EventBrushChanged, s.brush.Size())
}

// SetBrushColor sets the pen-mode paint color. Mask mode always paints black.
func (s *Session) SetBrushColor(c color.NRGBA) {
	s.mu.Lock()
	s.penColor = c
	pen := s.penMode
	s.mu.Unlock()

	if pen {
		s.brush.SetColor(c)
	}
	s.Emit(EventBrushChanged, s.brush.Size())
}

// SetPenMode switches between painting the mask and drawing in color. Pending strokes
// are dropped so they never land in the other raster.
func (s *Session) SetPenMode(on bool) {
	s.mu.Lock()
	s.penMode = on
	c := color.NRGBA{A: 255}
	if on {
		c = s.penColor
	}
	s.mu.Unlock()

	s.brush.Discard()
	s.brush.SetColor(c)
	s.Emit(EventBrushChanged, s.brush.Size())
}

// PenMode reports whether the brush draws in color instead of painting the mask.
func (s *Session) PenMode() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.penMode
}

// ClearMask erases the active mask.
func (s *Session) ClearMask() {
	s.mu.Lock()
	if s.mask != nil {
		mask.Clear(s.mask)
	}
	s.mu.Unlock()
	s.Emit(EventMaskChanged, 0)
}

// MaskEmpty reports whether nothing is painted on the active mask.
func (s *Session) MaskEmpty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mask == nil || mask.IsEmpty(s.mask)
}
