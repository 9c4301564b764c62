// Package view maps between session space (base-image pixels) and view space (screen units).
package view

import (
	"math"
	"sync"

	"image-refiner/pkg/geometry"
)

// Zoom limits.
const (
	MinZoom  = 0.2
	MaxZoom  = 10.0
	ZoomStep = 0.2

	// PanMargin is how many view units of the image must stay on screen.
	PanMargin = 10.0
)

// Listener is notified after every transform change with the new revision.
type Listener func(rev uint64)

// Space is the single zoom/pan transform shared by every raster of a session.
// view = session*zoom + pan.
type Space struct {
	mu        sync.RWMutex
	zoom      float64
	pan       geometry.Point2D
	image     geometry.Size
	viewport  geometry.Size
	rev       uint64
	listeners []Listener
}

// NewSpace creates a transform for an image of the given size at zoom 1 and no pan.
func NewSpace(image geometry.Size) *Space {
	return &Space{zoom: 1, image: image}
}

// Zoom returns the current zoom factor.
func (s *Space) Zoom() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.zoom
}

// Pan returns the current pan offset in view units.
func (s *Space) Pan() geometry.Point2D {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pan
}

// Revision increases by one on every transform change.
func (s *Space) Revision() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rev
}

// OnChange registers a listener invoked after each change.
func (s *Space) OnChange(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// ToView converts a session-space point to view space.
func (s *Space) ToView(p geometry.Point2D) geometry.Point2D {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return p.Scale(s.zoom).Add(s.pan)
}

// ToSession converts a view-space point to session space.
func (s *Space) ToSession(v geometry.Point2D) geometry.Point2D {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return v.Sub(s.pan).Scale(1 / s.zoom)
}

// ToSessionLength converts a view-space length (e.g. a brush radius) to session space.
func (s *Space) ToSessionLength(l float64) float64 {
	return l / s.Zoom()
}

// SetViewport records the visible area size, enabling the far-side pan clamp.
func (s *Space) SetViewport(v geometry.Size) {
	s.update(func() {
		s.viewport = v
		s.pan = s.clampPan(s.pan)
	})
}

// SetImageSize updates the session image dimensions.
func (s *Space) SetImageSize(size geometry.Size) {
	s.update(func() {
		s.image = size
		s.pan = s.clampPan(s.pan)
	})
}

// SetZoom sets the zoom factor, clamped to [MinZoom, MaxZoom].
func (s *Space) SetZoom(zoom float64) {
	s.update(func() {
		s.zoom = clampZoom(zoom)
		s.pan = s.clampPan(s.pan)
	})
}

// ZoomBy applies steps discrete zoom increments, keeping the view point anchor fixed on screen.
func (s *Space) ZoomBy(steps int, anchor geometry.Point2D) {
	s.update(func() {
		old := s.zoom
		s.zoom = clampZoom(old + float64(steps)*ZoomStep)
		if s.zoom == old {
			return
		}
		// session point under the anchor stays put
		p := anchor.Sub(s.pan).Scale(1 / old)
		s.pan = s.clampPan(anchor.Sub(p.Scale(s.zoom)))
	})
}

// SetPan moves the image to the given view offset, clamped.
func (s *Space) SetPan(p geometry.Point2D) {
	s.update(func() {
		s.pan = s.clampPan(p)
	})
}

// PanBy moves the image by a view-space delta, clamped.
func (s *Space) PanBy(dx, dy float64) {
	s.update(func() {
		s.pan = s.clampPan(s.pan.Add(geometry.NewPoint2D(dx, dy)))
	})
}

// Fit picks the largest zoom not exceeding 1 at which the whole image fits the viewport and centers it.
func (s *Space) Fit(viewport geometry.Size) {
	s.update(func() {
		s.viewport = viewport
		zoom := 1.0
		if !s.image.Empty() && !viewport.Empty() {
			zoom = math.Min(zoom, math.Min(
				float64(viewport.Width)/float64(s.image.Width),
				float64(viewport.Height)/float64(s.image.Height)))
		}
		s.zoom = clampZoom(zoom)
		s.pan = s.clampPan(geometry.NewPoint2D(
			(float64(viewport.Width)-float64(s.image.Width)*s.zoom)/2,
			(float64(viewport.Height)-float64(s.image.Height)*s.zoom)/2,
		))
	})
}

func (s *Space) update(fn func()) {
	s.mu.Lock()
	fn()
	s.rev++
	rev := s.rev
	listeners := s.listeners
	s.mu.Unlock()

	for _, l := range listeners {
		l(rev)
	}
}

// clampPan keeps the image's right/bottom edge at least PanMargin view units inside the
// viewport's left/top edge, and, when the viewport is known, the image's left/top edge at
// least PanMargin units inside its right/bottom edge.
func (s *Space) clampPan(p geometry.Point2D) geometry.Point2D {
	w := float64(s.image.Width) * s.zoom
	h := float64(s.image.Height) * s.zoom

	p.X = math.Max(p.X, PanMargin-w)
	p.Y = math.Max(p.Y, PanMargin-h)
	if s.viewport.Width > 0 {
		p.X = math.Min(p.X, float64(s.viewport.Width)-PanMargin)
	}
	if s.viewport.Height > 0 {
		p.Y = math.Min(p.Y, float64(s.viewport.Height)-PanMargin)
	}
	return p
}

func clampZoom(z float64) float64 {
	// round to the step grid so repeated steps do not drift
	z = math.Round(z*1e6) / 1e6
	return math.Max(MinZoom, math.Min(MaxZoom, z))
}
