// Package app ties the editor components into a live editing session and manages its events.
package app

import (
	"context"
	"errors"
	"image/color"
	"sync"

	"image-refiner/internal/backend"
	"image-refiner/internal/brush"
	"image-refiner/internal/component"
	"image-refiner/internal/config"
	"image-refiner/internal/gallery"
	"image-refiner/internal/generation"
	"image-refiner/internal/image"
	"image-refiner/internal/layer"
	"image-refiner/internal/logger"
	"image-refiner/internal/prompt"
	"image-refiner/internal/view"
	"image-refiner/pkg/colorutil"
)

const module = "session"

var (
	// ErrClosed is returned by operations on a session that is not open.
	ErrClosed = errors.New("session is not open")
	// ErrEmptyMask is returned when a generation or commit needs a painted mask and the
	// user declined the whole-image override.
	ErrEmptyMask = errors.New("mask is empty")
	// ErrLayerNotFound is returned for an unknown layer id.
	ErrLayerNotFound = layer.ErrNotFound
	// ErrNotGenerated is returned when a generation-only action targets a drawn layer.
	ErrNotGenerated = errors.New("layer was not generated")
	// ErrStale is returned when the base image was replaced, imported over or closed while
	// a generation was running. Its result is dropped.
	ErrStale = errors.New("session changed during generation")
)

// EventType identifies session events.
type EventType int

const (
	EventOpened EventType = iota
	EventClosed
	EventBaseReplaced
	EventMaskChanged
	EventBrushChanged
	EventViewChanged
	EventLayersChanged
	EventComponentChanged
	EventGenerationStarted
	EventGenerationProgress
	EventGenerationFinished
	EventGenerationFailed
	EventCandidatesReady
	EventImported
	EventSaved
)

// EventListener is called when an event occurs.
type EventListener func(data interface{})

// Progress is the payload of EventGenerationProgress.
type Progress struct {
	Done  int
	Total int
}

// Confirmer resolves the empty-mask precondition: true regenerates the whole image,
// false abandons the generation.
type Confirmer interface {
	ConfirmWholeImage() bool
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func() bool

// ConfirmWholeImage calls f.
func (f ConfirmFunc) ConfirmWholeImage() bool { return f() }

// Options are the collaborators a session is built from.
type Options struct {
	Client     backend.Client
	Components *component.Registry
	Log        logger.Logger
	Confirm    Confirmer
	Editor     config.EditorConfig
}

// Session is one live editing context on a base image. It owns the active mask raster
// and the layer stack; nothing else mutates them.
type Session struct {
	mu sync.RWMutex

	client     backend.Client
	components *component.Registry
	log        logger.Logger
	confirm    Confirmer

	open    bool
	epoch   uint64
	base    *image.Buffer
	baseRef prompt.ImageRef
	mask    *image.Buffer
	drawing *image.Buffer

	view    *view.Space
	brush   *brush.Engine
	stack   *layer.Stack
	gen     *generation.Controller
	gallery *gallery.Gallery

	component string
	prompt    *prompt.Data
	count     int
	penMode   bool
	penColor  color.NRGBA

	listeners map[EventType][]EventListener
}

// NewSession creates a closed session. Open it on a base image before use.
func NewSession(opts Options) *Session {
	if opts.Log == nil {
		opts.Log = logger.NewNop()
	}
	if opts.Components == nil {
		opts.Components = component.NewRegistry()
	}
	count := opts.Editor.CandidateCount
	if count <= 0 {
		count = 3
	}

	s := &Session{
		client:     opts.Client,
		components: opts.Components,
		log:        opts.Log,
		confirm:    opts.Confirm,
		brush:      brush.NewEngine(),
		gen:        generation.NewController(opts.Client, opts.Log),
		gallery:    gallery.New(opts.Editor.PreviewMaxDimension),
		count:      count,
		penColor:   colorutil.DefaultBrush,
		listeners:  make(map[EventType][]EventListener),
	}
	if opts.Editor.BrushSize > 0 {
		s.brush.SetSize(opts.Editor.BrushSize)
	}
	if opts.Editor.BrushColor != "" {
		if c, err := colorutil.ParseHex(opts.Editor.BrushColor); err == nil {
			s.penColor = c
		}
	}
	s.gen.OnProgress = func(done, total int) {
		s.Emit(EventGenerationProgress, Progress{Done: done, Total: total})
	}
	return s
}

// On registers an event listener for the specified event type.
func (s *Session) On(event EventType, listener EventListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners[event] = append(s.listeners[event], listener)
}

// Emit triggers all listeners for the specified event type.
func (s *Session) Emit(event EventType, data interface{}) {
	s.mu.RLock()
	listeners := s.listeners[event]
	s.mu.RUnlock()

	for _, listener := range listeners {
		listener(data)
	}
}

// Open starts editing base. ref locates the same image on the host and may be empty;
// it is uploaded on first use.
func (s *Session) Open(base *image.Buffer, ref prompt.ImageRef) error {
	if base == nil || base.Size().Empty() {
		return errors.New("open: empty base image")
	}
	s.mu.Lock()
	s.setBase(base, ref)
	s.open = true
	s.mu.Unlock()

	s.log.Info(module, "session opened", map[string]interface{}{
		"width":  base.Width(),
		"height": base.Height(),
		"image":  ref.Filename,
	})
	s.Emit(EventOpened, base.Size())
	return nil
}

// ReplaceBase swaps the base image. The layer stack and the active mask are cleared.
func (s *Session) ReplaceBase(base *image.Buffer, ref prompt.ImageRef) error {
	if base == nil || base.Size().Empty() {
		return errors.New("replace base: empty image")
	}
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return ErrClosed
	}
	s.setBase(base, ref)
	s.mu.Unlock()

	s.Emit(EventBaseReplaced, base.Size())
	s.Emit(EventLayersChanged, nil)
	return nil
}

// setBase must be called with mu held.
func (s *Session) setBase(base *image.Buffer, ref prompt.ImageRef) {
	s.epoch++
	s.base = base.Clone()
	s.baseRef = ref
	s.mask = image.NewBufferSize(base.Size())
	s.drawing = image.NewBufferSize(base.Size())
	if s.stack == nil {
		s.stack = layer.NewStack(base.Size())
	} else {
		s.stack.Resize(base.Size())
	}
	if s.view == nil {
		s.view = view.NewSpace(base.Size())
		s.view.OnChange(func(rev uint64) { s.Emit(EventViewChanged, rev) })
	} else {
		s.view.SetImageSize(base.Size())
	}
	s.brush.Discard()
}

// Close ends the session, stopping any running generation. A closed session can be reopened.
func (s *Session) Close(ctx context.Context) {
	if s.gen.Generating() {
		_ = s.gen.Stop(ctx)
	}
	s.mu.Lock()
	was := s.open
	s.open = false
	s.epoch++
	s.brush.Discard()
	s.mu.Unlock()

	if was {
		s.log.Info(module, "session closed", nil)
		s.Emit(EventClosed, nil)
	}
}

// IsOpen reports whether the session is open.
func (s *Session) IsOpen() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.open
}

// Base returns the base image. It must not be modified.
func (s *Session) Base() *image.Buffer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.base
}

// BaseRef returns the host reference of the base image, empty until uploaded.
func (s *Session) BaseRef() prompt.ImageRef {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.baseRef
}

// Mask returns a copy of the active mask raster.
func (s *Session) Mask() *image.Buffer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.mask == nil {
		return nil
	}
	return s.mask.Clone()
}

// Drawing returns a copy of the pen-mode raster not yet committed as a layer.
func (s *Session) Drawing() *image.Buffer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.drawing == nil {
		return nil
	}
	return s.drawing.Clone()
}

// Stack returns the layer stack.
func (s *Session) Stack() *layer.Stack {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stack
}

// View returns the coordinate space shared by every raster of the session.
func (s *Session) View() *view.Space {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view
}

// Brush returns the brush engine.
func (s *Session) Brush() *brush.Engine {
	return s.brush
}

// Generating reports whether a generation is in progress.
func (s *Session) Generating() bool {
	return s.gen.Generating()
}
