package layer

import (
	"errors"
	"fmt"
	"sync"

	"image-refiner/internal/image"
	"image-refiner/internal/mask"
	"image-refiner/internal/prompt"
	"image-refiner/pkg/geometry"
)

var (
	// ErrNotFound is returned for an unknown layer id.
	ErrNotFound = errors.New("layer not found")
	// ErrNoCandidates is returned when a generated layer would have no candidate.
	ErrNoCandidates = errors.New("generated layer needs at least one candidate")
	// ErrCandidateIndex is returned when selecting a candidate that does not exist.
	ErrCandidateIndex = errors.New("candidate index out of range")
)

// Stack is the ordered collection of layers, bottom first. Ids come from a counter
// starting at 1 that is never rewound, even across Clear.
type Stack struct {
	mu     sync.RWMutex
	size   geometry.Size
	layers []*Layer
	nextID int
}

// NewStack creates an empty stack for a base image of the given size.
func NewStack(size geometry.Size) *Stack {
	return &Stack{size: size, nextID: 1}
}

// Size returns the base image size every mask is kept at.
func (s *Stack) Size() geometry.Size {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// NextID returns the id the next added layer will get.
func (s *Stack) NextID() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextID
}

// Add appends a layer on top. With metadata it is a generated layer and needs at least one
// candidate; without, it is a drawn layer and candidates are ignored. The mask is copied
// and rescaled to the base size when needed.
func (s *Stack) Add(cands []Candidate, m *image.Buffer, p *prompt.Data) (*Layer, error) {
	if p != nil && len(cands) == 0 {
		return nil, ErrNoCandidates
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	l := &Layer{
		ID:      s.nextID,
		Mask:    s.fit(m),
		Visible: true,
		Prompt:  p,
	}
	if p != nil {
		l.Candidates = append([]Candidate(nil), cands...)
	}
	l.recomposite()

	s.nextID++
	s.layers = append(s.layers, l)
	return l, nil
}

// AddDrawing appends a hand-drawn layer whose raster is r.
func (s *Stack) AddDrawing(r *image.Buffer) *Layer {
	l, _ := s.Add(nil, r, nil)
	return l
}

func (s *Stack) fit(m *image.Buffer) *image.Buffer {
	if m == nil {
		return image.NewBufferSize(s.size)
	}
	if m.Size() != s.size {
		return mask.RescaleToBase(m, s.size)
	}
	return m.Clone()
}

// Get returns a layer by id.
func (s *Stack) Get(id int) (*Layer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.index(id)
	if i < 0 {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return s.layers[i], nil
}

func (s *Stack) index(id int) int {
	for i, l := range s.layers {
		if l.ID == id {
			return i
		}
	}
	return -1
}

// Remove deletes a layer. Remaining ids are unchanged.
func (s *Stack) Remove(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(id)
	if i < 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	s.layers = append(s.layers[:i], s.layers[i+1:]...)
	return nil
}

// SetVisible toggles whether a layer contributes to the composite.
func (s *Stack) SetVisible(id int, visible bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(id)
	if i < 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	s.layers[i].Visible = visible
	return nil
}

// Select makes candidate index the layer's active image. Other candidates are kept.
func (s *Stack) Select(id, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(id)
	if i < 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	l := s.layers[i]
	if index < 0 || index >= len(l.Candidates) {
		return fmt.Errorf("%w: %d of %d", ErrCandidateIndex, index, len(l.Candidates))
	}
	l.Selected = index
	l.recomposite()
	return nil
}

// ReplaceCandidates swaps in a fresh candidate set after regeneration, keeping the layer's
// id, mask and position. The first new candidate becomes selected.
func (s *Stack) ReplaceCandidates(id int, cands []Candidate, p *prompt.Data) error {
	if len(cands) == 0 {
		return ErrNoCandidates
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(id)
	if i < 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	l := s.layers[i]
	l.Candidates = append([]Candidate(nil), cands...)
	l.Selected = 0
	if p != nil {
		l.Prompt = p
	}
	l.recomposite()
	return nil
}

// Layers returns the layers bottom to top.
func (s *Stack) Layers() []*Layer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*Layer(nil), s.layers...)
}

// Visible returns the visible layers bottom to top.
func (s *Stack) Visible() []*Layer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Layer
	for _, l := range s.layers {
		if l.Visible {
			out = append(out, l)
		}
	}
	return out
}

// Len returns the number of layers.
func (s *Stack) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.layers)
}

// Flatten renders base plus every visible layer, bottom to top, into a new raster.
func (s *Stack) Flatten(base *image.Buffer) *image.Buffer {
	c := image.NewComposite(base.Width(), base.Height())
	c.AddLayer(base, image.BlendSourceOver)
	for _, l := range s.Visible() {
		if d := l.Display(); d != nil {
			c.AddLayer(d, image.BlendSourceOver)
		}
	}
	return c.Render()
}

// Clear removes every layer. The id counter keeps running.
func (s *Stack) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.layers = nil
}

// Resize clears the stack and adopts a new base size.
func (s *Stack) Resize(size geometry.Size) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.layers = nil
	s.size = size
}

// Restore replaces the whole content with layers, for import. Layers are composited
// and their masks fitted to the base size; the counter continues after the highest id
// and never moves backwards.
func (s *Stack) Restore(layers []*Layer, nextID int) error {
	seen := make(map[int]bool, len(layers))
	restored := make([]*Layer, 0, len(layers))
	for _, l := range layers {
		if l.ID <= 0 || seen[l.ID] {
			return fmt.Errorf("invalid or duplicate layer id %d", l.ID)
		}
		if l.Generated() && len(l.Candidates) == 0 {
			return fmt.Errorf("layer %d: %w", l.ID, ErrNoCandidates)
		}
		seen[l.ID] = true
		nextID = max(nextID, l.ID+1)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range layers {
		c := l.clone()
		c.Mask = s.fit(l.Mask)
		if c.Selected < 0 || c.Selected >= len(c.Candidates) {
			c.Selected = 0
		}
		c.recomposite()
		restored = append(restored, c)
	}
	s.layers = restored
	s.nextID = max(nextID, s.nextID)
	return nil
}
