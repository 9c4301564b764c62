package app

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"image-refiner/internal/component"
	"image-refiner/internal/gallery"
	"image-refiner/internal/generation"
	"image-refiner/internal/image"
	"image-refiner/internal/layer"
	"image-refiner/internal/mask"
	"image-refiner/internal/prompt"
)

// Components lists the components that can drive a generation, refiner components first.
func (s *Session) Components() []string {
	return s.components.Available()
}

// SelectComponent makes name the generation component and resets the prompt metadata to
// its declared defaults. An empty name deselects, after which generation does nothing.
func (s *Session) SelectComponent(ctx context.Context, name string) error {
	if name == "" {
		s.mu.Lock()
		s.component = ""
		s.prompt = nil
		s.mu.Unlock()
		s.Emit(EventComponentChanged, "")
		return nil
	}

	schema := s.components.Get(name)
	if schema == nil {
		got, err := s.client.ObjectInfo(ctx, name)
		if err != nil {
			return fmt.Errorf("component %s: %w", name, err)
		}
		s.components.Add(got)
		schema = got
	}
	if !schema.IsAvailable() {
		return fmt.Errorf("%s: %w", name, component.ErrUnsupported)
	}

	var checkpoint string
	cps, err := s.client.Checkpoints(ctx)
	if err != nil {
		s.log.Warn(module, "checkpoint listing failed", map[string]interface{}{"error": err})
	} else if len(cps) > 0 {
		checkpoint = cps[0]
	}

	p, err := schema.DefaultPrompt(checkpoint)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.component = name
	s.prompt = p
	s.mu.Unlock()

	s.log.Info(module, "component selected", map[string]interface{}{
		"component":  name,
		"checkpoint": checkpoint,
		"conflicted": s.components.Conflicted(name),
	})
	s.Emit(EventComponentChanged, name)
	return nil
}

// Component returns the selected component name.
func (s *Session) Component() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.component
}

// Prompt returns a copy of the prompt metadata of the selected component.
func (s *Session) Prompt() *prompt.Data {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prompt.Clone()
}

// SetPrompt replaces the prompt metadata. It must name the selected component.
func (s *Session) SetPrompt(p *prompt.Data) error {
	if p == nil {
		return fmt.Errorf("%w: nil metadata", prompt.ErrInvalid)
	}
	if err := p.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.component == "" {
		return generation.ErrNoComponent
	}
	if p.ComponentName != s.component {
		return fmt.Errorf("%w: metadata is for %q, selected %q", prompt.ErrInvalid, p.ComponentName, s.component)
	}
	s.prompt = p.Clone()
	return nil
}

// SetCount sets how many candidates a generation requests, clamped to [1, MaxCount].
func (s *Session) SetCount(n int) int {
	n = min(max(n, 1), generation.MaxCount)
	s.mu.Lock()
	s.count = n
	s.mu.Unlock()
	return n
}

// Count returns the candidate count.
func (s *Session) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// Regenerate sends the active mask, the base image and every visible layer to the backend
// and adds the candidates as a new layer on top. With no component selected it does nothing
// and returns a nil layer. An empty mask regenerates the whole image when confirmed.
func (s *Session) Regenerate(ctx context.Context) (*layer.Layer, error) {
	s.mu.RLock()
	if !s.open {
		s.mu.RUnlock()
		return nil, ErrClosed
	}
	if s.prompt == nil {
		s.mu.RUnlock()
		s.log.Debug(module, "generation skipped, no component", nil)
		return nil, nil
	}
	brushMask := s.mask.Clone()
	p := s.prompt.Clone()
	count := s.count
	epoch, st := s.epoch, s.stack
	s.mu.RUnlock()

	whole := false
	if mask.IsEmpty(brushMask) {
		if s.confirm == nil || !s.confirm.ConfirmWholeImage() {
			return nil, ErrEmptyMask
		}
		whole = true
	}
	transport := mask.ToTransport(brushMask, whole)

	ref, err := s.ensureBaseRef(ctx)
	if err != nil {
		return nil, err
	}
	paths, rasters := contextFor(st, ref)
	p.ImagePaths = paths

	s.Emit(EventGenerationStarted, count)
	res, err := s.gen.Run(ctx, generation.Request{
		Prompt:  p,
		Mask:    transport,
		Rasters: rasters,
		Count:   count,
		Seeds:   generation.SeedIncrement,
	})
	if err != nil {
		s.Emit(EventGenerationFailed, err)
		return nil, err
	}

	s.mu.Lock()
	if !s.open || s.epoch != epoch {
		s.mu.Unlock()
		s.log.Warn(module, "generation result dropped", map[string]interface{}{"component": p.ComponentName})
		s.Emit(EventGenerationFailed, ErrStale)
		return nil, ErrStale
	}
	l, err := st.Add(res.Candidates, transport, res.Prompt)
	if err != nil {
		s.mu.Unlock()
		s.Emit(EventGenerationFailed, err)
		return nil, err
	}
	l.Context = rasters

	if s.prompt != nil && s.prompt.ComponentName == res.Prompt.ComponentName {
		last := res.Prompt.Clone()
		for _, name := range last.Seeds() {
			v, _ := last.Get(name)
			s.prompt.Set(name, v)
		}
	}
	mask.Clear(s.mask)
	s.mu.Unlock()

	s.Emit(EventMaskChanged, 0)
	s.Emit(EventLayersChanged, l.ID)
	s.Emit(EventGenerationFinished, l)
	return l, nil
}

// ensureBaseRef uploads the base image once so generation calls can refer to it.
func (s *Session) ensureBaseRef(ctx context.Context) (prompt.ImageRef, error) {
	s.mu.RLock()
	ref, base := s.baseRef, s.base
	s.mu.RUnlock()
	if !ref.IsZero() {
		return ref, nil
	}

	ref, err := s.client.UploadImage(ctx, "imagerefiner-"+uuid.NewString()+".png", base)
	if err != nil {
		return prompt.ImageRef{}, fmt.Errorf("upload base image: %w", err)
	}
	s.mu.Lock()
	if s.base == base {
		s.baseRef = ref
	}
	s.mu.Unlock()
	return ref, nil
}

// contextFor lists the base image and the visible layers, numbered from 1 bottom to top.
// Generated layers are sent as their mask over the selected candidate; drawn layers as
// their raster.
func contextFor(st *layer.Stack, base prompt.ImageRef) ([]prompt.ImagePath, map[int]*image.Buffer) {
	paths := []prompt.ImagePath{{ID: 0, Image: &base, IsMaskMode: true}}
	rasters := make(map[int]*image.Buffer)
	for i, l := range st.Visible() {
		id := i + 1
		if l.Generated() {
			ref, ok := l.SelectedRef()
			if !ok {
				continue
			}
			paths = append(paths, prompt.ImagePath{ID: id, Image: &ref, IsMaskMode: true})
		} else {
			paths = append(paths, prompt.ImagePath{ID: id})
		}
		rasters[id] = l.Mask
	}
	return paths, rasters
}

// RegenerateLayer reruns a generated layer with fresh seeds and replaces its candidates.
// The layer keeps its id, mask and position.
func (s *Session) RegenerateLayer(ctx context.Context, id int) error {
	s.mu.RLock()
	open, epoch, st, count := s.open, s.epoch, s.stack, s.count
	s.mu.RUnlock()
	if !open {
		return ErrClosed
	}
	l, err := st.Get(id)
	if err != nil {
		return err
	}
	if !l.Generated() {
		return fmt.Errorf("layer %d: %w", id, ErrNotGenerated)
	}

	s.Emit(EventGenerationStarted, count)
	res, err := s.gen.Regenerate(ctx, l, count)
	if err != nil {
		s.Emit(EventGenerationFailed, err)
		return err
	}
	s.mu.Lock()
	if !s.open || s.epoch != epoch {
		s.mu.Unlock()
		s.log.Warn(module, "regenerated candidates dropped", map[string]interface{}{"layer": id})
		s.Emit(EventGenerationFailed, ErrStale)
		return ErrStale
	}
	err = st.ReplaceCandidates(id, res.Candidates, res.Prompt)
	s.mu.Unlock()
	if err != nil {
		s.Emit(EventGenerationFailed, err)
		return err
	}
	s.Emit(EventCandidatesReady, id)
	s.Emit(EventLayersChanged, id)
	return nil
}

// Previews renders the candidates of a generated layer for picking.
func (s *Session) Previews(id int) ([]gallery.Preview, error) {
	l, err := s.layer(id)
	if err != nil {
		return nil, err
	}
	if !l.Generated() {
		return nil, fmt.Errorf("layer %d: %w", id, ErrNotGenerated)
	}
	return s.gallery.Previews(l)
}

// Reselect makes candidate index the active image of a generated layer.
func (s *Session) Reselect(id, index int) error {
	if _, err := s.layer(id); err != nil {
		return err
	}
	if err := gallery.Select(s.Stack(), id, index); err != nil {
		return err
	}
	s.Emit(EventLayersChanged, id)
	return nil
}

// Stop asks a running generation to end after the call in flight.
func (s *Session) Stop(ctx context.Context) error {
	return s.gen.Stop(ctx)
}

// RestoreMask replaces the active mask with the mask of a layer, so it can be edited and
// generated again.
func (s *Session) RestoreMask(id int) error {
	l, err := s.layer(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	mask.RestoreFromLayer(s.mask, l.Mask, l.Generated())
	s.mu.Unlock()
	s.Emit(EventMaskChanged, id)
	return nil
}

// RemoveLayer deletes a layer.
func (s *Session) RemoveLayer(id int) error {
	if _, err := s.layer(id); err != nil {
		return err
	}
	if err := s.Stack().Remove(id); err != nil {
		return err
	}
	s.Emit(EventLayersChanged, id)
	return nil
}

// SetLayerVisible shows or hides a layer.
func (s *Session) SetLayerVisible(id int, visible bool) error {
	if _, err := s.layer(id); err != nil {
		return err
	}
	if err := s.Stack().SetVisible(id, visible); err != nil {
		return err
	}
	s.Emit(EventLayersChanged, id)
	return nil
}

// FlattenLayer burns a layer into the base image and removes it. The new base is no
// longer on the host and is uploaded again on the next generation.
func (s *Session) FlattenLayer(id int) error {
	l, err := s.layer(id)
	if err != nil {
		return err
	}
	d := l.Display()
	if d == nil {
		return fmt.Errorf("layer %d: %w", id, layer.ErrNoCandidates)
	}

	s.mu.Lock()
	c := image.NewComposite(s.base.Width(), s.base.Height())
	c.AddLayer(s.base, image.BlendSourceOver)
	c.AddLayer(d, image.BlendSourceOver)
	s.base = c.Render()
	s.baseRef = prompt.ImageRef{}
	size := s.base.Size()
	s.mu.Unlock()

	if err := s.Stack().Remove(id); err != nil {
		return err
	}
	s.log.Info(module, "layer flattened", map[string]interface{}{"layer": id})
	s.Emit(EventBaseReplaced, size)
	s.Emit(EventLayersChanged, id)
	return nil
}

// CommitDrawing turns the pen-mode raster into a drawn layer and clears it.
func (s *Session) CommitDrawing() (*layer.Layer, error) {
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if mask.IsEmpty(s.drawing) {
		s.mu.Unlock()
		return nil, ErrEmptyMask
	}
	r := s.drawing.Clone()
	s.drawing.Clear()
	s.mu.Unlock()

	l := s.Stack().AddDrawing(r)
	s.Emit(EventMaskChanged, 0)
	s.Emit(EventLayersChanged, l.ID)
	return l, nil
}

// Flatten renders the base image with every visible layer on top.
func (s *Session) Flatten() (*image.Buffer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.open {
		return nil, ErrClosed
	}
	return s.stack.Flatten(s.base), nil
}

func (s *Session) layer(id int) (*layer.Layer, error) {
	if !s.IsOpen() {
		return nil, ErrClosed
	}
	return s.Stack().Get(id)
}
