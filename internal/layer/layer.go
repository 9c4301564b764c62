// Package layer holds the ordered stack of drawn and generated layers of a session.
package layer

import (
	"image-refiner/internal/image"
	"image-refiner/internal/mask"
	"image-refiner/internal/prompt"
)

// Candidate is one image returned by a generation call.
type Candidate struct {
	Ref   prompt.ImageRef
	Image *image.Buffer
}

// Layer is one unit of user work. Generated layers carry prompt metadata, at least one
// candidate and a transport-convention mask; drawn layers carry neither and their mask
// raster is also their image.
type Layer struct {
	ID         int
	Mask       *image.Buffer
	Candidates []Candidate
	Selected   int
	Visible    bool
	Prompt     *prompt.Data

	// Context holds the rasters that accompanied the generation request, keyed by image path id.
	Context map[int]*image.Buffer

	display *image.Buffer
}

// Generated reports whether the layer came from a generation call.
func (l *Layer) Generated() bool {
	return l.Prompt != nil
}

// Image returns the layer's active image: the selected candidate, or the drawn raster.
func (l *Layer) Image() *image.Buffer {
	if !l.Generated() {
		return l.Mask
	}
	if l.Selected < 0 || l.Selected >= len(l.Candidates) {
		return nil
	}
	return l.Candidates[l.Selected].Image
}

// SelectedRef returns the host reference of the selected candidate.
func (l *Layer) SelectedRef() (prompt.ImageRef, bool) {
	if !l.Generated() || l.Selected < 0 || l.Selected >= len(l.Candidates) {
		return prompt.ImageRef{}, false
	}
	return l.Candidates[l.Selected].Ref, true
}

// Display returns the composited raster shown for this layer.
func (l *Layer) Display() *image.Buffer {
	return l.display
}

func (l *Layer) recomposite() {
	img := l.Image()
	if img == nil {
		l.display = nil
		return
	}
	l.display = mask.CompositeDisplay(img, l.Mask, l.Generated())
}

func (l *Layer) clone() *Layer {
	c := *l
	c.Candidates = append([]Candidate(nil), l.Candidates...)
	c.Prompt = l.Prompt.Clone()
	if l.Context != nil {
		c.Context = make(map[int]*image.Buffer, len(l.Context))
		for k, v := range l.Context {
			c.Context[k] = v
		}
	}
	return &c
}
