// Package gallery builds candidate previews for a generated layer and commits a choice.
package gallery

import (
	"fmt"

	"image-refiner/internal/image"
	"image-refiner/internal/layer"
	"image-refiner/internal/mask"
	"image-refiner/internal/prompt"
	"image-refiner/pkg/geometry"
)

// DefaultMaxDimension is the longest preview side.
const DefaultMaxDimension = 300

// Preview is one candidate cut down to the selected region.
type Preview struct {
	Index  int
	Ref    prompt.ImageRef
	Image  *image.Buffer
	Bounds geometry.RectInt
	// Selected marks the layer's current choice.
	Selected bool
}

// Gallery renders previews no larger than MaxDimension on either side.
type Gallery struct {
	MaxDimension int
}

// New creates a gallery; a non-positive maxDimension uses the default.
func New(maxDimension int) *Gallery {
	if maxDimension <= 0 {
		maxDimension = DefaultMaxDimension
	}
	return &Gallery{MaxDimension: maxDimension}
}

// Previews renders one preview per candidate of a generated layer.
func (g *Gallery) Previews(l *layer.Layer) ([]Preview, error) {
	if l == nil || !l.Generated() || len(l.Candidates) == 0 {
		return nil, layer.ErrNoCandidates
	}
	out := make([]Preview, 0, len(l.Candidates))
	for i, c := range l.Candidates {
		if c.Image == nil {
			return nil, fmt.Errorf("candidate %d of layer %d has no image", i, l.ID)
		}
		img, bounds := g.Render(c.Image, l.Mask)
		out = append(out, Preview{
			Index:    i,
			Ref:      c.Ref,
			Image:    img,
			Bounds:   bounds,
			Selected: i == l.Selected,
		})
	}
	return out, nil
}

// Render cuts the selected region of a transport mask out of img and shrinks it to fit.
// The returned bounds are in img coordinates; when nothing is selected they cover the whole image.
func (g *Gallery) Render(img, transport *image.Buffer) (*image.Buffer, geometry.RectInt) {
	m := transport
	if !m.SameSize(img) {
		m = mask.RescaleToBase(m, img.Size())
	}

	cut := img.Clone()
	image.Draw(cut, m, image.BlendDestinationOut)

	bounds, ok := mask.SelectionBounds(m)
	if !ok {
		bounds = geometry.RectInt{Width: img.Width(), Height: img.Height()}
	}
	cut = cut.Crop(bounds)

	if f := bounds.Size().Fit(g.MaxDimension); f < 1 {
		cut = cut.ScaleBy(f, image.InterpCatmullRom)
	}
	return cut, bounds
}

// Select commits candidate index as the layer's image. All candidates are kept.
func Select(s *layer.Stack, id, index int) error {
	return s.Select(id, index)
}
