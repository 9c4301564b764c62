package image

import (
	"image/color"
)

// BlendMode specifies how a source pixel is combined with a destination pixel.
type BlendMode int

const (
	BlendSourceOver     BlendMode = iota // Paint source on top of destination
	BlendDestinationOut                  // Erase destination where source is opaque
	BlendCopy                            // Replace destination with source
)

// String returns the blend mode name.
func (m BlendMode) String() string {
	switch m {
	case BlendSourceOver:
		return "SourceOver"
	case BlendDestinationOut:
		return "DestinationOut"
	case BlendCopy:
		return "Copy"
	default:
		return "Unknown"
	}
}

// Composite combines multiple rasters into a single image.
type Composite struct {
	Width     int
	Height    int
	Layers    []*CompositeLayer
	BackColor color.NRGBA
}

// CompositeLayer wraps a Buffer with compositing settings.
type CompositeLayer struct {
	Buffer    *Buffer
	BlendMode BlendMode
	Visible   bool
}

// NewComposite creates a new Composite with a transparent background.
func NewComposite(width, height int) *Composite {
	return &Composite{
		Width:  width,
		Height: height,
	}
}

// AddLayer adds a raster to the composite; later layers end up on top.
func (c *Composite) AddLayer(buf *Buffer, mode BlendMode) {
	c.Layers = append(c.Layers, &CompositeLayer{
		Buffer:    buf,
		BlendMode: mode,
		Visible:   true,
	})
}

// Render produces the final composited buffer.
func (c *Composite) Render() *Buffer {
	result := NewBuffer(c.Width, c.Height)
	if c.BackColor.A != 0 {
		result.Fill(c.BackColor)
	}

	for _, cl := range c.Layers {
		if cl.Buffer == nil || !cl.Visible {
			continue
		}
		Draw(result, cl.Buffer, cl.BlendMode)
	}

	return result
}

// Draw blends src onto dst at the origin. Pixels of src outside dst are ignored.
func Draw(dst, src *Buffer, mode BlendMode) {
	w := min(dst.Width(), src.Width())
	h := min(dst.Height(), src.Height())
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dst.img.SetNRGBA(x, y, blend(dst.img.NRGBAAt(x, y), src.img.NRGBAAt(x, y), mode))
		}
	}
}

// blend performs the blend operation between two non-premultiplied colors.
func blend(dst, src color.NRGBA, mode BlendMode) color.NRGBA {
	switch mode {
	case BlendCopy:
		return src

	case BlendDestinationOut:
		sa := float64(src.A) / 255.0
		da := float64(dst.A) / 255.0
		dst.A = uint8(clamp(da*(1-sa), 0, 1)*255 + 0.5)
		if dst.A == 0 {
			return color.NRGBA{}
		}
		return dst

	default:
		if src.A == 255 {
			return src
		}
		if src.A == 0 {
			return dst
		}
		sa := float64(src.A) / 255.0
		da := float64(dst.A) / 255.0
		outA := sa + da*(1-sa)
		mix := func(s, d uint8) uint8 {
			v := (float64(s)*sa + float64(d)*da*(1-sa)) / outA
			return uint8(clamp(v, 0, 255) + 0.5)
		}
		return color.NRGBA{
			R: mix(src.R, dst.R),
			G: mix(src.G, dst.G),
			B: mix(src.B, dst.B),
			A: uint8(clamp(outA, 0, 1)*255 + 0.5),
		}
	}
}

func clamp(x, min, max float64) float64 {
	if x < min {
		return min
	}
	if x > max {
		return max
	}
	return x
}
