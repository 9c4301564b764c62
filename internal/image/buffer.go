package image

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	"image-refiner/pkg/geometry"
)

// Buffer is an owned, bounds-checked RGBA raster with non-premultiplied alpha.
// Reads outside the buffer return transparent black and writes outside it are ignored.
type Buffer struct {
	img *image.NRGBA
}

// NewBuffer creates a transparent buffer of the given size. Non-positive sizes yield an empty buffer.
func NewBuffer(width, height int) *Buffer {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return &Buffer{img: image.NewNRGBA(image.Rect(0, 0, width, height))}
}

// NewBufferSize creates a transparent buffer with the dimensions of s.
func NewBufferSize(s geometry.Size) *Buffer {
	return NewBuffer(s.Width, s.Height)
}

// FromImage copies any image into a new buffer anchored at the origin.
func FromImage(src image.Image) *Buffer {
	b := src.Bounds()
	buf := NewBuffer(b.Dx(), b.Dy())
	if n, ok := src.(*image.NRGBA); ok {
		for y := 0; y < b.Dy(); y++ {
			row := n.Pix[n.PixOffset(b.Min.X, b.Min.Y+y):]
			copy(buf.img.Pix[y*buf.img.Stride:(y+1)*buf.img.Stride], row[:4*b.Dx()])
		}
		return buf
	}
	draw.Draw(buf.img, buf.img.Bounds(), src, b.Min, draw.Src)
	return buf
}

// Width returns the buffer width in pixels.
func (b *Buffer) Width() int { return b.img.Rect.Dx() }

// Height returns the buffer height in pixels.
func (b *Buffer) Height() int { return b.img.Rect.Dy() }

// Size returns the buffer dimensions.
func (b *Buffer) Size() geometry.Size {
	return geometry.Size{Width: b.Width(), Height: b.Height()}
}

// SameSize reports whether two buffers have identical dimensions.
func (b *Buffer) SameSize(other *Buffer) bool {
	return other != nil && b.Size() == other.Size()
}

// In reports whether (x, y) is inside the buffer.
func (b *Buffer) In(x, y int) bool {
	return x >= 0 && y >= 0 && x < b.Width() && y < b.Height()
}

// At returns the pixel at (x, y).
func (b *Buffer) At(x, y int) color.NRGBA {
	if !b.In(x, y) {
		return color.NRGBA{}
	}
	return b.img.NRGBAAt(x, y)
}

// Alpha returns the alpha channel at (x, y).
func (b *Buffer) Alpha(x, y int) uint8 {
	return b.At(x, y).A
}

// Set writes the pixel at (x, y).
func (b *Buffer) Set(x, y int, c color.NRGBA) {
	if !b.In(x, y) {
		return
	}
	b.img.SetNRGBA(x, y, c)
}

// Map replaces every pixel with fn(x, y, current).
func (b *Buffer) Map(fn func(x, y int, c color.NRGBA) color.NRGBA) {
	for y := 0; y < b.Height(); y++ {
		for x := 0; x < b.Width(); x++ {
			b.img.SetNRGBA(x, y, fn(x, y, b.img.NRGBAAt(x, y)))
		}
	}
}

// Any reports whether pred holds for at least one pixel.
func (b *Buffer) Any(pred func(c color.NRGBA) bool) bool {
	for y := 0; y < b.Height(); y++ {
		for x := 0; x < b.Width(); x++ {
			if pred(b.img.NRGBAAt(x, y)) {
				return true
			}
		}
	}
	return false
}

// Fill sets every pixel to c.
func (b *Buffer) Fill(c color.NRGBA) {
	for i := 0; i+3 < len(b.img.Pix); i += 4 {
		b.img.Pix[i], b.img.Pix[i+1], b.img.Pix[i+2], b.img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
}

// Clear makes every pixel transparent black.
func (b *Buffer) Clear() {
	clear(b.img.Pix)
}

// Clone returns a deep copy.
func (b *Buffer) Clone() *Buffer {
	img := image.NewNRGBA(b.img.Rect)
	copy(img.Pix, b.img.Pix)
	return &Buffer{img: img}
}

// CopyFrom replaces the content of b with src. Sizes must match; otherwise nothing is copied and false is returned.
func (b *Buffer) CopyFrom(src *Buffer) bool {
	if !b.SameSize(src) {
		return false
	}
	copy(b.img.Pix, src.img.Pix)
	return true
}

// Equal reports whether both buffers have identical size and pixels.
func (b *Buffer) Equal(other *Buffer) bool {
	if !b.SameSize(other) {
		return false
	}
	for i := range b.img.Pix {
		if b.img.Pix[i] != other.img.Pix[i] {
			return false
		}
	}
	return true
}

// Crop returns a copy of the region r, clipped to the buffer.
func (b *Buffer) Crop(r geometry.RectInt) *Buffer {
	rect := image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height).Intersect(b.img.Rect)
	return FromImage(b.img.SubImage(rect))
}

// ToImage returns a copy as a standard library image.
func (b *Buffer) ToImage() *image.NRGBA {
	return b.Clone().img
}

// FillCircle stamps a filled circle centered at (cx, cy) with radius r using mode.
// The pixel containing the center is always covered when r > 0.
func (b *Buffer) FillCircle(cx, cy, r float64, c color.NRGBA, mode BlendMode) {
	if r <= 0 {
		return
	}
	minX := int(cx - r - 1)
	maxX := int(cx + r + 1)
	minY := int(cy - r - 1)
	maxY := int(cy + r + 1)

	px, py := int(math.Floor(cx)), int(math.Floor(cy))
	centered := false

	r2 := r * r
	for y := minY; y <= maxY; y++ {
		if y < 0 || y >= b.Height() {
			continue
		}
		for x := minX; x <= maxX; x++ {
			if x < 0 || x >= b.Width() {
				continue
			}
			dx := float64(x) - cx
			dy := float64(y) - cy
			if dx*dx+dy*dy <= r2 {
				b.img.SetNRGBA(x, y, blend(b.img.NRGBAAt(x, y), c, mode))
				centered = centered || (x == px && y == py)
			}
		}
	}

	if !centered && b.In(px, py) {
		b.img.SetNRGBA(px, py, blend(b.img.NRGBAAt(px, py), c, mode))
	}
}
