// Package mask converts mask rasters between the brush and transport conventions.
//
// Brush convention: painted pixels are opaque and mark the region the user selected.
// Transport convention: alpha is the inverse of the brush alpha and RGB is zero, so the
// selected region is transparent. The generation backend reads 1 - alpha/255 as the
// inpaint weight.
package mask

import (
	"image/color"

	"image-refiner/internal/image"
	"image-refiner/pkg/geometry"
)

// RescaleToBase returns m resampled to size with nearest-neighbour sampling so mask edges stay hard.
// A mask that already matches is cloned.
func RescaleToBase(m *image.Buffer, size geometry.Size) *image.Buffer {
	return m.Scale(size.Width, size.Height, image.InterpNearest)
}

// ToTransport converts a brush-convention mask into the transport convention.
// With wholeImage set the result selects everything regardless of brush content.
func ToTransport(m *image.Buffer, wholeImage bool) *image.Buffer {
	out := image.NewBufferSize(m.Size())
	if wholeImage {
		return out
	}
	out.Map(func(x, y int, _ color.NRGBA) color.NRGBA {
		return color.NRGBA{A: 255 - m.Alpha(x, y)}
	})
	return out
}

// InvertAlpha returns a copy of m with every alpha value replaced by 255 - alpha and RGB zeroed.
func InvertAlpha(m *image.Buffer) *image.Buffer {
	return ToTransport(m, false)
}

// RestoreFromLayer replaces the content of dst with a layer's mask, converted back to the
// brush convention when the layer came from generation. Masks of a different size are
// rescaled to dst first.
func RestoreFromLayer(dst, layerMask *image.Buffer, generated bool) {
	src := layerMask
	if !dst.SameSize(src) {
		src = RescaleToBase(src, dst.Size())
	}
	if generated {
		src = InvertAlpha(src)
	}
	dst.CopyFrom(src)
}

// CompositeDisplay transplants a mask's alpha onto an image to produce a layer's visible raster.
// For generated layers the alpha is 255 - maskAlpha so the selected region shows through;
// for hand-drawn layers the mask alpha is used unchanged. The mask is rescaled if needed.
func CompositeDisplay(img, m *image.Buffer, generated bool) *image.Buffer {
	if !img.SameSize(m) {
		m = RescaleToBase(m, img.Size())
	}
	out := img.Clone()
	out.Map(func(x, y int, c color.NRGBA) color.NRGBA {
		a := m.Alpha(x, y)
		if generated {
			a = 255 - a
		}
		c.A = a
		return c
	})
	return out
}

// IsEmpty reports whether every pixel of m is exactly (0,0,0,0).
func IsEmpty(m *image.Buffer) bool {
	return !m.Any(func(c color.NRGBA) bool { return c != (color.NRGBA{}) })
}

// Clear erases a mask in place.
func Clear(m *image.Buffer) {
	m.Clear()
}

// Selected reports whether (x, y) lies in the selected region of a transport-convention mask.
func Selected(transport *image.Buffer, x, y int) bool {
	return transport.In(x, y) && transport.Alpha(x, y) == 0
}

// SelectionBounds returns the inclusive bounding box of selected pixels of a transport mask.
// The second result is false when nothing is selected.
func SelectionBounds(transport *image.Buffer) (geometry.RectInt, bool) {
	var box geometry.BoundingBox
	for y := 0; y < transport.Height(); y++ {
		for x := 0; x < transport.Width(); x++ {
			if transport.Alpha(x, y) == 0 {
				box.Add(x, y)
			}
		}
	}
	return box.Rect(), box.Count() > 0
}
