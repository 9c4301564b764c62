package image

import (
	xdraw "golang.org/x/image/draw"
)

// Interpolation selects the resampling kernel used by Scale.
type Interpolation int

const (
	InterpNearest  Interpolation = iota // Hard-edged masks
	InterpBilinear                      // Photographic content
	InterpCatmullRom                    // High quality downscale
)

func (i Interpolation) scaler() xdraw.Scaler {
	switch i {
	case InterpBilinear:
		return xdraw.BiLinear
	case InterpCatmullRom:
		return xdraw.CatmullRom
	default:
		return xdraw.NearestNeighbor
	}
}

// Scale returns a copy of b resampled to width x height.
// A same-size request returns a clone.
func (b *Buffer) Scale(width, height int, interp Interpolation) *Buffer {
	if width == b.Width() && height == b.Height() {
		return b.Clone()
	}
	out := NewBuffer(width, height)
	if out.Width() == 0 || out.Height() == 0 || b.Width() == 0 || b.Height() == 0 {
		return out
	}
	interp.scaler().Scale(out.img, out.img.Bounds(), b.img, b.img.Bounds(), xdraw.Src, nil)
	return out
}

// ScaleBy returns a copy of b scaled uniformly by factor, keeping at least one pixel per side.
func (b *Buffer) ScaleBy(factor float64, interp Interpolation) *Buffer {
	w := max(1, int(float64(b.Width())*factor+0.5))
	h := max(1, int(float64(b.Height())*factor+0.5))
	return b.Scale(w, h, interp)
}
