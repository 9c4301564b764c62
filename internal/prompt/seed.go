package prompt

import (
	"math"
	"strings"
)

// Rand is the randomness source used for seed re-rolls. *math/rand/v2.Rand satisfies it.
type Rand interface {
	Int64N(n int64) int64
	Float64() float64
}

// IsSeed reports whether an input name denotes a seed field.
func IsSeed(name string) bool {
	return name == "seed" || strings.HasPrefix(name, "seed.")
}

// Seeds returns the names of numeric seed inputs in sorted order.
func (d *Data) Seeds() []string {
	var out []string
	for _, name := range d.Names() {
		v := d.Inputs[name]
		if IsSeed(name) && (v.Kind == KindInt || v.Kind == KindFloat) {
			out = append(out, name)
		}
	}
	return out
}

// HasSeeds reports whether any seed input exists.
func (d *Data) HasSeeds() bool {
	return len(d.Seeds()) > 0
}

// IncrementSeeds advances every seed by its step. A seed already at (or past) its
// maximum wraps to its minimum.
func (d *Data) IncrementSeeds() {
	for _, name := range d.Seeds() {
		v := d.Inputs[name]
		switch v.Kind {
		case KindInt:
			r := *v.Int
			step := r.Step
			if step <= 0 {
				step = 1
			}
			if r.Value >= r.Max || r.Value > r.Max-step {
				r.Value = r.Min
			} else {
				r.Value += step
			}
			v.Int = &r
		case KindFloat:
			r := *v.Float
			step := r.Step
			if step <= 0 {
				step = 1
			}
			if r.Value >= r.Max || r.Value+step > r.Max {
				r.Value = r.Min
			} else {
				r.Value += step
			}
			v.Float = &r
		}
		d.Inputs[name] = v
	}
}

// RandomizeSeeds sets every seed to a uniformly random integer in [min, max].
func (d *Data) RandomizeSeeds(rng Rand) {
	for _, name := range d.Seeds() {
		v := d.Inputs[name]
		switch v.Kind {
		case KindInt:
			r := *v.Int
			r.Value = randomInt(rng, r.Min, r.Max)
			v.Int = &r
		case KindFloat:
			r := *v.Float
			r.Value = math.Floor(rng.Float64()*(r.Max-r.Min+1)) + r.Min
			if r.Value > r.Max {
				r.Value = r.Max
			}
			v.Float = &r
		}
		d.Inputs[name] = v
	}
}

func randomInt(rng Rand, lo, hi int64) int64 {
	if hi <= lo {
		return lo
	}
	span := hi - lo + 1
	if span <= 0 {
		// range wider than int64; sample the upper bits directly
		return lo + int64(uint64(rng.Int64N(math.MaxInt64))<<1|uint64(rng.Int64N(2)))
	}
	return lo + rng.Int64N(span)
}
