// Package prompt models the typed metadata sent with every generation request.
package prompt

import (
	"errors"
	"fmt"
	"sort"
)

// ErrInvalid is returned when prompt metadata violates its structural rules.
var ErrInvalid = errors.New("invalid prompt metadata")

// Kind is the declared type of a component input.
type Kind string

const (
	KindBasicPipe    Kind = "BASIC_PIPE"
	KindModel        Kind = "MODEL"
	KindVAE          Kind = "VAE"
	KindConditioning Kind = "CONDITIONING"
	KindInt          Kind = "INT"
	KindFloat        Kind = "FLOAT"
	KindString       Kind = "STRING"
	KindCombo        Kind = "COMBO"
	KindBoolean      Kind = "BOOLEAN"
)

// Image slot kinds.
const (
	SlotImage  = "IMAGE"
	SlotLatent = "LATENT"
)

// Reserved keys in the serialized form.
const (
	KeyInputImage    = "@IR_input_image"
	KeyOutputImage   = "@IR_output_image"
	KeyMask          = "@IR_mask"
	KeyImagePaths    = "image_paths"
	KeyComponentName = "component_name"
)

// IntRange is an integer input with its declared bounds.
type IntRange struct {
	Value int64
	Min   int64
	Max   int64
	Step  int64
}

// FloatRange is a float input with its declared bounds.
type FloatRange struct {
	Value float64
	Min   float64
	Max   float64
	Step  float64
}

// Value is one typed input. Only the fields belonging to Kind are meaningful.
type Value struct {
	Kind       Kind
	Checkpoint string
	VAE        string
	Positive   string
	Negative   string
	Text       string // CONDITIONING prompt, STRING and COMBO value
	Int        *IntRange
	Float      *FloatRange
	Bool       bool
}

// Slot names the component's image input or output socket.
type Slot struct {
	Kind string // SlotImage or SlotLatent
	Name string
}

// IsZero reports whether the slot is unset.
func (s Slot) IsZero() bool {
	return s.Kind == "" && s.Name == ""
}

// ImageRef identifies an image stored on the generation host.
type ImageRef struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// IsZero reports whether the reference is unset.
func (r ImageRef) IsZero() bool {
	return r.Filename == ""
}

// Key returns a stable identity for deduplication.
func (r ImageRef) Key() string {
	return r.Type + "/" + r.Subfolder + "/" + r.Filename
}

// ImagePath is one contributing image of a generation request. Id 0 is the base image;
// other ids are the visible layers below the new one, numbered from 1 in stack order.
type ImagePath struct {
	ID         int       `json:"id"`
	Image      *ImageRef `json:"image,omitempty"`
	IsMaskMode bool      `json:"is_mask_mode"`
}

// Data is the prompt metadata of a generation call.
type Data struct {
	Inputs        map[string]Value
	InputImage    Slot
	OutputImage   Slot
	MaskInput     string
	ImagePaths    []ImagePath
	ComponentName string
}

// New creates empty metadata for the given image slots.
func New(input, output Slot) *Data {
	return &Data{
		Inputs:      make(map[string]Value),
		InputImage:  input,
		OutputImage: output,
	}
}

// Set stores an input value.
func (d *Data) Set(name string, v Value) {
	if d.Inputs == nil {
		d.Inputs = make(map[string]Value)
	}
	d.Inputs[name] = v
}

// Get returns an input value.
func (d *Data) Get(name string) (Value, bool) {
	v, ok := d.Inputs[name]
	return v, ok
}

// Names returns the input names in sorted order.
func (d *Data) Names() []string {
	names := make([]string, 0, len(d.Inputs))
	for name := range d.Inputs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks the structural rules: both image slots present and well-typed,
// no reserved names among the inputs, and every numeric range ordered.
func (d *Data) Validate() error {
	if err := validateSlot(KeyInputImage, d.InputImage); err != nil {
		return err
	}
	if err := validateSlot(KeyOutputImage, d.OutputImage); err != nil {
		return err
	}
	for name, v := range d.Inputs {
		if isReserved(name) {
			return fmt.Errorf("%w: input %q uses a reserved name", ErrInvalid, name)
		}
		switch v.Kind {
		case KindInt:
			if v.Int == nil || v.Int.Min > v.Int.Max {
				return fmt.Errorf("%w: input %q has an invalid INT range", ErrInvalid, name)
			}
		case KindFloat:
			if v.Float == nil || v.Float.Min > v.Float.Max {
				return fmt.Errorf("%w: input %q has an invalid FLOAT range", ErrInvalid, name)
			}
		case KindBasicPipe, KindModel, KindVAE, KindConditioning, KindString, KindCombo, KindBoolean:
		default:
			return fmt.Errorf("%w: input %q has unknown type %q", ErrInvalid, name, v.Kind)
		}
	}
	return nil
}

func validateSlot(key string, s Slot) error {
	if s.Name == "" {
		return fmt.Errorf("%w: %s is missing", ErrInvalid, key)
	}
	if s.Kind != SlotImage && s.Kind != SlotLatent {
		return fmt.Errorf("%w: %s has type %q", ErrInvalid, key, s.Kind)
	}
	return nil
}

func isReserved(name string) bool {
	switch name {
	case KeyInputImage, KeyOutputImage, KeyMask, KeyImagePaths, KeyComponentName:
		return true
	}
	return false
}

// Clone returns a deep copy.
func (d *Data) Clone() *Data {
	if d == nil {
		return nil
	}
	out := &Data{
		Inputs:        make(map[string]Value, len(d.Inputs)),
		InputImage:    d.InputImage,
		OutputImage:   d.OutputImage,
		MaskInput:     d.MaskInput,
		ComponentName: d.ComponentName,
	}
	for name, v := range d.Inputs {
		if v.Int != nil {
			r := *v.Int
			v.Int = &r
		}
		if v.Float != nil {
			r := *v.Float
			v.Float = &r
		}
		out.Inputs[name] = v
	}
	if d.ImagePaths != nil {
		out.ImagePaths = make([]ImagePath, len(d.ImagePaths))
		for i, p := range d.ImagePaths {
			if p.Image != nil {
				ref := *p.Image
				p.Image = &ref
			}
			out.ImagePaths[i] = p
		}
	}
	return out
}
