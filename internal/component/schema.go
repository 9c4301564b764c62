// Package component describes generation components and decides which ones the editor can drive.
package component

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"image-refiner/internal/prompt"
)

// Socket types with special meaning to the editor.
const (
	TypeImage      = "IMAGE"
	TypeLatent     = "LATENT"
	TypeMask       = "MASK"
	TypeControlNet = "CONTROL_NET"
	TypeCombo      = "COMBO"
)

// ErrUnsupported is returned for components the editor cannot drive.
var ErrUnsupported = errors.New("unsupported component")

// Input is one declared input of a component.
type Input struct {
	Name    string
	Type    string
	Options []string       // COMBO choices
	Detail  map[string]any // default, min, max, step, ...
}

// Output is one declared output of a component.
type Output struct {
	Type string
	Name string
}

// Schema is the declared input/output signature of a component.
type Schema struct {
	Name    string
	Inputs  []Input
	Outputs []Output
}

type wireSchema struct {
	Input struct {
		Required orderedInputs `json:"required"`
	} `json:"input"`
	Output     []string `json:"output"`
	OutputName []string `json:"output_name"`
}

// orderedInputs keeps declaration order, which decides prompt control order.
type orderedInputs []Input

func (o *orderedInputs) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("required inputs must be an object")
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, _ := tok.(string)

		var def []json.RawMessage
		if err := dec.Decode(&def); err != nil {
			return fmt.Errorf("input %q: %w", name, err)
		}
		in, err := parseInput(name, def)
		if err != nil {
			return err
		}
		*o = append(*o, in)
	}
	_, err = dec.Token()
	return err
}

func parseInput(name string, def []json.RawMessage) (Input, error) {
	in := Input{Name: name}
	if len(def) == 0 {
		return in, fmt.Errorf("input %q has no type", name)
	}

	var typ string
	if err := json.Unmarshal(def[0], &typ); err != nil {
		var options []any
		if err := json.Unmarshal(def[0], &options); err != nil {
			return in, fmt.Errorf("input %q: unreadable type", name)
		}
		typ = TypeCombo
		for _, opt := range options {
			in.Options = append(in.Options, fmt.Sprint(opt))
		}
	}
	in.Type = typ

	if len(def) > 1 {
		if err := json.Unmarshal(def[1], &in.Detail); err != nil {
			in.Detail = nil
		}
	}
	return in, nil
}

// ParseSchema decodes one component entry of the host's object info.
func ParseSchema(name string, data []byte) (*Schema, error) {
	var w wireSchema
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("failed to parse schema for %q: %w", name, err)
	}
	s := &Schema{Name: name, Inputs: w.Input.Required}
	for i, typ := range w.Output {
		out := Output{Type: typ, Name: typ}
		if i < len(w.OutputName) && w.OutputName[i] != "" {
			out.Name = w.OutputName[i]
		}
		s.Outputs = append(s.Outputs, out)
	}
	return s, nil
}

// IsAvailable reports whether the editor can drive the component: exactly one IMAGE or
// LATENT input, at most one MASK input, exactly one IMAGE or LATENT output, and no
// input types the editor has no control for.
func (s *Schema) IsAvailable() bool {
	return s.check() == nil
}

func (s *Schema) check() error {
	if s == nil {
		return fmt.Errorf("%w: no schema", ErrUnsupported)
	}
	var images, latents, masks int
	for _, in := range s.Inputs {
		switch in.Type {
		case TypeImage:
			images++
		case TypeLatent:
			latents++
		case TypeMask:
			masks++
		case string(prompt.KindBasicPipe), string(prompt.KindVAE), string(prompt.KindModel),
			string(prompt.KindConditioning), string(prompt.KindInt), string(prompt.KindFloat),
			string(prompt.KindString), string(prompt.KindBoolean), TypeCombo:
		case TypeControlNet:
			return fmt.Errorf("%w: %s inputs are not supported", ErrUnsupported, TypeControlNet)
		case "":
			return fmt.Errorf("%w: input %q has no type", ErrUnsupported, in.Name)
		default:
			if !strings.Contains(in.Type, ",") {
				return fmt.Errorf("%w: input %q has type %s", ErrUnsupported, in.Name, in.Type)
			}
		}
	}
	if images > 1 || latents > 1 || images+latents != 1 {
		return fmt.Errorf("%w: needs exactly one IMAGE or LATENT input", ErrUnsupported)
	}
	if masks > 1 {
		return fmt.Errorf("%w: more than one MASK input", ErrUnsupported)
	}

	var outputs int
	for _, out := range s.Outputs {
		if out.Type == TypeImage || out.Type == TypeLatent {
			outputs++
		}
	}
	if outputs != 1 {
		return fmt.Errorf("%w: needs exactly one IMAGE or LATENT output", ErrUnsupported)
	}
	return nil
}

// DefaultPrompt builds prompt metadata populated from the declared defaults.
// checkpoint is used for every checkpoint-bearing input.
func (s *Schema) DefaultPrompt(checkpoint string) (*prompt.Data, error) {
	if err := s.check(); err != nil {
		return nil, err
	}

	d := prompt.New(prompt.Slot{}, prompt.Slot{})
	d.ComponentName = s.Name
	for _, in := range s.Inputs {
		switch in.Type {
		case TypeImage:
			d.InputImage = prompt.Slot{Kind: prompt.SlotImage, Name: in.Name}
		case TypeLatent:
			d.InputImage = prompt.Slot{Kind: prompt.SlotLatent, Name: in.Name}
		case TypeMask:
			d.MaskInput = in.Name
		case string(prompt.KindBasicPipe):
			d.Set(in.Name, prompt.Value{Kind: prompt.KindBasicPipe, Checkpoint: checkpoint})
		case string(prompt.KindModel):
			d.Set(in.Name, prompt.Value{Kind: prompt.KindModel, Checkpoint: checkpoint})
		case string(prompt.KindVAE):
			d.Set(in.Name, prompt.Value{Kind: prompt.KindVAE, Checkpoint: checkpoint})
		case string(prompt.KindConditioning):
			d.Set(in.Name, prompt.Value{Kind: prompt.KindConditioning, Checkpoint: checkpoint})
		case string(prompt.KindInt):
			d.Set(in.Name, prompt.Value{Kind: prompt.KindInt, Int: &prompt.IntRange{
				Value: toInt64(in.number("default", 0)),
				Min:   toInt64(in.number("min", 0)),
				Max:   toInt64(in.number("max", math.MaxInt64)),
				Step:  toInt64(in.number("step", 1)),
			}})
		case string(prompt.KindFloat):
			d.Set(in.Name, prompt.Value{Kind: prompt.KindFloat, Float: &prompt.FloatRange{
				Value: in.number("default", 0),
				Min:   in.number("min", 0),
				Max:   in.number("max", math.MaxFloat64),
				Step:  in.number("step", 0.01),
			}})
		case string(prompt.KindString):
			d.Set(in.Name, prompt.Value{Kind: prompt.KindString, Text: in.text("default")})
		case string(prompt.KindBoolean):
			b, _ := in.Detail["default"].(bool)
			d.Set(in.Name, prompt.Value{Kind: prompt.KindBoolean, Bool: b})
		default:
			v := in.text("default")
			if v == "" && len(in.Options) > 0 {
				v = in.Options[0]
			}
			d.Set(in.Name, prompt.Value{Kind: prompt.KindCombo, Text: v})
		}
	}
	for _, out := range s.Outputs {
		switch out.Type {
		case TypeImage:
			d.OutputImage = prompt.Slot{Kind: prompt.SlotImage, Name: out.Name}
		case TypeLatent:
			d.OutputImage = prompt.Slot{Kind: prompt.SlotLatent, Name: out.Name}
		}
	}
	return d, d.Validate()
}

func (in Input) number(key string, fallback float64) float64 {
	switch v := in.Detail[key].(type) {
	case float64:
		return v
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
	}
	return fallback
}

func (in Input) text(key string) string {
	if v, ok := in.Detail[key]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return ""
}

func toInt64(f float64) int64 {
	switch {
	case f >= math.MaxInt64:
		return math.MaxInt64
	case f <= math.MinInt64:
		return math.MinInt64
	}
	return int64(math.Round(f))
}
