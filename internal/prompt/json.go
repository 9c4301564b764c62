package prompt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

type wireValue struct {
	Type       Kind            `json:"type"`
	Checkpoint string          `json:"checkpoint,omitempty"`
	VAE        string          `json:"vae,omitempty"`
	Positive   *string         `json:"positive,omitempty"`
	Negative   *string         `json:"negative,omitempty"`
	TextPrompt *string         `json:"text_prompt,omitempty"`
	Value      json.RawMessage `json:"value,omitempty"`
	Min        json.RawMessage `json:"min,omitempty"`
	Max        json.RawMessage `json:"max,omitempty"`
	Step       json.RawMessage `json:"step,omitempty"`
}

// MarshalJSON encodes the value in the flattened {"type": ...} form.
func (v Value) MarshalJSON() ([]byte, error) {
	w := wireValue{Type: v.Kind}
	raw := func(x any) json.RawMessage {
		b, _ := json.Marshal(x)
		return b
	}

	switch v.Kind {
	case KindBasicPipe:
		w.Checkpoint = v.Checkpoint
		w.Positive = &v.Positive
		w.Negative = &v.Negative
	case KindModel:
		w.Checkpoint = v.Checkpoint
	case KindVAE:
		w.Checkpoint = v.Checkpoint
		w.VAE = v.VAE
	case KindConditioning:
		w.Checkpoint = v.Checkpoint
		w.TextPrompt = &v.Text
	case KindInt:
		r := v.Int
		if r == nil {
			r = &IntRange{}
		}
		w.Value, w.Min, w.Max, w.Step = raw(r.Value), raw(r.Min), raw(r.Max), raw(r.Step)
	case KindFloat:
		r := v.Float
		if r == nil {
			r = &FloatRange{}
		}
		w.Value, w.Min, w.Max, w.Step = raw(r.Value), raw(r.Min), raw(r.Max), raw(r.Step)
	case KindString, KindCombo:
		w.Value = raw(v.Text)
	case KindBoolean:
		w.Value = raw(v.Bool)
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalid, v.Kind)
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the flattened form. Numbers may be given as JSON numbers or numeric strings.
func (v *Value) UnmarshalJSON(data []byte) error {
	var w wireValue
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	out := Value{Kind: w.Type, Checkpoint: w.Checkpoint, VAE: w.VAE}
	switch w.Type {
	case KindBasicPipe:
		out.Positive = deref(w.Positive)
		out.Negative = deref(w.Negative)
	case KindModel, KindVAE:
	case KindConditioning:
		out.Text = deref(w.TextPrompt)
	case KindInt:
		r := &IntRange{Step: 1}
		var err error
		if r.Value, err = parseInt(w.Value, 0); err != nil {
			return fmt.Errorf("INT value: %w", err)
		}
		if r.Min, err = parseInt(w.Min, math.MinInt64); err != nil {
			return fmt.Errorf("INT min: %w", err)
		}
		if r.Max, err = parseInt(w.Max, math.MaxInt64); err != nil {
			return fmt.Errorf("INT max: %w", err)
		}
		if r.Step, err = parseInt(w.Step, 1); err != nil {
			return fmt.Errorf("INT step: %w", err)
		}
		out.Int = r
	case KindFloat:
		r := &FloatRange{}
		var err error
		if r.Value, err = parseFloat(w.Value, 0); err != nil {
			return fmt.Errorf("FLOAT value: %w", err)
		}
		if r.Min, err = parseFloat(w.Min, -math.MaxFloat64); err != nil {
			return fmt.Errorf("FLOAT min: %w", err)
		}
		if r.Max, err = parseFloat(w.Max, math.MaxFloat64); err != nil {
			return fmt.Errorf("FLOAT max: %w", err)
		}
		if r.Step, err = parseFloat(w.Step, 0); err != nil {
			return fmt.Errorf("FLOAT step: %w", err)
		}
		out.Float = r
	case KindString, KindCombo:
		out.Text = rawText(w.Value)
	case KindBoolean:
		b, err := strconv.ParseBool(rawText(w.Value))
		if err != nil {
			return fmt.Errorf("BOOLEAN value: %w", err)
		}
		out.Bool = b
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalid, w.Type)
	}
	*v = out
	return nil
}

// MarshalJSON encodes a slot as {"IMAGE": name} or {"LATENT": name}.
func (s Slot) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{s.Kind: s.Name})
}

// UnmarshalJSON decodes a single-entry slot object.
func (s *Slot) UnmarshalJSON(data []byte) error {
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	if len(m) != 1 {
		return fmt.Errorf("%w: image slot must have exactly one entry", ErrInvalid)
	}
	for k, name := range m {
		*s = Slot{Kind: k, Name: name}
	}
	return nil
}

// UnmarshalJSON decodes an image path; a missing is_mask_mode means mask mode.
func (p *ImagePath) UnmarshalJSON(data []byte) error {
	type alias ImagePath
	a := alias{IsMaskMode: true}
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*p = ImagePath(a)
	return nil
}

// MarshalJSON encodes the metadata as one flat object keyed by input name plus the reserved keys.
func (d *Data) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(d.Inputs)+5)
	for name, v := range d.Inputs {
		m[name] = v
	}
	if !d.InputImage.IsZero() {
		m[KeyInputImage] = d.InputImage
	}
	if !d.OutputImage.IsZero() {
		m[KeyOutputImage] = d.OutputImage
	}
	if d.MaskInput != "" {
		m[KeyMask] = d.MaskInput
	}
	if d.ImagePaths != nil {
		m[KeyImagePaths] = d.ImagePaths
	}
	if d.ComponentName != "" {
		m[KeyComponentName] = d.ComponentName
	}
	return json.Marshal(m)
}

// UnmarshalJSON decodes the flat object form.
func (d *Data) UnmarshalJSON(data []byte) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}

	out := Data{Inputs: make(map[string]Value)}
	for key, raw := range m {
		var err error
		switch key {
		case KeyInputImage:
			err = json.Unmarshal(raw, &out.InputImage)
		case KeyOutputImage:
			err = json.Unmarshal(raw, &out.OutputImage)
		case KeyMask:
			err = json.Unmarshal(raw, &out.MaskInput)
		case KeyImagePaths:
			err = json.Unmarshal(raw, &out.ImagePaths)
		case KeyComponentName:
			err = json.Unmarshal(raw, &out.ComponentName)
		default:
			var v Value
			err = json.Unmarshal(raw, &v)
			out.Inputs[key] = v
		}
		if err != nil {
			return fmt.Errorf("prompt key %q: %w", key, err)
		}
	}
	*d = out
	return nil
}

// Parse decodes and validates serialized metadata.
func Parse(data []byte) (*Data, error) {
	var d Data
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func rawText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func parseInt(raw json.RawMessage, fallback int64) (int64, error) {
	text := strings.TrimSpace(rawText(raw))
	if text == "" {
		return fallback, nil
	}
	if n, err := strconv.ParseInt(text, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, err
	}
	switch {
	case f >= math.MaxInt64:
		return math.MaxInt64, nil
	case f <= math.MinInt64:
		return math.MinInt64, nil
	}
	return int64(math.Round(f)), nil
}

func parseFloat(raw json.RawMessage, fallback float64) (float64, error) {
	text := strings.TrimSpace(rawText(raw))
	if text == "" {
		return fallback, nil
	}
	return strconv.ParseFloat(text, 64)
}
