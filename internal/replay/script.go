// Package replay feeds recorded editor input into a session.
package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"image-refiner/internal/app"
	"image-refiner/internal/brush"
	"image-refiner/pkg/colorutil"
	"image-refiner/pkg/geometry"
)

// Event kinds.
const (
	KindDown   = "down"
	KindMove   = "move"
	KindUp     = "up"
	KindFrame  = "frame"
	KindKey    = "key"
	KindWheel  = "wheel"
	KindZoom   = "zoom"
	KindPan    = "pan"
	KindBrush  = "brush"
	KindPen    = "pen"
	KindCommit = "commit"
	KindClear  = "clear"
)

// Event is one recorded input. Fields not used by its kind are ignored.
type Event struct {
	Kind     string  `json:"type"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	DX       float64 `json:"dx"`
	DY       float64 `json:"dy"`
	Button   int     `json:"button"`
	Buttons  int     `json:"buttons"`
	Pointer  string  `json:"pointer"`
	Pressure float64 `json:"pressure"`
	Key      string  `json:"key"`
	Delta    float64 `json:"delta"`
	Steps    int     `json:"steps"`
	Size     float64 `json:"size"`
	On       bool    `json:"on"`
	Color    string  `json:"color"`
	// Wait is the time in milliseconds since the previous event.
	Wait int `json:"wait"`
}

// Script is a recorded editing session.
type Script struct {
	Viewport *geometry.Size `json:"viewport,omitempty"`
	Events   []Event        `json:"events"`
}

// Load reads a script from a JSON file.
func Load(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes a script.
func Parse(data []byte) (*Script, error) {
	var sc Script
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parse script: %w", err)
	}
	for i, ev := range sc.Events {
		switch ev.Kind {
		case KindDown, KindMove, KindUp, KindFrame, KindKey, KindWheel, KindZoom,
			KindPan, KindBrush, KindPen, KindCommit, KindClear:
		default:
			return nil, fmt.Errorf("event %d: unknown type %q", i, ev.Kind)
		}
	}
	return &sc, nil
}

// Run replays the script into s. Sample times advance by each event's wait from start,
// and pending strokes are flushed after the last event.
func (sc *Script) Run(ctx context.Context, s *app.Session, start time.Time) error {
	if sc.Viewport != nil {
		s.Fit(*sc.Viewport)
	}
	now := start
	for i, ev := range sc.Events {
		if err := ctx.Err(); err != nil {
			return err
		}
		now = now.Add(time.Duration(ev.Wait) * time.Millisecond)
		if err := apply(ctx, s, ev, now); err != nil {
			return fmt.Errorf("event %d (%s): %w", i, ev.Kind, err)
		}
	}
	s.Frame()
	return nil
}

func apply(ctx context.Context, s *app.Session, ev Event, now time.Time) error {
	switch ev.Kind {
	case KindDown:
		s.PointerDown(sample(ev, now))
	case KindMove:
		s.PointerMove(sample(ev, now))
	case KindUp:
		s.PointerUp()
	case KindFrame:
		s.Frame()
	case KindKey:
		_, err := s.Key(ctx, ev.Key)
		return err
	case KindWheel:
		s.Wheel(ev.Delta)
	case KindZoom:
		s.Zoom(ev.Steps, geometry.NewPoint2D(ev.X, ev.Y))
	case KindPan:
		s.Pan(ev.DX, ev.DY)
	case KindBrush:
		if ev.Size > 0 {
			s.SetBrushSize(ev.Size)
		}
		if ev.Color != "" {
			c, err := colorutil.ParseHex(ev.Color)
			if err != nil {
				return err
			}
			s.SetBrushColor(c)
		}
	case KindPen:
		s.Frame()
		s.SetPenMode(ev.On)
	case KindCommit:
		s.Frame()
		_, err := s.CommitDrawing()
		return err
	case KindClear:
		s.ClearMask()
	}
	return nil
}

func sample(ev Event, now time.Time) brush.Sample {
	smp := brush.Sample{
		Pos:      geometry.NewPoint2D(ev.X, ev.Y),
		Pressure: ev.Pressure,
		Button:   ev.Button,
		Buttons:  ev.Buttons,
		Time:     now,
	}
	switch ev.Pointer {
	case "pen":
		smp.Pointer = brush.PointerPen
	case "touch":
		smp.Pointer = brush.PointerTouch
	default:
		smp.Pointer = brush.PointerMouse
	}
	if smp.Pressure == 0 {
		smp.Pressure = 1
	}
	return smp
}
