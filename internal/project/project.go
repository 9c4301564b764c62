// Package project exports and imports editor sessions as archives.
package project

import (
	"errors"
	"fmt"
	"time"

	"image-refiner/internal/image"
	"image-refiner/internal/layer"
	"image-refiner/internal/prompt"
	"image-refiner/pkg/geometry"
)

// Version is the document format written by Export.
const Version = 1

// Archive entry names.
const (
	DocumentName = "data.json"
	BaseMaskName = "mask_base.png"
	Extension    = ".imagerefiner"
)

var (
	// ErrMissingRaster is returned when an archive lacks a raster its document refers to.
	ErrMissingRaster = errors.New("archive is missing a raster")
	// ErrInvalidArchive is returned for an archive without a readable document.
	ErrInvalidArchive = errors.New("invalid archive")
)

// Document is the data.json of an archive.
type Document struct {
	Version int           `json:"version"`
	Created time.Time     `json:"created"`
	Size    geometry.Size `json:"size"`
	NextID  int           `json:"next_id"`
	Layers  []LayerData   `json:"layers_data"`
	Prompt  PromptInfo    `json:"prompt_data"`
}

// PromptInfo carries session-wide references.
type PromptInfo struct {
	BaseImagePath prompt.ImageRef `json:"base_image_path"`
}

// LayerData is one archived layer. Image is set only for generated layers.
type LayerData struct {
	ID       int               `json:"id"`
	Visible  bool              `json:"visible"`
	Image    *prompt.ImageRef  `json:"image,omitempty"`
	Cands    []prompt.ImageRef `json:"cands,omitempty"`
	Selected int               `json:"selected"`
	Prompt   *prompt.Data      `json:"prompt_data,omitempty"`
	Context  []ContextRef      `json:"context,omitempty"`
}

// ContextRef names the archived raster that accompanied a generation request for input ID.
type ContextRef struct {
	ID   int    `json:"id"`
	File string `json:"file"`
}

// Snapshot is the session content an archive carries.
type Snapshot struct {
	Base    *image.Buffer
	BaseRef prompt.ImageRef
	Mask    *image.Buffer
	Layers  []*layer.Layer
	NextID  int
}

// Filename returns the archive name for an export made at t.
func Filename(t time.Time) string {
	return "imagerefiner_archive_" + t.Format("20060102_150405") + Extension
}

// MaskName returns the archive entry of a layer's mask.
func MaskName(id int) string {
	return fmt.Sprintf("mask_%d.png", id)
}

// source resolves the rasters a document refers to.
type source interface {
	raster(name string) (*image.Buffer, error)
	fetch(ref prompt.ImageRef) (*image.Buffer, error)
}

// restore rebuilds a snapshot from a document. Every referenced raster must resolve.
func restore(doc *Document, src source) (*Snapshot, error) {
	if doc.Version > Version {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidArchive, doc.Version)
	}
	snap := &Snapshot{BaseRef: doc.Prompt.BaseImagePath, NextID: doc.NextID}

	if !snap.BaseRef.IsZero() {
		base, err := src.fetch(snap.BaseRef)
		if err != nil {
			return nil, fmt.Errorf("base image: %w", err)
		}
		snap.Base = base
	}
	m, err := src.raster(BaseMaskName)
	if err != nil {
		return nil, err
	}
	snap.Mask = m

	for _, ld := range doc.Layers {
		l, err := restoreLayer(ld, src)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", ld.ID, err)
		}
		snap.Layers = append(snap.Layers, l)
	}
	return snap, nil
}

func restoreLayer(ld LayerData, src source) (*layer.Layer, error) {
	m, err := src.raster(MaskName(ld.ID))
	if err != nil {
		return nil, err
	}
	l := &layer.Layer{
		ID:       ld.ID,
		Mask:     m,
		Visible:  ld.Visible,
		Selected: ld.Selected,
	}
	if ld.Image == nil {
		return l, nil
	}
	if ld.Prompt == nil {
		return nil, fmt.Errorf("%w: generated layer without metadata", prompt.ErrInvalid)
	}
	if err := ld.Prompt.Validate(); err != nil {
		return nil, err
	}
	l.Prompt = ld.Prompt

	cands := ld.Cands
	if len(cands) == 0 {
		cands = []prompt.ImageRef{*ld.Image}
	}
	for _, ref := range cands {
		img, err := src.fetch(ref)
		if err != nil {
			return nil, fmt.Errorf("candidate %s: %w", ref.Filename, err)
		}
		l.Candidates = append(l.Candidates, layer.Candidate{Ref: ref, Image: img})
	}

	if len(ld.Context) > 0 {
		l.Context = make(map[int]*image.Buffer, len(ld.Context))
		for _, c := range ld.Context {
			r, err := src.raster(c.File)
			if err != nil {
				return nil, err
			}
			l.Context[c.ID] = r
		}
	}
	return l, nil
}
