package project

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"image-refiner/internal/backend"
	"image-refiner/internal/image"
	"image-refiner/internal/layer"
	"image-refiner/internal/prompt"
)

// RemoteContextFile names a context raster in a host-built archive. The host only keeps
// drawn rasters, keyed by input id alone; mask-mode context is not archived.
func RemoteContextFile(l *layer.Layer, inputID int) string {
	if l.Prompt == nil {
		return ""
	}
	for _, p := range l.Prompt.ImagePaths {
		if p.ID == inputID && !p.IsMaskMode {
			return fmt.Sprintf("draw_%d.png", inputID)
		}
	}
	return ""
}

// ExportRemote has the host build the archive. The base image must already live on the host.
func ExportRemote(ctx context.Context, c backend.Client, snap *Snapshot) (string, []byte, error) {
	if snap.BaseRef.IsZero() {
		return "", nil, fmt.Errorf("export: base image is not on the host")
	}
	doc, _ := Build(snap, RemoteContextFile, false)
	data, err := json.Marshal(doc)
	if err != nil {
		return "", nil, err
	}

	parts := make(map[string]*image.Buffer)
	for _, l := range snap.Layers {
		parts[strconv.Itoa(l.ID)] = l.Mask
		for id, r := range l.Context {
			if RemoteContextFile(l, id) != "" {
				parts[fmt.Sprintf("draw_%d", id)] = r
			}
		}
	}
	name, body, err := c.ExportArchive(ctx, backend.ArchiveRequest{
		Document: data,
		Mask:     snap.Mask,
		Parts:    parts,
	})
	if err != nil {
		return "", nil, err
	}
	if name == "" {
		name = Filename(doc.Created)
	}
	return name, body, nil
}

// hostSource resolves rasters from the host's unpacked archive folder.
type hostSource struct {
	ctx    context.Context
	client backend.Client
}

func (h *hostSource) raster(name string) (*image.Buffer, error) {
	b, err := h.client.FetchImage(h.ctx, prompt.ImageRef{Filename: name, Subfolder: archiveSubfolder, Type: "temp"})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMissingRaster, name, err)
	}
	return b, nil
}

func (h *hostSource) fetch(ref prompt.ImageRef) (*image.Buffer, error) {
	b, err := h.client.FetchImage(h.ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMissingRaster, ref.Filename, err)
	}
	return b, nil
}

// ImportRemote uploads an archive to the host and rebuilds the snapshot from the files it
// unpacked. Nothing is returned unless every raster resolves.
func ImportRemote(ctx context.Context, c backend.Client, name string, data []byte) (*Snapshot, *Document, error) {
	raw, err := c.ImportArchive(ctx, name, data)
	if err != nil {
		return nil, nil, err
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}
	snap, err := restore(&doc, &hostSource{ctx: ctx, client: c})
	if err != nil {
		return nil, nil, err
	}
	return snap, &doc, nil
}
