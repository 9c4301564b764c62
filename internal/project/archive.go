package project

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"image-refiner/internal/image"
	"image-refiner/internal/layer"
	"image-refiner/internal/prompt"
)

// Local archives are written without a host: candidate and base images are stored as
// ir-<n>.png, deduplicated by reference, and every reference in the document is
// rewritten to the stored name.
const archiveSubfolder = "imagerefiner"

// normalizer assigns ir-<n>.png names to distinct image references.
type normalizer struct {
	names  map[string]prompt.ImageRef
	images map[string]*image.Buffer
	order  []string
}

func newNormalizer() *normalizer {
	return &normalizer{names: map[string]prompt.ImageRef{}, images: map[string]*image.Buffer{}}
}

func (n *normalizer) add(ref prompt.ImageRef, img *image.Buffer) prompt.ImageRef {
	key := ref.Key()
	if ref.IsZero() {
		key = fmt.Sprintf("anon-%d", len(n.order))
	}
	if out, ok := n.names[key]; ok {
		return out
	}
	out := prompt.ImageRef{
		Filename:  fmt.Sprintf("ir-%d.png", len(n.order)+1),
		Subfolder: archiveSubfolder,
		Type:      "temp",
	}
	n.names[key] = out
	n.images[out.Filename] = img
	n.order = append(n.order, out.Filename)
	return out
}

// lookup returns the stored name of a reference seen before.
func (n *normalizer) lookup(ref *prompt.ImageRef) *prompt.ImageRef {
	if ref == nil {
		return nil
	}
	if out, ok := n.names[ref.Key()]; ok {
		return &out
	}
	return ref
}

// Build assembles the document of a snapshot. With normalize set, image references
// are renamed for a self-contained archive and the images to store are returned.
// contextFile names the entry of each context raster; an empty name leaves it out.
func Build(snap *Snapshot, contextFile func(l *layer.Layer, inputID int) string, normalize bool) (*Document, map[string]*image.Buffer) {
	doc := &Document{
		Version: Version,
		Created: time.Now().UTC(),
		NextID:  snap.NextID,
		Prompt:  PromptInfo{BaseImagePath: snap.BaseRef},
	}
	if snap.Base != nil {
		doc.Size = snap.Base.Size()
	}

	n := newNormalizer()
	if normalize && snap.Base != nil {
		doc.Prompt.BaseImagePath = n.add(snap.BaseRef, snap.Base)
	}

	for _, l := range snap.Layers {
		ld := LayerData{ID: l.ID, Visible: l.Visible, Selected: l.Selected}
		if l.Generated() {
			for _, c := range l.Candidates {
				ref := c.Ref
				if normalize {
					ref = n.add(c.Ref, c.Image)
				}
				ld.Cands = append(ld.Cands, ref)
			}
			sel := ld.Cands[0]
			if l.Selected >= 0 && l.Selected < len(ld.Cands) {
				sel = ld.Cands[l.Selected]
			}
			ld.Image = &sel
			ld.Prompt = l.Prompt.Clone()

			ids := make([]int, 0, len(l.Context))
			for id := range l.Context {
				ids = append(ids, id)
			}
			sort.Ints(ids)
			for _, id := range ids {
				if name := contextFile(l, id); name != "" {
					ld.Context = append(ld.Context, ContextRef{ID: id, File: name})
				}
			}
		}
		doc.Layers = append(doc.Layers, ld)
	}

	if normalize {
		for i := range doc.Layers {
			if p := doc.Layers[i].Prompt; p != nil {
				for j := range p.ImagePaths {
					p.ImagePaths[j].Image = n.lookup(p.ImagePaths[j].Image)
				}
			}
		}
	}
	return doc, n.images
}

// LocalContextFile names a context raster inside a local archive.
func LocalContextFile(l *layer.Layer, inputID int) string {
	return fmt.Sprintf("draw_%d_%d.png", l.ID, inputID)
}

// Export writes snap as a zip archive.
func Export(w io.Writer, snap *Snapshot) error {
	if snap.Mask == nil {
		return fmt.Errorf("export: no mask")
	}
	doc, images := Build(snap, LocalContextFile, true)

	zw := zip.NewWriter(w)
	put := func(name string, b *image.Buffer) error {
		f, err := zw.Create(name)
		if err != nil {
			return err
		}
		if err := b.EncodePNG(f); err != nil {
			return fmt.Errorf("encode %s: %w", name, err)
		}
		return nil
	}

	names := make([]string, 0, len(images))
	for name := range images {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := put(name, images[name]); err != nil {
			return err
		}
	}
	if err := put(BaseMaskName, snap.Mask); err != nil {
		return err
	}
	for _, l := range snap.Layers {
		if err := put(MaskName(l.ID), l.Mask); err != nil {
			return err
		}
		for id, r := range l.Context {
			if err := put(LocalContextFile(l, id), r); err != nil {
				return err
			}
		}
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	f, err := zw.Create(DocumentName)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		return err
	}
	return zw.Close()
}

// ExportFile writes snap to path.
func ExportFile(path string, snap *Snapshot) error {
	var buf bytes.Buffer
	if err := Export(&buf, snap); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}

// zipSource resolves rasters from the entries of a local archive.
type zipSource struct {
	files map[string]*zip.File
}

func (z *zipSource) raster(name string) (*image.Buffer, error) {
	f, ok := z.files[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingRaster, name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	b, err := image.Decode(rc)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return b, nil
}

func (z *zipSource) fetch(ref prompt.ImageRef) (*image.Buffer, error) {
	return z.raster(ref.Filename)
}

// Import reads a zip archive. Nothing is returned unless every raster resolves.
func Import(r io.ReaderAt, size int64) (*Snapshot, *Document, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}
	src := &zipSource{files: make(map[string]*zip.File, len(zr.File))}
	for _, f := range zr.File {
		src.files[f.Name] = f
	}

	df, ok := src.files[DocumentName]
	if !ok {
		return nil, nil, fmt.Errorf("%w: no %s", ErrInvalidArchive, DocumentName)
	}
	rc, err := df.Open()
	if err != nil {
		return nil, nil, err
	}
	defer rc.Close()

	var doc Document
	if err := json.NewDecoder(rc).Decode(&doc); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}
	snap, err := restore(&doc, src)
	if err != nil {
		return nil, nil, err
	}
	return snap, &doc, nil
}

// ImportFile reads an archive from path.
func ImportFile(path string) (*Snapshot, *Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	return Import(bytes.NewReader(data), int64(len(data)))
}
