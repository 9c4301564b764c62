package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"image-refiner/internal/backend"
	"image-refiner/internal/layer"
	"image-refiner/internal/mask"
	"image-refiner/internal/project"
	"image-refiner/internal/prompt"
)

// ClipspaceRef returns where a save made at t lands on the host.
func ClipspaceRef(t time.Time) prompt.ImageRef {
	return prompt.ImageRef{
		Filename:  fmt.Sprintf("imagerefiner-%d.png", t.UnixMilli()),
		Subfolder: "clipspace",
		Type:      "input",
	}
}

// SaveToClipspace has the host flatten the base image and the visible layers into a new
// input image and returns its reference.
func (s *Session) SaveToClipspace(ctx context.Context) (prompt.ImageRef, error) {
	if !s.IsOpen() {
		return prompt.ImageRef{}, ErrClosed
	}
	ref, err := s.ensureBaseRef(ctx)
	if err != nil {
		return prompt.ImageRef{}, err
	}
	paths, rasters := contextFor(s.Stack(), ref)
	dst := ClipspaceRef(time.Now())

	if err := s.client.Save(ctx, backend.SaveRequest{
		ImagePaths: paths,
		SavePath:   dst,
		Rasters:    rasters,
	}); err != nil {
		s.log.Error(module, "save failed", map[string]interface{}{"error": err})
		return prompt.ImageRef{}, err
	}
	s.log.Info(module, "saved to clipspace", map[string]interface{}{
		"image":  dst.Filename,
		"layers": len(paths) - 1,
	})
	s.Emit(EventSaved, dst)
	return dst, nil
}

// Snapshot captures the session content for export.
func (s *Session) Snapshot() (*project.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.open {
		return nil, ErrClosed
	}
	return &project.Snapshot{
		Base:    s.base,
		BaseRef: s.baseRef,
		Mask:    s.mask.Clone(),
		Layers:  s.stack.Layers(),
		NextID:  s.stack.NextID(),
	}, nil
}

// Export writes the session as a local archive.
func (s *Session) Export(w io.Writer) error {
	snap, err := s.Snapshot()
	if err != nil {
		return err
	}
	return project.Export(w, snap)
}

// ExportRemote has the host build the archive, uploading the base image first if needed.
func (s *Session) ExportRemote(ctx context.Context) (string, []byte, error) {
	if _, err := s.ensureBaseRef(ctx); err != nil {
		return "", nil, err
	}
	snap, err := s.Snapshot()
	if err != nil {
		return "", nil, err
	}
	return project.ExportRemote(ctx, s.client, snap)
}

// Import replaces the session content with a local archive. On any error the session is
// left as it was. The base image is uploaded again before the next generation.
func (s *Session) Import(r io.ReaderAt, size int64) error {
	snap, doc, err := project.Import(r, size)
	if err != nil {
		return err
	}
	// archive entry names are not host paths
	snap.BaseRef = prompt.ImageRef{}
	return s.restore(snap, doc)
}

// ImportRemote uploads an archive to the host and restores the session from it.
func (s *Session) ImportRemote(ctx context.Context, name string, data []byte) error {
	snap, doc, err := project.ImportRemote(ctx, s.client, name, data)
	if err != nil {
		return err
	}
	return s.restore(snap, doc)
}

func (s *Session) restore(snap *project.Snapshot, doc *project.Document) error {
	if snap.Base == nil || snap.Base.Size().Empty() {
		return fmt.Errorf("%w: no base image", project.ErrInvalidArchive)
	}
	if snap.Mask == nil {
		return errors.New("import: no mask")
	}
	size := snap.Base.Size()

	nextID := snap.NextID
	if cur := s.Stack(); cur != nil {
		nextID = max(nextID, cur.NextID())
	}
	st := layer.NewStack(size)
	if err := st.Restore(snap.Layers, nextID); err != nil {
		return fmt.Errorf("import: %w", err)
	}
	m := snap.Mask
	if m.Size() != size {
		m = mask.RescaleToBase(m, size)
	}

	s.mu.Lock()
	s.setBase(snap.Base, snap.BaseRef)
	s.mask = m.Clone()
	s.stack = st
	s.open = true
	s.mu.Unlock()

	s.log.Info(module, "session imported", map[string]interface{}{
		"layers":  st.Len(),
		"version": doc.Version,
	})
	s.Emit(EventImported, st.Len())
	s.Emit(EventLayersChanged, nil)
	s.Emit(EventMaskChanged, 0)
	return nil
}
