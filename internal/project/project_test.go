package project

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"image/color"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"image-refiner/internal/backend"
	"image-refiner/internal/image"
	"image-refiner/internal/layer"
	"image-refiner/internal/mask"
	"image-refiner/internal/prompt"
	"image-refiner/pkg/geometry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var size = geometry.Size{Width: 4, Height: 4}

func solid(c color.NRGBA) *image.Buffer {
	b := image.NewBufferSize(size)
	b.Fill(c)
	return b
}

func stripe() *image.Buffer {
	m := image.NewBufferSize(size)
	for x := 0; x < 4; x++ {
		m.Set(x, 1, color.NRGBA{A: 255})
	}
	return m
}

func meta() *prompt.Data {
	p := prompt.New(prompt.Slot{Kind: prompt.SlotImage, Name: "in"}, prompt.Slot{Kind: prompt.SlotImage, Name: "out"})
	p.ComponentName = "## fill.ir [aa]"
	p.Set("seed", prompt.Value{Kind: prompt.KindInt, Int: &prompt.IntRange{Value: 42, Min: 0, Max: 100, Step: 1}})
	p.ImagePaths = []prompt.ImagePath{
		{ID: 0, Image: &prompt.ImageRef{Filename: "base.png", Type: "input"}, IsMaskMode: true},
		{ID: 1},
	}
	return p
}

func snapshot(t *testing.T) *Snapshot {
	t.Helper()
	s := layer.NewStack(size)
	s.AddDrawing(stripe())

	shared := prompt.ImageRef{Filename: "x.png", Subfolder: "imagerefiner", Type: "temp"}
	gen, err := s.Add([]layer.Candidate{
		{Ref: shared, Image: solid(color.NRGBA{R: 255, A: 255})},
		{Ref: prompt.ImageRef{Filename: "y.png", Subfolder: "imagerefiner", Type: "temp"}, Image: solid(color.NRGBA{G: 255, A: 255})},
	}, mask.ToTransport(stripe(), false), meta())
	require.NoError(t, err)
	gen.Context = map[int]*image.Buffer{1: stripe()}
	require.NoError(t, s.Select(gen.ID, 1))
	require.NoError(t, s.SetVisible(1, false))

	// a second layer reusing a candidate reference is stored once
	_, err = s.Add([]layer.Candidate{{Ref: shared, Image: solid(color.NRGBA{R: 255, A: 255})}}, mask.ToTransport(stripe(), false), meta())
	require.NoError(t, err)

	active := image.NewBufferSize(size)
	active.Set(2, 2, color.NRGBA{A: 255})
	return &Snapshot{
		Base:    solid(color.NRGBA{B: 255, A: 255}),
		BaseRef: prompt.ImageRef{Filename: "base.png", Type: "input"},
		Mask:    active,
		Layers:  s.Layers(),
		NextID:  s.NextID(),
	}
}

func entries(t *testing.T, data []byte) []string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	return names
}

func TestFilename(t *testing.T) {
	ts := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)
	assert.Equal(t, "imagerefiner_archive_20240309_140507.imagerefiner", Filename(ts))
}

func TestExportImportRoundTrip(t *testing.T) {
	snap := snapshot(t)
	var buf bytes.Buffer
	require.NoError(t, Export(&buf, snap))

	assert.ElementsMatch(t, []string{
		"ir-1.png", "ir-2.png", "ir-3.png",
		"mask_base.png", "mask_1.png", "mask_2.png", "mask_3.png",
		"draw_2_1.png", "data.json",
	}, entries(t, buf.Bytes()))

	got, doc, err := Import(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	assert.Equal(t, Version, doc.Version)
	assert.Equal(t, size, doc.Size)
	assert.Equal(t, "ir-1.png", doc.Prompt.BaseImagePath.Filename)
	assert.Equal(t, "ir-1.png", doc.Layers[1].Prompt.ImagePaths[0].Image.Filename, "context references follow the stored names")

	assert.Equal(t, snap.NextID, got.NextID)
	assert.True(t, snap.Base.Equal(got.Base))
	assert.True(t, snap.Mask.Equal(got.Mask))
	require.Len(t, got.Layers, 3)
	for i, want := range snap.Layers {
		l := got.Layers[i]
		assert.Equal(t, want.ID, l.ID)
		assert.Equal(t, want.Visible, l.Visible)
		assert.Equal(t, want.Selected, l.Selected)
		assert.Equal(t, want.Generated(), l.Generated())
		assert.True(t, want.Mask.Equal(l.Mask), "layer %d mask", want.ID)
		assert.Len(t, l.Candidates, len(want.Candidates))
	}

	gen := got.Layers[1]
	seed, _ := gen.Prompt.Get("seed")
	assert.Equal(t, int64(42), seed.Int.Value)
	assert.Equal(t, "## fill.ir [aa]", gen.Prompt.ComponentName)
	assert.True(t, stripe().Equal(gen.Context[1]))
	assert.Equal(t, got.Layers[2].Candidates[0].Ref, gen.Candidates[0].Ref)

	s := layer.NewStack(size)
	require.NoError(t, s.Restore(got.Layers, got.NextID))
	assert.Equal(t, snap.NextID, s.NextID())
}

func TestImportMissingRaster(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Export(&buf, snapshot(t)))

	// copy every entry except one layer mask
	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	var out bytes.Buffer
	zw := zip.NewWriter(&out)
	for _, f := range zr.File {
		if f.Name == "mask_2.png" {
			continue
		}
		rc, err := f.Open()
		require.NoError(t, err)
		w, err := zw.Create(f.Name)
		require.NoError(t, err)
		_, err = io.Copy(w, rc)
		require.NoError(t, err)
		rc.Close()
	}
	require.NoError(t, zw.Close())

	snap, doc, err := Import(bytes.NewReader(out.Bytes()), int64(out.Len()))
	assert.ErrorIs(t, err, ErrMissingRaster)
	assert.Nil(t, snap)
	assert.Nil(t, doc)
}

func TestImportInvalid(t *testing.T) {
	_, _, err := Import(bytes.NewReader([]byte("nope")), 4)
	assert.ErrorIs(t, err, ErrInvalidArchive)

	var out bytes.Buffer
	zw := zip.NewWriter(&out)
	_, err = zw.Create("mask_base.png")
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	_, _, err = Import(bytes.NewReader(out.Bytes()), int64(out.Len()))
	assert.ErrorIs(t, err, ErrInvalidArchive)
}

func TestExportFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), Filename(time.Now()))
	require.NoError(t, ExportFile(path, snapshot(t)))
	got, _, err := ImportFile(path)
	require.NoError(t, err)
	assert.Len(t, got.Layers, 3)
}

// hostFake stores what ExportArchive receives and serves it back by archive name.
type hostFake struct {
	backend.Client
	doc   json.RawMessage
	files map[string]*image.Buffer
}

func (h *hostFake) ExportArchive(ctx context.Context, req backend.ArchiveRequest) (string, []byte, error) {
	h.doc = req.Document
	h.files = map[string]*image.Buffer{BaseMaskName: req.Mask}
	for name, b := range req.Parts {
		if strings.HasPrefix(name, "draw_") {
			h.files[name+".png"] = b
		} else {
			h.files["mask_"+name+".png"] = b
		}
	}
	return "", []byte("zip"), nil
}

func (h *hostFake) ImportArchive(ctx context.Context, name string, data []byte) (json.RawMessage, error) {
	return h.doc, nil
}

func (h *hostFake) FetchImage(ctx context.Context, ref prompt.ImageRef) (*image.Buffer, error) {
	if b, ok := h.files[ref.Filename]; ok {
		return b.Clone(), nil
	}
	if strings.HasPrefix(ref.Filename, "mask_") || strings.HasPrefix(ref.Filename, "draw_") {
		return nil, assert.AnError
	}
	return solid(color.NRGBA{R: 9, A: 255}), nil
}

func TestRemoteRoundTrip(t *testing.T) {
	host := &hostFake{}
	snap := snapshot(t)

	name, data, err := ExportRemote(context.Background(), host, snap)
	require.NoError(t, err)
	assert.Contains(t, name, "imagerefiner_archive_")
	assert.Contains(t, host.files, "draw_1.png")

	got, doc, err := ImportRemote(context.Background(), host, name, data)
	require.NoError(t, err)
	assert.Equal(t, "base.png", doc.Prompt.BaseImagePath.Filename)
	require.Len(t, got.Layers, 3)
	assert.True(t, stripe().Equal(got.Layers[1].Context[1]))
	assert.Nil(t, got.Layers[2].Context[0])

	delete(host.files, "mask_3.png")
	_, _, err = ImportRemote(context.Background(), host, name, data)
	assert.ErrorIs(t, err, ErrMissingRaster)

	_, _, err = ExportRemote(context.Background(), host, &Snapshot{Mask: image.NewBufferSize(size)})
	assert.Error(t, err)
}
