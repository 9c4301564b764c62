package app

import (
	"bytes"
	"context"
	"errors"
	"image/color"
	"strings"
	"testing"

	"image-refiner/internal/brush"
	"image-refiner/internal/component"
	"image-refiner/internal/config"
	"image-refiner/internal/host"
	"image-refiner/internal/image"
	"image-refiner/internal/logger"
	"image-refiner/internal/mask"
	"image-refiner/internal/prompt"
	"image-refiner/pkg/geometry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ctx = context.Background()

func newSession(t *testing.T, fb *fakeBackend, confirm Confirmer) *Session {
	t.Helper()
	s := NewSession(Options{
		Client:  fb,
		Log:     logger.NewNop(),
		Confirm: confirm,
		Editor: config.EditorConfig{
			PreviewMaxDimension: 300,
			CandidateCount:      1,
			BrushSize:           1,
		},
	})
	base := image.NewBuffer(8, 8)
	base.Fill(color.NRGBA{B: 255, A: 255})
	require.NoError(t, s.Open(base, prompt.ImageRef{}))
	return s
}

func paint(s *Session, x, y float64) {
	s.PointerDown(brush.Sample{Pos: geometry.NewPoint2D(x, y), Button: brush.ButtonPrimary})
	s.PointerUp()
	s.Frame()
}

func selected(t *testing.T, s *Session) {
	t.Helper()
	require.NoError(t, s.SelectComponent(ctx, testComponent))
}

func TestOpenEmitsAndClose(t *testing.T) {
	s := NewSession(Options{})
	var opened, closed int
	s.On(EventOpened, func(interface{}) { opened++ })
	s.On(EventClosed, func(interface{}) { closed++ })

	assert.Error(t, s.Open(nil, prompt.ImageRef{}))
	require.NoError(t, s.Open(image.NewBuffer(4, 4), prompt.ImageRef{Filename: "a.png"}))
	assert.True(t, s.IsOpen())
	assert.Equal(t, "a.png", s.BaseRef().Filename)
	assert.Equal(t, 3, s.Count())

	s.Close(ctx)
	s.Close(ctx)
	assert.False(t, s.IsOpen())
	assert.Equal(t, 1, opened)
	assert.Equal(t, 1, closed)

	_, err := s.Regenerate(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPaintingTheMask(t *testing.T) {
	s := newSession(t, newFakeBackend(8), nil)
	var changes int
	s.On(EventMaskChanged, func(interface{}) { changes++ })

	assert.True(t, s.MaskEmpty())
	paint(s, 2, 2)
	assert.False(t, s.MaskEmpty())
	assert.Equal(t, uint8(255), s.Mask().Alpha(2, 2))
	assert.Equal(t, uint8(0), s.Mask().Alpha(7, 7))
	assert.Equal(t, 1, changes)

	assert.Equal(t, 0, s.Frame(), "nothing pending")

	s.ClearMask()
	assert.True(t, s.MaskEmpty())
}

func TestPointerButtons(t *testing.T) {
	s := newSession(t, newFakeBackend(8), nil)
	assert.True(t, s.PointerDown(brush.Sample{Button: brush.ButtonSecondary}), "secondary press is consumed")
	s.PointerUp()
	assert.False(t, s.PointerDown(brush.Sample{Button: 1}))

	s.Close(ctx)
	assert.False(t, s.PointerDown(brush.Sample{Button: brush.ButtonPrimary}))
}

func TestKeysAndWheel(t *testing.T) {
	s := newSession(t, newFakeBackend(8), nil)
	s.SetBrushSize(10)

	ok, err := s.Key(ctx, KeyGrow)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 12.0, s.Brush().Size())

	ok, _ = s.Key(ctx, KeyShrink)
	assert.True(t, ok)
	assert.Equal(t, 10.0, s.Brush().Size())

	ok, _ = s.Key(ctx, "x")
	assert.False(t, ok)

	assert.Equal(t, 12.0, s.Wheel(-3))
	assert.Equal(t, 10.0, s.Wheel(3))

	s.SetBrushSize(500)
	assert.Equal(t, 100.0, s.Brush().Size())

	// Enter with no component selected does nothing
	ok, err = s.Key(ctx, KeyGenerate)
	assert.True(t, ok)
	assert.NoError(t, err)
}

func TestSelectComponent(t *testing.T) {
	fb := newFakeBackend(8)
	s := newSession(t, fb, nil)

	assert.Error(t, s.SelectComponent(ctx, "missing"))
	selected(t, s)
	assert.Equal(t, testComponent, s.Component())
	assert.Contains(t, s.Components(), testComponent)

	p := s.Prompt()
	pipe, ok := p.Get("pipe")
	require.True(t, ok)
	assert.Equal(t, "sd15.safetensors", pipe.Checkpoint)
	seed, _ := p.Get("seed")
	assert.Equal(t, int64(5), seed.Int.Value)
	assert.Equal(t, "mask", p.MaskInput)

	p.ComponentName = "other"
	assert.ErrorIs(t, s.SetPrompt(p), prompt.ErrInvalid)

	require.NoError(t, s.SelectComponent(ctx, ""))
	assert.Nil(t, s.Prompt())
}

func TestRegenerateWithoutComponentIsNoop(t *testing.T) {
	fb := newFakeBackend(8)
	s := newSession(t, fb, nil)
	paint(s, 2, 2)

	l, err := s.Regenerate(ctx)
	assert.NoError(t, err)
	assert.Nil(t, l)
	assert.Empty(t, fb.generated)
	assert.False(t, s.MaskEmpty())
}

func TestRegenerateEmptyMask(t *testing.T) {
	t.Run("declined", func(t *testing.T) {
		fb := newFakeBackend(8)
		s := newSession(t, fb, ConfirmFunc(func() bool { return false }))
		selected(t, s)
		_, err := s.Regenerate(ctx)
		assert.ErrorIs(t, err, ErrEmptyMask)
		assert.Empty(t, fb.generated)
	})

	t.Run("whole image", func(t *testing.T) {
		fb := newFakeBackend(8)
		s := newSession(t, fb, ConfirmFunc(func() bool { return true }))
		selected(t, s)
		l, err := s.Regenerate(ctx)
		require.NoError(t, err)
		require.Len(t, fb.generated, 1)
		m := fb.generated[0].Mask
		assert.False(t, m.Any(func(c color.NRGBA) bool { return c.A != 0 }), "everything is selected")
		assert.True(t, m.Equal(l.Mask))
	})
}

func TestRegenerateAddsLayer(t *testing.T) {
	fb := newFakeBackend(8)
	s := newSession(t, fb, nil)
	selected(t, s)
	assert.Equal(t, 2, s.SetCount(2))
	assert.Equal(t, 100, s.SetCount(1000))
	s.SetCount(2)

	var finished int
	var progress []Progress
	s.On(EventGenerationFinished, func(interface{}) { finished++ })
	s.On(EventGenerationProgress, func(data interface{}) { progress = append(progress, data.(Progress)) })

	paint(s, 2, 2)
	l, err := s.Regenerate(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, l.ID)
	assert.Len(t, l.Candidates, 2)
	assert.Equal(t, []int64{6, 7}, fb.seeds)
	assert.Len(t, fb.uploads, 1)
	assert.True(t, strings.HasPrefix(fb.uploads[0], "imagerefiner-"))
	assert.True(t, s.MaskEmpty(), "mask is cleared after generating")

	seed, _ := s.Prompt().Get("seed")
	assert.Equal(t, int64(7), seed.Int.Value, "session continues from the last seed")

	req := fb.generated[0]
	require.Len(t, req.Prompt.ImagePaths, 1)
	assert.Equal(t, fb.uploads[0], req.Prompt.ImagePaths[0].Image.Filename)
	assert.Equal(t, uint8(0), req.Mask.Alpha(2, 2), "painted pixels are selected")
	assert.Equal(t, uint8(255), req.Mask.Alpha(7, 7))
	assert.Equal(t, 1, finished)
	assert.Equal(t, []Progress{{Done: 1, Total: 2}, {Done: 2, Total: 2}}, progress)

	// the next generation sends the new layer as context
	s.SetCount(1)
	paint(s, 6, 6)
	_, err = s.Regenerate(ctx)
	require.NoError(t, err)
	require.Len(t, fb.generated, 3)
	req = fb.generated[2]
	require.Len(t, req.Prompt.ImagePaths, 2)
	assert.Equal(t, prompt.ImagePath{ID: 1, Image: &prompt.ImageRef{Filename: "gen-1.png", Subfolder: "imagerefiner", Type: "temp"}, IsMaskMode: true}, req.Prompt.ImagePaths[1])
	assert.True(t, req.Rasters[1].Equal(l.Mask))
	assert.Len(t, fb.uploads, 1, "base is uploaded once")
	assert.Equal(t, int64(7), fb.seeds[2])
	assert.Equal(t, 2, s.Stack().Len())
}

func TestRegenerateSingleCallWithoutSeeds(t *testing.T) {
	const plain = "## fill.ir [d4e5f6]"
	fb := newFakeBackend(512)
	fb.schemas = map[string]*component.Schema{plain: schemaWith(plain)}
	s := NewSession(Options{Client: fb, Editor: config.EditorConfig{CandidateCount: 1}})
	require.NoError(t, s.Open(image.NewBuffer(512, 512), prompt.ImageRef{}))
	require.NoError(t, s.SelectComponent(ctx, plain))
	assert.False(t, s.Prompt().HasSeeds())

	s.SetBrushSize(100)
	paint(s, 200, 200)
	stroke := s.Mask()
	r, ok := mask.SelectionBounds(mask.ToTransport(stroke, false))
	require.True(t, ok)
	assert.InDelta(t, 100, r.Width, 1)
	assert.InDelta(t, 100, r.Height, 1)

	l, err := s.Regenerate(ctx)
	require.NoError(t, err)
	assert.Len(t, fb.generated, 1)
	assert.Equal(t, 1, l.ID)
	require.Len(t, l.Candidates, 1)
	assert.Equal(t, 0, l.Selected)
	ref, ok := l.SelectedRef()
	require.True(t, ok)
	assert.Equal(t, "gen-1.png", ref.Filename)
	assert.True(t, l.Mask.Equal(mask.ToTransport(stroke, false)))
	assert.True(t, s.MaskEmpty())
}

func TestRegenerateSeedCycleAndReselect(t *testing.T) {
	const cycled = "## cycle.ir [0a0b0c]"
	fb := newFakeBackend(8)
	fb.schemas = map[string]*component.Schema{cycled: schemaWith(cycled, component.Input{
		Name:   "seed",
		Type:   "INT",
		Detail: map[string]any{"default": 0.0, "min": 0.0, "max": 2.0, "step": 1.0},
	})}
	s := newSession(t, fb, nil)
	require.NoError(t, s.SelectComponent(ctx, cycled))
	s.SetCount(3)

	paint(s, 4, 4)
	l, err := s.Regenerate(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 0}, fb.seeds)
	assert.Equal(t, 1, s.Stack().Len())
	require.Len(t, l.Candidates, 3)

	require.NoError(t, s.Reselect(l.ID, 2))
	got, err := s.Stack().Get(l.ID)
	require.NoError(t, err)
	assert.Len(t, got.Candidates, 3)
	assert.Equal(t, 2, got.Selected)
	ref, _ := got.SelectedRef()
	assert.Equal(t, "gen-3.png", ref.Filename)
}

func TestRegenerateDroppedAfterBaseReplaced(t *testing.T) {
	fb := newFakeBackend(8)
	fb.gate = make(chan struct{})
	fb.entered = make(chan struct{})
	s := newSession(t, fb, nil)
	selected(t, s)
	var failed int
	s.On(EventGenerationFailed, func(interface{}) { failed++ })

	paint(s, 2, 2)
	done := make(chan error, 1)
	go func() {
		_, err := s.Regenerate(ctx)
		done <- err
	}()

	<-fb.entered
	require.NoError(t, s.ReplaceBase(image.NewBuffer(16, 16), prompt.ImageRef{}))
	paint(s, 3, 3)
	fb.gate <- struct{}{}

	assert.ErrorIs(t, <-done, ErrStale)
	assert.Equal(t, 0, s.Stack().Len())
	assert.Equal(t, uint8(255), s.Mask().Alpha(3, 3), "new mask is kept")
	assert.Equal(t, 1, failed)
}

func TestRegenerateLayerDroppedAfterImport(t *testing.T) {
	fb := newFakeBackend(8)
	s := newSession(t, fb, nil)
	selected(t, s)
	paint(s, 2, 2)
	l, err := s.Regenerate(ctx)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, s.Export(&buf))

	fb.mu.Lock()
	fb.gate = make(chan struct{})
	fb.entered = make(chan struct{})
	fb.mu.Unlock()
	done := make(chan error, 1)
	go func() { done <- s.RegenerateLayer(ctx, l.ID) }()

	<-fb.entered
	require.NoError(t, s.Import(bytes.NewReader(buf.Bytes()), int64(buf.Len())))
	fb.gate <- struct{}{}

	assert.ErrorIs(t, <-done, ErrStale)
	got, err := s.Stack().Get(l.ID)
	require.NoError(t, err)
	require.Len(t, got.Candidates, 1)
	assert.NotEqual(t, "gen-2.png", got.Candidates[0].Ref.Filename, "imported layer keeps its candidates")
}

func TestRegenerateFailureKeepsStack(t *testing.T) {
	fb := newFakeBackend(8)
	fb.failGen = errors.New("boom")
	s := newSession(t, fb, nil)
	selected(t, s)
	var failed int
	s.On(EventGenerationFailed, func(interface{}) { failed++ })

	paint(s, 2, 2)
	_, err := s.Regenerate(ctx)
	assert.Error(t, err)
	assert.Equal(t, 0, s.Stack().Len())
	assert.False(t, s.MaskEmpty(), "mask survives a failed generation")
	assert.Equal(t, 1, failed)
}

func TestRegenerateLayer(t *testing.T) {
	fb := newFakeBackend(8)
	s := newSession(t, fb, nil)
	selected(t, s)
	paint(s, 2, 2)
	l, err := s.Regenerate(ctx)
	require.NoError(t, err)
	m := l.Mask.Clone()

	s.SetCount(3)
	require.NoError(t, s.RegenerateLayer(ctx, l.ID))
	got, err := s.Stack().Get(l.ID)
	require.NoError(t, err)
	assert.Len(t, got.Candidates, 3)
	assert.Equal(t, "gen-2.png", got.Candidates[0].Ref.Filename)
	assert.Equal(t, 0, got.Selected)
	assert.True(t, m.Equal(got.Mask))
	assert.Equal(t, 1, s.Stack().Len())
	for _, seed := range fb.seeds[1:] {
		assert.GreaterOrEqual(t, seed, int64(0))
		assert.LessOrEqual(t, seed, int64(100))
	}

	assert.ErrorIs(t, s.RegenerateLayer(ctx, 42), ErrLayerNotFound)
}

func TestCandidatesAndLayerActions(t *testing.T) {
	fb := newFakeBackend(8)
	s := newSession(t, fb, nil)
	selected(t, s)
	s.SetCount(2)
	paint(s, 2, 2)
	painted := s.Mask()
	l, err := s.Regenerate(ctx)
	require.NoError(t, err)

	previews, err := s.Previews(l.ID)
	require.NoError(t, err)
	assert.Len(t, previews, 2)

	require.NoError(t, s.Reselect(l.ID, 1))
	ref, _ := l.SelectedRef()
	assert.Equal(t, "gen-2.png", ref.Filename)
	assert.Error(t, s.Reselect(l.ID, 5))

	require.NoError(t, s.RestoreMask(l.ID))
	restored := s.Mask()
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			assert.Equal(t, painted.Alpha(x, y), restored.Alpha(x, y))
		}
	}

	require.NoError(t, s.SetLayerVisible(l.ID, false))
	assert.Empty(t, s.Stack().Visible())
	require.NoError(t, s.SetLayerVisible(l.ID, true))

	assert.ErrorIs(t, s.RemoveLayer(99), ErrLayerNotFound)
	assert.ErrorIs(t, s.SetLayerVisible(99, true), ErrLayerNotFound)
}

func TestFlattenLayer(t *testing.T) {
	fb := newFakeBackend(8)
	s := newSession(t, fb, nil)
	selected(t, s)
	paint(s, 2, 2)
	l, err := s.Regenerate(ctx)
	require.NoError(t, err)
	require.False(t, s.BaseRef().IsZero())

	flat, err := s.Flatten()
	require.NoError(t, err)
	require.NoError(t, s.FlattenLayer(l.ID))
	assert.Equal(t, 0, s.Stack().Len())
	assert.True(t, s.BaseRef().IsZero())
	assert.True(t, flat.Equal(s.Base()))

	paint(s, 5, 5)
	_, err = s.Regenerate(ctx)
	require.NoError(t, err)
	assert.Len(t, fb.uploads, 2, "flattened base is uploaded again")
	assert.Equal(t, 2, s.Stack().Layers()[0].ID, "ids are never reused")
}

func TestPenModeDrawing(t *testing.T) {
	fb := newFakeBackend(8)
	s := newSession(t, fb, nil)
	red := color.NRGBA{R: 255, A: 255}

	s.SetPenMode(true)
	s.SetBrushColor(red)
	assert.Equal(t, red, s.Brush().Color())
	paint(s, 2, 2)
	assert.True(t, s.MaskEmpty(), "pen strokes do not touch the mask")
	assert.Equal(t, red, s.Drawing().At(2, 2))

	l, err := s.CommitDrawing()
	require.NoError(t, err)
	assert.False(t, l.Generated())
	assert.Equal(t, red, l.Image().At(2, 2))
	_, err = s.CommitDrawing()
	assert.ErrorIs(t, err, ErrEmptyMask)

	s.SetPenMode(false)
	assert.Equal(t, color.NRGBA{A: 255}, s.Brush().Color())

	selected(t, s)
	paint(s, 5, 5)
	_, err = s.Regenerate(ctx)
	require.NoError(t, err)
	req := fb.generated[0]
	require.Len(t, req.Prompt.ImagePaths, 2)
	assert.Equal(t, prompt.ImagePath{ID: 1}, req.Prompt.ImagePaths[1])
	assert.Equal(t, red, req.Rasters[1].At(2, 2))
}

func TestSaveToClipspace(t *testing.T) {
	fb := newFakeBackend(8)
	s := newSession(t, fb, nil)
	selected(t, s)
	paint(s, 2, 2)
	_, err := s.Regenerate(ctx)
	require.NoError(t, err)

	ref, err := s.SaveToClipspace(ctx)
	require.NoError(t, err)
	require.Len(t, fb.saves, 1)
	save := fb.saves[0]
	assert.Equal(t, ref, save.SavePath)
	assert.Equal(t, "clipspace", ref.Subfolder)
	assert.Equal(t, "input", ref.Type)
	assert.True(t, strings.HasPrefix(ref.Filename, "imagerefiner-"))
	assert.Len(t, save.ImagePaths, 2)
	assert.NotNil(t, save.Rasters[1])
}

func TestExportImportLocal(t *testing.T) {
	fb := newFakeBackend(8)
	s := newSession(t, fb, nil)
	selected(t, s)
	paint(s, 2, 2)
	_, err := s.Regenerate(ctx)
	require.NoError(t, err)
	s.SetPenMode(true)
	paint(s, 6, 6)
	_, err = s.CommitDrawing()
	require.NoError(t, err)
	s.SetPenMode(false)
	paint(s, 4, 4)

	var buf bytes.Buffer
	require.NoError(t, s.Export(&buf))

	other := newSession(t, fb, nil)
	var imported int
	other.On(EventImported, func(interface{}) { imported++ })
	require.NoError(t, other.Import(bytes.NewReader(buf.Bytes()), int64(buf.Len())))

	assert.Equal(t, 1, imported)
	assert.Equal(t, s.Stack().Len(), other.Stack().Len())
	assert.Equal(t, s.Stack().NextID(), other.Stack().NextID())
	assert.True(t, s.Base().Equal(other.Base()))
	assert.True(t, s.Mask().Equal(other.Mask()))
	assert.True(t, other.BaseRef().IsZero())
	for i, l := range s.Stack().Layers() {
		got := other.Stack().Layers()[i]
		assert.Equal(t, l.ID, got.ID)
		assert.Equal(t, l.Generated(), got.Generated())
		assert.True(t, l.Mask.Equal(got.Mask))
	}

	before := other.Stack().Len()
	assert.Error(t, other.Import(bytes.NewReader([]byte("junk")), 4))
	assert.Equal(t, before, other.Stack().Len(), "failed import leaves the session alone")
}

func TestExportImportRemote(t *testing.T) {
	fb := newFakeBackend(8)
	s := newSession(t, fb, nil)
	selected(t, s)
	paint(s, 2, 2)
	_, err := s.Regenerate(ctx)
	require.NoError(t, err)

	name, data, err := s.ExportRemote(ctx)
	require.NoError(t, err)
	assert.Contains(t, name, ".imagerefiner")
	assert.Contains(t, fb.archive.Parts, "1")

	other := NewSession(Options{Client: fb})
	require.NoError(t, other.ImportRemote(ctx, name, data))
	assert.True(t, other.IsOpen())
	assert.Equal(t, 1, other.Stack().Len())
	assert.Equal(t, s.BaseRef(), other.BaseRef())
}

func TestExtensionMenu(t *testing.T) {
	fb := newFakeBackend(8)
	ext := NewExtension(Options{Client: fb})
	reg := host.NewRegistry(nil)
	require.NoError(t, reg.Register(ext))

	assert.Empty(t, reg.MenuOptions(host.Node{ID: "3"}))

	node := host.Node{ID: "4", Images: []prompt.ImageRef{{Filename: "out.png", Type: "output"}}}
	options := reg.MenuOptions(node)
	require.Len(t, options, 1)
	assert.Equal(t, MenuLabel, options[0].Label)

	var opened int
	ext.OnOpen = func(*Session) { opened++ }
	require.NoError(t, options[0].Run(ctx))
	first := ext.Current()
	require.NotNil(t, first)
	assert.Equal(t, "out.png", first.BaseRef().Filename)

	require.NoError(t, options[0].Run(ctx))
	assert.False(t, first.IsOpen(), "opening again replaces the session")
	assert.NotSame(t, first, ext.Current())
	assert.Equal(t, 2, opened)

	require.NoError(t, reg.Close())
	assert.Nil(t, ext.Current())
}
