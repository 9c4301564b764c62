package app

import (
	"context"
	"encoding/json"
	"fmt"
	"image/color"
	"sync"

	"image-refiner/internal/backend"
	"image-refiner/internal/component"
	"image-refiner/internal/image"
	"image-refiner/internal/prompt"
)

const testComponent = "## inpaint.ir [a1b2c3]"

func testSchema() *component.Schema {
	return &component.Schema{
		Name: testComponent,
		Inputs: []component.Input{
			{Name: "image", Type: component.TypeImage},
			{Name: "mask", Type: component.TypeMask},
			{Name: "pipe", Type: "BASIC_PIPE"},
			{Name: "seed", Type: "INT", Detail: map[string]any{"default": 5.0, "min": 0.0, "max": 100.0, "step": 1.0}},
		},
		Outputs: []component.Output{{Type: component.TypeImage, Name: "IMAGE"}},
	}
}

// schemaWith builds an inpainting component schema with the given extra inputs.
func schemaWith(name string, extra ...component.Input) *component.Schema {
	sc := testSchema()
	sc.Name = name
	sc.Inputs = append(sc.Inputs[:3:3], extra...)
	return sc
}

// fakeBackend answers every call in memory and records what it was sent.
type fakeBackend struct {
	mu        sync.Mutex
	size      int
	generated []backend.GenerateRequest
	seeds     []int64
	uploads   []string
	saves     []backend.SaveRequest
	archive   backend.ArchiveRequest
	failGen   error
	schemas   map[string]*component.Schema
	// gate, when set, blocks each Generate after entered is signalled.
	gate    chan struct{}
	entered chan struct{}
}

var _ backend.Client = (*fakeBackend)(nil)

func newFakeBackend(size int) *fakeBackend {
	return &fakeBackend{size: size}
}

func (f *fakeBackend) Generate(ctx context.Context, req backend.GenerateRequest) ([]prompt.ImageRef, error) {
	f.mu.Lock()
	gate, entered := f.gate, f.entered
	f.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failGen != nil {
		return nil, f.failGen
	}
	f.generated = append(f.generated, req)
	if v, ok := req.Prompt.Get("seed"); ok && v.Int != nil {
		f.seeds = append(f.seeds, v.Int.Value)
	}
	n := len(f.generated)
	return []prompt.ImageRef{{Filename: fmt.Sprintf("gen-%d.png", n), Subfolder: "imagerefiner", Type: "temp"}}, nil
}

func (f *fakeBackend) FetchImage(ctx context.Context, ref prompt.ImageRef) (*image.Buffer, error) {
	b := image.NewBuffer(f.size, f.size)
	b.Fill(color.NRGBA{G: 180, A: 255})
	return b, nil
}

func (f *fakeBackend) UploadImage(ctx context.Context, name string, buf *image.Buffer) (prompt.ImageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, name)
	return prompt.ImageRef{Filename: name, Type: "input"}, nil
}

func (f *fakeBackend) Checkpoints(ctx context.Context) ([]string, error) {
	return []string{"sd15.safetensors", "sdxl.safetensors"}, nil
}

func (f *fakeBackend) ObjectInfo(ctx context.Context, name string) (*component.Schema, error) {
	if sc, ok := f.schemas[name]; ok {
		return sc, nil
	}
	if name != testComponent {
		return nil, backend.ErrNoSchema
	}
	return testSchema(), nil
}

func (f *fakeBackend) Save(ctx context.Context, req backend.SaveRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves = append(f.saves, req)
	return nil
}

func (f *fakeBackend) Interrupt(ctx context.Context) error { return nil }

func (f *fakeBackend) ExportArchive(ctx context.Context, req backend.ArchiveRequest) (string, []byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.archive = req
	return "imagerefiner_archive_20240101_000000.imagerefiner", []byte("zip"), nil
}

func (f *fakeBackend) ImportArchive(ctx context.Context, name string, data []byte) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.archive.Document, nil
}
