package generation

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

// fakeClient records generate calls and answers with solid 2x2 images.
type fakeClient struct {
	mu          sync.Mutex
	seeds       []int64
	calls       int
	failOn      int
	fetchErr    error
	interrupted int
	// gate, when set, blocks each Generate until a value is received.
	gate    chan struct{}
	entered chan struct{}
}

var _ backend.Client = (*fakeClient)(nil)

func (f *fakeClient) Generate(ctx context.Context, req backend.GenerateRequest) ([]prompt.ImageRef, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if v, ok := req.Prompt.Get("seed"); ok && v.Int != nil {
		f.seeds = append(f.seeds, v.Int.Value)
	}
	if f.failOn == f.calls {
		return nil, fmt.Errorf("backend exploded")
	}
	return []prompt.ImageRef{{Filename: fmt.Sprintf("gen-%d.png", f.calls), Subfolder: "imagerefiner", Type: "temp"}}, nil
}

func (f *fakeClient) FetchImage(ctx context.Context, ref prompt.ImageRef) (*image.Buffer, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	b := image.NewBuffer(2, 2)
	b.Fill(color.NRGBA{R: 200, A: 255})
	return b, nil
}

func (f *fakeClient) UploadImage(ctx context.Context, name string, buf *image.Buffer) (prompt.ImageRef, error) {
	return prompt.ImageRef{Filename: name, Type: "input"}, nil
}

func (f *fakeClient) Checkpoints(ctx context.Context) ([]string, error) { return nil, nil }

func (f *fakeClient) ObjectInfo(ctx context.Context, name string) (*component.Schema, error) {
	return nil, backend.ErrNoSchema
}

func (f *fakeClient) Save(ctx context.Context, req backend.SaveRequest) error { return nil }

func (f *fakeClient) Interrupt(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interrupted++
	return nil
}

func (f *fakeClient) ExportArchive(ctx context.Context, req backend.ArchiveRequest) (string, []byte, error) {
	return "", nil, nil
}

func (f *fakeClient) ImportArchive(ctx context.Context, name string, data []byte) (json.RawMessage, error) {
	return nil, nil
}
