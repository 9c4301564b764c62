// Package backend talks to the generation host over HTTP.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"image-refiner/internal/component"
	"image-refiner/internal/image"
	"image-refiner/internal/prompt"
)

var (
	// ErrNoImage is returned when the host answers a generation call without an image reference.
	ErrNoImage = errors.New("backend returned no image")
	// ErrNoSchema is returned when object info does not describe the requested component.
	ErrNoSchema = errors.New("backend has no schema for component")
)

// StatusError is a non-2xx answer from the host.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

// Error implements error.
func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// GenerateRequest is one generation call. Rasters holds the per-id parts named in
// Prompt.ImagePaths: a layer mask in mask mode, otherwise the drawn raster.
type GenerateRequest struct {
	Prompt  *prompt.Data
	Mask    *image.Buffer
	Rasters map[int]*image.Buffer
}

// SaveRequest asks the host to flatten the listed images into SavePath.
type SaveRequest struct {
	ImagePaths []prompt.ImagePath    `json:"image_paths"`
	SavePath   prompt.ImageRef       `json:"savepath"`
	Rasters    map[int]*image.Buffer `json:"-"`
}

// ArchiveRequest asks the host to pack a document and its rasters into an archive.
// Parts are keyed by multipart field name.
type ArchiveRequest struct {
	Document json.RawMessage
	Mask     *image.Buffer
	Parts    map[string]*image.Buffer
}

// Client is everything the editor needs from the generation host.
type Client interface {
	Generate(ctx context.Context, req GenerateRequest) ([]prompt.ImageRef, error)
	FetchImage(ctx context.Context, ref prompt.ImageRef) (*image.Buffer, error)
	UploadImage(ctx context.Context, name string, buf *image.Buffer) (prompt.ImageRef, error)
	Checkpoints(ctx context.Context) ([]string, error)
	ObjectInfo(ctx context.Context, name string) (*component.Schema, error)
	Save(ctx context.Context, req SaveRequest) error
	Interrupt(ctx context.Context) error
	ExportArchive(ctx context.Context, req ArchiveRequest) (filename string, data []byte, err error)
	ImportArchive(ctx context.Context, name string, data []byte) (json.RawMessage, error)
}
