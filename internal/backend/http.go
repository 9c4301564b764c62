package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"image-refiner/internal/component"
	"image-refiner/internal/config"
	"image-refiner/internal/image"
	"image-refiner/internal/logger"
	"image-refiner/internal/prompt"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

const module = "backend"

// HTTPClient implements Client against the host's HTTP API.
type HTTPClient struct {
	BaseURL  string
	ClientID string
	HTTP     *http.Client

	images *cache.Cache
	log    logger.Logger
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a client for cfg. Fetched images are cached for cfg.CacheTTL.
func NewHTTPClient(cfg config.BackendConfig, log logger.Logger) *HTTPClient {
	if log == nil {
		log = logger.NewNop()
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &HTTPClient{
		BaseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		ClientID: uuid.NewString(),
		HTTP:     &http.Client{Timeout: cfg.RequestTimeout},
		images:   cache.New(ttl, 2*ttl),
		log:      log,
	}
}

// Generate posts the mask, prompt metadata and context rasters and returns the produced images.
func (c *HTTPClient) Generate(ctx context.Context, req GenerateRequest) ([]prompt.ImageRef, error) {
	if req.Prompt == nil {
		return nil, fmt.Errorf("generate: %w: no metadata", prompt.ErrInvalid)
	}
	if req.Mask == nil {
		return nil, fmt.Errorf("generate: no mask")
	}
	promptJSON, err := json.Marshal(req.Prompt)
	if err != nil {
		return nil, fmt.Errorf("marshal prompt: %w", err)
	}

	form := newForm()
	form.file("mask", "mask.png", req.Mask)
	form.field("prompt_data", string(promptJSON))
	for _, id := range sortedIDs(req.Rasters) {
		form.file(strconv.Itoa(id), fmt.Sprintf("%d.png", id), req.Rasters[id])
	}

	body, _, err := c.postForm(ctx, "/imagerefiner/generate", form)
	if err != nil {
		return nil, err
	}
	refs, err := decodeRefs(body)
	if err != nil {
		return nil, err
	}
	c.log.Debug(module, "generation finished", map[string]interface{}{
		"component": req.Prompt.ComponentName,
		"images":    len(refs),
	})
	return refs, nil
}

// decodeRefs accepts either a single reference object or a list of them.
func decodeRefs(body []byte) ([]prompt.ImageRef, error) {
	trimmed := bytes.TrimSpace(body)
	var refs []prompt.ImageRef
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &refs); err != nil {
			return nil, fmt.Errorf("decode generate response: %w", err)
		}
	} else {
		var ref prompt.ImageRef
		if err := json.Unmarshal(trimmed, &ref); err != nil {
			return nil, fmt.Errorf("decode generate response: %w", err)
		}
		refs = []prompt.ImageRef{ref}
	}
	out := refs[:0]
	for _, r := range refs {
		if !r.IsZero() {
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		return nil, ErrNoImage
	}
	return out, nil
}

// FetchImage downloads an image from the host's view endpoint. Results are cached by
// reference; callers receive their own copy.
func (c *HTTPClient) FetchImage(ctx context.Context, ref prompt.ImageRef) (*image.Buffer, error) {
	if ref.IsZero() {
		return nil, fmt.Errorf("fetch image: empty reference")
	}
	if x, found := c.images.Get(ref.Key()); found {
		return x.(*image.Buffer).Clone(), nil
	}

	q := url.Values{}
	q.Set("filename", ref.Filename)
	q.Set("subfolder", ref.Subfolder)
	q.Set("type", ref.Type)
	body, err := c.do(ctx, http.MethodGet, "/view?"+q.Encode(), nil, "")
	if err != nil {
		return nil, err
	}
	buf, err := image.DecodeBytes(body)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", ref.Filename, err)
	}
	c.images.Set(ref.Key(), buf.Clone(), cache.DefaultExpiration)
	return buf, nil
}

// UploadImage stores buf on the host as an input image.
func (c *HTTPClient) UploadImage(ctx context.Context, name string, buf *image.Buffer) (prompt.ImageRef, error) {
	form := newForm()
	form.file("image", name, buf)
	form.field("type", "input")
	form.field("overwrite", "true")

	body, _, err := c.postForm(ctx, "/upload/image", form)
	if err != nil {
		return prompt.ImageRef{}, err
	}
	var resp struct {
		Name      string `json:"name"`
		Subfolder string `json:"subfolder"`
		Type      string `json:"type"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return prompt.ImageRef{}, fmt.Errorf("decode upload response: %w", err)
	}
	ref := prompt.ImageRef{Filename: resp.Name, Subfolder: resp.Subfolder, Type: resp.Type}
	if ref.Type == "" {
		ref.Type = "input"
	}
	return ref, nil
}

// Checkpoints lists the checkpoint names known to the host.
func (c *HTTPClient) Checkpoints(ctx context.Context) ([]string, error) {
	body, err := c.do(ctx, http.MethodGet, "/imagerefiner/get_checkpoints", nil, "")
	if err != nil {
		return nil, err
	}
	var resp struct {
		Checkpoints []string `json:"checkpoints"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode checkpoints: %w", err)
	}
	return resp.Checkpoints, nil
}

// ObjectInfo fetches and parses the declared inputs and outputs of a component.
func (c *HTTPClient) ObjectInfo(ctx context.Context, name string) (*component.Schema, error) {
	body, err := c.do(ctx, http.MethodGet, "/object_info/"+url.PathEscape(name), nil, "")
	if err != nil {
		return nil, err
	}
	var info map[string]json.RawMessage
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("decode object info: %w", err)
	}
	raw, ok := info[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSchema, name)
	}
	return component.ParseSchema(name, raw)
}

// Save asks the host to flatten the given images into req.SavePath.
func (c *HTTPClient) Save(ctx context.Context, req SaveRequest) error {
	info, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal save info: %w", err)
	}
	form := newForm()
	form.field("save_info", string(info))
	for _, id := range sortedIDs(req.Rasters) {
		form.file(strconv.Itoa(id), fmt.Sprintf("%d.png", id), req.Rasters[id])
	}
	_, _, err = c.postForm(ctx, "/imagerefiner/save", form)
	return err
}

// Interrupt asks the host to stop the running execution. It is advisory.
func (c *HTTPClient) Interrupt(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, "/interrupt", nil, "")
	return err
}

// ExportArchive has the host pack the document into an archive and returns its suggested
// filename and content.
func (c *HTTPClient) ExportArchive(ctx context.Context, req ArchiveRequest) (string, []byte, error) {
	form := newForm()
	form.field("data", string(req.Document))
	if req.Mask != nil {
		form.file("mask", "mask.png", req.Mask)
	}
	names := make([]string, 0, len(req.Parts))
	for name := range req.Parts {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		form.file(name, name+".png", req.Parts[name])
	}

	body, header, err := c.postForm(ctx, "/imagerefiner/get_archive", form)
	if err != nil {
		return "", nil, err
	}
	return dispositionFilename(header.Get("Content-Disposition")), body, nil
}

// ImportArchive uploads an archive to the host, which unpacks it into its temp folder and
// answers with the archived document.
func (c *HTTPClient) ImportArchive(ctx context.Context, name string, data []byte) (json.RawMessage, error) {
	form := newForm()
	form.raw("file", name, data)
	body, _, err := c.postForm(ctx, "/imagerefiner/upload_archive", form)
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("import archive: invalid document")
	}
	return json.RawMessage(body), nil
}

// dispositionFilename extracts the filename parameter. The host sends the parameter
// without a disposition type, which mime rejects, so that form is retried as an attachment.
func dispositionFilename(h string) string {
	if h == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(h)
	if err != nil {
		_, params, err = mime.ParseMediaType("attachment; " + h)
		if err != nil {
			return ""
		}
	}
	return params["filename"]
}

func (c *HTTPClient) postForm(ctx context.Context, path string, f *form) ([]byte, http.Header, error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	if err := f.w.Close(); err != nil {
		return nil, nil, fmt.Errorf("close form: %w", err)
	}
	return c.doHeader(ctx, http.MethodPost, path, &f.buf, f.w.FormDataContentType())
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body io.Reader, contentType string) ([]byte, error) {
	b, _, err := c.doHeader(ctx, method, path, body, contentType)
	return b, err
}

func (c *HTTPClient) doHeader(ctx context.Context, method, path string, body io.Reader, contentType string) ([]byte, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, nil, fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("X-Client-ID", c.ClientID)

	start := time.Now()
	resp, err := c.HTTP.Do(req)
	if err != nil {
		c.log.Error(module, "request failed", map[string]interface{}{
			"method": method,
			"path":   path,
			"error":  err,
		})
		return nil, nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		serr := &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: string(data)}
		c.log.Warn(module, "unexpected status", map[string]interface{}{
			"method": method,
			"path":   path,
			"status": resp.StatusCode,
		})
		return nil, nil, serr
	}
	c.log.Debug(module, "request done", map[string]interface{}{
		"method":   method,
		"path":     path,
		"duration": time.Since(start).String(),
	})
	return data, resp.Header, nil
}

func sortedIDs(m map[int]*image.Buffer) []int {
	ids := make([]int, 0, len(m))
	for id, b := range m {
		if b != nil {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids
}

// form accumulates a multipart body; the first error sticks.
type form struct {
	buf bytes.Buffer
	w   *multipart.Writer
	err error
}

func newForm() *form {
	f := &form{}
	f.w = multipart.NewWriter(&f.buf)
	return f
}

func (f *form) field(name, value string) {
	if f.err != nil {
		return
	}
	f.err = f.w.WriteField(name, value)
}

func (f *form) file(name, filename string, b *image.Buffer) {
	if f.err != nil {
		return
	}
	data, err := b.PNG()
	if err != nil {
		f.err = fmt.Errorf("encode %s: %w", name, err)
		return
	}
	f.raw(name, filename, data)
}

func (f *form) raw(name, filename string, data []byte) {
	if f.err != nil {
		return
	}
	part, err := f.w.CreateFormFile(name, filename)
	if err != nil {
		f.err = err
		return
	}
	_, f.err = part.Write(data)
}
