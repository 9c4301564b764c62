// Package generation drives generation calls against the backend and gathers candidates.
package generation

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"image-refiner/internal/backend"
	"image-refiner/internal/image"
	"image-refiner/internal/layer"
	"image-refiner/internal/logger"
	"image-refiner/internal/prompt"
)

const module = "generation"

// MaxCount bounds the candidates requested per run.
const MaxCount = 100

var (
	// ErrBusy is returned when a run is requested while another is in progress.
	ErrBusy = errors.New("generation already in progress")
	// ErrCancelled is returned when Stop ended a run; its partial results are discarded.
	ErrCancelled = errors.New("generation cancelled")
	// ErrNoComponent is returned when the metadata names no component.
	ErrNoComponent = errors.New("no component selected")
)

// SeedPolicy says how seed fields change between the calls of one run.
type SeedPolicy int

const (
	// SeedIncrement steps every seed before each call of a multi-candidate run.
	SeedIncrement SeedPolicy = iota
	// SeedRandomize draws every seed uniformly within its bounds before each call.
	SeedRandomize
)

// Request is one run. Mask is already in the transport convention.
type Request struct {
	Prompt  *prompt.Data
	Mask    *image.Buffer
	Rasters map[int]*image.Buffer
	Count   int
	Seeds   SeedPolicy
}

// Result holds every candidate of a successful run and the metadata of its last call.
type Result struct {
	Candidates []layer.Candidate
	Prompt     *prompt.Data
}

// Progress is called after each completed call.
type Progress func(done, total int)

// Controller serializes runs. It is either idle or generating.
type Controller struct {
	client backend.Client
	log    logger.Logger

	mu         sync.Mutex
	generating bool
	rng        *rand.Rand
	stop       atomic.Bool

	OnProgress Progress
}

// NewController creates an idle controller.
func NewController(client backend.Client, log logger.Logger) *Controller {
	if log == nil {
		log = logger.NewNop()
	}
	now := uint64(time.Now().UnixNano())
	return &Controller{
		client: client,
		log:    log,
		rng:    rand.New(rand.NewPCG(now, now>>17)),
	}
}

// SetRand replaces the source used for seed randomization.
func (c *Controller) SetRand(r *rand.Rand) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rng = r
}

// Generating reports whether a run is in progress.
func (c *Controller) Generating() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generating
}

func (c *Controller) acquire() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generating {
		return false
	}
	c.generating = true
	c.stop.Store(false)
	return true
}

func (c *Controller) release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generating = false
}

// Stop asks the running execution to end. The call in flight finishes; the run then
// aborts with ErrCancelled. Stop on an idle controller does nothing.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.generating {
		c.mu.Unlock()
		return nil
	}
	c.stop.Store(true)
	c.mu.Unlock()
	if err := c.client.Interrupt(ctx); err != nil {
		c.log.Warn(module, "interrupt failed", map[string]interface{}{"error": err})
		return err
	}
	return nil
}

// Run performs a generation. With more than one candidate requested and seed fields present,
// it calls the backend Count times, changing the seeds before each call; otherwise it makes
// a single call. Any failure discards everything gathered so far.
func (c *Controller) Run(ctx context.Context, req Request) (*Result, error) {
	if req.Prompt == nil || req.Prompt.ComponentName == "" {
		return nil, ErrNoComponent
	}
	if err := req.Prompt.Validate(); err != nil {
		return nil, err
	}
	if !c.acquire() {
		return nil, ErrBusy
	}
	defer c.release()

	p := req.Prompt.Clone()
	total := clampCount(req.Count)
	if req.Seeds == SeedIncrement && !p.HasSeeds() {
		total = 1
	}

	fields := map[string]interface{}{
		"component": p.ComponentName,
		"count":     total,
	}
	c.log.Info(module, "generation started", fields)

	var cands []layer.Candidate
	for i := 0; i < total; i++ {
		if i > 0 && c.stop.Load() {
			c.log.Info(module, "generation cancelled", fields)
			return nil, ErrCancelled
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c.reseed(p, req.Seeds, total)

		got, err := c.call(ctx, p, req)
		if err != nil {
			c.log.Error(module, "generation failed", map[string]interface{}{
				"component": p.ComponentName,
				"call":      i + 1,
				"error":     err,
			})
			return nil, err
		}
		cands = append(cands, got...)

		if c.OnProgress != nil {
			c.OnProgress(i+1, total)
		}
	}
	if c.stop.Load() {
		c.log.Info(module, "generation cancelled", fields)
		return nil, ErrCancelled
	}

	c.log.Info(module, "generation finished", map[string]interface{}{
		"component":  p.ComponentName,
		"candidates": len(cands),
	})
	return &Result{Candidates: cands, Prompt: p}, nil
}

// Regenerate reruns a generated layer with its own mask, metadata and context rasters,
// drawing fresh seeds for every call.
func (c *Controller) Regenerate(ctx context.Context, l *layer.Layer, count int) (*Result, error) {
	if l == nil || !l.Generated() {
		return nil, fmt.Errorf("regenerate: %w", layer.ErrNotFound)
	}
	return c.Run(ctx, Request{
		Prompt:  withContext(l.Prompt, l.Context),
		Mask:    l.Mask,
		Rasters: l.Context,
		Count:   count,
		Seeds:   SeedRandomize,
	})
}

// withContext drops image paths whose raster was not kept with the layer, so a layer
// restored from a host archive still regenerates against the base image.
func withContext(p *prompt.Data, rasters map[int]*image.Buffer) *prompt.Data {
	out := p.Clone()
	if out.ImagePaths == nil {
		return out
	}
	kept := out.ImagePaths[:0]
	for _, ip := range out.ImagePaths {
		if ip.ID == 0 || rasters[ip.ID] != nil {
			kept = append(kept, ip)
		}
	}
	out.ImagePaths = kept
	return out
}

func (c *Controller) reseed(p *prompt.Data, policy SeedPolicy, total int) {
	switch policy {
	case SeedRandomize:
		c.mu.Lock()
		p.RandomizeSeeds(c.rng)
		c.mu.Unlock()
	default:
		if total > 1 {
			p.IncrementSeeds()
		}
	}
}

func (c *Controller) call(ctx context.Context, p *prompt.Data, req Request) ([]layer.Candidate, error) {
	refs, err := c.client.Generate(ctx, backend.GenerateRequest{
		Prompt:  p,
		Mask:    req.Mask,
		Rasters: req.Rasters,
	})
	if err != nil {
		return nil, err
	}
	out := make([]layer.Candidate, 0, len(refs))
	for _, ref := range refs {
		img, err := c.client.FetchImage(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("fetch candidate %s: %w", ref.Filename, err)
		}
		out = append(out, layer.Candidate{Ref: ref, Image: img})
	}
	return out, nil
}

func clampCount(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxCount {
		return MaxCount
	}
	return n
}
