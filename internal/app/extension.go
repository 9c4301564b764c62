package app

import (
	"context"
	"fmt"
	"sync"

	"image-refiner/internal/host"
	"image-refiner/internal/prompt"
)

// ExtensionName is the name the editor registers under with the host.
const ExtensionName = "image-refiner"

// MenuLabel is the node context-menu entry that opens the editor.
const MenuLabel = "Open in Image Refiner"

// Extension plugs the editor into the host. Each open starts a fresh session on the
// node's image; the previous one is closed.
type Extension struct {
	opts Options

	mu      sync.Mutex
	current *Session

	// OnOpen is called with every newly opened session.
	OnOpen func(s *Session)
}

// NewExtension creates an extension whose sessions are built from opts.
func NewExtension(opts Options) *Extension {
	return &Extension{opts: opts}
}

// Name implements host.Extension.
func (e *Extension) Name() string { return ExtensionName }

// MenuOptions offers the editor for nodes that show an image.
func (e *Extension) MenuOptions(n host.Node) []host.MenuOption {
	if len(n.Images) == 0 {
		return nil
	}
	ref := n.Images[0]
	return []host.MenuOption{{
		Label: MenuLabel,
		Run: func(ctx context.Context) error {
			_, err := e.Open(ctx, ref)
			return err
		},
	}}
}

// Open fetches ref from the host and starts a session on it.
func (e *Extension) Open(ctx context.Context, ref prompt.ImageRef) (*Session, error) {
	base, err := e.opts.Client.FetchImage(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", ref.Filename, err)
	}
	s := NewSession(e.opts)
	if err := s.Open(base, ref); err != nil {
		return nil, err
	}

	e.mu.Lock()
	prev := e.current
	e.current = s
	onOpen := e.OnOpen
	e.mu.Unlock()

	if prev != nil {
		prev.Close(ctx)
	}
	if onOpen != nil {
		onOpen(s)
	}
	return s, nil
}

// Current returns the open session, or nil.
func (e *Extension) Current() *Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// Close implements host.Closer.
func (e *Extension) Close() error {
	e.mu.Lock()
	s := e.current
	e.current = nil
	e.mu.Unlock()

	if s != nil {
		s.Close(context.Background())
	}
	return nil
}
