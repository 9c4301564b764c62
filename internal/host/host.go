// Package host is the extension surface the surrounding node editor calls into.
// Extensions declare what they can do by implementing capability interfaces; the
// registry discovers capabilities with type assertions.
package host

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"image-refiner/internal/logger"
	"image-refiner/internal/prompt"
)

const module = "host"

// ErrDuplicate is returned when an extension name is registered twice.
var ErrDuplicate = errors.New("extension already registered")

// Node is the part of a host graph node an extension may inspect.
type Node struct {
	ID     string
	Type   string
	Images []prompt.ImageRef
}

// MenuOption is one context-menu entry contributed by an extension.
type MenuOption struct {
	Label string
	Run   func(ctx context.Context) error
}

// Extension is the minimum every extension implements.
type Extension interface {
	Name() string
}

// MenuProvider contributes context-menu entries for a node.
type MenuProvider interface {
	MenuOptions(n Node) []MenuOption
}

// Closer is implemented by extensions holding state that must be released on shutdown.
type Closer interface {
	Close() error
}

// Registry holds registered extensions in registration order.
type Registry struct {
	mu   sync.RWMutex
	exts []Extension
	log  logger.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(log logger.Logger) *Registry {
	if log == nil {
		log = logger.NewNop()
	}
	return &Registry{log: log}
}

// Register adds an extension.
func (r *Registry) Register(e Extension) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, x := range r.exts {
		if x.Name() == e.Name() {
			return fmt.Errorf("%w: %s", ErrDuplicate, e.Name())
		}
	}
	r.exts = append(r.exts, e)
	r.log.Info(module, "extension registered", map[string]interface{}{"name": e.Name()})
	return nil
}

// Get returns an extension by name.
func (r *Registry) Get(name string) Extension {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, x := range r.exts {
		if x.Name() == name {
			return x
		}
	}
	return nil
}

// Names lists registered extensions, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.exts))
	for _, x := range r.exts {
		out = append(out, x.Name())
	}
	sort.Strings(out)
	return out
}

// MenuOptions collects the entries every menu-providing extension offers for n,
// in registration order.
func (r *Registry) MenuOptions(n Node) []MenuOption {
	r.mu.RLock()
	exts := append([]Extension(nil), r.exts...)
	r.mu.RUnlock()

	var out []MenuOption
	for _, x := range exts {
		if mp, ok := x.(MenuProvider); ok {
			out = append(out, mp.MenuOptions(n)...)
		}
	}
	return out
}

// Close releases every extension that holds state. All are closed; the first error wins.
func (r *Registry) Close() error {
	r.mu.RLock()
	exts := append([]Extension(nil), r.exts...)
	r.mu.RUnlock()

	var first error
	for _, x := range exts {
		if c, ok := x.(Closer); ok {
			if err := c.Close(); err != nil {
				r.log.Warn(module, "extension close failed", map[string]interface{}{
					"name":  x.Name(),
					"error": err,
				})
				if first == nil {
					first = err
				}
			}
		}
	}
	return first
}
