package component

import (
	"regexp"
	"sort"
	"strings"
	"sync"
)

// IRMarker marks components built for the editor; they are listed first.
const IRMarker = ".ir "

var hashSuffix = regexp.MustCompile(`\s\[[^\]]+\]$`)

// PureName strips the "##" component prefix and the trailing " [hash]" from a component name.
func PureName(name string) string {
	name = strings.TrimSpace(strings.TrimPrefix(name, "##"))
	return hashSuffix.ReplaceAllString(name, "")
}

// Registry holds the schemas of the components known to the host and tracks
// name conflicts between versions of the same component.
type Registry struct {
	mu        sync.RWMutex
	schemas   map[string]*Schema
	order     []string
	conflicts map[string]map[string]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		schemas:   make(map[string]*Schema),
		conflicts: make(map[string]map[string]struct{}),
	}
}

// Add adds or replaces a schema.
func (r *Registry) Add(s *Schema) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.schemas[s.Name]; !ok {
		r.order = append(r.order, s.Name)
	}
	r.schemas[s.Name] = s

	pure := PureName(s.Name)
	set := r.conflicts[pure]
	if set == nil {
		set = make(map[string]struct{})
		r.conflicts[pure] = set
	}
	set[s.Name] = struct{}{}
}

// Remove removes a schema by name.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.schemas[name]; !ok {
		return
	}
	delete(r.schemas, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	pure := PureName(name)
	delete(r.conflicts[pure], name)
	if len(r.conflicts[pure]) == 0 {
		delete(r.conflicts, pure)
	}
}

// Get returns a schema by name, or nil if not found.
func (r *Registry) Get(name string) *Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.schemas[name]
}

// Conflicted reports whether more than one registered component shares name's pure name.
func (r *Registry) Conflicted(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conflicts[PureName(name)]) > 1
}

// Versions returns every registered name sharing name's pure name, sorted.
func (r *Registry) Versions(name string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for n := range r.conflicts[PureName(name)] {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Available lists the components the editor can drive, those marked with IRMarker first,
// otherwise in registration order.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var marked, rest []string
	for _, name := range r.order {
		if !r.schemas[name].IsAvailable() {
			continue
		}
		if strings.Contains(name, IRMarker) {
			marked = append(marked, name)
		} else {
			rest = append(rest, name)
		}
	}
	return append(marked, rest...)
}
