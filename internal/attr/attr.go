// Package attr implements the named attribute registry: the set of fields
// that can be extracted from a call or message for display, sorting and
// filtering by external consumers (spec.md §4.C2).
package attr

import "sync"

// Kind distinguishes the data type an Attribute extracts, used by the filter
// engine to pick a compatible predicate.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindTime
	KindEnum
)

// Attribute is a named, extractable field with display metadata. Title and
// Color are presentation hints consumed by an external UI; Length is the
// UI's preferred column width. Extract pulls the attribute's value out of an
// arbitrary subject (typically a *callstore.Call or *packet.Message) via a
// type switch performed by the registering package.
type Attribute struct {
	Name    string
	Title   string
	Color   string
	Length  int
	Kind    Kind
	Extract func(subject any) any
}

// Registry is a thread-safe named collection of Attributes.
type Registry struct {
	mu   sync.RWMutex
	byID map[string]Attribute
	order []string
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]Attribute)}
}

// Register adds or replaces an Attribute. Registration order is preserved
// for the default display column order.
func (r *Registry) Register(a Attribute) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[a.Name]; !exists {
		r.order = append(r.order, a.Name)
	}
	r.byID[a.Name] = a
}

// Lookup returns the Attribute registered under name.
func (r *Registry) Lookup(name string) (Attribute, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byID[name]
	return a, ok
}

// Names returns registered attribute names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Extract looks up name and, if found, runs its extractor against subject.
// The second return reports whether the attribute was registered.
func (r *Registry) Extract(name string, subject any) (any, bool) {
	a, ok := r.Lookup(name)
	if !ok || a.Extract == nil {
		return nil, ok
	}
	return a.Extract(subject), true
}
