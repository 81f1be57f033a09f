package anchor

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/i5heu/ouroboros-graph/pkg/types"
)

// Definition describes one architype class.
type Definition struct {
	Name  string // defaults to the Go type name
	New   func() Architype
	Entry []Ability
	Exit  []Ability

	kind types.AnchorType
	typ  reflect.Type
}

func (d *Definition) Kind() types.AnchorType { return d.kind }

// Registry maps type names to architype classes and their abilities.
type Registry struct {
	mu     sync.RWMutex
	byName map[types.AnchorType]map[string]*Definition
	byType map[reflect.Type]*Definition
}

// NewRegistry returns a registry holding the built-in Root and GenericEdge.
func NewRegistry() *Registry {
	r := &Registry{
		byName: make(map[types.AnchorType]map[string]*Definition),
		byType: make(map[reflect.Type]*Definition),
	}
	r.MustRegister(Definition{Name: "Root", New: func() Architype { return &Root{} }})
	r.MustRegister(Definition{Name: "GenericEdge", New: func() Architype { return &GenericEdge{} }})
	return r
}

func (r *Registry) Register(def Definition) error {
	if def.New == nil {
		return fmt.Errorf("register %q: missing constructor", def.Name)
	}
	sample := def.New()
	if sample == nil {
		return fmt.Errorf("register %q: constructor returned nil", def.Name)
	}
	def.kind = sample.AnchorType()
	def.typ = reflect.TypeOf(sample)
	if def.Name == "" {
		def.Name = typeName(def.typ)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	names, ok := r.byName[def.kind]
	if !ok {
		names = make(map[string]*Definition)
		r.byName[def.kind] = names
	}
	if _, exists := names[def.Name]; exists {
		return fmt.Errorf("%w: %s %s", ErrDuplicateArchitype, def.kind, def.Name)
	}
	d := def
	names[def.Name] = &d
	r.byType[def.typ] = &d
	return nil
}

func (r *Registry) MustRegister(def Definition) {
	if err := r.Register(def); err != nil {
		panic(err)
	}
}

// Lookup resolves a stored type name. Empty node and edge names fall back to
// Root and GenericEdge.
func (r *Registry) Lookup(kind types.AnchorType, name string) (*Definition, error) {
	if name == "" {
		switch kind {
		case types.Node:
			name = "Root"
		case types.Edge:
			name = "GenericEdge"
		}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if d, ok := r.byName[kind][name]; ok {
		return d, nil
	}
	return nil, fmt.Errorf("%w: %s %q", ErrUnknownArchitype, kind, name)
}

// definitionOf returns nil for unregistered types.
func (r *Registry) definitionOf(arch Architype) *Definition {
	if arch == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byType[reflect.TypeOf(arch)]
}

// NameOf is the registered name of arch, or its Go type name.
func (r *Registry) NameOf(arch Architype) string {
	if d := r.definitionOf(arch); d != nil {
		return d.Name
	}
	return typeName(reflect.TypeOf(arch))
}

func typeName(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Name()
}
