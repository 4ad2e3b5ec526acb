// Package registry tracks which remote object types have been declared to a
// transport, so each model's wire type is declared exactly once per
// connector no matter how many relation paths reach it.
package registry

import (
	"sort"
	"sync"

	"github.com/R3E-Network/remote_connector/internal/logging"
	"github.com/R3E-Network/remote_connector/internal/metrics"
	"github.com/R3E-Network/remote_connector/remote/model"
)

// Declarer is the schema channel object types are declared on.
type Declarer interface {
	DefineObjectType(name string, def model.TypeDefinition)
}

// LookupFunc resolves a model name to its descriptor, if the model is known.
type LookupFunc func(name string) (model.Descriptor, bool)

// entry is one declaration; ready is closed once it has been emitted.
type entry struct {
	def   model.TypeDefinition
	ready chan struct{}
}

// Registry is an append-only set of declared object types. It is scoped to
// one connector; two connectors never share declarations.
type Registry struct {
	sink Declarer
	log  *logging.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

// New creates a registry emitting declarations to sink.
func New(sink Declarer, log *logging.Logger) *Registry {
	if log == nil {
		log = logging.NewDefault("registry")
	}
	return &Registry{
		sink:    sink,
		log:     log,
		entries: make(map[string]*entry),
	}
}

// RegisterType declares def under name unless it was declared before. It
// reports whether this call emitted the declaration. Concurrent callers for
// the same name all return after the single declaration has been emitted.
func (r *Registry) RegisterType(name string, def model.TypeDefinition) bool {
	r.mu.Lock()
	if e, ok := r.entries[name]; ok {
		r.mu.Unlock()
		<-e.ready
		return false
	}
	e := &entry{def: def, ready: make(chan struct{})}
	r.entries[name] = e
	r.mu.Unlock()

	defer close(e.ready)
	r.sink.DefineObjectType(name, def)
	metrics.RecordTypeDeclaration(name)
	r.log.Entry().WithField("model", name).Debug("object type declared")
	return true
}

// RegisterGraph declares root and every model reachable from it through
// relations that lookup can resolve. Models already declared before the
// call are not traversed again. The walk uses an explicit worklist, so cyclic
// and deep relation graphs are safe. It returns the names it declared.
func (r *Registry) RegisterGraph(root model.Descriptor, lookup LookupFunc) []string {
	var declared []string
	visited := map[string]bool{root.Name: true}
	work := []model.Descriptor{root}

	for len(work) > 0 {
		desc := work[0]
		work = work[1:]

		if r.RegisterType(desc.Name, desc.TypeDefinition()) {
			declared = append(declared, desc.Name)
		} else if desc.Name != root.Name {
			continue
		}

		if lookup == nil {
			continue
		}
		for _, name := range desc.Related() {
			if visited[name] {
				continue
			}
			visited[name] = true
			if related, ok := lookup(name); ok {
				work = append(work, related)
			}
		}
	}
	return declared
}

// Registered reports whether name has been declared.
func (r *Registry) Registered(name string) bool {
	r.mu.Lock()
	_, ok := r.entries[name]
	r.mu.Unlock()
	return ok
}

// Definition returns the declared type of name.
func (r *Registry) Definition(name string) (model.TypeDefinition, bool) {
	r.mu.Lock()
	e, ok := r.entries[name]
	r.mu.Unlock()
	if !ok {
		return model.TypeDefinition{}, false
	}
	<-e.ready
	return e.def, true
}

// Names returns all declared model names in sorted order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of declared types.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
