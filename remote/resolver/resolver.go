// Package resolver derives the set of remote operations a model exposes from
// its descriptor: CRUD, idempotent writes, instance methods and relation
// accessors, with their HTTP verbs, path templates and alias names.
package resolver

import (
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/R3E-Network/remote_connector/remote/model"
)

// Scope tells whether an operation is invoked on the model or on an instance.
type Scope string

const (
	ScopeStatic   Scope = "static"
	ScopeInstance Scope = "instance"
)

// Returns describes how a response body is decoded.
type Returns string

const (
	ReturnsInstance  Returns = "instance"
	ReturnsInstances Returns = "instances"
	ReturnsCount     Returns = "count"
	ReturnsExists    Returns = "exists"
	// ReturnsAffected is the {count} result of bulk writes.
	ReturnsAffected Returns = "affected"
	ReturnsNothing  Returns = "nothing"
)

// Query parameter names filters are sent under.
const (
	QueryFilter = "filter"
	QueryWhere  = "where"
)

// IDParam is the path placeholder substituted with an instance id.
const IDParam = "{id}"

// Canonical operation names.
const (
	OpCreate           = "create"
	OpFind             = "find"
	OpFindOne          = "findOne"
	OpFindByID         = "findById"
	OpCount            = "count"
	OpExists           = "exists"
	OpDeleteByID       = "deleteById"
	OpUpdateAll        = "updateAll"
	OpUpsert           = "upsert"
	OpReplaceOrCreate  = "replaceOrCreate"
	OpReplaceByID      = "replaceById"
	OpUpsertWithWhere  = "upsertWithWhere"
	OpSave             = "save"
	OpUpdateAttributes = "updateAttributes"
	OpDestroy          = "destroy"
)

// Relation accessor name prefixes.
const (
	prefixGet    = "__get__"
	prefixCreate = "__create__"
	prefixCount  = "__count__"
)

// aliases maps every alternative operation name to its canonical name.
var aliases = map[string]string{
	"updateOrCreate":  OpUpsert,
	"patchOrCreate":   OpUpsert,
	"destroyById":     OpDeleteByID,
	"removeById":      OpDeleteByID,
	"update":          OpUpdateAll,
	"patchAttributes": OpUpdateAttributes,
}

// Canonical returns the canonical operation name for name.
func Canonical(name string) string {
	if c, ok := aliases[name]; ok {
		return c
	}
	return name
}

// AliasesOf returns the sorted alias names of a canonical operation.
func AliasesOf(canonical string) []string {
	var out []string
	for alias, c := range aliases {
		if c == canonical {
			out = append(out, alias)
		}
	}
	sort.Strings(out)
	return out
}

// RelationGet, RelationCreate and RelationCount name the accessors of a relation.
func RelationGet(relation string) string    { return prefixGet + relation }
func RelationCreate(relation string) string { return prefixCreate + relation }
func RelationCount(relation string) string  { return prefixCount + relation }

// Operation is one invocable remote capability.
type Operation struct {
	Name        string
	Aliases     []string
	Method      string
	Path        string
	Scope       Scope
	AcceptsBody bool
	Returns     Returns
	// Query is the query parameter the filter or where clause travels in.
	Query string
	// Relation, Target and ToOne are set on relation accessors.
	Relation string
	Target   string
	ToOne    bool
}

// NeedsID reports whether the path template carries the id placeholder.
func (o Operation) NeedsID() bool {
	return strings.Contains(o.Path, IDParam)
}

// Expand substitutes id into the path template.
func (o Operation) Expand(id string) string {
	return strings.ReplaceAll(o.Path, IDParam, url.PathEscape(id))
}

// Set is the resolved operation set of one model.
type Set struct {
	Model string
	Root  string
	ops   map[string]Operation
}

// Lookup finds an operation by canonical or alias name.
func (s *Set) Lookup(name string) (Operation, bool) {
	op, ok := s.ops[Canonical(name)]
	return op, ok
}

// Names returns the canonical operation names in sorted order.
func (s *Set) Names() []string {
	names := make([]string, 0, len(s.ops))
	for n := range s.ops {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Operations returns every operation, sorted by name.
func (s *Set) Operations() []Operation {
	out := make([]Operation, 0, len(s.ops))
	for _, n := range s.Names() {
		out = append(out, s.ops[n])
	}
	return out
}

// Len returns the number of canonical operations.
func (s *Set) Len() int {
	return len(s.ops)
}

// Resolve builds the operation set of d. It reads only the descriptor and
// always produces the same set for the same descriptor.
func Resolve(d model.Descriptor) *Set {
	root := d.Root()
	item := root + "/" + IDParam
	s := &Set{Model: d.Name, Root: root, ops: make(map[string]Operation)}

	add := func(op Operation) {
		if op.Scope == "" {
			op.Scope = ScopeStatic
		}
		op.Aliases = AliasesOf(op.Name)
		if op.Target == "" {
			op.Target = d.Name
		}
		s.ops[op.Name] = op
	}

	// bulk
	add(Operation{Name: OpCreate, Method: http.MethodPost, Path: root, AcceptsBody: true, Returns: ReturnsInstance})
	add(Operation{Name: OpFind, Method: http.MethodGet, Path: root, Returns: ReturnsInstances, Query: QueryFilter})
	add(Operation{Name: OpFindOne, Method: http.MethodGet, Path: root + "/findOne", Returns: ReturnsInstance, Query: QueryFilter})
	add(Operation{Name: OpFindByID, Method: http.MethodGet, Path: item, Returns: ReturnsInstance, Query: QueryFilter})
	add(Operation{Name: OpCount, Method: http.MethodGet, Path: root + "/count", Returns: ReturnsCount, Query: QueryWhere})
	add(Operation{Name: OpExists, Method: http.MethodGet, Path: item + "/exists", Returns: ReturnsExists})
	add(Operation{Name: OpDeleteByID, Method: http.MethodDelete, Path: item, Returns: ReturnsNothing})
	add(Operation{Name: OpUpdateAll, Method: http.MethodPost, Path: root + "/update", AcceptsBody: true, Returns: ReturnsAffected, Query: QueryWhere})

	// idempotent writes
	add(Operation{Name: OpUpsert, Method: http.MethodPatch, Path: root, AcceptsBody: true, Returns: ReturnsInstance})
	add(Operation{Name: OpReplaceOrCreate, Method: http.MethodPost, Path: root + "/replaceOrCreate", AcceptsBody: true, Returns: ReturnsInstance})
	add(Operation{Name: OpReplaceByID, Method: http.MethodPost, Path: item + "/replace", AcceptsBody: true, Returns: ReturnsInstance})
	add(Operation{Name: OpUpsertWithWhere, Method: http.MethodPost, Path: root + "/upsertWithWhere", AcceptsBody: true, Returns: ReturnsInstance, Query: QueryWhere})

	// instance; save is settled by the dispatcher as create or upsert
	add(Operation{Name: OpSave, Method: http.MethodPost, Path: root, Scope: ScopeInstance, AcceptsBody: true, Returns: ReturnsInstance})
	add(Operation{Name: OpUpdateAttributes, Method: http.MethodPatch, Path: item, Scope: ScopeInstance, AcceptsBody: true, Returns: ReturnsInstance})
	add(Operation{Name: OpDestroy, Method: http.MethodDelete, Path: item, Scope: ScopeInstance, Returns: ReturnsNothing})

	// relation accessors
	for _, r := range d.Relations {
		nested := item + "/" + r.Name
		toOne := !r.Kind.ToMany()
		get := Operation{
			Name: RelationGet(r.Name), Method: http.MethodGet, Path: nested, Scope: ScopeInstance,
			Returns: ReturnsInstances, Query: QueryFilter, Relation: r.Name, Target: r.Model, ToOne: toOne,
		}
		if toOne {
			get.Returns = ReturnsInstance
		}
		add(get)
		if toOne {
			continue
		}
		add(Operation{
			Name: RelationCreate(r.Name), Method: http.MethodPost, Path: nested, Scope: ScopeInstance,
			AcceptsBody: true, Returns: ReturnsInstance, Relation: r.Name, Target: r.Model,
		})
		add(Operation{
			Name: RelationCount(r.Name), Method: http.MethodGet, Path: nested + "/count", Scope: ScopeInstance,
			Returns: ReturnsCount, Query: QueryWhere, Relation: r.Name, Target: r.Model,
		})
	}
	return s
}

// Resolver caches operation sets per model name. One resolver belongs to one
// connector.
type Resolver struct {
	mu   sync.Mutex
	sets map[string]*Set
}

// New creates an empty resolver.
func New() *Resolver {
	return &Resolver{sets: make(map[string]*Set)}
}

// Resolve returns the cached set of d, resolving it on first use.
func (r *Resolver) Resolve(d model.Descriptor) *Set {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sets[d.Name]; ok {
		return s
	}
	s := Resolve(d)
	r.sets[d.Name] = s
	return s
}

// Cached returns the set resolved for a model name, if any.
func (r *Resolver) Cached(name string) (*Set, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sets[name]
	return s, ok
}
