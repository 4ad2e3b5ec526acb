package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/R3E-Network/remote_connector/remote/model"
	"github.com/R3E-Network/remote_connector/remote/resolver"
)

// Instance is one remote object on the client side. Related records fetched
// through an include filter are kept on the instance and served by the
// relation accessors without another request.
type Instance struct {
	model *Model

	mu  sync.RWMutex
	rec *model.Record
	// related holds the wrappers handed out by Cached, one set per relation.
	related map[string][]*Instance
}

func newInstance(m *Model, rec *model.Record) *Instance {
	return &Instance{model: m, rec: rec}
}

// Model returns the model of the instance.
func (i *Instance) Model() *Model { return i.model }

// ID returns the identifier, or nil for unsaved instances.
func (i *Instance) ID() any {
	return i.Get(i.model.desc.IDProperty())
}

// Get returns one attribute.
func (i *Instance) Get(name string) any {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.rec.Attributes[name]
}

// Set changes one attribute locally; Save sends it.
func (i *Instance) Set(name string, value any) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.rec.Attributes[name] = value
}

// Attributes returns a copy of the instance's own attributes.
func (i *Instance) Attributes() model.Attributes {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.rec.Attributes.Clone()
}

// ToJSON renders the instance, with included relations, as plain data.
func (i *Instance) ToJSON() map[string]any {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.rec.JSON()
}

// Decode copies the instance into v, typically a pointer to a struct with
// json tags.
func (i *Instance) Decode(v any) error {
	data, err := json.Marshal(i.ToJSON())
	if err != nil {
		return fmt.Errorf("encode %s: %w", i.model.Name(), err)
	}
	return json.Unmarshal(data, v)
}

// replace adopts the attributes of a freshly returned record.
func (i *Instance) replace(rec *model.Record) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.rec.Attributes = rec.Attributes
	if len(rec.Included) > 0 {
		i.rec.Included, i.rec.ToOne = rec.Included, rec.ToOne
		i.related = nil
	}
}

// merge applies the sent attributes of a write the remote side answered
// without a body; attributes that were not sent are kept.
func (i *Instance) merge(rec *model.Record) {
	i.mu.Lock()
	defer i.mu.Unlock()
	attrs := i.rec.Attributes.Clone()
	for k, v := range rec.Attributes {
		attrs[k] = v
	}
	i.rec.Attributes = attrs
}

// write runs an instance operation that returns the updated instance.
func (i *Instance) write(ctx context.Context, name string, args Args, opts []CallOption) *Future[*Instance] {
	return run(ctx, i.model.conn.log, name, opts, func(ctx context.Context, call *PendingCall) (*Instance, error) {
		res, err := i.model.dispatch(ctx, call, args)
		if err != nil {
			return nil, err
		}
		switch {
		case res.Record == nil:
		case res.Materialized:
			i.merge(res.Record)
		default:
			i.replace(res.Record)
		}
		return i, nil
	})
}

// Save creates the instance when it has no id and upserts it otherwise.
func (i *Instance) Save(ctx context.Context, opts ...CallOption) *Future[*Instance] {
	return i.write(ctx, resolver.OpSave, Args{ID: i.ID(), Data: i.Attributes()}, opts)
}

// UpdateAttributes patches the given attributes of the instance.
func (i *Instance) UpdateAttributes(ctx context.Context, data model.Attributes, opts ...CallOption) *Future[*Instance] {
	return i.write(ctx, resolver.OpUpdateAttributes, Args{ID: i.ID(), Data: data}, opts)
}

// PatchAttributes is an alias of UpdateAttributes.
func (i *Instance) PatchAttributes(ctx context.Context, data model.Attributes, opts ...CallOption) *Future[*Instance] {
	return i.write(ctx, "patchAttributes", Args{ID: i.ID(), Data: data}, opts)
}

// Destroy deletes the instance remotely.
func (i *Instance) Destroy(ctx context.Context, opts ...CallOption) *Future[struct{}] {
	id := i.ID()
	return run(ctx, i.model.conn.log, resolver.OpDestroy, opts, func(ctx context.Context, call *PendingCall) (struct{}, error) {
		_, err := i.model.dispatch(ctx, call, Args{ID: id})
		return struct{}{}, err
	})
}

// =============================================================================
// Relations
// =============================================================================

// Cached returns the records of a relation materialized by an include
// filter, and whether the relation was included at all.
// Repeated calls return the same instances; they own copies of the included
// records, so changing them does not touch the parent.
func (i *Instance) Cached(relation string) ([]*Instance, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	wrapped, ok := i.related[relation]
	if !ok {
		recs, included := i.rec.Included[relation]
		if !included {
			return nil, false
		}
		copies := make([]*model.Record, len(recs))
		for k, rec := range recs {
			copies[k] = rec.Clone()
		}
		wrapped = i.model.conn.instances(copies)
		if i.related == nil {
			i.related = make(map[string][]*Instance)
		}
		i.related[relation] = wrapped
	}
	out := make([]*Instance, len(wrapped))
	copy(out, wrapped)
	return out, true
}

func (i *Instance) relation(name string) (model.Relation, error) {
	rel, ok := i.model.desc.Relation(name)
	if !ok {
		return rel, fmt.Errorf("%w: %s.%s", ErrUnknownRelation, i.model.Name(), name)
	}
	return rel, nil
}

// Related returns the records of a relation. Included records are returned
// without a request; an explicit filter always goes to the remote side.
func (i *Instance) Related(ctx context.Context, relation string, filter *model.Filter, opts ...CallOption) *Future[[]*Instance] {
	name := resolver.RelationGet(relation)
	id := i.ID()
	return run(ctx, i.model.conn.log, name, opts, func(ctx context.Context, call *PendingCall) ([]*Instance, error) {
		rel, err := i.relation(relation)
		if err != nil {
			return nil, err
		}
		if filter.Empty() {
			if cached, ok := i.Cached(relation); ok {
				return cached, nil
			}
		}
		res, err := i.model.dispatch(ctx, call, Args{ID: id, Filter: filter})
		if err != nil {
			return nil, err
		}
		if rel.Kind.ToMany() {
			return i.model.conn.instances(res.Records), nil
		}
		if res.Record == nil {
			return []*Instance{}, nil
		}
		return []*Instance{i.model.conn.instance(res.Record)}, nil
	})
}

// RelatedOne returns the record of a to-one relation, or nil.
func (i *Instance) RelatedOne(ctx context.Context, relation string, opts ...CallOption) *Future[*Instance] {
	name := resolver.RelationGet(relation)
	id := i.ID()
	return run(ctx, i.model.conn.log, name, opts, func(ctx context.Context, call *PendingCall) (*Instance, error) {
		rel, err := i.relation(relation)
		if err != nil {
			return nil, err
		}
		if rel.Kind.ToMany() {
			return nil, fmt.Errorf("%s.%s is a to-many relation", i.model.Name(), relation)
		}
		if cached, ok := i.Cached(relation); ok {
			if len(cached) == 0 {
				return nil, nil
			}
			return cached[0], nil
		}
		res, err := i.model.dispatch(ctx, call, Args{ID: id})
		if err != nil || res.Record == nil {
			return nil, err
		}
		return i.model.conn.instance(res.Record), nil
	})
}

// CreateRelated creates a record through a to-many relation.
func (i *Instance) CreateRelated(ctx context.Context, relation string, data model.Attributes, opts ...CallOption) *Future[*Instance] {
	name := resolver.RelationCreate(relation)
	id := i.ID()
	return run(ctx, i.model.conn.log, name, opts, func(ctx context.Context, call *PendingCall) (*Instance, error) {
		if _, err := i.relation(relation); err != nil {
			return nil, err
		}
		res, err := i.model.dispatch(ctx, call, Args{ID: id, Data: data})
		if err != nil || res.Record == nil {
			return nil, err
		}
		return i.model.conn.instance(res.Record), nil
	})
}

// CountRelated counts the records of a to-many relation matching where.
func (i *Instance) CountRelated(ctx context.Context, relation string, where model.Where, opts ...CallOption) *Future[int64] {
	name := resolver.RelationCount(relation)
	id := i.ID()
	return run(ctx, i.model.conn.log, name, opts, func(ctx context.Context, call *PendingCall) (int64, error) {
		if _, err := i.relation(relation); err != nil {
			return 0, err
		}
		res, err := i.model.dispatch(ctx, call, Args{ID: id, Where: where})
		if err != nil {
			return 0, err
		}
		return res.Count, nil
	})
}
