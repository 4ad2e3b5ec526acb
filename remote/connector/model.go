package connector

import (
	"context"

	"github.com/R3E-Network/remote_connector/remote/dispatch"
	"github.com/R3E-Network/remote_connector/remote/model"
	"github.com/R3E-Network/remote_connector/remote/resolver"
)

// Args and Result are the raw argument and result forms used by Invoke.
type (
	Args   = dispatch.Args
	Result = dispatch.Result
)

// UpdateResult is the outcome of a bulk update.
type UpdateResult struct {
	Count int64 `json:"count"`
}

// Model is the client-side proxy of one remote model.
type Model struct {
	conn *Connector
	desc model.Descriptor
	ops  *resolver.Set
}

// Name returns the model name.
func (m *Model) Name() string { return m.desc.Name }

// Descriptor returns the descriptor the model was defined with.
func (m *Model) Descriptor() model.Descriptor { return m.desc }

// Operations returns the resolved remote operations of the model.
func (m *Model) Operations() *resolver.Set { return m.ops }

// New builds an unsaved instance.
func (m *Model) New(attrs model.Attributes) *Instance {
	return newInstance(m, model.NewRecord(m.desc.Name, attrs.Clone()))
}

// Invoke calls any operation of the model by canonical or alias name.
func (m *Model) Invoke(ctx context.Context, name string, args Args, opts ...CallOption) *Future[*Result] {
	return run(ctx, m.conn.log, name, opts, func(ctx context.Context, call *PendingCall) (*Result, error) {
		return m.dispatch(ctx, call, args)
	})
}

func (m *Model) dispatch(ctx context.Context, call *PendingCall, args Args) (*Result, error) {
	if len(call.Options) > 0 {
		args.Options = call.Options
	}
	if len(call.Headers) > 0 {
		args.Headers = call.Headers
	}
	return m.conn.dispatcher.Dispatch(ctx, m.ops, call.Operation, args)
}

// instanceCall runs an operation that yields at most one instance.
func (m *Model) instanceCall(ctx context.Context, name string, args Args, opts []CallOption) *Future[*Instance] {
	return run(ctx, m.conn.log, name, opts, func(ctx context.Context, call *PendingCall) (*Instance, error) {
		res, err := m.dispatch(ctx, call, args)
		if err != nil || res.Record == nil {
			return nil, err
		}
		return m.conn.instance(res.Record), nil
	})
}

// Create stores a new instance.
func (m *Model) Create(ctx context.Context, data model.Attributes, opts ...CallOption) *Future[*Instance] {
	return m.instanceCall(ctx, resolver.OpCreate, Args{Data: data}, opts)
}

// Find returns every instance matching filter.
func (m *Model) Find(ctx context.Context, filter *model.Filter, opts ...CallOption) *Future[[]*Instance] {
	return run(ctx, m.conn.log, resolver.OpFind, opts, func(ctx context.Context, call *PendingCall) ([]*Instance, error) {
		res, err := m.dispatch(ctx, call, Args{Filter: filter})
		if err != nil {
			return nil, err
		}
		return m.conn.instances(res.Records), nil
	})
}

// FindOne returns the first instance matching filter, or nil.
func (m *Model) FindOne(ctx context.Context, filter *model.Filter, opts ...CallOption) *Future[*Instance] {
	return m.instanceCall(ctx, resolver.OpFindOne, Args{Filter: filter}, opts)
}

// FindByID returns the instance with id, or nil when there is none.
func (m *Model) FindByID(ctx context.Context, id any, filter *model.Filter, opts ...CallOption) *Future[*Instance] {
	return m.instanceCall(ctx, resolver.OpFindByID, Args{ID: id, Filter: filter}, opts)
}

// Count returns the number of instances matching where.
func (m *Model) Count(ctx context.Context, where model.Where, opts ...CallOption) *Future[int64] {
	return run(ctx, m.conn.log, resolver.OpCount, opts, func(ctx context.Context, call *PendingCall) (int64, error) {
		res, err := m.dispatch(ctx, call, Args{Where: where})
		if err != nil {
			return 0, err
		}
		return res.Count, nil
	})
}

// Exists reports whether an instance with id exists.
func (m *Model) Exists(ctx context.Context, id any, opts ...CallOption) *Future[bool] {
	return run(ctx, m.conn.log, resolver.OpExists, opts, func(ctx context.Context, call *PendingCall) (bool, error) {
		res, err := m.dispatch(ctx, call, Args{ID: id})
		if err != nil {
			return false, err
		}
		return res.Exists, nil
	})
}

// DeleteByID removes the instance with id.
func (m *Model) DeleteByID(ctx context.Context, id any, opts ...CallOption) *Future[struct{}] {
	return run(ctx, m.conn.log, resolver.OpDeleteByID, opts, func(ctx context.Context, call *PendingCall) (struct{}, error) {
		_, err := m.dispatch(ctx, call, Args{ID: id})
		return struct{}{}, err
	})
}

// UpdateAll applies data to every instance matching where.
func (m *Model) UpdateAll(ctx context.Context, where model.Where, data model.Attributes, opts ...CallOption) *Future[UpdateResult] {
	return run(ctx, m.conn.log, resolver.OpUpdateAll, opts, func(ctx context.Context, call *PendingCall) (UpdateResult, error) {
		res, err := m.dispatch(ctx, call, Args{Where: where, Data: data})
		if err != nil {
			return UpdateResult{}, err
		}
		return UpdateResult{Count: res.Count}, nil
	})
}

// Upsert updates the instance identified by data's id, or creates it.
func (m *Model) Upsert(ctx context.Context, data model.Attributes, opts ...CallOption) *Future[*Instance] {
	return m.instanceCall(ctx, resolver.OpUpsert, Args{Data: data}, opts)
}

// UpdateOrCreate is an alias of Upsert.
func (m *Model) UpdateOrCreate(ctx context.Context, data model.Attributes, opts ...CallOption) *Future[*Instance] {
	return m.instanceCall(ctx, "updateOrCreate", Args{Data: data}, opts)
}

// PatchOrCreate is an alias of Upsert.
func (m *Model) PatchOrCreate(ctx context.Context, data model.Attributes, opts ...CallOption) *Future[*Instance] {
	return m.instanceCall(ctx, "patchOrCreate", Args{Data: data}, opts)
}

// ReplaceOrCreate replaces the instance identified by data's id, or creates it.
func (m *Model) ReplaceOrCreate(ctx context.Context, data model.Attributes, opts ...CallOption) *Future[*Instance] {
	return m.instanceCall(ctx, resolver.OpReplaceOrCreate, Args{Data: data}, opts)
}

// ReplaceByID replaces every attribute of the instance with id.
func (m *Model) ReplaceByID(ctx context.Context, id any, data model.Attributes, opts ...CallOption) *Future[*Instance] {
	return m.instanceCall(ctx, resolver.OpReplaceByID, Args{ID: id, Data: data}, opts)
}

// UpsertWithWhere updates the single instance matching where, or creates one.
func (m *Model) UpsertWithWhere(ctx context.Context, where model.Where, data model.Attributes, opts ...CallOption) *Future[*Instance] {
	return m.instanceCall(ctx, resolver.OpUpsertWithWhere, Args{Where: where, Data: data}, opts)
}

func (c *Connector) instance(rec *model.Record) *Instance {
	return newInstance(c.modelFor(rec.Model), rec)
}

func (c *Connector) instances(recs []*model.Record) []*Instance {
	out := make([]*Instance, 0, len(recs))
	for _, rec := range recs {
		out = append(out, c.instance(rec))
	}
	return out
}
