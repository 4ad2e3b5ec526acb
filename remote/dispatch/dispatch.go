// Package dispatch turns a resolved remote operation plus call arguments into
// an HTTP exchange and decodes the response into records, counts or errors.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/R3E-Network/remote_connector/internal/logging"
	"github.com/R3E-Network/remote_connector/internal/metrics"
	"github.com/R3E-Network/remote_connector/remote/model"
	"github.com/R3E-Network/remote_connector/remote/resolver"
	"github.com/R3E-Network/remote_connector/remote/transport"
)

// Args are the normalized arguments of one call.
type Args struct {
	ID      any
	Data    model.Attributes
	Filter  *model.Filter
	Where   model.Where
	Options map[string]any
	Headers map[string]string
}

// Result is the decoded outcome of a call. Record is nil for an absent
// single-instance result.
type Result struct {
	Operation  string
	StatusCode int
	Record     *model.Record
	Records    []*model.Record
	Count      int64
	Exists     bool

	// Materialized is set when the remote side answered a write with an
	// empty body and Record was built from the sent data.
	Materialized bool
}

// Found reports whether a single-instance call produced a record.
func (r *Result) Found() bool {
	return r != nil && r.Record != nil
}

// Dispatcher performs remote calls over a transport.
type Dispatcher struct {
	transport transport.Transport
	log       *logging.Logger
}

// New creates a dispatcher.
func New(t transport.Transport, log *logging.Logger) *Dispatcher {
	if log == nil {
		log = logging.NewDefault("dispatch")
	}
	return &Dispatcher{transport: t, log: log}
}

// TypeOf returns the declared object type of a model, or a permissive
// default when the model was never declared on the transport.
func (d *Dispatcher) TypeOf(name string) model.TypeDefinition {
	if def, ok := d.transport.ObjectType(name); ok {
		return def
	}
	return model.TypeDefinition{Name: name, IDProperty: "id"}
}

// Dispatch invokes the operation named name (canonical or alias) of set.
func (d *Dispatcher) Dispatch(ctx context.Context, set *resolver.Set, name string, args Args) (*Result, error) {
	op, ok := set.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownOperation, set.Model, name)
	}
	if op.Name == resolver.OpSave {
		op = d.saveTarget(set, args)
	}
	qualified := set.Model + "." + op.Name

	req, def, err := d.buildRequest(op, args)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", qualified, err)
	}

	ctx, requestID := logging.EnsureRequestID(ctx)
	done := metrics.StartCall(set.Model, op.Name)
	start := time.Now()

	resp, err := d.transport.Do(ctx, req)
	if err != nil {
		done(0)
		var terr *transport.Error
		if errors.As(err, &terr) {
			return nil, &TransportError{Op: qualified, URL: terr.URL, Err: terr.Err}
		}
		return nil, fmt.Errorf("%s: %w", qualified, err)
	}
	done(resp.StatusCode)

	d.log.WithContext(ctx).WithFields(logrus.Fields{
		"model":      set.Model,
		"operation":  op.Name,
		"method":     req.Method,
		"path":       req.Path,
		"status":     resp.StatusCode,
		"request_id": requestID,
		"duration":   time.Since(start).String(),
	}).Debug("remote call")

	return d.decode(qualified, op, args, req, def, resp)
}

// saveTarget settles save into create or upsert depending on the id.
func (d *Dispatcher) saveTarget(set *resolver.Set, args Args) resolver.Operation {
	target := resolver.OpCreate
	if idString(args.ID) != "" {
		target = resolver.OpUpsert
	}
	op, _ := set.Lookup(target)
	return op
}

func (d *Dispatcher) buildRequest(op resolver.Operation, args Args) (transport.Request, model.TypeDefinition, error) {
	def := d.TypeOf(op.Target)
	req := transport.Request{Method: op.Method, Path: op.Path, Headers: args.Headers}

	if op.NeedsID() {
		id := idString(args.ID)
		if id == "" {
			return req, def, ErrMissingID
		}
		req.Path = op.Expand(id)
	}

	query := url.Values{}
	switch op.Query {
	case resolver.QueryFilter:
		if !args.Filter.Empty() {
			data, err := json.Marshal(args.Filter)
			if err != nil {
				return req, def, fmt.Errorf("encode filter: %w", err)
			}
			query.Set(resolver.QueryFilter, string(data))
		}
	case resolver.QueryWhere:
		where := args.Where
		if len(where) == 0 && args.Filter != nil {
			where = args.Filter.Where
		}
		if len(where) > 0 {
			data, err := json.Marshal(where)
			if err != nil {
				return req, def, fmt.Errorf("encode where: %w", err)
			}
			query.Set(resolver.QueryWhere, string(data))
		}
	}
	if len(args.Options) > 0 {
		data, err := json.Marshal(args.Options)
		if err != nil {
			return req, def, fmt.Errorf("encode options: %w", err)
		}
		query.Set("options", string(data))
	}
	if len(query) > 0 {
		req.Query = query
	}

	if op.AcceptsBody {
		body := def.Encode(args.Data)
		if op.Name == resolver.OpUpsert {
			if _, ok := body[def.IDProperty]; !ok && args.ID != nil {
				body[def.IDProperty] = args.ID
			}
		}
		req.Body = body
	}
	return req, def, nil
}

func (d *Dispatcher) decode(qualified string, op resolver.Operation, args Args, req transport.Request, def model.TypeDefinition, resp *transport.Response) (*Result, error) {
	res := &Result{Operation: op.Name, StatusCode: resp.StatusCode}

	if resp.StatusCode == http.StatusNotFound {
		switch {
		case op.Returns == resolver.ReturnsExists:
			return res, nil
		case op.Returns == resolver.ReturnsInstance && !op.AcceptsBody:
			// findById, findOne and to-one relation reads: absent, not an error
			return res, nil
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, decodeError(qualified, resp)
	}

	var includes []model.IncludeSpec
	if args.Filter != nil {
		includes = args.Filter.Include
	}

	switch op.Returns {
	case resolver.ReturnsNothing:
		return res, nil

	case resolver.ReturnsCount, resolver.ReturnsAffected:
		count := gjson.GetBytes(resp.Body, "count")
		if !count.Exists() {
			return nil, fmt.Errorf("%s: response has no count", qualified)
		}
		res.Count = count.Int()
		return res, nil

	case resolver.ReturnsExists:
		res.Exists = gjson.GetBytes(resp.Body, "exists").Bool()
		return res, nil

	case resolver.ReturnsInstances:
		if resp.Empty() {
			res.Records = []*model.Record{}
			return res, nil
		}
		var raws []map[string]any
		if err := resp.JSON(&raws); err != nil {
			return nil, fmt.Errorf("%s: decode list: %w", qualified, err)
		}
		res.Records = make([]*model.Record, 0, len(raws))
		for _, raw := range raws {
			res.Records = append(res.Records, d.decodeRecord(op.Target, raw, includes))
		}
		return res, nil

	default:
		if resp.Empty() {
			if op.AcceptsBody {
				res.Record = d.materializeSent(def, op, args, req)
				res.Materialized = true
			}
			return res, nil
		}
		var raw map[string]any
		if err := resp.JSON(&raw); err != nil {
			return nil, fmt.Errorf("%s: decode instance: %w", qualified, err)
		}
		res.Record = d.decodeRecord(op.Target, raw, includes)
		return res, nil
	}
}

// materializeSent builds the record of a write whose response had no body.
func (d *Dispatcher) materializeSent(def model.TypeDefinition, op resolver.Operation, args Args, req transport.Request) *model.Record {
	sent, _ := req.Body.(model.Attributes)
	raw := make(map[string]any, len(sent)+1)
	for k, v := range sent {
		raw[k] = v
	}
	if _, ok := raw[def.IDProperty]; !ok && args.ID != nil && op.Relation == "" {
		raw[def.IDProperty] = args.ID
	}
	return model.NewRecord(def.Name, def.Decode(raw))
}

// decodeRecord materializes one object of modelName. Values under relation
// names become included records; relations named by includes but missing
// from the body are recorded as loaded and empty.
func (d *Dispatcher) decodeRecord(modelName string, raw map[string]any, includes []model.IncludeSpec) *model.Record {
	def := d.TypeOf(modelName)

	scopes := make(map[string]*model.Filter, len(includes))
	for _, inc := range includes {
		scopes[inc.Relation] = inc.Scope
	}

	own := make(map[string]any, len(raw))
	rec := model.NewRecord(modelName, nil)
	for k, v := range raw {
		ref, isRel := def.Relations[k]
		if !isRel {
			own[k] = v
			continue
		}
		rel := ref.Relation(k)
		target := rel.TargetFor(raw)
		var nested []model.IncludeSpec
		if scope := scopes[k]; scope != nil {
			nested = scope.Include
		}
		rec.Include(k, !rel.Kind.ToMany(), d.decodeRelated(target, v, nested)...)
	}
	rec.Attributes = def.Decode(own)

	for name := range scopes {
		if _, done := rec.Included[name]; done {
			continue
		}
		if ref, ok := def.Relations[name]; ok {
			rec.Include(name, !ref.Kind.ToMany())
		}
	}
	return rec
}

func (d *Dispatcher) decodeRelated(target string, v any, includes []model.IncludeSpec) []*model.Record {
	switch val := v.(type) {
	case map[string]any:
		return []*model.Record{d.decodeRecord(target, val, includes)}
	case []any:
		out := make([]*model.Record, 0, len(val))
		for _, item := range val {
			if m, ok := item.(map[string]any); ok {
				out = append(out, d.decodeRecord(target, m, includes))
			}
		}
		return out
	}
	return nil
}

// idString renders an id for use in a URL path. Nil and empty ids yield "".
func idString(id any) string {
	switch v := id.(type) {
	case nil:
		return ""
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// IDString is the exported form of the id rendering used for paths.
func IDString(id any) string {
	return idString(id)
}
