package model

import (
	"encoding/json"
	"fmt"
)

// Attributes is a property bag of model data.
type Attributes map[string]any

// Clone returns a shallow copy of the attributes.
func (a Attributes) Clone() Attributes {
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Where is a query predicate, e.g. Where{"age": Gt(99)}.
type Where map[string]any

// Operator helpers build the value side of a Where clause.
func Gt(v any) map[string]any      { return map[string]any{"gt": v} }
func Gte(v any) map[string]any     { return map[string]any{"gte": v} }
func Lt(v any) map[string]any      { return map[string]any{"lt": v} }
func Lte(v any) map[string]any     { return map[string]any{"lte": v} }
func Neq(v any) map[string]any     { return map[string]any{"neq": v} }
func Like(p string) map[string]any { return map[string]any{"like": p} }
func Inq(vs ...any) map[string]any { return map[string]any{"inq": vs} }
func Nin(vs ...any) map[string]any { return map[string]any{"nin": vs} }

// Between matches values in the closed interval [lo, hi].
func Between(lo, hi any) map[string]any { return map[string]any{"between": []any{lo, hi}} }

// And combines predicates conjunctively.
func And(ws ...Where) Where { return Where{"and": ws} }

// Or combines predicates disjunctively.
func Or(ws ...Where) Where { return Where{"or": ws} }

// IncludeSpec names a relation to materialize alongside the parent record,
// optionally with a scope applied to the related records.
type IncludeSpec struct {
	Relation string  `json:"relation"`
	Scope    *Filter `json:"scope,omitempty"`
}

// Include is a convenience constructor for unscoped includes.
func Include(relations ...string) []IncludeSpec {
	specs := make([]IncludeSpec, 0, len(relations))
	for _, r := range relations {
		specs = append(specs, IncludeSpec{Relation: r})
	}
	return specs
}

// Filter is the structured query sent as a single query parameter.
type Filter struct {
	Where   Where           `json:"where,omitempty"`
	Include []IncludeSpec   `json:"include,omitempty"`
	Fields  map[string]bool `json:"fields,omitempty"`
	Order   []string        `json:"order,omitempty"`
	Limit   int             `json:"limit,omitempty"`
	Skip    int             `json:"skip,omitempty"`
}

// Empty reports whether the filter carries no constraint.
func (f *Filter) Empty() bool {
	return f == nil || (len(f.Where) == 0 && len(f.Include) == 0 && len(f.Fields) == 0 &&
		len(f.Order) == 0 && f.Limit == 0 && f.Skip == 0)
}

// Includes returns the relation names named by the include clause.
func (f *Filter) Includes() []string {
	if f == nil {
		return nil
	}
	names := make([]string, 0, len(f.Include))
	for _, inc := range f.Include {
		names = append(names, inc.Relation)
	}
	return names
}

// MarshalJSON renders unscoped includes as plain relation names, which is
// what the remote side expects for the common case.
func (s IncludeSpec) MarshalJSON() ([]byte, error) {
	if s.Scope == nil {
		return json.Marshal(s.Relation)
	}
	type alias IncludeSpec
	return json.Marshal(alias(s))
}

// UnmarshalJSON accepts either a relation name or an object form.
func (s *IncludeSpec) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		*s = IncludeSpec{Relation: name}
		return nil
	}
	type alias IncludeSpec
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return fmt.Errorf("include: %w", err)
	}
	*s = IncludeSpec(a)
	return nil
}

// UnmarshalJSON accepts include as a string, a list, or a list of objects.
func (f *Filter) UnmarshalJSON(data []byte) error {
	type alias Filter
	var raw struct {
		alias
		Include json.RawMessage `json:"include,omitempty"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*f = Filter(raw.alias)
	f.Include = nil
	if len(raw.Include) == 0 || string(raw.Include) == "null" {
		return nil
	}
	var one IncludeSpec
	if err := json.Unmarshal(raw.Include, &one); err == nil {
		f.Include = []IncludeSpec{one}
		return nil
	}
	if err := json.Unmarshal(raw.Include, &f.Include); err != nil {
		return fmt.Errorf("include: %w", err)
	}
	return nil
}
