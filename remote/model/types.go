package model

import (
	"encoding/json"
	"math"
	"time"
)

// RelationRef is the relation information carried by an object type.
type RelationRef struct {
	Kind          RelationKind `json:"type"`
	Model         string       `json:"model,omitempty"`
	ForeignKey    string       `json:"foreignKey,omitempty"`
	Polymorphic   bool         `json:"polymorphic,omitempty"`
	Discriminator string       `json:"discriminator,omitempty"`
}

// Relation converts the reference back into a named relation.
func (r RelationRef) Relation(name string) Relation {
	return Relation{
		Name:          name,
		Kind:          r.Kind,
		Model:         r.Model,
		ForeignKey:    r.ForeignKey,
		Polymorphic:   r.Polymorphic,
		Discriminator: r.Discriminator,
	}
}

// TypeDefinition is the wire-level shape of a model declared to the
// transport's schema channel. Decoding of response bodies is driven by it.
type TypeDefinition struct {
	Name       string                  `json:"name"`
	IDProperty string                  `json:"idProperty"`
	Strict     bool                    `json:"strict,omitempty"`
	ForceID    bool                    `json:"forceId,omitempty"`
	Properties map[string]PropertyType `json:"properties"`
	Relations  map[string]RelationRef  `json:"relations,omitempty"`
}

// keeps reports whether a property survives strict filtering.
func (t TypeDefinition) keeps(name string) bool {
	if !t.Strict || name == t.IDProperty {
		return true
	}
	if _, ok := t.Properties[name]; ok {
		return true
	}
	if _, ok := t.Relations[name]; ok {
		return true
	}
	for relName, r := range t.Relations {
		if r.Kind != BelongsTo && r.Kind != ReferencesMany {
			continue
		}
		if r.ForeignKey == name {
			return true
		}
		if r.Polymorphic && (r.Discriminator == name || (r.Discriminator == "" && relName+"Type" == name)) {
			return true
		}
	}
	return false
}

// Encode prepares attributes for the wire. Strict types drop undeclared
// properties.
func (t TypeDefinition) Encode(attrs Attributes) Attributes {
	out := make(Attributes, len(attrs))
	for k, v := range attrs {
		if t.keeps(k) {
			out[k] = v
		}
	}
	return out
}

// Decode coerces raw JSON values into their declared Go types. Strict types
// drop undeclared properties.
func (t TypeDefinition) Decode(raw map[string]any) Attributes {
	out := make(Attributes, len(raw))
	for k, v := range raw {
		if !t.keeps(k) {
			continue
		}
		out[k] = Coerce(t.Properties[k], v)
	}
	return out
}

// Coerce converts a raw JSON value into the Go representation of typ.
// Values that do not match the declared type are returned unchanged.
func Coerce(typ PropertyType, v any) any {
	if v == nil {
		return nil
	}
	switch typ {
	case TypeNumber:
		return coerceNumber(v)
	case TypeDate:
		if s, ok := v.(string); ok {
			if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
				return ts
			}
		}
		return v
	case TypeBoolean, TypeString, TypeText, TypeObject, TypeArray:
		return v
	default:
		// untyped numbers still get integral normalization so ids compare cleanly
		switch v.(type) {
		case json.Number, float64, int:
			return coerceNumber(v)
		}
		return v
	}
}

func coerceNumber(v any) any {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i
		}
		if f, err := n.Float64(); err == nil {
			return f
		}
		return n.String()
	case float64:
		if n == math.Trunc(n) && math.Abs(n) < 1<<53 {
			return int64(n)
		}
		return n
	case int:
		return int64(n)
	}
	return v
}
