// Package model defines the static shape of remote models: descriptors,
// relations, the wire-level object type derived from them, query filters and
// decoded records.
package model

import (
	"fmt"
	"sort"
	"strings"
)

// RelationKind identifies how a model relates to another model.
type RelationKind string

const (
	BelongsTo           RelationKind = "belongsTo"
	HasOne              RelationKind = "hasOne"
	HasMany             RelationKind = "hasMany"
	HasManyThrough      RelationKind = "hasManyThrough"
	HasAndBelongsToMany RelationKind = "hasAndBelongsToMany"
	ReferencesMany      RelationKind = "referencesMany"
	EmbedsOne           RelationKind = "embedsOne"
	EmbedsMany          RelationKind = "embedsMany"
)

// RelationKinds lists every supported relation kind.
func RelationKinds() []RelationKind {
	return []RelationKind{
		BelongsTo, HasOne, HasMany, HasManyThrough,
		HasAndBelongsToMany, ReferencesMany, EmbedsOne, EmbedsMany,
	}
}

// Valid reports whether k is a known relation kind.
func (k RelationKind) Valid() bool {
	for _, known := range RelationKinds() {
		if k == known {
			return true
		}
	}
	return false
}

// ToMany reports whether the relation yields a collection.
func (k RelationKind) ToMany() bool {
	switch k {
	case HasMany, HasManyThrough, HasAndBelongsToMany, ReferencesMany, EmbedsMany:
		return true
	}
	return false
}

// PropertyType is the primitive or semantic type of a model property.
type PropertyType string

const (
	TypeString  PropertyType = "string"
	TypeText    PropertyType = "text"
	TypeNumber  PropertyType = "number"
	TypeBoolean PropertyType = "boolean"
	TypeDate    PropertyType = "date"
	TypeObject  PropertyType = "object"
	TypeArray   PropertyType = "array"
	TypeAny     PropertyType = "any"
)

// Property is one declared model property.
type Property struct {
	Name     string       `json:"name" yaml:"name"`
	Type     PropertyType `json:"type" yaml:"type"`
	ID       bool         `json:"id,omitempty" yaml:"id,omitempty"`
	Required bool         `json:"required,omitempty" yaml:"required,omitempty"`
}

// Relation is one declared relation to another model.
type Relation struct {
	Name       string       `json:"name" yaml:"name"`
	Kind       RelationKind `json:"type" yaml:"type"`
	Model      string       `json:"model,omitempty" yaml:"model,omitempty"`
	ForeignKey string       `json:"foreignKey,omitempty" yaml:"foreignKey,omitempty"`
	// Through names the intermediate model of hasManyThrough relations.
	Through string `json:"through,omitempty" yaml:"through,omitempty"`
	// Polymorphic belongsTo relations resolve their target from the
	// Discriminator property of the parent record.
	Polymorphic   bool   `json:"polymorphic,omitempty" yaml:"polymorphic,omitempty"`
	Discriminator string `json:"discriminator,omitempty" yaml:"discriminator,omitempty"`
}

// TargetFor returns the name of the related model for a given parent record.
func (r Relation) TargetFor(parent map[string]any) string {
	if !r.Polymorphic {
		return r.Model
	}
	key := r.Discriminator
	if key == "" {
		key = r.Name + "Type"
	}
	if s, ok := parent[key].(string); ok && s != "" {
		return s
	}
	return r.Model
}

// HTTPOptions configures the REST mount point of a model.
type HTTPOptions struct {
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// Options holds descriptor-level settings.
type Options struct {
	ForceID bool        `json:"forceId,omitempty" yaml:"forceId,omitempty"`
	Strict  bool        `json:"strict,omitempty" yaml:"strict,omitempty"`
	Plural  string      `json:"plural,omitempty" yaml:"plural,omitempty"`
	HTTP    HTTPOptions `json:"http,omitempty" yaml:"http,omitempty"`
}

// Descriptor is the static shape of a model as declared against a connector.
// It is treated as immutable once declared.
type Descriptor struct {
	Name       string     `json:"name" yaml:"name"`
	Properties []Property `json:"properties,omitempty" yaml:"properties,omitempty"`
	Relations  []Relation `json:"relations,omitempty" yaml:"relations,omitempty"`
	Options    Options    `json:"options,omitempty" yaml:"options,omitempty"`
}

// Validate checks the descriptor for structural errors.
func (d Descriptor) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("model name is required")
	}
	seen := make(map[string]bool)
	for _, p := range d.Properties {
		if p.Name == "" {
			return fmt.Errorf("model %s: property name is required", d.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("model %s: duplicate property %q", d.Name, p.Name)
		}
		seen[p.Name] = true
	}
	rels := make(map[string]bool)
	for _, r := range d.Relations {
		if r.Name == "" {
			return fmt.Errorf("model %s: relation name is required", d.Name)
		}
		if rels[r.Name] {
			return fmt.Errorf("model %s: duplicate relation %q", d.Name, r.Name)
		}
		rels[r.Name] = true
		if !r.Kind.Valid() {
			return fmt.Errorf("model %s: relation %q has unknown type %q", d.Name, r.Name, r.Kind)
		}
		if r.Model == "" && !r.Polymorphic {
			return fmt.Errorf("model %s: relation %q requires a target model", d.Name, r.Name)
		}
		if r.Kind == HasManyThrough && r.Through == "" {
			return fmt.Errorf("model %s: relation %q requires a through model", d.Name, r.Name)
		}
	}
	return nil
}

// IDProperty returns the name of the identifier property.
func (d Descriptor) IDProperty() string {
	for _, p := range d.Properties {
		if p.ID {
			return p.Name
		}
	}
	return "id"
}

// Relation looks up a relation by name.
func (d Descriptor) Relation(name string) (Relation, bool) {
	for _, r := range d.Relations {
		if r.Name == name {
			return r, true
		}
	}
	return Relation{}, false
}

// Root returns the REST root path of the model. A configured http path
// wins over the plural and the model name.
func (d Descriptor) Root() string {
	if p := strings.TrimSpace(d.Options.HTTP.Path); p != "" {
		return "/" + strings.Trim(p, "/")
	}
	if d.Options.Plural != "" {
		return "/" + d.Options.Plural
	}
	return "/" + d.Name
}

// Related returns the names of all models this descriptor references,
// including intermediate models, sorted and without duplicates.
func (d Descriptor) Related() []string {
	set := make(map[string]bool)
	for _, r := range d.Relations {
		if r.Model != "" {
			set[r.Model] = true
		}
		if r.Through != "" {
			set[r.Through] = true
		}
	}
	names := make([]string, 0, len(set))
	for n := range set {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// TypeDefinition builds the wire-level object type of the descriptor.
func (d Descriptor) TypeDefinition() TypeDefinition {
	def := TypeDefinition{
		Name:       d.Name,
		IDProperty: d.IDProperty(),
		Strict:     d.Options.Strict,
		ForceID:    d.Options.ForceID,
		Properties: make(map[string]PropertyType, len(d.Properties)+1),
		Relations:  make(map[string]RelationRef, len(d.Relations)),
	}
	for _, p := range d.Properties {
		t := p.Type
		if t == "" {
			t = TypeAny
		}
		def.Properties[p.Name] = t
	}
	if _, ok := def.Properties[def.IDProperty]; !ok {
		def.Properties[def.IDProperty] = TypeNumber
	}
	for _, r := range d.Relations {
		def.Relations[r.Name] = RelationRef{
			Kind:          r.Kind,
			Model:         r.Model,
			ForeignKey:    r.ForeignKey,
			Polymorphic:   r.Polymorphic,
			Discriminator: r.Discriminator,
		}
	}
	return def
}
