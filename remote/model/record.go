package model

// Record is one decoded remote object: its own attributes plus any related
// records that were materialized through an include filter.
type Record struct {
	Model      string
	Attributes Attributes
	Included   map[string][]*Record
	// ToOne marks included relations that hold a single record.
	ToOne map[string]bool
}

// NewRecord returns an empty record of the given model.
func NewRecord(modelName string, attrs Attributes) *Record {
	if attrs == nil {
		attrs = Attributes{}
	}
	return &Record{Model: modelName, Attributes: attrs}
}

// Include attaches related records under a relation name.
func (r *Record) Include(relation string, toOne bool, related ...*Record) {
	if r.Included == nil {
		r.Included = make(map[string][]*Record)
		r.ToOne = make(map[string]bool)
	}
	r.Included[relation] = related
	r.ToOne[relation] = toOne
}

// Clone returns a copy of the record that shares no maps with r. Attribute
// values themselves are not copied.
func (r *Record) Clone() *Record {
	out := NewRecord(r.Model, r.Attributes.Clone())
	for rel, recs := range r.Included {
		related := make([]*Record, len(recs))
		for k, rec := range recs {
			related[k] = rec.Clone()
		}
		out.Include(rel, r.ToOne[rel], related...)
	}
	return out
}

// JSON renders the record, with included relations, as plain data.
func (r *Record) JSON() map[string]any {
	out := make(map[string]any, len(r.Attributes)+len(r.Included))
	for k, v := range r.Attributes {
		out[k] = v
	}
	for rel, recs := range r.Included {
		if r.ToOne[rel] {
			if len(recs) == 0 {
				out[rel] = nil
			} else {
				out[rel] = recs[0].JSON()
			}
			continue
		}
		list := make([]any, 0, len(recs))
		for _, rec := range recs {
			list = append(list, rec.JSON())
		}
		out[rel] = list
	}
	return out
}
