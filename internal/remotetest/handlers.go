package remotetest

import (
	"errors"
	"net/http"
	"unicode"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/remote_connector/remote/model"
)

// handler serves the routes of one model.
type handler struct {
	s    *Server
	name string
}

func (h *handler) desc() model.Descriptor {
	d, _ := h.s.descriptor(h.name)
	return d
}

func (h *handler) table() *table {
	return h.s.table(h.name)
}

// =============================================================================
// Bulk operations
// =============================================================================

func (h *handler) create(w http.ResponseWriter, r *http.Request) {
	row, err := decodeBody(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	if !h.validate(w, row, true) {
		return
	}
	writeJSON(w, http.StatusOK, h.table().insert(row))
}

func (h *handler) find(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.s.query(h.name, h.table().Values(), f))
}

func (h *handler) findOne(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	f.Limit = 1
	rows := h.s.query(h.name, h.table().Values(), f)
	if len(rows) == 0 {
		WriteError(w, http.StatusNotFound, "Error", "MODEL_NOT_FOUND", "Unknown \""+h.name+"\" instance.", nil)
		return
	}
	writeJSON(w, http.StatusOK, rows[0])
}

func (h *handler) findByID(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	row, ok := h.table().get(id)
	if !ok {
		notFound(w, h.name, id)
		return
	}
	f, err := parseFilter(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	f.Where = nil
	writeJSON(w, http.StatusOK, h.s.query(h.name, []Row{row}, f)[0])
}

func (h *handler) count(w http.ResponseWriter, r *http.Request) {
	where, err := parseWhere(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(filterRows(h.table().Values(), where))})
}

func (h *handler) exists(w http.ResponseWriter, r *http.Request) {
	_, ok := h.table().Get(mux.Vars(r)["id"])
	writeJSON(w, http.StatusOK, map[string]any{"exists": ok})
}

func (h *handler) deleteByID(w http.ResponseWriter, r *http.Request) {
	n := 0
	if h.table().Delete(mux.Vars(r)["id"]) {
		n = 1
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": n})
}

func (h *handler) updateAll(w http.ResponseWriter, r *http.Request) {
	where, err := parseWhere(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	data, err := decodeBody(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	t := h.table()
	matched := filterRows(t.Values(), where)
	for _, row := range matched {
		t.Set(key(row[t.idProp]), merge(row, data, t.idProp))
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(matched)})
}

// =============================================================================
// Idempotent writes
// =============================================================================

func (h *handler) upsert(w http.ResponseWriter, r *http.Request) {
	data, err := decodeBody(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	t := h.table()
	if id, ok := data[t.idProp]; ok && id != nil {
		if existing, found := t.get(key(id)); found {
			updated := merge(existing, data, t.idProp)
			t.Set(key(id), updated)
			writeJSON(w, http.StatusOK, updated)
			return
		}
	}
	if !h.validate(w, data, false) {
		return
	}
	writeJSON(w, http.StatusOK, t.insert(data))
}

func (h *handler) replaceOrCreate(w http.ResponseWriter, r *http.Request) {
	data, err := decodeBody(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	if !h.validate(w, data, false) {
		return
	}
	t := h.table()
	if id, ok := data[t.idProp]; ok && id != nil {
		if _, found := t.Get(key(id)); found {
			t.Set(key(id), data)
			writeJSON(w, http.StatusOK, data)
			return
		}
	}
	writeJSON(w, http.StatusOK, t.insert(data))
}

func (h *handler) replaceByID(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	t := h.table()
	existing, ok := t.Get(id)
	if !ok {
		notFound(w, h.name, id)
		return
	}
	data, err := decodeBody(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	if !h.validate(w, data, false) {
		return
	}
	data[t.idProp] = existing[t.idProp]
	t.Set(id, data)
	writeJSON(w, http.StatusOK, data)
}

func (h *handler) upsertWithWhere(w http.ResponseWriter, r *http.Request) {
	where, err := parseWhere(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	data, err := decodeBody(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	t := h.table()
	matched := filterRows(t.Values(), where)
	switch len(matched) {
	case 0:
		if !h.validate(w, data, false) {
			return
		}
		writeJSON(w, http.StatusOK, t.insert(data))
	case 1:
		updated := merge(matched[0], data, t.idProp)
		t.Set(key(updated[t.idProp]), updated)
		writeJSON(w, http.StatusOK, updated)
	default:
		WriteError(w, http.StatusBadRequest, "Error", "",
			"There are multiple instances found. Upsert Operation will not be performed!", nil)
	}
}

func (h *handler) updateAttributes(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	t := h.table()
	existing, ok := t.get(id)
	if !ok {
		notFound(w, h.name, id)
		return
	}
	data, err := decodeBody(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	updated := merge(existing, data, t.idProp)
	t.Set(id, updated)
	writeJSON(w, http.StatusOK, updated)
}

// =============================================================================
// Relations
// =============================================================================

func (h *handler) relation(w http.ResponseWriter, r *http.Request) (model.Relation, Row, bool) {
	vars := mux.Vars(r)
	rel, ok := h.desc().Relation(vars["rel"])
	if !ok {
		WriteError(w, http.StatusNotFound, "Error", "", "Shared class \""+h.name+"\" has no method handling "+r.Method+" "+r.URL.Path, nil)
		return rel, nil, false
	}
	parent, ok := h.table().get(vars["id"])
	if !ok {
		notFound(w, h.name, vars["id"])
		return rel, nil, false
	}
	return rel, parent, true
}

func (h *handler) getRelated(w http.ResponseWriter, r *http.Request) {
	rel, parent, ok := h.relation(w, r)
	if !ok {
		return
	}
	f, err := parseFilter(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	rows := h.s.related(h.desc(), rel, parent)
	target := rel.TargetFor(parent)
	if rel.Kind.ToMany() {
		writeJSON(w, http.StatusOK, h.s.query(target, rows, f))
		return
	}
	if len(rows) == 0 {
		WriteError(w, http.StatusNotFound, "Error", "MODEL_NOT_FOUND", "No instance with relation \""+rel.Name+"\" found.", nil)
		return
	}
	f.Where = nil
	writeJSON(w, http.StatusOK, h.s.query(target, rows[:1], f)[0])
}

func (h *handler) countRelated(w http.ResponseWriter, r *http.Request) {
	rel, parent, ok := h.relation(w, r)
	if !ok {
		return
	}
	where, err := parseWhere(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	rows := filterRows(h.s.related(h.desc(), rel, parent), where)
	writeJSON(w, http.StatusOK, map[string]any{"count": len(rows)})
}

func (h *handler) createRelated(w http.ResponseWriter, r *http.Request) {
	rel, parent, ok := h.relation(w, r)
	if !ok {
		return
	}
	data, err := decodeBody(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	created, err := h.s.createRelated(h.desc(), rel, parent, data)
	if err != nil {
		badRequest(w, err)
		return
	}
	writeJSON(w, http.StatusOK, created)
}

// validate enforces required properties, and forceId on create.
func (h *handler) validate(w http.ResponseWriter, row Row, creating bool) bool {
	d := h.desc()
	codes := make(map[string]string)
	for _, p := range d.Properties {
		if p.Required && !p.ID {
			if v, ok := row[p.Name]; !ok || v == nil || v == "" {
				codes[p.Name] = "presence"
			}
		}
	}
	if creating && d.Options.ForceID {
		if v, ok := row[d.IDProperty()]; ok && v != nil {
			codes[d.IDProperty()] = "absence"
		}
	}
	if len(codes) == 0 {
		return true
	}
	validationFailed(w, h.name, codes)
	return false
}

// =============================================================================
// Query evaluation
// =============================================================================

func filterRows(rows []Row, where map[string]any) []Row {
	out := make([]Row, 0, len(rows))
	for _, row := range rows {
		if matches(row, where) {
			out = append(out, row)
		}
	}
	return out
}

// query applies f to rows of modelName and renders the result, with
// included relations, as plain objects.
func (s *Server) query(modelName string, rows []Row, f *model.Filter) []map[string]any {
	if f == nil {
		f = &model.Filter{}
	}
	rows = filterRows(rows, map[string]any(f.Where))
	sortRows(rows, f.Order)
	if f.Skip > 0 {
		if f.Skip >= len(rows) {
			rows = nil
		} else {
			rows = rows[f.Skip:]
		}
	}
	if f.Limit > 0 && len(rows) > f.Limit {
		rows = rows[:f.Limit]
	}

	d, _ := s.descriptor(modelName)
	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		obj := project(row, f.Fields)
		for _, inc := range f.Include {
			rel, ok := d.Relation(inc.Relation)
			if !ok {
				continue
			}
			related := s.query(rel.TargetFor(row), s.related(d, rel, row), inc.Scope)
			if rel.Kind.ToMany() {
				obj[rel.Name] = related
			} else if len(related) > 0 {
				obj[rel.Name] = related[0]
			} else {
				obj[rel.Name] = nil
			}
		}
		out = append(out, obj)
	}
	return out
}

func project(row Row, fields map[string]bool) map[string]any {
	out := make(map[string]any, len(row))
	only := false
	for _, keep := range fields {
		if keep {
			only = true
		}
	}
	for k, v := range row {
		if keep, listed := fields[k]; listed && !keep {
			continue
		}
		if only && !fields[k] {
			continue
		}
		out[k] = v
	}
	return out
}

// related returns the rows reachable from parent through rel.
func (s *Server) related(d model.Descriptor, rel model.Relation, parent Row) []Row {
	parentID := parent[d.IDProperty()]

	switch rel.Kind {
	case model.BelongsTo:
		target := s.table(rel.TargetFor(parent))
		if target == nil {
			return nil
		}
		fk := rel.ForeignKey
		if fk == "" {
			fk = rel.Name + "Id"
		}
		if row, ok := target.get(key(parent[fk])); ok && parent[fk] != nil {
			return []Row{row}
		}
		return nil

	case model.HasMany, model.HasOne:
		target := s.table(rel.Model)
		if target == nil {
			return nil
		}
		return filterRows(target.Values(), map[string]any{parentKey(d, rel): parentID})

	case model.HasManyThrough, model.HasAndBelongsToMany:
		if rel.Through == "" {
			return s.related(d, model.Relation{Name: rel.Name, Kind: model.HasMany, Model: rel.Model, ForeignKey: rel.ForeignKey}, parent)
		}
		through, target := s.table(rel.Through), s.table(rel.Model)
		if through == nil || target == nil {
			return nil
		}
		var out []Row
		for _, link := range filterRows(through.Values(), map[string]any{parentKey(d, rel): parentID}) {
			if row, ok := target.get(key(link[lowerFirst(rel.Model)+"Id"])); ok {
				out = append(out, row)
			}
		}
		return out

	case model.ReferencesMany:
		target := s.table(rel.Model)
		if target == nil {
			return nil
		}
		ids, _ := parent[referencesKey(rel)].([]any)
		var out []Row
		for _, id := range ids {
			if row, ok := target.get(key(id)); ok {
				out = append(out, row)
			}
		}
		return out

	case model.EmbedsOne:
		if m, ok := parent[rel.Name].(map[string]any); ok {
			return []Row{Row(m)}
		}
		return nil

	case model.EmbedsMany:
		items, _ := parent[rel.Name].([]any)
		out := make([]Row, 0, len(items))
		for _, item := range items {
			if m, ok := item.(map[string]any); ok {
				out = append(out, Row(m))
			}
		}
		return out
	}
	return nil
}

func (s *Server) createRelated(d model.Descriptor, rel model.Relation, parent Row, data Row) (Row, error) {
	parentID := parent[d.IDProperty()]
	owner := s.table(d.Name)

	switch rel.Kind {
	case model.HasMany, model.HasOne:
		target := s.table(rel.Model)
		if target == nil {
			return nil, errors.New("unknown model " + rel.Model)
		}
		data[parentKey(d, rel)] = parentID
		return target.insert(data), nil

	case model.HasManyThrough, model.HasAndBelongsToMany:
		target := s.table(rel.Model)
		if target == nil {
			return nil, errors.New("unknown model " + rel.Model)
		}
		if rel.Through == "" {
			data[parentKey(d, rel)] = parentID
			return target.insert(data), nil
		}
		created := target.insert(data)
		if through := s.table(rel.Through); through != nil {
			link := Row{parentKey(d, rel): parentID}
			link[lowerFirst(rel.Model)+"Id"] = created[target.idProp]
			through.insert(link)
		}
		return created, nil

	case model.ReferencesMany:
		target := s.table(rel.Model)
		if target == nil {
			return nil, errors.New("unknown model " + rel.Model)
		}
		created := target.insert(data)
		fk := referencesKey(rel)
		ids, _ := parent[fk].([]any)
		parent[fk] = append(ids, created[target.idProp])
		owner.Set(key(parentID), parent)
		return created, nil

	case model.EmbedsMany:
		items, _ := parent[rel.Name].([]any)
		parent[rel.Name] = append(items, map[string]any(data))
		owner.Set(key(parentID), parent)
		return data, nil
	}
	return nil, errors.New("relation " + rel.Name + " does not support create")
}

func parentKey(d model.Descriptor, rel model.Relation) string {
	if rel.ForeignKey != "" {
		return rel.ForeignKey
	}
	return lowerFirst(d.Name) + "Id"
}

func referencesKey(rel model.Relation) string {
	if rel.ForeignKey != "" {
		return rel.ForeignKey
	}
	return lowerFirst(rel.Model) + "Ids"
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToLower(r[0])
	return string(r)
}

// merge returns base updated with data; the id never changes.
func merge(base, data Row, idProp string) Row {
	out := base.clone()
	for k, v := range data {
		if k == idProp {
			continue
		}
		out[k] = v
	}
	return out
}
