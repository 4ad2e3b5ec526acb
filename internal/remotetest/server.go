// Package remotetest provides an in-memory REST service that speaks the same
// model contract as a real remote model server, for use in package tests.
package remotetest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/remote_connector/remote/model"
	"github.com/R3E-Network/remote_connector/remote/transport"
)

// Request is one request observed by the server.
type Request struct {
	Method    string
	Path      string
	Query     string
	RequestID string
}

// Server is an in-memory model service on an httptest server.
type Server struct {
	*httptest.Server
	router *mux.Router

	mu        sync.RWMutex
	models    map[string]model.Descriptor
	tables    map[string]*table
	overrides map[string]http.HandlerFunc
	requests  []Request
}

// NewServer starts a server exposing descs. Call Close when done.
func NewServer(descs ...model.Descriptor) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		models:    make(map[string]model.Descriptor),
		tables:    make(map[string]*table),
		overrides: make(map[string]http.HandlerFunc),
	}
	for _, d := range descs {
		s.Define(d)
	}
	s.Server = httptest.NewServer(s.instrument(s.router))
	return s
}

// Define exposes a model. Models must be defined before they are queried.
func (s *Server) Define(d model.Descriptor) {
	s.mu.Lock()
	s.models[d.Name] = d
	idType := model.TypeNumber
	for _, p := range d.Properties {
		if p.ID {
			idType = p.Type
		}
	}
	s.tables[d.Name] = newTable(d.IDProperty(), idType == model.TypeString)
	s.mu.Unlock()

	h := &handler{s: s, name: d.Name}
	root := d.Root()
	item := root + "/{id}"
	r := s.router

	r.HandleFunc(root+"/count", h.count).Methods(http.MethodGet)
	r.HandleFunc(root+"/findOne", h.findOne).Methods(http.MethodGet)
	r.HandleFunc(root+"/update", h.updateAll).Methods(http.MethodPost)
	r.HandleFunc(root+"/replaceOrCreate", h.replaceOrCreate).Methods(http.MethodPost)
	r.HandleFunc(root+"/upsertWithWhere", h.upsertWithWhere).Methods(http.MethodPost)
	r.HandleFunc(item+"/exists", h.exists).Methods(http.MethodGet)
	r.HandleFunc(item+"/replace", h.replaceByID).Methods(http.MethodPost)
	r.HandleFunc(item+"/{rel}/count", h.countRelated).Methods(http.MethodGet)
	r.HandleFunc(item+"/{rel}", h.getRelated).Methods(http.MethodGet)
	r.HandleFunc(item+"/{rel}", h.createRelated).Methods(http.MethodPost)
	r.HandleFunc(item, h.findByID).Methods(http.MethodGet)
	r.HandleFunc(item, h.updateAttributes).Methods(http.MethodPatch, http.MethodPut)
	r.HandleFunc(item, h.deleteByID).Methods(http.MethodDelete)
	r.HandleFunc(root, h.find).Methods(http.MethodGet)
	r.HandleFunc(root, h.create).Methods(http.MethodPost)
	r.HandleFunc(root, h.upsert).Methods(http.MethodPatch, http.MethodPut)
}

// Handle overrides the response for method and path.
func (s *Server) Handle(method, path string, fn http.HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[method+" "+path] = fn
}

// Requests returns the number of requests served.
func (s *Server) Requests() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.requests)
}

// RequestsFor returns how many requests hit method and path.
func (s *Server) RequestsFor(method, path string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, r := range s.requests {
		if r.Method == method && r.Path == path {
			n++
		}
	}
	return n
}

// Log returns a copy of the observed requests.
func (s *Server) Log() []Request {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Request(nil), s.requests...)
}

// Reset forgets the observed requests.
func (s *Server) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = nil
}

// Seed stores row directly, bypassing HTTP, and returns it with its id.
func (s *Server) Seed(modelName string, row Row) Row {
	return s.table(modelName).insert(row.clone())
}

// Rows returns the stored rows of a model in insertion order.
func (s *Server) Rows(modelName string) []Row {
	t := s.table(modelName)
	if t == nil {
		return nil
	}
	return t.Values()
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, Request{
			Method:    r.Method,
			Path:      r.URL.Path,
			Query:     r.URL.RawQuery,
			RequestID: r.Header.Get(transport.RequestIDHeader),
		})
		override := s.overrides[r.Method+" "+r.URL.Path]
		s.mu.Unlock()

		if override != nil {
			override(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) table(name string) *table {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tables[name]
}

func (s *Server) descriptor(name string) (model.Descriptor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.models[name]
	return d, ok
}

// =============================================================================
// Responses
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteError writes an error in the envelope remote model servers use.
func WriteError(w http.ResponseWriter, status int, name, code, message string, details any) {
	body := map[string]any{
		"statusCode": status,
		"name":       name,
		"message":    message,
	}
	if code != "" {
		body["code"] = code
	}
	if details != nil {
		body["details"] = details
	}
	writeJSON(w, status, map[string]any{"error": body})
}

func notFound(w http.ResponseWriter, modelName, id string) {
	WriteError(w, http.StatusNotFound, "Error", "MODEL_NOT_FOUND",
		fmt.Sprintf("Unknown %q id %q.", modelName, id), nil)
}

func badRequest(w http.ResponseWriter, err error) {
	WriteError(w, http.StatusBadRequest, "Error", "", err.Error(), nil)
}

// validationFailed writes a 422 for the given property codes.
func validationFailed(w http.ResponseWriter, modelName string, codes map[string]string) {
	codeLists := make(map[string][]string, len(codes))
	messages := make(map[string][]string, len(codes))
	parts := make([]string, 0, len(codes))
	for prop, code := range codes {
		msg := "can't be blank"
		if code == "absence" {
			msg = "can't be set"
		}
		codeLists[prop] = []string{code}
		messages[prop] = []string{msg}
		parts = append(parts, fmt.Sprintf("`%s` %s", prop, msg))
	}
	WriteError(w, http.StatusUnprocessableEntity, "ValidationError", "",
		fmt.Sprintf("The `%s` instance is not valid. Details: %s.", modelName, strings.Join(parts, "; ")),
		map[string]any{"context": modelName, "codes": codeLists, "messages": messages})
}

// =============================================================================
// Request decoding
// =============================================================================

func decodeBody(r *http.Request) (Row, error) {
	var row Row
	if r.Body == nil {
		return Row{}, nil
	}
	if err := json.NewDecoder(r.Body).Decode(&row); err != nil {
		return nil, fmt.Errorf("invalid body: %w", err)
	}
	if row == nil {
		row = Row{}
	}
	return row, nil
}

func parseFilter(r *http.Request) (*model.Filter, error) {
	raw := r.URL.Query().Get("filter")
	if raw == "" {
		return &model.Filter{}, nil
	}
	var f model.Filter
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		return nil, fmt.Errorf("invalid filter: %w", err)
	}
	return &f, nil
}

func parseWhere(r *http.Request) (map[string]any, error) {
	raw := r.URL.Query().Get("where")
	if raw == "" {
		return nil, nil
	}
	var w map[string]any
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return nil, fmt.Errorf("invalid where: %w", err)
	}
	return w, nil
}
