package remotetest

import (
	"fmt"
	"math"
	"strconv"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is a generic in-memory store that remembers insertion order.
type MemoryStore[K comparable, V any] struct {
	mu    sync.RWMutex
	items map[K]V
	keys  []K
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore[K comparable, V any]() *MemoryStore[K, V] {
	return &MemoryStore[K, V]{items: make(map[K]V)}
}

// Set stores an item.
func (s *MemoryStore[K, V]) Set(key K, value V) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[key]; !ok {
		s.keys = append(s.keys, key)
	}
	s.items[key] = value
}

// Get retrieves an item.
func (s *MemoryStore[K, V]) Get(key K) (V, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.items[key]
	return v, ok
}

// Delete removes an item.
func (s *MemoryStore[K, V]) Delete(key K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[key]; !ok {
		return false
	}
	delete(s.items, key)
	for i, k := range s.keys {
		if k == key {
			s.keys = append(s.keys[:i], s.keys[i+1:]...)
			break
		}
	}
	return true
}

// Values returns all items in insertion order.
func (s *MemoryStore[K, V]) Values() []V {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]V, 0, len(s.keys))
	for _, k := range s.keys {
		out = append(out, s.items[k])
	}
	return out
}

// Count returns the number of items.
func (s *MemoryStore[K, V]) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Row is one stored model instance.
type Row map[string]any

func (r Row) clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// table holds the rows of one model and hands out ids.
type table struct {
	MemoryStore[string, Row]
	idProp  string
	uuidIDs bool

	seqMu sync.Mutex
	seq   int64
}

func newTable(idProp string, uuidIDs bool) *table {
	return &table{
		MemoryStore: MemoryStore[string, Row]{items: make(map[string]Row)},
		idProp:      idProp,
		uuidIDs:     uuidIDs,
	}
}

// nextID returns a fresh id, numeric unless the model uses string ids.
func (t *table) nextID() any {
	if t.uuidIDs {
		return uuid.NewString()
	}
	t.seqMu.Lock()
	defer t.seqMu.Unlock()
	t.seq++
	return float64(t.seq)
}

// observe keeps the sequence ahead of client-supplied numeric ids.
func (t *table) observe(id any) {
	f, ok := toFloat(id)
	if !ok {
		return
	}
	t.seqMu.Lock()
	defer t.seqMu.Unlock()
	if int64(f) > t.seq {
		t.seq = int64(f)
	}
}

// insert stores row, assigning an id when it has none.
func (t *table) insert(row Row) Row {
	id, ok := row[t.idProp]
	if !ok || id == nil {
		id = t.nextID()
		row[t.idProp] = id
	} else {
		t.observe(id)
	}
	t.Set(key(id), row)
	return row
}

func (t *table) get(id string) (Row, bool) {
	row, ok := t.Get(id)
	if !ok {
		return nil, false
	}
	return row.clone(), true
}

// key renders an id the way it appears in a URL path.
func key(id any) string {
	switch v := id.(type) {
	case string:
		return v
	case float64:
		if v == math.Trunc(v) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return fmt.Sprint(v)
	}
}
