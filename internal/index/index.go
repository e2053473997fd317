// Package index implements the in-memory secondary-index manager
// (spec.md §4.5): per table, per field, a map from value to the set of
// matching record ids. Generalizes docdb's internal/docdb/index.go,
// which shards a single "docID -> MVCC version" map across a fixed
// number of sync.RWMutex-guarded shards; here nothing is sharded: each
// field's index is one map guarded by its own sync.RWMutex, and the
// value side is a field's distinct values rather than a document
// version, because this is a coarse secondary index, not row storage.
package index

import (
	"strconv"
	"sync"

	"github.com/kartikbazzad/ldbstore/internal/document"
	"github.com/kartikbazzad/ldbstore/internal/errs"
)

type Kind int

const (
	Normal Kind = iota
	Unique
)

// FieldIndex is one field's value -> id-set map for one table.
type FieldIndex struct {
	mu   sync.RWMutex
	kind Kind
	data map[string]map[string]struct{}
}

func newFieldIndex(kind Kind) *FieldIndex {
	return &FieldIndex{kind: kind, data: make(map[string]map[string]struct{})}
}

// valueKey renders a Value into a string index key. Only scalar kinds
// (string/number/bool) are indexable; arrays/objects/null are not, and
// ok is false for them.
func valueKey(v document.Value) (string, bool) {
	switch v.Kind() {
	case document.KindString:
		s, _ := v.String()
		return "s:" + s, true
	case document.KindNumber:
		n, _ := v.Number()
		return "n:" + strconv.FormatFloat(n, 'g', -1, 64), true
	case document.KindBool:
		b, _ := v.Bool()
		return "b:" + strconv.FormatBool(b), true
	default:
		return "", false
	}
}

// Add indexes one record's value for this field under id. Records
// without `id` are silently skipped by indexing (spec.md §4.5).
func (fi *FieldIndex) Add(id string, v document.Value) error {
	key, ok := valueKey(v)
	if !ok {
		return nil
	}
	fi.mu.Lock()
	defer fi.mu.Unlock()

	set, exists := fi.data[key]
	if fi.kind == Unique && exists {
		for existingID := range set {
			if existingID != id {
				return errs.New(errs.TableColumnInvalid, "unique index violation: duplicate value").
					WithDetail("key", key).WithDetail("existingID", existingID)
			}
		}
	}
	if !exists {
		set = make(map[string]struct{})
		fi.data[key] = set
	}
	set[id] = struct{}{}
	return nil
}

func (fi *FieldIndex) Remove(id string, v document.Value) {
	key, ok := valueKey(v)
	if !ok {
		return
	}
	fi.mu.Lock()
	defer fi.mu.Unlock()
	if set, exists := fi.data[key]; exists {
		delete(set, id)
		if len(set) == 0 {
			delete(fi.data, key)
		}
	}
}

// Lookup returns the ids recorded for an equality match on v.
func (fi *FieldIndex) Lookup(v document.Value) ([]string, bool) {
	key, ok := valueKey(v)
	if !ok {
		return nil, false
	}
	fi.mu.RLock()
	defer fi.mu.RUnlock()
	set, exists := fi.data[key]
	if !exists {
		return nil, false
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out, true
}

func (fi *FieldIndex) Size() int {
	fi.mu.RLock()
	defer fi.mu.RUnlock()
	n := 0
	for _, set := range fi.data {
		n += len(set)
	}
	return n
}

// TableIndexes holds every field index defined for one table.
type TableIndexes struct {
	mu     sync.RWMutex
	fields map[string]*FieldIndex
	kinds  map[string]Kind
}

func newTableIndexes() *TableIndexes {
	return &TableIndexes{fields: make(map[string]*FieldIndex), kinds: make(map[string]Kind)}
}

// Manager is the per-engine index registry: table -> TableIndexes.
// Indexes live only in memory and are never persisted. They are built
// by CreateIndex; nothing rebuilds them from data when an engine starts.
type Manager struct {
	mu     sync.RWMutex
	tables map[string]*TableIndexes
}

func NewManager() *Manager {
	return &Manager{tables: make(map[string]*TableIndexes)}
}

func (m *Manager) table(name string) *TableIndexes {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables[name]
	if !ok {
		t = newTableIndexes()
		m.tables[name] = t
	}
	return t
}

// CreateIndex registers a field index for a table. If records is
// non-nil, the index is immediately built from them.
func (m *Manager) CreateIndex(table, field string, kind Kind, records []document.Record) error {
	t := m.table(table)
	t.mu.Lock()
	if _, exists := t.fields[field]; exists {
		t.mu.Unlock()
		return nil
	}
	fi := newFieldIndex(kind)
	t.fields[field] = fi
	t.kinds[field] = kind
	t.mu.Unlock()

	for _, r := range records {
		idStr, ok := r.IDString()
		if !ok {
			continue
		}
		v, ok := r.Get(field)
		if !ok {
			continue
		}
		if err := fi.Add(idStr, v); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) DropIndex(table, field string) {
	t := m.table(table)
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.fields, field)
	delete(t.kinds, field)
}

func (m *Manager) DropTable(table string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tables, table)
}

// IndexedFields returns the field -> kind map currently indexed for a
// table.
func (m *Manager) IndexedFields(table string) map[string]Kind {
	t := m.table(table)
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]Kind, len(t.kinds))
	for k, v := range t.kinds {
		out[k] = v
	}
	return out
}

// OnInsert/OnDelete/OnUpdate maintain indexes from the write path.
func (m *Manager) OnInsert(table string, r document.Record) error {
	idStr, ok := r.IDString()
	if !ok {
		return nil
	}
	t := m.table(table)
	t.mu.RLock()
	defer t.mu.RUnlock()
	for field, fi := range t.fields {
		if v, ok := r.Get(field); ok {
			if err := fi.Add(idStr, v); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *Manager) OnDelete(table string, r document.Record) {
	idStr, ok := r.IDString()
	if !ok {
		return
	}
	t := m.table(table)
	t.mu.RLock()
	defer t.mu.RUnlock()
	for field, fi := range t.fields {
		if v, ok := r.Get(field); ok {
			fi.Remove(idStr, v)
		}
	}
}

func (m *Manager) OnUpdate(table string, old, updated document.Record) error {
	m.OnDelete(table, old)
	return m.OnInsert(table, updated)
}

// Lookup restricts a candidate set to the ids matching field == v for an
// indexed field, returning ok=false if the field is not indexed.
func (m *Manager) Lookup(table, field string, v document.Value) ([]string, bool) {
	t := m.table(table)
	t.mu.RLock()
	fi, exists := t.fields[field]
	t.mu.RUnlock()
	if !exists {
		return nil, false
	}
	return fi.Lookup(v)
}

// ValidateUnique reports a unique-index violation if any two records in
// records collide on a field currently registered as Unique for table.
// It checks only within records, not against the table's existing
// contents, so a caller that is about to replace a table's entire
// contents (e.g. Overwrite) can refuse the write up front without
// first mutating live index state (spec.md §4.5/§8).
func (m *Manager) ValidateUnique(table string, records []document.Record) error {
	t := m.table(table)
	t.mu.RLock()
	kinds := make(map[string]Kind, len(t.kinds))
	for field, kind := range t.kinds {
		kinds[field] = kind
	}
	t.mu.RUnlock()

	for field, kind := range kinds {
		if kind != Unique {
			continue
		}
		seen := make(map[string]string, len(records))
		for _, rec := range records {
			v, ok := rec.Get(field)
			if !ok {
				continue
			}
			key, ok := valueKey(v)
			if !ok {
				continue
			}
			idStr, _ := rec.IDString()
			if existingID, dup := seen[key]; dup && existingID != idStr {
				return errs.New(errs.TableColumnInvalid, "unique index violation: duplicate value").
					WithDetail("field", field).WithDetail("existingID", existingID)
			}
			seen[key] = idStr
		}
	}
	return nil
}

func (m *Manager) HasIndex(table, field string) bool {
	t := m.table(table)
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.fields[field]
	return ok
}
