// Package encrypted implements the Encrypted Adapter (spec.md §4.12): a
// decorator that owns an inner *engine.Engine, encrypting on write and
// decrypting on read, with a small per-table plaintext cache
// invalidated on every write. Grounded on docdb's general
// collaborator-holding-collaborator composition style (LogicalDB wraps
// lower layers) generalized into a decorator. Adapter is a concrete
// type; it shares no interface with *engine.Engine, its method set
// differs (CreateTable takes an extra whole-table flag), and
// pkg/client picks one or the other per call.
package encrypted

import (
	"encoding/json"
	"sync"

	"github.com/kartikbazzad/ldbstore/internal/catalog"
	"github.com/kartikbazzad/ldbstore/internal/crypto"
	"github.com/kartikbazzad/ldbstore/internal/document"
	"github.com/kartikbazzad/ldbstore/internal/engine"
	"github.com/kartikbazzad/ldbstore/internal/errs"
	"github.com/kartikbazzad/ldbstore/internal/query"
)

const wholeTableField = "__enc"

// Adapter decorates an *engine.Engine, encrypting records on the way to
// disk and decrypting them on the way out.
type Adapter struct {
	inner *engine.Engine
	c     *crypto.Cipher
	keys  *crypto.SessionKeyHolder

	mu            sync.RWMutex
	plaintext     map[string][]document.Record // table -> decrypted cache
	encryptedFull map[string]bool              // table -> whole-table mode
	fields        map[string][]string          // table -> field-level fields
}

func New(inner *engine.Engine, c *crypto.Cipher, keys *crypto.SessionKeyHolder) *Adapter {
	return &Adapter{
		inner:         inner,
		c:             c,
		keys:          keys,
		plaintext:     make(map[string][]document.Record),
		encryptedFull: make(map[string]bool),
		fields:        make(map[string][]string),
	}
}

func (a *Adapter) invalidate(table string) {
	a.mu.Lock()
	delete(a.plaintext, table)
	a.mu.Unlock()
}

func (a *Adapter) modeFor(table string) (wholeTable bool, fields []string) {
	if schema, ok := a.inner.Catalog.Get(table); ok {
		return schema.EncryptFullTable, schema.EncryptedFields
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.encryptedFull[table], a.fields[table]
}

// CreateTable wires encryption mode from options into the catalog
// before delegating table creation (spec.md §6 createTable).
func (a *Adapter) CreateTable(table string, opts engine.CreateOptions, encryptFullTable bool) error {
	key, err := a.keys.Key()
	if err != nil {
		return err
	}

	if encryptFullTable {
		encoded, err := a.encryptWholeTable(key, opts.InitialData)
		if err != nil {
			return err
		}
		opts.InitialData = []document.Record{encoded}
	} else if len(opts.EncryptedFields) > 0 {
		encoded, err := a.encryptFields(key, opts.InitialData, opts.EncryptedFields)
		if err != nil {
			return err
		}
		opts.InitialData = encoded
	}

	if err := a.inner.CreateTable(table, opts); err != nil {
		return err
	}
	a.inner.Catalog.Update(table, func(s *catalog.TableSchema) {
		s.EncryptFullTable = encryptFullTable
		s.EncryptedFields = opts.EncryptedFields
	})
	a.mu.Lock()
	a.encryptedFull[table] = encryptFullTable
	a.fields[table] = opts.EncryptedFields
	a.mu.Unlock()
	return nil
}

func (a *Adapter) DeleteTable(table string) error {
	a.invalidate(table)
	return a.inner.DeleteTable(table)
}

func (a *Adapter) HasTable(table string) bool { return a.inner.HasTable(table) }

func (a *Adapter) ListTables() []string { return a.inner.ListTables() }

// Read decrypts the underlying table (via a small plaintext cache) then
// applies filter/sort/paginate after decryption, since encrypted fields
// are never searchable (spec.md §4.12).
func (a *Adapter) Read(table string, opts engine.ReadOptions) ([]document.Record, error) {
	records, err := a.decryptedTable(table)
	if err != nil {
		return nil, err
	}
	matched := query.Apply(records, opts.Filter)
	if len(opts.SortBy) > 0 {
		fields := make([]query.SortField, len(opts.SortBy))
		for i, f := range opts.SortBy {
			dir := query.Asc
			if i < len(opts.Order) {
				dir = opts.Order[i]
			}
			fields[i] = query.SortField{Field: f, Direction: dir}
		}
		matched = query.Sort(matched, fields, opts.SortAlgorithm, 0.1, 1000)
	}
	return query.Paginate(matched, opts.Skip, opts.Limit), nil
}

func (a *Adapter) decryptedTable(table string) ([]document.Record, error) {
	a.mu.RLock()
	if cached, ok := a.plaintext[table]; ok {
		a.mu.RUnlock()
		return cached, nil
	}
	a.mu.RUnlock()

	raw, err := a.inner.Read(table, engine.ReadOptions{BypassCache: true})
	if err != nil {
		return nil, err
	}

	key, err := a.keys.Key()
	if err != nil {
		return nil, err
	}

	decrypted, err := a.decryptRecords(key, table, raw)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.plaintext[table] = decrypted
	a.mu.Unlock()
	return decrypted, nil
}

func (a *Adapter) decryptRecords(key, table string, raw []document.Record) ([]document.Record, error) {
	wholeTable, fields := a.modeFor(table)
	if len(raw) == 1 {
		if v, ok := raw[0].Get(wholeTableField); ok && v.Kind() == document.KindString {
			return a.decryptWholeTable(key, v)
		}
	}
	if !wholeTable && len(fields) == 0 {
		return raw, nil
	}
	out := make([]document.Record, len(raw))
	for i, rec := range raw {
		decoded, err := a.decryptRecordFields(key, rec, fields)
		if err != nil {
			return nil, err
		}
		out[i] = decoded
	}
	return out, nil
}

func (a *Adapter) decryptWholeTable(key string, v document.Value) ([]document.Record, error) {
	plaintext, err := a.c.Decrypt(key, v.Raw().(string))
	if err != nil {
		return nil, err
	}
	var raws []map[string]interface{}
	if err := json.Unmarshal(plaintext, &raws); err != nil {
		return nil, errs.Wrap(errs.DecryptFailed, "unmarshal whole-table payload", err)
	}
	out := make([]document.Record, len(raws))
	for i, m := range raws {
		rec := make(document.Record, len(m))
		for k, v := range m {
			rec[k] = document.FromRaw(v)
		}
		out[i] = rec
	}
	return out, nil
}

func (a *Adapter) decryptRecordFields(key string, rec document.Record, fields []string) (document.Record, error) {
	targets := fields
	if len(targets) == 0 {
		targets = keysOf(rec)
	}
	out := rec.Clone()
	for _, field := range targets {
		v, ok := rec.Get(field)
		if !ok || v.Kind() != document.KindString {
			continue
		}
		wrapped, ok := v.Raw().(string)
		if !ok {
			continue
		}
		plaintext, err := a.c.Decrypt(key, wrapped)
		if err != nil {
			return nil, err
		}
		var decoded interface{}
		if err := json.Unmarshal(plaintext, &decoded); err != nil {
			return nil, errs.Wrap(errs.DecryptFailed, "unmarshal field payload", err)
		}
		out[field] = document.FromRaw(decoded)
	}
	return out, nil
}

func recordToMap(rec document.Record) map[string]interface{} {
	out := make(map[string]interface{}, len(rec))
	for k, v := range rec {
		out[k] = v.Raw()
	}
	return out
}

func keysOf(rec document.Record) []string {
	out := make([]string, 0, len(rec))
	for k := range rec {
		if k != "id" {
			out = append(out, k)
		}
	}
	return out
}

func (a *Adapter) encryptWholeTable(key string, records []document.Record) (document.Record, error) {
	raws := make([]map[string]interface{}, len(records))
	for i, r := range records {
		raws[i] = recordToMap(r)
	}
	plaintext, err := json.Marshal(raws)
	if err != nil {
		return nil, errs.Wrap(errs.EncryptFailed, "marshal whole-table payload", err)
	}
	wrapped, err := a.c.Encrypt(key, plaintext)
	if err != nil {
		return nil, err
	}
	return document.Record{wholeTableField: document.String(wrapped)}, nil
}

func (a *Adapter) encryptFields(key string, records []document.Record, fields []string) ([]document.Record, error) {
	out := make([]document.Record, len(records))
	for i, rec := range records {
		encoded := rec.Clone()
		targets := fields
		if len(targets) == 0 {
			targets = keysOf(rec)
		}
		for _, field := range targets {
			v, ok := rec.Get(field)
			if !ok {
				continue
			}
			raw, err := json.Marshal(v.Raw())
			if err != nil {
				return nil, errs.Wrap(errs.EncryptFailed, "marshal field payload", err)
			}
			wrapped, err := a.c.Encrypt(key, raw)
			if err != nil {
				return nil, err
			}
			encoded[field] = document.String(wrapped)
		}
		out[i] = encoded
	}
	return out, nil
}

// Insert appends records, encrypting per the table's configured mode.
// Whole-table mode requires a read-decrypt-merge-re-encrypt-write cycle
// since append isn't possible against a single ciphertext blob
// (spec.md §4.12).
func (a *Adapter) Insert(table string, records []document.Record) error {
	wholeTable, fields := a.modeFor(table)
	key, err := a.keys.Key()
	if err != nil {
		return err
	}

	if wholeTable {
		existing, err := a.decryptedTable(table)
		if err != nil {
			return err
		}
		merged := append(existing, records...)
		encoded, err := a.encryptWholeTable(key, merged)
		if err != nil {
			return err
		}
		if err := a.inner.Overwrite(table, []document.Record{encoded}); err != nil {
			return err
		}
		a.invalidate(table)
		return nil
	}

	encoded, err := a.encryptFields(key, records, fields)
	if err != nil {
		return err
	}
	if err := a.inner.Insert(table, encoded); err != nil {
		return err
	}
	a.invalidate(table)
	return nil
}

// Overwrite replaces a table's contents under its configured encryption
// mode.
func (a *Adapter) Overwrite(table string, records []document.Record, opts ...bool) error {
	wholeTable, fields := a.modeFor(table)
	if len(opts) > 0 {
		wholeTable = opts[0]
	}
	key, err := a.keys.Key()
	if err != nil {
		return err
	}
	if wholeTable {
		encoded, err := a.encryptWholeTable(key, records)
		if err != nil {
			return err
		}
		if err := a.inner.Overwrite(table, []document.Record{encoded}); err != nil {
			return err
		}
		a.mu.Lock()
		a.encryptedFull[table] = true
		a.mu.Unlock()
		a.invalidate(table)
		return nil
	}
	encoded, err := a.encryptFields(key, records, fields)
	if err != nil {
		return err
	}
	if err := a.inner.Overwrite(table, encoded); err != nil {
		return err
	}
	a.invalidate(table)
	return nil
}

// Update decrypts, mutates in plaintext, re-encrypts, and writes back.
func (a *Adapter) Update(table string, filter interface{}, mutate func(document.Record) document.Record) (int, error) {
	records, err := a.decryptedTable(table)
	if err != nil {
		return 0, err
	}
	node := query.Plan(filter)
	updated := 0
	for i, rec := range records {
		if node.Eval(rec) {
			records[i] = mutate(rec.Clone())
			updated++
		}
	}
	if updated == 0 {
		return 0, nil
	}
	if err := a.Overwrite(table, records); err != nil {
		return 0, err
	}
	return updated, nil
}

// Delete decrypts, filters, re-encrypts the remainder, and writes back.
func (a *Adapter) Delete(table string, filter interface{}) (int, error) {
	records, err := a.decryptedTable(table)
	if err != nil {
		return 0, err
	}
	node := query.Plan(filter)
	kept := make([]document.Record, 0, len(records))
	removed := 0
	for _, rec := range records {
		if node.Eval(rec) {
			removed++
			continue
		}
		kept = append(kept, rec)
	}
	if removed == 0 {
		return 0, nil
	}
	if err := a.Overwrite(table, kept); err != nil {
		return 0, err
	}
	return removed, nil
}

func (a *Adapter) ClearTable(table string) error {
	_, err := a.Delete(table, map[string]interface{}{})
	return err
}

func (a *Adapter) Count(table string) (int, error) {
	records, err := a.decryptedTable(table)
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

func (a *Adapter) FindOne(table string, filter interface{}) (document.Record, bool, error) {
	records, err := a.Read(table, engine.ReadOptions{Filter: filter, Limit: 1})
	if err != nil {
		return nil, false, err
	}
	if len(records) == 0 {
		return nil, false, nil
	}
	return records[0], true, nil
}
