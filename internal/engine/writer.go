package engine

import (
	"github.com/kartikbazzad/ldbstore/internal/catalog"
	"github.com/kartikbazzad/ldbstore/internal/document"
	"github.com/kartikbazzad/ldbstore/internal/errs"
	"github.com/kartikbazzad/ldbstore/internal/query"
)

// modeOf returns the table's current storage mode, defaulting to single
// for tables the catalog has not yet seen (first write creates them).
func (e *Engine) modeOf(table string) catalog.Mode {
	if s, ok := e.Catalog.Get(table); ok {
		return s.Mode
	}
	return catalog.ModeSingle
}

// indexInsertAll indexes every record, stopping and rolling back at the
// first violation (spec.md §4.5/§8: a UNIQUE index rejects a duplicate
// loudly, so the write it belongs to must be refused rather than
// partially applied).
func (e *Engine) indexInsertAll(table string, records []document.Record) error {
	applied := make([]document.Record, 0, len(records))
	for _, rec := range records {
		if err := e.Index.OnInsert(table, rec); err != nil {
			for _, r := range applied {
				e.Index.OnDelete(table, r)
			}
			return err
		}
		applied = append(applied, rec)
	}
	return nil
}

// Insert appends records to a table, creating it first if absent.
func (e *Engine) Insert(table string, records []document.Record) error {
	if err := ValidateTableName(table); err != nil {
		return e.recordError(err)
	}
	lock := e.tableLock(table)
	lock.Lock()
	defer lock.Unlock()

	if err := e.indexInsertAll(table, records); err != nil {
		return e.recordError(err)
	}

	mode := e.modeOf(table)
	if mode == catalog.ModeChunked {
		if err := e.chunkedHandler(table).Append(records); err != nil {
			for _, rec := range records {
				e.Index.OnDelete(table, rec)
			}
			return e.recordError(err)
		}
	} else {
		existing, _, err := e.readAllSoft(table)
		if err != nil {
			for _, rec := range records {
				e.Index.OnDelete(table, rec)
			}
			return e.recordError(err)
		}
		combined := append(existing, records...)
		if err := e.singleHandler(table).Write(combined); err != nil {
			for _, rec := range records {
				e.Index.OnDelete(table, rec)
			}
			return e.recordError(err)
		}
	}

	e.Catalog.Update(table, func(s *catalog.TableSchema) {
		s.Mode = mode
		s.Count += len(records)
	})
	e.invalidateTable(table)
	return nil
}

// Overwrite replaces the entire contents of a table in one write.
func (e *Engine) Overwrite(table string, records []document.Record) error {
	if err := ValidateTableName(table); err != nil {
		return e.recordError(err)
	}
	lock := e.tableLock(table)
	lock.Lock()
	defer lock.Unlock()

	if err := e.Index.ValidateUnique(table, records); err != nil {
		return e.recordError(err)
	}

	mode := e.modeOf(table)
	if err := e.writeAll(table, mode, records); err != nil {
		return e.recordError(err)
	}

	e.Catalog.Update(table, func(s *catalog.TableSchema) {
		s.Mode = mode
		s.Count = len(records)
	})
	kinds := e.Index.IndexedFields(table)
	e.Index.DropTable(table)
	for field, kind := range kinds {
		if err := e.Index.CreateIndex(table, field, kind, records); err != nil {
			// unreachable: ValidateUnique already rejected any collision
			// in records, but surface it rather than silently dropping
			// the index definition if it ever does happen.
			return e.recordError(err)
		}
	}
	e.invalidateTable(table)
	return nil
}

// Write is the deprecated combined-mode shim: append by default,
// overwrite when mode requests it (spec.md §6 compatibility note).
func (e *Engine) Write(table string, records []document.Record, mode WriteMode) error {
	if mode == ModeOverwrite {
		return e.Overwrite(table, records)
	}
	return e.Insert(table, records)
}

// Update applies mutate to every record matching filter, rewriting the
// table via read-mutate-writeback (spec.md §4.8). Returns the number of
// records updated.
func (e *Engine) Update(table string, filter interface{}, mutate func(document.Record) document.Record) (int, error) {
	lock := e.tableLock(table)
	lock.Lock()
	defer lock.Unlock()

	records, mode, err := e.readAllStrict(table)
	if err != nil {
		return 0, e.recordError(err)
	}

	node := query.Plan(filter)
	type change struct{ old, new document.Record }
	var applied []change
	updated := 0
	for i, rec := range records {
		if !node.Eval(rec) {
			continue
		}
		newRec := mutate(rec.Clone())
		if err := e.Index.OnUpdate(table, rec, newRec); err != nil {
			e.Index.OnDelete(table, newRec)
			_ = e.Index.OnInsert(table, rec)
			for _, c := range applied {
				e.Index.OnUpdate(table, c.new, c.old)
			}
			return 0, e.recordError(err)
		}
		applied = append(applied, change{old: rec, new: newRec})
		records[i] = newRec
		updated++
	}

	if updated == 0 {
		return 0, nil
	}

	if err := e.writeAll(table, mode, records); err != nil {
		for _, c := range applied {
			e.Index.OnUpdate(table, c.new, c.old)
		}
		return 0, e.recordError(err)
	}
	e.Catalog.Update(table, func(s *catalog.TableSchema) {})
	e.invalidateTable(table)
	return updated, nil
}

// Delete removes every record matching filter (an empty filter matches
// everything, per spec.md's empty-AndNode convention).
func (e *Engine) Delete(table string, filter interface{}) (int, error) {
	lock := e.tableLock(table)
	lock.Lock()
	defer lock.Unlock()

	records, mode, err := e.readAllStrict(table)
	if err != nil {
		return 0, e.recordError(err)
	}

	node := query.Plan(filter)
	kept := make([]document.Record, 0, len(records))
	removed := 0
	for _, rec := range records {
		if node.Eval(rec) {
			e.Index.OnDelete(table, rec)
			removed++
			continue
		}
		kept = append(kept, rec)
	}
	if removed == 0 {
		return 0, nil
	}

	if err := e.writeAll(table, mode, kept); err != nil {
		return 0, e.recordError(err)
	}
	e.Catalog.Update(table, func(s *catalog.TableSchema) {
		s.Count = len(kept)
	})
	e.invalidateTable(table)
	return removed, nil
}

// ClearTable removes every record but keeps the catalog entry and mode.
func (e *Engine) ClearTable(table string) error {
	_, err := e.Delete(table, map[string]interface{}{})
	return err
}

// BulkWrite applies a mixed sequence of insert/update/delete operations
// as one read-mutate-writeback cycle per table touched (spec.md §4.8).
func (e *Engine) BulkWrite(table string, ops []BulkOp) (BulkResult, error) {
	lock := e.tableLock(table)
	lock.Lock()
	defer lock.Unlock()

	records, mode, err := e.readAllSoft(table)
	if err != nil {
		return BulkResult{}, e.recordError(err)
	}

	var result BulkResult
	var undos []func()
	rollback := func() {
		for i := len(undos) - 1; i >= 0; i-- {
			undos[i]()
		}
	}

	for _, op := range ops {
		switch op.Type {
		case BulkInsert:
			rec, ok := op.Data.(document.Record)
			if !ok {
				rollback()
				return BulkResult{}, e.recordError(errs.New(errs.DataIncomplete, "bulk insert requires a document.Record"))
			}
			if err := e.Index.OnInsert(table, rec); err != nil {
				rollback()
				return BulkResult{}, e.recordError(err)
			}
			records = append(records, rec)
			undos = append(undos, func() { e.Index.OnDelete(table, rec) })
			result.Written++
		case BulkUpdate:
			patch, ok := op.Data.(document.Record)
			if !ok {
				rollback()
				return BulkResult{}, e.recordError(errs.New(errs.DataIncomplete, "bulk update requires a document.Record"))
			}
			node := query.Plan(op.Where)
			for i, rec := range records {
				if !node.Eval(rec) {
					continue
				}
				merged := mergeRecord(rec.Clone(), patch)
				if err := e.Index.OnUpdate(table, rec, merged); err != nil {
					e.Index.OnDelete(table, merged)
					_ = e.Index.OnInsert(table, rec)
					rollback()
					return BulkResult{}, e.recordError(err)
				}
				old, newRec := rec, merged
				undos = append(undos, func() { e.Index.OnUpdate(table, newRec, old) })
				records[i] = merged
				result.Updated++
			}
		case BulkDelete:
			node := query.Plan(op.Where)
			kept := records[:0:0]
			for _, rec := range records {
				if node.Eval(rec) {
					e.Index.OnDelete(table, rec)
					r := rec
					undos = append(undos, func() { e.Index.OnInsert(table, r) })
					result.Deleted++
					continue
				}
				kept = append(kept, rec)
			}
			records = kept
		}
	}

	if err := e.writeAll(table, mode, records); err != nil {
		rollback()
		return BulkResult{}, e.recordError(err)
	}
	e.Catalog.Update(table, func(s *catalog.TableSchema) {
		s.Mode = mode
		s.Count = len(records)
	})
	e.invalidateTable(table)
	return result, nil
}

// mergeRecord applies a bulk update's patch to base, honoring the
// plain-replacement-or-operator-object contract (spec.md §4.9).
func mergeRecord(base, patch document.Record) document.Record {
	return document.ApplyUpdate(base, patch)
}
