package txn

import (
	"github.com/kartikbazzad/ldbstore/internal/document"
	"github.com/kartikbazzad/ldbstore/internal/engine"
	"github.com/kartikbazzad/ldbstore/internal/query"
)

// planFilter adapts query.Plan's Node into the plain predicate function
// this package's in-memory replay uses.
func planFilter(filter interface{}) func(document.Record) bool {
	node := query.Plan(filter)
	return node.Eval
}

// applyBulk replays a BulkOp sequence against an in-memory view the same
// way engine.BulkWrite replays it against disk, so the transaction's
// current view stays consistent with what commit will eventually write.
func applyBulk(view []document.Record, ops []engine.BulkOp) []document.Record {
	records := append([]document.Record(nil), view...)
	for _, o := range ops {
		switch o.Type {
		case engine.BulkInsert:
			if rec, ok := o.Data.(document.Record); ok {
				records = append(records, rec)
			}
		case engine.BulkUpdate:
			patch, ok := o.Data.(document.Record)
			if !ok {
				continue
			}
			node := planFilter(o.Where)
			for i, rec := range records {
				if node(rec) {
					records[i] = document.ApplyUpdate(rec.Clone(), patch)
				}
			}
		case engine.BulkDelete:
			node := planFilter(o.Where)
			kept := records[:0:0]
			for _, rec := range records {
				if !node(rec) {
					kept = append(kept, rec)
				}
			}
			records = kept
		}
	}
	return records
}
