package query

import (
	"testing"

	"github.com/kartikbazzad/ldbstore/internal/document"
)

func rec(fields map[string]interface{}) document.Record {
	v := document.FromRaw(fields)
	obj, _ := v.Object()
	return obj
}

func TestApplyBareEquality(t *testing.T) {
	records := []document.Record{
		rec(map[string]interface{}{"id": "1", "status": "active"}),
		rec(map[string]interface{}{"id": "2", "status": "closed"}),
	}
	matched := Apply(records, map[string]interface{}{"status": "active"})
	if len(matched) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matched))
	}
	if id, _ := matched[0].IDString(); id != "1" {
		t.Errorf("expected record 1, got %s", id)
	}
}

func TestApplyOperators(t *testing.T) {
	records := []document.Record{
		rec(map[string]interface{}{"id": "1", "age": float64(20)}),
		rec(map[string]interface{}{"id": "2", "age": float64(40)}),
		rec(map[string]interface{}{"id": "3", "age": float64(60)}),
	}
	matched := Apply(records, map[string]interface{}{"age": map[string]interface{}{"$gte": float64(40)}})
	if len(matched) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matched))
	}
}

func TestApplyAndOr(t *testing.T) {
	records := []document.Record{
		rec(map[string]interface{}{"id": "1", "status": "active", "age": float64(20)}),
		rec(map[string]interface{}{"id": "2", "status": "active", "age": float64(60)}),
		rec(map[string]interface{}{"id": "3", "status": "closed", "age": float64(60)}),
	}
	filter := map[string]interface{}{
		"$or": []interface{}{
			map[string]interface{}{"status": "closed"},
			map[string]interface{}{"age": map[string]interface{}{"$lt": float64(30)}},
		},
	}
	matched := Apply(records, filter)
	if len(matched) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matched))
	}
}

func TestOperatorNodeMissingFieldNin(t *testing.T) {
	n := OperatorNode{Field: "missing", Op: "$nin", Operand: []interface{}{"a", "b"}}
	if !n.Eval(rec(map[string]interface{}{"id": "1"})) {
		t.Errorf("$nin against a missing field should evaluate true")
	}
}

func TestEmptyFilterMatchesEverything(t *testing.T) {
	records := []document.Record{rec(map[string]interface{}{"id": "1"})}
	matched := Apply(records, map[string]interface{}{})
	if len(matched) != 1 {
		t.Errorf("empty filter should match every record")
	}
}
