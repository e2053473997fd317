package query

import (
	"testing"

	"github.com/kartikbazzad/ldbstore/internal/document"
)

func TestSumAvgMinMax(t *testing.T) {
	records := []interface{}{
		map[string]interface{}{"id": "1", "price": float64(10)},
		map[string]interface{}{"id": "2", "price": float64(30)},
		map[string]interface{}{"id": "3", "price": float64(20)},
	}
	recs := make([]document.Record, len(records))
	for i, r := range records {
		recs[i] = rec(r.(map[string]interface{}))
	}

	if got := Sum(recs, "price"); got != 60 {
		t.Errorf("Sum = %v, want 60", got)
	}
	if got := Avg(recs, "price"); got != 20 {
		t.Errorf("Avg = %v, want 20", got)
	}
	min, ok := Min(recs, "price")
	if !ok {
		t.Fatalf("Min should find a value")
	}
	if n, _ := min.Number(); n != 10 {
		t.Errorf("Min = %v, want 10", n)
	}
	max, ok := Max(recs, "price")
	if !ok {
		t.Fatalf("Max should find a value")
	}
	if n, _ := max.Number(); n != 30 {
		t.Errorf("Max = %v, want 30", n)
	}
}

func TestGroupByPreservesFirstSeenOrder(t *testing.T) {
	recs := []document.Record{
		rec(map[string]interface{}{"id": "1", "status": "open"}),
		rec(map[string]interface{}{"id": "2", "status": "closed"}),
		rec(map[string]interface{}{"id": "3", "status": "open"}),
	}
	groups := GroupBy(recs, []string{"status"})
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	if len(groups[0].Records) != 2 {
		t.Errorf("expected the first group (open) to have 2 records, got %d", len(groups[0].Records))
	}
	status, _ := groups[0].Key[0].String()
	if status != "open" {
		t.Errorf("expected first group to be 'open', got %s", status)
	}
}

func TestMinMaxEmptyInput(t *testing.T) {
	if _, ok := Min(nil, "price"); ok {
		t.Errorf("Min of no records should report not-found")
	}
	if _, ok := Max(nil, "price"); ok {
		t.Errorf("Max of no records should report not-found")
	}
}
