package query

import (
	"testing"

	"github.com/kartikbazzad/ldbstore/internal/document"
)

func ageRecord(id string, age float64) document.Record {
	return rec(map[string]interface{}{"id": id, "age": age})
}

func TestSortAscending(t *testing.T) {
	records := []document.Record{ageRecord("1", 30), ageRecord("2", 10), ageRecord("3", 20)}
	sorted := Sort(records, []SortField{{Field: "age", Direction: Asc}}, AlgoDefault, 0.1, 1000)
	want := []string{"2", "3", "1"}
	for i, id := range want {
		got, _ := sorted[i].IDString()
		if got != id {
			t.Errorf("position %d: got %s, want %s", i, got, id)
		}
	}
}

func TestSortDescending(t *testing.T) {
	records := []document.Record{ageRecord("1", 30), ageRecord("2", 10)}
	sorted := Sort(records, []SortField{{Field: "age", Direction: Desc}}, AlgoMerge, 0.1, 1000)
	got, _ := sorted[0].IDString()
	if got != "1" {
		t.Errorf("expected record 1 first in descending order, got %s", got)
	}
}

func TestSortEveryAlgorithmAgrees(t *testing.T) {
	records := []document.Record{ageRecord("1", 5), ageRecord("2", 3), ageRecord("3", 9), ageRecord("4", 7)}
	field := []SortField{{Field: "age", Direction: Asc}}
	algos := []Algorithm{AlgoDefault, AlgoCounting, AlgoMerge, AlgoFast, AlgoSlow}
	var want []string
	for _, algo := range algos {
		cp := append([]document.Record(nil), records...)
		sorted := Sort(cp, field, algo, 0.1, 1000)
		ids := make([]string, len(sorted))
		for i, r := range sorted {
			ids[i], _ = r.IDString()
		}
		if want == nil {
			want = ids
			continue
		}
		if len(ids) != len(want) {
			t.Fatalf("algorithm %s produced a different length result", algo)
		}
		for i := range ids {
			if ids[i] != want[i] {
				t.Errorf("algorithm %s disagreed with baseline at position %d: got %s, want %s", algo, i, ids[i], want[i])
			}
		}
	}
}

func TestPaginate(t *testing.T) {
	records := []document.Record{ageRecord("1", 1), ageRecord("2", 2), ageRecord("3", 3)}
	page := Paginate(records, 1, 1)
	if len(page) != 1 {
		t.Fatalf("expected 1 record, got %d", len(page))
	}
	id, _ := page[0].IDString()
	if id != "2" {
		t.Errorf("expected record 2, got %s", id)
	}
}

func TestPaginateSkipBeyondLength(t *testing.T) {
	records := []document.Record{ageRecord("1", 1)}
	page := Paginate(records, 5, 10)
	if len(page) != 0 {
		t.Errorf("expected empty page, got %d records", len(page))
	}
}
