package engine

import (
	"io"
	"os"
	"testing"

	"github.com/kartikbazzad/ldbstore/internal/catalog"
	"github.com/kartikbazzad/ldbstore/internal/config"
	"github.com/kartikbazzad/ldbstore/internal/document"
	"github.com/kartikbazzad/ldbstore/internal/errs"
	"github.com/kartikbazzad/ldbstore/internal/index"
	"github.com/kartikbazzad/ldbstore/internal/logger"
	"github.com/kartikbazzad/ldbstore/internal/metrics"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := config.TestConfig(t.TempDir())
	log := logger.New(io.Discard, logger.LevelError, "test")
	e, err := New(cfg, log, metrics.New())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func TestCreateReadDelete(t *testing.T) {
	e := newTestEngine(t)
	if err := e.CreateTable("users", CreateOptions{}); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	// repeat creation is a no-op (spec.md §4.3)
	if err := e.CreateTable("users", CreateOptions{}); err != nil {
		t.Fatalf("second CreateTable should be idempotent: %v", err)
	}

	rec := document.Record{"id": document.String("u1"), "name": document.String("ava")}
	if err := e.Insert("users", []document.Record{rec}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	records, err := e.Read("users", ReadOptions{})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}

	if err := e.DeleteTable("users"); err != nil {
		t.Fatalf("DeleteTable: %v", err)
	}
	if e.HasTable("users") {
		t.Errorf("table should no longer exist")
	}
	// repeat deletion is a no-op
	if err := e.DeleteTable("users"); err != nil {
		t.Fatalf("second DeleteTable should be idempotent: %v", err)
	}
}

func TestReadOnMissingTableIsSoft(t *testing.T) {
	e := newTestEngine(t)
	records, err := e.Read("ghost", ReadOptions{})
	if err != nil {
		t.Fatalf("Read on a missing table should be a soft call, got error: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("expected an empty slice, got %v", records)
	}

	found, ok, err := e.FindOne("ghost", nil)
	if err != nil {
		t.Fatalf("FindOne on a missing table should also be soft, got error: %v", err)
	}
	if ok || found != nil {
		t.Errorf("expected no match on a missing table")
	}
}

func TestCountOnMissingTableIsStrict(t *testing.T) {
	e := newTestEngine(t)
	if _, err := e.Count("ghost"); !errs.Is(err, errs.TableNotFound) {
		t.Errorf("expected Count on a missing table to raise TABLE_NOT_FOUND, got %v", err)
	}
	if _, err := e.VerifyCount("ghost"); !errs.Is(err, errs.TableNotFound) {
		t.Errorf("expected VerifyCount on a missing table to raise TABLE_NOT_FOUND, got %v", err)
	}
	if err := e.MigrateToChunked("ghost"); !errs.Is(err, errs.TableNotFound) {
		t.Errorf("expected MigrateToChunked on a missing table to raise TABLE_NOT_FOUND, got %v", err)
	}
}

func TestUpdateWithFilter(t *testing.T) {
	e := newTestEngine(t)
	if err := e.CreateTable("orders", CreateOptions{}); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	records := []document.Record{
		{"id": document.String("1"), "status": document.String("open")},
		{"id": document.String("2"), "status": document.String("open")},
		{"id": document.String("3"), "status": document.String("closed")},
	}
	if err := e.Insert("orders", records); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	n, err := e.Update("orders", map[string]interface{}{"status": "open"}, func(r document.Record) document.Record {
		r["status"] = document.String("shipped")
		return r
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 records updated, got %d", n)
	}

	shipped, err := e.Read("orders", ReadOptions{Filter: map[string]interface{}{"status": "shipped"}})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(shipped) != 2 {
		t.Errorf("expected 2 shipped orders, got %d", len(shipped))
	}
}

func TestBulkWriteUpdateAppliesOperatorPatch(t *testing.T) {
	e := newTestEngine(t)
	if err := e.CreateTable("carts", CreateOptions{}); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	records := []document.Record{
		{"id": document.String("1"), "qty": document.Number(2)},
		{"id": document.String("2"), "qty": document.Number(5)},
	}
	if err := e.Insert("carts", records); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	ops := []BulkOp{
		{
			Type:  BulkUpdate,
			Where: map[string]interface{}{"id": "1"},
			Data:  document.Record{"$inc": document.Object(document.Record{"qty": document.Number(3)})},
		},
	}
	res, err := e.BulkWrite("carts", ops)
	if err != nil {
		t.Fatalf("BulkWrite: %v", err)
	}
	if res.Updated != 1 {
		t.Fatalf("expected 1 record updated, got %d", res.Updated)
	}

	found, ok, err := e.FindOne("carts", map[string]interface{}{"id": "1"})
	if err != nil || !ok {
		t.Fatalf("FindOne: found=%v ok=%v err=%v", found, ok, err)
	}
	qty, _ := found["qty"].Number()
	if qty != 5 {
		t.Errorf("expected $inc to raise qty to 5, got %v", qty)
	}
}

func TestUniqueIndexRejectsDuplicateOnInsert(t *testing.T) {
	e := newTestEngine(t)
	if err := e.CreateTable("users", CreateOptions{}); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	first := document.Record{"id": document.String("1"), "email": document.String("a@x.com")}
	if err := e.Insert("users", []document.Record{first}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := e.Index.CreateIndex("users", "email", index.Unique, []document.Record{first}); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}

	dup := document.Record{"id": document.String("2"), "email": document.String("a@x.com")}
	if err := e.Insert("users", []document.Record{dup}); err == nil {
		t.Fatalf("expected a unique index violation, got nil")
	}

	records, err := e.Read("users", ReadOptions{BypassCache: true})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("expected the rejected insert to leave the table untouched, got %d records", len(records))
	}
}

func TestUniqueIndexRejectsDuplicateOnOverwrite(t *testing.T) {
	e := newTestEngine(t)
	if err := e.CreateTable("users", CreateOptions{}); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	seed := document.Record{"id": document.String("1"), "email": document.String("a@x.com")}
	if err := e.Insert("users", []document.Record{seed}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := e.Index.CreateIndex("users", "email", index.Unique, []document.Record{seed}); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}

	colliding := []document.Record{
		{"id": document.String("1"), "email": document.String("a@x.com")},
		{"id": document.String("2"), "email": document.String("a@x.com")},
	}
	if err := e.Overwrite("users", colliding); err == nil {
		t.Fatalf("expected a unique index violation, got nil")
	}

	records, err := e.Read("users", ReadOptions{BypassCache: true})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("expected the rejected overwrite to leave the table untouched, got %d records", len(records))
	}
}

func TestUniqueIndexRejectsDuplicateOnUpdate(t *testing.T) {
	e := newTestEngine(t)
	if err := e.CreateTable("users", CreateOptions{}); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	records := []document.Record{
		{"id": document.String("1"), "email": document.String("a@x.com")},
		{"id": document.String("2"), "email": document.String("b@x.com")},
	}
	if err := e.Insert("users", records); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := e.Index.CreateIndex("users", "email", index.Unique, records); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}

	_, err := e.Update("users", map[string]interface{}{"id": "2"}, func(r document.Record) document.Record {
		r["email"] = document.String("a@x.com")
		return r
	})
	if err == nil {
		t.Fatalf("expected a unique index violation, got nil")
	}

	found, ok, err := e.FindOne("users", map[string]interface{}{"id": "2"})
	if err != nil || !ok {
		t.Fatalf("FindOne: found=%v ok=%v err=%v", found, ok, err)
	}
	email, _ := found["email"].String()
	if email != "b@x.com" {
		t.Errorf("expected the rejected update to leave the record unchanged, got email=%q", email)
	}
}

func TestMigrateToChunkedRestoresOriginalOnFinalWriteFailure(t *testing.T) {
	e := newTestEngine(t)
	if err := e.CreateTable("logs", CreateOptions{Mode: "single"}); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	records := []document.Record{
		{"id": document.String("1")},
		{"id": document.String("2")},
	}
	if err := e.Insert("logs", records); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	// Plant a plain file where the chunked directory needs to go, so the
	// final write step fails after the original single file has already
	// been deleted.
	if err := os.WriteFile(e.chunkedPath("logs"), []byte("occupied"), 0644); err != nil {
		t.Fatalf("os.WriteFile: %v", err)
	}

	if err := e.MigrateToChunked("logs"); err == nil {
		t.Fatalf("expected MigrateToChunked to fail, got nil")
	}

	if !e.singleHandler("logs").Exists() {
		t.Fatalf("expected the original single file to be restored after the failed migration")
	}
	schema, ok := e.Catalog.Get("logs")
	if !ok {
		t.Fatalf("expected the catalog entry to still exist")
	}
	if schema.Mode != catalog.ModeSingle {
		t.Errorf("expected the catalog to still report mode=single, got %s", schema.Mode)
	}

	restored, err := e.singleHandler("logs").ReadStrict()
	if err != nil {
		t.Fatalf("ReadStrict: %v", err)
	}
	if len(restored) != len(records) {
		t.Errorf("expected %d restored records, got %d", len(records), len(restored))
	}
}

func TestDeleteWithFilterAndCount(t *testing.T) {
	e := newTestEngine(t)
	if err := e.CreateTable("items", CreateOptions{}); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	records := []document.Record{
		{"id": document.String("1"), "qty": document.Number(0)},
		{"id": document.String("2"), "qty": document.Number(5)},
	}
	if err := e.Insert("items", records); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	n, err := e.Delete("items", map[string]interface{}{"qty": float64(0)})
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 record deleted, got %d", n)
	}

	count, err := e.Count("items")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 remaining record, got %d", count)
	}
}

func TestVerifyCountDetectsMismatch(t *testing.T) {
	e := newTestEngine(t)
	if err := e.CreateTable("audit", CreateOptions{}); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if err := e.Insert("audit", []document.Record{{"id": document.String("1")}}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	e.Catalog.Update("audit", func(s *catalog.TableSchema) { s.Count = 99 }) // simulate catalog drift

	res, err := e.VerifyCount("audit")
	if err != nil {
		t.Fatalf("VerifyCount: %v", err)
	}
	if res.Match {
		t.Errorf("expected a mismatch to be reported")
	}
	if res.Actual != 1 {
		t.Errorf("expected actual count 1, got %d", res.Actual)
	}

	// a second call should have self-corrected the catalog
	res2, err := e.VerifyCount("audit")
	if err != nil {
		t.Fatalf("VerifyCount (2nd): %v", err)
	}
	if !res2.Match {
		t.Errorf("expected the catalog to have self-corrected")
	}
}

func TestMigrateToChunkedPreservesData(t *testing.T) {
	e := newTestEngine(t)
	if err := e.CreateTable("logs", CreateOptions{Mode: "single"}); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	records := make([]document.Record, 50)
	for i := range records {
		records[i] = document.Record{"id": document.String(itoa(i))}
	}
	if err := e.Insert("logs", records); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if err := e.MigrateToChunked("logs"); err != nil {
		t.Fatalf("MigrateToChunked: %v", err)
	}

	count, err := e.Count("logs")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != len(records) {
		t.Errorf("expected %d records after migration, got %d", len(records), count)
	}
}
