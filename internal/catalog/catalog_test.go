package catalog

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kartikbazzad/ldbstore/internal/logger"
)

func newTestCatalog(t *testing.T) (*Catalog, string) {
	t.Helper()
	dir := t.TempDir()
	c := New(dir, 10*time.Millisecond, logger.New(io.Discard, logger.LevelError, "test"))
	if err := c.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return c, dir
}

func TestLoadMissingCatalogStartsEmpty(t *testing.T) {
	c, _ := newTestCatalog(t)
	if len(c.AllTables()) != 0 {
		t.Errorf("expected an empty catalog, got %v", c.AllTables())
	}
}

func TestUpdateCreatesAndMutates(t *testing.T) {
	c, _ := newTestCatalog(t)
	s := c.Update("orders", func(s *TableSchema) {
		s.Mode = ModeSingle
		s.Path = "orders.ldb"
		s.Count = 3
	})
	if s.Mode != ModeSingle || s.Count != 3 {
		t.Fatalf("unexpected schema after Update: %+v", s)
	}

	got, ok := c.Get("orders")
	if !ok {
		t.Fatalf("expected orders to exist")
	}
	if got.Count != 3 {
		t.Errorf("got count %d, want 3", got.Count)
	}

	c.Update("orders", func(s *TableSchema) { s.Count = 5 })
	got, _ = c.Get("orders")
	if got.Count != 5 {
		t.Errorf("got count %d, want 5 after second update", got.Count)
	}
}

func TestGetReturnsAClone(t *testing.T) {
	c, _ := newTestCatalog(t)
	c.Update("orders", func(s *TableSchema) {
		s.Columns = map[string]ColumnHint{"id": {Type: "string"}}
	})
	got, _ := c.Get("orders")
	got.Columns["id"] = ColumnHint{Type: "mutated"}

	again, _ := c.Get("orders")
	if again.Columns["id"].Type != "string" {
		t.Errorf("mutating a Get() result leaked into the catalog: %+v", again.Columns["id"])
	}
}

func TestDeleteRemovesTable(t *testing.T) {
	c, _ := newTestCatalog(t)
	c.Update("orders", func(s *TableSchema) { s.Mode = ModeSingle })
	c.Delete("orders")
	if _, ok := c.Get("orders"); ok {
		t.Errorf("expected orders to be gone after Delete")
	}
}

func TestSaveImmediatelyPersistsAndReloads(t *testing.T) {
	c, dir := newTestCatalog(t)
	c.Update("orders", func(s *TableSchema) {
		s.Mode = ModeChunked
		s.Count = 7
	})
	if err := c.SaveImmediately(); err != nil {
		t.Fatalf("SaveImmediately: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, CatalogFileName)); err != nil {
		t.Fatalf("expected meta.ldb on disk: %v", err)
	}

	reloaded := New(dir, 10*time.Millisecond, logger.New(io.Discard, logger.LevelError, "test"))
	if err := reloaded.Load(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	got, ok := reloaded.Get("orders")
	if !ok || got.Count != 7 || got.Mode != ModeChunked {
		t.Errorf("reloaded schema mismatch: %+v (ok=%v)", got, ok)
	}
}

func TestLoadCorruptCatalogStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, CatalogFileName), []byte("{not json"), 0644); err != nil {
		t.Fatalf("seed corrupt catalog: %v", err)
	}
	c := New(dir, 10*time.Millisecond, logger.New(io.Discard, logger.LevelError, "test"))
	if err := c.Load(); err != nil {
		t.Fatalf("Load should tolerate a corrupt catalog, got %v", err)
	}
	if len(c.AllTables()) != 0 {
		t.Errorf("expected an empty catalog after a corrupt load")
	}
}

func TestRediscoverFindsUncatalogedFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "orders.ldb"), []byte("[]"), 0644); err != nil {
		t.Fatalf("seed orders.ldb: %v", err)
	}
	if err := os.Mkdir(filepath.Join(dir, "events"), 0755); err != nil {
		t.Fatalf("seed events dir: %v", err)
	}

	c := New(dir, 10*time.Millisecond, logger.New(io.Discard, logger.LevelError, "test"))
	if err := c.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := c.Rediscover(dir); err != nil {
		t.Fatalf("Rediscover: %v", err)
	}

	orders, ok := c.Get("orders")
	if !ok || orders.Mode != ModeSingle {
		t.Errorf("expected orders rediscovered as single mode, got %+v (ok=%v)", orders, ok)
	}
	events, ok := c.Get("events")
	if !ok || events.Mode != ModeChunked {
		t.Errorf("expected events rediscovered as chunked mode, got %+v (ok=%v)", events, ok)
	}
}

func TestRediscoverSkipsAlreadyCataloged(t *testing.T) {
	c, dir := newTestCatalog(t)
	c.Update("orders", func(s *TableSchema) {
		s.Mode = ModeChunked
		s.Count = 42
	})
	if err := os.WriteFile(filepath.Join(dir, "orders.ldb"), []byte("[]"), 0644); err != nil {
		t.Fatalf("seed stray orders.ldb: %v", err)
	}
	if err := c.Rediscover(dir); err != nil {
		t.Fatalf("Rediscover: %v", err)
	}
	got, _ := c.Get("orders")
	if got.Mode != ModeChunked || got.Count != 42 {
		t.Errorf("Rediscover should not overwrite an already-cataloged table, got %+v", got)
	}
}
