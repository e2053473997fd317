package client

import (
	"io"
	"testing"

	"github.com/kartikbazzad/ldbstore/internal/config"
	"github.com/kartikbazzad/ldbstore/internal/crypto"
	"github.com/kartikbazzad/ldbstore/internal/document"
	"github.com/kartikbazzad/ldbstore/internal/engine"
	"github.com/kartikbazzad/ldbstore/internal/logger"
)

func newTestStore(t *testing.T, provider crypto.MasterKeyProvider) *Store {
	t.Helper()
	cfg := config.TestConfig(t.TempDir())
	log := logger.New(io.Discard, logger.LevelError, "test")
	s, err := Open(cfg, log, provider)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func rec(id string, age float64) Record {
	return document.Record{"id": document.String(id), "age": document.Number(age)}
}

func TestCreateInsertReadDeleteThroughStore(t *testing.T) {
	s := newTestStore(t, nil)
	if err := s.CreateTable("people", CreateOptions{}); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if err := s.Insert("people", []Record{rec("1", 30), rec("2", 40)}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	count, err := s.Count("people")
	if err != nil || count != 2 {
		t.Fatalf("Count: got (%d, %v), want (2, nil)", count, err)
	}

	n, err := s.Delete("people", map[string]interface{}{"id": "1"})
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 record deleted, got %d", n)
	}

	records, err := s.Read("people", ReadOptions{})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 remaining record, got %d", len(records))
	}
	if id, _ := records[0].IDString(); id != "2" {
		t.Errorf("expected record 2 to survive, got %s", id)
	}
}

func TestTransactionCommitThroughStore(t *testing.T) {
	s := newTestStore(t, nil)
	if err := s.CreateTable("accounts", CreateOptions{}); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if err := s.Insert("accounts", []Record{rec("1", 100)}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if err := s.BeginTransaction(); err != nil {
		t.Fatalf("BeginTransaction: %v", err)
	}
	if err := s.Insert("accounts", []Record{rec("2", 200)}); err != nil {
		t.Fatalf("transactional Insert: %v", err)
	}
	if err := s.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	count, err := s.Count("accounts")
	if err != nil || count != 2 {
		t.Fatalf("Count after commit: got (%d, %v), want (2, nil)", count, err)
	}
}

func TestTransactionRollbackThroughStore(t *testing.T) {
	s := newTestStore(t, nil)
	if err := s.CreateTable("accounts", CreateOptions{}); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if err := s.Insert("accounts", []Record{rec("1", 100)}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if err := s.BeginTransaction(); err != nil {
		t.Fatalf("BeginTransaction: %v", err)
	}
	if err := s.Insert("accounts", []Record{rec("2", 200)}); err != nil {
		t.Fatalf("transactional Insert: %v", err)
	}
	if err := s.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	count, err := s.Count("accounts")
	if err != nil || count != 1 {
		t.Fatalf("Count after rollback: got (%d, %v), want (1, nil)", count, err)
	}
}

func TestEncryptedTableRoundTripThroughStore(t *testing.T) {
	s := newTestStore(t, crypto.NewStaticKeyProvider("correct horse battery staple"))
	opts := CreateOptions{EncryptedFields: []string{"age"}}
	if err := s.CreateTable("patients", opts); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if err := s.Insert("patients", []Record{rec("1", 55)}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	records, err := s.Read("patients", ReadOptions{})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	age, _ := records[0].Get("age")
	n, _ := age.Number()
	if n != 55 {
		t.Errorf("expected the decrypted age to round-trip to 55, got %v", n)
	}

	raw, err := s.eng.Read("patients", engine.ReadOptions{BypassCache: true})
	if err != nil {
		t.Fatalf("raw engine Read: %v", err)
	}
	rawAge, _ := raw[0].Get("age")
	if _, isNum := rawAge.Number(); isNum {
		t.Errorf("expected the encrypted field to not be a plain number on disk")
	}
}

func TestMigrateToChunkedThroughStore(t *testing.T) {
	s := newTestStore(t, nil)
	if err := s.CreateTable("events", CreateOptions{}); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if err := s.Insert("events", []Record{rec("1", 1), rec("2", 2)}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.MigrateToChunked("events"); err != nil {
		t.Fatalf("MigrateToChunked: %v", err)
	}

	count, err := s.Count("events")
	if err != nil || count != 2 {
		t.Fatalf("Count after migration: got (%d, %v), want (2, nil)", count, err)
	}
}

func TestCreateIndexAndUniqueViolationThroughStore(t *testing.T) {
	s := newTestStore(t, nil)
	if err := s.CreateTable("users", CreateOptions{}); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if err := s.Insert("users", []Record{
		document.Record{"id": document.String("1"), "email": document.String("a@example.com")},
	}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.CreateIndex("users", "email", true); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}

	err := s.Insert("users", []Record{
		document.Record{"id": document.String("2"), "email": document.String("a@example.com")},
	})
	if err == nil {
		t.Fatalf("expected a duplicate email to be rejected by the unique index")
	}

	count, err := s.Count("users")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 1 {
		t.Errorf("expected the rejected insert to leave the table untouched, got %d records", count)
	}

	stats := s.CacheStats()
	if stats.Size < 0 {
		t.Errorf("unexpected negative cache size")
	}
}
