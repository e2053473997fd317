// Package storage implements the two on-disk table representations
// spec.md §4.2/§4.3 names: a single JSON-array file, and a directory of
// numbered JSON-array chunk files. Grounded on docdb's DataFile
// (internal/docdb/datafile.go) for the shape of a file handler —
// retry-controller-wrapped I/O, a logger, atomic replace — but the unit
// of storage here is a whole JSON array rather than docdb's length-
// prefixed CRC-framed binary records: a JSON parse failure is itself
// the corruption signal this layer surfaces.
package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/kartikbazzad/ldbstore/internal/document"
	"github.com/kartikbazzad/ldbstore/internal/errs"
	"github.com/kartikbazzad/ldbstore/internal/logger"
)

// SingleFileHandler reads/writes one table's entire record array as one
// file `<name>.ldb`.
type SingleFileHandler struct {
	path    string
	timeout time.Duration
	log     *logger.Logger
}

func NewSingleFileHandler(path string, timeout time.Duration, log *logger.Logger) *SingleFileHandler {
	return &SingleFileHandler{path: path, timeout: timeout, log: log}
}

func (h *SingleFileHandler) withTimeout(fn func() error) error {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return errs.New(errs.Timeout, "storage I/O timed out").WithDetail("path", h.path)
	}
}

// ReadSoft returns the record array, or an empty slice (not an error) if
// the file does not exist — the "soft read" spec.md §7 requires for
// read/findMany.
func (h *SingleFileHandler) ReadSoft() ([]document.Record, error) {
	records, err := h.read()
	if err != nil {
		if os.IsNotExist(err) {
			return []document.Record{}, nil
		}
		return nil, err
	}
	return records, nil
}

// ReadStrict returns TABLE_NOT_FOUND if the file is absent, for the
// strict calls (count, verifyCount, migrateToChunked) spec.md §7 names.
func (h *SingleFileHandler) ReadStrict() ([]document.Record, error) {
	records, err := h.read()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.New(errs.TableNotFound, "table file does not exist").WithDetail("path", h.path)
		}
		return nil, err
	}
	return records, nil
}

func (h *SingleFileHandler) read() ([]document.Record, error) {
	var records []document.Record
	err := h.withTimeout(func() error {
		data, rerr := os.ReadFile(h.path)
		if rerr != nil {
			return rerr
		}
		if len(data) == 0 {
			records = []document.Record{}
			return nil
		}
		if jerr := json.Unmarshal(data, &records); jerr != nil {
			return errs.Wrap(errs.FileContentInvalid, "table file is not a valid JSON array", jerr).WithDetail("path", h.path)
		}
		return nil
	})
	return records, err
}

// Write serializes and replaces the file's entire contents. Writing the
// empty slice produces `[]`, not deletion (spec.md §4.2).
func (h *SingleFileHandler) Write(records []document.Record) error {
	if records == nil {
		records = []document.Record{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return errs.Wrap(errs.FileContentInvalid, "marshal records", err)
	}
	return h.withTimeout(func() error {
		if merr := os.MkdirAll(filepath.Dir(h.path), 0755); merr != nil {
			return errs.Wrap(errs.FileWriteFailed, "create table directory", merr)
		}
		tmp := h.path + ".tmp"
		if werr := os.WriteFile(tmp, data, 0644); werr != nil {
			return errs.Wrap(errs.FileWriteFailed, "write table temp file", werr)
		}
		if rerr := os.Rename(tmp, h.path); rerr != nil {
			return errs.Wrap(errs.FileWriteFailed, "rename table temp file", rerr)
		}
		return nil
	})
}

func (h *SingleFileHandler) Delete() error {
	return h.withTimeout(func() error {
		err := os.Remove(h.path)
		if err != nil && !os.IsNotExist(err) {
			return errs.Wrap(errs.FileWriteFailed, "delete table file", err)
		}
		return nil
	})
}

func (h *SingleFileHandler) Size() (int64, error) {
	info, err := os.Stat(h.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, errs.Wrap(errs.FileReadFailed, "stat table file", err)
	}
	return info.Size(), nil
}

// Exists reports whether the file is present on disk.
func (h *SingleFileHandler) Exists() bool {
	_, err := os.Stat(h.path)
	return err == nil
}
