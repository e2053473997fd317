package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kartikbazzad/ldbstore/internal/document"
	"github.com/kartikbazzad/ldbstore/internal/errs"
	"github.com/kartikbazzad/ldbstore/internal/logger"
)

const chunkExt = ".ldb"

// ChunkedHandler splits a table across numbered chunk files under a
// directory `<name>/`. Parallel multi-chunk reads use
// golang.org/x/sync/errgroup (an indirect docdb dependency, promoted to
// direct here) the way docdb's own pack neighbor examples use errgroup
// for bounded fan-out I/O.
type ChunkedHandler struct {
	dir       string
	threshold int64
	timeout   time.Duration
	log       *logger.Logger
}

func NewChunkedHandler(dir string, threshold int64, timeout time.Duration, log *logger.Logger) *ChunkedHandler {
	return &ChunkedHandler{dir: dir, threshold: threshold, timeout: timeout, log: log}
}

// Dir returns the directory this handler's chunks live under.
func (h *ChunkedHandler) Dir() string { return h.dir }

func (h *ChunkedHandler) withTimeout(fn func() error) error {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return errs.New(errs.Timeout, "storage I/O timed out").WithDetail("dir", h.dir)
	}
}

func chunkPath(dir string, index int) string {
	return filepath.Join(dir, fmt.Sprintf("%03d%s", index, chunkExt))
}

// chunkIndices returns the sorted integer suffixes of chunk files
// present in dir. Missing dir is not an error: it means zero chunks.
func (h *ChunkedHandler) chunkIndices() ([]int, error) {
	entries, err := os.ReadDir(h.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.Wrap(errs.FileReadFailed, "list chunk directory", err)
	}
	var indices []int
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, chunkExt) {
			continue
		}
		base := strings.TrimSuffix(name, chunkExt)
		n, err := strconv.Atoi(base)
		if err != nil {
			continue
		}
		indices = append(indices, n)
	}
	sort.Ints(indices)
	return indices, nil
}

func (h *ChunkedHandler) readChunk(index int) ([]document.Record, error) {
	var records []document.Record
	err := h.withTimeout(func() error {
		data, rerr := os.ReadFile(chunkPath(h.dir, index))
		if rerr != nil {
			if os.IsNotExist(rerr) {
				records = []document.Record{}
				return nil
			}
			return errs.Wrap(errs.FileReadFailed, "read chunk", rerr)
		}
		if len(data) == 0 {
			records = []document.Record{}
			return nil
		}
		if jerr := json.Unmarshal(data, &records); jerr != nil {
			return errs.Wrap(errs.FileContentInvalid, "chunk is not a valid JSON array", jerr).WithDetail("chunk", index)
		}
		return nil
	})
	return records, err
}

// ReadAll concatenates all chunks in numeric order, reconstructing
// insertion order (spec.md §3 invariant). Chunks are fetched
// concurrently (one errgroup goroutine per chunk, with no limit set)
// but assembled back into index order.
func (h *ChunkedHandler) ReadAll() ([]document.Record, error) {
	indices, err := h.chunkIndices()
	if err != nil {
		return nil, err
	}
	if len(indices) == 0 {
		return []document.Record{}, nil
	}

	results := make([][]document.Record, len(indices))
	g, _ := errgroup.WithContext(context.Background())
	for i, idx := range indices {
		i, idx := i, idx
		g.Go(func() error {
			recs, rerr := h.readChunk(idx)
			if rerr != nil {
				return rerr
			}
			results[i] = recs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []document.Record
	for _, recs := range results {
		out = append(out, recs...)
	}
	if out == nil {
		out = []document.Record{}
	}
	return out, nil
}

// ReadRange partially loads chunks [firstChunk, lastChunk] inclusive.
func (h *ChunkedHandler) ReadRange(firstChunk, lastChunk int) ([]document.Record, error) {
	if lastChunk < firstChunk {
		return []document.Record{}, nil
	}
	var out []document.Record
	for idx := firstChunk; idx <= lastChunk; idx++ {
		recs, err := h.readChunk(idx)
		if err != nil {
			return nil, err
		}
		out = append(out, recs...)
	}
	if out == nil {
		out = []document.Record{}
	}
	return out, nil
}

func estimateSize(records []document.Record) (int64, error) {
	data, err := json.Marshal(records)
	if err != nil {
		return 0, errs.Wrap(errs.FileContentInvalid, "marshal records", err)
	}
	return int64(len(data)), nil
}

func (h *ChunkedHandler) writeChunk(index int, records []document.Record) error {
	if records == nil {
		records = []document.Record{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return errs.Wrap(errs.FileContentInvalid, "marshal chunk", err)
	}
	return h.withTimeout(func() error {
		if merr := os.MkdirAll(h.dir, 0755); merr != nil {
			return errs.Wrap(errs.FileWriteFailed, "create chunk directory", merr)
		}
		path := chunkPath(h.dir, index)
		tmp := path + ".tmp"
		if werr := os.WriteFile(tmp, data, 0644); werr != nil {
			return errs.Wrap(errs.FileWriteFailed, "write chunk temp file", werr)
		}
		if rerr := os.Rename(tmp, path); rerr != nil {
			return errs.Wrap(errs.FileWriteFailed, "rename chunk temp file", rerr)
		}
		return nil
	})
}

// Append chooses the tail chunk; if appending would exceed the
// configured threshold, it starts a new chunk instead (spec.md §4.3).
func (h *ChunkedHandler) Append(records []document.Record) error {
	if len(records) == 0 {
		return nil
	}
	indices, err := h.chunkIndices()
	if err != nil {
		return err
	}

	tail := 0
	var tailRecords []document.Record
	if len(indices) > 0 {
		tail = indices[len(indices)-1]
		tailRecords, err = h.readChunk(tail)
		if err != nil {
			return err
		}
	}

	tailSize, err := estimateSize(tailRecords)
	if err != nil {
		return err
	}
	newSize, err := estimateSize(records)
	if err != nil {
		return err
	}

	if len(indices) > 0 && tailSize+newSize > h.threshold {
		tail++
		tailRecords = nil
	}

	merged := append(append([]document.Record{}, tailRecords...), records...)
	return h.writeChunk(tail, merged)
}

// Write clears the directory and rewrites records as one or more chunks,
// splitting on the configured size threshold.
func (h *ChunkedHandler) Write(records []document.Record) error {
	if err := h.Clear(); err != nil {
		return err
	}
	if len(records) == 0 {
		return h.writeChunk(0, nil)
	}

	chunkIdx := 0
	var batch []document.Record
	for _, r := range records {
		trial := append(batch, r)
		size, err := estimateSize(trial)
		if err != nil {
			return err
		}
		if len(batch) > 0 && size > h.threshold {
			if werr := h.writeChunk(chunkIdx, batch); werr != nil {
				return werr
			}
			chunkIdx++
			batch = []document.Record{r}
			continue
		}
		batch = trial
	}
	if len(batch) > 0 {
		if err := h.writeChunk(chunkIdx, batch); err != nil {
			return err
		}
	}
	return nil
}

// Clear removes all chunk files, leaving the directory itself in place.
func (h *ChunkedHandler) Clear() error {
	indices, err := h.chunkIndices()
	if err != nil {
		return err
	}
	for _, idx := range indices {
		if rerr := os.Remove(chunkPath(h.dir, idx)); rerr != nil && !os.IsNotExist(rerr) {
			return errs.Wrap(errs.FileWriteFailed, "remove chunk", rerr)
		}
	}
	return nil
}

// Delete clears and removes the directory entirely.
func (h *ChunkedHandler) Delete() error {
	if err := h.Clear(); err != nil {
		return err
	}
	if err := os.Remove(h.dir); err != nil && !os.IsNotExist(err) {
		return errs.Wrap(errs.FileWriteFailed, "remove chunk directory", err)
	}
	return nil
}

// ChunkCount returns the number of chunk files currently on disk.
func (h *ChunkedHandler) ChunkCount() (int, error) {
	indices, err := h.chunkIndices()
	if err != nil {
		return 0, err
	}
	return len(indices), nil
}

func (h *ChunkedHandler) Exists() bool {
	info, err := os.Stat(h.dir)
	return err == nil && info.IsDir()
}

// ShouldChunk implements the should-we-go-chunked heuristic (spec.md
// §4.3): estimate serialized size; chunk if it exceeds half the
// configured chunk-size threshold.
func ShouldChunk(records []document.Record, threshold int64) (bool, error) {
	size, err := estimateSize(records)
	if err != nil {
		return false, err
	}
	return size > threshold/2, nil
}
