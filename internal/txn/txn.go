// Package txn implements the Transaction Service (spec.md §4.9): a
// single-process, single-active-transaction op queue with per-table
// lazy snapshots and commit/rollback against the underlying engine.
// Grounded on docdb's internal/docdb TransactionManager/Tx state
// machine, generalized from docdb's WAL-record queue (replayed by a
// storage engine that understands WALRecord) to this spec's simpler
// queue of engine method calls, replayed directly against
// *engine.Engine via its direct (non-gated) write methods.
package txn

import (
	"sync"

	"github.com/google/uuid"

	"github.com/kartikbazzad/ldbstore/internal/document"
	"github.com/kartikbazzad/ldbstore/internal/engine"
	"github.com/kartikbazzad/ldbstore/internal/errs"
)

type State int

const (
	Idle State = iota
	Active
	Committing
	RollingBack
)

type opType int

const (
	opInsert opType = iota
	opOverwrite
	opUpdate
	opDelete
	opBulkWrite
)

type op struct {
	table  string
	typ    opType
	data   []document.Record
	filter interface{}
	mutate func(document.Record) document.Record
	bulk   []engine.BulkOp
}

// Service is the transaction boundary in front of a plaintext engine.
// Exactly one transaction may be active at a time (spec.md §4.9).
type Service struct {
	eng *engine.Engine

	mu       sync.Mutex
	state    State
	id       string // identifies the active transaction in error details, for log correlation
	ops      []op
	snapshot map[string][]document.Record // table -> deep copy taken on first touch
}

// ID returns the active transaction's identifier, or "" if idle.
func (s *Service) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

func New(eng *engine.Engine) *Service {
	return &Service{eng: eng, state: Idle, snapshot: make(map[string][]document.Record)}
}

func (s *Service) InTransaction() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == Active
}

// Begin transitions Idle -> Active. Attempting to begin while active is
// an error (spec.md §4.9).
func (s *Service) Begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Idle {
		return errs.New(errs.TransactionInProgress, "a transaction is already active")
	}
	s.state = Active
	s.id = uuid.NewString()
	s.ops = nil
	s.snapshot = make(map[string][]document.Record)
	return nil
}

func (s *Service) ensureSnapshotLocked(table string) {
	if _, ok := s.snapshot[table]; ok {
		return
	}
	records, _ := s.eng.Read(table, engine.ReadOptions{BypassCache: true})
	clone := make([]document.Record, len(records))
	for i, r := range records {
		clone[i] = r.Clone()
	}
	s.snapshot[table] = clone
}

func (s *Service) queue(table string, o op) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Active {
		return errs.New(errs.NoTransactionInProgress, "no transaction is active")
	}
	s.ensureSnapshotLocked(table)
	s.ops = append(s.ops, o)
	return nil
}

func (s *Service) Insert(table string, records []document.Record) error {
	return s.queue(table, op{table: table, typ: opInsert, data: records})
}

func (s *Service) Overwrite(table string, records []document.Record) error {
	return s.queue(table, op{table: table, typ: opOverwrite, data: records})
}

func (s *Service) Update(table string, filter interface{}, mutate func(document.Record) document.Record) error {
	return s.queue(table, op{table: table, typ: opUpdate, filter: filter, mutate: mutate})
}

func (s *Service) Delete(table string, filter interface{}) error {
	return s.queue(table, op{table: table, typ: opDelete, filter: filter})
}

func (s *Service) BulkWrite(table string, ops []engine.BulkOp) error {
	return s.queue(table, op{table: table, typ: opBulkWrite, bulk: ops})
}

// CurrentView returns what table reads should see while a transaction
// is active: the on-disk state with the queued ops for this table
// replayed on top (read-your-writes, spec.md §4.9).
func (s *Service) CurrentView(table string) ([]document.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	base, ok := s.snapshot[table]
	if !ok {
		records, err := s.eng.Read(table, engine.ReadOptions{BypassCache: true})
		if err != nil {
			return nil, err
		}
		base = records
	}

	view := make([]document.Record, len(base))
	copy(view, base)
	for _, o := range s.ops {
		if o.table != table {
			continue
		}
		view = applyOp(view, o)
	}
	return view, nil
}

func applyOp(view []document.Record, o op) []document.Record {
	switch o.typ {
	case opInsert:
		return append(view, o.data...)
	case opOverwrite:
		return append([]document.Record(nil), o.data...)
	case opUpdate:
		node := planFilter(o.filter)
		out := make([]document.Record, len(view))
		for i, r := range view {
			if node(r) {
				out[i] = o.mutate(r.Clone())
			} else {
				out[i] = r
			}
		}
		return out
	case opDelete:
		node := planFilter(o.filter)
		out := make([]document.Record, 0, len(view))
		for _, r := range view {
			if !node(r) {
				out = append(out, r)
			}
		}
		return out
	case opBulkWrite:
		return applyBulk(view, o.bulk)
	}
	return view
}

// Commit replays every queued op against the live engine via its direct
// write methods, bypassing the gate this service itself provides; any
// op failure triggers rollback and the error propagates (spec.md §4.9).
func (s *Service) Commit() error {
	s.mu.Lock()
	if s.state != Active {
		s.mu.Unlock()
		return errs.New(errs.NoTransactionInProgress, "no transaction is active")
	}
	s.state = Committing
	id := s.id
	ops := s.ops
	s.mu.Unlock()

	for _, o := range ops {
		if err := s.replay(o); err != nil {
			rbErr := s.restoreSnapshots()
			s.reset()
			if rbErr != nil {
				// the rollback error is discarded; the original commit
				// error is the one returned (spec.md §7).
				_ = rbErr
			}
			return errs.Wrap(errs.TableUpdateFailed, "transaction commit failed, rolled back", err).WithDetail("txnID", id)
		}
	}
	s.reset()
	return nil
}

func (s *Service) replay(o op) error {
	switch o.typ {
	case opInsert:
		return s.eng.Insert(o.table, o.data)
	case opOverwrite:
		return s.eng.Overwrite(o.table, o.data)
	case opUpdate:
		_, err := s.eng.Update(o.table, o.filter, o.mutate)
		return err
	case opDelete:
		_, err := s.eng.Delete(o.table, o.filter)
		return err
	case opBulkWrite:
		_, err := s.eng.BulkWrite(o.table, o.bulk)
		return err
	}
	return nil
}

// Rollback restores every touched table from its pre-transaction
// snapshot via direct writes and resets the service.
func (s *Service) Rollback() error {
	s.mu.Lock()
	if s.state != Active {
		s.mu.Unlock()
		return errs.New(errs.NoTransactionInProgress, "no transaction is active")
	}
	s.state = RollingBack
	s.mu.Unlock()

	err := s.restoreSnapshots()
	s.reset()
	return err
}

func (s *Service) restoreSnapshots() error {
	s.mu.Lock()
	snaps := s.snapshot
	s.mu.Unlock()

	var firstErr error
	for table, records := range snaps {
		if err := s.eng.Overwrite(table, records); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Service) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = Idle
	s.id = ""
	s.ops = nil
	s.snapshot = make(map[string][]document.Record)
}
