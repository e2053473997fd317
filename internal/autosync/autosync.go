// Package autosync implements the write-back loop (spec.md §4.10):
// periodically drains dirty cache entries, groups them by table,
// batches the writes through the engine's direct write path, and marks
// them clean on success. Grounded on docdb's HealingService background
// loop (stop channel + WaitGroup lifecycle, panic-guarded ants pool for
// parallel per-unit work) generalized from per-document healing to
// per-table flush batches.
package autosync

import (
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/kartikbazzad/ldbstore/internal/cache"
	"github.com/kartikbazzad/ldbstore/internal/config"
	"github.com/kartikbazzad/ldbstore/internal/document"
	"github.com/kartikbazzad/ldbstore/internal/engine"
	"github.com/kartikbazzad/ldbstore/internal/errs"
	"github.com/kartikbazzad/ldbstore/internal/logger"
	"github.com/kartikbazzad/ldbstore/internal/metrics"
)

// EventType names the lifecycle notifications spec.md §4.10 documents.
type EventType string

const (
	SyncStart    EventType = "syncStart"
	SyncComplete EventType = "syncComplete"
	SyncFailed   EventType = "syncFailed"
	SyncError    EventType = "syncError"
)

type Event struct {
	Type   EventType
	Table  string
	Keys   int
	Err    error
	Took   time.Duration
}

type Listener func(Event)

// Service runs the periodic dirty-cache flush loop against one engine.
type Service struct {
	eng *engine.Engine
	c   *cache.Cache
	cfg config.AutoSyncConfig
	log *logger.Logger
	m   *metrics.Metrics

	retry *errs.RetryController

	mu        sync.Mutex
	listeners []Listener
	pool      *ants.Pool

	stopCh chan struct{}
	done   chan struct{}
	once   sync.Once
}

func New(eng *engine.Engine, c *cache.Cache, cfg config.AutoSyncConfig, log *logger.Logger, m *metrics.Metrics) *Service {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	pool, err := ants.NewPool(workers, ants.WithPanicHandler(func(v interface{}) {
		log.Error("autosync worker panic: %v", v)
	}))
	if err != nil {
		pool = nil
	}
	return &Service{
		eng:    eng,
		c:      c,
		cfg:    cfg,
		log:    log,
		m:      m,
		retry:  errs.NewRetryController(cfg.MaxAttempts),
		pool:   pool,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (s *Service) OnEvent(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *Service) emit(e Event) {
	s.mu.Lock()
	ls := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()
	for _, l := range ls {
		l(e)
	}
}

// Start launches the periodic flush loop as a background goroutine.
func (s *Service) Start() {
	go s.loop()
}

// Stop signals the loop to exit and waits for the current cycle, if
// any, to finish.
func (s *Service) Stop() {
	s.once.Do(func() { close(s.stopCh) })
	<-s.done
	if s.pool != nil {
		s.pool.Release()
	}
}

func (s *Service) loop() {
	defer close(s.done)
	interval := s.cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.RunOnce()
		}
	}
}

// RunOnce performs a single flush pass: snapshot dirty entries, skip if
// below minItems, group by table, batch, and flush each batch through
// the engine's direct write path.
func (s *Service) RunOnce() {
	dirty := s.c.GetDirtyData()
	if len(dirty) < s.cfg.MinItems {
		return
	}

	byTable := make(map[string]map[string]interface{})
	for key, value := range dirty {
		table := cache.TableFromKey(key)
		if byTable[table] == nil {
			byTable[table] = make(map[string]interface{})
		}
		byTable[table][key] = value
	}

	var wg sync.WaitGroup
	for table, entries := range byTable {
		table, entries := table, entries
		wg.Add(1)
		task := func() {
			defer wg.Done()
			s.flushTable(table, entries)
		}
		if s.pool != nil {
			if err := s.pool.Submit(task); err != nil {
				task()
			}
		} else {
			task()
		}
	}
	wg.Wait()
}

// upsert writes the authoritative in-memory values for dirty keys back
// to disk: a record whose id already exists on the table is replaced,
// otherwise it is appended (spec.md §4.10's "the authoritative value is
// in memory, not on disk" contract).
func (s *Service) upsert(table string, records []document.Record) error {
	if !s.eng.HasTable(table) {
		return s.eng.Insert(table, records)
	}
	byID := make(map[string]document.Record, len(records))
	var noID []document.Record
	for _, rec := range records {
		if id, ok := rec.IDString(); ok {
			byID[id] = rec
		} else {
			noID = append(noID, rec)
		}
	}
	if len(byID) > 0 {
		_, err := s.eng.Update(table, map[string]interface{}{}, func(existing document.Record) document.Record {
			if id, ok := existing.IDString(); ok {
				if replacement, hit := byID[id]; hit {
					delete(byID, id)
					return replacement
				}
			}
			return existing
		})
		if err != nil {
			return err
		}
	}
	remaining := make([]document.Record, 0, len(byID)+len(noID))
	for _, rec := range byID {
		remaining = append(remaining, rec)
	}
	remaining = append(remaining, noID...)
	if len(remaining) > 0 {
		return s.eng.Insert(table, remaining)
	}
	return nil
}

func (s *Service) flushTable(table string, entries map[string]interface{}) {
	start := time.Now()
	s.emit(Event{Type: SyncStart, Table: table, Keys: len(entries)})

	batchSize := s.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = len(entries)
	}

	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}

	flushed := make(map[string]interface{}, len(entries))
	var lastErr error
	for i := 0; i < len(keys); i += batchSize {
		end := i + batchSize
		if end > len(keys) {
			end = len(keys)
		}
		batch := keys[i:end]

		records := make([]document.Record, 0, len(batch))
		for _, k := range batch {
			if rec, ok := entries[k].(document.Record); ok {
				records = append(records, rec)
			}
		}

		err := s.retry.Retry(func(attempt int) error {
			return s.upsert(table, records)
		})
		if err != nil {
			lastErr = err
			s.emit(Event{Type: SyncError, Table: table, Err: err})
			if s.m != nil {
				s.m.AutoSyncFailures.Inc()
			}
			continue
		}
		for _, k := range batch {
			flushed[k] = entries[k]
		}
	}

	if len(flushed) > 0 {
		s.c.MarkAsCleanBulk(flushed)
	}

	took := time.Since(start)
	if s.m != nil {
		s.m.AutoSyncDuration.Observe(took.Seconds())
		s.m.AutoSyncKeys.Add(float64(len(flushed)))
		s.m.AutoSyncFlushes.Inc()
	}

	if lastErr != nil {
		s.emit(Event{Type: SyncFailed, Table: table, Err: lastErr, Took: took})
		return
	}
	s.emit(Event{Type: SyncComplete, Table: table, Keys: len(flushed), Took: took})
}
