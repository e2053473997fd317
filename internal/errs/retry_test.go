package errs

import (
	"errors"
	"testing"
	"time"
)

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	rc := &RetryController{InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, MaxAttempts: 3}
	attempts := 0
	err := rc.Retry(func(attempt int) error {
		attempts++
		if attempt < 2 {
			return New(Timeout, "io timed out")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryGivesUpAfterMaxAttempts(t *testing.T) {
	rc := &RetryController{InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, MaxAttempts: 2}
	attempts := 0
	err := rc.Retry(func(attempt int) error {
		attempts++
		return New(Timeout, "io timed out")
	})
	if err == nil {
		t.Fatalf("expected an error after exhausting attempts")
	}
	if attempts != 3 {
		t.Errorf("expected 1 initial attempt + 2 retries = 3, got %d", attempts)
	}
}

func TestRetryDoesNotRetryNonTransientErrors(t *testing.T) {
	rc := &RetryController{InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, MaxAttempts: 5}
	attempts := 0
	wantErr := New(TableNotFound, "gone")
	err := rc.Retry(func(attempt int) error {
		attempts++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("expected the non-transient error to propagate unchanged, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected exactly 1 attempt for a non-transient error, got %d", attempts)
	}
}

func TestTrackerRecentWrapsAroundCapacity(t *testing.T) {
	tr := NewTracker(2)
	tr.Record(New(TableNotFound, "a"))
	tr.Record(New(DiskFull, "b"))
	tr.Record(New(Timeout, "c"))

	recent := tr.Recent()
	if len(recent) != 2 {
		t.Fatalf("expected 2 entries within capacity, got %d", len(recent))
	}
	if recent[0].Code != DiskFull || recent[1].Code != Timeout {
		t.Errorf("expected the oldest-evicted ring to read [DiskFull Timeout], got [%s %s]", recent[0].Code, recent[1].Code)
	}
	if tr.Total() != 3 {
		t.Errorf("expected Total to count every Record call, got %d", tr.Total())
	}
}

func TestTrackerCountByCode(t *testing.T) {
	tr := NewTracker(10)
	tr.Record(New(Timeout, "a"))
	tr.Record(New(Timeout, "b"))
	tr.Record(New(DiskFull, "c"))

	counts := tr.CountByCode()
	if counts[Timeout] != 2 {
		t.Errorf("expected 2 Timeout errors, got %d", counts[Timeout])
	}
	if counts[DiskFull] != 1 {
		t.Errorf("expected 1 DiskFull error, got %d", counts[DiskFull])
	}
}

func TestTrackerRecordNilIsNoOp(t *testing.T) {
	tr := NewTracker(4)
	tr.Record(nil)
	if tr.Total() != 0 {
		t.Errorf("expected Record(nil) to be a no-op, got total %d", tr.Total())
	}
}
