package errs

import (
	"math/rand"
	"time"
)

// RetryController implements exponential backoff with jitter, ported
// from docdb's internal/errors/retry.go almost unchanged in shape: same
// initialDelay/maxDelay/maxRetries fields, same ±25% jitter formula. The
// difference is what decides retriability — IsTransient's message-
// substring rule (§4.10) instead of docdb's syscall-errno classifier.
type RetryController struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int
}

func NewRetryController(maxAttempts int) *RetryController {
	return &RetryController{
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		MaxAttempts:  maxAttempts,
	}
}

// Retry runs fn, retrying only errors IsTransient classifies as
// retriable, up to MaxAttempts additional attempts with backoff+jitter
// between them. Non-transient errors return immediately.
func (rc *RetryController) Retry(fn func(attempt int) error) error {
	var lastErr error
	for attempt := 0; attempt <= rc.MaxAttempts; attempt++ {
		err := fn(attempt)
		if err == nil {
			return nil
		}
		lastErr = err
		if !IsTransient(err) {
			return err
		}
		if attempt >= rc.MaxAttempts {
			return err
		}
		time.Sleep(rc.delay(attempt))
	}
	return lastErr
}

func (rc *RetryController) delay(attempt int) time.Duration {
	delay := rc.InitialDelay * time.Duration(1<<uint(attempt))
	if delay > rc.MaxDelay {
		delay = rc.MaxDelay
	}
	jitter := time.Duration(float64(delay) * 0.25 * (rand.Float64()*2 - 1))
	delay += jitter
	if delay < 0 {
		delay = rc.InitialDelay
	}
	return delay
}
