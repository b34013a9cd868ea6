// Package retry paces reconnect attempts for the client runner and the
// proxy supervisor.
//
// A session or proxy never retries on its own; once it fails it stays
// failed.  The outer drivers rebuild it through [Backoff.Do], which
// also decides which failures are worth another attempt.  Bad
// credentials, a host key mismatch and an open circuit end the loop on
// the first occurrence; everything else is retried until the attempt
// budget or the context runs out.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	ncerr "rollcall/internal/errors"
)

// ── Stop conditions ──────────────────────────────────────────────────

// PermanentError marks a failure that a caller has decided not to
// retry, whatever [Backoff.Fatal] would say about it.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent marks err as final.  [Backoff.Do] returns the inner error
// without another attempt.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err carries a [Permanent] mark.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// IsFatal is the default stop condition of [Backoff.Do].  It reports
// failures that another dial cannot fix: rejected credentials, a
// mismatched host key and a circuit breaker that has already given up
// on the endpoint.
func IsFatal(err error) bool {
	return ncerr.IsSetupFailure(err) || errors.Is(err, ncerr.ErrCircuitOpen)
}

// ── Backoff ──────────────────────────────────────────────────────────

// Backoff spaces reconnect attempts exponentially, with optional
// jitter so that a roster of clients does not reconnect in lockstep.
type Backoff struct {
	// InitialDelay is the pause after the first failure (default 1s).
	InitialDelay time.Duration
	// MaxDelay caps the pause (default 60s).
	MaxDelay time.Duration
	// Multiplier grows the pause after each failure (default 2.0).
	Multiplier float64
	// MaxAttempts bounds the number of tries including the first.
	// Zero means retry until the context is done.
	MaxAttempts int
	// Jitter spreads each pause by ±25%.
	Jitter bool
	// Fatal reports failures that end the loop at once.  Nil means
	// [IsFatal].
	Fatal func(error) bool
}

// DefaultBackoff returns the reconnect policy used when none is
// configured.
func DefaultBackoff() *Backoff {
	return &Backoff{
		InitialDelay: 1 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
		MaxAttempts:  10,
		Jitter:       true,
	}
}

// Do calls fn until it returns nil, returns a fatal error, or the
// attempt budget or ctx runs out.  attempt is 1-based.
//
// A [Permanent] error is returned unwrapped.  A fatal error is returned
// as is.  An exhausted budget or a cancelled ctx is reported with the
// last failure wrapped.
func (b *Backoff) Do(ctx context.Context, fn func(attempt int) error) error {
	fatal := b.Fatal
	if fatal == nil {
		fatal = IsFatal
	}
	delay, grow, ceiling := b.schedule()

	for attempt := 1; ; attempt++ {
		err := fn(attempt)
		if err == nil {
			return nil
		}

		var pe *PermanentError
		if errors.As(err, &pe) {
			return pe.Err
		}
		if fatal(err) {
			return err
		}
		if b.MaxAttempts > 0 && attempt >= b.MaxAttempts {
			return fmt.Errorf("max retries (%d) exceeded: %w", b.MaxAttempts, err)
		}

		pause := delay
		if b.Jitter {
			pause = addJitter(delay)
		}
		if err := sleep(ctx, pause); err != nil {
			return fmt.Errorf("retry cancelled: %w", err)
		}
		delay = time.Duration(math.Min(float64(delay)*grow, float64(ceiling)))
	}
}

// schedule resolves the zero values of b to their defaults.
func (b *Backoff) schedule() (initial time.Duration, multiplier float64, max time.Duration) {
	initial, multiplier, max = b.InitialDelay, b.Multiplier, b.MaxDelay
	if initial <= 0 {
		initial = time.Second
	}
	if multiplier <= 0 {
		multiplier = 2.0
	}
	if max <= 0 {
		max = 60 * time.Second
	}
	return initial, multiplier, max
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// addJitter moves d by up to ±25%, never below a millisecond.
func addJitter(d time.Duration) time.Duration {
	quarter := float64(d) * 0.25
	delta := (rand.Float64() * 2 * quarter) - quarter
	return time.Duration(math.Max(float64(d)+delta, float64(time.Millisecond)))
}
