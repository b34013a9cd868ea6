package retry

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	ncerr "rollcall/internal/errors"
)

// refused is what a reconnect attempt sees while the server is down.
func refused() error {
	return ncerr.Wrap("dial", "127.0.0.1:7000", &net.OpError{
		Op:  "dial",
		Net: "tcp",
		Err: os.NewSyscallError("connect", syscall.ECONNREFUSED),
	})
}

// openCircuit returns the rejection of a breaker that has given up.
func openCircuit() error {
	cb := NewCircuitBreaker(&CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour})
	cb.Execute(refused) //nolint:errcheck
	return cb.Execute(func() error { return nil })
}

func quick(attempts int) *Backoff {
	return &Backoff{InitialDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond, MaxAttempts: attempts}
}

// TestBackoff_RefusedDialKeepsRetrying verifies a server that comes
// back after a few refused dials is reached.
func TestBackoff_RefusedDialKeepsRetrying(t *testing.T) {
	dials := 0
	err := quick(10).Do(context.Background(), func(attempt int) error {
		dials++
		if attempt < 4 {
			return refused()
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do = %v", err)
	}
	if dials != 4 {
		t.Errorf("dials = %d, want 4", dials)
	}
}

// TestBackoff_StopsOnFatal verifies failures that another dial cannot
// fix end the loop on the first occurrence.
func TestBackoff_StopsOnFatal(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"auth failed", ncerr.WrapSSH("auth", "bastion", 22, ncerr.ErrAuthFailed), ncerr.ErrAuthFailed},
		{"host key mismatch", ncerr.WrapSSH("handshake", "bastion", 22, ncerr.ErrHostKeyMismatch), ncerr.ErrHostKeyMismatch},
		{"circuit open", openCircuit(), ncerr.ErrCircuitOpen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dials := 0
			err := quick(5).Do(context.Background(), func(int) error {
				dials++
				return tt.err
			})
			if !errors.Is(err, tt.want) {
				t.Errorf("Do = %v, want %v", err, tt.want)
			}
			if dials != 1 {
				t.Errorf("dials = %d, want 1", dials)
			}
		})
	}
}

// TestBackoff_CustomFatal verifies a caller can replace the stop
// condition.
func TestBackoff_CustomFatal(t *testing.T) {
	b := quick(5)
	b.Fatal = func(err error) bool { return errors.Is(err, syscall.ECONNREFUSED) }
	dials := 0
	err := b.Do(context.Background(), func(int) error {
		dials++
		return refused()
	})
	if !errors.Is(err, syscall.ECONNREFUSED) || dials != 1 {
		t.Errorf("Do = %v after %d dials, want refused after 1", err, dials)
	}

	// With the override, an auth failure is just another failure.
	dials = 0
	err = b.Do(context.Background(), func(int) error {
		dials++
		return ncerr.ErrAuthFailed
	})
	if dials != 5 || !strings.Contains(err.Error(), "max retries (5)") {
		t.Errorf("Do = %v after %d dials, want budget exhausted after 5", err, dials)
	}
}

func TestBackoff_PermanentUnwrapped(t *testing.T) {
	dials := 0
	err := quick(5).Do(context.Background(), func(int) error {
		dials++
		return Permanent(ncerr.ErrDuplicateLogin)
	})
	if err != ncerr.ErrDuplicateLogin {
		t.Errorf("Do = %v, want the bare cause", err)
	}
	if dials != 1 {
		t.Errorf("dials = %d, want 1", dials)
	}
}

func TestBackoff_BudgetExhausted(t *testing.T) {
	dials := 0
	err := quick(3).Do(context.Background(), func(int) error {
		dials++
		return refused()
	})
	if dials != 3 {
		t.Errorf("dials = %d, want 3", dials)
	}
	if err == nil || !strings.Contains(err.Error(), "max retries (3)") {
		t.Fatalf("Do = %v", err)
	}
	if !errors.Is(err, syscall.ECONNREFUSED) {
		t.Errorf("last failure not wrapped: %v", err)
	}
}

func TestBackoff_CancelledWhileWaiting(t *testing.T) {
	b := &Backoff{InitialDelay: time.Hour}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := b.Do(ctx, func(int) error { return refused() })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Do = %v, want deadline exceeded", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Do kept sleeping after cancellation")
	}
}

func TestBackoff_ScheduleDefaults(t *testing.T) {
	b := &Backoff{InitialDelay: time.Millisecond, MaxDelay: 3 * time.Millisecond, Multiplier: 10}
	d, grow, ceiling := b.schedule()
	if d != time.Millisecond || grow != 10 || ceiling != 3*time.Millisecond {
		t.Errorf("schedule = %v, %v, %v", d, grow, ceiling)
	}

	var zero Backoff
	d, grow, ceiling = zero.schedule()
	if d != time.Second || grow != 2 || ceiling != time.Minute {
		t.Errorf("zero schedule = %v, %v, %v", d, grow, ceiling)
	}
}

func TestPermanent_Nil(t *testing.T) {
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) should be nil")
	}
	if IsPermanent(refused()) {
		t.Error("a refused dial is not permanent")
	}
}

func TestJitter_Range(t *testing.T) {
	d := 100 * time.Millisecond
	lower := time.Duration(float64(d) * 0.75)
	upper := time.Duration(float64(d) * 1.25)
	for i := 0; i < 100; i++ {
		if j := addJitter(d); j < lower || j > upper {
			t.Errorf("jitter %v outside [%v, %v]", j, lower, upper)
		}
	}
	if j := addJitter(0); j != time.Millisecond {
		t.Errorf("addJitter(0) = %v, want 1ms floor", j)
	}
}
