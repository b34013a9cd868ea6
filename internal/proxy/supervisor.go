package proxy

import (
	"context"
	"fmt"

	ncerr "rollcall/internal/errors"
	"rollcall/internal/metrics"
	"rollcall/internal/retry"
	"rollcall/util"
)

// Supervisor keeps a proxy running by building a fresh one whenever
// the previous one ends.  Connect attempts are paced by Backoff and
// guarded by Breaker; a proxy never retries on its own.  Once Breaker
// opens, Backoff treats the rejection as fatal and Run gives up.
type Supervisor struct {
	// NewProxy builds the next proxy generation.
	NewProxy func() *Proxy
	Backoff  *retry.Backoff
	Breaker  *retry.CircuitBreaker
	Logger   *util.Logger
	Metrics  *metrics.Collector
}

// Run blocks until ctx is done or reconnecting gives up.
func (s *Supervisor) Run(ctx context.Context) error {
	backoff := s.Backoff
	if backoff == nil {
		backoff = retry.DefaultBackoff()
	}
	breaker := s.Breaker
	if breaker == nil {
		breaker = retry.NewCircuitBreaker(nil)
	}

	for generation := 1; ; generation++ {
		var p *Proxy
		err := backoff.Do(ctx, func(attempt int) error {
			err := breaker.Execute(func() error {
				p = s.NewProxy()
				return p.Start(ctx)
			})
			switch {
			case err == nil:
			case ncerr.IsRetryable(err):
				s.Logger.Verbose("proxy attempt %d: %v", attempt, err)
			default:
				s.Logger.Warn("proxy attempt %d: %v", attempt, err)
			}
			return err
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("proxy supervisor: %w", err)
		}
		if generation > 1 {
			s.Metrics.Reconnect()
		}

		cause := p.Wait()
		if ctx.Err() != nil {
			return nil
		}
		if ncerr.Classify(cause) == ncerr.KindStopped {
			return nil
		}
		s.Logger.Info("proxy generation %d ended: %v; reconnecting", generation, cause)
	}
}
