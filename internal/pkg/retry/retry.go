// Package retry runs downstream writes under the booking engine's retry
// policy: contention is retried immediately a bounded number of times,
// transient failures back off exponentially, anything else is returned at
// once.
package retry

import (
	"context"
	"time"

	"courtbook/internal/domain"
)

type Policy struct {
	BaseDelay        time.Duration
	Multiplier       float64
	MaxAttempts      int
	ConflictAttempts int
}

func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:        500 * time.Millisecond,
		Multiplier:       2,
		MaxAttempts:      3,
		ConflictAttempts: 5,
	}
}

// Do calls fn until it succeeds, returns a non-retryable error, or the
// attempt budget is spent. An exhausted transient failure is returned
// unchanged so callers can flag it for reconciliation.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.Multiplier < 1 {
		p.Multiplier = 1
	}

	delay := p.BaseDelay
	transientAttempts, conflictAttempts := 0, 0
	for {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		switch {
		case domain.IsKind(err, domain.KindContention):
			conflictAttempts++
			if conflictAttempts >= p.ConflictAttempts {
				return err
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return err
			}
		case domain.IsKind(err, domain.KindTransient):
			transientAttempts++
			if transientAttempts >= p.MaxAttempts {
				return err
			}
			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return err
			case <-t.C:
			}
			delay = time.Duration(float64(delay) * p.Multiplier)
		default:
			return err
		}
	}
}
