package allocator

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/HasanRzayev/OdiNow/internal/domain"
)

// Ledger is one owner's slice of an allocation table. Implementations are
// transaction-scoped: every method runs against the same database transaction,
// so a failed consume rolls back any units generated during catch-up.
type Ledger interface {
	// Lock takes the owner's exclusive generation lock for the rest of the
	// transaction. Generation must not run under plain read-committed reads:
	// without the lock, two overlapping catch-ups each see the same committed
	// state and can fill the pool past the cap.
	Lock(ctx context.Context) error

	// LatestGeneratedAt returns the newest generation timestamp for the
	// owner, or ok=false when the owner has no units at all.
	LatestGeneratedAt(ctx context.Context) (latest time.Time, ok bool, err error)

	// AvailableCount returns how many units the owner can spend right now.
	AvailableCount(ctx context.Context) (int, error)

	// Append creates one available unit with the given generation timestamp.
	Append(ctx context.Context, generatedAt time.Time) error

	// ConsumeOldest atomically marks the oldest available unit as used
	// against target. Returns domain.ErrNoUnitsAvailable when no unlocked
	// available row exists.
	ConsumeOldest(ctx context.Context, target uuid.UUID, now time.Time) (domain.AllocationUnit, error)
}

// Engine is a lazily refilled token bucket over a Ledger: one unit accrues
// per Interval, the pool is capped at Max, and refill happens at access time
// rather than on a running clock. An owner who stays away simply saturates at
// Max instead of accruing units beyond the cap.
type Engine struct {
	Interval time.Duration
	Max      int
}

// CatchUp materializes every unit the owner is entitled to at now.
//
// A brand-new owner is backfilled with a full pool, one unit per Interval
// ending at now, so they see Max units immediately instead of waiting
// Max*Interval. An existing owner gains one unit per elapsed interval
// boundary since their latest generation, stopping at the cap. The available
// count is re-read from the ledger on every step so concurrent consumption
// elsewhere cannot push the pool past Max.
//
// The owner's generation lock is taken first: a concurrent catch-up for the
// same owner waits here, then re-reads a state that already includes the
// winner's units.
func (e Engine) CatchUp(ctx context.Context, ledger Ledger, now time.Time) error {
	if err := ledger.Lock(ctx); err != nil {
		return err
	}

	latest, ok, err := ledger.LatestGeneratedAt(ctx)
	if err != nil {
		return err
	}

	if !ok {
		for i := e.Max - 1; i >= 0; i-- {
			if err := ledger.Append(ctx, now.Add(-time.Duration(i)*e.Interval)); err != nil {
				return err
			}
		}
		return nil
	}

	for next := latest.Add(e.Interval); !next.After(now); next = next.Add(e.Interval) {
		count, err := ledger.AvailableCount(ctx)
		if err != nil {
			return err
		}
		if count >= e.Max {
			break
		}
		if err := ledger.Append(ctx, next); err != nil {
			return err
		}
	}
	return nil
}

// Consume catches the ledger up and spends the oldest available unit (FIFO).
//
// When no row comes back but the owner still shows available units, the
// caller lost a row lock to a concurrent consumer; that is reported as
// domain.ErrConcurrentConsumption so the caller can retry the check once.
// An empty pool is domain.ErrNoUnitsAvailable.
func (e Engine) Consume(ctx context.Context, ledger Ledger, target uuid.UUID, now time.Time) (domain.AllocationUnit, error) {
	if err := e.CatchUp(ctx, ledger, now); err != nil {
		return domain.AllocationUnit{}, err
	}

	unit, err := ledger.ConsumeOldest(ctx, target, now)
	if !errors.Is(err, domain.ErrNoUnitsAvailable) {
		return unit, err
	}

	count, countErr := ledger.AvailableCount(ctx)
	if countErr != nil {
		return domain.AllocationUnit{}, countErr
	}
	if count > 0 {
		return domain.AllocationUnit{}, domain.ErrConcurrentConsumption
	}

	latest, ok, err := ledger.LatestGeneratedAt(ctx)
	if err != nil {
		return domain.AllocationUnit{}, err
	}
	if ok {
		return domain.AllocationUnit{}, &domain.ExhaustedError{NextUnitAt: e.NextReplenishAt(latest, count)}
	}
	return domain.AllocationUnit{}, domain.ErrNoUnitsAvailable
}

// ConsumeOne is Consume plus the single retry the race loser is entitled to:
// a second loss degrades to domain.ErrNoUnitsAvailable.
func (e Engine) ConsumeOne(ctx context.Context, ledger Ledger, target uuid.UUID, now time.Time) (domain.AllocationUnit, error) {
	unit, err := e.Consume(ctx, ledger, target, now)
	if !errors.Is(err, domain.ErrConcurrentConsumption) {
		return unit, err
	}

	unit, err = e.Consume(ctx, ledger, target, now)
	if errors.Is(err, domain.ErrConcurrentConsumption) {
		return domain.AllocationUnit{}, domain.ErrNoUnitsAvailable
	}
	return unit, err
}

// NextReplenishAt reports when the next unit becomes due given the newest
// generation timestamp, or nil when the pool is already at capacity.
func (e Engine) NextReplenishAt(latest time.Time, available int) *time.Time {
	if available >= e.Max {
		return nil
	}
	next := latest.Add(e.Interval)
	return &next
}
