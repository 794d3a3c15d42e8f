package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/HasanRzayev/OdiNow/internal/allocator"
	"github.com/HasanRzayev/OdiNow/internal/domain"
)

// TicketLedger binds a Querier to one owner's tickets, giving the allocation
// engine its transaction-scoped view of the user_tickets table.
func TicketLedger(q Querier, ownerID uuid.UUID) allocator.Ledger {
	return ticketLedger{q: q, ownerID: ownerID}
}

// RightsLedger is TicketLedger's sibling over cancellation_rights.
func RightsLedger(q Querier, ownerID uuid.UUID) allocator.Ledger {
	return rightsLedger{q: q, ownerID: ownerID}
}

type ticketLedger struct {
	q       Querier
	ownerID uuid.UUID
}

func (l ticketLedger) Lock(ctx context.Context) error {
	return l.q.LockOwner(ctx, l.ownerID)
}

func (l ticketLedger) LatestGeneratedAt(ctx context.Context) (time.Time, bool, error) {
	t, err := l.q.LatestTicketGeneratedAt(ctx, l.ownerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

func (l ticketLedger) AvailableCount(ctx context.Context) (int, error) {
	return l.q.AvailableTicketCount(ctx, l.ownerID)
}

func (l ticketLedger) Append(ctx context.Context, generatedAt time.Time) error {
	return l.q.InsertTicket(ctx, InsertUnitParams{
		ID:          uuid.New(),
		OwnerID:     l.ownerID,
		GeneratedAt: generatedAt,
	})
}

func (l ticketLedger) ConsumeOldest(ctx context.Context, target uuid.UUID, now time.Time) (domain.AllocationUnit, error) {
	u, err := l.q.ConsumeOldestTicket(ctx, ConsumeUnitParams{OwnerID: l.ownerID, TargetID: target, Now: now})
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.AllocationUnit{}, domain.ErrNoUnitsAvailable
	}
	return u, err
}

type rightsLedger struct {
	q       Querier
	ownerID uuid.UUID
}

func (l rightsLedger) Lock(ctx context.Context) error {
	return l.q.LockOwner(ctx, l.ownerID)
}

func (l rightsLedger) LatestGeneratedAt(ctx context.Context) (time.Time, bool, error) {
	t, err := l.q.LatestRightGeneratedAt(ctx, l.ownerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

func (l rightsLedger) AvailableCount(ctx context.Context) (int, error) {
	return l.q.AvailableRightCount(ctx, l.ownerID)
}

func (l rightsLedger) Append(ctx context.Context, generatedAt time.Time) error {
	return l.q.InsertRight(ctx, InsertUnitParams{
		ID:          uuid.New(),
		OwnerID:     l.ownerID,
		GeneratedAt: generatedAt,
	})
}

func (l rightsLedger) ConsumeOldest(ctx context.Context, target uuid.UUID, now time.Time) (domain.AllocationUnit, error) {
	u, err := l.q.ConsumeOldestRight(ctx, ConsumeUnitParams{OwnerID: l.ownerID, TargetID: target, Now: now})
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.AllocationUnit{}, domain.ErrNoUnitsAvailable
	}
	return u, err
}
