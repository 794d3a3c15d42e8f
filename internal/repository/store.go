package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/HasanRzayev/OdiNow/internal/domain"
)

// Querier is the query surface shared by the pool-backed store and
// transaction-scoped queries. Usecases depend on this interface so tests can
// substitute an in-memory implementation.
type Querier interface {
	LockOwner(ctx context.Context, ownerID uuid.UUID) error
	UserExists(ctx context.Context, id uuid.UUID) (bool, error)
	OfferExists(ctx context.Context, id uuid.UUID) (bool, error)
	OrderExists(ctx context.Context, id uuid.UUID) (bool, error)

	LatestTicketGeneratedAt(ctx context.Context, ownerID uuid.UUID) (time.Time, error)
	AvailableTicketCount(ctx context.Context, ownerID uuid.UUID) (int, error)
	InsertTicket(ctx context.Context, arg InsertUnitParams) error
	ConsumeOldestTicket(ctx context.Context, arg ConsumeUnitParams) (domain.AllocationUnit, error)
	TicketHistory(ctx context.Context, ownerID uuid.UUID, limit int32) ([]domain.TicketHistoryItem, error)

	LatestRightGeneratedAt(ctx context.Context, ownerID uuid.UUID) (time.Time, error)
	AvailableRightCount(ctx context.Context, ownerID uuid.UUID) (int, error)
	InsertRight(ctx context.Context, arg InsertUnitParams) error
	ConsumeOldestRight(ctx context.Context, arg ConsumeUnitParams) (domain.AllocationUnit, error)
	ListRights(ctx context.Context, ownerID uuid.UUID, limit int32) ([]domain.AllocationUnit, error)

	HasViewedOffer(ctx context.Context, ownerID, offerID uuid.UUID) (bool, error)
	InsertOfferView(ctx context.Context, arg InsertOfferViewParams) (int64, error)

	ActiveDrops(ctx context.Context, now time.Time) ([]domain.TicketDrop, error)
	ClaimedDropIDs(ctx context.Context, ownerID uuid.UUID) ([]uuid.UUID, error)
	DropExists(ctx context.Context, id uuid.UUID) (bool, error)
	InsertDropClaim(ctx context.Context, arg InsertDropClaimParams) (int64, error)
	DecrementDropTickets(ctx context.Context, dropID uuid.UUID, now time.Time) (int64, error)
	GetClaim(ctx context.Context, id uuid.UUID) (domain.TicketClaim, error)
	RedeemClaim(ctx context.Context, arg RedeemClaimParams) (int64, error)
	ClaimHistory(ctx context.Context, ownerID uuid.UUID) ([]domain.TicketClaim, error)
	ExpireStaleDrops(ctx context.Context, now time.Time) (int64, error)
	ExpireStaleClaims(ctx context.Context, now time.Time) (int64, error)
	ActiveDropCount(ctx context.Context, now time.Time) (int, error)
	LatestDropCreatedAt(ctx context.Context) (time.Time, error)
	RandomEligibleOffer(ctx context.Context, now time.Time) (uuid.UUID, error)
	InsertDrop(ctx context.Context, arg InsertDropParams) error
}

type Store interface {
	Querier
	ExecTx(ctx context.Context, fn func(Querier) error) error
}

type store struct {
	*Queries
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) Store {
	return &store{
		Queries: NewQueries(pool),
		pool:    pool,
	}
}

func (s *store) ExecTx(ctx context.Context, fn func(Querier) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(s.Queries.WithTx(tx)); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("tx err: %v, rollback err: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
