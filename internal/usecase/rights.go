package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/HasanRzayev/OdiNow/internal/allocator"
	"github.com/HasanRzayev/OdiNow/internal/domain"
	"github.com/HasanRzayev/OdiNow/internal/repository"
)

// RightsService maintains each user's renewable cancellation rights. Unlike
// the offer-view gate there is no graceful degradation: an order cancellation
// without an available right fails outright.
type RightsService struct {
	store  repository.Store
	engine allocator.Engine
	clock  allocator.Clock
	log    zerolog.Logger
}

func NewRightsService(store repository.Store, interval time.Duration, max int, clock allocator.Clock, log zerolog.Logger) *RightsService {
	return &RightsService{
		store:  store,
		engine: allocator.Engine{Interval: interval, Max: max},
		clock:  clock,
		log:    log,
	}
}

func (s *RightsService) GetRights(ctx context.Context, userID uuid.UUID) (*domain.CancellationRights, error) {
	if err := s.requireUser(ctx, userID); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	var rights *domain.CancellationRights
	err := s.store.ExecTx(ctx, func(q repository.Querier) error {
		ledger := repository.RightsLedger(q, userID)
		if err := s.engine.CatchUp(ctx, ledger, now); err != nil {
			return err
		}

		count, err := ledger.AvailableCount(ctx)
		if err != nil {
			return err
		}
		latest, _, err := ledger.LatestGeneratedAt(ctx)
		if err != nil {
			return err
		}
		units, err := q.ListRights(ctx, userID, int32(s.engine.Max))
		if err != nil {
			return err
		}

		rights = &domain.CancellationRights{
			AvailableRights: count,
			MaxRights:       s.engine.Max,
			NextRenewalAt:   s.engine.NextReplenishAt(latest, count),
			Rights:          units,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rights, nil
}

// UseRight spends one cancellation right against an order. Exhaustion
// surfaces as domain.ErrNoUnitsAvailable and must block the cancellation.
func (s *RightsService) UseRight(ctx context.Context, userID, orderID uuid.UUID) error {
	if err := s.requireUser(ctx, userID); err != nil {
		return err
	}
	ok, err := s.store.OrderExists(ctx, orderID)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrTargetNotFound
	}

	now := s.clock.Now()
	err = s.store.ExecTx(ctx, func(q repository.Querier) error {
		ledger := repository.RightsLedger(q, userID)
		_, err := s.engine.ConsumeOne(ctx, ledger, orderID, now)
		return err
	})
	if err != nil {
		return err
	}

	s.log.Debug().
		Stringer("user_id", userID).
		Stringer("order_id", orderID).
		Msg("cancellation right used")
	return nil
}

func (s *RightsService) requireUser(ctx context.Context, userID uuid.UUID) error {
	ok, err := s.store.UserExists(ctx, userID)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrOwnerNotFound
	}
	return nil
}
