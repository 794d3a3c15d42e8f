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

const ticketHistoryLimit = 20

// TicketService maintains each user's replenishing ticket pool and gates
// offer-detail views on ticket consumption.
type TicketService struct {
	store  repository.Store
	engine allocator.Engine
	clock  allocator.Clock
	log    zerolog.Logger
}

func NewTicketService(store repository.Store, interval time.Duration, max int, clock allocator.Clock, log zerolog.Logger) *TicketService {
	return &TicketService{
		store:  store,
		engine: allocator.Engine{Interval: interval, Max: max},
		clock:  clock,
		log:    log,
	}
}

// GetSummary catches the user's ledger up to now and reports the pool state
// plus recently spent tickets.
func (s *TicketService) GetSummary(ctx context.Context, userID uuid.UUID) (*domain.TicketSummary, error) {
	if err := s.requireUser(ctx, userID); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	var summary *domain.TicketSummary
	err := s.store.ExecTx(ctx, func(q repository.Querier) error {
		ledger := repository.TicketLedger(q, userID)
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
		history, err := q.TicketHistory(ctx, userID, ticketHistoryLimit)
		if err != nil {
			return err
		}

		summary = &domain.TicketSummary{
			AvailableTickets: count,
			MaxTickets:       s.engine.Max,
			NextTicketAt:     s.engine.NextReplenishAt(latest, count),
			History:          history,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return summary, nil
}

// ConsumeForOffer runs the offer-view gate: the first view of an offer spends
// one ticket, every later view is free. The view record and the consumed
// ticket commit in the same transaction, so a crash between the two cannot
// leave them out of step.
//
// Exhaustion denies the view (strict policy): the caller gets
// domain.ErrNoUnitsAvailable and the view record rolls back, so the next
// attempt is still treated as a first view.
func (s *TicketService) ConsumeForOffer(ctx context.Context, userID, offerID uuid.UUID) (bool, error) {
	if err := s.requireUser(ctx, userID); err != nil {
		return false, err
	}
	ok, err := s.store.OfferExists(ctx, offerID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, domain.ErrTargetNotFound
	}

	viewed, err := s.store.HasViewedOffer(ctx, userID, offerID)
	if err != nil {
		return false, err
	}
	if viewed {
		return false, nil
	}

	now := s.clock.Now()
	spent := false
	err = s.store.ExecTx(ctx, func(q repository.Querier) error {
		rows, err := q.InsertOfferView(ctx, repository.InsertOfferViewParams{
			ID:       uuid.New(),
			OwnerID:  userID,
			OfferID:  offerID,
			ViewedAt: now,
		})
		if err != nil {
			return err
		}
		if rows == 0 {
			// A concurrent request won the first view and spent the ticket.
			return nil
		}

		ledger := repository.TicketLedger(q, userID)
		if _, err := s.engine.ConsumeOne(ctx, ledger, offerID, now); err != nil {
			return err
		}
		spent = true
		return nil
	})
	if err != nil {
		return false, err
	}

	if spent {
		s.log.Debug().
			Stringer("user_id", userID).
			Stringer("offer_id", offerID).
			Msg("ticket consumed for offer view")
	}
	return spent, nil
}

func (s *TicketService) requireUser(ctx context.Context, userID uuid.UUID) error {
	ok, err := s.store.UserExists(ctx, userID)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrOwnerNotFound
	}
	return nil
}
