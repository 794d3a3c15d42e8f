package usecase

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/HasanRzayev/OdiNow/internal/allocator"
	"github.com/HasanRzayev/OdiNow/internal/domain"
	"github.com/HasanRzayev/OdiNow/internal/repository"
)

type DropConfig struct {
	// Interval is the minimum spacing between generated drops.
	Interval time.Duration
	// Duration is how long a drop stays claimable after creation.
	Duration time.Duration
	// TicketsPerDrop is the shared pool size of each drop.
	TicketsPerDrop int
	// MaxActive caps how many drops can be open at once.
	MaxActive int
}

// DropService runs the shared promotional drops: timed batches of claimable
// tickets tied to one offer, at most one claim per user per drop, redeemed by
// code at the restaurant. Drops are a standalone promotion and play no part
// in offer-view gating.
type DropService struct {
	store repository.Store
	cfg   DropConfig
	clock allocator.Clock
	log   zerolog.Logger
}

func NewDropService(store repository.Store, cfg DropConfig, clock allocator.Clock, log zerolog.Logger) *DropService {
	return &DropService{store: store, cfg: cfg, clock: clock, log: log}
}

// ActiveDrops lists currently claimable drops, flagging those the user has
// already claimed from.
func (s *DropService) ActiveDrops(ctx context.Context, userID uuid.UUID) ([]domain.TicketDrop, error) {
	if err := s.requireUser(ctx, userID); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	drops, err := s.store.ActiveDrops(ctx, now)
	if err != nil {
		return nil, err
	}
	claimedIDs, err := s.store.ClaimedDropIDs(ctx, userID)
	if err != nil {
		return nil, err
	}

	claimed := make(map[uuid.UUID]bool, len(claimedIDs))
	for _, id := range claimedIDs {
		claimed[id] = true
	}
	for i := range drops {
		drops[i].Claimed = claimed[drops[i].ID]
	}
	return drops, nil
}

// Claim races for one ticket from a drop. The uniquely-keyed claim insert and
// the guarded pool decrement commit together; failing either rolls back the
// other.
func (s *DropService) Claim(ctx context.Context, userID, dropID uuid.UUID) (*domain.TicketClaim, error) {
	if err := s.requireUser(ctx, userID); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	code, err := newClaimCode()
	if err != nil {
		return nil, err
	}
	claim := &domain.TicketClaim{
		ID:        uuid.New(),
		DropID:    dropID,
		OwnerID:   userID,
		Code:      code,
		Status:    domain.ClaimClaimed,
		ClaimedAt: now,
	}
	claim.QRPayload = fmt.Sprintf("odinow:ticket:%s:%s", claim.ID, claim.Code)

	err = s.store.ExecTx(ctx, func(q repository.Querier) error {
		rows, err := q.InsertDropClaim(ctx, repository.InsertDropClaimParams{
			ID:        claim.ID,
			DropID:    claim.DropID,
			OwnerID:   claim.OwnerID,
			Code:      claim.Code,
			QRPayload: claim.QRPayload,
			ClaimedAt: claim.ClaimedAt,
		})
		if err != nil {
			if strings.Contains(err.Error(), "foreign key") {
				return domain.ErrTargetNotFound
			}
			return err
		}
		if rows == 0 {
			return domain.ErrAlreadyClaimed
		}

		rows, err = q.DecrementDropTickets(ctx, dropID, now)
		if err != nil {
			return err
		}
		if rows == 0 {
			// Sold out, expired, or not yet open.
			return domain.ErrDropUnavailable
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Stringer("user_id", userID).
		Stringer("drop_id", dropID).
		Stringer("claim_id", claim.ID).
		Msg("ticket claimed from drop")
	return claim, nil
}

// Redeem marks a claim redeemed when the presented code matches and the claim
// is still outstanding.
func (s *DropService) Redeem(ctx context.Context, userID, claimID uuid.UUID, code string) error {
	if err := s.requireUser(ctx, userID); err != nil {
		return err
	}

	now := s.clock.Now()
	rows, err := s.store.RedeemClaim(ctx, repository.RedeemClaimParams{
		ClaimID: claimID,
		OwnerID: userID,
		Code:    code,
		Now:     now,
	})
	if err != nil {
		return err
	}
	if rows > 0 {
		s.log.Info().Stringer("claim_id", claimID).Msg("ticket claim redeemed")
		return nil
	}

	claim, err := s.store.GetClaim(ctx, claimID)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrClaimNotFound
	}
	if err != nil {
		return err
	}
	if claim.OwnerID != userID {
		return domain.ErrClaimNotFound
	}
	// Wrong code, already redeemed, or expired.
	return domain.ErrDropUnavailable
}

func (s *DropService) History(ctx context.Context, userID uuid.UUID) ([]domain.TicketClaim, error) {
	if err := s.requireUser(ctx, userID); err != nil {
		return nil, err
	}
	return s.store.ClaimHistory(ctx, userID)
}

// RunSweep is the periodic maintenance pass: deactivate drops whose window
// has closed, expire their unredeemed claims, then create the next drop when
// one is due. Every step is idempotent, so overlapping or repeated runs are
// harmless.
func (s *DropService) RunSweep(ctx context.Context) error {
	now := s.clock.Now()

	expiredDrops, err := s.store.ExpireStaleDrops(ctx, now)
	if err != nil {
		return err
	}
	expiredClaims, err := s.store.ExpireStaleClaims(ctx, now)
	if err != nil {
		return err
	}
	if expiredDrops > 0 || expiredClaims > 0 {
		s.log.Info().
			Int64("drops", expiredDrops).
			Int64("claims", expiredClaims).
			Msg("expired stale drops and claims")
	}

	return s.generateDropIfDue(ctx, now)
}

func (s *DropService) generateDropIfDue(ctx context.Context, now time.Time) error {
	return s.store.ExecTx(ctx, func(q repository.Querier) error {
		active, err := q.ActiveDropCount(ctx, now)
		if err != nil {
			return err
		}
		if active >= s.cfg.MaxActive {
			return nil
		}

		last, err := q.LatestDropCreatedAt(ctx)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return err
		}
		if err == nil && last.Add(s.cfg.Interval).After(now) {
			return nil
		}

		offerID, err := q.RandomEligibleOffer(ctx, now)
		if errors.Is(err, pgx.ErrNoRows) {
			s.log.Debug().Msg("no eligible offers for drop generation")
			return nil
		}
		if err != nil {
			return err
		}

		drop := repository.InsertDropParams{
			ID:            uuid.New(),
			OfferID:       offerID,
			TicketsTotal:  s.cfg.TicketsPerDrop,
			AvailableFrom: now,
			ExpiresAt:     now.Add(s.cfg.Duration),
			CreatedAt:     now,
		}
		if err := q.InsertDrop(ctx, drop); err != nil {
			return err
		}

		s.log.Info().
			Stringer("drop_id", drop.ID).
			Stringer("offer_id", offerID).
			Time("expires_at", drop.ExpiresAt).
			Msg("generated ticket drop")
		return nil
	})
}

func (s *DropService) requireUser(ctx context.Context, userID uuid.UUID) error {
	ok, err := s.store.UserExists(ctx, userID)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrOwnerNotFound
	}
	return nil
}

func newClaimCode() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
