package usecase

import (
	"context"

	"github.com/google/uuid"

	"github.com/HasanRzayev/OdiNow/internal/domain"
)

// AllocationGateway is the entry point for ticket and cancellation-right
// operations. It is implemented both by the Kafka request/reply gateway and
// by the direct in-process gateway.
type AllocationGateway interface {
	GetTicketSummary(ctx context.Context, userID uuid.UUID) (*domain.TicketSummary, error)
	ConsumeTicketForOffer(ctx context.Context, userID, offerID uuid.UUID) (bool, error)
	GetCancellationRights(ctx context.Context, userID uuid.UUID) (*domain.CancellationRights, error)
	UseCancellationRight(ctx context.Context, userID, orderID uuid.UUID) error
}

// DropGateway exposes the promotional ticket-drop operations.
type DropGateway interface {
	ActiveDrops(ctx context.Context, userID uuid.UUID) ([]domain.TicketDrop, error)
	Claim(ctx context.Context, userID, dropID uuid.UUID) (*domain.TicketClaim, error)
	Redeem(ctx context.Context, userID, claimID uuid.UUID, code string) error
	History(ctx context.Context, userID uuid.UUID) ([]domain.TicketClaim, error)
}
