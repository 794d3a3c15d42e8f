package kafka

import (
	"context"

	"github.com/google/uuid"

	"github.com/HasanRzayev/OdiNow/internal/domain"
	"github.com/HasanRzayev/OdiNow/internal/usecase"
)

// DirectGateway bypasses Kafka and calls the services in process. Used when
// EVENT_DRIVEN_ENABLED is off.
type DirectGateway struct {
	tickets *usecase.TicketService
	rights  *usecase.RightsService
}

func NewDirectGateway(tickets *usecase.TicketService, rights *usecase.RightsService) usecase.AllocationGateway {
	return &DirectGateway{tickets: tickets, rights: rights}
}

func (g *DirectGateway) GetTicketSummary(ctx context.Context, userID uuid.UUID) (*domain.TicketSummary, error) {
	return g.tickets.GetSummary(ctx, userID)
}

func (g *DirectGateway) ConsumeTicketForOffer(ctx context.Context, userID, offerID uuid.UUID) (bool, error) {
	return g.tickets.ConsumeForOffer(ctx, userID, offerID)
}

func (g *DirectGateway) GetCancellationRights(ctx context.Context, userID uuid.UUID) (*domain.CancellationRights, error) {
	return g.rights.GetRights(ctx, userID)
}

func (g *DirectGateway) UseCancellationRight(ctx context.Context, userID, orderID uuid.UUID) error {
	return g.rights.UseRight(ctx, userID, orderID)
}
