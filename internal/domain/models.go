package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrOwnerNotFound         = errors.New("owner not found")
	ErrTargetNotFound        = errors.New("target not found")
	ErrNoUnitsAvailable      = errors.New("no units available")
	ErrConcurrentConsumption = errors.New("lost race for available unit")
	ErrAlreadyClaimed        = errors.New("user already claimed a ticket from this drop")
	ErrDropUnavailable       = errors.New("ticket drop is not available")
	ErrClaimNotFound         = errors.New("ticket claim not found")
)

// ExhaustedError is ErrNoUnitsAvailable plus when the next unit becomes
// available, so callers can report the wait without another ledger read. It
// matches ErrNoUnitsAvailable under errors.Is.
type ExhaustedError struct {
	NextUnitAt *time.Time
}

func (e *ExhaustedError) Error() string { return ErrNoUnitsAvailable.Error() }

func (e *ExhaustedError) Unwrap() error { return ErrNoUnitsAvailable }

type UnitStatus string

const (
	UnitAvailable UnitStatus = "available"
	UnitUsed      UnitStatus = "used"
)

// AllocationUnit is one consumable, time-replenished slot owned by a single
// user. Tickets and cancellation rights share this shape; they differ only in
// replenishment parameters and in what TargetID points at (offer vs order).
type AllocationUnit struct {
	ID          uuid.UUID  `json:"id"`
	OwnerID     uuid.UUID  `json:"owner_id"`
	Status      UnitStatus `json:"status"`
	TargetID    *uuid.UUID `json:"target_id,omitempty"`
	GeneratedAt time.Time  `json:"generated_at"`
	UsedAt      *time.Time `json:"used_at,omitempty"`
}

type TicketSummary struct {
	AvailableTickets int                 `json:"available_tickets"`
	MaxTickets       int                 `json:"max_tickets"`
	NextTicketAt     *time.Time          `json:"next_ticket_at,omitempty"`
	History          []TicketHistoryItem `json:"history"`
}

type TicketHistoryItem struct {
	TicketID        uuid.UUID `json:"ticket_id"`
	OfferID         uuid.UUID `json:"offer_id"`
	OfferTitle      string    `json:"offer_title"`
	RestaurantName  string    `json:"restaurant_name,omitempty"`
	DiscountPercent int       `json:"discount_percent"`
	UsedAt          time.Time `json:"used_at"`
}

type CancellationRights struct {
	AvailableRights int              `json:"available_rights"`
	MaxRights       int              `json:"max_rights"`
	NextRenewalAt   *time.Time       `json:"next_renewal_at,omitempty"`
	Rights          []AllocationUnit `json:"rights"`
}

type ClaimStatus string

const (
	ClaimClaimed  ClaimStatus = "claimed"
	ClaimRedeemed ClaimStatus = "redeemed"
	ClaimExpired  ClaimStatus = "expired"
)

// TicketDrop is a shared, time-boxed batch of claimable tickets tied to one
// offer. Users race to claim at most one ticket each while the drop is open.
type TicketDrop struct {
	ID               uuid.UUID `json:"id"`
	OfferID          uuid.UUID `json:"offer_id"`
	OfferTitle       string    `json:"offer_title"`
	TicketsTotal     int       `json:"tickets_total"`
	TicketsRemaining int       `json:"tickets_remaining"`
	AvailableFrom    time.Time `json:"available_from"`
	ExpiresAt        time.Time `json:"expires_at"`
	IsActive         bool      `json:"is_active"`
	CreatedAt        time.Time `json:"created_at"`
	Claimed          bool      `json:"claimed"`
}

type TicketClaim struct {
	ID         uuid.UUID   `json:"id"`
	DropID     uuid.UUID   `json:"drop_id"`
	OwnerID    uuid.UUID   `json:"owner_id"`
	Code       string      `json:"code"`
	QRPayload  string      `json:"qr_payload"`
	Status     ClaimStatus `json:"status"`
	ClaimedAt  time.Time   `json:"claimed_at"`
	RedeemedAt *time.Time  `json:"redeemed_at,omitempty"`
	ExpiredAt  *time.Time  `json:"expired_at,omitempty"`
}
