package kafka

import (
	"time"

	"github.com/HasanRzayev/OdiNow/internal/domain"
)

const (
	StatusSuccess = "SUCCESS"
	StatusError   = "ERROR"
)

const (
	ErrCodeOwnerNotFound    = "OWNER_NOT_FOUND"
	ErrCodeTargetNotFound   = "TARGET_NOT_FOUND"
	ErrCodeNoUnitsAvailable = "NO_UNITS_AVAILABLE"
	ErrCodeInvalidRequest   = "INVALID_REQUEST"
	ErrCodeInternalError    = "INTERNAL_ERROR"
)

type RequestPayload struct {
	SchemaVersion int    `json:"schema_version"`
	CorrelationID string `json:"correlation_id"`
	ReplyTo       string `json:"reply_to"`
	UserID        string `json:"user_id,omitempty"`
	OfferID       string `json:"offer_id,omitempty"`
	OrderID       string `json:"order_id,omitempty"`
}

type ResponsePayload struct {
	SchemaVersion int                        `json:"schema_version"`
	CorrelationID string                     `json:"correlation_id"`
	Status        string                     `json:"status"`
	ErrorCode     string                     `json:"error_code,omitempty"`
	ErrorMessage  string                     `json:"error_message,omitempty"`
	NextUnitAt    *time.Time                 `json:"next_unit_at,omitempty"`
	TicketSpent   *bool                      `json:"ticket_spent,omitempty"`
	Summary       *domain.TicketSummary      `json:"summary,omitempty"`
	Rights        *domain.CancellationRights `json:"rights,omitempty"`
}
