package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/HasanRzayev/OdiNow/internal/domain"
	"github.com/HasanRzayev/OdiNow/internal/usecase"
)

type ConsumeTicketRequest struct {
	OfferID string `json:"offer_id"`
}

type ConsumeTicketResponse struct {
	TicketSpent bool `json:"ticket_spent"`
}

type RedeemClaimRequest struct {
	Code string `json:"code"`
}

type ErrorResponse struct {
	Error        string     `json:"error"`
	NextTicketAt *time.Time `json:"next_ticket_at,omitempty"`
}

type Handler struct {
	allocation usecase.AllocationGateway
	drops      usecase.DropGateway
}

func NewHandler(allocation usecase.AllocationGateway, drops usecase.DropGateway) *Handler {
	return &Handler{allocation: allocation, drops: drops}
}

func (h *Handler) Routes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/tickets", h.GetTickets)
		r.Post("/tickets/consume", h.ConsumeTicket)
		r.Get("/cancellation-rights", h.GetCancellationRights)
		r.Post("/cancellation-rights/use/{orderID}", h.UseCancellationRight)
		r.Get("/ticket-drops", h.GetTicketDrops)
		r.Post("/ticket-drops/{dropID}/claim", h.ClaimDrop)
		r.Post("/ticket-drops/claims/{claimID}/redeem", h.RedeemClaim)
		r.Get("/ticket-drops/history", h.GetClaimHistory)
	})
}

func (h *Handler) GetTickets(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	summary, err := h.allocation.GetTicketSummary(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) ConsumeTicket(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req ConsumeTicketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	offerID, err := uuid.Parse(req.OfferID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid offer_id"})
		return
	}

	spent, err := h.allocation.ConsumeTicketForOffer(r.Context(), userID, offerID)
	if err != nil {
		if errors.Is(err, domain.ErrNoUnitsAvailable) {
			resp := ErrorResponse{Error: "no tickets available"}
			var exhausted *domain.ExhaustedError
			if errors.As(err, &exhausted) {
				resp.NextTicketAt = exhausted.NextUnitAt
			}
			writeJSON(w, http.StatusConflict, resp)
			return
		}
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ConsumeTicketResponse{TicketSpent: spent})
}

func (h *Handler) GetCancellationRights(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	rights, err := h.allocation.GetCancellationRights(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, rights)
}

func (h *Handler) UseCancellationRight(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	orderID, err := uuid.Parse(chi.URLParam(r, "orderID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid order id"})
		return
	}

	if err := h.allocation.UseCancellationRight(r.Context(), userID, orderID); err != nil {
		h.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (h *Handler) GetTicketDrops(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	drops, err := h.drops.ActiveDrops(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if drops == nil {
		drops = []domain.TicketDrop{}
	}

	writeJSON(w, http.StatusOK, drops)
}

func (h *Handler) ClaimDrop(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	dropID, err := uuid.Parse(chi.URLParam(r, "dropID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid drop id"})
		return
	}

	claim, err := h.drops.Claim(r.Context(), userID, dropID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, claim)
}

func (h *Handler) RedeemClaim(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	claimID, err := uuid.Parse(chi.URLParam(r, "claimID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid claim id"})
		return
	}

	var req RedeemClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	if err := h.drops.Redeem(r.Context(), userID, claimID, req.Code); err != nil {
		h.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (h *Handler) GetClaimHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	claims, err := h.drops.History(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if claims == nil {
		claims = []domain.TicketClaim{}
	}

	writeJSON(w, http.StatusOK, claims)
}

func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := r.Header.Get("X-User-ID")
	if raw == "" {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "missing X-User-ID header"})
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "invalid X-User-ID header"})
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrOwnerNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "user not found"})
	case errors.Is(err, domain.ErrTargetNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "not found"})
	case errors.Is(err, domain.ErrClaimNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "claim not found"})
	case errors.Is(err, domain.ErrNoUnitsAvailable):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: "none available"})
	case errors.Is(err, domain.ErrAlreadyClaimed):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: "already claimed"})
	case errors.Is(err, domain.ErrDropUnavailable):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: "drop unavailable"})
	default:
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
