package handlers

import (
	"fmt"
	"net/http"

	"event-ticketing-checkout/internal/models"

	"github.com/go-chi/chi/v5"
)

// HoldHandler exposes hold sessions and unit availability
type HoldHandler struct {
	holds HoldService
}

// NewHoldHandler creates a new hold handler
func NewHoldHandler(holds HoldService) *HoldHandler {
	return &HoldHandler{holds: holds}
}

// CreateHoldRequest is the body of POST /api/holds
type CreateHoldRequest struct {
	EventID   string               `json:"event_id"`
	SessionID string               `json:"session_id,omitempty"`
	Items     []models.UnitRequest `json:"items"`
}

// HoldView is a hold session as returned to the client
type HoldView struct {
	*models.HoldSession
	Token string `json:"token"`
}

// CreateHold reserves units and returns the hold with its opaque token
func (h *HoldHandler) CreateHold(w http.ResponseWriter, r *http.Request) {
	var req CreateHoldRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.EventID == "" {
		writeError(w, r, fmt.Errorf("%w: event id is required", models.ErrInvalidInput))
		return
	}

	receipt, err := h.holds.Reserve(r.Context(), req.EventID, req.SessionID, req.Items)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

// GetHold returns the current state of the hold behind a token
func (h *HoldHandler) GetHold(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	session, err := h.holds.Get(r.Context(), token)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, HoldView{HoldSession: session, Token: token})
}

// ExtendHold pushes the hold expiry forward
func (h *HoldHandler) ExtendHold(w http.ResponseWriter, r *http.Request) {
	receipt, err := h.holds.Extend(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// CancelHold releases the hold. Cancelling twice succeeds.
func (h *HoldHandler) CancelHold(w http.ResponseWriter, r *http.Request) {
	if err := h.holds.Cancel(r.Context(), chi.URLParam(r, "token")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetAvailability reports capacity, held and sold for one unit
func (h *HoldHandler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	unit, err := models.ParseUnitRef(chi.URLParam(r, "unitRef"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	availability, err := h.holds.Availability(r.Context(), unit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, availability)
}
