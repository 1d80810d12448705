package handlers

import (
	"net/http"

	"event-ticketing-checkout/internal/models"
	"event-ticketing-checkout/internal/services"

	"github.com/go-chi/chi/v5"
)

// CheckoutHandler drives checkouts over the JSON API
type CheckoutHandler struct {
	checkouts CheckoutService
	orders    OrderService
}

// NewCheckoutHandler creates a new checkout handler
func NewCheckoutHandler(checkouts CheckoutService, orders OrderService) *CheckoutHandler {
	return &CheckoutHandler{
		checkouts: checkouts,
		orders:    orders,
	}
}

// StartCheckout creates the checkout for an orderRef, or returns the
// existing one when the orderRef was seen before.
func (h *CheckoutHandler) StartCheckout(w http.ResponseWriter, r *http.Request) {
	var req models.StartCheckoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	checkout, err := h.checkouts.Start(r.Context(), &req)
	if err != nil {
		writeCheckoutError(w, r, checkout, err)
		return
	}
	writeJSON(w, http.StatusOK, checkout)
}

// GetCheckout returns the checkout state
func (h *CheckoutHandler) GetCheckout(w http.ResponseWriter, r *http.Request) {
	checkout, err := h.checkouts.Get(r.Context(), chi.URLParam(r, "orderRef"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, checkout)
}

// PayCheckout charges the checkout. Redirect gateways answer with the
// checkout in payment_pending and redirect_target set.
func (h *CheckoutHandler) PayCheckout(w http.ResponseWriter, r *http.Request) {
	var req services.PayRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	checkout, err := h.checkouts.Pay(r.Context(), chi.URLParam(r, "orderRef"), req)
	if err != nil {
		writeCheckoutError(w, r, checkout, err)
		return
	}
	writeJSON(w, http.StatusOK, checkout)
}

// CancelCheckout abandons a checkout before payment is confirmed
func (h *CheckoutHandler) CancelCheckout(w http.ResponseWriter, r *http.Request) {
	checkout, err := h.checkouts.Cancel(r.Context(), chi.URLParam(r, "orderRef"))
	if err != nil {
		writeCheckoutError(w, r, checkout, err)
		return
	}
	writeJSON(w, http.StatusOK, checkout)
}

// GetOrder returns the issued order with its tickets
func (h *CheckoutHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	view, err := h.orders.GetOrderWithTickets(r.Context(), chi.URLParam(r, "orderRef"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}
