package handlers

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// AdminHandler serves operator endpoints
type AdminHandler struct {
	checkouts CheckoutService
	checks    map[string]HealthCheck
}

// NewAdminHandler creates a new admin handler. checks are run by Health.
func NewAdminHandler(checkouts CheckoutService, checks map[string]HealthCheck) *AdminHandler {
	return &AdminHandler{
		checkouts: checkouts,
		checks:    checks,
	}
}

// ReissueCheckout retries issuance for a checkout whose payment was captured
func (h *AdminHandler) ReissueCheckout(w http.ResponseWriter, r *http.Request) {
	orderRef := chi.URLParam(r, "orderRef")
	log.Printf("Admin: reissue requested for %s", orderRef)

	checkout, err := h.checkouts.RetryIssuance(r.Context(), orderRef)
	if err != nil {
		writeCheckoutError(w, r, checkout, err)
		return
	}
	writeJSON(w, http.StatusOK, checkout)
}

// HealthResponse is the body of GET /healthz
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Health runs every dependency check with a short timeout
func (h *AdminHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	resp := HealthResponse{Status: "ok", Checks: make(map[string]string, len(h.checks))}
	status := http.StatusOK
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	writeJSON(w, status, resp)
}
