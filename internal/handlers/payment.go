package handlers

import (
	"errors"
	"io"
	"log"
	"net/http"
	"net/url"

	"event-ticketing-checkout/internal/models"
	"event-ticketing-checkout/internal/payments"

	"github.com/go-chi/chi/v5"
)

// PaymentHandler receives buyers returning from a gateway and the
// gateways' webhook notifications
type PaymentHandler struct {
	checkouts  CheckoutService
	webhooks   WebhookParser
	successURL string
	failureURL string
}

// NewPaymentHandler creates a new payment handler
func NewPaymentHandler(checkouts CheckoutService, webhooks WebhookParser, successURL, failureURL string) *PaymentHandler {
	return &PaymentHandler{
		checkouts:  checkouts,
		webhooks:   webhooks,
		successURL: successURL,
		failureURL: failureURL,
	}
}

// PaymentReturn resumes a redirect flow and sends the buyer to the result page
func (h *PaymentHandler) PaymentReturn(w http.ResponseWriter, r *http.Request) {
	gateway := chi.URLParam(r, "gateway")
	query := r.URL.Query()
	orderRef := query.Get("order_ref")

	if orderRef == "" {
		log.Printf("Payment return: %s callback without order_ref", gateway)
		http.Redirect(w, r, h.failureURL, http.StatusSeeOther)
		return
	}

	payload := make(map[string]string, len(query))
	for key := range query {
		if key != "order_ref" {
			payload[key] = query.Get(key)
		}
	}

	log.Printf("Payment return received: gateway=%s order_ref=%s", gateway, orderRef)

	checkout, err := h.checkouts.Resume(r.Context(), orderRef, payload)
	if err != nil {
		log.Printf("Payment return: failed to resume %s: %v", orderRef, err)
	}
	http.Redirect(w, r, h.resultURL(orderRef, checkout), http.StatusSeeOther)
}

func (h *PaymentHandler) resultURL(orderRef string, checkout *models.Checkout) string {
	target := h.failureURL
	state := "unknown"
	if checkout != nil {
		state = string(checkout.State)
		if checkout.State != models.CheckoutFailed {
			target = h.successURL
		}
	}

	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	q := u.Query()
	q.Set("order_ref", orderRef)
	q.Set("state", state)
	u.RawQuery = q.Encode()
	return u.String()
}

// Webhook verifies a gateway notification and resumes the checkout it
// refers to. Non-2xx answers make the provider retry.
func (h *PaymentHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	gateway := chi.URLParam(r, "gateway")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		log.Printf("Webhook: failed to read %s body: %v", gateway, err)
		http.Error(w, "Invalid webhook body", http.StatusBadRequest)
		return
	}

	event, err := h.webhooks.ParseWebhook(r.Context(), gateway, r.Header, body)
	switch {
	case errors.Is(err, payments.ErrWebhookSignature):
		log.Printf("Webhook: rejected %s notification: %v", gateway, err)
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	case err != nil:
		writeError(w, r, err)
		return
	case event == nil:
		w.WriteHeader(http.StatusOK)
		return
	}

	log.Printf("Webhook received: gateway=%s type=%s order_ref=%s", gateway, event.Type, event.OrderRef)

	checkout, err := h.checkouts.Resume(r.Context(), event.OrderRef, event.Payload)
	if err != nil {
		var payErr *models.PaymentError
		if errors.As(err, &payErr) && !payErr.Retryable() {
			// The decline is recorded on the checkout; nothing to retry.
			log.Printf("Webhook: %s settled as failed: %v", event.OrderRef, err)
			w.WriteHeader(http.StatusOK)
			return
		}
		writeCheckoutError(w, r, checkout, err)
		return
	}

	log.Printf("Webhook processed: order_ref=%s state=%s", event.OrderRef, checkout.State)
	w.WriteHeader(http.StatusOK)
}
