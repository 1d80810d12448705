package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"

	"event-ticketing-checkout/internal/middleware"
	"event-ticketing-checkout/internal/models"
)

const maxBodyBytes = 1 << 20

// errorResponse carries the checkout alongside the error when the call
// changed its state, so the client can render where it ended up.
type errorResponse struct {
	Error    middleware.ErrorBody `json:"error"`
	Checkout *models.Checkout     `json:"checkout,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: malformed JSON body: %v", models.ErrInvalidInput, err)
	}
	return nil
}

// statusFor maps the error taxonomy onto HTTP status codes
func statusFor(err error) (int, middleware.ErrorBody) {
	body := middleware.ErrorBody{Message: err.Error()}

	var invErr *models.InventoryError
	var payErr *models.PaymentError
	var issErr *models.IssuanceError

	switch {
	case errors.As(err, &issErr):
		body.Code = string(issErr.Code)
		body.RequiresOperator = true
		body.Message = "Payment was received but tickets could not be issued. Our team has been alerted."
		return http.StatusInternalServerError, body
	case errors.As(err, &invErr):
		body.Code = string(invErr.Code)
		if invErr.Code == models.InventorySessionNotFound {
			return http.StatusNotFound, body
		}
		return http.StatusConflict, body
	case errors.As(err, &payErr):
		body.Code = string(payErr.Code)
		switch payErr.Code {
		case models.PaymentDeclined:
			return http.StatusPaymentRequired, body
		case models.PaymentGatewayTimeout:
			return http.StatusGatewayTimeout, body
		default:
			return http.StatusServiceUnavailable, body
		}
	case errors.Is(err, models.ErrCheckoutNotFound), errors.Is(err, models.ErrOrderNotFound),
		errors.Is(err, models.ErrAttemptNotFound), errors.Is(err, models.ErrUnitNotFound):
		body.Code = "not_found"
		return http.StatusNotFound, body
	case errors.Is(err, models.ErrUnknownGateway):
		body.Code = "unknown_gateway"
		return http.StatusNotFound, body
	case errors.Is(err, models.ErrInvalidToken):
		body.Code = "invalid_token"
		return http.StatusUnauthorized, body
	case errors.Is(err, models.ErrInvalidInput):
		body.Code = "invalid_input"
		return http.StatusBadRequest, body
	case errors.Is(err, models.ErrHoldConflict), errors.Is(err, models.ErrDuplicateEntry):
		body.Code = "conflict"
		return http.StatusConflict, body
	case errors.Is(err, models.ErrInvalidTransition), errors.Is(err, models.ErrConcurrentUpdate),
		errors.Is(err, models.ErrAttemptInvalid):
		body.Code = "invalid_state"
		return http.StatusConflict, body
	}

	body.Code = "internal_error"
	body.Message = "Something went wrong. Please try again."
	return http.StatusInternalServerError, body
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	writeCheckoutError(w, r, nil, err)
}

func writeCheckoutError(w http.ResponseWriter, r *http.Request, checkout *models.Checkout, err error) {
	status, body := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Printf("%s %s: %v", r.Method, r.URL.Path, err)
	}
	if id := middleware.GetRequestID(r.Context()); id != "-" {
		body.RequestID = id
	}
	writeJSON(w, status, errorResponse{Error: body, Checkout: checkout})
}
