package middleware

import (
	"encoding/json"
	"log"
	"net/http"
	"runtime/debug"
)

// ErrorBody is the JSON error envelope shared with the handlers
type ErrorBody struct {
	Code             string `json:"code"`
	Message          string `json:"message"`
	RequiresOperator bool   `json:"requires_operator,omitempty"`
	RequestID        string `json:"request_id,omitempty"`
}

// ErrorResponse wraps ErrorBody as {"error": {...}}
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// WriteError writes a JSON error response
func WriteError(w http.ResponseWriter, r *http.Request, status int, body ErrorBody) {
	body.RequestID = GetRequestID(r.Context())
	if body.RequestID == "-" {
		body.RequestID = ""
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(ErrorResponse{Error: body}); err != nil {
		log.Printf("failed to encode error response: %v", err)
	}
}

// ErrorHandlingMiddleware turns panics into a JSON 500
func ErrorHandlingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				if err == http.ErrAbortHandler {
					panic(err)
				}
				log.Printf("PANIC: %s %s (request %s): %v\n%s",
					r.Method, r.URL.Path, GetRequestID(r.Context()), err, debug.Stack())

				WriteError(w, r, http.StatusInternalServerError, ErrorBody{
					Code:    "internal_error",
					Message: "Something went wrong. Please try again.",
				})
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// NotFoundHandler handles 404 errors
func NotFoundHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, r, http.StatusNotFound, ErrorBody{
			Code:    "not_found",
			Message: "The resource you're looking for doesn't exist.",
		})
	})
}

// MethodNotAllowedHandler handles 405 errors
func MethodNotAllowedHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, r, http.StatusMethodNotAllowed, ErrorBody{
			Code:    "method_not_allowed",
			Message: "Method not allowed for this endpoint.",
		})
	})
}
