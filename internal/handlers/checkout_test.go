package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"event-ticketing-checkout/internal/models"
	"event-ticketing-checkout/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockCheckoutService is a mock implementation of CheckoutService
type MockCheckoutService struct {
	mock.Mock
}

func (m *MockCheckoutService) checkout(args mock.Arguments) (*models.Checkout, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Checkout), args.Error(1)
}

func (m *MockCheckoutService) Start(ctx context.Context, req *models.StartCheckoutRequest) (*models.Checkout, error) {
	return m.checkout(m.Called(ctx, req))
}

func (m *MockCheckoutService) Get(ctx context.Context, orderRef string) (*models.Checkout, error) {
	return m.checkout(m.Called(ctx, orderRef))
}

func (m *MockCheckoutService) Pay(ctx context.Context, orderRef string, req services.PayRequest) (*models.Checkout, error) {
	return m.checkout(m.Called(ctx, orderRef, req))
}

func (m *MockCheckoutService) Resume(ctx context.Context, orderRef string, payload map[string]string) (*models.Checkout, error) {
	return m.checkout(m.Called(ctx, orderRef, payload))
}

func (m *MockCheckoutService) Cancel(ctx context.Context, orderRef string) (*models.Checkout, error) {
	return m.checkout(m.Called(ctx, orderRef))
}

func (m *MockCheckoutService) RetryIssuance(ctx context.Context, orderRef string) (*models.Checkout, error) {
	return m.checkout(m.Called(ctx, orderRef))
}

// MockOrderService is a mock implementation of OrderService
type MockOrderService struct {
	mock.Mock
}

func (m *MockOrderService) GetOrderWithTickets(ctx context.Context, orderRef string) (*services.OrderView, error) {
	args := m.Called(ctx, orderRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.OrderView), args.Error(1)
}

func newCheckoutRouter(h *CheckoutHandler) http.Handler {
	r := chi.NewRouter()
	r.Post("/checkouts", h.StartCheckout)
	r.Get("/checkouts/{orderRef}", h.GetCheckout)
	r.Post("/checkouts/{orderRef}/pay", h.PayCheckout)
	r.Post("/checkouts/{orderRef}/cancel", h.CancelCheckout)
	r.Get("/orders/{orderRef}", h.GetOrder)
	return r
}

func serve(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestCheckoutHandler_StartCheckout(t *testing.T) {
	checkouts := new(MockCheckoutService)
	router := newCheckoutRouter(NewCheckoutHandler(checkouts, new(MockOrderService)))

	expected := &models.Checkout{OrderRef: "order-1", State: models.CheckoutAwaitingPayment}
	checkouts.On("Start", mock.Anything, mock.MatchedBy(func(req *models.StartCheckoutRequest) bool {
		return req.OrderRef == "order-1" && len(req.Items) == 1 && req.Items[0].Unit == models.SeatRef("A1")
	})).Return(expected, nil)

	rr := serve(router, "POST", "/checkouts",
		`{"order_ref":"order-1","event_id":"evt-1","customer_email":"buyer@example.com","items":[{"unit_ref":"seat:A1","quantity":1}]}`)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var got models.Checkout
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, models.CheckoutAwaitingPayment, got.State)
	checkouts.AssertExpectations(t)
}

func TestCheckoutHandler_RejectsUnknownFields(t *testing.T) {
	checkouts := new(MockCheckoutService)
	router := newCheckoutRouter(NewCheckoutHandler(checkouts, new(MockOrderService)))

	rr := serve(router, "POST", "/checkouts", `{"order_ref":"order-1","coupon":"FREE"}`)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "invalid_input")
	checkouts.AssertNotCalled(t, "Start", mock.Anything, mock.Anything)
}

func TestCheckoutHandler_PayDeclinedReturnsCheckout(t *testing.T) {
	checkouts := new(MockCheckoutService)
	router := newCheckoutRouter(NewCheckoutHandler(checkouts, new(MockOrderService)))

	failed := &models.Checkout{OrderRef: "order-1", State: models.CheckoutFailed, FailedStage: models.StagePayment}
	checkouts.On("Pay", mock.Anything, "order-1", services.PayRequest{Gateway: "square", GatewayToken: "cnon:card-declined"}).
		Return(failed, &models.PaymentError{Code: models.PaymentDeclined, Gateway: "square", Message: "card declined"})

	rr := serve(router, "POST", "/checkouts/order-1/pay", `{"gateway":"square","gateway_token":"cnon:card-declined"}`)

	require.Equal(t, http.StatusPaymentRequired, rr.Code)
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "declined", resp.Error.Code)
	require.NotNil(t, resp.Checkout)
	assert.Equal(t, models.StagePayment, resp.Checkout.FailedStage)
	checkouts.AssertExpectations(t)
}

func TestCheckoutHandler_CancelAndGet(t *testing.T) {
	checkouts := new(MockCheckoutService)
	router := newCheckoutRouter(NewCheckoutHandler(checkouts, new(MockOrderService)))

	checkouts.On("Cancel", mock.Anything, "order-1").
		Return(&models.Checkout{OrderRef: "order-1", State: models.CheckoutFailed, FailedStage: models.StageCancelled}, nil)
	checkouts.On("Get", mock.Anything, "missing").Return(nil, models.ErrCheckoutNotFound)

	rr := serve(router, "POST", "/checkouts/order-1/cancel", "")
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = serve(router, "GET", "/checkouts/missing", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, rr.Body.String(), "not_found")
	checkouts.AssertExpectations(t)
}

func TestCheckoutHandler_GetOrder(t *testing.T) {
	orders := new(MockOrderService)
	router := newCheckoutRouter(NewCheckoutHandler(new(MockCheckoutService), orders))

	orders.On("GetOrderWithTickets", mock.Anything, "order-1").Return(&services.OrderView{
		Order: &models.Order{OrderRef: "order-1", OrderNumber: "ORD-20250601-000001", Status: models.OrderCompleted},
	}, nil)
	orders.On("GetOrderWithTickets", mock.Anything, "order-2").Return(nil, models.ErrOrderNotFound)

	rr := serve(router, "GET", "/orders/order-1", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "ORD-20250601-000001")

	rr = serve(router, "GET", "/orders/order-2", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	orders.AssertExpectations(t)
}
