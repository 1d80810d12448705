package payments

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"event-ticketing-checkout/internal/clock"
	"event-ticketing-checkout/internal/models"
)

// paypalStub is a minimal PayPal Orders API
type paypalStub struct {
	tokenCalls   int32
	captureCalls int32
	requestIDs   []string

	captureStatus int
	captureBody   string
	orderBody     string
	verifyStatus  string
}

func (s *paypalStub) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&s.tokenCalls, 1)
		user, pass, ok := r.BasicAuth()
		if !ok || user != "client" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"A21","expires_in":3600}`))
	})
	mux.HandleFunc("/v2/checkout/orders", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer A21", r.Header.Get("Authorization"))
		s.requestIDs = append(s.requestIDs, r.Header.Get("PayPal-Request-Id"))

		var body paypalOrderRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "CAPTURE", body.Intent)
		require.Len(t, body.PurchaseUnits, 1)
		assert.Equal(t, "50.00", body.PurchaseUnits[0].Amount.Value)
		assert.Equal(t, "https://shop.example.com/return?order_ref=order-1", body.ApplicationContext.ReturnURL)

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"5O190127TN364715T","status":"CREATED","links":[
			{"href":"https://api.sandbox.paypal.com/v2/checkout/orders/5O190127TN364715T","rel":"self"},
			{"href":"https://www.sandbox.paypal.com/checkoutnow?token=5O190127TN364715T","rel":"approve"}]}`))
	})
	mux.HandleFunc("/v2/checkout/orders/5O190127TN364715T/capture", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&s.captureCalls, 1)
		s.requestIDs = append(s.requestIDs, r.Header.Get("PayPal-Request-Id"))
		if s.captureStatus != 0 {
			w.WriteHeader(s.captureStatus)
		}
		_, _ = w.Write([]byte(s.captureBody))
	})
	mux.HandleFunc("/v2/checkout/orders/5O190127TN364715T", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		_, _ = w.Write([]byte(s.orderBody))
	})
	mux.HandleFunc("/v1/notifications/verify-webhook-signature", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "WH-1", body["webhook_id"])
		_, _ = w.Write([]byte(`{"verification_status":"` + s.verifyStatus + `"}`))
	})
	return mux
}

const completedPayPalOrder = `{"id":"5O190127TN364715T","status":"COMPLETED","purchase_units":[
	{"reference_id":"order-1","payments":{"captures":[{"id":"3C679366HH908993F","status":"COMPLETED"}]}}]}`

const pendingCapturePayPalOrder = `{"id":"5O190127TN364715T","status":"COMPLETED","purchase_units":[
	{"reference_id":"order-1","payments":{"captures":[{"id":"3C679366HH908993F","status":"PENDING"}]}}]}`

func newPayPalTest(t *testing.T) (*PayPalGateway, *paypalStub) {
	stub := &paypalStub{captureBody: completedPayPalOrder, verifyStatus: "SUCCESS"}
	server := httptest.NewServer(stub.handler(t))
	t.Cleanup(server.Close)

	g := NewPayPalGateway(PayPalConfig{
		ClientID:     "client",
		ClientSecret: "secret",
		WebhookID:    "WH-1",
		ReturnURL:    "https://shop.example.com/return",
		CancelURL:    "https://shop.example.com/return?status=cancelled",
		BaseURL:      server.URL,
	}, clock.NewFake(testNow))
	return g, stub
}

func pendingPayPalAttempt() *models.PaymentAttempt {
	return &models.PaymentAttempt{
		OrderRef:          "order-1",
		Gateway:           models.GatewayPayPal,
		State:             models.AttemptRequiresAction,
		ExternalReference: "5O190127TN364715T",
		RedirectTarget:    "https://www.sandbox.paypal.com/checkoutnow?token=5O190127TN364715T",
		Sequence:          1,
	}
}

func TestPayPalGateway_Charge(t *testing.T) {
	g, stub := newPayPalTest(t)
	ctx := context.Background()

	res, err := g.Charge(ctx, paymentRequest("order-1", models.GatewayPayPal, ""), "order-1")
	require.NoError(t, err)
	action, ok := res.Result.(models.RequiresAction)
	require.True(t, ok)
	assert.Equal(t, "https://www.sandbox.paypal.com/checkoutnow?token=5O190127TN364715T", action.RedirectURL())
	assert.Equal(t, "5O190127TN364715T", res.ExternalReference)

	_, err = g.Charge(ctx, paymentRequest("order-1", models.GatewayPayPal, ""), "order-1")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&stub.tokenCalls), "access token is cached")
	assert.Equal(t, []string{"order-1", "order-1"}, stub.requestIDs)
}

func TestPayPalGateway_Resume(t *testing.T) {
	t.Run("captures approved order", func(t *testing.T) {
		g, stub := newPayPalTest(t)
		res, err := g.Resume(context.Background(), pendingPayPalAttempt(), map[string]string{"token": "5O190127TN364715T"})
		require.NoError(t, err)
		assert.Equal(t, models.Confirmed{ExternalTransactionID: "3C679366HH908993F"}, res.Result)
		assert.Equal(t, []string{"order-1-capture"}, stub.requestIDs)
	})

	t.Run("cancelled without calling PayPal", func(t *testing.T) {
		g, stub := newPayPalTest(t)
		_, err := g.Resume(context.Background(), pendingPayPalAttempt(), map[string]string{"status": "cancelled"})
		assert.ErrorIs(t, err, models.ErrPaymentDeclined)
		assert.Equal(t, int32(0), atomic.LoadInt32(&stub.captureCalls))
	})

	t.Run("token mismatch", func(t *testing.T) {
		g, _ := newPayPalTest(t)
		_, err := g.Resume(context.Background(), pendingPayPalAttempt(), map[string]string{"token": "OTHER"})
		assert.ErrorIs(t, err, models.ErrPaymentDeclined)
	})

	t.Run("not yet approved stays pending", func(t *testing.T) {
		g, stub := newPayPalTest(t)
		stub.captureStatus = http.StatusUnprocessableEntity
		stub.captureBody = `{"name":"UNPROCESSABLE_ENTITY","message":"The requested action could not be performed","details":[{"issue":"ORDER_NOT_APPROVED"}]}`

		res, err := g.Resume(context.Background(), pendingPayPalAttempt(), nil)
		require.NoError(t, err)
		action, ok := res.Result.(models.RequiresAction)
		require.True(t, ok)
		assert.Contains(t, action.RedirectURL(), "checkoutnow")
	})

	t.Run("already captured looks up the order", func(t *testing.T) {
		g, stub := newPayPalTest(t)
		stub.captureStatus = http.StatusUnprocessableEntity
		stub.captureBody = `{"name":"UNPROCESSABLE_ENTITY","message":"already captured","details":[{"issue":"ORDER_ALREADY_CAPTURED"}]}`
		stub.orderBody = completedPayPalOrder

		res, err := g.Resume(context.Background(), pendingPayPalAttempt(), nil)
		require.NoError(t, err)
		assert.Equal(t, models.Confirmed{ExternalTransactionID: "3C679366HH908993F"}, res.Result)
	})

	t.Run("pending capture waits for the webhook", func(t *testing.T) {
		g, stub := newPayPalTest(t)
		stub.captureBody = pendingCapturePayPalOrder

		res, err := g.Resume(context.Background(), pendingPayPalAttempt(), map[string]string{"token": "5O190127TN364715T"})
		require.NoError(t, err)
		action, ok := res.Result.(models.RequiresAction)
		require.True(t, ok, "a pending capture must not confirm the payment")
		assert.Equal(t, models.ActionAwaitWebhook, action.Action)
		assert.Equal(t, "3C679366HH908993F", action.ActionData["reference"])
		assert.Equal(t, "5O190127TN364715T", res.ExternalReference)

		// The completion webhook resumes the attempt; PayPal reports the order as captured.
		stub.captureStatus = http.StatusUnprocessableEntity
		stub.captureBody = `{"name":"UNPROCESSABLE_ENTITY","message":"already captured","details":[{"issue":"ORDER_ALREADY_CAPTURED"}]}`
		stub.orderBody = completedPayPalOrder

		res, err = g.Resume(context.Background(), pendingPayPalAttempt(), nil)
		require.NoError(t, err)
		assert.Equal(t, models.Confirmed{ExternalTransactionID: "3C679366HH908993F"}, res.Result)
	})

	t.Run("instrument declined", func(t *testing.T) {
		g, stub := newPayPalTest(t)
		stub.captureStatus = http.StatusUnprocessableEntity
		stub.captureBody = `{"name":"UNPROCESSABLE_ENTITY","message":"declined","details":[{"issue":"INSTRUMENT_DECLINED"}]}`

		_, err := g.Resume(context.Background(), pendingPayPalAttempt(), nil)
		assert.ErrorIs(t, err, models.ErrPaymentDeclined)
	})

	t.Run("server error is a timeout", func(t *testing.T) {
		g, stub := newPayPalTest(t)
		stub.captureStatus = http.StatusServiceUnavailable
		stub.captureBody = `upstream unavailable`

		_, err := g.Resume(context.Background(), pendingPayPalAttempt(), nil)
		assert.ErrorIs(t, err, models.ErrGatewayTimeout)
	})
}

func TestPayPalGateway_MissingCredentials(t *testing.T) {
	g := NewPayPalGateway(PayPalConfig{}, clock.NewFake(testNow))
	_, err := g.Charge(context.Background(), paymentRequest("order-1", models.GatewayPayPal, ""), "order-1")
	assert.ErrorIs(t, err, models.ErrConfigurationInvalid)
	assert.Equal(t, "https://api-m.sandbox.paypal.com", g.baseURL)

	live := NewPayPalGateway(PayPalConfig{Environment: "live"}, clock.NewFake(testNow))
	assert.Equal(t, "https://api-m.paypal.com", live.baseURL)
}

func TestPayPalGateway_ParseWebhook(t *testing.T) {
	approved := []byte(`{"id":"WH-EVT-1","event_type":"CHECKOUT.ORDER.APPROVED","resource":{"id":"5O190127TN364715T","status":"APPROVED","purchase_units":[{"reference_id":"order-1","amount":{"currency_code":"USD","value":"50.00"}}]}}`)

	t.Run("approved", func(t *testing.T) {
		g, _ := newPayPalTest(t)
		event, err := g.ParseWebhook(context.Background(), http.Header{}, approved)
		require.NoError(t, err)
		require.NotNil(t, event)
		assert.Equal(t, "order-1", event.OrderRef)
		assert.Equal(t, map[string]string{"token": "5O190127TN364715T"}, event.Payload)
	})

	t.Run("capture denied", func(t *testing.T) {
		g, _ := newPayPalTest(t)
		body := []byte(`{"event_type":"PAYMENT.CAPTURE.DENIED","resource":{"id":"3C6","custom_id":"order-1"}}`)
		event, err := g.ParseWebhook(context.Background(), http.Header{}, body)
		require.NoError(t, err)
		require.NotNil(t, event)
		assert.Equal(t, "denied", event.Payload["status"])
	})

	t.Run("capture completed", func(t *testing.T) {
		g, _ := newPayPalTest(t)
		body := []byte(`{"event_type":"PAYMENT.CAPTURE.COMPLETED","resource":{"id":"3C679366HH908993F","status":"COMPLETED","custom_id":"order-1","supplementary_data":{"related_ids":{"order_id":"5O190127TN364715T"}}}}`)
		event, err := g.ParseWebhook(context.Background(), http.Header{}, body)
		require.NoError(t, err)
		require.NotNil(t, event)
		assert.Equal(t, "order-1", event.OrderRef)
		assert.Equal(t, map[string]string{"token": "5O190127TN364715T"}, event.Payload)
	})

	t.Run("irrelevant event", func(t *testing.T) {
		g, _ := newPayPalTest(t)
		event, err := g.ParseWebhook(context.Background(), http.Header{}, []byte(`{"event_type":"BILLING.PLAN.CREATED","resource":{}}`))
		require.NoError(t, err)
		assert.Nil(t, event)
	})

	t.Run("failed verification", func(t *testing.T) {
		g, stub := newPayPalTest(t)
		stub.verifyStatus = "FAILURE"
		_, err := g.ParseWebhook(context.Background(), http.Header{}, approved)
		assert.ErrorIs(t, err, ErrWebhookSignature)
	})

	t.Run("no webhook id", func(t *testing.T) {
		g := NewPayPalGateway(PayPalConfig{ClientID: "client", ClientSecret: "secret"}, clock.NewFake(testNow))
		_, err := g.ParseWebhook(context.Background(), http.Header{}, approved)
		assert.ErrorIs(t, err, ErrWebhookSignature)
	})

	t.Run("malformed", func(t *testing.T) {
		g, _ := newPayPalTest(t)
		_, err := g.ParseWebhook(context.Background(), http.Header{}, []byte(`not json`))
		assert.ErrorIs(t, err, models.ErrInvalidInput)
	})
}

func TestWithOrderRef(t *testing.T) {
	assert.Equal(t, "", withOrderRef("", "order-1"))
	assert.Equal(t, "https://x.test/r?order_ref=order-1", withOrderRef("https://x.test/r", "order-1"))
	assert.Equal(t, "https://x.test/r?order_ref=order-1&status=cancelled", withOrderRef("https://x.test/r?status=cancelled", "order-1"))
}
