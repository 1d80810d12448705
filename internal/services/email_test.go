package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		minor    int64
		currency string
		want     string
	}{
		{minor: 2500, currency: "USD", want: "USD 25.00"},
		{minor: 5, currency: "usd", want: "USD 0.05"},
		{minor: 0, currency: "EUR", want: "EUR 0.00"},
		{minor: -1250, currency: "USD", want: "USD -12.50"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatAmount(tt.minor, tt.currency))
		})
	}
}

func TestOrderConfirmationContent(t *testing.T) {
	order, tickets := completedOrder()
	order.CustomerName = "Ada <Buyer>"

	content := orderConfirmationContent(order, tickets)
	assert.Equal(t, "Order Confirmation - ORD-20250601-000001", content.Subject)
	assert.Contains(t, content.HTML, "USD 25.00")
	assert.Contains(t, content.HTML, "TKT-abc")
	assert.Contains(t, content.HTML, "Ada &lt;Buyer&gt;")
	assert.Contains(t, content.Text, "Ticket #1 (ticket_type:ga): TKT-abc")
	assert.Contains(t, content.Text, "Dear Ada <Buyer>,")
}

func TestResendEmailService_SendOrderConfirmation(t *testing.T) {
	var (
		gotPath    string
		gotAuth    string
		gotKey     string
		gotRequest ResendEmailRequest
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotKey = r.Header.Get("Idempotency-Key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotRequest))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"email_123"}`))
	}))
	defer server.Close()

	svc := NewResendEmailService(ResendConfig{
		APIKey:    "re_test",
		FromEmail: "tickets@example.com",
		FromName:  "Box Office",
		BaseURL:   server.URL,
	})
	order, tickets := completedOrder()

	require.NoError(t, svc.SendOrderConfirmation(context.Background(), order, tickets))
	assert.Equal(t, "/emails", gotPath)
	assert.Equal(t, "Bearer re_test", gotAuth)
	assert.Equal(t, "order-confirmation/order-1", gotKey)
	assert.Equal(t, "Box Office <tickets@example.com>", gotRequest.From)
	assert.Equal(t, []string{"buyer@example.com"}, gotRequest.To)
	assert.Equal(t, "Order Confirmation - ORD-20250601-000001", gotRequest.Subject)
	assert.Contains(t, gotRequest.Tags, ResendTag{Name: "order_number", Value: "ORD-20250601-000001"})
}

func TestResendEmailService_Errors(t *testing.T) {
	t.Run("error body", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"name":"validation_error","message":"invalid from address"}`))
		}))
		defer server.Close()

		svc := NewResendEmailService(ResendConfig{APIKey: "re_test", FromEmail: "x", BaseURL: server.URL})
		order, tickets := completedOrder()
		err := svc.SendOrderConfirmation(context.Background(), order, tickets)
		assert.EqualError(t, err, "failed to send email: invalid from address")
	})

	t.Run("unreadable body", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		svc := NewResendEmailService(ResendConfig{APIKey: "re_test", FromEmail: "x", BaseURL: server.URL})
		order, tickets := completedOrder()
		err := svc.SendOrderConfirmation(context.Background(), order, tickets)
		assert.EqualError(t, err, "failed to send email, status: 502")
	})
}

func TestMockEmailService(t *testing.T) {
	svc := NewMockEmailService(nil)
	order, tickets := completedOrder()

	require.NoError(t, svc.SendOrderConfirmation(context.Background(), order, tickets))
	assert.Equal(t, []string{"order-1"}, svc.Sent())
	assert.False(t, svc.useResend)

	withKey := NewMockEmailService(&ResendConfig{APIKey: "re_test"})
	assert.True(t, withKey.useResend)
}
