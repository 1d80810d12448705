package services

import (
	"bytes"
	"fmt"
	"html/template"
	"log"
	"strings"
	texttemplate "text/template"

	"event-ticketing-checkout/internal/models"
)

// EmailContent is a rendered email
type EmailContent struct {
	Subject string
	HTML    string
	Text    string
}

// OrderConfirmationData represents data for order confirmation emails
type OrderConfirmationData struct {
	Order       *models.Order
	Tickets     []*models.Ticket
	TotalAmount string
	OrderDate   string
}

var orderConfirmationHTML = template.Must(template.New("order_confirmation").Parse(`<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Order Confirmation</title>
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { background-color: #4F46E5; color: white; padding: 20px; text-align: center; border-radius: 8px 8px 0 0; }
        .content { padding: 20px; background-color: #f9f9f9; }
        .order-details { background-color: #EEF2FF; padding: 15px; border-left: 4px solid #4F46E5; margin: 20px 0; border-radius: 4px; }
        .ticket-item { background-color: white; padding: 15px; margin: 10px 0; border-radius: 4px; border: 1px solid #e5e7eb; }
        .code { font-family: monospace; font-size: 12px; word-break: break-all; }
        .footer { text-align: center; padding: 20px; color: #666; font-size: 12px; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header">
            <h1>Order Confirmed!</h1>
            <p>Thank you for your purchase</p>
        </div>
        <div class="content">
            <p>Dear {{.Order.DisplayName}},</p>
            <p>Your payment was received and your tickets are ready.</p>
            <div class="order-details">
                <h3>Order Details</h3>
                <p><strong>Order Number:</strong> {{.Order.OrderNumber}}</p>
                <p><strong>Order Date:</strong> {{.OrderDate}}</p>
                <p><strong>Total Amount:</strong> {{.TotalAmount}}</p>
                <p><strong>Paid With:</strong> {{.Order.PaymentMethod}}</p>
            </div>
            <h3>Your Tickets ({{len .Tickets}})</h3>
            {{range .Tickets}}
            <div class="ticket-item">
                <p><strong>Ticket #{{.Sequence}}</strong> ({{.UnitRef}})</p>
                <p class="code">{{.QRCode}}</p>
            </div>
            {{end}}
            <p>Please bring your tickets (printed or on mobile) to the event. Each ticket code admits one person.</p>
        </div>
        <div class="footer">
            <p>This email was sent to {{.Order.CustomerEmail}}</p>
        </div>
    </div>
</body>
</html>`))

var orderConfirmationText = texttemplate.Must(texttemplate.New("order_confirmation_text").Parse(`Order Confirmed!

Dear {{.Order.DisplayName}},

Your payment was received and your tickets are ready.

Order Number: {{.Order.OrderNumber}}
Order Date: {{.OrderDate}}
Total Amount: {{.TotalAmount}}
Paid With: {{.Order.PaymentMethod}}

Your Tickets ({{len .Tickets}}):
{{range .Tickets}}- Ticket #{{.Sequence}} ({{.UnitRef}}): {{.QRCode}}
{{end}}
Please bring your tickets (printed or on mobile) to the event.
`))

// FormatAmount renders minor units with the currency code, e.g. "USD 25.00"
func FormatAmount(minor int64, currency string) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s %s%d.%02d", strings.ToUpper(currency), sign, minor/100, minor%100)
}

// orderConfirmationContent renders the confirmation email for an order
func orderConfirmationContent(order *models.Order, tickets []*models.Ticket) EmailContent {
	data := OrderConfirmationData{
		Order:       order,
		Tickets:     tickets,
		TotalAmount: FormatAmount(order.TotalAmount, order.Currency),
		OrderDate:   order.CreatedAt.Format("January 2, 2006 at 3:04 PM"),
	}

	content := EmailContent{Subject: fmt.Sprintf("Order Confirmation - %s", order.OrderNumber)}

	var buf bytes.Buffer
	if err := orderConfirmationHTML.Execute(&buf, data); err != nil {
		log.Printf("Email: failed to render HTML confirmation for %s: %v", order.OrderNumber, err)
	} else {
		content.HTML = buf.String()
	}

	buf.Reset()
	if err := orderConfirmationText.Execute(&buf, data); err != nil {
		log.Printf("Email: failed to render text confirmation for %s: %v", order.OrderNumber, err)
	} else {
		content.Text = buf.String()
	}
	return content
}
