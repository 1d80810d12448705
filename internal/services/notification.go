package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"event-ticketing-checkout/internal/clock"
	"event-ticketing-checkout/internal/models"
)

const DefaultNotificationTimeout = 30 * time.Second

// NotificationDispatcher emails the buyer and publishes the order event
// after a checkout completes. Failures are logged and never reach the caller.
type NotificationDispatcher struct {
	email   EmailSender
	events  EventPublisher
	clock   clock.Clock
	timeout time.Duration

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewNotificationDispatcher creates a dispatcher. Either channel may be nil.
func NewNotificationDispatcher(email EmailSender, events EventPublisher, clk clock.Clock, timeout time.Duration) *NotificationDispatcher {
	if timeout <= 0 {
		timeout = DefaultNotificationTimeout
	}
	return &NotificationDispatcher{
		email:   email,
		events:  events,
		clock:   clk,
		timeout: timeout,
	}
}

// Notify delivers in the background and returns immediately.
func (d *NotificationDispatcher) Notify(order *models.Order, tickets []*models.Ticket) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		log.Printf("Notification: dispatcher closed, dropping notifications for order %s", order.OrderNumber)
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Printf("Notification: panic while notifying order %s: %v", order.OrderNumber, r)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		d.Deliver(ctx, order, tickets)
	}()
}

// Deliver sends every notification synchronously and returns the failures,
// which have already been logged.
func (d *NotificationDispatcher) Deliver(ctx context.Context, order *models.Order, tickets []*models.Ticket) []error {
	var errs []error

	if d.email != nil {
		if err := d.email.SendOrderConfirmation(ctx, order, tickets); err != nil {
			errs = append(errs, &models.NotificationError{Channel: "email", OrderRef: order.OrderRef, Err: err})
		}
	}

	if d.events != nil {
		event := models.NewOrderCompletedEvent(order, tickets, d.clock.Now())
		if err := d.events.PublishOrderCompleted(ctx, event); err != nil {
			errs = append(errs, &models.NotificationError{Channel: "events", OrderRef: order.OrderRef, Err: err})
		}
	}

	for _, err := range errs {
		log.Printf("Notification: %v", err)
	}
	if len(errs) == 0 {
		log.Printf("Notification: order %s notifications delivered", order.OrderNumber)
	}
	return errs
}

// Close stops accepting notifications and waits for in-flight ones.
func (d *NotificationDispatcher) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(d.timeout):
		return fmt.Errorf("timed out waiting for notifications")
	}
}
