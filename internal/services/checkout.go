package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"event-ticketing-checkout/internal/clock"
	"event-ticketing-checkout/internal/inventory"
	"event-ticketing-checkout/internal/models"
)

const (
	DefaultCurrency           = "USD"
	DefaultStuckIssuanceAfter = 5 * time.Minute

	sweepBatchSize    = 100
	maxUpdateAttempts = 3
)

// errUnchanged tells update that the checkout needs no write.
var errUnchanged = errors.New("checkout unchanged")

// States in which a hold guards a checkout that has not been paid for yet.
var awaitingPaymentStates = []models.CheckoutState{
	models.CheckoutHoldAcquired,
	models.CheckoutAwaitingPayment,
	models.CheckoutPaymentPending,
}

// PayRequest selects the gateway for a checkout
type PayRequest struct {
	Gateway      string `json:"gateway"`
	GatewayToken string `json:"gateway_token,omitempty"`
}

// CheckoutService drives a checkout from cart to issued tickets. All state
// lives in the checkout repository, so any instance can resume a checkout
// after a redirect or a crash.
type CheckoutService struct {
	checkouts  CheckoutRepository
	holds      *HoldManager
	catalog    inventory.Catalog
	payments   PaymentProcessor
	issuer     Issuer
	notifier   Notifier
	clock      clock.Clock
	currency   string
	stuckAfter time.Duration
}

type CheckoutOption func(*CheckoutService)

func WithCurrency(currency string) CheckoutOption {
	return func(s *CheckoutService) {
		if currency != "" {
			s.currency = currency
		}
	}
}

func WithNotifier(n Notifier) CheckoutOption {
	return func(s *CheckoutService) { s.notifier = n }
}

// WithStuckIssuanceAfter sets how long a confirmed checkout may sit without
// progress before the sweeper re-drives issuance.
func WithStuckIssuanceAfter(d time.Duration) CheckoutOption {
	return func(s *CheckoutService) {
		if d > 0 {
			s.stuckAfter = d
		}
	}
}

// NewCheckoutService creates a new checkout orchestrator
func NewCheckoutService(
	checkouts CheckoutRepository,
	holds *HoldManager,
	catalog inventory.Catalog,
	payments PaymentProcessor,
	issuer Issuer,
	clk clock.Clock,
	opts ...CheckoutOption,
) *CheckoutService {
	s := &CheckoutService{
		checkouts:  checkouts,
		holds:      holds,
		catalog:    catalog,
		payments:   payments,
		issuer:     issuer,
		clock:      clk,
		currency:   DefaultCurrency,
		stuckAfter: DefaultStuckIssuanceAfter,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the checkout for an order reference
func (s *CheckoutService) Get(ctx context.Context, orderRef string) (*models.Checkout, error) {
	return s.checkouts.GetByOrderRef(ctx, orderRef)
}

// Start creates the checkout and acquires its hold. Repeating the call with
// the same order reference returns the existing checkout.
//
// When the hold cannot be acquired the checkout is returned in
// Failed{hold} together with the inventory error.
func (s *CheckoutService) Start(ctx context.Context, req *models.StartCheckoutRequest) (*models.Checkout, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	c, err := s.checkouts.GetByOrderRef(ctx, req.OrderRef)
	switch {
	case err == nil:
		if c.State != models.CheckoutCart {
			return c, nil
		}
	case errors.Is(err, models.ErrCheckoutNotFound):
		if c, err = s.create(ctx, req); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}
	return s.acquireHold(ctx, c, req.HoldToken)
}

func (s *CheckoutService) create(ctx context.Context, req *models.StartCheckoutRequest) (*models.Checkout, error) {
	units, err := s.requestedUnits(ctx, req)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	items, err := s.price(ctx, req.EventID, units, now)
	if err != nil {
		return nil, err
	}

	c := &models.Checkout{
		OrderRef:         req.OrderRef,
		EventID:          req.EventID,
		Items:            items,
		AmountMinorUnits: models.LineItemsTotal(items),
		Currency:         s.currency,
		CustomerEmail:    req.CustomerEmail,
		CustomerName:     req.CustomerName,
		State:            models.CheckoutCart,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if c.AmountMinorUnits <= 0 {
		return nil, fmt.Errorf("%w: checkout total must be greater than 0", models.ErrInvalidInput)
	}

	if err := s.checkouts.Create(ctx, c); err != nil {
		if errors.Is(err, models.ErrDuplicateEntry) {
			return s.checkouts.GetByOrderRef(ctx, req.OrderRef)
		}
		return nil, fmt.Errorf("failed to create checkout: %w", err)
	}
	log.Printf("Checkout: started %s for event %s (%d units, %d %s)",
		c.OrderRef, c.EventID, models.TotalQuantity(c.Units()), c.AmountMinorUnits, c.Currency)
	return c, nil
}

// requestedUnits resolves the units to buy, from the hold token when one is
// given and from the request items otherwise.
func (s *CheckoutService) requestedUnits(ctx context.Context, req *models.StartCheckoutRequest) ([]models.UnitRequest, error) {
	if req.HoldToken == "" {
		return models.NormalizeUnits(req.Items)
	}

	session, err := s.holds.Get(ctx, req.HoldToken)
	if err != nil {
		return nil, err
	}
	if session.EventID != req.EventID {
		return nil, fmt.Errorf("%w: hold belongs to a different event", models.ErrInvalidInput)
	}
	if len(req.Items) > 0 {
		units, err := models.NormalizeUnits(req.Items)
		if err != nil {
			return nil, err
		}
		if !models.SameUnits(units, session.Units) {
			return nil, fmt.Errorf("%w: items do not match the held units", models.ErrInvalidInput)
		}
	}
	return session.Units, nil
}

// price snapshots unit prices at checkout start
func (s *CheckoutService) price(ctx context.Context, eventID string, units []models.UnitRequest, now time.Time) ([]models.LineItem, error) {
	items := make([]models.LineItem, 0, len(units))
	for _, u := range units {
		var price int64
		switch u.Unit.Kind {
		case models.UnitTicketType:
			tt, err := s.catalog.TicketType(ctx, u.Unit.ID)
			if err != nil {
				return nil, err
			}
			if tt.EventID != eventID {
				return nil, fmt.Errorf("%w: ticket type %s does not belong to event %s", models.ErrInvalidInput, tt.ID, eventID)
			}
			price = tt.PriceAt(now)
		case models.UnitSeat:
			seat, err := s.catalog.Seat(ctx, u.Unit.ID)
			if err != nil {
				return nil, err
			}
			if seat.EventID != eventID {
				return nil, fmt.Errorf("%w: seat %s does not belong to event %s", models.ErrInvalidInput, seat.ID, eventID)
			}
			price = seat.Price
		default:
			return nil, fmt.Errorf("%w: unknown unit kind %q", models.ErrInvalidInput, u.Unit.Kind)
		}
		items = append(items, models.LineItem{Unit: u.Unit, Quantity: u.Quantity, UnitPriceMinor: price})
	}
	return items, nil
}

func holdSessionID(orderRef string) string {
	return "checkout:" + orderRef
}

// acquireHold moves a Cart checkout to HoldAcquired, or to Failed{hold} when
// inventory refuses. Storage errors leave it in Cart so Start can be repeated.
func (s *CheckoutService) acquireHold(ctx context.Context, c *models.Checkout, token string) (*models.Checkout, error) {
	var (
		sessionID string
		expiresAt time.Time
		holdErr   error
	)
	if token != "" {
		session, err := s.holds.Get(ctx, token)
		switch {
		case err != nil:
			holdErr = err
		case session.State != models.HoldActive:
			holdErr = &models.InventoryError{Code: models.InventorySessionExpired, Message: session.SessionID}
		default:
			sessionID, expiresAt = session.SessionID, session.ExpiresAt
		}
	} else {
		receipt, err := s.holds.Reserve(ctx, c.EventID, holdSessionID(c.OrderRef), c.Units())
		if err != nil {
			holdErr = err
		} else {
			sessionID, expiresAt = receipt.SessionID, receipt.ExpiresAt
		}
	}

	if holdErr != nil {
		var invErr *models.InventoryError
		if !errors.As(holdErr, &invErr) && !errors.Is(holdErr, models.ErrInvalidInput) && !errors.Is(holdErr, models.ErrUnitNotFound) {
			return c, holdErr
		}
		return s.failHold(ctx, c, holdErr)
	}

	acquired, err := s.update(ctx, c, func(c *models.Checkout) error {
		if c.State != models.CheckoutCart {
			return errUnchanged
		}
		c.HoldSessionID = sessionID
		c.HoldExpiresAt = &expiresAt
		return c.TransitionTo(models.CheckoutHoldAcquired, s.clock.Now())
	})
	if errors.Is(err, models.ErrDuplicateEntry) {
		// The token's hold already backs another checkout.
		latest, getErr := s.checkouts.GetByOrderRef(ctx, c.OrderRef)
		if getErr != nil {
			return nil, getErr
		}
		return s.failHold(ctx, latest, fmt.Errorf("%w: hold is already used by another checkout", models.ErrInvalidInput))
	}
	return acquired, err
}

func (s *CheckoutService) failHold(ctx context.Context, c *models.Checkout, holdErr error) (*models.Checkout, error) {
	failed, err := s.update(ctx, c, func(c *models.Checkout) error {
		if c.State != models.CheckoutCart {
			return errUnchanged
		}
		c.HoldSessionID = ""
		c.HoldExpiresAt = nil
		return c.Fail(models.StageHold, holdErr.Error(), s.clock.Now())
	})
	if err != nil {
		return nil, err
	}
	log.Printf("Checkout: %s could not acquire a hold: %v", c.OrderRef, holdErr)
	return failed, holdErr
}

// Pay charges the checkout through the chosen gateway. Redirect gateways
// leave it in PaymentPending with RedirectTarget set; the flow continues in
// Resume. A gateway timeout keeps the checkout payable with the same key.
func (s *CheckoutService) Pay(ctx context.Context, orderRef string, req PayRequest) (*models.Checkout, error) {
	if req.Gateway == "" {
		return nil, fmt.Errorf("%w: gateway is required", models.ErrInvalidInput)
	}
	c, err := s.checkouts.GetByOrderRef(ctx, orderRef)
	if err != nil {
		return nil, err
	}

	switch c.State {
	case models.CheckoutHoldAcquired, models.CheckoutAwaitingPayment:
	case models.CheckoutPaymentPending:
		if c.Gateway == req.Gateway {
			return c, nil
		}
	case models.CheckoutPaymentConfirmed, models.CheckoutIssuing, models.CheckoutCompleted:
		return c, nil
	default:
		return c, fmt.Errorf("%w: cannot pay a checkout in state %s", models.ErrInvalidTransition, c.State)
	}

	if expired, err := s.holdExpired(ctx, c); err != nil {
		return c, err
	} else if expired {
		return s.expireForCaller(ctx, c)
	}

	c, err = s.update(ctx, c, func(c *models.Checkout) error {
		switch c.State {
		case models.CheckoutHoldAcquired:
			if err := c.TransitionTo(models.CheckoutAwaitingPayment, s.clock.Now()); err != nil {
				return err
			}
		case models.CheckoutAwaitingPayment, models.CheckoutPaymentPending:
			c.UpdatedAt = s.clock.Now()
		default:
			return errUnchanged
		}
		c.Gateway = req.Gateway
		return nil
	})
	if err != nil {
		return c, err
	}
	if c.State != models.CheckoutAwaitingPayment && c.State != models.CheckoutPaymentPending {
		return c, nil
	}

	result, err := s.payments.ProcessPayment(ctx, c.PaymentRequest(req.Gateway, req.GatewayToken))
	if err != nil {
		return s.paymentError(ctx, c, err)
	}
	return s.applyPayment(ctx, c, req.Gateway, result)
}

// Resume continues a PaymentPending checkout with the payload the gateway
// sent to the return URL or webhook.
func (s *CheckoutService) Resume(ctx context.Context, orderRef string, payload map[string]string) (*models.Checkout, error) {
	c, err := s.checkouts.GetByOrderRef(ctx, orderRef)
	if err != nil {
		return nil, err
	}

	switch c.State {
	case models.CheckoutPaymentPending:
	case models.CheckoutPaymentConfirmed, models.CheckoutIssuing, models.CheckoutCompleted, models.CheckoutFailed:
		return c, nil
	default:
		return c, fmt.Errorf("%w: checkout %s is not waiting for a redirect (%s)", models.ErrInvalidTransition, orderRef, c.State)
	}

	if expired, err := s.holdExpired(ctx, c); err != nil {
		return c, err
	} else if expired {
		return s.expireForCaller(ctx, c)
	}

	result, err := s.payments.ResumeAfterRedirect(ctx, orderRef, payload)
	if err != nil {
		return s.paymentError(ctx, c, err)
	}
	return s.applyPayment(ctx, c, c.Gateway, result)
}

// paymentError handles adapter errors. An invalidated attempt means the
// checkout was cancelled or expired concurrently.
func (s *CheckoutService) paymentError(ctx context.Context, c *models.Checkout, err error) (*models.Checkout, error) {
	if !errors.Is(err, models.ErrAttemptInvalid) {
		return c, err
	}
	latest, getErr := s.checkouts.GetByOrderRef(ctx, c.OrderRef)
	if getErr != nil {
		return nil, getErr
	}
	return latest, fmt.Errorf("%w: checkout %s is %s", models.ErrInvalidTransition, c.OrderRef, latest.State)
}

// applyPayment moves the checkout according to a gateway result.
func (s *CheckoutService) applyPayment(ctx context.Context, c *models.Checkout, gateway string, result models.PaymentResult) (*models.Checkout, error) {
	switch r := result.(type) {
	case models.Confirmed:
		capturedLate := false
		c, err := s.update(ctx, c, func(c *models.Checkout) error {
			switch c.State {
			case models.CheckoutAwaitingPayment, models.CheckoutPaymentPending:
				c.Gateway = gateway
				c.ExternalTransactionID = r.ExternalTransactionID
				c.RedirectTarget = ""
				return c.TransitionTo(models.CheckoutPaymentConfirmed, s.clock.Now())
			case models.CheckoutFailed:
				capturedLate = c.FailedStage != models.StageIssuance
				return errUnchanged
			default:
				return errUnchanged
			}
		})
		if err != nil {
			return c, err
		}
		if capturedLate {
			issErr := &models.IssuanceError{
				Code:     models.IssuanceInventoryInconsistent,
				OrderRef: c.OrderRef,
				Err:      fmt.Errorf("payment %s captured after checkout failed at %s", r.ExternalTransactionID, c.FailedStage),
			}
			log.Printf("ALERT Checkout: %v", issErr)
			return c, issErr
		}
		log.Printf("Checkout: payment confirmed for %s via %s (%s)", c.OrderRef, gateway, r.ExternalTransactionID)
		return s.issue(ctx, c)

	case models.RequiresAction:
		return s.update(ctx, c, func(c *models.Checkout) error {
			switch c.State {
			case models.CheckoutAwaitingPayment:
				if err := c.TransitionTo(models.CheckoutPaymentPending, s.clock.Now()); err != nil {
					return err
				}
			case models.CheckoutPaymentPending:
				c.UpdatedAt = s.clock.Now()
			default:
				return errUnchanged
			}
			c.Gateway = gateway
			c.RedirectTarget = r.RedirectURL()
			return nil
		})

	case models.Failed:
		payErr := r.Err(gateway)
		if r.Code == models.PaymentGatewayTimeout {
			log.Printf("Checkout: payment for %s via %s timed out, the buyer may retry: %s", c.OrderRef, gateway, r.Reason)
			return c, payErr
		}
		failed, err := s.update(ctx, c, func(c *models.Checkout) error {
			if c.State != models.CheckoutAwaitingPayment && c.State != models.CheckoutPaymentPending {
				return errUnchanged
			}
			return c.Fail(models.StagePayment, fmt.Sprintf("%s: %s", r.Code, r.Reason), s.clock.Now())
		})
		if err != nil {
			return failed, err
		}
		if failed.State == models.CheckoutFailed && failed.FailedStage == models.StagePayment {
			s.releaseHold(ctx, failed)
			log.Printf("Checkout: payment for %s via %s failed: %v", c.OrderRef, gateway, payErr)
		}
		return failed, payErr

	default:
		return c, fmt.Errorf("unexpected payment result %T for %s", result, c.OrderRef)
	}
}

// issue runs issuance for a confirmed checkout. It is safe to call again
// for Issuing and Failed{issuance} checkouts.
func (s *CheckoutService) issue(ctx context.Context, c *models.Checkout) (*models.Checkout, error) {
	c, err := s.update(ctx, c, func(c *models.Checkout) error {
		switch {
		case c.State == models.CheckoutPaymentConfirmed,
			c.State == models.CheckoutFailed && c.FailedStage == models.StageIssuance:
			return c.TransitionTo(models.CheckoutIssuing, s.clock.Now())
		default:
			return errUnchanged
		}
	})
	if err != nil {
		return c, err
	}
	if c.State != models.CheckoutIssuing {
		return c, nil
	}

	hold, err := s.holds.Peek(ctx, c.HoldSessionID)
	if err != nil {
		// The commit inside Issue reports the missing session.
		hold = &models.HoldSession{SessionID: c.HoldSessionID, EventID: c.EventID, Units: c.Units()}
	}

	result, issueErr := s.issuer.Issue(ctx, ConfirmedPaymentFor(c), hold)
	if issueErr != nil {
		failed, err := s.update(ctx, c, func(c *models.Checkout) error {
			if c.State != models.CheckoutIssuing {
				return errUnchanged
			}
			return c.Fail(models.StageIssuance, issueErr.Error(), s.clock.Now())
		})
		if err != nil {
			log.Printf("ALERT Checkout: failed to record issuance failure for %s: %v", c.OrderRef, err)
			return c, issueErr
		}
		log.Printf("ALERT Checkout: %s paid (%s) but issuance failed, operator action required: %v",
			c.OrderRef, c.ExternalTransactionID, issueErr)
		return failed, issueErr
	}

	completedHere := false
	completed, err := s.update(ctx, c, func(c *models.Checkout) error {
		if c.State != models.CheckoutIssuing {
			return errUnchanged
		}
		c.OrderID = result.Order.ID
		if err := c.TransitionTo(models.CheckoutCompleted, s.clock.Now()); err != nil {
			return err
		}
		completedHere = true
		return nil
	})
	if err != nil {
		return completed, err
	}
	if completedHere {
		log.Printf("Checkout: %s completed as order %s", completed.OrderRef, result.Order.OrderNumber)
		if s.notifier != nil {
			s.notifier.Notify(result.Order, result.Tickets)
		}
	}
	return completed, nil
}

// Cancel abandons a checkout before its payment is confirmed and releases
// the hold. Cancelling twice is fine.
func (s *CheckoutService) Cancel(ctx context.Context, orderRef string) (*models.Checkout, error) {
	c, err := s.checkouts.GetByOrderRef(ctx, orderRef)
	if err != nil {
		return nil, err
	}
	if c.State == models.CheckoutFailed && c.FailedStage != models.StageIssuance {
		return c, nil
	}
	if !c.State.BeforePaymentConfirmed() {
		return c, fmt.Errorf("%w: payment for %s was already confirmed", models.ErrInvalidTransition, orderRef)
	}

	attempt, err := s.payments.Invalidate(ctx, orderRef)
	if err != nil {
		return c, err
	}
	if attempt != nil && attempt.State == models.AttemptConfirmed {
		c, err = s.applyPayment(ctx, c, attempt.Gateway, attempt.Result())
		if err != nil {
			return c, err
		}
		return c, fmt.Errorf("%w: payment for %s was already confirmed", models.ErrInvalidTransition, orderRef)
	}

	cancelled, err := s.update(ctx, c, func(c *models.Checkout) error {
		if !c.State.BeforePaymentConfirmed() {
			return errUnchanged
		}
		return c.Fail(models.StageCancelled, "cancelled by buyer", s.clock.Now())
	})
	if err != nil {
		return cancelled, err
	}
	if cancelled.State != models.CheckoutFailed {
		return cancelled, fmt.Errorf("%w: payment for %s was already confirmed", models.ErrInvalidTransition, orderRef)
	}
	s.releaseHold(ctx, cancelled)
	log.Printf("Checkout: %s cancelled by buyer", orderRef)
	return cancelled, nil
}

// RetryIssuance re-runs issuance for a paid checkout. It never charges again.
func (s *CheckoutService) RetryIssuance(ctx context.Context, orderRef string) (*models.Checkout, error) {
	c, err := s.checkouts.GetByOrderRef(ctx, orderRef)
	if err != nil {
		return nil, err
	}
	switch {
	case c.State == models.CheckoutCompleted:
		return c, nil
	case c.State == models.CheckoutPaymentConfirmed,
		c.State == models.CheckoutIssuing,
		c.State == models.CheckoutFailed && c.FailedStage == models.StageIssuance:
		log.Printf("Checkout: retrying issuance for %s", orderRef)
		return s.issue(ctx, c)
	default:
		return c, fmt.Errorf("%w: checkout %s has no confirmed payment", models.ErrInvalidTransition, orderRef)
	}
}

// holdExpired reports whether the checkout's hold is gone. Looking it up
// expires it when its time ran out.
func (s *CheckoutService) holdExpired(ctx context.Context, c *models.Checkout) (bool, error) {
	if c.HoldSessionID == "" {
		return false, nil
	}
	session, err := s.holds.Session(ctx, c.HoldSessionID)
	if errors.Is(err, models.ErrSessionNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check hold: %w", err)
	}
	return session.State != models.HoldActive, nil
}

// expire fails an unpaid checkout whose hold ran out, after making sure no
// payment can still be resumed. A payment that was captured first wins.
func (s *CheckoutService) expire(ctx context.Context, c *models.Checkout) (*models.Checkout, error) {
	attempt, err := s.payments.Invalidate(ctx, c.OrderRef)
	if err != nil {
		return c, err
	}
	if attempt != nil && attempt.State == models.AttemptConfirmed {
		return s.applyPayment(ctx, c, attempt.Gateway, attempt.Result())
	}

	failed, err := s.update(ctx, c, func(c *models.Checkout) error {
		if !c.State.BeforePaymentConfirmed() || c.State == models.CheckoutCart {
			return errUnchanged
		}
		return c.Fail(models.StageTimeout, "hold expired before payment was confirmed", s.clock.Now())
	})
	if err != nil {
		return failed, err
	}
	if failed.State == models.CheckoutFailed && failed.FailedStage == models.StageTimeout {
		s.releaseHold(ctx, failed)
		log.Printf("Checkout: %s timed out waiting for payment", failed.OrderRef)
	}
	return failed, nil
}

func (s *CheckoutService) expireForCaller(ctx context.Context, c *models.Checkout) (*models.Checkout, error) {
	c, err := s.expire(ctx, c)
	if err == nil && c.State == models.CheckoutFailed {
		err = &models.InventoryError{Code: models.InventorySessionExpired, Message: c.OrderRef}
	}
	return c, err
}

func (s *CheckoutService) releaseHold(ctx context.Context, c *models.Checkout) {
	if c.HoldSessionID == "" {
		return
	}
	if err := s.holds.Release(ctx, c.HoldSessionID); err != nil {
		log.Printf("Checkout: failed to release hold for %s: %v", c.OrderRef, err)
	}
}

// ExpireStale fails unpaid checkouts whose hold has run out. Holds that were
// extended only get their tracked expiry refreshed.
func (s *CheckoutService) ExpireStale(ctx context.Context) error {
	stale, err := s.checkouts.ListHoldExpired(ctx, awaitingPaymentStates, s.clock.Now(), sweepBatchSize)
	if err != nil {
		return fmt.Errorf("failed to list expired checkouts: %w", err)
	}
	for _, c := range stale {
		session, err := s.holds.Session(ctx, c.HoldSessionID)
		switch {
		case err == nil && session.State == models.HoldActive:
			expiresAt := session.ExpiresAt
			if _, err := s.update(ctx, c, func(c *models.Checkout) error {
				if !c.State.BeforePaymentConfirmed() {
					return errUnchanged
				}
				c.HoldExpiresAt = &expiresAt
				return nil
			}); err != nil {
				log.Printf("Checkout: failed to refresh hold expiry for %s: %v", c.OrderRef, err)
			}
			continue
		case err != nil && !errors.Is(err, models.ErrSessionNotFound):
			log.Printf("Checkout: failed to check hold for %s: %v", c.OrderRef, err)
			continue
		}
		if _, err := s.expire(ctx, c); err != nil {
			log.Printf("Checkout: failed to expire %s: %v", c.OrderRef, err)
		}
	}
	return nil
}

// RecoverStuck re-drives issuance for checkouts that were confirmed but
// never finished, typically because the process died mid-way.
func (s *CheckoutService) RecoverStuck(ctx context.Context) error {
	stuck, err := s.checkouts.ListStale(ctx,
		[]models.CheckoutState{models.CheckoutPaymentConfirmed, models.CheckoutIssuing},
		s.clock.Now().Add(-s.stuckAfter), sweepBatchSize)
	if err != nil {
		return fmt.Errorf("failed to list stuck checkouts: %w", err)
	}
	for _, c := range stuck {
		log.Printf("Checkout: recovering %s stuck in %s since %s", c.OrderRef, c.State, c.UpdatedAt.Format(time.RFC3339))
		if _, err := s.issue(ctx, c); err != nil {
			log.Printf("Checkout: recovery of %s failed: %v", c.OrderRef, err)
		}
	}
	return nil
}

// update applies mutate and writes the checkout, reloading and re-applying
// on a concurrent modification. mutate returning errUnchanged skips the write.
func (s *CheckoutService) update(ctx context.Context, c *models.Checkout, mutate func(*models.Checkout) error) (*models.Checkout, error) {
	orderRef := c.OrderRef
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		if attempt > 0 {
			latest, err := s.checkouts.GetByOrderRef(ctx, orderRef)
			if err != nil {
				return nil, err
			}
			c = latest
		}
		if err := mutate(c); err != nil {
			if errors.Is(err, errUnchanged) {
				return c, nil
			}
			return c, err
		}
		err := s.checkouts.Update(ctx, c)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, models.ErrConcurrentUpdate) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: checkout %s", models.ErrConcurrentUpdate, orderRef)
}
