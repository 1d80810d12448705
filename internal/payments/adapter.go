package payments

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sort"

	"golang.org/x/sync/singleflight"

	"event-ticketing-checkout/internal/clock"
	"event-ticketing-checkout/internal/models"
)

// AttemptStore persists payment attempts by order reference.
type AttemptStore interface {
	// GetAttempt returns models.ErrAttemptNotFound when nothing is stored.
	GetAttempt(ctx context.Context, orderRef string) (*models.PaymentAttempt, error)
	SaveAttempt(ctx context.Context, attempt *models.PaymentAttempt) error
}

// Adapter routes payment requests to the configured gateways and makes
// every call idempotent on the order reference.
type Adapter struct {
	gateways map[string]Gateway
	attempts AttemptStore
	clock    clock.Clock
	calls    singleflight.Group
}

func NewAdapter(attempts AttemptStore, clk clock.Clock, gateways ...Gateway) *Adapter {
	a := &Adapter{
		gateways: make(map[string]Gateway),
		attempts: attempts,
		clock:    clk,
	}
	for _, g := range gateways {
		a.Register(g)
	}
	return a
}

// Register adds or replaces a gateway under its name.
func (a *Adapter) Register(g Gateway) {
	a.gateways[g.Name()] = g
	log.Printf("Payments: registered %s gateway (%s flow)", g.Name(), g.Flow())
}

// Gateways lists registered gateway names
func (a *Adapter) Gateways() []string {
	names := make([]string, 0, len(a.gateways))
	for name := range a.gateways {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Gateway returns a registered gateway by name.
func (a *Adapter) Gateway(name string) (Gateway, error) {
	g, ok := a.gateways[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrUnknownGateway, name)
	}
	return g, nil
}

// ProcessPayment charges the request through its gateway. A request whose
// order reference already has a confirmed or pending attempt returns the
// stored result instead of contacting the provider again.
//
// Gateway failures are returned as a models.Failed result. The error is
// reserved for invalid input and storage problems.
func (a *Adapter) ProcessPayment(ctx context.Context, req models.PaymentRequest) (models.PaymentResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	gateway, ok := a.gateways[req.Gateway]
	if !ok {
		return models.Failed{Code: models.PaymentConfigurationInvalid, Reason: "gateway not configured: " + req.Gateway}, nil
	}
	if gateway.Flow() == FlowToken && req.GatewayToken == "" {
		return nil, fmt.Errorf("%w: %s requires a payment token", models.ErrInvalidInput, req.Gateway)
	}

	v, err, _ := a.calls.Do("charge:"+req.OrderRef, func() (interface{}, error) {
		return a.charge(ctx, gateway, req)
	})
	if err != nil {
		return nil, err
	}
	return v.(models.PaymentResult), nil
}

func (a *Adapter) charge(ctx context.Context, gateway Gateway, req models.PaymentRequest) (models.PaymentResult, error) {
	attempt, err := a.attempts.GetAttempt(ctx, req.OrderRef)
	switch {
	case errors.Is(err, models.ErrAttemptNotFound):
		attempt = nil
	case err != nil:
		return nil, fmt.Errorf("failed to load payment attempt: %w", err)
	}

	now := a.clock.Now()
	if attempt != nil {
		if attempt.Invalidated {
			return nil, fmt.Errorf("%w: %s", models.ErrAttemptInvalid, req.OrderRef)
		}
		switch attempt.State {
		case models.AttemptConfirmed:
			return attempt.Result(), nil
		case models.AttemptRequiresAction:
			if attempt.Gateway == req.Gateway && attempt.AmountMinorUnits == req.AmountMinorUnits {
				return attempt.Result(), nil
			}
			// Buyer switched provider or amount; the abandoned redirect is
			// never captured because resumption goes through this attempt.
			attempt.Sequence++
		case models.AttemptFailed:
			if attempt.FailureCode != models.PaymentGatewayTimeout {
				attempt.Sequence++
			}
		}
		attempt.Gateway = req.Gateway
		attempt.AmountMinorUnits = req.AmountMinorUnits
		attempt.Currency = req.Currency
		attempt.CustomerEmail = req.CustomerEmail
	} else {
		attempt = &models.PaymentAttempt{
			OrderRef:         req.OrderRef,
			Gateway:          req.Gateway,
			AmountMinorUnits: req.AmountMinorUnits,
			Currency:         req.Currency,
			CustomerEmail:    req.CustomerEmail,
			Sequence:         1,
			CreatedAt:        now,
		}
	}

	attempt.State = models.AttemptInitiated
	attempt.FailureCode = ""
	attempt.FailureReason = ""
	attempt.RedirectTarget = ""
	attempt.ExternalReference = ""
	attempt.UpdatedAt = now
	if err := a.attempts.SaveAttempt(ctx, attempt); err != nil {
		return nil, fmt.Errorf("failed to save payment attempt: %w", err)
	}

	res, chargeErr := gateway.Charge(ctx, req, attempt.IdempotencyKey())
	return a.record(ctx, attempt, res, chargeErr)
}

// ResumeAfterRedirect resolves a pending redirect flow with the payload the
// provider sent back on the return URL or webhook.
func (a *Adapter) ResumeAfterRedirect(ctx context.Context, orderRef string, payload map[string]string) (models.PaymentResult, error) {
	v, err, _ := a.calls.Do("resume:"+orderRef, func() (interface{}, error) {
		return a.resume(ctx, orderRef, payload)
	})
	if err != nil {
		return nil, err
	}
	return v.(models.PaymentResult), nil
}

func (a *Adapter) resume(ctx context.Context, orderRef string, payload map[string]string) (models.PaymentResult, error) {
	attempt, err := a.attempts.GetAttempt(ctx, orderRef)
	if err != nil {
		return nil, err
	}
	if attempt.Invalidated {
		return nil, fmt.Errorf("%w: %s", models.ErrAttemptInvalid, orderRef)
	}
	switch attempt.State {
	case models.AttemptConfirmed, models.AttemptFailed:
		return attempt.Result(), nil
	case models.AttemptInitiated:
		return nil, fmt.Errorf("%w: payment for %s has not been started", models.ErrInvalidTransition, orderRef)
	}

	gateway, ok := a.gateways[attempt.Gateway]
	if !ok {
		return models.Failed{Code: models.PaymentConfigurationInvalid, Reason: "gateway not configured: " + attempt.Gateway}, nil
	}
	res, resumeErr := gateway.Resume(ctx, attempt, payload)
	return a.record(ctx, attempt, res, resumeErr)
}

// record stores the outcome of a gateway call on the attempt.
func (a *Adapter) record(ctx context.Context, attempt *models.PaymentAttempt, res *ChargeResult, callErr error) (models.PaymentResult, error) {
	var result models.PaymentResult
	switch {
	case callErr != nil:
		result = models.FailedFromError(callErr)
	case res != nil:
		result = res.Result
	}

	switch r := result.(type) {
	case models.Confirmed:
		attempt.State = models.AttemptConfirmed
		attempt.ExternalTransactionID = r.ExternalTransactionID
		attempt.RedirectTarget = ""
	case models.RequiresAction:
		attempt.State = models.AttemptRequiresAction
		attempt.RedirectTarget = r.RedirectURL()
		if res.ExternalReference != "" {
			attempt.ExternalReference = res.ExternalReference
		}
	case models.Failed:
		attempt.State = models.AttemptFailed
		attempt.FailureCode = r.Code
		attempt.FailureReason = r.Reason
		log.Printf("Payments: %s charge for %s failed (%s): %s", attempt.Gateway, attempt.OrderRef, r.Code, r.Reason)
	default:
		return nil, fmt.Errorf("gateway %s returned no result", attempt.Gateway)
	}

	attempt.UpdatedAt = a.clock.Now()
	if err := a.attempts.SaveAttempt(ctx, attempt); err != nil {
		// The provider already acted on the idempotency key, so a retry with
		// the same key will observe the same outcome.
		return nil, fmt.Errorf("failed to save payment attempt: %w", err)
	}
	return result, nil
}

// Invalidate marks an unconfirmed attempt so it can no longer be resumed.
// It returns the attempt, which is left untouched when already confirmed.
func (a *Adapter) Invalidate(ctx context.Context, orderRef string) (*models.PaymentAttempt, error) {
	attempt, err := a.attempts.GetAttempt(ctx, orderRef)
	if errors.Is(err, models.ErrAttemptNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if attempt.State == models.AttemptConfirmed || attempt.Invalidated {
		return attempt, nil
	}
	attempt.Invalidated = true
	attempt.UpdatedAt = a.clock.Now()
	if err := a.attempts.SaveAttempt(ctx, attempt); err != nil {
		return nil, fmt.Errorf("failed to invalidate payment attempt: %w", err)
	}
	return attempt, nil
}

// ParseWebhook delegates to the named gateway's webhook parser.
func (a *Adapter) ParseWebhook(ctx context.Context, gatewayName string, header http.Header, body []byte) (*WebhookEvent, error) {
	g, err := a.Gateway(gatewayName)
	if err != nil {
		return nil, err
	}
	parser, ok := g.(WebhookParser)
	if !ok {
		return nil, fmt.Errorf("%w: %s does not accept webhooks", models.ErrUnknownGateway, gatewayName)
	}
	return parser.ParseWebhook(ctx, header, body)
}
