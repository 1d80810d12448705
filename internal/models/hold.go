package models

import "time"

// HoldState represents the lifecycle of a hold session
type HoldState string

const (
	HoldActive    HoldState = "active"
	HoldFinalized HoldState = "finalized"
	HoldReleased  HoldState = "released"
	HoldExpired   HoldState = "expired"
)

// IsTerminal is true once the held units were either sold or returned.
func (s HoldState) IsTerminal() bool {
	return s == HoldFinalized || s == HoldReleased || s == HoldExpired
}

// HoldSession is a time-boxed reservation of units for one checkout.
type HoldSession struct {
	SessionID string        `json:"session_id"`
	EventID   string        `json:"event_id"`
	Units     []UnitRequest `json:"units"`
	CreatedAt time.Time     `json:"created_at"`
	ExpiresAt time.Time     `json:"expires_at"`
	State     HoldState     `json:"state"`
}

// IsExpiredAt reports whether an active session has outlived its TTL.
func (h *HoldSession) IsExpiredAt(now time.Time) bool {
	return h.State == HoldActive && !now.Before(h.ExpiresAt)
}

// HoldReceipt is returned by a successful reservation. Token is the opaque
// value handed to the client.
type HoldReceipt struct {
	SessionID string        `json:"session_id"`
	EventID   string        `json:"event_id"`
	Units     []UnitRequest `json:"units"`
	CreatedAt time.Time     `json:"created_at"`
	ExpiresAt time.Time     `json:"expires_at"`
	Token     string        `json:"token,omitempty"`
}

// ReceiptFor builds a receipt describing an existing session.
func ReceiptFor(h *HoldSession) *HoldReceipt {
	return &HoldReceipt{
		SessionID: h.SessionID,
		EventID:   h.EventID,
		Units:     h.Units,
		CreatedAt: h.CreatedAt,
		ExpiresAt: h.ExpiresAt,
	}
}
