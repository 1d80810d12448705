package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"event-ticketing-checkout/internal/clock"
	"event-ticketing-checkout/internal/models"
)

const holdTokenIssuer = "checkout-holds"

type holdClaims struct {
	EventID string `json:"evt"`
	jwt.RegisteredClaims
}

// HoldTokenIssuer turns hold session ids into signed opaque tokens.
type HoldTokenIssuer struct {
	key   []byte
	clock clock.Clock
}

func NewHoldTokenIssuer(key []byte, clk clock.Clock) *HoldTokenIssuer {
	return &HoldTokenIssuer{key: key, clock: clk}
}

// Issue signs a token that stays valid until validUntil.
func (i *HoldTokenIssuer) Issue(sessionID, eventID string, validUntil time.Time) (string, error) {
	claims := holdClaims{
		EventID: eventID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    holdTokenIssuer,
			Subject:   sessionID,
			IssuedAt:  jwt.NewNumericDate(i.clock.Now()),
			ExpiresAt: jwt.NewNumericDate(validUntil),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign hold token: %w", err)
	}
	return token, nil
}

// SessionID verifies the token and returns the session it refers to.
func (i *HoldTokenIssuer) SessionID(raw string) (string, error) {
	if raw == "" {
		return "", models.ErrInvalidToken
	}
	claims := &holdClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return i.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(holdTokenIssuer),
		jwt.WithTimeFunc(i.clock.Now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", &models.InventoryError{Code: models.InventorySessionExpired, Message: "hold token expired"}
		}
		return "", fmt.Errorf("%w: %v", models.ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return "", models.ErrInvalidToken
	}
	return claims.Subject, nil
}
