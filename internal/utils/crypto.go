package utils

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Key purposes derived from the application secret
const (
	PurposeHoldToken  = "hold-token"
	PurposeTicketCode = "ticket-code"
)

// DeriveKey derives a 32-byte key for one purpose from the application
// secret, so a leaked key for one purpose cannot forge another.
func DeriveKey(secret, purpose string) ([]byte, error) {
	if secret == "" {
		return nil, fmt.Errorf("secret is required")
	}
	key := make([]byte, 32)
	reader := hkdf.New(sha256.New, []byte(secret), nil, []byte(purpose))
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("failed to derive %s key: %w", purpose, err)
	}
	return key, nil
}

// MustDeriveKey is DeriveKey for static configuration
func MustDeriveKey(secret, purpose string) []byte {
	key, err := DeriveKey(secret, purpose)
	if err != nil {
		panic(err)
	}
	return key
}

// SignHex returns the hex HMAC-SHA256 of message
func SignHex(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyHex compares a hex HMAC-SHA256 signature in constant time
func VerifyHex(key []byte, message, signature string) bool {
	expected := SignHex(key, message)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

// VerifyBase64 checks a base64 HMAC-SHA256 signature, the form used by
// Square and Cash App webhook headers.
func VerifyBase64(key []byte, message, signature string) bool {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}
