package identity

import "errors"

// Failure taxonomy for the session core. The HTTP layer maps these onto
// status codes; anything not listed here surfaces as a server failure.
var (
	// ErrInvalidInput marks malformed or missing input caught before any
	// store access.
	ErrInvalidInput = errors.New("identity: invalid input")
	// ErrInvalidCredentials is returned on credential mismatch.
	ErrInvalidCredentials = errors.New("identity: invalid credentials")
	// ErrUnauthorized covers expired or otherwise unusable tokens and OTP
	// codes.
	ErrUnauthorized = errors.New("identity: unauthorized")
	// ErrForbidden covers revoked tokens and cross-owner access attempts.
	ErrForbidden = errors.New("identity: forbidden")
	// ErrBlocked is returned when the identity's block flag is set.
	ErrBlocked = errors.New("identity: account blocked")
	// ErrNotFound covers unknown identities, token records and challenges.
	ErrNotFound = errors.New("identity: not found")
	// ErrDeliveryFailed is returned when an OTP challenge was persisted but
	// could not be delivered.
	ErrDeliveryFailed = errors.New("identity: otp delivery failed")
)
