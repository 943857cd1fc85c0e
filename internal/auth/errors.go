package auth

import "errors"

// Authentication failures deliberately carry no detail about which check
// failed, so callers cannot probe for account or token existence.
var (
	// ErrEmailTaken is returned by Register when the email already exists.
	ErrEmailTaken = errors.New("email already registered")

	// ErrInvalidCredentials is returned by Login for both an unknown email
	// and a password mismatch.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidToken is returned by Refresh when the presented secret does
	// not match a live token row, including a secret that was already
	// rotated away.
	ErrInvalidToken = errors.New("invalid refresh token")

	// ErrExpiredToken is returned by Refresh when the token row exists but
	// is past its expiry.
	ErrExpiredToken = errors.New("refresh token expired")

	// ErrResetTokenInvalid is returned by ResetPassword for an unknown,
	// already-used, or expired reset token.
	ErrResetTokenInvalid = errors.New("invalid or expired token")

	// ErrUnauthorized is returned by VerifyAccessToken on any signature or
	// expiry failure.
	ErrUnauthorized = errors.New("unauthorized")
)
