package models

import "time"

// Token purposes.
const (
	OtpEmailVerification = "email_verification"
	OtpPasswordReset     = "password_reset"
	// OtpLoginChallenge binds a password check to the TOTP step that follows it.
	OtpLoginChallenge    = "login_challenge"
)

// OtpToken is a single-use emailed code. Only the peppered hash is stored.
// UsedAt is nil until the token is consumed, after which the row is immutable.
type OtpToken struct {
	ID        int64
	OwnerID   int64
	Type      string
	CodeHash  string
	CreatedAt time.Time
	ExpiresAt time.Time
	UsedAt    *time.Time
}

// Expired reports whether the token is past its expiry at now.
func (t *OtpToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// Used reports whether the token has been consumed.
func (t *OtpToken) Used() bool {
	return t.UsedAt != nil
}
