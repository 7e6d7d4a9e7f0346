package models

import "time"

// Rate-limited action types.
const (
	ActionLogin = "login"
	ActionOtp   = "otp"
)

// Attempt is one row of the rate limiter's append-only history.
type Attempt struct {
	ID         int64
	Identifier string
	Action     string
	Success    bool
	CreatedAt  time.Time
}
