package models

import "time"

// TotpSecret is a user's base32 authenticator secret. ConfirmedAt is set once
// the user proved possession with a valid code; until then it is not enforced
// at login.
type TotpSecret struct {
	OwnerID     int64
	Secret      string
	CreatedAt   time.Time
	ConfirmedAt *time.Time
}
