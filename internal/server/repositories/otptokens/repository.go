// Package otptokens declares the repository contract for hashed one-time
// codes and its PostgreSQL implementation.
package otptokens

import (
	"context"
	"time"

	"github.com/dmitrijs2005/storeauth/internal/server/models"
)

// Repository stores OTP tokens. Only code hashes ever reach it.
type Repository interface {
	// DeleteUnused removes every not-yet-consumed token for (ownerID, typ).
	DeleteUnused(ctx context.Context, ownerID int64, typ string) (int64, error)

	// Create inserts t and fills its ID. A concurrent live token for the
	// same (owner, type) yields common.ErrConflict.
	Create(ctx context.Context, t *models.OtpToken) (*models.OtpToken, error)

	// FindByHash returns the newest token matching (ownerID, typ, hash),
	// consumed or not, or common.ErrorNotFound.
	FindByHash(ctx context.Context, ownerID int64, typ, hash string) (*models.OtpToken, error)

	// Claim marks the token consumed at `at` only if it is still unused and
	// unexpired. Losing the race yields common.ErrTokenAlreadyUsed.
	Claim(ctx context.Context, id int64, at time.Time) error

	// DeleteExpired removes tokens whose expiry is before cutoff.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}
