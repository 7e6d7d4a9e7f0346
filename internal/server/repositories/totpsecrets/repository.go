// Package totpsecrets stores one authenticator secret per credential.
package totpsecrets

import (
	"context"
	"time"

	"github.com/dmitrijs2005/storeauth/internal/server/models"
)

type Repository interface {
	// Upsert replaces any existing secret of the owner and clears its confirmation.
	Upsert(ctx context.Context, s *models.TotpSecret) error
	Get(ctx context.Context, ownerID int64) (*models.TotpSecret, error)
	Confirm(ctx context.Context, ownerID int64, at time.Time) error
	Delete(ctx context.Context, ownerID int64) error
}
