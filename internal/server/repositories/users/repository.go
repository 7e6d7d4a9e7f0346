// Package users declares the credential store's persistence contract and
// its PostgreSQL implementation.
package users

import (
	"context"
	"time"

	"github.com/dmitrijs2005/storeauth/internal/server/models"
)

// Repository persists credential records. Lookups return common.ErrorNotFound
// when no row matches; unique violations surface as common.ErrConflict.
type Repository interface {
	Create(ctx context.Context, c *models.Credential) (*models.Credential, error)
	// GetByIdentifier matches either the email or the username.
	GetByIdentifier(ctx context.Context, identifier string) (*models.Credential, error)
	GetByID(ctx context.Context, id int64) (*models.Credential, error)
	// MarkEmailVerified activates a pending account and stamps the
	// verification time once. Suspended accounts are left untouched.
	MarkEmailVerified(ctx context.Context, id int64, at time.Time) error
	UpdatePassword(ctx context.Context, id int64, hash string, at time.Time) error
	UpdateStatus(ctx context.Context, id int64, status models.AccountStatus, at time.Time) error
}
