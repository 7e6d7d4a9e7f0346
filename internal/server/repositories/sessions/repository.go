// Package sessions persists authenticated sessions and the anonymous
// transport handles that carry a CSRF token before login.
package sessions

import (
	"context"
	"time"

	"github.com/dmitrijs2005/storeauth/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, s *models.Session) (*models.Session, error)
	// FindActive returns the session of ownerID with the given token, if it
	// has not expired at now.
	FindActive(ctx context.Context, ownerID int64, token string, now time.Time) (*models.Session, error)
	// FindByToken returns the session regardless of expiry.
	FindByToken(ctx context.Context, token string) (*models.Session, error)
	Delete(ctx context.Context, token string) error
	DeleteByOwner(ctx context.Context, ownerID int64) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)

	GetHandle(ctx context.Context, handle string) (*models.TransportSession, error)
	// CreateHandle inserts the handle; an existing handle is left untouched
	// and returned as stored.
	CreateHandle(ctx context.Context, h *models.TransportSession) (*models.TransportSession, error)
	DeleteHandle(ctx context.Context, handle string) error
	// TouchHandle moves the handle's last use forward to at.
	TouchHandle(ctx context.Context, handle string, at time.Time) error
	// DeleteHandlesIdleSince removes handles not used since cutoff.
	DeleteHandlesIdleSince(ctx context.Context, cutoff time.Time) (int64, error)
}
