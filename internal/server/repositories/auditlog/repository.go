// Package auditlog persists the append-only security audit trail.
package auditlog

import (
	"context"
	"time"

	"github.com/dmitrijs2005/storeauth/internal/server/models"
)

type Repository interface {
	Insert(ctx context.Context, e *models.AuditEvent) (*models.AuditEvent, error)
	// ListByActor returns the newest events of an actor first.
	ListByActor(ctx context.Context, actorID int64, limit int) ([]*models.AuditEvent, error)
	// ListBefore pages events older than cutoff in id order, starting after afterID.
	ListBefore(ctx context.Context, cutoff time.Time, afterID int64, limit int) ([]*models.AuditEvent, error)
	// DeleteBefore removes events older than cutoff whose id is at most maxID.
	DeleteBefore(ctx context.Context, cutoff time.Time, maxID int64) (int64, error)
}
