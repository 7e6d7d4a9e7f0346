package services

import (
	"context"
	"time"

	"github.com/dmitrijs2005/storeauth/internal/dbx"
	"github.com/dmitrijs2005/storeauth/internal/logging"
	"github.com/dmitrijs2005/storeauth/internal/server/models"
	"github.com/dmitrijs2005/storeauth/internal/server/repositories/repomanager"
)

// AuditLog is the append-only security event sink. Writes never fail the
// operation being audited; they are logged instead.
type AuditLog struct {
	db          dbx.DBTX
	repomanager repomanager.RepositoryManager
	logger      logging.Logger
	now         func() time.Time
}

func NewAuditLog(db dbx.DBTX, m repomanager.RepositoryManager, l logging.Logger) *AuditLog {
	return &AuditLog{
		db:          db,
		repomanager: m,
		logger:      l.With("module", "audit"),
		now:         time.Now,
	}
}

// Record appends e. CreatedAt defaults to now.
func (a *AuditLog) Record(ctx context.Context, e models.AuditEvent) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = a.now()
	}
	if _, err := a.repomanager.AuditLog(a.db).Insert(ctx, &e); err != nil {
		a.logger.Warn(ctx, "audit write failed", "action", e.Action, "error", err)
	}
}

// ListByActor returns the newest events of actorID first.
func (a *AuditLog) ListByActor(ctx context.Context, actorID int64, limit int) ([]*models.AuditEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	events, err := a.repomanager.AuditLog(a.db).ListByActor(ctx, actorID, limit)
	if err != nil {
		return nil, storageError(err)
	}
	return events, nil
}
