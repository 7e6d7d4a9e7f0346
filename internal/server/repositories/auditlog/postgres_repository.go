package auditlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dmitrijs2005/storeauth/internal/dbx"
	"github.com/dmitrijs2005/storeauth/internal/server/models"
)

const eventColumns = `id, actor_id, action, resource_type, resource_id, metadata, created_at`

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Insert(ctx context.Context, e *models.AuditEvent) (*models.AuditEvent, error) {
	query :=
		`INSERT INTO audit_log (actor_id, action, resource_type, resource_id, metadata, created_at)
		 VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6)
		 RETURNING id
		 `

	meta := e.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}

	var actor sql.NullInt64
	if e.ActorID != nil {
		actor = sql.NullInt64{Int64: *e.ActorID, Valid: true}
	}

	err = r.db.QueryRowContext(ctx, query, actor, e.Action, e.ResourceType, e.ResourceID, raw, e.CreatedAt).Scan(&e.ID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return e, nil
}

func (r *PostgresRepository) ListByActor(ctx context.Context, actorID int64, limit int) ([]*models.AuditEvent, error) {
	query :=
		`SELECT ` + eventColumns + ` FROM audit_log
		 WHERE actor_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2
		 `
	return r.list(ctx, query, actorID, limit)
}

func (r *PostgresRepository) ListBefore(ctx context.Context, cutoff time.Time, afterID int64, limit int) ([]*models.AuditEvent, error) {
	query :=
		`SELECT ` + eventColumns + ` FROM audit_log
		 WHERE created_at < $1 AND id > $2
		 ORDER BY id
		 LIMIT $3
		 `
	return r.list(ctx, query, cutoff, afterID, limit)
}

func (r *PostgresRepository) DeleteBefore(ctx context.Context, cutoff time.Time, maxID int64) (int64, error) {
	query :=
		`DELETE FROM audit_log
		 WHERE created_at < $1 AND id <= $2
		 `

	res, err := r.db.ExecContext(ctx, query, cutoff, maxID)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]*models.AuditEvent, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []*models.AuditEvent
	for rows.Next() {
		var (
			e       models.AuditEvent
			actor   sql.NullInt64
			resType sql.NullString
			resID   sql.NullString
			raw     []byte
		)
		if err := rows.Scan(&e.ID, &actor, &e.Action, &resType, &resID, &raw, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		if actor.Valid {
			a := actor.Int64
			e.ActorID = &a
		}
		e.ResourceType = resType.String
		e.ResourceID = resID.String
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &e.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata: %w", err)
			}
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}
