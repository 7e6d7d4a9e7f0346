package sessions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/storeauth/internal/common"
	"github.com/dmitrijs2005/storeauth/internal/dbx"
	"github.com/dmitrijs2005/storeauth/internal/server/models"
)

const sessionColumns = `id, owner_id, token, csrf_token, ip, user_agent, created_at, expires_at`

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, s *models.Session) (*models.Session, error) {
	query :=
		`INSERT INTO sessions (owner_id, token, csrf_token, ip, user_agent, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id
		 `

	err := r.db.QueryRowContext(ctx, query, s.OwnerID, s.Token, s.CSRFToken, s.IP, s.UserAgent, s.CreatedAt, s.ExpiresAt).Scan(&s.ID)
	if err != nil {
		if common.IsUniqueViolation(err) {
			return nil, common.ErrConflict
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return s, nil
}

func (r *PostgresRepository) FindActive(ctx context.Context, ownerID int64, token string, now time.Time) (*models.Session, error) {
	query :=
		`SELECT ` + sessionColumns + ` FROM sessions
		 WHERE owner_id = $1 AND token = $2 AND expires_at > $3
		 `
	return r.scanOne(r.db.QueryRowContext(ctx, query, ownerID, token, now))
}

func (r *PostgresRepository) FindByToken(ctx context.Context, token string) (*models.Session, error) {
	query :=
		`SELECT ` + sessionColumns + ` FROM sessions
		 WHERE token = $1
		 `
	return r.scanOne(r.db.QueryRowContext(ctx, query, token))
}

func (r *PostgresRepository) scanOne(row *sql.Row) (*models.Session, error) {
	s := &models.Session{}
	err := row.Scan(&s.ID, &s.OwnerID, &s.Token, &s.CSRFToken, &s.IP, &s.UserAgent, &s.CreatedAt, &s.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return s, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, token string) error {
	query := `DELETE FROM sessions WHERE token = $1`

	if _, err := r.db.ExecContext(ctx, query, token); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) DeleteByOwner(ctx context.Context, ownerID int64) (int64, error) {
	return r.exec(ctx, `DELETE FROM sessions WHERE owner_id = $1`, ownerID)
}

func (r *PostgresRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return r.exec(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, now)
}

func (r *PostgresRepository) GetHandle(ctx context.Context, handle string) (*models.TransportSession, error) {
	query :=
		`SELECT handle, csrf_token, created_at, last_used_at FROM transport_sessions
		 WHERE handle = $1
		 `

	h := &models.TransportSession{}
	err := r.db.QueryRowContext(ctx, query, handle).Scan(&h.Handle, &h.CSRFToken, &h.CreatedAt, &h.LastUsedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return h, nil
}

func (r *PostgresRepository) CreateHandle(ctx context.Context, h *models.TransportSession) (*models.TransportSession, error) {
	query :=
		`INSERT INTO transport_sessions (handle, csrf_token, created_at, last_used_at)
		 VALUES ($1, $2, $3, $3)
		 ON CONFLICT (handle) DO UPDATE SET handle = EXCLUDED.handle
		 RETURNING handle, csrf_token, created_at, last_used_at
		 `

	out := &models.TransportSession{}
	err := r.db.QueryRowContext(ctx, query, h.Handle, h.CSRFToken, h.CreatedAt).Scan(&out.Handle, &out.CSRFToken, &out.CreatedAt, &out.LastUsedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) DeleteHandle(ctx context.Context, handle string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM transport_sessions WHERE handle = $1`, handle); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) TouchHandle(ctx context.Context, handle string, at time.Time) error {
	_, err := r.exec(ctx, `UPDATE transport_sessions SET last_used_at = $2 WHERE handle = $1 AND last_used_at < $2`, handle, at)
	return err
}

func (r *PostgresRepository) DeleteHandlesIdleSince(ctx context.Context, cutoff time.Time) (int64, error) {
	return r.exec(ctx, `DELETE FROM transport_sessions WHERE last_used_at < $1`, cutoff)
}

func (r *PostgresRepository) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}
