package totpsecrets

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

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Upsert(ctx context.Context, s *models.TotpSecret) error {
	query :=
		`INSERT INTO totp_secrets (owner_id, secret, created_at, confirmed_at)
		 VALUES ($1, $2, $3, NULL)
		 ON CONFLICT (owner_id) DO UPDATE
		 SET secret = EXCLUDED.secret, created_at = EXCLUDED.created_at, confirmed_at = NULL
		 `

	if _, err := r.db.ExecContext(ctx, query, s.OwnerID, s.Secret, s.CreatedAt); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, ownerID int64) (*models.TotpSecret, error) {
	query :=
		`SELECT owner_id, secret, created_at, confirmed_at FROM totp_secrets
		 WHERE owner_id = $1
		 `

	s := &models.TotpSecret{}
	var confirmed sql.NullTime
	err := r.db.QueryRowContext(ctx, query, ownerID).Scan(&s.OwnerID, &s.Secret, &s.CreatedAt, &confirmed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	if confirmed.Valid {
		c := confirmed.Time
		s.ConfirmedAt = &c
	}
	return s, nil
}

func (r *PostgresRepository) Confirm(ctx context.Context, ownerID int64, at time.Time) error {
	query :=
		`UPDATE totp_secrets SET confirmed_at = $2
		 WHERE owner_id = $1
		 `

	_, err := dbx.ExecAffected(ctx, r.db, query, ownerID, at)
	if err != nil {
		if errors.Is(err, dbx.ErrNoRowsAffected) {
			return common.ErrorNotFound
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, ownerID int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM totp_secrets WHERE owner_id = $1`, ownerID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
