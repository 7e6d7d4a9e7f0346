package otptokens

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

func (r *PostgresRepository) DeleteUnused(ctx context.Context, ownerID int64, typ string) (int64, error) {
	query :=
		`DELETE FROM otp_tokens
		 WHERE owner_id = $1 AND type = $2 AND used_at IS NULL
		 `

	res, err := r.db.ExecContext(ctx, query, ownerID, typ)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) Create(ctx context.Context, t *models.OtpToken) (*models.OtpToken, error) {
	query :=
		`INSERT INTO otp_tokens (owner_id, type, code_hash, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id
		 `

	err := r.db.QueryRowContext(ctx, query, t.OwnerID, t.Type, t.CodeHash, t.CreatedAt, t.ExpiresAt).Scan(&t.ID)
	if err != nil {
		if common.IsUniqueViolation(err) {
			return nil, common.ErrConflict
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return t, nil
}

func (r *PostgresRepository) FindByHash(ctx context.Context, ownerID int64, typ, hash string) (*models.OtpToken, error) {
	query :=
		`SELECT id, owner_id, type, code_hash, created_at, expires_at, used_at FROM otp_tokens
		 WHERE owner_id = $1 AND type = $2 AND code_hash = $3
		 ORDER BY created_at DESC
		 LIMIT 1
		 `

	t := &models.OtpToken{}
	var usedAt sql.NullTime
	err := r.db.QueryRowContext(ctx, query, ownerID, typ, hash).
		Scan(&t.ID, &t.OwnerID, &t.Type, &t.CodeHash, &t.CreatedAt, &t.ExpiresAt, &usedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	if usedAt.Valid {
		u := usedAt.Time
		t.UsedAt = &u
	}
	return t, nil
}

func (r *PostgresRepository) Claim(ctx context.Context, id int64, at time.Time) error {
	query :=
		`UPDATE otp_tokens SET used_at = $2
		 WHERE id = $1 AND used_at IS NULL AND expires_at > $2
		 `

	_, err := dbx.ExecAffected(ctx, r.db, query, id, at)
	if err != nil {
		if errors.Is(err, dbx.ErrNoRowsAffected) {
			return common.ErrTokenAlreadyUsed
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	query :=
		`DELETE FROM otp_tokens
		 WHERE expires_at < $1
		 `

	res, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}
