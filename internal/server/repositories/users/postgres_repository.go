package users

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

const selectColumns = `id, email, username, password_hash, status, role, email_verified_at, created_at, updated_at`

func (r *PostgresRepository) Create(ctx context.Context, c *models.Credential) (*models.Credential, error) {
	query :=
		`INSERT INTO credentials (email, username, password_hash, status, role)
		 VALUES ($1, NULLIF($2, ''), $3, $4, $5)
		 RETURNING id, created_at, updated_at
		 `

	err := r.db.QueryRowContext(ctx, query,
		c.Email, c.Username, c.PasswordHash, string(c.Status), c.Role).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)

	if err != nil {
		if common.IsUniqueViolation(err) {
			return nil, common.ErrConflict
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return c, nil
}

func (r *PostgresRepository) GetByIdentifier(ctx context.Context, identifier string) (*models.Credential, error) {
	query := `SELECT ` + selectColumns + ` FROM credentials
		 WHERE email = $1 OR username = $1
		 LIMIT 1
		 `
	return r.scanOne(r.db.QueryRowContext(ctx, query, identifier))
}

func (r *PostgresRepository) GetByID(ctx context.Context, id int64) (*models.Credential, error) {
	query := `SELECT ` + selectColumns + ` FROM credentials
		 WHERE id = $1
		 `
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) scanOne(row *sql.Row) (*models.Credential, error) {
	c := &models.Credential{}
	var (
		username sql.NullString
		status   string
		verified sql.NullTime
	)

	err := row.Scan(&c.ID, &c.Email, &username, &c.PasswordHash, &status, &c.Role, &verified, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	c.Username = username.String
	c.Status = models.AccountStatus(status)
	if verified.Valid {
		t := verified.Time
		c.EmailVerifiedAt = &t
	}
	return c, nil
}

func (r *PostgresRepository) MarkEmailVerified(ctx context.Context, id int64, at time.Time) error {
	query :=
		`UPDATE credentials
		 SET status = 'active', email_verified_at = COALESCE(email_verified_at, $2), updated_at = $2
		 WHERE id = $1 AND status <> 'suspended'
		 `
	return r.update(ctx, query, id, at)
}

func (r *PostgresRepository) UpdatePassword(ctx context.Context, id int64, hash string, at time.Time) error {
	query :=
		`UPDATE credentials SET password_hash = $2, updated_at = $3
		 WHERE id = $1
		 `
	return r.update(ctx, query, id, hash, at)
}

func (r *PostgresRepository) UpdateStatus(ctx context.Context, id int64, status models.AccountStatus, at time.Time) error {
	query :=
		`UPDATE credentials SET status = $2, updated_at = $3
		 WHERE id = $1
		 `
	return r.update(ctx, query, id, string(status), at)
}

func (r *PostgresRepository) update(ctx context.Context, query string, args ...any) error {
	_, err := dbx.ExecAffected(ctx, r.db, query, args...)
	if err != nil {
		if errors.Is(err, dbx.ErrNoRowsAffected) {
			return common.ErrorNotFound
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
