package attempts

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/storeauth/internal/dbx"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Record(ctx context.Context, identifier, action string, success bool, at time.Time) (int64, error) {
	query :=
		`INSERT INTO auth_attempts (identifier, action, success, created_at)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id
		 `

	var id int64
	if err := r.db.QueryRowContext(ctx, query, identifier, action, success, at).Scan(&id); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return id, nil
}

func (r *PostgresRepository) MarkSucceeded(ctx context.Context, id int64) error {
	query :=
		`UPDATE auth_attempts SET success = TRUE
		 WHERE id = $1
		 `

	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) CountFailures(ctx context.Context, identifier, action string, since time.Time) (int, error) {
	query :=
		`SELECT COUNT(*) FROM auth_attempts
		 WHERE identifier = $1 AND action = $2 AND success = FALSE AND created_at >= $3
		 `

	var n int
	if err := r.db.QueryRowContext(ctx, query, identifier, action, since).Scan(&n); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) ClearFailures(ctx context.Context, identifier, action string) (int64, error) {
	query :=
		`DELETE FROM auth_attempts
		 WHERE identifier = $1 AND action = $2 AND success = FALSE
		 `
	return r.exec(ctx, query, identifier, action)
}

func (r *PostgresRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query :=
		`DELETE FROM auth_attempts
		 WHERE created_at < $1
		 `
	return r.exec(ctx, query, cutoff)
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
