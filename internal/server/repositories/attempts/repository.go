// Package attempts declares the append-only attempt history used by the
// rate limiter, with a PostgreSQL implementation.
package attempts

import (
	"context"
	"time"
)

// Repository stores attempt rows and answers aggregate questions about them.
type Repository interface {
	// Record appends a row and returns its id.
	Record(ctx context.Context, identifier, action string, success bool, at time.Time) (int64, error)
	// MarkSucceeded flips a provisional failure row to success.
	MarkSucceeded(ctx context.Context, id int64) error
	// CountFailures counts failed rows for (identifier, action) created at or after since.
	CountFailures(ctx context.Context, identifier, action string, since time.Time) (int, error)
	// ClearFailures drops the failed-attempt history of (identifier, action).
	ClearFailures(ctx context.Context, identifier, action string) (int64, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
