package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/storeauth/internal/dbx"
	"github.com/dmitrijs2005/storeauth/internal/logging"
	"github.com/dmitrijs2005/storeauth/internal/server/repositories/repomanager"
)

// FailurePolicy decides what the rate limiter answers when its storage fails.
type FailurePolicy int

const (
	// FailOpen allows the attempt and drops the bookkeeping write.
	FailOpen FailurePolicy = iota
	// FailClosed denies the attempt and surfaces storage errors.
	FailClosed
)

func (p FailurePolicy) String() string {
	if p == FailClosed {
		return "closed"
	}
	return "open"
}

// ParseFailurePolicy maps the configuration strings "open" and "closed".
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "open", "":
		return FailOpen, nil
	case "closed":
		return FailClosed, nil
	}
	return FailOpen, fmt.Errorf("unknown failure policy %q", s)
}

// IPKey is the identifier under which per-address login attempts are counted.
func IPKey(ip string) string {
	return "ip:" + ip
}

// OtpKey is the identifier under which OTP attempts of one owner and code
// type are counted.
func OtpKey(ownerID int64, typ string) string {
	return fmt.Sprintf("%d:%s", ownerID, typ)
}

// RateLimiter counts failed attempts per (identifier, action) over a
// trailing window. Counting is read-then-act without locks, so concurrent
// bursts may overshoot the limit slightly.
type RateLimiter struct {
	db          dbx.DBTX
	repomanager repomanager.RepositoryManager
	policy      FailurePolicy
	logger      logging.Logger
	now         func() time.Time
}

func NewRateLimiter(db dbx.DBTX, m repomanager.RepositoryManager, policy FailurePolicy, l logging.Logger) *RateLimiter {
	return &RateLimiter{
		db:          db,
		repomanager: m,
		policy:      policy,
		logger:      l.With("module", "rate_limiter"),
		now:         time.Now,
	}
}

func (r *RateLimiter) Policy() FailurePolicy { return r.policy }

// CheckAllowed reports whether fewer than limit.MaxAttempts failures were
// recorded for (identifier, action) within limit.Window. A disabled limit
// always allows.
func (r *RateLimiter) CheckAllowed(ctx context.Context, identifier, action string, limit Limit) bool {
	if !limit.Enabled() {
		return true
	}
	n, err := r.repomanager.Attempts(r.db).CountFailures(ctx, identifier, action, r.now().Add(-limit.Window))
	if err != nil {
		r.logger.Warn(ctx, "attempt count failed", "action", action, "policy", r.policy.String(), "error", err)
		return r.policy == FailOpen
	}
	return n < limit.MaxAttempts
}

// Remaining returns how many more failures (identifier, action) may incur
// before CheckAllowed turns false.
func (r *RateLimiter) Remaining(ctx context.Context, identifier, action string, limit Limit) (int, error) {
	n, err := r.repomanager.Attempts(r.db).CountFailures(ctx, identifier, action, r.now().Add(-limit.Window))
	if err != nil {
		return 0, storageError(err)
	}
	if n >= limit.MaxAttempts {
		return 0, nil
	}
	return limit.MaxAttempts - n, nil
}

// Record appends an attempt row and returns its id. Under FailOpen a storage
// failure is logged and reported as id 0 with no error.
func (r *RateLimiter) Record(ctx context.Context, identifier, action string, success bool) (int64, error) {
	id, err := r.repomanager.Attempts(r.db).Record(ctx, identifier, action, success, r.now())
	if err != nil {
		return 0, r.fail(ctx, "attempt record failed", action, err)
	}
	return id, nil
}

// MarkSucceeded turns a provisional failure row into a success. Id 0 is
// ignored.
func (r *RateLimiter) MarkSucceeded(ctx context.Context, id int64) error {
	if id == 0 {
		return nil
	}
	if err := r.repomanager.Attempts(r.db).MarkSucceeded(ctx, id); err != nil {
		return r.fail(ctx, "attempt update failed", "", err)
	}
	return nil
}

// Clear drops the failed-attempt history of (identifier, action).
func (r *RateLimiter) Clear(ctx context.Context, identifier, action string) error {
	if _, err := r.repomanager.Attempts(r.db).ClearFailures(ctx, identifier, action); err != nil {
		return r.fail(ctx, "attempt clear failed", action, err)
	}
	return nil
}

// CleanupOlderThan deletes attempt rows created before now-retention.
func (r *RateLimiter) CleanupOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	n, err := r.repomanager.Attempts(r.db).DeleteOlderThan(ctx, r.now().Add(-retention))
	if err != nil {
		return 0, storageError(err)
	}
	return n, nil
}

func (r *RateLimiter) fail(ctx context.Context, msg, action string, err error) error {
	r.logger.Warn(ctx, msg, "action", action, "policy", r.policy.String(), "error", err)
	if r.policy == FailOpen {
		return nil
	}
	return storageError(err)
}
