// Package retention runs the periodic cleanup of expired auth state:
// OTP tokens, attempt history, sessions, transport handles and old audit
// rows. Audit rows are archived before deletion when an Archiver is set.
package retention

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/dmitrijs2005/storeauth/internal/common"
	"github.com/dmitrijs2005/storeauth/internal/dbx"
	"github.com/dmitrijs2005/storeauth/internal/logging"
	"github.com/dmitrijs2005/storeauth/internal/server/repositories/repomanager"
)

// auditBatch bounds how many audit rows go into one archive object.
const auditBatch = 1000

// OtpCleaner and SessionCleaner are satisfied by the services package.
type OtpCleaner interface {
	CleanupExpired(ctx context.Context) (int64, error)
	CleanupOldAttempts(ctx context.Context, retention time.Duration) (int64, error)
}

type SessionCleaner interface {
	CleanupExpired(ctx context.Context, handleRetention time.Duration) (int64, error)
}

type Options struct {
	AttemptRetention time.Duration
	HandleRetention  time.Duration
	// AuditRetention of zero keeps audit rows forever.
	AuditRetention time.Duration
	Interval       time.Duration
}

// Report counts the rows each pass removed.
type Report struct {
	OtpTokens int64
	Attempts  int64
	Sessions  int64
	Audit     int64
	Archived  int
}

type Job struct {
	otp         OtpCleaner
	sessions    SessionCleaner
	db          dbx.DBTX
	repomanager repomanager.RepositoryManager
	archiver    Archiver
	opts        Options
	logger      logging.Logger
	now         func() time.Time
}

// NewJob builds a Job. archiver may be nil, in which case old audit rows are
// deleted without a copy.
func NewJob(otp OtpCleaner, sessions SessionCleaner, db dbx.DBTX, m repomanager.RepositoryManager,
	archiver Archiver, opts Options, l logging.Logger) *Job {
	return &Job{
		otp:         otp,
		sessions:    sessions,
		db:          db,
		repomanager: m,
		archiver:    archiver,
		opts:        opts,
		logger:      l.With("module", "retention"),
		now:         time.Now,
	}
}

// RunOnce performs a single cleanup pass. It keeps going after a failed step
// and returns the first error.
func (j *Job) RunOnce(ctx context.Context) (Report, error) {
	var (
		r        Report
		firstErr error
	)
	keep := func(step string, err error) {
		if err == nil {
			return
		}
		j.logger.Error(ctx, "retention step failed", "step", step, "error", err)
		if firstErr == nil {
			firstErr = err
		}
	}

	n, err := j.otp.CleanupExpired(ctx)
	r.OtpTokens = n
	keep("otp_tokens", err)

	n, err = j.otp.CleanupOldAttempts(ctx, j.opts.AttemptRetention)
	r.Attempts = n
	keep("attempts", err)

	n, err = j.sessions.CleanupExpired(ctx, j.opts.HandleRetention)
	r.Sessions = n
	keep("sessions", err)

	if j.opts.AuditRetention > 0 {
		n, archived, err := j.pruneAudit(ctx, j.now().Add(-j.opts.AuditRetention))
		r.Audit, r.Archived = n, archived
		keep("audit", err)
	}

	j.logger.Info(ctx, "retention pass finished",
		"otp_tokens", r.OtpTokens, "attempts", r.Attempts, "sessions", r.Sessions,
		"audit", r.Audit, "archived", r.Archived)
	return r, firstErr
}

// pruneAudit pages audit rows older than cutoff in id order, archives each
// page and deletes only what was archived.
func (j *Job) pruneAudit(ctx context.Context, cutoff time.Time) (int64, int, error) {
	repo := j.repomanager.AuditLog(j.db)

	if j.archiver == nil {
		n, err := repo.DeleteBefore(ctx, cutoff, 1<<62)
		if err != nil {
			return 0, 0, common.StorageError(err)
		}
		return n, 0, nil
	}

	var (
		deleted  int64
		archived int
		afterID  int64
	)
	for {
		events, err := repo.ListBefore(ctx, cutoff, afterID, auditBatch)
		if err != nil {
			return deleted, archived, common.StorageError(err)
		}
		if len(events) == 0 {
			return deleted, archived, nil
		}

		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		for _, e := range events {
			if err := enc.Encode(e); err != nil {
				return deleted, archived, err
			}
		}
		if err := j.archiver.Put(ctx, ArchiveKey(j.now()), buf.Bytes()); err != nil {
			return deleted, archived, err
		}
		archived += len(events)

		afterID = events[len(events)-1].ID
		n, err := repo.DeleteBefore(ctx, cutoff, afterID)
		if err != nil {
			return deleted, archived, common.StorageError(err)
		}
		deleted += n

		if len(events) < auditBatch {
			return deleted, archived, nil
		}
	}
}

// Run repeats RunOnce every Interval until ctx is cancelled. A non-positive
// interval disables the loop.
func (j *Job) Run(ctx context.Context) {
	if j.opts.Interval <= 0 {
		j.logger.Info(ctx, "retention loop disabled")
		return
	}
	ticker := time.NewTicker(j.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = j.RunOnce(ctx)
		}
	}
}
