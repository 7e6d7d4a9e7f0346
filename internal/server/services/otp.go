package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/dmitrijs2005/storeauth/internal/common"
	"github.com/dmitrijs2005/storeauth/internal/cryptox"
	"github.com/dmitrijs2005/storeauth/internal/dbx"
	"github.com/dmitrijs2005/storeauth/internal/logging"
	"github.com/dmitrijs2005/storeauth/internal/server/models"
	"github.com/dmitrijs2005/storeauth/internal/server/repositories/repomanager"
	"golang.org/x/time/rate"
)

// OtpCodeLength is the number of digits of every emailed code.
const OtpCodeLength = 8

// generateRetries bounds how often Generate retries after losing the
// unique-index race against a concurrent Generate for the same owner and type.
const generateRetries = 3

// OtpTokenService issues and verifies single-use, hashed, expiring codes.
type OtpTokenService struct {
	db          dbx.DBTX
	tx          dbx.Transactor
	repomanager repomanager.RepositoryManager
	limiter     *RateLimiter
	audit       *AuditLog
	logger      logging.Logger
	pepper      []byte
	limit       Limit
	resend      *resendThrottle
	now         func() time.Time
}

// OtpOptions configures OtpTokenService. A zero ResendInterval disables the
// resend throttle.
type OtpOptions struct {
	Pepper         string
	VerifyLimit    Limit
	ResendInterval time.Duration
	ResendBurst    int
}

func NewOtpTokenService(db dbx.DBTX, tx dbx.Transactor, m repomanager.RepositoryManager, limiter *RateLimiter,
	audit *AuditLog, l logging.Logger, opts OtpOptions) *OtpTokenService {
	return &OtpTokenService{
		db:          db,
		tx:          tx,
		repomanager: m,
		limiter:     limiter,
		audit:       audit,
		logger:      l.With("module", "otp"),
		pepper:      []byte(opts.Pepper),
		limit:       opts.VerifyLimit,
		resend:      newResendThrottle(opts.ResendInterval, opts.ResendBurst),
		now:         time.Now,
	}
}

// Generate draws a fresh code for (ownerID, typ), replaces any unused token
// of that pair in one transaction and returns the plaintext for delivery.
// Only the peppered hash is stored.
func (s *OtpTokenService) Generate(ctx context.Context, ownerID int64, typ string, ttl time.Duration) (string, error) {
	if typ == "" || ttl <= 0 {
		return "", fmt.Errorf("%w: otp type and ttl are required", common.ErrValidation)
	}
	if !s.resend.allow(OtpKey(ownerID, typ), s.now()) {
		s.audit.Record(ctx, models.AuditEvent{
			ActorID:  &ownerID,
			Action:   models.AuditOtpRateLimited,
			Metadata: map[string]any{"type": typ, "stage": "generate"},
		})
		return "", common.ErrRateLimited
	}

	code, err := cryptox.RandomDigits(OtpCodeLength)
	if err != nil {
		return "", err
	}
	now := s.now()
	token := &models.OtpToken{
		OwnerID:   ownerID,
		Type:      typ,
		CodeHash:  cryptox.HashCode(code, s.pepper),
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	for attempt := 1; ; attempt++ {
		err = s.tx.WithinTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
			repo := s.repomanager.OtpTokens(tx)
			if _, err := repo.DeleteUnused(ctx, ownerID, typ); err != nil {
				return err
			}
			_, err := repo.Create(ctx, token)
			return err
		})
		if err == nil || !errors.Is(err, common.ErrConflict) || attempt == generateRetries {
			break
		}
		s.logger.Debug(ctx, "otp generate lost race, retrying", "owner_id", ownerID, "type", typ, "attempt", attempt)
	}
	if err != nil {
		s.logger.Error(ctx, "otp generate failed", "owner_id", ownerID, "type", typ, "error", err)
		return "", common.StorageError(err)
	}

	s.audit.Record(ctx, models.AuditEvent{
		ActorID:      &ownerID,
		Action:       models.AuditOtpGenerated,
		ResourceType: "otp_token",
		ResourceID:   strconv.FormatInt(token.ID, 10),
		Metadata:     map[string]any{"type": typ, "expires_at": token.ExpiresAt.UTC().Format(time.RFC3339)},
	})
	return code, nil
}

// Verify consumes the token matching code for (ownerID, typ).
//
// Each call writes exactly one attempt row: a failure row is inserted before
// the lookup and flipped to success only when the claim wins. A blocked
// caller gets common.ErrRateLimited without any token being touched.
func (s *OtpTokenService) Verify(ctx context.Context, code, typ string, ownerID int64) error {
	if !cryptox.IsDigits(code, OtpCodeLength) || typ == "" {
		return fmt.Errorf("%w: code must be %d digits", common.ErrValidation, OtpCodeLength)
	}

	key := OtpKey(ownerID, typ)
	if !s.limiter.CheckAllowed(ctx, key, models.ActionOtp, s.limit) {
		s.audit.Record(ctx, models.AuditEvent{
			ActorID:  &ownerID,
			Action:   models.AuditOtpRateLimited,
			Metadata: map[string]any{"type": typ, "stage": "verify"},
		})
		return common.ErrRateLimited
	}

	attemptID, err := s.limiter.Record(ctx, key, models.ActionOtp, false)
	if err != nil {
		return err
	}

	now := s.now()
	repo := s.repomanager.OtpTokens(s.db)

	token, err := repo.FindByHash(ctx, ownerID, typ, cryptox.HashCode(code, s.pepper))
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return s.reject(ctx, ownerID, typ, 0, "no_match", common.ErrAuthenticationFailure)
		}
		s.logger.Error(ctx, "otp lookup failed", "owner_id", ownerID, "type", typ, "error", err)
		return common.StorageError(err)
	}
	if token.Used() {
		return s.reject(ctx, ownerID, typ, token.ID, "already_used", common.ErrTokenAlreadyUsed)
	}
	if token.Expired(now) {
		return s.reject(ctx, ownerID, typ, token.ID, "expired", common.ErrTokenExpired)
	}

	if err := repo.Claim(ctx, token.ID, now); err != nil {
		if errors.Is(err, common.ErrTokenAlreadyUsed) {
			return s.reject(ctx, ownerID, typ, token.ID, "claim_lost", common.ErrTokenAlreadyUsed)
		}
		s.logger.Error(ctx, "otp claim failed", "owner_id", ownerID, "type", typ, "error", err)
		return common.StorageError(err)
	}

	if err := s.limiter.MarkSucceeded(ctx, attemptID); err != nil {
		return err
	}
	if err := s.limiter.Clear(ctx, key, models.ActionOtp); err != nil {
		return err
	}
	s.audit.Record(ctx, models.AuditEvent{
		ActorID:      &ownerID,
		Action:       models.AuditOtpVerified,
		ResourceType: "otp_token",
		ResourceID:   strconv.FormatInt(token.ID, 10),
		Metadata:     map[string]any{"type": typ},
	})
	return nil
}

func (s *OtpTokenService) reject(ctx context.Context, ownerID int64, typ string, tokenID int64, reason string, result error) error {
	e := models.AuditEvent{
		ActorID:  &ownerID,
		Action:   models.AuditOtpFailure,
		Metadata: map[string]any{"type": typ, "reason": reason},
	}
	if tokenID != 0 {
		e.ResourceType = "otp_token"
		e.ResourceID = strconv.FormatInt(tokenID, 10)
	}
	s.audit.Record(ctx, e)
	return result
}

// CleanupExpired deletes tokens whose expiry has passed, consumed or not.
func (s *OtpTokenService) CleanupExpired(ctx context.Context) (int64, error) {
	n, err := s.repomanager.OtpTokens(s.db).DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, common.StorageError(err)
	}
	return n, nil
}

// CleanupOldAttempts deletes attempt rows older than retention. Retention
// shorter than the verify window would erase live lockouts and is raised to it.
func (s *OtpTokenService) CleanupOldAttempts(ctx context.Context, retention time.Duration) (int64, error) {
	if retention < s.limit.Window {
		retention = s.limit.Window
	}
	return s.limiter.CleanupOlderThan(ctx, retention)
}

// resendThrottle bounds how often codes are issued per (owner, type) inside
// this process. Token state in storage stays authoritative.
type resendThrottle struct {
	mu       sync.Mutex
	every    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

// maxThrottleKeys triggers pruning of idle limiters.
const maxThrottleKeys = 10000

func newResendThrottle(interval time.Duration, burst int) *resendThrottle {
	if interval <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &resendThrottle{
		every:    rate.Every(interval),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (t *resendThrottle) allow(key string, now time.Time) bool {
	if t == nil {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	lim, ok := t.limiters[key]
	if !ok {
		if len(t.limiters) >= maxThrottleKeys {
			t.prune(now)
		}
		lim = rate.NewLimiter(t.every, t.burst)
		t.limiters[key] = lim
	}
	return lim.AllowN(now, 1)
}

// prune drops limiters that have refilled completely; they behave exactly
// like fresh ones.
func (t *resendThrottle) prune(now time.Time) {
	for k, lim := range t.limiters {
		if lim.TokensAt(now) >= float64(t.burst) {
			delete(t.limiters, k)
		}
	}
}
