package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/storeauth/internal/common"
	"github.com/dmitrijs2005/storeauth/internal/dbx"
	"github.com/dmitrijs2005/storeauth/internal/logging"
	"github.com/dmitrijs2005/storeauth/internal/server/auth"
	"github.com/dmitrijs2005/storeauth/internal/server/models"
	"github.com/dmitrijs2005/storeauth/internal/server/notify"
	"github.com/dmitrijs2005/storeauth/internal/server/repositories/repomanager"
)

// FlowOptions carries the lifetimes and labels used by AuthService.
type FlowOptions struct {
	OtpTTL        time.Duration
	ChallengeTTL  time.Duration
	TotpIssuer    string
	TotpFailLimit Limit
}

// LoginResult is either an established session or, for accounts with a
// confirmed authenticator, a challenge to pass to CompleteSecondFactor.
type LoginResult struct {
	Session   *models.Session
	Challenge string
}

// AuthService strings the core services together into the flows the
// storefront router exposes.
type AuthService struct {
	db          dbx.DBTX
	repomanager repomanager.RepositoryManager
	credentials *CredentialStore
	limiter     *RateLimiter
	otp         *OtpTokenService
	totp        *auth.TotpService
	sessions    *SessionManager
	notifier    notify.Notifier
	audit       *AuditLog
	logger      logging.Logger
	opts        FlowOptions
	now         func() time.Time
}

func NewAuthService(db dbx.DBTX, m repomanager.RepositoryManager, credentials *CredentialStore, limiter *RateLimiter,
	otp *OtpTokenService, totp *auth.TotpService, sessions *SessionManager, notifier notify.Notifier,
	audit *AuditLog, l logging.Logger, opts FlowOptions) *AuthService {
	if opts.OtpTTL <= 0 {
		opts.OtpTTL = 15 * time.Minute
	}
	if opts.ChallengeTTL <= 0 {
		opts.ChallengeTTL = 5 * time.Minute
	}
	return &AuthService{
		db:          db,
		repomanager: m,
		credentials: credentials,
		limiter:     limiter,
		otp:         otp,
		totp:        totp,
		sessions:    sessions,
		notifier:    notifier,
		audit:       audit,
		logger:      l.With("module", "auth_flow"),
		opts:        opts,
		now:         time.Now,
	}
}

// Login verifies the password and either starts a session or, when the
// account has a confirmed authenticator, returns a second-factor challenge.
func (s *AuthService) Login(ctx context.Context, w http.ResponseWriter, r *http.Request, identifier, password string) (*LoginResult, error) {
	c, err := s.credentials.Verify(ctx, identifier, password, ClientFromRequest(r))
	if err != nil {
		return nil, err
	}

	secret, err := s.repomanager.TotpSecrets(s.db).Get(ctx, c.ID)
	switch {
	case err == nil && secret.ConfirmedAt != nil:
		code, err := s.otp.Generate(ctx, c.ID, models.OtpLoginChallenge, s.opts.ChallengeTTL)
		if err != nil {
			return nil, err
		}
		s.audit.Record(ctx, models.AuditEvent{ActorID: &c.ID, Action: models.AuditLoginTotpRequired})
		return &LoginResult{Challenge: formatChallenge(c.ID, code)}, nil
	case err != nil && !errors.Is(err, common.ErrorNotFound):
		return nil, common.StorageError(err)
	}

	sess, err := s.sessions.Create(ctx, w, r, c.ID)
	if err != nil {
		return nil, err
	}
	return &LoginResult{Session: sess}, nil
}

// CompleteSecondFactor redeems a login challenge with a TOTP code. The
// challenge is single use; a wrong code requires a fresh login.
func (s *AuthService) CompleteSecondFactor(ctx context.Context, w http.ResponseWriter, r *http.Request, challenge, code string) (*models.Session, error) {
	ownerID, ticket, err := parseChallenge(challenge)
	if err != nil {
		return nil, err
	}

	key := OtpKey(ownerID, "totp")
	if !s.limiter.CheckAllowed(ctx, key, models.ActionOtp, s.opts.TotpFailLimit) {
		s.audit.Record(ctx, models.AuditEvent{ActorID: &ownerID, Action: models.AuditOtpRateLimited, Metadata: map[string]any{"type": "totp"}})
		return nil, common.ErrRateLimited
	}

	if err := s.otp.Verify(ctx, ticket, models.OtpLoginChallenge, ownerID); err != nil {
		return nil, err
	}

	if err := s.checkTotp(ctx, ownerID, code, true); err != nil {
		return nil, err
	}

	return s.sessions.Create(ctx, w, r, ownerID)
}

// StartEmailVerification sends a fresh verification code to the owner's email.
func (s *AuthService) StartEmailVerification(ctx context.Context, ownerID int64) error {
	c, err := s.credentials.FindByID(ctx, ownerID)
	if err != nil {
		return err
	}
	if c.EmailVerifiedAt != nil {
		return nil
	}
	code, err := s.otp.Generate(ctx, c.ID, models.OtpEmailVerification, s.opts.OtpTTL)
	if err != nil {
		return err
	}
	s.send(ctx, notify.Message{
		Recipient: c.Email,
		Template:  notify.TemplateEmailVerification,
		Data:      map[string]string{"code": code},
	})
	return nil
}

// ConfirmEmailVerification consumes code and activates the account.
func (s *AuthService) ConfirmEmailVerification(ctx context.Context, ownerID int64, code string) error {
	if err := s.otp.Verify(ctx, code, models.OtpEmailVerification, ownerID); err != nil {
		return err
	}
	return s.credentials.MarkEmailVerified(ctx, ownerID)
}

// StartPasswordReset emails a reset code. Unknown addresses succeed silently
// so the response does not reveal which emails are registered.
func (s *AuthService) StartPasswordReset(ctx context.Context, email string) error {
	c, err := s.credentials.FindByIdentifier(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) || errors.Is(err, common.ErrValidation) {
			s.audit.Record(ctx, models.AuditEvent{
				Action:   models.AuditPasswordResetAsked,
				Metadata: map[string]any{"identifier": strings.ToLower(email), "known": false},
			})
			return nil
		}
		return err
	}
	if c.Status == models.StatusSuspended {
		return nil
	}

	code, err := s.otp.Generate(ctx, c.ID, models.OtpPasswordReset, s.opts.OtpTTL)
	if err != nil {
		if errors.Is(err, common.ErrRateLimited) {
			return nil
		}
		return err
	}
	s.audit.Record(ctx, models.AuditEvent{ActorID: &c.ID, Action: models.AuditPasswordResetAsked, Metadata: map[string]any{"known": true}})
	s.send(ctx, notify.Message{
		Recipient: c.Email,
		Template:  notify.TemplatePasswordReset,
		Data:      map[string]string{"code": code},
	})
	return nil
}

// FinishPasswordReset consumes code, sets the new password and revokes every
// session of the account.
func (s *AuthService) FinishPasswordReset(ctx context.Context, email, code, newPassword string) error {
	if len(newPassword) < MinPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", common.ErrValidation, MinPasswordLength)
	}
	c, err := s.credentials.FindByIdentifier(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.ErrAuthenticationFailure
		}
		return err
	}
	if err := s.otp.Verify(ctx, code, models.OtpPasswordReset, c.ID); err != nil {
		return err
	}
	if err := s.credentials.SetPassword(ctx, c.ID, newPassword); err != nil {
		return err
	}
	if _, err := s.sessions.RevokeAll(ctx, c.ID); err != nil {
		return err
	}
	return nil
}

// EnrollTotp stores a new unconfirmed secret for ownerID and returns it with
// its provisioning URI. Re-enrolling replaces the previous secret.
func (s *AuthService) EnrollTotp(ctx context.Context, ownerID int64) (secret, uri string, err error) {
	c, err := s.credentials.FindByID(ctx, ownerID)
	if err != nil {
		return "", "", err
	}
	secret, err = s.totp.GenerateSecret(auth.DefaultSecretLength)
	if err != nil {
		return "", "", err
	}
	uri, err = s.totp.KeyURI(s.opts.TotpIssuer, c.Email, secret)
	if err != nil {
		return "", "", err
	}
	err = s.repomanager.TotpSecrets(s.db).Upsert(ctx, &models.TotpSecret{OwnerID: ownerID, Secret: secret, CreatedAt: s.now()})
	if err != nil {
		return "", "", common.StorageError(err)
	}
	s.audit.Record(ctx, models.AuditEvent{ActorID: &ownerID, Action: models.AuditTotpEnrolled, ResourceType: "credential", ResourceID: strconv.FormatInt(ownerID, 10)})
	return secret, uri, nil
}

// ConfirmTotp proves possession of the enrolled secret and turns the second
// factor on.
func (s *AuthService) ConfirmTotp(ctx context.Context, ownerID int64, code string) error {
	if err := s.checkTotp(ctx, ownerID, code, false); err != nil {
		return err
	}
	if err := s.repomanager.TotpSecrets(s.db).Confirm(ctx, ownerID, s.now()); err != nil {
		return storageError(err)
	}
	s.audit.Record(ctx, models.AuditEvent{ActorID: &ownerID, Action: models.AuditTotpConfirmed, ResourceType: "credential", ResourceID: strconv.FormatInt(ownerID, 10)})
	return nil
}

// Logout revokes the request's session.
func (s *AuthService) Logout(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return s.sessions.Revoke(ctx, w, r)
}

func (s *AuthService) checkTotp(ctx context.Context, ownerID int64, code string, requireConfirmed bool) error {
	secret, err := s.repomanager.TotpSecrets(s.db).Get(ctx, ownerID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.ErrAuthenticationFailure
		}
		return common.StorageError(err)
	}
	if requireConfirmed && secret.ConfirmedAt == nil {
		return common.ErrAuthenticationFailure
	}

	key := OtpKey(ownerID, "totp")
	if !s.totp.Verify(secret.Secret, code) {
		if _, err := s.limiter.Record(ctx, key, models.ActionOtp, false); err != nil {
			return err
		}
		s.audit.Record(ctx, models.AuditEvent{ActorID: &ownerID, Action: models.AuditTotpFailure})
		return common.ErrAuthenticationFailure
	}
	if _, err := s.limiter.Record(ctx, key, models.ActionOtp, true); err != nil {
		return err
	}
	return s.limiter.Clear(ctx, key, models.ActionOtp)
}

func (s *AuthService) send(ctx context.Context, msg notify.Message) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Send(ctx, msg); err != nil {
		s.logger.Warn(ctx, "notification failed", "template", msg.Template, "error", err)
	}
}

func formatChallenge(ownerID int64, code string) string {
	return strconv.FormatInt(ownerID, 10) + "." + code
}

func parseChallenge(challenge string) (int64, string, error) {
	idPart, code, ok := strings.Cut(challenge, ".")
	if !ok {
		return 0, "", common.ErrValidation
	}
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || id <= 0 {
		return 0, "", common.ErrValidation
	}
	return id, code, nil
}
