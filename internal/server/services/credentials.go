package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/storeauth/internal/common"
	"github.com/dmitrijs2005/storeauth/internal/cryptox"
	"github.com/dmitrijs2005/storeauth/internal/dbx"
	"github.com/dmitrijs2005/storeauth/internal/logging"
	"github.com/dmitrijs2005/storeauth/internal/server/models"
	"github.com/dmitrijs2005/storeauth/internal/server/rbac"
	"github.com/dmitrijs2005/storeauth/internal/server/repositories/repomanager"
)

const MinPasswordLength = 8

// LoginLimits configures the rate gate in front of password checks.
// A zero PerIP limit disables the per-address counter.
type LoginLimits struct {
	PerIdentifier Limit
	PerIP         Limit
}

// CredentialStore looks up credential records and verifies passwords.
type CredentialStore struct {
	db          dbx.DBTX
	repomanager repomanager.RepositoryManager
	limiter     *RateLimiter
	audit       *AuditLog
	logger      logging.Logger
	limits      LoginLimits
	bcryptCost  int
	now         func() time.Time
}

func NewCredentialStore(db dbx.DBTX, m repomanager.RepositoryManager, limiter *RateLimiter, audit *AuditLog,
	l logging.Logger, limits LoginLimits, bcryptCost int) *CredentialStore {
	return &CredentialStore{
		db:          db,
		repomanager: m,
		limiter:     limiter,
		audit:       audit,
		logger:      l.With("module", "credentials"),
		limits:      limits,
		bcryptCost:  bcryptCost,
		now:         time.Now,
	}
}

// FindByIdentifier returns the record whose email or username equals
// identifier, or common.ErrorNotFound.
func (s *CredentialStore) FindByIdentifier(ctx context.Context, identifier string) (*models.Credential, error) {
	identifier = cryptox.NormalizeIdentifier(identifier)
	if identifier == "" {
		return nil, common.ErrValidation
	}
	c, err := s.repomanager.Users(s.db).GetByIdentifier(ctx, identifier)
	if err != nil {
		return nil, storageError(err)
	}
	return c, nil
}

func (s *CredentialStore) FindByID(ctx context.Context, id int64) (*models.Credential, error) {
	c, err := s.repomanager.Users(s.db).GetByID(ctx, id)
	if err != nil {
		return nil, storageError(err)
	}
	return c, nil
}

// Verify checks password for identifier behind the login rate gate.
//
// Unknown identifiers and wrong passwords both yield
// common.ErrAuthenticationFailure after a full bcrypt comparison. A correct
// password on a pending or suspended account yields ErrPendingVerification or
// ErrSuspended. Every outcome is recorded with the rate limiter and the audit
// log; a success clears the identifier's failure history.
func (s *CredentialStore) Verify(ctx context.Context, identifier, password string, client ClientInfo) (*models.Credential, error) {
	identifier = cryptox.NormalizeIdentifier(identifier)
	if identifier == "" || password == "" {
		return nil, common.ErrValidation
	}

	meta := map[string]any{"identifier": identifier, "ip": client.IP}

	if !s.allowed(ctx, identifier, client) {
		s.audit.Record(ctx, models.AuditEvent{Action: models.AuditLoginRateLimited, Metadata: meta})
		return nil, common.ErrRateLimited
	}

	c, err := s.repomanager.Users(s.db).GetByIdentifier(ctx, identifier)
	if err != nil {
		if !errors.Is(err, common.ErrorNotFound) {
			s.logger.Error(ctx, "credential lookup failed", "error", err)
			return nil, common.StorageError(err)
		}
		cryptox.BurnPasswordCheck(password)
		return nil, s.fail(ctx, identifier, client, nil, "invalid_credentials", common.ErrAuthenticationFailure)
	}

	if !cryptox.CheckPassword(c.PasswordHash, password) {
		return nil, s.fail(ctx, identifier, client, &c.ID, "invalid_credentials", common.ErrAuthenticationFailure)
	}

	switch c.Status {
	case models.StatusActive:
	case models.StatusPending:
		return nil, s.fail(ctx, identifier, client, &c.ID, "pending_verification", common.ErrPendingVerification)
	case models.StatusSuspended:
		return nil, s.fail(ctx, identifier, client, &c.ID, "suspended", common.ErrSuspended)
	default:
		return nil, s.fail(ctx, identifier, client, &c.ID, "unknown_status", common.ErrAuthenticationFailure)
	}

	if _, err := s.limiter.Record(ctx, identifier, models.ActionLogin, true); err != nil {
		return nil, err
	}
	if err := s.limiter.Clear(ctx, identifier, models.ActionLogin); err != nil {
		return nil, err
	}
	s.audit.Record(ctx, models.AuditEvent{
		ActorID:      &c.ID,
		Action:       models.AuditLoginSuccess,
		ResourceType: "credential",
		ResourceID:   strconv.FormatInt(c.ID, 10),
		Metadata:     meta,
	})
	return c, nil
}

func (s *CredentialStore) allowed(ctx context.Context, identifier string, client ClientInfo) bool {
	if !s.limiter.CheckAllowed(ctx, identifier, models.ActionLogin, s.limits.PerIdentifier) {
		return false
	}
	if client.IP != "" && s.limits.PerIP.Enabled() {
		return s.limiter.CheckAllowed(ctx, IPKey(client.IP), models.ActionLogin, s.limits.PerIP)
	}
	return true
}

func (s *CredentialStore) fail(ctx context.Context, identifier string, client ClientInfo, actor *int64, reason string, result error) error {
	if _, err := s.limiter.Record(ctx, identifier, models.ActionLogin, false); err != nil {
		return err
	}
	if client.IP != "" && s.limits.PerIP.Enabled() {
		if _, err := s.limiter.Record(ctx, IPKey(client.IP), models.ActionLogin, false); err != nil {
			return err
		}
	}
	s.audit.Record(ctx, models.AuditEvent{
		ActorID:  actor,
		Action:   models.AuditLoginFailure,
		Metadata: map[string]any{"identifier": identifier, "ip": client.IP, "reason": reason},
	})
	return result
}

// Register creates a pending credential. The email doubles as identifier;
// username is optional.
func (s *CredentialStore) Register(ctx context.Context, email, username, password string, role rbac.Role) (*models.Credential, error) {
	email = cryptox.NormalizeIdentifier(email)
	username = cryptox.NormalizeIdentifier(username)
	if !strings.Contains(email, "@") || strings.Contains(username, "@") {
		return nil, fmt.Errorf("%w: malformed email or username", common.ErrValidation)
	}
	if len(password) < MinPasswordLength {
		return nil, fmt.Errorf("%w: password must be at least %d characters", common.ErrValidation, MinPasswordLength)
	}
	if role == "" {
		role = rbac.RoleCustomer
	}
	if !rbac.DefaultModel.Valid(role) {
		return nil, fmt.Errorf("%w: unknown role %q", common.ErrValidation, role)
	}

	hash, err := cryptox.HashPassword(password, s.bcryptCost)
	if err != nil {
		return nil, err
	}

	now := s.now()
	c, err := s.repomanager.Users(s.db).Create(ctx, &models.Credential{
		Email:        email,
		Username:     username,
		PasswordHash: hash,
		Status:       models.StatusPending,
		Role:         string(role),
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return nil, storageError(err)
	}

	s.audit.Record(ctx, models.AuditEvent{
		ActorID:      &c.ID,
		Action:       models.AuditCredentialCreated,
		ResourceType: "credential",
		ResourceID:   strconv.FormatInt(c.ID, 10),
		Metadata:     map[string]any{"role": c.Role},
	})
	return c, nil
}

// MarkEmailVerified activates a pending record. Active records keep their
// original verification time; suspended records are not reactivated.
func (s *CredentialStore) MarkEmailVerified(ctx context.Context, id int64) error {
	if err := s.repomanager.Users(s.db).MarkEmailVerified(ctx, id, s.now()); err != nil {
		return storageError(err)
	}
	s.audit.Record(ctx, models.AuditEvent{
		ActorID:      &id,
		Action:       models.AuditEmailVerified,
		ResourceType: "credential",
		ResourceID:   strconv.FormatInt(id, 10),
	})
	return nil
}

// SetPassword replaces the password hash of id.
func (s *CredentialStore) SetPassword(ctx context.Context, id int64, password string) error {
	if len(password) < MinPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", common.ErrValidation, MinPasswordLength)
	}
	hash, err := cryptox.HashPassword(password, s.bcryptCost)
	if err != nil {
		return err
	}
	if err := s.repomanager.Users(s.db).UpdatePassword(ctx, id, hash, s.now()); err != nil {
		return storageError(err)
	}
	s.audit.Record(ctx, models.AuditEvent{
		ActorID:      &id,
		Action:       models.AuditPasswordChanged,
		ResourceType: "credential",
		ResourceID:   strconv.FormatInt(id, 10),
	})
	return nil
}

// SetStatus is the admin action moving a record between statuses. actor may
// be nil for operator tooling.
func (s *CredentialStore) SetStatus(ctx context.Context, actor *int64, id int64, status models.AccountStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: unknown status %q", common.ErrValidation, status)
	}
	if err := s.repomanager.Users(s.db).UpdateStatus(ctx, id, status, s.now()); err != nil {
		return storageError(err)
	}
	s.audit.Record(ctx, models.AuditEvent{
		ActorID:      actor,
		Action:       models.AuditStatusChanged,
		ResourceType: "credential",
		ResourceID:   strconv.FormatInt(id, 10),
		Metadata:     map[string]any{"status": string(status)},
	})
	return nil
}
