package services

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/storeauth/internal/common"
	"github.com/dmitrijs2005/storeauth/internal/cryptox"
	"github.com/dmitrijs2005/storeauth/internal/dbx"
	"github.com/dmitrijs2005/storeauth/internal/logging"
	"github.com/dmitrijs2005/storeauth/internal/server/models"
	"github.com/dmitrijs2005/storeauth/internal/server/repositories/repomanager"
)

// tokenBytes is the entropy of session tokens, CSRF tokens and transport
// handles before encoding.
const tokenBytes = 32

// CookieOptions names the cookies the session manager issues.
type CookieOptions struct {
	SessionName string
	HandleName  string
	SameSite    http.SameSite
}

// ParseSameSite maps "strict" to http.SameSiteStrictMode and anything else
// to http.SameSiteLaxMode.
func ParseSameSite(s string) http.SameSite {
	if strings.EqualFold(strings.TrimSpace(s), "strict") {
		return http.SameSiteStrictMode
	}
	return http.SameSiteLaxMode
}

// SessionManager issues and validates fixed-lifetime sessions. Each browser
// also carries an anonymous transport handle that owns a CSRF token; the
// handle is replaced on login and its new CSRF token is bound to the session.
type SessionManager struct {
	db          dbx.DBTX
	repomanager repomanager.RepositoryManager
	audit       *AuditLog
	logger      logging.Logger
	ttl         time.Duration
	cookies     CookieOptions
	now         func() time.Time
}

func NewSessionManager(db dbx.DBTX, m repomanager.RepositoryManager, audit *AuditLog, l logging.Logger,
	ttl time.Duration, cookies CookieOptions) *SessionManager {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if cookies.SameSite == 0 || cookies.SameSite == http.SameSiteNoneMode || cookies.SameSite == http.SameSiteDefaultMode {
		cookies.SameSite = http.SameSiteLaxMode
	}
	return &SessionManager{
		db:          db,
		repomanager: m,
		audit:       audit,
		logger:      l.With("module", "sessions"),
		ttl:         ttl,
		cookies:     cookies,
		now:         time.Now,
	}
}

// Start persists a new session for ownerID together with a fresh transport
// handle. previousHandle, when set, is deleted so a handle planted before
// login cannot be reused after it.
func (m *SessionManager) Start(ctx context.Context, ownerID int64, client ClientInfo, previousHandle string) (*models.Session, *models.TransportSession, error) {
	token, err := cryptox.RandomToken(tokenBytes)
	if err != nil {
		return nil, nil, err
	}
	csrf, err := cryptox.RandomToken(tokenBytes)
	if err != nil {
		return nil, nil, err
	}
	handleID, err := cryptox.RandomToken(tokenBytes)
	if err != nil {
		return nil, nil, err
	}

	now := m.now()
	repo := m.repomanager.Sessions(m.db)

	if previousHandle != "" {
		if err := repo.DeleteHandle(ctx, previousHandle); err != nil {
			return nil, nil, common.StorageError(err)
		}
	}
	handle, err := repo.CreateHandle(ctx, &models.TransportSession{Handle: handleID, CSRFToken: csrf, CreatedAt: now})
	if err != nil {
		return nil, nil, common.StorageError(err)
	}

	s, err := repo.Create(ctx, &models.Session{
		OwnerID:   ownerID,
		Token:     token,
		CSRFToken: handle.CSRFToken,
		IP:        client.IP,
		UserAgent: client.UserAgent,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	})
	if err != nil {
		return nil, nil, common.StorageError(err)
	}

	m.audit.Record(ctx, models.AuditEvent{
		ActorID:      &ownerID,
		Action:       models.AuditSessionCreated,
		ResourceType: "session",
		ResourceID:   strconv.FormatInt(s.ID, 10),
		Metadata:     map[string]any{"ip": client.IP, "user_agent": client.UserAgent},
	})
	return s, handle, nil
}

// Create starts a session for the request's browser and writes both cookies.
func (m *SessionManager) Create(ctx context.Context, w http.ResponseWriter, r *http.Request, ownerID int64) (*models.Session, error) {
	s, h, err := m.Start(ctx, ownerID, ClientFromRequest(r), m.cookieValue(r, m.cookies.HandleName))
	if err != nil {
		return nil, err
	}
	secure := r.TLS != nil
	http.SetCookie(w, m.cookie(m.cookies.SessionName, s.Token, s.ExpiresAt, secure))
	http.SetCookie(w, m.cookie(m.cookies.HandleName, h.Handle, time.Time{}, secure))
	return s, nil
}

// Validate reports whether a session of ownerID with exactly token exists
// and has not reached its expiry. Storage failures deny.
func (m *SessionManager) Validate(ctx context.Context, ownerID int64, token string) bool {
	if token == "" {
		return false
	}
	s, err := m.repomanager.Sessions(m.db).FindActive(ctx, ownerID, token, m.now())
	if err != nil {
		if !errors.Is(err, common.ErrorNotFound) {
			m.logger.Warn(ctx, "session lookup failed", "error", err)
		}
		return false
	}
	return cryptox.Equal(s.Token, token)
}

// Lookup returns the session behind token. Expired sessions yield
// common.ErrSessionExpired and unknown tokens common.ErrAuthenticationFailure.
func (m *SessionManager) Lookup(ctx context.Context, token string) (*models.Session, error) {
	if token == "" {
		return nil, common.ErrAuthenticationFailure
	}
	s, err := m.repomanager.Sessions(m.db).FindByToken(ctx, token)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrAuthenticationFailure
		}
		return nil, common.StorageError(err)
	}
	if !s.Active(m.now()) {
		return nil, common.ErrSessionExpired
	}
	return s, nil
}

// Authenticate resolves the request's session cookie.
func (m *SessionManager) Authenticate(ctx context.Context, r *http.Request) (*models.Session, error) {
	return m.Lookup(ctx, m.cookieValue(r, m.cookies.SessionName))
}

// CSRFToken returns the CSRF token of the transport handle, creating the
// handle and token on first use. A new handle cookie is written to w when
// the request carried none or an unknown one.
func (m *SessionManager) CSRFToken(ctx context.Context, w http.ResponseWriter, r *http.Request) (string, error) {
	repo := m.repomanager.Sessions(m.db)

	if id := m.cookieValue(r, m.cookies.HandleName); id != "" {
		h, err := repo.GetHandle(ctx, id)
		if err == nil {
			m.touch(ctx, h.Handle)
			return h.CSRFToken, nil
		}
		if !errors.Is(err, common.ErrorNotFound) {
			return "", common.StorageError(err)
		}
	}

	id, err := cryptox.RandomToken(tokenBytes)
	if err != nil {
		return "", err
	}
	csrf, err := cryptox.RandomToken(tokenBytes)
	if err != nil {
		return "", err
	}
	h, err := repo.CreateHandle(ctx, &models.TransportSession{Handle: id, CSRFToken: csrf, CreatedAt: m.now()})
	if err != nil {
		return "", common.StorageError(err)
	}
	http.SetCookie(w, m.cookie(m.cookies.HandleName, h.Handle, time.Time{}, r.TLS != nil))
	return h.CSRFToken, nil
}

// VerifyCSRF compares candidate with the token bound to the request's
// session, or to its transport handle when no session is present.
func (m *SessionManager) VerifyCSRF(ctx context.Context, r *http.Request, candidate string) bool {
	if candidate == "" {
		return false
	}
	if s, err := m.Authenticate(ctx, r); err == nil {
		return cryptox.Equal(s.CSRFToken, candidate)
	}
	id := m.cookieValue(r, m.cookies.HandleName)
	if id == "" {
		return false
	}
	h, err := m.repomanager.Sessions(m.db).GetHandle(ctx, id)
	if err != nil {
		return false
	}
	if !cryptox.Equal(h.CSRFToken, candidate) {
		return false
	}
	m.touch(ctx, h.Handle)
	return true
}

// touch records a use of the handle. Failures only cost retention accuracy.
func (m *SessionManager) touch(ctx context.Context, handle string) {
	if err := m.repomanager.Sessions(m.db).TouchHandle(ctx, handle, m.now()); err != nil {
		m.logger.Warn(ctx, "handle touch failed", "error", err)
	}
}

// Revoke deletes the request's session and clears the session cookie.
func (m *SessionManager) Revoke(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	token := m.cookieValue(r, m.cookies.SessionName)
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookies.SessionName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: m.cookies.SameSite,
	})
	if token == "" {
		return nil
	}
	return m.RevokeToken(ctx, token)
}

// RevokeToken deletes the session behind token, if any.
func (m *SessionManager) RevokeToken(ctx context.Context, token string) error {
	repo := m.repomanager.Sessions(m.db)
	s, err := repo.FindByToken(ctx, token)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil
		}
		return common.StorageError(err)
	}
	if err := repo.Delete(ctx, token); err != nil {
		return common.StorageError(err)
	}
	m.audit.Record(ctx, models.AuditEvent{
		ActorID:      &s.OwnerID,
		Action:       models.AuditSessionRevoked,
		ResourceType: "session",
		ResourceID:   strconv.FormatInt(s.ID, 10),
	})
	return nil
}

// RevokeAll deletes every session of ownerID.
func (m *SessionManager) RevokeAll(ctx context.Context, ownerID int64) (int64, error) {
	n, err := m.repomanager.Sessions(m.db).DeleteByOwner(ctx, ownerID)
	if err != nil {
		return 0, common.StorageError(err)
	}
	m.audit.Record(ctx, models.AuditEvent{
		ActorID:  &ownerID,
		Action:   models.AuditSessionsRevokedAll,
		Metadata: map[string]any{"count": n},
	})
	return n, nil
}

// CleanupExpired deletes expired sessions and transport handles unused for
// longer than handleRetention.
func (m *SessionManager) CleanupExpired(ctx context.Context, handleRetention time.Duration) (int64, error) {
	repo := m.repomanager.Sessions(m.db)
	now := m.now()
	n, err := repo.DeleteExpired(ctx, now)
	if err != nil {
		return 0, common.StorageError(err)
	}
	if handleRetention > 0 {
		h, err := repo.DeleteHandlesIdleSince(ctx, now.Add(-handleRetention))
		if err != nil {
			return n, common.StorageError(err)
		}
		n += h
	}
	return n, nil
}

func (m *SessionManager) cookie(name, value string, expires time.Time, secure bool) *http.Cookie {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: m.cookies.SameSite,
	}
	if !expires.IsZero() {
		c.MaxAge = int(m.ttl / time.Second)
		c.Expires = expires.UTC()
	}
	return c
}

func (m *SessionManager) cookieValue(r *http.Request, name string) string {
	if r == nil {
		return ""
	}
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
