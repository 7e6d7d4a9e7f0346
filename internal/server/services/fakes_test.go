package services

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/storeauth/internal/common"
	"github.com/dmitrijs2005/storeauth/internal/cryptox"
	"github.com/dmitrijs2005/storeauth/internal/dbx"
	"github.com/dmitrijs2005/storeauth/internal/logging"
	"github.com/dmitrijs2005/storeauth/internal/server/models"
	"github.com/dmitrijs2005/storeauth/internal/server/repositories/attempts"
	"github.com/dmitrijs2005/storeauth/internal/server/repositories/auditlog"
	"github.com/dmitrijs2005/storeauth/internal/server/repositories/otptokens"
	"github.com/dmitrijs2005/storeauth/internal/server/repositories/sessions"
	"github.com/dmitrijs2005/storeauth/internal/server/repositories/totpsecrets"
	"github.com/dmitrijs2005/storeauth/internal/server/repositories/users"
)

var errBoom = errors.New("db error: boom")

// fakeStore is an in-memory stand-in for every repository. A single mutex
// makes each method atomic, which is what the conditional SQL statements
// guarantee in production.
type fakeStore struct {
	mu sync.Mutex

	nextID int64

	credentials map[int64]*models.Credential
	otps        []*models.OtpToken
	attempts    []*models.Attempt
	sessions    map[string]*models.Session
	handles     map[string]*models.TransportSession
	totp        map[int64]*models.TotpSecret
	audit       []models.AuditEvent

	// failures maps a method name to the error it returns.
	failures map[string]error
	// conflicts makes the next n OtpTokens.Create calls return ErrConflict.
	conflicts int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		credentials: map[int64]*models.Credential{},
		sessions:    map[string]*models.Session{},
		handles:     map[string]*models.TransportSession{},
		totp:        map[int64]*models.TotpSecret{},
		failures:    map[string]error{},
	}
}

func (f *fakeStore) fail(name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[name] = err
}

func (f *fakeStore) id() int64 {
	f.nextID++
	return f.nextID
}

func (f *fakeStore) auditActions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.audit))
	for _, e := range f.audit {
		out = append(out, e.Action)
	}
	return out
}

func (f *fakeStore) attemptRows(identifier, action string) []models.Attempt {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Attempt
	for _, a := range f.attempts {
		if a.Identifier == identifier && a.Action == action {
			out = append(out, *a)
		}
	}
	return out
}

// --- users ---

type fakeUsers struct{ s *fakeStore }

var _ users.Repository = fakeUsers{}

func (r fakeUsers) Create(_ context.Context, c *models.Credential) (*models.Credential, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failures["Users.Create"]; err != nil {
		return nil, err
	}
	for _, o := range r.s.credentials {
		if o.Email == c.Email || (c.Username != "" && o.Username == c.Username) {
			return nil, common.ErrConflict
		}
	}
	cp := *c
	cp.ID = r.s.id()
	r.s.credentials[cp.ID] = &cp
	c.ID = cp.ID
	return c, nil
}

func (r fakeUsers) GetByIdentifier(_ context.Context, identifier string) (*models.Credential, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failures["Users.GetByIdentifier"]; err != nil {
		return nil, err
	}
	for _, c := range r.s.credentials {
		if c.Email == identifier || (c.Username != "" && c.Username == identifier) {
			cp := *c
			return &cp, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r fakeUsers) GetByID(_ context.Context, id int64) (*models.Credential, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.credentials[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *c
	return &cp, nil
}

func (r fakeUsers) MarkEmailVerified(_ context.Context, id int64, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.credentials[id]
	if !ok || c.Status == models.StatusSuspended {
		return common.ErrorNotFound
	}
	c.Status = models.StatusActive
	if c.EmailVerifiedAt == nil {
		t := at
		c.EmailVerifiedAt = &t
	}
	return nil
}

func (r fakeUsers) UpdatePassword(_ context.Context, id int64, hash string, _ time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.credentials[id]
	if !ok {
		return common.ErrorNotFound
	}
	c.PasswordHash = hash
	return nil
}

func (r fakeUsers) UpdateStatus(_ context.Context, id int64, status models.AccountStatus, _ time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.credentials[id]
	if !ok {
		return common.ErrorNotFound
	}
	c.Status = status
	return nil
}

// --- otp tokens ---

type fakeOtps struct{ s *fakeStore }

var _ otptokens.Repository = fakeOtps{}

func (r fakeOtps) DeleteUnused(_ context.Context, ownerID int64, typ string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failures["OtpTokens.DeleteUnused"]; err != nil {
		return 0, err
	}
	var kept []*models.OtpToken
	var n int64
	for _, t := range r.s.otps {
		if t.OwnerID == ownerID && t.Type == typ && t.UsedAt == nil {
			n++
			continue
		}
		kept = append(kept, t)
	}
	r.s.otps = kept
	return n, nil
}

func (r fakeOtps) Create(_ context.Context, t *models.OtpToken) (*models.OtpToken, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.conflicts > 0 {
		r.s.conflicts--
		return nil, common.ErrConflict
	}
	if err := r.s.failures["OtpTokens.Create"]; err != nil {
		return nil, err
	}
	for _, o := range r.s.otps {
		if o.OwnerID == t.OwnerID && o.Type == t.Type && o.UsedAt == nil {
			return nil, common.ErrConflict
		}
	}
	cp := *t
	cp.ID = r.s.id()
	r.s.otps = append(r.s.otps, &cp)
	t.ID = cp.ID
	return t, nil
}

func (r fakeOtps) FindByHash(_ context.Context, ownerID int64, typ, hash string) (*models.OtpToken, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failures["OtpTokens.FindByHash"]; err != nil {
		return nil, err
	}
	for i := len(r.s.otps) - 1; i >= 0; i-- {
		t := r.s.otps[i]
		if t.OwnerID == ownerID && t.Type == typ && t.CodeHash == hash {
			cp := *t
			return &cp, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r fakeOtps) Claim(_ context.Context, id int64, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, t := range r.s.otps {
		if t.ID == id && t.UsedAt == nil && at.Before(t.ExpiresAt) {
			u := at
			t.UsedAt = &u
			return nil
		}
	}
	return common.ErrTokenAlreadyUsed
}

func (r fakeOtps) DeleteExpired(_ context.Context, cutoff time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var kept []*models.OtpToken
	var n int64
	for _, t := range r.s.otps {
		if t.ExpiresAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, t)
	}
	r.s.otps = kept
	return n, nil
}

// --- attempts ---

type fakeAttempts struct{ s *fakeStore }

var _ attempts.Repository = fakeAttempts{}

func (r fakeAttempts) Record(_ context.Context, identifier, action string, success bool, at time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failures["Attempts.Record"]; err != nil {
		return 0, err
	}
	a := &models.Attempt{ID: r.s.id(), Identifier: identifier, Action: action, Success: success, CreatedAt: at}
	r.s.attempts = append(r.s.attempts, a)
	return a.ID, nil
}

func (r fakeAttempts) MarkSucceeded(_ context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, a := range r.s.attempts {
		if a.ID == id {
			a.Success = true
		}
	}
	return nil
}

func (r fakeAttempts) CountFailures(_ context.Context, identifier, action string, since time.Time) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failures["Attempts.CountFailures"]; err != nil {
		return 0, err
	}
	n := 0
	for _, a := range r.s.attempts {
		if a.Identifier == identifier && a.Action == action && !a.Success && !a.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (r fakeAttempts) ClearFailures(_ context.Context, identifier, action string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failures["Attempts.ClearFailures"]; err != nil {
		return 0, err
	}
	var kept []*models.Attempt
	var n int64
	for _, a := range r.s.attempts {
		if a.Identifier == identifier && a.Action == action && !a.Success {
			n++
			continue
		}
		kept = append(kept, a)
	}
	r.s.attempts = kept
	return n, nil
}

func (r fakeAttempts) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var kept []*models.Attempt
	var n int64
	for _, a := range r.s.attempts {
		if a.CreatedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, a)
	}
	r.s.attempts = kept
	return n, nil
}

// --- sessions ---

type fakeSessions struct{ s *fakeStore }

var _ sessions.Repository = fakeSessions{}

func (r fakeSessions) Create(_ context.Context, s *models.Session) (*models.Session, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failures["Sessions.Create"]; err != nil {
		return nil, err
	}
	if _, ok := r.s.sessions[s.Token]; ok {
		return nil, common.ErrConflict
	}
	cp := *s
	cp.ID = r.s.id()
	r.s.sessions[cp.Token] = &cp
	s.ID = cp.ID
	return s, nil
}

func (r fakeSessions) FindActive(_ context.Context, ownerID int64, token string, now time.Time) (*models.Session, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failures["Sessions.FindActive"]; err != nil {
		return nil, err
	}
	s, ok := r.s.sessions[token]
	if !ok || s.OwnerID != ownerID || !s.ExpiresAt.After(now) {
		return nil, common.ErrorNotFound
	}
	cp := *s
	return &cp, nil
}

func (r fakeSessions) FindByToken(_ context.Context, token string) (*models.Session, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	s, ok := r.s.sessions[token]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *s
	return &cp, nil
}

func (r fakeSessions) Delete(_ context.Context, token string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.sessions, token)
	return nil
}

func (r fakeSessions) DeleteByOwner(_ context.Context, ownerID int64) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for k, s := range r.s.sessions {
		if s.OwnerID == ownerID {
			delete(r.s.sessions, k)
			n++
		}
	}
	return n, nil
}

func (r fakeSessions) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for k, s := range r.s.sessions {
		if !s.ExpiresAt.After(now) {
			delete(r.s.sessions, k)
			n++
		}
	}
	return n, nil
}

func (r fakeSessions) GetHandle(_ context.Context, handle string) (*models.TransportSession, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	h, ok := r.s.handles[handle]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *h
	return &cp, nil
}

func (r fakeSessions) CreateHandle(_ context.Context, h *models.TransportSession) (*models.TransportSession, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if existing, ok := r.s.handles[h.Handle]; ok {
		cp := *existing
		return &cp, nil
	}
	cp := *h
	cp.LastUsedAt = cp.CreatedAt
	r.s.handles[h.Handle] = &cp
	out := cp
	return &out, nil
}

func (r fakeSessions) DeleteHandle(_ context.Context, handle string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.handles, handle)
	return nil
}

func (r fakeSessions) TouchHandle(_ context.Context, handle string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failures["Sessions.TouchHandle"]; err != nil {
		return err
	}
	if h, ok := r.s.handles[handle]; ok && h.LastUsedAt.Before(at) {
		h.LastUsedAt = at
	}
	return nil
}

func (r fakeSessions) DeleteHandlesIdleSince(_ context.Context, cutoff time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for k, h := range r.s.handles {
		if h.LastUsedAt.Before(cutoff) {
			delete(r.s.handles, k)
			n++
		}
	}
	return n, nil
}

// --- totp secrets ---

type fakeTotp struct{ s *fakeStore }

var _ totpsecrets.Repository = fakeTotp{}

func (r fakeTotp) Upsert(_ context.Context, t *models.TotpSecret) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *t
	cp.ConfirmedAt = nil
	r.s.totp[t.OwnerID] = &cp
	return nil
}

func (r fakeTotp) Get(_ context.Context, ownerID int64) (*models.TotpSecret, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.totp[ownerID]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *t
	return &cp, nil
}

func (r fakeTotp) Confirm(_ context.Context, ownerID int64, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.totp[ownerID]
	if !ok {
		return common.ErrorNotFound
	}
	c := at
	t.ConfirmedAt = &c
	return nil
}

func (r fakeTotp) Delete(_ context.Context, ownerID int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.totp, ownerID)
	return nil
}

// --- audit log ---

type fakeAudit struct{ s *fakeStore }

var _ auditlog.Repository = fakeAudit{}

func (r fakeAudit) Insert(_ context.Context, e *models.AuditEvent) (*models.AuditEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failures["AuditLog.Insert"]; err != nil {
		return nil, err
	}
	e.ID = r.s.id()
	r.s.audit = append(r.s.audit, *e)
	return e, nil
}

func (r fakeAudit) ListByActor(_ context.Context, actorID int64, limit int) ([]*models.AuditEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.AuditEvent
	for i := len(r.s.audit) - 1; i >= 0 && len(out) < limit; i-- {
		e := r.s.audit[i]
		if e.ActorID != nil && *e.ActorID == actorID {
			cp := e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r fakeAudit) ListBefore(_ context.Context, cutoff time.Time, afterID int64, limit int) ([]*models.AuditEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.AuditEvent
	for _, e := range r.s.audit {
		if e.CreatedAt.Before(cutoff) && e.ID > afterID {
			cp := e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r fakeAudit) DeleteBefore(_ context.Context, cutoff time.Time, maxID int64) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var kept []models.AuditEvent
	var n int64
	for _, e := range r.s.audit {
		if e.CreatedAt.Before(cutoff) && e.ID <= maxID {
			n++
			continue
		}
		kept = append(kept, e)
	}
	r.s.audit = kept
	return n, nil
}

// --- manager and transactor ---

type fakeRepoManager struct{ s *fakeStore }

func (m fakeRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m fakeRepoManager) Users(dbx.DBTX) users.Repository             { return fakeUsers{m.s} }
func (m fakeRepoManager) OtpTokens(dbx.DBTX) otptokens.Repository     { return fakeOtps{m.s} }
func (m fakeRepoManager) Attempts(dbx.DBTX) attempts.Repository       { return fakeAttempts{m.s} }
func (m fakeRepoManager) Sessions(dbx.DBTX) sessions.Repository       { return fakeSessions{m.s} }
func (m fakeRepoManager) TotpSecrets(dbx.DBTX) totpsecrets.Repository { return fakeTotp{m.s} }
func (m fakeRepoManager) AuditLog(dbx.DBTX) auditlog.Repository       { return fakeAudit{m.s} }

// fakeTransactor serialises transactions; it does not roll back.
type fakeTransactor struct {
	mu    sync.Mutex
	calls int
}

func (t *fakeTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context, tx dbx.DBTX) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls++
	return fn(ctx, nil)
}

// clock is a settable time source shared by the services under test.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// harness wires every service over one fakeStore and clock.
type harness struct {
	store       *fakeStore
	clock       *clock
	tx          *fakeTransactor
	audit       *AuditLog
	limiter     *RateLimiter
	credentials *CredentialStore
	otp         *OtpTokenService
	sessions    *SessionManager
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	policy         FailurePolicy
	ipLimit        Limit
	resendInterval time.Duration
}

func withPolicy(p FailurePolicy) harnessOption {
	return func(c *harnessConfig) { c.policy = p }
}

func withIPLimit(l Limit) harnessOption {
	return func(c *harnessConfig) { c.ipLimit = l }
}

func withResendInterval(d time.Duration) harnessOption {
	return func(c *harnessConfig) { c.resendInterval = d }
}

var (
	loginLimit = Limit{MaxAttempts: 5, Window: 15 * time.Minute}
	otpLimit   = Limit{MaxAttempts: 5, Window: 15 * time.Minute}
)

const testPepper = "test-pepper"

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	cfg := harnessConfig{policy: FailOpen}
	for _, o := range opts {
		o(&cfg)
	}

	store := newFakeStore()
	clk := newClock()
	rm := fakeRepoManager{store}
	tx := &fakeTransactor{}
	log := logging.Nop{}

	audit := NewAuditLog(nil, rm, log)
	audit.now = clk.Now

	limiter := NewRateLimiter(nil, rm, cfg.policy, log)
	limiter.now = clk.Now

	creds := NewCredentialStore(nil, rm, limiter, audit, log, LoginLimits{PerIdentifier: loginLimit, PerIP: cfg.ipLimit}, 4)
	creds.now = clk.Now

	otp := NewOtpTokenService(nil, tx, rm, limiter, audit, log, OtpOptions{
		Pepper:         testPepper,
		VerifyLimit:    otpLimit,
		ResendInterval: cfg.resendInterval,
		ResendBurst:    1,
	})
	otp.now = clk.Now

	sm := NewSessionManager(nil, rm, audit, log, time.Hour, CookieOptions{SessionName: "store_session", HandleName: "store_handle", SameSite: ParseSameSite("lax")})
	sm.now = clk.Now

	return &harness{
		store:       store,
		clock:       clk,
		tx:          tx,
		audit:       audit,
		limiter:     limiter,
		credentials: creds,
		otp:         otp,
		sessions:    sm,
	}
}

// addCredential inserts an account directly, bypassing Register.
func (h *harness) addCredential(t *testing.T, email, password string, status models.AccountStatus) *models.Credential {
	t.Helper()
	hash, err := bcryptHash(password)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	c, err := fakeUsers{h.store}.Create(context.Background(), &models.Credential{
		Email:        email,
		PasswordHash: hash,
		Status:       status,
		Role:         "customer",
	})
	if err != nil {
		t.Fatalf("create credential: %v", err)
	}
	return c
}

func bcryptHash(password string) (string, error) {
	return cryptox.HashPassword(password, 4)
}
