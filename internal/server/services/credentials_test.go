package services

import (
	"context"
	"testing"
	"time"

	"github.com/dmitrijs2005/storeauth/internal/common"
	"github.com/dmitrijs2005/storeauth/internal/cryptox"
	"github.com/dmitrijs2005/storeauth/internal/server/models"
	"github.com/dmitrijs2005/storeauth/internal/server/rbac"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPassword = "correct horse battery"

func TestCredentialStore_Verify_Success(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.addCredential(t, "alice@example.com", testPassword, models.StatusActive)

	got, err := h.credentials.Verify(ctx, "  Alice@Example.com ", testPassword, ClientInfo{IP: "10.0.0.1"})
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)
	assert.Contains(t, h.store.auditActions(), models.AuditLoginSuccess)
}

func TestCredentialStore_Verify_GenericFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addCredential(t, "alice@example.com", testPassword, models.StatusActive)

	_, errWrong := h.credentials.Verify(ctx, "alice@example.com", "wrong password", ClientInfo{})
	_, errUnknown := h.credentials.Verify(ctx, "nobody@example.com", "wrong password", ClientInfo{})

	assert.ErrorIs(t, errWrong, common.ErrAuthenticationFailure)
	assert.ErrorIs(t, errUnknown, common.ErrAuthenticationFailure)
	assert.Equal(t, errWrong.Error(), errUnknown.Error())

	// unknown identifiers are counted like known ones
	assert.Len(t, h.store.attemptRows("nobody@example.com", models.ActionLogin), 1)
}

func TestCredentialStore_Verify_Validation(t *testing.T) {
	h := newHarness(t)
	_, err := h.credentials.Verify(context.Background(), " ", "x", ClientInfo{})
	assert.ErrorIs(t, err, common.ErrValidation)
	_, err = h.credentials.Verify(context.Background(), "alice", "", ClientInfo{})
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestCredentialStore_Verify_Status(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addCredential(t, "pending@example.com", testPassword, models.StatusPending)
	h.addCredential(t, "banned@example.com", testPassword, models.StatusSuspended)

	_, err := h.credentials.Verify(ctx, "pending@example.com", testPassword, ClientInfo{})
	assert.ErrorIs(t, err, common.ErrPendingVerification)

	_, err = h.credentials.Verify(ctx, "banned@example.com", testPassword, ClientInfo{})
	assert.ErrorIs(t, err, common.ErrSuspended)

	// a wrong password never reveals the status
	_, err = h.credentials.Verify(ctx, "banned@example.com", "nope-nope", ClientInfo{})
	assert.ErrorIs(t, err, common.ErrAuthenticationFailure)
}

func TestCredentialStore_Verify_LockoutAfterFiveFailures(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addCredential(t, "alice@example.com", testPassword, models.StatusActive)

	for i := 0; i < 5; i++ {
		_, err := h.credentials.Verify(ctx, "alice@example.com", "bad password", ClientInfo{})
		require.ErrorIs(t, err, common.ErrAuthenticationFailure, "attempt %d", i+1)
	}

	_, err := h.credentials.Verify(ctx, "alice@example.com", testPassword, ClientInfo{})
	assert.ErrorIs(t, err, common.ErrRateLimited)
	assert.Contains(t, h.store.auditActions(), models.AuditLoginRateLimited)

	// blocked attempts do not extend the lockout
	assert.Len(t, h.store.attemptRows("alice@example.com", models.ActionLogin), 5)

	h.clock.Advance(loginLimit.Window + time.Second)
	_, err = h.credentials.Verify(ctx, "alice@example.com", testPassword, ClientInfo{})
	assert.NoError(t, err)
}

func TestCredentialStore_Verify_SuccessClearsFailures(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addCredential(t, "alice@example.com", testPassword, models.StatusActive)

	for i := 0; i < 4; i++ {
		_, _ = h.credentials.Verify(ctx, "alice@example.com", "bad password", ClientInfo{})
	}
	_, err := h.credentials.Verify(ctx, "alice@example.com", testPassword, ClientInfo{})
	require.NoError(t, err)

	rem, err := h.limiter.Remaining(ctx, "alice@example.com", models.ActionLogin, loginLimit)
	require.NoError(t, err)
	assert.Equal(t, loginLimit.MaxAttempts, rem)
}

func TestCredentialStore_Verify_PerIPLimit(t *testing.T) {
	h := newHarness(t, withIPLimit(Limit{MaxAttempts: 3, Window: time.Hour}))
	ctx := context.Background()
	h.addCredential(t, "alice@example.com", testPassword, models.StatusActive)
	client := ClientInfo{IP: "203.0.113.9"}

	for _, who := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		_, err := h.credentials.Verify(ctx, who, "whatever1", client)
		require.ErrorIs(t, err, common.ErrAuthenticationFailure)
	}

	_, err := h.credentials.Verify(ctx, "alice@example.com", testPassword, client)
	assert.ErrorIs(t, err, common.ErrRateLimited)

	_, err = h.credentials.Verify(ctx, "alice@example.com", testPassword, ClientInfo{IP: "198.51.100.1"})
	assert.NoError(t, err)
}

func TestCredentialStore_Verify_StorageFailure(t *testing.T) {
	h := newHarness(t)
	h.store.fail("Users.GetByIdentifier", errBoom)

	_, err := h.credentials.Verify(context.Background(), "alice@example.com", testPassword, ClientInfo{})
	assert.ErrorIs(t, err, common.ErrStorage)
}

func TestCredentialStore_Verify_FailClosed(t *testing.T) {
	h := newHarness(t, withPolicy(FailClosed))
	h.addCredential(t, "alice@example.com", testPassword, models.StatusActive)
	h.store.fail("Attempts.CountFailures", errBoom)

	_, err := h.credentials.Verify(context.Background(), "alice@example.com", testPassword, ClientInfo{})
	assert.ErrorIs(t, err, common.ErrRateLimited)
}

func TestCredentialStore_Register(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	c, err := h.credentials.Register(ctx, "New@Example.com", "newbie", testPassword, "")
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", c.Email)
	assert.Equal(t, models.StatusPending, c.Status)
	assert.Equal(t, string(rbac.RoleCustomer), c.Role)
	assert.True(t, cryptox.CheckPassword(c.PasswordHash, testPassword))
	assert.NotEqual(t, testPassword, c.PasswordHash)

	_, err = h.credentials.Register(ctx, "new@example.com", "", testPassword, rbac.RoleCustomer)
	assert.ErrorIs(t, err, common.ErrConflict)

	byName, err := h.credentials.FindByIdentifier(ctx, "NEWBIE")
	require.NoError(t, err)
	assert.Equal(t, c.ID, byName.ID)
}

func TestCredentialStore_Register_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tests := []struct {
		name, email, username, password string
		role                             rbac.Role
	}{
		{"no at sign", "nobody", "", testPassword, ""},
		{"username looks like email", "a@example.com", "b@example.com", testPassword, ""},
		{"short password", "a@example.com", "", "short", ""},
		{"unknown role", "a@example.com", "", testPassword, rbac.Role("pirate")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.credentials.Register(ctx, tt.email, tt.username, tt.password, tt.role)
			assert.ErrorIs(t, err, common.ErrValidation)
		})
	}
}

func TestCredentialStore_MarkEmailVerified(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.addCredential(t, "alice@example.com", testPassword, models.StatusPending)

	require.NoError(t, h.credentials.MarkEmailVerified(ctx, c.ID))
	got, err := h.credentials.FindByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, got.Status)
	require.NotNil(t, got.EmailVerifiedAt)
	first := *got.EmailVerifiedAt

	h.clock.Advance(time.Hour)
	require.NoError(t, h.credentials.MarkEmailVerified(ctx, c.ID))
	got, _ = h.credentials.FindByID(ctx, c.ID)
	assert.Equal(t, first, *got.EmailVerifiedAt)

	assert.ErrorIs(t, h.credentials.MarkEmailVerified(ctx, 999), common.ErrorNotFound)
}

func TestCredentialStore_SetPasswordAndStatus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.addCredential(t, "alice@example.com", testPassword, models.StatusActive)

	assert.ErrorIs(t, h.credentials.SetPassword(ctx, c.ID, "short"), common.ErrValidation)
	require.NoError(t, h.credentials.SetPassword(ctx, c.ID, "a brand new secret"))
	_, err := h.credentials.Verify(ctx, "alice@example.com", "a brand new secret", ClientInfo{})
	require.NoError(t, err)

	admin := int64(1000)
	assert.ErrorIs(t, h.credentials.SetStatus(ctx, &admin, c.ID, "frozen"), common.ErrValidation)
	require.NoError(t, h.credentials.SetStatus(ctx, &admin, c.ID, models.StatusSuspended))
	_, err = h.credentials.Verify(ctx, "alice@example.com", "a brand new secret", ClientInfo{})
	assert.ErrorIs(t, err, common.ErrSuspended)
	assert.Contains(t, h.store.auditActions(), models.AuditStatusChanged)
}
