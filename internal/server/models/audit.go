package models

import "time"

// AuditEvent is an append-only security log entry. ActorID, ResourceType and
// ResourceID are optional.
type AuditEvent struct {
	ID           int64          `json:"id"`
	ActorID      *int64         `json:"actor_id,omitempty"`
	Action       string         `json:"action"`
	ResourceType string         `json:"resource_type,omitempty"`
	ResourceID   string         `json:"resource_id,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Audit actions written by the auth core.
const (
	AuditLoginSuccess       = "login.success"
	AuditLoginFailure       = "login.failure"
	AuditLoginRateLimited   = "login.rate_limited"
	AuditLoginTotpRequired  = "login.totp_required"
	AuditOtpGenerated       = "otp.generated"
	AuditOtpVerified        = "otp.verified"
	AuditOtpFailure         = "otp.failure"
	AuditOtpRateLimited     = "otp.rate_limited"
	AuditSessionCreated     = "session.created"
	AuditSessionRevoked     = "session.revoked"
	AuditSessionsRevokedAll = "session.revoked_all"
	AuditPermissionDenied   = "permission.denied"
	AuditCredentialCreated  = "credential.created"
	AuditEmailVerified      = "credential.email_verified"
	AuditStatusChanged      = "credential.status_changed"
	AuditPasswordChanged    = "credential.password_changed"
	AuditPasswordResetAsked = "password_reset.requested"
	AuditTotpEnrolled       = "totp.enrolled"
	AuditTotpConfirmed      = "totp.confirmed"
	AuditTotpFailure        = "totp.failure"
)
