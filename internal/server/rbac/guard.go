package rbac

import (
	"context"
	"time"

	"github.com/dmitrijs2005/storeauth/internal/common"
	"github.com/dmitrijs2005/storeauth/internal/server/models"
)

// Auditor receives denial events. Implementations must not fail the caller.
type Auditor interface {
	Record(ctx context.Context, e models.AuditEvent)
}

// Subject is the authenticated principal a check is made for.
type Subject struct {
	ID   int64
	Role Role
}

// Resource names what the caller tried to reach, for the audit entry.
type Resource struct {
	Type string
	ID   string
}

// Guard enforces the model for request-handling middleware and records
// every denial.
type Guard struct {
	model   *Model
	auditor Auditor
}

func NewGuard(model *Model, auditor Auditor) *Guard {
	if model == nil {
		model = DefaultModel
	}
	return &Guard{model: model, auditor: auditor}
}

func (g *Guard) Model() *Model { return g.model }

// RequireRole returns common.ErrPermissionDenied unless subject's role is at
// least required.
func (g *Guard) RequireRole(ctx context.Context, subject Subject, required Role, res Resource) error {
	if g.model.HasRole(subject.Role, required) {
		return nil
	}
	g.deny(ctx, subject, res, "required_role", string(required))
	return common.ErrPermissionDenied
}

// RequirePermission returns common.ErrPermissionDenied unless subject's role
// holds permission.
func (g *Guard) RequirePermission(ctx context.Context, subject Subject, permission Permission, res Resource) error {
	if g.model.HasPermission(subject.Role, permission) {
		return nil
	}
	g.deny(ctx, subject, res, "required_permission", string(permission))
	return common.ErrPermissionDenied
}

func (g *Guard) deny(ctx context.Context, subject Subject, res Resource, key, value string) {
	if g.auditor == nil {
		return
	}
	var actor *int64
	if subject.ID != 0 {
		id := subject.ID
		actor = &id
	}
	g.auditor.Record(ctx, models.AuditEvent{
		ActorID:      actor,
		Action:       models.AuditPermissionDenied,
		ResourceType: res.Type,
		ResourceID:   res.ID,
		Metadata: map[string]any{
			key:           value,
			"actual_role": string(subject.Role),
		},
		CreatedAt: time.Now(),
	})
}
