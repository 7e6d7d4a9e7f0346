// Package rbac implements the storefront's authorization model: an ordinal
// role hierarchy plus explicit per-role permission lists that accumulate
// upward, so every role holds the permissions of all roles below it.
package rbac

// Role is a role name from the closed set below.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleVendor   Role = "vendor"
	RoleSupport  Role = "support"
	RoleFinance  Role = "finance"
	RoleMod      Role = "mod"
	RoleAdmin    Role = "admin"
	RoleSuper    Role = "super"
)

// Permission is a dotted "<resource>.<verb>" string.
type Permission string

const (
	PermOrdersViewOwn Permission = "orders.view_own"
	PermCartManage    Permission = "cart.manage"
	PermReviewsCreate Permission = "reviews.create"

	PermProductsCreate Permission = "products.create"
	PermProductsEdit   Permission = "products.edit_own"
	PermOrdersFulfil   Permission = "orders.fulfil"

	PermTicketsManage Permission = "tickets.manage"
	PermOrdersViewAll Permission = "orders.view_all"
	PermUsersView     Permission = "users.view"

	PermPayoutsManage  Permission = "payouts.manage"
	PermRefundsIssue   Permission = "refunds.issue"
	PermReportsFinance Permission = "reports.finance"

	PermReviewsModerate  Permission = "reviews.moderate"
	PermProductsModerate Permission = "products.moderate"

	PermUsersManage    Permission = "users.manage"
	PermVendorsApprove Permission = "vendors.approve"
	PermSettingsManage Permission = "settings.manage"
	PermRolesAssign    Permission = "roles.assign"
	PermAuditView      Permission = "audit.view"
)

// roleLevels orders the hierarchy. Higher is more privileged.
var roleLevels = map[Role]int{
	RoleCustomer: 0,
	RoleVendor:   1,
	RoleSupport:  2,
	RoleFinance:  3,
	RoleMod:      4,
	RoleAdmin:    5,
	RoleSuper:    6,
}

// rolePermissions lists only what each role adds on top of the roles below it.
var rolePermissions = map[Role][]Permission{
	RoleCustomer: {PermOrdersViewOwn, PermCartManage, PermReviewsCreate},
	RoleVendor:   {PermProductsCreate, PermProductsEdit, PermOrdersFulfil},
	RoleSupport:  {PermTicketsManage, PermOrdersViewAll, PermUsersView},
	RoleFinance:  {PermPayoutsManage, PermRefundsIssue, PermReportsFinance},
	RoleMod:      {PermReviewsModerate, PermProductsModerate},
	RoleAdmin:    {PermUsersManage, PermVendorsApprove, PermSettingsManage, PermRolesAssign, PermAuditView},
	RoleSuper:    {},
}

// Model answers clearance and permission questions from tables resolved once
// at construction.
type Model struct {
	levels   map[Role]int
	resolved map[Role]map[Permission]struct{}
}

// DefaultModel is built from the storefront's static role tables.
var DefaultModel = NewModel(roleLevels, rolePermissions)

// NewModel resolves each role's permission set to its own list plus the
// lists of every role with a strictly lower level.
func NewModel(levels map[Role]int, perms map[Role][]Permission) *Model {
	m := &Model{
		levels:   make(map[Role]int, len(levels)),
		resolved: make(map[Role]map[Permission]struct{}, len(levels)),
	}
	for r, l := range levels {
		m.levels[r] = l
	}
	for role, level := range levels {
		set := make(map[Permission]struct{})
		for other, otherLevel := range levels {
			if other != role && otherLevel >= level {
				continue
			}
			for _, p := range perms[other] {
				set[p] = struct{}{}
			}
		}
		m.resolved[role] = set
	}
	return m
}

// Level returns the ordinal of role and whether the role is known.
func (m *Model) Level(role Role) (int, bool) {
	l, ok := m.levels[role]
	return l, ok
}

// Valid reports whether role is part of the hierarchy.
func (m *Model) Valid(role Role) bool {
	_, ok := m.levels[role]
	return ok
}

// HasRole reports whether userRole's level is at least requiredRole's.
// Unknown roles on either side never pass.
func (m *Model) HasRole(userRole, requiredRole Role) bool {
	have, ok := m.levels[userRole]
	if !ok {
		return false
	}
	need, ok := m.levels[requiredRole]
	if !ok {
		return false
	}
	return have >= need
}

// HasPermission reports whether userRole holds permission. The super role
// holds every permission, including ones not listed anywhere.
func (m *Model) HasPermission(userRole Role, permission Permission) bool {
	if userRole == RoleSuper {
		return true
	}
	set, ok := m.resolved[userRole]
	if !ok {
		return false
	}
	_, ok = set[permission]
	return ok
}

// Permissions returns the resolved permission set of role.
func (m *Model) Permissions(role Role) []Permission {
	set := m.resolved[role]
	out := make([]Permission, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	return out
}
