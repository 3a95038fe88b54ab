package authz

import "github.com/phonginreallife/inres-oncall/db"

// Gate is the default Authorizer. Only SuperAdminID may grant the admin role.
type Gate struct {
	SuperAdminID int64
}

// NewGate creates a Gate for the configured super admin.
func NewGate(superAdminID int64) *Gate {
	return &Gate{SuperAdminID: superAdminID}
}

// Ensure Gate implements Authorizer
var _ Authorizer = (*Gate)(nil)

func (g *Gate) IsAdmin(actor *db.User) bool {
	return actor.HasRole(db.RoleAdmin)
}

func (g *Gate) IsLead(actor *db.User) bool {
	return actor.HasRole(db.RoleLead)
}

// Authorize checks actorID (the sender) against action. actor is the stored
// record for that id, or nil when unknown.
func (g *Gate) Authorize(actorID int64, actor *db.User, action Action) Decision {
	var roles db.RoleSet
	if actor != nil {
		roles = actor.Roles
	}

	switch action {
	case ActionSetAdmin:
		if g.SuperAdminID != 0 && actorID == g.SuperAdminID {
			return allow()
		}
		return deny("Unauthorized: Only the designated admin can use this command.")

	case ActionSetRoster:
		// admin+lead accounts are deliberately barred
		if g.IsAdmin(actor) {
			return deny("Admins cannot set rosters. Please use a lead account.")
		}
		if !g.IsLead(actor) {
			return deny("Only leads can set rosters.")
		}
		return allow()
	}

	if HasPermission(RolePermissions, roles, action) {
		return allow()
	}
	return deny(rejectReason(action))
}

func rejectReason(action Action) string {
	switch action {
	case ActionSetLead:
		return "Only admins can set leads."
	case ActionAddUser:
		return "Only admins or leads can add users."
	case ActionViewRoles:
		return "Only admins or leads can view roles."
	case ActionViewIncidents:
		return "Only admins or leads can view incidents."
	default:
		return "You are not allowed to do that."
	}
}
