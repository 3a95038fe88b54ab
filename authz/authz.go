// Package authz decides which chat commands an actor may run.
//
// Decisions are pure functions of the actor record and the configured super
// admin id. They never touch storage; callers load the actor first and pass
// nil for actors the directory does not know.
package authz

import (
	"github.com/phonginreallife/inres-oncall/db"
	"github.com/phonginreallife/inres-oncall/internal/apperr"
)

// Action is a guarded bot operation.
type Action string

const (
	ActionSetAdmin       Action = "set_admin"
	ActionSetLead        Action = "set_lead"
	ActionAddUser        Action = "add_user"
	ActionViewRoles      Action = "view_roles"
	ActionViewRoster     Action = "view_roster"
	ActionSetRoster      Action = "set_roster"
	ActionReportIncident Action = "report_incident"
	ActionViewIncidents  Action = "view_incidents"
)

// Decision is the result of an authorization check.
type Decision struct {
	Allowed bool
	// Reason is shown to the actor when the action is rejected.
	Reason string
}

// Err converts a rejection into an authorization error.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return apperr.Authorization("%s", d.Reason)
}

func allow() Decision { return Decision{Allowed: true} }

func deny(reason string) Decision { return Decision{Reason: reason} }

// Authorizer is the permission check used by command handlers and the HTTP API.
type Authorizer interface {
	Authorize(actorID int64, actor *db.User, action Action) Decision
	IsAdmin(actor *db.User) bool
	IsLead(actor *db.User) bool
}

// RolePermissions lists what each role may do. Actions in PublicActions need no role.
var RolePermissions = map[db.Role]map[Action]bool{
	db.RoleAdmin: {
		ActionSetLead:       true,
		ActionAddUser:       true,
		ActionViewRoles:     true,
		ActionViewIncidents: true,
	},
	db.RoleLead: {
		ActionAddUser:       true,
		ActionViewRoles:     true,
		ActionSetRoster:     true,
		ActionViewIncidents: true,
	},
	db.RoleUser: {},
}

// PublicActions are open to anyone, including actors without a record.
var PublicActions = map[Action]bool{
	ActionViewRoster:     true,
	ActionReportIncident: true,
}

// HasPermission reports whether any role in the set grants the action.
func HasPermission(permissions map[db.Role]map[Action]bool, roles db.RoleSet, action Action) bool {
	if PublicActions[action] {
		return true
	}
	for _, role := range roles {
		if permissions[role][action] {
			return true
		}
	}
	return false
}
