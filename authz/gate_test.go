package authz

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/phonginreallife/inres-oncall/db"
	"github.com/phonginreallife/inres-oncall/internal/apperr"
)

const superAdmin int64 = 1001

func user(id int64, roles ...db.Role) *db.User {
	return &db.User{ID: id, Roles: db.NewRoleSet(roles...), Team: "linux"}
}

func TestHasPermission(t *testing.T) {
	tests := []struct {
		name   string
		roles  db.RoleSet
		action Action
		want   bool
	}{
		{"admin can set lead", db.NewRoleSet(db.RoleAdmin), ActionSetLead, true},
		{"admin can add user", db.NewRoleSet(db.RoleAdmin), ActionAddUser, true},
		{"lead cannot set lead", db.NewRoleSet(db.RoleLead), ActionSetLead, false},
		{"lead can add user", db.NewRoleSet(db.RoleLead), ActionAddUser, true},
		{"lead can view roles", db.NewRoleSet(db.RoleLead), ActionViewRoles, true},
		{"user cannot add user", db.NewRoleSet(db.RoleUser), ActionAddUser, false},
		{"user can view roster", db.NewRoleSet(db.RoleUser), ActionViewRoster, true},
		{"nobody can view roster", nil, ActionViewRoster, true},
		{"nobody can report incident", nil, ActionReportIncident, true},
		{"union of roles", db.NewRoleSet(db.RoleUser, db.RoleAdmin), ActionViewRoles, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HasPermission(RolePermissions, tt.roles, tt.action))
		})
	}
}

func TestGate_Authorize(t *testing.T) {
	g := NewGate(superAdmin)

	tests := []struct {
		name    string
		actorID int64
		actor   *db.User
		action  Action
		want    bool
		reason  string
	}{
		{"super admin sets admin", superAdmin, nil, ActionSetAdmin, true, ""},
		{"other admin cannot set admin", 7, user(7, db.RoleAdmin), ActionSetAdmin, false, "Only the designated admin"},
		{"admin sets lead", 7, user(7, db.RoleAdmin), ActionSetLead, true, ""},
		{"lead cannot set lead", 8, user(8, db.RoleLead), ActionSetLead, false, "Only admins can set leads."},
		{"lead adds user", 8, user(8, db.RoleLead), ActionAddUser, true, ""},
		{"unknown actor cannot add user", 9, nil, ActionAddUser, false, "Only admins or leads can add users."},
		{"unknown actor views roster", 9, nil, ActionViewRoster, true, ""},
		{"lead sets roster", 8, user(8, db.RoleLead), ActionSetRoster, true, ""},
		{"admin lead cannot set roster", 7, user(7, db.RoleAdmin, db.RoleLead), ActionSetRoster, false, "Admins cannot set rosters."},
		{"user cannot set roster", 9, user(9, db.RoleUser), ActionSetRoster, false, "Only leads can set rosters."},
		{"user cannot view incidents", 9, user(9, db.RoleUser), ActionViewIncidents, false, "Only admins or leads"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := g.Authorize(tt.actorID, tt.actor, tt.action)
			assert.Equal(t, tt.want, d.Allowed)
			if tt.want {
				assert.NoError(t, d.Err())
				return
			}
			assert.Contains(t, d.Reason, tt.reason)
			assert.True(t, apperr.Is(d.Err(), apperr.KindAuthorization))
		})
	}
}

func TestGate_ZeroSuperAdminGrantsNobody(t *testing.T) {
	g := NewGate(0)
	assert.False(t, g.Authorize(0, nil, ActionSetAdmin).Allowed)
}

func TestGate_RolePredicates(t *testing.T) {
	g := NewGate(superAdmin)
	assert.True(t, g.IsAdmin(user(1, db.RoleAdmin)))
	assert.False(t, g.IsAdmin(nil))
	assert.True(t, g.IsLead(user(1, db.RoleLead, db.RoleUser)))
	assert.False(t, g.IsLead(user(1, db.RoleUser)))
}
