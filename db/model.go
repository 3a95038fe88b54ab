package db

import (
	"sort"
	"strings"
	"time"
)

// RosterDateLayout is the calendar date format used for roster keys and callback tokens.
const RosterDateLayout = "2006-01-02"

// ===========================
// ACTOR MODELS
// ===========================

// Role is a capability granted to an actor. An actor may hold several.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleLead  Role = "lead"
	RoleUser  Role = "user"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleLead, RoleUser:
		return true
	}
	return false
}

// RoleSet is an add-only set of roles kept in sorted order.
type RoleSet []Role

// NewRoleSet builds a normalized set, dropping duplicates and empty values.
func NewRoleSet(roles ...Role) RoleSet {
	var rs RoleSet
	return rs.Add(roles...)
}

// Has reports whether the set contains role.
func (rs RoleSet) Has(role Role) bool {
	for _, r := range rs {
		if r == role {
			return true
		}
	}
	return false
}

// Add returns a new set containing rs plus roles. The receiver is not modified.
func (rs RoleSet) Add(roles ...Role) RoleSet {
	out := make(RoleSet, 0, len(rs)+len(roles))
	out = append(out, rs...)
	for _, r := range roles {
		if r == "" || out.Has(r) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Merge is the union of two sets.
func (rs RoleSet) Merge(other RoleSet) RoleSet {
	return rs.Add(other...)
}

// Strings converts the set for storage layers that keep roles as plain strings.
func (rs RoleSet) Strings() []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = string(r)
	}
	return out
}

func (rs RoleSet) String() string {
	if len(rs) == 0 {
		return "None"
	}
	return strings.Join(rs.Strings(), ", ")
}

// RoleSetFromStrings is the inverse of Strings. Unknown values are kept as-is.
func RoleSetFromStrings(values []string) RoleSet {
	roles := make([]Role, 0, len(values))
	for _, v := range values {
		roles = append(roles, Role(strings.ToLower(strings.TrimSpace(v))))
	}
	return NewRoleSet(roles...)
}

// User is a chat participant known to the bot, keyed by their chat platform id.
type User struct {
	ID       int64   `json:"id"`
	FullName string  `json:"full_name"`
	Phone    string  `json:"phone,omitempty"`
	Roles    RoleSet `json:"roles"`
	Team     string  `json:"team,omitempty"`
	Verified bool    `json:"verified"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasRole is nil-safe so unknown actors are treated as having no roles.
func (u *User) HasRole(role Role) bool {
	if u == nil {
		return false
	}
	return u.Roles.Has(role)
}

// HasPhone reports whether the user can be reached by a contact link.
func (u *User) HasPhone() bool {
	return u != nil && u.Phone != ""
}

// DisplayName falls back to the numeric id when no name was registered.
func (u *User) DisplayName() string {
	if u == nil {
		return "Unknown"
	}
	if u.FullName != "" {
		return u.FullName
	}
	return formatID(u.ID)
}

// ContactLink returns a deep link that opens a chat with the user's phone number.
func (u *User) ContactLink() string {
	if !u.HasPhone() {
		return ""
	}
	return "https://t.me/" + u.Phone
}

// UserUpsert describes a registration or role grant. Empty fields keep the stored value.
type UserUpsert struct {
	ID       int64
	FullName string
	Phone    string
	Team     string
	Role     Role
	Verified bool
}

// ===========================
// ROSTER MODELS
// ===========================

// RosterEntry assigns the primary and secondary on-call for one team on one date.
type RosterEntry struct {
	Team        string    `json:"team"`
	Date        string    `json:"date"`
	PrimaryID   int64     `json:"primary_id"`
	SecondaryID int64     `json:"secondary_id"`
	CreatedBy   int64     `json:"created_by,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Key is the natural key of a roster entry.
func (e RosterEntry) Key() string {
	return RosterKey(e.Team, e.Date)
}

// RosterKey builds the natural key for (team, date).
func RosterKey(team, date string) string {
	return team + "_" + date
}

// ===========================
// INCIDENT MODELS
// ===========================

// IncidentStatus moves from pending to exactly one terminal state.
type IncidentStatus string

const (
	IncidentStatusPending   IncidentStatus = "pending"
	IncidentStatusResponded IncidentStatus = "responded"
	IncidentStatusEscalated IncidentStatus = "escalated"
)

// Terminal reports whether no further transitions are allowed.
func (s IncidentStatus) Terminal() bool {
	return s == IncidentStatusResponded || s == IncidentStatusEscalated
}

// Incident is a critical issue reported against a team's on-call roster.
type Incident struct {
	ID          string         `json:"id"`
	Team        string         `json:"team"`
	Issue       string         `json:"issue"`
	PrimaryID   int64          `json:"primary_id"`
	SecondaryID int64          `json:"secondary_id"`
	LeadID      int64          `json:"lead_id"`
	ReporterID  int64          `json:"reporter_id"`
	ChatID      int64          `json:"chat_id"`
	Status      IncidentStatus `json:"status"`

	// Acknowledged is set together with the responded status.
	Acknowledged   bool       `json:"acknowledged"`
	CreatedAt      time.Time  `json:"created_at"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	EscalatedAt    *time.Time `json:"escalated_at,omitempty"`
	// RemindedAt is set once, when the primary was re-paged.
	RemindedAt *time.Time `json:"reminded_at,omitempty"`
}

// Open reports whether the incident still waits for acknowledgment or escalation.
func (i *Incident) Open() bool {
	return i.Status == IncidentStatusPending && !i.Acknowledged
}

func (i *Incident) Reminded() bool {
	return i.RemindedAt != nil
}
