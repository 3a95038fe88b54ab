// Package store persists actors, roster entries and incidents.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/phonginreallife/inres-oncall/db"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a conditional incident update lost the race.
	ErrConflict = errors.New("incident is no longer pending")
)

// Store is the directory and persistence layer shared by all bot components.
type Store interface {
	GetUser(ctx context.Context, id int64) (*db.User, error)
	// UpsertUser creates or updates an actor, merging the granted role into the stored set.
	UpsertUser(ctx context.Context, in db.UserUpsert) (*db.User, error)
	ListTeamMembers(ctx context.Context, team string) ([]db.User, error)
	GetTeamLead(ctx context.Context, team string) (*db.User, error)
	ListAdminsAndLeads(ctx context.Context) ([]db.User, error)

	// UpsertRosterEntries writes all entries atomically; last write wins per (team, date).
	UpsertRosterEntries(ctx context.Context, entries ...db.RosterEntry) error
	GetRosterEntry(ctx context.Context, team, date string) (*db.RosterEntry, error)
	ListTeamRoster(ctx context.Context, team string) ([]db.RosterEntry, error)

	// CreateIncident assigns ID (and CreatedAt when zero) on the passed incident.
	CreateIncident(ctx context.Context, inc *db.Incident) error
	GetIncident(ctx context.Context, id string) (*db.Incident, error)
	// TransitionIncident moves a pending, unacknowledged incident to a terminal status
	// as one compare-and-set. It returns ErrConflict when the incident already left pending.
	TransitionIncident(ctx context.Context, id string, to db.IncidentStatus, at time.Time) (*db.Incident, error)
	// MarkReminded records the reminder of an open incident at most once. It returns
	// ErrConflict when the reminder was already recorded or the incident left pending.
	MarkReminded(ctx context.Context, id string, at time.Time) (*db.Incident, error)
	ListPendingIncidents(ctx context.Context) ([]db.Incident, error)

	Ping(ctx context.Context) error
	Close() error
}

// mergeUser applies a registration on top of the stored actor (nil when new).
func mergeUser(existing *db.User, in db.UserUpsert, now time.Time) db.User {
	var u db.User
	if existing != nil {
		u = *existing
	} else {
		u = db.User{ID: in.ID, CreatedAt: now}
	}
	if in.FullName != "" {
		u.FullName = in.FullName
	}
	if in.Phone != "" {
		u.Phone = in.Phone
	}
	if in.Team != "" {
		u.Team = in.Team
	}
	u.Roles = u.Roles.Add(in.Role)
	u.Verified = u.Verified || in.Verified
	u.UpdatedAt = now
	return u
}

// applyTransition mutates inc in place. Callers hold whatever lock makes it atomic.
func applyTransition(inc *db.Incident, to db.IncidentStatus, at time.Time) error {
	if !inc.Open() {
		return ErrConflict
	}
	switch to {
	case db.IncidentStatusResponded:
		inc.Status = to
		inc.Acknowledged = true
		inc.AcknowledgedAt = &at
	case db.IncidentStatusEscalated:
		inc.Status = to
		inc.EscalatedAt = &at
	default:
		return fmt.Errorf("invalid incident transition to %q", to)
	}
	return nil
}

func applyReminder(inc *db.Incident, at time.Time) error {
	if !inc.Open() || inc.Reminded() {
		return ErrConflict
	}
	inc.RemindedAt = &at
	return nil
}

func validTarget(to db.IncidentStatus) error {
	if !to.Terminal() {
		return fmt.Errorf("invalid incident transition to %q", to)
	}
	return nil
}
