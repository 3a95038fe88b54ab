package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/phonginreallife/inres-oncall/db"
)

// MemoryStore keeps everything in process memory. Used for local runs and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	users     map[int64]db.User
	roster    map[string]db.RosterEntry
	incidents map[string]db.Incident
	now       func() time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[int64]db.User),
		roster:    make(map[string]db.RosterEntry),
		incidents: make(map[string]db.Incident),
		now:       time.Now,
	}
}

// WithClock overrides the timestamp source.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) GetUser(_ context.Context, id int64) (*db.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyUser(u), nil
}

func (s *MemoryStore) UpsertUser(_ context.Context, in db.UserUpsert) (*db.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var existing *db.User
	if u, ok := s.users[in.ID]; ok {
		existing = &u
	}
	u := mergeUser(existing, in, s.now())
	s.users[u.ID] = u
	return copyUser(u), nil
}

func (s *MemoryStore) ListTeamMembers(_ context.Context, team string) ([]db.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []db.User
	for _, u := range s.users {
		if u.Team == team {
			out = append(out, *copyUser(u))
		}
	}
	sortUsers(out)
	return out, nil
}

func (s *MemoryStore) GetTeamLead(ctx context.Context, team string) (*db.User, error) {
	members, _ := s.ListTeamMembers(ctx, team)
	for i := range members {
		if members[i].Roles.Has(db.RoleLead) {
			return &members[i], nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListAdminsAndLeads(_ context.Context) ([]db.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []db.User
	for _, u := range s.users {
		if u.Roles.Has(db.RoleAdmin) || u.Roles.Has(db.RoleLead) {
			out = append(out, *copyUser(u))
		}
	}
	sortUsers(out)
	return out, nil
}

func (s *MemoryStore) UpsertRosterEntries(_ context.Context, entries ...db.RosterEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for _, e := range entries {
		e.UpdatedAt = now
		s.roster[e.Key()] = e
	}
	return nil
}

func (s *MemoryStore) GetRosterEntry(_ context.Context, team, date string) (*db.RosterEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.roster[db.RosterKey(team, date)]
	if !ok {
		return nil, ErrNotFound
	}
	return &e, nil
}

func (s *MemoryStore) ListTeamRoster(_ context.Context, team string) ([]db.RosterEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []db.RosterEntry
	for _, e := range s.roster {
		if e.Team == team {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

func (s *MemoryStore) CreateIncident(_ context.Context, inc *db.Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if inc.ID == "" {
		inc.ID = uuid.New().String()
	}
	if inc.CreatedAt.IsZero() {
		inc.CreatedAt = s.now()
	}
	if inc.Status == "" {
		inc.Status = db.IncidentStatusPending
	}
	s.incidents[inc.ID] = *inc
	return nil
}

func (s *MemoryStore) GetIncident(_ context.Context, id string) (*db.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inc, ok := s.incidents[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &inc, nil
}

func (s *MemoryStore) TransitionIncident(_ context.Context, id string, to db.IncidentStatus, at time.Time) (*db.Incident, error) {
	if err := validTarget(to); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	inc, ok := s.incidents[id]
	if !ok {
		return nil, ErrNotFound
	}
	if err := applyTransition(&inc, to, at); err != nil {
		return nil, err
	}
	s.incidents[id] = inc
	return &inc, nil
}

func (s *MemoryStore) MarkReminded(_ context.Context, id string, at time.Time) (*db.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inc, ok := s.incidents[id]
	if !ok {
		return nil, ErrNotFound
	}
	if err := applyReminder(&inc, at); err != nil {
		return nil, err
	}
	s.incidents[id] = inc
	return &inc, nil
}

func (s *MemoryStore) ListPendingIncidents(_ context.Context) ([]db.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []db.Incident
	for _, inc := range s.incidents {
		if inc.Open() {
			out = append(out, inc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func copyUser(u db.User) *db.User {
	u.Roles = append(db.RoleSet(nil), u.Roles...)
	return &u
}

func sortUsers(users []db.User) {
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
}
