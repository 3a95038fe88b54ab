package services

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/phonginreallife/inres-oncall/authz"
	"github.com/phonginreallife/inres-oncall/db"
	"github.com/phonginreallife/inres-oncall/internal/apperr"
	"github.com/phonginreallife/inres-oncall/internal/observability"
	"github.com/phonginreallife/inres-oncall/store"
)

// RosterLine is a roster entry with its people resolved. Either user may be a
// placeholder when the record is gone.
type RosterLine struct {
	Entry     db.RosterEntry
	Primary   *db.User
	Secondary *db.User
}

// DirectoryService registers actors, grants roles and answers roster lookups.
type DirectoryService struct {
	store  store.Store
	authz  authz.Authorizer
	logger *zap.Logger

	now func() time.Time
	loc *time.Location
}

func NewDirectoryService(st store.Store, az authz.Authorizer, logger *zap.Logger) *DirectoryService {
	return &DirectoryService{
		store:  st,
		authz:  az,
		logger: observability.OrNop(logger),
		now:    time.Now,
		loc:    time.UTC,
	}
}

// SetClock overrides the time source and the zone that decides "today".
func (s *DirectoryService) SetClock(now func() time.Time, loc *time.Location) {
	s.now = now
	if loc != nil {
		s.loc = loc
	}
}

// Today is the current roster date.
func (s *DirectoryService) Today() string {
	return s.now().In(s.loc).Format(db.RosterDateLayout)
}

// Register returns the actor's record, creating an unverified one on first
// contact. created reports whether this call created it.
func (s *DirectoryService) Register(ctx context.Context, actorID int64) (user *db.User, created bool, err error) {
	user, err = lookupActor(ctx, s.store, actorID)
	if err != nil {
		return nil, false, err
	}
	if user != nil {
		return user, false, nil
	}
	user, err = s.store.UpsertUser(ctx, db.UserUpsert{ID: actorID})
	if err != nil {
		return nil, false, apperr.Store(err, "Error registering user")
	}
	s.logger.Info("join request recorded", zap.Int64("actor_id", actorID))
	return user, true, nil
}

// AdminsAndLeads lists everyone who should hear about join requests.
func (s *DirectoryService) AdminsAndLeads(ctx context.Context) ([]db.User, error) {
	users, err := s.store.ListAdminsAndLeads(ctx)
	if err != nil {
		return nil, apperr.Store(err, "Error loading admins and leads")
	}
	return users, nil
}

var grantActions = map[db.Role]authz.Action{
	db.RoleAdmin: authz.ActionSetAdmin,
	db.RoleLead:  authz.ActionSetLead,
	db.RoleUser:  authz.ActionAddUser,
}

// Grant adds in.Role to the target after checking the actor may hand it out.
// The target is marked verified; existing roles are kept.
func (s *DirectoryService) Grant(ctx context.Context, actorID int64, in db.UserUpsert) (*db.User, error) {
	action, ok := grantActions[in.Role]
	if !ok {
		return nil, apperr.Validation("Unknown role %q.", in.Role)
	}
	actor, err := lookupActor(ctx, s.store, actorID)
	if err != nil {
		return nil, err
	}
	if err := s.authz.Authorize(actorID, actor, action).Err(); err != nil {
		return nil, err
	}

	in.Verified = true
	user, err := s.store.UpsertUser(ctx, in)
	if err != nil {
		return nil, apperr.Store(err, "Error saving user")
	}
	s.logger.Info("role granted",
		zap.Int64("actor_id", actorID),
		zap.Int64("user_id", user.ID),
		zap.String("role", string(in.Role)),
		zap.String("team", user.Team))
	return user, nil
}

// User returns a record for an admin or lead.
func (s *DirectoryService) User(ctx context.Context, actorID, targetID int64) (*db.User, error) {
	if err := s.Authorize(ctx, actorID, authz.ActionViewRoles); err != nil {
		return nil, err
	}
	u, err := s.store.GetUser(ctx, targetID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("No user found with Telegram ID: %d", targetID)
	}
	if err != nil {
		return nil, apperr.Store(err, "Error loading user")
	}
	return u, nil
}

// TeamMembers lists a team for an admin or lead.
func (s *DirectoryService) TeamMembers(ctx context.Context, actorID int64, team string) ([]db.User, error) {
	if err := s.Authorize(ctx, actorID, authz.ActionViewRoles); err != nil {
		return nil, err
	}
	members, err := s.store.ListTeamMembers(ctx, team)
	if err != nil {
		return nil, apperr.Store(err, "Error loading team members")
	}
	if len(members) == 0 {
		return nil, apperr.NotFound("No members found for team %s.", team)
	}
	return members, nil
}

// TeamRoster returns every roster entry of the team ordered by date.
func (s *DirectoryService) TeamRoster(ctx context.Context, team string) ([]RosterLine, error) {
	entries, err := s.store.ListTeamRoster(ctx, team)
	if err != nil {
		return nil, apperr.Store(err, "Error loading roster")
	}
	if len(entries) == 0 {
		return nil, apperr.NotFound("No roster found for %s.", team)
	}
	lines := make([]RosterLine, len(entries))
	for i, e := range entries {
		lines[i] = s.resolve(ctx, e)
	}
	return lines, nil
}

// TodayRoster returns the team's entry for the current date.
func (s *DirectoryService) TodayRoster(ctx context.Context, team string) (*RosterLine, error) {
	e, err := s.store.GetRosterEntry(ctx, team, s.Today())
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("No roster found for %s today.", team)
	}
	if err != nil {
		return nil, apperr.Store(err, "Error loading roster")
	}
	line := s.resolve(ctx, *e)
	return &line, nil
}

func (s *DirectoryService) resolve(ctx context.Context, e db.RosterEntry) RosterLine {
	return RosterLine{Entry: e, Primary: s.userOrPlaceholder(ctx, e.PrimaryID), Secondary: s.userOrPlaceholder(ctx, e.SecondaryID)}
}

func (s *DirectoryService) userOrPlaceholder(ctx context.Context, id int64) *db.User {
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		return &db.User{ID: id}
	}
	return u
}

// Authorize loads the actor and checks action against it.
func (s *DirectoryService) Authorize(ctx context.Context, actorID int64, action authz.Action) error {
	actor, err := lookupActor(ctx, s.store, actorID)
	if err != nil {
		return err
	}
	return s.authz.Authorize(actorID, actor, action).Err()
}

// Incident returns an incident for an admin or lead.
func (s *DirectoryService) Incident(ctx context.Context, actorID int64, id string) (*db.Incident, error) {
	if err := s.Authorize(ctx, actorID, authz.ActionViewIncidents); err != nil {
		return nil, err
	}
	inc, err := s.store.GetIncident(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("Incident not found.")
	}
	if err != nil {
		return nil, apperr.Store(err, "Error loading incident")
	}
	return inc, nil
}
