package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/phonginreallife/inres-oncall/authz"
	"github.com/phonginreallife/inres-oncall/db"
	"github.com/phonginreallife/inres-oncall/internal/apperr"
	"github.com/phonginreallife/inres-oncall/internal/observability"
	"github.com/phonginreallife/inres-oncall/store"
)

// RosterReplyKind tells the transport how to present a roster reply.
type RosterReplyKind int

const (
	// RosterReplyCalendar replaces the calendar message in place.
	RosterReplyCalendar RosterReplyKind = iota
	// RosterReplyWarning is a short alert on the pressed button; nothing changes.
	RosterReplyWarning
	// RosterReplyMembers is a new message listing team members.
	RosterReplyMembers
	// RosterReplyCommitted is the final summary; the session is gone.
	RosterReplyCommitted
)

type RosterReply struct {
	Kind     RosterReplyKind
	Text     string
	Keyboard [][]Button
}

// RosterService runs the roster wizard: pick dates, then primary, then secondary.
type RosterService struct {
	store    store.Store
	sessions SessionStore
	authz    authz.Authorizer
	logger   *zap.Logger
	metrics  *observability.Metrics

	now func() time.Time
	loc *time.Location
}

func NewRosterService(st store.Store, sessions SessionStore, az authz.Authorizer, logger *zap.Logger, metrics *observability.Metrics) *RosterService {
	return &RosterService{
		store:    st,
		sessions: sessions,
		authz:    az,
		logger:   observability.OrNop(logger),
		metrics:  metrics,
		now:      time.Now,
		loc:      time.UTC,
	}
}

// SetClock overrides the time source and the zone used to pick the starting month.
func (s *RosterService) SetClock(now func() time.Time, loc *time.Location) {
	s.now = now
	if loc != nil {
		s.loc = loc
	}
}

// lookupActor returns nil for unknown actors so they are treated as having no roles.
func lookupActor(ctx context.Context, st store.Store, id int64) (*db.User, error) {
	u, err := st.GetUser(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Store(err, "Error loading user")
	}
	return u, nil
}

// Start opens a fresh session for the actor, silently replacing any previous one.
func (s *RosterService) Start(ctx context.Context, actorID int64) (*RosterReply, error) {
	actor, err := lookupActor(ctx, s.store, actorID)
	if err != nil {
		return nil, err
	}
	if err := s.authz.Authorize(actorID, actor, authz.ActionSetRoster).Err(); err != nil {
		return nil, err
	}
	if actor.Team == "" {
		return nil, apperr.Precondition("You are not assigned to any team.")
	}

	now := s.now().In(s.loc)
	sess := RosterSession{
		ActorID:   actorID,
		Team:      actor.Team,
		Year:      now.Year(),
		Month:     now.Month(),
		Step:      StepSelectDates,
		StartedAt: now,
	}
	if err := s.sessions.Put(ctx, sess); err != nil {
		return nil, apperr.Store(err, "Error starting roster")
	}
	s.logger.Info("roster session started", zap.Int64("actor_id", actorID), zap.String("team", actor.Team))
	return calendarReply(sess), nil
}

// HandleCallback applies a button press to the actor's session. handled is false
// when the actor has no session or the press does not belong to the current step,
// so the caller can offer it to other handlers.
func (s *RosterService) HandleCallback(ctx context.Context, actorID int64, cb Callback) (reply *RosterReply, handled bool, err error) {
	switch cb.Kind {
	case CallbackSelectDate, CallbackPrevMonth, CallbackNextMonth, CallbackConfirmDates, CallbackSelectMember:
	default:
		return nil, false, nil
	}

	var transition Transition
	var snapshot RosterSession
	found, err := s.sessions.Update(ctx, actorID, func(sess *RosterSession) bool {
		transition = sess.Apply(cb)
		snapshot = sess.Clone()
		return transition != TransitionCommit
	})
	if err != nil {
		return nil, true, apperr.Store(err, "Error updating roster session")
	}
	if !found || transition == TransitionIgnored {
		return nil, false, nil
	}

	switch transition {
	case TransitionRender:
		return calendarReply(snapshot), true, nil
	case TransitionEmptySelection:
		return &RosterReply{Kind: RosterReplyWarning, Text: "Please select at least one date."}, true, nil
	case TransitionPromptPrimary:
		reply, err := s.memberPrompt(ctx, snapshot.Team, "👤 Select primary on-call for %s:")
		return reply, true, err
	case TransitionPromptSecondary:
		reply, err := s.memberPrompt(ctx, snapshot.Team, "👥 Select secondary on-call for %s:")
		return reply, true, err
	case TransitionCommit:
		reply, err := s.commit(ctx, snapshot)
		return reply, true, err
	}
	return nil, false, nil
}

// Cancel drops the actor's session. found is false when there was none.
func (s *RosterService) Cancel(ctx context.Context, actorID int64) (found bool, err error) {
	found, err = s.sessions.Update(ctx, actorID, func(*RosterSession) bool { return false })
	if err != nil {
		return false, apperr.Store(err, "Error cancelling roster")
	}
	if found {
		s.logger.Info("roster setup cancelled", zap.Int64("actor_id", actorID))
	}
	return found, nil
}

func calendarReply(sess RosterSession) *RosterReply {
	grid := BuildCalendar(sess.Year, sess.Month, sess.Selected())
	text := fmt.Sprintf("📅 Select dates for %s roster:", sess.Team)
	if len(sess.Dates) > 0 {
		text += "\nSelected: " + strings.Join(sess.Dates, ", ")
	}
	return &RosterReply{Kind: RosterReplyCalendar, Text: text, Keyboard: grid.Keyboard()}
}

func (s *RosterService) memberPrompt(ctx context.Context, team, format string) (*RosterReply, error) {
	members, err := s.store.ListTeamMembers(ctx, team)
	if err != nil {
		return nil, apperr.Store(err, "Error loading team members")
	}
	keyboard := make([][]Button, 0, len(members))
	for _, m := range members {
		keyboard = append(keyboard, []Button{{Text: m.DisplayName(), Data: SelectMemberToken(m.ID)}})
	}
	if len(keyboard) == 0 {
		keyboard = append(keyboard, []Button{{Text: "No team members found", Data: NoopToken()}})
	}
	return &RosterReply{Kind: RosterReplyMembers, Text: fmt.Sprintf(format, team), Keyboard: keyboard}, nil
}

// commit runs after the session is already destroyed, so a failure here is final.
func (s *RosterService) commit(ctx context.Context, sess RosterSession) (*RosterReply, error) {
	entries := make([]db.RosterEntry, len(sess.Dates))
	for i, date := range sess.Dates {
		entries[i] = db.RosterEntry{
			Team:        sess.Team,
			Date:        date,
			PrimaryID:   sess.PrimaryID,
			SecondaryID: sess.SecondaryID,
			CreatedBy:   sess.ActorID,
		}
	}
	if err := s.store.UpsertRosterEntries(ctx, entries...); err != nil {
		s.logger.Error("roster commit failed", zap.String("team", sess.Team), zap.Error(err))
		return nil, apperr.Store(err, "Error setting roster")
	}
	s.metrics.RosterWritten(sess.Team, len(entries))

	primary := s.nameOf(ctx, sess.PrimaryID)
	secondary := s.nameOf(ctx, sess.SecondaryID)
	s.logger.Info("roster committed",
		zap.String("team", sess.Team),
		zap.Strings("dates", sess.Dates),
		zap.Int64("primary_id", sess.PrimaryID),
		zap.Int64("secondary_id", sess.SecondaryID))

	text := fmt.Sprintf("✅ Roster set for %s:\nDates: %s\nPrimary: %s\nSecondary: %s",
		sess.Team, strings.Join(sess.Dates, ", "), primary, secondary)
	return &RosterReply{Kind: RosterReplyCommitted, Text: text}, nil
}

func (s *RosterService) nameOf(ctx context.Context, id int64) string {
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		return (&db.User{ID: id}).DisplayName()
	}
	return u.DisplayName()
}
