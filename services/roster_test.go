package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phonginreallife/inres-oncall/authz"
	"github.com/phonginreallife/inres-oncall/db"
	"github.com/phonginreallife/inres-oncall/internal/apperr"
	"github.com/phonginreallife/inres-oncall/store"
)

const superAdminID int64 = 1

type failingRosterStore struct {
	*store.MemoryStore
}

func (f failingRosterStore) UpsertRosterEntries(context.Context, ...db.RosterEntry) error {
	return errors.New("disk full")
}

func seedRosterUsers(t *testing.T, st store.Store) {
	t.Helper()
	for _, u := range []db.UserUpsert{
		{ID: leadID, FullName: "Lena Lead", Phone: "+10", Team: "linux", Role: db.RoleLead},
		{ID: primaryID, FullName: "Priya Primary", Phone: "+11", Team: "linux", Role: db.RoleUser},
		{ID: secondaryID, FullName: "Sam Secondary", Phone: "+12", Team: "linux", Role: db.RoleUser},
		{ID: 20, FullName: "Ada Admin", Team: "linux", Role: db.RoleAdmin},
		{ID: 21, FullName: "Teamless Lead", Role: db.RoleLead},
	} {
		_, err := st.UpsertUser(context.Background(), u)
		require.NoError(t, err)
	}
	// admin who is also a lead
	_, err := st.UpsertUser(context.Background(), db.UserUpsert{ID: 20, Role: db.RoleLead})
	require.NoError(t, err)
}

func newRosterFixture(t *testing.T, st store.Store) (*RosterService, *MemorySessionStore) {
	t.Helper()
	seedRosterUsers(t, st)
	sessions := NewMemorySessionStore()
	svc := NewRosterService(st, sessions, authz.NewGate(superAdminID), nil, nil)
	svc.SetClock(func() time.Time { return reportTime }, time.UTC)
	return svc, sessions
}

func press(t *testing.T, svc *RosterService, actorID int64, token string) (*RosterReply, bool, error) {
	t.Helper()
	cb, err := ParseCallback(token)
	require.NoError(t, err)
	return svc.HandleCallback(context.Background(), actorID, cb)
}

func TestRosterStart_Gates(t *testing.T) {
	tests := []struct {
		name    string
		actorID int64
		kind    apperr.Kind
		message string
	}{
		{"unknown actor", 404, apperr.KindAuthorization, "Only leads can set rosters."},
		{"plain user", primaryID, apperr.KindAuthorization, "Only leads can set rosters."},
		{"admin who is also lead", 20, apperr.KindAuthorization, "Admins cannot set rosters. Please use a lead account."},
		{"lead without team", 21, apperr.KindPrecondition, "You are not assigned to any team."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, sessions := newRosterFixture(t, store.NewMemoryStore())
			reply, err := svc.Start(context.Background(), tt.actorID)
			require.Error(t, err)
			assert.Nil(t, reply)
			assert.Equal(t, tt.kind, apperr.KindOf(err))
			assert.Equal(t, tt.message, err.Error())

			sess, err := sessions.Get(context.Background(), tt.actorID)
			require.NoError(t, err)
			assert.Nil(t, sess, "no session is created on rejection")
		})
	}
}

func TestRosterStart_OpensCurrentMonth(t *testing.T) {
	svc, sessions := newRosterFixture(t, store.NewMemoryStore())
	reply, err := svc.Start(context.Background(), leadID)
	require.NoError(t, err)

	assert.Equal(t, RosterReplyCalendar, reply.Kind)
	assert.Equal(t, "📅 Select dates for linux roster:", reply.Text)
	assert.Equal(t, "March 2025", reply.Keyboard[0][0].Text)

	sess, err := sessions.Get(context.Background(), leadID)
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, StepSelectDates, sess.Step)
	assert.Equal(t, 2025, sess.Year)
	assert.Equal(t, time.March, sess.Month)
	assert.Empty(t, sess.Dates)
}

func TestRoster_FullFlowWritesEveryDate(t *testing.T) {
	st := store.NewMemoryStore()
	svc, sessions := newRosterFixture(t, st)
	ctx := context.Background()
	_, err := svc.Start(ctx, leadID)
	require.NoError(t, err)

	reply, handled, err := press(t, svc, leadID, "select_date:2025-03-20")
	require.NoError(t, err)
	require.True(t, handled)
	assert.Equal(t, RosterReplyCalendar, reply.Kind)

	// move to April and pick a date there; the March pick survives
	_, _, err = press(t, svc, leadID, "next_month:2025:4")
	require.NoError(t, err)
	reply, _, err = press(t, svc, leadID, "select_date:2025-04-02")
	require.NoError(t, err)
	assert.Equal(t, "April 2025", reply.Keyboard[0][0].Text)
	assert.Contains(t, reply.Text, "Selected: 2025-03-20, 2025-04-02")

	reply, _, err = press(t, svc, leadID, "confirm_dates")
	require.NoError(t, err)
	assert.Equal(t, RosterReplyMembers, reply.Kind)
	assert.Equal(t, "👤 Select primary on-call for linux:", reply.Text)
	assert.Len(t, reply.Keyboard, 4, "one button per team member")

	reply, _, err = press(t, svc, leadID, SelectMemberToken(primaryID))
	require.NoError(t, err)
	assert.Equal(t, "👥 Select secondary on-call for linux:", reply.Text)

	reply, handled, err = press(t, svc, leadID, SelectMemberToken(secondaryID))
	require.NoError(t, err)
	require.True(t, handled)
	assert.Equal(t, RosterReplyCommitted, reply.Kind)
	assert.Equal(t, "✅ Roster set for linux:\nDates: 2025-03-20, 2025-04-02\nPrimary: Priya Primary\nSecondary: Sam Secondary", reply.Text)

	entries, err := st.ListTeamRoster(ctx, "linux")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for i, date := range []string{"2025-03-20", "2025-04-02"} {
		assert.Equal(t, date, entries[i].Date)
		assert.Equal(t, primaryID, entries[i].PrimaryID)
		assert.Equal(t, secondaryID, entries[i].SecondaryID)
		assert.Equal(t, leadID, entries[i].CreatedBy)
	}

	sess, err := sessions.Get(ctx, leadID)
	require.NoError(t, err)
	assert.Nil(t, sess, "session is destroyed after commit")
}

func TestRoster_ConfirmWithoutDatesWarns(t *testing.T) {
	svc, sessions := newRosterFixture(t, store.NewMemoryStore())
	_, err := svc.Start(context.Background(), leadID)
	require.NoError(t, err)

	reply, handled, err := press(t, svc, leadID, "confirm_dates")
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, RosterReplyWarning, reply.Kind)
	assert.Equal(t, "Please select at least one date.", reply.Text)

	sess, _ := sessions.Get(context.Background(), leadID)
	require.NotNil(t, sess)
	assert.Equal(t, StepSelectDates, sess.Step)
}

func TestRoster_UnhandledPresses(t *testing.T) {
	svc, _ := newRosterFixture(t, store.NewMemoryStore())
	ctx := context.Background()

	_, handled, err := press(t, svc, leadID, "select_date:2025-03-20")
	require.NoError(t, err)
	assert.False(t, handled, "no session yet")

	_, err = svc.Start(ctx, leadID)
	require.NoError(t, err)

	_, handled, err = press(t, svc, leadID, SelectMemberToken(primaryID))
	require.NoError(t, err)
	assert.False(t, handled, "member pick before dates are confirmed")

	_, handled, err = press(t, svc, leadID, "ack:abc")
	require.NoError(t, err)
	assert.False(t, handled, "acknowledgments are not roster events")

	_, _, _ = press(t, svc, leadID, "select_date:2025-03-20")
	_, _, _ = press(t, svc, leadID, "confirm_dates")
	_, handled, err = press(t, svc, leadID, "select_date:2025-03-21")
	require.NoError(t, err)
	assert.False(t, handled, "date press after confirmation")
}

func TestRoster_RestartDiscardsProgress(t *testing.T) {
	svc, sessions := newRosterFixture(t, store.NewMemoryStore())
	ctx := context.Background()
	_, err := svc.Start(ctx, leadID)
	require.NoError(t, err)
	_, _, err = press(t, svc, leadID, "select_date:2025-03-20")
	require.NoError(t, err)

	_, err = svc.Start(ctx, leadID)
	require.NoError(t, err)
	sess, _ := sessions.Get(ctx, leadID)
	require.NotNil(t, sess)
	assert.Empty(t, sess.Dates)

	found, err := svc.Cancel(ctx, leadID)
	require.NoError(t, err)
	assert.True(t, found)
	sess, _ = sessions.Get(ctx, leadID)
	assert.Nil(t, sess)

	found, err = svc.Cancel(ctx, leadID)
	require.NoError(t, err)
	assert.False(t, found, "nothing left to cancel")
}

func TestRoster_CommitFailureEndsSession(t *testing.T) {
	st := failingRosterStore{store.NewMemoryStore()}
	svc, sessions := newRosterFixture(t, st)
	ctx := context.Background()
	_, err := svc.Start(ctx, leadID)
	require.NoError(t, err)
	for _, token := range []string{"select_date:2025-03-20", "confirm_dates", SelectMemberToken(primaryID)} {
		_, _, err := press(t, svc, leadID, token)
		require.NoError(t, err)
	}

	reply, handled, err := press(t, svc, leadID, SelectMemberToken(secondaryID))
	assert.True(t, handled)
	assert.Nil(t, reply)
	require.Error(t, err)
	assert.Equal(t, apperr.KindStore, apperr.KindOf(err))
	assert.Equal(t, "Error setting roster: disk full", err.Error())

	sess, _ := sessions.Get(ctx, leadID)
	assert.Nil(t, sess)
}
