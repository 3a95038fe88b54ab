package store

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phonginreallife/inres-oncall/db"
)

var fixedNow = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

func newMockStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	s := NewSQLStore(conn, DialectPostgres)
	s.now = func() time.Time { return fixedNow }
	return s, mock
}

func TestSQLStore_Placeholders(t *testing.T) {
	pg := NewSQLStore(nil, DialectPostgres)
	lite := NewSQLStore(nil, DialectSQLite)

	query := "SELECT * FROM users WHERE id = $1 AND team = $12"
	assert.Equal(t, query, pg.q(query))
	assert.Equal(t, "SELECT * FROM users WHERE id = ?1 AND team = ?12", lite.q(query))
}

func TestSQLStore_GetUser(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		id       int64
		mockFunc func()
		want     *db.User
		wantErr  error
	}{
		{
			name: "user with roles",
			id:   42,
			mockFunc: func() {
				mock.ExpectQuery("SELECT u.id, u.full_name").
					WithArgs(int64(42)).
					WillReturnRows(sqlmock.NewRows([]string{"id", "full_name", "phone", "team", "verified", "created_at", "updated_at"}).
						AddRow(42, "Asha Rao", "+911234567890", "linux", true, fixedNow, fixedNow))
				mock.ExpectQuery("SELECT role FROM user_roles").
					WithArgs(int64(42)).
					WillReturnRows(sqlmock.NewRows([]string{"role"}).AddRow("lead").AddRow("user"))
			},
			want: &db.User{
				ID: 42, FullName: "Asha Rao", Phone: "+911234567890", Team: "linux", Verified: true,
				Roles: db.RoleSet{db.RoleLead, db.RoleUser}, CreatedAt: fixedNow, UpdatedAt: fixedNow,
			},
		},
		{
			name: "unknown user",
			id:   7,
			mockFunc: func() {
				mock.ExpectQuery("SELECT u.id, u.full_name").
					WithArgs(int64(7)).
					WillReturnRows(sqlmock.NewRows([]string{"id"}))
			},
			wantErr: ErrNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.mockFunc()
			got, err := s.GetUser(ctx, tt.id)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestSQLStore_UpsertUserMergesRole(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO users")).
		WithArgs(int64(42), "Asha Rao", "+911234567890", "linux", true, fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO user_roles")).
		WithArgs(int64(42), "lead").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT u.id, u.full_name").
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "full_name", "phone", "team", "verified", "created_at", "updated_at"}).
			AddRow(42, "Asha Rao", "+911234567890", "linux", true, fixedNow, fixedNow))
	mock.ExpectQuery("SELECT role FROM user_roles").
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"role"}).AddRow("lead").AddRow("user"))
	mock.ExpectCommit()

	u, err := s.UpsertUser(context.Background(), db.UserUpsert{
		ID: 42, FullName: "Asha Rao", Phone: "+911234567890", Team: "linux", Role: db.RoleLead, Verified: true,
	})
	require.NoError(t, err)
	assert.Equal(t, db.RoleSet{db.RoleLead, db.RoleUser}, u.Roles)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_UpsertRosterEntriesRollsBackOnFailure(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO roster_entries")).
		WithArgs("linux", "2025-03-01", int64(1), int64(2), int64(9), fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO roster_entries")).
		WithArgs("linux", "2025-03-02", int64(1), int64(2), int64(9), fixedNow).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := s.UpsertRosterEntries(context.Background(),
		db.RosterEntry{Team: "linux", Date: "2025-03-01", PrimaryID: 1, SecondaryID: 2, CreatedBy: 9},
		db.RosterEntry{Team: "linux", Date: "2025-03-02", PrimaryID: 1, SecondaryID: 2, CreatedBy: 9},
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_TransitionIncident(t *testing.T) {
	incidentRow := func(status string, ack bool) *sqlmock.Rows {
		return sqlmock.NewRows([]string{"id", "team", "issue", "primary_id", "secondary_id", "lead_id", "reporter_id",
			"chat_id", "status", "acknowledged", "created_at", "acknowledged_at", "escalated_at", "reminded_at"}).
			AddRow("inc-1", "linux", "disk full", 1, 2, 3, 4, -100, status, ack, fixedNow, nil, nil, nil)
	}

	tests := []struct {
		name     string
		to       db.IncidentStatus
		mockFunc func(mock sqlmock.Sqlmock)
		wantErr  error
	}{
		{
			name: "escalation wins",
			to:   db.IncidentStatusEscalated,
			mockFunc: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(regexp.QuoteMeta("UPDATE critical_incidents")).
					WithArgs("escalated", false, nil, fixedNow, "inc-1", "pending", false).
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectQuery("SELECT id, team, issue").
					WithArgs("inc-1").
					WillReturnRows(incidentRow("escalated", false))
			},
		},
		{
			name: "acknowledge loses to escalation",
			to:   db.IncidentStatusResponded,
			mockFunc: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(regexp.QuoteMeta("UPDATE critical_incidents")).
					WithArgs("responded", true, fixedNow, nil, "inc-1", "pending", false).
					WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectQuery("SELECT id, team, issue").
					WithArgs("inc-1").
					WillReturnRows(incidentRow("escalated", false))
			},
			wantErr: ErrConflict,
		},
		{
			name: "missing incident",
			to:   db.IncidentStatusEscalated,
			mockFunc: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(regexp.QuoteMeta("UPDATE critical_incidents")).
					WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectQuery("SELECT id, team, issue").
					WithArgs("inc-1").
					WillReturnRows(sqlmock.NewRows([]string{"id"}))
			},
			wantErr: ErrNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStore(t)
			tt.mockFunc(mock)

			inc, err := s.TransitionIncident(context.Background(), "inc-1", tt.to, fixedNow)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, inc)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.to, inc.Status)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestSQLStore_MarkReminded(t *testing.T) {
	remindedRow := func(at any) *sqlmock.Rows {
		return sqlmock.NewRows([]string{"id", "team", "issue", "primary_id", "secondary_id", "lead_id", "reporter_id",
			"chat_id", "status", "acknowledged", "created_at", "acknowledged_at", "escalated_at", "reminded_at"}).
			AddRow("inc-1", "linux", "disk full", 1, 2, 3, 4, -100, "pending", false, fixedNow, nil, nil, at)
	}

	tests := []struct {
		name     string
		mockFunc func(mock sqlmock.Sqlmock)
		wantErr  error
	}{
		{
			name: "first reminder is recorded",
			mockFunc: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(regexp.QuoteMeta("SET reminded_at = $1")).
					WithArgs(fixedNow, "inc-1", "pending", false).
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectQuery("SELECT id, team, issue").
					WithArgs("inc-1").
					WillReturnRows(remindedRow(fixedNow))
			},
		},
		{
			name: "already reminded",
			mockFunc: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(regexp.QuoteMeta("reminded_at IS NULL")).
					WithArgs(fixedNow, "inc-1", "pending", false).
					WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectQuery("SELECT id, team, issue").
					WithArgs("inc-1").
					WillReturnRows(remindedRow(fixedNow.Add(-time.Minute)))
			},
			wantErr: ErrConflict,
		},
		{
			name: "missing incident",
			mockFunc: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(regexp.QuoteMeta("UPDATE critical_incidents")).
					WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectQuery("SELECT id, team, issue").
					WithArgs("inc-1").
					WillReturnRows(sqlmock.NewRows([]string{"id"}))
			},
			wantErr: ErrNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStore(t)
			tt.mockFunc(mock)

			inc, err := s.MarkReminded(context.Background(), "inc-1", fixedNow)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, inc)
			} else {
				require.NoError(t, err)
				require.NotNil(t, inc.RemindedAt)
				assert.Equal(t, fixedNow, *inc.RemindedAt)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestSQLStore_TransitionRejectsPending(t *testing.T) {
	s, mock := newMockStore(t)
	_, err := s.TransitionIncident(context.Background(), "inc-1", db.IncidentStatusPending, fixedNow)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func openSQLiteStore(t *testing.T) *SQLStore {
	t.Helper()
	ctx := context.Background()
	conn, err := OpenSQL(ctx, DialectSQLite, filepath.Join(t.TempDir(), "oncall.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, Migrate(ctx, conn))
	return NewSQLStore(conn, DialectSQLite)
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	s := openSQLiteStore(t)
	ctx := context.Background()

	_, err := s.UpsertUser(ctx, db.UserUpsert{ID: 1, FullName: "Lead One", Phone: "+1000", Team: "linux", Role: db.RoleLead, Verified: true})
	require.NoError(t, err)
	_, err = s.UpsertUser(ctx, db.UserUpsert{ID: 1, Role: db.RoleUser})
	require.NoError(t, err)
	_, err = s.UpsertUser(ctx, db.UserUpsert{ID: 2, FullName: "Member Two", Phone: "+2000", Team: "linux", Role: db.RoleUser})
	require.NoError(t, err)

	lead, err := s.GetTeamLead(ctx, "linux")
	require.NoError(t, err)
	assert.Equal(t, int64(1), lead.ID)
	assert.Equal(t, "Lead One", lead.FullName, "empty fields keep stored values")
	assert.Equal(t, db.RoleSet{db.RoleLead, db.RoleUser}, lead.Roles)

	members, err := s.ListTeamMembers(ctx, "linux")
	require.NoError(t, err)
	require.Len(t, members, 2)

	require.NoError(t, s.UpsertRosterEntries(ctx,
		db.RosterEntry{Team: "linux", Date: "2025-03-02", PrimaryID: 2, SecondaryID: 1},
		db.RosterEntry{Team: "linux", Date: "2025-03-01", PrimaryID: 1, SecondaryID: 2},
	))
	require.NoError(t, s.UpsertRosterEntries(ctx,
		db.RosterEntry{Team: "linux", Date: "2025-03-01", PrimaryID: 2, SecondaryID: 1},
	))
	roster, err := s.ListTeamRoster(ctx, "linux")
	require.NoError(t, err)
	require.Len(t, roster, 2)
	assert.Equal(t, "2025-03-01", roster[0].Date)
	assert.Equal(t, int64(2), roster[0].PrimaryID, "last write wins")
}

func TestSQLiteStore_IncidentRaceHasOneWinner(t *testing.T) {
	s := openSQLiteStore(t)
	ctx := context.Background()

	inc := &db.Incident{Team: "linux", Issue: "db down", PrimaryID: 1, SecondaryID: 2, LeadID: 3, ChatID: -100}
	require.NoError(t, s.CreateIncident(ctx, inc))
	require.NotEmpty(t, inc.ID)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i, to := range []db.IncidentStatus{db.IncidentStatusResponded, db.IncidentStatusEscalated} {
		wg.Add(1)
		go func(i int, to db.IncidentStatus) {
			defer wg.Done()
			_, results[i] = s.TransitionIncident(ctx, inc.ID, to, time.Now())
		}(i, to)
	}
	wg.Wait()

	wins := 0
	for _, err := range results {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, ErrConflict)
		}
	}
	assert.Equal(t, 1, wins)

	final, err := s.GetIncident(ctx, inc.ID)
	require.NoError(t, err)
	assert.True(t, final.Status.Terminal())
	assert.Equal(t, final.Status == db.IncidentStatusResponded, final.Acknowledged)

	pending, err := s.ListPendingIncidents(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestSQLiteStore_ReminderRecordedOnce(t *testing.T) {
	s := openSQLiteStore(t)
	ctx := context.Background()

	inc := &db.Incident{Team: "linux", Issue: "db down", PrimaryID: 1, SecondaryID: 2, LeadID: 3, ChatID: -100}
	require.NoError(t, s.CreateIncident(ctx, inc))

	got, err := s.MarkReminded(ctx, inc.ID, fixedNow)
	require.NoError(t, err)
	require.NotNil(t, got.RemindedAt)
	assert.True(t, fixedNow.Equal(*got.RemindedAt))

	_, err = s.MarkReminded(ctx, inc.ID, fixedNow)
	assert.ErrorIs(t, err, ErrConflict)

	pending, err := s.ListPendingIncidents(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.True(t, pending[0].Reminded(), "reminder survives a reload")
}
