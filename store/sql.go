package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/phonginreallife/inres-oncall/db"
)

//go:embed schema.sql
var Schema string

// Dialect selects placeholder syntax for the underlying driver.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// OpenSQL opens a postgres or sqlite database and verifies the connection.
func OpenSQL(ctx context.Context, dialect Dialect, dsn string) (*sql.DB, error) {
	driver := string(dialect)
	if dialect == DialectSQLite {
		if dir := filepath.Dir(dsn); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
			}
		}
		dsn = fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", dsn)
	}
	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", dialect, err)
	}
	if dialect == DialectSQLite {
		// a single writer avoids SQLITE_BUSY on concurrent transactions
		conn.SetMaxOpenConns(1)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", dialect, err)
	}
	return conn, nil
}

// Migrate applies the embedded schema. Statements are idempotent.
func Migrate(ctx context.Context, conn *sql.DB) error {
	for _, stmt := range strings.Split(Schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// SQLStore implements Store on database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// Ensure SQLStore implements Store
var _ Store = (*SQLStore)(nil)

func NewSQLStore(conn *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: conn, dialect: dialect, now: time.Now}
}

var placeholderRe = regexp.MustCompile(`\$(\d+)`)

// q rewrites $N placeholders to SQLite's ?N form.
func (s *SQLStore) q(query string) string {
	if s.dialect == DialectSQLite {
		return placeholderRe.ReplaceAllString(query, "?$1")
	}
	return query
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const userColumns = `u.id, u.full_name, u.phone, u.team, u.verified, u.created_at, u.updated_at`

func (s *SQLStore) GetUser(ctx context.Context, id int64) (*db.User, error) {
	return s.getUser(ctx, s.db, id)
}

func (s *SQLStore) getUser(ctx context.Context, q queryer, id int64) (*db.User, error) {
	var u db.User
	err := q.QueryRowContext(ctx, s.q(`
		SELECT `+userColumns+`
		FROM users u
		WHERE u.id = $1
	`), id).Scan(&u.ID, &u.FullName, &u.Phone, &u.Team, &u.Verified, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	rows, err := q.QueryContext(ctx, s.q(`SELECT role FROM user_roles WHERE user_id = $1 ORDER BY role`), id)
	if err != nil {
		return nil, fmt.Errorf("failed to get user roles: %w", err)
	}
	defer rows.Close()
	var roles []string
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, fmt.Errorf("failed to scan user role: %w", err)
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read user roles: %w", err)
	}
	u.Roles = db.RoleSetFromStrings(roles)
	return &u, nil
}

// UpsertUser merges non-empty fields in SQL so concurrent grants never drop each other's roles.
func (s *SQLStore) UpsertUser(ctx context.Context, in db.UserUpsert) (*db.User, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := s.now().UTC()
	_, err = tx.ExecContext(ctx, s.q(`
		INSERT INTO users (id, full_name, phone, team, verified, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (id) DO UPDATE SET
			full_name = CASE WHEN excluded.full_name <> '' THEN excluded.full_name ELSE users.full_name END,
			phone = CASE WHEN excluded.phone <> '' THEN excluded.phone ELSE users.phone END,
			team = CASE WHEN excluded.team <> '' THEN excluded.team ELSE users.team END,
			verified = users.verified OR excluded.verified,
			updated_at = excluded.updated_at
	`), in.ID, in.FullName, in.Phone, in.Team, in.Verified, now)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}

	if in.Role != "" {
		_, err = tx.ExecContext(ctx, s.q(`
			INSERT INTO user_roles (user_id, role) VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`), in.ID, string(in.Role))
		if err != nil {
			return nil, fmt.Errorf("failed to grant role: %w", err)
		}
	}

	u, err := s.getUser(ctx, tx, in.ID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit user: %w", err)
	}
	return u, nil
}

func (s *SQLStore) ListTeamMembers(ctx context.Context, team string) ([]db.User, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT `+userColumns+`, COALESCE(r.role, '')
		FROM users u
		LEFT JOIN user_roles r ON r.user_id = u.id
		WHERE u.team = $1
		ORDER BY u.id, r.role
	`), team)
	if err != nil {
		return nil, fmt.Errorf("failed to list team members: %w", err)
	}
	return scanUsersWithRoles(rows)
}

func (s *SQLStore) GetTeamLead(ctx context.Context, team string) (*db.User, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, s.q(`
		SELECT u.id
		FROM users u
		JOIN user_roles r ON r.user_id = u.id
		WHERE u.team = $1 AND r.role = $2
		ORDER BY u.id
		LIMIT 1
	`), team, string(db.RoleLead)).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get team lead: %w", err)
	}
	return s.GetUser(ctx, id)
}

func (s *SQLStore) ListAdminsAndLeads(ctx context.Context) ([]db.User, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT `+userColumns+`, COALESCE(r.role, '')
		FROM users u
		LEFT JOIN user_roles r ON r.user_id = u.id
		WHERE u.id IN (SELECT user_id FROM user_roles WHERE role IN ($1, $2))
		ORDER BY u.id, r.role
	`), string(db.RoleAdmin), string(db.RoleLead))
	if err != nil {
		return nil, fmt.Errorf("failed to list admins and leads: %w", err)
	}
	return scanUsersWithRoles(rows)
}

// scanUsersWithRoles folds one-row-per-role results ordered by user id.
func scanUsersWithRoles(rows *sql.Rows) ([]db.User, error) {
	defer rows.Close()
	var users []db.User
	for rows.Next() {
		var u db.User
		var role string
		if err := rows.Scan(&u.ID, &u.FullName, &u.Phone, &u.Team, &u.Verified, &u.CreatedAt, &u.UpdatedAt, &role); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		if n := len(users); n > 0 && users[n-1].ID == u.ID {
			users[n-1].Roles = users[n-1].Roles.Add(db.Role(role))
			continue
		}
		u.Roles = db.NewRoleSet(db.Role(role))
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read users: %w", err)
	}
	return users, nil
}

func (s *SQLStore) UpsertRosterEntries(ctx context.Context, entries ...db.RosterEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := s.now().UTC()
	for _, e := range entries {
		_, err := tx.ExecContext(ctx, s.q(`
			INSERT INTO roster_entries (team, roster_date, primary_id, secondary_id, created_by, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (team, roster_date) DO UPDATE SET
				primary_id = excluded.primary_id,
				secondary_id = excluded.secondary_id,
				created_by = excluded.created_by,
				updated_at = excluded.updated_at
		`), e.Team, e.Date, e.PrimaryID, e.SecondaryID, e.CreatedBy, now)
		if err != nil {
			return fmt.Errorf("failed to save roster for %s on %s: %w", e.Team, e.Date, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit roster: %w", err)
	}
	return nil
}

func (s *SQLStore) GetRosterEntry(ctx context.Context, team, date string) (*db.RosterEntry, error) {
	var e db.RosterEntry
	err := s.db.QueryRowContext(ctx, s.q(`
		SELECT team, roster_date, primary_id, secondary_id, created_by, updated_at
		FROM roster_entries
		WHERE team = $1 AND roster_date = $2
	`), team, date).Scan(&e.Team, &e.Date, &e.PrimaryID, &e.SecondaryID, &e.CreatedBy, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get roster entry: %w", err)
	}
	return &e, nil
}

func (s *SQLStore) ListTeamRoster(ctx context.Context, team string) ([]db.RosterEntry, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT team, roster_date, primary_id, secondary_id, created_by, updated_at
		FROM roster_entries
		WHERE team = $1
		ORDER BY roster_date
	`), team)
	if err != nil {
		return nil, fmt.Errorf("failed to list roster: %w", err)
	}
	defer rows.Close()

	var entries []db.RosterEntry
	for rows.Next() {
		var e db.RosterEntry
		if err := rows.Scan(&e.Team, &e.Date, &e.PrimaryID, &e.SecondaryID, &e.CreatedBy, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan roster entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLStore) CreateIncident(ctx context.Context, inc *db.Incident) error {
	if inc.ID == "" {
		inc.ID = uuid.New().String()
	}
	if inc.CreatedAt.IsZero() {
		inc.CreatedAt = s.now().UTC()
	}
	if inc.Status == "" {
		inc.Status = db.IncidentStatusPending
	}

	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO critical_incidents
			(id, team, issue, primary_id, secondary_id, lead_id, reporter_id, chat_id, status, acknowledged, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`), inc.ID, inc.Team, inc.Issue, inc.PrimaryID, inc.SecondaryID, inc.LeadID, inc.ReporterID,
		inc.ChatID, string(inc.Status), inc.Acknowledged, inc.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create incident: %w", err)
	}
	return nil
}

const incidentColumns = `id, team, issue, primary_id, secondary_id, lead_id, reporter_id, chat_id,
	status, acknowledged, created_at, acknowledged_at, escalated_at, reminded_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIncident(row rowScanner) (*db.Incident, error) {
	var inc db.Incident
	var status string
	var ackAt, escAt, remindedAt sql.NullTime
	if err := row.Scan(&inc.ID, &inc.Team, &inc.Issue, &inc.PrimaryID, &inc.SecondaryID, &inc.LeadID,
		&inc.ReporterID, &inc.ChatID, &status, &inc.Acknowledged, &inc.CreatedAt, &ackAt, &escAt, &remindedAt); err != nil {
		return nil, err
	}
	inc.Status = db.IncidentStatus(status)
	if ackAt.Valid {
		inc.AcknowledgedAt = &ackAt.Time
	}
	if escAt.Valid {
		inc.EscalatedAt = &escAt.Time
	}
	if remindedAt.Valid {
		inc.RemindedAt = &remindedAt.Time
	}
	return &inc, nil
}

func (s *SQLStore) GetIncident(ctx context.Context, id string) (*db.Incident, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+incidentColumns+` FROM critical_incidents WHERE id = $1`), id)
	inc, err := scanIncident(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get incident: %w", err)
	}
	return inc, nil
}

// TransitionIncident relies on the WHERE clause for the compare-and-set: only one
// of two racing updates can match a pending, unacknowledged row.
func (s *SQLStore) TransitionIncident(ctx context.Context, id string, to db.IncidentStatus, at time.Time) (*db.Incident, error) {
	if err := validTarget(to); err != nil {
		return nil, err
	}

	at = at.UTC()
	var ackAt, escAt any
	acknowledged := false
	if to == db.IncidentStatusResponded {
		acknowledged = true
		ackAt = at
	} else {
		escAt = at
	}

	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE critical_incidents
		SET status = $1, acknowledged = $2, acknowledged_at = $3, escalated_at = $4
		WHERE id = $5 AND status = $6 AND acknowledged = $7
	`), string(to), acknowledged, ackAt, escAt, id, string(db.IncidentStatusPending), false)
	if err != nil {
		return nil, fmt.Errorf("failed to update incident: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to update incident: %w", err)
	}
	if n == 0 {
		if _, err := s.GetIncident(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrConflict
	}
	return s.GetIncident(ctx, id)
}

// MarkReminded claims the reminder with the same conditional UPDATE pattern as
// TransitionIncident, so a reminder is recorded once across restarts and replicas.
func (s *SQLStore) MarkReminded(ctx context.Context, id string, at time.Time) (*db.Incident, error) {
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE critical_incidents
		SET reminded_at = $1
		WHERE id = $2 AND reminded_at IS NULL AND status = $3 AND acknowledged = $4
	`), at.UTC(), id, string(db.IncidentStatusPending), false)
	if err != nil {
		return nil, fmt.Errorf("failed to mark incident reminded: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to mark incident reminded: %w", err)
	}
	if n == 0 {
		if _, err := s.GetIncident(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrConflict
	}
	return s.GetIncident(ctx, id)
}

func (s *SQLStore) ListPendingIncidents(ctx context.Context) ([]db.Incident, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT `+incidentColumns+`
		FROM critical_incidents
		WHERE status = $1 AND acknowledged = $2
		ORDER BY created_at
	`), string(db.IncidentStatusPending), false)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending incidents: %w", err)
	}
	defer rows.Close()

	var incidents []db.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan incident: %w", err)
		}
		incidents = append(incidents, *inc)
	}
	return incidents, rows.Err()
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
