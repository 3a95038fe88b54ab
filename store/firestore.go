package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/phonginreallife/inres-oncall/db"
)

const (
	usersCollection     = "users"
	rosterCollection    = "roster"
	incidentsCollection = "critical_incidents"
)

type userDoc struct {
	FullName  string    `firestore:"full_name"`
	Phone     string    `firestore:"phone"`
	Roles     []string  `firestore:"role"`
	Team      string    `firestore:"team"`
	Verified  bool      `firestore:"verified"`
	CreatedAt time.Time `firestore:"created_at"`
	UpdatedAt time.Time `firestore:"updated_at"`
}

type rosterDoc struct {
	Team        string    `firestore:"team"`
	Date        string    `firestore:"date"`
	PrimaryID   int64     `firestore:"primary_id"`
	SecondaryID int64     `firestore:"secondary_id"`
	CreatedBy   int64     `firestore:"created_by"`
	UpdatedAt   time.Time `firestore:"updated_at"`
}

type incidentDoc struct {
	Team             string     `firestore:"team"`
	Issue            string     `firestore:"issue"`
	PrimaryID        int64      `firestore:"primary_id"`
	SecondaryID      int64      `firestore:"secondary_id"`
	LeadID           int64      `firestore:"lead_id"`
	ReporterID       int64      `firestore:"reporter_id"`
	ChatID           int64      `firestore:"chat_id"`
	Status           string     `firestore:"status"`
	PrimaryResponded bool       `firestore:"primary_responded"`
	CreatedAt        time.Time  `firestore:"created_at"`
	RespondedAt      *time.Time `firestore:"responded_at"`
	EscalatedAt      *time.Time `firestore:"secondary_notified_at"`
	RemindedAt       *time.Time `firestore:"reminded_at"`
}

// FirestoreStore implements Store on Cloud Firestore. Role merges and incident
// transitions run inside transactions.
type FirestoreStore struct {
	client *firestore.Client
	now    func() time.Time
}

var _ Store = (*FirestoreStore)(nil)

func NewFirestoreStore(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{client: client, now: time.Now}
}

func isNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

func userDocID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func toUser(snap *firestore.DocumentSnapshot) (*db.User, error) {
	var d userDoc
	if err := snap.DataTo(&d); err != nil {
		return nil, fmt.Errorf("failed to decode user %s: %w", snap.Ref.ID, err)
	}
	id, err := strconv.ParseInt(snap.Ref.ID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid user document id %q: %w", snap.Ref.ID, err)
	}
	return &db.User{
		ID: id, FullName: d.FullName, Phone: d.Phone, Roles: db.RoleSetFromStrings(d.Roles),
		Team: d.Team, Verified: d.Verified, CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt,
	}, nil
}

func fromUser(u db.User) userDoc {
	return userDoc{
		FullName: u.FullName, Phone: u.Phone, Roles: u.Roles.Strings(), Team: u.Team,
		Verified: u.Verified, CreatedAt: u.CreatedAt, UpdatedAt: u.UpdatedAt,
	}
}

func (s *FirestoreStore) GetUser(ctx context.Context, id int64) (*db.User, error) {
	snap, err := s.client.Collection(usersCollection).Doc(userDocID(id)).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return toUser(snap)
}

func (s *FirestoreStore) UpsertUser(ctx context.Context, in db.UserUpsert) (*db.User, error) {
	ref := s.client.Collection(usersCollection).Doc(userDocID(in.ID))
	var merged db.User
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var existing *db.User
		snap, err := tx.Get(ref)
		switch {
		case err == nil:
			if existing, err = toUser(snap); err != nil {
				return err
			}
		case isNotFound(err):
		default:
			return err
		}
		merged = mergeUser(existing, in, s.now().UTC())
		return tx.Set(ref, fromUser(merged))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}
	return &merged, nil
}

func (s *FirestoreStore) queryUsers(ctx context.Context, q firestore.Query) ([]db.User, error) {
	iter := q.Documents(ctx)
	defer iter.Stop()
	var users []db.User
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		u, err := toUser(snap)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	sortUsers(users)
	return users, nil
}

func (s *FirestoreStore) ListTeamMembers(ctx context.Context, team string) ([]db.User, error) {
	users, err := s.queryUsers(ctx, s.client.Collection(usersCollection).Where("team", "==", team))
	if err != nil {
		return nil, fmt.Errorf("failed to list team members: %w", err)
	}
	return users, nil
}

func (s *FirestoreStore) GetTeamLead(ctx context.Context, team string) (*db.User, error) {
	users, err := s.queryUsers(ctx, s.client.Collection(usersCollection).
		Where("team", "==", team).
		Where("role", "array-contains", string(db.RoleLead)))
	if err != nil {
		return nil, fmt.Errorf("failed to get team lead: %w", err)
	}
	if len(users) == 0 {
		return nil, ErrNotFound
	}
	return &users[0], nil
}

func (s *FirestoreStore) ListAdminsAndLeads(ctx context.Context) ([]db.User, error) {
	users, err := s.queryUsers(ctx, s.client.Collection(usersCollection).
		Where("role", "array-contains-any", []string{string(db.RoleAdmin), string(db.RoleLead)}))
	if err != nil {
		return nil, fmt.Errorf("failed to list admins and leads: %w", err)
	}
	return users, nil
}

func (s *FirestoreStore) UpsertRosterEntries(ctx context.Context, entries ...db.RosterEntry) error {
	if len(entries) == 0 {
		return nil
	}
	now := s.now().UTC()
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		for _, e := range entries {
			ref := s.client.Collection(rosterCollection).Doc(e.Key())
			if err := tx.Set(ref, rosterDoc{
				Team: e.Team, Date: e.Date, PrimaryID: e.PrimaryID, SecondaryID: e.SecondaryID,
				CreatedBy: e.CreatedBy, UpdatedAt: now,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save roster: %w", err)
	}
	return nil
}

func toRosterEntry(snap *firestore.DocumentSnapshot) (*db.RosterEntry, error) {
	var d rosterDoc
	if err := snap.DataTo(&d); err != nil {
		return nil, fmt.Errorf("failed to decode roster %s: %w", snap.Ref.ID, err)
	}
	return &db.RosterEntry{
		Team: d.Team, Date: d.Date, PrimaryID: d.PrimaryID, SecondaryID: d.SecondaryID,
		CreatedBy: d.CreatedBy, UpdatedAt: d.UpdatedAt,
	}, nil
}

func (s *FirestoreStore) GetRosterEntry(ctx context.Context, team, date string) (*db.RosterEntry, error) {
	snap, err := s.client.Collection(rosterCollection).Doc(db.RosterKey(team, date)).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get roster entry: %w", err)
	}
	return toRosterEntry(snap)
}

func (s *FirestoreStore) ListTeamRoster(ctx context.Context, team string) ([]db.RosterEntry, error) {
	iter := s.client.Collection(rosterCollection).Where("team", "==", team).Documents(ctx)
	defer iter.Stop()
	var entries []db.RosterEntry
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list roster: %w", err)
		}
		e, err := toRosterEntry(snap)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	// sorted client-side so no composite index is needed
	sort.Slice(entries, func(i, j int) bool { return entries[i].Date < entries[j].Date })
	return entries, nil
}

func toIncident(snap *firestore.DocumentSnapshot) (*db.Incident, error) {
	var d incidentDoc
	if err := snap.DataTo(&d); err != nil {
		return nil, fmt.Errorf("failed to decode incident %s: %w", snap.Ref.ID, err)
	}
	return &db.Incident{
		ID: snap.Ref.ID, Team: d.Team, Issue: d.Issue, PrimaryID: d.PrimaryID, SecondaryID: d.SecondaryID,
		LeadID: d.LeadID, ReporterID: d.ReporterID, ChatID: d.ChatID, Status: db.IncidentStatus(d.Status),
		Acknowledged: d.PrimaryResponded, CreatedAt: d.CreatedAt, AcknowledgedAt: d.RespondedAt, EscalatedAt: d.EscalatedAt,
		RemindedAt: d.RemindedAt,
	}, nil
}

func fromIncident(inc *db.Incident) incidentDoc {
	return incidentDoc{
		Team: inc.Team, Issue: inc.Issue, PrimaryID: inc.PrimaryID, SecondaryID: inc.SecondaryID,
		LeadID: inc.LeadID, ReporterID: inc.ReporterID, ChatID: inc.ChatID, Status: string(inc.Status),
		PrimaryResponded: inc.Acknowledged, CreatedAt: inc.CreatedAt, RespondedAt: inc.AcknowledgedAt, EscalatedAt: inc.EscalatedAt,
		RemindedAt: inc.RemindedAt,
	}
}

func (s *FirestoreStore) CreateIncident(ctx context.Context, inc *db.Incident) error {
	if inc.CreatedAt.IsZero() {
		inc.CreatedAt = s.now().UTC()
	}
	if inc.Status == "" {
		inc.Status = db.IncidentStatusPending
	}
	col := s.client.Collection(incidentsCollection)
	ref := col.NewDoc()
	if inc.ID != "" {
		ref = col.Doc(inc.ID)
	}
	if _, err := ref.Create(ctx, fromIncident(inc)); err != nil {
		return fmt.Errorf("failed to create incident: %w", err)
	}
	inc.ID = ref.ID
	return nil
}

func (s *FirestoreStore) GetIncident(ctx context.Context, id string) (*db.Incident, error) {
	snap, err := s.client.Collection(incidentsCollection).Doc(id).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get incident: %w", err)
	}
	return toIncident(snap)
}

func (s *FirestoreStore) TransitionIncident(ctx context.Context, id string, to db.IncidentStatus, at time.Time) (*db.Incident, error) {
	if err := validTarget(to); err != nil {
		return nil, err
	}
	return s.updateIncident(ctx, id, func(inc *db.Incident) error {
		return applyTransition(inc, to, at.UTC())
	})
}

func (s *FirestoreStore) MarkReminded(ctx context.Context, id string, at time.Time) (*db.Incident, error) {
	return s.updateIncident(ctx, id, func(inc *db.Incident) error {
		return applyReminder(inc, at.UTC())
	})
}

// updateIncident reads, mutates and writes one incident inside a transaction.
func (s *FirestoreStore) updateIncident(ctx context.Context, id string, mutate func(*db.Incident) error) (*db.Incident, error) {
	ref := s.client.Collection(incidentsCollection).Doc(id)
	var updated *db.Incident
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if isNotFound(err) {
				return ErrNotFound
			}
			return err
		}
		inc, err := toIncident(snap)
		if err != nil {
			return err
		}
		if err := mutate(inc); err != nil {
			return err
		}
		updated = inc
		return tx.Set(ref, fromIncident(inc))
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to update incident: %w", err)
	}
	return updated, nil
}

func (s *FirestoreStore) ListPendingIncidents(ctx context.Context) ([]db.Incident, error) {
	iter := s.client.Collection(incidentsCollection).
		Where("status", "==", string(db.IncidentStatusPending)).
		Documents(ctx)
	defer iter.Stop()
	var incidents []db.Incident
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list pending incidents: %w", err)
		}
		inc, err := toIncident(snap)
		if err != nil {
			return nil, err
		}
		if inc.Open() {
			incidents = append(incidents, *inc)
		}
	}
	sort.Slice(incidents, func(i, j int) bool { return incidents[i].CreatedAt.Before(incidents[j].CreatedAt) })
	return incidents, nil
}

func (s *FirestoreStore) Ping(ctx context.Context) error {
	iter := s.client.Collection(usersCollection).Limit(1).Documents(ctx)
	defer iter.Stop()
	if _, err := iter.Next(); err != nil && !errors.Is(err, iterator.Done) {
		return err
	}
	return nil
}

func (s *FirestoreStore) Close() error {
	return s.client.Close()
}
