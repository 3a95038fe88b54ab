package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/phonginreallife/inres-oncall/db"
	"github.com/phonginreallife/inres-oncall/internal/apperr"
	"github.com/phonginreallife/inres-oncall/internal/observability"
	"github.com/phonginreallife/inres-oncall/store"
)

// TaskKind is a deferred step of the escalation timeline.
type TaskKind string

const (
	TaskReminder   TaskKind = "reminder"
	TaskEscalation TaskKind = "escalation"
)

// Task carries only the incident id; the handler re-reads everything else.
type Task struct {
	Kind       TaskKind
	IncidentID string
}

// Scheduler runs a task once after delay. Tasks are never cancelled.
type Scheduler interface {
	Schedule(task Task, delay time.Duration)
}

// EscalationConfig is the incident timeline. Both deadlines count from creation.
type EscalationConfig struct {
	ReminderAfter time.Duration
	EscalateAfter time.Duration
	// Location decides which roster date is "today".
	Location *time.Location
}

func DefaultEscalationConfig() EscalationConfig {
	return EscalationConfig{
		ReminderAfter: 60 * time.Second,
		EscalateAfter: 5 * time.Minute,
		Location:      time.UTC,
	}
}

// ReportRequest is a /critical report.
type ReportRequest struct {
	Team       string
	Issue      string
	ReporterID int64
	ChatID     int64
}

const cannotAcknowledge = "Cannot acknowledge: You are not the primary or issue already acknowledged."

// EscalationService pages the on-call primary, reminds them, and hands the
// incident to the secondary when nobody acknowledges in time.
//
// Acknowledge and Escalate both end in a store compare-and-set on the pending
// status, so exactly one of them takes effect for any incident. A per-incident
// lock additionally keeps the reminder from racing an in-process acknowledge.
type EscalationService struct {
	store      store.Store
	dispatcher Dispatcher
	scheduler  Scheduler
	pusher     Pusher
	cfg        EscalationConfig
	locks      *KeyedMutex
	logger     *zap.Logger
	metrics    *observability.Metrics
	now        func() time.Time
}

func NewEscalationService(st store.Store, dispatcher Dispatcher, cfg EscalationConfig, logger *zap.Logger, metrics *observability.Metrics) *EscalationService {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &EscalationService{
		store:      st,
		dispatcher: dispatcher,
		cfg:        cfg,
		locks:      NewKeyedMutex(),
		logger:     observability.OrNop(logger),
		metrics:    metrics,
		now:        time.Now,
	}
}

// SetScheduler wires the timer backend. It must be set before the first report.
func (s *EscalationService) SetScheduler(scheduler Scheduler) {
	s.scheduler = scheduler
}

// SetPusher enables mobile push for pages and escalations.
func (s *EscalationService) SetPusher(p Pusher) {
	s.pusher = p
}

func (s *EscalationService) SetClock(now func() time.Time) {
	s.now = now
}

func (s *EscalationService) Config() EscalationConfig {
	return s.cfg
}

// Deadlines returns when the reminder and the escalation are due for inc.
func (s *EscalationService) Deadlines(inc *db.Incident) (remindAt, escalateAt time.Time) {
	return inc.CreatedAt.Add(s.cfg.ReminderAfter), inc.CreatedAt.Add(s.cfg.EscalateAfter)
}

type responders struct {
	primary, secondary, lead *db.User
}

// ReportIncident checks today's roster, records a pending incident, pages the
// primary and schedules the reminder and escalation. Nothing is written when a
// precondition fails.
func (s *EscalationService) ReportIncident(ctx context.Context, req ReportRequest) (*db.Incident, error) {
	req.Team = strings.ToLower(strings.TrimSpace(req.Team))
	req.Issue = strings.TrimSpace(req.Issue)
	if req.Team == "" || req.Issue == "" {
		return nil, apperr.Validation("Team and issue description are required.")
	}

	now := s.now()
	today := now.In(s.cfg.Location).Format(db.RosterDateLayout)
	entry, err := s.store.GetRosterEntry(ctx, req.Team, today)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.Precondition("No roster found for %s today.", req.Team)
	}
	if err != nil {
		return nil, apperr.Store(err, "Error loading roster")
	}

	r, err := s.loadResponders(ctx, req.Team, entry.PrimaryID, entry.SecondaryID)
	if err != nil {
		return nil, err
	}
	if !r.primary.HasPhone() || !r.secondary.HasPhone() || !r.lead.HasPhone() {
		return nil, apperr.Precondition("Phone number missing for primary, secondary, or lead.")
	}

	inc := &db.Incident{
		Team:        req.Team,
		Issue:       req.Issue,
		PrimaryID:   r.primary.ID,
		SecondaryID: r.secondary.ID,
		LeadID:      r.lead.ID,
		ReporterID:  req.ReporterID,
		ChatID:      req.ChatID,
		Status:      db.IncidentStatusPending,
		CreatedAt:   now,
	}
	if err := s.store.CreateIncident(ctx, inc); err != nil {
		return nil, apperr.Store(err, "Error reporting critical issue")
	}
	s.metrics.IncidentReported(inc.Team)
	s.logger.Info("incident reported",
		zap.String("incident_id", inc.ID),
		zap.String("team", inc.Team),
		zap.Int64("primary_id", inc.PrimaryID))

	s.schedule(inc, now)

	s.dispatcher.Dispatch(ctx,
		Message{
			Kind:   "incident_report",
			ChatID: inc.ChatID,
			Text: fmt.Sprintf("🚨 Critical Issue Reported: %s\nTeam: %s\nPrimary: %s (%s)\nSecondary: %s (%s)\nLead: %s (%s)\nStatus: Pending",
				inc.Issue, inc.Team,
				r.primary.DisplayName(), r.primary.ContactLink(),
				r.secondary.DisplayName(), r.secondary.ContactLink(),
				r.lead.DisplayName(), r.lead.ContactLink()),
		},
		Message{
			Kind:     "primary_page",
			ChatID:   inc.PrimaryID,
			Priority: PriorityHigh,
			Text: fmt.Sprintf("🚨 Critical Issue: %s\nYou are on-call for %s today. Respond immediately in this chat.\nContact lead: %s",
				inc.Issue, inc.Team, r.lead.ContactLink()),
			Keyboard: ackKeyboard(inc.ID),
		},
		Message{
			Kind:   "lead_briefing",
			ChatID: inc.LeadID,
			Text: fmt.Sprintf("🔔 Critical Issue Reported: %s\nTeam: %s\nPrimary: %s (%s)\nSecondary: %s (%s)",
				inc.Issue, inc.Team,
				r.primary.DisplayName(), r.primary.ContactLink(),
				r.secondary.DisplayName(), r.secondary.ContactLink()),
		},
		Message{
			Kind:   "report_summary",
			ChatID: inc.ChatID,
			Text: fmt.Sprintf("✅ Notified primary (%s) for %s. Escalation to secondary (%s) if no response in %s.\nLead (%s) informed.",
				r.primary.DisplayName(), inc.Team, r.secondary.DisplayName(), formatDelay(s.cfg.EscalateAfter), r.lead.DisplayName()),
		},
	)
	s.push(ctx, inc, "page", fmt.Sprintf("🚨 %s: %s", inc.Team, inc.Issue),
		fmt.Sprintf("Primary on-call: %s", r.primary.DisplayName()))

	return inc, nil
}

func (s *EscalationService) loadResponders(ctx context.Context, team string, primaryID, secondaryID int64) (*responders, error) {
	missing := apperr.Precondition("Primary, secondary, or lead not found.")
	var r responders
	var err error
	if r.primary, err = s.store.GetUser(ctx, primaryID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, missing
		}
		return nil, apperr.Store(err, "Error loading primary")
	}
	if r.secondary, err = s.store.GetUser(ctx, secondaryID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, missing
		}
		return nil, apperr.Store(err, "Error loading secondary")
	}
	if r.lead, err = s.store.GetTeamLead(ctx, team); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, missing
		}
		return nil, apperr.Store(err, "Error loading lead")
	}
	return &r, nil
}

// schedule arms both timers relative to the incident's creation time.
func (s *EscalationService) schedule(inc *db.Incident, now time.Time) {
	if s.scheduler == nil {
		s.logger.Error("no scheduler configured, incident will not escalate", zap.String("incident_id", inc.ID))
		return
	}
	remindAt, escalateAt := s.Deadlines(inc)
	s.scheduler.Schedule(Task{Kind: TaskReminder, IncidentID: inc.ID}, remindAt.Sub(now))
	s.scheduler.Schedule(Task{Kind: TaskEscalation, IncidentID: inc.ID}, escalateAt.Sub(now))
}

// HandleTask runs a deferred timeline step.
func (s *EscalationService) HandleTask(ctx context.Context, task Task) error {
	var err error
	switch task.Kind {
	case TaskReminder:
		err = s.SendReminder(ctx, task.IncidentID)
	case TaskEscalation:
		err = s.Escalate(ctx, task.IncidentID)
	default:
		err = fmt.Errorf("unknown task kind %q", task.Kind)
	}
	s.metrics.Task(string(task.Kind), err)
	return err
}

// SendReminder re-pages the primary once, if the incident is still open. The
// reminder is claimed in the store before anything is sent.
func (s *EscalationService) SendReminder(ctx context.Context, incidentID string) error {
	unlock := s.locks.Lock(incidentID)
	defer unlock()

	inc, err := s.store.MarkReminded(ctx, incidentID, s.now())
	switch {
	case errors.Is(err, store.ErrConflict):
		s.logger.Debug("reminder skipped, already sent or incident resolved", zap.String("incident_id", incidentID))
		return nil
	case errors.Is(err, store.ErrNotFound):
		s.logger.Warn("reminder for unknown incident", zap.String("incident_id", incidentID))
		return nil
	case err != nil:
		return apperr.Store(err, "Error recording reminder")
	}

	primary := s.userOrPlaceholder(ctx, inc.PrimaryID)
	lead := s.userOrPlaceholder(ctx, inc.LeadID)

	s.dispatcher.Dispatch(ctx,
		Message{
			Kind:     "primary_reminder",
			ChatID:   inc.PrimaryID,
			Priority: PriorityHigh,
			Text: fmt.Sprintf("🚨 Reminder: Critical Issue: %s\nRespond immediately.\nOr contact lead: %s",
				inc.Issue, lead.ContactLink()),
			Keyboard: ackKeyboard(inc.ID),
		},
		Message{
			Kind:   "reminder_update",
			ChatID: inc.ChatID,
			Text: fmt.Sprintf("🔔 Reminder sent to primary (%s) for issue: %s. Status: Pending",
				primary.DisplayName(), inc.Issue),
		},
	)
	s.logger.Info("reminder sent", zap.String("incident_id", inc.ID))
	return nil
}

// Escalate hands the incident to the secondary unless it was acknowledged first.
func (s *EscalationService) Escalate(ctx context.Context, incidentID string) error {
	unlock := s.locks.Lock(incidentID)
	defer unlock()

	inc, err := s.store.TransitionIncident(ctx, incidentID, db.IncidentStatusEscalated, s.now())
	switch {
	case errors.Is(err, store.ErrConflict):
		s.logger.Debug("escalation skipped, incident already resolved", zap.String("incident_id", incidentID))
		return nil
	case errors.Is(err, store.ErrNotFound):
		s.logger.Warn("escalation for unknown incident", zap.String("incident_id", incidentID))
		return nil
	case err != nil:
		return apperr.Store(err, "Error escalating incident")
	}
	s.metrics.IncidentTransition(string(inc.Status))

	secondary := s.userOrPlaceholder(ctx, inc.SecondaryID)
	lead := s.userOrPlaceholder(ctx, inc.LeadID)

	s.dispatcher.Dispatch(ctx,
		Message{
			Kind:     "secondary_page",
			ChatID:   inc.SecondaryID,
			Priority: PriorityHigh,
			Text: fmt.Sprintf("🚨 Primary not responding for Critical Issue: %s\nYou are secondary for %s. Respond immediately in this chat.\nContact lead: %s",
				inc.Issue, inc.Team, lead.ContactLink()),
		},
		Message{
			Kind:   "escalation_update",
			ChatID: inc.ChatID,
			Text: fmt.Sprintf("🔔 Escalated to secondary (%s) for issue: %s. Status: Escalated",
				secondary.DisplayName(), inc.Issue),
		},
	)
	s.push(ctx, inc, "escalation", fmt.Sprintf("🚨 Escalated %s: %s", inc.Team, inc.Issue),
		fmt.Sprintf("Secondary on-call: %s", secondary.DisplayName()))
	s.logger.Info("incident escalated", zap.String("incident_id", inc.ID), zap.Int64("secondary_id", inc.SecondaryID))
	return nil
}

// Acknowledge marks the incident responded. Only the primary may do so, and only
// while the incident is still pending.
func (s *EscalationService) Acknowledge(ctx context.Context, incidentID string, actorID int64) (*db.Incident, error) {
	unlock := s.locks.Lock(incidentID)
	defer unlock()

	inc, err := s.store.GetIncident(ctx, incidentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("Incident not found.")
	}
	if err != nil {
		return nil, apperr.Store(err, "Error loading incident")
	}
	if actorID != inc.PrimaryID || !inc.Open() {
		return nil, apperr.Authorization(cannotAcknowledge)
	}

	updated, err := s.store.TransitionIncident(ctx, incidentID, db.IncidentStatusResponded, s.now())
	if errors.Is(err, store.ErrConflict) {
		return nil, apperr.Authorization(cannotAcknowledge)
	}
	if err != nil {
		return nil, apperr.Store(err, "Error acknowledging issue")
	}
	s.metrics.IncidentTransition(string(updated.Status))

	primary := s.userOrPlaceholder(ctx, updated.PrimaryID)
	s.dispatcher.Dispatch(ctx,
		Message{
			Kind:   "ack_update",
			ChatID: updated.ChatID,
			Text: fmt.Sprintf("✅ Issue \"%s\" acknowledged by %s for team %s.",
				updated.Issue, primary.DisplayName(), updated.Team),
		},
		Message{
			Kind:   "ack_lead",
			ChatID: updated.LeadID,
			Text: fmt.Sprintf("✅ Primary (%s) acknowledged issue: %s for %s.",
				primary.DisplayName(), updated.Issue, updated.Team),
		},
	)
	s.logger.Info("incident acknowledged", zap.String("incident_id", updated.ID), zap.Int64("actor_id", actorID))
	return updated, nil
}

func (s *EscalationService) userOrPlaceholder(ctx context.Context, id int64) *db.User {
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("failed to load user", zap.Int64("user_id", id), zap.Error(err))
		}
		return &db.User{ID: id}
	}
	return u
}

func (s *EscalationService) push(ctx context.Context, inc *db.Incident, kind, title, body string) {
	if s.pusher == nil {
		return
	}
	err := s.pusher.PushToTeam(ctx, inc.Team, PushAlert{Title: title, Body: body, IncidentID: inc.ID, Kind: kind})
	s.metrics.Notification("push_"+kind, err)
	if err != nil {
		s.logger.Warn("push failed", zap.String("incident_id", inc.ID), zap.Error(err))
	}
}

func ackKeyboard(incidentID string) [][]Button {
	return [][]Button{{{Text: "Acknowledge", Data: AckToken(incidentID)}}}
}

// formatDelay renders whole minutes as "5 minutes" and anything else as seconds.
func formatDelay(d time.Duration) string {
	if d >= time.Minute && d%time.Minute == 0 {
		if m := int(d / time.Minute); m != 1 {
			return fmt.Sprintf("%d minutes", m)
		}
		return "1 minute"
	}
	return fmt.Sprintf("%d seconds", int(d/time.Second))
}
