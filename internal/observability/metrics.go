package observability

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the bot's Prometheus collectors. All methods are nil-safe.
type Metrics struct {
	IncidentsReported    *prometheus.CounterVec
	IncidentTransitions  *prometheus.CounterVec
	NotificationsSent    *prometheus.CounterVec
	RosterEntriesWritten *prometheus.CounterVec
	InboundEvents        *prometheus.CounterVec
	TasksExecuted        *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
// Collectors that are already registered are reused.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		IncidentsReported: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oncall_incidents_reported_total",
			Help: "Critical incidents reported, by team",
		}, []string{"team"}),
		IncidentTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oncall_incident_transitions_total",
			Help: "Incident status transitions, by target status",
		}, []string{"status"}),
		NotificationsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oncall_notifications_total",
			Help: "Outbound notifications, by kind and result",
		}, []string{"kind", "result"}),
		RosterEntriesWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oncall_roster_entries_written_total",
			Help: "Roster entries committed, by team",
		}, []string{"team"}),
		InboundEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oncall_inbound_events_total",
			Help: "Inbound chat events, by type",
		}, []string{"type"}),
		TasksExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oncall_scheduled_tasks_total",
			Help: "Deferred incident tasks executed, by kind and result",
		}, []string{"kind", "result"}),
	}

	if reg == nil {
		return m, nil
	}

	collectors := []*prometheus.CounterVec{
		m.IncidentsReported, m.IncidentTransitions, m.NotificationsSent,
		m.RosterEntriesWritten, m.InboundEvents, m.TasksExecuted,
	}
	for i, c := range collectors {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return nil, err
			}
			existing, ok := are.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				return nil, err
			}
			collectors[i] = existing
		}
	}
	m.IncidentsReported, m.IncidentTransitions, m.NotificationsSent = collectors[0], collectors[1], collectors[2]
	m.RosterEntriesWritten, m.InboundEvents, m.TasksExecuted = collectors[3], collectors[4], collectors[5]
	return m, nil
}

func (m *Metrics) IncidentReported(team string) {
	if m == nil {
		return
	}
	m.IncidentsReported.WithLabelValues(team).Inc()
}

func (m *Metrics) IncidentTransition(status string) {
	if m == nil {
		return
	}
	m.IncidentTransitions.WithLabelValues(status).Inc()
}

func (m *Metrics) Notification(kind string, err error) {
	if m == nil {
		return
	}
	m.NotificationsSent.WithLabelValues(kind, result(err)).Inc()
}

func (m *Metrics) RosterWritten(team string, n int) {
	if m == nil {
		return
	}
	m.RosterEntriesWritten.WithLabelValues(team).Add(float64(n))
}

func (m *Metrics) Inbound(eventType string) {
	if m == nil {
		return
	}
	m.InboundEvents.WithLabelValues(eventType).Inc()
}

func (m *Metrics) Task(kind string, err error) {
	if m == nil {
		return
	}
	m.TasksExecuted.WithLabelValues(kind, result(err)).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
