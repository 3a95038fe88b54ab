package services

import (
	"context"
	"sort"
	"sync"
	"time"
)

// RosterStep is the wizard step a roster session waits in.
type RosterStep string

const (
	StepSelectDates     RosterStep = "select_dates"
	StepSelectPrimary   RosterStep = "select_primary"
	StepSelectSecondary RosterStep = "select_secondary"
)

// RosterSession is the in-progress roster of one lead. At most one exists per actor.
type RosterSession struct {
	ActorID     int64      `json:"actor_id"`
	Team        string     `json:"team"`
	Year        int        `json:"year"`
	Month       time.Month `json:"month"`
	Dates       []string   `json:"dates"`
	Step        RosterStep `json:"step"`
	PrimaryID   int64      `json:"primary_id,omitempty"`
	SecondaryID int64      `json:"secondary_id,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
}

// Selected returns the selected dates as a set.
func (s *RosterSession) Selected() map[string]bool {
	set := make(map[string]bool, len(s.Dates))
	for _, d := range s.Dates {
		set[d] = true
	}
	return set
}

// Toggle adds date when absent and removes it when present. Dates stay sorted.
func (s *RosterSession) Toggle(date string) {
	i := sort.SearchStrings(s.Dates, date)
	if i < len(s.Dates) && s.Dates[i] == date {
		s.Dates = append(s.Dates[:i], s.Dates[i+1:]...)
		return
	}
	s.Dates = append(s.Dates, "")
	copy(s.Dates[i+1:], s.Dates[i:])
	s.Dates[i] = date
}

func (s RosterSession) Clone() RosterSession {
	s.Dates = append([]string(nil), s.Dates...)
	return s
}

// Transition is the outcome of applying a callback to a session.
type Transition int

const (
	// TransitionIgnored means the event is not for the session's current step.
	TransitionIgnored Transition = iota
	TransitionRender
	TransitionEmptySelection
	TransitionPromptPrimary
	TransitionPromptSecondary
	TransitionCommit
)

// Apply advances the session for cb. It has no side effects beyond s.
func (s *RosterSession) Apply(cb Callback) Transition {
	switch s.Step {
	case StepSelectDates:
		switch cb.Kind {
		case CallbackSelectDate:
			s.Toggle(cb.Date)
			return TransitionRender
		case CallbackPrevMonth, CallbackNextMonth:
			s.Year, s.Month = cb.Year, cb.Month
			return TransitionRender
		case CallbackConfirmDates:
			if len(s.Dates) == 0 {
				return TransitionEmptySelection
			}
			s.Step = StepSelectPrimary
			return TransitionPromptPrimary
		}
	case StepSelectPrimary:
		if cb.Kind == CallbackSelectMember {
			s.PrimaryID = cb.MemberID
			s.Step = StepSelectSecondary
			return TransitionPromptSecondary
		}
	case StepSelectSecondary:
		if cb.Kind == CallbackSelectMember {
			s.SecondaryID = cb.MemberID
			return TransitionCommit
		}
	}
	return TransitionIgnored
}

// SessionStore holds roster sessions keyed by actor.
type SessionStore interface {
	// Put creates the actor's session, replacing any existing one.
	Put(ctx context.Context, s RosterSession) error
	// Get returns nil when the actor has no session.
	Get(ctx context.Context, actorID int64) (*RosterSession, error)
	// Update runs fn on the actor's session as one atomic read-modify-write.
	// fn must be free of side effects since it may be retried. The session is
	// kept when fn returns true and destroyed otherwise. found is false, and
	// fn is not called, when the actor has no session.
	Update(ctx context.Context, actorID int64, fn func(s *RosterSession) (keep bool)) (found bool, err error)
	Delete(ctx context.Context, actorID int64) error
}

// MemorySessionStore keeps sessions in process memory with one lock per actor.
// A slot lives only while someone holds it or it carries a session.
type MemorySessionStore struct {
	mu    sync.Mutex
	slots map[int64]*sessionSlot
}

type sessionSlot struct {
	mu      sync.Mutex
	refs    int
	session *RosterSession
}

var _ SessionStore = (*MemorySessionStore)(nil)

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{slots: make(map[int64]*sessionSlot)}
}

// acquire returns the actor's slot locked; release must follow.
func (m *MemorySessionStore) acquire(actorID int64) *sessionSlot {
	m.mu.Lock()
	sl, ok := m.slots[actorID]
	if !ok {
		sl = &sessionSlot{}
		m.slots[actorID] = sl
	}
	sl.refs++
	m.mu.Unlock()

	sl.mu.Lock()
	return sl
}

func (m *MemorySessionStore) release(actorID int64, sl *sessionSlot) {
	sl.mu.Unlock()
	m.mu.Lock()
	sl.refs--
	if sl.refs == 0 && sl.session == nil {
		delete(m.slots, actorID)
	}
	m.mu.Unlock()
}

func (m *MemorySessionStore) Put(_ context.Context, s RosterSession) error {
	sl := m.acquire(s.ActorID)
	defer m.release(s.ActorID, sl)
	c := s.Clone()
	sl.session = &c
	return nil
}

func (m *MemorySessionStore) Get(_ context.Context, actorID int64) (*RosterSession, error) {
	sl := m.acquire(actorID)
	defer m.release(actorID, sl)
	if sl.session == nil {
		return nil, nil
	}
	c := sl.session.Clone()
	return &c, nil
}

func (m *MemorySessionStore) Update(_ context.Context, actorID int64, fn func(s *RosterSession) bool) (bool, error) {
	sl := m.acquire(actorID)
	defer m.release(actorID, sl)
	if sl.session == nil {
		return false, nil
	}
	c := sl.session.Clone()
	if fn(&c) {
		sl.session = &c
	} else {
		sl.session = nil
	}
	return true, nil
}

func (m *MemorySessionStore) Delete(_ context.Context, actorID int64) error {
	sl := m.acquire(actorID)
	defer m.release(actorID, sl)
	sl.session = nil
	return nil
}

func (m *MemorySessionStore) slotCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.slots)
}
