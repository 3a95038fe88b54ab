package workers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/phonginreallife/inres-oncall/db"
	"github.com/phonginreallife/inres-oncall/internal/observability"
	"github.com/phonginreallife/inres-oncall/services"
	"github.com/phonginreallife/inres-oncall/store"
)

const defaultTaskTimeout = 30 * time.Second

// Escalator runs timeline steps and knows when they are due.
type Escalator interface {
	HandleTask(ctx context.Context, task services.Task) error
	Deadlines(inc *db.Incident) (remindAt, escalateAt time.Time)
}

// IncidentWorker drives incident timelines. It arms one in-process timer per
// scheduled task and periodically sweeps the store for overdue escalations, so
// incidents whose timers were lost to a restart still escalate.
type IncidentWorker struct {
	store     store.Store
	escalator Escalator
	logger    *zap.Logger

	TaskTimeout time.Duration
	now         func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	nextID  uint64
	timers  map[uint64]*time.Timer
	stopped bool
	wg      sync.WaitGroup
}

var _ services.Scheduler = (*IncidentWorker)(nil)

func NewIncidentWorker(st store.Store, escalator Escalator, logger *zap.Logger) *IncidentWorker {
	ctx, cancel := context.WithCancel(context.Background())
	return &IncidentWorker{
		store:       st,
		escalator:   escalator,
		logger:      observability.OrNop(logger),
		TaskTimeout: defaultTaskTimeout,
		now:         time.Now,
		ctx:         ctx,
		cancel:      cancel,
		timers:      make(map[uint64]*time.Timer),
	}
}

// SetClock overrides the time source used by Recover and the sweep.
func (w *IncidentWorker) SetClock(now func() time.Time) {
	w.now = now
}

// Schedule runs task once after delay. Tasks scheduled after Stop are dropped.
func (w *IncidentWorker) Schedule(task services.Task, delay time.Duration) {
	if delay < 0 {
		delay = 0
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		w.logger.Warn("worker stopped, task dropped",
			zap.String("kind", string(task.Kind)),
			zap.String("incident_id", task.IncidentID))
		return
	}

	w.nextID++
	id := w.nextID
	w.wg.Add(1)
	w.timers[id] = time.AfterFunc(delay, func() {
		defer w.wg.Done()
		w.mu.Lock()
		delete(w.timers, id)
		w.mu.Unlock()
		w.run(task)
	})
}

// Pending returns the number of armed timers.
func (w *IncidentWorker) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.timers)
}

func (w *IncidentWorker) run(task services.Task) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("task panicked",
				zap.String("kind", string(task.Kind)),
				zap.String("incident_id", task.IncidentID),
				zap.Any("panic", r))
		}
	}()

	ctx, cancel := context.WithTimeout(w.ctx, w.TaskTimeout)
	defer cancel()
	if err := w.escalator.HandleTask(ctx, task); err != nil {
		w.logger.Error("task failed",
			zap.String("kind", string(task.Kind)),
			zap.String("incident_id", task.IncidentID),
			zap.Error(err))
	}
}

// Recover re-arms the timers of every pending incident. A reminder that was
// already sent is not re-armed; an overdue one fires right away unless the
// escalation is due too.
func (w *IncidentWorker) Recover(ctx context.Context) (int, error) {
	pending, err := w.store.ListPendingIncidents(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending incidents: %w", err)
	}

	now := w.now()
	for i := range pending {
		inc := &pending[i]
		remindAt, escalateAt := w.escalator.Deadlines(inc)
		if !inc.Reminded() && now.Before(escalateAt) {
			w.Schedule(services.Task{Kind: services.TaskReminder, IncidentID: inc.ID}, remindAt.Sub(now))
		}
		w.Schedule(services.Task{Kind: services.TaskEscalation, IncidentID: inc.ID}, escalateAt.Sub(now))
	}
	if len(pending) > 0 {
		w.logger.Info("pending incidents recovered", zap.Int("count", len(pending)))
	}
	return len(pending), nil
}

// Run sweeps for overdue escalations every interval until ctx is done.
func (w *IncidentWorker) Run(ctx context.Context, interval time.Duration) error {
	w.logger.Info("incident worker started", zap.Duration("sweep_interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

// sweep escalates pending incidents whose escalation deadline has passed.
// Escalation is a compare-and-set, so racing an armed timer is harmless.
func (w *IncidentWorker) sweep(ctx context.Context) {
	pending, err := w.store.ListPendingIncidents(ctx)
	if err != nil {
		w.logger.Error("sweep failed to list pending incidents", zap.Error(err))
		return
	}

	now := w.now()
	for i := range pending {
		inc := &pending[i]
		if _, escalateAt := w.escalator.Deadlines(inc); now.Before(escalateAt) {
			continue
		}
		w.logger.Info("overdue incident found by sweep", zap.String("incident_id", inc.ID))
		w.run(services.Task{Kind: services.TaskEscalation, IncidentID: inc.ID})
	}
}

// Stop cancels armed timers, aborts running tasks and waits for them to return.
func (w *IncidentWorker) Stop() {
	w.mu.Lock()
	w.stopped = true
	for id, t := range w.timers {
		if t.Stop() {
			w.wg.Done()
		}
		delete(w.timers, id)
	}
	w.mu.Unlock()

	w.cancel()
	w.wg.Wait()
	w.logger.Info("incident worker stopped")
}
