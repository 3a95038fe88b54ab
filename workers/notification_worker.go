package workers

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/phonginreallife/inres-oncall/internal/observability"
	"github.com/phonginreallife/inres-oncall/services"
)

const defaultSendTimeout = 10 * time.Second

var errDropped = errors.New("notification worker stopped")

// NotificationWorker delivers chat messages in the background. Messages for
// the same chat always go through the same queue, so their order is kept.
type NotificationWorker struct {
	notifier services.Notifier
	logger   *zap.Logger
	metrics  *observability.Metrics

	SendTimeout time.Duration

	mu      sync.RWMutex
	queues  []chan services.Message
	stopped bool
	wg      sync.WaitGroup
}

var _ services.Dispatcher = (*NotificationWorker)(nil)

// NewNotificationWorker creates a worker with the given number of queues,
// each buffering up to queueSize messages.
func NewNotificationWorker(notifier services.Notifier, workers, queueSize int, logger *zap.Logger, metrics *observability.Metrics) *NotificationWorker {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	queues := make([]chan services.Message, workers)
	for i := range queues {
		queues[i] = make(chan services.Message, queueSize)
	}
	return &NotificationWorker{
		notifier:    notifier,
		logger:      observability.OrNop(logger),
		metrics:     metrics,
		SendTimeout: defaultSendTimeout,
		queues:      queues,
	}
}

// Start launches one goroutine per queue. Sends are bounded by ctx.
func (w *NotificationWorker) Start(ctx context.Context) {
	for i, q := range w.queues {
		w.wg.Add(1)
		go w.consume(ctx, i, q)
	}
	w.logger.Info("notification worker started", zap.Int("workers", len(w.queues)))
}

// Dispatch enqueues msgs in order. It blocks while the target queue is full
// and drops messages once the worker is stopped.
func (w *NotificationWorker) Dispatch(_ context.Context, msgs ...services.Message) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, msg := range msgs {
		if w.stopped {
			w.logger.Warn("notification dropped, worker stopped",
				zap.String("kind", msg.Kind),
				zap.Int64("chat_id", msg.ChatID))
			w.metrics.Notification(msg.Kind, errDropped)
			continue
		}
		w.queueFor(msg.ChatID) <- msg
	}
}

func (w *NotificationWorker) queueFor(chatID int64) chan services.Message {
	return w.queues[uint64(chatID)%uint64(len(w.queues))]
}

func (w *NotificationWorker) consume(ctx context.Context, shard int, q <-chan services.Message) {
	defer w.wg.Done()
	for msg := range q {
		w.deliver(ctx, shard, msg)
	}
}

func (w *NotificationWorker) deliver(ctx context.Context, shard int, msg services.Message) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("notification panicked", zap.String("kind", msg.Kind), zap.Any("panic", r))
		}
	}()

	sendCtx, cancel := context.WithTimeout(ctx, w.SendTimeout)
	defer cancel()
	_, err := w.notifier.Send(sendCtx, msg)
	w.metrics.Notification(msg.Kind, err)
	if err != nil {
		w.logger.Warn("notification failed",
			zap.Int("shard", shard),
			zap.String("kind", msg.Kind),
			zap.Int64("chat_id", msg.ChatID),
			zap.Error(err))
	}
}

// Stop closes the queues and waits until everything already queued is sent.
func (w *NotificationWorker) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	for _, q := range w.queues {
		close(q)
	}
	w.mu.Unlock()

	w.wg.Wait()
	w.logger.Info("notification worker stopped")
}
