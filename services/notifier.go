package services

import (
	"context"

	"go.uber.org/zap"

	"github.com/phonginreallife/inres-oncall/internal/observability"
)

// Priority hints how loudly the channel should deliver a message.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Button is an inline control bound to an opaque callback token.
type Button struct {
	Text string
	Data string
}

// Message is an outbound chat message.
type Message struct {
	ChatID   int64
	Text     string
	Keyboard [][]Button
	Priority Priority
	Markdown bool

	// Kind labels the message in logs and metrics.
	Kind string
}

// MessageRef identifies a delivered message so it can be edited or deleted.
type MessageRef struct {
	ChatID    int64
	MessageID int
}

// Notifier is the chat transport.
type Notifier interface {
	Send(ctx context.Context, msg Message) (MessageRef, error)
	Edit(ctx context.Context, ref MessageRef, msg Message) error
	Delete(ctx context.Context, ref MessageRef) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

// Dispatcher delivers messages without the caller waiting on, or seeing, failures.
type Dispatcher interface {
	Dispatch(ctx context.Context, msgs ...Message)
}

// Pusher sends mobile push alerts to everyone subscribed to a team.
type Pusher interface {
	PushToTeam(ctx context.Context, team string, alert PushAlert) error
}

// PushAlert is the payload of a mobile push.
type PushAlert struct {
	Title      string
	Body       string
	IncidentID string
	Kind       string
}

// DirectDispatcher sends inline and only logs failures. Order of msgs is kept.
type DirectDispatcher struct {
	notifier Notifier
	logger   *zap.Logger
	metrics  *observability.Metrics
}

func NewDirectDispatcher(notifier Notifier, logger *zap.Logger, metrics *observability.Metrics) *DirectDispatcher {
	return &DirectDispatcher{notifier: notifier, logger: observability.OrNop(logger), metrics: metrics}
}

func (d *DirectDispatcher) Dispatch(ctx context.Context, msgs ...Message) {
	for _, msg := range msgs {
		_, err := d.notifier.Send(ctx, msg)
		d.metrics.Notification(msg.Kind, err)
		if err != nil {
			d.logger.Warn("notification failed",
				zap.String("kind", msg.Kind),
				zap.Int64("chat_id", msg.ChatID),
				zap.Error(err))
		}
	}
}
