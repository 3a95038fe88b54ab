package services

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"
)

type recordingDispatcher struct {
	mu   sync.Mutex
	msgs []Message
}

func (d *recordingDispatcher) Dispatch(_ context.Context, msgs ...Message) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.msgs = append(d.msgs, msgs...)
}

func (d *recordingDispatcher) kinds() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.msgs))
	for i, m := range d.msgs {
		out[i] = m.Kind
	}
	return out
}

func (d *recordingDispatcher) byKind(kind string) []Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []Message
	for _, m := range d.msgs {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

func (d *recordingDispatcher) reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.msgs = nil
}

type scheduledTask struct {
	Task  Task
	Delay time.Duration
}

type fakeScheduler struct {
	mu    sync.Mutex
	tasks []scheduledTask
}

func (s *fakeScheduler) Schedule(task Task, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, scheduledTask{Task: task, Delay: delay})
}

type mockPusher struct {
	mock.Mock
}

func (m *mockPusher) PushToTeam(_ context.Context, team string, alert PushAlert) error {
	args := m.Called(team, alert.Kind)
	return args.Error(0)
}

// testClock is a manually advanced clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	mu       sync.Mutex
	sent     []Message
	failWith error
}

func (n *recordingNotifier) Send(_ context.Context, msg Message) (MessageRef, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failWith != nil {
		return MessageRef{}, n.failWith
	}
	n.sent = append(n.sent, msg)
	return MessageRef{ChatID: msg.ChatID, MessageID: len(n.sent)}, nil
}

func (n *recordingNotifier) Edit(context.Context, MessageRef, Message) error { return nil }

func (n *recordingNotifier) Delete(context.Context, MessageRef) error { return nil }

func (n *recordingNotifier) AnswerCallback(context.Context, string, string) error { return nil }
