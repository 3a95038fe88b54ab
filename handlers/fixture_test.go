package handlers

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/require"

	"github.com/phonginreallife/inres-oncall/authz"
	"github.com/phonginreallife/inres-oncall/db"
	"github.com/phonginreallife/inres-oncall/services"
	"github.com/phonginreallife/inres-oncall/store"
)

const (
	superID     int64 = 1
	adminID     int64 = 2
	leadID      int64 = 10
	primaryID   int64 = 11
	secondaryID int64 = 12
	groupChat   int64 = -500
)

var fixedNow = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

type fakeNotifier struct {
	mu       sync.Mutex
	sent     []services.Message
	edited   []services.Message
	deleted  []services.MessageRef
	answered map[string]string
	// failKind makes Send fail for messages of that kind.
	failKind string
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{answered: map[string]string{}}
}

func (n *fakeNotifier) Send(_ context.Context, msg services.Message) (services.MessageRef, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failKind != "" && msg.Kind == n.failKind {
		return services.MessageRef{}, errors.New("Forbidden: bot was blocked by the user")
	}
	n.sent = append(n.sent, msg)
	return services.MessageRef{ChatID: msg.ChatID, MessageID: len(n.sent)}, nil
}

func (n *fakeNotifier) Edit(_ context.Context, _ services.MessageRef, msg services.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.edited = append(n.edited, msg)
	return nil
}

func (n *fakeNotifier) Delete(_ context.Context, ref services.MessageRef) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.deleted = append(n.deleted, ref)
	return nil
}

func (n *fakeNotifier) AnswerCallback(_ context.Context, id, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.answered[id] = text
	return nil
}

// textsTo returns what chatID received, loading placeholders excluded.
func (n *fakeNotifier) textsTo(chatID int64) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, m := range n.sent {
		if m.ChatID == chatID && m.Kind != "loading" {
			out = append(out, m.Text)
		}
	}
	return out
}

func (n *fakeNotifier) last(chatID int64) services.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.sent) - 1; i >= 0; i-- {
		if n.sent[i].ChatID == chatID && n.sent[i].Kind != "loading" {
			return n.sent[i]
		}
	}
	return services.Message{}
}

func (n *fakeNotifier) reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent, n.edited, n.deleted = nil, nil, nil
	n.answered = map[string]string{}
}

type nopScheduler struct{}

func (nopScheduler) Schedule(services.Task, time.Duration) {}

type botFixture struct {
	store      *store.MemoryStore
	notifier   *fakeNotifier
	directory  *services.DirectoryService
	escalation *services.EscalationService
	bot        *BotHandler
}

func newBotFixture(t *testing.T) *botFixture {
	t.Helper()
	ctx := context.Background()
	clock := func() time.Time { return fixedNow }
	st := store.NewMemoryStore().WithClock(clock)

	for _, u := range []db.UserUpsert{
		{ID: adminID, FullName: "Ada Admin", Phone: "+2", Role: db.RoleAdmin, Verified: true},
		{ID: leadID, FullName: "Lena Lead", Phone: "+10", Team: "linux", Role: db.RoleLead, Verified: true},
		{ID: primaryID, FullName: "Priya Primary", Phone: "+11", Team: "linux", Role: db.RoleUser, Verified: true},
		{ID: secondaryID, FullName: "Sam Secondary", Phone: "+12", Team: "linux", Role: db.RoleUser, Verified: true},
	} {
		_, err := st.UpsertUser(ctx, u)
		require.NoError(t, err)
	}

	gate := authz.NewGate(superID)
	notifier := newFakeNotifier()
	dispatcher := services.NewDirectDispatcher(notifier, nil, nil)

	directory := services.NewDirectoryService(st, gate, nil)
	directory.SetClock(clock, time.UTC)
	roster := services.NewRosterService(st, services.NewMemorySessionStore(), gate, nil, nil)
	roster.SetClock(clock, time.UTC)
	escalation := services.NewEscalationService(st, dispatcher, services.DefaultEscalationConfig(), nil, nil)
	escalation.SetClock(clock)
	escalation.SetScheduler(nopScheduler{})

	bot := NewBotHandler(notifier, dispatcher, directory, roster, escalation, nil, nil)
	bot.BotUsername = "inres_oncall_bot"
	return &botFixture{store: st, notifier: notifier, directory: directory, escalation: escalation, bot: bot}
}

func (f *botFixture) command(from int64, chatID int64, text string) {
	f.bot.HandleMessage(context.Background(), &tgbotapi.Message{
		MessageID: 1,
		From:      &tgbotapi.User{ID: from, UserName: "user" + strconv.FormatInt(from, 10)},
		Chat:      &tgbotapi.Chat{ID: chatID},
		Text:      text,
	})
}

var callbackSeq int

func (f *botFixture) press(from int64, chatID int64, messageID int, data string) string {
	callbackSeq++
	id := "cb-" + strconv.Itoa(callbackSeq)
	f.bot.HandleCallback(context.Background(), &tgbotapi.CallbackQuery{
		ID:      id,
		From:    &tgbotapi.User{ID: from},
		Message: &tgbotapi.Message{MessageID: messageID, Chat: &tgbotapi.Chat{ID: chatID}},
		Data:    data,
	})
	return id
}
