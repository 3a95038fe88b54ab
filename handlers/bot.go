package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/phonginreallife/inres-oncall/authz"
	"github.com/phonginreallife/inres-oncall/db"
	"github.com/phonginreallife/inres-oncall/internal/apperr"
	"github.com/phonginreallife/inres-oncall/internal/observability"
	"github.com/phonginreallife/inres-oncall/services"
)

const defaultUpdateTimeout = 30 * time.Second

// BotHandler turns Telegram updates into service calls and replies.
type BotHandler struct {
	notifier   services.Notifier
	dispatcher services.Dispatcher
	directory  *services.DirectoryService
	roster     *services.RosterService
	escalation *services.EscalationService
	logger     *zap.Logger
	metrics    *observability.Metrics

	// BotUsername lets "/cmd@thisbot" through and drops commands meant for other bots.
	BotUsername   string
	UpdateTimeout time.Duration

	wg sync.WaitGroup
}

func NewBotHandler(
	notifier services.Notifier,
	dispatcher services.Dispatcher,
	directory *services.DirectoryService,
	roster *services.RosterService,
	escalation *services.EscalationService,
	logger *zap.Logger,
	metrics *observability.Metrics,
) *BotHandler {
	return &BotHandler{
		notifier:      notifier,
		dispatcher:    dispatcher,
		directory:     directory,
		roster:        roster,
		escalation:    escalation,
		logger:        observability.OrNop(logger),
		metrics:       metrics,
		UpdateTimeout: defaultUpdateTimeout,
	}
}

// Poll feeds updates to Dispatch until ctx is done or the channel closes.
func (h *BotHandler) Poll(ctx context.Context, updates <-chan tgbotapi.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			h.Dispatch(ctx, u)
		}
	}
}

// Dispatch handles the update on its own goroutine so a slow store call never
// blocks the next update. Cancelling ctx does not abort it.
func (h *BotHandler) Dispatch(ctx context.Context, update tgbotapi.Update) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				h.logger.Error("update handler panicked", zap.Int("update_id", update.UpdateID), zap.Any("panic", r))
			}
		}()
		uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.UpdateTimeout)
		defer cancel()
		h.HandleUpdate(uctx, update)
	}()
}

// Wait blocks until every dispatched update has been handled.
func (h *BotHandler) Wait() {
	h.wg.Wait()
}

func (h *BotHandler) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		h.metrics.Inbound("callback")
		h.HandleCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		h.metrics.Inbound("message")
		h.HandleMessage(ctx, update.Message)
	default:
		h.metrics.Inbound("other")
	}
}

// HandleMessage runs a slash command. Other text is ignored.
func (h *BotHandler) HandleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil || msg.Chat == nil {
		return
	}
	chatID := msg.Chat.ID
	inv, err := ParseCommand(msg.Text, h.BotUsername)
	if err != nil {
		h.reply(ctx, chatID, errorText(err))
		return
	}
	if inv == nil {
		return
	}

	actorID := msg.From.ID
	h.logger.Info("command received",
		zap.String("command", string(inv.Command)),
		zap.Int64("actor_id", actorID),
		zap.Int64("chat_id", chatID))

	switch inv.Command {
	case CmdStart:
		h.start(ctx, chatID, msg.From)
	case CmdSetAdmin:
		h.grant(ctx, chatID, actorID, inv, db.RoleAdmin)
	case CmdSetLead:
		h.grant(ctx, chatID, actorID, inv, db.RoleLead)
	case CmdAddUser:
		h.grant(ctx, chatID, actorID, inv, db.RoleUser)
	case CmdGetRoles:
		h.getRoles(ctx, chatID, actorID, inv.ID)
	case CmdAllRoles:
		h.allRoles(ctx, chatID, actorID, inv.Team)
	case CmdSetRoster:
		h.setRoster(ctx, chatID, actorID)
	case CmdCancel:
		h.cancelRoster(ctx, chatID, actorID)
	case CmdViewRoster:
		h.viewRoster(ctx, chatID, inv.Team)
	case CmdTodayRoster:
		h.todayRoster(ctx, chatID, inv.Team)
	case CmdCritical:
		h.critical(ctx, chatID, actorID, inv)
	case CmdHelp:
		h.send(ctx, services.Message{ChatID: chatID, Text: HelpText(), Markdown: true, Kind: "help"})
	}
}

func (h *BotHandler) start(ctx context.Context, chatID int64, from *tgbotapi.User) {
	user, _, err := h.directory.Register(ctx, from.ID)
	if err != nil {
		h.reply(ctx, chatID, errorText(err))
		return
	}
	if user.Verified {
		team := ""
		if user.Team != "" {
			team = " in " + user.Team
		}
		h.reply(ctx, chatID, fmt.Sprintf("✅ Welcome back, %s! Your roles: %s%s.", user.DisplayName(), rolesText(user.Roles), team))
		return
	}

	h.reply(ctx, chatID, fmt.Sprintf("Your Telegram ID is: %d\nPlease share this ID with your admin or lead to get registered.", from.ID))

	staff, err := h.directory.AdminsAndLeads(ctx)
	if err != nil {
		h.logger.Warn("failed to load admins and leads", zap.Error(err))
		return
	}
	username := from.UserName
	if username == "" {
		username = "Unknown"
	}
	notices := make([]services.Message, 0, len(staff))
	for _, u := range staff {
		notices = append(notices, services.Message{
			Kind:   "join_request",
			ChatID: u.ID,
			Text:   fmt.Sprintf("🔔 New user wants to join: %s, Telegram ID: %d", username, from.ID),
		})
	}
	h.dispatcher.Dispatch(ctx, notices...)
}

func (h *BotHandler) grant(ctx context.Context, chatID, actorID int64, inv *Invocation, role db.Role) {
	user, err := h.directory.Grant(ctx, actorID, db.UserUpsert{
		ID:       inv.ID,
		FullName: inv.FullName,
		Phone:    inv.Phone,
		Team:     inv.Team,
		Role:     role,
	})
	if err != nil {
		h.reply(ctx, chatID, errorText(err))
		return
	}
	switch role {
	case db.RoleAdmin:
		h.reply(ctx, chatID, fmt.Sprintf("✅ Admin profile set for %s (%s).", user.DisplayName(), user.Phone))
	case db.RoleLead:
		h.reply(ctx, chatID, fmt.Sprintf("✅ Lead %s set for team %s.", user.DisplayName(), user.Team))
	default:
		h.reply(ctx, chatID, fmt.Sprintf("✅ Added %s to team %s.", user.DisplayName(), user.Team))
	}
}

func (h *BotHandler) getRoles(ctx context.Context, chatID, actorID, targetID int64) {
	user, err := h.directory.User(ctx, actorID, targetID)
	if err != nil {
		h.reply(ctx, chatID, errorText(err))
		return
	}
	h.reply(ctx, chatID, userCard(user))
}

func (h *BotHandler) allRoles(ctx context.Context, chatID, actorID int64, team string) {
	members, err := h.directory.TeamMembers(ctx, actorID, team)
	if err != nil {
		h.reply(ctx, chatID, errorText(err))
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "👥 Team %s Members:\n\n", team)
	for i := range members {
		b.WriteString(userCard(&members[i]))
		b.WriteString("\n\n")
	}
	h.reply(ctx, chatID, strings.TrimRight(b.String(), "\n"))
}

func (h *BotHandler) setRoster(ctx context.Context, chatID, actorID int64) {
	reply, err := h.roster.Start(ctx, actorID)
	if err != nil {
		h.reply(ctx, chatID, errorText(err))
		return
	}
	msg := services.Message{ChatID: chatID, Text: reply.Text, Keyboard: reply.Keyboard, Kind: "roster_calendar"}
	_, err = h.notifier.Send(ctx, msg)
	h.metrics.Notification(msg.Kind, err)
	if err == nil {
		return
	}
	if apperr.KindOf(err) != apperr.KindChannel {
		err = apperr.Channel(err, "Failed to deliver roster calendar")
	}
	h.logger.Warn("roster calendar not delivered, session dropped",
		zap.Int64("actor_id", actorID), zap.Int64("chat_id", chatID), zap.Error(err))
	// nothing can drive a session whose calendar never arrived
	if _, cerr := h.roster.Cancel(ctx, actorID); cerr != nil {
		h.logger.Warn("failed to drop roster session", zap.Int64("actor_id", actorID), zap.Error(cerr))
	}
}

func (h *BotHandler) cancelRoster(ctx context.Context, chatID, actorID int64) {
	found, err := h.roster.Cancel(ctx, actorID)
	switch {
	case err != nil:
		h.reply(ctx, chatID, errorText(err))
	case found:
		h.reply(ctx, chatID, "❎ Roster setup cancelled. Nothing was saved.")
	default:
		h.reply(ctx, chatID, "No roster setup in progress.")
	}
}

func (h *BotHandler) viewRoster(ctx context.Context, chatID int64, team string) {
	done := h.loading(ctx, chatID, fmt.Sprintf("🔄 Fetching rosters for %s, please wait...", team))
	lines, err := h.directory.TeamRoster(ctx, team)
	done()
	if err != nil {
		h.reply(ctx, chatID, errorText(err))
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📅 Rosters for %s:\n\n", team)
	for _, l := range lines {
		fmt.Fprintf(&b, "🗓️ Date: %s\n", l.Entry.Date)
		fmt.Fprintf(&b, "👤 Primary: %s\n📱 Phone: %s\n🔗 Link: %s\n", l.Primary.DisplayName(), phoneText(l.Primary), linkText(l.Primary))
		fmt.Fprintf(&b, "👤 Secondary: %s\n📱 Phone: %s\n🔗 Link: %s\n\n", l.Secondary.DisplayName(), phoneText(l.Secondary), linkText(l.Secondary))
	}
	h.reply(ctx, chatID, strings.TrimRight(b.String(), "\n"))
}

func (h *BotHandler) todayRoster(ctx context.Context, chatID int64, team string) {
	done := h.loading(ctx, chatID, fmt.Sprintf("🔄 Fetching today's roster for %s, please wait...", team))
	line, err := h.directory.TodayRoster(ctx, team)
	done()
	if err != nil {
		h.reply(ctx, chatID, errorText(err))
		return
	}
	h.reply(ctx, chatID, fmt.Sprintf("📅 Roster for %s on %s:\nPrimary: %s (%s)\nLink: %s\nSecondary: %s (%s)\nLink: %s",
		team, line.Entry.Date,
		line.Primary.DisplayName(), phoneText(line.Primary), linkText(line.Primary),
		line.Secondary.DisplayName(), phoneText(line.Secondary), linkText(line.Secondary)))
}

func (h *BotHandler) critical(ctx context.Context, chatID, actorID int64, inv *Invocation) {
	if err := h.directory.Authorize(ctx, actorID, authz.ActionReportIncident); err != nil {
		h.reply(ctx, chatID, errorText(err))
		return
	}
	inc, err := h.escalation.ReportIncident(ctx, services.ReportRequest{
		Team:       inv.Team,
		Issue:      inv.Text,
		ReporterID: actorID,
		ChatID:     chatID,
	})
	if err != nil {
		h.reply(ctx, chatID, errorText(err))
		return
	}
	h.logger.Info("critical issue reported", zap.String("incident_id", inc.ID), zap.Int64("reporter_id", actorID))
}

// HandleCallback routes a button press: roster first, then acknowledgments.
// The press is always answered so the client stops its spinner.
func (h *BotHandler) HandleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) {
	answer := ""
	defer func() {
		if err := h.notifier.AnswerCallback(ctx, q.ID, answer); err != nil {
			h.logger.Debug("failed to answer callback", zap.Error(err))
		}
	}()
	if q.From == nil || q.Message == nil || q.Message.Chat == nil {
		return
	}
	actorID, chatID := q.From.ID, q.Message.Chat.ID

	cb, err := services.ParseCallback(q.Data)
	if err != nil {
		h.logger.Warn("malformed callback", zap.String("data", q.Data), zap.Error(err))
		return
	}
	if cb.Kind == services.CallbackNoop {
		return
	}

	reply, handled, err := h.roster.HandleCallback(ctx, actorID, cb)
	if err != nil {
		h.reply(ctx, chatID, errorText(err))
		return
	}
	if handled {
		answer = h.presentRoster(ctx, q.Message, reply)
		return
	}

	switch cb.Kind {
	case services.CallbackAck:
		if _, err := h.escalation.Acknowledge(ctx, cb.IncidentID, actorID); err != nil {
			h.reply(ctx, chatID, errorText(err))
			return
		}
		answer = "Acknowledged"
	case services.CallbackSelectDate, services.CallbackPrevMonth, services.CallbackNextMonth,
		services.CallbackConfirmDates, services.CallbackSelectMember:
		answer = "No active roster at this step. Use /setroster to start again."
	}
}

// presentRoster shows a roster reply and returns the text for the callback answer.
func (h *BotHandler) presentRoster(ctx context.Context, source *tgbotapi.Message, reply *services.RosterReply) string {
	chatID := source.Chat.ID
	switch reply.Kind {
	case services.RosterReplyWarning:
		return reply.Text
	case services.RosterReplyCalendar:
		ref := services.MessageRef{ChatID: chatID, MessageID: source.MessageID}
		msg := services.Message{ChatID: chatID, Text: reply.Text, Keyboard: reply.Keyboard, Kind: "roster_calendar"}
		if err := h.notifier.Edit(ctx, ref, msg); err != nil {
			h.logger.Warn("failed to update calendar", zap.Int64("chat_id", chatID), zap.Error(err))
		}
	case services.RosterReplyMembers:
		h.send(ctx, services.Message{ChatID: chatID, Text: reply.Text, Keyboard: reply.Keyboard, Kind: "roster_members"})
	case services.RosterReplyCommitted:
		h.send(ctx, services.Message{ChatID: chatID, Text: reply.Text, Kind: "roster_committed"})
	}
	return ""
}

// loading posts a quiet placeholder and returns a func that removes it.
func (h *BotHandler) loading(ctx context.Context, chatID int64, text string) func() {
	ref, err := h.notifier.Send(ctx, services.Message{ChatID: chatID, Text: text, Priority: services.PriorityLow, Kind: "loading"})
	if err != nil {
		h.logger.Debug("failed to send loading message", zap.Error(err))
		return func() {}
	}
	return func() {
		if err := h.notifier.Delete(ctx, ref); err != nil {
			h.logger.Debug("failed to delete loading message", zap.Error(err))
		}
	}
}

func (h *BotHandler) reply(ctx context.Context, chatID int64, text string) {
	h.send(ctx, services.Message{ChatID: chatID, Text: text, Kind: "reply"})
}

func (h *BotHandler) send(ctx context.Context, msg services.Message) {
	_, err := h.notifier.Send(ctx, msg)
	h.metrics.Notification(msg.Kind, err)
	if err != nil {
		h.logger.Warn("reply failed", zap.Int64("chat_id", msg.ChatID), zap.String("kind", msg.Kind), zap.Error(err))
	}
}

// errorText renders an error for the chat. Infrastructure failures keep their
// cause so the actor can report it.
func errorText(err error) string {
	var e *apperr.Error
	if !errors.As(err, &e) {
		return "❌ Error: " + err.Error()
	}
	switch e.Kind {
	case apperr.KindStore, apperr.KindChannel, apperr.KindInternal:
		return "❌ " + e.Error()
	}
	if strings.HasPrefix(e.Message, "⚠️") {
		return e.Message
	}
	return "❌ " + e.Message
}

func rolesText(roles db.RoleSet) string {
	if len(roles) == 0 {
		return "none"
	}
	return strings.Join(roles.Strings(), ", ")
}

func userCard(u *db.User) string {
	team := u.Team
	if team == "" {
		team = "None"
	}
	return fmt.Sprintf("👤 User: %s\n📱 Phone: %s\n💼 Roles: %s\n🏢 Team: %s",
		u.DisplayName(), phoneText(u), rolesText(u.Roles), team)
}

func phoneText(u *db.User) string {
	if !u.HasPhone() {
		return "N/A"
	}
	return u.Phone
}

func linkText(u *db.User) string {
	if !u.HasPhone() {
		return "No phone number"
	}
	return u.ContactLink()
}
