package services

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/phonginreallife/inres-oncall/internal/apperr"
	"github.com/phonginreallife/inres-oncall/internal/observability"
)

// TelegramService implements Notifier on the Telegram Bot API.
type TelegramService struct {
	bot    *tgbotapi.BotAPI
	logger *zap.Logger
}

var _ Notifier = (*TelegramService)(nil)

func NewTelegramService(token string, logger *zap.Logger) (*TelegramService, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to telegram: %w", err)
	}
	logger = observability.OrNop(logger)
	logger.Info("telegram bot authorized", zap.String("username", bot.Self.UserName))
	return &TelegramService{bot: bot, logger: logger}, nil
}

// Username is the bot's @handle without the @.
func (s *TelegramService) Username() string {
	return s.bot.Self.UserName
}

func inlineKeyboard(rows [][]Button) tgbotapi.InlineKeyboardMarkup {
	out := make([][]tgbotapi.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			data := b.Data
			if data == "" {
				data = NoopToken()
			}
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Text, data))
		}
		out = append(out, tgbotapi.NewInlineKeyboardRow(buttons...))
	}
	return tgbotapi.NewInlineKeyboardMarkup(out...)
}

func (s *TelegramService) Send(_ context.Context, msg Message) (MessageRef, error) {
	cfg := tgbotapi.NewMessage(msg.ChatID, msg.Text)
	if msg.Markdown {
		cfg.ParseMode = tgbotapi.ModeMarkdown
	}
	if len(msg.Keyboard) > 0 {
		cfg.ReplyMarkup = inlineKeyboard(msg.Keyboard)
	}
	cfg.DisableNotification = msg.Priority == PriorityLow

	sent, err := s.bot.Send(cfg)
	if err != nil {
		return MessageRef{}, apperr.Channel(err, "Failed to send message to %d", msg.ChatID)
	}
	return MessageRef{ChatID: sent.Chat.ID, MessageID: sent.MessageID}, nil
}

func (s *TelegramService) Edit(_ context.Context, ref MessageRef, msg Message) error {
	var cfg tgbotapi.EditMessageTextConfig
	if len(msg.Keyboard) > 0 {
		cfg = tgbotapi.NewEditMessageTextAndMarkup(ref.ChatID, ref.MessageID, msg.Text, inlineKeyboard(msg.Keyboard))
	} else {
		cfg = tgbotapi.NewEditMessageText(ref.ChatID, ref.MessageID, msg.Text)
	}
	if msg.Markdown {
		cfg.ParseMode = tgbotapi.ModeMarkdown
	}
	if _, err := s.bot.Request(cfg); err != nil {
		// pressing a button that changes nothing is not a failure
		if strings.Contains(err.Error(), "message is not modified") {
			return nil
		}
		return apperr.Channel(err, "Failed to edit message %d", ref.MessageID)
	}
	return nil
}

func (s *TelegramService) Delete(_ context.Context, ref MessageRef) error {
	if _, err := s.bot.Request(tgbotapi.NewDeleteMessage(ref.ChatID, ref.MessageID)); err != nil {
		return fmt.Errorf("failed to delete message %d: %w", ref.MessageID, err)
	}
	return nil
}

func (s *TelegramService) AnswerCallback(_ context.Context, callbackID, text string) error {
	if _, err := s.bot.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		return fmt.Errorf("failed to answer callback: %w", err)
	}
	return nil
}

// Updates long-polls Telegram until ctx is cancelled.
func (s *TelegramService) Updates(ctx context.Context) tgbotapi.UpdatesChannel {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := s.bot.GetUpdatesChan(u)
	go func() {
		<-ctx.Done()
		s.bot.StopReceivingUpdates()
	}()
	return updates
}

// SetWebhook registers url with Telegram. Polling stops working while a webhook is set.
func (s *TelegramService) SetWebhook(url string) error {
	wh, err := tgbotapi.NewWebhook(url)
	if err != nil {
		return fmt.Errorf("invalid webhook url: %w", err)
	}
	if _, err := s.bot.Request(wh); err != nil {
		return fmt.Errorf("failed to set webhook: %w", err)
	}
	s.logger.Info("telegram webhook registered")
	return nil
}

// RemoveWebhook switches the bot back to polling.
func (s *TelegramService) RemoveWebhook() error {
	if _, err := s.bot.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		return fmt.Errorf("failed to delete webhook: %w", err)
	}
	return nil
}
