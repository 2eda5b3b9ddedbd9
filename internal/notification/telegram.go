package notification

import (
	"context"
	"fmt"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// chattableSender is the part of *tgbot.BotAPI we use.
type chattableSender interface {
	Send(c tgbot.Chattable) (tgbot.Message, error)
}

// TelegramNotifier sends alerts via the Telegram Bot API.
type TelegramNotifier struct {
	bot    chattableSender
	chatID int64
	log    *zap.Logger
}

// NewTelegramNotifier creates a Telegram notifier. It contacts Telegram once
// to validate the token.
func NewTelegramNotifier(token string, chatID int64, log *zap.Logger) (*TelegramNotifier, error) {
	if token == "" || chatID == 0 {
		return nil, errors.New("telegram: token and chat id are required")
	}
	bot, err := tgbot.NewBotAPI(token)
	if err != nil {
		return nil, errors.Wrap(err, "telegram: init bot")
	}
	return newTelegramNotifier(bot, chatID, log), nil
}

func newTelegramNotifier(bot chattableSender, chatID int64, log *zap.Logger) *TelegramNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &TelegramNotifier{bot: bot, chatID: chatID, log: log.Named("telegram")}
}

func (t *TelegramNotifier) Send(ctx context.Context, alert Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbot.NewMessage(t.chatID, formatTelegram(alert))
	msg.ParseMode = tgbot.ModeMarkdownV2
	if _, err := t.bot.Send(msg); err != nil {
		return errors.Wrap(err, "telegram: send")
	}

	t.log.Debug("sent alert", zap.String("title", alert.Title))
	return nil
}

func formatTelegram(alert Alert) string {
	emoji := "ℹ️"
	switch alert.Level {
	case AlertWarning:
		emoji = "⚠️"
	case AlertCritical:
		emoji = "🚨"
	}
	title := alert.Title
	if alert.Symbol != "" {
		title = fmt.Sprintf("%s [%s]", alert.Title, alert.Symbol)
	}
	return fmt.Sprintf("%s *%s*\n\n%s", emoji,
		tgbot.EscapeText(tgbot.ModeMarkdownV2, title),
		tgbot.EscapeText(tgbot.ModeMarkdownV2, alert.Message))
}
