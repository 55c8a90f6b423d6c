// Package notify delivers safety alerts to external channels.
package notify

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	tele "gopkg.in/telebot.v3"

	"github.com/analytical-punch/trading-backend/pkg/types"
)

// Telegram forwards alerts to a Telegram chat. It satisfies the safety
// manager's alert handler interface; delivery failures are logged, never
// propagated back into the safety path.
type Telegram struct {
	logger *zap.Logger
	bot    *tele.Bot
	chat   *tele.Chat
}

// NewTelegram creates a notifier. Returns (nil, nil) when the channel is
// disabled; a nil notifier drops every alert.
func NewTelegram(logger *zap.Logger, cfg types.NotifyConfig) (*Telegram, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	bot, err := tele.NewBot(tele.Settings{
		Token:  cfg.TelegramToken,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}

	logger.Info("telegram notifier connected", zap.Int64("chat_id", cfg.ChatID))
	return &Telegram{
		logger: logger,
		bot:    bot,
		chat:   &tele.Chat{ID: cfg.ChatID},
	}, nil
}

// HandleAlert sends the alert to the configured chat.
func (t *Telegram) HandleAlert(alert types.Alert) {
	if t == nil {
		return
	}

	msg := fmt.Sprintf("[%s] %s\n%s", alert.Level, alert.Source, alert.Message)
	if alert.BotID != "" {
		msg += "\nbot: " + alert.BotID
	}

	if _, err := t.bot.Send(t.chat, msg); err != nil {
		t.logger.Warn("telegram delivery failed",
			zap.String("alert_id", alert.ID),
			zap.Error(err))
	}
}
