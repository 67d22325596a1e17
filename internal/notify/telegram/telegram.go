// Package telegram implements a concrete C8 sink that forwards
// command-completion and recovery events to a Telegram chat, for
// operators who want a push channel instead of polling /metrics.
package telegram

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/hrygo/dbgtoolsrv/internal/logging"
	"github.com/hrygo/dbgtoolsrv/internal/notify"
)

// Config configures the sink's bot token, destination chat, and which
// event kinds are worth a push (heartbeats are noisy and off by default).
type Config struct {
	BotToken    string
	ChatID      int64
	SendHeartbeats bool
}

// Sink publishes notify.Event values to a Telegram chat. It never
// blocks the pipeline on delivery failure: errors are logged and
// swallowed, per spec §4.8.
type Sink struct {
	bot  *tgbotapi.BotAPI
	cfg  Config
	log  *logging.Logger
}

// New builds a Sink from a bot token. log may be nil.
func New(cfg Config, log *logging.Logger) (*Sink, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("telegram notify sink: %w", err)
	}
	if log == nil {
		log = logging.Default()
	}
	return &Sink{bot: bot, cfg: cfg, log: log}, nil
}

// Notify implements notify.Sink.
func (s *Sink) Notify(_ context.Context, event notify.Event, commandID string, detail map[string]any) {
	if event == notify.EventHeartbeat && !s.cfg.SendHeartbeats {
		return
	}
	if event == notify.EventQueued || event == notify.EventExecuting {
		return // too chatty to be worth a push; completion/failure/recovery matter
	}

	text := formatEvent(event, commandID, detail)
	msg := tgbotapi.NewMessage(s.cfg.ChatID, text)
	if _, err := s.bot.Send(msg); err != nil {
		s.log.Warn("telegram notify send failed", "event", string(event), "command_id", commandID, "error", err)
	}
}

func formatEvent(event notify.Event, commandID string, detail map[string]any) string {
	switch event {
	case notify.EventCompleted:
		return "command " + commandID + " completed (elapsed " + fmt.Sprint(detail["elapsed"]) + ")"
	case notify.EventFailed:
		return "command " + commandID + " FAILED: " + fmt.Sprint(detail["error"])
	case notify.EventRecovery:
		return "recovery for " + commandID + ": " + fmt.Sprint(detail["reason"]) + " -> " + fmt.Sprint(detail["success"])
	case notify.EventHeartbeat:
		return "command " + commandID + " still running (" + fmt.Sprint(detail["elapsed"]) + ")"
	default:
		return string(event) + " " + commandID
	}
}
