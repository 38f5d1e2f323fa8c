package service

import (
	"context"
	"fmt"
	storage "kis_trader/internal/modules/storage/service"
	"kis_trader/pkg/logger"
	"strings"
	"time"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Telegram sends alerts to one chat and answers /sessions.
type Telegram struct {
	bot      *tgbot.BotAPI
	chatID   int64
	env      string
	sessions storage.SessionStore
	now      func() time.Time
}

func NewTelegram(token string, chatID int64, env string, sessions storage.SessionStore) (*Telegram, error) {
	b, err := tgbot.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return &Telegram{
		bot:      b,
		chatID:   chatID,
		env:      env,
		sessions: sessions,
		now:      time.Now,
	}, nil
}

func (t *Telegram) Send(_ context.Context, level Level, message string, fields Fields) {
	if t == nil || t.bot == nil || t.chatID == 0 {
		return
	}
	text := Format(t.env, t.now(), level, message, fields)
	if _, err := t.bot.Send(tgbot.NewMessage(t.chatID, text)); err != nil {
		logger.Error("[TG] send failed: %v", err)
	}
}

// Start: long-polling for commands from the configured chat.
func (t *Telegram) Start(ctx context.Context) {
	if t == nil || t.bot == nil {
		return
	}

	u := tgbot.NewUpdate(0)
	u.Timeout = 30
	u.AllowedUpdates = []string{"message"}

	updates := t.bot.GetUpdatesChan(u)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case upd, ok := <-updates:
				if !ok {
					return
				}
				msg := upd.Message
				if msg == nil || msg.Chat == nil || msg.Chat.ID != t.chatID || !msg.IsCommand() {
					continue
				}
				switch msg.Command() {
				case "sessions":
					go t.handleSessions(ctx)
				}
			}
		}
	}()
}

func (t *Telegram) Stop() {
	if t != nil && t.bot != nil {
		t.bot.StopReceivingUpdates()
	}
}

// handleSessions answers /sessions with the open sessions from the store.
func (t *Telegram) handleSessions(ctx context.Context) {
	list, err := t.sessions.List(ctx)
	if err != nil {
		t.reply(fmt.Sprintf("❗️ sessions: %v", err))
		return
	}
	if len(list) == 0 {
		t.reply("📭 No open sessions")
		return
	}

	var b strings.Builder
	b.WriteString("📊 Open sessions:\n")
	for _, s := range list {
		fmt.Fprintf(&b, "- #%d %s %s qty=%d avg=%d spent=%d/%d tranches=%d since %s\n",
			s.ID, s.Ticker, s.Name, s.Quantity, s.AvgPrice, s.SpentFund, s.Fund, s.Tranches,
			s.StartDate.Format("2006-01-02"))
	}
	t.reply(b.String())
}

func (t *Telegram) reply(text string) {
	if _, err := t.bot.Send(tgbot.NewMessage(t.chatID, text)); err != nil {
		logger.Error("[TG] reply failed: %v", err)
	}
}
