package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"weibo_feed/internal/model"
)

const maxMessageRunes = 4096

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram posts a summary of new entries to a chat.
type Telegram struct {
	api    telegramAPI
	chatID int64
	title  string
	log    *slog.Logger
}

// NewTelegram creates a Telegram notifier with the given bot token.
func NewTelegram(token string, chatID int64, feedTitle string, log *slog.Logger) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	return newTelegram(api, chatID, feedTitle, log), nil
}

func newTelegram(api telegramAPI, chatID int64, feedTitle string, log *slog.Logger) *Telegram {
	return &Telegram{api: api, chatID: chatID, title: feedTitle, log: log}
}

// Announce sends one message listing entries. Nothing is sent for an empty
// list.
func (t *Telegram) Announce(ctx context.Context, entries []model.FeedEntry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(t.chatID, FormatAnnouncement(t.title, entries))
	msg.DisableWebPagePreview = true
	if _, err := t.api.Send(msg); err != nil {
		return fmt.Errorf("send message to %d: %w", t.chatID, err)
	}
	t.log.Info("sent announcement", "chat_id", t.chatID, "entries", len(entries))
	return nil
}

// FormatAnnouncement renders entries as a plain-text message, dropping
// entries that would push it past the Telegram size limit.
func FormatAnnouncement(feedTitle string, entries []model.FeedEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %d new\n", feedTitle, len(entries))

	for i, e := range entries {
		var item strings.Builder
		item.WriteString("\n")
		item.WriteString(e.Title)
		if e.Link != "" {
			item.WriteString("\n")
			item.WriteString(e.Link)
		}
		item.WriteString("\n")

		more := fmt.Sprintf("\n... and %d more", len(entries)-i)
		if utf8.RuneCountInString(b.String())+utf8.RuneCountInString(item.String())+utf8.RuneCountInString(more) > maxMessageRunes {
			b.WriteString(more)
			break
		}
		b.WriteString(item.String())
	}
	return strings.TrimRight(b.String(), "\n")
}
