package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

const telegramAPI = "https://api.telegram.org"

// markdownV2 escapes the characters Telegram reserves in MarkdownV2 text.
var markdownV2 = strings.NewReplacer(
	`_`, `\_`, `*`, `\*`, `[`, `\[`, `]`, `\]`, `(`, `\(`, `)`, `\)`,
	`~`, `\~`, "`", "\\`", `>`, `\>`, `#`, `\#`, `+`, `\+`, `-`, `\-`,
	`=`, `\=`, `|`, `\|`, `{`, `\{`, `}`, `\}`, `.`, `\.`, `!`, `\!`,
)

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// telegramReply is the Bot API envelope. ok=false carries the reason.
type telegramReply struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// TelegramNotifier posts alerts to one chat through the Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	poster   poster
	log      zerolog.Logger
}

// NewTelegramNotifier creates a Telegram notifier for chatID. The Bot API
// allows about one message per second per chat.
func NewTelegramNotifier(botToken, chatID string, l zerolog.Logger) *TelegramNotifier {
	l = l.With().Str("component", "telegram").Logger()
	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  telegramAPI,
		poster:   newPoster("telegram", 1, l),
		log:      l,
	}
}

func (t *TelegramNotifier) Send(ctx context.Context, alert Alert) error {
	msg := telegramMessage{
		ChatID:    t.chatID,
		Text:      formatTelegram(alert),
		ParseMode: "MarkdownV2",
	}
	raw, err := t.poster.post(ctx, fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.botToken), msg)
	if err != nil {
		return err
	}

	var reply telegramReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return fmt.Errorf("telegram: decode reply: %w", err)
	}
	if !reply.OK {
		return fmt.Errorf("telegram: rejected: %s", reply.Description)
	}
	t.log.Debug().Str("title", alert.Title).Msg("alert delivered")
	return nil
}

func formatTelegram(a Alert) string {
	return fmt.Sprintf("%s *%s*\n\n%s", levelEmoji(a.Level), markdownV2.Replace(a.Title), markdownV2.Replace(a.Message))
}

func levelEmoji(l AlertLevel) string {
	switch l {
	case AlertWarning:
		return "⚠️"
	case AlertCritical:
		return "🚨"
	}
	return "ℹ️"
}
