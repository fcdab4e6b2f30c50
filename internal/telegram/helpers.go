package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf16"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/VictorysHerald/RS-Event-score-counter-bot/internal/service"
	"go.uber.org/zap"
)

// htmlEscaper escapes the only characters Telegram's HTML mode requires.
var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func escape(s string) string {
	return htmlEscaper.Replace(s)
}

func sendMessage(bot MessageSender, msg tgbotapi.Chattable, logger *zap.Logger) {
	if _, err := bot.Send(msg); err != nil {
		logger.Warn("failed to send message", zap.Error(err))
	}
}

// htmlMessage - a reply rendered with Telegram's HTML parse mode
func htmlMessage(chatID int64, text string) tgbotapi.MessageConfig {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	return msg
}

// preMessage - a bold title over a monospace block. Formatting is carried by
// entities, so the content is sent as is and keeps its exact length.
func preMessage(chatID int64, title, content string) tgbotapi.MessageConfig {
	msg := tgbotapi.NewMessage(chatID, title+"\n"+content)
	titleLen := utf16Len(title)
	msg.Entities = []tgbotapi.MessageEntity{{Type: "bold", Offset: 0, Length: titleLen}}
	if n := utf16Len(content); n > 0 {
		msg.Entities = append(msg.Entities, tgbotapi.MessageEntity{Type: "pre", Offset: titleLen + 1, Length: n})
	}
	return msg
}

func utf16Len(s string) int {
	return len(utf16.Encode([]rune(s)))
}

// mention links to the user by ID, showing the chat name when it is known.
func mention(ctx context.Context, names service.NameResolver, playerID int64) string {
	name, ok := names.DisplayName(ctx, playerID)
	if !ok {
		name = service.Placeholder(playerID)
	}
	return fmt.Sprintf(`<a href="tg://user?id=%d">%s</a>`, playerID, escape(name))
}

// formatPoints prints at most three decimals without trailing zeros: 5, 2.5, 3.333.
func formatPoints(v float64) string {
	s := strconv.FormatFloat(v, 'f', 3, 64)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}
