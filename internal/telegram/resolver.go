package telegram

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// ChatMemberResolver looks players up among the members of one chat.
// Results are cached for the resolver's lifetime, one resolver per command.
type ChatMemberResolver struct {
	api    MessageSender
	chatID int64
	logger *zap.Logger
	cache  map[int64]string
}

func NewChatMemberResolver(api MessageSender, chatID int64, logger *zap.Logger) *ChatMemberResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatMemberResolver{
		api:    api,
		chatID: chatID,
		logger: logger,
		cache:  make(map[int64]string),
	}
}

// DisplayName - full name of the member, or the username when the name is empty
func (r *ChatMemberResolver) DisplayName(ctx context.Context, playerID int64) (string, bool) {
	if name, ok := r.cache[playerID]; ok {
		return name, name != ""
	}

	member, err := r.api.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{ChatID: r.chatID, UserID: playerID},
	})
	name := ""
	if err != nil {
		r.logger.Debug("chat member lookup failed", zap.Int64("player_id", playerID), zap.Error(err))
	} else {
		name = userName(member.User)
	}
	r.cache[playerID] = name
	return name, name != ""
}

func userName(u *tgbotapi.User) string {
	if u == nil {
		return ""
	}
	if name := strings.TrimSpace(u.FirstName + " " + u.LastName); name != "" {
		return name
	}
	return u.UserName
}
