package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/VictorysHerald/RS-Event-score-counter-bot/internal/service"
	"go.uber.org/zap"
)

// MessageSender is the part of the Bot API the handlers talk to.
type MessageSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetChatMember(config tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error)
}

const (
	genericFailureText = "Something went wrong, please try again later."
	clearFailureText   = "An error occurred while trying to remove RS runs. Please try again."
)

type Handler struct {
	Bot              MessageSender
	Service          service.LedgerServiceInterface
	MaxMessageLength int
	logger           *zap.Logger
}

func NewHandler(bot MessageSender, svc service.LedgerServiceInterface, maxMessageLength int, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxMessageLength <= 0 {
		maxMessageLength = service.DefaultMaxMessageLength
	}
	return &Handler{
		Bot:              bot,
		Service:          svc,
		MaxMessageLength: maxMessageLength,
		logger:           logger,
	}
}

// HandleMessage parses a message and runs the command in it. Messages that
// aren't commands of this bot are ignored.
func (h *Handler) HandleMessage(ctx context.Context, msg *tgbotapi.Message) {
	cmd, err := ParseCommand(msg)
	if errors.Is(err, ErrUnknownCommand) {
		return
	}
	var usage *UsageError
	if errors.As(err, &usage) {
		reply := tgbotapi.NewMessage(msg.Chat.ID, usage.Error())
		reply.ReplyToMessageID = msg.MessageID
		sendMessage(h.Bot, reply, h.logger)
		return
	}
	h.Dispatch(ctx, msg.Chat.ID, cmd)
}

// Dispatch runs a parsed command in the given chat.
func (h *Handler) Dispatch(ctx context.Context, chatID int64, cmd Command) {
	switch c := cmd.(type) {
	case HelpCommand:
		h.HandleHelp(chatID)
	case LogRunCommand:
		h.HandleLogRun(ctx, chatID, c)
	case LeaderboardCommand:
		h.HandleLeaderboard(ctx, chatID)
	case RemoveRunCommand:
		h.HandleRemoveRun(ctx, chatID, c)
	case ClearHistoryCommand:
		h.HandleClearHistory(ctx, chatID)
	case MyScoreCommand:
		h.HandleMyScore(ctx, chatID, c)
	default:
		h.logger.Error("unhandled command", zap.String("type", fmt.Sprintf("%T", cmd)))
	}
}

// HandleHelp - /help
func (h *Handler) HandleHelp(chatID int64) {
	h.sendParts(chatID, "Help", h.Service.HelpText())
}

// HandleLogRun - /log_run
func (h *Handler) HandleLogRun(ctx context.Context, chatID int64, cmd LogRunCommand) {
	rec, err := h.Service.SubmitRun(ctx, cmd.Submission)
	switch {
	case errors.Is(err, service.ErrDuplicateParticipant), errors.Is(err, service.ErrNonPositivePoints):
		h.logger.Info("run wasn't logged", zap.Error(err))
		sendMessage(h.Bot, htmlMessage(chatID, "<b>RS run wasn't logged</b>\n"+escape(sentence(err))), h.logger)
		return
	case err != nil:
		h.failure(chatID, "log run", err, genericFailureText)
		return
	}

	names := NewChatMemberResolver(h.Bot, chatID, h.logger)
	var b strings.Builder
	b.WriteString("<b>RS run logged</b>\n")
	fmt.Fprintf(&b, "RS level: %d\n", rec.Level)
	fmt.Fprintf(&b, "Run type: %s\n", rec.Variant)
	fmt.Fprintf(&b, "Points: %d\n", rec.TotalPoints)
	fmt.Fprintf(&b, "Points per player: %.1f\n", rec.Share)
	fmt.Fprintf(&b, "Run ID: %d\n", rec.RunID)
	b.WriteString("Players:")
	for _, id := range rec.Participants {
		b.WriteString("\n- " + mention(ctx, names, id))
	}
	sendMessage(h.Bot, htmlMessage(chatID, b.String()), h.logger)
}

// HandleLeaderboard - /leaderboard, split into as many messages as needed
func (h *Handler) HandleLeaderboard(ctx context.Context, chatID int64) {
	standings, err := h.Service.BuildLeaderboard(ctx)
	if err != nil {
		h.failure(chatID, "leaderboard", err, "Couldn't load the leaderboard, please try again later.")
		return
	}

	names := NewChatMemberResolver(h.Bot, chatID, h.logger)
	h.sendParts(chatID, "RS Event Leaderboard", service.FormatLeaderboard(ctx, standings, names))
}

// HandleRemoveRun - /remove_run
func (h *Handler) HandleRemoveRun(ctx context.Context, chatID int64, cmd RemoveRunCommand) {
	summary, err := h.Service.RemoveRun(ctx, cmd.RunID)
	switch {
	case errors.Is(err, service.ErrRunNotFound):
		text := fmt.Sprintf("<b>RS run wasn't removed</b>\nRS run with ID: %d doesn't exist", cmd.RunID)
		sendMessage(h.Bot, htmlMessage(chatID, text), h.logger)
		return
	case err != nil:
		h.failure(chatID, "remove run", err, genericFailureText)
		return
	}

	names := NewChatMemberResolver(h.Bot, chatID, h.logger)
	var b strings.Builder
	b.WriteString("<b>RS run removed</b>\n")
	fmt.Fprintf(&b, "Run ID: %d\n", summary.RunID)
	fmt.Fprintf(&b, "Run type: %s\n", summary.Variant)
	fmt.Fprintf(&b, "Points removed from each player: %s\n", formatPoints(summary.PointsToRemove))
	b.WriteString("Players:")
	for _, id := range summary.Participants {
		b.WriteString("\n- " + mention(ctx, names, id))
	}
	sendMessage(h.Bot, htmlMessage(chatID, b.String()), h.logger)
}

// HandleClearHistory - /remove_run_history
func (h *Handler) HandleClearHistory(ctx context.Context, chatID int64) {
	if err := h.Service.ClearHistory(ctx); err != nil {
		h.failure(chatID, "clear history", err, clearFailureText)
		return
	}
	sendMessage(h.Bot, tgbotapi.NewMessage(chatID, "All RS runs have been removed"), h.logger)
}

// HandleMyScore - the sender's own points
func (h *Handler) HandleMyScore(ctx context.Context, chatID int64, cmd MyScoreCommand) {
	st, err := h.Service.PlayerScore(ctx, cmd.PlayerID)
	switch {
	case errors.Is(err, service.ErrPlayerNotFound):
		sendMessage(h.Bot, tgbotapi.NewMessage(chatID, "You haven't taken part in any RS run yet."), h.logger)
		return
	case err != nil:
		h.failure(chatID, "my score", err, genericFailureText)
		return
	}
	text := fmt.Sprintf("You have %.1f points from %d runs", st.Points, st.RunCount)
	sendMessage(h.Bot, tgbotapi.NewMessage(chatID, text), h.logger)
}

// telegramMessageLimit - the longest message text Telegram accepts, in UTF-16 units
const telegramMessageLimit = 4096

// sendParts paginates text and sends each part as "title (Part i of N)".
// A part that fails to send is answered with the generic failure text.
func (h *Handler) sendParts(chatID int64, title, text string) {
	parts := service.PaginateUTF16(text, h.partBudget(title))
	for i, part := range parts {
		header := fmt.Sprintf("%s (Part %d of %d)", title, i+1, len(parts))
		if _, err := h.Bot.Send(preMessage(chatID, header, part)); err != nil {
			h.failure(chatID, "send part", err, genericFailureText)
			return
		}
	}
}

// partBudget - room left for the content of one part once the header line is counted
func (h *Handler) partBudget(title string) int {
	header := fmt.Sprintf("%s (Part %d of %d)\n", title, 9999, 9999)
	return min(h.MaxMessageLength, telegramMessageLimit-utf16Len(header))
}

// failure logs the cause and shows the user only a generic text.
func (h *Handler) failure(chatID int64, op string, err error, text string) {
	h.logger.Error("command failed", zap.String("op", op), zap.Int64("chat_id", chatID), zap.Error(err))
	sendMessage(h.Bot, tgbotapi.NewMessage(chatID, text), h.logger)
}

// sentence - the error text with its first letter capitalized
func sentence(err error) string {
	s := err.Error()
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
