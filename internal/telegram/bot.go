package telegram

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// API is the Bot API client the bot runs on. *tgbotapi.BotAPI implements it.
type API interface {
	MessageSender
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Options tune how updates are received and handled.
type Options struct {
	UpdateTimeout int
	// AllowedChatID, when non-zero, makes the bot ignore every other chat.
	AllowedChatID int64
	Workers       int
}

type Bot struct {
	api     API
	handler *Handler
	opts    Options
	logger  *zap.Logger
}

// Commands shown in the Telegram command menu.
var Commands = []tgbotapi.BotCommand{
	{Command: "help", Description: "Displays help message"},
	{Command: "log_run", Description: "Logs RS run results"},
	{Command: "leaderboard", Description: "Shows RS leaderboard"},
	{Command: "myscore", Description: "Shows your points"},
	{Command: "remove_run", Description: "Removes a logged RS run"},
	{Command: "remove_run_history", Description: "Removes a history of all RS runs"},
}

func NewBot(api API, handler *Handler, opts Options, logger *zap.Logger) *Bot {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &Bot{
		api:     api,
		handler: handler,
		opts:    opts,
		logger:  logger,
	}
}

// RegisterCommands publishes the command menu.
func (b *Bot) RegisterCommands() error {
	if _, err := b.api.Request(tgbotapi.NewSetMyCommands(Commands...)); err != nil {
		return fmt.Errorf("failed to register commands: %w", err)
	}
	return nil
}

// Start receives updates until ctx is canceled, handling up to Workers
// commands at once, then waits for the commands in flight.
func (b *Bot) Start(ctx context.Context) error {
	if err := b.RegisterCommands(); err != nil {
		b.logger.Warn("command menu not updated", zap.Error(err))
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.opts.UpdateTimeout
	updates := b.api.GetUpdatesChan(u)

	// Commands already started run to completion even after ctx is canceled.
	hctx := context.WithoutCancel(ctx)
	var g errgroup.Group
	g.SetLimit(b.opts.Workers)

	b.logger.Info("bot started", zap.Int("workers", b.opts.Workers))
	defer b.logger.Info("bot stopped")

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case update, ok := <-updates:
			if !ok {
				break loop
			}
			msg := update.Message
			if msg == nil || msg.Chat == nil {
				continue
			}
			if b.opts.AllowedChatID != 0 && msg.Chat.ID != b.opts.AllowedChatID {
				b.logger.Debug("ignoring chat", zap.Int64("chat_id", msg.Chat.ID))
				continue
			}
			g.Go(func() error {
				b.handle(hctx, msg)
				return nil
			})
		}
	}

	b.api.StopReceivingUpdates()
	return g.Wait()
}

// handle runs one command. A panic is logged and answered like any other failure.
func (b *Bot) handle(ctx context.Context, msg *tgbotapi.Message) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("command panicked", zap.Any("panic", r), zap.String("text", msg.Text))
			sendMessage(b.api, tgbotapi.NewMessage(msg.Chat.ID, genericFailureText), b.logger)
		}
	}()
	b.handler.HandleMessage(ctx, msg)
}
