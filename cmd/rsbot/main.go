package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/VictorysHerald/RS-Event-score-counter-bot/internal/config"
	"github.com/VictorysHerald/RS-Event-score-counter-bot/internal/service"
	"github.com/VictorysHerald/RS-Event-score-counter-bot/internal/storage"
	"github.com/VictorysHerald/RS-Event-score-counter-bot/internal/telegram"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfgFile string
	cfg     *config.Config
	logger  *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "rsbot",
	Short: "RS event score counter bot",
	Long: `Keeps the points of an RS event: players earn a share of the points for every
logged run, runs can be removed and the leaderboard is shown on demand.

Run without a subcommand to start the bot.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile, cmd.Flags())
		if err != nil {
			return err
		}
		logger, err = newLogger(cfg.Log)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Apply migrations and start receiving commands",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Postgres.DSN == "" {
			return fmt.Errorf("postgres.dsn is not set")
		}
		store, err := openStorage(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.Migrate(cmd.Context()); err != nil {
			return err
		}
		version, err := store.MigrationVersion(cmd.Context())
		if err != nil {
			return err
		}
		logger.Info("migrations applied", zap.Int64("version", version))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "path to a YAML config file")
	rootCmd.PersistentFlags().String("log-level", config.DefaultLogLevel, "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().Bool("log-development", false, "human-readable console logs")
	rootCmd.PersistentFlags().Bool("telegram-debug", false, "log every Bot API request")
	rootCmd.PersistentFlags().Int("workers", config.DefaultWorkers, "commands handled at the same time")

	rootCmd.AddCommand(serveCmd, migrateCmd)
}

func openStorage(ctx context.Context) (*storage.Storage, error) {
	store, err := storage.New(ctx, storage.Options{
		DSN:      cfg.Postgres.DSN,
		MaxConns: cfg.Postgres.MaxConns,
	}, logger)
	if err != nil {
		return nil, err
	}
	if err := store.Ping(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("cannot ping DB: %w", err)
	}
	logger.Info("connected to postgres")
	return store, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	ctx := cmd.Context()

	store, err := openStorage(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		return err
	}

	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		return fmt.Errorf("failed to create bot: %w", err)
	}
	botAPI.Debug = cfg.Telegram.Debug
	logger.Info("authorized on telegram", zap.String("bot", botAPI.Self.UserName))

	svc := service.New(store, logger.Named("ledger"))
	handler := telegram.NewHandler(botAPI, svc, cfg.Leaderboard.MaxMessageLength, logger.Named("telegram"))
	bot := telegram.NewBot(botAPI, handler, telegram.Options{
		UpdateTimeout: cfg.Telegram.UpdateTimeout,
		AllowedChatID: cfg.Telegram.AllowedChatID,
		Workers:       cfg.Workers,
	}, logger.Named("bot"))

	return bot.Start(ctx)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		log.Fatalf("rsbot: %v", err)
	}
}
